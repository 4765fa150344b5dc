package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/nvandessel/threestep/internal/config"
	"github.com/nvandessel/threestep/internal/logging"
	"github.com/nvandessel/threestep/internal/pathutil"
	"github.com/nvandessel/threestep/internal/pipeline"
	"github.com/nvandessel/threestep/internal/ratelimit"
	"github.com/nvandessel/threestep/internal/store"
)

// Server wraps the MCP SDK server with the threestep tools.
type Server struct {
	server       *sdk.Server
	store        store.HistoryStore // nil when history is disabled
	root         string
	settings     *config.Config
	runner       *pipeline.Runner
	logger       *slog.Logger
	allowedDirs  []string
	auditLogger  *AuditLogger
	toolLimiters ratelimit.ToolLimiters
}

// Config holds server configuration.
type Config struct {
	Name    string // Server name (e.g., "threestep")
	Version string // Server version
	Root    string // Project root directory

	// Settings is the generator configuration. Nil loads it with config.Load.
	Settings *config.Config

	// Logger receives operational logs. It must not write to stdout, which
	// carries the protocol. Nil logs to stderr at the configured level.
	Logger *slog.Logger
}

// NewServer creates a new MCP server with the threestep tools.
func NewServer(cfg *Config) (*Server, error) {
	settings := cfg.Settings
	if settings == nil {
		loaded, err := config.Load()
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		settings = loaded
	}
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewLogger(settings.Logging.Level, os.Stderr)
	}

	allowedDirs, err := pathutil.AllowedDirs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to determine allowed dirs: %w", err)
	}

	var history store.HistoryStore
	if settings.Store.Enabled {
		dbPath := settings.Store.Path
		if dbPath == "" {
			dbPath = store.DefaultDBPath(cfg.Root)
		}
		sqliteStore, err := store.OpenSQLiteStore(dbPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open history store: %w", err)
		}
		history = sqliteStore
	}

	mcpServer := sdk.NewServer(&sdk.Implementation{
		Name:    cfg.Name,
		Version: cfg.Version,
	}, &sdk.ServerOptions{
		InitializedHandler: func(ctx context.Context, req *sdk.InitializedRequest) {
			logger.Debug("mcp client initialized")
		},
	})

	globalDir, _ := config.Dir()
	s := &Server{
		server:      mcpServer,
		store:       history,
		root:        cfg.Root,
		settings:    settings,
		logger:      logger,
		allowedDirs: allowedDirs,
		runner: &pipeline.Runner{
			Logger: logger,
			Events: logging.NewEventLogger(store.StateDir(cfg.Root), settings.Logging.Level),
			Store:  history,
		},
		auditLogger:  NewAuditLogger(store.StateDir(cfg.Root), globalDir),
		toolLimiters: ratelimit.NewToolLimiters(),
	}

	if err := s.registerTools(); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}
	if err := s.registerResources(); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to register resources: %w", err)
	}

	return s, nil
}

// Run serves over stdio until the client disconnects, ctx is cancelled or
// the process receives an interrupt.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	notifySignals(sigChan)
	go func() {
		select {
		case <-sigChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	s.logger.Info("mcp server started", "root", s.root)
	err := s.server.Run(ctx, &sdk.StdioTransport{})
	if cerr := s.Close(); err == nil {
		err = cerr
	}
	return err
}

// Close releases the history store and the audit and event logs.
func (s *Server) Close() error {
	s.runner.Events.Close()
	auditErr := s.auditLogger.Close()
	if s.store != nil {
		err := s.store.Close()
		s.store = nil
		if err != nil {
			return err
		}
	}
	return auditErr
}
