// Package config provides unified configuration loading for threestep.
// It supports loading from YAML files and environment variables.
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nvandessel/threestep/internal/trialfile"
	"github.com/nvandessel/threestep/internal/trials"
)

// Config contains all threestep configuration settings.
type Config struct {
	// Generation controls the trial generator and batch driver.
	Generation GenerationConfig `json:"generation" yaml:"generation"`

	// Output controls where generated files are written.
	Output OutputConfig `json:"output" yaml:"output"`

	// Report controls post-generation summary tables.
	Report ReportConfig `json:"report" yaml:"report"`

	// Store controls the generation history database.
	Store StoreConfig `json:"store" yaml:"store"`

	// Logging contains settings for operational and event logging.
	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

// GenerationConfig mirrors trials.Options plus the batch settings.
type GenerationConfig struct {
	// CommonProbability is the chance each stage keeps its common assignment.
	CommonProbability float64 `json:"common_probability" yaml:"common_probability"`

	// Mean and StdDev parameterise the stay-time normal distribution.
	Mean   float64 `json:"mean" yaml:"mean"`
	StdDev float64 `json:"std_dev" yaml:"std_dev"`

	// UseRefinement rejects stay-time sequences whose sample mean or
	// standard deviation is further than Tolerance (relative) from target.
	UseRefinement bool    `json:"use_refinement" yaml:"use_refinement"`
	Tolerance     float64 `json:"tolerance" yaml:"tolerance"`

	// MaxAttempts bounds the stay-time rejection loop.
	MaxAttempts int `json:"max_attempts" yaml:"max_attempts"`

	// Seed is the batch seed. 0 picks a random seed per run.
	Seed uint64 `json:"seed" yaml:"seed"`

	// Parallelism bounds concurrently generated trial types. 0 uses GOMAXPROCS.
	Parallelism int `json:"parallelism" yaml:"parallelism"`
}

// TrialOptions converts the generation settings into trials.Options.
func (g GenerationConfig) TrialOptions() trials.Options {
	return trials.Options{
		CommonProbability: g.CommonProbability,
		StayTime: trials.StayTimeOptions{
			Mean:          g.Mean,
			StdDev:        g.StdDev,
			UseRefinement: g.UseRefinement,
			Tolerance:     g.Tolerance,
			MaxAttempts:   g.MaxAttempts,
		},
	}
}

// OutputConfig names the generated files. Relative paths resolve against
// Dir, and Dir resolves against the project root.
type OutputConfig struct {
	Dir          string `json:"dir" yaml:"dir"`
	TrialsFile   string `json:"trials_file" yaml:"trials_file"`
	ChecksumFile string `json:"checksum_file" yaml:"checksum_file"`

	// Compress writes the trial file as a gzip container instead of plain JSON.
	Compress bool `json:"compress" yaml:"compress"`

	// Arrow, when set, also exports every trial to this Arrow IPC file.
	Arrow string `json:"arrow,omitempty" yaml:"arrow,omitempty"`

	// KeepArchives is how many overwritten trial files are kept in
	// .threestep/archive. 0 disables archiving.
	KeepArchives int `json:"keep_archives" yaml:"keep_archives"`

	// ArchiveMaxAge additionally keeps archives younger than this ("30d", "2w", "720h").
	ArchiveMaxAge string `json:"archive_max_age,omitempty" yaml:"archive_max_age,omitempty"`
}

// Resolve returns the trial, checksum and Arrow paths for a project root.
// The Arrow path is empty when no export is configured.
func (o OutputConfig) Resolve(root string) (trialsPath, checksumPath, arrowPath string) {
	dir := o.Dir
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(root, dir)
	}
	join := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(dir, p)
	}
	return join(o.TrialsFile), join(o.ChecksumFile), join(o.Arrow)
}

// SidecarFor returns the checksum path that belongs next to a trial file
// written outside the configured output directory.
func (o OutputConfig) SidecarFor(trialsPath string) string {
	if filepath.IsAbs(o.ChecksumFile) {
		return o.ChecksumFile
	}
	return filepath.Join(filepath.Dir(trialsPath), o.ChecksumFile)
}

// ReportConfig configures summary tables.
type ReportConfig struct {
	// EnablePlots prints stay-time, reward and transition tables after generation.
	EnablePlots bool `json:"enable_plots" yaml:"enable_plots"`

	// Format is "ascii" (default) or "markdown".
	Format string `json:"format" yaml:"format"`
}

// StoreConfig configures the generation history database.
type StoreConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Path overrides the default <root>/.threestep/threestep.db.
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
}

// LoggingConfig configures threestep's logging behavior.
type LoggingConfig struct {
	// Level sets the log verbosity: "info" (default), "debug", or "trace".
	// "debug" enables event logging to .threestep/events.jsonl.
	// "trace" additionally logs every generated trial.
	Level string `json:"level" yaml:"level"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	opts := trials.DefaultOptions()
	return &Config{
		Generation: GenerationConfig{
			CommonProbability: opts.CommonProbability,
			Mean:              opts.StayTime.Mean,
			StdDev:            opts.StayTime.StdDev,
			UseRefinement:     opts.StayTime.UseRefinement,
			Tolerance:         opts.StayTime.Tolerance,
			MaxAttempts:       opts.StayTime.MaxAttempts,
			Seed:              trials.DefaultSeed,
		},
		Output: OutputConfig{
			Dir:          ".",
			TrialsFile:   "trials.json",
			ChecksumFile: "checksum.txt",
			KeepArchives: 10,
		},
		Report: ReportConfig{
			Format: "ascii",
		},
		Store: StoreConfig{
			Enabled: true,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Dir returns the per-user configuration directory, ~/.threestep.
func Dir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(homeDir, ".threestep"), nil
}

// Load loads configuration from the default locations and environment variables.
// Order: defaults -> ~/.threestep/config.yaml -> environment variables
func Load() (*Config, error) {
	config := Default()

	if dir, err := Dir(); err == nil {
		configPath := filepath.Join(dir, "config.yaml")
		if _, statErr := os.Stat(configPath); statErr == nil {
			fileConfig, loadErr := LoadFromFile(configPath)
			if loadErr != nil {
				return nil, fmt.Errorf("loading config file: %w", loadErr)
			}
			config = fileConfig
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// LoadFromFile loads configuration from a specific YAML file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	config.Output.Dir = expandEnvVars(config.Output.Dir)
	config.Output.Arrow = expandEnvVars(config.Output.Arrow)
	config.Store.Path = expandEnvVars(config.Store.Path)

	return config, nil
}

// Save writes the configuration to ~/.threestep/config.yaml.
func Save(cfg *Config) error {
	dir, err := Dir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), data, 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if err := c.Generation.TrialOptions().Validate(); err != nil {
		return err
	}
	if c.Generation.Parallelism < 0 {
		return fmt.Errorf("parallelism must be non-negative, got %d", c.Generation.Parallelism)
	}
	if c.Output.TrialsFile == "" {
		return fmt.Errorf("output.trials_file must not be empty")
	}
	if c.Output.ChecksumFile == "" {
		return fmt.Errorf("output.checksum_file must not be empty")
	}
	if c.Output.KeepArchives < 0 {
		return fmt.Errorf("output.keep_archives must be non-negative, got %d", c.Output.KeepArchives)
	}
	if c.Output.ArchiveMaxAge != "" {
		if _, err := trialfile.ParseDuration(c.Output.ArchiveMaxAge); err != nil {
			return fmt.Errorf("output.archive_max_age: %w", err)
		}
	}

	validFormats := map[string]bool{"": true, "ascii": true, "markdown": true}
	if !validFormats[c.Report.Format] {
		return fmt.Errorf("invalid report format: %s (valid: ascii, markdown)", c.Report.Format)
	}

	validLevels := map[string]bool{"info": true, "debug": true, "trace": true}
	if c.Logging.Level != "" && !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: info, debug, trace, or empty for default)", c.Logging.Level)
	}

	return nil
}

// Keys lists every dot-notation key accepted by Get and Set.
var Keys = []string{
	"generation.common_probability",
	"generation.mean",
	"generation.std_dev",
	"generation.use_refinement",
	"generation.tolerance",
	"generation.max_attempts",
	"generation.seed",
	"generation.parallelism",
	"output.dir",
	"output.trials_file",
	"output.checksum_file",
	"output.compress",
	"output.arrow",
	"output.keep_archives",
	"output.archive_max_age",
	"report.enable_plots",
	"report.format",
	"store.enabled",
	"store.path",
	"logging.level",
}

// Get retrieves a configuration value by dot-notation key.
func (c *Config) Get(key string) (any, bool) {
	switch key {
	case "generation.common_probability":
		return c.Generation.CommonProbability, true
	case "generation.mean":
		return c.Generation.Mean, true
	case "generation.std_dev":
		return c.Generation.StdDev, true
	case "generation.use_refinement":
		return c.Generation.UseRefinement, true
	case "generation.tolerance":
		return c.Generation.Tolerance, true
	case "generation.max_attempts":
		return c.Generation.MaxAttempts, true
	case "generation.seed":
		return c.Generation.Seed, true
	case "generation.parallelism":
		return c.Generation.Parallelism, true
	case "output.dir":
		return c.Output.Dir, true
	case "output.trials_file":
		return c.Output.TrialsFile, true
	case "output.checksum_file":
		return c.Output.ChecksumFile, true
	case "output.compress":
		return c.Output.Compress, true
	case "output.arrow":
		return c.Output.Arrow, true
	case "output.keep_archives":
		return c.Output.KeepArchives, true
	case "output.archive_max_age":
		return c.Output.ArchiveMaxAge, true
	case "report.enable_plots":
		return c.Report.EnablePlots, true
	case "report.format":
		return c.Report.Format, true
	case "store.enabled":
		return c.Store.Enabled, true
	case "store.path":
		return c.Store.Path, true
	case "logging.level":
		return c.Logging.Level, true
	default:
		return nil, false
	}
}

// Set assigns a configuration value by dot-notation key and re-validates.
// On error the config is left unchanged.
func (c *Config) Set(key, value string) error {
	next := *c
	var err error
	switch key {
	case "generation.common_probability":
		next.Generation.CommonProbability, err = parseFloat(key, value)
	case "generation.mean":
		next.Generation.Mean, err = parseFloat(key, value)
	case "generation.std_dev":
		next.Generation.StdDev, err = parseFloat(key, value)
	case "generation.use_refinement":
		next.Generation.UseRefinement = parseBool(value)
	case "generation.tolerance":
		next.Generation.Tolerance, err = parseFloat(key, value)
	case "generation.max_attempts":
		next.Generation.MaxAttempts, err = parseInt(key, value)
	case "generation.seed":
		next.Generation.Seed, err = strconv.ParseUint(value, 10, 64)
		if err != nil {
			err = fmt.Errorf("invalid %s: %s (must be a non-negative integer)", key, value)
		}
	case "generation.parallelism":
		next.Generation.Parallelism, err = parseInt(key, value)
	case "output.dir":
		next.Output.Dir = value
	case "output.trials_file":
		next.Output.TrialsFile = value
	case "output.checksum_file":
		next.Output.ChecksumFile = value
	case "output.compress":
		next.Output.Compress = parseBool(value)
	case "output.arrow":
		next.Output.Arrow = value
	case "output.keep_archives":
		next.Output.KeepArchives, err = parseInt(key, value)
	case "output.archive_max_age":
		next.Output.ArchiveMaxAge = value
	case "report.enable_plots":
		next.Report.EnablePlots = parseBool(value)
	case "report.format":
		next.Report.Format = strings.ToLower(value)
	case "store.enabled":
		next.Store.Enabled = parseBool(value)
	case "store.path":
		next.Store.Path = value
	case "logging.level":
		next.Logging.Level = strings.ToLower(value)
	default:
		return fmt.Errorf("unknown configuration key: %s", key)
	}
	if err != nil {
		return err
	}
	if err := next.Validate(); err != nil {
		return err
	}
	*c = next
	return nil
}

// applyEnvOverrides applies environment variable overrides to the config.
func applyEnvOverrides(config *Config) {
	if v := os.Getenv("THREESTEP_COMMON_PROBABILITY"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.Generation.CommonProbability = f
		}
	}

	if v := os.Getenv("THREESTEP_USE_REFINEMENT"); v != "" {
		config.Generation.UseRefinement = parseBool(v)
	}

	if v := os.Getenv("THREESTEP_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Generation.MaxAttempts = n
		}
	}

	if v := os.Getenv("THREESTEP_SEED"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			config.Generation.Seed = n
		}
	}

	if v := os.Getenv("THREESTEP_PARALLELISM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Generation.Parallelism = n
		}
	}

	if v := os.Getenv("THREESTEP_OUTPUT_DIR"); v != "" {
		config.Output.Dir = v
	}

	if v := os.Getenv("THREESTEP_ENABLE_PLOTS"); v != "" {
		config.Report.EnablePlots = parseBool(v)
	}

	if v := os.Getenv("THREESTEP_STORE_ENABLED"); v != "" {
		config.Store.Enabled = parseBool(v)
	}

	if v := os.Getenv("THREESTEP_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
}

func parseBool(v string) bool {
	return v == "true" || v == "1"
}

func parseFloat(key, value string) (float64, error) {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil || math.IsNaN(f) {
		return 0, fmt.Errorf("invalid %s: %s (must be a number)", key, value)
	}
	return f, nil
}

func parseInt(key, value string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %s (must be an integer)", key, value)
	}
	return n, nil
}

// expandEnvVars expands ${VAR} patterns in a string with environment variable values.
func expandEnvVars(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return os.Expand(s, os.Getenv)
}
