package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/nvandessel/threestep/internal/batch"
	"github.com/nvandessel/threestep/internal/config"
	"github.com/nvandessel/threestep/internal/pathutil"
	"github.com/nvandessel/threestep/internal/pipeline"
	"github.com/nvandessel/threestep/internal/ratelimit"
	"github.com/nvandessel/threestep/internal/report"
	"github.com/nvandessel/threestep/internal/sanitize"
	"github.com/nvandessel/threestep/internal/simulation"
	"github.com/nvandessel/threestep/internal/trialfile"
	"github.com/nvandessel/threestep/internal/trials"
)

const latestURI = "threestep://generations/latest"

// registerTools registers all threestep MCP tools with the server.
func (s *Server) registerTools() error {
	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "threestep_generate",
		Description: "Generate three-step task trials for one or more trial types and write the trial file with its checksum",
	}, s.handleGenerate)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "threestep_verify",
		Description: "Check a trial file against its SHA-256 checksum sidecar",
	}, s.handleVerify)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "threestep_simulate",
		Description: "Replay a trial type with a choice policy and report the reward rate",
	}, s.handleSimulate)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "threestep_history",
		Description: "List recorded generations, newest first",
	}, s.handleHistory)

	return nil
}

// registerResources registers MCP resources for auto-loading into context.
func (s *Server) registerResources() error {
	s.server.AddResource(&sdk.Resource{
		URI:         latestURI,
		Name:        "threestep-latest-generation",
		Description: "Summary of the most recent trial generation: trial types, stay-time statistics and high rewarding stimuli.",
		MIMEType:    "text/markdown",
	}, s.handleLatestResource)
	return nil
}

// handleLatestResource renders the most recent recorded generation.
func (s *Server) handleLatestResource(ctx context.Context, req *sdk.ReadResourceRequest) (*sdk.ReadResourceResult, error) {
	text, err := s.latestMarkdown(ctx)
	if err != nil {
		return nil, err
	}
	return &sdk.ReadResourceResult{
		Contents: []*sdk.ResourceContents{
			{URI: latestURI, MIMEType: "text/markdown", Text: text},
		},
	}, nil
}

func (s *Server) latestMarkdown(ctx context.Context) (string, error) {
	const empty = "# Trial generations\n\nNo generations recorded yet. Create one with `threestep_generate`.\n"
	if s.store == nil {
		return empty, nil
	}
	summaries, err := s.store.ListGenerations(ctx, 1)
	if err != nil {
		return "", fmt.Errorf("failed to list generations: %w", err)
	}
	if len(summaries) == 0 {
		return empty, nil
	}
	gen, err := s.store.GetGeneration(ctx, summaries[0].ID)
	if err != nil {
		return "", fmt.Errorf("failed to load generation: %w", err)
	}

	var groups []report.Summary
	for _, c := range gen.Collections() {
		sum := report.Summarize(c)
		sum.Name = sanitize.TrialTypeName(sum.Name)
		groups = append(groups, sum)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Latest trial generation\n\n")
	fmt.Fprintf(&b, "- ID: `%s`\n- Created: %s\n- Seed: %d\n", gen.ID, gen.CreatedAt.Format("2006-01-02 15:04:05"), gen.Seed)
	if gen.TrialsPath != "" {
		fmt.Fprintf(&b, "- Trial file: `%s` (sha256 `%s`)\n", pathutil.RedactPath(gen.TrialsPath), gen.Checksum)
	}
	for _, g := range gen.Groups {
		if g.Error != "" {
			fmt.Fprintf(&b, "- Failed: %s (%s)\n", sanitize.TrialTypeName(g.Name), sanitize.InlineText(g.Error))
		}
	}
	b.WriteString("\n")
	b.WriteString(report.OverviewTable(groups, report.Markdown))
	b.WriteString("\n")
	return b.String(), nil
}

// scope reports whether any of paths lies in the per-user directory.
func (s *Server) scope(paths ...string) string {
	globalDir, err := config.Dir()
	if err != nil {
		return ScopeLocal
	}
	for _, p := range paths {
		if p != "" && pathutil.ValidatePath(p, []string{globalDir}) == nil {
			return ScopeGlobal
		}
	}
	return ScopeLocal
}

// resolvePath validates a client-supplied path. Empty stays empty.
func (s *Server) resolvePath(p, what string) (string, error) {
	if p == "" {
		return "", nil
	}
	resolved, err := pathutil.Resolve(p, s.root, s.allowedDirs)
	if err != nil {
		return "", fmt.Errorf("%s rejected: %w", what, err)
	}
	return resolved, nil
}

// handleGenerate implements the threestep_generate tool.
func (s *Server) handleGenerate(ctx context.Context, req *sdk.CallToolRequest, args GenerateInput) (_ *sdk.CallToolResult, _ GenerateOutput, retErr error) {
	start := time.Now()
	scope := ScopeLocal
	defer func() {
		s.auditTool("threestep_generate", start, retErr, sanitizeToolParams(map[string]any{
			"trial_types":    len(args.TrialTypes),
			"params_file":    args.ParamsFile,
			"seed":           args.Seed,
			"use_refinement": args.UseRefinement,
			"compress":       args.Compress,
			"output_path":    args.OutputPath,
			"checksum_path":  args.ChecksumPath,
			"arrow_path":     args.ArrowPath,
		}), scope)
	}()

	if err := ratelimit.CheckLimit(s.toolLimiters, "threestep_generate"); err != nil {
		return nil, GenerateOutput{}, err
	}

	paramsFile, err := s.resolvePath(args.ParamsFile, "params file")
	if err != nil {
		return nil, GenerateOutput{}, err
	}
	outputPath, err := s.resolvePath(args.OutputPath, "output path")
	if err != nil {
		return nil, GenerateOutput{}, err
	}
	checksumPath, err := s.resolvePath(args.ChecksumPath, "checksum path")
	if err != nil {
		return nil, GenerateOutput{}, err
	}
	arrowPath, err := s.resolvePath(args.ArrowPath, "arrow path")
	if err != nil {
		return nil, GenerateOutput{}, err
	}
	if outputPath != "" && checksumPath == "" {
		checksumPath = s.settings.Output.SidecarFor(outputPath)
	}
	scope = s.scope(outputPath, checksumPath, arrowPath)

	var params *batch.Parameters
	switch {
	case paramsFile != "":
		params, err = batch.LoadParameters(paramsFile)
		if err != nil {
			return nil, GenerateOutput{}, err
		}
	case len(args.TrialTypes) > 0:
		params = &batch.Parameters{}
		for _, tt := range args.TrialTypes {
			params.Trials = append(params.Trials, batch.TrialType{Name: tt.Name, Number: tt.Number})
		}
	default:
		return nil, GenerateOutput{}, fmt.Errorf("%w: either trial_types or params_file is required", trials.ErrInvalidParameter)
	}

	settings := *s.settings
	settings.Report.EnablePlots = false // stdout carries the protocol
	if args.Seed != 0 {
		settings.Generation.Seed = args.Seed
	}
	if args.UseRefinement {
		settings.Generation.UseRefinement = true
	}
	if args.Compress {
		settings.Output.Compress = true
	}

	out, err := s.runner.Generate(ctx, pipeline.Request{
		Root:         s.root,
		Config:       &settings,
		Params:       params,
		TrialsPath:   outputPath,
		ChecksumPath: checksumPath,
		ArrowPath:    arrowPath,
	})
	if err != nil && !errors.Is(err, pipeline.ErrGroupsFailed) {
		return nil, GenerateOutput{}, fmt.Errorf("generation failed: %w", err)
	}

	output := GenerateOutput{
		Seed:         out.Seed,
		TrialsPath:   out.TrialsPath,
		ChecksumPath: out.ChecksumPath,
		Checksum:     out.Checksum,
		ArrowPath:    out.ArrowPath,
		ArchivedTo:   out.ArchivedTo,
		GenerationID: out.GenerationID,
		Groups:       make([]GroupSummary, 0, len(out.Result.Groups)),
	}
	total := 0
	for _, g := range out.Result.Groups {
		gs := GroupSummary{Name: g.Name}
		if g.Err != nil {
			gs.Error = g.Err.Error()
			output.Failed++
		} else {
			sum := report.Summarize(g.Collection)
			gs.Trials = sum.Trials
			gs.Segments = sum.Segments
			gs.Attempts = g.Collection.Attempts
			gs.StayTimeMean = sum.StayTimeMean
			gs.HighRewarding = int(sum.FinalHigh)
			total += sum.Trials
		}
		output.Groups = append(output.Groups, gs)
	}

	switch {
	case output.Failed == len(output.Groups):
		output.Message = fmt.Sprintf("All %d trial types failed; nothing written", output.Failed)
	case output.Failed > 0:
		output.Message = fmt.Sprintf("Generated %d trials (seed %d) → %s; %d trial types failed",
			total, out.Seed, output.TrialsPath, output.Failed)
	default:
		output.Message = fmt.Sprintf("Generated %d trials in %d trial types (seed %d) → %s",
			total, len(output.Groups), out.Seed, output.TrialsPath)
	}
	return nil, output, nil
}

// handleVerify implements the threestep_verify tool.
func (s *Server) handleVerify(ctx context.Context, req *sdk.CallToolRequest, args VerifyInput) (_ *sdk.CallToolResult, _ VerifyOutput, retErr error) {
	start := time.Now()
	scope := ScopeLocal
	defer func() {
		s.auditTool("threestep_verify", start, retErr, sanitizeToolParams(map[string]any{
			"path":          args.Path,
			"checksum_path": args.ChecksumPath,
		}), scope)
	}()

	if err := ratelimit.CheckLimit(s.toolLimiters, "threestep_verify"); err != nil {
		return nil, VerifyOutput{}, err
	}

	path, checksumPath, err := s.trialPaths(args.Path, args.ChecksumPath)
	if err != nil {
		return nil, VerifyOutput{}, err
	}
	scope = s.scope(path, checksumPath)

	v, err := trialfile.Verify(path, checksumPath)
	if err != nil && !errors.Is(err, trialfile.ErrIntegrityMismatch) {
		return nil, VerifyOutput{}, err
	}

	output := VerifyOutput{Path: v.Path, Expected: v.Expected, Actual: v.Actual, Match: v.Match}
	if v.Match {
		output.Message = fmt.Sprintf("%s matches checksum %s", pathutil.RedactPath(path), v.Actual)
	} else {
		output.Message = fmt.Sprintf("INTEGRITY MISMATCH: %s", err)
	}
	return nil, output, nil
}

// trialPaths resolves a trial file and its sidecar, falling back to the
// configured output. A given trial path without a sidecar uses the
// configured sidecar name next to it.
func (s *Server) trialPaths(path, checksumPath string) (string, string, error) {
	defTrials, defChecksum, _ := s.settings.Output.Resolve(s.root)
	resolved, err := s.resolvePath(path, "trial file path")
	if err != nil {
		return "", "", err
	}
	resolvedSum, err := s.resolvePath(checksumPath, "checksum path")
	if err != nil {
		return "", "", err
	}

	if resolved == "" {
		resolved = defTrials
	}
	if resolvedSum == "" {
		resolvedSum = defChecksum
		if path != "" {
			resolvedSum, err = s.resolvePath(s.settings.Output.SidecarFor(resolved), "checksum path")
			if err != nil {
				return "", "", err
			}
		}
	}
	return resolved, resolvedSum, nil
}

// handleSimulate implements the threestep_simulate tool.
func (s *Server) handleSimulate(ctx context.Context, req *sdk.CallToolRequest, args SimulateInput) (_ *sdk.CallToolResult, _ SimulateOutput, retErr error) {
	start := time.Now()
	scope := ScopeLocal
	defer func() {
		s.auditTool("threestep_simulate", start, retErr, sanitizeToolParams(map[string]any{
			"path":   args.Path,
			"group":  args.Group,
			"policy": args.Policy,
			"runs":   args.Runs,
			"seed":   args.Seed,
		}), scope)
	}()

	if err := ratelimit.CheckLimit(s.toolLimiters, "threestep_simulate"); err != nil {
		return nil, SimulateOutput{}, err
	}

	path, _, err := s.trialPaths(args.Path, "")
	if err != nil {
		return nil, SimulateOutput{}, err
	}
	scope = s.scope(path)

	f, err := trialfile.Read(path)
	if err != nil {
		return nil, SimulateOutput{}, err
	}
	c, err := pickCollection(f, args.Group)
	if err != nil {
		return nil, SimulateOutput{}, err
	}

	policyName := args.Policy
	if policyName == "" {
		policyName = simulation.RandomPolicy{}.Name()
	}
	policy, err := simulation.PolicyByName(policyName)
	if err != nil {
		return nil, SimulateOutput{}, err
	}
	runs := args.Runs
	if runs == 0 {
		runs = 1
	}
	seed := args.Seed
	if seed == 0 {
		seed = trials.RandomSeed()
	}

	summary, err := simulation.RunMany(ctx, c, policy, seed, runs, s.settings.Generation.Parallelism)
	if err != nil {
		return nil, SimulateOutput{}, err
	}
	if summary.Runs > 1 {
		summary.Rates = nil
	}

	return nil, SimulateOutput{
		Summary: *summary,
		Seed:    seed,
		Message: fmt.Sprintf("%s policy on %q: mean reward rate %.3f over %d runs of %d trials",
			policy.Name(), c.Name, summary.MeanRate, summary.Runs, summary.Trials),
	}, nil
}

// handleHistory implements the threestep_history tool.
func (s *Server) handleHistory(ctx context.Context, req *sdk.CallToolRequest, args HistoryInput) (_ *sdk.CallToolResult, _ HistoryOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool("threestep_history", start, retErr, sanitizeToolParams(map[string]any{
			"limit": args.Limit,
		}), ScopeLocal)
	}()

	if err := ratelimit.CheckLimit(s.toolLimiters, "threestep_history"); err != nil {
		return nil, HistoryOutput{}, err
	}
	if s.store == nil {
		return nil, HistoryOutput{}, fmt.Errorf("generation history is disabled (store.enabled = false)")
	}

	limit := args.Limit
	if limit <= 0 {
		limit = 10
	}
	summaries, err := s.store.ListGenerations(ctx, limit)
	if err != nil {
		return nil, HistoryOutput{}, fmt.Errorf("failed to list generations: %w", err)
	}

	output := HistoryOutput{Generations: make([]HistoryItem, 0, len(summaries))}
	for _, sum := range summaries {
		output.Generations = append(output.Generations, historyItem(sum))
	}
	output.Count = len(output.Generations)
	return nil, output, nil
}

// pickCollection returns the named group of f, or the first one.
func pickCollection(f *trialfile.File, name string) (*trials.Collection, error) {
	cols := f.Collections()
	if len(cols) == 0 {
		return nil, fmt.Errorf("trial file has no trial types")
	}
	if name == "" {
		return cols[0], nil
	}
	for _, c := range cols {
		if c.Name == name {
			return c, nil
		}
	}
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return nil, fmt.Errorf("trial type %q not found (have: %s)", name, strings.Join(names, ", "))
}
