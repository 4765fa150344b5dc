package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/nvandessel/threestep/internal/trials"
)

func TestDefault(t *testing.T) {
	config := Default()

	// Generation defaults
	if config.Generation.CommonProbability != 0.7 {
		t.Errorf("expected CommonProbability 0.7, got %f", config.Generation.CommonProbability)
	}
	if config.Generation.Mean != 5.0 || config.Generation.StdDev != 1.4142 {
		t.Errorf("expected stay time N(5, 1.4142), got N(%f, %f)", config.Generation.Mean, config.Generation.StdDev)
	}
	if config.Generation.UseRefinement {
		t.Error("expected UseRefinement to be false by default")
	}
	if config.Generation.Seed != trials.DefaultSeed {
		t.Errorf("expected Seed %d, got %d", trials.DefaultSeed, config.Generation.Seed)
	}

	// Output defaults
	if config.Output.TrialsFile != "trials.json" {
		t.Errorf("expected TrialsFile 'trials.json', got '%s'", config.Output.TrialsFile)
	}
	if config.Output.ChecksumFile != "checksum.txt" {
		t.Errorf("expected ChecksumFile 'checksum.txt', got '%s'", config.Output.ChecksumFile)
	}

	if !config.Store.Enabled {
		t.Error("expected Store.Enabled to be true by default")
	}
	if config.Logging.Level != "info" {
		t.Errorf("expected Logging.Level 'info', got '%s'", config.Logging.Level)
	}
}

func TestTrialOptions(t *testing.T) {
	if diff := cmp.Diff(trials.DefaultOptions(), Default().Generation.TrialOptions()); diff != "" {
		t.Errorf("default TrialOptions mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
generation:
  common_probability: 0.8
  use_refinement: true
  tolerance: 0.05
  seed: 3691
  parallelism: 2

output:
  dir: out
  compress: true

report:
  enable_plots: true
  format: markdown
`
	if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	config, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	if config.Generation.CommonProbability != 0.8 {
		t.Errorf("expected CommonProbability 0.8, got %f", config.Generation.CommonProbability)
	}
	if !config.Generation.UseRefinement || config.Generation.Tolerance != 0.05 {
		t.Errorf("expected refinement with tolerance 0.05, got %v/%f",
			config.Generation.UseRefinement, config.Generation.Tolerance)
	}
	if config.Generation.Seed != 3691 || config.Generation.Parallelism != 2 {
		t.Errorf("expected seed 3691 and parallelism 2, got %d and %d",
			config.Generation.Seed, config.Generation.Parallelism)
	}
	// Unset keys keep their defaults.
	if config.Generation.Mean != 5.0 {
		t.Errorf("expected Mean 5.0, got %f", config.Generation.Mean)
	}
	if config.Output.Dir != "out" || !config.Output.Compress {
		t.Errorf("unexpected output config: %+v", config.Output)
	}
	if config.Output.TrialsFile != "trials.json" {
		t.Errorf("expected TrialsFile default, got '%s'", config.Output.TrialsFile)
	}
	if !config.Report.EnablePlots || config.Report.Format != "markdown" {
		t.Errorf("unexpected report config: %+v", config.Report)
	}
}

func TestLoadFromFile_EnvExpansion(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
output:
  dir: ${TEST_OUTPUT_DIR}/trials
store:
  path: ${TEST_OUTPUT_DIR}/history.db
`
	if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	t.Setenv("TEST_OUTPUT_DIR", "/data")

	config, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	if config.Output.Dir != "/data/trials" {
		t.Errorf("expected Dir '/data/trials', got '%s'", config.Output.Dir)
	}
	if config.Store.Path != "/data/history.db" {
		t.Errorf("expected Store.Path '/data/history.db', got '%s'", config.Store.Path)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("THREESTEP_COMMON_PROBABILITY", "0.9")
	t.Setenv("THREESTEP_USE_REFINEMENT", "true")
	t.Setenv("THREESTEP_MAX_ATTEMPTS", "500")
	t.Setenv("THREESTEP_SEED", "85447")
	t.Setenv("THREESTEP_PARALLELISM", "3")
	t.Setenv("THREESTEP_OUTPUT_DIR", "/tmp/out")
	t.Setenv("THREESTEP_ENABLE_PLOTS", "1")
	t.Setenv("THREESTEP_STORE_ENABLED", "false")
	t.Setenv("THREESTEP_LOG_LEVEL", "debug")

	config := Default()
	applyEnvOverrides(config)

	want := Default()
	want.Generation.CommonProbability = 0.9
	want.Generation.UseRefinement = true
	want.Generation.MaxAttempts = 500
	want.Generation.Seed = 85447
	want.Generation.Parallelism = 3
	want.Output.Dir = "/tmp/out"
	want.Report.EnablePlots = true
	want.Store.Enabled = false
	want.Logging.Level = "debug"

	if diff := cmp.Diff(want, config); diff != "" {
		t.Errorf("env overrides mismatch (-want +got):\n%s", diff)
	}
}

func TestEnvOverrides_IgnoresMalformed(t *testing.T) {
	t.Setenv("THREESTEP_MAX_ATTEMPTS", "lots")
	t.Setenv("THREESTEP_SEED", "-1")

	config := Default()
	applyEnvOverrides(config)

	if config.Generation.MaxAttempts != trials.DefaultMaxAttempts {
		t.Errorf("expected MaxAttempts unchanged, got %d", config.Generation.MaxAttempts)
	}
	if config.Generation.Seed != trials.DefaultSeed {
		t.Errorf("expected Seed unchanged, got %d", config.Generation.Seed)
	}
}

func TestLoad_UsesHomeConfig(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("USERPROFILE", home)

	if err := os.MkdirAll(filepath.Join(home, ".threestep"), 0700); err != nil {
		t.Fatal(err)
	}
	content := "logging:\n  level: trace\n"
	if err := os.WriteFile(filepath.Join(home, ".threestep", "config.yaml"), []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	config, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if config.Logging.Level != "trace" {
		t.Errorf("expected Logging.Level 'trace', got '%s'", config.Logging.Level)
	}
}

func TestSave_RoundTrip(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("USERPROFILE", home)

	cfg := Default()
	cfg.Generation.Seed = 30471
	cfg.Output.Arrow = "trials.arrow"
	if err := Save(cfg); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := LoadFromFile(filepath.Join(home, ".threestep", "config.yaml"))
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if diff := cmp.Diff(cfg, loaded); diff != "" {
		t.Errorf("saved config mismatch (-want +got):\n%s", diff)
	}
}

func TestValidate_Valid(t *testing.T) {
	config := Default()
	if err := config.Validate(); err != nil {
		t.Errorf("expected valid config, got error: %v", err)
	}
}

func TestValidate_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"probability above 1", func(c *Config) { c.Generation.CommonProbability = 1.5 }},
		{"negative probability", func(c *Config) { c.Generation.CommonProbability = -0.1 }},
		{"mean below 1", func(c *Config) { c.Generation.Mean = 0.5 }},
		{"zero max attempts", func(c *Config) { c.Generation.MaxAttempts = 0 }},
		{"refinement without tolerance", func(c *Config) {
			c.Generation.UseRefinement = true
			c.Generation.Tolerance = 0
		}},
		{"negative parallelism", func(c *Config) { c.Generation.Parallelism = -1 }},
		{"empty trials file", func(c *Config) { c.Output.TrialsFile = "" }},
		{"empty checksum file", func(c *Config) { c.Output.ChecksumFile = "" }},
		{"negative keep archives", func(c *Config) { c.Output.KeepArchives = -1 }},
		{"bad archive age", func(c *Config) { c.Output.ArchiveMaxAge = "soon" }},
		{"bad report format", func(c *Config) { c.Report.Format = "html" }},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := Default()
			tt.mutate(config)
			if err := config.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestValidate_GenerationErrorsAreInvalidParameter(t *testing.T) {
	config := Default()
	config.Generation.CommonProbability = 2
	if err := config.Validate(); !errors.Is(err, trials.ErrInvalidParameter) {
		t.Errorf("expected ErrInvalidParameter, got %v", err)
	}
}

func TestValidate_ValidLogLevels(t *testing.T) {
	validLevels := []string{"", "info", "debug", "trace"}

	for _, level := range validLevels {
		t.Run(level, func(t *testing.T) {
			config := Default()
			config.Logging.Level = level
			if err := config.Validate(); err != nil {
				t.Errorf("expected log level '%s' to be valid, got error: %v", level, err)
			}
		})
	}
}

func TestGetSet(t *testing.T) {
	for _, key := range Keys {
		if _, ok := Default().Get(key); !ok {
			t.Errorf("Get(%q) not found", key)
		}
	}

	tests := []struct {
		key   string
		value string
		want  any
	}{
		{"generation.common_probability", "0.6", 0.6},
		{"generation.use_refinement", "true", true},
		{"generation.max_attempts", "42", 42},
		{"generation.seed", "12847", uint64(12847)},
		{"output.trials_file", "out.json", "out.json"},
		{"output.keep_archives", "3", 3},
		{"output.archive_max_age", "2w", "2w"},
		{"report.format", "Markdown", "markdown"},
		{"logging.level", "TRACE", "trace"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			cfg := Default()
			if err := cfg.Set(tt.key, tt.value); err != nil {
				t.Fatalf("Set(%q, %q) error = %v", tt.key, tt.value, err)
			}
			got, _ := cfg.Get(tt.key)
			if got != tt.want {
				t.Errorf("Get(%q) = %v (%T), want %v (%T)", tt.key, got, got, tt.want, tt.want)
			}
		})
	}
}

func TestSet_Rejects(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"generation.common_probability", "abc"},
		{"generation.common_probability", "1.2"},
		{"generation.common_probability", "NaN"},
		{"generation.max_attempts", "1.5"},
		{"generation.seed", "-4"},
		{"logging.level", "loud"},
		{"no.such.key", "x"},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			cfg := Default()
			if err := cfg.Set(tt.key, tt.value); err == nil {
				t.Error("expected error")
			}
			if diff := cmp.Diff(Default(), cfg); diff != "" {
				t.Errorf("config changed on failed Set (-want +got):\n%s", diff)
			}
		})
	}
}

func TestLoadFromFile_NotFound(t *testing.T) {
	_, err := LoadFromFile("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestLoadFromFile_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	invalidYAML := `
generation:
  seed: [invalid yaml
`
	if err := os.WriteFile(configPath, []byte(invalidYAML), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := LoadFromFile(configPath)
	if err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestOutputResolve(t *testing.T) {
	root := filepath.Join(string(filepath.Separator), "proj")
	abs := filepath.Join(string(filepath.Separator), "data", "trials.arrow")

	tests := []struct {
		name   string
		output OutputConfig
		want   [3]string
	}{
		{
			name:   "defaults",
			output: Default().Output,
			want: [3]string{
				filepath.Join(root, "trials.json"),
				filepath.Join(root, "checksum.txt"),
				"",
			},
		},
		{
			name:   "relative dir and absolute arrow",
			output: OutputConfig{Dir: "out", TrialsFile: "t.json", ChecksumFile: "t.sha256", Arrow: abs},
			want: [3]string{
				filepath.Join(root, "out", "t.json"),
				filepath.Join(root, "out", "t.sha256"),
				abs,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trialsPath, checksumPath, arrowPath := tt.output.Resolve(root)
			got := [3]string{trialsPath, checksumPath, arrowPath}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Resolve() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestOutputSidecarFor(t *testing.T) {
	out := Default().Output
	trialsPath := filepath.Join("data", "session1.json")
	if got, want := out.SidecarFor(trialsPath), filepath.Join("data", "checksum.txt"); got != want {
		t.Errorf("SidecarFor() = %q, want %q", got, want)
	}

	abs := filepath.Join(string(filepath.Separator), "sums", "trials.sha256")
	out.ChecksumFile = abs
	if got := out.SidecarFor(trialsPath); got != abs {
		t.Errorf("SidecarFor() with absolute checksum file = %q, want %q", got, abs)
	}
}
