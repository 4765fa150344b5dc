package batch

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/nvandessel/threestep/internal/trials"
)

func TestParseParameters(t *testing.T) {
	want := &Parameters{Trials: []TrialType{
		{Name: "main_three", Number: 150},
		{Name: "practice", Number: 20},
	}}

	tests := []struct {
		name  string
		input string
	}{
		{"json", `{"trials":[{"name":"main_three","number":150},{"name":"practice","number":20}]}`},
		{"yaml", "trials:\n  - name: main_three\n    number: 150\n  - name: practice\n    number: 20\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseParameters([]byte(tt.input))
			if err != nil {
				t.Fatalf("ParseParameters() error = %v", err)
			}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("ParseParameters() mismatch (-want +got):\n%s", diff)
			}
			if got.Total() != 170 {
				t.Errorf("Total() = %d, want 170", got.Total())
			}
		})
	}
}

func TestParseParameters_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", `{"trials":[]}`},
		{"missing name", `{"trials":[{"number":3}]}`},
		{"duplicate", `{"trials":[{"name":"a","number":3},{"name":"a","number":4}]}`},
		{"zero number", `{"trials":[{"name":"a","number":0}]}`},
		{"negative number", `{"trials":[{"name":"a","number":-2}]}`},
		{"malformed", `{"trials":[`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseParameters([]byte(tt.input))
			if !errors.Is(err, trials.ErrInvalidParameter) {
				t.Errorf("ParseParameters() error = %v, want ErrInvalidParameter", err)
			}
		})
	}
}

func TestLoadParameters(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "parameters.json")
	if err := os.WriteFile(path, []byte(`{"trials":[{"name":"main_three","number":5}]}`), 0644); err != nil {
		t.Fatal(err)
	}

	p, err := LoadParameters(path)
	if err != nil {
		t.Fatalf("LoadParameters() error = %v", err)
	}
	if len(p.Trials) != 1 || p.Trials[0].Name != "main_three" {
		t.Errorf("LoadParameters() = %+v", p)
	}

	if _, err := LoadParameters(filepath.Join(dir, "missing.json")); err == nil {
		t.Error("LoadParameters() on missing file should fail")
	}
}
