package trialfile

import (
	"context"
	"testing"
	"time"

	"github.com/nvandessel/threestep/internal/trials"
)

var fixedTime = time.Date(2024, 3, 14, 9, 26, 53, 589793000, time.Local)

func sampleFile(t *testing.T) *File {
	t.Helper()
	var cols []*trials.Collection
	for i, tt := range []struct {
		name string
		n    int
	}{{"main_three", 30}, {"practice", 8}, {"follow_up", 12}} {
		c, err := trials.NewAssembler(trials.NewRand(uint64(100+i)), trials.DefaultOptions()).
			Assemble(context.Background(), tt.name, tt.n)
		if err != nil {
			t.Fatalf("Assemble(%s) error = %v", tt.name, err)
		}
		cols = append(cols, c)
	}
	return FromCollections(cols, fixedTime)
}
