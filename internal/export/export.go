// Package export writes generated trials to an Arrow IPC file, one row per
// trial with the mapping flattened into columns, for analysis in pandas,
// polars or R.
package export

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/ipc"
	"github.com/apache/arrow/go/v17/arrow/memory"

	"github.com/nvandessel/threestep/internal/trials"
)

// Row is one exported trial.
type Row struct {
	Group              string
	TrialCount         int32
	RewardStimulus     int32
	HighRewarding      int32
	Transitions        string
	StartLeft          int32
	StartRight         int32
	S1Left             int32
	S1Right            int32
	S2Left             int32
	S2Right            int32
	S3                 int32
	S4                 int32
	S5                 int32
	S6                 int32
	FirstStageSwapped  bool
	SecondStageSwapped bool
}

// Schema is the column layout of an export file.
var Schema = arrow.NewSchema([]arrow.Field{
	{Name: "group", Type: arrow.BinaryTypes.String},
	{Name: "trial_count", Type: arrow.PrimitiveTypes.Int32},
	{Name: "reward_stimulus", Type: arrow.PrimitiveTypes.Int32},
	{Name: "high_rewarding", Type: arrow.PrimitiveTypes.Int32},
	{Name: "transitions", Type: arrow.BinaryTypes.String},
	{Name: "start_left", Type: arrow.PrimitiveTypes.Int32},
	{Name: "start_right", Type: arrow.PrimitiveTypes.Int32},
	{Name: "s1_left", Type: arrow.PrimitiveTypes.Int32},
	{Name: "s1_right", Type: arrow.PrimitiveTypes.Int32},
	{Name: "s2_left", Type: arrow.PrimitiveTypes.Int32},
	{Name: "s2_right", Type: arrow.PrimitiveTypes.Int32},
	{Name: "s3", Type: arrow.PrimitiveTypes.Int32},
	{Name: "s4", Type: arrow.PrimitiveTypes.Int32},
	{Name: "s5", Type: arrow.PrimitiveTypes.Int32},
	{Name: "s6", Type: arrow.PrimitiveTypes.Int32},
	{Name: "first_stage_swapped", Type: arrow.FixedWidthTypes.Boolean},
	{Name: "second_stage_swapped", Type: arrow.FixedWidthTypes.Boolean},
}, nil)

// RowsOf flattens a collection.
func RowsOf(c *trials.Collection) []Row {
	rows := make([]Row, len(c.Trials))
	for i, t := range c.Trials {
		m := t.Mappings
		rows[i] = Row{
			Group:              c.Name,
			TrialCount:         int32(t.TrialCount),
			RewardStimulus:     int32(t.RewardStimulus),
			HighRewarding:      int32(t.HighRewarding),
			Transitions:        t.Transitions.String(),
			StartLeft:          int32(m.Start[0]),
			StartRight:         int32(m.Start[1]),
			S1Left:             int32(m.S1[0]),
			S1Right:            int32(m.S1[1]),
			S2Left:             int32(m.S2[0]),
			S2Right:            int32(m.S2[1]),
			S3:                 int32(m.S3),
			S4:                 int32(m.S4),
			S5:                 int32(m.S5),
			S6:                 int32(m.S6),
			FirstStageSwapped:  m.FirstStageSwapped(),
			SecondStageSwapped: m.SecondStageSwapped(),
		}
	}
	return rows
}

// Write streams one record batch per collection to w. The Arrow file footer
// needs a seekable destination.
func Write(w io.WriteSeeker, cols []*trials.Collection) error {
	mem := memory.NewGoAllocator()

	fw, err := ipc.NewFileWriter(w, ipc.WithSchema(Schema), ipc.WithAllocator(mem))
	if err != nil {
		return fmt.Errorf("creating arrow writer: %w", err)
	}

	for _, c := range cols {
		if err := writeCollection(fw, mem, c); err != nil {
			fw.Close()
			return err
		}
	}

	if err := fw.Close(); err != nil {
		return fmt.Errorf("closing arrow writer: %w", err)
	}
	return nil
}

func writeCollection(fw *ipc.FileWriter, mem memory.Allocator, c *trials.Collection) error {
	b := array.NewRecordBuilder(mem, Schema)
	defer b.Release()

	for _, r := range RowsOf(c) {
		b.Field(0).(*array.StringBuilder).Append(r.Group)
		ints := []int32{r.TrialCount, r.RewardStimulus, r.HighRewarding}
		for i, v := range ints {
			b.Field(1 + i).(*array.Int32Builder).Append(v)
		}
		b.Field(4).(*array.StringBuilder).Append(r.Transitions)
		mapping := []int32{r.StartLeft, r.StartRight, r.S1Left, r.S1Right, r.S2Left, r.S2Right, r.S3, r.S4, r.S5, r.S6}
		for i, v := range mapping {
			b.Field(5 + i).(*array.Int32Builder).Append(v)
		}
		b.Field(15).(*array.BooleanBuilder).Append(r.FirstStageSwapped)
		b.Field(16).(*array.BooleanBuilder).Append(r.SecondStageSwapped)
	}

	rec := b.NewRecord()
	defer rec.Release()

	if err := fw.Write(rec); err != nil {
		return fmt.Errorf("writing %q: %w", c.Name, err)
	}
	return nil
}

// WriteFile writes cols to path, creating parent directories.
func WriteFile(path string, cols []*trials.Collection) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating export file: %w", err)
	}
	if err := Write(f, cols); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ReadFile loads every row of an export file.
func ReadFile(path string) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening export file: %w", err)
	}
	defer f.Close()

	fr, err := ipc.NewFileReader(f, ipc.WithAllocator(memory.NewGoAllocator()))
	if err != nil {
		return nil, fmt.Errorf("reading arrow file: %w", err)
	}
	defer fr.Close()

	if !fr.Schema().Equal(Schema) {
		return nil, fmt.Errorf("unexpected export schema: %s", fr.Schema())
	}

	var rows []Row
	for i := 0; i < fr.NumRecords(); i++ {
		rec, err := fr.Record(i)
		if err != nil {
			return nil, fmt.Errorf("reading record %d: %w", i, err)
		}
		rows = append(rows, recordRows(rec)...)
	}
	return rows, nil
}

func recordRows(rec arrow.Record) []Row {
	str := func(col int) *array.String { return rec.Column(col).(*array.String) }
	i32 := func(col int) *array.Int32 { return rec.Column(col).(*array.Int32) }
	boolean := func(col int) *array.Boolean { return rec.Column(col).(*array.Boolean) }

	n := int(rec.NumRows())
	rows := make([]Row, n)
	for i := range n {
		rows[i] = Row{
			Group:              str(0).Value(i),
			TrialCount:         i32(1).Value(i),
			RewardStimulus:     i32(2).Value(i),
			HighRewarding:      i32(3).Value(i),
			Transitions:        str(4).Value(i),
			StartLeft:          i32(5).Value(i),
			StartRight:         i32(6).Value(i),
			S1Left:             i32(7).Value(i),
			S1Right:            i32(8).Value(i),
			S2Left:             i32(9).Value(i),
			S2Right:            i32(10).Value(i),
			S3:                 i32(11).Value(i),
			S4:                 i32(12).Value(i),
			S5:                 i32(13).Value(i),
			S6:                 i32(14).Value(i),
			FirstStageSwapped:  boolean(15).Value(i),
			SecondStageSwapped: boolean(16).Value(i),
		}
	}
	return rows
}
