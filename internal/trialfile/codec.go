// Package trialfile reads and writes trial files and their SHA-256 checksum
// sidecars.
//
// A trial file is a JSON object {"trials": {<name>: [<trial>...]}, "timestamp": ...}
// indented with four spaces, groups in generation order. The checksum sidecar
// holds the lowercase hex SHA-256 digest of the exact bytes written.
package trialfile

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nvandessel/threestep/internal/trials"
)

// TimestampLayout matches the "YYYY-MM-DD HH:MM:SS.ffffff" form the
// experiment delivery code expects.
const TimestampLayout = "2006-01-02 15:04:05.000000"

// Group is one named list of trials.
type Group struct {
	Name   string
	Trials []trials.Trial
}

// File is the in-memory form of a trial file.
type File struct {
	Groups    []Group
	Timestamp string
}

// FromCollections builds a File from generated collections, stamped with ts
// in local time.
func FromCollections(cols []*trials.Collection, ts time.Time) *File {
	f := &File{
		Groups:    make([]Group, len(cols)),
		Timestamp: ts.Local().Format(TimestampLayout),
	}
	for i, c := range cols {
		f.Groups[i] = Group{Name: c.Name, Trials: c.Trials}
	}
	return f
}

// Collections converts the groups back into collections. Segments are
// rebuilt from the reward runs; Attempts is unknown and left zero.
func (f *File) Collections() []*trials.Collection {
	out := make([]*trials.Collection, len(f.Groups))
	for i, g := range f.Groups {
		out[i] = &trials.Collection{
			Name:     g.Name,
			Trials:   g.Trials,
			Segments: trials.SegmentsFromTrials(g.Trials),
		}
	}
	return out
}

// Group returns the group named name.
func (f *File) Group(name string) (*Group, bool) {
	for i := range f.Groups {
		if f.Groups[i].Name == name {
			return &f.Groups[i], true
		}
	}
	return nil, false
}

// TrialCount is the number of trials across all groups.
func (f *File) TrialCount() int {
	n := 0
	for _, g := range f.Groups {
		n += len(g.Trials)
	}
	return n
}

// MarshalJSON writes the groups as an object keyed by name in group order.
func (f *File) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"trials":{`)
	for i, g := range f.Groups {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := encodeCompact(g.Name)
		if err != nil {
			return nil, err
		}
		list := g.Trials
		if list == nil {
			list = []trials.Trial{}
		}
		body, err := encodeCompact(list)
		if err != nil {
			return nil, fmt.Errorf("encoding trial type %q: %w", g.Name, err)
		}
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(body)
	}
	buf.WriteString(`},"timestamp":`)
	ts, err := encodeCompact(f.Timestamp)
	if err != nil {
		return nil, err
	}
	buf.Write(ts)
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads the trials object keeping its key order.
func (f *File) UnmarshalJSON(data []byte) error {
	var raw struct {
		Trials    json.RawMessage `json:"trials"`
		Timestamp string          `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decoding trial file: %w", err)
	}
	if len(raw.Trials) == 0 {
		return fmt.Errorf("decoding trial file: missing \"trials\" object")
	}

	dec := json.NewDecoder(bytes.NewReader(raw.Trials))
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("decoding trials: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("decoding trials: expected object, got %v", tok)
	}

	var groups []Group
	seen := make(map[string]bool)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("decoding trials: %w", err)
		}
		name, ok := tok.(string)
		if !ok {
			return fmt.Errorf("decoding trials: expected trial type name, got %v", tok)
		}
		if seen[name] {
			return fmt.Errorf("decoding trials: duplicate trial type %q", name)
		}
		seen[name] = true

		var list []trials.Trial
		if err := dec.Decode(&list); err != nil {
			return fmt.Errorf("decoding trial type %q: %w", name, err)
		}
		groups = append(groups, Group{Name: name, Trials: list})
	}

	f.Groups = groups
	f.Timestamp = raw.Timestamp
	return nil
}

// Encode renders f as the on-disk trial file bytes.
func Encode(f *File) ([]byte, error) {
	compact, err := encodeCompact(f)
	if err != nil {
		return nil, err
	}
	var out bytes.Buffer
	if err := json.Indent(&out, compact, "", "    "); err != nil {
		return nil, fmt.Errorf("indenting trial file: %w", err)
	}
	return out.Bytes(), nil
}

// Decode parses trial file bytes.
func Decode(data []byte) (*File, error) {
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// encodeCompact marshals v without HTML escaping and without the encoder's
// trailing newline.
func encodeCompact(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
