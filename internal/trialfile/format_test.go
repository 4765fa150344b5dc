package trialfile

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDetectFormat(t *testing.T) {
	dir := t.TempDir()
	f := sampleFile(t)

	plain := filepath.Join(dir, "trials.json")
	if _, err := Write(plain, filepath.Join(dir, "plain.sha256"), f); err != nil {
		t.Fatal(err)
	}
	compressed := filepath.Join(dir, "trials.json.gz")
	if _, err := WriteCompressed(compressed, filepath.Join(dir, "gz.sha256"), f, fixedTime); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		path string
		want int
	}{
		{plain, FormatJSON},
		{compressed, FormatCompressed},
	}
	for _, tt := range tests {
		got, err := DetectFormat(tt.path)
		if err != nil {
			t.Fatalf("DetectFormat(%s) error = %v", filepath.Base(tt.path), err)
		}
		if got != tt.want {
			t.Errorf("DetectFormat(%s) = %d, want %d", filepath.Base(tt.path), got, tt.want)
		}
	}
}

func TestDetectFormat_Invalid(t *testing.T) {
	dir := t.TempDir()
	tests := map[string]string{
		"empty.json":   "",
		"blank.json":   "\n\n",
		"garbage.json": "not a trial file",
	}
	for name, content := range tests {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := DetectFormat(path); err == nil {
			t.Errorf("DetectFormat(%s) should fail", name)
		}
	}
	if _, err := DetectFormat(filepath.Join(dir, "missing.json")); err == nil {
		t.Error("DetectFormat(missing) should fail")
	}
}

func TestWriteCompressed_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trials.json.gz")
	sumPath := filepath.Join(dir, "checksum.txt")
	f := sampleFile(t)

	if _, err := WriteCompressed(path, sumPath, f, fixedTime); err != nil {
		t.Fatalf("WriteCompressed() error = %v", err)
	}

	got, err := Read(path)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if diff := cmp.Diff(f, got); diff != "" {
		t.Errorf("Read() mismatch (-want +got):\n%s", diff)
	}

	header, err := ReadHeader(path)
	if err != nil {
		t.Fatalf("ReadHeader() error = %v", err)
	}
	if header.Groups != 3 || header.Trials != 50 || !header.Compressed {
		t.Errorf("ReadHeader() = %+v", header)
	}
	if !header.CreatedAt.Equal(fixedTime) {
		t.Errorf("CreatedAt = %v, want %v", header.CreatedAt, fixedTime)
	}

	if _, err := Verify(path, sumPath); err != nil {
		t.Errorf("Verify() error = %v", err)
	}
}

func TestVerifyCompressed_DetectsPayloadCorruption(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trials.json.gz")
	sumPath := filepath.Join(dir, "checksum.txt")

	if _, err := WriteCompressed(path, sumPath, sampleFile(t), fixedTime); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	data[len(data)-1] ^= 0xFF
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	if err := VerifyCompressed(path); !errors.Is(err, ErrIntegrityMismatch) {
		t.Errorf("VerifyCompressed() error = %v, want ErrIntegrityMismatch", err)
	}
	if _, err := ReadCompressed(path); !errors.Is(err, ErrIntegrityMismatch) {
		t.Errorf("ReadCompressed() error = %v, want ErrIntegrityMismatch", err)
	}

	// A sidecar rewritten to match the corrupted bytes still fails on the
	// embedded payload checksum.
	if err := os.WriteFile(sumPath, []byte(Checksum(data)), 0644); err != nil {
		t.Fatal(err)
	}
	v, err := Verify(path, sumPath)
	if !errors.Is(err, ErrIntegrityMismatch) {
		t.Errorf("Verify() error = %v, want ErrIntegrityMismatch", err)
	}
	if v == nil || v.Match {
		t.Errorf("Verify() = %+v, want Match false", v)
	}
}

func TestReadHeader_PlainFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trials.json")
	if _, err := Write(path, filepath.Join(dir, "checksum.txt"), sampleFile(t)); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadHeader(path); err == nil {
		t.Error("ReadHeader() on a plain trial file should fail")
	}
}
