package trialfile

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrIntegrityMismatch reports that a trial file no longer matches its
// recorded checksum. Mismatches are reported, never repaired.
var ErrIntegrityMismatch = errors.New("trial file integrity mismatch")

// Checksum returns the lowercase hex SHA-256 digest of data.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Write encodes f to path and its checksum to checksumPath, returning the
// checksum.
func Write(path, checksumPath string, f *File) (string, error) {
	data, err := Encode(f)
	if err != nil {
		return "", err
	}
	return writeWithChecksum(path, checksumPath, data)
}

func writeWithChecksum(path, checksumPath string, data []byte) (string, error) {
	if err := writeFile(path, data); err != nil {
		return "", fmt.Errorf("writing trial file: %w", err)
	}
	sum := Checksum(data)
	if err := writeFile(checksumPath, []byte(sum)); err != nil {
		return "", fmt.Errorf("writing checksum file: %w", err)
	}
	return sum, nil
}

// writeFile replaces path through a temporary file in the same directory so
// readers never see a half-written file.
func writeFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Chmod(0644); err != nil {
		tmp.Close()
		return fmt.Errorf("setting permissions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	return os.Rename(tmpName, path)
}

// Read loads a trial file in either the plain JSON or the compressed format.
func Read(path string) (*File, error) {
	format, err := DetectFormat(path)
	if err != nil {
		return nil, err
	}
	if format == FormatCompressed {
		return ReadCompressed(path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading trial file: %w", err)
	}
	f, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// ReadChecksum reads a checksum sidecar, ignoring surrounding whitespace.
func ReadChecksum(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading checksum file: %w", err)
	}
	return strings.ToLower(strings.TrimSpace(string(data))), nil
}

// Verification is the outcome of comparing a trial file with its sidecar.
type Verification struct {
	Path         string `json:"path"`
	ChecksumPath string `json:"checksum_path"`
	Expected     string `json:"expected"`
	Actual       string `json:"actual"`
	Match        bool   `json:"match"`
}

// Verify recomputes the SHA-256 of the file at path and compares it with
// the digest stored in checksumPath. On mismatch it returns the filled
// Verification together with an error wrapping ErrIntegrityMismatch.
// Compressed files additionally have their embedded payload checksum checked.
func Verify(path, checksumPath string) (*Verification, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading trial file: %w", err)
	}
	expected, err := ReadChecksum(checksumPath)
	if err != nil {
		return nil, err
	}

	v := &Verification{
		Path:         path,
		ChecksumPath: checksumPath,
		Expected:     expected,
		Actual:       Checksum(data),
	}
	v.Match = v.Actual == v.Expected
	if !v.Match {
		return v, fmt.Errorf("%w: %s has hash %s, expected %s", ErrIntegrityMismatch, path, v.Actual, v.Expected)
	}

	if format, err := DetectFormat(path); err == nil && format == FormatCompressed {
		if err := VerifyCompressed(path); err != nil {
			v.Match = false
			return v, err
		}
	}
	return v, nil
}
