package trialfile

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// Format version constants.
const (
	FormatJSON       = 1
	FormatCompressed = 2
)

// MaxDecompressedSize is the maximum allowed size of a decompressed trial file (200MB).
const MaxDecompressedSize = 200 * 1024 * 1024

// Header is the plain-text first line of a compressed trial file.
type Header struct {
	Version    int       `json:"version"`
	CreatedAt  time.Time `json:"created_at"`
	Checksum   string    `json:"checksum"`
	Groups     int       `json:"groups"`
	Trials     int       `json:"trials"`
	Compressed bool      `json:"compressed"`
}

// DetectFormat reads the first line of a file to tell plain JSON from the
// compressed container. Compressed files start with a header line carrying
// "version":2; plain trial files start with '{'.
func DetectFormat(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("opening file: %w", err)
	}
	defer f.Close()

	reader := bufio.NewReader(f)
	firstLine, err := reader.ReadString('\n')
	if err != nil && err != io.EOF {
		return 0, fmt.Errorf("reading first line: %w", err)
	}
	firstLine = strings.TrimSpace(firstLine)
	if firstLine == "" {
		return 0, fmt.Errorf("%s: file is empty", path)
	}

	var header Header
	if err := json.Unmarshal([]byte(firstLine), &header); err == nil && header.Version == FormatCompressed {
		return FormatCompressed, nil
	}
	if firstLine[0] == '{' {
		return FormatJSON, nil
	}
	return 0, fmt.Errorf("%s: unrecognized trial file format", path)
}

// WriteCompressed writes f as a header line followed by the gzip-compressed
// trial JSON, plus the checksum sidecar of the whole file. The header carries
// its own checksum of the compressed payload.
func WriteCompressed(path, checksumPath string, f *File, createdAt time.Time) (string, error) {
	payload, err := Encode(f)
	if err != nil {
		return "", err
	}

	var compressed bytes.Buffer
	gzw, err := gzip.NewWriterLevel(&compressed, gzip.DefaultCompression)
	if err != nil {
		return "", fmt.Errorf("creating gzip writer: %w", err)
	}
	if _, err := gzw.Write(payload); err != nil {
		return "", fmt.Errorf("compressing payload: %w", err)
	}
	if err := gzw.Close(); err != nil {
		return "", fmt.Errorf("closing gzip writer: %w", err)
	}

	header := Header{
		Version:    FormatCompressed,
		CreatedAt:  createdAt.UTC(),
		Checksum:   "sha256:" + Checksum(compressed.Bytes()),
		Groups:     len(f.Groups),
		Trials:     f.TrialCount(),
		Compressed: true,
	}
	headerBytes, err := json.Marshal(header)
	if err != nil {
		return "", fmt.Errorf("marshaling header: %w", err)
	}

	var out bytes.Buffer
	out.Grow(len(headerBytes) + 1 + compressed.Len())
	out.Write(headerBytes)
	out.WriteByte('\n')
	out.Write(compressed.Bytes())

	return writeWithChecksum(path, checksumPath, out.Bytes())
}

// ReadCompressed reads a compressed trial file, verifies the payload
// checksum and decodes it.
func ReadCompressed(path string) (*File, error) {
	header, payload, err := readContainer(path)
	if err != nil {
		return nil, err
	}
	if err := checkPayload(path, header, payload); err != nil {
		return nil, err
	}

	gzr, err := gzip.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating gzip reader: %w", err)
	}
	defer gzr.Close()

	decompressed, err := io.ReadAll(io.LimitReader(gzr, MaxDecompressedSize+1))
	if err != nil {
		return nil, fmt.Errorf("decompressing payload: %w", err)
	}
	if int64(len(decompressed)) > MaxDecompressedSize {
		return nil, fmt.Errorf("decompressed payload exceeds maximum size of %d bytes", MaxDecompressedSize)
	}

	f, err := Decode(decompressed)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// ReadHeader reads only the header line of a compressed trial file.
func ReadHeader(path string) (*Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening file: %w", err)
	}
	defer f.Close()

	return parseHeader(bufio.NewReader(f))
}

// VerifyCompressed checks the payload checksum embedded in a compressed
// trial file without decompressing it.
func VerifyCompressed(path string) error {
	header, payload, err := readContainer(path)
	if err != nil {
		return err
	}
	return checkPayload(path, header, payload)
}

func readContainer(path string) (*Header, []byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening file: %w", err)
	}
	defer f.Close()

	reader := bufio.NewReader(f)
	header, err := parseHeader(reader)
	if err != nil {
		return nil, nil, err
	}
	payload, err := io.ReadAll(reader)
	if err != nil {
		return nil, nil, fmt.Errorf("reading compressed payload: %w", err)
	}
	return header, payload, nil
}

func parseHeader(reader *bufio.Reader) (*Header, error) {
	headerLine, err := reader.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("reading header line: %w", err)
	}

	var header Header
	if err := json.Unmarshal(bytes.TrimSpace(headerLine), &header); err != nil {
		return nil, fmt.Errorf("parsing header: %w", err)
	}
	if header.Version != FormatCompressed {
		return nil, fmt.Errorf("expected compressed format, got version %d", header.Version)
	}
	return &header, nil
}

func checkPayload(path string, header *Header, payload []byte) error {
	actual := "sha256:" + Checksum(payload)
	if actual != header.Checksum {
		return fmt.Errorf("%w: %s payload has %s, header records %s", ErrIntegrityMismatch, path, actual, header.Checksum)
	}
	return nil
}
