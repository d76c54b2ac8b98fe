package snapshot

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/mmdatafocus/retail_dashboard/utils"
)

// maxDecodedBytes caps the inflated size of one snapshot.
const maxDecodedBytes = 64 << 20

// Envelope wraps a report payload with the key it was generated for.
type Envelope[T any] struct {
	Section     string    `json:"section" validate:"required"`
	Resource    string    `json:"resource" validate:"required"`
	Region      string    `json:"region" validate:"required"`
	Brand       string    `json:"brand" validate:"required"`
	Date        string    `json:"date" validate:"required,datetime=2006-01-02"`
	GeneratedAt time.Time `json:"generatedAt" validate:"required"`
	Payload     T         `json:"payload"`
}

func NewEnvelope[T any](key Key, payload T, generatedAt time.Time) Envelope[T] {
	key = key.Normalize()
	return Envelope[T]{
		Section:     key.Section,
		Resource:    key.Resource,
		Region:      key.Region,
		Brand:       key.Brand,
		Date:        key.DateString(),
		GeneratedAt: generatedAt.UTC().Round(0),
		Payload:     payload,
	}
}

// Key re-derives the snapshot key the envelope was stored under.
func (e Envelope[T]) Key() (Key, error) {
	return NewKey(e.Section, e.Resource, e.Region, e.Brand, e.Date)
}

// Encode serializes to JSON, gzips and base64-encodes the envelope.
func Encode[T any](env Envelope[T]) (string, error) {
	raw, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return "", fmt.Errorf("compress snapshot: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("compress snapshot: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// Decode reverses Encode. Every failure wraps utils.ErrCorruptSnapshot.
func Decode[T any](encoded string) (Envelope[T], error) {
	var env Envelope[T]
	compressed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return env, fmt.Errorf("%w: base64: %v", utils.ErrCorruptSnapshot, err)
	}
	zr, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return env, fmt.Errorf("%w: gzip header: %v", utils.ErrCorruptSnapshot, err)
	}
	defer zr.Close()
	raw, err := io.ReadAll(io.LimitReader(zr, maxDecodedBytes+1))
	if err != nil {
		return env, fmt.Errorf("%w: gzip body: %v", utils.ErrCorruptSnapshot, err)
	}
	if len(raw) > maxDecodedBytes {
		return env, fmt.Errorf("%w: inflated payload exceeds %d bytes", utils.ErrCorruptSnapshot, maxDecodedBytes)
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return env, fmt.Errorf("%w: json: %v", utils.ErrCorruptSnapshot, err)
	}
	return env, nil
}
