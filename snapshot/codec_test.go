package snapshot

import (
	"bytes"
	"encoding/base64"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/mmdatafocus/retail_dashboard/utils"
)

func testKey(t *testing.T, date string) Key {
	t.Helper()
	k, err := NewKey("INVENTORY", "OLD_SEASON", "HKMC", "M", date)
	if err != nil {
		t.Fatalf("NewKey: %v", err)
	}
	return k
}

func TestCodec_RoundTrip(t *testing.T) {
	generated := time.Date(2026, 2, 15, 3, 4, 5, 0, time.UTC)
	payloads := []map[string]any{
		{},
		{"total": 1200.5, "label": "25F"},
		{
			"buckets": []any{
				map[string]any{"bucket": "1y", "stock": 10.0, "flags": []any{true, false}},
				map[string]any{"bucket": "3y+", "nested": map[string]any{"deeper": map[string]any{"x": nil}}},
			},
		},
	}
	for i, p := range payloads {
		env := NewEnvelope(testKey(t, "2026-02-14"), p, generated)
		encoded, err := Encode(env)
		if err != nil {
			t.Fatalf("case %d: Encode: %v", i, err)
		}
		decoded, err := Decode[map[string]any](encoded)
		if err != nil {
			t.Fatalf("case %d: Decode: %v", i, err)
		}
		if decoded.Section != env.Section || decoded.Resource != env.Resource || decoded.Region != env.Region ||
			decoded.Brand != env.Brand || decoded.Date != env.Date {
			t.Fatalf("case %d: metadata mismatch: %+v vs %+v", i, decoded, env)
		}
		if !decoded.GeneratedAt.Equal(env.GeneratedAt) {
			t.Fatalf("case %d: generatedAt %s vs %s", i, decoded.GeneratedAt, env.GeneratedAt)
		}
		if !reflect.DeepEqual(decoded.Payload, env.Payload) {
			t.Fatalf("case %d: payload mismatch: %#v vs %#v", i, decoded.Payload, env.Payload)
		}
	}
}

type typedPayload struct {
	Rows  []string `json:"rows"`
	Total int      `json:"total"`
}

func TestCodec_RoundTripTypedPayload(t *testing.T) {
	env := NewEnvelope(testKey(t, "2026-02-14"), typedPayload{Rows: []string{"a", "b"}, Total: 2}, time.Now())
	encoded, err := Encode(env)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, err := Decode[typedPayload](encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !reflect.DeepEqual(decoded.Payload, env.Payload) {
		t.Fatalf("payload mismatch: %#v vs %#v", decoded.Payload, env.Payload)
	}
}

func gzipBase64(t *testing.T, raw []byte) string {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		t.Fatalf("gzip: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("gzip: %v", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func TestCodec_DecodeCorrupt(t *testing.T) {
	cases := map[string]string{
		"not base64":      "%%%not-base64%%%",
		"not gzip":        base64.StdEncoding.EncodeToString([]byte("plain text")),
		"not json":        gzipBase64(t, []byte("{broken")),
		"wrong json type": gzipBase64(t, []byte(`{"section": 12}`)),
		"empty":           "",
	}
	for name, in := range cases {
		if _, err := Decode[map[string]any](in); !errors.Is(err, utils.ErrCorruptSnapshot) {
			t.Fatalf("%s: expected ErrCorruptSnapshot, got %v", name, err)
		}
	}
}
