package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestHandlerRenamesKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler(&buf, slog.LevelInfo))
	logger.Info("block applied", "height", 7)

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if line["message"] != "block applied" {
		t.Fatalf("unexpected message: %v", line["message"])
	}
	if line["severity"] != "INFO" {
		t.Fatalf("unexpected severity: %v", line["severity"])
	}
	if _, ok := line["timestamp"]; !ok {
		t.Fatalf("expected timestamp key")
	}
}

func TestHandlerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler(&buf, slog.LevelWarn))
	logger.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("expected info line to be filtered, got %q", buf.String())
	}
}

func TestMaskField(t *testing.T) {
	if got := MaskField("otel_headers", "authorization=secret"); got.Value.String() != RedactedValue {
		t.Fatalf("expected redaction, got %q", got.Value.String())
	}
	if got := MaskField("height", "12"); got.Value.String() != "12" {
		t.Fatalf("allowlisted key must pass through, got %q", got.Value.String())
	}
	if got := MaskField("passphrase", ""); got.Value.String() != "" {
		t.Fatalf("empty values stay empty")
	}
}
