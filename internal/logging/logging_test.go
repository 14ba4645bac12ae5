package logging

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestSetLevelFromStringRecognizedValues(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"ERROR":   slog.LevelError,
	}
	for in, want := range cases {
		SetLevelFromString(in)
		if got := logLevel.Level(); got != want {
			t.Fatalf("SetLevelFromString(%q): level = %v, want %v", in, got, want)
		}
	}
}

func TestSetLevelFromStringUnknownValueLeavesLevelUnchanged(t *testing.T) {
	SetLevel(slog.LevelWarn)
	SetLevelFromString("nonsense")
	if got := logLevel.Level(); got != slog.LevelWarn {
		t.Fatalf("level = %v, want unchanged %v after an unrecognized value", got, slog.LevelWarn)
	}
}

func TestOpReturnsNonNilLogger(t *testing.T) {
	if Op() == nil {
		t.Fatalf("Op() = nil")
	}
}

func TestExecutionLoggerWritesJSONLine(t *testing.T) {
	l := &ExecutionLogger{enabled: true}
	path := filepath.Join(t.TempDir(), "executions.log")
	if err := l.SetOutput(path); err != nil {
		t.Fatalf("SetOutput() = %v", err)
	}
	defer l.Close()

	l.Log(ExecutionLogEntry{ExecutionID: "e1", Mode: "one_shot", Status: "success", ElapsedMs: 12})

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() = %v", err)
	}
	var entry ExecutionLogEntry
	if err := json.Unmarshal(data[:len(data)-1], &entry); err != nil {
		t.Fatalf("Unmarshal() = %v, data = %q", err, data)
	}
	if entry.ExecutionID != "e1" || entry.Status != "success" {
		t.Fatalf("unexpected logged entry: %+v", entry)
	}
}

func TestExecutionLoggerDisabledSkipsWrite(t *testing.T) {
	l := &ExecutionLogger{enabled: false}
	path := filepath.Join(t.TempDir(), "executions.log")
	if err := l.SetOutput(path); err != nil {
		t.Fatalf("SetOutput() = %v", err)
	}
	defer l.Close()

	l.Log(ExecutionLogEntry{ExecutionID: "e1"})

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() = %v", err)
	}
	if len(data) != 0 {
		t.Fatalf("disabled logger wrote %d bytes, want 0", len(data))
	}
}
