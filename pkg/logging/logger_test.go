package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
)

// setupTestDir creates a temporary directory for test logs and resets global state
func setupTestDir(t *testing.T) (cleanup func()) {
	t.Helper()

	tempDir := t.TempDir()

	origLogDir := logDir
	origInitErr := initErr
	origProcessID := processID
	origOpts := currentOptions()

	logDir = tempDir
	initErr = nil
	initOnce = sync.Once{}
	processID = ""
	processIDOnce = sync.Once{}
	opts = Options{}

	return func() {
		logDir = origLogDir
		initErr = origInitErr
		initOnce = sync.Once{}
		processID = origProcessID
		processIDOnce = sync.Once{}
		opts = origOpts
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	}
}

func readLines(t *testing.T, path string) []map[string]any {
	t.Helper()

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}

	var lines []map[string]any
	for _, raw := range strings.Split(strings.TrimSpace(string(content)), "\n") {
		if raw == "" {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			t.Fatalf("log line is not JSON: %q", raw)
		}
		lines = append(lines, entry)
	}
	return lines
}

func TestNewLogger(t *testing.T) {
	cleanup := setupTestDir(t)
	defer cleanup()

	logger, err := NewLogger("test-component")
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Close()

	if logger.ProcessID() == "" {
		t.Error("Expected non-empty process ID")
	}
	if _, err := os.Stat(logger.LogPath()); os.IsNotExist(err) {
		t.Errorf("Log file does not exist at %s", logger.LogPath())
	}
}

func TestLoggerLevels(t *testing.T) {
	cleanup := setupTestDir(t)
	defer cleanup()

	logger, err := NewLogger("test")
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Close()

	logger.Printf("Test message %d", 123)
	logger.Debugf("Debug message")
	logger.Infof("Info message")
	logger.Warnf("Warning message")
	logger.Errorf("Error message")

	lines := readLines(t, logger.LogPath())
	expected := []struct{ level, message string }{
		{"info", "Test message 123"},
		{"debug", "Debug message"},
		{"info", "Info message"},
		{"warn", "Warning message"},
		{"error", "Error message"},
	}
	if len(lines) != len(expected) {
		t.Fatalf("Expected %d lines, got %d", len(expected), len(lines))
	}
	for i, want := range expected {
		if lines[i]["level"] != want.level || lines[i]["message"] != want.message {
			t.Errorf("line %d: got %v, want %+v", i, lines[i], want)
		}
		if lines[i]["component"] != "test" {
			t.Errorf("line %d: missing component field: %v", i, lines[i])
		}
	}
}

func TestConfigureLevelFilters(t *testing.T) {
	cleanup := setupTestDir(t)
	defer cleanup()

	if err := Configure(Options{Level: "WARN"}); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}

	logger, err := NewLogger("filtered")
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Close()

	logger.Debugf("hidden")
	logger.Infof("hidden")
	logger.Warnf("shown")

	lines := readLines(t, logger.LogPath())
	if len(lines) != 1 || lines[0]["message"] != "shown" {
		t.Errorf("Expected only the warning, got %v", lines)
	}
}

func TestConfigureRejectsUnknownLevel(t *testing.T) {
	cleanup := setupTestDir(t)
	defer cleanup()

	if err := Configure(Options{Level: "chatty"}); err == nil {
		t.Error("Expected error for unknown level")
	}
}

func TestConfigureDir(t *testing.T) {
	cleanup := setupTestDir(t)
	defer cleanup()

	custom := filepath.Join(t.TempDir(), "nested", "logs")
	logDir = ""
	if err := Configure(Options{Dir: custom}); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}

	dir, err := GetLogDirectory()
	if err != nil {
		t.Fatalf("Failed to get log directory: %v", err)
	}
	if dir != custom {
		t.Errorf("Expected %q, got %q", custom, dir)
	}
}

func TestMultipleComponents(t *testing.T) {
	cleanup := setupTestDir(t)
	defer cleanup()

	logger1, err := NewLogger("component1")
	if err != nil {
		t.Fatalf("Failed to create logger1: %v", err)
	}
	defer logger1.Close()

	logger2, err := NewLogger("component2")
	if err != nil {
		t.Fatalf("Failed to create logger2: %v", err)
	}
	defer logger2.Close()

	if logger1.ProcessID() != logger2.ProcessID() {
		t.Errorf("Expected same process ID, got %q and %q", logger1.ProcessID(), logger2.ProcessID())
	}
	if logger1.LogPath() != logger2.LogPath() {
		t.Errorf("Expected same log path, got %q and %q", logger1.LogPath(), logger2.LogPath())
	}

	logger1.Printf("Message from component1")
	logger2.Printf("Message from component2")

	seen := map[any]bool{}
	for _, line := range readLines(t, logger1.LogPath()) {
		seen[line["component"]] = true
	}
	if !seen["component1"] || !seen["component2"] {
		t.Errorf("Expected entries from both components, got %v", seen)
	}
}

func TestNamedSharesFile(t *testing.T) {
	cleanup := setupTestDir(t)
	defer cleanup()

	root, err := NewLogger("operator")
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	named := root.Named("session").With("session_id", "s1")

	if err := named.Close(); err != nil {
		t.Errorf("Close on named logger failed: %v", err)
	}
	named.Info().Msg("acquired")
	root.Info().Msg("ready")
	if err := root.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}

	if named.LogPath() != root.LogPath() {
		t.Errorf("Expected shared log path, got %q and %q", named.LogPath(), root.LogPath())
	}
	lines := readLines(t, root.LogPath())
	if len(lines) != 2 {
		t.Fatalf("Expected 2 lines, got %d", len(lines))
	}
	if lines[0]["component"] != "session" || lines[0]["session_id"] != "s1" {
		t.Errorf("unexpected named entry %v", lines[0])
	}
	if lines[1]["component"] != "operator" {
		t.Errorf("unexpected root entry %v", lines[1])
	}
}

func TestNamedNopLogger(t *testing.T) {
	named := NewNopLogger("quiet").Named("child")
	named.Info().Msg("dropped")
	if err := named.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}

func TestWithAddsField(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriterLogger("agent", &buf).With("run_id", "run-42")

	logger.Info().Str("tool", "GOTO").Msg("executing")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if entry["run_id"] != "run-42" || entry["tool"] != "GOTO" || entry["component"] != "agent" {
		t.Errorf("unexpected entry %v", entry)
	}
}

func TestNopLogger(t *testing.T) {
	logger := NewNopLogger("quiet")
	logger.Errorf("nothing %s", "happens")
	if err := logger.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}

func TestGetProcessID(t *testing.T) {
	cleanup := setupTestDir(t)
	defer cleanup()

	id1 := GetProcessID()
	id2 := GetProcessID()

	if id1 != id2 {
		t.Errorf("Expected consistent process ID, got %q and %q", id1, id2)
	}
	if id1 == "" {
		t.Error("Expected non-empty process ID")
	}
}

func TestLoggerClose(t *testing.T) {
	cleanup := setupTestDir(t)
	defer cleanup()

	logger, err := NewLogger("test")
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}

	if err := logger.Close(); err != nil {
		t.Errorf("First close failed: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("Second close failed: %v", err)
	}
}

func TestLogPathFormat(t *testing.T) {
	cleanup := setupTestDir(t)
	defer cleanup()

	logger, err := NewLogger("test")
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Close()

	fileName := filepath.Base(logger.LogPath())
	if !strings.HasSuffix(fileName, "-operator.log") {
		t.Errorf("Expected log file to end with '-operator.log', got %q", fileName)
	}
	if !strings.Contains(strings.TrimSuffix(fileName, "-operator.log"), "-") {
		t.Errorf("Expected UUID-style process ID in %q", fileName)
	}
}
