package logging_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"casemill/internal/logging"
)

func TestNewWritesConsoleFormatToFile(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "out.log")
	logger, err := logging.New(logging.Options{
		Level:       "debug",
		Format:      "console",
		OutputPaths: []string{logPath},
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	scoped := logging.NewComponentLogger(logger, "enrich")
	scoped.Info("run started", logging.String(logging.FieldDataset, "cityA"), logging.Int("total", 42))

	contents, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	line := string(contents)
	if !strings.Contains(line, "INFO enrich: run started") {
		t.Fatalf("unexpected log line: %q", line)
	}
	if !strings.Contains(line, "dataset=cityA") || !strings.Contains(line, "total=42") {
		t.Fatalf("expected attrs in log line: %q", line)
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "yaml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestLevelFiltering(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "out.log")
	logger, err := logging.New(logging.Options{
		Level:       "warn",
		Format:      "console",
		OutputPaths: []string{logPath},
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Info("hidden")
	logger.Warn("visible")

	contents, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if strings.Contains(string(contents), "hidden") {
		t.Fatalf("info line should be filtered: %q", contents)
	}
	if !strings.Contains(string(contents), "visible") {
		t.Fatalf("warn line missing: %q", contents)
	}
}

func TestNopLoggerDiscards(t *testing.T) {
	logger := logging.NewNop()
	logger.Error("nothing happens", logging.Error(os.ErrNotExist))
}
