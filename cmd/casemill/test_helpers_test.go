package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// runCommand executes the CLI with the given arguments against a fresh root
// command, capturing combined stdout/stderr.
func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var buf bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

// writeTestConfig writes a minimal configuration whose paths all live under a
// temp directory, so commands never touch the real user directories. Extra
// lines are appended to the [llm] section.
func writeTestConfig(t *testing.T, llmLines ...string) string {
	t.Helper()

	dir := t.TempDir()
	lines := []string{
		"[paths]",
		`data_dir = "` + filepath.Join(dir, "data") + `"`,
		`raw_dir = "` + filepath.Join(dir, "raw") + `"`,
		`log_dir = "` + filepath.Join(dir, "logs") + `"`,
		"",
		"[llm]",
		`api_key = "test-key"`,
	}
	lines = append(lines, llmLines...)
	content := strings.Join(append(lines, ""), "\n")
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write test config: %v", err)
	}
	return path
}

func requireContains(t *testing.T, output, want string) {
	t.Helper()
	if !strings.Contains(output, want) {
		t.Fatalf("expected output to contain %q, got:\n%s", want, output)
	}
}
