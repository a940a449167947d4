package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

// executeCommand runs a fresh root command with args and returns its output.
func executeCommand(args ...string) (output string, err error) {
	root := newRootCmd()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)

	err = root.Execute()
	return buf.String(), err
}

// testContext holds test resources.
type testContext struct {
	t       *testing.T
	tempDir string
}

// newTestContext creates a new test context with a temp directory.
func newTestContext(t *testing.T) *testContext {
	t.Helper()
	return &testContext{t: t, tempDir: t.TempDir()}
}

// path returns a path within the temp directory.
func (tc *testContext) path(name string) string {
	return filepath.Join(tc.tempDir, name)
}

// writeFile writes content to a file in the temp directory.
func (tc *testContext) writeFile(name, content string) string {
	tc.t.Helper()
	path := tc.path(name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		tc.t.Fatalf("Failed to write file %s: %v", name, err)
	}
	return path
}

// run executes a command that must succeed.
func (tc *testContext) run(args ...string) string {
	tc.t.Helper()
	out, err := executeCommand(args...)
	if err != nil {
		tc.t.Fatalf("certengine %v: %v\n%s", args, err, out)
	}
	return out
}

func assertFileExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("Expected file to exist: %s", path)
	}
}

func assertFileNotEmpty(t *testing.T, path string) {
	t.Helper()
	info, err := os.Stat(path)
	if err != nil {
		t.Errorf("Failed to stat file %s: %v", path, err)
		return
	}
	if info.Size() == 0 {
		t.Errorf("Expected file to be non-empty: %s", path)
	}
}
