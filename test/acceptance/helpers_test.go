//go:build acceptance

// Package acceptance contains black-box CLI acceptance tests (TestA_*).
// Run with: go test -tags=acceptance ./test/acceptance/...
package acceptance

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// binary is the path to the certengine binary.
// Set via CERTENGINE_BINARY env var or default to ./bin/certengine in the repo root.
var binary string

func init() {
	if bin := os.Getenv("CERTENGINE_BINARY"); bin != "" {
		binary = bin
	} else {
		binary = "../../bin/certengine"
	}
}

// run executes the certengine CLI with the given arguments and returns stdout.
// Fails the test if the command returns a non-zero exit code.
func run(t *testing.T, args ...string) string {
	t.Helper()
	cmd := exec.Command(binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		t.Fatalf("certengine %s failed: %v\nstderr: %s\nstdout: %s",
			strings.Join(args, " "), err, stderr.String(), stdout.String())
	}
	return stdout.String()
}

// runExpectError executes certengine and expects it to fail.
// Returns the combined output (stdout + stderr).
func runExpectError(t *testing.T, args ...string) string {
	t.Helper()
	cmd := exec.Command(binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err == nil {
		t.Fatalf("certengine %s expected to fail but succeeded\nstdout: %s",
			strings.Join(args, " "), stdout.String())
	}
	return stdout.String() + stderr.String()
}

// pki holds the files of a two-level hierarchy created by setupPKI.
type pki struct {
	dir     string
	rootKey string
	rootCrt string
	leafKey string
	leafCSR string
	leafCrt string
}

// setupPKI creates a root CA of alg and a server certificate for cn.
func setupPKI(t *testing.T, alg, cn string) pki {
	t.Helper()
	dir := t.TempDir()
	p := pki{
		dir:     dir,
		rootKey: filepath.Join(dir, "root.key"),
		rootCrt: filepath.Join(dir, "root.crt"),
		leafKey: filepath.Join(dir, "leaf.key"),
		leafCSR: filepath.Join(dir, "leaf.csr"),
		leafCrt: filepath.Join(dir, "leaf.crt"),
	}

	run(t, "key", "gen", "--algorithm", alg, "--out", p.rootKey)
	run(t, "selfsign", "--key", p.rootKey, "--cn", "Acceptance Root "+alg, "--org", "Example Org",
		"--ca", "--path-len", "0", "--out", p.rootCrt)
	run(t, "key", "gen", "--algorithm", alg, "--out", p.leafKey)
	run(t, "csr", "--key", p.leafKey, "--cn", cn, "--dns", cn, "--out", p.leafCSR)
	run(t, "sign", "--csr", p.leafCSR, "--ca-cert", p.rootCrt, "--key", p.rootKey,
		"--profile", "server", "--out", p.leafCrt)
	return p
}

// assertFileExists fails the test if the file does not exist.
func assertFileExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Fatalf("expected file to exist: %s", path)
	}
}

// assertOutputContains fails if the output does not contain the expected substring.
func assertOutputContains(t *testing.T, output, expected string) {
	t.Helper()
	if !strings.Contains(output, expected) {
		t.Errorf("expected output to contain %q, got: %s", expected, output)
	}
}

// execCommandContext wraps exec.CommandContext for background processes.
func execCommandContext(ctx context.Context, name string, args ...string) *exec.Cmd {
	return exec.CommandContext(ctx, name, args...)
}
