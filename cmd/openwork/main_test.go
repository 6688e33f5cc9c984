package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		configPath = ""
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "OpenWork version") {
		t.Errorf("unexpected output %q", out)
	}
}

func TestToolsCommand(t *testing.T) {
	out, err := execute(t, "tools")
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"file", "bash", "search", "web", "code"} {
		if !strings.Contains(out, name) {
			t.Errorf("expected %s in output:\n%s", name, out)
		}
	}
}

func TestRunRequiresTask(t *testing.T) {
	if _, err := execute(t, "run"); err == nil {
		t.Error("expected error without a task")
	}
}

func TestRunRejectsBadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("agent:\n  max_iterations: 0\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := execute(t, "run", "--config", path, "do things"); err == nil {
		t.Error("expected validation error")
	}
}

func TestResolvePaths(t *testing.T) {
	dir := t.TempDir()
	var warn bytes.Buffer

	got, err := resolvePaths([]string{dir}, &warn)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0] != dir || warn.Len() != 0 {
		t.Errorf("unexpected paths %v (warn %q)", got, warn.String())
	}

	if _, err := resolvePaths([]string{filepath.Join(dir, "missing")}, &warn); err == nil {
		t.Error("expected error for missing path")
	}

	got, err = resolvePaths(nil, &warn)
	if err != nil {
		t.Fatal(err)
	}
	cwd, _ := os.Getwd()
	if len(got) != 1 || got[0] != cwd || !strings.Contains(warn.String(), "Warning") {
		t.Errorf("expected cwd with warning, got %v (warn %q)", got, warn.String())
	}
}
