package pipeline

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"go.uber.org/zap"
)

// writeTool writes an executable shell script named name into dir.
func writeTool(t *testing.T, dir, name, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script tools need a POSIX shell")
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0755); err != nil {
		t.Fatalf("failed to write tool: %v", err)
	}
	return path
}

func TestRunnerOutput(t *testing.T) {
	bin := t.TempDir()
	writeTool(t, bin, "hello", `echo "hello $GREETING from $(pwd)"`)

	work := t.TempDir()
	r := NewRunner(work, zap.NewNop())
	r.AppendPath(bin)
	r.Setenv("GREETING", "world")

	out, err := r.Output(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Output failed: %v", err)
	}
	// macOS temp dirs may be reached through a symlink
	if !strings.HasPrefix(out, "hello world from ") || !strings.HasSuffix(strings.TrimSpace(out), filepath.Base(work)) {
		t.Errorf("unexpected output %q", out)
	}
	if got := r.Getenv("GREETING"); got != "world" {
		t.Errorf("Getenv = %q", got)
	}
	if env := r.Env(); len(env) != 1 || env[0] != "GREETING=world" {
		t.Errorf("Env = %v", env)
	}
	if !strings.Contains(r.Transcript(), "$ hello") {
		t.Errorf("transcript missing command: %q", r.Transcript())
	}
}

func TestRunnerToolFailure(t *testing.T) {
	bin := t.TempDir()
	writeTool(t, bin, "broken", "echo progress\necho 'something went wrong' >&2\nexit 3")

	r := NewRunner(t.TempDir(), nil)
	r.AppendPath(bin)

	err := r.Run(context.Background(), "broken", "--flag")
	var te *ToolError
	if !errors.As(err, &te) {
		t.Fatalf("expected *ToolError, got %T (%v)", err, err)
	}
	if te.Tool != "broken" || te.ExitCode != 3 {
		t.Errorf("ToolError = %+v", te)
	}
	if len(te.Args) != 1 || te.Args[0] != "--flag" {
		t.Errorf("Args = %v", te.Args)
	}
	if !strings.Contains(te.Stderr, "something went wrong") {
		t.Errorf("Stderr = %q", te.Stderr)
	}
	if !strings.Contains(err.Error(), "broken --flag failed (exit code 3)") {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestRunnerMissingTool(t *testing.T) {
	r := NewRunner(t.TempDir(), nil)
	r.Setenv("PATH", t.TempDir())

	err := r.Run(context.Background(), "definitely-not-installed")
	var te *ToolError
	if !errors.As(err, &te) {
		t.Fatalf("expected *ToolError, got %v", err)
	}
	if te.ExitCode != -1 {
		t.Errorf("ExitCode = %d, want -1", te.ExitCode)
	}
	if !errors.Is(err, exec.ErrNotFound) {
		t.Errorf("expected exec.ErrNotFound in chain: %v", err)
	}
}

func TestRunnerStreamAndRunIn(t *testing.T) {
	bin := t.TempDir()
	writeTool(t, bin, "where", "basename \"$(pwd)\"")

	work := t.TempDir()
	if err := os.MkdirAll(filepath.Join(work, "sub", "dir"), 0755); err != nil {
		t.Fatal(err)
	}

	var stdout, stderr bytes.Buffer
	r := NewRunner(work, nil)
	r.AppendPath(bin)
	r.Stream = true
	r.Stdout = &stdout
	r.Stderr = &stderr

	if err := r.RunIn(context.Background(), filepath.Join("sub", "dir"), "where"); err != nil {
		t.Fatalf("RunIn failed: %v", err)
	}
	if strings.TrimSpace(stdout.String()) != "dir" {
		t.Errorf("streamed stdout = %q, want dir", stdout.String())
	}
}

func TestRunnerPathOrder(t *testing.T) {
	host, front, back := t.TempDir(), t.TempDir(), t.TempDir()
	for dir, name := range map[string]string{host: "host", front: "front", back: "back"} {
		writeTool(t, dir, "make", "echo "+name)
	}

	r := NewRunner(t.TempDir(), nil)
	r.Setenv("PATH", host)
	r.AppendPath(back)
	if out, err := r.Output(context.Background(), "make"); err != nil || strings.TrimSpace(out) != "host" {
		t.Errorf("appended dir should lose to PATH: %q, %v", out, err)
	}

	r.PrependPath(front)
	r.PrependPath(front)
	if out, err := r.Output(context.Background(), "make"); err != nil || strings.TrimSpace(out) != "front" {
		t.Errorf("prepended dir should shadow PATH: %q, %v", out, err)
	}
	want := strings.Join([]string{front, host, back}, string(os.PathListSeparator))
	if got := r.searchPath(); got != want {
		t.Errorf("searchPath = %q, want %q", got, want)
	}
}

func TestRunnerCancelled(t *testing.T) {
	bin := t.TempDir()
	writeTool(t, bin, "slow", "sleep 5")

	r := NewRunner(t.TempDir(), nil)
	r.AppendPath(bin)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := r.Run(ctx, "slow")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
