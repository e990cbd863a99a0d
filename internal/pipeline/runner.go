package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/fspbuild/internal/logging"
)

// Runner runs external build tools in a workspace with an extended
// environment.
type Runner struct {
	// Dir is the default working directory
	Dir string
	// Stream copies tool output to Stdout and Stderr while it runs
	Stream bool
	Stdout io.Writer
	Stderr io.Writer

	env       map[string]string
	pathFront []string
	pathBack  []string
	logger    *zap.Logger

	mu         sync.Mutex
	transcript bytes.Buffer
}

// NewRunner creates a runner rooted at dir.
func NewRunner(dir string, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		Dir:    dir,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		env:    make(map[string]string),
		logger: logger,
	}
}

// Setenv sets a variable for every tool the runner starts.
func (r *Runner) Setenv(key, value string) {
	r.env[key] = value
}

// Getenv returns a variable as tools will see it.
func (r *Runner) Getenv(key string) string {
	if v, ok := r.env[key]; ok {
		return v
	}
	return os.Getenv(key)
}

// AppendPath adds dir to the end of the tools' PATH.
func (r *Runner) AppendPath(dir string) {
	if r.onPath(dir) {
		return
	}
	r.pathBack = append(r.pathBack, dir)
}

// PrependPath adds dir to the front of the tools' PATH, ahead of the host's
// directories. A later call goes in front of an earlier one.
func (r *Runner) PrependPath(dir string) {
	if r.onPath(dir) {
		return
	}
	r.pathFront = append([]string{dir}, r.pathFront...)
}

func (r *Runner) onPath(dir string) bool {
	for _, d := range append(r.pathFront, r.pathBack...) {
		if d == dir {
			return true
		}
	}
	return false
}

// Env returns the variables the runner adds, sorted by name.
func (r *Runner) Env() []string {
	out := make([]string, 0, len(r.env))
	for k, v := range r.env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// Transcript returns the output of every tool run so far.
func (r *Runner) Transcript() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transcript.String()
}

func (r *Runner) searchPath() string {
	path := r.Getenv("PATH")
	if len(r.pathFront) == 0 && len(r.pathBack) == 0 {
		return path
	}
	parts := make([]string, 0, len(r.pathFront)+len(r.pathBack)+1)
	parts = append(parts, r.pathFront...)
	if path != "" {
		parts = append(parts, path)
	}
	parts = append(parts, r.pathBack...)
	return strings.Join(parts, string(os.PathListSeparator))
}

func (r *Runner) environ() []string {
	env := os.Environ()
	for k, v := range r.env {
		env = append(env, k+"="+v)
	}
	return append(env, "PATH="+r.searchPath())
}

// lookPath resolves name against the runner's PATH rather than the
// process's own.
func (r *Runner) lookPath(name string) (string, error) {
	if strings.ContainsRune(name, filepath.Separator) {
		return name, nil
	}
	for _, dir := range filepath.SplitList(r.searchPath()) {
		if dir == "" {
			continue
		}
		p := filepath.Join(dir, name)
		if fi, err := os.Stat(p); err == nil && !fi.IsDir() && fi.Mode()&0111 != 0 {
			return p, nil
		}
	}
	return "", fmt.Errorf("%q not found in PATH: %w", name, exec.ErrNotFound)
}

// Run runs name with args in the runner's directory.
func (r *Runner) Run(ctx context.Context, name string, args ...string) error {
	_, err := r.exec(ctx, r.Dir, name, args, false)
	return err
}

// RunIn runs name with args in dir. A relative dir is taken from the
// runner's directory.
func (r *Runner) RunIn(ctx context.Context, dir, name string, args ...string) error {
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(r.Dir, dir)
	}
	_, err := r.exec(ctx, dir, name, args, false)
	return err
}

// Output runs name with args and returns its standard output. Output is
// never streamed.
func (r *Runner) Output(ctx context.Context, name string, args ...string) (string, error) {
	return r.exec(ctx, r.Dir, name, args, true)
}

func (r *Runner) exec(ctx context.Context, dir, name string, args []string, capture bool) (string, error) {
	startTime := time.Now()
	logging.LogToolInvocation(dir, name, args)

	path, err := r.lookPath(name)
	if err != nil {
		return "", &ToolError{Tool: name, Args: args, ExitCode: -1, Err: err}
	}

	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Dir = dir
	cmd.Env = r.environ()

	var stdoutBuf, stderrBuf bytes.Buffer
	if r.Stream && !capture {
		cmd.Stdout = io.MultiWriter(&stdoutBuf, r.Stdout)
		cmd.Stderr = io.MultiWriter(&stderrBuf, r.Stderr)
	} else {
		cmd.Stdout = &stdoutBuf
		cmd.Stderr = &stderrBuf
	}

	err = cmd.Run()
	stdout := stdoutBuf.String()
	stderr := stderrBuf.String()

	r.mu.Lock()
	fmt.Fprintf(&r.transcript, "$ %s %s\n", name, strings.Join(args, " "))
	r.transcript.WriteString(stdout)
	r.transcript.WriteString(stderr)
	r.mu.Unlock()

	exitCode := 0
	if err != nil {
		exitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
	}

	r.logger.Debug("tool finished",
		zap.String("tool", name),
		zap.Duration("duration", time.Since(startTime)),
		zap.Int("exit_code", exitCode),
		zap.Int("stdout_size", len(stdout)),
		zap.Int("stderr_size", len(stderr)),
	)

	if err != nil {
		return stdout, &ToolError{Tool: name, Args: args, ExitCode: exitCode, Stderr: stderr, Err: err}
	}
	return stdout, nil
}
