package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/muurk/fspbuild/internal/config"
)

// versionTimeout bounds each "--version" probe.
const versionTimeout = 5 * time.Second

// PrerequisiteCheck represents the result of checking a single prerequisite.
type PrerequisiteCheck struct {
	// Name is the human-readable name of the prerequisite
	Name string
	// Available indicates whether the prerequisite is available
	Available bool
	// Path is the resolved path
	Path string
	// Version is the detected version
	Version string
	// Message provides additional context (install hint or success info)
	Message string
	// Error contains the underlying error if the check failed
	Error error
}

// PrerequisiteResult contains the results of all prerequisite checks.
type PrerequisiteResult struct {
	Checks       []PrerequisiteCheck
	AllAvailable bool
}

// Err returns a *PrerequisiteError for the first missing prerequisite.
func (r *PrerequisiteResult) Err() error {
	for _, c := range r.Checks {
		if !c.Available {
			return &PrerequisiteError{Prerequisite: c.Name, Details: c.Message}
		}
	}
	return nil
}

// Check returns the named check.
func (r *PrerequisiteResult) Check(name string) (PrerequisiteCheck, bool) {
	for _, c := range r.Checks {
		if c.Name == name {
			return c, true
		}
	}
	return PrerequisiteCheck{}, false
}

type probe struct {
	name string
	cmd  string
	args []string
	hint string
	// accept validates the version string; nil accepts anything
	accept func(version string) error
}

func probes(tools config.ToolPaths, goos string) []probe {
	python := tools.Python
	if python == "" {
		python = "python3"
	}
	mk := tools.Make
	if mk == "" {
		mk = "make"
	}
	compiler := probe{
		name: "gcc",
		cmd:  "gcc",
		args: []string{"-dumpversion"},
		hint: "Install GCC (Debian/Ubuntu: sudo apt-get install build-essential)",
	}
	if goos == "darwin" {
		compiler = probe{
			name: "clang",
			cmd:  "clang",
			args: []string{"-dumpversion"},
			hint: "Install the Xcode command line tools: xcode-select --install",
		}
	}

	return []probe{
		{
			name:   "Python",
			cmd:    python,
			args:   []string{"-c", "import platform; print(platform.python_version())"},
			hint:   "Python 3.6 or above is required; set tools.python in fspbuild.yaml",
			accept: requirePython,
		},
		{
			name: "OpenSSL",
			cmd:  filepath.Join(tools.OpenSSLPath, "openssl"),
			args: []string{"version"},
			hint: "OpenSSL not available. Please set OPENSSL_PATH or tools.openssl_path",
		},
		{
			name: "NASM",
			cmd:  filepath.Join(tools.NasmPrefix, "nasm"),
			args: []string{"-v"},
			hint: "NASM not available. Please set NASM_PREFIX or tools.nasm_prefix",
		},
		{
			name: "Git",
			cmd:  "git",
			args: []string{"--version"},
			hint: "Git not found. Please install Git or add it to PATH",
		},
		compiler,
		{
			name: "make",
			cmd:  mk,
			args: []string{"--version"},
			hint: "GNU make is required to build BaseTools",
		},
	}
}

// requirePython accepts Python 3.6 and above.
func requirePython(version string) error {
	parts := strings.Split(version, ".")
	if len(parts) >= 2 {
		major, err1 := strconv.Atoi(parts[0])
		minor, err2 := strconv.Atoi(parts[1])
		if err1 == nil && err2 == nil && (major > 3 || (major == 3 && minor >= 6)) {
			return nil
		}
	}
	return fmt.Errorf("python version %s is not supported", version)
}

// CheckPrerequisites probes every tool the build runs, using the runner's
// environment so tool prefixes and PATH additions apply.
func CheckPrerequisites(ctx context.Context, r *Runner, tools config.ToolPaths, goos string) *PrerequisiteResult {
	result := &PrerequisiteResult{AllAvailable: true}
	for _, p := range probes(tools, goos) {
		check := runProbe(ctx, r, p)
		result.Checks = append(result.Checks, check)
		if !check.Available {
			result.AllAvailable = false
		}
	}
	return result
}

func runProbe(ctx context.Context, r *Runner, p probe) PrerequisiteCheck {
	check := PrerequisiteCheck{Name: p.name}

	path, err := r.lookPath(p.cmd)
	if err != nil {
		check.Error = err
		check.Message = fmt.Sprintf("%s not found\n%s", p.cmd, p.hint)
		return check
	}
	check.Path = path

	versionCtx, cancel := context.WithTimeout(ctx, versionTimeout)
	defer cancel()

	out, err := r.Output(versionCtx, p.cmd, p.args...)
	if err != nil {
		check.Error = err
		check.Message = fmt.Sprintf("%s found at %s but failed to execute: %v", p.cmd, path, err)
		return check
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	check.Version = strings.TrimSpace(lines[0])

	if p.accept != nil {
		if err := p.accept(check.Version); err != nil {
			check.Error = err
			check.Message = fmt.Sprintf("%v\n%s", err, p.hint)
			return check
		}
	}

	check.Available = true
	check.Message = fmt.Sprintf("Found at %s", path)
	return check
}

// FormatPrerequisiteReport formats a PrerequisiteResult into a human-readable string.
func FormatPrerequisiteReport(result *PrerequisiteResult) string {
	var sb strings.Builder

	sb.WriteString("Build Prerequisites Check:\n")
	sb.WriteString("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

	for _, check := range result.Checks {
		if check.Available {
			sb.WriteString(fmt.Sprintf("✓ %s\n", check.Name))
			if check.Version != "" {
				sb.WriteString(fmt.Sprintf("  Version: %s\n", check.Version))
			}
			if check.Path != "" {
				sb.WriteString(fmt.Sprintf("  Path: %s\n", check.Path))
			}
		} else {
			sb.WriteString(fmt.Sprintf("✗ %s\n", check.Name))
			if check.Message != "" {
				sb.WriteString(fmt.Sprintf("  %s\n", check.Message))
			}
		}
		sb.WriteString("\n")
	}

	if result.AllAvailable {
		sb.WriteString("All required prerequisites are available.\n")
	} else {
		sb.WriteString("Some prerequisites are missing. Please install them before proceeding.\n")
	}

	return sb.String()
}
