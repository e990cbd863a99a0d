package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

// BuildConfigFile is the build configuration file looked up in the workspace.
const BuildConfigFile = "fspbuild.yaml"

// BuildConfig describes one FSP package build.
type BuildConfig struct {
	Version int `yaml:"version"`

	Platform  string   `yaml:"platform"`            // FSP platform name, e.g. "qemu"
	Arch      string   `yaml:"arch"`                // "ia32" or "x64"
	Release   bool     `yaml:"release"`             // RELEASE instead of DEBUG
	Toolchain string   `yaml:"toolchain,omitempty"` // EDK2 tool chain tag; empty means detect
	Workspace string   `yaml:"workspace,omitempty"` // EDK2 WORKSPACE; empty means the config file's directory
	OutputDir string   `yaml:"output_dir"`          // where finished artifacts are copied
	Jobs      int      `yaml:"jobs,omitempty"`      // build -n value; 0 means the CPU count
	Defines   []string `yaml:"defines,omitempty"`   // extra -D macros for build

	FD    FDConfig    `yaml:"fd"`
	Patch PatchConfig `yaml:"patch"`
	Tools ToolPaths   `yaml:"tools,omitempty"`
}

// FDConfig describes the flash device image the build produces.
type FDConfig struct {
	Name string `yaml:"name"`           // FD base name, e.g. "QEMUFSP"
	Base uint32 `yaml:"base,omitempty"` // flash address of offset 0; 0 means derive from the FV inf files
	// Bases overrides component load addresses, keyed by FV name
	Bases map[string]uint32 `yaml:"bases,omitempty"`
}

// PatchConfig selects the post-build patch plans.
type PatchConfig struct {
	Set        string   `yaml:"set"`                 // plan set name
	PlanFile   string   `yaml:"plan_file,omitempty"` // custom plan catalog; empty means the built-in catalog
	Components []string `yaml:"components"`          // components to patch, in order
	Verify     bool     `yaml:"verify"`              // check FSP info headers after patching
}

// ToolPaths locates the external programs the build runs.
type ToolPaths struct {
	Python      string `yaml:"python,omitempty"`
	Make        string `yaml:"make,omitempty"`
	NasmPrefix  string `yaml:"nasm_prefix,omitempty"`
	OpenSSLPath string `yaml:"openssl_path,omitempty"`
}

// DefaultBuildConfig returns the configuration for a debug x64 QEMU FSP build.
func DefaultBuildConfig() *BuildConfig {
	return &BuildConfig{
		Version:   1,
		Platform:  "qemu",
		Arch:      "x64",
		OutputDir: "BuildFsp",
		FD: FDConfig{
			Name: "QEMUFSP",
		},
		Patch: PatchConfig{
			Set:        "qemu-fsp",
			Components: []string{"T", "M", "S", "R"},
			Verify:     true,
		},
		Tools: ToolPaths{
			Python: "python3",
			Make:   "make",
		},
	}
}

// LoadBuildConfig reads a build configuration. A missing file yields the
// defaults with the workspace set to the file's directory.
func LoadBuildConfig(path string) (*BuildConfig, error) {
	cfg := DefaultBuildConfig()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		cfg.Workspace = filepath.Dir(path)
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read build config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse build config: %w", err)
	}
	if cfg.Version != 1 {
		return nil, fmt.Errorf("unsupported build config version: %d (expected 1)", cfg.Version)
	}
	if cfg.Workspace == "" {
		cfg.Workspace = filepath.Dir(path)
	} else if !filepath.IsAbs(cfg.Workspace) {
		cfg.Workspace = filepath.Join(filepath.Dir(path), cfg.Workspace)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the build cannot use.
func (c *BuildConfig) Validate() error {
	if c.Platform == "" {
		return fmt.Errorf("platform must be set")
	}
	switch strings.ToLower(c.Arch) {
	case "ia32", "x64":
	default:
		return fmt.Errorf("unsupported arch %q (expected ia32 or x64)", c.Arch)
	}
	if c.OutputDir == "" {
		return fmt.Errorf("output_dir must be set")
	}
	if c.FD.Name == "" {
		return fmt.Errorf("fd.name must be set")
	}
	if c.Jobs < 0 {
		return fmt.Errorf("jobs must not be negative")
	}
	for _, comp := range c.Patch.Components {
		switch strings.ToUpper(comp) {
		case "T", "M", "S", "R":
		default:
			return fmt.Errorf("unknown FSP component %q", comp)
		}
	}
	return nil
}

// Target returns the EDK2 build target.
func (c *BuildConfig) Target() string {
	if c.Release {
		return "RELEASE"
	}
	return "DEBUG"
}

// Package returns the FSP package name, e.g. "QemuFspPkg" for platform "qemu".
func (c *BuildConfig) Package() string {
	if c.Platform == "" {
		return ""
	}
	return strings.ToUpper(c.Platform[:1]) + c.Platform[1:] + "FspPkg"
}

// FvDir returns the FV output directory for a tool chain tag, relative to
// the workspace.
func (c *BuildConfig) FvDir(toolchain string) string {
	pkg := c.Package()
	return filepath.Join("Build", pkg, c.Target()+"_"+toolchain, "FV")
}

// JobCount returns the build job count.
func (c *BuildConfig) JobCount() int {
	if c.Jobs > 0 {
		return c.Jobs
	}
	return runtime.NumCPU()
}

// Volume returns the FV name of an FSP component letter.
func Volume(component string) string {
	return "FSP-" + strings.ToUpper(component)
}

// ApplyPreferences fills tool paths left empty with the user's preferences.
func (c *BuildConfig) ApplyPreferences(p *Preferences) {
	if p == nil {
		return
	}
	fill := func(dst *string, src string) {
		if *dst == "" {
			*dst = src
		}
	}
	fill(&c.Tools.Python, p.Tools.Python)
	fill(&c.Tools.Make, p.Tools.Make)
	fill(&c.Tools.NasmPrefix, p.Tools.NasmPrefix)
	fill(&c.Tools.OpenSSLPath, p.Tools.OpenSSLPath)
	if c.Jobs == 0 {
		c.Jobs = p.Jobs
	}
}

// Save writes the configuration to path atomically.
func (c *BuildConfig) Save(path string) error {
	out := *c
	// The workspace defaults to the file's own directory; don't pin it.
	if filepath.Clean(out.Workspace) == filepath.Clean(filepath.Dir(path)) {
		out.Workspace = ""
	}
	data, err := yaml.Marshal(&out)
	if err != nil {
		return fmt.Errorf("failed to marshal build config: %w", err)
	}

	header := []byte(`# fspbuild build configuration
#
# Run "fspbuild build" in this directory to build, patch and publish the
# FSP binaries described here.

`)
	return writeAtomic(path, append(header, data...), 0644)
}

// writeAtomic writes data to a temporary file next to path and renames it
// into place.
func writeAtomic(path string, data []byte, perm os.FileMode) error {
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, perm); err != nil {
		return fmt.Errorf("failed to write temporary config file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to save config file: %w", err)
	}
	return nil
}
