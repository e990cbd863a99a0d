package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/muurk/fspbuild/internal/config"
	"github.com/muurk/fspbuild/internal/fsp"
	"github.com/muurk/fspbuild/internal/patch"
	"github.com/muurk/fspbuild/internal/patch/plans"
	"github.com/muurk/fspbuild/internal/symtab"
)

// UPD region GUIDs; GenCfgData writes each component's default UPD binary
// under its GUID so the FDF can pick it up.
var updGUIDs = map[string]string{
	"T": "34686CA3-34F9-4901-B82A-BA630F0714C6",
	"M": "39A250DB-E465-4DD1-A2AC-E2BD3C0E2385",
	"S": "CAE3605B-5B34-4C85-B3D7-27D54273C40F",
}

// baseTools must exist in BaseTools/Source/C/bin or BaseTools is rebuilt.
var baseTools = []string{"GenFfs", "GenFv", "GenFw", "GenSec", "LzmaCompress"}

// confFiles are created in Conf/ from BaseTools/Conf/<name>.template.
var confFiles = []string{"target", "tools_def", "build_rule"}

// CopyItem is one artifact published after a successful build.
type CopyItem struct {
	// Src is relative to the FV output directory
	Src string
	// Dst is relative to the output directory
	Dst string
}

// QemuFsp builds, patches and publishes the QEMU FSP package. It implements
// every collaborator the Coordinator needs.
type QemuFsp struct {
	cfg    *config.BuildConfig
	runner *Runner
	logger *zap.Logger

	// GOOS selects the host tool chain family
	GOOS string
	// SkipPrerequisites disables the tool probes in Prepare
	SkipPrerequisites bool

	toolchain string
	loader    *symtab.Loader
	bases     map[string]uint32
}

// NewQemuFsp creates the QEMU FSP stage set. The runner's directory must be
// the EDK2 workspace.
func NewQemuFsp(cfg *config.BuildConfig, runner *Runner, logger *zap.Logger) *QemuFsp {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QemuFsp{
		cfg:       cfg,
		runner:    runner,
		logger:    logger,
		GOOS:      runtime.GOOS,
		toolchain: cfg.Toolchain,
	}
}

// Collaborators returns q in every collaborator role. The verifier is left
// out when header verification is disabled.
func (q *QemuFsp) Collaborators() Collaborators {
	c := Collaborators{
		Environment: q,
		Builder:     q,
		Artifacts:   q,
		Publisher:   q,
	}
	if q.cfg.Patch.Verify {
		c.Verifier = q
	}
	return c
}

// Toolchain returns the EDK2 tool chain tag, once resolved.
func (q *QemuFsp) Toolchain() string {
	return q.toolchain
}

func (q *QemuFsp) workspace(elem ...string) string {
	return filepath.Join(append([]string{q.cfg.Workspace}, elem...)...)
}

// FvDir returns the absolute FV output directory.
func (q *QemuFsp) FvDir() string {
	return q.workspace(q.cfg.FvDir(q.toolchain))
}

// FdPath returns the path of the built FD.
func (q *QemuFsp) FdPath() string {
	return filepath.Join(q.FvDir(), q.cfg.FD.Name+".fd")
}

// OutputDir returns the absolute publish directory.
func (q *QemuFsp) OutputDir() string {
	if filepath.IsAbs(q.cfg.OutputDir) {
		return q.cfg.OutputDir
	}
	return q.workspace(q.cfg.OutputDir)
}

// planSet loads the configured plan set.
func (q *QemuFsp) planSet() (*plans.Set, error) {
	path := q.cfg.Patch.PlanFile
	if path != "" && !filepath.IsAbs(path) {
		path = q.workspace(path)
	}
	cat, err := plans.Load(path)
	if err != nil {
		return nil, err
	}
	name := q.cfg.Patch.Set
	if name == "" {
		name = plans.DefaultSet
	}
	set, ok := cat.Get(name)
	if !ok {
		return nil, fmt.Errorf("unknown plan set %q (available: %s)", name, strings.Join(cat.Names(), ", "))
	}
	return set, nil
}

// Components returns the components to patch and verify: the configured
// list, or every component of the plan set when none is configured.
func (q *QemuFsp) Components() ([]string, error) {
	if len(q.cfg.Patch.Components) > 0 {
		return q.cfg.Patch.Components, nil
	}
	set, err := q.planSet()
	if err != nil {
		return nil, err
	}
	return set.Components(), nil
}

// Plans renders the configured plan set for the patched components.
func (q *QemuFsp) Plans() ([]*patch.Plan, error) {
	set, err := q.planSet()
	if err != nil {
		return nil, err
	}
	components, err := q.Components()
	if err != nil {
		return nil, err
	}

	params := plans.ParamsFor(q.cfg.Target(), q.cfg.Arch)
	out := make([]*patch.Plan, 0, len(components))
	for _, comp := range components {
		plan, err := set.Plan(comp, params)
		if err != nil {
			return nil, err
		}
		out = append(out, plan)
	}
	return out, nil
}

// Prepare checks the host tools, resolves the tool chain, exports the EDK2
// environment, creates Conf/ and rebuilds BaseTools when needed.
func (q *QemuFsp) Prepare(ctx context.Context) error {
	r := q.runner
	tools := q.cfg.Tools
	if tools.NasmPrefix != "" {
		r.Setenv("NASM_PREFIX", tools.NasmPrefix)
	} else {
		tools.NasmPrefix = r.Getenv("NASM_PREFIX")
	}
	if tools.OpenSSLPath != "" {
		r.Setenv("OPENSSL_PATH", tools.OpenSSLPath)
	} else {
		tools.OpenSSLPath = r.Getenv("OPENSSL_PATH")
	}

	if !q.SkipPrerequisites {
		if err := CheckPrerequisites(ctx, r, tools, q.GOOS).Err(); err != nil {
			return err
		}
	}

	tc, err := q.ResolveToolchain(ctx)
	if err != nil {
		return err
	}

	toolsDir := q.workspace("BaseTools")
	r.Setenv("WORKSPACE", q.cfg.Workspace)
	r.Setenv("EDK_TOOLS_PATH", toolsDir)
	r.Setenv("BASE_TOOLS_PATH", toolsDir)
	r.Setenv("CONF_PATH", q.workspace("Conf"))
	r.Setenv("TOOL_CHAIN", tc)
	r.Setenv("PYTHON_COMMAND", q.python())
	r.PrependPath(filepath.Join(toolsDir, "BinWrappers", "PosixLike"))

	q.logger.Info("build environment ready",
		zap.String("workspace", q.cfg.Workspace),
		zap.String("toolchain", tc),
		zap.Strings("env", r.Env()),
	)

	if err := q.createConf(); err != nil {
		return err
	}
	return q.rebuildBaseTools(ctx)
}

func (q *QemuFsp) python() string {
	if q.cfg.Tools.Python != "" {
		return q.cfg.Tools.Python
	}
	return "python3"
}

// ResolveToolchain picks XCODE5 on macOS, GCC5 for gcc newer than 4 and
// GCC49 otherwise, unless the configuration names a tool chain.
func (q *QemuFsp) ResolveToolchain(ctx context.Context) (string, error) {
	if q.toolchain != "" {
		return q.toolchain, nil
	}
	if q.GOOS == "darwin" {
		q.toolchain = "XCODE5"
		return q.toolchain, nil
	}
	out, err := q.runner.Output(ctx, "gcc", "-dumpversion")
	if err != nil {
		return "", err
	}
	tc, err := toolchainForGCC(strings.TrimSpace(out))
	if err != nil {
		return "", err
	}
	q.toolchain = tc
	return tc, nil
}

func toolchainForGCC(version string) (string, error) {
	major, err := strconv.Atoi(strings.SplitN(version, ".", 2)[0])
	if err != nil {
		return "", fmt.Errorf("cannot parse gcc version %q", version)
	}
	if major > 4 {
		return "GCC5", nil
	}
	return "GCC49", nil
}

func (q *QemuFsp) createConf() error {
	dir := q.workspace("Conf")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create Conf directory: %w", err)
	}
	for _, name := range confFiles {
		dst := filepath.Join(dir, name+".txt")
		if _, err := os.Stat(dst); err == nil {
			continue
		}
		src := q.workspace("BaseTools", "Conf", name+".template")
		if err := copyFile(src, dst); err != nil {
			return err
		}
		q.logger.Debug("created conf file", zap.String("file", dst))
	}
	return nil
}

func (q *QemuFsp) rebuildBaseTools(ctx context.Context) error {
	bin := q.workspace("BaseTools", "Source", "C", "bin")
	for _, tool := range baseTools {
		if _, err := os.Stat(filepath.Join(bin, tool)); err != nil {
			q.logger.Info("BaseTools binaries missing, rebuilding", zap.String("missing", tool))
			mk := q.cfg.Tools.Make
			if mk == "" {
				mk = "make"
			}
			return q.runner.Run(ctx, mk, "-C", "BaseTools")
		}
	}
	return nil
}

// PreBuild generates the UPD YAML, binaries and headers with GenCfgData and
// rebuilds the FSP-R reset vector.
func (q *QemuFsp) PreBuild(ctx context.Context) error {
	fvDir := q.cfg.FvDir(q.toolchain)
	if err := os.MkdirAll(q.workspace(fvDir), 0755); err != nil {
		return fmt.Errorf("failed to create FV directory: %w", err)
	}

	pkg := q.cfg.Package()
	fspBase := strings.TrimSuffix(pkg, "Pkg")
	updYaml := filepath.Join(pkg, fspBase+"Upd.yaml")
	genCfg := q.workspace("IntelFsp2Pkg", "Tools", "GenCfgData.py")
	py := q.python()

	if err := q.runner.Run(ctx, py, genCfg, "GENYML", updYaml, filepath.Join(fvDir, fspBase+".yaml")); err != nil {
		return fmt.Errorf("failed to generate combined YAML file: %w", err)
	}

	for _, comp := range []string{"T", "M", "S"} {
		out := filepath.Join(fvDir, updGUIDs[comp]+".bin")
		if err := q.runner.Run(ctx, py, genCfg, "GENBIN", updYaml+"@FSP"+comp+"_UPD", out); err != nil {
			return fmt.Errorf("failed to generate UPD binary file: %w", err)
		}
	}

	for _, comp := range []string{"T", "M", "S", ""} {
		scope := "FSP" + comp + "_UPD"
		if comp == "" {
			scope = "FSP_SIG"
		}
		header := "Fsp" + strings.ToLower(comp) + "Upd.h"
		if err := q.runner.Run(ctx, py, genCfg, "GENHDR", updYaml+"@"+scope, filepath.Join(fvDir, header)); err != nil {
			return fmt.Errorf("failed to generate UPD header file: %w", err)
		}
		if err := copyFile(q.workspace(fvDir, header), q.workspace(pkg, "Include", header)); err != nil {
			return err
		}
	}

	vtf := filepath.Join(pkg, "FsprInit", "Ia32", "Vtf0")
	if err := q.runner.RunIn(ctx, vtf, py, "Build.py", "ia32"); err != nil {
		return fmt.Errorf("failed to build reset vector: %w", err)
	}
	return nil
}

// BuildArgs returns the arguments passed to the EDK2 build command.
func (q *QemuFsp) BuildArgs() []string {
	pkg := q.cfg.Package()
	args := []string{
		"--platform", pkg + "/" + pkg + ".dsc",
		"-b", q.cfg.Target(),
		"--tagname", q.toolchain,
		"-n", strconv.Itoa(q.cfg.JobCount()),
		"-D", "FSP_ARCH=" + strings.ToUpper(q.cfg.Arch),
		"-a", "IA32",
	}
	if strings.EqualFold(q.cfg.Arch, "x64") {
		args = append(args, "-a", "X64")
	}
	for _, d := range q.cfg.Defines {
		args = append(args, "-D", d)
	}
	return args
}

// Build runs the EDK2 build.
func (q *QemuFsp) Build(ctx context.Context) error {
	return q.runner.Run(ctx, "build", q.BuildArgs()...)
}

func (q *QemuFsp) tables() *symtab.Loader {
	if q.loader == nil {
		q.loader = symtab.NewLoader(q.FvDir(), q.logger)
		q.loader.FdBase = q.cfg.FD.Base
	}
	return q.loader
}

// Image loads the built FD, mapped at the FD base.
func (q *QemuFsp) Image(ctx context.Context) (*patch.Image, error) {
	base, err := q.tables().Base()
	if err != nil {
		return nil, err
	}
	return patch.LoadImage(q.FdPath(), base)
}

// Bases returns each FV's EFI_BASE_ADDRESS with configured overrides applied.
func (q *QemuFsp) Bases(ctx context.Context) (map[string]uint32, error) {
	if q.bases != nil {
		return q.bases, nil
	}
	bases, err := q.tables().Bases()
	if err != nil {
		return nil, err
	}
	for name, v := range q.cfg.FD.Bases {
		bases[name] = v
	}
	q.bases = bases
	return bases, nil
}

// Tables loads the tables of one FV.
func (q *QemuFsp) Tables(ctx context.Context, component string) (*symtab.Table, error) {
	return q.tables().Load(component)
}

// Save writes the patched FD back in place.
func (q *QemuFsp) Save(ctx context.Context, img *patch.Image) error {
	return img.Save(q.FdPath())
}

// CopyList returns the artifacts published after a build.
func (q *QemuFsp) CopyList() []CopyItem {
	return []CopyItem{
		{Src: q.cfg.FD.Name + ".fd", Dst: "QEMU_FSP_" + q.cfg.Target() + ".fd"},
		{Src: strings.TrimSuffix(q.cfg.Package(), "Pkg") + ".yaml", Dst: "QEMU_FSP.yaml"},
		{Src: "FspUpd.h", Dst: "FspUpd.h"},
		{Src: "FsptUpd.h", Dst: "FsptUpd.h"},
		{Src: "FspmUpd.h", Dst: "FspmUpd.h"},
		{Src: "FspsUpd.h", Dst: "FspsUpd.h"},
	}
}

// Verify checks that every artifact to publish exists and that the info
// header of each patched component carries its base and size.
func (q *QemuFsp) Verify(ctx context.Context, img *patch.Image) error {
	var errs []error
	for _, item := range q.CopyList() {
		if _, err := os.Stat(filepath.Join(q.FvDir(), item.Src)); err != nil {
			errs = append(errs, fmt.Errorf("required output %s is missing", item.Src))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	if img == nil {
		var err error
		if img, err = q.Image(ctx); err != nil {
			return err
		}
	}
	bases, err := q.Bases(ctx)
	if err != nil {
		return err
	}
	fdBase, err := q.tables().Base()
	if err != nil {
		return err
	}

	components, err := q.Components()
	if err != nil {
		return err
	}
	var expects []fsp.Expect
	for _, comp := range components {
		vol := config.Volume(comp)
		base, ok := bases[vol]
		if !ok {
			return fmt.Errorf("no base address for %s", vol)
		}
		expects = append(expects, fsp.Expect{Volume: vol, Offset: base - fdBase, Base: base})
	}
	comps, err := fsp.CheckAll(img.Data, expects)
	for _, c := range comps {
		q.logger.Debug("verified FSP info header",
			zap.String("fv", c.Volume),
			zap.Uint32("image_base", c.Header.ImageBase),
			zap.Uint32("image_size", c.Header.ImageSize),
		)
	}
	return err
}

// Publish copies the finished artifacts to the output directory.
func (q *QemuFsp) Publish(ctx context.Context) error {
	out := q.OutputDir()
	for _, item := range q.CopyList() {
		src := filepath.Join(q.FvDir(), item.Src)
		dst := filepath.Join(out, item.Dst)
		if err := copyFile(src, dst); err != nil {
			return err
		}
		q.logger.Info("published artifact", zap.String("src", src), zap.String("dst", dst))
	}
	return nil
}

// copyFile copies src to dst, creating dst's directory.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", dst, err)
	}
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	return out.Close()
}
