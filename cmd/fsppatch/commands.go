package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/muurk/fspbuild/internal/fsp"
	"github.com/muurk/fspbuild/internal/logging"
	"github.com/muurk/fspbuild/internal/patch"
	"github.com/muurk/fspbuild/internal/patch/plans"
	"github.com/muurk/fspbuild/internal/symtab"
	"github.com/muurk/fspbuild/internal/ui"
)

// Command flags
var (
	logLevel   string
	baseParams []string
	fdBase     string
	layoutFile string
	linesFile  string
	outputPath string
	dryRun     bool
	planFile   string
	release    bool
	arch       string
	fvDir      string
	showFiles  bool
	scanImage  string
	writeOut   string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides "+logging.LogLevelEnvVar)

	rootCmd.AddCommand(patchCmd)
	rootCmd.AddCommand(evalCmd)
	rootCmd.AddCommand(plansCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(tablesCmd)
}

// target is the FV:FD argument of patch and eval.
type target struct {
	volumes []string
	fdPath  string
}

// parseTarget splits "FSP-T:QEMUFSP" into FV names and the FD path. Several
// FVs may be joined with commas; the FD is looked up in dir and gets an .fd
// extension if it has none.
func parseTarget(dir, arg string) (target, error) {
	fv, fd, ok := strings.Cut(arg, ":")
	if !ok || fv == "" || fd == "" {
		return target{}, fmt.Errorf("invalid target %q (expected FV:FD, e.g. FSP-T:QEMUFSP)", arg)
	}
	var t target
	for _, name := range strings.Split(fv, ",") {
		if name = strings.TrimSpace(name); name != "" {
			t.volumes = append(t.volumes, name)
		}
	}
	if filepath.Ext(fd) == "" {
		fd += ".fd"
	}
	if !filepath.IsAbs(fd) {
		fd = filepath.Join(dir, fd)
	}
	t.fdPath = fd
	return t, nil
}

// parseBaseParams parses NAME=VALUE overrides of the _BASE_<NAME>_ markers.
func parseBaseParams(params []string) (map[string]uint32, error) {
	out := make(map[string]uint32, len(params))
	for _, p := range params {
		name, value, ok := strings.Cut(p, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid base parameter %q (expected NAME=VALUE)", p)
		}
		v, err := strconv.ParseUint(strings.TrimSpace(value), 0, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid base parameter %q: %w", p, err)
		}
		out[strings.TrimSpace(name)] = uint32(v)
	}
	return out, nil
}

func parseAddress(s string) (uint32, error) {
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q: %w", s, err)
	}
	return uint32(v), nil
}

// workspace is everything patch and eval resolve against.
type workspace struct {
	target target
	table  *symtab.Table
	image  *patch.Image
	bases  map[string]uint32
}

// openWorkspace loads the symbol table, bases and image for dir and arg.
func openWorkspace(dir, arg string, logger *zap.Logger) (*workspace, error) {
	t, err := parseTarget(dir, arg)
	if err != nil {
		return nil, err
	}
	overrides, err := parseBaseParams(baseParams)
	if err != nil {
		return nil, err
	}

	fdAddr, err := parseAddress(fdBase)
	if err != nil {
		return nil, err
	}

	var (
		table *symtab.Table
		bases map[string]uint32
		base  uint32
	)
	if layoutFile != "" {
		// A layout file stands in for the FV reports; bases come from the
		// flags alone and the FD base may be 0.
		if table, err = symtab.LoadLayout(layoutFile); err != nil {
			return nil, err
		}
		bases = overrides
		base = fdAddr
	} else {
		loader := symtab.NewLoader(dir, logger)
		loader.FdBase = fdAddr
		if table, err = loader.Load(t.volumes...); err != nil {
			return nil, err
		}
		if bases, err = loader.Bases(); err != nil {
			return nil, err
		}
		for name, v := range overrides {
			bases[name] = v
		}
		if base, err = loader.Base(); err != nil {
			return nil, err
		}
	}

	img, err := patch.LoadImage(t.fdPath, base)
	if err != nil {
		return nil, err
	}
	return &workspace{target: t, table: table, image: img, bases: bases}, nil
}

// readLines returns the patch lines from args, or from --file when set.
func readLines(args []string) ([]string, error) {
	if linesFile == "" {
		return args, nil
	}
	f, err := os.Open(linesFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open plan file: %w", err)
	}
	defer f.Close()

	lines := append([]string{}, args...)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read plan file: %w", err)
	}
	return lines, nil
}

// patchTroubleshooting returns tips for a failed patch or eval.
func patchTroubleshooting(err error) []string {
	var tips []string
	var unresolved *patch.UnresolvedSymbolError
	var bounds *patch.OutOfRangeError
	var malformed *patch.MalformedExpressionError
	switch {
	case errors.As(err, &unresolved):
		tips = append(tips,
			"List the known symbols and GUIDs: fsppatch tables <fvdir> <FV>",
			"Base markers can be set with --base-param NAME=VALUE",
		)
	case errors.As(err, &bounds):
		tips = append(tips,
			"An address was used where an image offset is expected; wrap it in <...>",
			"Check --fd-base against the flash address of the FD's first byte",
		)
	case errors.As(err, &malformed):
		tips = append(tips, "Lines have the form: address, value[, width], @comment")
	default:
		tips = append(tips, "Check that the FV directory holds the build's .inf, .Fv.txt and .Fv.map files")
	}
	return tips
}

// patchCmd implements the 'patch' command
var patchCmd = &cobra.Command{
	Use:   "patch <fvdir> <FV>:<FD> [line...]",
	Short: "Apply patch lines to an FD image",
	Long: `Resolve patch lines against an EDK2 FV output directory and write the
results into the FD.

Lines are applied in order. If any line fails the image is left untouched
on disk. RESTORE as the value, or a comment starting with "Restore",
writes back the bytes that were at the address before the first line
that changed them.`,
	Example: `  # Patch the temporary RAM base and FSP-T size
  fsppatch patch ./FV FSP-T:QEMUFSP \
      "0x0000, _BASE_FSP-T_, @Temporary Base" \
      "<[0x0000]>+0x00B8, 0x100, @FSP-T Size"

  # Read the lines from a file and patch a copy
  fsppatch patch ./FV FSP-M:QEMUFSP --file fspm.patch --output out.fd

  # Override a base marker
  fsppatch patch ./FV FSP-S:QEMUFSP --base-param FSP-S=0xFFE00000 "..."`,
	Args: cobra.MinimumNArgs(2),
	RunE: runPatch,
}

func init() {
	patchCmd.Flags().StringArrayVar(&baseParams, "base-param", nil, "Override a _BASE_<NAME>_ marker: NAME=VALUE (repeatable)")
	patchCmd.Flags().StringVar(&fdBase, "fd-base", "", "Flash address of FD offset 0 (default: lowest FV base)")
	patchCmd.Flags().StringVar(&layoutFile, "layout", "", "Read sections and symbols from a layout YAML instead of the FV reports")
	patchCmd.Flags().StringVarP(&linesFile, "file", "f", "", "Read patch lines from a file, one per line")
	patchCmd.Flags().StringVarP(&outputPath, "output", "o", "", "Write the patched image here (default: in place)")
	patchCmd.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "Apply in memory only")
}

func runPatch(cmd *cobra.Command, args []string) error {
	// Suppress usage on execution errors (we're past argument parsing)
	cmd.SilenceUsage = true

	dir, targetArg := args[0], args[1]
	lines, err := readLines(args[2:])
	if err != nil {
		return err
	}
	if len(lines) == 0 {
		return fmt.Errorf("no patch lines given")
	}

	logger := logging.GetLogger()
	ws, err := openWorkspace(dir, targetArg, logger)
	if err != nil {
		ui.PrintFailure("Cannot load build outputs", err, patchTroubleshooting(err))
		return err
	}

	name := strings.Join(ws.target.volumes, ",")
	plan, err := patch.ParsePlan(name, lines)
	if err != nil {
		ui.PrintFailure("Invalid patch line", err, patchTroubleshooting(err))
		return err
	}

	out := outputPath
	if out == "" {
		out = ws.target.fdPath
	}
	ui.PrintCommandHeader("FSP Patch", "fsppatch patch", map[string]string{
		"FV Dir":     dir,
		"Volumes":    name,
		"Image":      ws.target.fdPath,
		"Operations": strconv.Itoa(plan.Len()),
	})

	n, err := patch.NewEngine(ws.bases, logger).Apply(plan, ws.table, ws.image)
	if err != nil {
		ui.PrintFailure("Patch failed", err, patchTroubleshooting(err))
		return err
	}

	details := map[string]string{
		"Bytes written": strconv.Itoa(n),
		"Image base":    fmt.Sprintf("0x%08X", ws.image.Base),
	}
	if dryRun {
		details["Output"] = "(dry run, not written)"
	} else {
		if err := ws.image.Save(out); err != nil {
			ui.PrintFailure("Cannot write image", err, nil)
			return err
		}
		details["Output"] = out
	}
	ui.PrintSuccess("Patch applied", details)
	return nil
}

// evalCmd implements the 'eval' command
var evalCmd = &cobra.Command{
	Use:   "eval <fvdir> <FV>:<FD> <expr>...",
	Short: "Evaluate patch expressions without writing",
	Long: `Evaluate expressions against the build outputs and print their values.

Nothing is written; dereferences read the FD as it is on disk.`,
	Example: `  # Address of the FSP-M info header
  fsppatch eval ./FV FSP-M:QEMUFSP "_BASE_FSP-M_ + 0x94"

  # Image offset of a module symbol
  fsppatch eval ./FV FSP-T:QEMUFSP "<FspSecCoreT:_TempRamInitApi>"`,
	Args: cobra.MinimumNArgs(3),
	RunE: runEval,
}

func init() {
	evalCmd.Flags().StringArrayVar(&baseParams, "base-param", nil, "Override a _BASE_<NAME>_ marker: NAME=VALUE (repeatable)")
	evalCmd.Flags().StringVar(&fdBase, "fd-base", "", "Flash address of FD offset 0 (default: lowest FV base)")
	evalCmd.Flags().StringVar(&layoutFile, "layout", "", "Read sections and symbols from a layout YAML instead of the FV reports")
}

func runEval(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	ws, err := openWorkspace(args[0], args[1], logging.GetLogger())
	if err != nil {
		return err
	}
	res := &patch.Resolver{Table: ws.table, Image: ws.image, Bases: ws.bases}

	var rows [][]string
	var errs []error
	for _, src := range args[2:] {
		e, err := patch.ParseExpr(src)
		if err != nil {
			errs = append(errs, err)
			rows = append(rows, []string{src, "error", err.Error()})
			continue
		}
		v, err := res.Resolve(e)
		if err != nil {
			errs = append(errs, err)
			rows = append(rows, []string{e.String(), "error", err.Error()})
			continue
		}
		rows = append(rows, []string{e.String(), fmt.Sprintf("0x%08X", v), strconv.FormatUint(uint64(v), 10)})
	}

	ui.NewPrinter(os.Stdout).PrintTable([]string{"Expression", "Value", "Decimal"}, rows)
	return errors.Join(errs...)
}

// plansCmd groups the plan catalog commands
var plansCmd = &cobra.Command{
	Use:   "plans",
	Short: "List and show patch plan sets",
	Long: `List the patch plan sets of the built-in catalog, or of a catalog file
given with --plan-file, and show the rendered lines of a set.`,
	RunE: runPlansList,
}

var plansListCmd = &cobra.Command{
	Use:   "list",
	Short: "List plan sets",
	RunE:  runPlansList,
}

var plansShowCmd = &cobra.Command{
	Use:   "show <set> [component...]",
	Short: "Show the rendered lines of a plan set",
	Example: `  # Every component of the default set, debug ia32
  fsppatch plans show qemu-fsp --arch ia32

  # Only FSP-M, release x64
  fsppatch plans show qemu-fsp M --release --arch x64`,
	Args: cobra.MinimumNArgs(1),
	RunE: runPlansShow,
}

func init() {
	plansCmd.PersistentFlags().StringVar(&planFile, "plan-file", "", "Plan catalog YAML (default: built-in catalog)")
	plansShowCmd.Flags().BoolVar(&release, "release", false, "Render for a RELEASE build")
	plansShowCmd.Flags().StringVar(&arch, "arch", "x64", "Render for this FSP architecture (ia32, x64)")

	plansCmd.AddCommand(plansListCmd)
	plansCmd.AddCommand(plansShowCmd)
}

func runPlansList(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	cat, err := plans.Load(planFile)
	if err != nil {
		return err
	}
	var rows [][]string
	for _, name := range cat.Names() {
		set, _ := cat.Get(name)
		if name == plans.DefaultSet {
			name += " (default)"
		}
		rows = append(rows, []string{name, strings.Join(set.Components(), " "), set.Description})
	}
	ui.NewPrinter(os.Stdout).PrintTable([]string{"Set", "Components", "Description"}, rows)
	return nil
}

func runPlansShow(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	cat, err := plans.Load(planFile)
	if err != nil {
		return err
	}
	set, ok := cat.Get(args[0])
	if !ok {
		return fmt.Errorf("unknown plan set %q (available: %s)", args[0], strings.Join(cat.Names(), ", "))
	}
	components := args[1:]
	if len(components) == 0 {
		components = set.Components()
	}

	target := "DEBUG"
	if release {
		target = "RELEASE"
	}
	params := plans.ParamsFor(target, arch)

	p := ui.NewPrinter(os.Stdout)
	p.PrintHeader("Plan Set "+set.Name, set.Description, map[string]string{
		"Target": target,
		"Arch":   arch,
	})
	for _, comp := range components {
		plan, err := set.Plan(comp, params)
		if err != nil {
			return err
		}
		p.Println(ui.StepCompleteStyle.Render(fmt.Sprintf("%s (%d operations)", plan.Name, plan.Len())))
		for _, op := range plan.Operations {
			p.Println("  " + op.String())
		}
		p.Newline()
	}
	return nil
}

// inspectCmd implements the 'inspect' command
var inspectCmd = &cobra.Command{
	Use:   "inspect <fd>",
	Short: "List the firmware volumes and FSP info headers of an image",
	Long: `Scan an FD for firmware volumes and decode the FSP_INFO_HEADER of every
volume that holds one.

With --fv-dir the volumes are named after the FV reports of the build.`,
	Example: `  fsppatch inspect ./FV/QEMUFSP.fd --fv-dir ./FV
  fsppatch inspect ./FV/QEMUFSP.fd --files`,
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

func init() {
	inspectCmd.Flags().StringVar(&fvDir, "fv-dir", "", "FV output directory used to name the volumes")
	inspectCmd.Flags().BoolVar(&showFiles, "files", false, "List the FFS files of each volume")
	inspectCmd.Flags().StringVar(&fdBase, "fd-base", "", "Flash address of FD offset 0 (default: lowest FV base)")
}

// volumeNames maps FD offsets to FV names using the FV reports in dir.
func volumeNames(dir string, logger *zap.Logger) (map[uint32]string, error) {
	loader := symtab.NewLoader(dir, logger)
	var err error
	if loader.FdBase, err = parseAddress(fdBase); err != nil {
		return nil, err
	}
	base, err := loader.Base()
	if err != nil {
		return nil, err
	}
	bases, err := loader.Bases()
	if err != nil {
		return nil, err
	}
	names := make(map[uint32]string, len(bases))
	for name, b := range bases {
		if b >= base {
			names[b-base] = name
		}
	}
	return names, nil
}

func runInspect(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true
	logger := logging.GetLogger()

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read image: %w", err)
	}
	volumes, err := symtab.ScanVolumes(data)
	if err != nil {
		return err
	}

	names := map[uint32]string{}
	if fvDir != "" {
		if names, err = volumeNames(fvDir, logger); err != nil {
			return err
		}
	}

	p := ui.NewPrinter(os.Stdout)
	p.PrintHeader("Image Inspection", "fsppatch inspect", map[string]string{
		"Image":   args[0],
		"Size":    fmt.Sprintf("0x%X", len(data)),
		"Volumes": strconv.Itoa(len(volumes)),
	})

	var rows [][]string
	var headers []*fsp.Component
	for i, vol := range volumes {
		name, ok := names[vol.Offset]
		if !ok {
			name = fmt.Sprintf("FV%d", i)
		}
		kind := "-"
		if c, err := fsp.ReadComponent(data, name, vol.Offset); err == nil {
			kind = "FSP"
			headers = append(headers, c)
		} else {
			logger.Debug("no FSP info header", zap.String("fv", name), zap.Error(err))
		}
		rows = append(rows, []string{
			name,
			fmt.Sprintf("0x%08X", vol.Offset),
			fmt.Sprintf("0x%08X", vol.Length),
			strconv.Itoa(len(vol.Files)),
			kind,
		})
	}
	p.PrintTable([]string{"Volume", "Offset", "Length", "Files", "Type"}, rows)
	p.Newline()

	if showFiles {
		for i, vol := range volumes {
			name, ok := names[vol.Offset]
			if !ok {
				name = fmt.Sprintf("FV%d", i)
			}
			p.Println(ui.StepCompleteStyle.Render(name))
			var files [][]string
			for _, f := range vol.Files {
				files = append(files, []string{f.GUID, fmt.Sprintf("0x%08X", f.Offset), fmt.Sprintf("0x%X", f.Size)})
			}
			p.PrintTable([]string{"GUID", "Offset", "Size"}, files)
			p.Newline()
		}
	}

	for _, c := range headers {
		p.PrintToolOutput(fmt.Sprintf("%s @ 0x%08X", c.Volume, c.Offset), c.Summary())
		p.Newline()
	}
	return nil
}

// tablesCmd implements the 'tables' command
var tablesCmd = &cobra.Command{
	Use:   "tables [fvdir] [FV...]",
	Short: "Print the sections and symbols patch lines can refer to",
	Long: `Load the symbol table of one or more FVs from an EDK2 FV output directory
and print its sections and module symbols.

With --image the sections are scanned from an FD instead; no build reports
are needed. With --write the table is saved as a layout YAML that patch
and eval accept through --layout.`,
	Example: `  # Everything FSP-T patch lines can use
  fsppatch tables ./FV FSP-T

  # Save a layout for later patching
  fsppatch tables ./FV FSP-T FSP-M --write layout.yaml

  # Sections straight from an image
  fsppatch tables --image ./FV/QEMUFSP.fd`,
	RunE: runTables,
}

func init() {
	tablesCmd.Flags().StringVar(&scanImage, "image", "", "Scan the sections from this FD instead of reading FV reports")
	tablesCmd.Flags().StringVarP(&writeOut, "write", "w", "", "Write the table as a layout YAML")
	tablesCmd.Flags().StringVar(&fdBase, "fd-base", "", "Flash address of FD offset 0 (default: lowest FV base)")
}

func runTables(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true
	logger := logging.GetLogger()

	var table *symtab.Table
	switch {
	case scanImage != "":
		data, err := os.ReadFile(scanImage)
		if err != nil {
			return fmt.Errorf("failed to read image: %w", err)
		}
		volumes, err := symtab.ScanVolumes(data)
		if err != nil {
			return err
		}
		table = symtab.New()
		for _, vol := range volumes {
			if _, err := table.AddVolume(vol); err != nil {
				return err
			}
		}
		table.Freeze()
	case len(args) >= 1:
		loader := symtab.NewLoader(args[0], logger)
		var err error
		if loader.FdBase, err = parseAddress(fdBase); err != nil {
			return err
		}
		volumes := args[1:]
		if len(volumes) == 0 {
			if volumes, err = loader.Volumes(); err != nil {
				return err
			}
		}
		if table, err = loader.Load(volumes...); err != nil {
			return err
		}
	default:
		return fmt.Errorf("give an FV directory or --image")
	}

	if writeOut != "" {
		f, err := os.Create(writeOut)
		if err != nil {
			return fmt.Errorf("failed to create layout file: %w", err)
		}
		if err := table.WriteLayout(f); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		sections, symbols := table.Len()
		ui.PrintSuccess("Layout written", map[string]string{
			"File":     writeOut,
			"Sections": strconv.Itoa(sections),
			"Symbols":  strconv.Itoa(symbols),
		})
		return nil
	}

	p := ui.NewPrinter(os.Stdout)
	var rows [][]string
	for _, s := range table.Sections() {
		rows = append(rows, []string{s.GUID, s.Name, fmt.Sprintf("0x%08X", s.Offset), fmt.Sprintf("0x%X", s.Size)})
	}
	p.PrintTable([]string{"GUID", "Module", "Offset", "Size"}, rows)
	p.Newline()

	rows = rows[:0]
	for _, s := range table.Symbols() {
		rows = append(rows, []string{s.Module + ":" + s.Name, fmt.Sprintf("0x%08X", s.Value)})
	}
	if len(rows) > 0 {
		p.PrintTable([]string{"Symbol", "Value"}, rows)
	}
	return nil
}
