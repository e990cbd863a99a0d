package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/muurk/fspbuild/internal/config"
	"github.com/muurk/fspbuild/internal/logging"
	"github.com/muurk/fspbuild/internal/patch"
	"github.com/muurk/fspbuild/internal/patch/plans"
	"github.com/muurk/fspbuild/internal/pipeline"
	"github.com/muurk/fspbuild/internal/ui"
	"github.com/muurk/fspbuild/internal/urls"
	"github.com/muurk/fspbuild/internal/wizard/tui"
)

// Command flags
var (
	configPath  string
	logLevel    string
	verbose     bool
	release     bool
	arch        string
	toolchain   string
	jobs        int
	defines     []string
	planSet     string
	noVerify    bool
	skipChecks  bool
	assumeYes   bool
	force       bool
	interactive bool
)

func init() {
	// Common flags for all commands (persistent on root)
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.BuildConfigFile, "Build configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides "+logging.LogLevelEnvVar)
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Show build tool output")

	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(cleanCmd)
	rootCmd.AddCommand(verifySetupCmd)
	rootCmd.AddCommand(initCmd)
}

func initLogging() error {
	level := logLevel
	if level == "" && os.Getenv(logging.LogLevelEnvVar) == "" {
		if prefs, err := config.LoadPreferences(); err == nil {
			level = prefs.LogLevel
		}
	}
	return logging.Initialize(level)
}

// addBuildFlags registers the flags that override fspbuild.yaml.
func addBuildFlags(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&release, "release", false, "Build RELEASE instead of DEBUG")
	cmd.Flags().StringVar(&arch, "arch", "", "FSP architecture (ia32, x64)")
	cmd.Flags().StringVar(&toolchain, "toolchain", "", "EDK2 tool chain tag (default: detect)")
}

// loadConfig reads the build configuration, fills unset tool paths from the
// user preferences and applies command line overrides.
func loadConfig(cmd *cobra.Command) (*config.BuildConfig, error) {
	path, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("invalid config path: %w", err)
	}
	cfg, err := config.LoadBuildConfig(path)
	if err != nil {
		return nil, err
	}

	prefs, err := config.LoadPreferences()
	if err != nil {
		logging.Warn("ignoring user preferences", zap.Error(err))
	} else {
		cfg.ApplyPreferences(prefs)
	}

	flags := cmd.Flags()
	if flags.Changed("release") {
		cfg.Release = release
	}
	if flags.Changed("arch") {
		cfg.Arch = strings.ToLower(arch)
	}
	if flags.Changed("toolchain") {
		cfg.Toolchain = toolchain
	}
	if flags.Changed("jobs") {
		cfg.Jobs = jobs
	}
	if flags.Changed("define") {
		cfg.Defines = append(cfg.Defines, defines...)
	}
	if flags.Changed("set") {
		cfg.Patch.Set = planSet
	}
	if flags.Changed("no-verify") {
		cfg.Patch.Verify = !noVerify
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid build config %s: %w", path, err)
	}
	logging.Debug("loaded build config",
		zap.String("path", path),
		zap.String("workspace", cfg.Workspace),
		zap.String("target", cfg.Target()),
		zap.String("arch", cfg.Arch))
	return cfg, nil
}

// buildCmd implements the 'build' command
var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build, patch and publish the FSP binary",
	Long: `Run the full FSP build pipeline in the workspace.

This command will:
  1. Prepare the EDK2 environment (tool chain, Conf, BaseTools)
  2. Generate the UPD configuration data and the reset vector
  3. Run the EDK2 build
  4. Patch the FD with the configured plan set
  5. Verify the FSP info headers and copy the artifacts to the output directory

The pipeline stops at the first stage that fails; nothing is published
after a failure.`,
	Example: `  # Debug x64 build with the settings in fspbuild.yaml
  fspbuild build

  # Release build with a fixed tool chain
  fspbuild build --release --toolchain GCC5

  # Extra build macros
  fspbuild build -D CC_MEASURE_ENABLE=TRUE -D SMM_REQUIRE=FALSE

  # Use the basic plan set and skip header verification
  fspbuild build --set qemu-fsp-basic --no-verify`,
	RunE: runBuild,
}

func init() {
	addBuildFlags(buildCmd)
	buildCmd.Flags().IntVarP(&jobs, "jobs", "j", 0, "Build jobs (default: CPU count)")
	buildCmd.Flags().StringArrayVarP(&defines, "define", "D", nil, "Extra build macro NAME=VALUE (repeatable)")
	buildCmd.Flags().StringVar(&planSet, "set", "", "Patch plan set")
	buildCmd.Flags().BoolVar(&noVerify, "no-verify", false, "Skip FSP info header verification")
	buildCmd.Flags().BoolVar(&skipChecks, "skip-checks", false, "Skip the prerequisite checks")
}

func runBuild(cmd *cobra.Command, args []string) error {
	// Suppress usage on execution errors (we're past argument parsing)
	cmd.SilenceUsage = true

	cfg, err := loadConfig(cmd)
	if err != nil {
		ui.PrintFailure("Invalid configuration", err, []string{
			"Write a default configuration: fspbuild init",
			"Check the file passed with --config",
		})
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	logger := logging.GetLogger()
	runner := pipeline.NewRunner(cfg.Workspace, logger)
	stages := pipeline.NewQemuFsp(cfg, runner, logger)
	stages.SkipPrerequisites = skipChecks

	plans, err := stages.Plans()
	if err != nil {
		ui.PrintFailure("Cannot load patch plans", err, []string{
			"Check patch.set and patch.plan_file in " + configPath,
			"List the built-in sets: fsppatch plans",
		})
		return err
	}

	coord := pipeline.NewCoordinator(stages.Collaborators(), plans, logger)

	var stepNames []string
	for _, s := range pipeline.Stages() {
		stepNames = append(stepNames, s.Description())
	}

	tc := cfg.Toolchain
	if tc == "" {
		tc = "auto"
	}
	r := ui.NewRunner(ui.RunnerConfig{
		Title:   "FSP Build",
		Command: "fspbuild " + strings.Join(os.Args[1:], " "),
		Params: map[string]string{
			"Workspace": cfg.Workspace,
			"Package":   cfg.Package(),
			"Target":    cfg.Target(),
			"Arch":      cfg.Arch,
			"Toolchain": tc,
			"Plan Set":  cfg.Patch.Set,
		},
		StepNames: stepNames,
		Verbose:   verbose,
	})

	_, err = r.Run(ctx, func(ctx context.Context, onStep ui.StepCallback) (map[string]string, error) {
		coord.Observe(func(ev pipeline.StageEvent) {
			switch ev.Status {
			case pipeline.StageStarted:
				onStep(ev.Index, "", ui.StepRunning, "")
			case pipeline.StageFinished:
				onStep(ev.Index, "", ui.StepComplete, ev.Detail)
			case pipeline.StageFailed:
				onStep(ev.Index, "", ui.StepFailed, "")
			}
		})

		runErr := coord.Run(ctx)
		r.SetToolOutput(runner.Transcript())
		if runErr != nil {
			if stage, ok := coord.FailedStage(); ok {
				r.SetTroubleshooting(troubleshooting(stage, runErr))
			}
			return nil, runErr
		}

		details := map[string]string{
			"Toolchain": stages.Toolchain(),
			"FD":        stages.FdPath(),
			"Output":    stages.OutputDir(),
		}
		for name, n := range coord.Patched() {
			details["Patched "+name] = fmt.Sprintf("%d bytes", n)
		}
		return details, nil
	})
	return err
}

// troubleshooting returns the tips shown when stage fails with err.
func troubleshooting(stage pipeline.Stage, err error) []string {
	var tips []string

	var toolErr *pipeline.ToolError
	if errors.As(err, &toolErr) {
		tips = append(tips, fmt.Sprintf("%s exited with code %d", toolErr.Tool, toolErr.ExitCode))
	}
	if errors.Is(err, context.Canceled) {
		return append(tips, "The build was interrupted; run 'fspbuild build' again to restart it")
	}

	switch stage {
	case pipeline.StageEnvironment:
		var prereq *pipeline.PrerequisiteError
		if errors.As(err, &prereq) {
			tips = append(tips, "Missing prerequisite: "+prereq.Prerequisite)
		}
		tips = append(tips,
			"Check prerequisites: fspbuild verify-setup",
			"Set tools.nasm_prefix and tools.openssl_path in "+configPath,
			"Remove a stale Conf directory: fspbuild clean",
			"Host setup: "+urls.NativeGCCSetup,
		)
	case pipeline.StagePreBuild:
		tips = append(tips,
			"GenCfgData.py failed; check the package's UPD .yaml and .dsc files",
			"BaseTools setup: "+urls.GettingStarted,
			"Run with --verbose to see the tool output",
		)
	case pipeline.StageBuild:
		tips = append(tips,
			"Run with --verbose to see the build log",
			"Rebuild with --jobs 1 for an unmixed error log",
			"Start from scratch: fspbuild clean",
			"Build command reference: "+urls.BuildSpecification,
		)
	case pipeline.StagePatch:
		var patchErr *patch.PatchError
		if errors.As(err, &patchErr) {
			tips = append(tips, fmt.Sprintf("Plan %s failed at operation %d; the FD was not written", patchErr.Plan, patchErr.Index+1))
		}
		var unresolved *patch.UnresolvedSymbolError
		if errors.As(err, &unresolved) {
			tips = append(tips, "Check that the module's link map exists under Build/ and Guid.xref names it")
		}
		tips = append(tips,
			"Show the plan lines: fsppatch plans show "+planSetName(),
			"Inspect the FV tables: fsppatch tables <fvdir> <FV>",
		)
	case pipeline.StagePublish:
		tips = append(tips,
			"A header mismatch means a patch landed at the wrong offset",
			"Inspect the image: fsppatch inspect <fd>",
			"Skip header checks with --no-verify",
			"FSP_INFO_HEADER layout: "+urls.FspOverview,
		)
	}
	return tips
}

func planSetName() string {
	if planSet != "" {
		return planSet
	}
	return "<set>"
}

// cleanCmd implements the 'clean' command
var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove build outputs from the workspace",
	Long: `Remove the Build and Conf directories and Report.log from the workspace.

The next build regenerates the EDK2 configuration from its templates and
rebuilds every module.`,
	Example: `  # Ask before removing
  fspbuild clean

  # Non-interactive
  fspbuild clean --yes`,
	RunE: runClean,
}

func init() {
	cleanCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "Do not ask for confirmation")
}

func runClean(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	targets := pipeline.CleanTargets(cfg.Workspace)
	if len(targets) == 0 {
		ui.PrintWarning("Nothing to clean", map[string]string{"Workspace": cfg.Workspace})
		return nil
	}
	if !assumeYes && !ui.ConfirmClean(os.Stdin, os.Stdout, cfg.Workspace, targets) {
		return nil
	}

	removed, err := pipeline.Clean(cfg.Workspace, logging.GetLogger())
	if err != nil {
		ui.PrintFailure("Clean failed", err, []string{
			"Check that no build is still running in the workspace",
			"Check permissions on the Build directory",
		})
		return err
	}

	rel := make([]string, 0, len(removed))
	for _, p := range removed {
		if r, err := filepath.Rel(cfg.Workspace, p); err == nil {
			p = r
		}
		rel = append(rel, p)
	}
	ui.PrintSuccess("Workspace cleaned", map[string]string{
		"Workspace": cfg.Workspace,
		"Removed":   strings.Join(rel, ", "),
	})
	return nil
}

// verifySetupCmd implements the 'verify-setup' command
var verifySetupCmd = &cobra.Command{
	Use:   "verify-setup",
	Short: "Verify build prerequisites",
	Long: `Verify that every external tool the build runs is installed.

This command checks:
  1. Python 3.6 or newer
  2. OpenSSL and NASM, honouring tools.openssl_path and tools.nasm_prefix
  3. git and make
  4. GCC (clang on macOS)

Run this command first to troubleshoot environment failures.`,
	Example: `  # Verify with the settings in fspbuild.yaml
  fspbuild verify-setup`,
	RunE: runVerifySetup,
}

func runVerifySetup(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ui.PrintCommandHeader("Setup Verification", "fspbuild verify-setup", map[string]string{
		"Workspace": cfg.Workspace,
		"Python":    cfg.Tools.Python,
		"Host":      runtime.GOOS + "/" + runtime.GOARCH,
	})

	runner := pipeline.NewRunner(cfg.Workspace, logging.GetLogger())
	result := pipeline.CheckPrerequisites(cmd.Context(), runner, cfg.Tools, runtime.GOOS)
	fmt.Print(pipeline.FormatPrerequisiteReport(result))

	if err := result.Err(); err != nil {
		ui.PrintFailure("Setup incomplete", err, []string{
			"Install the missing tools and re-run fspbuild verify-setup",
			"Point tools.* in " + configPath + " at non-standard install locations",
		})
		return err
	}
	ui.PrintSuccess("Setup verified", map[string]string{
		"Tools": fmt.Sprintf("all %d found", len(result.Checks)),
	})
	return nil
}

// initCmd implements the 'init' command
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default build configuration",
	Long: `Write fspbuild.yaml with the defaults for the QEMU FSP package.

The file is written next to --config and names the workspace implicitly:
the directory holding fspbuild.yaml is the EDK2 WORKSPACE.`,
	Example: `  # Default debug x64 configuration
  fspbuild init

  # Release ia32 configuration, replacing an existing file
  fspbuild init --release --arch ia32 --force

  # Choose the settings interactively
  fspbuild init -i`,
	RunE: runInit,
}

func init() {
	addBuildFlags(initCmd)
	initCmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing configuration")
	initCmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "Choose the settings in a terminal wizard")
}

func runInit(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	path, err := filepath.Abs(configPath)
	if err != nil {
		return fmt.Errorf("invalid config path: %w", err)
	}
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}

	cfg := config.DefaultBuildConfig()
	cfg.Workspace = filepath.Dir(path)
	cfg.Release = release
	if arch != "" {
		cfg.Arch = strings.ToLower(arch)
	}
	cfg.Toolchain = toolchain

	if interactive {
		if !ui.IsTerminal() {
			return fmt.Errorf("--interactive needs a terminal")
		}
		cat, err := plans.Builtin()
		if err != nil {
			return err
		}
		cfg, err = tui.Run(cfg, cat, os.Stdin, os.Stdout)
		if errors.Is(err, tui.ErrCancelled) {
			fmt.Println("Nothing written.")
			return nil
		}
		if err != nil {
			return err
		}
	}

	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.Save(path); err != nil {
		return err
	}

	ui.PrintSuccess("Configuration written", map[string]string{
		"File":     path,
		"Target":   cfg.Target(),
		"Arch":     cfg.Arch,
		"Plan Set": cfg.Patch.Set,
	})
	return nil
}
