// Fspbuild builds, patches and publishes an FSP binary from an EDK2
// workspace.
//
// The build runs in five stages:
//
//   - Environment: tool chain detection, EDK2 environment and BaseTools
//   - PreBuild: UPD configuration data and the reset vector
//   - Build: the EDK2 build command
//   - Patch: post-build fixups of the FD image
//   - Publish: FSP header verification and artifact copy
//
// Prerequisites:
//
//   - Python 3, GCC (or clang on macOS), make, NASM, OpenSSL and git
//   - An EDK2 tree with the FSP package checked out as the workspace
//
// Settings are read from fspbuild.yaml in the workspace; run 'fspbuild init'
// to write one. See 'fspbuild --help' for available commands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/muurk/fspbuild/internal/logging"
	"github.com/muurk/fspbuild/internal/version"
)

func main() {
	err := rootCmd.Execute()
	logging.Sync()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "fspbuild",
	Short: "FSP Build Pipeline",
	Long: `Build an FSP binary from an EDK2 workspace.

fspbuild prepares the EDK2 environment, generates the UPD configuration
data, runs the EDK2 build, patches the resulting FD with the addresses
only known after layout, verifies the FSP info headers and copies the
finished artifacts to the output directory.

Use 'fspbuild verify-setup' to check prerequisites.`,
	Version: version.Version,
	Example: `  # Write a default fspbuild.yaml into the current workspace
  fspbuild init

  # Debug build for x64
  fspbuild build

  # Release build for ia32, with tool output
  fspbuild build --release --arch ia32 --verbose

  # Remove Build, Conf and Report.log
  fspbuild clean`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initLogging()
	},
}

func init() {
	// Disable automatic completion command generation
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("fspbuild %s (commit: %s)\n", version.Version, version.Commit)
	},
}
