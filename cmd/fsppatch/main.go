// Fsppatch applies post-build patches to an FSP flash device image.
//
// It resolves patch expressions against the reports an EDK2 build leaves in
// its FV output directory (<FV>.inf, <FV>.Fv.txt, <FV>.Fv.map, Guid.xref and
// the module link maps) and writes the results into the FD:
//
//	fsppatch patch Build/QemuFspPkg/DEBUG_GCC5/FV FSP-T:QEMUFSP \
//	    "0x0000,            _BASE_FSP-T_,   @Temporary Base" \
//	    "<[0x0000]>+0x00B8, 0x100,          @FSP-T Size"
//
// It can also evaluate single expressions, list the built-in plan sets and
// decode the FSP info headers of an image. See 'fsppatch --help'.
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
	Use:   "fsppatch",
	Short: "FSP Image Patcher",
	Long: `Patch an FSP flash device image with values only known after layout.

Each patch line has the form

  address-expression, value-expression[, width], @comment

Expressions combine numbers, _BASE_<FV>_ markers, module:symbol
references and FFS file GUIDs with + - * & | >> <<, evaluated strictly
left to right. [x] reads the 32-bit value at image offset x, <x> converts
a flash address to an image offset and {x} converts an offset back to an
address.`,
	Version: version.Version,
	Example: `  # Patch the FSP-T volume of QEMUFSP.fd
  fsppatch patch ./FV FSP-T:QEMUFSP "0x0000, _BASE_FSP-T_, @Temporary Base"

  # Evaluate an expression without writing
  fsppatch eval ./FV FSP-M:QEMUFSP "<[0x0000]>+0x00B8"

  # Show the built-in plans for a release x64 build
  fsppatch plans show qemu-fsp --release --arch x64

  # Decode the FSP info headers of an image
  fsppatch inspect ./FV/QEMUFSP.fd`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return logging.Initialize(logLevel)
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
		fmt.Printf("fsppatch %s (commit: %s)\n", version.Version, version.Commit)
	},
}
