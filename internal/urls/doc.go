// Package urls provides constants for the documentation links the CLIs
// print in troubleshooting output.
//
// Usage:
//
//	import "github.com/muurk/fspbuild/internal/urls"
//
//	fmt.Printf("For more information, see: %s\n", urls.NativeGCCSetup)
package urls
