// Package logging provides structured logging for the fspbuild tools.
//
// This package wraps a zap logger with convenience functions for the logging
// patterns used by the build pipeline and the patch engine.
//
// # Log Levels
//
//   - Debug: individual patch writes, replaced bytes, table loading details
//   - Info: stage transitions, external tool invocations
//   - Warn: non-fatal issues (missing optional tools, skipped verification)
//   - Error: stage failures
//
// # Silent By Default
//
// Both CLIs render their own styled output, so zap output is disabled unless
// FSPBUILD_LOG_LEVEL (or the --log-level flag) selects a level:
//
//	FSPBUILD_LOG_LEVEL=debug fspbuild build -p qemu
//
// Logs go to stderr so they never interleave with artifacts written to stdout.
//
// # Domain Helpers
//
//	logging.LogStage("Build", "start")
//	logging.LogToolInvocation(workspace, "build", args)
//	logger.Debug("patch write", logging.Hex("offset", off))
package logging
