// Package config loads the build configuration and per-user preferences.
//
// The build configuration lives in fspbuild.yaml in the EDK2 workspace and
// describes what to build: platform, architecture, target, FD layout and the
// patch plan set. A missing file means a debug x64 QEMU FSP build.
//
//	version: 1
//	platform: qemu
//	arch: x64
//	release: false
//	output_dir: BuildFsp
//	fd:
//	  name: QEMUFSP
//	patch:
//	  set: qemu-fsp
//	  components: [T, M, S, R]
//	  verify: true
//
// Per-user preferences (tool locations, job count) are stored in
// platform-appropriate locations:
//   - Linux: $XDG_CONFIG_HOME/fspbuild/config.yaml or $HOME/.config/fspbuild/config.yaml
//   - macOS: $HOME/.config/fspbuild/config.yaml
//   - Windows: %LOCALAPPDATA%\fspbuild\config.yaml
//
// Both files are written atomically through a temporary file and rename.
package config
