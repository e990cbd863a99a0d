package pipeline

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// cleanDirs and cleanFiles are the workspace-relative build outputs removed by
// Clean.
var (
	cleanDirs  = []string{"Build", "Conf"}
	cleanFiles = []string{"Report.log"}
)

// CleanTargets returns the build outputs present in workspace, the paths
// Clean would remove.
func CleanTargets(workspace string) []string {
	var paths []string
	for _, name := range append(append([]string{}, cleanDirs...), cleanFiles...) {
		path := filepath.Join(workspace, name)
		if _, err := os.Stat(path); err == nil {
			paths = append(paths, path)
		}
	}
	return paths
}

// Clean removes the build outputs from workspace and returns the paths it
// removed. Paths that do not exist are skipped.
func Clean(workspace string, logger *zap.Logger) ([]string, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var removed []string

	for _, dir := range cleanDirs {
		path := filepath.Join(workspace, dir)
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			continue
		}
		logger.Info("removing directory", zap.String("path", path))
		if err := os.RemoveAll(path); err != nil {
			return removed, fmt.Errorf("failed to remove %s: %w", path, err)
		}
		removed = append(removed, path)
	}

	for _, file := range cleanFiles {
		path := filepath.Join(workspace, file)
		err := os.Remove(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return removed, fmt.Errorf("failed to remove %s: %w", path, err)
		}
		logger.Info("removed file", zap.String("path", path))
		removed = append(removed, path)
	}

	return removed, nil
}
