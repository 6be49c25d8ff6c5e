package executor

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/NSvoltage/bcce/internal/core"
)

// resolveWorkspacePath confines a workflow-supplied path to the
// workspace. Absolute paths and traversal outside the root are refused
// before any filesystem access happens.
func resolveWorkspacePath(workDir, rel string) (string, error) {
	cleaned := filepath.Clean(rel)
	if filepath.IsAbs(cleaned) || cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", core.ErrPolicy(core.CodePathDenied, "path escapes workspace: "+rel)
	}
	return filepath.Join(workDir, cleaned), nil
}

// readWorkspaceFile reads a file addressed relative to the workspace.
func readWorkspaceFile(workDir, rel string) (string, error) {
	path, err := resolveWorkspacePath(workDir, rel)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
