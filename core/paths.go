package core

import (
	"path/filepath"
	"strings"

	"pkt.systems/workbay/schema"
)

// HomeDir returns the home directory for a provisioned account.
func HomeDir(homeRoot string, username schema.Username) string {
	return filepath.Join(homeRoot, string(username))
}

// WorkspacesRoot returns the directory holding a user's workspaces.
func WorkspacesRoot(homeRoot string, username schema.Username) string {
	return filepath.Join(HomeDir(homeRoot, username), "workspaces")
}

// WorkspaceRoot returns the root of a named workspace.
func WorkspaceRoot(homeRoot string, username schema.Username, workspace schema.WorkspaceName) string {
	return filepath.Join(WorkspacesRoot(homeRoot, username), string(workspace))
}

// UploadsDir returns the directory receiving uploaded files for a workspace.
func UploadsDir(homeRoot string, username schema.Username, workspace schema.WorkspaceName) string {
	return filepath.Join(WorkspaceRoot(homeRoot, username, workspace), "uploads")
}

// ResolveSafePath resolves a workspace-relative path and guarantees the
// result is the workspace root or strictly inside it. Every file read and
// both transfer directions resolve paths through this function; no other
// code may join caller-supplied paths onto a workspace root.
func ResolveSafePath(homeRoot string, username schema.Username, workspace schema.WorkspaceName, relativePath string) (string, error) {
	if err := schema.ValidateUsername(username); err != nil {
		return "", err
	}
	name, err := schema.NormalizeWorkspaceName(string(workspace))
	if err != nil {
		return "", err
	}
	rel := strings.TrimSpace(relativePath)
	if strings.ContainsRune(rel, 0) {
		return "", schema.ErrInvalidPath
	}
	if filepath.IsAbs(rel) {
		return "", schema.ErrPathTraversal
	}
	root := WorkspaceRoot(homeRoot, username, name)
	resolved := filepath.Clean(filepath.Join(root, rel))
	if resolved == root {
		return resolved, nil
	}
	if !strings.HasPrefix(resolved, root+string(filepath.Separator)) {
		return "", schema.ErrPathTraversal
	}
	return resolved, nil
}
