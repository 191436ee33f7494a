package schema

import "errors"

var (
	// ErrInvalidEmail indicates a malformed caller email.
	ErrInvalidEmail = errors.New("invalid email")
	// ErrInvalidWorkspace indicates an invalid workspace name.
	ErrInvalidWorkspace = errors.New("invalid workspace name")
	// ErrInvalidPath indicates an empty or malformed relative path.
	ErrInvalidPath = errors.New("invalid path")
	// ErrPathTraversal indicates a resolved path escapes its workspace root.
	ErrPathTraversal = errors.New("path escapes workspace root")
	// ErrUserNotFound indicates no account exists for the email.
	ErrUserNotFound = errors.New("user not found")
	// ErrSessionNotFound indicates an unknown transfer token.
	ErrSessionNotFound = errors.New("transfer session not found")
	// ErrSessionNotActive indicates the session already reached a terminal state.
	ErrSessionNotActive = errors.New("transfer session is not active")
	// ErrSessionCompleted indicates a completed transfer cannot be revoked.
	ErrSessionCompleted = errors.New("transfer already completed")
	// ErrFileNotFound indicates the link target does not exist or is not a regular file.
	ErrFileNotFound = errors.New("file not found")
	// ErrFileTooLarge indicates an upload exceeded the session byte ceiling.
	ErrFileTooLarge = errors.New("file exceeds size limit")
	// ErrExtensionNotAllowed indicates the upload extension is outside the allow-list.
	ErrExtensionNotAllowed = errors.New("file extension not allowed")
	// ErrConfirmRequired indicates a destructive operation was called without confirmation.
	ErrConfirmRequired = errors.New("confirmation required")
	// ErrWorkspaceProtected indicates the default workspace cannot be deleted.
	ErrWorkspaceProtected = errors.New("default workspace cannot be deleted")
)
