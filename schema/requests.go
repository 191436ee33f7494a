package schema

// EnsureUserRequest provisions (or returns) the account for an email.
type EnsureUserRequest struct {
	Email Email
}

// EnsureUserResponse returns the account mapping.
type EnsureUserResponse struct {
	Mapping UserMapping
}

// GetAccountRequest fetches account introspection data.
type GetAccountRequest struct {
	Email Email
}

// GetAccountResponse returns mapping plus disk usage.
type GetAccountResponse struct {
	Info UserInfo
}

// ResetAccountRequest wipes and re-provisions the account home.
// Confirm must be true; the operation fails closed otherwise.
type ResetAccountRequest struct {
	Email   Email
	Confirm bool
}

// ResetAccountResponse returns the fresh mapping.
type ResetAccountResponse struct {
	Mapping UserMapping
}

// ListWorkspacesRequest lists a user's workspaces.
type ListWorkspacesRequest struct {
	Email Email
}

// ListWorkspacesResponse returns workspace summaries from the worker.
type ListWorkspacesResponse struct {
	Workspaces []WorkspaceSummary
}

// CreateWorkspaceRequest creates a workspace, empty or cloned from a URL.
type CreateWorkspaceRequest struct {
	Email    Email
	Name     WorkspaceName
	CloneURL string
}

// CreateWorkspaceResponse returns the created workspace.
type CreateWorkspaceResponse struct {
	Workspace WorkspaceSummary
}

// DeleteWorkspaceRequest deletes a workspace. Confirm must be true.
type DeleteWorkspaceRequest struct {
	Email   Email
	Name    WorkspaceName
	Confirm bool
}

// DeleteWorkspaceResponse acknowledges the deletion.
type DeleteWorkspaceResponse struct {
	Deleted WorkspaceName
}

// WorkspaceStatusRequest fetches VCS status for a workspace.
type WorkspaceStatusRequest struct {
	Email Email
	Name  WorkspaceName
}

// WorkspaceStatusResponse returns the worker-reported status.
type WorkspaceStatusResponse struct {
	Status WorkspaceStatus
}

// ExecuteTerminalRequest starts a command in a workspace terminal.
type ExecuteTerminalRequest struct {
	Email     Email
	Workspace WorkspaceName
	Command   string
}

// ExecuteTerminalResponse returns the terminal handle.
type ExecuteTerminalResponse struct {
	Terminal TerminalSummary
}

// ReadTerminalRequest reads buffered output from a terminal.
type ReadTerminalRequest struct {
	Email    Email
	Terminal TerminalID
}

// ReadTerminalResponse returns output accumulated since the last read.
type ReadTerminalResponse struct {
	Output  string
	Running bool
}

// WriteTerminalRequest writes input to a running terminal.
type WriteTerminalRequest struct {
	Email    Email
	Terminal TerminalID
	Input    string
}

// WriteTerminalResponse acknowledges the write.
type WriteTerminalResponse struct {
	Written int
}

// ListTerminalsRequest lists the user's live terminals.
type ListTerminalsRequest struct {
	Email Email
}

// ListTerminalsResponse returns terminal summaries.
type ListTerminalsResponse struct {
	Terminals []TerminalSummary
}

// KillTerminalRequest terminates a terminal.
type KillTerminalRequest struct {
	Email    Email
	Terminal TerminalID
}

// KillTerminalResponse acknowledges the kill.
type KillTerminalResponse struct {
	Killed TerminalID
}

// InstalledRuntimesRequest asks the worker for available language runtimes.
type InstalledRuntimesRequest struct {
	Email Email
}

// InstalledRuntimesResponse lists runtimes reported by the worker.
type InstalledRuntimesResponse struct {
	Runtimes []RuntimeInfo
}

// CreateDownloadLinkRequest mints a download session for a workspace file.
type CreateDownloadLinkRequest struct {
	Email            Email
	Workspace        WorkspaceName
	FilePath         string
	ExpiresInMinutes int
}

// CreateDownloadLinkResponse returns the session and its public URL.
type CreateDownloadLinkResponse struct {
	Session TransferSession
	URL     string
}

// CreateUploadSessionRequest mints an upload session for a workspace.
type CreateUploadSessionRequest struct {
	Email             Email
	Workspace         WorkspaceName
	ExpiresInMinutes  int
	MaxFileSizeMB     int
	AllowedExtensions []string
}

// CreateUploadSessionResponse returns the session and its public URL.
type CreateUploadSessionResponse struct {
	Session TransferSession
	URL     string
}

// ListTransfersRequest lists transfer sessions owned by the email.
type ListTransfersRequest struct {
	Email      Email
	Direction  TransferDirection
	ActiveOnly bool
}

// ListTransfersResponse returns the matching sessions.
type ListTransfersResponse struct {
	Sessions []TransferSession
}

// CloseTransferRequest revokes an active transfer session.
type CloseTransferRequest struct {
	Email Email
	Token TransferToken
}

// CloseTransferResponse returns the closed session.
type CloseTransferResponse struct {
	Session TransferSession
}

// WorkspaceSummary describes a workspace as reported by the worker.
type WorkspaceSummary struct {
	Name      WorkspaceName `json:"name"`
	Path      string        `json:"path"`
	CreatedAt string        `json:"created_at,omitempty"`
}

// WorkspaceStatus is the worker-reported VCS status of a workspace.
type WorkspaceStatus struct {
	Name      WorkspaceName `json:"name"`
	Path      string        `json:"path"`
	Branch    string        `json:"branch,omitempty"`
	Dirty     bool          `json:"dirty"`
	FileCount int           `json:"file_count,omitempty"`
	SizeBytes int64         `json:"size_bytes,omitempty"`
}

// TerminalSummary describes a terminal inside a worker.
type TerminalSummary struct {
	ID        TerminalID    `json:"id"`
	Workspace WorkspaceName `json:"workspace,omitempty"`
	Command   string        `json:"command,omitempty"`
	Running   bool          `json:"running"`
	StartedAt string        `json:"started_at,omitempty"`
}

// RuntimeInfo describes an installed language runtime.
type RuntimeInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}
