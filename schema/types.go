package schema

import "time"

// Email identifies an external caller. The gateway authenticates it; the
// core trusts the value as-is.
type Email string

// Username is the derived OS account name for an email.
type Username string

// WorkspaceName identifies a named workspace under a user's home.
type WorkspaceName string

// TransferToken addresses a single transfer session.
type TransferToken string

// TerminalID identifies a terminal inside a worker.
type TerminalID string

// DefaultWorkspace is created at provisioning time and cannot be deleted.
const DefaultWorkspace WorkspaceName = "default"

// TransferDirection distinguishes upload and download sessions.
type TransferDirection string

const (
	// TransferDownload serves a workspace file to the link holder.
	TransferDownload TransferDirection = "download"
	// TransferUpload accepts a single file into a workspace.
	TransferUpload TransferDirection = "upload"
)

// TransferStatus is the lifecycle state of a transfer session. Transitions
// are monotonic: active moves to exactly one terminal state.
type TransferStatus string

const (
	// TransferActive means the session can still be used.
	TransferActive TransferStatus = "active"
	// TransferCompleted means the file was transferred successfully.
	TransferCompleted TransferStatus = "completed"
	// TransferExpired means the TTL elapsed before use.
	TransferExpired TransferStatus = "expired"
	// TransferClosed means the owner revoked the session.
	TransferClosed TransferStatus = "closed"
)

// Terminal reports whether the status is a terminal state.
func (s TransferStatus) Terminal() bool {
	return s == TransferCompleted || s == TransferExpired || s == TransferClosed
}

// UserMapping binds an email to its provisioned OS account.
type UserMapping struct {
	Email     Email     `json:"email"`
	Username  Username  `json:"username"`
	UID       int       `json:"uid"`
	GID       int       `json:"gid"`
	HomeDir   string    `json:"home_dir"`
	CreatedAt time.Time `json:"created_at"`
}

// UserInfo is the account introspection payload.
type UserInfo struct {
	Mapping        UserMapping `json:"mapping"`
	DiskUsageBytes int64       `json:"disk_usage_bytes"`
	DiskFreeBytes  uint64      `json:"disk_free_bytes"`
	WorkerLive     bool        `json:"worker_live"`
}

// TransferSession is the shared session record for both directions.
type TransferSession struct {
	Token     TransferToken     `json:"token"`
	Direction TransferDirection `json:"direction"`
	Email     Email             `json:"email"`
	Username  Username          `json:"username"`
	Workspace WorkspaceName     `json:"workspace"`

	// Download fields, resolved at link creation.
	FilePath    string `json:"file_path,omitempty"`
	FileName    string `json:"file_name,omitempty"`
	SizeBytes   int64  `json:"size_bytes,omitempty"`
	ContentType string `json:"content_type,omitempty"`

	// Upload constraints; the destination is resolved at upload time.
	MaxFileSizeBytes  int64    `json:"max_file_size_bytes,omitempty"`
	AllowedExtensions []string `json:"allowed_extensions,omitempty"`
	UploadedFileName  string   `json:"uploaded_file_name,omitempty"`
	UploadedSizeBytes int64    `json:"uploaded_size_bytes,omitempty"`

	Status    TransferStatus `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
	ExpiresAt time.Time      `json:"expires_at"`
}
