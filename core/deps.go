package core

import (
	"context"

	"pkt.systems/pslog"
	"pkt.systems/workbay/schema"
)

// Identities provisions and inspects per-email OS accounts.
type Identities interface {
	EnsureUser(ctx context.Context, email schema.Email) (schema.UserMapping, error)
	GetUserInfo(ctx context.Context, email schema.Email) (schema.UserInfo, error)
	ResetUser(ctx context.Context, email schema.Email) (schema.UserMapping, error)
}

// Router delivers requests to the per-account worker process.
type Router interface {
	SendRequest(ctx context.Context, mapping schema.UserMapping, method string, params any, result any) error
	StopWorker(ctx context.Context, username schema.Username) error
	WorkerLive(username schema.Username) bool
	CloseAll(ctx context.Context) error
}

// DownloadStore brokers token-addressed download sessions.
type DownloadStore interface {
	CreateLink(ctx context.Context, email schema.Email, username schema.Username, workspace schema.WorkspaceName, filePath string, expiresInMinutes int) (schema.TransferSession, error)
	CloseSessionFor(email schema.Email, token schema.TransferToken) (schema.TransferSession, error)
	ListSessions(email schema.Email, activeOnly bool) []schema.TransferSession
}

// UploadStore brokers token-addressed upload sessions.
type UploadStore interface {
	CreateSession(ctx context.Context, email schema.Email, username schema.Username, req schema.CreateUploadSessionRequest) (schema.TransferSession, error)
	CloseSessionFor(email schema.Email, token schema.TransferToken) (schema.TransferSession, error)
	ListSessions(email schema.Email, activeOnly bool) []schema.TransferSession
}

// ServiceDeps bundles the collaborators for NewService.
type ServiceDeps struct {
	Identities Identities
	Router     Router
	Downloads  DownloadStore
	Uploads    UploadStore
	Logger     pslog.Logger
}
