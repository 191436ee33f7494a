package core

import (
	"context"

	"pkt.systems/workbay/schema"
)

// Service is the tool surface consumed by the outer gateway.
type Service interface {
	EnsureUser(ctx context.Context, req schema.EnsureUserRequest) (schema.EnsureUserResponse, error)
	GetAccount(ctx context.Context, req schema.GetAccountRequest) (schema.GetAccountResponse, error)
	ResetAccount(ctx context.Context, req schema.ResetAccountRequest) (schema.ResetAccountResponse, error)

	ListWorkspaces(ctx context.Context, req schema.ListWorkspacesRequest) (schema.ListWorkspacesResponse, error)
	CreateWorkspace(ctx context.Context, req schema.CreateWorkspaceRequest) (schema.CreateWorkspaceResponse, error)
	DeleteWorkspace(ctx context.Context, req schema.DeleteWorkspaceRequest) (schema.DeleteWorkspaceResponse, error)
	WorkspaceStatus(ctx context.Context, req schema.WorkspaceStatusRequest) (schema.WorkspaceStatusResponse, error)

	ExecuteTerminal(ctx context.Context, req schema.ExecuteTerminalRequest) (schema.ExecuteTerminalResponse, error)
	ReadTerminal(ctx context.Context, req schema.ReadTerminalRequest) (schema.ReadTerminalResponse, error)
	WriteTerminal(ctx context.Context, req schema.WriteTerminalRequest) (schema.WriteTerminalResponse, error)
	ListTerminals(ctx context.Context, req schema.ListTerminalsRequest) (schema.ListTerminalsResponse, error)
	KillTerminal(ctx context.Context, req schema.KillTerminalRequest) (schema.KillTerminalResponse, error)
	InstalledRuntimes(ctx context.Context, req schema.InstalledRuntimesRequest) (schema.InstalledRuntimesResponse, error)

	CreateDownloadLink(ctx context.Context, req schema.CreateDownloadLinkRequest) (schema.CreateDownloadLinkResponse, error)
	CreateUploadSession(ctx context.Context, req schema.CreateUploadSessionRequest) (schema.CreateUploadSessionResponse, error)
	ListTransfers(ctx context.Context, req schema.ListTransfersRequest) (schema.ListTransfersResponse, error)
	CloseTransfer(ctx context.Context, req schema.CloseTransferRequest) (schema.CloseTransferResponse, error)

	Shutdown(ctx context.Context) error
}
