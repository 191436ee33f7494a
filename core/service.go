package core

import (
	"context"
	"errors"
	"fmt"

	"pkt.systems/pslog"
	"pkt.systems/workbay/internal/logx"
	"pkt.systems/workbay/schema"
)

// service implements the core service behavior.
type service struct {
	cfg        schema.ServiceConfig
	identities Identities
	router     Router
	downloads  DownloadStore
	uploads    UploadStore
	logger     pslog.Logger
}

// NewService constructs the core service implementation.
func NewService(cfg schema.ServiceConfig, deps ServiceDeps) (Service, error) {
	normalized, err := schema.NormalizeServiceConfig(cfg)
	if err != nil {
		return nil, err
	}
	if deps.Identities == nil {
		return nil, errors.New("identity store is required")
	}
	if deps.Router == nil {
		return nil, errors.New("worker router is required")
	}
	if deps.Downloads == nil || deps.Uploads == nil {
		return nil, errors.New("transfer stores are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &service{
		cfg:        normalized,
		identities: deps.Identities,
		router:     deps.Router,
		downloads:  deps.Downloads,
		uploads:    deps.Uploads,
		logger:     logger,
	}, nil
}

func (s *service) EnsureUser(ctx context.Context, req schema.EnsureUserRequest) (schema.EnsureUserResponse, error) {
	email, err := schema.NormalizeEmail(string(req.Email))
	if err != nil {
		return schema.EnsureUserResponse{}, err
	}
	mapping, err := s.identities.EnsureUser(ctx, email)
	if err != nil {
		logx.WithUser(ctx, email).Warn("service ensure user failed", "err", err)
		return schema.EnsureUserResponse{}, err
	}
	return schema.EnsureUserResponse{Mapping: mapping}, nil
}

func (s *service) GetAccount(ctx context.Context, req schema.GetAccountRequest) (schema.GetAccountResponse, error) {
	email, err := schema.NormalizeEmail(string(req.Email))
	if err != nil {
		return schema.GetAccountResponse{}, err
	}
	info, err := s.identities.GetUserInfo(ctx, email)
	if err != nil {
		return schema.GetAccountResponse{}, err
	}
	info.WorkerLive = s.router.WorkerLive(info.Mapping.Username)
	return schema.GetAccountResponse{Info: info}, nil
}

func (s *service) ResetAccount(ctx context.Context, req schema.ResetAccountRequest) (schema.ResetAccountResponse, error) {
	email, err := schema.NormalizeEmail(string(req.Email))
	if err != nil {
		return schema.ResetAccountResponse{}, err
	}
	if !req.Confirm {
		return schema.ResetAccountResponse{}, schema.ErrConfirmRequired
	}
	log := logx.WithUser(ctx, email)
	info, err := s.identities.GetUserInfo(ctx, email)
	if err != nil {
		return schema.ResetAccountResponse{}, err
	}
	// The worker may hold open handles into the home directory; stop it
	// before the wipe.
	if err := s.router.StopWorker(ctx, info.Mapping.Username); err != nil {
		log.Warn("service account reset stop worker failed", "err", err)
		return schema.ResetAccountResponse{}, err
	}
	mapping, err := s.identities.ResetUser(ctx, email)
	if err != nil {
		log.Warn("service account reset failed", "err", err)
		return schema.ResetAccountResponse{}, err
	}
	log.Info("service account reset", "username", mapping.Username)
	return schema.ResetAccountResponse{Mapping: mapping}, nil
}

type workspaceNameParams struct {
	Name string `json:"name"`
}

type workspaceCreateParams struct {
	Name     string `json:"name"`
	CloneURL string `json:"clone_url,omitempty"`
}

type terminalExecuteParams struct {
	Workspace string `json:"workspace"`
	Command   string `json:"command"`
}

type terminalIDParams struct {
	Terminal string `json:"terminal"`
}

type terminalWriteParams struct {
	Terminal string `json:"terminal"`
	Input    string `json:"input"`
}

func (s *service) ListWorkspaces(ctx context.Context, req schema.ListWorkspacesRequest) (schema.ListWorkspacesResponse, error) {
	email, mapping, err := s.ensureMapping(ctx, req.Email)
	if err != nil {
		return schema.ListWorkspacesResponse{}, err
	}
	var result struct {
		Workspaces []schema.WorkspaceSummary `json:"workspaces"`
	}
	if err := s.router.SendRequest(ctx, mapping, schema.MethodWorkspaceList, struct{}{}, &result); err != nil {
		logx.WithUser(ctx, email).Warn("service workspace list failed", "err", err)
		return schema.ListWorkspacesResponse{}, err
	}
	return schema.ListWorkspacesResponse{Workspaces: result.Workspaces}, nil
}

func (s *service) CreateWorkspace(ctx context.Context, req schema.CreateWorkspaceRequest) (schema.CreateWorkspaceResponse, error) {
	email, mapping, err := s.ensureMapping(ctx, req.Email)
	if err != nil {
		return schema.CreateWorkspaceResponse{}, err
	}
	name, err := schema.NormalizeWorkspaceName(string(req.Name))
	if err != nil {
		return schema.CreateWorkspaceResponse{}, err
	}
	log := logx.WithWorkspace(logx.WithUser(ctx, email), name)
	var result struct {
		Workspace schema.WorkspaceSummary `json:"workspace"`
	}
	params := workspaceCreateParams{Name: string(name), CloneURL: req.CloneURL}
	if err := s.router.SendRequest(ctx, mapping, schema.MethodWorkspaceCreate, params, &result); err != nil {
		log.Warn("service workspace create failed", "err", err)
		return schema.CreateWorkspaceResponse{}, err
	}
	log.Info("service workspace created", "clone", req.CloneURL != "")
	return schema.CreateWorkspaceResponse{Workspace: result.Workspace}, nil
}

func (s *service) DeleteWorkspace(ctx context.Context, req schema.DeleteWorkspaceRequest) (schema.DeleteWorkspaceResponse, error) {
	email, mapping, err := s.ensureMapping(ctx, req.Email)
	if err != nil {
		return schema.DeleteWorkspaceResponse{}, err
	}
	name, err := schema.NormalizeWorkspaceName(string(req.Name))
	if err != nil {
		return schema.DeleteWorkspaceResponse{}, err
	}
	if name == schema.DefaultWorkspace {
		return schema.DeleteWorkspaceResponse{}, schema.ErrWorkspaceProtected
	}
	if !req.Confirm {
		return schema.DeleteWorkspaceResponse{}, schema.ErrConfirmRequired
	}
	log := logx.WithWorkspace(logx.WithUser(ctx, email), name)
	var result struct {
		Deleted string `json:"deleted"`
	}
	if err := s.router.SendRequest(ctx, mapping, schema.MethodWorkspaceDelete, workspaceNameParams{Name: string(name)}, &result); err != nil {
		log.Warn("service workspace delete failed", "err", err)
		return schema.DeleteWorkspaceResponse{}, err
	}
	log.Info("service workspace deleted")
	return schema.DeleteWorkspaceResponse{Deleted: name}, nil
}

func (s *service) WorkspaceStatus(ctx context.Context, req schema.WorkspaceStatusRequest) (schema.WorkspaceStatusResponse, error) {
	_, mapping, err := s.ensureMapping(ctx, req.Email)
	if err != nil {
		return schema.WorkspaceStatusResponse{}, err
	}
	name, err := schema.NormalizeWorkspaceName(string(req.Name))
	if err != nil {
		return schema.WorkspaceStatusResponse{}, err
	}
	var status schema.WorkspaceStatus
	if err := s.router.SendRequest(ctx, mapping, schema.MethodWorkspaceStatus, workspaceNameParams{Name: string(name)}, &status); err != nil {
		return schema.WorkspaceStatusResponse{}, err
	}
	return schema.WorkspaceStatusResponse{Status: status}, nil
}

func (s *service) ExecuteTerminal(ctx context.Context, req schema.ExecuteTerminalRequest) (schema.ExecuteTerminalResponse, error) {
	email, mapping, err := s.ensureMapping(ctx, req.Email)
	if err != nil {
		return schema.ExecuteTerminalResponse{}, err
	}
	name, err := schema.NormalizeWorkspaceName(string(req.Workspace))
	if err != nil {
		return schema.ExecuteTerminalResponse{}, err
	}
	var terminal schema.TerminalSummary
	params := terminalExecuteParams{Workspace: string(name), Command: req.Command}
	if err := s.router.SendRequest(ctx, mapping, schema.MethodTerminalExecute, params, &terminal); err != nil {
		logx.WithUser(ctx, email).Warn("service terminal execute failed", "err", err)
		return schema.ExecuteTerminalResponse{}, err
	}
	return schema.ExecuteTerminalResponse{Terminal: terminal}, nil
}

func (s *service) ReadTerminal(ctx context.Context, req schema.ReadTerminalRequest) (schema.ReadTerminalResponse, error) {
	_, mapping, err := s.ensureMapping(ctx, req.Email)
	if err != nil {
		return schema.ReadTerminalResponse{}, err
	}
	var result schema.ReadTerminalResponse
	if err := s.router.SendRequest(ctx, mapping, schema.MethodTerminalRead, terminalIDParams{Terminal: string(req.Terminal)}, &result); err != nil {
		return schema.ReadTerminalResponse{}, err
	}
	return result, nil
}

func (s *service) WriteTerminal(ctx context.Context, req schema.WriteTerminalRequest) (schema.WriteTerminalResponse, error) {
	_, mapping, err := s.ensureMapping(ctx, req.Email)
	if err != nil {
		return schema.WriteTerminalResponse{}, err
	}
	var result schema.WriteTerminalResponse
	params := terminalWriteParams{Terminal: string(req.Terminal), Input: req.Input}
	if err := s.router.SendRequest(ctx, mapping, schema.MethodTerminalWrite, params, &result); err != nil {
		return schema.WriteTerminalResponse{}, err
	}
	return result, nil
}

func (s *service) ListTerminals(ctx context.Context, req schema.ListTerminalsRequest) (schema.ListTerminalsResponse, error) {
	_, mapping, err := s.ensureMapping(ctx, req.Email)
	if err != nil {
		return schema.ListTerminalsResponse{}, err
	}
	var result struct {
		Terminals []schema.TerminalSummary `json:"terminals"`
	}
	if err := s.router.SendRequest(ctx, mapping, schema.MethodTerminalList, struct{}{}, &result); err != nil {
		return schema.ListTerminalsResponse{}, err
	}
	return schema.ListTerminalsResponse{Terminals: result.Terminals}, nil
}

func (s *service) KillTerminal(ctx context.Context, req schema.KillTerminalRequest) (schema.KillTerminalResponse, error) {
	email, mapping, err := s.ensureMapping(ctx, req.Email)
	if err != nil {
		return schema.KillTerminalResponse{}, err
	}
	var result struct {
		Killed string `json:"killed"`
	}
	if err := s.router.SendRequest(ctx, mapping, schema.MethodTerminalKill, terminalIDParams{Terminal: string(req.Terminal)}, &result); err != nil {
		return schema.KillTerminalResponse{}, err
	}
	logx.WithUser(ctx, email).Info("service terminal killed", "terminal", req.Terminal)
	return schema.KillTerminalResponse{Killed: schema.TerminalID(result.Killed)}, nil
}

func (s *service) InstalledRuntimes(ctx context.Context, req schema.InstalledRuntimesRequest) (schema.InstalledRuntimesResponse, error) {
	_, mapping, err := s.ensureMapping(ctx, req.Email)
	if err != nil {
		return schema.InstalledRuntimesResponse{}, err
	}
	var result struct {
		Runtimes []schema.RuntimeInfo `json:"runtimes"`
	}
	if err := s.router.SendRequest(ctx, mapping, schema.MethodAccountRuntimes, struct{}{}, &result); err != nil {
		return schema.InstalledRuntimesResponse{}, err
	}
	return schema.InstalledRuntimesResponse{Runtimes: result.Runtimes}, nil
}

func (s *service) CreateDownloadLink(ctx context.Context, req schema.CreateDownloadLinkRequest) (schema.CreateDownloadLinkResponse, error) {
	email, mapping, err := s.ensureMapping(ctx, req.Email)
	if err != nil {
		return schema.CreateDownloadLinkResponse{}, err
	}
	name, err := schema.NormalizeWorkspaceName(string(req.Workspace))
	if err != nil {
		return schema.CreateDownloadLinkResponse{}, err
	}
	log := logx.WithWorkspace(logx.WithUser(ctx, email), name)
	session, err := s.downloads.CreateLink(ctx, email, mapping.Username, name, req.FilePath, req.ExpiresInMinutes)
	if err != nil {
		log.Warn("service download link failed", "err", err)
		return schema.CreateDownloadLinkResponse{}, err
	}
	log.Info("service download link created", "file", session.FileName, "expires", session.ExpiresAt)
	return schema.CreateDownloadLinkResponse{
		Session: session,
		URL:     s.transferURL(schema.TransferDownload, session.Token),
	}, nil
}

func (s *service) CreateUploadSession(ctx context.Context, req schema.CreateUploadSessionRequest) (schema.CreateUploadSessionResponse, error) {
	email, mapping, err := s.ensureMapping(ctx, req.Email)
	if err != nil {
		return schema.CreateUploadSessionResponse{}, err
	}
	name, err := schema.NormalizeWorkspaceName(string(req.Workspace))
	if err != nil {
		return schema.CreateUploadSessionResponse{}, err
	}
	req.Workspace = name
	log := logx.WithWorkspace(logx.WithUser(ctx, email), name)
	session, err := s.uploads.CreateSession(ctx, email, mapping.Username, req)
	if err != nil {
		log.Warn("service upload session failed", "err", err)
		return schema.CreateUploadSessionResponse{}, err
	}
	log.Info("service upload session created", "max_bytes", session.MaxFileSizeBytes, "expires", session.ExpiresAt)
	return schema.CreateUploadSessionResponse{
		Session: session,
		URL:     s.transferURL(schema.TransferUpload, session.Token),
	}, nil
}

func (s *service) ListTransfers(ctx context.Context, req schema.ListTransfersRequest) (schema.ListTransfersResponse, error) {
	email, err := schema.NormalizeEmail(string(req.Email))
	if err != nil {
		return schema.ListTransfersResponse{}, err
	}
	var sessions []schema.TransferSession
	if req.Direction == "" || req.Direction == schema.TransferDownload {
		sessions = append(sessions, s.downloads.ListSessions(email, req.ActiveOnly)...)
	}
	if req.Direction == "" || req.Direction == schema.TransferUpload {
		sessions = append(sessions, s.uploads.ListSessions(email, req.ActiveOnly)...)
	}
	return schema.ListTransfersResponse{Sessions: sessions}, nil
}

func (s *service) CloseTransfer(ctx context.Context, req schema.CloseTransferRequest) (schema.CloseTransferResponse, error) {
	email, err := schema.NormalizeEmail(string(req.Email))
	if err != nil {
		return schema.CloseTransferResponse{}, err
	}
	log := logx.WithToken(logx.WithUser(ctx, email), req.Token)
	session, err := s.downloads.CloseSessionFor(email, req.Token)
	if errors.Is(err, schema.ErrSessionNotFound) {
		session, err = s.uploads.CloseSessionFor(email, req.Token)
	}
	if err != nil {
		log.Warn("service transfer close failed", "err", err)
		return schema.CloseTransferResponse{}, err
	}
	log.Info("service transfer closed", "direction", session.Direction)
	return schema.CloseTransferResponse{Session: session}, nil
}

func (s *service) Shutdown(ctx context.Context) error {
	return s.router.CloseAll(ctx)
}

func (s *service) ensureMapping(ctx context.Context, raw schema.Email) (schema.Email, schema.UserMapping, error) {
	email, err := schema.NormalizeEmail(string(raw))
	if err != nil {
		return "", schema.UserMapping{}, err
	}
	mapping, err := s.identities.EnsureUser(ctx, email)
	if err != nil {
		return email, schema.UserMapping{}, err
	}
	return email, mapping, nil
}

func (s *service) transferURL(direction schema.TransferDirection, token schema.TransferToken) string {
	return fmt.Sprintf("%s%s/%s/%s", s.cfg.BaseURL, s.cfg.BasePath, direction, token)
}
