package transfer

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"pkt.systems/pslog"
	"pkt.systems/workbay/internal/logx"
	"pkt.systems/workbay/schema"
)

const (
	defaultTTL            = 60 * time.Minute
	minTTL                = 1 * time.Minute
	maxTTL                = 24 * time.Hour
	defaultMaxUploadBytes = 100 << 20

	sweepInterval    = 5 * time.Minute
	terminalLinger   = time.Hour
	fallbackMimeType = "application/octet-stream"
)

// PathResolver maps a workspace-relative path to an absolute path,
// guaranteeing containment inside the workspace.
type PathResolver func(username schema.Username, workspace schema.WorkspaceName, relativePath string) (string, error)

// ChownFunc hands an uploaded file to the owning account.
type ChownFunc func(path string, username schema.Username) error

// Config configures a transfer session store.
type Config struct {
	// Resolve is the single path containment check. Required.
	Resolve PathResolver
	// ChownUpload runs on each stored upload. Optional.
	ChownUpload ChownFunc
	// MaxUploadBytes caps uploads when the session does not set its own
	// limit. Defaults to 100 MiB.
	MaxUploadBytes int64
	// DefaultTTL applies when a request does not set a lifetime.
	// Defaults to one hour.
	DefaultTTL time.Duration
}

// Store keeps token-addressed transfer sessions for one direction.
// Sessions live in memory only; restarting the service revokes all
// outstanding links.
type Store struct {
	direction schema.TransferDirection
	cfg       Config
	logger    pslog.Logger

	mu       sync.Mutex
	sessions map[schema.TransferToken]*entry
}

type entry struct {
	session schema.TransferSession
	endedAt time.Time
}

// NewStore constructs a Store for one direction and starts the sweep.
func NewStore(ctx context.Context, direction schema.TransferDirection, cfg Config) (*Store, error) {
	if direction != schema.TransferDownload && direction != schema.TransferUpload {
		return nil, fmt.Errorf("invalid transfer direction %q", direction)
	}
	if cfg.Resolve == nil {
		return nil, errors.New("path resolver is required")
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaultMaxUploadBytes
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = defaultTTL
	}
	s := &Store{
		direction: direction,
		cfg:       cfg,
		logger:    pslog.Ctx(ctx).With("direction", direction),
		sessions:  make(map[schema.TransferToken]*entry),
	}
	go s.sweep(ctx)
	return s, nil
}

// CreateLink mints a download session for an existing workspace file.
// The path is resolved and validated now and again at serve time.
func (s *Store) CreateLink(ctx context.Context, email schema.Email, username schema.Username, workspace schema.WorkspaceName, filePath string, expiresInMinutes int) (schema.TransferSession, error) {
	if s.direction != schema.TransferDownload {
		return schema.TransferSession{}, errors.New("not a download store")
	}
	resolved, err := s.cfg.Resolve(username, workspace, filePath)
	if err != nil {
		return schema.TransferSession{}, err
	}
	info, err := os.Stat(resolved)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return schema.TransferSession{}, schema.ErrFileNotFound
		}
		return schema.TransferSession{}, err
	}
	if !info.Mode().IsRegular() {
		return schema.TransferSession{}, schema.ErrFileNotFound
	}

	now := time.Now().UTC()
	session := schema.TransferSession{
		Token:       newToken(),
		Direction:   schema.TransferDownload,
		Email:       email,
		Username:    username,
		Workspace:   workspace,
		FilePath:    filePath,
		FileName:    filepath.Base(resolved),
		SizeBytes:   info.Size(),
		ContentType: contentTypeFor(resolved),
		Status:      schema.TransferActive,
		CreatedAt:   now,
		ExpiresAt:   now.Add(clampTTL(expiresInMinutes, s.cfg.DefaultTTL)),
	}
	s.put(session)
	logx.WithToken(logx.WithUser(ctx, email), session.Token).Info("download link created",
		"file", session.FileName, "bytes", session.SizeBytes, "expires", session.ExpiresAt)
	return session, nil
}

// CreateSession mints an upload session. The destination directory is
// resolved when the upload arrives, not now.
func (s *Store) CreateSession(ctx context.Context, email schema.Email, username schema.Username, req schema.CreateUploadSessionRequest) (schema.TransferSession, error) {
	if s.direction != schema.TransferUpload {
		return schema.TransferSession{}, errors.New("not an upload store")
	}
	maxBytes := s.cfg.MaxUploadBytes
	if req.MaxFileSizeMB > 0 {
		requested := int64(req.MaxFileSizeMB) << 20
		if requested < maxBytes {
			maxBytes = requested
		}
	}
	now := time.Now().UTC()
	session := schema.TransferSession{
		Token:             newToken(),
		Direction:         schema.TransferUpload,
		Email:             email,
		Username:          username,
		Workspace:         req.Workspace,
		MaxFileSizeBytes:  maxBytes,
		AllowedExtensions: normalizeExtensions(req.AllowedExtensions),
		Status:            schema.TransferActive,
		CreatedAt:         now,
		ExpiresAt:         now.Add(clampTTL(req.ExpiresInMinutes, s.cfg.DefaultTTL)),
	}
	s.put(session)
	logx.WithToken(logx.WithUser(ctx, email), session.Token).Info("upload session created",
		"max_bytes", maxBytes, "extensions", len(session.AllowedExtensions), "expires", session.ExpiresAt)
	return session, nil
}

// GetSession returns the session for a token, flipping overdue actives
// to expired on the way out.
func (s *Store) GetSession(token schema.TransferToken) (schema.TransferSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.sessions[token]
	if !ok {
		return schema.TransferSession{}, schema.ErrSessionNotFound
	}
	s.expireOverdueLocked(e)
	return e.session, nil
}

// GetActiveSession is GetSession restricted to usable sessions.
func (s *Store) GetActiveSession(token schema.TransferToken) (schema.TransferSession, error) {
	session, err := s.GetSession(token)
	if err != nil {
		return schema.TransferSession{}, err
	}
	if session.Status != schema.TransferActive {
		return schema.TransferSession{}, schema.ErrSessionNotActive
	}
	return session, nil
}

// OpenDownload re-validates the file and opens it for serving. A failure
// leaves the session active so a transient problem does not burn the
// single use.
func (s *Store) OpenDownload(token schema.TransferToken) (schema.TransferSession, *os.File, error) {
	if s.direction != schema.TransferDownload {
		return schema.TransferSession{}, nil, errors.New("not a download store")
	}
	session, err := s.GetActiveSession(token)
	if err != nil {
		return schema.TransferSession{}, nil, err
	}
	resolved, err := s.cfg.Resolve(session.Username, session.Workspace, session.FilePath)
	if err != nil {
		return schema.TransferSession{}, nil, err
	}
	f, err := os.Open(resolved)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return schema.TransferSession{}, nil, schema.ErrFileNotFound
		}
		return schema.TransferSession{}, nil, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return schema.TransferSession{}, nil, err
	}
	if !info.Mode().IsRegular() {
		_ = f.Close()
		return schema.TransferSession{}, nil, schema.ErrFileNotFound
	}
	session.SizeBytes = info.Size()
	return session, f, nil
}

// AcceptUpload stores one file for an active upload session and
// completes it. Size and extension limits are enforced mid-stream; an
// oversized upload leaves no partial file and the session stays active.
func (s *Store) AcceptUpload(ctx context.Context, token schema.TransferToken, fileName string, body io.Reader) (schema.TransferSession, error) {
	if s.direction != schema.TransferUpload {
		return schema.TransferSession{}, errors.New("not an upload store")
	}
	session, err := s.GetActiveSession(token)
	if err != nil {
		return schema.TransferSession{}, err
	}
	log := logx.WithToken(logx.WithUser(ctx, session.Email), token)

	name, err := sanitizeFileName(fileName)
	if err != nil {
		return schema.TransferSession{}, err
	}
	if !extensionAllowed(name, session.AllowedExtensions) {
		return schema.TransferSession{}, schema.ErrExtensionNotAllowed
	}

	uploadsDir, err := s.cfg.Resolve(session.Username, session.Workspace, "uploads")
	if err != nil {
		return schema.TransferSession{}, err
	}
	if err := os.MkdirAll(uploadsDir, 0o700); err != nil {
		return schema.TransferSession{}, err
	}

	target, f, err := createUnique(uploadsDir, name)
	if err != nil {
		return schema.TransferSession{}, err
	}
	written, err := io.Copy(f, io.LimitReader(body, session.MaxFileSizeBytes+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(target)
		return schema.TransferSession{}, err
	}
	if written > session.MaxFileSizeBytes {
		_ = os.Remove(target)
		log.Warn("upload rejected", "reason", "too large", "limit", session.MaxFileSizeBytes)
		return schema.TransferSession{}, schema.ErrFileTooLarge
	}
	if s.cfg.ChownUpload != nil {
		if err := s.cfg.ChownUpload(target, session.Username); err != nil {
			_ = os.Remove(target)
			return schema.TransferSession{}, err
		}
	}

	storedName := filepath.Base(target)
	updated, err := s.complete(token, func(session *schema.TransferSession) {
		session.UploadedFileName = storedName
		session.UploadedSizeBytes = written
	})
	if err != nil {
		// Lost the race with close or expiry; keep nothing.
		_ = os.Remove(target)
		return schema.TransferSession{}, err
	}
	log.Info("upload stored", "file", storedName, "bytes", written)
	return updated, nil
}

// CompleteDownload marks a served download session as used up.
func (s *Store) CompleteDownload(token schema.TransferToken) (schema.TransferSession, error) {
	return s.complete(token, nil)
}

// CloseSessionFor revokes the owner's active session. A token owned by a
// different email is reported as not found rather than forbidden, so
// tokens cannot be probed for ownership.
func (s *Store) CloseSessionFor(email schema.Email, token schema.TransferToken) (schema.TransferSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.sessions[token]
	if !ok || e.session.Email != email {
		return schema.TransferSession{}, schema.ErrSessionNotFound
	}
	s.expireOverdueLocked(e)
	switch e.session.Status {
	case schema.TransferActive:
		e.session.Status = schema.TransferClosed
		e.endedAt = time.Now()
		return e.session, nil
	case schema.TransferCompleted:
		return schema.TransferSession{}, schema.ErrSessionCompleted
	default:
		return schema.TransferSession{}, schema.ErrSessionNotActive
	}
}

// ListSessions returns the email's sessions, newest first.
func (s *Store) ListSessions(email schema.Email, activeOnly bool) []schema.TransferSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []schema.TransferSession
	for _, e := range s.sessions {
		if e.session.Email != email {
			continue
		}
		s.expireOverdueLocked(e)
		if activeOnly && e.session.Status != schema.TransferActive {
			continue
		}
		out = append(out, e.session)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (s *Store) put(session schema.TransferSession) {
	s.mu.Lock()
	s.sessions[session.Token] = &entry{session: session}
	s.mu.Unlock()
}

// complete transitions active to completed under the lock. Completing
// an already-completed session without an update is a no-op; closed and
// expired sessions still fail so a caller racing against revocation can
// discard its work.
func (s *Store) complete(token schema.TransferToken, update func(*schema.TransferSession)) (schema.TransferSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.sessions[token]
	if !ok {
		return schema.TransferSession{}, schema.ErrSessionNotFound
	}
	s.expireOverdueLocked(e)
	if e.session.Status == schema.TransferCompleted && update == nil {
		return e.session, nil
	}
	if e.session.Status != schema.TransferActive {
		return schema.TransferSession{}, schema.ErrSessionNotActive
	}
	if update != nil {
		update(&e.session)
	}
	e.session.Status = schema.TransferCompleted
	e.endedAt = time.Now()
	return e.session, nil
}

func (s *Store) expireOverdueLocked(e *entry) {
	if e.session.Status == schema.TransferActive && time.Now().After(e.session.ExpiresAt) {
		e.session.Status = schema.TransferExpired
		e.endedAt = time.Now()
	}
}

func (s *Store) sweep(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.collect()
		}
	}
}

// collect flips overdue actives and drops terminal sessions that have
// lingered past the retention window.
func (s *Store) collect() {
	now := time.Now()
	var expired, dropped int
	s.mu.Lock()
	for token, e := range s.sessions {
		if e.session.Status == schema.TransferActive && now.After(e.session.ExpiresAt) {
			e.session.Status = schema.TransferExpired
			e.endedAt = now
			expired++
		}
		if e.session.Status.Terminal() && !e.endedAt.IsZero() && now.Sub(e.endedAt) >= terminalLinger {
			delete(s.sessions, token)
			dropped++
		}
	}
	s.mu.Unlock()
	if expired > 0 || dropped > 0 {
		s.logger.Debug("transfer sweep", "expired", expired, "dropped", dropped)
	}
}

func clampTTL(minutes int, fallback time.Duration) time.Duration {
	if minutes <= 0 {
		return fallback
	}
	ttl := time.Duration(minutes) * time.Minute
	if ttl < minTTL {
		return minTTL
	}
	if ttl > maxTTL {
		return maxTTL
	}
	return ttl
}

func newToken() schema.TransferToken {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return ""
	}
	return schema.TransferToken(base64.RawURLEncoding.EncodeToString(buf))
}

func contentTypeFor(path string) string {
	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
		return t
	}
	return fallbackMimeType
}

// maxFileNameLen keeps stored names within common filesystem limits.
const maxFileNameLen = 255

// sanitizeFileName reduces a client-supplied name to a bare file name:
// path elements and control characters are stripped, over-long stems
// are truncated with the extension preserved.
func sanitizeFileName(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	// Browsers may send full paths; keep only the final element under
	// either separator convention.
	if i := strings.LastIndexAny(name, "/\\"); i >= 0 {
		name = name[i+1:]
	}
	name = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, name)
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." {
		return "", schema.ErrInvalidPath
	}
	if len(name) > maxFileNameLen {
		ext := filepath.Ext(name)
		if len(ext) >= maxFileNameLen {
			ext = ""
		}
		stem := strings.TrimSuffix(name, ext)
		limit := maxFileNameLen - len(ext)
		for limit > 0 && !utf8.RuneStart(stem[limit]) {
			limit--
		}
		name = stem[:limit] + ext
	}
	return name, nil
}

func normalizeExtensions(exts []string) []string {
	var out []string
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		ext = strings.TrimPrefix(ext, ".")
		if ext == "" {
			continue
		}
		out = append(out, ext)
	}
	return out
}

// extensionAllowed checks the name against the allow-list; an empty list
// allows everything.
func extensionAllowed(name string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	for _, candidate := range allowed {
		if ext == candidate {
			return true
		}
	}
	return false
}

// createUnique opens a new file, suffixing the name on collision.
func createUnique(dir, name string) (string, *os.File, error) {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 0; i < 1000; i++ {
		candidate := name
		if i > 0 {
			candidate = fmt.Sprintf("%s-%d%s", stem, i, ext)
		}
		target := filepath.Join(dir, candidate)
		f, err := os.OpenFile(target, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			return target, f, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return "", nil, err
		}
	}
	return "", nil, fmt.Errorf("no free name for %q", name)
}
