package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"pkt.systems/pslog"
	"pkt.systems/workbay/internal/logx"
	"pkt.systems/workbay/schema"
)

const shutdownTimeout = 10 * time.Second

// multipart headers and field framing ride on top of the file payload.
const uploadBodySlack = 1 << 20

// DownloadBroker serves token-addressed download sessions.
type DownloadBroker interface {
	GetSession(token schema.TransferToken) (schema.TransferSession, error)
	OpenDownload(token schema.TransferToken) (schema.TransferSession, *os.File, error)
	CompleteDownload(token schema.TransferToken) (schema.TransferSession, error)
}

// UploadBroker accepts files for token-addressed upload sessions.
type UploadBroker interface {
	GetSession(token schema.TransferToken) (schema.TransferSession, error)
	GetActiveSession(token schema.TransferToken) (schema.TransferSession, error)
	AcceptUpload(ctx context.Context, token schema.TransferToken, fileName string, body io.Reader) (schema.TransferSession, error)
}

// Server serves the public transfer endpoints. Possession of a token is
// the only credential; there is no account login on this surface.
type Server struct {
	cfg       Config
	downloads DownloadBroker
	uploads   UploadBroker
	basePath  string
}

// NewServer constructs the transfer HTTP server.
func NewServer(cfg Config, downloads DownloadBroker, uploads UploadBroker) *Server {
	return &Server{
		cfg:       cfg,
		downloads: downloads,
		uploads:   uploads,
		basePath:  normalizeBasePath(cfg.BasePath),
	}
}

// Handler returns an http.Handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/download/", s.handleDownload)
	mux.HandleFunc("/upload/", s.handleUpload)

	handler := withRequestLogging(mux)
	if s.basePath == "" {
		return handler
	}
	prefix := s.basePath
	root := http.NewServeMux()
	root.Handle(prefix+"/", http.StripPrefix(prefix, handler))
	return root
}

// handleDownload serves GET /download/{token} and /download/{token}/info.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	token, tail, ok := splitTransferPath(r.URL.Path, "/download/")
	if !ok {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	switch tail {
	case "info", "status":
		session, err := s.downloads.GetSession(token)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeSessionStatus(w, session)
	case "":
		s.serveDownload(w, r, token)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) serveDownload(w http.ResponseWriter, r *http.Request, token schema.TransferToken) {
	log := logx.WithToken(pslog.Ctx(r.Context()), token)
	session, f, err := s.downloads.OpenDownload(token)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer func() { _ = f.Close() }()

	w.Header().Set("Content-Type", session.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(session.SizeBytes, 10))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", session.FileName))
	w.Header().Set("Cache-Control", "no-store")
	written, err := io.Copy(w, f)
	if err != nil {
		// The client went away mid-stream; the session stays active so
		// the link holder can retry.
		log.Warn("download interrupted", "written", written, "err", err)
		return
	}
	if _, err := s.downloads.CompleteDownload(token); err != nil {
		log.Warn("download completion failed", "err", err)
		return
	}
	log.Info("download served", "file", session.FileName, "bytes", written)
}

// handleUpload serves the form page on GET /upload/{token}, the status
// JSON on /upload/{token}/status, and the file on POST.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	token, tail, ok := splitTransferPath(r.URL.Path, "/upload/")
	if !ok || (tail != "" && tail != "status") {
		http.NotFound(w, r)
		return
	}
	if tail == "status" {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		session, err := s.uploads.GetSession(token)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeSessionStatus(w, session)
		return
	}
	switch r.Method {
	case http.MethodGet:
		s.serveUploadForm(w, r, token)
	case http.MethodPost:
		s.acceptUpload(w, r, token)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) serveUploadForm(w http.ResponseWriter, r *http.Request, token schema.TransferToken) {
	session, err := s.uploads.GetActiveSession(token)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	constraints := fmt.Sprintf("Maximum size: %d MB.", session.MaxFileSizeBytes>>20)
	if len(session.AllowedExtensions) > 0 {
		constraints += " Allowed types: ." + strings.Join(session.AllowedExtensions, ", .")
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	fmt.Fprintf(w, uploadFormPage,
		html.EscapeString(string(session.Workspace)),
		html.EscapeString(constraints),
		html.EscapeString(session.ExpiresAt.UTC().Format(time.RFC3339)))
}

func (s *Server) acceptUpload(w http.ResponseWriter, r *http.Request, token schema.TransferToken) {
	session, err := s.uploads.GetActiveSession(token)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, session.MaxFileSizeBytes+uploadBodySlack)
	file, header, err := s.uploadFile(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, r, schema.ErrFileTooLarge)
			return
		}
		http.Error(w, "file field is required", http.StatusBadRequest)
		return
	}
	defer func() { _ = file.Close() }()

	stored, err := s.uploads.AcceptUpload(r.Context(), token, header.Filename, file)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":     stored.Status,
		"file_name":  stored.UploadedFileName,
		"size_bytes": stored.UploadedSizeBytes,
	})
}

func (s *Server) uploadFile(r *http.Request) (multipart.File, *multipart.FileHeader, error) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return nil, nil, err
	}
	return r.FormFile("file")
}

// writeError maps store errors to HTTP statuses without leaking server
// paths or session ownership.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	message := "internal error"
	switch {
	case errors.Is(err, schema.ErrSessionNotFound):
		status, message = http.StatusNotFound, "not found"
	case errors.Is(err, schema.ErrSessionNotActive), errors.Is(err, schema.ErrSessionCompleted):
		status, message = http.StatusGone, "link no longer available"
	case errors.Is(err, schema.ErrFileNotFound):
		status, message = http.StatusNotFound, "file not found"
	case errors.Is(err, schema.ErrFileTooLarge):
		status, message = http.StatusRequestEntityTooLarge, "file too large"
	case errors.Is(err, schema.ErrExtensionNotAllowed):
		status, message = http.StatusUnsupportedMediaType, "file type not allowed"
	case errors.Is(err, schema.ErrPathTraversal), errors.Is(err, schema.ErrInvalidPath):
		status, message = http.StatusBadRequest, "invalid path"
	}
	if status == http.StatusInternalServerError {
		pslog.Ctx(r.Context()).Warn("transfer request failed", "err", err)
	}
	http.Error(w, message, status)
}

func writeSessionStatus(w http.ResponseWriter, session schema.TransferSession) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"direction":  session.Direction,
		"status":     session.Status,
		"file_name":  session.FileName,
		"expires_at": session.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

// splitTransferPath extracts the token and the trailing path element,
// if any, from /download/{token}[/tail] or /upload/{token}[/tail].
func splitTransferPath(path, prefix string) (schema.TransferToken, string, bool) {
	rest, ok := strings.CutPrefix(path, prefix)
	if !ok || rest == "" {
		return "", "", false
	}
	token, tail, _ := strings.Cut(rest, "/")
	if token == "" || strings.Contains(tail, "/") {
		return "", "", false
	}
	return schema.TransferToken(token), tail, true
}

const uploadFormPage = `<!doctype html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Upload file</title>
<style>
body { font-family: system-ui, sans-serif; max-width: 32rem; margin: 4rem auto; padding: 0 1rem; }
.meta { color: #555; font-size: 0.9rem; }
</style>
</head>
<body>
<h1>Upload a file</h1>
<p>Destination workspace: <strong>%s</strong></p>
<p class="meta">%s</p>
<p class="meta">Link expires at %s.</p>
<form method="post" enctype="multipart/form-data">
<input type="file" name="file" required>
<button type="submit">Upload</button>
</form>
</body>
</html>
`
