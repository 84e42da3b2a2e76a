// Package api serves stored outputs over HTTP: the local target directory
// under its public URL path, a store endpoint and the output catalog.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fruitsalade/outputstore/internal/catalog"
	"github.com/fruitsalade/outputstore/internal/format"
	"github.com/fruitsalade/outputstore/internal/logging"
	"github.com/fruitsalade/outputstore/internal/metrics"
	"github.com/fruitsalade/outputstore/internal/storage"
)

const defaultMaxUploadSize = 1 << 30

// Lister returns recently stored outputs.
type Lister interface {
	Recent(ctx context.Context, limit int) ([]catalog.Entry, error)
}

// Server is the output HTTP server.
type Server struct {
	backend       storage.Backend
	outputDir     string
	prefix        string
	catalog       Lister
	maxUploadSize int64
}

// Options configures optional parts of the server.
type Options struct {
	// OutputDir is served read-only under Prefix. Empty disables serving.
	OutputDir string
	Prefix    string
	// Catalog backs GET /api/v1/outputs. Nil disables the listing.
	Catalog       Lister
	MaxUploadSize int64
}

// NewServer creates a server that stores uploads through backend.
func NewServer(backend storage.Backend, opts Options) *Server {
	prefix := "/" + strings.Trim(opts.Prefix, "/") + "/"
	if prefix == "//" {
		prefix = "/"
	}
	maxSize := opts.MaxUploadSize
	if maxSize <= 0 {
		maxSize = defaultMaxUploadSize
	}
	return &Server{
		backend:       backend,
		outputDir:     opts.OutputDir,
		prefix:        prefix,
		catalog:       opts.Catalog,
		maxUploadSize: maxSize,
	}
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /api/v1/outputs", s.handleStore)
	mux.HandleFunc("GET /api/v1/outputs", s.handleList)

	if s.outputDir != "" {
		mux.Handle("GET "+s.prefix, http.StripPrefix(s.prefix, http.HandlerFunc(s.handleOutput)))
	}

	return logging.Middleware(mux, func(r *http.Request, status int, d time.Duration) {
		metrics.RecordHTTPRequest(r.Method, status, d)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok", "backend": s.backend.Kind().String()})
}

// handleOutput serves one stored file. The target directory is flat, so any
// name with a separator, a leading dot or no name at all is not found.
func (s *Server) handleOutput(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Path
	if name == "" || strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		http.NotFound(w, r)
		return
	}

	f, err := os.Open(filepath.Join(s.outputDir, name))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || !info.Mode().IsRegular() {
		http.NotFound(w, r)
		return
	}
	http.ServeContent(w, r, name, info.ModTime(), f)
}

// handleStore stores the request body as an output. Query parameters:
// name (file name, its extension wins), format (MIME type) or ext.
func (s *Server) handleStore(w http.ResponseWriter, r *http.Request) {
	log := logging.WithContext(r.Context())

	name := filepath.Base(filepath.Clean("/" + r.URL.Query().Get("name")))
	if name == "/" || name == "." || name == `\` {
		name = "output"
	}

	var declared storage.Format
	if mt := r.URL.Query().Get("format"); mt != "" {
		if f := format.ForMime(mt); f.Ext != "" {
			declared = f
		}
	} else if ext := r.URL.Query().Get("ext"); ext != "" {
		declared = format.ForExtension(ext)
	}

	dir, err := os.MkdirTemp("", "outputstore-upload-*")
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, "create upload dir", err)
		return
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, name)
	if err := s.receive(w, r, path); err != nil {
		code := http.StatusBadRequest
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			code = http.StatusRequestEntityTooLarge
		}
		s.sendError(w, code, "read upload", err)
		return
	}

	artifact := storage.FileArtifact{Path: path}
	if declared != nil {
		artifact.Format = declared
	}
	res, err := s.backend.Store(r.Context(), artifact)
	if err != nil {
		s.sendError(w, statusFor(err), "store output", err)
		return
	}
	log.Info("output stored over http", zap.String("url", res.URL))

	w.Header().Set("Content-Type", "application/json")
	if res.URL != "" {
		w.Header().Set("Location", res.URL)
	}
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(res)
}

func (s *Server) receive(w http.ResponseWriter, r *http.Request, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	_, err = io.Copy(f, http.MaxBytesReader(w, r.Body, s.maxUploadSize))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	if s.catalog == nil {
		s.sendError(w, http.StatusNotFound, "catalog not configured", nil)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := s.catalog.Recent(r.Context(), limit)
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, "list outputs", err)
		return
	}
	if entries == nil {
		entries = []catalog.Entry{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entries)
}

// statusFor maps a store failure onto an HTTP status.
func statusFor(err error) int {
	switch storage.KindOf(err) {
	case storage.InsufficientCapacity:
		return http.StatusInsufficientStorage
	case storage.UnsupportedArtifact:
		return http.StatusUnprocessableEntity
	case storage.MissingDependency:
		return http.StatusNotImplemented
	case storage.AuthenticationFailed, storage.TransmissionFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
	Code  int    `json:"code"`
}

func (s *Server) sendError(w http.ResponseWriter, code int, message string, err error) {
	resp := errorResponse{Error: message, Code: code}
	if err != nil {
		resp.Error = message + ": " + err.Error()
		if k := storage.KindOf(err); k != storage.Unclassified {
			resp.Kind = k.String()
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(resp)
}
