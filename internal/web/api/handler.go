// Package api serves the registry over HTTP: the direct and queue-daemon
// ingestion entry points, version retrieval, and the download statistics
// proxy.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pkgindex/registry/internal/ingest"
	"github.com/pkgindex/registry/internal/manifest"
	"github.com/pkgindex/registry/internal/registry"
	"github.com/pkgindex/registry/internal/web/middleware"
)

// TypeHeader carries the request type on queue-daemon deliveries
const TypeHeader = "X-Aws-Sqsd-Attr-Type"

// DefaultMaxBodyBytes bounds request bodies
const DefaultMaxBodyBytes = 1 << 20

// Dispatcher runs an ingestion request
type Dispatcher interface {
	Dispatch(ctx context.Context, req ingest.Request) (*ingest.Result, error)
}

// VersionFinder loads enriched versions
type VersionFinder interface {
	FindByNameVersion(ctx context.Context, name, version string) (*registry.EnrichedVersion, bool, error)
}

// DownloadStats fetches upstream download statistics
type DownloadStats interface {
	LastMonthDownloads(ctx context.Context, name string) (json.RawMessage, error)
	BreakerStates() map[string]string
}

// Pinger checks a dependency is reachable
type Pinger interface {
	PingContext(ctx context.Context) error
}

// QueuePinger checks the work queue is reachable
type QueuePinger interface {
	Ping(ctx context.Context) error
}

// Config configures the API
type Config struct {
	APIPrefix        string
	ShowErrorDetails bool
	MaxBodyBytes     int64

	// RequestTimeout bounds each request's context; zero disables it
	RequestTimeout time.Duration
}

// Handler holds the API's collaborators
type Handler struct {
	cfg        Config
	dispatcher Dispatcher
	reader     VersionFinder
	stats      DownloadStats
	db         Pinger
	queue      QueuePinger
	logger     *zap.Logger
}

// NewHandler creates the API handler. stats and db may be nil, which
// disables the downloads route and the database health check.
func NewHandler(cfg Config, dispatcher Dispatcher, reader VersionFinder, stats DownloadStats, db Pinger, logger *zap.Logger) *Handler {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		cfg:        cfg,
		dispatcher: dispatcher,
		reader:     reader,
		stats:      stats,
		db:         db,
		logger:     logger.Named("api"),
	}
}

// WithQueue adds the work queue to the health check
func (h *Handler) WithQueue(q QueuePinger) *Handler {
	h.queue = q
	return h
}

// Routes builds the router with the standard middleware chain
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.NotFound(notFoundHandler)
	r.MethodNotAllowed(methodNotAllowedHandler)

	prefix := h.cfg.APIPrefix
	r.Get("/healthz", h.health)
	r.Post(prefix+"/versions", h.createVersion)
	r.Post(prefix+"/packages/{name}/versions/{version}/topics", h.createTopic)
	r.Get(prefix+"/packages/{name}/versions/{version}", h.findVersion)
	r.Post(prefix+"/worker", h.processMessage)
	if h.stats != nil {
		r.Get(prefix+"/packages/{name}/downloads", h.downloads)
	}

	return middleware.NewChain(
		middleware.RequestID(),
		middleware.LoggingWithConfig(middleware.LoggingConfig{Logger: h.logger, SkipPaths: []string{"/healthz"}}),
		middleware.Recovery(h.logger),
		middleware.Timeout(h.cfg.RequestTimeout),
	).Then(r)
}

// readBody reads a bounded request body
func (h *Handler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.cfg.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "request body too large")
			return nil, false
		}
		WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "failed to read request body")
		return nil, false
	}
	return body, true
}

func isPlainText(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == "text/plain"
}

// createVersion ingests a manifest sent as JSON fields or DESCRIPTION text
func (h *Handler) createVersion(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}

	var req ingest.Request
	if isPlainText(r) {
		req = &ingest.VersionRequest{Input: ingest.ManifestInput{Raw: string(body)}}
	} else {
		var err error
		if req, err = ingest.Decode(ingest.TypeVersion, body); err != nil {
			h.writeError(w, r, err)
			return
		}
	}

	res, err := h.dispatcher.Dispatch(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	w.Header().Set("Location", registry.VersionURI(h.cfg.APIPrefix, res.Version.PackageName, res.Version.Version))
	writeJSON(w, http.StatusCreated, res.Version)
}

// createTopic ingests a topic for the version named in the path
func (h *Handler) createTopic(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}

	req := &ingest.TopicRequest{
		PackageName: chi.URLParam(r, "name"),
		Version:     chi.URLParam(r, "version"),
	}
	if isPlainText(r) {
		req.Input.Rd = string(body)
	} else {
		var payload struct {
			Rd string `json:"rd"`
			manifest.TopicDoc
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			h.writeError(w, r, registry.Invalid("decode payload", "malformed JSON payload"))
			return
		}
		if payload.Rd != "" {
			req.Input.Rd = payload.Rd
		} else {
			req.Input.Doc = &payload.TopicDoc
		}
	}

	res, err := h.dispatcher.Dispatch(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res.Topic)
}

// processMessage accepts a queue-daemon delivery. The type comes from the
// daemon's attribute header, or else from the body's "type" field.
func (h *Handler) processMessage(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}

	typeTag := r.Header.Get(TypeHeader)
	if typeTag == "" {
		var envelope struct {
			Type string `json:"type"`
		}
		_ = json.Unmarshal(body, &envelope)
		typeTag = envelope.Type
	}

	req, err := ingest.Decode(typeTag, body)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.dispatcher.Dispatch(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res.Value())
}

// findVersion returns the enriched version document
func (h *Handler) findVersion(w http.ResponseWriter, r *http.Request) {
	name, version := chi.URLParam(r, "name"), chi.URLParam(r, "version")

	doc, found, err := h.reader.FindByNameVersion(r.Context(), name, version)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !found {
		h.writeError(w, r, registry.NotFound("find version", map[string]string{"package_name": name, "version": version}))
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// downloads proxies last month's download count for a package
func (h *Handler) downloads(w http.ResponseWriter, r *http.Request) {
	body, err := h.stats.LastMonthDownloads(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		h.writeStatsError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// HealthResponse is the body of /healthz
type HealthResponse struct {
	Status    string            `json:"status"`
	Database  string            `json:"database,omitempty"`
	Queue     string            `json:"queue,omitempty"`
	Upstreams map[string]string `json:"upstreams,omitempty"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok"}
	status := http.StatusOK

	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.PingContext(ctx); err != nil {
			h.logger.Warn("database health check failed", zap.Error(err))
			resp.Status = "unavailable"
			resp.Database = "unreachable"
			status = http.StatusServiceUnavailable
		} else {
			resp.Database = "ok"
		}
	}
	if h.queue != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.queue.Ping(ctx); err != nil {
			h.logger.Warn("queue health check failed", zap.Error(err))
			resp.Status = "unavailable"
			resp.Queue = "unreachable"
			status = http.StatusServiceUnavailable
		} else {
			resp.Queue = "ok"
		}
	}
	if h.stats != nil {
		resp.Upstreams = h.stats.BreakerStates()
	}

	writeJSON(w, status, resp)
}
