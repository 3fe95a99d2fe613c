// Package api exposes the HTTP command surface: source management, crawl
// triggers, and item listing.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"sitewatch/internal/model"
	"sitewatch/internal/storage"
)

// Crawler is the crawl operation triggered through the API.
type Crawler interface {
	CrawlSource(ctx context.Context, sourceID uuid.UUID) (int, error)
}

// Server holds dependencies for the HTTP handlers.
type Server struct {
	store   storage.Storage
	crawler Crawler
	log     *slog.Logger
	mux     *http.ServeMux
}

// New wires up routes and returns a ready-to-use Server.
func New(store storage.Storage, crawler Crawler, log *slog.Logger) *Server {
	srv := &Server{store: store, crawler: crawler, log: log, mux: http.NewServeMux()}
	srv.routes()
	return srv
}

// ServeHTTP makes Server satisfy the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/health", s.handleHealth)

	s.mux.HandleFunc("POST /api/v1/sources", s.handleCreateSource)
	s.mux.HandleFunc("GET /api/v1/sources", s.handleListSources)
	s.mux.HandleFunc("GET /api/v1/sources/{id}", s.handleGetSource)
	s.mux.HandleFunc("DELETE /api/v1/sources/{id}", s.handleDeleteSource)

	s.mux.HandleFunc("POST /api/v1/crawler/sources/{id}/crawl", s.handleCrawlSource)

	s.mux.HandleFunc("GET /api/v1/items", s.handleListItems)
	s.mux.HandleFunc("GET /api/v1/items/{id}", s.handleGetItem)
}

// ---------- Request/response shapes ----------

type createSourceRequest struct {
	Name            string   `json:"name"`
	URL             string   `json:"url"`
	Mode            string   `json:"mode"`
	FilterKeywords  []string `json:"filterKeywords"`
	FilterRegex     []string `json:"filterRegex"`
	IntervalMinutes *int     `json:"intervalMinutes"`
}

type sourceResponse struct {
	ID              uuid.UUID  `json:"id"`
	Name            string     `json:"name"`
	URL             string     `json:"url"`
	Mode            string     `json:"mode"`
	FilterKeywords  []string   `json:"filterKeywords,omitempty"`
	FilterRegex     []string   `json:"filterRegex,omitempty"`
	IntervalMinutes int        `json:"intervalMinutes"`
	LastChecked     *time.Time `json:"lastChecked,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
}

type itemResponse struct {
	ID           uuid.UUID  `json:"id"`
	SourceID     uuid.UUID  `json:"sourceId"`
	Title        string     `json:"title,omitempty"`
	Link         string     `json:"link"`
	Summary      string     `json:"summary,omitempty"`
	PublishedAt  *time.Time `json:"publishedAt,omitempty"`
	DiscoveredAt time.Time  `json:"discoveredAt"`
	ContentHash  string     `json:"contentHash,omitempty"`
}

const (
	defaultInterval = 60
	maxInterval     = 10080 // one week in minutes
)

// ---------- Handlers ----------

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreateSource(w http.ResponseWriter, r *http.Request) {
	var req createSourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if msg := validateCreateSource(req); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	interval := defaultInterval
	if req.IntervalMinutes != nil {
		interval = *req.IntervalMinutes
	}

	src := model.Source{
		Name:            req.Name,
		URL:             req.URL,
		Mode:            model.SourceMode(strings.ToLower(req.Mode)),
		FilterKeywords:  req.FilterKeywords,
		FilterRegex:     req.FilterRegex,
		IntervalMinutes: interval,
	}
	if err := s.store.CreateSource(r.Context(), &src); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			writeError(w, http.StatusConflict, fmt.Sprintf("source with URL already exists: %s", req.URL))
			return
		}
		s.log.Error("create source", "url", req.URL, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create source")
		return
	}

	s.log.Info("source created", "id", src.ID, "name", src.Name, "mode", src.Mode)
	writeJSON(w, http.StatusCreated, toSourceResponse(src))
}

func validateCreateSource(req createSourceRequest) string {
	if strings.TrimSpace(req.Name) == "" {
		return "name is required"
	}
	if !strings.HasPrefix(req.URL, "http://") && !strings.HasPrefix(req.URL, "https://") {
		return "url must start with http:// or https://"
	}
	if !model.SourceMode(strings.ToLower(req.Mode)).Valid() {
		return "mode must be one of rss, html, auto"
	}
	if req.IntervalMinutes != nil && (*req.IntervalMinutes < 1 || *req.IntervalMinutes > maxInterval) {
		return "intervalMinutes must be between 1 and 10080"
	}
	return ""
}

func (s *Server) handleListSources(w http.ResponseWriter, r *http.Request) {
	sources, err := s.store.ListSources(r.Context())
	if err != nil {
		s.log.Error("list sources", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list sources")
		return
	}

	resp := make([]sourceResponse, 0, len(sources))
	for _, src := range sources {
		resp = append(resp, toSourceResponse(src))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetSource(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r)
	if !ok {
		return
	}

	src, err := s.store.GetSource(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "source not found")
			return
		}
		s.log.Error("get source", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load source")
		return
	}
	writeJSON(w, http.StatusOK, toSourceResponse(*src))
}

func (s *Server) handleDeleteSource(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r)
	if !ok {
		return
	}

	if err := s.store.DeleteSource(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "source not found")
			return
		}
		s.log.Error("delete source", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete source")
		return
	}

	s.log.Info("source deleted", "id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCrawlSource(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r)
	if !ok {
		return
	}

	count, err := s.crawler.CrawlSource(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "source not found")
			return
		}
		s.log.Error("crawl source", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "crawl failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sourceId":        id,
		"itemsDiscovered": count,
		"status":          "completed",
	})
}

func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request) {
	sourceID := uuid.Nil
	if raw := r.URL.Query().Get("source_id"); raw != "" {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid source_id")
			return
		}
		sourceID = parsed
	}

	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	items, err := s.store.ListItems(r.Context(), sourceID, limit, offset)
	if err != nil {
		s.log.Error("list items", "source_id", sourceID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list items")
		return
	}

	resp := make([]itemResponse, 0, len(items))
	for _, item := range items {
		resp = append(resp, toItemResponse(item))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetItem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r)
	if !ok {
		return
	}

	item, err := s.store.GetItem(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "item not found")
			return
		}
		s.log.Error("get item", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load item")
		return
	}
	writeJSON(w, http.StatusOK, toItemResponse(*item))
}

// ---------- Helpers ----------

func pathUUID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return uuid.Nil, false
	}
	return id, true
}

func queryInt(r *http.Request, key string, def int) int {
	if raw := r.URL.Query().Get(key); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			return n
		}
	}
	return def
}

func toSourceResponse(src model.Source) sourceResponse {
	return sourceResponse{
		ID:              src.ID,
		Name:            src.Name,
		URL:             src.URL,
		Mode:            string(src.Mode),
		FilterKeywords:  src.FilterKeywords,
		FilterRegex:     src.FilterRegex,
		IntervalMinutes: src.IntervalMinutes,
		LastChecked:     src.LastChecked,
		CreatedAt:       src.CreatedAt,
	}
}

func toItemResponse(item model.Item) itemResponse {
	return itemResponse{
		ID:           item.ID,
		SourceID:     item.SourceID,
		Title:        item.Title,
		Link:         item.Link,
		Summary:      item.Summary,
		PublishedAt:  item.PublishedAt,
		DiscoveredAt: item.DiscoveredAt,
		ContentHash:  item.ContentHash,
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
