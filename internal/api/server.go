// Package api exposes the pipeline over a small JSON HTTP surface: article
// listing and rating, source management, and manual cycle/cleanup triggers.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/jfellner/newsriver/internal/debuglog"
	"github.com/jfellner/newsriver/internal/pipeline"
	"github.com/jfellner/newsriver/internal/retention"
	"github.com/jfellner/newsriver/internal/store"
)

const defaultArticleLimit = 100

// Server wires HTTP handlers to the store and the pipeline manager.
type Server struct {
	store     *store.Store
	manager   *pipeline.Manager
	retention retention.Config
	startedAt time.Time

	// lastReport is published by the most recent completed cycle.
	mu         sync.Mutex
	lastReport *pipeline.CycleReport
}

func NewServer(st *store.Store, manager *pipeline.Manager, retentionCfg retention.Config) *Server {
	return &Server{
		store:     st,
		manager:   manager,
		retention: retentionCfg,
		startedAt: time.Now(),
	}
}

// Router builds the route table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Post("/cycle", s.handleRunCycle)
		r.Post("/cleanup", s.handleCleanup)

		r.Route("/articles", func(r chi.Router) {
			r.Get("/", s.handleListArticles)
			r.Get("/{id}", s.handleGetArticle)
			r.Post("/{id}/rate", s.handleRateArticle)
		})

		r.Route("/sources", func(r chi.Router) {
			r.Get("/", s.handleListSources)
			r.Post("/", s.handleAddSource)
			r.Get("/{id}", s.handleGetSource)
			r.Post("/{id}/toggle", s.handleToggleSource)
			r.Delete("/{id}", s.handleDeleteSource)
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	enabled := 0
	for _, src := range s.store.Sources().List(nil) {
		if src.Enabled {
			enabled++
		}
	}

	s.mu.Lock()
	lastReport := s.lastReport
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"uptime":          time.Since(s.startedAt).String(),
		"sources":         s.store.Sources().Len(),
		"sources_enabled": enabled,
		"articles":        s.store.Articles().Len(),
		"previews":        s.store.Previews().Len(),
		"last_cycle":      lastReport,
	})
}

func (s *Server) handleRunCycle(w http.ResponseWriter, r *http.Request) {
	report, err := s.manager.RunCycle(r.Context())
	if err != nil {
		if errors.Is(err, pipeline.ErrCycleRunning) {
			writeError(w, http.StatusConflict, "a cycle is already running")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.mu.Lock()
	s.lastReport = report
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	report, err := retention.Run(s.retention, s.store, time.Now())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// handleListArticles returns articles newest first. Spam is excluded unless
// include_spam=true; relevance, source_id and limit narrow the result.
func (s *Server) handleListArticles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	includeSpam := q.Get("include_spam") == "true"
	relevance := store.Relevance(q.Get("relevance"))
	sourceID := q.Get("source_id")

	limit := defaultArticleLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	articles := s.store.Articles().List(func(a store.Article) bool {
		if !includeSpam && relevance != store.RelevanceSpam && a.Relevance == store.RelevanceSpam {
			return false
		}
		if relevance != "" && a.Relevance != relevance {
			return false
		}
		if sourceID != "" && a.SourceID != sourceID {
			return false
		}
		return true
	})

	sort.Slice(articles, func(i, j int) bool {
		return articles[i].ScrapedAt.After(articles[j].ScrapedAt)
	})
	if len(articles) > limit {
		articles = articles[:limit]
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"articles": articles,
		"count":    len(articles),
	})
}

func (s *Server) handleGetArticle(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	article, ok := s.store.Articles().Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "article not found")
		return
	}

	// Attach resolved previews inline so one request renders the article.
	previews := make([]store.Preview, 0, len(article.PreviewRefs))
	for _, ref := range article.PreviewRefs {
		if p, ok := s.store.Previews().Get(ref); ok {
			previews = append(previews, p)
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"article":  article,
		"previews": previews,
	})
}

type rateRequest struct {
	Relevance store.Relevance `json:"relevance"`
}

// handleRateArticle records an explicit user rating. User ratings win over
// the classifier and are never overwritten by later cycles.
func (s *Server) handleRateArticle(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	article, ok := s.store.Articles().Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "article not found")
		return
	}

	var req rateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	switch req.Relevance {
	case store.RelevanceFavorite, store.RelevanceSpam, store.RelevanceNeutral, store.RelevanceUnclassified:
	default:
		writeError(w, http.StatusBadRequest, "unknown relevance value")
		return
	}

	article.Relevance = req.Relevance
	article.RatedByUser = req.Relevance != store.RelevanceUnclassified
	if !article.RatedByUser {
		article.SpamReasons = nil
	}

	if err := s.store.Articles().Upsert(article.ID, article); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, article)
}

func (s *Server) handleListSources(w http.ResponseWriter, r *http.Request) {
	sources := s.store.Sources().List(nil)
	sort.Slice(sources, func(i, j int) bool { return sources[i].Name < sources[j].Name })
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sources": sources,
		"count":   len(sources),
	})
}

func (s *Server) handleGetSource(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	source, ok := s.store.Sources().Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "source not found")
		return
	}
	writeJSON(w, http.StatusOK, source)
}

type addSourceRequest struct {
	Name             string             `json:"name"`
	Kind             store.SourceKind   `json:"kind"`
	Config           store.SourceConfig `json:"config"`
	MaxItemsPerCycle int                `json:"max_items_per_cycle"`
}

func (s *Server) handleAddSource(w http.ResponseWriter, r *http.Request) {
	var req addSourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if !req.Kind.Valid() {
		writeError(w, http.StatusBadRequest, "unknown source kind")
		return
	}

	source := store.Source{
		ID:               uuid.NewString(),
		Name:             req.Name,
		Kind:             req.Kind,
		Enabled:          true,
		Config:           req.Config,
		MaxItemsPerCycle: req.MaxItemsPerCycle,
	}

	if err := s.store.Sources().Upsert(source.ID, source); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	debuglog.Infof("source added: %s (%s)", source.Name, source.Kind)
	writeJSON(w, http.StatusCreated, source)
}

func (s *Server) handleToggleSource(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	source, ok := s.store.Sources().Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "source not found")
		return
	}

	source.Enabled = !source.Enabled
	if err := s.store.Sources().Upsert(source.ID, source); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, source)
}

func (s *Server) handleDeleteSource(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := s.store.Sources().Get(id); !ok {
		writeError(w, http.StatusNotFound, "source not found")
		return
	}
	if err := s.store.Sources().Delete(id); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		debuglog.Warnf("encoding response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
