// Package api implements the HTTP JSON surface of the search service.
//
// All routes expect an x-user-id header forwarded by the gateway.
//
// Routes:
//
//	GET    /search-configs              → list the user's configurations
//	POST   /search-configs              → create a configuration
//	PUT    /search-configs/{id}         → update a configuration
//	DELETE /search-configs/{id}         → delete a configuration
//	POST   /search-configs/preview      → run query+aggregation only, no side effects
//	GET    /search-configs/{id}/runs    → run outcome history
//	GET    /results[?config=id]         → list discovered jobs
//	DELETE /results/{id}                → delete one discovered job
//	GET    /scheduler/status            → executor state snapshot
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"jobwatch/search-service/internal/executor"
	"jobwatch/search-service/internal/model"
	"jobwatch/search-service/internal/schedule"
	"jobwatch/search-service/internal/search"
	"jobwatch/search-service/internal/store"
)

// Handler holds shared dependencies.
type Handler struct {
	store *store.Store
	agg   *search.Aggregator
	exec  *executor.Executor
	log   *logrus.Entry
}

// NewHandler returns a configured Handler.
func NewHandler(st *store.Store, agg *search.Aggregator, exec *executor.Executor, log *logrus.Entry) *Handler {
	return &Handler{store: st, agg: agg, exec: exec, log: log}
}

// RegisterRoutes mounts all search-service routes on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/search-configs", h.handleConfigs)
	mux.HandleFunc("/search-configs/", h.handleConfigByID)
	mux.HandleFunc("/results", h.handleResults)
	mux.HandleFunc("/results/", h.handleResultByID)
	mux.HandleFunc("/scheduler/status", h.handleSchedulerStatus)
}

func userID(r *http.Request) (uuid.UUID, bool) {
	raw := r.Header.Get("x-user-id")
	if raw == "" {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// ─── /search-configs ────────────────────────────────────────────────────────

func (h *Handler) handleConfigs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.listConfigs(w, r)
	case http.MethodPost:
		h.createConfig(w, r)
	default:
		jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleConfigByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/search-configs/"), "/")
	if rest == "preview" {
		if r.Method != http.MethodPost {
			jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.previewSearch(w, r)
		return
	}

	parts := strings.Split(rest, "/")
	id, err := uuid.Parse(parts[0])
	if err != nil {
		jsonError(w, "invalid configuration id", http.StatusNotFound)
		return
	}

	switch {
	case len(parts) == 2 && parts[1] == "runs" && r.Method == http.MethodGet:
		h.listOutcomes(w, r, id)
	case len(parts) == 1 && r.Method == http.MethodPut:
		h.updateConfig(w, r, id)
	case len(parts) == 1 && r.Method == http.MethodDelete:
		h.deleteConfig(w, r, id)
	default:
		jsonError(w, "not found", http.StatusNotFound)
	}
}

func (h *Handler) listConfigs(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(r)
	if !ok {
		jsonError(w, "missing x-user-id header", http.StatusUnauthorized)
		return
	}

	configs, err := h.store.ListConfigs(r.Context(), uid)
	if err != nil {
		h.log.WithError(err).Error("listing configurations failed")
		jsonError(w, "database error", http.StatusInternalServerError)
		return
	}

	out := make([]configResponse, 0, len(configs))
	for i := range configs {
		out = append(out, toConfigResponse(&configs[i]))
	}
	jsonOK(w, out)
}

func (h *Handler) createConfig(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(r)
	if !ok {
		jsonError(w, "missing x-user-id header", http.StatusUnauthorized)
		return
	}

	var req configRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	cfg, err := req.toModel()
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	cfg.ID = uuid.New()
	cfg.UserID = uid
	cfg.ActivatedAt = time.Now().UTC()

	model.Normalize(cfg)
	if err := model.Validate(cfg); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if cfg.IsActive {
		next, err := schedule.NextRun(cfg, time.Now())
		if err != nil {
			jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
		nextUTC := next.UTC()
		cfg.NextRunAt = &nextUTC
	}

	if err := h.store.CreateConfig(r.Context(), cfg); err != nil {
		h.log.WithError(err).Error("creating configuration failed")
		jsonError(w, "database error", http.StatusInternalServerError)
		return
	}

	jsonOK(w, toConfigResponse(cfg))
}

func (h *Handler) updateConfig(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	uid, ok := userID(r)
	if !ok {
		jsonError(w, "missing x-user-id header", http.StatusUnauthorized)
		return
	}

	existing, err := h.store.GetConfig(r.Context(), id, uid)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			jsonError(w, "configuration not found", http.StatusNotFound)
			return
		}
		h.log.WithError(err).Error("loading configuration failed")
		jsonError(w, "database error", http.StatusInternalServerError)
		return
	}

	var req configRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	cfg, err := req.toModel()
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	cfg.ID = existing.ID
	cfg.UserID = existing.UserID
	cfg.ActivatedAt = existing.ActivatedAt
	cfg.LastRunAt = existing.LastRunAt

	model.Normalize(cfg)
	if err := model.Validate(cfg); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	// Schedule edits recompute the next run immediately. If a run is in
	// flight its completion recomputes again from this fresh row, which is
	// the intended edit-while-running behavior.
	if cfg.IsActive {
		next, err := schedule.NextRun(cfg, time.Now())
		if err != nil {
			jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
		nextUTC := next.UTC()
		cfg.NextRunAt = &nextUTC
	}

	if err := h.store.UpdateConfig(r.Context(), cfg); err != nil {
		h.log.WithError(err).Error("updating configuration failed")
		jsonError(w, "database error", http.StatusInternalServerError)
		return
	}

	jsonOK(w, toConfigResponse(cfg))
}

func (h *Handler) deleteConfig(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	uid, ok := userID(r)
	if !ok {
		jsonError(w, "missing x-user-id header", http.StatusUnauthorized)
		return
	}

	if err := h.store.DeleteConfig(r.Context(), id, uid); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			jsonError(w, "configuration not found", http.StatusNotFound)
			return
		}
		h.log.WithError(err).Error("deleting configuration failed")
		jsonError(w, "database error", http.StatusInternalServerError)
		return
	}
	jsonOK(w, map[string]bool{"deleted": true})
}

// previewSearch runs QueryBuilder + SearchAggregator only: no RunOutcome, no
// notification, no recent-result cache writes. Used to validate a
// configuration before saving it.
func (h *Handler) previewSearch(w http.ResponseWriter, r *http.Request) {
	if _, ok := userID(r); !ok {
		jsonError(w, "missing x-user-id header", http.StatusUnauthorized)
		return
	}

	var req configRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	cfg, err := req.toModel()
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	model.Normalize(cfg)

	terms, err := search.BuildQuery(cfg.Keywords, cfg.SearchLogic, cfg.CustomLogic)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	maxAge := cfg.MaxJobAgeHours
	if maxAge < 1 {
		maxAge = 24
	}
	outcome, err := h.agg.Search(r.Context(), search.Request{
		Terms:          terms,
		Keywords:       cfg.Keywords,
		Logic:          cfg.SearchLogic,
		LocationFilter: cfg.LocationFilter,
		Sites:          cfg.JobSites,
		MaxAgeHours:    maxAge,
	})
	if err != nil {
		h.log.WithError(err).Error("preview search failed")
		jsonError(w, "search failed", http.StatusBadGateway)
		return
	}

	jsonOK(w, map[string]any{
		"query":        terms,
		"jobs":         toResultResponses(outcome.Results),
		"isRealSearch": !outcome.Sample,
		"message": fmt.Sprintf("Found %d jobs using %s", len(outcome.Results),
			map[bool]string{true: "sample data", false: "live search"}[outcome.Sample]),
	})
}

func (h *Handler) listOutcomes(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	uid, ok := userID(r)
	if !ok {
		jsonError(w, "missing x-user-id header", http.StatusUnauthorized)
		return
	}

	// Ownership check before exposing run history.
	if _, err := h.store.GetConfig(r.Context(), id, uid); err != nil {
		jsonError(w, "configuration not found", http.StatusNotFound)
		return
	}

	outcomes, err := h.store.ListOutcomes(r.Context(), id, 50)
	if err != nil {
		h.log.WithError(err).Error("listing run outcomes failed")
		jsonError(w, "database error", http.StatusInternalServerError)
		return
	}
	jsonOK(w, outcomes)
}

// ─── /results ───────────────────────────────────────────────────────────────

func (h *Handler) handleResults(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	uid, ok := userID(r)
	if !ok {
		jsonError(w, "missing x-user-id header", http.StatusUnauthorized)
		return
	}

	var configID *uuid.UUID
	if raw := r.URL.Query().Get("config"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			jsonError(w, "invalid config filter", http.StatusBadRequest)
			return
		}
		configID = &id
	}

	results, err := h.store.ListResults(r.Context(), uid, configID)
	if err != nil {
		h.log.WithError(err).Error("listing results failed")
		jsonError(w, "database error", http.StatusInternalServerError)
		return
	}
	jsonOK(w, toResultResponses(results))
}

func (h *Handler) handleResultByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	uid, ok := userID(r)
	if !ok {
		jsonError(w, "missing x-user-id header", http.StatusUnauthorized)
		return
	}

	id, err := uuid.Parse(strings.Trim(strings.TrimPrefix(r.URL.Path, "/results/"), "/"))
	if err != nil {
		jsonError(w, "invalid result id", http.StatusNotFound)
		return
	}

	if err := h.store.DeleteResult(r.Context(), id, uid); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			jsonError(w, "result not found", http.StatusNotFound)
			return
		}
		h.log.WithError(err).Error("deleting result failed")
		jsonError(w, "database error", http.StatusInternalServerError)
		return
	}
	jsonOK(w, map[string]bool{"deleted": true})
}

// ─── /scheduler/status ──────────────────────────────────────────────────────

func (h *Handler) handleSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	states := h.exec.Snapshot()
	out := make(map[string]string, len(states))
	for id, st := range states {
		out[id.String()] = string(st)
	}
	jsonOK(w, map[string]any{"inFlight": len(out), "configs": out})
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func jsonOK(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
