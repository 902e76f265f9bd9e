package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Harshitk-cp/penny/internal/domain"
	"github.com/Harshitk-cp/penny/internal/service"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const (
	defaultTopContexts      = 5
	defaultVocabMinStrength = 0.3
)

type VocabularyHandler struct {
	engine Engine
	logger *zap.Logger
}

func NewVocabularyHandler(engine Engine, logger *zap.Logger) *VocabularyHandler {
	return &VocabularyHandler{engine: engine, logger: logger}
}

// ShouldUse handles GET /v1/terms/{term}/use
func (h *VocabularyHandler) ShouldUse(w http.ResponseWriter, r *http.Request) {
	term := chi.URLParam(r, "term")
	c, ok := domain.ParseContextType(r.URL.Query().Get("context"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid context")
		return
	}
	threshold, err := queryFloat(r, "threshold", service.DefaultUseTermThreshold)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"term":         term,
		"context_type": c,
		"threshold":    threshold,
		"use":          h.engine.ShouldUseTermCached(r.Context(), term, c, threshold),
	})
}

// Contexts handles GET /v1/terms/{term}/contexts
func (h *VocabularyHandler) Contexts(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultTopContexts)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	contexts, err := h.engine.TopContextsForTerm(r.Context(), chi.URLParam(r, "term"), limit)
	if err != nil {
		if service.IsValidationError(err) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("top contexts lookup failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load contexts")
		return
	}
	if contexts == nil {
		contexts = []domain.ContextStrength{}
	}
	writeJSON(w, http.StatusOK, contexts)
}

// ForContext handles GET /v1/contexts/{context}/vocabulary
func (h *VocabularyHandler) ForContext(w http.ResponseWriter, r *http.Request) {
	c, ok := domain.ParseContextType(chi.URLParam(r, "context"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid context")
		return
	}
	minStrength, err := queryFloat(r, "min_strength", defaultVocabMinStrength)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	terms := h.engine.GetVocabularyForContext(r.Context(), c, minStrength)
	if terms == nil {
		terms = []domain.TermStrength{}
	}
	writeJSON(w, http.StatusOK, terms)
}

type addOverrideRequest struct {
	Term     string   `json:"term"`
	Context  string   `json:"context_type"`
	Strength *float64 `json:"strength"`
	Reason   string   `json:"reason"`
}

// AddOverride handles POST /v1/overrides
func (h *VocabularyHandler) AddOverride(w http.ResponseWriter, r *http.Request) {
	var req addOverrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Strength == nil {
		writeError(w, http.StatusBadRequest, "strength is required")
		return
	}

	o, err := h.engine.AddOverride(r.Context(), req.Term, domain.ContextType(req.Context), *req.Strength, req.Reason)
	if err != nil {
		if service.IsValidationError(err) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("add override failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to add override")
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

// RemoveOverride handles DELETE /v1/overrides?term=&context=
func (h *VocabularyHandler) RemoveOverride(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	err := h.engine.RemoveOverride(r.Context(), q.Get("term"), domain.ContextType(q.Get("context")))
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, service.ErrOverrideNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case service.IsValidationError(err):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error("remove override failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to remove override")
	}
}

// ListOverrides handles GET /v1/overrides
func (h *VocabularyHandler) ListOverrides(w http.ResponseWriter, r *http.Request) {
	overrides, err := h.engine.ListOverrides(r.Context())
	if err != nil {
		h.logger.Error("list overrides failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list overrides")
		return
	}
	if overrides == nil {
		overrides = []domain.VocabularyOverride{}
	}
	writeJSON(w, http.StatusOK, overrides)
}
