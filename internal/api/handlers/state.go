package handlers

import (
	"net/http"

	"github.com/Harshitk-cp/penny/internal/domain"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type StateHandler struct {
	engine Engine
	logger *zap.Logger
}

func NewStateHandler(engine Engine, logger *zap.Logger) *StateHandler {
	return &StateHandler{engine: engine, logger: logger}
}

// Next handles GET /v1/states/{state}/next
func (h *StateHandler) Next(w http.ResponseWriter, r *http.Request) {
	state, ok := domain.ParseConversationState(chi.URLParam(r, "state"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid state")
		return
	}

	next := h.engine.GetLikelyNextStates(r.Context(), state)
	if next == nil {
		next = []domain.StateProbability{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"state": state,
		"next":  next,
	})
}

// Patterns handles GET /v1/states/patterns?min_frequency=
func (h *StateHandler) Patterns(w http.ResponseWriter, r *http.Request) {
	minFrequency, err := queryInt(r, "min_frequency", defaultPatternMinFrequency)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	patterns, err := h.engine.RecurringPatterns(r.Context(), minFrequency)
	if err != nil {
		h.logger.Error("recurring pattern lookup failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load patterns")
		return
	}
	if patterns == nil {
		patterns = []domain.RecurringPattern{}
	}
	writeJSON(w, http.StatusOK, patterns)
}
