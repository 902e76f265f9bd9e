package handlers

import (
	"math"
	"net/http"

	"github.com/Harshitk-cp/penny/internal/domain"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const (
	defaultPatternMinFrequency     = 2
	defaultNegativeMinObservations = 5
)

type DimensionHandler struct {
	engine Engine
	logger *zap.Logger
}

func NewDimensionHandler(engine Engine, logger *zap.Logger) *DimensionHandler {
	return &DimensionHandler{engine: engine, logger: logger}
}

// Predictions handles GET /v1/dimensions/{dimension}/predictions?value=
func (h *DimensionHandler) Predictions(w http.ResponseWriter, r *http.Request) {
	dim, ok := domain.ParseDimension(chi.URLParam(r, "dimension"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid dimension")
		return
	}
	if r.URL.Query().Get("value") == "" {
		writeError(w, http.StatusBadRequest, "value is required")
		return
	}
	value, err := queryFloat(r, "value", 0)
	if err != nil || math.IsNaN(value) || value < 0 || value > 1 {
		writeError(w, http.StatusBadRequest, "value must be between 0 and 1")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"dimension":   dim,
		"value":       value,
		"predictions": h.engine.GetDimensionPredictionsFor(r.Context(), dim, value),
	})
}

// Patterns handles GET /v1/dimensions/patterns?min_frequency=
func (h *DimensionHandler) Patterns(w http.ResponseWriter, r *http.Request) {
	minFrequency, err := queryInt(r, "min_frequency", defaultPatternMinFrequency)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	patterns, err := h.engine.MultiDimPatterns(r.Context(), minFrequency)
	if err != nil {
		h.logger.Error("pattern lookup failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load patterns")
		return
	}
	if patterns == nil {
		patterns = []domain.MultiDimPattern{}
	}
	writeJSON(w, http.StatusOK, patterns)
}

// Negative handles GET /v1/dimensions/negative?min_observations=
func (h *DimensionHandler) Negative(w http.ResponseWriter, r *http.Request) {
	minObservations, err := queryInt(r, "min_observations", defaultNegativeMinObservations)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	pairs, err := h.engine.NegativeCorrelations(r.Context(), minObservations)
	if err != nil {
		h.logger.Error("negative correlation lookup failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load correlations")
		return
	}
	if pairs == nil {
		pairs = []domain.DimensionAssociation{}
	}
	writeJSON(w, http.StatusOK, pairs)
}
