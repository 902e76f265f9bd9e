package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/Harshitk-cp/penny/internal/domain"
	"go.uber.org/zap"
)

const maxTurnBodyBytes = 1 << 20

type TurnHandler struct {
	engine Engine
	logger *zap.Logger
}

func NewTurnHandler(engine Engine, logger *zap.Logger) *TurnHandler {
	return &TurnHandler{engine: engine, logger: logger}
}

// Process handles POST /v1/turns. Learning failures are reported inside the
// result, so a decoded turn always yields 200.
func (h *TurnHandler) Process(w http.ResponseWriter, r *http.Request) {
	var turn domain.Turn
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxTurnBodyBytes)).Decode(&turn); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	writeJSON(w, http.StatusOK, h.engine.ProcessConversationTurn(r.Context(), turn))
}

// Stats handles GET /v1/stats
func (h *TurnHandler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.GetSystemStats(r.Context()))
}

// Health handles GET /v1/learning/health
func (h *TurnHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.GetHealthSummary(r.Context()))
}

// Export handles GET /v1/export
func (h *TurnHandler) Export(w http.ResponseWriter, r *http.Request) {
	data, err := h.engine.ExportAllData(r.Context())
	if err != nil {
		h.logger.Error("export failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to export learning data")
		return
	}
	w.Header().Set("Content-Disposition", `attachment; filename="penny-export.json"`)
	writeJSON(w, http.StatusOK, data)
}
