package handlers

import (
	"net/http"

	"github.com/Harshitk-cp/penny/internal/service"
	"go.uber.org/zap"
)

type MaintenanceHandler struct {
	engine Engine
	cfg    service.MaintenanceConfig
	logger *zap.Logger
}

// NewMaintenanceHandler uses cfg for parameters a request leaves out.
func NewMaintenanceHandler(engine Engine, cfg service.MaintenanceConfig, logger *zap.Logger) *MaintenanceHandler {
	return &MaintenanceHandler{engine: engine, cfg: cfg, logger: logger}
}

// Decay handles POST /v1/maintenance/decay?days_inactive=
func (h *MaintenanceHandler) Decay(w http.ResponseWriter, r *http.Request) {
	days, err := queryInt(r, "days_inactive", h.cfg.DecayDaysInactive)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	report := h.engine.ApplyTemporalDecayAll(r.Context(), days)
	h.logger.Info("manual decay triggered",
		zap.Int("days_inactive", days),
		zap.Int64("vocabulary", report.Vocabulary),
		zap.Int64("dimensions", report.Dimensions),
		zap.Int64("transitions", report.Transitions))
	writeJSON(w, reportStatus(len(report.Errors)), report)
}

// Prune handles POST /v1/maintenance/prune?min_strength=&min_observations=
func (h *MaintenanceHandler) Prune(w http.ResponseWriter, r *http.Request) {
	minStrength, err := queryFloat(r, "min_strength", h.cfg.PruneMinStrength)
	if err != nil || minStrength > 1 {
		writeError(w, http.StatusBadRequest, "invalid min_strength")
		return
	}
	minObservations, err := queryInt(r, "min_observations", h.cfg.PruneMinObservations)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	report := h.engine.PruneAll(r.Context(), minStrength, minObservations)
	h.logger.Info("manual prune triggered",
		zap.Int64("vocabulary", report.Vocabulary),
		zap.Int64("dimensions", report.Dimensions))
	writeJSON(w, reportStatus(len(report.Errors)), report)
}

// Sweep handles POST /v1/maintenance/sweep
func (h *MaintenanceHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	report := h.engine.SweepQuarantine(r.Context())
	writeJSON(w, reportStatus(len(report.Errors)), report)
}

// ResetSession handles POST /v1/maintenance/reset-session
func (h *MaintenanceHandler) ResetSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.ResetSession())
}

// reportStatus maps a partially failed maintenance run to 207.
func reportStatus(errCount int) int {
	if errCount > 0 {
		return http.StatusMultiStatus
	}
	return http.StatusOK
}
