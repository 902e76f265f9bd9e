package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	defaultMaintenanceInterval = 6 * time.Hour
	maintenanceTimeout         = 5 * time.Minute

	DefaultDecayDaysInactive    = 7
	DefaultPruneMinStrength     = 0.1
	DefaultPruneMinObservations = 2
)

type MaintenanceConfig struct {
	Interval             time.Duration
	DecayDaysInactive    int
	PruneMinStrength     float64
	PruneMinObservations int
}

func DefaultMaintenanceConfig() MaintenanceConfig {
	return MaintenanceConfig{
		Interval:             defaultMaintenanceInterval,
		DecayDaysInactive:    DefaultDecayDaysInactive,
		PruneMinStrength:     DefaultPruneMinStrength,
		PruneMinObservations: DefaultPruneMinObservations,
	}
}

type MaintenanceResult struct {
	Decay *DecayReport `json:"decay"`
	Sweep *SweepReport `json:"sweep"`
	Prune *PruneReport `json:"prune"`
}

// MaintenanceService periodically decays, sweeps and prunes the learned tables.
// It runs off the turn path and never touches session state.
type MaintenanceService struct {
	manager *LearningManager
	cfg     MaintenanceConfig
	logger  *zap.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewMaintenanceService(manager *LearningManager, cfg MaintenanceConfig, logger *zap.Logger) *MaintenanceService {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultMaintenanceInterval
	}
	return &MaintenanceService{
		manager: manager,
		cfg:     cfg,
		logger:  logger,
		stopCh:  make(chan struct{}),
	}
}

func (s *MaintenanceService) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()

		s.logger.Info("maintenance worker started", zap.Duration("interval", s.cfg.Interval))

		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), maintenanceTimeout)
				s.RunMaintenance(ctx)
				cancel()
			case <-s.stopCh:
				s.logger.Info("maintenance worker stopped")
				return
			}
		}
	}()
}

func (s *MaintenanceService) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

// RunMaintenance performs one decay, sweep and prune pass.
func (s *MaintenanceService) RunMaintenance(ctx context.Context) *MaintenanceResult {
	res := &MaintenanceResult{
		Decay: s.manager.ApplyTemporalDecayAll(ctx, s.cfg.DecayDaysInactive),
		Sweep: s.manager.SweepQuarantine(ctx),
		Prune: s.manager.PruneAll(ctx, s.cfg.PruneMinStrength, s.cfg.PruneMinObservations),
	}

	errs := len(res.Decay.Errors) + len(res.Sweep.Errors) + len(res.Prune.Errors)
	s.logger.Info("maintenance pass complete",
		zap.Int64("vocabulary_decayed", res.Decay.Vocabulary),
		zap.Int64("dimensions_decayed", res.Decay.Dimensions),
		zap.Int64("transitions_decayed", res.Decay.Transitions),
		zap.Int64("promoted", res.Sweep.Promoted),
		zap.Int64("expired", res.Sweep.Expired),
		zap.Int64("vocabulary_pruned", res.Prune.Vocabulary),
		zap.Int64("dimensions_pruned", res.Prune.Dimensions),
		zap.Int("errors", errs))
	return res
}
