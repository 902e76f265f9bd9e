package service

import (
	"context"
	"errors"
	"time"

	"github.com/Harshitk-cp/penny/internal/domain"
	"github.com/Harshitk-cp/penny/internal/metrics"
	"github.com/Harshitk-cp/penny/internal/store"
	"go.uber.org/zap"
)

const (
	DefaultPromotionMinObservations = 5
	DefaultPromotionMinAge          = 7 * 24 * time.Hour
	DefaultStagingMaxAge            = 30 * 24 * time.Hour
)

type QuarantineConfig struct {
	MinObservations int
	MinAge          time.Duration
	MaxAge          time.Duration
}

func DefaultQuarantineConfig() QuarantineConfig {
	return QuarantineConfig{
		MinObservations: DefaultPromotionMinObservations,
		MinAge:          DefaultPromotionMinAge,
		MaxAge:          DefaultStagingMaxAge,
	}
}

type SweepResult struct {
	Promoted int64 `json:"promoted"`
	Expired  int64 `json:"expired"`
}

// QuarantineGate holds newly learned associations back from live reads until
// they have been seen often enough over a long enough period.
type QuarantineGate struct {
	store   domain.QuarantineStore
	cfg     QuarantineConfig
	metrics *metrics.Manager
	logger  *zap.Logger
	now     func() time.Time
}

func NewQuarantineGate(s domain.QuarantineStore, cfg QuarantineConfig, m *metrics.Manager, logger *zap.Logger) *QuarantineGate {
	return &QuarantineGate{
		store:   s,
		cfg:     cfg,
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
}

func (g *QuarantineGate) SetClock(now func() time.Time) {
	g.now = now
}

func (g *QuarantineGate) eligible(s *domain.StagedAssociation, now time.Time) bool {
	return s.ObservationCount >= g.cfg.MinObservations && now.Sub(s.FirstObserved) >= g.cfg.MinAge
}

func (g *QuarantineGate) promote(s *domain.StagedAssociation, now time.Time) {
	s.Status = domain.StagedStatusPromoted
	s.PromotedAt = &now
	g.metrics.RecordQuarantineEvent(string(s.Kind), "promoted", 1)
}

// Observe records one more piece of evidence for a learned key. A staged key
// past its maximum age starts over as a fresh observation.
func (g *QuarantineGate) Observe(ctx context.Context, kind domain.AssociationKind, key1, key2 string) (*domain.StagedAssociation, error) {
	now := g.now()
	s, err := g.store.Get(ctx, kind, key1, key2)
	switch {
	case errors.Is(err, store.ErrNotFound):
		s = &domain.StagedAssociation{
			Kind:          kind,
			Key1:          key1,
			Key2:          key2,
			Status:        domain.StagedStatusStaged,
			FirstObserved: now,
		}
		g.metrics.RecordQuarantineEvent(string(kind), "staged", 1)
	case err != nil:
		return nil, err
	}

	if !s.Promoted() && !g.eligible(s, now) && now.Sub(s.FirstObserved) > g.cfg.MaxAge {
		s.ObservationCount = 0
		s.FirstObserved = now
		g.metrics.RecordQuarantineEvent(string(kind), "expired", 1)
	}

	s.ObservationCount++
	s.LastObserved = now
	if !s.Promoted() && g.eligible(s, now) {
		g.promote(s, now)
	}

	if err := g.store.Save(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// IsLive reports whether a key may influence live reads. Eligible staged keys
// are promoted on the spot.
func (g *QuarantineGate) IsLive(ctx context.Context, kind domain.AssociationKind, key1, key2 string) (bool, error) {
	s, err := g.store.Get(ctx, kind, key1, key2)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if s.Promoted() {
		return true, nil
	}

	now := g.now()
	if !g.eligible(s, now) {
		return false, nil
	}
	g.promote(s, now)
	if err := g.store.Save(ctx, s); err != nil {
		return false, err
	}
	return true, nil
}

// Sweep promotes every eligible staged key and discards staged keys older
// than the maximum staging age.
func (g *QuarantineGate) Sweep(ctx context.Context) (*SweepResult, error) {
	now := g.now()
	res := &SweepResult{}
	promoted, err := g.store.PromoteEligible(ctx, g.cfg.MinObservations, now.Add(-g.cfg.MinAge), now)
	if err != nil {
		return nil, err
	}
	res.Promoted = g.recordByKind("promoted", promoted)

	expired, err := g.store.ExpireStaged(ctx, now.Add(-g.cfg.MaxAge))
	if err != nil {
		return res, err
	}
	res.Expired = g.recordByKind("expired", expired)

	if res.Promoted > 0 || res.Expired > 0 {
		g.logger.Info("quarantine sweep complete",
			zap.Int64("promoted", res.Promoted),
			zap.Int64("expired", res.Expired))
	}
	return res, nil
}

// recordByKind reports per-kind sweep counts and returns their total.
func (g *QuarantineGate) recordByKind(event string, counts map[domain.AssociationKind]int64) int64 {
	var total int64
	for kind, n := range counts {
		g.metrics.RecordQuarantineEvent(string(kind), event, int(n))
		total += n
	}
	return total
}

func (g *QuarantineGate) Counts(ctx context.Context) (map[domain.AssociationKind]domain.StagingCounts, error) {
	return g.store.Counts(ctx)
}

func (g *QuarantineGate) ListAll(ctx context.Context) ([]domain.StagedAssociation, error) {
	return g.store.ListAll(ctx)
}

// Release removes a key from the staging table entirely, so the key has to
// earn promotion again if it is ever re-learned.
func (g *QuarantineGate) Release(ctx context.Context, kind domain.AssociationKind, key1, key2 string) error {
	if err := g.store.Delete(ctx, kind, key1, key2); err != nil {
		return err
	}
	g.metrics.RecordQuarantineEvent(string(kind), "released", 1)
	return nil
}
