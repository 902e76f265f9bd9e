package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/Harshitk-cp/penny/internal/domain"
	"github.com/Harshitk-cp/penny/internal/store"
	"go.uber.org/zap"
)

const (
	DefaultDimLearningRate = 0.05
	DefaultDimDecayRate    = 0.01

	// Values at or beyond these bounds count as an active signal.
	activeHigh = 0.7
	activeLow  = 0.3

	minPatternDimensions = 3
	predictionCandidates = 10
	weakDimBelow         = 0.1
)

type DimensionConfig struct {
	LearningRate float64
	DecayRate    float64
}

func DefaultDimensionConfig() DimensionConfig {
	return DimensionConfig{
		LearningRate: DefaultDimLearningRate,
		DecayRate:    DefaultDimDecayRate,
	}
}

// DimensionAssociator learns which personality dimensions move together.
type DimensionAssociator struct {
	store  domain.DimensionStore
	cfg    DimensionConfig
	logger *zap.Logger
	now    func() time.Time
}

func NewDimensionAssociator(s domain.DimensionStore, cfg DimensionConfig, logger *zap.Logger) *DimensionAssociator {
	return &DimensionAssociator{
		store:  s,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

func (d *DimensionAssociator) SetClock(now func() time.Time) {
	d.now = now
}

// IsActive reports whether a dimension value is far enough from neutral to learn from.
func IsActive(value float64) bool {
	return value >= activeHigh || value <= activeLow
}

// Intensity maps distance from neutral onto 0..1.
func Intensity(value float64) float64 {
	return math.Abs(value-0.5) * 2
}

func direction(value float64) float64 {
	if value >= 0.5 {
		return 1
	}
	return -1
}

// ActiveDimensions filters dims to recognized, in-range, active values.
func ActiveDimensions(dims map[domain.Dimension]float64) map[domain.Dimension]float64 {
	active := make(map[domain.Dimension]float64)
	for dim, v := range dims {
		if !dim.Valid() || math.IsNaN(v) || v < 0 || v > 1 {
			continue
		}
		if IsActive(v) {
			active[dim] = v
		}
	}
	return active
}

// ActivePairs lists every ordered pair of active dimensions in dims.
func ActivePairs(dims map[domain.Dimension]float64) [][2]domain.Dimension {
	names := sortedDimensions(ActiveDimensions(dims))
	var pairs [][2]domain.Dimension
	for i := 0; i < len(names); i++ {
		for j := i + 1; j < len(names); j++ {
			pairs = append(pairs, [2]domain.Dimension{names[i], names[j]})
		}
	}
	return pairs
}

func sortedDimensions(dims map[domain.Dimension]float64) []domain.Dimension {
	names := make([]domain.Dimension, 0, len(dims))
	for dim := range dims {
		names = append(names, dim)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// ObserveActivations strengthens every pair of simultaneously active dimensions
// by lr*intensity1*intensity2, capped at 1, and tracks whether the pair tends to
// move in the same or opposite directions. Three or more active dimensions are
// also recorded as a multi-dimension pattern. Returns the number of pairs updated.
func (d *DimensionAssociator) ObserveActivations(ctx context.Context, dims map[domain.Dimension]float64, satisfaction *float64) (int, error) {
	active := ActiveDimensions(dims)
	if len(active) < 2 {
		return 0, nil
	}

	now := d.now()
	var updated []domain.DimensionAssociation
	for _, pair := range ActivePairs(active) {
		a, b := pair[0], pair[1]
		assoc, err := d.store.Get(ctx, a, b)
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				return 0, err
			}
			assoc = &domain.DimensionAssociation{Dim1: a, Dim2: b, FirstObserved: now}
		}

		va, vb := active[a], active[b]
		assoc.Strength = math.Min(1, assoc.Strength+d.cfg.LearningRate*Intensity(va)*Intensity(vb))

		sign := direction(va) * direction(vb)
		n := float64(assoc.ObservationCount)
		assoc.Polarity = (assoc.Polarity*n + sign) / (n + 1)
		assoc.ObservationCount++
		assoc.LastUpdated = now
		updated = append(updated, *assoc)
	}

	if err := d.store.SavePairs(ctx, updated); err != nil {
		return 0, err
	}

	if len(active) >= minPatternDimensions {
		if err := d.recordPattern(ctx, active, satisfaction, now); err != nil {
			return len(updated), err
		}
	}
	return len(updated), nil
}

// PatternID derives a stable identifier from a set of dimension names.
func PatternID(dims []domain.Dimension) string {
	names := make([]string, len(dims))
	for i, dim := range dims {
		names[i] = string(dim)
	}
	sort.Strings(names)
	sum := sha256.Sum256([]byte(strings.Join(names, ",")))
	return hex.EncodeToString(sum[:8])
}

func (d *DimensionAssociator) recordPattern(ctx context.Context, active map[domain.Dimension]float64, satisfaction *float64, now time.Time) error {
	id := PatternID(sortedDimensions(active))
	p, err := d.store.GetPattern(ctx, id)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		p = &domain.MultiDimPattern{PatternID: id, FirstSeen: now}
	}

	p.AvgSatisfaction = runningMean(p.AvgSatisfaction, p.Frequency, satisfaction)
	p.Frequency++
	p.Dimensions = active
	p.LastSeen = now
	return d.store.SavePattern(ctx, p)
}

// runningMean folds sample into a mean over n previous samples. A nil sample
// leaves the mean untouched.
func runningMean(mean *float64, n int, sample *float64) *float64 {
	if sample == nil {
		return mean
	}
	if mean == nil || n <= 0 {
		v := *sample
		return &v
	}
	v := (*mean*float64(n) + *sample) / float64(n+1)
	return &v
}

// GetCoactivationStrength returns the learned strength for a pair, 0 if unknown.
func (d *DimensionAssociator) GetCoactivationStrength(ctx context.Context, a, b domain.Dimension) (float64, error) {
	if !a.Valid() || !b.Valid() || a == b {
		return 0, nil
	}
	assoc, err := d.store.Get(ctx, a, b)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return assoc.Strength, nil
}

// PredictCoactivations predicts values for dimensions absent from known. Each
// active known dimension pushes its partners away from neutral by the pair's
// strength, in the direction given by the pair's polarity. Several sources for
// one target are merged by a confidence-weighted average. Targets whose merged
// confidence falls below threshold are dropped.
func (d *DimensionAssociator) PredictCoactivations(ctx context.Context, known map[domain.Dimension]float64, threshold float64) (map[domain.Dimension]domain.DimensionPrediction, error) {
	active := ActiveDimensions(known)

	type accum struct {
		weight, value, conf float64
		sources             []domain.Dimension
	}
	acc := make(map[domain.Dimension]*accum)

	for _, src := range sortedDimensions(active) {
		v := active[src]
		assocs, err := d.store.ListForDimension(ctx, src, predictionCandidates)
		if err != nil {
			return nil, err
		}
		for _, a := range assocs {
			target := a.Other(src)
			if _, ok := known[target]; ok || !target.Valid() || a.Strength <= 0 {
				continue
			}

			dir := direction(v)
			if a.Polarity < 0 {
				dir = -dir
			}
			value := clamp01(0.5 + dir*0.5*a.Strength*math.Abs(a.Polarity))
			conf := a.Strength * Intensity(v)
			if conf <= 0 {
				continue
			}

			t, ok := acc[target]
			if !ok {
				t = &accum{}
				acc[target] = t
			}
			t.weight += conf
			t.value += value * conf
			t.conf += conf * conf
			t.sources = append(t.sources, src)
		}
	}

	out := make(map[domain.Dimension]domain.DimensionPrediction)
	for target, t := range acc {
		conf := t.conf / t.weight
		if conf < threshold {
			continue
		}
		out[target] = domain.DimensionPrediction{
			Value:      t.value / t.weight,
			Confidence: conf,
			Sources:    t.sources,
		}
	}
	return out, nil
}

func (d *DimensionAssociator) GetMultiDimPatterns(ctx context.Context, minFrequency int) ([]domain.MultiDimPattern, error) {
	return d.store.ListPatterns(ctx, minFrequency)
}

// DetectNegativeCorrelations returns pairs that mostly move in opposite
// directions, most negative first.
func (d *DimensionAssociator) DetectNegativeCorrelations(ctx context.Context, minObservations int) ([]domain.DimensionAssociation, error) {
	all, err := d.store.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	var out []domain.DimensionAssociation
	for _, a := range all {
		if a.Polarity < 0 && a.ObservationCount >= minObservations {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Polarity < out[j].Polarity })
	return out, nil
}

func (d *DimensionAssociator) ApplyTemporalDecay(ctx context.Context, daysInactive int) (int64, error) {
	if daysInactive <= 0 {
		return 0, nil
	}
	cutoff := d.now().Add(-time.Duration(daysInactive) * 24 * time.Hour)
	factor := math.Max(0, 1-d.cfg.DecayRate*float64(daysInactive))
	n, err := d.store.DecayStale(ctx, cutoff, factor)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		d.logger.Info("dimension decay applied",
			zap.Int64("pairs", n),
			zap.Float64("factor", factor))
	}
	return n, nil
}

func (d *DimensionAssociator) PruneWeakAssociations(ctx context.Context, minStrength float64, minObservations int) (int64, error) {
	n, err := d.store.PruneWeak(ctx, minStrength, minObservations)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		d.logger.Info("dimension pairs pruned", zap.Int64("removed", n))
	}
	return n, nil
}

func (d *DimensionAssociator) ListAll(ctx context.Context) ([]domain.DimensionAssociation, error) {
	return d.store.ListAll(ctx)
}

func (d *DimensionAssociator) Stats(ctx context.Context) (*domain.DimensionStats, error) {
	return d.store.Stats(ctx, weakDimBelow)
}
