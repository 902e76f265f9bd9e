package service

import (
	"context"
	"errors"
	"math"
	"sort"
	"time"

	"github.com/Harshitk-cp/penny/internal/domain"
	"github.com/Harshitk-cp/penny/internal/store"
	"go.uber.org/zap"
)

var (
	ErrInvalidTerm      = errors.New("term is required")
	ErrInvalidContext   = errors.New("invalid context type")
	ErrInvalidState     = errors.New("invalid conversation state")
	ErrInvalidDimension = errors.New("invalid dimension")
	ErrOverrideStrength = errors.New("override strength must be between 0 and 1")
	ErrOverrideNotFound = errors.New("override not found")
)

const (
	DefaultVocabLearningRate    = 0.1
	DefaultVocabCompetitiveRate = 0.05
	DefaultVocabDecayRate       = 0.01

	// NeutralStrength is reported for pairs that have never been observed.
	NeutralStrength = 0.5

	// overrideBlockBelow marks an override as an explicit "never use".
	overrideBlockBelow = 0.1
	weakVocabBelow     = 0.2
)

// maxStrength keeps learned strengths strictly below 1.
var maxStrength = math.Nextafter(1, 0)

type VocabularyConfig struct {
	LearningRate    float64
	CompetitiveRate float64
	DecayRate       float64
}

func DefaultVocabularyConfig() VocabularyConfig {
	return VocabularyConfig{
		LearningRate:    DefaultVocabLearningRate,
		CompetitiveRate: DefaultVocabCompetitiveRate,
		DecayRate:       DefaultVocabDecayRate,
	}
}

// VocabularyAssociator learns which terms belong to which context types.
type VocabularyAssociator struct {
	store  domain.VocabularyStore
	cfg    VocabularyConfig
	logger *zap.Logger
	now    func() time.Time
}

func NewVocabularyAssociator(s domain.VocabularyStore, cfg VocabularyConfig, logger *zap.Logger) *VocabularyAssociator {
	return &VocabularyAssociator{
		store:  s,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

func (v *VocabularyAssociator) SetClock(now func() time.Time) {
	v.now = now
}

// ExtractTerms returns the learnable terms of a message in order of first appearance.
func (v *VocabularyAssociator) ExtractTerms(message string) []string {
	return tokenize(message)
}

// ObserveTermInContext strengthens term in context by lr*(1-w) and weakens the
// same term in every other context it already has. Invalid input is ignored and
// reported as strength 0.
func (v *VocabularyAssociator) ObserveTermInContext(ctx context.Context, term string, c domain.ContextType) (float64, error) {
	term = normalizeTerm(term)
	if term == "" || !c.Valid() {
		return 0, nil
	}

	existing, err := v.store.ListByTerm(ctx, term)
	if err != nil {
		return 0, err
	}

	now := v.now()
	observed := domain.VocabularyAssociation{
		Term:          term,
		Context:       c,
		Strength:      NeutralStrength,
		FirstObserved: now,
	}
	var inhibited []domain.VocabularyAssociation
	for _, a := range existing {
		if a.Context == c {
			observed = a
			continue
		}
		a.Strength = clamp01(a.Strength * (1 - v.cfg.CompetitiveRate))
		inhibited = append(inhibited, a)
	}

	w := observed.Strength
	observed.Strength = math.Min(w+v.cfg.LearningRate*(1-w), maxStrength)
	observed.ObservationCount++
	observed.LastUpdated = now

	if err := v.store.SaveObservation(ctx, observed, inhibited); err != nil {
		return 0, err
	}
	return observed.Strength, nil
}

// ObserveConversation observes every extracted term of message in context c.
// It stops at the first persistence failure and returns the terms observed so far.
func (v *VocabularyAssociator) ObserveConversation(ctx context.Context, message string, c domain.ContextType) ([]string, error) {
	if !c.Valid() {
		return nil, nil
	}
	var observed []string
	for _, term := range v.ExtractTerms(message) {
		if _, err := v.ObserveTermInContext(ctx, term, c); err != nil {
			return observed, err
		}
		observed = append(observed, term)
	}
	return observed, nil
}

// Override returns the override for a pair, or nil when none exists.
func (v *VocabularyAssociator) Override(ctx context.Context, term string, c domain.ContextType) (*domain.VocabularyOverride, error) {
	o, err := v.store.GetOverride(ctx, normalizeTerm(term), c)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return o, nil
}

// GetAssociationStrength returns the override strength if present, else the
// learned strength, else the neutral default.
func (v *VocabularyAssociator) GetAssociationStrength(ctx context.Context, term string, c domain.ContextType) (float64, error) {
	term = normalizeTerm(term)
	if term == "" || !c.Valid() {
		return 0, nil
	}

	o, err := v.Override(ctx, term, c)
	if err != nil {
		return 0, err
	}
	if o != nil {
		return o.Strength, nil
	}
	return v.learnedStrength(ctx, term, c)
}

func (v *VocabularyAssociator) learnedStrength(ctx context.Context, term string, c domain.ContextType) (float64, error) {
	a, err := v.store.Get(ctx, term, c)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return NeutralStrength, nil
		}
		return 0, err
	}
	return a.Strength, nil
}

// ShouldUseTerm reports whether term is appropriate in context c. An override
// below 0.1 always blocks the term.
func (v *VocabularyAssociator) ShouldUseTerm(ctx context.Context, term string, c domain.ContextType, threshold float64) (bool, error) {
	term = normalizeTerm(term)
	if term == "" || !c.Valid() {
		return false, nil
	}

	o, err := v.Override(ctx, term, c)
	if err != nil {
		return false, err
	}
	if o != nil {
		return overrideAllows(o, threshold), nil
	}

	w, err := v.learnedStrength(ctx, term, c)
	if err != nil {
		return false, err
	}
	return w >= threshold, nil
}

func overrideAllows(o *domain.VocabularyOverride, threshold float64) bool {
	if o.Strength < overrideBlockBelow {
		return false
	}
	return o.Strength >= threshold
}

// GetTopContextsForTerm lists the contexts a term is most associated with,
// strongest first.
func (v *VocabularyAssociator) GetTopContextsForTerm(ctx context.Context, term string, limit int) ([]domain.ContextStrength, error) {
	term = normalizeTerm(term)
	if term == "" {
		return nil, nil
	}
	rows, err := v.store.ListByTerm(ctx, term)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Strength != rows[j].Strength {
			return rows[i].Strength > rows[j].Strength
		}
		return rows[i].Context < rows[j].Context
	})
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}

	out := make([]domain.ContextStrength, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.ContextStrength{Context: r.Context, Strength: r.Strength})
	}
	return out, nil
}

// GetTermsForContext lists learned terms in c at or above minStrength, strongest first.
func (v *VocabularyAssociator) GetTermsForContext(ctx context.Context, c domain.ContextType, minStrength float64, limit int) ([]domain.TermStrength, error) {
	if !c.Valid() {
		return nil, nil
	}
	rows, err := v.store.ListByContext(ctx, c, minStrength, limit)
	if err != nil {
		return nil, err
	}
	out := make([]domain.TermStrength, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.TermStrength{Term: r.Term, Strength: r.Strength})
	}
	return out, nil
}

// ApplyTemporalDecay scales down associations untouched for daysInactive days
// by (1 - rate*days), floored at zero.
func (v *VocabularyAssociator) ApplyTemporalDecay(ctx context.Context, daysInactive int) (int64, error) {
	if daysInactive <= 0 {
		return 0, nil
	}
	cutoff := v.now().Add(-time.Duration(daysInactive) * 24 * time.Hour)
	factor := math.Max(0, 1-v.cfg.DecayRate*float64(daysInactive))
	n, err := v.store.DecayStale(ctx, cutoff, factor)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		v.logger.Info("vocabulary decay applied",
			zap.Int64("associations", n),
			zap.Float64("factor", factor))
	}
	return n, nil
}

// PruneWeakAssociations deletes associations that are both weak and rarely observed.
func (v *VocabularyAssociator) PruneWeakAssociations(ctx context.Context, minStrength float64, minObservations int) (int64, error) {
	n, err := v.store.PruneWeak(ctx, minStrength, minObservations)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		v.logger.Info("vocabulary associations pruned", zap.Int64("removed", n))
	}
	return n, nil
}

func (v *VocabularyAssociator) AddOverride(ctx context.Context, term string, c domain.ContextType, strength float64, reason string) (*domain.VocabularyOverride, error) {
	term = normalizeTerm(term)
	if term == "" {
		return nil, ErrInvalidTerm
	}
	if !c.Valid() {
		return nil, ErrInvalidContext
	}
	if strength < 0 || strength > 1 || math.IsNaN(strength) {
		return nil, ErrOverrideStrength
	}

	o := &domain.VocabularyOverride{
		Term:     term,
		Context:  c,
		Strength: strength,
		Reason:   reason,
	}
	if err := v.store.UpsertOverride(ctx, o); err != nil {
		return nil, err
	}
	v.logger.Info("vocabulary override set",
		zap.String("term", term),
		zap.String("context", string(c)),
		zap.Float64("strength", strength))
	return o, nil
}

func (v *VocabularyAssociator) RemoveOverride(ctx context.Context, term string, c domain.ContextType) error {
	term = normalizeTerm(term)
	if term == "" {
		return ErrInvalidTerm
	}
	if !c.Valid() {
		return ErrInvalidContext
	}
	if err := v.store.DeleteOverride(ctx, term, c); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrOverrideNotFound
		}
		return err
	}
	return nil
}

func (v *VocabularyAssociator) ListOverrides(ctx context.Context) ([]domain.VocabularyOverride, error) {
	return v.store.ListOverrides(ctx)
}

func (v *VocabularyAssociator) ListAll(ctx context.Context) ([]domain.VocabularyAssociation, error) {
	return v.store.ListAll(ctx)
}

// Stats summarizes the vocabulary table; recent observations cover the last 24 hours.
func (v *VocabularyAssociator) Stats(ctx context.Context) (*domain.VocabularyStats, error) {
	return v.store.Stats(ctx, weakVocabBelow, v.now().Add(-24*time.Hour))
}

func clamp01(x float64) float64 {
	return math.Max(0, math.Min(1, x))
}
