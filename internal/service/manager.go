package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Harshitk-cp/penny/internal/buildconfig"
	"github.com/Harshitk-cp/penny/internal/domain"
	"github.com/Harshitk-cp/penny/internal/metrics"
	"github.com/Harshitk-cp/penny/internal/store"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

const (
	DefaultCacheSize            = 1000
	DefaultCacheRefreshInterval = 10
	DefaultUseTermThreshold     = 0.65
	DefaultPredictionThreshold  = 0.1

	likelyNextStates = 5
	vocabularyLimit  = 50

	// Step names used in TurnResult.Errors, logs and metrics.
	StepTransition   = "state_transition"
	StepVocabulary   = "vocabulary"
	StepDimensions   = "dimensions"
	StepPredictions  = "predictions"
	StepAnticipation = "anticipation"
	StepQuarantine   = "quarantine"
)

type ManagerConfig struct {
	TurnMaxWrites        int
	TurnMaxDuration      time.Duration
	CacheSize            int
	CacheRefreshInterval int
	PredictionThreshold  float64
}

func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		TurnMaxWrites:        DefaultTurnMaxWrites,
		TurnMaxDuration:      DefaultTurnMaxDuration,
		CacheSize:            DefaultCacheSize,
		CacheRefreshInterval: DefaultCacheRefreshInterval,
		PredictionThreshold:  DefaultPredictionThreshold,
	}
}

// LearningManager is the single entry point into the learning engine. It runs
// one turn at a time, drives each learner, enforces the per-turn budget and
// serves cached, quarantine-filtered reads to response generation.
type LearningManager struct {
	vocab   *VocabularyAssociator
	dims    *DimensionAssociator
	seq     *SequenceLearner
	gate    *QuarantineGate
	metrics *metrics.Manager
	logger  *zap.Logger
	cfg     ManagerConfig
	now     func() time.Time

	mu                sync.Mutex
	conversationCount int64
	previousState     domain.ConversationState
	sessionID         uuid.UUID
	sessionStart      time.Time

	termCache       *lru.Cache[string, bool]
	predictionCache *lru.Cache[string, map[domain.Dimension]domain.DimensionPrediction]
	cacheHits       atomic.Int64
	cacheMisses     atomic.Int64

	turnsProcessed  atomic.Int64
	turnsOverBudget atomic.Int64
	writesSkipped   atomic.Int64
	stepErrorsMu    sync.Mutex
	stepErrors      map[string]int64
}

func NewLearningManager(
	vocab *VocabularyAssociator,
	dims *DimensionAssociator,
	seq *SequenceLearner,
	gate *QuarantineGate,
	m *metrics.Manager,
	cfg ManagerConfig,
	logger *zap.Logger,
) (*LearningManager, error) {
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = DefaultCacheSize
	}
	termCache, err := lru.New[string, bool](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("term cache: %w", err)
	}
	predictionCache, err := lru.New[string, map[domain.Dimension]domain.DimensionPrediction](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("prediction cache: %w", err)
	}

	return &LearningManager{
		vocab:           vocab,
		dims:            dims,
		seq:             seq,
		gate:            gate,
		metrics:         m,
		logger:          logger,
		cfg:             cfg,
		now:             time.Now,
		sessionID:       uuid.New(),
		sessionStart:    time.Now(),
		termCache:       termCache,
		predictionCache: predictionCache,
		stepErrors:      make(map[string]int64),
	}, nil
}

// SetClock replaces the clock of the manager and every learner it drives.
func (m *LearningManager) SetClock(now func() time.Time) {
	m.now = now
	m.vocab.SetClock(now)
	m.dims.SetClock(now)
	m.seq.SetClock(now)
	m.gate.SetClock(now)
}

type turnRun struct {
	m      *LearningManager
	result *domain.TurnResult
	budget *TurnBudget
}

func (r *turnRun) fail(step string, err error) {
	r.result.Errors = append(r.result.Errors, domain.StepError{Step: step, Message: err.Error()})
	r.m.recordStepError(step)
	r.m.logger.Warn("learning step failed",
		zap.String("step", step),
		zap.String("turn_id", r.result.TurnID.String()),
		zap.Error(err))
}

func (r *turnRun) stage(ctx context.Context, kind domain.AssociationKind, key1, key2 string) {
	if _, err := r.m.gate.Observe(ctx, kind, key1, key2); err != nil {
		r.fail(StepQuarantine, err)
	}
}

// ProcessConversationTurn runs every learning step for one completed turn.
// It never fails: step errors are collected in the result and logged, and
// steps beyond the turn budget are skipped.
func (m *LearningManager) ProcessConversationTurn(ctx context.Context, turn domain.Turn) *domain.TurnResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	start := m.now()
	run := &turnRun{
		m: m,
		result: &domain.TurnResult{
			TurnID:      uuid.New(),
			Predictions: make(map[domain.Dimension]domain.DimensionPrediction),
		},
		budget: NewTurnBudget(m.cfg.TurnMaxWrites, m.cfg.TurnMaxDuration, m.now),
	}
	res := run.result
	tc := turn.Context
	if tc.Satisfaction != nil && (*tc.Satisfaction < 0 || *tc.Satisfaction > 1 || math.IsNaN(*tc.Satisfaction)) {
		tc.Satisfaction = nil
	}

	res.ContextType = DetermineContextType(turn.UserMessage, tc)
	res.CurrentState = m.seq.ClassifyConversationState(turn.UserMessage, tc)

	m.observeTransition(ctx, run, tc)
	m.observeVocabulary(ctx, run, turn.UserMessage)
	m.observeDimensions(ctx, run, turn.ActiveDimensions, tc.Satisfaction)
	m.gatherPredictions(ctx, run, turn.ActiveDimensions)

	m.previousState = res.CurrentState
	m.conversationCount++
	res.ConversationCount = m.conversationCount
	if m.cfg.CacheRefreshInterval > 0 && m.conversationCount%int64(m.cfg.CacheRefreshInterval) == 0 {
		m.purgeCaches()
	}

	res.WritesApplied = run.budget.Writes()
	res.WritesSkipped = run.budget.Skipped()
	res.BudgetExceeded = run.budget.Exceeded()
	latency := m.now().Sub(start)
	res.LatencyMs = float64(latency.Microseconds()) / 1000

	m.turnsProcessed.Add(1)
	m.metrics.RecordTurn(string(res.CurrentState), latency)
	if res.BudgetExceeded != "" {
		m.turnsOverBudget.Add(1)
		m.writesSkipped.Add(int64(res.WritesSkipped))
		m.metrics.RecordBudgetSkip(res.BudgetExceeded, res.WritesSkipped)
		m.logger.Debug("turn budget exhausted",
			zap.String("turn_id", res.TurnID.String()),
			zap.String("reason", res.BudgetExceeded),
			zap.Int("skipped", res.WritesSkipped),
			zap.Duration("elapsed", run.budget.Elapsed()))
	}
	return res
}

func (m *LearningManager) observeTransition(ctx context.Context, run *turnRun, tc domain.TurnContext) {
	state := run.result.CurrentState
	if m.previousState == "" {
		m.seq.NoteState(state)
		return
	}
	if !run.budget.Allow() {
		m.seq.NoteState(state)
		return
	}

	n, err := m.seq.ObserveTransition(ctx, m.previousState, state, tc.Satisfaction)
	if n == 0 {
		m.seq.NoteState(state)
	}
	if err != nil {
		run.fail(StepTransition, err)
	}
	if n == 0 {
		return
	}
	run.result.StateTransitions = 1
	m.metrics.RecordLearnerWrite("sequence")
	run.stage(ctx, domain.KindTransition, string(m.previousState), string(state))
}

// observeVocabulary learns every term of the message as one batch, which
// costs a single budget write however many terms the message carries.
func (m *LearningManager) observeVocabulary(ctx context.Context, run *turnRun, message string) {
	if len(m.vocab.ExtractTerms(message)) == 0 || !run.budget.Allow() {
		return
	}
	c := run.result.ContextType
	observed, err := m.vocab.ObserveConversation(ctx, message, c)
	if err != nil {
		run.fail(StepVocabulary, err)
	}
	if len(observed) == 0 {
		return
	}
	run.result.VocabObservations = len(observed)
	m.metrics.RecordLearnerWrite("vocabulary")
	for _, term := range observed {
		run.stage(ctx, domain.KindVocabulary, term, string(c))
	}
}

func (m *LearningManager) observeDimensions(ctx context.Context, run *turnRun, dims map[domain.Dimension]float64, satisfaction *float64) {
	pairs := ActivePairs(dims)
	if len(pairs) == 0 || !run.budget.Allow() {
		return
	}
	n, err := m.dims.ObserveActivations(ctx, dims, satisfaction)
	if err != nil {
		run.fail(StepDimensions, err)
	}
	if n == 0 {
		return
	}
	run.result.CoactivationsUpdated = n
	m.metrics.RecordLearnerWrite("dimension")
	for _, p := range pairs {
		run.stage(ctx, domain.KindDimension, string(p[0]), string(p[1]))
	}
}

func (m *LearningManager) gatherPredictions(ctx context.Context, run *turnRun, dims map[domain.Dimension]float64) {
	if len(ActiveDimensions(dims)) > 0 && run.budget.TimeLeft() {
		preds, err := m.livePredictions(ctx, dims)
		if err != nil {
			run.fail(StepPredictions, err)
		} else {
			run.result.Predictions = preds
		}
	}

	if !run.budget.TimeLeft() {
		return
	}
	state := run.result.CurrentState
	anticipated, err := m.seq.AnticipateUserNeed(ctx, state, m.seq.History())
	if err != nil {
		run.fail(StepAnticipation, err)
		return
	}
	if anticipated == nil {
		return
	}
	live, err := m.gate.IsLive(ctx, domain.KindTransition, string(state), string(anticipated.PredictedState))
	if err != nil {
		run.fail(StepAnticipation, err)
		return
	}
	if live {
		run.result.Anticipated = anticipated
	}
}

// livePredictions predicts co-activations and keeps only targets backed by at
// least one promoted pair.
func (m *LearningManager) livePredictions(ctx context.Context, known map[domain.Dimension]float64) (map[domain.Dimension]domain.DimensionPrediction, error) {
	preds, err := m.dims.PredictCoactivations(ctx, known, m.cfg.PredictionThreshold)
	if err != nil {
		return nil, err
	}
	out := make(map[domain.Dimension]domain.DimensionPrediction, len(preds))
	for target, p := range preds {
		var sources []domain.Dimension
		for _, src := range p.Sources {
			d1, d2 := domain.OrderedPair(src, target)
			live, err := m.gate.IsLive(ctx, domain.KindDimension, string(d1), string(d2))
			if err != nil {
				return nil, err
			}
			if live {
				sources = append(sources, src)
			}
		}
		if len(sources) == 0 {
			continue
		}
		p.Sources = sources
		out[target] = p
	}
	return out, nil
}

func (m *LearningManager) recordStepError(step string) {
	m.stepErrorsMu.Lock()
	m.stepErrors[step]++
	m.stepErrorsMu.Unlock()
	m.metrics.RecordStepError(step)
}

func (m *LearningManager) stepErrorCounts() map[string]int64 {
	m.stepErrorsMu.Lock()
	defer m.stepErrorsMu.Unlock()
	out := make(map[string]int64, len(m.stepErrors))
	for k, v := range m.stepErrors {
		out[k] = v
	}
	return out
}

func (m *LearningManager) purgeCaches() {
	m.termCache.Purge()
	m.predictionCache.Purge()
}

func (m *LearningManager) cacheLookup(cache string, hit bool) {
	if hit {
		m.cacheHits.Add(1)
	} else {
		m.cacheMisses.Add(1)
	}
	m.metrics.RecordCacheLookup(cache, hit)
}

// ShouldUseTermCached answers whether term fits context. Overrides always
// apply; learned strengths count only once promoted, otherwise the neutral
// default is compared against threshold. Failures fall back to the default.
func (m *LearningManager) ShouldUseTermCached(ctx context.Context, term string, c domain.ContextType, threshold float64) bool {
	term = normalizeTerm(term)
	if term == "" || !c.Valid() {
		return false
	}

	key := term + "|" + string(c) + "|" + exactFloat(threshold)
	if v, ok := m.termCache.Get(key); ok {
		m.cacheLookup("term", true)
		return v
	}
	m.cacheLookup("term", false)

	use, err := m.shouldUseLive(ctx, term, c, threshold)
	if err != nil {
		m.recordStepError("should_use_term")
		m.logger.Warn("term lookup failed",
			zap.String("term", term),
			zap.String("context", string(c)),
			zap.Error(err))
		return NeutralStrength >= threshold
	}
	m.termCache.Add(key, use)
	return use
}

func (m *LearningManager) shouldUseLive(ctx context.Context, term string, c domain.ContextType, threshold float64) (bool, error) {
	o, err := m.vocab.Override(ctx, term, c)
	if err != nil {
		return false, err
	}
	if o != nil {
		return overrideAllows(o, threshold), nil
	}

	live, err := m.gate.IsLive(ctx, domain.KindVocabulary, term, string(c))
	if err != nil {
		return false, err
	}
	if !live {
		return NeutralStrength >= threshold, nil
	}
	return m.vocab.ShouldUseTerm(ctx, term, c, threshold)
}

// exactFloat renders f without rounding so nearby values never share a cache key.
func exactFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// GetDimensionPredictionsFor predicts the other dimensions from a single known value.
func (m *LearningManager) GetDimensionPredictionsFor(ctx context.Context, dim domain.Dimension, value float64) map[domain.Dimension]domain.DimensionPrediction {
	out := make(map[domain.Dimension]domain.DimensionPrediction)
	if !dim.Valid() || math.IsNaN(value) || value < 0 || value > 1 {
		return out
	}

	key := string(dim) + "|" + exactFloat(value)
	if v, ok := m.predictionCache.Get(key); ok {
		m.cacheLookup("prediction", true)
		return v
	}
	m.cacheLookup("prediction", false)

	preds, err := m.livePredictions(ctx, map[domain.Dimension]float64{dim: value})
	if err != nil {
		m.recordStepError(StepPredictions)
		m.logger.Warn("prediction lookup failed", zap.String("dimension", string(dim)), zap.Error(err))
		return out
	}
	m.predictionCache.Add(key, preds)
	return preds
}

// GetLikelyNextStates ranks promoted successors of state using the session history.
func (m *LearningManager) GetLikelyNextStates(ctx context.Context, state domain.ConversationState) []domain.StateProbability {
	if !state.Valid() {
		return nil
	}
	preds, err := m.seq.PredictNextStates(ctx, state, m.seq.History(), 0)
	if err != nil {
		m.recordStepError("next_states")
		m.logger.Warn("next state lookup failed", zap.String("state", string(state)), zap.Error(err))
		return nil
	}

	var out []domain.StateProbability
	for _, p := range preds {
		live, err := m.gate.IsLive(ctx, domain.KindTransition, string(state), string(p.State))
		if err != nil {
			m.logger.Warn("quarantine lookup failed", zap.Error(err))
			return out
		}
		if live {
			out = append(out, p)
		}
		if len(out) == likelyNextStates {
			break
		}
	}
	return out
}

// GetVocabularyForContext lists promoted terms for c at or above minStrength.
func (m *LearningManager) GetVocabularyForContext(ctx context.Context, c domain.ContextType, minStrength float64) []domain.TermStrength {
	if !c.Valid() {
		return nil
	}
	terms, err := m.vocab.GetTermsForContext(ctx, c, minStrength, vocabularyLimit)
	if err != nil {
		m.recordStepError("vocabulary_for_context")
		m.logger.Warn("vocabulary lookup failed", zap.String("context", string(c)), zap.Error(err))
		return nil
	}

	var out []domain.TermStrength
	for _, t := range terms {
		live, err := m.gate.IsLive(ctx, domain.KindVocabulary, t.Term, string(c))
		if err != nil {
			m.logger.Warn("quarantine lookup failed", zap.Error(err))
			return out
		}
		if live {
			out = append(out, t)
		}
	}
	return out
}

func (m *LearningManager) TopContextsForTerm(ctx context.Context, term string, limit int) ([]domain.ContextStrength, error) {
	return m.vocab.GetTopContextsForTerm(ctx, term, limit)
}

func (m *LearningManager) MultiDimPatterns(ctx context.Context, minFrequency int) ([]domain.MultiDimPattern, error) {
	return m.dims.GetMultiDimPatterns(ctx, minFrequency)
}

func (m *LearningManager) NegativeCorrelations(ctx context.Context, minObservations int) ([]domain.DimensionAssociation, error) {
	return m.dims.DetectNegativeCorrelations(ctx, minObservations)
}

func (m *LearningManager) RecurringPatterns(ctx context.Context, minFrequency int) ([]domain.RecurringPattern, error) {
	return m.seq.DetectRecurringPatterns(ctx, minFrequency)
}

func (m *LearningManager) AddOverride(ctx context.Context, term string, c domain.ContextType, strength float64, reason string) (*domain.VocabularyOverride, error) {
	o, err := m.vocab.AddOverride(ctx, term, c, strength, reason)
	if err != nil {
		return nil, err
	}
	m.termCache.Purge()
	return o, nil
}

func (m *LearningManager) RemoveOverride(ctx context.Context, term string, c domain.ContextType) error {
	if err := m.vocab.RemoveOverride(ctx, term, c); err != nil {
		return err
	}
	m.termCache.Purge()
	return nil
}

func (m *LearningManager) ListOverrides(ctx context.Context) ([]domain.VocabularyOverride, error) {
	return m.vocab.ListOverrides(ctx)
}

// ResetSession forgets the previous state and history so the next turn starts
// a new session without recording a transition.
func (m *LearningManager) ResetSession() *SessionInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.previousState = ""
	m.seq.ResetHistory()
	m.sessionID = uuid.New()
	m.sessionStart = m.now()
	m.logger.Info("learning session reset", zap.String("session_id", m.sessionID.String()))
	return m.sessionInfoLocked()
}

type SessionInfo struct {
	SessionID         uuid.UUID                  `json:"session_id"`
	StartedAt         time.Time                  `json:"started_at"`
	ConversationCount int64                      `json:"conversation_count"`
	PreviousState     domain.ConversationState   `json:"previous_state,omitempty"`
	History           []domain.ConversationState `json:"history"`
}

func (m *LearningManager) sessionInfoLocked() *SessionInfo {
	return &SessionInfo{
		SessionID:         m.sessionID,
		StartedAt:         m.sessionStart,
		ConversationCount: m.conversationCount,
		PreviousState:     m.previousState,
		History:           m.seq.History(),
	}
}

func (m *LearningManager) Session() *SessionInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionInfoLocked()
}

type DecayReport struct {
	DaysInactive int                `json:"days_inactive"`
	Vocabulary   int64              `json:"vocabulary"`
	Dimensions   int64              `json:"dimensions"`
	Transitions  int64              `json:"transitions"`
	Released     int64              `json:"released"`
	Errors       []domain.StepError `json:"errors,omitempty"`
}

// ApplyTemporalDecayAll decays every learner's stale associations.
func (m *LearningManager) ApplyTemporalDecayAll(ctx context.Context, daysInactive int) *DecayReport {
	r := &DecayReport{DaysInactive: daysInactive}
	var err error
	if r.Vocabulary, err = m.vocab.ApplyTemporalDecay(ctx, daysInactive); err != nil {
		r.Errors = append(r.Errors, m.maintenanceError("decay_vocabulary", err))
	}
	if r.Dimensions, err = m.dims.ApplyTemporalDecay(ctx, daysInactive); err != nil {
		r.Errors = append(r.Errors, m.maintenanceError("decay_dimensions", err))
	}
	if r.Transitions, err = m.seq.ApplyTemporalDecay(ctx, daysInactive); err != nil {
		r.Errors = append(r.Errors, m.maintenanceError("decay_transitions", err))
	}
	if r.Released, err = m.releaseOrphans(ctx); err != nil {
		r.Errors = append(r.Errors, m.maintenanceError("release_staged", err))
	}
	m.purgeCaches()
	return r
}

type PruneReport struct {
	MinStrength     float64            `json:"min_strength"`
	MinObservations int                `json:"min_observations"`
	Vocabulary      int64              `json:"vocabulary"`
	Dimensions      int64              `json:"dimensions"`
	Released        int64              `json:"released"`
	Errors          []domain.StepError `json:"errors,omitempty"`
}

// PruneAll deletes associations that are both weak and rarely observed.
func (m *LearningManager) PruneAll(ctx context.Context, minStrength float64, minObservations int) *PruneReport {
	r := &PruneReport{MinStrength: minStrength, MinObservations: minObservations}
	var err error
	if r.Vocabulary, err = m.vocab.PruneWeakAssociations(ctx, minStrength, minObservations); err != nil {
		r.Errors = append(r.Errors, m.maintenanceError("prune_vocabulary", err))
	}
	if r.Dimensions, err = m.dims.PruneWeakAssociations(ctx, minStrength, minObservations); err != nil {
		r.Errors = append(r.Errors, m.maintenanceError("prune_dimensions", err))
	}
	if r.Released, err = m.releaseOrphans(ctx); err != nil {
		r.Errors = append(r.Errors, m.maintenanceError("release_staged", err))
	}
	m.purgeCaches()
	return r
}

type assocKey struct {
	kind       domain.AssociationKind
	key1, key2 string
}

// releaseOrphans drops staging rows whose learned association has been
// deleted, so a re-learned key goes back through quarantine. Staging rows are
// listed before learner rows: a learner row is always written before its key
// is staged.
func (m *LearningManager) releaseOrphans(ctx context.Context) (int64, error) {
	staged, err := m.gate.ListAll(ctx)
	if err != nil || len(staged) == 0 {
		return 0, err
	}

	learned := make(map[assocKey]bool)
	vocab, err := m.vocab.ListAll(ctx)
	if err != nil {
		return 0, err
	}
	for _, a := range vocab {
		learned[assocKey{domain.KindVocabulary, a.Term, string(a.Context)}] = true
	}
	dims, err := m.dims.ListAll(ctx)
	if err != nil {
		return 0, err
	}
	for _, a := range dims {
		d1, d2 := domain.OrderedPair(a.Dim1, a.Dim2)
		learned[assocKey{domain.KindDimension, string(d1), string(d2)}] = true
	}
	matrix, err := m.seq.TransitionMatrix(ctx)
	if err != nil {
		return 0, err
	}
	for _, rows := range matrix {
		for _, t := range rows {
			learned[assocKey{domain.KindTransition, string(t.From), string(t.To)}] = true
		}
	}

	var released int64
	for _, s := range staged {
		if learned[assocKey{s.Kind, s.Key1, s.Key2}] {
			continue
		}
		if err := m.gate.Release(ctx, s.Kind, s.Key1, s.Key2); err != nil && !errors.Is(err, store.ErrNotFound) {
			return released, err
		}
		released++
	}
	if released > 0 {
		m.logger.Info("released staging rows of deleted associations", zap.Int64("released", released))
	}
	return released, nil
}

type SweepReport struct {
	SweepResult
	Errors []domain.StepError `json:"errors,omitempty"`
}

// SweepQuarantine promotes eligible staged keys and expires stale ones.
func (m *LearningManager) SweepQuarantine(ctx context.Context) *SweepReport {
	r := &SweepReport{}
	res, err := m.gate.Sweep(ctx)
	if res != nil {
		r.SweepResult = *res
	}
	if err != nil {
		r.Errors = append(r.Errors, m.maintenanceError("quarantine_sweep", err))
	}
	m.purgeCaches()
	return r
}

func (m *LearningManager) maintenanceError(step string, err error) domain.StepError {
	m.recordStepError(step)
	m.logger.Error("maintenance step failed", zap.String("step", step), zap.Error(err))
	return domain.StepError{Step: step, Message: err.Error()}
}

type ExportData struct {
	ExportedAt  time.Time                                             `json:"exported_at"`
	Version     string                                                `json:"version"`
	Session     *SessionInfo                                          `json:"session"`
	Vocabulary  []domain.VocabularyAssociation                        `json:"vocabulary"`
	Overrides   []domain.VocabularyOverride                           `json:"overrides"`
	Dimensions  []domain.DimensionAssociation                         `json:"dimensions"`
	Patterns    []domain.MultiDimPattern                              `json:"patterns"`
	Transitions map[domain.ConversationState][]domain.StateTransition `json:"transitions"`
	Sequences   []domain.StateSequence                                `json:"sequences"`
	Staged      []domain.StagedAssociation                            `json:"staged"`
}

// ExportAllData snapshots every learner table. Unlike the turn path it fails
// on the first read error, since a partial export would be misleading.
func (m *LearningManager) ExportAllData(ctx context.Context) (*ExportData, error) {
	out := &ExportData{
		ExportedAt: m.now(),
		Version:    buildconfig.Version(),
		Session:    m.Session(),
	}
	var err error
	if out.Vocabulary, err = m.vocab.ListAll(ctx); err != nil {
		return nil, fmt.Errorf("export vocabulary: %w", err)
	}
	if out.Overrides, err = m.vocab.ListOverrides(ctx); err != nil {
		return nil, fmt.Errorf("export overrides: %w", err)
	}
	if out.Dimensions, err = m.dims.ListAll(ctx); err != nil {
		return nil, fmt.Errorf("export dimensions: %w", err)
	}
	if out.Patterns, err = m.dims.GetMultiDimPatterns(ctx, 1); err != nil {
		return nil, fmt.Errorf("export patterns: %w", err)
	}
	if out.Transitions, err = m.seq.TransitionMatrix(ctx); err != nil {
		return nil, fmt.Errorf("export transitions: %w", err)
	}
	if out.Sequences, err = m.seq.ListSequences(ctx, 1); err != nil {
		return nil, fmt.Errorf("export sequences: %w", err)
	}
	if out.Staged, err = m.gate.ListAll(ctx); err != nil {
		return nil, fmt.Errorf("export staging: %w", err)
	}
	return out, nil
}

type CacheStats struct {
	TermEntries       int     `json:"term_entries"`
	PredictionEntries int     `json:"prediction_entries"`
	Hits              int64   `json:"hits"`
	Misses            int64   `json:"misses"`
	HitRate           float64 `json:"hit_rate"`
}

type BudgetStats struct {
	TurnsProcessed  int64   `json:"turns_processed"`
	TurnsOverBudget int64   `json:"turns_over_budget"`
	WritesSkipped   int64   `json:"writes_skipped"`
	SkipRate        float64 `json:"skip_rate"`
}

type SystemStats struct {
	Version    string                                          `json:"version"`
	Session    *SessionInfo                                    `json:"session"`
	Vocabulary *domain.VocabularyStats                         `json:"vocabulary,omitempty"`
	Dimensions *domain.DimensionStats                          `json:"dimensions,omitempty"`
	Sequences  *domain.SequenceStats                           `json:"sequences,omitempty"`
	Staging    map[domain.AssociationKind]domain.StagingCounts `json:"staging,omitempty"`
	Cache      CacheStats                                      `json:"cache"`
	Budget     BudgetStats                                     `json:"budget"`
	StepErrors map[string]int64                                `json:"step_errors"`
	Errors     []domain.StepError                              `json:"errors,omitempty"`
}

// GetSystemStats aggregates volume figures across learners, the staging
// table, the cache and the turn budget. Failing sections are reported in Errors.
func (m *LearningManager) GetSystemStats(ctx context.Context) *SystemStats {
	st := &SystemStats{
		Version:    buildconfig.Version(),
		Session:    m.Session(),
		Cache:      m.cacheStats(),
		Budget:     m.budgetStats(),
		StepErrors: m.stepErrorCounts(),
	}

	var err error
	if st.Vocabulary, err = m.vocab.Stats(ctx); err != nil {
		st.Errors = append(st.Errors, domain.StepError{Step: "vocabulary_stats", Message: err.Error()})
	} else {
		m.metrics.SetAssociations("vocabulary", st.Vocabulary.Associations)
	}
	if st.Dimensions, err = m.dims.Stats(ctx); err != nil {
		st.Errors = append(st.Errors, domain.StepError{Step: "dimension_stats", Message: err.Error()})
	} else {
		m.metrics.SetAssociations("dimension", st.Dimensions.Pairs)
	}
	if st.Sequences, err = m.seq.Stats(ctx); err != nil {
		st.Errors = append(st.Errors, domain.StepError{Step: "sequence_stats", Message: err.Error()})
	} else {
		m.metrics.SetAssociations("sequence", st.Sequences.Transitions)
	}
	if st.Staging, err = m.gate.Counts(ctx); err != nil {
		st.Errors = append(st.Errors, domain.StepError{Step: "staging_stats", Message: err.Error()})
	}
	for _, e := range st.Errors {
		m.logger.Warn("stats section failed", zap.String("step", e.Step), zap.String("error", e.Message))
	}
	return st
}

func (m *LearningManager) cacheStats() CacheStats {
	cs := CacheStats{
		TermEntries:       m.termCache.Len(),
		PredictionEntries: m.predictionCache.Len(),
		Hits:              m.cacheHits.Load(),
		Misses:            m.cacheMisses.Load(),
	}
	if total := cs.Hits + cs.Misses; total > 0 {
		cs.HitRate = float64(cs.Hits) / float64(total)
	}
	return cs
}

func (m *LearningManager) budgetStats() BudgetStats {
	bs := BudgetStats{
		TurnsProcessed:  m.turnsProcessed.Load(),
		TurnsOverBudget: m.turnsOverBudget.Load(),
		WritesSkipped:   m.writesSkipped.Load(),
	}
	if bs.TurnsProcessed > 0 {
		bs.SkipRate = float64(bs.TurnsOverBudget) / float64(bs.TurnsProcessed)
	}
	return bs
}

// Health statuses reported per component and overall.
const (
	HealthHealthy  = "healthy"
	HealthIdle     = "idle"
	HealthDegraded = "degraded"
)

const (
	degradedWeakShare  = 0.5
	degradedErrorCount = 1
)

type ComponentHealth struct {
	Status       string   `json:"status"`
	Associations int      `json:"associations"`
	AvgStrength  float64  `json:"avg_strength"`
	WeakShare    float64  `json:"weak_share"`
	Staged       int      `json:"staged"`
	Promoted     int      `json:"promoted"`
	LiveShare    float64  `json:"live_share"`
	Errors       int64    `json:"errors"`
	Notes        []string `json:"notes,omitempty"`
}

type HealthSummary struct {
	Status         string                     `json:"status"`
	Version        string                     `json:"version"`
	Components     map[string]ComponentHealth `json:"components"`
	BudgetSkipRate float64                    `json:"budget_skip_rate"`
	CacheHitRate   float64                    `json:"cache_hit_rate"`
	CheckedAt      time.Time                  `json:"checked_at"`
}

// GetHealthSummary grades each learner as healthy, idle or degraded from its
// volume, weak-association share and step error count.
func (m *LearningManager) GetHealthSummary(ctx context.Context) *HealthSummary {
	st := m.GetSystemStats(ctx)
	h := &HealthSummary{
		Version:        st.Version,
		Components:     make(map[string]ComponentHealth, 3),
		BudgetSkipRate: st.Budget.SkipRate,
		CacheHitRate:   st.Cache.HitRate,
		CheckedAt:      m.now(),
	}

	failed := make(map[string]bool)
	for _, e := range st.Errors {
		failed[e.Step] = true
	}

	vocab := ComponentHealth{Errors: st.StepErrors[StepVocabulary]}
	if st.Vocabulary != nil {
		vocab.Associations = st.Vocabulary.Associations
		vocab.AvgStrength = st.Vocabulary.AvgStrength
		vocab.WeakShare = share(st.Vocabulary.WeakAssociations, st.Vocabulary.Associations)
	}
	applyStaging(&vocab, st.Staging[domain.KindVocabulary])
	h.Components["vocabulary"] = grade(vocab, failed["vocabulary_stats"])

	dims := ComponentHealth{Errors: st.StepErrors[StepDimensions]}
	if st.Dimensions != nil {
		dims.Associations = st.Dimensions.Pairs
		dims.AvgStrength = st.Dimensions.AvgStrength
		dims.WeakShare = share(st.Dimensions.WeakPairs, st.Dimensions.Pairs)
	}
	applyStaging(&dims, st.Staging[domain.KindDimension])
	h.Components["dimensions"] = grade(dims, failed["dimension_stats"])

	seq := ComponentHealth{Errors: st.StepErrors[StepTransition]}
	if st.Sequences != nil {
		seq.Associations = st.Sequences.Transitions
		if st.Sequences.Transitions > 0 {
			seq.AvgStrength = float64(st.Sequences.TotalObservations) / float64(st.Sequences.Transitions)
		}
	}
	applyStaging(&seq, st.Staging[domain.KindTransition])
	h.Components["sequences"] = grade(seq, failed["sequence_stats"])

	h.Status = HealthIdle
	for _, c := range h.Components {
		switch c.Status {
		case HealthDegraded:
			h.Status = HealthDegraded
		case HealthHealthy:
			if h.Status == HealthIdle {
				h.Status = HealthHealthy
			}
		}
	}
	return h
}

func applyStaging(c *ComponentHealth, counts domain.StagingCounts) {
	c.Staged = counts.Staged
	c.Promoted = counts.Promoted
	c.LiveShare = share(counts.Promoted, counts.Staged+counts.Promoted)
}

func grade(c ComponentHealth, statsFailed bool) ComponentHealth {
	if statsFailed {
		c.Notes = append(c.Notes, "stats unavailable")
	}
	if c.Errors >= degradedErrorCount {
		c.Notes = append(c.Notes, fmt.Sprintf("%d learning step errors", c.Errors))
	}
	if c.Associations > 0 && c.WeakShare > degradedWeakShare {
		c.Notes = append(c.Notes, "majority of associations are weak")
	}

	switch {
	case len(c.Notes) > 0:
		c.Status = HealthDegraded
	case c.Associations == 0:
		c.Status = HealthIdle
	default:
		c.Status = HealthHealthy
	}
	return c
}

func share(part, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(part) / float64(total)
}

// IsValidationError reports whether err came from input validation rather than storage.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidTerm) ||
		errors.Is(err, ErrInvalidContext) ||
		errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrInvalidDimension) ||
		errors.Is(err, ErrOverrideStrength)
}
