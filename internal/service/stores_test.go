package service

import (
	"context"
	"math"
	"sort"
	"testing"
	"time"

	"github.com/Harshitk-cp/penny/internal/domain"
	"github.com/Harshitk-cp/penny/internal/metrics"
	"github.com/Harshitk-cp/penny/internal/store"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// testClock is a manually advanced clock shared by every service under test.
type testClock struct {
	t time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time          { return c.t }
func (c *testClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func days(n int) time.Duration { return time.Duration(n) * 24 * time.Hour }

// mockVocabularyStore implements domain.VocabularyStore in memory.
type mockVocabularyStore struct {
	assocs    map[string]domain.VocabularyAssociation
	overrides map[string]domain.VocabularyOverride
	log       []time.Time
}

func newMockVocabularyStore() *mockVocabularyStore {
	return &mockVocabularyStore{
		assocs:    make(map[string]domain.VocabularyAssociation),
		overrides: make(map[string]domain.VocabularyOverride),
	}
}

func vocabKey(term string, c domain.ContextType) string { return term + "|" + string(c) }

func (m *mockVocabularyStore) Get(ctx context.Context, term string, c domain.ContextType) (*domain.VocabularyAssociation, error) {
	a, ok := m.assocs[vocabKey(term, c)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &a, nil
}

func sortVocab(rows []domain.VocabularyAssociation) {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Strength != rows[j].Strength {
			return rows[i].Strength > rows[j].Strength
		}
		if rows[i].Term != rows[j].Term {
			return rows[i].Term < rows[j].Term
		}
		return rows[i].Context < rows[j].Context
	})
}

func (m *mockVocabularyStore) ListByTerm(ctx context.Context, term string) ([]domain.VocabularyAssociation, error) {
	var out []domain.VocabularyAssociation
	for _, a := range m.assocs {
		if a.Term == term {
			out = append(out, a)
		}
	}
	sortVocab(out)
	return out, nil
}

func (m *mockVocabularyStore) ListByContext(ctx context.Context, c domain.ContextType, minStrength float64, limit int) ([]domain.VocabularyAssociation, error) {
	var out []domain.VocabularyAssociation
	for _, a := range m.assocs {
		if a.Context == c && a.Strength >= minStrength {
			out = append(out, a)
		}
	}
	sortVocab(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockVocabularyStore) ListAll(ctx context.Context) ([]domain.VocabularyAssociation, error) {
	out := make([]domain.VocabularyAssociation, 0, len(m.assocs))
	for _, a := range m.assocs {
		out = append(out, a)
	}
	sortVocab(out)
	return out, nil
}

func (m *mockVocabularyStore) SaveObservation(ctx context.Context, observed domain.VocabularyAssociation, inhibited []domain.VocabularyAssociation) error {
	m.assocs[vocabKey(observed.Term, observed.Context)] = observed
	for _, a := range inhibited {
		key := vocabKey(a.Term, a.Context)
		cur := m.assocs[key]
		cur.Strength = a.Strength
		m.assocs[key] = cur
	}
	m.log = append(m.log, observed.LastUpdated)
	return nil
}

func (m *mockVocabularyStore) DecayStale(ctx context.Context, before time.Time, factor float64) (int64, error) {
	var n int64
	for k, a := range m.assocs {
		if a.LastUpdated.Before(before) && a.Strength > 0 {
			a.Strength = math.Max(0, a.Strength*factor)
			m.assocs[k] = a
			n++
		}
	}
	return n, nil
}

func (m *mockVocabularyStore) PruneWeak(ctx context.Context, minStrength float64, minObservations int) (int64, error) {
	var n int64
	for k, a := range m.assocs {
		if a.Strength < minStrength && a.ObservationCount < minObservations {
			delete(m.assocs, k)
			n++
		}
	}
	return n, nil
}

func (m *mockVocabularyStore) GetOverride(ctx context.Context, term string, c domain.ContextType) (*domain.VocabularyOverride, error) {
	o, ok := m.overrides[vocabKey(term, c)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &o, nil
}

func (m *mockVocabularyStore) UpsertOverride(ctx context.Context, o *domain.VocabularyOverride) error {
	o.CreatedAt = time.Now()
	m.overrides[vocabKey(o.Term, o.Context)] = *o
	return nil
}

func (m *mockVocabularyStore) DeleteOverride(ctx context.Context, term string, c domain.ContextType) error {
	key := vocabKey(term, c)
	if _, ok := m.overrides[key]; !ok {
		return store.ErrNotFound
	}
	delete(m.overrides, key)
	return nil
}

func (m *mockVocabularyStore) ListOverrides(ctx context.Context) ([]domain.VocabularyOverride, error) {
	out := make([]domain.VocabularyOverride, 0, len(m.overrides))
	for _, o := range m.overrides {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return vocabKey(out[i].Term, out[i].Context) < vocabKey(out[j].Term, out[j].Context) })
	return out, nil
}

func (m *mockVocabularyStore) Stats(ctx context.Context, weakBelow float64, since time.Time) (*domain.VocabularyStats, error) {
	st := &domain.VocabularyStats{Associations: len(m.assocs), Overrides: len(m.overrides)}
	terms := make(map[string]bool)
	sum := 0.0
	for _, a := range m.assocs {
		terms[a.Term] = true
		sum += a.Strength
		if a.Strength < weakBelow {
			st.WeakAssociations++
		}
	}
	st.UniqueTerms = len(terms)
	if len(m.assocs) > 0 {
		st.AvgStrength = sum / float64(len(m.assocs))
	}
	for _, t := range m.log {
		if !t.Before(since) {
			st.RecentObservations++
		}
	}
	return st, nil
}

// mockDimensionStore implements domain.DimensionStore in memory.
type mockDimensionStore struct {
	pairs    map[[2]domain.Dimension]domain.DimensionAssociation
	patterns map[string]domain.MultiDimPattern
}

func newMockDimensionStore() *mockDimensionStore {
	return &mockDimensionStore{
		pairs:    make(map[[2]domain.Dimension]domain.DimensionAssociation),
		patterns: make(map[string]domain.MultiDimPattern),
	}
}

func pairKey(a, b domain.Dimension) [2]domain.Dimension {
	a, b = domain.OrderedPair(a, b)
	return [2]domain.Dimension{a, b}
}

func (m *mockDimensionStore) put(a domain.DimensionAssociation) {
	a.Dim1, a.Dim2 = domain.OrderedPair(a.Dim1, a.Dim2)
	m.pairs[pairKey(a.Dim1, a.Dim2)] = a
}

func (m *mockDimensionStore) Get(ctx context.Context, d1, d2 domain.Dimension) (*domain.DimensionAssociation, error) {
	a, ok := m.pairs[pairKey(d1, d2)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &a, nil
}

func (m *mockDimensionStore) ListForDimension(ctx context.Context, d domain.Dimension, limit int) ([]domain.DimensionAssociation, error) {
	var out []domain.DimensionAssociation
	for _, a := range m.pairs {
		if (a.Dim1 == d || a.Dim2 == d) && a.Strength > 0 {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Strength > out[j].Strength })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockDimensionStore) ListAll(ctx context.Context) ([]domain.DimensionAssociation, error) {
	out := make([]domain.DimensionAssociation, 0, len(m.pairs))
	for _, a := range m.pairs {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Dim1 != out[j].Dim1 {
			return out[i].Dim1 < out[j].Dim1
		}
		return out[i].Dim2 < out[j].Dim2
	})
	return out, nil
}

func (m *mockDimensionStore) SavePairs(ctx context.Context, pairs []domain.DimensionAssociation) error {
	for _, p := range pairs {
		m.put(p)
	}
	return nil
}

func (m *mockDimensionStore) DecayStale(ctx context.Context, before time.Time, factor float64) (int64, error) {
	var n int64
	for k, a := range m.pairs {
		if a.LastUpdated.Before(before) && a.Strength > 0 {
			a.Strength = math.Max(0, a.Strength*factor)
			m.pairs[k] = a
			n++
		}
	}
	return n, nil
}

func (m *mockDimensionStore) PruneWeak(ctx context.Context, minStrength float64, minObservations int) (int64, error) {
	var n int64
	for k, a := range m.pairs {
		if a.Strength < minStrength && a.ObservationCount < minObservations {
			delete(m.pairs, k)
			n++
		}
	}
	return n, nil
}

func (m *mockDimensionStore) GetPattern(ctx context.Context, patternID string) (*domain.MultiDimPattern, error) {
	p, ok := m.patterns[patternID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (m *mockDimensionStore) SavePattern(ctx context.Context, p *domain.MultiDimPattern) error {
	m.patterns[p.PatternID] = *p
	return nil
}

func (m *mockDimensionStore) ListPatterns(ctx context.Context, minFrequency int) ([]domain.MultiDimPattern, error) {
	var out []domain.MultiDimPattern
	for _, p := range m.patterns {
		if p.Frequency >= minFrequency {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Frequency > out[j].Frequency })
	return out, nil
}

func (m *mockDimensionStore) Stats(ctx context.Context, weakBelow float64) (*domain.DimensionStats, error) {
	st := &domain.DimensionStats{Pairs: len(m.pairs), Patterns: len(m.patterns)}
	sum := 0.0
	for _, a := range m.pairs {
		sum += a.Strength
		if a.Strength < weakBelow {
			st.WeakPairs++
		}
		if a.Polarity < 0 {
			st.NegativePairs++
		}
	}
	if len(m.pairs) > 0 {
		st.AvgStrength = sum / float64(len(m.pairs))
	}
	return st, nil
}

// mockSequenceStore implements domain.SequenceStore in memory.
type mockSequenceStore struct {
	transitions map[[2]domain.ConversationState]domain.StateTransition
	sequences   map[string]domain.StateSequence
}

func newMockSequenceStore() *mockSequenceStore {
	return &mockSequenceStore{
		transitions: make(map[[2]domain.ConversationState]domain.StateTransition),
		sequences:   make(map[string]domain.StateSequence),
	}
}

func sortTransitions(rows []domain.StateTransition) {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].From != rows[j].From {
			return rows[i].From < rows[j].From
		}
		if rows[i].Probability != rows[j].Probability {
			return rows[i].Probability > rows[j].Probability
		}
		return rows[i].To < rows[j].To
	})
}

func (m *mockSequenceStore) GetTransition(ctx context.Context, from, to domain.ConversationState) (*domain.StateTransition, error) {
	t, ok := m.transitions[[2]domain.ConversationState{from, to}]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &t, nil
}

func (m *mockSequenceStore) ListTransitionsFrom(ctx context.Context, from domain.ConversationState) ([]domain.StateTransition, error) {
	var out []domain.StateTransition
	for _, t := range m.transitions {
		if t.From == from {
			out = append(out, t)
		}
	}
	sortTransitions(out)
	return out, nil
}

func (m *mockSequenceStore) ListAllTransitions(ctx context.Context) ([]domain.StateTransition, error) {
	out := make([]domain.StateTransition, 0, len(m.transitions))
	for _, t := range m.transitions {
		out = append(out, t)
	}
	sortTransitions(out)
	return out, nil
}

func (m *mockSequenceStore) SaveTransitions(ctx context.Context, rows []domain.StateTransition) error {
	for _, t := range rows {
		m.transitions[[2]domain.ConversationState{t.From, t.To}] = t
	}
	return nil
}

func (m *mockSequenceStore) DecayStale(ctx context.Context, before time.Time, factor float64) (int64, error) {
	var n int64
	for k, t := range m.transitions {
		if !t.LastObserved.Before(before) {
			continue
		}
		n++
		t.Count = int(math.Floor(float64(t.Count) * factor))
		if t.Count <= 0 {
			delete(m.transitions, k)
			continue
		}
		m.transitions[k] = t
	}
	return n, nil
}

func (m *mockSequenceStore) GetSequence(ctx context.Context, sequenceID string) (*domain.StateSequence, error) {
	s, ok := m.sequences[sequenceID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &s, nil
}

func (m *mockSequenceStore) SaveSequence(ctx context.Context, s *domain.StateSequence) error {
	m.sequences[s.SequenceID] = *s
	return nil
}

func (m *mockSequenceStore) ListSequences(ctx context.Context, minFrequency int) ([]domain.StateSequence, error) {
	var out []domain.StateSequence
	for _, s := range m.sequences {
		if s.Frequency >= minFrequency {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Frequency != out[j].Frequency {
			return out[i].Frequency > out[j].Frequency
		}
		return out[i].SequenceID < out[j].SequenceID
	})
	return out, nil
}

func (m *mockSequenceStore) Stats(ctx context.Context) (*domain.SequenceStats, error) {
	st := &domain.SequenceStats{Transitions: len(m.transitions), Sequences: len(m.sequences)}
	sources := make(map[domain.ConversationState]bool)
	for _, t := range m.transitions {
		sources[t.From] = true
		st.TotalObservations += t.Count
	}
	st.SourceStates = len(sources)
	return st, nil
}

// mockQuarantineStore implements domain.QuarantineStore in memory.
type mockQuarantineStore struct {
	rows map[string]domain.StagedAssociation
}

func newMockQuarantineStore() *mockQuarantineStore {
	return &mockQuarantineStore{rows: make(map[string]domain.StagedAssociation)}
}

func stagedKey(kind domain.AssociationKind, k1, k2 string) string {
	return string(kind) + "|" + k1 + "|" + k2
}

func (m *mockQuarantineStore) Get(ctx context.Context, kind domain.AssociationKind, key1, key2 string) (*domain.StagedAssociation, error) {
	s, ok := m.rows[stagedKey(kind, key1, key2)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &s, nil
}

func (m *mockQuarantineStore) Save(ctx context.Context, s *domain.StagedAssociation) error {
	m.rows[stagedKey(s.Kind, s.Key1, s.Key2)] = *s
	return nil
}

func (m *mockQuarantineStore) Delete(ctx context.Context, kind domain.AssociationKind, key1, key2 string) error {
	key := stagedKey(kind, key1, key2)
	if _, ok := m.rows[key]; !ok {
		return store.ErrNotFound
	}
	delete(m.rows, key)
	return nil
}

func (m *mockQuarantineStore) ListAll(ctx context.Context) ([]domain.StagedAssociation, error) {
	out := make([]domain.StagedAssociation, 0, len(m.rows))
	for _, s := range m.rows {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		return stagedKey(out[i].Kind, out[i].Key1, out[i].Key2) < stagedKey(out[j].Kind, out[j].Key1, out[j].Key2)
	})
	return out, nil
}

func (m *mockQuarantineStore) PromoteEligible(ctx context.Context, minObservations int, firstBefore, now time.Time) (map[domain.AssociationKind]int64, error) {
	counts := make(map[domain.AssociationKind]int64)
	for k, s := range m.rows {
		if s.Status == domain.StagedStatusStaged && s.ObservationCount >= minObservations && !s.FirstObserved.After(firstBefore) {
			s.Status = domain.StagedStatusPromoted
			promotedAt := now
			s.PromotedAt = &promotedAt
			m.rows[k] = s
			counts[s.Kind]++
		}
	}
	return counts, nil
}

func (m *mockQuarantineStore) ExpireStaged(ctx context.Context, firstBefore time.Time) (map[domain.AssociationKind]int64, error) {
	counts := make(map[domain.AssociationKind]int64)
	for k, s := range m.rows {
		if s.Status == domain.StagedStatusStaged && s.FirstObserved.Before(firstBefore) {
			delete(m.rows, k)
			counts[s.Kind]++
		}
	}
	return counts, nil
}

func (m *mockQuarantineStore) Counts(ctx context.Context) (map[domain.AssociationKind]domain.StagingCounts, error) {
	out := make(map[domain.AssociationKind]domain.StagingCounts)
	for _, s := range m.rows {
		c := out[s.Kind]
		if s.Promoted() {
			c.Promoted++
		} else {
			c.Staged++
		}
		out[s.Kind] = c
	}
	return out, nil
}

// MockVocabularyStore is a testify double used to inject storage failures.
type MockVocabularyStore struct {
	mock.Mock
}

func (m *MockVocabularyStore) Get(ctx context.Context, term string, c domain.ContextType) (*domain.VocabularyAssociation, error) {
	args := m.Called(ctx, term, c)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.VocabularyAssociation), args.Error(1)
}

func (m *MockVocabularyStore) ListByTerm(ctx context.Context, term string) ([]domain.VocabularyAssociation, error) {
	args := m.Called(ctx, term)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.VocabularyAssociation), args.Error(1)
}

func (m *MockVocabularyStore) ListByContext(ctx context.Context, c domain.ContextType, minStrength float64, limit int) ([]domain.VocabularyAssociation, error) {
	args := m.Called(ctx, c, minStrength, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.VocabularyAssociation), args.Error(1)
}

func (m *MockVocabularyStore) ListAll(ctx context.Context) ([]domain.VocabularyAssociation, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.VocabularyAssociation), args.Error(1)
}

func (m *MockVocabularyStore) SaveObservation(ctx context.Context, observed domain.VocabularyAssociation, inhibited []domain.VocabularyAssociation) error {
	args := m.Called(ctx, observed, inhibited)
	return args.Error(0)
}

func (m *MockVocabularyStore) DecayStale(ctx context.Context, before time.Time, factor float64) (int64, error) {
	args := m.Called(ctx, before, factor)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockVocabularyStore) PruneWeak(ctx context.Context, minStrength float64, minObservations int) (int64, error) {
	args := m.Called(ctx, minStrength, minObservations)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockVocabularyStore) GetOverride(ctx context.Context, term string, c domain.ContextType) (*domain.VocabularyOverride, error) {
	args := m.Called(ctx, term, c)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.VocabularyOverride), args.Error(1)
}

func (m *MockVocabularyStore) UpsertOverride(ctx context.Context, o *domain.VocabularyOverride) error {
	args := m.Called(ctx, o)
	return args.Error(0)
}

func (m *MockVocabularyStore) DeleteOverride(ctx context.Context, term string, c domain.ContextType) error {
	args := m.Called(ctx, term, c)
	return args.Error(0)
}

func (m *MockVocabularyStore) ListOverrides(ctx context.Context) ([]domain.VocabularyOverride, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.VocabularyOverride), args.Error(1)
}

func (m *MockVocabularyStore) Stats(ctx context.Context, weakBelow float64, since time.Time) (*domain.VocabularyStats, error) {
	args := m.Called(ctx, weakBelow, since)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.VocabularyStats), args.Error(1)
}

var (
	_ domain.VocabularyStore = (*mockVocabularyStore)(nil)
	_ domain.VocabularyStore = (*MockVocabularyStore)(nil)
	_ domain.DimensionStore  = (*mockDimensionStore)(nil)
	_ domain.SequenceStore   = (*mockSequenceStore)(nil)
	_ domain.QuarantineStore = (*mockQuarantineStore)(nil)
)

// testEngine wires a manager over in-memory stores and a shared test clock.
type testEngine struct {
	clock   *testClock
	vocab   *mockVocabularyStore
	dims    *mockDimensionStore
	seq     *mockSequenceStore
	staging *mockQuarantineStore
	manager *LearningManager
}

func newTestEngine(t *testing.T, cfg ManagerConfig) *testEngine {
	t.Helper()
	return newTestEngineWithVocab(t, cfg, nil)
}

func newTestEngineWithVocab(t *testing.T, cfg ManagerConfig, vs domain.VocabularyStore) *testEngine {
	t.Helper()
	e := &testEngine{
		clock:   newTestClock(),
		vocab:   newMockVocabularyStore(),
		dims:    newMockDimensionStore(),
		seq:     newMockSequenceStore(),
		staging: newMockQuarantineStore(),
	}
	if vs == nil {
		vs = e.vocab
	}

	logger := zap.NewNop()
	m, err := NewLearningManager(
		NewVocabularyAssociator(vs, DefaultVocabularyConfig(), logger),
		NewDimensionAssociator(e.dims, DefaultDimensionConfig(), logger),
		NewSequenceLearner(e.seq, DefaultSequenceConfig(), logger),
		NewQuarantineGate(e.staging, DefaultQuarantineConfig(), metrics.NoOpManager(), logger),
		metrics.NoOpManager(),
		cfg,
		logger,
	)
	require.NoError(t, err)
	m.SetClock(e.clock.Now)
	e.manager = m
	return e
}
