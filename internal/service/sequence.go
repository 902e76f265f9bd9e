package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Harshitk-cp/penny/internal/domain"
	"github.com/Harshitk-cp/penny/internal/store"
	"go.uber.org/zap"
)

const (
	DefaultSequenceDecayFactor = 0.9
	DefaultHistoryLimit        = 50

	minSequenceLength = 3
	maxSequenceLength = 5

	// anticipationFloor is the top prediction probability needed to anticipate.
	anticipationFloor = 0.3
	sequenceBoost     = 0.15
	boostSaturation   = 5

	// skipRatio is how close P(A->C) must come to P(A->B)*P(B->C).
	skipRatio = 0.8
)

type SequenceConfig struct {
	DecayFactor  float64
	HistoryLimit int
}

func DefaultSequenceConfig() SequenceConfig {
	return SequenceConfig{
		DecayFactor:  DefaultSequenceDecayFactor,
		HistoryLimit: DefaultHistoryLimit,
	}
}

// suggestedActions maps an expected transition to a hint for the response
// generator. Unlisted transitions fall back to targetActions.
var suggestedActions = map[[2]domain.ConversationState]string{
	{domain.StateProblemStatement, domain.StateClarificationQuestion}:      "prepare simpler explanation",
	{domain.StateProblemStatement, domain.StateDebuggingHelp}:              "ask for error output and code",
	{domain.StateTechnicalExplanation, domain.StateFollowUpQuestion}:       "offer related topics",
	{domain.StateTechnicalExplanation, domain.StateSimplifiedExplanation}:  "prepare analogy",
	{domain.StateDebuggingHelp, domain.StateFrustrationExpression}:         "acknowledge difficulty and narrow the problem",
	{domain.StateDebuggingHelp, domain.StatePositiveFeedback}:              "confirm fix and suggest prevention",
	{domain.StateCodeReview, domain.StateCorrectionRequest}:                "double-check suggestions",
	{domain.StateFrustrationExpression, domain.StateSimplifiedExplanation}: "slow down and simplify",
}

var targetActions = map[domain.ConversationState]string{
	domain.StateProblemStatement:      "gather problem details",
	domain.StateClarificationQuestion: "prepare simpler explanation",
	domain.StateSimplifiedExplanation: "prepare analogy",
	domain.StatePositiveFeedback:      "offer next steps",
	domain.StateFrustrationExpression: "acknowledge frustration",
	domain.StateFollowUpQuestion:      "offer related topics",
	domain.StateCodeReview:            "prepare review checklist",
	domain.StateDebuggingHelp:         "prepare debugging steps",
	domain.StateOpinionRequest:        "prepare balanced comparison",
	domain.StateTechnicalExplanation:  "prepare detailed explanation",
	domain.StateCasualChat:            "keep tone light",
	domain.StateCorrectionRequest:     "re-verify previous answer",
}

// SequenceLearner models conversation flow as a first-order Markov chain over
// conversation states and mines recurring runs of states.
type SequenceLearner struct {
	store  domain.SequenceStore
	cfg    SequenceConfig
	logger *zap.Logger
	now    func() time.Time

	mu      sync.Mutex
	history []domain.ConversationState
}

func NewSequenceLearner(s domain.SequenceStore, cfg SequenceConfig, logger *zap.Logger) *SequenceLearner {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	return &SequenceLearner{
		store:  s,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

func (l *SequenceLearner) SetClock(now func() time.Time) {
	l.now = now
}

// ClassifyConversationState labels a message with the state it most likely expresses.
func (l *SequenceLearner) ClassifyConversationState(message string, tc domain.TurnContext) domain.ConversationState {
	return classifyState(message, tc)
}

// History returns a copy of the session's state history, oldest first.
func (l *SequenceLearner) History() []domain.ConversationState {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.ConversationState, len(l.history))
	copy(out, l.history)
	return out
}

func (l *SequenceLearner) ResetHistory() {
	l.mu.Lock()
	l.history = nil
	l.mu.Unlock()
}

// NoteState appends a state to the session history without learning a transition.
func (l *SequenceLearner) NoteState(s domain.ConversationState) {
	if !s.Valid() {
		return
	}
	l.appendHistory(s)
}

func (l *SequenceLearner) appendHistory(s domain.ConversationState) []domain.ConversationState {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.history = append(l.history, s)
	if over := len(l.history) - l.cfg.HistoryLimit; over > 0 {
		l.history = append([]domain.ConversationState(nil), l.history[over:]...)
	}
	out := make([]domain.ConversationState, len(l.history))
	copy(out, l.history)
	return out
}

// ObserveTransition counts one from->to transition, recomputes every outgoing
// probability of from so they sum to 1, appends the target state to the session
// history and records every recurring run ending there. Returns the number of
// rows written.
func (l *SequenceLearner) ObserveTransition(ctx context.Context, from, to domain.ConversationState, satisfaction *float64) (int, error) {
	if !from.Valid() || !to.Valid() {
		return 0, nil
	}

	rows, err := l.store.ListTransitionsFrom(ctx, from)
	if err != nil {
		return 0, err
	}

	now := l.now()
	found := false
	total := 0
	for i := range rows {
		if rows[i].To == to {
			rows[i].AvgSatisfaction = runningMean(rows[i].AvgSatisfaction, rows[i].Count, satisfaction)
			rows[i].Count++
			rows[i].LastObserved = now
			found = true
		}
		total += rows[i].Count
	}
	if !found {
		rows = append(rows, domain.StateTransition{
			From:            from,
			To:              to,
			Count:           1,
			AvgSatisfaction: runningMean(nil, 0, satisfaction),
			FirstObserved:   now,
			LastObserved:    now,
		})
		total++
	}
	for i := range rows {
		rows[i].Probability = float64(rows[i].Count) / float64(total)
	}

	if err := l.store.SaveTransitions(ctx, rows); err != nil {
		return 0, err
	}

	history := l.appendHistory(to)
	n, err := l.recordSequences(ctx, history, satisfaction, now)
	return 1 + n, err
}

// SequenceID derives a stable identifier from an ordered run of states.
func SequenceID(states []domain.ConversationState) string {
	parts := make([]string, len(states))
	for i, s := range states {
		parts[i] = string(s)
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, ">")))
	return hex.EncodeToString(sum[:8])
}

func (l *SequenceLearner) recordSequences(ctx context.Context, history []domain.ConversationState, satisfaction *float64, now time.Time) (int, error) {
	written := 0
	for n := minSequenceLength; n <= maxSequenceLength && n <= len(history); n++ {
		run := append([]domain.ConversationState(nil), history[len(history)-n:]...)
		id := SequenceID(run)

		seq, err := l.store.GetSequence(ctx, id)
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				return written, err
			}
			seq = &domain.StateSequence{SequenceID: id, Sequence: run, FirstSeen: now}
		}
		seq.AvgSatisfaction = runningMean(seq.AvgSatisfaction, seq.Frequency, satisfaction)
		seq.Frequency++
		seq.LastSeen = now
		if err := l.store.SaveSequence(ctx, seq); err != nil {
			return written, err
		}
		written++
	}
	return written, nil
}

// GetTransitionProbability returns P(to | from), 0 when never observed.
func (l *SequenceLearner) GetTransitionProbability(ctx context.Context, from, to domain.ConversationState) (float64, error) {
	if !from.Valid() || !to.Valid() {
		return 0, nil
	}
	t, err := l.store.GetTransition(ctx, from, to)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return t.Probability, nil
}

// PredictNextStates ranks likely successors of current. Known sequences whose
// prefix matches the tail of history boost their next element, after which the
// distribution is renormalized.
func (l *SequenceLearner) PredictNextStates(ctx context.Context, current domain.ConversationState, history []domain.ConversationState, topN int) ([]domain.StateProbability, error) {
	if !current.Valid() {
		return nil, nil
	}
	rows, err := l.store.ListTransitionsFrom(ctx, current)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	probs := make(map[domain.ConversationState]float64, len(rows))
	for _, r := range rows {
		probs[r.To] = r.Probability
	}

	recent := history
	if len(recent) == 0 || recent[len(recent)-1] != current {
		recent = append(append([]domain.ConversationState(nil), history...), current)
	}

	seqs, err := l.store.ListSequences(ctx, 2)
	if err != nil {
		return nil, err
	}
	boosted := false
	for _, seq := range seqs {
		prefix := seq.Sequence[:len(seq.Sequence)-1]
		if !hasSuffix(recent, prefix) {
			continue
		}
		next := seq.Sequence[len(seq.Sequence)-1]
		weight := float64(seq.Frequency) / boostSaturation
		if weight > 1 {
			weight = 1
		}
		probs[next] += sequenceBoost * weight
		boosted = true
	}

	if boosted {
		sum := 0.0
		for _, p := range probs {
			sum += p
		}
		for s := range probs {
			probs[s] /= sum
		}
	}

	out := make([]domain.StateProbability, 0, len(probs))
	for s, p := range probs {
		out = append(out, domain.StateProbability{State: s, Probability: p})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Probability != out[j].Probability {
			return out[i].Probability > out[j].Probability
		}
		return out[i].State < out[j].State
	})
	if topN > 0 && len(out) > topN {
		out = out[:topN]
	}
	return out, nil
}

func hasSuffix(states, suffix []domain.ConversationState) bool {
	if len(suffix) == 0 || len(suffix) > len(states) {
		return false
	}
	offset := len(states) - len(suffix)
	for i, s := range suffix {
		if states[offset+i] != s {
			return false
		}
	}
	return true
}

// AnticipateUserNeed returns the expected next state with a suggested action,
// or nil when no successor is more than 30% likely.
func (l *SequenceLearner) AnticipateUserNeed(ctx context.Context, current domain.ConversationState, history []domain.ConversationState) (*domain.AnticipatedResponse, error) {
	preds, err := l.PredictNextStates(ctx, current, history, 3)
	if err != nil {
		return nil, err
	}
	if len(preds) == 0 || preds[0].Probability <= anticipationFloor {
		return nil, nil
	}

	top := preds[0]
	return &domain.AnticipatedResponse{
		CurrentState:    current,
		PredictedState:  top.State,
		Probability:     top.Probability,
		SuggestedAction: SuggestedAction(current, top.State),
		Alternatives:    preds[1:],
	}, nil
}

// SuggestedAction returns the response hint for an expected transition.
func SuggestedAction(from, to domain.ConversationState) string {
	if a, ok := suggestedActions[[2]domain.ConversationState{from, to}]; ok {
		return a
	}
	if a, ok := targetActions[to]; ok {
		return a
	}
	return "continue"
}

// DetectRecurringPatterns returns sequences seen at least minFrequency times,
// each annotated with the intermediate steps the direct transition makes skippable.
func (l *SequenceLearner) DetectRecurringPatterns(ctx context.Context, minFrequency int) ([]domain.RecurringPattern, error) {
	seqs, err := l.store.ListSequences(ctx, minFrequency)
	if err != nil {
		return nil, err
	}
	if len(seqs) == 0 {
		return nil, nil
	}

	all, err := l.store.ListAllTransitions(ctx)
	if err != nil {
		return nil, err
	}
	prob := make(map[[2]domain.ConversationState]float64, len(all))
	for _, t := range all {
		prob[[2]domain.ConversationState{t.From, t.To}] = t.Probability
	}

	out := make([]domain.RecurringPattern, 0, len(seqs))
	for _, seq := range seqs {
		p := domain.RecurringPattern{StateSequence: seq}
		for i := 0; i+2 < len(seq.Sequence); i++ {
			a, b, c := seq.Sequence[i], seq.Sequence[i+1], seq.Sequence[i+2]
			if a == c {
				continue
			}
			path := prob[[2]domain.ConversationState{a, b}] * prob[[2]domain.ConversationState{b, c}]
			direct := prob[[2]domain.ConversationState{a, c}]
			if path > 0 && direct > 0 && direct >= skipRatio*path {
				p.SkipOpportunities = append(p.SkipOpportunities, domain.SkipOpportunity{
					From:              a,
					Skipped:           b,
					To:                c,
					PathProbability:   path,
					DirectProbability: direct,
				})
			}
		}
		out = append(out, p)
	}
	return out, nil
}

// ApplyTemporalDecay multiplies counts of transitions idle for daysInactive
// days by the decay factor, truncating, and drops transitions that reach zero.
func (l *SequenceLearner) ApplyTemporalDecay(ctx context.Context, daysInactive int) (int64, error) {
	if daysInactive <= 0 {
		return 0, nil
	}
	cutoff := l.now().Add(-time.Duration(daysInactive) * 24 * time.Hour)
	n, err := l.store.DecayStale(ctx, cutoff, l.cfg.DecayFactor)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		l.logger.Info("transition decay applied", zap.Int64("transitions", n))
	}
	return n, nil
}

// TransitionMatrix groups every stored transition by source state.
func (l *SequenceLearner) TransitionMatrix(ctx context.Context) (map[domain.ConversationState][]domain.StateTransition, error) {
	all, err := l.store.ListAllTransitions(ctx)
	if err != nil {
		return nil, err
	}
	m := make(map[domain.ConversationState][]domain.StateTransition)
	for _, t := range all {
		m[t.From] = append(m[t.From], t)
	}
	return m, nil
}

func (l *SequenceLearner) ListSequences(ctx context.Context, minFrequency int) ([]domain.StateSequence, error) {
	return l.store.ListSequences(ctx, minFrequency)
}

func (l *SequenceLearner) Stats(ctx context.Context) (*domain.SequenceStats, error) {
	return l.store.Stats(ctx)
}
