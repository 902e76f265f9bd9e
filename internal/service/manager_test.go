package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/Harshitk-cp/penny/internal/buildconfig"
	"github.com/Harshitk-cp/penny/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func turn(msg string) domain.Turn {
	return domain.Turn{UserMessage: msg}
}

func TestManager_FirstTurnLearnsVocabularyOnly(t *testing.T) {
	e := newTestEngine(t, DefaultManagerConfig())
	ctx := context.Background()

	res := e.manager.ProcessConversationTurn(ctx, turn("I'm stuck on this async code"))

	assert.NotEqual(t, uuid.Nil, res.TurnID)
	assert.Equal(t, domain.ContextProblemSolving, res.ContextType)
	assert.Equal(t, domain.StateProblemStatement, res.CurrentState)
	assert.Equal(t, 3, res.VocabObservations)
	assert.Equal(t, 0, res.StateTransitions)
	assert.Equal(t, 1, res.WritesApplied)
	assert.Empty(t, res.Errors)
	assert.Equal(t, int64(1), res.ConversationCount)

	assert.Contains(t, e.vocab.assocs, vocabKey("async", domain.ContextProblemSolving))
	assert.Len(t, e.staging.rows, 3)
	assert.Empty(t, e.seq.transitions)
}

func TestManager_SecondTurnRecordsTransition(t *testing.T) {
	e := newTestEngine(t, DefaultManagerConfig())
	ctx := context.Background()

	e.manager.ProcessConversationTurn(ctx, turn("I'm stuck on this async code"))
	res := e.manager.ProcessConversationTurn(ctx, turn("thanks, that worked!"))

	assert.Equal(t, domain.StatePositiveFeedback, res.CurrentState)
	assert.Equal(t, 1, res.StateTransitions)
	assert.Equal(t, 2, res.VocabObservations)

	_, ok := e.seq.transitions[[2]domain.ConversationState{domain.StateProblemStatement, domain.StatePositiveFeedback}]
	assert.True(t, ok)
	assert.Contains(t, e.staging.rows, stagedKey(domain.KindTransition, "problem_statement", "positive_feedback"))

	session := e.manager.Session()
	assert.Equal(t, domain.StatePositiveFeedback, session.PreviousState)
	assert.Equal(t, []domain.ConversationState{domain.StateProblemStatement, domain.StatePositiveFeedback}, session.History)
}

func TestManager_WriteBudgetSkipsExcess(t *testing.T) {
	cfg := DefaultManagerConfig()
	cfg.TurnMaxWrites = 2
	e := newTestEngine(t, cfg)
	ctx := context.Background()

	res := e.manager.ProcessConversationTurn(ctx, turn("I'm stuck on this async code"))
	require.Empty(t, res.BudgetExceeded)

	res = e.manager.ProcessConversationTurn(ctx, domain.Turn{
		UserMessage: "thanks, that worked!",
		ActiveDimensions: map[domain.Dimension]float64{
			domain.DimFormality:  0.9,
			domain.DimHumorStyle: 0.1,
		},
	})

	assert.Equal(t, 1, res.StateTransitions)
	assert.Equal(t, 2, res.VocabObservations)
	assert.Zero(t, res.CoactivationsUpdated)
	assert.Equal(t, 2, res.WritesApplied)
	assert.Equal(t, 1, res.WritesSkipped)
	assert.Equal(t, BudgetExceededWrites, res.BudgetExceeded)
	assert.Empty(t, e.dims.pairs)

	stats := e.manager.GetSystemStats(ctx)
	assert.Equal(t, int64(1), stats.Budget.TurnsOverBudget)
	assert.Equal(t, int64(1), stats.Budget.WritesSkipped)
	assert.Equal(t, 0.5, stats.Budget.SkipRate)
}

func TestManager_LongMessagesLeaveRoomForDimensions(t *testing.T) {
	e := newTestEngine(t, DefaultManagerConfig())
	ctx := context.Background()
	dims := map[domain.Dimension]float64{
		domain.DimFormality:  0.9,
		domain.DimHumorStyle: 0.1,
	}

	tests := []struct {
		name            string
		wantTransitions int
		wantWrites      int
	}{
		{name: "first turn", wantTransitions: 0, wantWrites: 2},
		{name: "second turn", wantTransitions: 1, wantWrites: 3},
		{name: "third turn", wantTransitions: 1, wantWrites: 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := e.manager.ProcessConversationTurn(ctx, domain.Turn{
				UserMessage:      "my python script keeps throwing weird errors today",
				ActiveDimensions: dims,
			})
			assert.Greater(t, res.VocabObservations, DefaultTurnMaxWrites)
			assert.Equal(t, tt.wantTransitions, res.StateTransitions)
			assert.Greater(t, res.CoactivationsUpdated, 0)
			assert.Equal(t, tt.wantWrites, res.WritesApplied)
			assert.Zero(t, res.WritesSkipped)
			assert.Empty(t, res.BudgetExceeded)
		})
	}

	row, ok := e.dims.pairs[pairKey(domain.DimFormality, domain.DimHumorStyle)]
	require.True(t, ok)
	assert.Equal(t, len(tests), row.ObservationCount)
}

func TestManager_StepFailureIsIsolated(t *testing.T) {
	vs := new(MockVocabularyStore)
	dbErr := errors.New("connection refused")
	vs.On("ListByTerm", mock.Anything, mock.Anything).Return(nil, dbErr)
	vs.On("Stats", mock.Anything, mock.Anything, mock.Anything).Return(nil, dbErr)

	e := newTestEngineWithVocab(t, DefaultManagerConfig(), vs)
	ctx := context.Background()

	res := e.manager.ProcessConversationTurn(ctx, domain.Turn{
		UserMessage: "I'm stuck on this async code",
		ActiveDimensions: map[domain.Dimension]float64{
			domain.DimFormality:  0.9,
			domain.DimHumorStyle: 0.1,
		},
	})

	require.Len(t, res.Errors, 1)
	assert.Equal(t, StepVocabulary, res.Errors[0].Step)
	assert.Equal(t, domain.StateProblemStatement, res.CurrentState)
	assert.Equal(t, 0, res.VocabObservations)
	assert.Equal(t, 1, res.CoactivationsUpdated)

	stats := e.manager.GetSystemStats(ctx)
	assert.Equal(t, int64(1), stats.StepErrors[StepVocabulary])
	assert.Nil(t, stats.Vocabulary)
	require.Len(t, stats.Errors, 1)
	assert.Equal(t, "vocabulary_stats", stats.Errors[0].Step)

	health := e.manager.GetHealthSummary(ctx)
	assert.Equal(t, HealthDegraded, health.Status)
	assert.Equal(t, HealthDegraded, health.Components["vocabulary"].Status)
	assert.Equal(t, HealthIdle, health.Components["sequences"].Status)

	vs.AssertExpectations(t)
}

func TestManager_ShouldUseTermWaitsForPromotion(t *testing.T) {
	e := newTestEngine(t, DefaultManagerConfig())
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		res := e.manager.ProcessConversationTurn(ctx, turn("async"))
		require.Equal(t, domain.ContextCasualChat, res.ContextType)
	}

	assert.False(t, e.manager.ShouldUseTermCached(ctx, "async", domain.ContextCasualChat, DefaultUseTermThreshold))
	assert.Empty(t, e.manager.GetVocabularyForContext(ctx, domain.ContextCasualChat, 0.6))

	e.clock.Advance(days(8))
	assert.False(t, e.manager.ShouldUseTermCached(ctx, "async", domain.ContextCasualChat, DefaultUseTermThreshold),
		"cached answer survives until the next purge")

	sweep := e.manager.SweepQuarantine(ctx)
	assert.Empty(t, sweep.Errors)
	assert.GreaterOrEqual(t, sweep.Promoted, int64(1))

	assert.True(t, e.manager.ShouldUseTermCached(ctx, "async", domain.ContextCasualChat, DefaultUseTermThreshold))
	terms := e.manager.GetVocabularyForContext(ctx, domain.ContextCasualChat, 0.6)
	require.Len(t, terms, 1)
	assert.Equal(t, "async", terms[0].Term)

	cs := e.manager.GetSystemStats(ctx).Cache
	assert.Equal(t, int64(1), cs.Hits)
	assert.Equal(t, int64(2), cs.Misses)
}

func TestManager_OverridesBypassQuarantine(t *testing.T) {
	e := newTestEngine(t, DefaultManagerConfig())
	ctx := context.Background()

	_, err := e.manager.AddOverride(ctx, "lol", domain.ContextFormalTechnical, 0.9, "house style")
	require.NoError(t, err)
	assert.True(t, e.manager.ShouldUseTermCached(ctx, "lol", domain.ContextFormalTechnical, DefaultUseTermThreshold))

	_, err = e.manager.AddOverride(ctx, "lol", domain.ContextFormalTechnical, 0.05, "never")
	require.NoError(t, err)
	assert.False(t, e.manager.ShouldUseTermCached(ctx, "lol", domain.ContextFormalTechnical, 0))

	require.NoError(t, e.manager.RemoveOverride(ctx, "lol", domain.ContextFormalTechnical))
	assert.False(t, e.manager.ShouldUseTermCached(ctx, "lol", domain.ContextFormalTechnical, DefaultUseTermThreshold))
	assert.True(t, e.manager.ShouldUseTermCached(ctx, "lol", domain.ContextFormalTechnical, 0.5))

	err = e.manager.RemoveOverride(ctx, "lol", domain.ContextFormalTechnical)
	assert.ErrorIs(t, err, ErrOverrideNotFound)
}

func TestManager_DimensionPredictionsGatedByQuarantine(t *testing.T) {
	e := newTestEngine(t, DefaultManagerConfig())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		e.manager.ProcessConversationTurn(ctx, domain.Turn{
			UserMessage: "ok",
			ActiveDimensions: map[domain.Dimension]float64{
				domain.DimFormality:  0.9,
				domain.DimHumorStyle: 0.1,
			},
		})
	}
	assert.Empty(t, e.manager.GetDimensionPredictionsFor(ctx, domain.DimFormality, 0.9))

	e.clock.Advance(days(8))
	e.manager.SweepQuarantine(ctx)

	preds := e.manager.GetDimensionPredictionsFor(ctx, domain.DimFormality, 0.9)
	require.Contains(t, preds, domain.DimHumorStyle)
	assert.InDelta(t, 0.5-0.5*0.16, preds[domain.DimHumorStyle].Value, 1e-9)

	res := e.manager.ProcessConversationTurn(ctx, domain.Turn{
		UserMessage: "ok",
		ActiveDimensions: map[domain.Dimension]float64{
			domain.DimFormality:      0.9,
			domain.DimTechnicalDepth: 0.9,
		},
	})
	require.Contains(t, res.Predictions, domain.DimHumorStyle)
	p := res.Predictions[domain.DimHumorStyle]
	assert.InDelta(t, 0.42, p.Value, 1e-9)
	assert.InDelta(t, 0.128, p.Confidence, 1e-9)
	assert.Equal(t, []domain.Dimension{domain.DimFormality}, p.Sources)
	assert.NotContains(t, res.Predictions, domain.DimTechnicalDepth)
}

func TestManager_CacheKeysKeepNearbyValuesApart(t *testing.T) {
	e := newTestEngine(t, DefaultManagerConfig())
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		e.manager.ProcessConversationTurn(ctx, domain.Turn{
			UserMessage: "ok",
			ActiveDimensions: map[domain.Dimension]float64{
				domain.DimFormality:  1,
				domain.DimHumorStyle: 0,
			},
		})
	}
	e.clock.Advance(days(8))
	e.manager.SweepQuarantine(ctx)

	tests := []struct {
		name  string
		value float64
		want  bool
	}{
		{name: "just below active", value: 0.699, want: false},
		{name: "active", value: 0.7, want: true},
		{name: "just below active again", value: 0.6999, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			preds := e.manager.GetDimensionPredictionsFor(ctx, domain.DimFormality, tt.value)
			_, ok := preds[domain.DimHumorStyle]
			assert.Equal(t, tt.want, ok)
		})
	}

	assert.False(t, e.manager.ShouldUseTermCached(ctx, "fresh", domain.ContextCasualChat, 0.50001))
	assert.True(t, e.manager.ShouldUseTermCached(ctx, "fresh", domain.ContextCasualChat, 0.5))
	assert.Equal(t, 2, e.manager.GetSystemStats(ctx).Cache.TermEntries)
}

func TestManager_AnticipationGatedByQuarantine(t *testing.T) {
	e := newTestEngine(t, DefaultManagerConfig())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		res := e.manager.ProcessConversationTurn(ctx, turn("I'm stuck"))
		require.Equal(t, domain.StateProblemStatement, res.CurrentState)
		assert.Nil(t, res.Anticipated)

		res = e.manager.ProcessConversationTurn(ctx, turn("what do you mean?"))
		require.Equal(t, domain.StateClarificationQuestion, res.CurrentState)
	}
	assert.Empty(t, e.manager.GetLikelyNextStates(ctx, domain.StateProblemStatement))

	e.clock.Advance(days(8))
	res := e.manager.ProcessConversationTurn(ctx, turn("I'm stuck"))
	require.NotNil(t, res.Anticipated)
	assert.Equal(t, domain.StateClarificationQuestion, res.Anticipated.PredictedState)
	assert.Equal(t, "prepare simpler explanation", res.Anticipated.SuggestedAction)

	next := e.manager.GetLikelyNextStates(ctx, domain.StateProblemStatement)
	require.Len(t, next, 1)
	assert.Equal(t, domain.StateClarificationQuestion, next[0].State)
}

func TestManager_ResetSession(t *testing.T) {
	e := newTestEngine(t, DefaultManagerConfig())
	ctx := context.Background()

	e.manager.ProcessConversationTurn(ctx, turn("I'm stuck"))
	before := e.manager.Session().SessionID

	info := e.manager.ResetSession()
	assert.NotEqual(t, before, info.SessionID)
	assert.Empty(t, info.History)
	assert.Equal(t, int64(1), info.ConversationCount)

	res := e.manager.ProcessConversationTurn(ctx, turn("what do you mean?"))
	assert.Equal(t, 0, res.StateTransitions)
	assert.Empty(t, e.seq.transitions)
	assert.Len(t, e.manager.Session().History, 1)
}

func TestManager_CachePurgedOnRefreshInterval(t *testing.T) {
	cfg := DefaultManagerConfig()
	cfg.CacheRefreshInterval = 2
	e := newTestEngine(t, cfg)
	ctx := context.Background()

	e.manager.ShouldUseTermCached(ctx, "hello", domain.ContextCasualChat, 0.5)
	e.manager.GetDimensionPredictionsFor(ctx, domain.DimFormality, 0.9)
	cs := e.manager.GetSystemStats(ctx).Cache
	assert.Equal(t, 1, cs.TermEntries)
	assert.Equal(t, 1, cs.PredictionEntries)

	e.manager.ProcessConversationTurn(ctx, turn("hello"))
	assert.Equal(t, 1, e.manager.GetSystemStats(ctx).Cache.TermEntries)

	e.manager.ProcessConversationTurn(ctx, turn("hello"))
	cs = e.manager.GetSystemStats(ctx).Cache
	assert.Zero(t, cs.TermEntries)
	assert.Zero(t, cs.PredictionEntries)
}

func TestManager_InvalidLookupsReturnDefaults(t *testing.T) {
	e := newTestEngine(t, DefaultManagerConfig())
	ctx := context.Background()

	assert.False(t, e.manager.ShouldUseTermCached(ctx, "", domain.ContextCasualChat, 0))
	assert.False(t, e.manager.ShouldUseTermCached(ctx, "hey", domain.ContextType("bogus"), 0))
	assert.Empty(t, e.manager.GetDimensionPredictionsFor(ctx, domain.Dimension("mood"), 0.9))
	assert.Empty(t, e.manager.GetDimensionPredictionsFor(ctx, domain.DimFormality, 1.7))
	assert.Nil(t, e.manager.GetLikelyNextStates(ctx, domain.ConversationState("bogus")))
	assert.Nil(t, e.manager.GetVocabularyForContext(ctx, domain.ContextType("bogus"), 0))
}

func TestManager_InvalidSatisfactionIgnored(t *testing.T) {
	e := newTestEngine(t, DefaultManagerConfig())
	ctx := context.Background()
	bad := 1.5

	e.manager.ProcessConversationTurn(ctx, turn("I'm stuck"))
	res := e.manager.ProcessConversationTurn(ctx, domain.Turn{
		UserMessage: "thanks",
		Context:     domain.TurnContext{Satisfaction: &bad},
	})
	require.Equal(t, 1, res.StateTransitions)

	row := e.seq.transitions[[2]domain.ConversationState{domain.StateProblemStatement, domain.StatePositiveFeedback}]
	assert.Nil(t, row.AvgSatisfaction)
}

func TestManager_HealthSummary(t *testing.T) {
	e := newTestEngine(t, DefaultManagerConfig())
	ctx := context.Background()

	h := e.manager.GetHealthSummary(ctx)
	assert.Equal(t, HealthIdle, h.Status)
	assert.Len(t, h.Components, 3)

	e.manager.ProcessConversationTurn(ctx, turn("I'm stuck on this async code"))
	h = e.manager.GetHealthSummary(ctx)
	assert.Equal(t, HealthHealthy, h.Status)
	vocab := h.Components["vocabulary"]
	assert.Equal(t, HealthHealthy, vocab.Status)
	assert.Equal(t, 3, vocab.Associations)
	assert.Equal(t, 3, vocab.Staged)
	assert.Zero(t, vocab.LiveShare)
}

func TestManager_ExportAllData(t *testing.T) {
	e := newTestEngine(t, DefaultManagerConfig())
	ctx := context.Background()

	e.manager.ProcessConversationTurn(ctx, turn("I'm stuck on this async code"))
	e.manager.ProcessConversationTurn(ctx, turn("what do you mean?"))
	_, err := e.manager.AddOverride(ctx, "dude", domain.ContextFormalTechnical, 0.05, "")
	require.NoError(t, err)

	out, err := e.manager.ExportAllData(ctx)
	require.NoError(t, err)
	assert.Equal(t, buildconfig.Version(), out.Version)
	assert.Len(t, out.Vocabulary, 4)
	assert.Len(t, out.Overrides, 1)
	assert.Len(t, out.Transitions[domain.StateProblemStatement], 1)
	assert.Len(t, out.Staged, 5)
	assert.Equal(t, int64(2), out.Session.ConversationCount)
}

func TestManager_ExportFailsOnReadError(t *testing.T) {
	vs := new(MockVocabularyStore)
	vs.On("ListAll", mock.Anything).Return(nil, errors.New("timeout"))

	e := newTestEngineWithVocab(t, DefaultManagerConfig(), vs)
	_, err := e.manager.ExportAllData(context.Background())
	assert.Error(t, err)
	vs.AssertExpectations(t)
}

func TestManager_ConcurrentTurnsSerialized(t *testing.T) {
	e := newTestEngine(t, DefaultManagerConfig())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.manager.ProcessConversationTurn(ctx, turn("hello there"))
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(10), e.manager.Session().ConversationCount)
	row := e.seq.transitions[[2]domain.ConversationState{domain.StateCasualChat, domain.StateCasualChat}]
	assert.Equal(t, 9, row.Count)
}

func TestManager_PrunedAssociationsReenterQuarantine(t *testing.T) {
	e := newTestEngine(t, DefaultManagerConfig())
	ctx := context.Background()
	dimTurn := domain.Turn{
		UserMessage: "ok",
		ActiveDimensions: map[domain.Dimension]float64{
			domain.DimFormality:  0.9,
			domain.DimHumorStyle: 0.1,
		},
	}
	key := stagedKey(domain.KindDimension, string(domain.DimFormality), string(domain.DimHumorStyle))

	for i := 0; i < 5; i++ {
		e.manager.ProcessConversationTurn(ctx, dimTurn)
	}
	e.clock.Advance(days(8))
	e.manager.SweepQuarantine(ctx)
	require.True(t, e.staging.rows[key].Promoted())
	require.NotEmpty(t, e.manager.GetDimensionPredictionsFor(ctx, domain.DimFormality, 0.9))

	r := e.manager.PruneAll(ctx, 0.5, 10)
	assert.Empty(t, r.Errors)
	assert.Equal(t, int64(1), r.Dimensions)
	assert.Equal(t, int64(1), r.Released)
	assert.NotContains(t, e.staging.rows, key)
	assert.Contains(t, e.staging.rows, stagedKey(domain.KindVocabulary, "ok", string(domain.ContextCasualChat)))

	e.manager.ProcessConversationTurn(ctx, dimTurn)
	require.Contains(t, e.dims.pairs, pairKey(domain.DimFormality, domain.DimHumorStyle))
	assert.False(t, e.staging.rows[key].Promoted())
	assert.Equal(t, 1, e.staging.rows[key].ObservationCount)
	live, err := e.manager.gate.IsLive(ctx, domain.KindDimension, string(domain.DimFormality), string(domain.DimHumorStyle))
	require.NoError(t, err)
	assert.False(t, live)
}

func TestManager_DecayedTransitionsReleaseStaging(t *testing.T) {
	e := newTestEngine(t, DefaultManagerConfig())
	ctx := context.Background()

	e.manager.ProcessConversationTurn(ctx, turn("I'm stuck"))
	e.manager.ProcessConversationTurn(ctx, turn("what do you mean?"))
	key := stagedKey(domain.KindTransition, string(domain.StateProblemStatement), string(domain.StateClarificationQuestion))
	require.Contains(t, e.staging.rows, key)

	e.clock.Advance(days(8))
	r := e.manager.ApplyTemporalDecayAll(ctx, 7)
	assert.Empty(t, r.Errors)
	assert.Equal(t, int64(1), r.Transitions)
	assert.Equal(t, int64(1), r.Released)
	assert.Empty(t, e.seq.transitions)
	assert.NotContains(t, e.staging.rows, key)
	assert.Contains(t, e.staging.rows, stagedKey(domain.KindVocabulary, "stuck", string(domain.ContextProblemSolving)))
}
