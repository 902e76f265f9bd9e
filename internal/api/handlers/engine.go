package handlers

import (
	"context"

	"github.com/Harshitk-cp/penny/internal/domain"
	"github.com/Harshitk-cp/penny/internal/service"
)

// Engine is the slice of the learning manager the HTTP layer drives.
type Engine interface {
	ProcessConversationTurn(ctx context.Context, turn domain.Turn) *domain.TurnResult

	ShouldUseTermCached(ctx context.Context, term string, c domain.ContextType, threshold float64) bool
	TopContextsForTerm(ctx context.Context, term string, limit int) ([]domain.ContextStrength, error)
	GetVocabularyForContext(ctx context.Context, c domain.ContextType, minStrength float64) []domain.TermStrength
	AddOverride(ctx context.Context, term string, c domain.ContextType, strength float64, reason string) (*domain.VocabularyOverride, error)
	RemoveOverride(ctx context.Context, term string, c domain.ContextType) error
	ListOverrides(ctx context.Context) ([]domain.VocabularyOverride, error)

	GetDimensionPredictionsFor(ctx context.Context, dim domain.Dimension, value float64) map[domain.Dimension]domain.DimensionPrediction
	MultiDimPatterns(ctx context.Context, minFrequency int) ([]domain.MultiDimPattern, error)
	NegativeCorrelations(ctx context.Context, minObservations int) ([]domain.DimensionAssociation, error)

	GetLikelyNextStates(ctx context.Context, state domain.ConversationState) []domain.StateProbability
	RecurringPatterns(ctx context.Context, minFrequency int) ([]domain.RecurringPattern, error)

	ApplyTemporalDecayAll(ctx context.Context, daysInactive int) *service.DecayReport
	PruneAll(ctx context.Context, minStrength float64, minObservations int) *service.PruneReport
	SweepQuarantine(ctx context.Context) *service.SweepReport
	ResetSession() *service.SessionInfo

	ExportAllData(ctx context.Context) (*service.ExportData, error)
	GetSystemStats(ctx context.Context) *service.SystemStats
	GetHealthSummary(ctx context.Context) *service.HealthSummary
}

var _ Engine = (*service.LearningManager)(nil)
