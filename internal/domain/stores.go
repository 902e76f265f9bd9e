package domain

import (
	"context"
	"time"
)

type VocabularyStats struct {
	Associations       int     `json:"associations"`
	UniqueTerms        int     `json:"unique_terms"`
	Overrides          int     `json:"overrides"`
	AvgStrength        float64 `json:"avg_strength"`
	WeakAssociations   int     `json:"weak_associations"`
	RecentObservations int     `json:"recent_observations"`
}

type VocabularyStore interface {
	Get(ctx context.Context, term string, c ContextType) (*VocabularyAssociation, error)
	ListByTerm(ctx context.Context, term string) ([]VocabularyAssociation, error)
	ListByContext(ctx context.Context, c ContextType, minStrength float64, limit int) ([]VocabularyAssociation, error)
	ListAll(ctx context.Context) ([]VocabularyAssociation, error)
	// SaveObservation writes the observed pair, the inhibited competitors and
	// an observation-log row in a single transaction.
	SaveObservation(ctx context.Context, observed VocabularyAssociation, inhibited []VocabularyAssociation) error
	DecayStale(ctx context.Context, before time.Time, factor float64) (int64, error)
	PruneWeak(ctx context.Context, minStrength float64, minObservations int) (int64, error)

	GetOverride(ctx context.Context, term string, c ContextType) (*VocabularyOverride, error)
	UpsertOverride(ctx context.Context, o *VocabularyOverride) error
	DeleteOverride(ctx context.Context, term string, c ContextType) error
	ListOverrides(ctx context.Context) ([]VocabularyOverride, error)

	Stats(ctx context.Context, weakBelow float64, since time.Time) (*VocabularyStats, error)
}

type DimensionStats struct {
	Pairs         int     `json:"pairs"`
	Patterns      int     `json:"patterns"`
	AvgStrength   float64 `json:"avg_strength"`
	WeakPairs     int     `json:"weak_pairs"`
	NegativePairs int     `json:"negative_pairs"`
}

type DimensionStore interface {
	Get(ctx context.Context, d1, d2 Dimension) (*DimensionAssociation, error)
	ListForDimension(ctx context.Context, d Dimension, limit int) ([]DimensionAssociation, error)
	ListAll(ctx context.Context) ([]DimensionAssociation, error)
	SavePairs(ctx context.Context, pairs []DimensionAssociation) error
	DecayStale(ctx context.Context, before time.Time, factor float64) (int64, error)
	PruneWeak(ctx context.Context, minStrength float64, minObservations int) (int64, error)

	GetPattern(ctx context.Context, patternID string) (*MultiDimPattern, error)
	SavePattern(ctx context.Context, p *MultiDimPattern) error
	ListPatterns(ctx context.Context, minFrequency int) ([]MultiDimPattern, error)

	Stats(ctx context.Context, weakBelow float64) (*DimensionStats, error)
}

type SequenceStats struct {
	Transitions       int `json:"transitions"`
	SourceStates      int `json:"source_states"`
	TotalObservations int `json:"total_observations"`
	Sequences         int `json:"sequences"`
}

type SequenceStore interface {
	GetTransition(ctx context.Context, from, to ConversationState) (*StateTransition, error)
	ListTransitionsFrom(ctx context.Context, from ConversationState) ([]StateTransition, error)
	ListAllTransitions(ctx context.Context) ([]StateTransition, error)
	// SaveTransitions upserts every outgoing row of one source state atomically.
	SaveTransitions(ctx context.Context, rows []StateTransition) error
	// DecayStale scales counts of transitions last observed before the cutoff,
	// truncating toward zero and removing rows that reach zero.
	DecayStale(ctx context.Context, before time.Time, factor float64) (int64, error)

	GetSequence(ctx context.Context, sequenceID string) (*StateSequence, error)
	SaveSequence(ctx context.Context, s *StateSequence) error
	ListSequences(ctx context.Context, minFrequency int) ([]StateSequence, error)

	Stats(ctx context.Context) (*SequenceStats, error)
}

type StagingCounts struct {
	Staged   int `json:"staged"`
	Promoted int `json:"promoted"`
}

type QuarantineStore interface {
	Get(ctx context.Context, kind AssociationKind, key1, key2 string) (*StagedAssociation, error)
	Save(ctx context.Context, s *StagedAssociation) error
	Delete(ctx context.Context, kind AssociationKind, key1, key2 string) error
	ListAll(ctx context.Context) ([]StagedAssociation, error)
	// PromoteEligible promotes staged rows with enough observations whose first
	// observation is older than firstBefore. Counts are keyed by kind.
	PromoteEligible(ctx context.Context, minObservations int, firstBefore, now time.Time) (map[AssociationKind]int64, error)
	// ExpireStaged discards unpromoted rows first observed before the cutoff.
	ExpireStaged(ctx context.Context, firstBefore time.Time) (map[AssociationKind]int64, error)
	Counts(ctx context.Context) (map[AssociationKind]StagingCounts, error)
}
