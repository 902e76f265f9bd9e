package domain

import "time"

// VocabularyAssociation is the learned strength of a term within a context type.
type VocabularyAssociation struct {
	Term             string      `json:"term"`
	Context          ContextType `json:"context_type"`
	Strength         float64     `json:"strength"`
	ObservationCount int         `json:"observation_count"`
	FirstObserved    time.Time   `json:"first_observed"`
	LastUpdated      time.Time   `json:"last_updated"`
}

// VocabularyOverride takes precedence over any learned strength for its pair.
type VocabularyOverride struct {
	Term      string      `json:"term"`
	Context   ContextType `json:"context_type"`
	Strength  float64     `json:"strength"`
	Reason    string      `json:"reason"`
	CreatedAt time.Time   `json:"created_at"`
}

type TermStrength struct {
	Term     string  `json:"term"`
	Strength float64 `json:"strength"`
}

type ContextStrength struct {
	Context  ContextType `json:"context_type"`
	Strength float64     `json:"strength"`
}

// DimensionAssociation is the co-activation strength of an unordered dimension
// pair. Dim1 < Dim2 always holds for stored rows.
type DimensionAssociation struct {
	Dim1             Dimension `json:"dimension_1"`
	Dim2             Dimension `json:"dimension_2"`
	Strength         float64   `json:"coactivation_strength"`
	Polarity         float64   `json:"polarity"`
	ObservationCount int       `json:"observation_count"`
	FirstObserved    time.Time `json:"first_observed"`
	LastUpdated      time.Time `json:"last_updated"`
}

// Other returns the pair member that is not d.
func (a DimensionAssociation) Other(d Dimension) Dimension {
	if a.Dim1 == d {
		return a.Dim2
	}
	return a.Dim1
}

// MultiDimPattern records three or more dimensions observed active together.
type MultiDimPattern struct {
	PatternID       string                `json:"pattern_id"`
	Dimensions      map[Dimension]float64 `json:"dimensions"`
	Frequency       int                   `json:"frequency"`
	AvgSatisfaction *float64              `json:"avg_satisfaction,omitempty"`
	FirstSeen       time.Time             `json:"first_seen"`
	LastSeen        time.Time             `json:"last_seen"`
}

type DimensionPrediction struct {
	Value      float64     `json:"value"`
	Confidence float64     `json:"confidence"`
	Sources    []Dimension `json:"sources"`
}

// StateTransition is one edge of the conversation-state Markov chain.
type StateTransition struct {
	From            ConversationState `json:"state_from"`
	To              ConversationState `json:"state_to"`
	Count           int               `json:"transition_count"`
	Probability     float64           `json:"transition_probability"`
	AvgSatisfaction *float64          `json:"avg_satisfaction,omitempty"`
	FirstObserved   time.Time         `json:"first_observed"`
	LastObserved    time.Time         `json:"last_observed"`
}

// StateSequence is a recurring run of 3 to 5 consecutive states.
type StateSequence struct {
	SequenceID      string              `json:"sequence_id"`
	Sequence        []ConversationState `json:"sequence"`
	Frequency       int                 `json:"frequency"`
	AvgSatisfaction *float64            `json:"avg_satisfaction,omitempty"`
	FirstSeen       time.Time           `json:"first_seen"`
	LastSeen        time.Time           `json:"last_seen"`
}

type StateProbability struct {
	State       ConversationState `json:"state"`
	Probability float64           `json:"probability"`
}

// SkipOpportunity marks an intermediate state that a direct transition makes
// nearly redundant.
type SkipOpportunity struct {
	From              ConversationState `json:"from"`
	Skipped           ConversationState `json:"skipped"`
	To                ConversationState `json:"to"`
	PathProbability   float64           `json:"path_probability"`
	DirectProbability float64           `json:"direct_probability"`
}

type RecurringPattern struct {
	StateSequence
	SkipOpportunities []SkipOpportunity `json:"skip_opportunities"`
}

type AnticipatedResponse struct {
	CurrentState    ConversationState  `json:"current_state"`
	PredictedState  ConversationState  `json:"predicted_state"`
	Probability     float64            `json:"probability"`
	SuggestedAction string             `json:"suggested_action"`
	Alternatives    []StateProbability `json:"alternatives,omitempty"`
}

type StagedStatus string

const (
	StagedStatusStaged   StagedStatus = "staged"
	StagedStatusPromoted StagedStatus = "promoted"
)

// StagedAssociation tracks the evidence behind a learned key until it is
// trusted by live read paths.
type StagedAssociation struct {
	Kind             AssociationKind `json:"kind"`
	Key1             string          `json:"key_1"`
	Key2             string          `json:"key_2"`
	ObservationCount int             `json:"observation_count"`
	Status           StagedStatus    `json:"status"`
	FirstObserved    time.Time       `json:"first_observed"`
	LastObserved     time.Time       `json:"last_observed"`
	PromotedAt       *time.Time      `json:"promoted_at,omitempty"`
}

func (s StagedAssociation) Promoted() bool {
	return s.Status == StagedStatusPromoted
}
