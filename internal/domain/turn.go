package domain

import "github.com/google/uuid"

// TurnContext carries the metrics the host pipeline computed for a turn.
type TurnContext struct {
	Formality      *float64 `json:"formality,omitempty"`
	TechnicalDepth *float64 `json:"technical_depth,omitempty"`
	IsFollowUp     bool     `json:"is_follow_up"`
	HasCode        bool     `json:"has_code"`
	Satisfaction   *float64 `json:"satisfaction,omitempty"`
}

// Turn is one completed exchange pushed into the learning manager.
type Turn struct {
	UserMessage       string                `json:"user_message"`
	AssistantResponse string                `json:"assistant_response"`
	Context           TurnContext           `json:"context"`
	ActiveDimensions  map[Dimension]float64 `json:"active_dimensions,omitempty"`
}

type StepError struct {
	Step    string `json:"step"`
	Message string `json:"message"`
}

// TurnResult summarizes what learning happened for one turn.
type TurnResult struct {
	TurnID               uuid.UUID                         `json:"turn_id"`
	ConversationCount    int64                             `json:"conversation_count"`
	ContextType          ContextType                       `json:"context_type"`
	CurrentState         ConversationState                 `json:"current_state"`
	VocabObservations    int                               `json:"vocab_observations"`
	CoactivationsUpdated int                               `json:"coactivations_updated"`
	StateTransitions     int                               `json:"state_transitions"`
	Predictions          map[Dimension]DimensionPrediction `json:"predictions"`
	Anticipated          *AnticipatedResponse              `json:"anticipated,omitempty"`
	WritesApplied        int                               `json:"writes_applied"`
	WritesSkipped        int                               `json:"writes_skipped"`
	BudgetExceeded       string                            `json:"budget_exceeded,omitempty"`
	Errors               []StepError                       `json:"errors,omitempty"`
	LatencyMs            float64                           `json:"latency_ms"`
}
