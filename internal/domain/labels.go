package domain

import "strings"

// ContextType is the conversational register of a turn. It is the second key
// of every vocabulary association.
type ContextType string

const (
	ContextEmotionalSupport   ContextType = "emotional_support"
	ContextProblemSolving     ContextType = "problem_solving"
	ContextQuickQuery         ContextType = "quick_query"
	ContextCreativeDiscussion ContextType = "creative_discussion"
	ContextFormalTechnical    ContextType = "formal_technical"
	ContextCasualChat         ContextType = "casual_chat"
)

// ContextTypes lists every recognized context label in a stable order.
var ContextTypes = []ContextType{
	ContextEmotionalSupport,
	ContextProblemSolving,
	ContextQuickQuery,
	ContextCreativeDiscussion,
	ContextFormalTechnical,
	ContextCasualChat,
}

func (c ContextType) Valid() bool {
	switch c {
	case ContextEmotionalSupport, ContextProblemSolving, ContextQuickQuery,
		ContextCreativeDiscussion, ContextFormalTechnical, ContextCasualChat:
		return true
	}
	return false
}

func ParseContextType(s string) (ContextType, bool) {
	c := ContextType(strings.ToLower(strings.TrimSpace(s)))
	return c, c.Valid()
}

// ConversationState is the communicative function of a single turn and the
// node set of the transition matrix.
type ConversationState string

const (
	StateProblemStatement      ConversationState = "problem_statement"
	StateClarificationQuestion ConversationState = "clarification_question"
	StateSimplifiedExplanation ConversationState = "simplified_explanation"
	StatePositiveFeedback      ConversationState = "positive_feedback"
	StateFrustrationExpression ConversationState = "frustration_expression"
	StateFollowUpQuestion      ConversationState = "follow_up_question"
	StateCodeReview            ConversationState = "code_review"
	StateDebuggingHelp         ConversationState = "debugging_help"
	StateOpinionRequest        ConversationState = "opinion_request"
	StateTechnicalExplanation  ConversationState = "technical_explanation"
	StateCasualChat            ConversationState = "casual_chat"
	StateCorrectionRequest     ConversationState = "correction_request"
)

var ConversationStates = []ConversationState{
	StateProblemStatement,
	StateClarificationQuestion,
	StateSimplifiedExplanation,
	StatePositiveFeedback,
	StateFrustrationExpression,
	StateFollowUpQuestion,
	StateCodeReview,
	StateDebuggingHelp,
	StateOpinionRequest,
	StateTechnicalExplanation,
	StateCasualChat,
	StateCorrectionRequest,
}

func (s ConversationState) Valid() bool {
	for _, known := range ConversationStates {
		if s == known {
			return true
		}
	}
	return false
}

func ParseConversationState(s string) (ConversationState, bool) {
	st := ConversationState(strings.ToLower(strings.TrimSpace(s)))
	return st, st.Valid()
}

// Dimension is a personality dimension tracked on a 0..1 scale where 0.5 is neutral.
type Dimension string

const (
	DimFormality               Dimension = "formality_level"
	DimTechnicalDepth          Dimension = "technical_depth_preference"
	DimHumorStyle              Dimension = "humor_style_preference"
	DimResponseLength          Dimension = "response_length_preference"
	DimEmotionalSupport        Dimension = "emotional_support_style"
	DimConversationPace        Dimension = "conversation_pace_preference"
	DimProactiveSuggestions    Dimension = "proactive_suggestions"
	DimCommunicationDirectness Dimension = "communication_directness"
)

var Dimensions = []Dimension{
	DimFormality,
	DimTechnicalDepth,
	DimHumorStyle,
	DimResponseLength,
	DimEmotionalSupport,
	DimConversationPace,
	DimProactiveSuggestions,
	DimCommunicationDirectness,
}

func (d Dimension) Valid() bool {
	for _, known := range Dimensions {
		if d == known {
			return true
		}
	}
	return false
}

func ParseDimension(s string) (Dimension, bool) {
	d := Dimension(strings.ToLower(strings.TrimSpace(s)))
	return d, d.Valid()
}

// OrderedPair returns the two dimensions with the lexicographically smaller one first.
func OrderedPair(a, b Dimension) (Dimension, Dimension) {
	if b < a {
		return b, a
	}
	return a, b
}

// AssociationKind identifies which learner owns a staged association.
type AssociationKind string

const (
	KindVocabulary AssociationKind = "vocabulary"
	KindDimension  AssociationKind = "dimension"
	KindTransition AssociationKind = "transition"
)

func ValidAssociationKind(k string) bool {
	switch AssociationKind(k) {
	case KindVocabulary, KindDimension, KindTransition:
		return true
	}
	return false
}
