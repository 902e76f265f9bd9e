package service

import (
	"testing"

	"github.com/Harshitk-cp/penny/internal/domain"
)

func TestClassifyState(t *testing.T) {
	tests := []struct {
		name    string
		message string
		tc      domain.TurnContext
		want    domain.ConversationState
	}{
		{"stuck on async", "I'm stuck on this async code", domain.TurnContext{}, domain.StateProblemStatement},
		{"thanks", "thanks, that worked!", domain.TurnContext{}, domain.StatePositiveFeedback},
		{"what do you mean", "what do you mean by closure?", domain.TurnContext{}, domain.StateClarificationQuestion},
		{"simpler terms", "can you explain it in simpler terms", domain.TurnContext{}, domain.StateSimplifiedExplanation},
		{"typed error with line", "I get a TypeError on line 12", domain.TurnContext{}, domain.StateDebuggingHelp},
		{"greeting", "hello there", domain.TurnContext{}, domain.StateCasualChat},
		{"frustration", "ugh this is still not working!!", domain.TurnContext{}, domain.StateFrustrationExpression},
		{"correction", "that's wrong, I meant the other one", domain.TurnContext{}, domain.StateCorrectionRequest},
		{"opinion", "what do you think about rust vs go", domain.TurnContext{}, domain.StateOpinionRequest},
		{"technical", "how does garbage collection work", domain.TurnContext{}, domain.StateTechnicalExplanation},
		{"curly apostrophe", "I’m stuck", domain.TurnContext{}, domain.StateProblemStatement},
		{"follow up flag", "and the second part", domain.TurnContext{IsFollowUp: true}, domain.StateFollowUpQuestion},
		{"code review with code", "please review my code", domain.TurnContext{HasCode: true}, domain.StateCodeReview},
		{"no signal question", "random?", domain.TurnContext{}, domain.StateClarificationQuestion},
		{"no signal statement", "random statement", domain.TurnContext{}, domain.StateCasualChat},
		{"empty", "", domain.TurnContext{}, domain.StateCasualChat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifyState(tt.message, tt.tc); got != tt.want {
				t.Errorf("classifyState(%q) = %v, want %v", tt.message, got, tt.want)
			}
		})
	}
}

func TestDetermineContextType(t *testing.T) {
	high := 0.9
	low := 0.2

	tests := []struct {
		name    string
		message string
		tc      domain.TurnContext
		want    domain.ContextType
	}{
		{"emotional wins over problem", "I feel overwhelmed by this bug", domain.TurnContext{}, domain.ContextEmotionalSupport},
		{"problem keyword", "I'm stuck on this async code", domain.TurnContext{}, domain.ContextProblemSolving},
		{"code flag", "look at this", domain.TurnContext{HasCode: true}, domain.ContextProblemSolving},
		{"creative", "let's brainstorm a story", domain.TurnContext{}, domain.ContextCreativeDiscussion},
		{"formal and deep", "describe the tradeoffs", domain.TurnContext{Formality: &high, TechnicalDepth: &high}, domain.ContextFormalTechnical},
		{"formal but shallow", "describe the tradeoffs", domain.TurnContext{Formality: &high, TechnicalDepth: &low}, domain.ContextCasualChat},
		{"technical vocabulary", "the latency and throughput of this protocol", domain.TurnContext{}, domain.ContextFormalTechnical},
		{"short question", "what time is it?", domain.TurnContext{}, domain.ContextQuickQuery},
		{"long question", "so what do you reckon we should all do this weekend when the weather is nice?", domain.TurnContext{}, domain.ContextCasualChat},
		{"plain chat", "nice weather today", domain.TurnContext{}, domain.ContextCasualChat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetermineContextType(tt.message, tt.tc); got != tt.want {
				t.Errorf("DetermineContextType(%q) = %v, want %v", tt.message, got, tt.want)
			}
		})
	}
}

func TestContainsPhrase(t *testing.T) {
	tests := []struct {
		text, phrase string
		want         bool
	}{
		{"this is an error", "error", true},
		{"typeerror raised", "error", false},
		{"hi there", "hi", true},
		{"this is it", "hi", false},
		{"ugh!!", "ugh", true},
		{"that's wrong", "that's wrong", true},
		{"", "x", false},
		{"x", "", false},
	}
	for _, tt := range tests {
		if got := containsPhrase(tt.text, tt.phrase); got != tt.want {
			t.Errorf("containsPhrase(%q, %q) = %v, want %v", tt.text, tt.phrase, got, tt.want)
		}
	}
}
