package service

import (
	"regexp"
	"strings"

	"github.com/Harshitk-cp/penny/internal/domain"
)

// stateRule scores a message for one conversation state. Keyword hits count
// once each, pattern hits count double, and priority breaks ties.
type stateRule struct {
	state    domain.ConversationState
	keywords []string
	patterns []*regexp.Regexp
	priority int
}

const (
	keywordWeight  = 1.0
	patternWeight  = 2.0
	priorityWeight = 0.1

	followUpBoost   = 2.0
	codeDebugBoost  = 1.5
	codeReviewBoost = 1.0
)

var stateRules = []stateRule{
	{
		state: domain.StateCorrectionRequest,
		keywords: []string{
			"that's wrong", "that is wrong", "not what i", "incorrect", "you made a mistake",
			"actually it's", "correction", "fix that", "you misunderstood", "wrong answer",
		},
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`\b(that'?s|that is|this is) (not right|wrong|incorrect)\b`),
			regexp.MustCompile(`\bno,? (i meant|that'?s not)\b`),
		},
		priority: 9,
	},
	{
		state: domain.StateFrustrationExpression,
		keywords: []string{
			"frustrated", "frustrating", "annoying", "ugh", "ridiculous", "still not working",
			"waste of time", "give up", "fed up", "doesn't help", "sick of",
		},
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`\b(still|again) (not|doesn'?t|broken|failing)\b`),
			regexp.MustCompile(`\bugh+\b`),
			regexp.MustCompile(`!{2,}`),
		},
		priority: 8,
	},
	{
		state: domain.StateDebuggingHelp,
		keywords: []string{
			"error", "exception", "traceback", "stack trace", "bug", "crash", "crashes",
			"debug", "segfault", "panic", "null pointer", "fails with", "undefined",
		},
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`\b\w+(error|exception)\b`),
			regexp.MustCompile(`\bline \d+\b`),
		},
		priority: 7,
	},
	{
		state: domain.StateCodeReview,
		keywords: []string{
			"review", "code review", "look at my code", "feedback on my", "refactor",
			"clean up", "best practice", "best practices", "pull request", "is this code",
		},
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`\b(review|check) (my|this) (code|function|implementation|pr)\b`),
		},
		priority: 7,
	},
	{
		state: domain.StateProblemStatement,
		keywords: []string{
			"stuck", "problem", "issue", "not working", "doesn't work", "broken",
			"can't figure", "trying to", "need help", "struggling", "having trouble",
		},
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`\b(i'?m|i am) (stuck|having trouble|struggling|lost)\b`),
			regexp.MustCompile(`\b(doesn'?t|does not|won'?t|isn'?t|can'?t) (work|run|compile|load|start)\b`),
		},
		priority: 6,
	},
	{
		state: domain.StateSimplifiedExplanation,
		keywords: []string{
			"simpler", "simply", "eli5", "explain like", "in plain", "layman",
			"dumb it down", "too complicated", "don't understand", "confusing",
		},
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`\b(simpler|simple|plain) (terms|words|way|english)\b`),
			regexp.MustCompile(`\bi don'?t (get|understand) (it|this|that)\b`),
		},
		priority: 6,
	},
	{
		state: domain.StateClarificationQuestion,
		keywords: []string{
			"what do you mean", "clarify", "which one", "do you mean",
			"what does that mean", "sorry, what", "meaning of",
		},
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`\bwhat (do|did) you mean\b`),
			regexp.MustCompile(`\bcan you (clarify|elaborate)\b`),
		},
		priority: 5,
	},
	{
		state: domain.StateFollowUpQuestion,
		keywords: []string{
			"what about", "and what", "follow up", "another question",
			"one more thing", "related to that", "then what", "how about",
		},
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`^(and|also|what about|how about)\b`),
		},
		priority: 4,
	},
	{
		state: domain.StateOpinionRequest,
		keywords: []string{
			"what do you think", "your opinion", "would you recommend", "should i",
			"which is better", "do you prefer", "thoughts on", "your take",
		},
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`\b(what'?s|what is) your (opinion|take|view)\b`),
		},
		priority: 3,
	},
	{
		state: domain.StateTechnicalExplanation,
		keywords: []string{
			"how does", "explain", "difference between", "under the hood", "architecture",
			"algorithm", "internals", "how do",
		},
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`\bhow (does|do) .+ work\b`),
			regexp.MustCompile(`\bwhat is the difference\b`),
		},
		priority: 3,
	},
	{
		state: domain.StatePositiveFeedback,
		keywords: []string{
			"thanks", "thank you", "great", "awesome", "perfect", "that worked",
			"works now", "helpful", "nice", "love it", "appreciate",
		},
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`\b(that|it) (worked|works)\b`),
		},
		priority: 2,
	},
	{
		state: domain.StateCasualChat,
		keywords: []string{
			"hello", "hi", "hey", "how are you", "what's up", "good morning",
			"lol", "haha", "weekend",
		},
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`^(hi|hey|hello|yo)\b`),
		},
		priority: 1,
	},
}

// classifyState picks the highest scoring conversation state for a message.
// With no signal at all, a question falls back to clarification_question and
// everything else to casual_chat.
func classifyState(message string, tc domain.TurnContext) domain.ConversationState {
	text := normalizeMessage(message)

	best := domain.ConversationState("")
	bestScore := 0.0
	bestPriority := -1
	for _, rule := range stateRules {
		score := keywordWeight * float64(countPhrases(text, rule.keywords))
		for _, p := range rule.patterns {
			if p.MatchString(text) {
				score += patternWeight
			}
		}

		switch {
		case tc.IsFollowUp && rule.state == domain.StateFollowUpQuestion:
			score += followUpBoost
		case tc.HasCode && rule.state == domain.StateDebuggingHelp:
			score += codeDebugBoost
		case tc.HasCode && rule.state == domain.StateCodeReview:
			score += codeReviewBoost
		}

		if score <= 0 {
			continue
		}
		score += priorityWeight * float64(rule.priority)
		if score > bestScore || (score == bestScore && rule.priority > bestPriority) {
			best, bestScore, bestPriority = rule.state, score, rule.priority
		}
	}

	if best != "" {
		return best
	}
	if strings.Contains(text, "?") {
		return domain.StateClarificationQuestion
	}
	return domain.StateCasualChat
}

var (
	emotionalKeywords = []string{
		"i feel", "feeling", "sad", "anxious", "anxiety", "stressed", "overwhelmed",
		"lonely", "depressed", "upset", "worried", "scared", "hurt", "rough day",
		"heartbroken", "grief", "cry", "crying",
	}
	problemKeywords = []string{
		"error", "bug", "fix", "broken", "stuck", "not working", "doesn't work",
		"how do i", "how can i", "issue", "problem", "debug", "crash", "fails",
	}
	creativeKeywords = []string{
		"idea", "ideas", "imagine", "brainstorm", "story", "poem", "creative",
		"what if", "invent", "design a", "write a song", "fiction",
	}
	technicalKeywords = []string{
		"architecture", "algorithm", "protocol", "implementation", "specification",
		"complexity", "concurrency", "latency", "throughput", "schema", "compiler",
	}
)

const (
	formalThreshold    = 0.7
	deepTechThreshold  = 0.7
	quickQueryMaxWords = 8
)

// DetermineContextType labels a turn with its conversational register.
// Rules are evaluated in priority order and the first match wins.
func DetermineContextType(message string, tc domain.TurnContext) domain.ContextType {
	text := normalizeMessage(message)

	if countPhrases(text, emotionalKeywords) > 0 {
		return domain.ContextEmotionalSupport
	}
	if countPhrases(text, problemKeywords) > 0 || tc.HasCode {
		return domain.ContextProblemSolving
	}
	if countPhrases(text, creativeKeywords) > 0 {
		return domain.ContextCreativeDiscussion
	}

	formal := tc.Formality != nil && *tc.Formality >= formalThreshold
	deep := tc.TechnicalDepth != nil && *tc.TechnicalDepth >= deepTechThreshold
	if (formal && deep) || countPhrases(text, technicalKeywords) >= 2 {
		return domain.ContextFormalTechnical
	}

	if strings.Contains(text, "?") && len(strings.Fields(text)) <= quickQueryMaxWords {
		return domain.ContextQuickQuery
	}
	return domain.ContextCasualChat
}
