package main

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/Harshitk-cp/penny/internal/domain"
	"github.com/Harshitk-cp/penny/internal/service"
	"go.uber.org/zap"
)

const maxLineBytes = 1 << 20

// turnSink is what replay drives, satisfied by *service.LearningManager.
type turnSink interface {
	ProcessConversationTurn(ctx context.Context, turn domain.Turn) *domain.TurnResult
	ResetSession() *service.SessionInfo
}

type transcriptLine struct {
	User       string                       `json:"user"`
	Assistant  string                       `json:"assistant"`
	Context    domain.TurnContext           `json:"context"`
	Dimensions map[domain.Dimension]float64 `json:"dimensions"`
	Reset      bool                         `json:"reset"`
}

type Summary struct {
	Lines         int            `json:"lines"`
	Turns         int            `json:"turns"`
	Malformed     int            `json:"malformed"`
	Resets        int            `json:"resets"`
	WritesApplied int            `json:"writes_applied"`
	WritesSkipped int            `json:"writes_skipped"`
	OverBudget    int            `json:"over_budget"`
	StepErrors    map[string]int `json:"step_errors"`
	States        map[string]int `json:"states"`
}

// replay processes r line by line. Blank lines are ignored and malformed ones
// counted. It stops early only when ctx is cancelled or r fails.
func replay(ctx context.Context, sink turnSink, r io.Reader, resetEvery int, logger *zap.Logger) (*Summary, error) {
	s := &Summary{
		StepErrors: make(map[string]int),
		States:     make(map[string]int),
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	sinceReset := 0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return s, err
		}
		s.Lines++

		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}

		var line transcriptLine
		if err := json.Unmarshal([]byte(raw), &line); err != nil {
			s.Malformed++
			logger.Warn("skipping malformed line", zap.Int("line", s.Lines), zap.Error(err))
			continue
		}

		if line.Reset || (resetEvery > 0 && sinceReset == resetEvery) {
			sink.ResetSession()
			s.Resets++
			sinceReset = 0
			if line.Reset {
				continue
			}
		}

		res := sink.ProcessConversationTurn(ctx, domain.Turn{
			UserMessage:       line.User,
			AssistantResponse: line.Assistant,
			Context:           line.Context,
			ActiveDimensions:  line.Dimensions,
		})
		sinceReset++
		s.Turns++
		s.WritesApplied += res.WritesApplied
		s.WritesSkipped += res.WritesSkipped
		if res.BudgetExceeded != "" {
			s.OverBudget++
		}
		if res.CurrentState != "" {
			s.States[string(res.CurrentState)]++
		}
		for _, e := range res.Errors {
			s.StepErrors[e.Step]++
		}
	}
	return s, scanner.Err()
}
