// Package llm generates insight summaries from health records through an
// OpenAI-compatible chat-completions API.
package llm

import (
	"context"
	"errors"
	"time"
)

// RecordInput is one health record included in the insight prompt.
type RecordInput struct {
	Kind       string
	Body       string
	RecordedAt time.Time
}

// InsightRequest carries everything the prompt needs for one user.
type InsightRequest struct {
	UserID   string
	FullName string
	JobName  string
	Records  []RecordInput
}

// InsightResult is the generated summary plus usage accounting.
type InsightResult struct {
	Summary    string
	Model      string
	TokensUsed int
}

// Client generates one insight per call. Implementations return structured
// operation errors so retry decisions match on kind instead of message text.
type Client interface {
	GenerateInsight(ctx context.Context, req InsightRequest) (*InsightResult, error)
}

// Placeholder stands in when no provider is configured. Its error message
// classifies as permanent, so jobs fail fast instead of retrying.
type Placeholder struct{}

func (Placeholder) GenerateInsight(ctx context.Context, req InsightRequest) (*InsightResult, error) {
	return nil, errors.New("llm client not configured")
}
