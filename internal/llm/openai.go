package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/healthpulse/pulse-jobs/internal/core"
	"github.com/healthpulse/pulse-jobs/internal/metrics"
)

const (
	defaultBaseURL = "https://api.openai.com"
	requestTimeout = 60 * time.Second
)

// OpenAI calls an OpenAI-compatible chat-completions endpoint.
type OpenAI struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewOpenAI constructs a chat-completions client. baseURL may be empty for
// the hosted API, or point at any compatible server.
func NewOpenAI(baseURL, apiKey, model string) (*OpenAI, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("llm api key is required")
	}
	if strings.TrimSpace(model) == "" {
		return nil, fmt.Errorf("llm model is required")
	}
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultBaseURL
	}
	return &OpenAI{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: requestTimeout},
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float32         `json:"temperature"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage *struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage,omitempty"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// insightPayload is the JSON object the model is instructed to return.
type insightPayload struct {
	Summary string `json:"summary"`
}

// GenerateInsight sends one chat-completions request and parses the summary.
// Failures come back as structured operation errors: transport problems map
// to timeout or connection kinds, non-2xx responses to http_status with the
// provider's message, and malformed bodies to parse.
func (c *OpenAI) GenerateInsight(ctx context.Context, req InsightRequest) (*InsightResult, error) {
	body := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: buildUserPrompt(req)},
		},
		ResponseFormat: &responseFormat{Type: "json_object"},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build chat request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, core.FromError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, core.FromError(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, core.NewHTTPStatusError(resp.StatusCode, providerMessage(raw))
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, core.NewParseError("decode chat response", err)
	}
	if parsed.Error != nil {
		return nil, core.NewParseError(fmt.Sprintf("provider error: %s (%s)",
			parsed.Error.Message, parsed.Error.Type), nil)
	}
	if len(parsed.Choices) == 0 {
		return nil, core.NewParseError("chat response has no choices", nil)
	}

	content := strings.TrimSpace(parsed.Choices[0].Message.Content)
	var insight insightPayload
	if err := json.Unmarshal([]byte(content), &insight); err != nil {
		return nil, core.NewParseError("decode insight payload", err)
	}
	if strings.TrimSpace(insight.Summary) == "" {
		return nil, core.NewParseError("insight payload missing summary", nil)
	}

	result := &InsightResult{
		Summary: insight.Summary,
		Model:   parsed.Model,
	}
	if result.Model == "" {
		result.Model = c.model
	}
	if parsed.Usage != nil {
		result.TokensUsed = parsed.Usage.TotalTokens
		metrics.InsightTokens.Add(float64(parsed.Usage.TotalTokens))
	}
	return result, nil
}

// providerMessage pulls the error message out of a non-2xx body when the
// provider sent one, otherwise returns the raw body trimmed.
func providerMessage(raw []byte) string {
	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err == nil && parsed.Error != nil {
		return parsed.Error.Message
	}
	msg := strings.TrimSpace(string(raw))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	if msg == "" {
		msg = "provider returned an error without a body"
	}
	return msg
}

const systemPrompt = `You are a health insights assistant. You receive a user's recent health records and produce one short, factual summary of trends and notable changes. Do not give medical advice or diagnoses. Respond with a JSON object: {"summary": "<2-4 sentences>"}.`

func buildUserPrompt(req InsightRequest) string {
	var b strings.Builder
	name := req.FullName
	if name == "" {
		name = req.UserID
	}
	fmt.Fprintf(&b, "User: %s\nJob: %s\nRecords (%d):\n", name, req.JobName, len(req.Records))
	for _, r := range req.Records {
		fmt.Fprintf(&b, "- %s [%s] %s\n", r.RecordedAt.Format("2006-01-02"), r.Kind, r.Body)
	}
	return b.String()
}
