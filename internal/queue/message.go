// Package queue moves job requests through SQS: the API enqueues async run
// requests, the consumer long-polls and hands them to the job registry.
package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/healthpulse/pulse-jobs/internal/core"
)

// MaxMessageSize is the SQS message body limit (256 KB).
const MaxMessageSize = 256 * 1024

// JobRequest is the message body asking for one batch run.
type JobRequest struct {
	Job         string    `json:"job"`
	UserIDs     []string  `json:"user_ids,omitempty"`
	RequestedBy string    `json:"requested_by,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}

// EncodeJobRequest serializes a request for the SQS message body.
func EncodeJobRequest(req *JobRequest) (string, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal job request: %w", err)
	}
	if len(data) > MaxMessageSize {
		return "", core.NewInvalidRequestError(
			fmt.Sprintf("job request size (%d bytes) exceeds SQS maximum of %d bytes", len(data), MaxMessageSize),
			map[string]any{
				"payload_size": len(data),
				"max_size":     MaxMessageSize,
				"job":          req.Job,
			})
	}
	return string(data), nil
}

// DecodeJobRequest deserializes an SQS message body.
func DecodeJobRequest(body string) (*JobRequest, error) {
	var req JobRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		return nil, fmt.Errorf("unmarshal job request: %w", err)
	}
	if req.Job == "" {
		return nil, fmt.Errorf("job request missing job name")
	}
	return &req, nil
}
