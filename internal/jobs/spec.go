// Package jobs binds named job definitions to per-user operations and runs
// them through the retry engine.
package jobs

import (
	"fmt"
	"regexp"

	"github.com/robfig/cron/v3"

	"github.com/healthpulse/pulse-jobs/internal/core"
)

// Operations a job definition can bind to.
const (
	OpGenerateInsights = "generate_insights"
	OpRecordsDigest    = "records_digest"
)

// Job names exclude underscores: operation keys are "<job>_<user>", and the
// first underscore bounds the job name when a key is parsed back.
var jobNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

// cronParser accepts standard five-field expressions plus @descriptors.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Spec is one configured job definition.
type Spec struct {
	Name                string              `yaml:"name" json:"name"`
	Schedule            string              `yaml:"schedule" json:"schedule,omitempty"`
	Operation           string              `yaml:"operation" json:"operation"`
	BatchSize           int                 `yaml:"batch_size" json:"batch_size,omitempty"`
	DelayBetweenBatches core.Duration       `yaml:"delay_between_batches" json:"delay_between_batches,omitempty"`
	Retry               *core.RetryPolicy   `yaml:"retry" json:"retry,omitempty"`
	Breaker             *core.BreakerPolicy `yaml:"breaker" json:"breaker,omitempty"`
	Disabled            bool                `yaml:"disabled" json:"disabled,omitempty"`
}

// Validate checks the definition. A schedule is optional; jobs without one
// run on demand only.
func (s Spec) Validate() error {
	if !jobNamePattern.MatchString(s.Name) {
		return core.NewFieldValidationError("name", "lowercase letters, digits and hyphens", s.Name)
	}
	switch s.Operation {
	case OpGenerateInsights, OpRecordsDigest:
	default:
		return core.NewFieldValidationError("operation",
			fmt.Sprintf("one of %q, %q", OpGenerateInsights, OpRecordsDigest), s.Operation)
	}
	if s.Schedule != "" {
		if _, err := cronParser.Parse(s.Schedule); err != nil {
			return core.NewFieldValidationError("schedule", "cron expression", s.Schedule)
		}
	}
	if s.BatchSize < 0 {
		return core.NewFieldValidationError("batch_size", ">= 0", s.BatchSize)
	}
	if s.DelayBetweenBatches < 0 {
		return core.NewFieldValidationError("delay_between_batches", ">= 0", s.DelayBetweenBatches.String())
	}
	if s.Retry != nil {
		if err := s.Retry.Validate(); err != nil {
			return fmt.Errorf("job %q retry policy: %w", s.Name, err)
		}
	}
	if s.Breaker != nil {
		if err := s.Breaker.Validate(); err != nil {
			return fmt.Errorf("job %q breaker policy: %w", s.Name, err)
		}
	}
	return nil
}

// DefaultSpecs are the jobs configured when no jobs file is supplied.
func DefaultSpecs() []Spec {
	return []Spec{
		{
			Name:      "daily-insights",
			Schedule:  "0 6 * * *",
			Operation: OpGenerateInsights,
		},
		{
			Name:      "weekly-digest",
			Schedule:  "0 8 * * 1",
			Operation: OpRecordsDigest,
		},
	}
}
