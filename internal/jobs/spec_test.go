package jobs

import (
	"testing"
	"time"

	"github.com/healthpulse/pulse-jobs/internal/core"
)

func TestSpecValidate(t *testing.T) {
	tests := []struct {
		name    string
		spec    Spec
		wantErr bool
	}{
		{
			name: "minimal on-demand job",
			spec: Spec{Name: "daily-insights", Operation: OpGenerateInsights},
		},
		{
			name: "scheduled job",
			spec: Spec{Name: "weekly-digest", Schedule: "0 8 * * 1", Operation: OpRecordsDigest},
		},
		{
			name: "descriptor schedule",
			spec: Spec{Name: "nightly", Schedule: "@daily", Operation: OpGenerateInsights},
		},
		{
			name:    "empty name",
			spec:    Spec{Name: "", Operation: OpGenerateInsights},
			wantErr: true,
		},
		{
			name:    "underscore in name",
			spec:    Spec{Name: "daily_insights", Operation: OpGenerateInsights},
			wantErr: true,
		},
		{
			name:    "uppercase name",
			spec:    Spec{Name: "Daily", Operation: OpGenerateInsights},
			wantErr: true,
		},
		{
			name:    "leading hyphen",
			spec:    Spec{Name: "-daily", Operation: OpGenerateInsights},
			wantErr: true,
		},
		{
			name:    "unknown operation",
			spec:    Spec{Name: "daily", Operation: "mine_bitcoin"},
			wantErr: true,
		},
		{
			name:    "bad schedule",
			spec:    Spec{Name: "daily", Schedule: "whenever", Operation: OpGenerateInsights},
			wantErr: true,
		},
		{
			name:    "negative batch size",
			spec:    Spec{Name: "daily", Operation: OpGenerateInsights, BatchSize: -1},
			wantErr: true,
		},
		{
			name: "negative delay",
			spec: Spec{
				Name: "daily", Operation: OpGenerateInsights,
				DelayBetweenBatches: core.Duration(-time.Second),
			},
			wantErr: true,
		},
		{
			name: "invalid retry policy",
			spec: Spec{
				Name: "daily", Operation: OpGenerateInsights,
				Retry: &core.RetryPolicy{MaxAttempts: 0},
			},
			wantErr: true,
		},
		{
			name: "invalid breaker policy",
			spec: Spec{
				Name: "daily", Operation: OpGenerateInsights,
				Breaker: &core.BreakerPolicy{FailureThreshold: 0},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.spec.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDefaultSpecs(t *testing.T) {
	specs := DefaultSpecs()
	if len(specs) != 2 {
		t.Fatalf("len(DefaultSpecs()) = %d, want 2", len(specs))
	}
	for _, spec := range specs {
		if err := spec.Validate(); err != nil {
			t.Errorf("Validate(%s) = %v, want nil", spec.Name, err)
		}
		if spec.Schedule == "" {
			t.Errorf("default job %s has no schedule", spec.Name)
		}
	}
	if specs[0].Operation != OpGenerateInsights {
		t.Errorf("specs[0].Operation = %q, want %q", specs[0].Operation, OpGenerateInsights)
	}
}
