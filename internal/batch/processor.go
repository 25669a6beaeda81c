// Package batch fans per-user operations across fixed-size batches under
// retry protection and aggregates the run into a Summary.
package batch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/healthpulse/pulse-jobs/internal/core"
	"github.com/healthpulse/pulse-jobs/internal/metrics"
	"github.com/healthpulse/pulse-jobs/internal/retry"
)

// Defaults applied by New for zero config values.
const (
	DefaultBatchSize           = 5
	DefaultDelayBetweenBatches = 2 * time.Second
	DefaultCriticalRate        = 0.80
)

// summaryDeadLetterLimit caps how many dead letter entries a Summary carries.
const summaryDeadLetterLimit = 10

// ItemFunc is the per-user unit of work executed for each batch item.
type ItemFunc func(ctx context.Context, userID string) (any, error)

// Summary aggregates one batch run.
type Summary struct {
	JobName                  string                  `json:"job_name"`
	RunID                    string                  `json:"run_id"`
	Trigger                  string                  `json:"trigger,omitempty"`
	Total                    int                     `json:"total"`
	Successful               int                     `json:"successful"`
	Failed                   int                     `json:"failed"`
	CircuitBreakerRejections int                     `json:"circuit_breaker_rejections"`
	SuccessRate              float64                 `json:"success_rate"`
	Critical                 bool                    `json:"critical"`
	Metrics                  retry.MetricsSnapshot   `json:"metrics"`
	DeadLetters              []retry.DeadLetterEntry `json:"dead_letters,omitempty"`
	StartedAt                time.Time               `json:"started_at"`
	FinishedAt               time.Time               `json:"finished_at"`
	Duration                 core.Duration           `json:"duration"`
	Timestamp                string                  `json:"timestamp"`
}

// Config tunes batch partitioning and the degraded-run threshold.
type Config struct {
	BatchSize           int
	DelayBetweenBatches time.Duration
	CriticalRate        float64
}

// Processor splits item lists into batches and runs each item through the
// retry manager. Batches run one after another; items within a batch run
// concurrently.
type Processor struct {
	manager *retry.Manager
	cfg     Config
	logger  *slog.Logger
	events  core.EventPublisher

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Processor around manager, filling zero config values with
// the defaults.
func New(manager *retry.Manager, cfg Config) *Processor {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.DelayBetweenBatches <= 0 {
		cfg.DelayBetweenBatches = DefaultDelayBetweenBatches
	}
	if cfg.CriticalRate <= 0 {
		cfg.CriticalRate = DefaultCriticalRate
	}
	return &Processor{
		manager: manager,
		cfg:     cfg,
		logger:  slog.Default(),
		now:     time.Now,
		sleep:   sleepContext,
	}
}

// SetLogger replaces the default logger. Call before Process traffic starts.
func (p *Processor) SetLogger(logger *slog.Logger) {
	p.logger = logger
}

// SetEventPublisher wires run lifecycle event publishing. Call before
// Process traffic starts.
func (p *Processor) SetEventPublisher(pub core.EventPublisher) {
	p.events = pub
}

// Manager returns the retry manager the processor executes through.
func (p *Processor) Manager() *retry.Manager {
	return p.manager
}

// Process runs op for every user ID in fixed-size batches. Each item is
// executed through the retry manager under the key "<jobName>_<userID>".
// A canceled context stops before the next batch; already-running items
// finish and are tallied, the remainder is not.
func (p *Processor) Process(ctx context.Context, jobName string, userIDs []string, op ItemFunc) Summary {
	runID := core.NewRunID()
	started := p.now()
	total := len(userIDs)
	batches := (total + p.cfg.BatchSize - 1) / p.cfg.BatchSize

	p.logger.Info("batch run started",
		"job", jobName, "run_id", runID, "total", total, "batches", batches)
	p.publishRunEvent(core.EventRunStarted, jobName, runID, map[string]any{"total": total})

	var (
		mu         sync.Mutex
		successful int
		failed     int
		rejected   int
	)

	canceled := false
	for start := 0; start < total; start += p.cfg.BatchSize {
		if ctx.Err() != nil {
			canceled = true
			break
		}
		end := min(start+p.cfg.BatchSize, total)

		var wg sync.WaitGroup
		for _, userID := range userIDs[start:end] {
			wg.Add(1)
			go func(userID string) {
				defer wg.Done()
				defer func() {
					if r := recover(); r != nil {
						p.logger.Error("batch item panicked",
							"job", jobName, "run_id", runID, "user_id", userID, "panic", fmt.Sprint(r))
						metrics.RunItemsTotal.WithLabelValues("panic").Inc()
						mu.Lock()
						failed++
						mu.Unlock()
					}
				}()

				key := fmt.Sprintf("%s_%s", jobName, userID)
				res := p.manager.Execute(ctx, key, func(ctx context.Context) (any, error) {
					return op(ctx, userID)
				})

				mu.Lock()
				switch res.Status {
				case retry.StatusSuccess:
					successful++
				case retry.StatusCircuitOpen:
					rejected++
				default:
					failed++
				}
				mu.Unlock()
				metrics.RunItemsTotal.WithLabelValues(outcomeLabel(res.Status)).Inc()
			}(userID)
		}
		wg.Wait()

		if end < total {
			if err := p.sleep(ctx, p.cfg.DelayBetweenBatches); err != nil {
				canceled = true
				break
			}
		}
	}
	if canceled {
		p.logger.Warn("batch run canceled",
			"job", jobName, "run_id", runID, "tallied", successful+failed+rejected, "total", total)
	}

	finished := p.now()
	summary := Summary{
		JobName:                  jobName,
		RunID:                    runID,
		Total:                    total,
		Successful:               successful,
		Failed:                   failed,
		CircuitBreakerRejections: rejected,
		SuccessRate:              1.0,
		Metrics:                  p.manager.Metrics(),
		StartedAt:                started,
		FinishedAt:               finished,
		Duration:                 core.Duration(finished.Sub(started)),
		Timestamp:                core.FormatTime(finished),
	}
	if total > 0 {
		summary.SuccessRate = float64(successful) / float64(total)
	}
	summary.Critical = summary.SuccessRate < p.cfg.CriticalRate

	deadLetters := p.manager.DeadLetters()
	if len(deadLetters) > summaryDeadLetterLimit {
		deadLetters = deadLetters[:summaryDeadLetterLimit]
	}
	summary.DeadLetters = deadLetters

	metrics.RunDuration.Observe(finished.Sub(started).Seconds())

	if summary.Critical {
		p.logger.Error("batch run critically degraded",
			"job", jobName, "run_id", runID,
			"total", total, "successful", successful, "failed", failed,
			"rejections", rejected, "success_rate", summary.SuccessRate)
	} else {
		p.logger.Info("batch run finished",
			"job", jobName, "run_id", runID,
			"total", total, "successful", successful, "failed", failed,
			"rejections", rejected, "success_rate", summary.SuccessRate)
	}

	p.publishRunEvent(core.EventRunFinished, jobName, runID, map[string]any{
		"total":        total,
		"successful":   successful,
		"failed":       failed,
		"rejections":   rejected,
		"success_rate": summary.SuccessRate,
		"critical":     summary.Critical,
	})
	return summary
}

func (p *Processor) publishRunEvent(eventType, jobName, runID string, data map[string]any) {
	if p.events == nil {
		return
	}
	ev := core.NewEvent(eventType)
	ev.JobName = jobName
	ev.RunID = runID
	ev.Data = data
	_ = p.events.Publish(ev)
}

func outcomeLabel(status string) string {
	switch status {
	case retry.StatusSuccess:
		return "success"
	case retry.StatusCircuitOpen:
		return "rejected"
	}
	return "failed"
}

// sleepContext waits for d or until ctx is done, whichever comes first.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
