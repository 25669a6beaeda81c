package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/healthpulse/pulse-jobs/internal/jobs"
	"github.com/healthpulse/pulse-jobs/internal/monitor"
)

// maxDrainsPerTick bounds how many redrive candidates one drain tick replays.
const maxDrainsPerTick = 50

var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Intervals tunes the background loop periods. Zero values fall back to the
// defaults.
type Intervals struct {
	CronCheck    time.Duration
	ArchiveSweep time.Duration
	RedriveDrain time.Duration
	MonitorCheck time.Duration
}

func (iv Intervals) withDefaults() Intervals {
	if iv.CronCheck <= 0 {
		iv.CronCheck = time.Minute
	}
	if iv.ArchiveSweep <= 0 {
		iv.ArchiveSweep = time.Minute
	}
	if iv.RedriveDrain <= 0 {
		iv.RedriveDrain = 5 * time.Minute
	}
	if iv.MonitorCheck <= 0 {
		iv.MonitorCheck = 30 * time.Second
	}
	return iv
}

// Scheduler runs the background loops: cron job triggers, dead letter
// archiving, redrive draining, and monitor checks.
type Scheduler struct {
	registry  *jobs.Registry
	redriver  *jobs.Redriver
	monitor   *monitor.Monitor
	intervals Intervals
	logger    *slog.Logger
	stop      chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup

	mu       sync.Mutex
	nextFire map[string]time.Time
}

// New creates a Scheduler. The redriver and monitor may be nil; their loops
// are skipped.
func New(registry *jobs.Registry, redriver *jobs.Redriver, mon *monitor.Monitor, logger *slog.Logger, intervals Intervals) *Scheduler {
	return &Scheduler{
		registry:  registry,
		redriver:  redriver,
		monitor:   mon,
		intervals: intervals.withDefaults(),
		logger:    logger,
		stop:      make(chan struct{}),
		nextFire:  make(map[string]time.Time),
	}
}

// Start begins all background scheduling goroutines.
func (s *Scheduler) Start() {
	s.primeSchedules(time.Now())

	go s.runLoop("cron-trigger", s.intervals.CronCheck, s.fireDueJobs)

	if s.redriver != nil {
		go s.runLoop("dlq-archive", s.intervals.ArchiveSweep, s.archiveSweep)
		go s.runLoop("redrive-drain", s.intervals.RedriveDrain, s.drainRedrives)
	}

	if s.monitor != nil {
		go s.runLoop("monitor-tick", s.intervals.MonitorCheck, s.monitorCheck)
	}
}

// Stop signals all background loops to stop and waits for in-flight job runs
// it started.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
	s.wg.Wait()
}

func (s *Scheduler) runLoop(name string, interval time.Duration, fn func(context.Context) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := fn(ctx); err != nil {
				s.logger.Error("scheduler loop error", "loop", name, "error", err)
			}
			cancel()
		}
	}
}

// primeSchedules seeds each job's first fire time so nothing runs at startup;
// jobs wait for their next scheduled boundary.
func (s *Scheduler) primeSchedules(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, status := range s.registry.Jobs() {
		if status.Schedule == "" {
			continue
		}
		schedule, err := cronParser.Parse(status.Schedule)
		if err != nil {
			s.logger.Error("invalid job schedule", "job", status.Name, "schedule", status.Schedule, "error", err)
			continue
		}
		s.nextFire[status.Name] = schedule.Next(now)
	}
}

// fireDueJobs triggers every enabled job whose fire time has passed. Runs
// execute on their own goroutine with a fresh context so a slow batch does
// not stall the tick, and the next fire time advances past now either way.
func (s *Scheduler) fireDueJobs(context.Context) error {
	now := time.Now()

	for _, status := range s.registry.Jobs() {
		if status.Schedule == "" || status.Disabled {
			continue
		}
		schedule, err := cronParser.Parse(status.Schedule)
		if err != nil {
			continue
		}

		s.mu.Lock()
		next, ok := s.nextFire[status.Name]
		if !ok {
			// A job added after startup fires from its next boundary.
			s.nextFire[status.Name] = schedule.Next(now)
			s.mu.Unlock()
			continue
		}
		due := !now.Before(next)
		if due {
			s.nextFire[status.Name] = schedule.Next(now)
		}
		s.mu.Unlock()

		if !due {
			continue
		}

		name := status.Name
		s.logger.Info("cron trigger", "job", name, "scheduled_for", next.Format(time.RFC3339))
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if _, err := s.registry.Run(context.Background(), name, nil, jobs.TriggerCron); err != nil {
				s.logger.Error("scheduled run failed", "job", name, "error", err)
			}
		}()
	}
	return nil
}

func (s *Scheduler) archiveSweep(ctx context.Context) error {
	_, err := s.redriver.ArchiveSweep(ctx)
	return err
}

func (s *Scheduler) drainRedrives(ctx context.Context) error {
	for i := 0; i < maxDrainsPerTick; i++ {
		more, err := s.redriver.Drain(ctx)
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
	return nil
}

func (s *Scheduler) monitorCheck(context.Context) error {
	s.monitor.Check()
	return nil
}
