package jobs

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/platinummonkey/curator/pkg/config"
	"github.com/platinummonkey/curator/pkg/observability"
)

// Config holds job schedules in standard five-field cron syntax or
// descriptors such as @hourly. An empty schedule disables the job.
type Config struct {
	ExpiryReportSchedule string
	ExpiryReportWindow   time.Duration

	PurgeSchedule     string
	OverrideRetention time.Duration

	WarmupSchedule string
	WarmupWorkers  int
	WarmupTimeout  time.Duration

	// JobTimeout bounds a single run
	JobTimeout time.Duration
}

// ConfigFrom maps the worker section of the service configuration.
func ConfigFrom(c config.WorkerConfig) Config {
	return Config{
		ExpiryReportSchedule: c.ExpiryReportSchedule,
		ExpiryReportWindow:   c.ExpiryReportWindow,
		PurgeSchedule:        c.PurgeSchedule,
		OverrideRetention:    c.OverrideRetention,
		WarmupSchedule:       c.WarmupSchedule,
		WarmupWorkers:        c.WarmupWorkers,
		WarmupTimeout:        5 * time.Second,
		JobTimeout:           10 * time.Minute,
	}
}

// Scheduler runs Jobs on their cron schedules.
type Scheduler struct {
	cron    *cron.Cron
	jobs    *Jobs
	log     *logrus.Logger
	metrics *observability.Metrics
	timeout time.Duration
	runners map[string]func(context.Context) error
}

// NewScheduler registers every enabled job. The purge job is only scheduled
// when a retention window is configured.
func NewScheduler(jobs *Jobs, log *logrus.Logger, metrics *observability.Metrics) (*Scheduler, error) {
	if log == nil {
		log = logrus.New()
	}
	cronLog := cron.PrintfLogger(log)

	s := &Scheduler{
		cron: cron.New(
			cron.WithLogger(cronLog),
			cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
		),
		jobs:    jobs,
		log:     log,
		metrics: metrics,
		timeout: jobs.cfg.JobTimeout,
		runners: map[string]func(context.Context) error{
			JobExpiryReport: func(ctx context.Context) error {
				_, err := jobs.ReportExpiring(ctx)
				return err
			},
			JobPurge: func(ctx context.Context) error {
				_, err := jobs.PurgeExpired(ctx)
				return err
			},
			JobWarmup: func(ctx context.Context) error {
				_, err := jobs.Warmup(ctx)
				return err
			},
		},
	}
	if s.timeout <= 0 {
		s.timeout = 10 * time.Minute
	}

	schedules := map[string]string{
		JobExpiryReport: jobs.cfg.ExpiryReportSchedule,
		JobWarmup:       jobs.cfg.WarmupSchedule,
	}
	if jobs.cfg.OverrideRetention > 0 {
		schedules[JobPurge] = jobs.cfg.PurgeSchedule
	}

	for name, spec := range schedules {
		if spec == "" {
			continue
		}
		name := name
		if _, err := s.cron.AddFunc(spec, func() { s.run(name) }); err != nil {
			return nil, fmt.Errorf("failed to schedule %s (%q): %w", name, spec, err)
		}
		log.WithFields(logrus.Fields{"job": name, "schedule": spec}).Info("Scheduled job")
	}

	return s, nil
}

// Entries returns the number of scheduled jobs.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}

// Jobs returns the names of all known jobs, scheduled or not.
func (s *Scheduler) Jobs() []string {
	names := make([]string, 0, len(s.runners))
	for name := range s.runners {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Start begins running scheduled jobs in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops scheduling and waits for running jobs, or for ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("timed out waiting for running jobs: %w", ctx.Err())
	}
}

// RunOnce runs a job immediately, regardless of its schedule.
func (s *Scheduler) RunOnce(ctx context.Context, name string) error {
	runner, ok := s.runners[name]
	if !ok {
		return fmt.Errorf("unknown job %q", name)
	}
	return s.execute(ctx, name, runner)
}

func (s *Scheduler) run(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	// errors are logged and counted in execute
	_ = s.execute(ctx, name, s.runners[name])
}

func (s *Scheduler) execute(ctx context.Context, name string, runner func(context.Context) error) error {
	start := time.Now()
	log := s.log.WithField("job", name)
	log.Debug("Job started")

	ctx, span := observability.StartSpan(ctx, "jobs."+name, attribute.String("job.name", name))
	err := runner(ctx)
	observability.EndSpan(span, err)
	s.metrics.JobRun(name, err)

	log = log.WithField("duration", time.Since(start).String())
	if err != nil {
		log.WithError(err).Error("Job failed")
		return err
	}
	log.Info("Job completed")
	return nil
}
