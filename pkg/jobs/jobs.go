// Package jobs holds curator-worker's scheduled maintenance: the expiring
// overrides report, the optional purge of long-expired overrides and the
// permission cache warm-up.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/curator/pkg/async"
	"github.com/platinummonkey/curator/pkg/observability"
	"github.com/platinummonkey/curator/pkg/overrides"
	"github.com/platinummonkey/curator/pkg/rbac"
	"github.com/platinummonkey/curator/pkg/resolver"
	"github.com/platinummonkey/curator/pkg/users"
)

// Job names, used as metric labels and by RunOnce.
const (
	JobExpiryReport = "expiry-report"
	JobPurge        = "purge-expired"
	JobWarmup       = "cache-warmup"
)

// OverrideSource reads overrides for the expiry report.
type OverrideSource interface {
	ListOverrides(ctx context.Context, f overrides.Filter) ([]overrides.Override, error)
	ExpiringWithin(ctx context.Context, now time.Time, window time.Duration) ([]overrides.Override, error)
}

// Purger deletes expired overrides and invalidates the affected users.
type Purger interface {
	PurgeExpired(ctx context.Context, cutoff time.Time) (*rbac.PurgeResult, error)
}

// UserLister lists the users whose sets are warmed.
type UserLister interface {
	List(ctx context.Context) ([]users.User, error)
}

// Resolver computes, and caches, permission sets.
type Resolver interface {
	Resolve(ctx context.Context, userID uuid.UUID) (resolver.PermissionSet, error)
}

// Deps are the collaborators the jobs act on.
type Deps struct {
	Overrides OverrideSource
	Purger    Purger
	Users     UserLister
	Resolver  Resolver
}

// ExpiryReport lists overrides about to lapse.
type ExpiryReport struct {
	GeneratedAt time.Time
	Window      time.Duration
	Active      int
	Expiring    []overrides.Override
}

// Jobs implements the maintenance tasks. Scheduler runs them on cron
// schedules; each can also be called directly.
type Jobs struct {
	deps    Deps
	cfg     Config
	log     *logrus.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// NewJobs creates the job set. A nil logger falls back to logrus.New().
func NewJobs(deps Deps, cfg Config, log *logrus.Logger, metrics *observability.Metrics) *Jobs {
	if log == nil {
		log = logrus.New()
	}
	return &Jobs{deps: deps, cfg: cfg, log: log, metrics: metrics, now: time.Now}
}

// WithClock overrides the time source.
func (j *Jobs) WithClock(now func() time.Time) *Jobs {
	j.now = now
	return j
}

// ReportExpiring logs every override expiring within the configured window
// and publishes the counts as gauges.
func (j *Jobs) ReportExpiring(ctx context.Context) (*ExpiryReport, error) {
	now := j.now()

	active, err := j.deps.Overrides.ListOverrides(ctx, overrides.Filter{}.Active())
	if err != nil {
		return nil, fmt.Errorf("failed to count active overrides: %w", err)
	}
	expiring, err := j.deps.Overrides.ExpiringWithin(ctx, now, j.cfg.ExpiryReportWindow)
	if err != nil {
		return nil, fmt.Errorf("failed to list expiring overrides: %w", err)
	}

	for _, o := range expiring {
		j.log.WithFields(logrus.Fields{
			"override_id": o.ID,
			"user_id":     o.UserID.String(),
			"permission":  o.PermissionName,
			"granted":     o.Granted,
			"expires_at":  o.ExpiresAt.Format(time.RFC3339),
		}).Info("Override expiring soon")
	}

	j.metrics.SetOverrideCounts(len(active), len(expiring))
	j.log.WithFields(logrus.Fields{
		"active":   len(active),
		"expiring": len(expiring),
		"window":   j.cfg.ExpiryReportWindow.String(),
	}).Info("Override expiry report")

	return &ExpiryReport{
		GeneratedAt: now,
		Window:      j.cfg.ExpiryReportWindow,
		Active:      len(active),
		Expiring:    expiring,
	}, nil
}

// PurgeExpired deletes overrides that expired more than the retention
// window ago. It does nothing when retention is not positive.
func (j *Jobs) PurgeExpired(ctx context.Context) (*rbac.PurgeResult, error) {
	if j.cfg.OverrideRetention <= 0 {
		return &rbac.PurgeResult{}, nil
	}

	cutoff := j.now().Add(-j.cfg.OverrideRetention)
	result, err := j.deps.Purger.PurgeExpired(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to purge expired overrides: %w", err)
	}

	j.log.WithFields(logrus.Fields{
		"cutoff": cutoff.Format(time.RFC3339),
		"users":  len(result.Users),
	}).Info("Purged expired overrides")
	return result, nil
}

// Warmup resolves every user's permission set so the caches are populated.
func (j *Jobs) Warmup(ctx context.Context) (async.BatchResult, error) {
	list, err := j.deps.Users.List(ctx)
	if err != nil {
		return async.BatchResult{}, fmt.Errorf("failed to list users: %w", err)
	}

	ids := make([]uuid.UUID, len(list))
	for i, u := range list {
		ids[i] = u.ID
	}

	result := async.Batch(ctx, ids, j.cfg.WarmupWorkers, JobWarmup, j.cfg.WarmupTimeout,
		func(ctx context.Context, id uuid.UUID) error {
			if _, err := j.deps.Resolver.Resolve(ctx, id); err != nil {
				return fmt.Errorf("user %s: %w", id, err)
			}
			return nil
		})

	entry := j.log.WithFields(logrus.Fields{
		"users":     len(ids),
		"processed": result.Processed,
		"failed":    len(result.Errors),
	})
	if len(result.Errors) > 0 {
		entry.WithError(result.Errors[0]).Warn("Cache warm-up finished with errors")
		return result, fmt.Errorf("cache warm-up: %d of %d users failed", len(result.Errors), len(ids))
	}
	entry.Info("Cache warm-up finished")
	return result, nil
}
