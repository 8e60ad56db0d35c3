// Package postgres opens the PostgreSQL and Redis connections used by curator.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/platinummonkey/curator/pkg/observability"
	"github.com/platinummonkey/curator/pkg/storage"
)

const (
	defaultPingTimeout   = 5 * time.Second
	defaultCheckInterval = 30 * time.Second
)

type replica struct {
	db      *sql.DB
	healthy atomic.Bool
}

// ConnectionManager holds the PostgreSQL primary and optional read replicas.
// Writes and permission resolution use the primary; replicas serve reads that
// tolerate lag, such as audit searches. A replica that fails a ping is taken
// out of rotation until a later check succeeds.
type ConnectionManager struct {
	primary  *sql.DB
	replicas []*replica
	next     atomic.Uint32
	config   storage.Config
	logger   *observability.Logger
}

// NewConnectionManager opens and pings the primary, then every replica. An
// unreachable replica does not fail startup; it starts out of rotation.
func NewConnectionManager(config storage.Config, logger *observability.Logger) (*ConnectionManager, error) {
	if logger == nil {
		logger = observability.Default()
	}
	cm := &ConnectionManager{config: config, logger: logger}

	primary, err := cm.open(config.PostgresURL, config.PostgresMaxConns)
	if err != nil {
		return nil, fmt.Errorf("failed to open primary: %w", err)
	}
	if err := cm.ping(context.Background(), primary); err != nil {
		primary.Close()
		return nil, fmt.Errorf("primary unreachable: %w", err)
	}
	cm.primary = primary

	for i, url := range config.PostgresReplicaURLs {
		db, err := cm.open(url, cm.replicaMaxConns())
		if err != nil {
			logger.WithError(err).WithField("replica", i).Warn("Skipping misconfigured replica")
			continue
		}
		r := &replica{db: db}
		if err := cm.ping(context.Background(), db); err != nil {
			logger.WithError(err).WithField("replica", i).Warn("Replica unreachable, starting out of rotation")
		} else {
			r.healthy.Store(true)
		}
		cm.replicas = append(cm.replicas, r)
	}

	logger.WithFields(map[string]interface{}{
		"replicas":         len(cm.replicas),
		"healthy_replicas": cm.ReplicaCount(),
	}).Info("Connection manager initialized")
	return cm, nil
}

// NewConnectionManagerFromDB wraps an already open database with no replicas.
func NewConnectionManagerFromDB(db *sql.DB) *ConnectionManager {
	return &ConnectionManager{primary: db, logger: observability.Default()}
}

func (cm *ConnectionManager) open(url string, maxConns int) (*sql.DB, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(cm.config.PostgresMinConns)
	db.SetConnMaxLifetime(cm.config.PostgresMaxLifetime)
	db.SetConnMaxIdleTime(cm.config.PostgresMaxIdleTime)
	return db, nil
}

func (cm *ConnectionManager) ping(ctx context.Context, db *sql.DB) error {
	timeout := cm.config.PostgresTimeout
	if timeout <= 0 {
		timeout = defaultPingTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return db.PingContext(ctx)
}

// replicas get half the primary's pool, at least two connections
func (cm *ConnectionManager) replicaMaxConns() int {
	return max(cm.config.PostgresMaxConns/2, 2)
}

// Primary returns the primary database.
func (cm *ConnectionManager) Primary() *sql.DB {
	return cm.primary
}

// Replica returns the next healthy replica in round-robin order, or the
// primary when none is healthy.
func (cm *ConnectionManager) Replica() *sql.DB {
	n := len(cm.replicas)
	if n == 0 {
		return cm.primary
	}
	start := int(cm.next.Add(1))
	for i := 0; i < n; i++ {
		if r := cm.replicas[(start+i)%n]; r.healthy.Load() {
			return r.db
		}
	}
	return cm.primary
}

// ReplicaCount returns the number of replicas in rotation.
func (cm *ConnectionManager) ReplicaCount() int {
	healthy := 0
	for _, r := range cm.replicas {
		if r.healthy.Load() {
			healthy++
		}
	}
	return healthy
}

// CheckReplicas pings every replica and updates the rotation. It returns the
// number of replicas whose state changed.
func (cm *ConnectionManager) CheckReplicas(ctx context.Context) int {
	changed := 0
	for i, r := range cm.replicas {
		err := cm.ping(ctx, r.db)
		if r.healthy.Swap(err == nil) == (err == nil) {
			continue
		}
		changed++
		log := cm.logger.WithField("replica", i)
		if err != nil {
			log.WithError(err).Warn("Replica left rotation")
		} else {
			log.Info("Replica rejoined rotation")
		}
	}
	return changed
}

// StartHealthCheckRoutine runs CheckReplicas every interval until ctx is done.
func (cm *ConnectionManager) StartHealthCheckRoutine(ctx context.Context, interval time.Duration) {
	if len(cm.replicas) == 0 {
		return
	}
	if interval <= 0 {
		interval = defaultCheckInterval
	}

	go func() {
		defer observability.RecoverPanic(cm.logger, "replica health check")

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				cm.CheckReplicas(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Close closes the primary and every replica.
func (cm *ConnectionManager) Close() error {
	var errs []error
	if cm.primary != nil {
		if err := cm.primary.Close(); err != nil {
			errs = append(errs, fmt.Errorf("primary: %w", err))
		}
	}
	for i, r := range cm.replicas {
		if err := r.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("replica %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}
