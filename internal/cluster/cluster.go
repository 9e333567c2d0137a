// Package cluster keeps this instance's check-in record current and
// recovers the work of instances that stopped checking in.
//
// Every instance checks in on a fixed interval. An instance whose last
// check-in is older than its interval plus a grace period is considered
// failed. Recovery of failed instances runs under a store lock when the
// store provides one, so only one surviving instance recovers each failure.
package cluster

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/djlord-it/schedbench/internal/domain"
	"github.com/djlord-it/schedbench/internal/recovery"
)

const (
	DefaultCheckinInterval = 7500 * time.Millisecond
	DefaultGrace           = 7500 * time.Millisecond

	// DefaultLockKey identifies the recovery lock shared by all instances.
	DefaultLockKey int64 = 0x5343484442454e43
)

type Store interface {
	Checkin(ctx context.Context, inst domain.SchedulerInstance) error
	Instances(ctx context.Context) ([]domain.SchedulerInstance, error)
	RemoveInstance(ctx context.Context, instanceID string) error
}

type Recoverer interface {
	RecoverInstance(ctx context.Context, instanceID string) (recovery.Result, error)
}

// Locker serializes failed-instance recovery across the cluster.
type Locker interface {
	TryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// MetricsSink defines the interface for recording cluster metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	ClusterCheckin(err error)
	FailedInstancesRecovered(count int)
}

type Config struct {
	InstanceID      string
	CheckinInterval time.Duration
	Grace           time.Duration
	LockKey         int64
}

type Manager struct {
	config    Config
	store     Store
	recoverer Recoverer
	locker    Locker      // optional, nil = no cross-instance lock
	metrics   MetricsSink // optional, nil = disabled
	clock     func() time.Time
}

func New(config Config, store Store, recoverer Recoverer) *Manager {
	if config.CheckinInterval <= 0 {
		config.CheckinInterval = DefaultCheckinInterval
	}
	if config.Grace <= 0 {
		config.Grace = DefaultGrace
	}
	if config.LockKey == 0 {
		config.LockKey = DefaultLockKey
	}
	return &Manager{
		config:    config,
		store:     store,
		recoverer: recoverer,
		clock:     time.Now,
	}
}

func (m *Manager) WithLocker(locker Locker) *Manager {
	m.locker = locker
	return m
}

// WithMetrics attaches a metrics sink to the manager.
func (m *Manager) WithMetrics(sink MetricsSink) *Manager {
	m.metrics = sink
	return m
}

func (m *Manager) WithClock(clock func() time.Time) *Manager {
	m.clock = clock
	return m
}

// Run checks in immediately and then every check-in interval until ctx is
// cancelled.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.config.CheckinInterval)
	defer ticker.Stop()

	log.Printf("cluster: started (instance=%s, checkin=%s, grace=%s)",
		m.config.InstanceID, m.config.CheckinInterval, m.config.Grace)

	m.runCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Println("cluster: stopped")
			return
		case <-ticker.C:
			m.runCycle(ctx)
		}
	}
}

func (m *Manager) runCycle(ctx context.Context) {
	if err := m.Checkin(ctx); err != nil {
		// Will retry next interval.
		log.Printf("cluster: checkin failed: %v", err)
		return
	}
	n, err := m.RecoverFailed(ctx)
	if err != nil && ctx.Err() == nil {
		log.Printf("cluster: recovery failed: %v", err)
	}
	if n > 0 {
		log.Printf("cluster: recovered %d failed instances", n)
	}
}

// Checkin records that this instance is alive.
func (m *Manager) Checkin(ctx context.Context) error {
	err := m.store.Checkin(ctx, domain.SchedulerInstance{
		InstanceID:      m.config.InstanceID,
		LastCheckin:     m.clock().UTC(),
		CheckinInterval: m.config.CheckinInterval,
	})
	if m.metrics != nil {
		m.metrics.ClusterCheckin(err)
	}
	return err
}

// RecoverFailed recovers and removes every failed instance other than this
// one. It returns the number of instances recovered. If another instance
// holds the recovery lock, nothing is done.
func (m *Manager) RecoverFailed(ctx context.Context) (int, error) {
	failed, err := m.failedInstances(ctx)
	if err != nil || len(failed) == 0 {
		return 0, err
	}

	if m.locker != nil {
		unlock, acquired, err := m.locker.TryLock(ctx, m.config.LockKey)
		if err != nil {
			return 0, fmt.Errorf("recovery lock: %w", err)
		}
		if !acquired {
			log.Printf("cluster: recovery lock held by another instance, skipping")
			return 0, nil
		}
		defer unlock()

		// Another instance may have finished recovery before we got the lock.
		if failed, err = m.failedInstances(ctx); err != nil {
			return 0, err
		}
	}

	recovered := 0
	for _, inst := range failed {
		log.Printf("cluster: instance=%s failed, last checkin %s",
			inst.InstanceID, inst.LastCheckin.Format(time.RFC3339))

		if _, err := m.recoverer.RecoverInstance(ctx, inst.InstanceID); err != nil {
			log.Printf("cluster: recover instance=%s error: %v", inst.InstanceID, err)
			continue
		}
		if err := m.store.RemoveInstance(ctx, inst.InstanceID); err != nil {
			log.Printf("cluster: remove instance=%s error: %v", inst.InstanceID, err)
			continue
		}
		recovered++
	}

	if m.metrics != nil {
		m.metrics.FailedInstancesRecovered(recovered)
	}
	return recovered, nil
}

func (m *Manager) failedInstances(ctx context.Context) ([]domain.SchedulerInstance, error) {
	instances, err := m.store.Instances(ctx)
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}

	now := m.clock().UTC()
	var failed []domain.SchedulerInstance
	for _, inst := range instances {
		if inst.InstanceID == m.config.InstanceID {
			continue
		}
		if inst.Failed(now, m.config.Grace) {
			failed = append(failed, inst)
		}
	}
	return failed, nil
}
