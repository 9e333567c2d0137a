// Package testutil provides shared test helpers for schedbench.
package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/djlord-it/schedbench/internal/domain"
)

// FakeClock provides deterministic time for testing.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
}

// NewFakeClock creates a FakeClock set to the given time.
func NewFakeClock(t time.Time) *FakeClock {
	return &FakeClock{current: t}
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
}

// TestContext returns a context with a 5-second timeout.
// The context is cancelled when the test completes.
func TestContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// OneShot returns a job of type "test" and a waiting trigger that fires it
// once at at.
func OneShot(name string, at time.Time) (domain.JobDetail, domain.Trigger) {
	job := domain.JobDetail{
		Key:     domain.NewJobKey(name),
		JobType: "test",
	}
	next := at
	trig := domain.Trigger{
		Key:          domain.NewTriggerKey(name + "-trigger"),
		JobKey:       job.Key,
		StartAt:      at,
		Priority:     domain.DefaultPriority,
		NextFireTime: &next,
		State:        domain.TriggerStateWaiting,
	}
	return job, trig
}
