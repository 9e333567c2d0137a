package cluster

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/djlord-it/schedbench/internal/domain"
	"github.com/djlord-it/schedbench/internal/recovery"
	"github.com/djlord-it/schedbench/internal/store/memory"
	"github.com/djlord-it/schedbench/internal/testutil"
)

var base = time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

// mockRecoverer records which instances were recovered.
type mockRecoverer struct {
	mu        sync.Mutex
	recovered []string
	err       error
}

func (r *mockRecoverer) RecoverInstance(ctx context.Context, instanceID string) (recovery.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return recovery.Result{}, r.err
	}
	r.recovered = append(r.recovered, instanceID)
	return recovery.Result{}, nil
}

type mockLocker struct {
	acquired bool
	err      error
	calls    int
	unlocked int
}

func (l *mockLocker) TryLock(ctx context.Context, key int64) (func(), bool, error) {
	l.calls++
	if l.err != nil || !l.acquired {
		return nil, false, l.err
	}
	return func() { l.unlocked++ }, true, nil
}

type mockMetrics struct {
	checkins  int
	lastErr   error
	recovered int
}

func (m *mockMetrics) ClusterCheckin(err error) {
	m.checkins++
	m.lastErr = err
}

func (m *mockMetrics) FailedInstancesRecovered(count int) {
	m.recovered += count
}

func newTestManager(st Store, rec Recoverer, clock *testutil.FakeClock) *Manager {
	return New(Config{
		InstanceID:      "self",
		CheckinInterval: 10 * time.Second,
		Grace:           5 * time.Second,
	}, st, rec).WithClock(clock.Now)
}

func TestCheckin_RecordsInstance(t *testing.T) {
	ctx := testutil.TestContext(t)
	st := memory.New()
	clock := testutil.NewFakeClock(base)
	metrics := &mockMetrics{}
	m := newTestManager(st, &mockRecoverer{}, clock).WithMetrics(metrics)

	if err := m.Checkin(ctx); err != nil {
		t.Fatal(err)
	}

	insts, _ := st.Instances(ctx)
	if len(insts) != 1 || insts[0].InstanceID != "self" {
		t.Fatalf("instances = %+v", insts)
	}
	if !insts[0].LastCheckin.Equal(base) || insts[0].CheckinInterval != 10*time.Second {
		t.Errorf("instance = %+v", insts[0])
	}
	if metrics.checkins != 1 || metrics.lastErr != nil {
		t.Errorf("metrics = %+v", metrics)
	}
}

func TestRecoverFailed_RecoversOnlyStaleInstances(t *testing.T) {
	ctx := testutil.TestContext(t)
	st := memory.New()
	clock := testutil.NewFakeClock(base)
	rec := &mockRecoverer{}
	m := newTestManager(st, rec, clock)

	interval := 10 * time.Second
	_ = st.Checkin(ctx, domain.SchedulerInstance{InstanceID: "stale", LastCheckin: base.Add(-time.Minute), CheckinInterval: interval})
	_ = st.Checkin(ctx, domain.SchedulerInstance{InstanceID: "fresh", LastCheckin: base.Add(-12 * time.Second), CheckinInterval: interval})
	_ = st.Checkin(ctx, domain.SchedulerInstance{InstanceID: "self", LastCheckin: base.Add(-time.Hour), CheckinInterval: interval})

	n, err := m.RecoverFailed(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("recovered = %d, want 1", n)
	}
	if len(rec.recovered) != 1 || rec.recovered[0] != "stale" {
		t.Errorf("recovered instances = %v", rec.recovered)
	}

	insts, _ := st.Instances(ctx)
	for _, inst := range insts {
		if inst.InstanceID == "stale" {
			t.Error("stale instance should be removed")
		}
	}
	if len(insts) != 2 {
		t.Errorf("expected fresh and self kept, got %+v", insts)
	}
}

func TestRecoverFailed_RecoveryErrorKeepsInstance(t *testing.T) {
	ctx := testutil.TestContext(t)
	st := memory.New()
	clock := testutil.NewFakeClock(base)
	m := newTestManager(st, &mockRecoverer{err: errors.New("db down")}, clock)

	_ = st.Checkin(ctx, domain.SchedulerInstance{InstanceID: "stale", LastCheckin: base.Add(-time.Hour), CheckinInterval: time.Second})

	n, _ := m.RecoverFailed(ctx)
	if n != 0 {
		t.Errorf("recovered = %d, want 0", n)
	}
	insts, _ := st.Instances(ctx)
	if len(insts) != 1 {
		t.Error("instance should be kept for the next attempt")
	}
}

func TestRecoverFailed_LockHeldElsewhere(t *testing.T) {
	ctx := testutil.TestContext(t)
	st := memory.New()
	clock := testutil.NewFakeClock(base)
	rec := &mockRecoverer{}
	locker := &mockLocker{acquired: false}
	m := newTestManager(st, rec, clock).WithLocker(locker)

	_ = st.Checkin(ctx, domain.SchedulerInstance{InstanceID: "stale", LastCheckin: base.Add(-time.Hour), CheckinInterval: time.Second})

	n, err := m.RecoverFailed(ctx)
	if err != nil || n != 0 {
		t.Fatalf("RecoverFailed = %d, %v", n, err)
	}
	if len(rec.recovered) != 0 {
		t.Error("should not recover without the lock")
	}
	if locker.calls != 1 {
		t.Errorf("lock attempts = %d, want 1", locker.calls)
	}
}

func TestRecoverFailed_LockAcquiredAndReleased(t *testing.T) {
	ctx := testutil.TestContext(t)
	st := memory.New()
	clock := testutil.NewFakeClock(base)
	rec := &mockRecoverer{}
	locker := &mockLocker{acquired: true}
	metrics := &mockMetrics{}
	m := newTestManager(st, rec, clock).WithLocker(locker).WithMetrics(metrics)

	_ = st.Checkin(ctx, domain.SchedulerInstance{InstanceID: "stale", LastCheckin: base.Add(-time.Hour), CheckinInterval: time.Second})

	n, err := m.RecoverFailed(ctx)
	if err != nil || n != 1 {
		t.Fatalf("RecoverFailed = %d, %v", n, err)
	}
	if locker.unlocked != 1 {
		t.Errorf("unlocked = %d, want 1", locker.unlocked)
	}
	if metrics.recovered != 1 {
		t.Errorf("metrics recovered = %d", metrics.recovered)
	}
}

func TestRecoverFailed_NoFailedSkipsLock(t *testing.T) {
	ctx := testutil.TestContext(t)
	st := memory.New()
	clock := testutil.NewFakeClock(base)
	locker := &mockLocker{acquired: true}
	m := newTestManager(st, &mockRecoverer{}, clock).WithLocker(locker)

	_ = m.Checkin(ctx)
	if _, err := m.RecoverFailed(ctx); err != nil {
		t.Fatal(err)
	}
	if locker.calls != 0 {
		t.Errorf("lock taken with nothing to recover")
	}
}

func TestRecoverFailed_EndToEndWithRecoverer(t *testing.T) {
	ctx := testutil.TestContext(t)
	st := memory.New()
	clock := testutil.NewFakeClock(base)
	m := newTestManager(st, recovery.New(st), clock)

	job, trig := testutil.OneShot("bench", base)
	job.RequestsRecovery = true
	_ = st.StoreJobAndTrigger(ctx, job, trig, false)
	acquired, _ := st.AcquireNextTriggers(ctx, "stale", base, 1)
	fired := acquired[0]
	fired.NextFireTime = nil
	if _, _, err := st.TriggerFired(ctx, "stale", fired, base, base); err != nil {
		t.Fatal(err)
	}
	_ = st.Checkin(ctx, domain.SchedulerInstance{InstanceID: "stale", LastCheckin: base.Add(-time.Hour), CheckinInterval: time.Second})

	if n, err := m.RecoverFailed(ctx); err != nil || n != 1 {
		t.Fatalf("RecoverFailed = %d, %v", n, err)
	}

	trigs, _ := st.ListTriggers(ctx)
	if len(trigs) != 1 || trigs[0].Key.Group != recovery.RecoveryGroup {
		t.Errorf("expected a recovery trigger, got %+v", trigs)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	st := memory.New()
	clock := testutil.NewFakeClock(base)
	m := newTestManager(st, &mockRecoverer{}, clock)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}

	insts, _ := st.Instances(context.Background())
	if len(insts) != 1 {
		t.Errorf("expected immediate checkin, got %d instances", len(insts))
	}
}
