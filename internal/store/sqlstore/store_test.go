package sqlstore

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/djlord-it/schedbench/internal/domain"
	"github.com/djlord-it/schedbench/internal/store"
	"github.com/djlord-it/schedbench/internal/testutil"
)

var base = time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

// openTestStore opens an in-memory SQLite store.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), Config{
		Driver:      "sqlite",
		URL:         "file::memory:",
		TablePrefix: "test_",
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s.WithClock(testutil.NewFakeClock(base).Now)
}

func TestOpen_RequiresURL(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "sqlite"})
	if err == nil {
		t.Fatal("expected error for missing url")
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "oracle", URL: "x"})
	if err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestTablePrefix(t *testing.T) {
	s := New(nil, DialectPostgres, "")
	got := s.q(queryDeleteInstance)
	if !strings.Contains(got, "qrtz_scheduler_state") {
		t.Errorf("default prefix not applied: %q", got)
	}
	if !strings.Contains(got, "$1") {
		t.Errorf("placeholder not rebound: %q", got)
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	s := openTestStore(t)
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestStoreJobAndTrigger_RoundTrip(t *testing.T) {
	ctx := testutil.TestContext(t)
	s := openTestStore(t)

	job, trig := testutil.OneShot("bench", base)
	job.RequestsRecovery = true
	job.Data = map[string]string{"k": "v"}
	end := base.Add(time.Hour)
	trig.EndAt = &end
	trig.CronExpression = "0 * * * * *"
	trig.Timezone = "Europe/Paris"
	trig.MisfireInstruction = domain.MisfireDoNothing

	if err := s.StoreJobAndTrigger(ctx, job, trig, false); err != nil {
		t.Fatalf("store: %v", err)
	}
	if err := s.StoreJobAndTrigger(ctx, job, trig, false); !errors.Is(err, store.ErrObjectAlreadyExists) {
		t.Fatalf("expected ErrObjectAlreadyExists, got %v", err)
	}
	if err := s.StoreJobAndTrigger(ctx, job, trig, true); err != nil {
		t.Fatalf("replace: %v", err)
	}

	gotJob, err := s.GetJob(ctx, job.Key)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if !gotJob.RequestsRecovery || gotJob.Data["k"] != "v" || gotJob.JobType != "test" {
		t.Errorf("unexpected job: %+v", gotJob)
	}

	trigs, err := s.ListTriggers(ctx)
	if err != nil {
		t.Fatalf("ListTriggers: %v", err)
	}
	if len(trigs) != 1 {
		t.Fatalf("expected 1 trigger, got %d", len(trigs))
	}
	got := trigs[0]
	if got.Key != trig.Key || got.JobKey != job.Key {
		t.Errorf("keys = %v/%v", got.Key, got.JobKey)
	}
	if !got.NextFireTime.Equal(base) || !got.EndAt.Equal(end) {
		t.Errorf("times = next %v end %v", got.NextFireTime, got.EndAt)
	}
	if got.PreviousFireTime != nil {
		t.Errorf("PreviousFireTime = %v, want nil", got.PreviousFireTime)
	}
	if got.CronExpression != trig.CronExpression || got.Timezone != "Europe/Paris" {
		t.Errorf("cron = %q tz = %q", got.CronExpression, got.Timezone)
	}
	if got.MisfireInstruction != domain.MisfireDoNothing || got.State != domain.TriggerStateWaiting {
		t.Errorf("misfire = %v state = %v", got.MisfireInstruction, got.State)
	}
}

func TestStoreTrigger_UnknownJob(t *testing.T) {
	ctx := testutil.TestContext(t)
	s := openTestStore(t)
	_, trig := testutil.OneShot("bench", base)

	if err := s.StoreTrigger(ctx, trig, false); !errors.Is(err, store.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestFireCycle(t *testing.T) {
	ctx := testutil.TestContext(t)
	s := openTestStore(t)

	job, trig := testutil.OneShot("bench", base)
	job.RequestsRecovery = true
	if err := s.StoreJobAndTrigger(ctx, job, trig, false); err != nil {
		t.Fatal(err)
	}

	acquired, err := s.AcquireNextTriggers(ctx, "inst-1", base.Add(time.Second), 5)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if len(acquired) != 1 || acquired[0].State != domain.TriggerStateAcquired {
		t.Fatalf("unexpected acquire result: %+v", acquired)
	}
	again, _ := s.AcquireNextTriggers(ctx, "inst-2", base.Add(time.Second), 5)
	if len(again) != 0 {
		t.Fatalf("trigger acquired twice")
	}

	recs, _ := s.FiredTriggers(ctx, "inst-1")
	if len(recs) != 1 || recs[0].State != domain.FiredStateAcquired {
		t.Fatalf("unexpected records: %+v", recs)
	}

	fired := acquired[0]
	prev := base
	fired.PreviousFireTime = &prev
	fired.NextFireTime = nil
	fired.TimesTriggered = 1

	rec, gotJob, err := s.TriggerFired(ctx, "inst-1", fired, base, base.Add(5*time.Millisecond))
	if err != nil {
		t.Fatalf("TriggerFired: %v", err)
	}
	if rec.ID != recs[0].ID {
		t.Errorf("record id changed: %v -> %v", recs[0].ID, rec.ID)
	}
	if rec.State != domain.FiredStateExecuting || !rec.RequestsRecovery {
		t.Errorf("unexpected record: %+v", rec)
	}
	if gotJob.Key != job.Key {
		t.Errorf("job = %v", gotJob.Key)
	}

	if _, _, err := s.TriggerFired(ctx, "inst-1", fired, base, base); !errors.Is(err, store.ErrTriggerNotFound) {
		t.Errorf("expected ErrTriggerNotFound, got %v", err)
	}

	recs, _ = s.FiredTriggers(ctx, "inst-1")
	if len(recs) != 1 || recs[0].State != domain.FiredStateExecuting {
		t.Fatalf("expected executing record, got %+v", recs)
	}

	if err := s.TriggeredJobComplete(ctx, rec); err != nil {
		t.Fatalf("complete: %v", err)
	}
	trigs, _ := s.ListTriggers(ctx)
	if len(trigs) != 0 {
		t.Errorf("expected trigger removed, got %d", len(trigs))
	}
	if _, err := s.GetJob(ctx, job.Key); !errors.Is(err, store.ErrJobNotFound) {
		t.Errorf("expected orphan job removed, got %v", err)
	}
	recs, _ = s.FiredTriggers(ctx, "inst-1")
	if len(recs) != 0 {
		t.Errorf("expected no records, got %d", len(recs))
	}
}

func TestReleaseAcquiredTrigger(t *testing.T) {
	ctx := testutil.TestContext(t)
	s := openTestStore(t)
	job, trig := testutil.OneShot("bench", base)
	_ = s.StoreJobAndTrigger(ctx, job, trig, false)

	acquired, _ := s.AcquireNextTriggers(ctx, "inst-1", base, 1)
	if len(acquired) != 1 {
		t.Fatalf("expected 1 trigger, got %d", len(acquired))
	}
	later := base.Add(time.Minute)
	acquired[0].NextFireTime = &later

	if err := s.ReleaseAcquiredTrigger(ctx, "inst-1", acquired[0]); err != nil {
		t.Fatal(err)
	}
	trigs, _ := s.ListTriggers(ctx)
	if trigs[0].State != domain.TriggerStateWaiting || !trigs[0].NextFireTime.Equal(later) {
		t.Errorf("unexpected trigger after release: %+v", trigs[0])
	}
	recs, _ := s.FiredTriggers(ctx, "inst-1")
	if len(recs) != 0 {
		t.Errorf("expected records removed, got %d", len(recs))
	}
}

func TestReleaseFiredTrigger(t *testing.T) {
	ctx := testutil.TestContext(t)
	s := openTestStore(t)
	job, trig := testutil.OneShot("bench", base)
	_ = s.StoreJobAndTrigger(ctx, job, trig, false)
	_, _ = s.AcquireNextTriggers(ctx, "dead", base, 1)

	recs, _ := s.FiredTriggers(ctx, "dead")
	if len(recs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(recs))
	}
	if err := s.ReleaseFiredTrigger(ctx, recs[0]); err != nil {
		t.Fatal(err)
	}
	got, _ := s.AcquireNextTriggers(ctx, "alive", base, 1)
	if len(got) != 1 {
		t.Errorf("released trigger should be acquirable")
	}
}

func TestRemoveTrigger(t *testing.T) {
	ctx := testutil.TestContext(t)
	s := openTestStore(t)
	job, trig := testutil.OneShot("bench", base)
	_ = s.StoreJobAndTrigger(ctx, job, trig, false)

	if err := s.RemoveTrigger(ctx, trig.Key); err != nil {
		t.Fatal(err)
	}
	if err := s.RemoveTrigger(ctx, trig.Key); !errors.Is(err, store.ErrTriggerNotFound) {
		t.Errorf("expected ErrTriggerNotFound, got %v", err)
	}
	if _, err := s.GetJob(ctx, job.Key); !errors.Is(err, store.ErrJobNotFound) {
		t.Errorf("expected job removed, got %v", err)
	}
}

func TestClearAllSchedulingData(t *testing.T) {
	ctx := testutil.TestContext(t)
	s := openTestStore(t)
	job, trig := testutil.OneShot("bench", base)
	_ = s.StoreJobAndTrigger(ctx, job, trig, false)
	_, _ = s.AcquireNextTriggers(ctx, "inst-1", base, 1)

	if err := s.ClearAllSchedulingData(ctx); err != nil {
		t.Fatal(err)
	}
	trigs, _ := s.ListTriggers(ctx)
	recs, _ := s.FiredTriggers(ctx, "inst-1")
	if len(trigs) != 0 || len(recs) != 0 {
		t.Errorf("expected empty store, got %d triggers %d records", len(trigs), len(recs))
	}
}

func TestCheckin(t *testing.T) {
	ctx := testutil.TestContext(t)
	s := openTestStore(t)

	inst := domain.SchedulerInstance{InstanceID: "a", LastCheckin: base, CheckinInterval: 7500 * time.Millisecond}
	if err := s.Checkin(ctx, inst); err != nil {
		t.Fatal(err)
	}
	inst.LastCheckin = base.Add(time.Second)
	if err := s.Checkin(ctx, inst); err != nil {
		t.Fatalf("second checkin: %v", err)
	}

	insts, err := s.Instances(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(insts) != 1 {
		t.Fatalf("expected 1 instance, got %d", len(insts))
	}
	if !insts[0].LastCheckin.Equal(base.Add(time.Second)) || insts[0].CheckinInterval != 7500*time.Millisecond {
		t.Errorf("unexpected instance: %+v", insts[0])
	}

	_ = s.RemoveInstance(ctx, "a")
	insts, _ = s.Instances(ctx)
	if len(insts) != 0 {
		t.Errorf("expected no instances, got %d", len(insts))
	}
}

func TestTryLock_SQLiteAlwaysGranted(t *testing.T) {
	s := openTestStore(t)
	unlock, ok, err := s.TryLock(context.Background(), 42)
	if err != nil || !ok {
		t.Fatalf("TryLock = %v, %v", ok, err)
	}
	unlock()
}
