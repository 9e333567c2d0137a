// Package memory is a non-persistent job store. Scheduling data is lost when
// the process exits, so recovery has nothing to act on after a restart.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/djlord-it/schedbench/internal/domain"
	"github.com/djlord-it/schedbench/internal/store"
)

type Store struct {
	mu        sync.Mutex
	jobs      map[domain.JobKey]domain.JobDetail
	triggers  map[domain.TriggerKey]domain.Trigger
	fired     map[uuid.UUID]domain.FiredTrigger
	instances map[string]domain.SchedulerInstance
	clock     func() time.Time
}

func New() *Store {
	s := &Store{clock: time.Now}
	s.reset()
	return s
}

// WithClock overrides the time source used to stamp acquisition records.
func (s *Store) WithClock(clock func() time.Time) *Store {
	s.clock = clock
	return s
}

func (s *Store) reset() {
	s.jobs = make(map[domain.JobKey]domain.JobDetail)
	s.triggers = make(map[domain.TriggerKey]domain.Trigger)
	s.fired = make(map[uuid.UUID]domain.FiredTrigger)
	if s.instances == nil {
		s.instances = make(map[string]domain.SchedulerInstance)
	}
}

func (s *Store) StoreJobAndTrigger(ctx context.Context, job domain.JobDetail, trig domain.Trigger, replace bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !replace {
		if _, ok := s.jobs[job.Key]; ok {
			return store.ErrObjectAlreadyExists
		}
		if _, ok := s.triggers[trig.Key]; ok {
			return store.ErrObjectAlreadyExists
		}
	}
	s.jobs[job.Key] = cloneJob(job)
	s.triggers[trig.Key] = trig.Clone()
	return nil
}

func (s *Store) StoreTrigger(ctx context.Context, trig domain.Trigger, replace bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[trig.JobKey]; !ok {
		return store.ErrJobNotFound
	}
	if _, ok := s.triggers[trig.Key]; ok && !replace {
		return store.ErrObjectAlreadyExists
	}
	s.triggers[trig.Key] = trig.Clone()
	return nil
}

func (s *Store) ClearAllSchedulingData(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
	return nil
}

func (s *Store) AcquireNextTriggers(ctx context.Context, instanceID string, noLaterThan time.Time, maxCount int) ([]domain.Trigger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []domain.Trigger
	for _, t := range s.triggers {
		if t.State != domain.TriggerStateWaiting || t.NextFireTime == nil {
			continue
		}
		if t.NextFireTime.After(noLaterThan) {
			continue
		}
		due = append(due, t)
	}
	sort.Slice(due, func(i, j int) bool { return store.Less(due[i], due[j]) })
	if maxCount > 0 && len(due) > maxCount {
		due = due[:maxCount]
	}

	now := s.clock().UTC()
	acquired := make([]domain.Trigger, 0, len(due))
	for _, t := range due {
		t.State = domain.TriggerStateAcquired
		s.triggers[t.Key] = t
		id := uuid.New()
		s.fired[id] = domain.FiredTrigger{
			ID:          id,
			InstanceID:  instanceID,
			TriggerKey:  t.Key,
			JobKey:      t.JobKey,
			FiredAt:     now,
			ScheduledAt: *t.NextFireTime,
			Priority:    t.Priority,
			State:       domain.FiredStateAcquired,
		}
		acquired = append(acquired, t.Clone())
	}
	return acquired, nil
}

func (s *Store) ReleaseAcquiredTrigger(ctx context.Context, instanceID string, trig domain.Trigger) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.deleteAcquiredLocked(instanceID, trig.Key)
	cur, ok := s.triggers[trig.Key]
	if !ok || cur.State != domain.TriggerStateAcquired {
		return nil
	}
	cur.NextFireTime = trig.Clone().NextFireTime
	cur.State = domain.TriggerStateWaiting
	s.triggers[trig.Key] = cur
	return nil
}

func (s *Store) RemoveTrigger(ctx context.Context, key domain.TriggerKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.triggers[key]
	if !ok {
		return store.ErrTriggerNotFound
	}
	for id, rec := range s.fired {
		if rec.TriggerKey == key && rec.State == domain.FiredStateAcquired {
			delete(s.fired, id)
		}
	}
	delete(s.triggers, key)
	s.removeOrphanJobLocked(t.JobKey)
	return nil
}

func (s *Store) TriggerFired(ctx context.Context, instanceID string, trig domain.Trigger, scheduledAt, firedAt time.Time) (domain.FiredTrigger, domain.JobDetail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.triggers[trig.Key]
	if !ok || cur.State != domain.TriggerStateAcquired {
		return domain.FiredTrigger{}, domain.JobDetail{}, store.ErrTriggerNotFound
	}
	job, ok := s.jobs[cur.JobKey]
	if !ok {
		return domain.FiredTrigger{}, domain.JobDetail{}, store.ErrJobNotFound
	}

	var rec domain.FiredTrigger
	found := false
	for id, r := range s.fired {
		if r.InstanceID == instanceID && r.TriggerKey == trig.Key && r.State == domain.FiredStateAcquired {
			rec = r
			rec.ID = id
			found = true
			break
		}
	}
	if !found {
		rec = domain.FiredTrigger{
			ID:         uuid.New(),
			InstanceID: instanceID,
			TriggerKey: trig.Key,
			JobKey:     cur.JobKey,
			Priority:   cur.Priority,
		}
	}
	rec.State = domain.FiredStateExecuting
	rec.FiredAt = firedAt
	rec.ScheduledAt = scheduledAt
	rec.RequestsRecovery = job.RequestsRecovery
	s.fired[rec.ID] = rec

	next := trig.Clone()
	if next.NextFireTime == nil {
		next.State = domain.TriggerStateComplete
	} else {
		next.State = domain.TriggerStateWaiting
	}
	s.triggers[trig.Key] = next

	return rec, cloneJob(job), nil
}

func (s *Store) TriggeredJobComplete(ctx context.Context, rec domain.FiredTrigger) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.fired, rec.ID)
	if t, ok := s.triggers[rec.TriggerKey]; ok && t.State == domain.TriggerStateComplete {
		delete(s.triggers, rec.TriggerKey)
	}
	s.removeOrphanJobLocked(rec.JobKey)
	return nil
}

func (s *Store) FiredTriggers(ctx context.Context, instanceID string) ([]domain.FiredTrigger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.FiredTrigger
	for _, rec := range s.fired {
		if rec.InstanceID == instanceID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	return out, nil
}

func (s *Store) ReleaseFiredTrigger(ctx context.Context, rec domain.FiredTrigger) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.fired, rec.ID)
	if t, ok := s.triggers[rec.TriggerKey]; ok && t.State == domain.TriggerStateAcquired {
		t.State = domain.TriggerStateWaiting
		s.triggers[rec.TriggerKey] = t
	}
	return nil
}

func (s *Store) ListTriggers(ctx context.Context) ([]domain.Trigger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Trigger, 0, len(s.triggers))
	for _, t := range s.triggers {
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return store.Less(out[i], out[j]) })
	return out, nil
}

func (s *Store) GetJob(ctx context.Context, key domain.JobKey) (domain.JobDetail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[key]
	if !ok {
		return domain.JobDetail{}, store.ErrJobNotFound
	}
	return cloneJob(job), nil
}

func (s *Store) Checkin(ctx context.Context, inst domain.SchedulerInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instances[inst.InstanceID] = inst
	return nil
}

func (s *Store) Instances(ctx context.Context) ([]domain.SchedulerInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.SchedulerInstance, 0, len(s.instances))
	for _, inst := range s.instances {
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InstanceID < out[j].InstanceID })
	return out, nil
}

func (s *Store) RemoveInstance(ctx context.Context, instanceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.instances, instanceID)
	return nil
}

func (s *Store) Close() error {
	return nil
}

func (s *Store) deleteAcquiredLocked(instanceID string, key domain.TriggerKey) {
	for id, rec := range s.fired {
		if rec.InstanceID == instanceID && rec.TriggerKey == key && rec.State == domain.FiredStateAcquired {
			delete(s.fired, id)
		}
	}
}

// removeOrphanJobLocked deletes a non-durable job once no trigger references it.
func (s *Store) removeOrphanJobLocked(key domain.JobKey) {
	job, ok := s.jobs[key]
	if !ok || job.Durable {
		return
	}
	for _, t := range s.triggers {
		if t.JobKey == key {
			return
		}
	}
	delete(s.jobs, key)
}

func cloneJob(j domain.JobDetail) domain.JobDetail {
	if j.Data != nil {
		data := make(map[string]string, len(j.Data))
		for k, v := range j.Data {
			data[k] = v
		}
		j.Data = data
	}
	return j
}

var _ store.JobStore = (*Store)(nil)
