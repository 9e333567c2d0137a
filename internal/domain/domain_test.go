package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestTriggerState_Values(t *testing.T) {
	tests := []struct {
		state TriggerState
		want  string
	}{
		{TriggerStateWaiting, "waiting"},
		{TriggerStateAcquired, "acquired"},
		{TriggerStateComplete, "complete"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if string(tt.state) != tt.want {
				t.Errorf("TriggerState = %q, want %q", tt.state, tt.want)
			}
		})
	}
}

func TestKeys_DefaultGroup(t *testing.T) {
	jk := NewJobKey("my-job")
	if jk.String() != "DEFAULT.my-job" {
		t.Errorf("JobKey.String() = %q", jk.String())
	}
	tk := NewTriggerKey("my-trigger")
	if tk.String() != "DEFAULT.my-trigger" {
		t.Errorf("TriggerKey.String() = %q", tk.String())
	}
}

func TestIsRefire(t *testing.T) {
	base := errors.New("boom")
	if IsRefire(base) {
		t.Error("plain error should not request refire")
	}
	wrapped := fmt.Errorf("job: %w", &RefireError{Err: base})
	if !IsRefire(wrapped) {
		t.Error("wrapped RefireError should request refire")
	}
	if !errors.Is(wrapped, base) {
		t.Error("RefireError should unwrap to the cause")
	}
}

func TestNewExecutionContext(t *testing.T) {
	fire := time.Date(2024, 1, 15, 10, 0, 1, 0, time.UTC)
	sched := fire.Add(-time.Second)
	next := fire.Add(time.Minute)
	id := uuid.New()

	jc := NewExecutionContext(FiredEvent{
		Record:            FiredTrigger{ID: id},
		Job:               JobDetail{Key: NewJobKey("j")},
		Trigger:           Trigger{Key: NewTriggerKey("t"), NextFireTime: &next, Recovering: true},
		ScheduledFireTime: sched,
		FireTime:          fire,
	})

	if jc.JobDetail.Key.Name != "j" || jc.TriggerKey.Name != "t" {
		t.Errorf("keys not copied: %+v", jc)
	}
	if !jc.FireTime.Equal(fire) || !jc.ScheduledFireTime.Equal(sched) {
		t.Errorf("times not copied: %+v", jc)
	}
	if jc.NextFireTime == nil || !jc.NextFireTime.Equal(next) {
		t.Errorf("next fire time = %v, want %v", jc.NextFireTime, next)
	}
	if jc.PreviousFireTime != nil {
		t.Errorf("previous fire time = %v, want nil", jc.PreviousFireTime)
	}
	if !jc.Recovering {
		t.Error("expected recovering flag")
	}
	if jc.FireInstanceID != id.String() {
		t.Errorf("FireInstanceID = %q", jc.FireInstanceID)
	}
}
