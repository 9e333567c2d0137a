package domain

import "time"

type TriggerKey struct {
	Group string
	Name  string
}

func NewTriggerKey(name string) TriggerKey {
	return TriggerKey{Group: DefaultGroup, Name: name}
}

func (k TriggerKey) String() string {
	return k.Group + "." + k.Name
}

type TriggerState string

const (
	TriggerStateWaiting  TriggerState = "waiting"
	TriggerStateAcquired TriggerState = "acquired"
	TriggerStateComplete TriggerState = "complete"
)

type MisfireInstruction int

const (
	// MisfireSmartPolicy picks fire-now for simple triggers and
	// do-nothing for cron triggers.
	MisfireSmartPolicy MisfireInstruction = iota
	MisfireIgnore
	MisfireFireNow
	MisfireDoNothing
)

// RepeatForever is the RepeatCount of a simple trigger with no end.
const RepeatForever = -1

// DefaultPriority applies when two triggers share a fire time.
const DefaultPriority = 5

type Trigger struct {
	Key         TriggerKey
	JobKey      JobKey
	Description string

	StartAt time.Time
	EndAt   *time.Time

	// CronExpression selects a cron schedule; empty means a simple trigger.
	CronExpression string
	Timezone       string // IANA timezone, defaults to UTC

	RepeatCount    int
	RepeatInterval time.Duration
	TimesTriggered int

	Priority           int
	MisfireInstruction MisfireInstruction

	NextFireTime     *time.Time
	PreviousFireTime *time.Time
	State            TriggerState

	// Recovering marks a trigger created to re-fire a job after a crash.
	Recovering bool
}

// IsCron reports whether the trigger follows a cron expression.
func (t Trigger) IsCron() bool {
	return t.CronExpression != ""
}

// MayFireAgain reports whether the trigger has a future fire time.
func (t Trigger) MayFireAgain() bool {
	return t.NextFireTime != nil
}

// Clone returns a copy that shares no pointers with t.
func (t Trigger) Clone() Trigger {
	c := t
	c.EndAt = cloneTime(t.EndAt)
	c.NextFireTime = cloneTime(t.NextFireTime)
	c.PreviousFireTime = cloneTime(t.PreviousFireTime)
	return c
}

func cloneTime(ts *time.Time) *time.Time {
	if ts == nil {
		return nil
	}
	v := *ts
	return &v
}
