// Package trigger computes fire times for simple and cron triggers.
//
// A simple trigger fires at StartAt and then RepeatCount more times every
// RepeatInterval (RepeatCount 0 is a one-shot). A cron trigger fires on each
// match of its expression at or after StartAt. Both stop at EndAt.
package trigger

import (
	"errors"
	"fmt"
	"time"

	"github.com/djlord-it/schedbench/internal/cron"
	"github.com/djlord-it/schedbench/internal/domain"
)

var ErrInvalidTrigger = errors.New("invalid trigger")

type CronParser interface {
	Parse(expression string, timezone string) (cron.Schedule, error)
}

// Validate checks the static shape of a trigger before it is stored.
func Validate(t domain.Trigger, parser CronParser) error {
	if t.Key.Name == "" {
		return fmt.Errorf("%w: name required", ErrInvalidTrigger)
	}
	if t.JobKey.Name == "" {
		return fmt.Errorf("%w: job name required", ErrInvalidTrigger)
	}
	if t.StartAt.IsZero() {
		return fmt.Errorf("%w: start time required", ErrInvalidTrigger)
	}
	if t.EndAt != nil && t.EndAt.Before(t.StartAt) {
		return fmt.Errorf("%w: end time before start time", ErrInvalidTrigger)
	}
	if t.IsCron() {
		if _, err := parser.Parse(t.CronExpression, t.Timezone); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidTrigger, err)
		}
		return nil
	}
	if t.RepeatCount < domain.RepeatForever {
		return fmt.Errorf("%w: repeat count %d", ErrInvalidTrigger, t.RepeatCount)
	}
	if t.RepeatCount != 0 && t.RepeatInterval <= 0 {
		return fmt.Errorf("%w: repeating trigger needs a positive interval", ErrInvalidTrigger)
	}
	return nil
}

// ComputeFirstFireTime sets NextFireTime to the first fire at or after
// StartAt and resets the trigger to waiting.
func ComputeFirstFireTime(t *domain.Trigger, parser CronParser) error {
	t.State = domain.TriggerStateWaiting
	t.PreviousFireTime = nil
	t.TimesTriggered = 0
	if t.Priority == 0 {
		t.Priority = domain.DefaultPriority
	}

	if !t.IsCron() {
		first := t.StartAt
		t.NextFireTime = withinEnd(t, &first)
		return nil
	}

	sched, err := parser.Parse(t.CronExpression, t.Timezone)
	if err != nil {
		return err
	}
	// Cron schedules return strictly-after times; step back so StartAt itself
	// can match.
	next := sched.Next(t.StartAt.Add(-time.Second))
	for !next.IsZero() && next.Before(t.StartAt) {
		next = sched.Next(next)
	}
	t.NextFireTime = withinEnd(t, nonZero(next))
	return nil
}

// Triggered advances the trigger past its current NextFireTime.
func Triggered(t *domain.Trigger, parser CronParser) error {
	if t.NextFireTime == nil {
		return nil
	}
	fired := *t.NextFireTime
	t.TimesTriggered++
	t.PreviousFireTime = &fired

	next, err := fireTimeAfter(t, fired, parser)
	if err != nil {
		return err
	}
	t.NextFireTime = next
	if next == nil {
		t.State = domain.TriggerStateComplete
	}
	return nil
}

// IsMisfired reports whether the trigger's fire time is older than
// threshold relative to now.
func IsMisfired(t domain.Trigger, now time.Time, threshold time.Duration) bool {
	if t.NextFireTime == nil || t.MisfireInstruction == domain.MisfireIgnore {
		return false
	}
	return t.NextFireTime.Before(now.Add(-threshold))
}

// ApplyMisfire rewrites NextFireTime according to the trigger's misfire
// instruction.
func ApplyMisfire(t *domain.Trigger, now time.Time, parser CronParser) error {
	instr := t.MisfireInstruction
	if instr == domain.MisfireIgnore || t.NextFireTime == nil {
		return nil
	}
	if instr == domain.MisfireSmartPolicy {
		if t.IsCron() {
			instr = domain.MisfireDoNothing
		} else {
			instr = domain.MisfireFireNow
		}
	}

	switch instr {
	case domain.MisfireFireNow:
		fireAt := now
		t.NextFireTime = withinEnd(t, &fireAt)
	case domain.MisfireDoNothing:
		next, err := fireTimeAfter(t, now.Add(-time.Nanosecond), parser)
		if err != nil {
			return err
		}
		t.NextFireTime = next
	}
	if t.NextFireTime == nil {
		t.State = domain.TriggerStateComplete
	}
	return nil
}

// fireTimeAfter returns the first fire strictly after `after`, honouring the
// remaining repeat count and EndAt.
func fireTimeAfter(t *domain.Trigger, after time.Time, parser CronParser) (*time.Time, error) {
	if t.IsCron() {
		sched, err := parser.Parse(t.CronExpression, t.Timezone)
		if err != nil {
			return nil, err
		}
		return withinEnd(t, nonZero(sched.Next(after))), nil
	}

	if t.RepeatCount != domain.RepeatForever && t.TimesTriggered > t.RepeatCount {
		return nil, nil
	}
	if t.RepeatInterval <= 0 {
		return nil, nil
	}
	if after.Before(t.StartAt) {
		start := t.StartAt
		return withinEnd(t, &start), nil
	}
	steps := after.Sub(t.StartAt)/t.RepeatInterval + 1
	if t.RepeatCount != domain.RepeatForever && int(steps) > t.RepeatCount {
		return nil, nil
	}
	next := t.StartAt.Add(steps * t.RepeatInterval)
	return withinEnd(t, &next), nil
}

func withinEnd(t *domain.Trigger, next *time.Time) *time.Time {
	if next == nil {
		return nil
	}
	if t.EndAt != nil && next.After(*t.EndAt) {
		return nil
	}
	return next
}

func nonZero(ts time.Time) *time.Time {
	if ts.IsZero() {
		return nil
	}
	return &ts
}
