package domain

import (
	"context"
	"errors"
	"fmt"
)

// DefaultGroup is used when a key is created without an explicit group.
const DefaultGroup = "DEFAULT"

type JobKey struct {
	Group string
	Name  string
}

func NewJobKey(name string) JobKey {
	return JobKey{Group: DefaultGroup, Name: name}
}

func (k JobKey) String() string {
	return k.Group + "." + k.Name
}

// JobDetail describes a job as stored by the job store. The executable
// behaviour is looked up by JobType at fire time.
type JobDetail struct {
	Key         JobKey
	JobType     string
	Description string

	// RequestsRecovery asks the store to re-fire the job if the instance
	// executing it dies before completion.
	RequestsRecovery bool

	// Durable jobs survive the removal of their last trigger.
	Durable bool

	Data map[string]string
}

// Job is the executable unit registered with the engine under a job type.
type Job interface {
	Execute(ctx context.Context, jc JobExecutionContext) error
}

// JobFunc adapts a plain function to the Job interface.
type JobFunc func(ctx context.Context, jc JobExecutionContext) error

func (f JobFunc) Execute(ctx context.Context, jc JobExecutionContext) error {
	return f(ctx, jc)
}

// RefireError asks the thread pool to execute the job again immediately.
type RefireError struct {
	Err error
}

func (e *RefireError) Error() string {
	return fmt.Sprintf("refire requested: %v", e.Err)
}

func (e *RefireError) Unwrap() error {
	return e.Err
}

// IsRefire reports whether err requests an immediate refire.
func IsRefire(err error) bool {
	var re *RefireError
	return errors.As(err, &re)
}
