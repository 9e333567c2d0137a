// Package cli parses the schedbench command line.
package cli

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	PropsPrefix    = "-props="
	SchedulePrefix = "-schedule="
	CronPrefix     = "-cron="
	RecoveryFlag   = "-recovery"
)

// Usage is printed when the required arguments are missing.
const Usage = "Args: -props=<prop_file> [-schedule=<after_seconds> [-recovery]] [-cron=<expr>]"

var ErrUsage = errors.New("missing required argument -props")

type Options struct {
	PropsPath string

	// Schedule is set when -schedule was given; After is the delay before
	// the first fire.
	Schedule bool
	After    time.Duration

	// Cron replaces the one-shot trigger with a repeating cron trigger.
	Cron string

	Recovery bool
}

// ShouldSchedule reports whether a job should be registered before start.
func (o Options) ShouldSchedule() bool {
	return o.Schedule || o.Cron != ""
}

// Pluck returns the first argument starting with prefix, without the prefix.
func Pluck(args []string, prefix string) (string, bool) {
	for _, a := range args {
		if strings.HasPrefix(a, prefix) {
			return a[len(prefix):], true
		}
	}
	return "", false
}

// Parse reads options from args, which excludes the program name. Unknown
// arguments are ignored.
func Parse(args []string) (Options, error) {
	var opts Options

	props, ok := Pluck(args, PropsPrefix)
	if !ok || props == "" {
		return opts, ErrUsage
	}
	opts.PropsPath = props

	for _, a := range args {
		if a == RecoveryFlag {
			opts.Recovery = true
			break
		}
	}

	if raw, ok := Pluck(args, SchedulePrefix); ok {
		secs, err := strconv.ParseInt(raw, 10, 32)
		if err != nil {
			return opts, fmt.Errorf("invalid %s value %q: %w", strings.TrimSuffix(SchedulePrefix, "="), raw, err)
		}
		opts.Schedule = true
		opts.After = time.Duration(secs) * time.Second
	}

	if expr, ok := Pluck(args, CronPrefix); ok {
		opts.Cron = strings.TrimSpace(expr)
	}

	return opts, nil
}

// Describe returns the line announcing what will be scheduled.
func (o Options) Describe() string {
	var b strings.Builder
	if o.Cron != "" {
		fmt.Fprintf(&b, "Scheduling cron %q", o.Cron)
		if o.Schedule {
			fmt.Fprintf(&b, " after %ds", int(o.After/time.Second))
		}
	} else {
		// Matches the line existing benchmark log parsers look for.
		fmt.Fprintf(&b, "Scheduling on-shot after %ds", int(o.After/time.Second))
	}
	if o.Recovery {
		b.WriteString(" with recovery")
	}
	return b.String()
}
