package main

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/djlord-it/schedbench/internal/cli"
	"github.com/djlord-it/schedbench/internal/domain"
)

const (
	benchJobType = "bench"
	benchJobName = "my-job"
	benchTrigger = "my-trigger"

	// fireTimeLayout renders times like java.util.Date#toString.
	fireTimeLayout = "Mon Jan 02 15:04:05 MST 2006"
)

// benchJob prints the fire, previous and next fire times of each execution.
type benchJob struct {
	mu  sync.Mutex
	out io.Writer
	loc *time.Location
}

func newBenchJob(out io.Writer, loc *time.Location) *benchJob {
	return &benchJob{out: out, loc: loc}
}

func (j *benchJob) Execute(ctx context.Context, jc domain.JobExecutionContext) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	_, err := fmt.Fprintf(j.out, "Job %s, fire: %s, previous: %s, next: %s\n",
		jc.JobDetail.Key.Name,
		j.format(&jc.FireTime),
		j.format(jc.PreviousFireTime),
		j.format(jc.NextFireTime),
	)
	return err
}

func (j *benchJob) format(t *time.Time) string {
	if t == nil {
		return "null"
	}
	return t.In(j.loc).Format(fireTimeLayout)
}

// benchSchedule builds the job and trigger requested on the command line.
// Start times are truncated to milliseconds, the resolution of the SQL stores.
func benchSchedule(opts cli.Options, now time.Time) (domain.JobDetail, domain.Trigger) {
	job := domain.JobDetail{
		Key:              domain.NewJobKey(benchJobName),
		JobType:          benchJobType,
		RequestsRecovery: opts.Recovery,
	}
	trig := domain.Trigger{
		Key:            domain.NewTriggerKey(benchTrigger),
		JobKey:         job.Key,
		StartAt:        now.Add(opts.After).Truncate(time.Millisecond),
		CronExpression: opts.Cron,
		Priority:       domain.DefaultPriority,
	}
	return job, trig
}
