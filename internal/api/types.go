package api

import (
	"time"

	"github.com/djlord-it/schedbench/internal/domain"
)

type TriggerResponse struct {
	Group          string `json:"group"`
	Name           string `json:"name"`
	JobGroup       string `json:"job_group"`
	JobName        string `json:"job_name"`
	State          string `json:"state"`
	CronExpression string `json:"cron_expression,omitempty"`
	Timezone       string `json:"timezone,omitempty"`
	RepeatCount    int    `json:"repeat_count"`
	RepeatInterval string `json:"repeat_interval,omitempty"`
	TimesTriggered int    `json:"times_triggered"`
	Priority       int    `json:"priority"`
	NextFireTime   string `json:"next_fire_time,omitempty"`
	PrevFireTime   string `json:"previous_fire_time,omitempty"`
	Recovering     bool   `json:"recovering,omitempty"`
}

type JobResponse struct {
	Group            string            `json:"group"`
	Name             string            `json:"name"`
	JobType          string            `json:"job_type"`
	Description      string            `json:"description,omitempty"`
	RequestsRecovery bool              `json:"requests_recovery"`
	Durable          bool              `json:"durable"`
	Data             map[string]string `json:"data,omitempty"`
}

type ListTriggersResponse struct {
	Triggers []TriggerResponse `json:"triggers"`
	Total    int               `json:"total"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func newTriggerResponse(t domain.Trigger) TriggerResponse {
	resp := TriggerResponse{
		Group:          t.Key.Group,
		Name:           t.Key.Name,
		JobGroup:       t.JobKey.Group,
		JobName:        t.JobKey.Name,
		State:          string(t.State),
		CronExpression: t.CronExpression,
		Timezone:       t.Timezone,
		RepeatCount:    t.RepeatCount,
		TimesTriggered: t.TimesTriggered,
		Priority:       t.Priority,
		NextFireTime:   formatOptionalTime(t.NextFireTime),
		PrevFireTime:   formatOptionalTime(t.PreviousFireTime),
		Recovering:     t.Recovering,
	}
	if t.RepeatInterval > 0 {
		resp.RepeatInterval = t.RepeatInterval.String()
	}
	return resp
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}
