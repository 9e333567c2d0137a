package cron

import (
	"fmt"
	"strings"
	"time"

	yearcron "github.com/netresearch/go-cron"
	"github.com/robfig/cron/v3"
)

// Parser accepts three expression shapes:
//
//	5 fields: minute hour dom month dow
//	6 fields: second minute hour dom month dow
//	7 fields: second minute hour dom month dow year
//
// '?' is accepted in the day fields as an alias for '*'.
type Parser struct {
	standard    cron.Parser
	withSeconds cron.Parser
	withYear    yearcron.Parser
}

func NewParser() *Parser {
	return &Parser{
		standard:    cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		withSeconds: cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		withYear: yearcron.MustNewParser(yearcron.Second | yearcron.Minute | yearcron.Hour |
			yearcron.Dom | yearcron.Month | yearcron.Dow | yearcron.Year),
	}
}

func (p *Parser) Parse(expression string, timezone string) (Schedule, error) {
	if timezone == "" {
		timezone = "UTC"
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone: %w", err)
	}

	var next func(time.Time) time.Time
	switch n := len(strings.Fields(expression)); n {
	case 5:
		sched, err := p.standard.Parse(expression)
		if err != nil {
			return nil, fmt.Errorf("parse cron: %w", err)
		}
		next = sched.Next
	case 6:
		sched, err := p.withSeconds.Parse(expression)
		if err != nil {
			return nil, fmt.Errorf("parse cron: %w", err)
		}
		next = sched.Next
	case 7:
		sched, err := p.withYear.Parse(expression)
		if err != nil {
			return nil, fmt.Errorf("parse cron: %w", err)
		}
		next = sched.Next
	default:
		return nil, fmt.Errorf("parse cron: expected 5, 6 or 7 fields, got %d", n)
	}

	return &schedule{next: next, loc: loc}, nil
}

// Schedule yields successive fire times. Next returns the zero time when
// the expression never matches again.
type Schedule interface {
	Next(after time.Time) time.Time
}

type schedule struct {
	next func(time.Time) time.Time
	loc  *time.Location
}

func (s *schedule) Next(after time.Time) time.Time {
	return s.next(after.In(s.loc))
}
