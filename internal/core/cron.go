package core

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ParseCron ensures the expression is a valid 5-field cron definition and returns the underlying schedule.
func ParseCron(expr string) (cron.Schedule, error) {
	if strings.HasPrefix(strings.TrimSpace(expr), "@") {
		return nil, fmt.Errorf("only 5-field cron expressions are supported")
	}
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}
	return schedule, nil
}

// NextOccurrences returns the next n execution times from a base time.
func NextOccurrences(schedule cron.Schedule, base time.Time, n int) []time.Time {
	times := make([]time.Time, 0, n)
	next := base
	for i := 0; i < n; i++ {
		next = schedule.Next(next)
		if next.IsZero() {
			break
		}
		times = append(times, next)
	}
	return times
}

// CronSpec renders the schedule as an equivalent 5-field cron expression.
func (s *Schedule) CronSpec() (string, error) {
	if err := s.Validate(); err != nil {
		return "", err
	}
	hour, minute, _ := ParseTimeOfDay(s.Time)
	dow := "*"
	if len(s.Days) > 0 {
		days := make([]string, 0, len(s.Days))
		for _, d := range s.Days {
			days = append(days, strconv.Itoa(int(d)))
		}
		dow = strings.Join(days, ",")
	}
	return fmt.Sprintf("%d %d * * %s", minute, hour, dow), nil
}

// NextFireTimes returns the next n times the schedule would fire after base,
// evaluated in base's location.
func (s *Schedule) NextFireTimes(base time.Time, n int) ([]time.Time, error) {
	spec, err := s.CronSpec()
	if err != nil {
		return nil, err
	}
	schedule, err := ParseCron(spec)
	if err != nil {
		return nil, err
	}
	return NextOccurrences(schedule, base, n), nil
}
