package schedule

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Schedule computes the next firing time strictly after from.
type Schedule interface {
	Next(from time.Time) time.Time
}

type everySchedule struct {
	interval time.Duration
}

// Every fires at a fixed interval. Intervals under a second are raised to
// one second.
func Every(d time.Duration) Schedule {
	if d < time.Second {
		d = time.Second
	}
	return &everySchedule{interval: d}
}

func (s *everySchedule) Next(from time.Time) time.Time {
	return from.Truncate(s.interval).Add(s.interval)
}

type clockSchedule struct {
	day    *time.Weekday
	hour   int
	minute int
	loc    *time.Location
}

// Daily fires once a day at hour:minute UTC.
func Daily(hour, minute int) Schedule {
	return &clockSchedule{hour: hour, minute: minute, loc: time.UTC}
}

// Weekly fires once a week on day at hour:minute UTC.
func Weekly(day time.Weekday, hour, minute int) Schedule {
	return &clockSchedule{day: &day, hour: hour, minute: minute, loc: time.UTC}
}

// In returns a copy of a Daily or Weekly schedule evaluated in loc. Other
// schedules are returned unchanged.
func In(s Schedule, loc *time.Location) Schedule {
	cs, ok := s.(*clockSchedule)
	if !ok || loc == nil {
		return s
	}
	cp := *cs
	cp.loc = loc
	return &cp
}

func (s *clockSchedule) Next(from time.Time) time.Time {
	from = from.In(s.loc)
	offset, step := 0, 1
	if s.day != nil {
		offset = int(*s.day - from.Weekday())
		if offset < 0 {
			offset += 7
		}
		step = 7
	}
	next := time.Date(from.Year(), from.Month(), from.Day()+offset, s.hour, s.minute, 0, 0, s.loc)
	if !next.After(from) {
		next = next.AddDate(0, 0, step)
	}
	return next
}

type cronSchedule struct {
	expr     string
	schedule cron.Schedule
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseCron parses a five-field cron expression or a descriptor such as
// "@hourly".
func ParseCron(expr string) (Schedule, error) {
	s, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("schedule: invalid cron expression %q: %w", expr, err)
	}
	return &cronSchedule{expr: expr, schedule: s}, nil
}

// Cron is ParseCron for expressions known to be valid. It panics otherwise.
func Cron(expr string) Schedule {
	s, err := ParseCron(expr)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *cronSchedule) Next(from time.Time) time.Time {
	return s.schedule.Next(from)
}

func (s *cronSchedule) String() string { return s.expr }
