package workflows

import (
	"time"

	"github.com/jdziat/simple-durable-workflows/pkg/schedule"
)

type (
	// Schedule yields the firing times of a recurring workflow.
	Schedule = schedule.Schedule

	// ScheduleEntry binds a workflow and payload to a Schedule.
	ScheduleEntry = schedule.Entry
)

// Every fires at multiples of d.
func Every(d time.Duration) Schedule {
	return schedule.Every(d)
}

// Daily fires at hour:minute each day.
func Daily(hour, minute int) Schedule {
	return schedule.Daily(hour, minute)
}

// Weekly fires at hour:minute on day each week.
func Weekly(day time.Weekday, hour, minute int) Schedule {
	return schedule.Weekly(day, hour, minute)
}

// Cron parses a five-field cron expression and panics if it is invalid.
func Cron(expr string) Schedule {
	return schedule.Cron(expr)
}

// ParseCron parses a five-field cron expression.
func ParseCron(expr string) (Schedule, error) {
	return schedule.ParseCron(expr)
}

// In evaluates s in loc.
func In(s Schedule, loc *time.Location) Schedule {
	return schedule.In(s, loc)
}
