package queue

import (
	"time"
)

// Options holds configuration for starting a workflow instance.
type Options struct {
	Queue string
	RunAt *time.Time
	ID    string
}

// Option modifies Options.
type Option interface {
	Apply(*Options)
}

type optionFunc func(*Options)

func (f optionFunc) Apply(o *Options) { f(o) }

// Queue places the instance on a named queue instead of the workflow's
// default.
func Queue(name string) Option {
	return optionFunc(func(o *Options) {
		o.Queue = name
	})
}

// At schedules the instance to start at t. Instances scheduled in the future
// are stored SCHEDULED until the supervisor promotes them.
func At(t time.Time) Option {
	return optionFunc(func(o *Options) {
		o.RunAt = &t
	})
}

// Delay schedules the instance to start after d.
func Delay(d time.Duration) Option {
	return optionFunc(func(o *Options) {
		t := time.Now().Add(d)
		o.RunAt = &t
	})
}

// WithID uses id instead of a generated UUID.
func WithID(id string) Option {
	return optionFunc(func(o *Options) {
		o.ID = id
	})
}
