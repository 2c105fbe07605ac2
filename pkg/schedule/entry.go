package schedule

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/jdziat/simple-durable-workflows/pkg/registry"
)

// runNamespace seeds the deterministic ids of launched instances.
var runNamespace = uuid.MustParse("6f1c3a52-5d0e-4f5b-9c66-2f3b7d8e9a10")

// Entry launches Workflow with Payload each time Schedule fires.
type Entry struct {
	// Name identifies the entry; two entries must not share it.
	Name     string
	Workflow *registry.Workflow
	Payload  any
	Schedule Schedule
	// Queue overrides the workflow's default queue.
	Queue string
}

// Validate reports an incomplete entry.
func (e Entry) Validate() error {
	switch {
	case e.Name == "":
		return errors.New("schedule: entry name is required")
	case e.Workflow == nil:
		return errors.New("schedule: entry workflow is required")
	case e.Schedule == nil:
		return errors.New("schedule: entry schedule is required")
	}
	return nil
}

// RunID is the id of the instance launched for the firing at t. Every
// process computing it for the same firing gets the same id, so the store
// admits a single instance per firing.
func (e Entry) RunID(t time.Time) string {
	return uuid.NewSHA1(runNamespace, []byte(e.Name+"@"+t.UTC().Format(time.RFC3339))).String()
}
