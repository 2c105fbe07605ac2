package core

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func TestNewTaskDescriptor(t *testing.T) {
	a := &DaemonAction{
		ID:                  "a1",
		InstanceID:          "i1",
		RegistryID:          "example.com/app.Fetch",
		InputBody:           []byte(`{"url":"x"}`),
		RetryCurrentAttempt: 2,
		WallSoftTimeout:     ptr(1.0),
		WallHardTimeout:     ptr(5.0),
		CPUSoftTimeout:      nil,
		CPUHardTimeout:      ptr(0.0),
	}

	d := NewTaskDescriptor(a)

	assert.Equal(t, "a1", d.ActionID)
	assert.Equal(t, 2, d.Attempt)
	assert.Len(t, d.Timeouts, 2)

	soft, ok := d.Timeout(MeasureWallTime, TimeoutSoft)
	require.True(t, ok)
	assert.Equal(t, time.Second, soft)

	_, ok = d.Timeout(MeasureCPUTime, TimeoutHard)
	assert.False(t, ok, "zero timeouts are not limits")
}

func TestTaskDescriptor_JSON(t *testing.T) {
	d := NewTaskDescriptor(&DaemonAction{
		ID:              "a1",
		RegistryID:      "r",
		InputBody:       []byte(`[1,2]`),
		CPUSoftTimeout:  ptr(2.5),
		WallHardTimeout: ptr(10.0),
	})

	raw, err := json.Marshal(d)
	require.NoError(t, err)

	var generic map[string]any
	require.NoError(t, json.Unmarshal(raw, &generic))
	assert.Equal(t, "a1", generic["action_id"])
	assert.Equal(t, []any{1.0, 2.0}, generic["input_body"])

	timeouts := generic["timeouts"].([]any)
	require.Len(t, timeouts, 2)
	first := timeouts[0].(map[string]any)
	assert.Equal(t, "WALL_TIME", first["measurement"])
	assert.Equal(t, "HARD", first["type"])
	assert.Equal(t, 10.0, first["seconds"])
}
