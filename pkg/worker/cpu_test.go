package worker

import (
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func burn(d time.Duration) {
	end := time.Now().Add(d)
	n := 0
	for time.Now().Before(end) {
		n++
	}
	_ = n
}

func TestCPUClock_MeasuresBusyThread(t *testing.T) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	clock := newCPUClock(selfProcess(), threadID())
	burn(200 * time.Millisecond)
	used, err := clock.Elapsed()
	require.NoError(t, err)
	assert.Greater(t, used, 50*time.Millisecond)
}

func TestCPUClock_FallsBackToWallTime(t *testing.T) {
	clock := newCPUClock(nil, 0)
	_, ok := clock.(wallClock)
	require.True(t, ok)
	time.Sleep(20 * time.Millisecond)
	used, err := clock.Elapsed()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, used, 20*time.Millisecond)
}

func TestSeconds(t *testing.T) {
	assert.Equal(t, 1500*time.Millisecond, seconds(1.5))
	assert.Zero(t, seconds(-1))
}
