package timer

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimerManager_Fires(t *testing.T) {
	m := NewTimerManagerWithResolution(5 * time.Millisecond)
	defer m.Stop()

	fired := make(chan struct{})
	m.Schedule(10*time.Millisecond, func() { close(fired) })

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
	assert.Eventually(t, func() bool { return m.Pending() == 0 }, time.Second, 5*time.Millisecond)
}

func TestTimerManager_RemoveTimer(t *testing.T) {
	m := NewTimerManagerWithResolution(5 * time.Millisecond)
	defer m.Stop()

	var fired atomic.Bool
	id := m.Schedule(30*time.Millisecond, func() { fired.Store(true) })

	require.True(t, m.RemoveTimer(id))
	assert.False(t, m.RemoveTimer(id), "second remove should report nothing pending")

	time.Sleep(80 * time.Millisecond)
	assert.False(t, fired.Load())
}

func TestTimerManager_ResetPostponesDeadline(t *testing.T) {
	m := NewTimerManagerWithResolution(5 * time.Millisecond)
	defer m.Stop()

	var fired atomic.Bool
	id := m.Schedule(40*time.Millisecond, func() { fired.Store(true) })

	time.Sleep(20 * time.Millisecond)
	require.True(t, m.Reset(id, 200*time.Millisecond))

	time.Sleep(60 * time.Millisecond)
	assert.False(t, fired.Load(), "reset timer fired at its original deadline")

	assert.Eventually(t, fired.Load, time.Second, 5*time.Millisecond)
}

func TestTimerManager_Repeating(t *testing.T) {
	m := NewTimerManagerWithResolution(5 * time.Millisecond)
	defer m.Stop()

	var count atomic.Int32
	id := m.AddTimer(5*time.Millisecond, 10*time.Millisecond, func() { count.Add(1) })

	assert.Eventually(t, func() bool { return count.Load() >= 3 }, time.Second, 5*time.Millisecond)
	assert.True(t, m.RemoveTimer(id))
}
