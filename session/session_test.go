package session

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/racebot/timer"
)

func newTestManager(t *testing.T, idle, control time.Duration) *Manager {
	t.Helper()
	timers := timer.NewTimerManagerWithResolution(5 * time.Millisecond)
	t.Cleanup(timers.Stop)
	return NewManager(timers, idle, control)
}

func TestNewID(t *testing.T) {
	id := NewID()
	assert.Len(t, id, 12)
	assert.NotEqual(t, id, NewID())
}

func TestManager_Open_Get_Close(t *testing.T) {
	manager := newTestManager(t, time.Minute, time.Hour)

	sess, err := manager.Open(KindCarPicker, "alice", "r1")
	require.NoError(t, err)

	retrieved, exists := manager.Get(sess.ID)
	require.True(t, exists)
	assert.Same(t, sess, retrieved)

	manager.Close(sess.ID)
	_, exists = manager.Get(sess.ID)
	assert.False(t, exists)
	assert.ErrorIs(t, sess.Do(func() error { return nil }), ErrSessionClosed)
}

func TestManager_Accept_Ownership(t *testing.T) {
	manager := newTestManager(t, time.Minute, time.Hour)
	sess, err := manager.Open(KindStatsPager, "alice", "")
	require.NoError(t, err)

	_, err = manager.Accept(sess.ID, "bob")
	assert.ErrorIs(t, err, ErrNotOwner)

	got, err := manager.Accept(sess.ID, "alice")
	require.NoError(t, err)
	assert.Same(t, sess, got)

	_, err = manager.Accept("missing", "alice")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestManager_OneGameControlPerRound(t *testing.T) {
	manager := newTestManager(t, time.Minute, time.Hour)

	first, err := manager.Open(KindGameControl, "host", "r1")
	require.NoError(t, err)
	_, err = manager.Open(KindGameControl, "host", "r1")
	assert.ErrorIs(t, err, ErrSessionOpen)

	_, err = manager.Open(KindGameControl, "host", "r2")
	assert.NoError(t, err, "other rounds are independent")

	got, ok := manager.GameControl("r1")
	require.True(t, ok)
	assert.Same(t, first, got)

	manager.Close(first.ID)
	_, err = manager.Open(KindGameControl, "host", "r1")
	assert.NoError(t, err)
}

func TestManager_IdleExpiry(t *testing.T) {
	manager := newTestManager(t, 60*time.Millisecond, time.Hour)

	expired := make(chan *Session, 1)
	manager.OnExpire(func(s *Session) { expired <- s })

	sess, err := manager.Open(KindCarPicker, "alice", "")
	require.NoError(t, err)

	// keep it alive past its original deadline
	for i := 0; i < 4; i++ {
		time.Sleep(30 * time.Millisecond)
		require.NoError(t, sess.Do(func() error { manager.Touch(sess); return nil }))
	}

	select {
	case s := <-expired:
		assert.Same(t, sess, s)
	case <-time.After(time.Second):
		t.Fatal("session never expired")
	}
	assert.True(t, sess.Closed())
	assert.Zero(t, manager.Count())
}

func TestManager_GameControlExpiryIsAbsolute(t *testing.T) {
	manager := newTestManager(t, time.Hour, 60*time.Millisecond)

	var fired atomic.Bool
	manager.OnExpire(func(*Session) { fired.Store(true) })

	sess, err := manager.Open(KindGameControl, "host", "r1")
	require.NoError(t, err)
	manager.Touch(sess)

	assert.Eventually(t, fired.Load, time.Second, 5*time.Millisecond)
	_, open := manager.GameControl("r1")
	assert.False(t, open)
}

func TestSession_DoSerializes(t *testing.T) {
	manager := newTestManager(t, time.Minute, time.Hour)
	sess, err := manager.Open(KindGameControl, "host", "r1")
	require.NoError(t, err)

	var (
		wg      sync.WaitGroup
		inside  atomic.Int32
		overlap atomic.Bool
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sess.Do(func() error {
				if inside.Add(1) > 1 {
					overlap.Store(true)
				}
				time.Sleep(time.Millisecond)
				inside.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()
	assert.False(t, overlap.Load())
}
