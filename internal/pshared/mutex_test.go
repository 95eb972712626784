package pshared

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestLockUnlockRoundTrip(t *testing.T) {
	word := make([]byte, Size)
	m := New(word, nil)
	m.Init()

	m.Lock()
	require.EqualValues(t, 1, atomic.LoadInt32(m.state()))
	require.EqualValues(t, unix.Getpid(), atomic.LoadInt32(m.owner()))
	m.Unlock()
	require.EqualValues(t, 0, atomic.LoadInt32(m.state()))
	require.EqualValues(t, 0, atomic.LoadInt32(m.owner()))
}

func TestLockExcludesConcurrentAccess(t *testing.T) {
	word := make([]byte, Size)
	m := New(word, nil)
	m.Init()

	var counter int
	var wg sync.WaitGroup
	const goroutines = 16
	const perGoroutine = 200

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				m.Lock()
				counter++
				m.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, goroutines*perGoroutine, counter)
}

func TestNewPanicsOnShortWord(t *testing.T) {
	require.Panics(t, func() {
		New(make([]byte, Size-1), nil)
	})
}

func TestRecoversFromDeadOwner(t *testing.T) {
	word := make([]byte, Size)
	m := New(word, nil)
	m.Init()

	// Simulate a process that locked the mutex and died without
	// unlocking: force the state to locked and the owner to a PID that
	// cannot possibly be alive.
	const deadPID = 1 << 30
	atomic.StoreInt32(m.state(), 1)
	atomic.StoreInt32(m.owner(), deadPID)

	recovered := m.tryRecoverFromDeadOwner()
	require.True(t, recovered)
	require.EqualValues(t, 0, atomic.LoadInt32(m.state()))
	require.EqualValues(t, 0, atomic.LoadInt32(m.owner()))

	// The lock must now be acquirable.
	m.Lock()
	m.Unlock()
}

func TestProcessAliveForSelf(t *testing.T) {
	require.True(t, processAlive(int32(unix.Getpid())))
}
