// Package pshared implements a process-shared, robust mutex that lives
// inside a shared-memory segment rather than in any one process's
// address space.
//
// Go has no pthread bindings without cgo, and nothing in this module's
// retrieval pack reaches for cgo to obtain a PTHREAD_PROCESS_SHARED /
// PTHREAD_MUTEX_ROBUST mutex. The reference implementation this module
// generalizes from (a sibling shared-memory map in the same pack)
// answers the question directly: its bucket lock is a sync/atomic
// compare-and-swap spin over an int32 living inside the mapped region —
// that works across processes because the atomic instruction operates
// on a real shared memory address, not on anything process-local the
// way a sync.Mutex's runtime semaphore table is. This package
// generalizes that spinlock to recognize a dead lock holder (the
// EOWNERDEAD case a POSIX robust mutex handles natively) by checking
// the recorded owner PID's liveness with a signal-0 kill(2), and
// forcibly recovering the lock when the owner is gone.
package pshared

import (
	"sync/atomic"
	"time"
	"unsafe"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// Size is the number of bytes a Mutex occupies in shared memory.
const Size = 16

const (
	offState      = 0
	offOwnerPID   = 4
	offGeneration = 8
)

// Mutex is a handle onto a Size-byte word inside a shared-memory
// segment. Every attaching process constructs its own Mutex value over
// the same bytes; none of them own the memory.
type Mutex struct {
	word   []byte
	logger *zap.Logger
}

// New wraps word (which must be at least Size bytes, and must be the
// same bytes in every process that constructs a Mutex over it) as a
// process-shared mutex. logger may be nil, in which case recovery
// events are not logged.
func New(word []byte, logger *zap.Logger) *Mutex {
	if len(word) < Size {
		panic("pshared: word shorter than Size")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mutex{word: word[:Size], logger: logger}
}

// Init resets the mutex to the unlocked state. Must only be called by
// the process that created the underlying segment — subsequent
// attachers must not reinitialize a mutex another process may already
// be holding.
func (m *Mutex) Init() {
	atomic.StoreInt32(m.state(), 0)
	atomic.StoreInt32(m.owner(), 0)
	atomic.StoreInt32(m.generation(), 0)
}

func (m *Mutex) state() *int32      { return (*int32)(unsafe.Pointer(&m.word[offState])) }
func (m *Mutex) owner() *int32      { return (*int32)(unsafe.Pointer(&m.word[offOwnerPID])) }
func (m *Mutex) generation() *int32 { return (*int32)(unsafe.Pointer(&m.word[offGeneration])) }

// Lock acquires the mutex, blocking (with exponential backoff) until
// it does. If the previous holder's process has died while holding
// the lock, Lock detects this via the recorded owner PID's liveness,
// marks the mutex consistent, and proceeds — the same recovery a
// POSIX robust mutex gives you on EOWNERDEAD, reached here without one.
func (m *Mutex) Lock() {
	selfPID := int32(unix.Getpid())
	backoff := time.Microsecond

	for {
		if atomic.CompareAndSwapInt32(m.state(), 0, 1) {
			atomic.StoreInt32(m.owner(), selfPID)
			return
		}

		if m.tryRecoverFromDeadOwner() {
			continue
		}

		time.Sleep(backoff)
		if backoff < time.Millisecond {
			backoff *= 2
		}
	}
}

// tryRecoverFromDeadOwner checks whether the process currently
// recorded as the lock owner is still alive. If it is not, the mutex
// is forced back to unlocked and the generation counter is bumped so
// callers can tell a recovery happened; it reports whether recovery
// was attempted, meaning the caller should retry the CAS immediately.
func (m *Mutex) tryRecoverFromDeadOwner() bool {
	ownerPID := atomic.LoadInt32(m.owner())
	if ownerPID == 0 || processAlive(ownerPID) {
		return false
	}

	if !atomic.CompareAndSwapInt32(m.owner(), ownerPID, 0) {
		// Someone else is already recovering this mutex.
		return true
	}

	atomic.StoreInt32(m.state(), 0)
	atomic.AddInt32(m.generation(), 1)
	m.logger.Warn("pshared: recovered mutex abandoned by dead owner",
		zap.Int32("owner_pid", ownerPID))

	return true
}

// Unlock releases the mutex. Unlock is not robust against being
// called by a non-owner — callers are expected to pair every Lock
// with exactly one Unlock, as with any mutex.
func (m *Mutex) Unlock() {
	atomic.StoreInt32(m.owner(), 0)
	atomic.AddInt32(m.generation(), 1)
	atomic.StoreInt32(m.state(), 0)
}

func processAlive(pid int32) bool {
	err := unix.Kill(int(pid), 0)
	return err == nil || err == unix.EPERM
}
