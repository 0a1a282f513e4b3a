package memory

import (
	"fmt"
	"runtime"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	minLockBackoff = 10 * time.Microsecond
	maxLockBackoff = time.Millisecond

	// DefaultDeadlockTimeout is the cumulative backoff after which Lock
	// reports a presumed deadlock.
	DefaultDeadlockTimeout = 10 * time.Second
)

// Lock acquires the coherence lock of vfn.
//
// The uncontended path is a single TryLock. Under contention it keeps trying
// with a bounded exponential backoff. Whenever the cumulative backoff exceeds
// the deadlock timeout, it logs the calling site and the site that acquired
// the lock, then carries on trying. Lock never gives up.
func (s *MemorySlot) Lock(vfn uint64) {
	st := s.State(vfn)
	caller := callerPC()

	if !st.lock.TryLock() {
		s.lockSlow(st, vfn, caller)
	}

	st.holder.Store(caller)
}

func (s *MemorySlot) lockSlow(st *PageState, vfn uint64, caller uintptr) {
	timeout := s.deadlockTimeout
	if timeout <= 0 {
		timeout = DefaultDeadlockTimeout
	}

	backoff := minLockBackoff
	waited := time.Duration(0)

	for !st.lock.TryLock() {
		time.Sleep(backoff)
		waited += backoff

		if backoff < maxLockBackoff {
			backoff *= 2
			if backoff > maxLockBackoff {
				backoff = maxLockBackoff
			}
		}

		if waited >= timeout {
			gfn, smm := s.mapper.VFNToGFN(s, vfn)
			s.logger.WithFields(logrus.Fields{
				"caller": funcName(caller),
				"holder": funcName(st.holder.Load()),
				"gfn":    gfn,
				"smm":    smm,
				"vfn":    vfn,
				"waited": waited,
			}).Error("DEADLOCK on page lock")
			waited = 0
		}
	}
}

// TryLock acquires the coherence lock of vfn if it is free, and reports
// whether it did.
func (s *MemorySlot) TryLock(vfn uint64) bool {
	st := s.State(vfn)
	if !st.lock.TryLock() {
		return false
	}
	st.holder.Store(callerPC())
	return true
}

// Unlock releases the coherence lock of vfn.
func (s *MemorySlot) Unlock(vfn uint64) {
	st := s.State(vfn)
	st.holder.Store(0)
	st.lock.Unlock()
}

// Holder describes the call site currently holding the lock of vfn, or ""
// if it is free.
func (s *MemorySlot) Holder(vfn uint64) string {
	pc := s.State(vfn).holder.Load()
	if pc == 0 {
		return ""
	}
	return funcName(pc)
}

// callerPC returns the program counter of the function that called Lock or
// TryLock.
func callerPC() uintptr {
	var pcs [1]uintptr
	// skip runtime.Callers, callerPC and Lock or TryLock
	if runtime.Callers(3, pcs[:]) == 0 {
		return 0
	}
	return pcs[0]
}

func funcName(pc uintptr) string {
	if pc == 0 {
		return "unknown"
	}
	frame, _ := runtime.CallersFrames([]uintptr{pc}).Next()
	if frame.Function == "" {
		return fmt.Sprintf("%#x", pc)
	}
	return fmt.Sprintf("%s (%s:%d)", frame.Function, frame.File, frame.Line)
}
