package node

import (
	"context"
	"sync"

	"github.com/marmos91/gofsp/pkg/engine/errs"
)

// RangeLock is one classic POSIX/Windows advisory byte-range lock (§3.1).
// The overlap/conflict shape mirrors pkg/metadata/lock.UnifiedLock, reduced
// to what a single FileNode's byte-range table needs — cross-protocol
// owner identity lives one layer up, at the transport adapter, not here.
type RangeLock struct {
	Owner     string // opaque, compared for equality only (cf. LockOwner.OwnerID)
	Offset    uint64
	Length    uint64 // 0 means "to end of file"
	Exclusive bool
}

func (l *RangeLock) end() uint64 {
	if l.Length == 0 {
		return ^uint64(0)
	}
	return l.Offset + l.Length
}

func rangesOverlap(a, b *RangeLock) bool {
	return a.end() > b.Offset && b.end() > a.Offset
}

func conflicts(existing, requested *RangeLock) bool {
	if existing.Owner == requested.Owner {
		return false
	}
	if !rangesOverlap(existing, requested) {
		return false
	}
	return existing.Exclusive || requested.Exclusive
}

// waiter is a goroutine parked in LockRange waiting for a conflicting
// range to clear, woken by UnlockRange/closed by cancellation (§5).
type waiter struct {
	lock   *RangeLock
	done   chan struct{}
	result error
}

// LockTable holds every outstanding and waiting byte-range lock for one
// FileNode (main file; streams do not carry their own byte-range state in
// this engine, matching Windows' per-stream-handle but per-main-file-range
// semantics for simplicity — see DESIGN.md).
type LockTable struct {
	mu      sync.Mutex
	locks   []*RangeLock
	waiters []*waiter
}

func newLockTable() *LockTable {
	return &LockTable{}
}

// Lock attempts to acquire a byte-range lock. If blocking is true and a
// conflict exists, Lock parks until the conflict clears or ctx is
// canceled (§5 "byte-range locks may block indefinitely", "a request may
// be canceled at any suspension point"). If blocking is false, a conflict
// immediately returns errs.CantWait.
func (t *LockTable) Lock(ctx context.Context, l *RangeLock, blocking bool) error {
	for {
		t.mu.Lock()
		if !t.hasConflictLocked(l) {
			t.locks = append(t.locks, l)
			t.mu.Unlock()
			return nil
		}
		if !blocking {
			t.mu.Unlock()
			return errs.NewCantWait()
		}
		w := &waiter{lock: l, done: make(chan struct{})}
		t.waiters = append(t.waiters, w)
		t.mu.Unlock()

		select {
		case <-w.done:
			if w.result != nil {
				return w.result
			}
			// Woken because a lock cleared; loop to re-check and claim.
		case <-ctx.Done():
			t.removeWaiter(w)
			return errs.NewCanceled()
		}
	}
}

func (t *LockTable) hasConflictLocked(l *RangeLock) bool {
	for _, existing := range t.locks {
		if conflicts(existing, l) {
			return true
		}
	}
	return false
}

func (t *LockTable) removeWaiter(target *waiter) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, w := range t.waiters {
		if w == target {
			t.waiters = append(t.waiters[:i], t.waiters[i+1:]...)
			return
		}
	}
}

// Unlock releases a previously acquired lock matching owner/offset/length
// exactly, and wakes any waiter whose requested range no longer conflicts
// with what remains.
func (t *LockTable) Unlock(owner string, offset, length uint64) bool {
	t.mu.Lock()
	removed := false
	for i, l := range t.locks {
		if l.Owner == owner && l.Offset == offset && l.Length == length {
			t.locks = append(t.locks[:i], t.locks[i+1:]...)
			removed = true
			break
		}
	}
	if !removed {
		t.mu.Unlock()
		return false
	}
	t.wakeClearedLocked()
	t.mu.Unlock()
	return true
}

// UnlockAll drops every lock held by owner, e.g. on CLOSE (§4.10/§6.1
// implicitly: the lock table has no surviving reference to a closed
// handle's owner). Returns the count removed.
func (t *LockTable) UnlockAll(owner string) int {
	t.mu.Lock()
	defer func() { t.wakeClearedLocked(); t.mu.Unlock() }()
	n := 0
	kept := t.locks[:0]
	for _, l := range t.locks {
		if l.Owner == owner {
			n++
			continue
		}
		kept = append(kept, l)
	}
	t.locks = kept
	return n
}

func (t *LockTable) wakeClearedLocked() {
	remaining := t.waiters[:0]
	for _, w := range t.waiters {
		if t.hasConflictLocked(w.lock) {
			remaining = append(remaining, w)
			continue
		}
		close(w.done)
	}
	t.waiters = remaining
}

// Locks returns a snapshot of currently held ranges, for diagnostics/tests.
func (t *LockTable) Locks() []RangeLock {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]RangeLock, len(t.locks))
	for i, l := range t.locks {
		out[i] = *l
	}
	return out
}
