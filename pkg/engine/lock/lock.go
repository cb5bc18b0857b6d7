// Package lock implements the engine's two-level reader/writer locking
// protocol (C3, §4.3): a "main" resource guarding metadata/name/attributes
// and a "paging-I/O" resource guarding file data below caching, acquired
// Main-before-Pgio and released in reverse order.
//
// The lock-order and re-entrancy rules are enforced against an explicit
// RequestContext rather than thread-local state, per the base spec's §9
// design note ("a rewrite should carry this as an explicit parameter
// threaded through all engine calls, not as thread-local state"). Foreign
// ownership transfer (§4.3 SetOwner, §9 "typed capability token") is
// modeled as OwnerTag, a UUID minted with google/uuid the same way
// pkg/metadata/lock.NewUnifiedLock mints lock IDs.
package lock

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/marmos91/gofsp/internal/logger"
)

// Flags names which of the two per-node resources a request holds or wants.
// Full requests both, Main acquired before Pgio per the lock-order rule.
type Flags uint8

const (
	Main Flags = 1 << iota
	Pgio
	Full = Main | Pgio
)

func (f Flags) String() string {
	switch f {
	case 0:
		return "none"
	case Main:
		return "main"
	case Pgio:
		return "pgio"
	case Full:
		return "full"
	default:
		return fmt.Sprintf("flags(%d)", uint8(f))
	}
}

// OwnerTag identifies whoever currently holds an exclusive acquisition, so
// that a completion routine running on a different goroutine can release
// the lock by presenting the same tag (§4.3 SetOwner, §9 "foreign lock
// ownership"). The zero OwnerTag never matches a live acquisition.
type OwnerTag string

// NewOwnerTag mints a fresh tag, the way pkg/metadata/lock mints lock IDs.
func NewOwnerTag() OwnerTag {
	return OwnerTag(uuid.New().String())
}

// RequestContext is the explicit call-context threaded through engine calls
// in place of the source's thread-local "top-level IRP" pointer (§9). It
// carries the request's own owner tag plus the per-node bitmask of flags it
// currently holds, so double-acquisition by the same request is an
// assertion failure rather than a silent re-entrant deadlock or (on RWMutex)
// a silent upgrade.
type RequestContext struct {
	Tag OwnerTag

	mu   sync.Mutex
	held map[*Resource]Flags
}

// NewRequestContext creates a context for one inbound transport request.
func NewRequestContext() *RequestContext {
	return &RequestContext{Tag: NewOwnerTag(), held: make(map[*Resource]Flags)}
}

func (rc *RequestContext) heldFlags(r *Resource) Flags {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.held[r]
}

func (rc *RequestContext) markHeld(r *Resource, f Flags) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.held[r] |= f
}

func (rc *RequestContext) clearHeld(r *Resource, f Flags) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.held[r] &^= f
}

// Resource is a single reader/writer lock with owner-tag bookkeeping for
// SetOwner-style transfer. It never exposes sync.RWMutex directly because
// Acquire/Release must update the owner-tag and held-flags bookkeeping
// atomically with the mutex operation.
type Resource struct {
	rw    sync.RWMutex
	mu    sync.Mutex // guards the fields below
	owner OwnerTag   // set while held exclusively
	excl  bool
	readers int
}

func (r *Resource) lockExclusive(tag OwnerTag) {
	r.rw.Lock()
	r.mu.Lock()
	r.excl = true
	r.owner = tag
	r.mu.Unlock()
}

func (r *Resource) tryLockExclusive(tag OwnerTag) bool {
	if !r.rw.TryLock() {
		return false
	}
	r.mu.Lock()
	r.excl = true
	r.owner = tag
	r.mu.Unlock()
	return true
}

func (r *Resource) unlockExclusive() {
	r.mu.Lock()
	r.excl = false
	r.owner = ""
	r.mu.Unlock()
	r.rw.Unlock()
}

func (r *Resource) lockShared() {
	r.rw.RLock()
	r.mu.Lock()
	r.readers++
	r.mu.Unlock()
}

func (r *Resource) tryLockShared() bool {
	if !r.rw.TryRLock() {
		return false
	}
	r.mu.Lock()
	r.readers++
	r.mu.Unlock()
	return true
}

func (r *Resource) unlockShared() {
	r.mu.Lock()
	r.readers--
	r.mu.Unlock()
	r.rw.RUnlock()
}

// SetOwner reassigns the tag recorded against an exclusively held resource,
// implementing §4.3's SetOwner: an asynchronous completion running on a
// different goroutine than the one that originally acquired the lock may
// now present newTag to Release it.
func (r *Resource) SetOwner(newTag OwnerTag) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.owner = newTag
}

// TwoLevel is the per-node lock matrix (§4.3): Main before Pgio, Full takes
// both. Streams redirect to their main file's TwoLevel before calling any
// of these methods — that redirection is the caller's responsibility
// (engine/node), not this package's, since TwoLevel has no notion of
// identity.
type TwoLevel struct {
	Main Resource
	Pgio Resource
}

// Acquire blocks until flags are held exclusively (or shared, if shared is
// true) on behalf of rc. Acquiring Full acquires Main then Pgio, the only
// permitted order. A double-acquire of a flag already held by rc is an
// assertion failure (programmer error, not a recoverable condition) since
// the base spec treats it as one (§4.3).
func (tl *TwoLevel) Acquire(rc *RequestContext, flags Flags, shared bool) {
	if flags&Main != 0 {
		tl.acquireOne(rc, &tl.Main, Main, shared)
	}
	if flags&Pgio != 0 {
		tl.acquireOne(rc, &tl.Pgio, Pgio, shared)
	}
}

func (tl *TwoLevel) acquireOne(rc *RequestContext, r *Resource, bit Flags, shared bool) {
	if rc.heldFlags(r)&bit != 0 {
		panic(fmt.Sprintf("engine/lock: request %s double-acquired %s", rc.Tag, bit))
	}
	if shared {
		r.lockShared()
	} else {
		r.lockExclusive(rc.Tag)
	}
	rc.markHeld(r, bit)
}

// TryAcquire attempts a non-blocking acquisition. On partial failure (Main
// succeeds, Pgio does not) it releases Main before returning false, per
// §4.3 "on failure the function releases any already-held lock in reverse
// order".
func (tl *TwoLevel) TryAcquire(rc *RequestContext, flags Flags, shared bool) bool {
	acquired := Flags(0)
	ok := true
	if flags&Main != 0 {
		if tl.tryAcquireOne(rc, &tl.Main, Main, shared) {
			acquired |= Main
		} else {
			ok = false
		}
	}
	if ok && flags&Pgio != 0 {
		if tl.tryAcquireOne(rc, &tl.Pgio, Pgio, shared) {
			acquired |= Pgio
		} else {
			ok = false
		}
	}
	if !ok {
		// Release whatever we grabbed, reverse order (Pgio before Main).
		if acquired&Pgio != 0 {
			tl.releaseOne(rc, &tl.Pgio, Pgio)
		}
		if acquired&Main != 0 {
			tl.releaseOne(rc, &tl.Main, Main)
		}
		return false
	}
	return true
}

func (tl *TwoLevel) tryAcquireOne(rc *RequestContext, r *Resource, bit Flags, shared bool) bool {
	if rc.heldFlags(r)&bit != 0 {
		panic(fmt.Sprintf("engine/lock: request %s double-acquired %s", rc.Tag, bit))
	}
	var ok bool
	if shared {
		ok = r.tryLockShared()
	} else {
		ok = r.tryLockExclusive(rc.Tag)
	}
	if ok {
		rc.markHeld(r, bit)
	}
	return ok
}

// Release drops flags held by rc, in Pgio-then-Main order regardless of the
// bits set in flags (reverse of acquisition order).
func (tl *TwoLevel) Release(rc *RequestContext, flags Flags) {
	if flags&Pgio != 0 {
		tl.releaseOne(rc, &tl.Pgio, Pgio)
	}
	if flags&Main != 0 {
		tl.releaseOne(rc, &tl.Main, Main)
	}
}

func (tl *TwoLevel) releaseOne(rc *RequestContext, r *Resource, bit Flags) {
	held := rc.heldFlags(r)
	if held&bit == 0 {
		logger.Warn("engine/lock: release of unheld flag", "flag", bit.String(), "request", string(rc.Tag))
		return
	}
	rc.clearHeld(r, bit)
	r.mu.Lock()
	wasExclusive := r.excl
	r.mu.Unlock()
	if wasExclusive {
		r.unlockExclusive()
	} else {
		r.unlockShared()
	}
}

// ReleaseAll releases every flag rc currently holds on this TwoLevel,
// Pgio-then-Main. Used on cancellation (§5) to unwind a partially acquired
// request.
func (tl *TwoLevel) ReleaseAll(rc *RequestContext) {
	if rc.heldFlags(&tl.Pgio) != 0 {
		tl.releaseOne(rc, &tl.Pgio, Pgio)
	}
	if rc.heldFlags(&tl.Main) != 0 {
		tl.releaseOne(rc, &tl.Main, Main)
	}
}

// ConvertExclusiveToShared downgrades the held flags without releasing
// them, per §4.3. Implemented as unlock-exclusive/lock-shared since Go's
// sync.RWMutex has no atomic downgrade primitive; a concurrent exclusive
// waiter may interleave, which is the same race the Windows primitive
// documents as acceptable for this call (callers that need atomicity hold
// a higher-level serialization, e.g. the rename lock of §4.7).
func (tl *TwoLevel) ConvertExclusiveToShared(rc *RequestContext, flags Flags) {
	if flags&Main != 0 {
		tl.convertOne(rc, &tl.Main, Main)
	}
	if flags&Pgio != 0 {
		tl.convertOne(rc, &tl.Pgio, Pgio)
	}
}

func (tl *TwoLevel) convertOne(rc *RequestContext, r *Resource, bit Flags) {
	if rc.heldFlags(r)&bit == 0 {
		panic(fmt.Sprintf("engine/lock: convert of unheld flag %s by request %s", bit, rc.Tag))
	}
	r.unlockExclusive()
	r.lockShared()
}

// SetOwner reassigns ownership of the exclusively held flags to newTag,
// so a completion on a different goroutine may call Release presenting
// newTag as its RequestContext.Tag. Used by asynchronous LOCK/OPLOCK
// completions (§4.3, §9).
func (tl *TwoLevel) SetOwner(flags Flags, newTag OwnerTag) {
	if flags&Main != 0 {
		tl.Main.SetOwner(newTag)
	}
	if flags&Pgio != 0 {
		tl.Pgio.SetOwner(newTag)
	}
}

// Transfer moves bookkeeping of flags from one RequestContext to another
// and retags the underlying resources, so the completion routine holding
// `to` can later call Release/ReleaseAll itself. This is the concrete
// capability-token handoff described in §9: `from` is typically the
// goroutine that issued an asynchronous LOCK or OPLOCK_REQUEST, and `to`
// belongs to the worker that completes it.
func (tl *TwoLevel) Transfer(flags Flags, from, to *RequestContext) {
	if flags&Main != 0 {
		tl.transferOne(&tl.Main, Main, from, to)
	}
	if flags&Pgio != 0 {
		tl.transferOne(&tl.Pgio, Pgio, from, to)
	}
}

func (tl *TwoLevel) transferOne(r *Resource, bit Flags, from, to *RequestContext) {
	if from.heldFlags(r)&bit == 0 {
		panic(fmt.Sprintf("engine/lock: transfer of unheld flag %s from request %s", bit, from.Tag))
	}
	from.clearHeld(r, bit)
	to.markHeld(r, bit)
	r.SetOwner(to.Tag)
}
