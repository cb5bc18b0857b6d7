package node

import (
	"time"

	"github.com/marmos91/gofsp/pkg/engine/cache"
)

// Reference returns a borrowed view of slot's cached payload, or ok=false
// on a miss (never set, invalidated, or TTL-expired). Callers must call
// c.Release(h) exactly once via ReleaseSlot when done — see engine/cache's
// pin/release contract.
func (n *FileNode) ReferenceSlot(slot CacheSlot) (buf []byte, changeNumber uint64, ok bool) {
	s := &n.slots[slot]
	s.spin.Lock()
	h := s.handle
	cn := s.changeNumber
	s.spin.Unlock()

	if h == 0 {
		return nil, 0, false
	}
	buf, ok = n.cache.Reference(h)
	return buf, cn, ok
}

// ReleaseSlot releases the pin taken by a prior successful ReferenceSlot.
func (n *FileNode) ReleaseSlot(slot CacheSlot) {
	s := &n.slots[slot]
	s.spin.Lock()
	h := s.handle
	s.spin.Unlock()
	if h != 0 {
		n.cache.Release(h)
	}
}

// SetSlot unconditionally stores buf for slot, invalidating any prior
// handle, and bumps the slot's change number (§4.6). Returns the new
// change number.
func (n *FileNode) SetSlot(slot CacheSlot, buf []byte, ttl time.Duration) uint64 {
	s := &n.slots[slot]
	newHandle := n.cache.Add(buf, ttl)

	s.spin.Lock()
	old := s.handle
	s.handle = newHandle
	s.changeNumber++
	cn := s.changeNumber
	s.spin.Unlock()

	if old != 0 {
		n.cache.Invalidate(old)
	}
	return cn
}

// TrySetSlot stores buf for slot only if the node's current change number
// for that slot still equals expectedChangeNumber, implementing the
// optimistic concurrency described in §4.6: a long-running back-end call
// loses to a racing mutator that committed in between. Returns false (no
// change applied) on mismatch.
func (n *FileNode) TrySetSlot(slot CacheSlot, buf []byte, ttl time.Duration, expectedChangeNumber uint64) bool {
	s := &n.slots[slot]

	s.spin.Lock()
	if s.changeNumber != expectedChangeNumber {
		s.spin.Unlock()
		return false
	}
	old := s.handle
	newHandle := n.cache.Add(buf, ttl)
	s.handle = newHandle
	s.changeNumber++
	s.spin.Unlock()

	if old != 0 {
		n.cache.Invalidate(old)
	}
	return true
}

// InvalidateSlot drops the slot's cached payload. A concurrent Set may
// race this call; the spinlock around the handle field (§4.6) ensures
// whichever happens last wins cleanly rather than corrupting the handle.
func (n *FileNode) InvalidateSlot(slot CacheSlot) {
	s := &n.slots[slot]
	s.spin.Lock()
	h := s.handle
	s.handle = 0
	s.changeNumber++
	s.spin.Unlock()
	if h != 0 {
		n.cache.Invalidate(h)
	}
}

// ChangeNumber returns the slot's current change number without touching
// the cache, for a caller that wants to snapshot it before a long-running
// operation and later call TrySetSlot.
func (n *FileNode) ChangeNumber(slot CacheSlot) uint64 {
	s := &n.slots[slot]
	s.spin.Lock()
	defer s.spin.Unlock()
	return s.changeNumber
}

// --- File-info / basic-info (§4.6: expiration, not a cache.Handle) -------

// TryGetFileInfo returns the cached basic-info buffer iff the expiration
// has not passed; for a stream, the main file's expiration governs too
// (§4.6: "for a stream, additionally the main file's basic-info must not
// have expired").
func (n *FileNode) TryGetFileInfo() (buf []byte, changeNumber uint64, ok bool) {
	if n.IsStream() {
		if _, _, mainOK := n.MainFile.tryGetFileInfoLocal(); !mainOK {
			return nil, 0, false
		}
	}
	return n.tryGetFileInfoLocal()
}

func (n *FileNode) tryGetFileInfoLocal() ([]byte, uint64, bool) {
	n.fileInfo.mu.Lock()
	defer n.fileInfo.mu.Unlock()
	if n.fileInfo.buf == nil {
		return nil, 0, false
	}
	if !n.fileInfo.expiresAt.IsZero() && time.Now().After(n.fileInfo.expiresAt) {
		return nil, 0, false
	}
	return n.fileInfo.buf, n.fileInfo.changeNumber, true
}

// SetFileInfo stores buf with an absolute expiration of now+ttl (ttl==0
// disables expiration) and bumps the change number.
func (n *FileNode) SetFileInfo(buf []byte, ttl time.Duration) uint64 {
	n.fileInfo.mu.Lock()
	defer n.fileInfo.mu.Unlock()
	n.fileInfo.buf = append([]byte(nil), buf...)
	if ttl > 0 {
		n.fileInfo.expiresAt = time.Now().Add(ttl)
	} else {
		n.fileInfo.expiresAt = time.Time{}
	}
	n.fileInfo.changeNumber++
	return n.fileInfo.changeNumber
}

// InvalidateFileInfo forces the next TryGetFileInfo to miss.
func (n *FileNode) InvalidateFileInfo() {
	n.fileInfo.mu.Lock()
	defer n.fileInfo.mu.Unlock()
	n.fileInfo.buf = nil
	n.fileInfo.changeNumber++
}

// FileInfoChangeNumber snapshots the current basic-info change number.
func (n *FileNode) FileInfoChangeNumber() uint64 {
	n.fileInfo.mu.Lock()
	defer n.fileInfo.mu.Unlock()
	return n.fileInfo.changeNumber
}
