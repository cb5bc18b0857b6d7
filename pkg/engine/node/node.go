// Package node implements the file node (C3, §3.1): the identity of one
// open file or alternate data stream, its reference/active/open/handle
// counters, its two-level lock, its cache slots, and its byte-range lock
// and oplock state.
//
// A stream node carries a back-reference to its main file (§3.1); lock
// acquisition and the cross-stream share-access counters redirect through
// that back-reference so Main/Pgio semantics are per-identity rather than
// per-stream (§4.3).
package node

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/gofsp/internal/logger"
	"github.com/marmos91/gofsp/pkg/engine/cache"
	enginelock "github.com/marmos91/gofsp/pkg/engine/lock"
)

// CacheSlot enumerates the metadata caches named in §4.6.
type CacheSlot int

const (
	SlotFileInfo CacheSlot = iota
	SlotSecurity
	SlotDirInfo
	SlotStreamInfo
	SlotEA
	slotCount
)

// ShareAccess is the Windows IoSetShareAccess/IoCheckShareAccess state
// tuple named in §3.1. engine/share owns the check/update algorithms;
// FileNode only stores the tuple.
type ShareAccess struct {
	OpenCount   int32
	ReadCount   int32
	WriteCount  int32
	DeleteCount int32

	SharedRead   int32
	SharedWrite  int32
	SharedDelete int32
}

// cacheSlotState is one of the four variable-size sidecar slots (§4.6):
// security, dir-info, stream-info, EA. file-info/basic-info use
// fileInfoState instead, since they carry an expiration rather than a
// cache.Handle.
type cacheSlotState struct {
	spin sync.Mutex // guards handle against a racing Invalidate, per §4.6
	handle cache.Handle
	changeNumber uint64
}

// FileNode is the identity of one open file or alternate data stream
// (§3.1). Exported counters are manipulated only through the methods
// below and engine/share, engine/lifecycle — never written directly by
// callers outside this module's sibling packages, to keep the invariants
// of §3.4 in one place.
type FileNode struct {
	Name     string
	MainFile *FileNode // nil if this node IS a main file

	cache *cache.Cache // shared per-volume metadata cache (C1)

	refCount atomic.Int32

	activeCount atomic.Int32
	openCount   atomic.Int32
	handleCount atomic.Int32

	shareMu sync.Mutex
	share   ShareAccess

	// DeletePending is monotonic: once true for a given FileNode instance
	// it is never cleared (§3.4, P5).
	deletePending atomic.Bool
	posixDelete   atomic.Bool

	// Cross-stream deny-delete counters (§4.4); meaningful only on a main
	// file, but present on every node for uniform access via MainOf().
	mainFileDenyDelete atomic.Int32
	streamDenyDelete   atomic.Int32

	// TruncateOnClose is the CREATE-time intent remembered for CLOSE
	// (§3.1, §4.7 "Create-with-supersede").
	TruncateOnClose atomic.Bool

	// MappingRefs models outstanding memory-mapped views (SPEC_FULL Part
	// C.2): FlushAndPurgeOnCleanup only applies once this reaches zero.
	MappingRefs atomic.Int32

	Lock enginelock.TwoLevel // only meaningful on a main file; see LockOwner()

	slots     [slotCount]cacheSlotState
	fileInfo  fileInfoState

	AllocationSize atomic.Int64
	FileSize       atomic.Int64

	Ranges *LockTable   // byte-range locks (§3.1)
	Oplock *OplockState // §4.9
}

// fileInfoState holds the basic-info/file-info cache named in §4.6: an
// absolute expiration rather than a cache.Handle, since basic info is a
// small fixed-size struct copied inline rather than stored in C1.
type fileInfoState struct {
	mu         sync.Mutex
	buf        []byte
	expiresAt  time.Time
	changeNumber uint64
}

// New creates a main-file node. mainFile is nil; use NewStream for an
// alternate data stream.
func New(name string, c *cache.Cache) *FileNode {
	n := &FileNode{Name: name, cache: c, Ranges: newLockTable(), Oplock: newOplockState()}
	n.refCount.Store(1)
	return n
}

// NewStream creates a stream node backed by mainFile. mainFile must be
// non-nil and itself a main file (MainFile == nil); the caller holds a
// reference to mainFile that the stream node adopts (no extra Ref call
// needed — see engine/lifecycle's CREATE path).
func NewStream(name string, mainFile *FileNode, c *cache.Cache) *FileNode {
	n := &FileNode{Name: name, MainFile: mainFile, cache: c, Ranges: newLockTable(), Oplock: newOplockState()}
	n.refCount.Store(1)
	return n
}

// IsStream reports whether this node is an alternate data stream.
func (n *FileNode) IsStream() bool { return n.MainFile != nil }

// MainOf returns the node whose identity this node's Main/Pgio locks and
// cross-stream counters belong to: itself for a main file, its MainFile
// for a stream (§4.3 "Acquisitions on a stream node transparently
// redirect to its main-file node").
func (n *FileNode) MainOf() *FileNode {
	if n.MainFile != nil {
		return n.MainFile
	}
	return n
}

// --- Reference counting (§3.1, P2) ---------------------------------------

// Ref increments the reference count and returns n for chaining.
func (n *FileNode) Ref() *FileNode {
	n.refCount.Add(1)
	return n
}

// Unref decrements the reference count. It reports true when this call
// dropped the last reference (the caller must then ensure the node was
// already unlinked from the name table — Unref itself does not touch the
// table, since not every owner of a reference knows the table).
func (n *FileNode) Unref() bool {
	v := n.refCount.Add(-1)
	if v < 0 {
		logger.Error("engine/node: refcount underflow", "name", n.Name)
	}
	return v == 0
}

// RefCount reports the current reference count, for diagnostics/tests.
func (n *FileNode) RefCount() int32 { return n.refCount.Load() }

// --- Active/Open/Handle counters (§3.1 invariant 0<=Handle<=Open<=Active) --

func (n *FileNode) IncrementActive() int32 { return n.activeCount.Add(1) }
func (n *FileNode) DecrementActive() int32 { return n.activeCount.Add(-1) }
func (n *FileNode) ActiveCount() int32     { return n.activeCount.Load() }

func (n *FileNode) IncrementOpen() int32 { return n.openCount.Add(1) }
func (n *FileNode) DecrementOpen() int32 { return n.openCount.Add(-1) }
func (n *FileNode) OpenCount() int32     { return n.openCount.Load() }

func (n *FileNode) IncrementHandle() int32 { return n.handleCount.Add(1) }
func (n *FileNode) DecrementHandle() int32 { return n.handleCount.Add(-1) }
func (n *FileNode) HandleCount() int32     { return n.handleCount.Load() }

// --- Delete-pending / posix-delete (monotonic, §3.4/P5) -------------------

// SetDeletePending sets the flag. It is idempotent and never clears it.
func (n *FileNode) SetDeletePending() { n.deletePending.Store(true) }
func (n *FileNode) DeletePending() bool { return n.deletePending.Load() }

func (n *FileNode) SetPosixDelete()  { n.posixDelete.Store(true) }
func (n *FileNode) PosixDelete() bool { return n.posixDelete.Load() }

// --- Cross-stream deny-delete counters (§4.4), kept on the main file ------

func (n *FileNode) IncrementMainFileDenyDelete() int32 { return n.mainFileDenyDelete.Add(1) }
func (n *FileNode) DecrementMainFileDenyDelete() int32 { return n.mainFileDenyDelete.Add(-1) }
func (n *FileNode) MainFileDenyDeleteCount() int32     { return n.mainFileDenyDelete.Load() }

func (n *FileNode) IncrementStreamDenyDelete() int32 { return n.streamDenyDelete.Add(1) }
func (n *FileNode) DecrementStreamDenyDelete() int32 { return n.streamDenyDelete.Add(-1) }
func (n *FileNode) StreamDenyDeleteCount() int32     { return n.streamDenyDelete.Load() }

// --- Share access (state storage only; checks live in engine/share) ------

// WithShareAccess runs fn with the share-access tuple locked for read or
// mutation. The lock is a plain mutex distinct from the Main/Pgio TwoLevel:
// §4.4's accounting is updated under a short critical section, not held
// across the user back-end call.
func (n *FileNode) WithShareAccess(fn func(*ShareAccess)) {
	n.shareMu.Lock()
	defer n.shareMu.Unlock()
	fn(&n.share)
}

// NodeName satisfies nametable.Entry.
func (n *FileNode) NodeName() string { return n.Name }
