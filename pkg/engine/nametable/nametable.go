// Package nametable implements the engine's name table (C2, §4.2): an
// ordered mapping from canonical path to *node.FileNode supporting
// point lookup, insert-if-absent, delete-by-key, and restartable prefix
// enumeration for descendant fan-out (C5).
//
// The table owns one strong reference to every node it holds (§3.2); it is
// the only lock that may be acquired while holding a node lock, never the
// reverse (§3.4, §5). A single table-level lock guards all mutation and
// enumeration, matching the base spec's "single table-level lock" design
// rather than a lock-free skip list — this module already pays for a
// per-node two-level lock (engine/lock) and a second contention point in
// the table is cheap relative to that.
package nametable

import (
	"sort"
	"strings"
	"sync"

	"github.com/marmos91/gofsp/internal/logger"
)

// Entry is the minimal contract the name table needs from a stored value.
// engine/node.FileNode implements it; keeping the table generic over an
// interface (rather than importing engine/node directly) avoids a
// nametable<->node import cycle, since FileNode needs to remove itself
// from its owning table on last dereference.
type Entry interface {
	// NodeName returns the node's canonical name, used only for assertions
	// in tests; the table itself indexes by the key supplied to its calls.
	NodeName() string
}

// Table is the ordered, case-policy-aware name table.
type Table struct {
	mu            sync.Mutex
	caseSensitive bool
	entries       map[string]Entry
	order         []string // kept sorted by comparison key; see insertSorted
}

// New creates an empty table. caseSensitive mirrors the per-volume
// `case_sensitive` parameter of §6.3.
func New(caseSensitive bool) *Table {
	return &Table{caseSensitive: caseSensitive, entries: make(map[string]Entry)}
}

func (t *Table) key(name string) string {
	if t.caseSensitive {
		return name
	}
	return strings.ToUpper(name)
}

// Lookup returns the node stored under name, if any.
func (t *Table) Lookup(name string) (Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[t.key(name)]
	return e, ok
}

// InsertIfAbsent inserts entry under name unless one is already present,
// returning the node actually stored (the new one, or the pre-existing
// one) and whether this call performed the insertion.
func (t *Table) InsertIfAbsent(name string, entry Entry) (Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := t.key(name)
	if existing, ok := t.entries[k]; ok {
		return existing, false
	}
	t.entries[k] = entry
	t.insertSortedLocked(k)
	logger.Debug("nametable: inserted", "name", name)
	return entry, true
}

// Delete removes name from the table if present, reporting whether it was.
func (t *Table) Delete(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.deleteLocked(t.key(name))
}

// DeleteIfEqual removes name only if the stored entry is identical to
// entry (by pointer-equality semantics of the Entry interface's underlying
// type); this guards against removing a node that was replaced by a racing
// insert between a caller's Lookup and Delete. Rename's collision-eviction
// step (§4.7 step 2) does not need this guard since it deliberately evicts
// whatever currently occupies the slot; ordinary removal paths (CLOSE,
// CLEANUP-delete) should prefer this to a bare Delete.
func (t *Table) DeleteIfEqual(name string, entry Entry) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := t.key(name)
	if t.entries[k] != entry {
		return false
	}
	return t.deleteLocked(k)
}

func (t *Table) deleteLocked(k string) bool {
	if _, ok := t.entries[k]; !ok {
		return false
	}
	delete(t.entries, k)
	idx := sort.SearchStrings(t.order, k)
	if idx < len(t.order) && t.order[idx] == k {
		t.order = append(t.order[:idx], t.order[idx+1:]...)
	}
	logger.Debug("nametable: removed", "key", k)
	return true
}

func (t *Table) insertSortedLocked(k string) {
	idx := sort.SearchStrings(t.order, k)
	t.order = append(t.order, "")
	copy(t.order[idx+1:], t.order[idx:])
	t.order[idx] = k
}

// Len reports the number of live entries.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// RestartKey is an opaque cursor for resuming a prefix enumeration that was
// interrupted at a restart point (§4.2: "enumerations release and
// re-acquire only at explicit restart points"). The zero value starts from
// the beginning of the prefix range.
type RestartKey struct {
	after string
	valid bool
}

// IsSet reports whether this RestartKey names a resume point (as opposed
// to the zero value, which starts enumeration from the beginning).
func (r RestartKey) IsSet() bool { return r.valid }

// EnumerateDescendants finds every node whose key is a strict descendant
// of prefix (§4.5 step 1): `len(name) > len(prefix)` and the next
// character after the prefix is a path or (if includeStreams) stream
// separator. It calls visit once per hit while holding the table lock, in
// ascending key order; visit must not call back into the table (it runs
// under t.mu). Returning false from visit stops enumeration early and
// yields a RestartKey usable to resume after the last-visited entry — the
// one exception to "never hold the table lock across a suspension point":
// callers that need to take node locks per descendant must collect strong
// references first (see engine/descend) and release the table lock before
// doing so.
func (t *Table) EnumerateDescendants(prefix string, includeStreams bool, from RestartKey, visit func(name string, entry Entry) bool) RestartKey {
	t.mu.Lock()
	defer t.mu.Unlock()

	p := t.key(prefix)
	// Search from p itself, not p+"\\": a stream key like "p:stream" sorts
	// before "p\\" (':' < '\\'), so anchoring the search on "p\\" would
	// skip straight past every stream descendant.
	start := sort.SearchStrings(t.order, p)
	if from.valid {
		start = sort.SearchStrings(t.order, from.after)
		if start < len(t.order) && t.order[start] == from.after {
			start++
		}
	}

	for i := start; i < len(t.order); i++ {
		k := t.order[i]
		if !isDescendantKey(k, p, includeStreams) {
			if !strings.HasPrefix(k, p) {
				break // sorted order: once we pass the prefix range, stop
			}
			continue
		}
		entry := t.entries[k]
		if !visit(k, entry) {
			return RestartKey{after: k, valid: true}
		}
	}
	return RestartKey{}
}

func isDescendantKey(k, prefix string, includeStreams bool) bool {
	if len(k) <= len(prefix) || !strings.HasPrefix(k, prefix) {
		return false
	}
	sep := k[len(prefix)]
	if sep == '\\' {
		return true
	}
	if includeStreams && sep == ':' {
		return true
	}
	return false
}

// Rekey atomically renames oldName to newName, used by rename's per-
// descendant step (§4.7 step 2): delete, rewrite name, reinsert, evicting
// any collision first. Returns the evicted entry (nil if none) so the
// caller can drop its reference.
func (t *Table) Rekey(oldName, newName string, entry Entry) (evicted Entry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	oldKey := t.key(oldName)
	t.deleteLocked(oldKey)

	newKey := t.key(newName)
	if existing, ok := t.entries[newKey]; ok {
		evicted = existing
		t.deleteLocked(newKey)
	}
	t.entries[newKey] = entry
	t.insertSortedLocked(newKey)
	return evicted
}
