// Package descend implements the descendant enumerator (C5, §4.5): a
// single, shared primitive used by rename, overwrite, oplock
// break-on-descendants, and notify fan-out to find every node beneath a
// target path.
//
// The source encodes per-hit "has-handles"/"batch-oplock"/"handle-oplock"
// bits in the low bits of the node pointer, legal there because node
// pointers are ≥8-byte aligned. §9's design note calls that out explicitly
// as something a rewrite should not imitate: "prefer a parallel array of
// tag enums to keep ownership checkable." This package does exactly that —
// Hit pairs a strong node reference with a separately computed Tags value,
// with no aliasing of the pointer bits.
package descend

import (
	"github.com/marmos91/gofsp/pkg/engine/nametable"
	"github.com/marmos91/gofsp/pkg/engine/node"
)

// Tags mirrors the low-bit flags the source packs into descendant
// pointers (§4.5 step 3).
type Tags uint8

const (
	HasHandles Tags = 1 << iota
	BatchOplockBreaking
	HandleOplockBreaking
)

// Hit is one descendant: a strong reference plus its computed tags.
type Hit struct {
	Node *node.FileNode
	Tags Tags
}

// Enumerate finds every strict descendant of target in tbl (§4.5 step 1:
// `len(name) > len(target)` and the next byte is `\`, or `:` when
// includeStreams), takes a strong reference to each (step 2 — Go's slice
// growth plays the role of the source's inline-array-then-dynamic-vector
// split; there is no fixed-size inline array to overflow, and Go's
// allocator is the must-succeed allocator §9 asks a rewrite to model),
// and computes its Tags (step 3, without pointer tagging). The table lock
// is held only for the duration of the scan itself and is released before
// Enumerate returns — no node lock is acquired while it is held, matching
// §4.5 step 4/§5's ordering rule.
func Enumerate(tbl *nametable.Table, target string, includeStreams bool) []Hit {
	var hits []Hit
	restart := nametable.RestartKey{}
	for {
		next := tbl.EnumerateDescendants(target, includeStreams, restart, func(name string, e nametable.Entry) bool {
			n, ok := e.(*node.FileNode)
			if !ok {
				return true
			}
			n.Ref()
			hits = append(hits, Hit{Node: n, Tags: tagsFor(n)})
			return true
		})
		if !next.IsSet() {
			break
		}
		restart = next
	}
	return hits
}

func tagsFor(n *node.FileNode) Tags {
	var t Tags
	if n.HandleCount() > 0 {
		t |= HasHandles
	}
	if n.Oplock != nil {
		if n.Oplock.IsBatch() && n.Oplock.IsBreaking() {
			t |= BatchOplockBreaking
		}
		if n.Oplock.IsHandle() && n.Oplock.IsBreaking() {
			t |= HandleOplockBreaking
		}
	}
	return t
}

// Release drops every Hit's reference, in reverse order (§4.5 step 5),
// returning the names of any nodes whose last reference this call dropped
// (callers that also own the name table may want to know, though in the
// normal rename/overwrite path the table already dropped its own
// reference earlier via Rekey/Delete).
func Release(hits []Hit) {
	for i := len(hits) - 1; i >= 0; i-- {
		hits[i].Node.Unref()
	}
}
