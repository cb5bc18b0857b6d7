// Package notify implements change-notification dispatch (C7, §4.10):
// directory watchers subscribed with a filter mask, fed by filtered,
// batched events translated for stream vs. file semantics.
package notify

import (
	"strings"
	"sync"

	"github.com/marmos91/gofsp/internal/logger"
)

// Filter is the FILE_NOTIFY_CHANGE_* mask a watcher subscribes with.
type Filter uint32

const (
	FilterFileName Filter = 1 << iota
	FilterDirName
	FilterAttributes
	FilterSize
	FilterLastWrite
	FilterLastAccess
	FilterCreation
	FilterEA
	FilterSecurity
	FilterStreamName
	FilterStreamSize
	FilterStreamWrite
)

// Action is the FILE_ACTION_* code describing what happened.
type Action int

const (
	ActionAdded Action = iota
	ActionRemoved
	ActionModified
	ActionRenamedOldName
	ActionRenamedNewName
	ActionAddedStream
	ActionRemovedStream
	ActionModifiedStream
)

// streamTranslation implements §4.10 step 1: when the changed node is a
// stream, file-name/size/write filters and add/remove/modify actions
// translate to their stream-* counterparts.
var streamFilterTranslation = map[Filter]Filter{
	FilterFileName: FilterStreamName,
	FilterSize:     FilterStreamSize,
	FilterLastWrite: FilterStreamWrite,
}

var streamActionTranslation = map[Action]Action{
	ActionAdded:    ActionAddedStream,
	ActionRemoved:  ActionRemovedStream,
	ActionModified: ActionModifiedStream,
}

// Event is one change notification delivered to a Watcher.
type Event struct {
	// Path is the full path of the changed node.
	Path string
	// NameOffset is the byte offset into Path where the child's own name
	// begins (§4.10 step 2: "the suffix of the path that represents the
	// child name").
	NameOffset int
	Filter     Filter
	Action     Action
}

// Watcher is one subscription: a directory path, a filter mask, and a
// channel the dispatcher pushes matching events into. Events is buffered
// so a slow reader doesn't stall Publish; a full channel drops the oldest
// pending event and logs a warning rather than blocking the publisher,
// since notify delivery is inherently best-effort (a client that misses
// a notification falls back to a full re-enumeration, same as NTFS).
type Watcher struct {
	ID     string
	Dir    string
	Filter Filter
	Events chan Event
}

// Dispatcher fans change events out to subscribed watchers (C7). It is
// owned by a volume, one per volume, matching §9's "global process state...
// limited to... the set of notify subscriptions (per volume)".
type Dispatcher struct {
	mu       sync.Mutex
	watchers map[string][]*Watcher // dir path -> watchers
	nextID   int
}

func New() *Dispatcher {
	return &Dispatcher{watchers: make(map[string][]*Watcher)}
}

// Subscribe registers a watcher on dir with the given filter and returns
// it; the caller reads Watcher.Events until it calls Unsubscribe.
func (d *Dispatcher) Subscribe(dir string, filter Filter) *Watcher {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	w := &Watcher{ID: genID(d.nextID), Dir: dir, Filter: filter, Events: make(chan Event, 64)}
	d.watchers[dir] = append(d.watchers[dir], w)
	return w
}

func genID(n int) string {
	const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	if n == 0 {
		return "0"
	}
	var b []byte
	for n > 0 {
		b = append([]byte{alphabet[n%len(alphabet)]}, b...)
		n /= len(alphabet)
	}
	return string(b)
}

// Unsubscribe removes w and closes its Events channel.
func (d *Dispatcher) Unsubscribe(w *Watcher) {
	d.mu.Lock()
	defer d.mu.Unlock()
	list := d.watchers[w.Dir]
	for i, existing := range list {
		if existing == w {
			d.watchers[w.Dir] = append(list[:i], list[i+1:]...)
			close(w.Events)
			return
		}
	}
}

// Publish dispatches a change at path against every watcher subscribed on
// its parent directory, translating filter/action for a stream path
// (isStream) per §4.10 step 1, and computing the child-name offset per
// step 2.
func (d *Dispatcher) Publish(parentDir, path string, filter Filter, action Action, isStream bool) {
	if isStream {
		if translated, ok := streamFilterTranslation[filter]; ok {
			filter = translated
		}
		if translated, ok := streamActionTranslation[action]; ok {
			action = translated
		}
	}

	nameOffset := len(parentDir)
	if nameOffset < len(path) && (path[nameOffset] == '\\' || path[nameOffset] == ':') {
		nameOffset++
	}

	d.mu.Lock()
	watchers := append([]*Watcher(nil), d.watchers[parentDir]...)
	d.mu.Unlock()

	ev := Event{Path: path, NameOffset: nameOffset, Filter: filter, Action: action}
	for _, w := range watchers {
		if w.Filter&filter == 0 {
			continue
		}
		select {
		case w.Events <- ev:
		default:
			// Drop oldest, then push; best-effort delivery (see Watcher doc).
			select {
			case <-w.Events:
			default:
			}
			select {
			case w.Events <- ev:
			default:
				logger.Warn("notify: watcher channel still full after drop", "watcher", w.ID, "dir", w.Dir)
			}
		}
	}
}

// ParentOf returns the directory portion of path (everything before the
// last '\'), or "" if path has no separator.
func ParentOf(path string) string {
	idx := strings.LastIndexByte(path, '\\')
	if idx < 0 {
		return ""
	}
	return path[:idx]
}
