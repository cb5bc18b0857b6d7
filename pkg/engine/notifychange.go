package engine

import (
	"context"

	"github.com/marmos91/gofsp/internal/logger"
	"github.com/marmos91/gofsp/pkg/engine/node"
	"github.com/marmos91/gofsp/pkg/engine/notify"
)

// NotifyChangeByName implements §4.10's external entry point: a back-end
// reports that name changed out from under the engine (e.g. a change made
// through a side channel the engine didn't mediate). §4.10 describes this
// as the engine "flushes and purges its data cache" before dispatching:
// Backend.Flush runs first, then every cached metadata slot on a resident
// node is invalidated, then the notification is dispatched. A Flush
// failure is logged but does not block the purge or the dispatch — the
// cache invalidation is still correct even if the back-end couldn't sync
// its own buffers, and a caller reporting an out-of-band change has
// nothing further to retry here.
func (v *Volume) NotifyChangeByName(ctx context.Context, name string, filter notify.Filter, action notify.Action) {
	if err := v.Backend.Flush(ctx, name); err != nil {
		logger.WarnCtx(ctx, "engine: backend flush failed on notify", "name", name, "error", err)
	}

	isStream := false
	if n, ok := v.lookupNode(name); ok {
		isStream = n.IsStream()
		n.InvalidateSlot(node.SlotFileInfo)
		n.InvalidateSlot(node.SlotSecurity)
		n.InvalidateSlot(node.SlotDirInfo)
		n.InvalidateSlot(node.SlotStreamInfo)
		n.InvalidateSlot(node.SlotEA)
		n.InvalidateFileInfo()
	}
	v.invalidateAlongParentPath(name)
	v.Notify.Publish(notify.ParentOf(name), name, filter, action, isStream)
}
