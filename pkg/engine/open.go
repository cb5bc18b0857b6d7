package engine

import (
	"context"
	"strings"

	"github.com/marmos91/gofsp/internal/logger"
	"github.com/marmos91/gofsp/pkg/engine/errs"
	enginelock "github.com/marmos91/gofsp/pkg/engine/lock"
	"github.com/marmos91/gofsp/pkg/engine/node"
	"github.com/marmos91/gofsp/pkg/engine/notify"
	"github.com/marmos91/gofsp/pkg/engine/share"
)

// Handle is what Create returns to the transport layer: the resolved
// node plus the RequestContext that owns whatever lock it is holding on
// return (none, in the steady state — Create releases the node's Main
// lock before returning, matching §5's "suspension points" list, which
// does not include "holds a lock across the reply").
type Handle struct {
	Node *node.FileNode
}

// splitStreamName splits a canonical name into its main-file portion and
// stream portion (possibly empty), honoring the `named_streams` volume
// parameter (§6.3): when disabled, ':' is not a delimiter.
func (v *Volume) splitStreamName(name string) (mainName, streamName string, isStream bool) {
	if !v.Config.NamedStreams {
		return name, "", false
	}
	idx := strings.IndexByte(name, ':')
	if idx < 0 {
		return name, "", false
	}
	return name[:idx], name[idx+1:], true
}

// Create implements CREATE (§6.1), combining the source's Create/Open
// split: disposition selects which Backend method is invoked, but both
// paths share identity resolution, share-access checking, and counter
// bookkeeping (§4.4).
func (v *Volume) Create(ctx context.Context, rc *enginelock.RequestContext, name string, params CreateParams) (*Handle, error) {
	v.renameMu.RLock()
	defer v.renameMu.RUnlock()

	mainName, _, isStream := v.splitStreamName(name)

	var mainNode *node.FileNode
	if isStream {
		existingMain, ok := v.lookupNode(mainName)
		if !ok {
			// The main file must already exist for a stream create; this
			// engine does not auto-vivify a main file identity a caller
			// never opened (see DESIGN.md).
			return nil, errs.NewNotFound(mainName)
		}
		mainNode = existingMain
	}

	newNode := node.NewStream(name, mainNode, v.Cache)
	if !isStream {
		newNode = node.New(name, v.Cache)
	}

	stored, inserted := v.Table.InsertIfAbsent(name, newNode)
	target := stored.(*node.FileNode)
	if !inserted {
		newNode = nil // the freshly allocated node was never published; let GC reclaim it
		target.Ref()
	}

	lockTarget := target.MainOf()
	lockTarget.Lock.Acquire(rc, enginelock.Main, false)
	committed := false
	defer func() {
		if !committed {
			lockTarget.Lock.Release(rc, enginelock.Main)
		}
	}()

	req := share.Request{
		Access:        params.DesiredAccess,
		Share:         params.ShareMode,
		FoundExisting: !inserted,
	}

	if err := share.Check(target, req); err != nil {
		v.rollbackFailedCreate(target, inserted)
		return nil, err
	}

	if params.Disposition == DispositionCreate && !inserted {
		v.rollbackFailedCreate(target, inserted)
		return nil, errs.NewExists(name)
	}

	var info FileInfo
	var err error
	switch {
	case !inserted && params.Disposition.IsOverwrite():
		info, err = v.Backend.Overwrite(ctx, name, params.FileAttributes, params.Disposition == DispositionSupersede)
		if err == nil {
			v.teardownStreamsOnOverwrite(target)
		}
	case !inserted:
		info, err = v.Backend.Open(ctx, name, OpenParams{DesiredAccess: params.DesiredAccess, ShareMode: params.ShareMode})
	default:
		info, err = v.Backend.Create(ctx, name, params)
	}
	if err != nil {
		v.rollbackFailedCreate(target, inserted)
		return nil, err
	}

	// Commit: every check above ran before this point, satisfying §7's
	// "post-commit failures are forbidden" invariant.
	committed = true

	share.Grant(target, req)
	target.SetFileInfo(encodeFileInfo(info), v.Config.FileInfoTimeout)
	target.AllocationSize.Store(v.Config.AllocationRoundedUp(info.AllocationSize))
	target.FileSize.Store(info.FileSize)

	// §6.2 GetSecurityByName: resolved once per CREATE/OPEN and cached
	// alongside the rest of this node's metadata (§4.6), rather than
	// fetched fresh on every QUERY_INFO(Security). A failure here doesn't
	// fail the create — security is advisory to this engine, which does
	// no access enforcement of its own (§1 non-goal).
	if sd, err := v.Backend.GetSecurityByName(ctx, name); err == nil {
		target.SetSlot(node.SlotSecurity, sd, v.Config.FileInfoTimeout)
	}

	if target.IncrementActive() == 1 {
		v.markActive(target)
	}
	target.IncrementOpen()
	target.IncrementHandle()

	lockTarget.Lock.Release(rc, enginelock.Main)

	v.invalidateAlongParentPath(name)
	action := notify.ActionModified
	if inserted {
		action = notify.ActionAdded
	}
	v.Notify.Publish(notify.ParentOf(mainName), name, notify.FilterFileName, action, isStream)

	logger.DebugCtx(ctx, "engine: create/open committed", "name", name, "inserted", inserted)
	return &Handle{Node: target}, nil
}

// rollbackFailedCreate undoes the speculative table insertion and
// reference bump of a CREATE that failed before committing, so a failed
// open never leaves a phantom node behind.
func (v *Volume) rollbackFailedCreate(target *node.FileNode, wasInserted bool) {
	if wasInserted {
		v.Table.DeleteIfEqual(target.Name, target)
	}
	target.Unref()
}

func encodeFileInfo(info FileInfo) []byte {
	// A real engine would encode this per the transport's wire format;
	// the core only needs a stable byte representation to round-trip
	// through node.SetFileInfo/TryGetFileInfo, so a simple fixed layout
	// suffices here.
	buf := make([]byte, 8*4+4+1)
	putInt64(buf[0:], info.CreationTime.UnixNano())
	putInt64(buf[8:], info.LastWriteTime.UnixNano())
	putInt64(buf[16:], info.AllocationSize)
	putInt64(buf[24:], info.FileSize)
	putUint32(buf[32:], info.FileAttributes)
	if info.IsDirectory {
		buf[36] = 1
	}
	return buf
}

func putInt64(b []byte, v int64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

func putUint32(b []byte, v uint32) {
	for i := 0; i < 4; i++ {
		b[i] = byte(v >> (8 * i))
	}
}
