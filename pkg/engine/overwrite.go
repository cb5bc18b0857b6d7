package engine

import (
	"github.com/marmos91/gofsp/internal/logger"
	"github.com/marmos91/gofsp/pkg/engine/descend"
	"github.com/marmos91/gofsp/pkg/engine/node"
)

// teardownStreamsOnOverwrite implements §4.8: when a create disposition of
// overwrite/supersede targets a main file with open stream descendants,
// every stream is marked DeletePending while the name-table lock is held
// (via descend.Enumerate, which scans under that lock), then released —
// the streams tear down through their own CLEANUP/CLOSE paths, not here.
func (v *Volume) teardownStreamsOnOverwrite(mainFile *node.FileNode) {
	if mainFile.IsStream() {
		return // only main files carry streams
	}
	hits := descend.Enumerate(v.Table, mainFile.Name, true)
	defer descend.Release(hits)

	for _, h := range hits {
		if !h.Node.IsStream() {
			continue // a true subdirectory entry sharing the name prefix, not a stream
		}
		h.Node.SetDeletePending()
		logger.Debug("engine: overwrite marked stream delete-pending", "main", mainFile.Name, "stream", h.Node.Name)
	}
}
