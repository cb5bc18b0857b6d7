// Package share implements share-access checking and accounting (C4,
// §4.4): the Windows IoSetShareAccess/IoCheckShareAccess reconciliation
// between granted access and declared share mode, augmented with the
// cross-stream deny-delete rules between a main file and its alternate
// data streams. The conflict shape is grounded on
// pkg/metadata/lock.UnifiedLock's AccessMode (deny-read/write/all), here
// widened to the full Windows three-bit share mode the base spec
// requires.
package share

import (
	"github.com/marmos91/gofsp/pkg/engine/errs"
	"github.com/marmos91/gofsp/pkg/engine/node"
)

// Access is the subset of FILE_*_DATA/FILE_EXECUTE/DELETE access bits the
// check cares about (§4.4 step 2/3's enumerated set).
type Access struct {
	Delete     bool
	ReadData   bool
	WriteData  bool
	AppendData bool
	Execute    bool
}

// anyDataAccess reports whether any of {execute, read-data, write-data,
// append-data, delete} was requested — the exact set §4.4 steps 2-4 test.
func (a Access) anyDataAccess() bool {
	return a.Execute || a.ReadData || a.WriteData || a.AppendData || a.Delete
}

// ShareMode is the three-bit FILE_SHARE_* mode declared by the opener.
type ShareMode struct {
	Read   bool
	Write  bool
	Delete bool
}

// Request bundles what an OPEN needs to check and, on success, record.
type Request struct {
	Access     Access
	Share      ShareMode
	FoundExisting bool // true if the node pre-existed (not just inserted)
	WritableMM bool    // MmDoesFileHaveUserWritableReferences-equivalent (§4.4 step 4)
}

// Check performs the full OPEN-time check of §4.4 against target (a main
// file or a stream). For a stream, mainFile must be target.MainOf(); for a
// main file they are the same node. Both must already be locked Main by
// the caller (the two-level lock is engine/lock's job, not this
// package's).
func Check(target *node.FileNode, req Request) error {
	// Step 5 (checked first since it short-circuits everything else):
	// delete-pending on target or its main file.
	if target.DeletePending() {
		return errs.NewDeletePending(target.Name)
	}
	main := target.MainOf()
	if main != target && main.DeletePending() {
		return errs.NewDeletePending(target.Name)
	}

	// Step 1: standard Windows share-access check against target's own
	// ShareAccess tuple.
	if err := checkStandardShareAccess(target, req); err != nil {
		return err
	}

	// Step 2: opening a stream when the main file denies delete.
	if target.IsStream() {
		if main.MainFileDenyDeleteCount() > 0 && !req.Share.Delete && req.Access.anyDataAccess() {
			return errs.NewSharingViolation(target.Name, errs.ReasonMainFile)
		}
	} else {
		// Step 3: opening the main file when a stream denies delete.
		if main.StreamDenyDeleteCount() > 0 && req.Access.Delete {
			return errs.NewSharingViolation(target.Name, errs.ReasonStream)
		}
	}

	// Step 4: outstanding writable mapped-section views on a pre-existing
	// node.
	if req.FoundExisting && req.WritableMM && !req.Share.Write && req.Access.anyDataAccess() {
		return errs.NewSharingViolation(target.Name, errs.ReasonWritableMM)
	}

	return nil
}

// checkStandardShareAccess implements the classic NT IoCheckShareAccess
// algorithm: deny if anyone with this access type is already denied by an
// existing share restriction, or vice versa.
func checkStandardShareAccess(target *node.FileNode, req Request) error {
	var violated bool
	target.WithShareAccess(func(s *node.ShareAccess) {
		if s.OpenCount == 0 {
			return // nobody has it open; nothing to conflict with
		}
		if req.Access.ReadData && s.SharedRead == 0 {
			violated = true
			return
		}
		if (req.Access.WriteData || req.Access.AppendData) && s.SharedWrite == 0 {
			violated = true
			return
		}
		if req.Access.Delete && s.SharedDelete == 0 {
			violated = true
			return
		}
		if !req.Share.Read && s.ReadCount > 0 {
			violated = true
			return
		}
		if !req.Share.Write && s.WriteCount > 0 {
			violated = true
			return
		}
		if !req.Share.Delete && s.DeleteCount > 0 {
			violated = true
			return
		}
	})
	if violated {
		return errs.NewSharingViolation(target.Name, errs.ReasonShareMode)
	}
	return nil
}

// Grant updates target's ShareAccess tuple after a successful Check and
// bumps Active/Open/Handle plus the cross-stream deny-delete counters
// (§4.4 "On successful OPEN"). The caller still owns incrementing the
// per-volume active list on Active 0→1; that list is owned by
// engine/volume, which this package does not know about.
func Grant(target *node.FileNode, req Request) {
	target.WithShareAccess(func(s *node.ShareAccess) {
		s.OpenCount++
		if req.Access.ReadData {
			s.ReadCount++
		}
		if req.Access.WriteData || req.Access.AppendData {
			s.WriteCount++
		}
		if req.Access.Delete {
			s.DeleteCount++
		}
		if req.Share.Read {
			s.SharedRead++
		}
		if req.Share.Write {
			s.SharedWrite++
		}
		if req.Share.Delete {
			s.SharedDelete++
		}
	})

	if !req.Access.Delete {
		return
	}
	main := target.MainOf()
	if target.IsStream() {
		if !req.Share.Delete {
			main.IncrementStreamDenyDelete()
		}
	} else {
		main.IncrementMainFileDenyDelete()
	}
}

// Release reverses Grant's accounting on CLEANUP/CLOSE (§4.4 "mirror
// those decrements").
func Release(target *node.FileNode, req Request) {
	target.WithShareAccess(func(s *node.ShareAccess) {
		if s.OpenCount > 0 {
			s.OpenCount--
		}
		if req.Access.ReadData && s.ReadCount > 0 {
			s.ReadCount--
		}
		if (req.Access.WriteData || req.Access.AppendData) && s.WriteCount > 0 {
			s.WriteCount--
		}
		if req.Access.Delete && s.DeleteCount > 0 {
			s.DeleteCount--
		}
		if req.Share.Read && s.SharedRead > 0 {
			s.SharedRead--
		}
		if req.Share.Write && s.SharedWrite > 0 {
			s.SharedWrite--
		}
		if req.Share.Delete && s.SharedDelete > 0 {
			s.SharedDelete--
		}
	})

	if !req.Access.Delete {
		return
	}
	main := target.MainOf()
	if target.IsStream() {
		if !req.Share.Delete {
			main.DecrementStreamDenyDelete()
		}
	} else {
		main.DecrementMainFileDenyDelete()
	}
}
