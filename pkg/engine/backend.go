package engine

import (
	"context"
	"time"

	"github.com/marmos91/gofsp/pkg/engine/share"
)

// Backend is the user-supplied vtable the engine calls into (§6.2). Every
// method must be re-entrant: the engine guarantees it never calls back
// into Backend while holding a node lock in a pattern that would deadlock
// a second concurrent call on the same node, but Backend implementations
// still run on whatever goroutine the engine dispatched, concurrently
// with other calls for other nodes.
//
// Backend intentionally says nothing about storage, wire encoding, or
// transport — per §1's non-goals, those are out of scope for the engine
// and belong to whatever concrete back-end (e.g. this repository's
// content/metadata stores) a Volume is constructed with.
type Backend interface {
	GetVolumeInfo(ctx context.Context) (VolumeInfo, error)
	GetSecurityByName(ctx context.Context, name string) ([]byte, error)

	Create(ctx context.Context, name string, params CreateParams) (FileInfo, error)
	Open(ctx context.Context, name string, params OpenParams) (FileInfo, error)
	Overwrite(ctx context.Context, name string, attributes uint32, replaceAttributes bool) (FileInfo, error)
	Cleanup(ctx context.Context, name string, flags CleanupFlags) error
	Close(ctx context.Context, name string) error

	GetFileInfo(ctx context.Context, name string) (FileInfo, error)
	SetBasicInfo(ctx context.Context, name string, info BasicInfo) error
	SetAllocationSize(ctx context.Context, name string, size int64) error
	SetFileSize(ctx context.Context, name string, size int64) error
	CanDelete(ctx context.Context, name string) error
	Rename(ctx context.Context, oldName, newName string, replaceIfExists bool) error

	Read(ctx context.Context, name string, offset int64, buf []byte) (int, error)
	Write(ctx context.Context, name string, offset int64, buf []byte, writeToEOF bool) (int, error)
	Flush(ctx context.Context, name string) error

	ReadDirectory(ctx context.Context, name, pattern, marker string) ([]DirEntry, error)
	ReadEA(ctx context.Context, name string) ([]byte, error)
	WriteEA(ctx context.Context, name string, ea []byte) error

	GetReparsePoint(ctx context.Context, name string) ([]byte, error)
	SetReparsePoint(ctx context.Context, name string, data []byte) error
	DeleteReparsePoint(ctx context.Context, name string) error

	GetStreamInfo(ctx context.Context, name string) ([]byte, error)
	ResolveReparsePoints(ctx context.Context, name string) (string, error)
}

// VolumeInfo is the subset of FSCTL_QUERY_VOLUME_INFO this engine exposes.
type VolumeInfo struct {
	TotalSize, FreeSize uint64
	VolumeLabel         string
}

// CreateParams carries the CREATE request's typed parameters (§6.1).
type CreateParams struct {
	DesiredAccess      share.Access
	ShareMode          share.ShareMode
	Disposition        Disposition
	FileAttributes     uint32
	SecurityDescriptor []byte
	AllocationSize     int64
	EA                 []byte
}

// OpenParams is CreateParams minus disposition/allocation, for an OPEN of
// an already-existing file.
type OpenParams struct {
	DesiredAccess share.Access
	ShareMode     share.ShareMode
}

// Disposition mirrors NtCreateFile's CreateDisposition values relevant to
// §4.8 (overwrite/supersede) and ordinary open/create.
type Disposition int

const (
	DispositionOpen Disposition = iota
	DispositionCreate
	DispositionOpenIf
	DispositionOverwrite
	DispositionOverwriteIf
	DispositionSupersede
)

// IsOverwrite reports whether this disposition triggers §4.8's
// stream-teardown path.
func (d Disposition) IsOverwrite() bool {
	return d == DispositionOverwrite || d == DispositionOverwriteIf || d == DispositionSupersede
}

// CleanupFlags carries the per-CLEANUP intent (§6.1 CLEANUP params).
type CleanupFlags struct {
	DeleteOnClose      bool
	PosixDelete        bool
	PosixDeleteThisHandle bool
}

// FileInfo is the basic-info payload cached in node.SlotFileInfo.
type FileInfo struct {
	FileAttributes uint32
	CreationTime   time.Time
	LastAccessTime time.Time
	LastWriteTime  time.Time
	ChangeTime     time.Time
	AllocationSize int64
	FileSize       int64
	IsDirectory    bool
}

// BasicInfo is the subset of FileInfo SET_INFO(FileBasicInformation) may
// update; zero fields mean "leave unchanged" (NT's -1/0 convention).
type BasicInfo struct {
	FileAttributes                                uint32
	CreationTime, LastAccessTime, LastWriteTime, ChangeTime time.Time
}

// DirEntry is one row of a QUERY_DIRECTORY response.
type DirEntry struct {
	Name string
	Info FileInfo
}
