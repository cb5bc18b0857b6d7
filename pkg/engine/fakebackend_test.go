package engine

import (
	"context"
	"sync"
	"time"
)

// fakeBackend is a minimal in-memory Backend used to exercise the engine's
// lifecycle operations end to end without any real storage, the same role
// the teacher's in-memory test doubles play for its own service tests.
type fakeBackend struct {
	mu    sync.Mutex
	files map[string]FileInfo
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{files: make(map[string]FileInfo)}
}

func (b *fakeBackend) GetVolumeInfo(ctx context.Context) (VolumeInfo, error) {
	return VolumeInfo{TotalSize: 1 << 30, FreeSize: 1 << 29, VolumeLabel: "fake"}, nil
}

func (b *fakeBackend) GetSecurityByName(ctx context.Context, name string) ([]byte, error) {
	return nil, nil
}

func (b *fakeBackend) Create(ctx context.Context, name string, params CreateParams) (FileInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	info := FileInfo{CreationTime: time.Unix(0, 0), LastWriteTime: time.Unix(0, 0), FileAttributes: params.FileAttributes}
	b.files[name] = info
	return info, nil
}

func (b *fakeBackend) Open(ctx context.Context, name string, params OpenParams) (FileInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.files[name], nil
}

func (b *fakeBackend) Overwrite(ctx context.Context, name string, attributes uint32, replaceAttributes bool) (FileInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	info := FileInfo{FileAttributes: attributes, LastWriteTime: time.Unix(1, 0)}
	b.files[name] = info
	return info, nil
}

func (b *fakeBackend) Cleanup(ctx context.Context, name string, flags CleanupFlags) error { return nil }
func (b *fakeBackend) Close(ctx context.Context, name string) error                      { return nil }

func (b *fakeBackend) GetFileInfo(ctx context.Context, name string) (FileInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.files[name], nil
}

func (b *fakeBackend) SetBasicInfo(ctx context.Context, name string, info BasicInfo) error { return nil }
func (b *fakeBackend) SetAllocationSize(ctx context.Context, name string, size int64) error { return nil }
func (b *fakeBackend) SetFileSize(ctx context.Context, name string, size int64) error       { return nil }
func (b *fakeBackend) CanDelete(ctx context.Context, name string) error                     { return nil }

func (b *fakeBackend) Rename(ctx context.Context, oldName, newName string, replaceIfExists bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	info, ok := b.files[oldName]
	if ok {
		delete(b.files, oldName)
		b.files[newName] = info
	}
	return nil
}

func (b *fakeBackend) Read(ctx context.Context, name string, offset int64, buf []byte) (int, error) {
	return 0, nil
}
func (b *fakeBackend) Write(ctx context.Context, name string, offset int64, buf []byte, writeToEOF bool) (int, error) {
	return len(buf), nil
}
func (b *fakeBackend) Flush(ctx context.Context, name string) error { return nil }

func (b *fakeBackend) ReadDirectory(ctx context.Context, name, pattern, marker string) ([]DirEntry, error) {
	return nil, nil
}
func (b *fakeBackend) ReadEA(ctx context.Context, name string) ([]byte, error)        { return nil, nil }
func (b *fakeBackend) WriteEA(ctx context.Context, name string, ea []byte) error      { return nil }

func (b *fakeBackend) GetReparsePoint(ctx context.Context, name string) ([]byte, error) { return nil, nil }
func (b *fakeBackend) SetReparsePoint(ctx context.Context, name string, data []byte) error { return nil }
func (b *fakeBackend) DeleteReparsePoint(ctx context.Context, name string) error           { return nil }

func (b *fakeBackend) GetStreamInfo(ctx context.Context, name string) ([]byte, error) { return nil, nil }
func (b *fakeBackend) ResolveReparsePoints(ctx context.Context, name string) (string, error) {
	return name, nil
}
