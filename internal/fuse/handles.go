package fuse

import (
	"context"
	"sync"
	"syscall"
	"time"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"

	"github.com/ocifs/ocifs-go/internal/filesystem"
)

// readHandle serves reads of one object version through the block cache.
type readHandle struct {
	fs   *FS
	path string
	etag string
	size int64
}

var _ fs.HandleReader = (*readHandle)(nil)

func (h *readHandle) Read(ctx context.Context, req *fuse.ReadRequest, resp *fuse.ReadResponse) error {
	data, err := h.fs.blocks.ReadAt(ctx, h.path, h.etag, h.size, req.Offset, req.Size,
		func(ctx context.Context, start, end int64) ([]byte, error) {
			return h.fs.fsys.ReadRange(ctx, h.path, start, end)
		})
	if err != nil {
		return errno(err)
	}
	resp.Data = data
	return nil
}

// writeHandle streams sequential writes into an upload session.
type writeHandle struct {
	fs     *FS
	path   string
	opened time.Time

	mu   sync.Mutex
	file *filesystem.File
	done bool
	err  error
}

var _ fs.HandleWriter = (*writeHandle)(nil)
var _ fs.HandleFlusher = (*writeHandle)(nil)
var _ fs.HandleReleaser = (*writeHandle)(nil)

// openWriter opens path for writing under the mount context, so the upload
// outlives the request that opened it.
func (f *FS) openWriter(path, mode string) (*writeHandle, error) {
	file, err := f.fsys.Open(f.ctx, path, mode, nil)
	if err != nil {
		return nil, err
	}
	h := &writeHandle{fs: f, path: path, opened: time.Now(), file: file}
	f.mu.Lock()
	f.writers[path] = h
	f.mu.Unlock()
	return h, nil
}

func (h *writeHandle) size() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.file.Size()
}

// Write accepts only the next byte in sequence.
func (h *writeHandle) Write(ctx context.Context, req *fuse.WriteRequest, resp *fuse.WriteResponse) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.done {
		return fuse.Errno(syscall.EBADF)
	}
	if req.Offset != h.file.Size() {
		h.fs.log.WithField("path", h.path).Debugf("Rejecting write at %d, expected %d", req.Offset, h.file.Size())
		return fuse.Errno(syscall.EINVAL)
	}
	n, err := h.file.Write(req.Data)
	resp.Size = n
	return errno(err)
}

// Flush commits the file. Later flushes of the same handle report the
// outcome of the first.
func (h *writeHandle) Flush(ctx context.Context, req *fuse.FlushRequest) error {
	return errno(h.finish())
}

func (h *writeHandle) Release(ctx context.Context, req *fuse.ReleaseRequest) error {
	if err := h.finish(); err != nil {
		h.fs.log.WithError(err).WithField("path", h.path).Warn("Upload failed")
	}
	return nil
}

func (h *writeHandle) finish() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.done {
		return h.err
	}
	h.done = true
	h.err = h.file.Close()

	h.fs.mu.Lock()
	if h.fs.writers[h.path] == h {
		delete(h.fs.writers, h.path)
	}
	h.fs.mu.Unlock()
	h.fs.forget(h.path)
	return h.err
}
