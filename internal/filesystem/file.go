package filesystem

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/ocifs/ocifs-go/internal/fserrors"
	"github.com/ocifs/ocifs-go/internal/ocipath"
)

// Mode is the access mode of an open File.
type Mode int

const (
	ModeRead Mode = iota
	ModeWrite
	ModeAppend
)

// ParseMode parses r, w or a, each optionally followed by b.
func ParseMode(mode string) (Mode, error) {
	switch strings.TrimSuffix(mode, "b") {
	case "r":
		return ModeRead, nil
	case "w":
		return ModeWrite, nil
	case "a":
		return ModeAppend, nil
	}
	return 0, fserrors.Invalid("open", "", "unsupported file mode %q", mode)
}

// OpenOptions tunes a File. The zero value uses the Filesystem defaults.
type OpenOptions struct {
	BlockSize int64
	// DeferCommit keeps Close from committing a written file; the caller
	// then finishes it with Commit or Discard.
	DeferCommit bool
	Retries     int
	ContentType string
}

// File is an open object. Reads fetch byte ranges on demand; writes are
// buffered into an upload session. A File is not safe for concurrent use.
type File struct {
	fs   *Filesystem
	ctx  context.Context
	path ocipath.LogicalPath
	mode Mode

	// read side
	reader    *rangeReader
	info      *Info
	offset    int64
	blockSize int64
	cache     []byte
	cacheAt   int64

	// write side
	session *UploadSession

	closed bool
}

// Open opens path. The context is used for every request the File makes.
func (fs *Filesystem) Open(ctx context.Context, path, mode string, opts *OpenOptions) (*File, error) {
	m, err := ParseMode(mode)
	if err != nil {
		return nil, err
	}
	p, err := fs.Split(ctx, path)
	if err != nil {
		return nil, err
	}
	if p.Key == "" {
		return nil, fserrors.Invalid("open", path, "cannot open a bucket or namespace as a file")
	}
	if opts == nil {
		opts = &OpenOptions{}
	}
	blockSize := opts.BlockSize
	if blockSize == 0 {
		blockSize = fs.blockSize
	}
	f := &File{fs: fs, ctx: ctx, path: p, mode: m, blockSize: blockSize}

	if m == ModeRead {
		info, err := fs.info(ctx, p)
		if err != nil {
			return nil, err
		}
		if info.IsDir() {
			return nil, fserrors.Invalid("open", p.String(), "is a directory")
		}
		f.info = info
		f.reader = newRangeReader(fs, p)
		return f, nil
	}

	retries := opts.Retries
	if retries <= 0 {
		retries = fs.retries
	}
	f.session, err = newUploadSession(fs, p, sessionOptions{
		blockSize:   blockSize,
		autocommit:  !opts.DeferCommit,
		retries:     retries,
		contentType: opts.ContentType,
	})
	if err != nil {
		return nil, err
	}

	if m == ModeAppend {
		if err := f.preload(ctx); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// preload copies the current content of the object into the session so an
// append rewrites it followed by the new data.
func (f *File) preload(ctx context.Context) error {
	info, err := f.fs.info(ctx, f.path)
	if fserrors.Is(err, fserrors.NotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fserrors.Invalid("open", f.path.String(), "is a directory")
	}
	data, err := newRangeReader(f.fs, f.path).fetchRange(ctx, 0, info.Size)
	if err != nil {
		return err
	}
	_, err = f.session.Write(ctx, data)
	return err
}

// Name returns the logical path of the file.
func (f *File) Name() string {
	return f.path.String()
}

// Info returns the metadata of a file opened for reading.
func (f *File) Info() *Info {
	return f.info
}

// Size returns the object size when reading, or the bytes written so far.
func (f *File) Size() int64 {
	if f.session != nil {
		return f.session.Written()
	}
	return f.info.Size
}

// Session exposes the upload session of a file opened for writing.
func (f *File) Session() *UploadSession {
	return f.session
}

func (f *File) checkRead(op string) error {
	if f.closed {
		return fserrors.Invalid(op, f.path.String(), "file is closed")
	}
	if f.mode != ModeRead {
		return fserrors.Invalid(op, f.path.String(), "file not opened for reading")
	}
	return nil
}

// Read reads from the current offset.
func (f *File) Read(p []byte) (int, error) {
	if err := f.checkRead("read"); err != nil {
		return 0, err
	}
	n, err := f.ReadAt(p, f.offset)
	f.offset += int64(n)
	if err == io.EOF && n > 0 {
		err = nil
	}
	return n, err
}

// ReadAt reads len(p) bytes at off. It returns io.EOF when fewer bytes
// remain.
func (f *File) ReadAt(p []byte, off int64) (int, error) {
	if err := f.checkRead("read"); err != nil {
		return 0, err
	}
	if off < 0 {
		return 0, fserrors.Invalid("read", f.path.String(), "negative offset")
	}
	size := f.info.Size
	if off >= size {
		return 0, io.EOF
	}
	end := off + int64(len(p))
	if end > size {
		end = size
	}

	n := 0
	for pos := off; pos < end; {
		if pos >= f.cacheAt && pos < f.cacheAt+int64(len(f.cache)) {
			c := copy(p[n:end-off], f.cache[pos-f.cacheAt:])
			n += c
			pos += int64(c)
			continue
		}
		// read ahead a block beyond small requests
		fetchEnd := end
		if fetchEnd-pos < f.blockSize {
			fetchEnd = pos + f.blockSize
		}
		if fetchEnd > size {
			fetchEnd = size
		}
		data, err := f.reader.fetchRange(f.ctx, pos, fetchEnd)
		if err != nil {
			return n, err
		}
		if len(data) == 0 {
			break
		}
		f.cache, f.cacheAt = data, pos
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Seek sets the read offset. A file being written only reports its
// position.
func (f *File) Seek(offset int64, whence int) (int64, error) {
	if f.closed {
		return 0, fserrors.Invalid("seek", f.path.String(), "file is closed")
	}
	if f.mode != ModeRead {
		if offset == 0 && whence == io.SeekCurrent {
			return f.session.Written(), nil
		}
		return 0, fserrors.Invalid("seek", f.path.String(), "seek is only supported for files opened for reading")
	}
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = f.offset + offset
	case io.SeekEnd:
		abs = f.info.Size + offset
	default:
		return 0, fserrors.Invalid("seek", f.path.String(), "invalid whence %d", whence)
	}
	if abs < 0 {
		return 0, fserrors.Invalid("seek", f.path.String(), "negative position")
	}
	f.offset = abs
	return abs, nil
}

func (f *File) checkWrite(op string) error {
	if f.mode == ModeRead {
		return fserrors.Invalid(op, f.path.String(), "file not opened for writing")
	}
	return nil
}

// Write appends p to the file.
func (f *File) Write(p []byte) (int, error) {
	if err := f.checkWrite("write"); err != nil {
		return 0, err
	}
	return f.session.Write(f.ctx, p)
}

// Flush uploads buffered data once a block is buffered, or regardless
// when force is set.
func (f *File) Flush(force bool) error {
	if err := f.checkWrite("flush"); err != nil {
		return err
	}
	return f.session.Flush(f.ctx, force)
}

// Commit finalizes a written file.
func (f *File) Commit() error {
	if err := f.checkWrite("commit"); err != nil {
		return err
	}
	return f.session.Commit(f.ctx)
}

// Discard abandons a written file.
func (f *File) Discard() error {
	if err := f.checkWrite("discard"); err != nil {
		return err
	}
	return f.session.Discard(f.ctx)
}

// Close releases the file. A written file is flushed, and committed
// unless it was opened with DeferCommit.
func (f *File) Close() error {
	if f.closed {
		return nil
	}
	f.closed = true
	f.cache = nil
	if f.session != nil {
		return f.session.Close(f.ctx)
	}
	return nil
}

// Cat returns the whole content of path.
func (fs *Filesystem) Cat(ctx context.Context, path string) ([]byte, error) {
	return fs.CatRange(ctx, path, 0, -1)
}

// CatRange returns the bytes of path in [start, end). A negative end reads
// to the end of the object.
func (fs *Filesystem) CatRange(ctx context.Context, path string, start, end int64) ([]byte, error) {
	p, err := fs.Split(ctx, path)
	if err != nil {
		return nil, err
	}
	if p.Key == "" {
		return nil, fserrors.Invalid("cat", path, "is a directory")
	}
	info, err := fs.info(ctx, p)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fserrors.Invalid("cat", p.String(), "is a directory")
	}
	if end < 0 || end > info.Size {
		end = info.Size
	}
	return newRangeReader(fs, p).fetchRange(ctx, start, end)
}

// ReadRange fetches [start, end) of an object whose size the caller
// already knows, without looking the object up first.
func (fs *Filesystem) ReadRange(ctx context.Context, path string, start, end int64) ([]byte, error) {
	p, err := fs.Split(ctx, path)
	if err != nil {
		return nil, err
	}
	if p.Key == "" {
		return nil, fserrors.Invalid("read", path, "is a directory")
	}
	return newRangeReader(fs, p).fetchRange(ctx, start, end)
}

// Pipe writes data to path, replacing any existing object.
func (fs *Filesystem) Pipe(ctx context.Context, path string, data []byte) error {
	f, err := fs.Open(ctx, path, "wb", nil)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Discard()
		return err
	}
	return f.Close()
}

// Put uploads the local file at local to path.
func (fs *Filesystem) Put(ctx context.Context, local, path string) error {
	src, err := os.Open(local)
	if err != nil {
		return fserrors.Invalid("put", local, "failed to open local file: %v", err)
	}
	defer src.Close()

	f, err := fs.Open(ctx, path, "wb", nil)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, src); err != nil {
		_ = f.Discard()
		return err
	}
	return f.Close()
}

// Get downloads path to the local file at local.
func (fs *Filesystem) Get(ctx context.Context, path, local string) error {
	f, err := fs.Open(ctx, path, "rb", nil)
	if err != nil {
		return err
	}
	defer f.Close()

	dst, err := os.Create(local)
	if err != nil {
		return fserrors.Invalid("get", local, "failed to create local file: %v", err)
	}
	if _, err := io.Copy(dst, f); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}
