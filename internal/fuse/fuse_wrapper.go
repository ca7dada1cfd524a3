// Package fuse mounts a Filesystem through bazil.org/fuse. Reads go
// through an LRU block cache; writes stream sequentially into an upload
// session that commits when the file is flushed.
package fuse

import (
	"context"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"
	"github.com/sirupsen/logrus"

	"github.com/ocifs/ocifs-go/internal/cache"
	"github.com/ocifs/ocifs-go/internal/filesystem"
	"github.com/ocifs/ocifs-go/internal/fserrors"
)

// Options tunes a mount.
type Options struct {
	// StatTTL is how long attributes are trusted. Zero keeps them until the
	// mount changes the path itself.
	StatTTL time.Duration
	// CacheBlocks is the number of read blocks kept in memory.
	CacheBlocks   int
	ReadBlockSize int64
	UID, GID      uint32
	ReadOnly      bool
	Logger        logrus.FieldLogger
}

// FS implements fs.FS over a Filesystem rooted at a logical path.
type FS struct {
	fsys   *filesystem.Filesystem
	root   string
	ctx    context.Context
	stats  *cache.StatCache
	blocks *BlockCache
	ttl    time.Duration
	uid    uint32
	gid    uint32
	log    logrus.FieldLogger

	mu      sync.Mutex
	writers map[string]*writeHandle
}

var _ fs.FS = (*FS)(nil)
var _ fs.FSStatfser = (*FS)(nil)

// New creates the mountable view of fsys rooted at root, which may be a
// namespace ("@ns"), a bucket or a prefix inside a bucket. Uploads started
// by the mount run under ctx.
func New(ctx context.Context, fsys *filesystem.Filesystem, root string, opts Options) (*FS, error) {
	p, err := fsys.Split(ctx, root)
	if err != nil {
		return nil, err
	}
	if opts.CacheBlocks <= 0 {
		opts.CacheBlocks = 64
	}
	blocks, err := NewBlockCache(opts.CacheBlocks, opts.ReadBlockSize)
	if err != nil {
		return nil, err
	}
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &FS{
		fsys:    fsys,
		root:    p.String(),
		ctx:     ctx,
		stats:   cache.NewStatCache(opts.StatTTL),
		blocks:  blocks,
		ttl:     opts.StatTTL,
		uid:     opts.UID,
		gid:     opts.GID,
		log:     log.WithField("mount", p.String()),
		writers: make(map[string]*writeHandle),
	}, nil
}

// Root returns the root directory
func (f *FS) Root() (fs.Node, error) {
	return &Dir{fs: f, path: f.root}, nil
}

// Statfs reports a large fixed capacity; object storage has no quota the
// mount can see.
func (f *FS) Statfs(ctx context.Context, req *fuse.StatfsRequest, resp *fuse.StatfsResponse) error {
	const blocks = 1 << 40
	resp.Blocks = blocks
	resp.Bfree = blocks
	resp.Bavail = blocks
	resp.Files = 1 << 30
	resp.Ffree = 1 << 30
	resp.Bsize = 4096
	resp.Frsize = 4096
	resp.Namelen = 1024
	return nil
}

// errno converts err for the kernel.
func errno(err error) error {
	if err == nil {
		return nil
	}
	return fuse.Errno(fserrors.Errno(err))
}

// childPath joins name under dir. Children of a namespace are buckets,
// written bucket@namespace.
func childPath(dir, name string) string {
	if strings.HasPrefix(dir, "@") {
		return name + dir
	}
	return dir + "/" + name
}

func baseName(dir, full string) string {
	if strings.HasPrefix(dir, "@") {
		return strings.TrimSuffix(full, dir)
	}
	return strings.TrimPrefix(full, dir+"/")
}

// stat returns the entry for path, from the stat cache when fresh.
func (f *FS) stat(ctx context.Context, path string) (cache.Entry, error) {
	if e, ok := f.stats.Get(path); ok {
		return e, nil
	}
	info, err := f.fsys.Info(ctx, path)
	if err != nil {
		return cache.Entry{}, err
	}
	f.stats.Set(path, info.Entry)
	return info.Entry, nil
}

// forget drops everything cached about path and below it.
func (f *FS) forget(path string) {
	f.stats.DeletePrefix(path)
	f.blocks.Invalidate(path)
}

func (f *FS) writer(path string) *writeHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writers[path]
}

func (f *FS) fill(a *fuse.Attr, e cache.Entry) {
	a.Valid = f.ttl
	a.Uid = f.uid
	a.Gid = f.gid
	a.Mtime = e.TimeModified
	if a.Mtime.IsZero() {
		a.Mtime = e.TimeCreated
	}
	a.Ctime = a.Mtime
	if e.IsDir() {
		a.Mode = os.ModeDir | 0o755
		a.Nlink = 2
		return
	}
	a.Mode = 0o644
	a.Nlink = 1
	a.Size = uint64(e.Size)
	a.Blocks = (a.Size + 511) / 512
}

// Dir represents a directory node: a namespace, a bucket or a key prefix.
type Dir struct {
	fs   *FS
	path string
}

var _ fs.Node = (*Dir)(nil)
var _ fs.NodeStringLookuper = (*Dir)(nil)
var _ fs.HandleReadDirAller = (*Dir)(nil)
var _ fs.NodeMkdirer = (*Dir)(nil)
var _ fs.NodeCreater = (*Dir)(nil)
var _ fs.NodeRemover = (*Dir)(nil)
var _ fs.NodeRenamer = (*Dir)(nil)

// Attr returns directory attributes
func (d *Dir) Attr(ctx context.Context, a *fuse.Attr) error {
	e := cache.Entry{Name: d.path, Type: cache.TypeDirectory}
	if cached, ok := d.fs.stats.Get(d.path); ok {
		e = cached
	}
	d.fs.fill(a, e)
	return nil
}

// Lookup looks up a child node
func (d *Dir) Lookup(ctx context.Context, name string) (fs.Node, error) {
	path := childPath(d.path, name)
	if d.fs.writer(path) != nil {
		return &File{fs: d.fs, path: path}, nil
	}
	e, err := d.fs.stat(ctx, path)
	if err != nil {
		return nil, errno(err)
	}
	if e.IsDir() {
		return &Dir{fs: d.fs, path: path}, nil
	}
	return &File{fs: d.fs, path: path}, nil
}

// ReadDirAll lists the directory and primes the stat cache with the result.
func (d *Dir) ReadDirAll(ctx context.Context) ([]fuse.Dirent, error) {
	entries, err := d.fs.fsys.LsDetail(ctx, d.path, false)
	if err != nil {
		return nil, errno(err)
	}
	dirents := make([]fuse.Dirent, 0, len(entries))
	for _, e := range entries {
		name := baseName(d.path, e.Name)
		if name == "" || name == e.Name {
			continue
		}
		d.fs.stats.Set(e.Name, e)
		dirent := fuse.Dirent{Name: name, Type: fuse.DT_File}
		if e.IsDir() {
			dirent.Type = fuse.DT_Dir
		}
		dirents = append(dirents, dirent)
	}
	return dirents, nil
}

// Mkdir creates a bucket under a namespace. Below a bucket directories
// only exist through the objects in them, so the new node stays empty
// until something is written into it.
func (d *Dir) Mkdir(ctx context.Context, req *fuse.MkdirRequest) (fs.Node, error) {
	path := childPath(d.path, req.Name)
	if err := d.fs.fsys.Mkdir(ctx, path, false); err != nil {
		return nil, errno(err)
	}
	d.fs.forget(path)
	d.fs.stats.Set(path, cache.Entry{Name: path, Type: cache.TypeDirectory})
	return &Dir{fs: d.fs, path: path}, nil
}

// Create opens a new file for writing. Nothing is stored until the handle
// is flushed.
func (d *Dir) Create(ctx context.Context, req *fuse.CreateRequest, resp *fuse.CreateResponse) (fs.Node, fs.Handle, error) {
	path := childPath(d.path, req.Name)
	node := &File{fs: d.fs, path: path}
	if req.Flags.IsReadOnly() {
		if err := d.fs.fsys.Touch(ctx, path, true, nil); err != nil {
			return nil, nil, errno(err)
		}
		d.fs.forget(path)
		return node, &readHandle{fs: d.fs, path: path}, nil
	}
	h, err := d.fs.openWriter(path, "wb")
	if err != nil {
		return nil, nil, errno(err)
	}
	return node, h, nil
}

// Remove removes a file, or an empty directory.
func (d *Dir) Remove(ctx context.Context, req *fuse.RemoveRequest) error {
	path := childPath(d.path, req.Name)
	var err error
	if req.Dir {
		err = d.fs.fsys.Rmdir(ctx, path)
	} else {
		err = d.fs.fsys.Rm(ctx, path, false)
	}
	if err != nil {
		return errno(err)
	}
	d.fs.forget(path)
	return nil
}

// Rename moves a file within its bucket.
func (d *Dir) Rename(ctx context.Context, req *fuse.RenameRequest, newDir fs.Node) error {
	target, ok := newDir.(*Dir)
	if !ok {
		return fuse.Errno(syscall.EINVAL)
	}
	src := childPath(d.path, req.OldName)
	dst := childPath(target.path, req.NewName)
	if err := d.fs.fsys.Rename(ctx, src, dst); err != nil {
		return errno(err)
	}
	d.fs.forget(src)
	d.fs.forget(dst)
	return nil
}

// File represents a file node
type File struct {
	fs   *FS
	path string
}

var _ fs.Node = (*File)(nil)
var _ fs.NodeOpener = (*File)(nil)
var _ fs.NodeSetattrer = (*File)(nil)

// Attr returns file attributes. A file with an open writer reports the
// bytes written so far.
func (f *File) Attr(ctx context.Context, a *fuse.Attr) error {
	if w := f.fs.writer(f.path); w != nil {
		f.fs.fill(a, cache.Entry{Name: f.path, Type: cache.TypeFile, Size: w.size(), TimeModified: w.opened})
		a.Valid = 0
		return nil
	}
	e, err := f.fs.stat(ctx, f.path)
	if err != nil {
		return errno(err)
	}
	f.fs.fill(a, e)
	return nil
}

// Open opens a file. Objects cannot be modified in place, so any open for
// writing replaces the object, with O_APPEND keeping the old content in
// front of the new.
func (f *File) Open(ctx context.Context, req *fuse.OpenRequest, resp *fuse.OpenResponse) (fs.Handle, error) {
	if req.Flags.IsReadOnly() {
		e, err := f.fs.stat(ctx, f.path)
		if err != nil {
			return nil, errno(err)
		}
		return &readHandle{fs: f.fs, path: f.path, etag: e.ETag, size: e.Size}, nil
	}
	mode := "wb"
	if req.Flags&fuse.OpenAppend != 0 {
		mode = "ab"
	}
	h, err := f.fs.openWriter(f.path, mode)
	if err != nil {
		return nil, errno(err)
	}
	resp.Flags |= fuse.OpenDirectIO
	return h, nil
}

// Setattr supports truncation to zero. Mode, owner and time changes are
// accepted and ignored since objects carry none of them.
func (f *File) Setattr(ctx context.Context, req *fuse.SetattrRequest, resp *fuse.SetattrResponse) error {
	if req.Valid.Size() {
		if req.Size != 0 {
			return fuse.Errno(syscall.EOPNOTSUPP)
		}
		w := f.fs.writer(f.path)
		if w == nil {
			if err := f.fs.fsys.Touch(ctx, f.path, true, nil); err != nil {
				return errno(err)
			}
			f.fs.forget(f.path)
		} else if w.size() != 0 {
			return fuse.Errno(syscall.EOPNOTSUPP)
		}
	}
	return f.Attr(ctx, &resp.Attr)
}

// Mount serves fsys rooted at root on mountpoint until ctx is done or the
// mount is unmounted externally.
func Mount(ctx context.Context, mountpoint string, fsys *filesystem.Filesystem, root string, opts Options) error {
	ffs, err := New(ctx, fsys, root, opts)
	if err != nil {
		return err
	}

	mountOpts := []fuse.MountOption{
		fuse.FSName("ocifs"),
		fuse.Subtype("ocifs"),
	}
	if opts.ReadOnly {
		mountOpts = append(mountOpts, fuse.ReadOnly())
	}
	c, err := fuse.Mount(mountpoint, mountOpts...)
	if err != nil {
		return err
	}
	defer c.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			if err := fuse.Unmount(mountpoint); err != nil {
				ffs.log.WithError(err).Warn("Failed to unmount")
			}
		case <-done:
		}
	}()

	ffs.log.Infof("Mounted filesystem at %s", mountpoint)
	return fs.Serve(c, ffs)
}
