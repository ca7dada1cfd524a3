// Package filesystem presents object storage as a hierarchical filesystem.
// Paths have the form container@namespace/key, or
// mount[:scope:key[:subkey]]@lakeID/key for buckets reached through a lake
// mount. Listings are cached per directory and invalidated on mutation.
package filesystem

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/ocifs/ocifs-go/internal/cache"
	"github.com/ocifs/ocifs-go/internal/fserrors"
	"github.com/ocifs/ocifs-go/internal/lake"
	"github.com/ocifs/ocifs-go/internal/objectstore"
	"github.com/ocifs/ocifs-go/internal/ocipath"
)

const (
	// MinBlockSize is the smallest buffering threshold a writer accepts.
	MinBlockSize int64 = 5 << 20
	// MaxPartSize is the largest part sent in a multipart upload.
	MaxPartSize int64 = 5 << 30

	DefaultBlockSize         = MinBlockSize
	DefaultRetries           = 5
	DefaultFetchAttempts     = 10
	DefaultDeleteConcurrency = 8

	// copies of objects at least this large may not be supported server side
	largeCopySize int64 = 50 << 30
)

// Refresher reloads credentials after an authentication failure.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Options configures a Filesystem.
type Options struct {
	// Store is the direct object store. Required.
	Store objectstore.ObjectStore
	// Registry resolves lake mounts. Lake paths are rejected when nil.
	Registry *lake.Registry
	// Refresher is called once before retrying a call that failed
	// authentication.
	Refresher Refresher
	// DirCache defaults to a fresh cache owned by the Filesystem.
	DirCache *cache.DirCache

	// Namespace pins the default namespace instead of asking the store.
	Namespace string
	// CompartmentID pins the compartment new buckets are created in.
	CompartmentID string
	// Region is the destination region for server side copies.
	Region string

	BlockSize         int64
	Retries           int
	FetchAttempts     int
	DeleteConcurrency int

	Logger logrus.FieldLogger
}

// Filesystem is the facade over path resolution, the directory cache, the
// lake registry and the read and write engines.
type Filesystem struct {
	direct    objectstore.ObjectStore
	registry  *lake.Registry
	refresher Refresher
	dircache  *cache.DirCache
	resolver  *ocipath.Resolver
	region    string

	blockSize         int64
	retries           int
	fetchAttempts     int
	deleteConcurrency int

	logger logrus.FieldLogger

	mu      sync.Mutex
	tenancy string
}

// New creates a Filesystem.
func New(opts Options) (*Filesystem, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("failed to create filesystem: no object store configured")
	}
	fs := &Filesystem{
		direct:            opts.Store,
		registry:          opts.Registry,
		refresher:         opts.Refresher,
		dircache:          opts.DirCache,
		region:            opts.Region,
		blockSize:         opts.BlockSize,
		retries:           opts.Retries,
		fetchAttempts:     opts.FetchAttempts,
		deleteConcurrency: opts.DeleteConcurrency,
		logger:            opts.Logger,
		tenancy:           opts.CompartmentID,
	}
	if fs.dircache == nil {
		fs.dircache = cache.NewDirCache()
	}
	if fs.blockSize == 0 {
		fs.blockSize = DefaultBlockSize
	}
	if fs.blockSize < MinBlockSize || fs.blockSize > MaxPartSize {
		return nil, fserrors.Invalid("create filesystem", "", "block size %d outside [%d, %d]", fs.blockSize, MinBlockSize, MaxPartSize)
	}
	if fs.retries <= 0 {
		fs.retries = DefaultRetries
	}
	if fs.fetchAttempts <= 0 {
		fs.fetchAttempts = DefaultFetchAttempts
	}
	if fs.deleteConcurrency <= 0 {
		fs.deleteConcurrency = DefaultDeleteConcurrency
	}
	if fs.logger == nil {
		fs.logger = logrus.StandardLogger()
	}

	var mounts ocipath.MountResolver
	if opts.Registry != nil {
		mounts = opts.Registry
	}
	fs.resolver = ocipath.NewResolver(fs, mounts)
	if opts.Namespace != "" {
		fs.resolver.SetDefaultNamespace(opts.Namespace)
	}
	return fs, nil
}

// DirCache returns the directory cache owned by fs.
func (fs *Filesystem) DirCache() *cache.DirCache {
	return fs.dircache
}

// Split parses path, resolving the default namespace and lake mounts.
func (fs *Filesystem) Split(ctx context.Context, path string) (ocipath.LogicalPath, error) {
	return fs.resolver.Split(ctx, path)
}

// GetNamespace returns the tenancy namespace of the direct store.
func (fs *Filesystem) GetNamespace(ctx context.Context) (string, error) {
	var ns string
	err := fs.withReauth(ctx, func() error {
		var err error
		ns, err = fs.direct.GetNamespace(ctx)
		return err
	})
	return ns, err
}

// store returns the object store serving the container of p.
func (fs *Filesystem) store(p ocipath.LogicalPath) objectstore.ObjectStore {
	if fs.registry == nil || p.Container == "" {
		return fs.direct
	}
	return fs.registry.ResolveBackend(p.Container, p.Namespace)
}

// withReauth runs op and, when it fails authentication, refreshes the
// credentials and runs it exactly once more.
func (fs *Filesystem) withReauth(ctx context.Context, op func() error) error {
	err := op()
	if err == nil || fs.refresher == nil || !fserrors.IsAuthFailure(fserrors.Translate(err)) {
		return err
	}
	fs.logger.WithError(err).Debug("authentication failed, refreshing credentials")
	if rerr := fs.refresher.Refresh(ctx); rerr != nil {
		fs.logger.WithError(rerr).Warn("failed to refresh credentials")
		return err
	}
	return op()
}

// defaultTenancy returns the compartment buckets are created in.
func (fs *Filesystem) defaultTenancy(ctx context.Context, namespace string) (string, error) {
	fs.mu.Lock()
	tenancy := fs.tenancy
	fs.mu.Unlock()
	if tenancy != "" {
		return tenancy, nil
	}

	var md *objectstore.NamespaceMetadata
	err := fs.withReauth(ctx, func() error {
		var err error
		md, err = fs.direct.GetNamespaceMetadata(ctx, namespace)
		return err
	})
	if err != nil {
		return "", fserrors.Wrap(err, "get namespace metadata", "@"+namespace)
	}
	tenancy = md.DefaultSwiftCompartmentID
	if tenancy == "" {
		tenancy = md.DefaultS3CompartmentID
	}

	fs.mu.Lock()
	fs.tenancy = tenancy
	fs.mu.Unlock()
	return tenancy, nil
}

// InvalidateCache drops the listings of path and its parent, or every
// listing when path is empty.
func (fs *Filesystem) InvalidateCache(path string) {
	if path == "" {
		fs.dircache.InvalidateAll()
		return
	}
	fs.dircache.Invalidate(path)
}

// invalidateAlong walks from the container down to the leaf of p and
// invalidates each cached listing that does not yet show the next path
// component. The leaf's own directory is always invalidated since its
// size and ETag changed.
func (fs *Filesystem) invalidateAlong(p ocipath.LogicalPath) {
	dir := p.FullContainer()
	segs := splitKey(p.Key)
	for i, seg := range segs {
		child := dir + "/" + seg
		if listing, ok := fs.dircache.Get(dir); ok && (i == len(segs)-1 || !containsName(listing, child)) {
			fs.logger.WithField("path", dir).Debug("invalidating listing")
			fs.dircache.Invalidate(dir)
		}
		dir = child
	}
}

func containsName(listing []cache.Entry, name string) bool {
	for _, e := range listing {
		if e.Name == name {
			return true
		}
	}
	return false
}
