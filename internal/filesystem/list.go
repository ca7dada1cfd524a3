package filesystem

import (
	"context"
	"sort"
	"strings"

	"github.com/ocifs/ocifs-go/internal/cache"
	"github.com/ocifs/ocifs-go/internal/fserrors"
	"github.com/ocifs/ocifs-go/internal/objectstore"
	"github.com/ocifs/ocifs-go/internal/ocipath"
)

// Info describes a file, directory, bucket or namespace.
type Info struct {
	cache.Entry
	ContentType   string
	Metadata      map[string]string
	CompartmentID string
}

func splitKey(key string) []string {
	if key == "" {
		return nil
	}
	return strings.Split(key, "/")
}

// parentOf returns the directory containing p. The parent of a container
// is its namespace.
func parentOf(p ocipath.LogicalPath) ocipath.LogicalPath {
	if p.Key == "" {
		return ocipath.LogicalPath{Namespace: p.Namespace}
	}
	if i := strings.LastIndex(p.Key, "/"); i >= 0 {
		return p.WithKey(p.Key[:i])
	}
	return p.WithKey("")
}

// keyOf returns the key of a listed name relative to the container of p.
func keyOf(p ocipath.LogicalPath, name string) string {
	return strings.TrimPrefix(name, p.FullContainer()+"/")
}

func (fs *Filesystem) listBuckets(ctx context.Context, namespace string, refresh bool) ([]cache.Entry, error) {
	key := ocipath.Join("", namespace, "")
	if !refresh {
		if listing, ok := fs.dircache.Get(key); ok {
			return listing, nil
		}
	}

	compartment, err := fs.defaultTenancy(ctx, namespace)
	if err != nil {
		return nil, err
	}
	var buckets []objectstore.BucketInfo
	err = fs.withReauth(ctx, func() error {
		var err error
		buckets, err = fs.direct.ListBuckets(ctx, &objectstore.ListBucketsRequest{Namespace: namespace, CompartmentID: compartment})
		return err
	})
	if err != nil {
		return nil, fserrors.Wrap(err, "list buckets", key)
	}
	fs.logger.WithField("namespace", namespace).Debug("listed buckets")

	listing := make([]cache.Entry, 0, len(buckets))
	for _, b := range buckets {
		ns := b.Namespace
		if ns == "" {
			ns = namespace
		}
		listing = append(listing, cache.Entry{
			Name:        ocipath.Join(b.Name, ns, ""),
			Type:        cache.TypeDirectory,
			ETag:        b.ETag,
			TimeCreated: b.TimeCreated,
		})
	}
	fs.dircache.Put(key, listing)
	return listing, nil
}

func (fs *Filesystem) listDir(ctx context.Context, p ocipath.LogicalPath, refresh bool) ([]cache.Entry, error) {
	key := p.String()
	if !refresh {
		if listing, ok := fs.dircache.Get(key); ok {
			return listing, nil
		}
	}

	prefix := ""
	if p.Key != "" {
		prefix = p.Key + "/"
	}
	store := fs.store(p)
	var res *objectstore.ListObjectsResult
	err := fs.withReauth(ctx, func() error {
		var err error
		res, err = objectstore.ListAll(ctx, store, &objectstore.ListObjectsRequest{
			Namespace: p.Namespace,
			Bucket:    p.Container,
			Prefix:    prefix,
			Delimiter: "/",
		})
		return err
	})
	if err != nil {
		return nil, fserrors.Wrap(err, "list", key)
	}
	fs.logger.WithField("path", key).Debug("listed directory")

	container := p.FullContainer()
	listing := make([]cache.Entry, 0, len(res.Objects)+len(res.Prefixes))
	for _, o := range res.Objects {
		// zero-byte markers named like the directory itself
		if strings.HasSuffix(o.Name, "/") && o.Size == 0 {
			continue
		}
		listing = append(listing, cache.Entry{
			Name:          container + "/" + o.Name,
			Type:          cache.TypeFile,
			Size:          o.Size,
			ETag:          o.ETag,
			MD5:           o.MD5,
			TimeCreated:   o.TimeCreated,
			TimeModified:  o.TimeModified,
			StorageTier:   o.StorageTier,
			ArchivalState: o.ArchivalState,
		})
	}
	for _, prefix := range res.Prefixes {
		listing = append(listing, cache.Entry{
			Name: container + "/" + strings.TrimSuffix(prefix, "/"),
			Type: cache.TypeDirectory,
		})
	}
	fs.dircache.Put(key, listing)
	return listing, nil
}

func (fs *Filesystem) list(ctx context.Context, p ocipath.LogicalPath, refresh bool) ([]cache.Entry, error) {
	if p.Container == "" {
		return fs.listBuckets(ctx, p.Namespace, refresh)
	}
	return fs.listDir(ctx, p, refresh)
}

// listPath lists p. When p enumerates nothing it may name a single object,
// which is then looked up in its parent's listing.
func (fs *Filesystem) listPath(ctx context.Context, p ocipath.LogicalPath, refresh bool) ([]cache.Entry, error) {
	listing, err := fs.list(ctx, p, refresh)
	if err != nil || len(listing) > 0 || p.Container == "" {
		return listing, err
	}

	siblings, err := fs.list(ctx, parentOf(p), refresh)
	if err != nil {
		return nil, err
	}
	name := p.String()
	var out []cache.Entry
	for _, e := range siblings {
		if strings.TrimSuffix(e.Name, "/") == name && !e.IsDir() {
			out = append(out, e)
		}
	}
	return out, nil
}

// LsDetail lists a directory, bucket or namespace. A path naming a single
// object yields that object.
func (fs *Filesystem) LsDetail(ctx context.Context, path string, refresh bool) ([]cache.Entry, error) {
	p, err := fs.Split(ctx, path)
	if err != nil {
		return nil, err
	}
	return fs.listPath(ctx, p, refresh)
}

// Ls returns the sorted names listed under path.
func (fs *Filesystem) Ls(ctx context.Context, path string, refresh bool) ([]string, error) {
	listing, err := fs.LsDetail(ctx, path, refresh)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(listing))
	names := make([]string, 0, len(listing))
	for _, e := range listing {
		if !seen[e.Name] {
			seen[e.Name] = true
			names = append(names, e.Name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Info returns the metadata of path.
func (fs *Filesystem) Info(ctx context.Context, path string) (*Info, error) {
	p, err := fs.Split(ctx, path)
	if err != nil {
		return nil, err
	}
	return fs.info(ctx, p)
}

func (fs *Filesystem) info(ctx context.Context, p ocipath.LogicalPath) (*Info, error) {
	name := p.String()
	dir := &Info{Entry: cache.Entry{Name: name, Type: cache.TypeDirectory}}

	if p.Key != "" {
		if listing, ok := fs.dircache.Get(parentOf(p).String()); ok {
			for _, e := range listing {
				if e.Name == name {
					return &Info{Entry: e}, nil
				}
			}
		}

		store := fs.store(p)
		var obj *objectstore.ObjectInfo
		err := fs.withReauth(ctx, func() error {
			var err error
			obj, err = store.HeadObject(ctx, &objectstore.HeadObjectRequest{Namespace: p.Namespace, Bucket: p.Container, Key: p.Key})
			return err
		})
		if err == nil {
			return &Info{
				Entry: cache.Entry{
					Name:          name,
					Type:          cache.TypeFile,
					Size:          obj.Size,
					ETag:          obj.ETag,
					MD5:           obj.MD5,
					TimeModified:  obj.LastModified,
					StorageTier:   obj.StorageTier,
					ArchivalState: obj.ArchivalState,
				},
				ContentType: obj.ContentType,
				Metadata:    obj.Metadata,
			}, nil
		}
		err = fserrors.Wrap(err, "info", name)
		if !fserrors.Is(err, fserrors.NotFound) {
			return nil, err
		}

		var res *objectstore.ListObjectsResult
		lerr := fs.withReauth(ctx, func() error {
			var err error
			res, err = store.ListObjects(ctx, &objectstore.ListObjectsRequest{
				Namespace: p.Namespace,
				Bucket:    p.Container,
				Prefix:    p.Key + "/",
				Limit:     1,
			})
			return err
		})
		if lerr != nil {
			return nil, fserrors.Wrap(lerr, "info", name)
		}
		if len(res.Objects) > 0 || len(res.Prefixes) > 0 {
			return dir, nil
		}
		return nil, err
	}

	if p.Container != "" {
		var bucket *objectstore.BucketInfo
		err := fs.withReauth(ctx, func() error {
			var err error
			bucket, err = fs.store(p).HeadBucket(ctx, &objectstore.BucketRequest{Namespace: p.Namespace, Bucket: p.Container})
			return err
		})
		if err != nil {
			return nil, fserrors.Wrap(err, "info", name)
		}
		dir.ETag = bucket.ETag
		dir.TimeCreated = bucket.TimeCreated
		dir.CompartmentID = bucket.CompartmentID
		return dir, nil
	}

	var md *objectstore.NamespaceMetadata
	err := fs.withReauth(ctx, func() error {
		var err error
		md, err = fs.direct.GetNamespaceMetadata(ctx, p.Namespace)
		return err
	})
	if err != nil {
		return nil, fserrors.Wrap(err, "info", name)
	}
	dir.CompartmentID = md.DefaultSwiftCompartmentID
	return dir, nil
}

// Exists reports whether path names an object, directory, bucket or
// namespace.
func (fs *Filesystem) Exists(ctx context.Context, path string) (bool, error) {
	_, err := fs.Info(ctx, path)
	switch {
	case err == nil:
		return true, nil
	case fserrors.Is(err, fserrors.NotFound):
		return false, nil
	}
	return false, err
}

// IsDir reports whether path is a directory, bucket or namespace.
func (fs *Filesystem) IsDir(ctx context.Context, path string) (bool, error) {
	info, err := fs.Info(ctx, path)
	if fserrors.Is(err, fserrors.NotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return info.IsDir(), nil
}

// IsFile reports whether path is an object.
func (fs *Filesystem) IsFile(ctx context.Context, path string) (bool, error) {
	info, err := fs.Info(ctx, path)
	if fserrors.Is(err, fserrors.NotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return !info.IsDir(), nil
}

// Checksum returns the ETag of path. It changes whenever the content does.
func (fs *Filesystem) Checksum(ctx context.Context, path string) (string, error) {
	info, err := fs.Info(ctx, path)
	if err != nil {
		return "", err
	}
	return info.ETag, nil
}

// WalkFunc is called once per directory visited by Walk with the
// directory's subdirectories and files.
type WalkFunc func(dir string, dirs, files []cache.Entry) error

// Walk visits path and the directories below it, top down. A positive
// maxDepth limits how many levels are visited.
func (fs *Filesystem) Walk(ctx context.Context, path string, maxDepth int, fn WalkFunc) error {
	p, err := fs.Split(ctx, path)
	if err != nil {
		return err
	}
	if p.Container == "" {
		return fserrors.Invalid("walk", path, "cannot crawl all of object storage")
	}
	return fs.walk(ctx, p, maxDepth, fn)
}

func (fs *Filesystem) walk(ctx context.Context, p ocipath.LogicalPath, depth int, fn WalkFunc) error {
	listing, err := fs.list(ctx, p, false)
	if err != nil {
		return err
	}
	var dirs, files []cache.Entry
	for _, e := range listing {
		if e.IsDir() {
			dirs = append(dirs, e)
		} else {
			files = append(files, e)
		}
	}
	if err := fn(p.String(), dirs, files); err != nil {
		return err
	}
	if depth == 1 {
		return nil
	}
	for _, d := range dirs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fs.walk(ctx, p.WithKey(keyOf(p, d.Name)), depth-1, fn); err != nil {
			return err
		}
	}
	return nil
}

// FindOptions controls Find.
type FindOptions struct {
	MaxDepth int
	WithDirs bool
}

// Find returns every object below path, sorted by name, and the
// directories too when WithDirs is set. A path naming an object yields just
// that object.
func (fs *Filesystem) Find(ctx context.Context, path string, opts FindOptions) ([]cache.Entry, error) {
	p, err := fs.Split(ctx, path)
	if err != nil {
		return nil, err
	}
	if p.Container == "" {
		return nil, fserrors.Invalid("find", path, "cannot crawl all of object storage")
	}
	return fs.find(ctx, p, opts)
}

func (fs *Filesystem) find(ctx context.Context, p ocipath.LogicalPath, opts FindOptions) ([]cache.Entry, error) {
	var out []cache.Entry
	err := fs.walk(ctx, p, opts.MaxDepth, func(_ string, dirs, files []cache.Entry) error {
		if opts.WithDirs {
			out = append(out, dirs...)
		}
		out = append(out, files...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(out) == 0 && p.Key != "" {
		info, err := fs.info(ctx, p)
		switch {
		case err == nil && !info.IsDir():
			out = append(out, info.Entry)
		case err != nil && !fserrors.Is(err, fserrors.NotFound):
			return nil, err
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Du returns the total size of the objects below path.
func (fs *Filesystem) Du(ctx context.Context, path string) (int64, error) {
	files, err := fs.Find(ctx, path, FindOptions{})
	if err != nil {
		return 0, err
	}
	var total int64
	for _, f := range files {
		total += f.Size
	}
	return total, nil
}
