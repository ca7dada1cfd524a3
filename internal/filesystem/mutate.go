package filesystem

import (
	"context"
	"path"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ocifs/ocifs-go/internal/fserrors"
	"github.com/ocifs/ocifs-go/internal/objectstore"
	"github.com/ocifs/ocifs-go/internal/ocipath"
)

func namespaceRoot(p ocipath.LogicalPath) string {
	return ocipath.Join("", p.Namespace, "")
}

// Mkdir creates the bucket of path when the path names a bucket or
// createParents is set. Object storage has no directories, so a key only
// requires its bucket to exist.
func (fs *Filesystem) Mkdir(ctx context.Context, path string, createParents bool) error {
	p, err := fs.Split(ctx, path)
	if err != nil {
		return err
	}
	if p.Container == "" {
		return fserrors.Invalid("mkdir", path, "no bucket name given")
	}

	if p.Key == "" || createParents {
		compartment, err := fs.defaultTenancy(ctx, p.Namespace)
		if err != nil {
			return err
		}
		fs.logger.WithFields(logrus.Fields{"container": p.Container, "namespace": p.Namespace, "compartment": compartment}).Debug("creating bucket")
		err = fs.withReauth(ctx, func() error {
			return fs.store(p).CreateBucket(ctx, &objectstore.CreateBucketRequest{
				Namespace:     p.Namespace,
				Bucket:        p.Container,
				CompartmentID: compartment,
			})
		})
		if err = fserrors.Wrap(err, "mkdir", p.String()); err != nil && !fserrors.Is(err, fserrors.Conflict) {
			return err
		}
		fs.dircache.Invalidate(namespaceRoot(p))
		fs.dircache.Invalidate(p.String())
		return nil
	}

	ok, err := fs.bucketExists(ctx, p)
	if err != nil {
		return err
	}
	if !ok {
		return fserrors.New(fserrors.NotFound, "mkdir", p.FullContainer(), "bucket does not exist")
	}
	return nil
}

func (fs *Filesystem) bucketExists(ctx context.Context, p ocipath.LogicalPath) (bool, error) {
	err := fs.withReauth(ctx, func() error {
		_, err := fs.store(p).HeadBucket(ctx, &objectstore.BucketRequest{Namespace: p.Namespace, Bucket: p.Container})
		return err
	})
	err = fserrors.Wrap(err, "head bucket", p.FullContainer())
	switch {
	case err == nil:
		return true, nil
	case fserrors.Is(err, fserrors.NotFound):
		return false, nil
	}
	return false, err
}

// Rmdir removes an empty directory. Only buckets exist remotely; an empty
// key prefix has nothing to delete.
func (fs *Filesystem) Rmdir(ctx context.Context, path string) error {
	p, err := fs.Split(ctx, path)
	if err != nil {
		return err
	}
	listing, err := fs.listPath(ctx, p, false)
	if err != nil {
		return err
	}
	if len(listing) > 0 {
		return &fserrors.Error{Kind: fserrors.InvalidArgument, Op: "rmdir", Path: p.String(), Err: fserrors.ErrNotEmpty}
	}
	if p.Key == "" {
		return fs.deleteBucket(ctx, p)
	}
	return nil
}

func (fs *Filesystem) deleteBucket(ctx context.Context, p ocipath.LogicalPath) error {
	err := fs.withReauth(ctx, func() error {
		return fs.store(p).DeleteBucket(ctx, &objectstore.BucketRequest{Namespace: p.Namespace, Bucket: p.Container})
	})
	if err != nil {
		return fserrors.Wrap(err, "delete bucket", p.String())
	}
	fs.dircache.Invalidate(p.String())
	fs.dircache.Invalidate(namespaceRoot(p))
	return nil
}

// Rm removes an object, or a bucket when path names one. With recursive
// set everything below path is removed too.
func (fs *Filesystem) Rm(ctx context.Context, path string, recursive bool) error {
	p, err := fs.Split(ctx, path)
	if err != nil {
		return err
	}
	if p.Container == "" {
		return fserrors.Invalid("rm", path, "cannot remove a namespace")
	}

	if recursive {
		files, err := fs.find(ctx, p, FindOptions{})
		if err != nil {
			return err
		}
		if p.Key != "" && len(files) == 0 {
			return fserrors.New(fserrors.NotFound, "rm", p.String(), "no such file or directory")
		}
		paths := make([]ocipath.LogicalPath, 0, len(files))
		for _, f := range files {
			paths = append(paths, p.WithKey(keyOf(p, f.Name)))
		}
		err = fs.bulkDelete(ctx, paths)
		fs.forgetTree(p, paths)
		if err != nil {
			return err
		}
		if p.Key == "" {
			return fs.Rmdir(ctx, p.String())
		}
		return nil
	}

	if p.Key == "" {
		ok, err := fs.bucketExists(ctx, p)
		if err != nil {
			return err
		}
		if !ok {
			return fserrors.New(fserrors.NotFound, "rm", p.String(), "no such bucket")
		}
		return fs.deleteBucket(ctx, p)
	}

	info, err := fs.info(ctx, p)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fserrors.Invalid("rm", p.String(), "is a directory")
	}
	if err := fs.deleteObject(ctx, p); err != nil {
		return err
	}
	fs.dircache.Invalidate(parentOf(p).String())
	return nil
}

// forgetTree drops the listing of root and of every directory below it that
// held one of files. Deleting a file only reaches its parent and grandparent.
func (fs *Filesystem) forgetTree(root ocipath.LogicalPath, files []ocipath.LogicalPath) {
	seen := make(map[string]bool)
	for _, f := range files {
		for d := parentOf(f); len(d.Key) > len(root.Key); d = parentOf(d) {
			if seen[d.String()] {
				break
			}
			seen[d.String()] = true
			fs.dircache.Invalidate(d.String())
		}
	}
	fs.dircache.Invalidate(root.String())
}

func (fs *Filesystem) deleteObject(ctx context.Context, p ocipath.LogicalPath) error {
	err := fs.withReauth(ctx, func() error {
		return fs.store(p).DeleteObject(ctx, &objectstore.DeleteObjectRequest{Namespace: p.Namespace, Bucket: p.Container, Key: p.Key})
	})
	return fserrors.Wrap(err, "rm", p.String())
}

// BulkDelete removes objects that all live in one bucket.
func (fs *Filesystem) BulkDelete(ctx context.Context, paths []string) error {
	parsed := make([]ocipath.LogicalPath, 0, len(paths))
	for _, path := range paths {
		p, err := fs.Split(ctx, path)
		if err != nil {
			return err
		}
		parsed = append(parsed, p)
	}
	return fs.bulkDelete(ctx, parsed)
}

func (fs *Filesystem) bulkDelete(ctx context.Context, paths []ocipath.LogicalPath) error {
	if len(paths) == 0 {
		return nil
	}
	container := paths[0].FullContainer()
	for _, p := range paths[1:] {
		if p.FullContainer() != container {
			return fserrors.Invalid("bulk delete", p.String(), "bulk delete files should refer to only one bucket, got %s and %s", container, p.FullContainer())
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fs.deleteConcurrency)
	for _, p := range paths {
		p := p
		fs.dircache.Invalidate(parentOf(p).String())
		g.Go(func() error {
			return fs.deleteObject(gctx, p)
		})
	}
	err := g.Wait()
	fs.logger.WithFields(logrus.Fields{"path": container, "count": len(paths)}).Debug("bulk delete finished")
	return err
}

// Touch creates path with data, replacing any existing object unless
// truncate is false, in which case an existing object is an error.
func (fs *Filesystem) Touch(ctx context.Context, path string, truncate bool, data []byte) error {
	p, err := fs.Split(ctx, path)
	if err != nil {
		return err
	}
	if p.Key == "" {
		return fserrors.Invalid("touch", path, "buckets cannot be created with touch")
	}
	if !truncate {
		if _, err := fs.info(ctx, p); err == nil {
			return fserrors.Invalid("touch", p.String(), "object storage does not support touching existing files")
		} else if !fserrors.Is(err, fserrors.NotFound) {
			return err
		}
	}
	if err := fs.putObject(ctx, p, data, ""); err != nil {
		return err
	}
	fs.dircache.Invalidate(p.String())
	return nil
}

func (fs *Filesystem) putObject(ctx context.Context, p ocipath.LogicalPath, data []byte, contentType string) error {
	if data == nil {
		data = []byte{}
	}
	err := fs.withReauth(ctx, func() error {
		_, err := fs.store(p).PutObject(ctx, &objectstore.PutObjectRequest{
			Namespace:   p.Namespace,
			Bucket:      p.Container,
			Key:         p.Key,
			Body:        data,
			ContentType: contentType,
		})
		return err
	})
	return fserrors.Wrap(err, "put", p.String())
}

// Copy copies an object server side. Copying a directory copies every
// object below it.
func (fs *Filesystem) Copy(ctx context.Context, src, dst string) error {
	sp, err := fs.Split(ctx, src)
	if err != nil {
		return err
	}
	dp, err := fs.Split(ctx, dst)
	if err != nil {
		return err
	}
	if sp.Container == "" || dp.Container == "" {
		return fserrors.Invalid("copy", src, "source and destination must name a bucket")
	}

	info, err := fs.info(ctx, sp)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		if dp.Key == "" {
			dp = dp.WithKey(path.Base(sp.Key))
		}
		return fs.copyObject(ctx, sp, dp, info.Size)
	}

	files, err := fs.find(ctx, sp, FindOptions{})
	if err != nil {
		return err
	}
	for _, f := range files {
		rel := keyOf(sp, f.Name)
		if sp.Key != "" {
			rel = rel[len(sp.Key)+1:]
		}
		target := rel
		if dp.Key != "" {
			target = dp.Key + "/" + rel
		}
		if err := fs.copyObject(ctx, sp.WithKey(keyOf(sp, f.Name)), dp.WithKey(target), f.Size); err != nil {
			return err
		}
	}
	return nil
}

func (fs *Filesystem) copyObject(ctx context.Context, src, dst ocipath.LogicalPath, size int64) error {
	err := fs.withReauth(ctx, func() error {
		return fs.store(src).CopyObject(ctx, &objectstore.CopyObjectRequest{
			SourceNamespace:      src.Namespace,
			SourceBucket:         src.Container,
			SourceKey:            src.Key,
			DestinationRegion:    fs.region,
			DestinationNamespace: dst.Namespace,
			DestinationBucket:    dst.Container,
			DestinationKey:       dst.Key,
		})
	})
	if err != nil {
		if size >= largeCopySize {
			return fserrors.New(fserrors.NotImplemented, "copy", src.String(), "copy does not support files over 50GiB: %v", err)
		}
		return fserrors.Wrap(err, "copy", src.String())
	}
	fs.dircache.Invalidate(dst.String())
	return nil
}

// Rename renames an object within its bucket.
func (fs *Filesystem) Rename(ctx context.Context, src, dst string) error {
	sp, err := fs.Split(ctx, src)
	if err != nil {
		return err
	}
	dp, err := fs.Split(ctx, dst)
	if err != nil {
		return err
	}
	if sp.Container != dp.Container || sp.Namespace != dp.Namespace {
		return fserrors.Invalid("rename", src, "rename is not allowed between different buckets or namespaces")
	}
	if sp.Key == "" || dp.Key == "" {
		return fserrors.Invalid("rename", src, "rename requires object keys")
	}

	err = fs.withReauth(ctx, func() error {
		return fs.store(sp).RenameObject(ctx, &objectstore.RenameObjectRequest{
			Namespace: sp.Namespace,
			Bucket:    sp.Container,
			SourceKey: sp.Key,
			NewKey:    dp.Key,
		})
	})
	if err != nil {
		return fserrors.Wrap(err, "rename", sp.String())
	}
	fs.dircache.Invalidate(sp.String())
	fs.dircache.Invalidate(dp.String())
	return nil
}
