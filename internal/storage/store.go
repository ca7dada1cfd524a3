package storage

import (
	"bytes"
	"context"
	"crypto/md5"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ocifs/ocifs-go/internal/objectstore"
	"github.com/ocifs/ocifs-go/internal/storage/types"
)

const defaultListLimit = 1000

// Store implements objectstore.ObjectStore on top of a storage driver.
// Multipart uploads are assembled in memory and written as a single object on commit.
type Store struct {
	backend   types.Backend
	namespace string

	// CompartmentID is reported as the namespace's default compartment.
	CompartmentID string
	Logger        logrus.FieldLogger

	mu      sync.Mutex
	uploads map[string]*pendingUpload
}

type pendingUpload struct {
	namespace   string
	bucket      string
	key         string
	contentType string
	parts       map[int]storedPart
}

type storedPart struct {
	data []byte
	etag string
}

var _ objectstore.ObjectStore = (*Store)(nil)

// NewStore creates a Store serving namespace from backend.
func NewStore(backend types.Backend, namespace string) *Store {
	return &Store{
		backend:   backend,
		namespace: namespace,
		Logger:    logrus.StandardLogger(),
		uploads:   make(map[string]*pendingUpload),
	}
}

// Backend returns the underlying driver.
func (s *Store) Backend() types.Backend {
	return s.backend
}

// Close closes the underlying driver.
func (s *Store) Close() error {
	return s.backend.Close()
}

func checksums(data []byte) (etag, md5sum string) {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:]), base64.StdEncoding.EncodeToString(sum[:])
}

func newUploadID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate upload id: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func bucketNotFound(ns, bucket string) error {
	return objectstore.NewRemoteError(404, "BucketNotFound", "bucket %s in namespace %s does not exist", bucket, ns)
}

func objectNotFound(bucket, key string) error {
	return objectstore.NewRemoteError(404, "ObjectNotFound", "object %s in bucket %s does not exist", key, bucket)
}

func (s *Store) requireBucket(ctx context.Context, ns, bucket string) (*types.ContainerRecord, error) {
	rec, err := s.backend.StatContainer(ctx, ns, bucket)
	if errors.Is(err, os.ErrNotExist) {
		return nil, bucketNotFound(ns, bucket)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat bucket: %w", err)
	}
	return rec, nil
}

func (s *Store) statObject(ctx context.Context, ns, bucket, key string) (*types.ObjectRecord, error) {
	if _, err := s.requireBucket(ctx, ns, bucket); err != nil {
		return nil, err
	}
	rec, err := s.backend.StatObject(ctx, ns, bucket, key)
	if errors.Is(err, os.ErrNotExist) {
		return nil, objectNotFound(bucket, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat object: %w", err)
	}
	return rec, nil
}

func (s *Store) readObject(ctx context.Context, ns, bucket, key string) (*types.ObjectRecord, error) {
	if _, err := s.requireBucket(ctx, ns, bucket); err != nil {
		return nil, err
	}
	rec, err := s.backend.ReadObject(ctx, ns, bucket, key)
	if errors.Is(err, os.ErrNotExist) {
		return nil, objectNotFound(bucket, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read object: %w", err)
	}
	return rec, nil
}

func (s *Store) writeObject(ctx context.Context, ns, bucket, key string, data []byte, contentType string, metadata map[string]string, etag, md5sum string) error {
	now := time.Now().UTC()
	rec := &types.ObjectRecord{
		Key:         key,
		Data:        data,
		Size:        int64(len(data)),
		ETag:        etag,
		MD5:         md5sum,
		ContentType: contentType,
		Metadata:    metadata,
		Created:     now,
		Modified:    now,
	}
	if old, err := s.backend.StatObject(ctx, ns, bucket, key); err == nil {
		rec.Created = old.Created
	}
	if err := s.backend.WriteObject(ctx, ns, bucket, rec); err != nil {
		return fmt.Errorf("failed to write object: %w", err)
	}
	return nil
}

// HeadObject returns an object's metadata
func (s *Store) HeadObject(ctx context.Context, req *objectstore.HeadObjectRequest) (*objectstore.ObjectInfo, error) {
	rec, err := s.statObject(ctx, req.Namespace, req.Bucket, req.Key)
	if err != nil {
		return nil, err
	}
	return &objectstore.ObjectInfo{
		Size:         rec.Size,
		ETag:         rec.ETag,
		MD5:          rec.MD5,
		ContentType:  rec.ContentType,
		LastModified: rec.Modified,
		StorageTier:  "Standard",
		Metadata:     rec.Metadata,
	}, nil
}

// GetObjectRange returns an object's data, or the requested slice of it
func (s *Store) GetObjectRange(ctx context.Context, req *objectstore.GetObjectRequest) ([]byte, error) {
	rec, err := s.readObject(ctx, req.Namespace, req.Bucket, req.Key)
	if err != nil {
		return nil, err
	}
	data := rec.Data
	if req.Range == nil {
		return data, nil
	}
	start, end := req.Range.Start, req.Range.End
	size := int64(len(data))
	if start < 0 || end < start || (start >= size && size > 0) {
		return nil, objectstore.NewRemoteError(416, "InvalidRange", "range %d-%d not satisfiable for size %d", start, end, size)
	}
	if end > size {
		end = size
	}
	if start > end {
		start = end
	}
	out := make([]byte, end-start)
	copy(out, data[start:end])
	return out, nil
}

// PutObject writes a whole object
func (s *Store) PutObject(ctx context.Context, req *objectstore.PutObjectRequest) (*objectstore.PutObjectResult, error) {
	if _, err := s.requireBucket(ctx, req.Namespace, req.Bucket); err != nil {
		return nil, err
	}
	etag, md5sum := checksums(req.Body)
	if err := s.writeObject(ctx, req.Namespace, req.Bucket, req.Key, req.Body, req.ContentType, req.Metadata, etag, md5sum); err != nil {
		return nil, err
	}
	return &objectstore.PutObjectResult{ETag: etag, MD5: md5sum}, nil
}

type listItem struct {
	name   string
	object *types.ObjectRecord
}

// ListObjects lists one page of objects and delimiter prefixes
func (s *Store) ListObjects(ctx context.Context, req *objectstore.ListObjectsRequest) (*objectstore.ListObjectsResult, error) {
	if _, err := s.requireBucket(ctx, req.Namespace, req.Bucket); err != nil {
		return nil, err
	}
	recs, err := s.backend.ListObjects(ctx, req.Namespace, req.Bucket, req.Prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list objects: %w", err)
	}

	var items []listItem
	seen := make(map[string]bool)
	for i := range recs {
		rec := &recs[i]
		rest := strings.TrimPrefix(rec.Key, req.Prefix)
		if req.Delimiter != "" {
			if j := strings.Index(rest, req.Delimiter); j >= 0 {
				p := req.Prefix + rest[:j+len(req.Delimiter)]
				if !seen[p] {
					seen[p] = true
					items = append(items, listItem{name: p})
				}
				continue
			}
		}
		items = append(items, listItem{name: rec.Key, object: rec})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].name < items[j].name })

	limit := req.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	res := &objectstore.ListObjectsResult{}
	count := 0
	for _, it := range items {
		if it.name < req.Start {
			continue
		}
		if count == limit {
			res.NextStart = it.name
			break
		}
		count++
		if it.object == nil {
			res.Prefixes = append(res.Prefixes, it.name)
			continue
		}
		res.Objects = append(res.Objects, objectstore.ObjectSummary{
			Name:         it.object.Key,
			Size:         it.object.Size,
			ETag:         it.object.ETag,
			MD5:          it.object.MD5,
			TimeCreated:  it.object.Created,
			TimeModified: it.object.Modified,
			StorageTier:  "Standard",
		})
	}
	return res, nil
}

// CreateMultipartUpload opens a multipart upload
func (s *Store) CreateMultipartUpload(ctx context.Context, req *objectstore.CreateMultipartUploadRequest) (*objectstore.MultipartUpload, error) {
	if _, err := s.requireBucket(ctx, req.Namespace, req.Bucket); err != nil {
		return nil, err
	}
	id, err := newUploadID()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.uploads[id] = &pendingUpload{
		namespace:   req.Namespace,
		bucket:      req.Bucket,
		key:         req.Key,
		contentType: req.ContentType,
		parts:       make(map[int]storedPart),
	}
	s.mu.Unlock()
	s.Logger.WithFields(logrus.Fields{"bucket": req.Bucket, "key": req.Key, "upload": id}).Debug("multipart upload created")
	return &objectstore.MultipartUpload{
		Namespace: req.Namespace,
		Bucket:    req.Bucket,
		Key:       req.Key,
		UploadID:  id,
	}, nil
}

func (s *Store) lookupUpload(id, bucket, key string) (*pendingUpload, error) {
	up, ok := s.uploads[id]
	if !ok || up.bucket != bucket || up.key != key {
		return nil, objectstore.NewRemoteError(404, "NoSuchUpload", "upload %s does not exist", id)
	}
	return up, nil
}

// UploadPart stores one part of a multipart upload
func (s *Store) UploadPart(ctx context.Context, req *objectstore.UploadPartRequest) (*objectstore.UploadPartResult, error) {
	if req.PartNumber < 1 || req.PartNumber > 10000 {
		return nil, objectstore.NewRemoteError(400, "InvalidParameter", "part number %d out of range", req.PartNumber)
	}
	data := make([]byte, len(req.Body))
	copy(data, req.Body)
	etag, _ := checksums(data)

	s.mu.Lock()
	defer s.mu.Unlock()
	up, err := s.lookupUpload(req.UploadID, req.Bucket, req.Key)
	if err != nil {
		return nil, err
	}
	up.parts[req.PartNumber] = storedPart{data: data, etag: etag}
	return &objectstore.UploadPartResult{ETag: etag}, nil
}

// CommitMultipartUpload assembles the listed parts into the final object
func (s *Store) CommitMultipartUpload(ctx context.Context, req *objectstore.CommitMultipartUploadRequest) (*objectstore.PutObjectResult, error) {
	s.mu.Lock()
	up, err := s.lookupUpload(req.UploadID, req.Bucket, req.Key)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if len(req.Parts) == 0 {
		s.mu.Unlock()
		return nil, objectstore.NewRemoteError(400, "InvalidParameter", "no parts to commit")
	}
	var body bytes.Buffer
	sums := md5.New()
	last := 0
	for _, p := range req.Parts {
		if p.PartNumber <= last {
			s.mu.Unlock()
			return nil, objectstore.NewRemoteError(400, "InvalidPartOrder", "part %d listed after part %d", p.PartNumber, last)
		}
		last = p.PartNumber
		stored, ok := up.parts[p.PartNumber]
		if !ok || stored.etag != p.ETag {
			s.mu.Unlock()
			return nil, objectstore.NewRemoteError(400, "InvalidPart", "part %d was not uploaded with etag %s", p.PartNumber, p.ETag)
		}
		body.Write(stored.data)
		raw, _ := hex.DecodeString(stored.etag)
		sums.Write(raw)
	}
	delete(s.uploads, req.UploadID)
	s.mu.Unlock()

	etag := fmt.Sprintf("%s-%d", hex.EncodeToString(sums.Sum(nil)), len(req.Parts))
	_, md5sum := checksums(body.Bytes())
	if err := s.writeObject(ctx, up.namespace, up.bucket, up.key, body.Bytes(), up.contentType, nil, etag, md5sum); err != nil {
		return nil, err
	}
	s.Logger.WithFields(logrus.Fields{"bucket": up.bucket, "key": up.key, "parts": len(req.Parts)}).Debug("multipart upload committed")
	return &objectstore.PutObjectResult{ETag: etag, MD5: md5sum}, nil
}

// AbortMultipartUpload discards a multipart upload
func (s *Store) AbortMultipartUpload(ctx context.Context, req *objectstore.AbortMultipartUploadRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.lookupUpload(req.UploadID, req.Bucket, req.Key); err != nil {
		return err
	}
	delete(s.uploads, req.UploadID)
	return nil
}

// PendingUploads returns the number of open multipart uploads.
func (s *Store) PendingUploads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.uploads)
}

// DeleteObject deletes an object
func (s *Store) DeleteObject(ctx context.Context, req *objectstore.DeleteObjectRequest) error {
	if _, err := s.requireBucket(ctx, req.Namespace, req.Bucket); err != nil {
		return err
	}
	err := s.backend.DeleteObject(ctx, req.Namespace, req.Bucket, req.Key)
	if errors.Is(err, os.ErrNotExist) {
		return objectNotFound(req.Bucket, req.Key)
	}
	if err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

// CopyObject copies an object, possibly across buckets
func (s *Store) CopyObject(ctx context.Context, req *objectstore.CopyObjectRequest) error {
	src, err := s.readObject(ctx, req.SourceNamespace, req.SourceBucket, req.SourceKey)
	if err != nil {
		return err
	}
	if _, err := s.requireBucket(ctx, req.DestinationNamespace, req.DestinationBucket); err != nil {
		return err
	}
	return s.writeObject(ctx, req.DestinationNamespace, req.DestinationBucket, req.DestinationKey,
		src.Data, src.ContentType, src.Metadata, src.ETag, src.MD5)
}

// RenameObject renames an object within a bucket
func (s *Store) RenameObject(ctx context.Context, req *objectstore.RenameObjectRequest) error {
	if _, err := s.statObject(ctx, req.Namespace, req.Bucket, req.SourceKey); err != nil {
		return err
	}
	if err := s.backend.RenameObject(ctx, req.Namespace, req.Bucket, req.SourceKey, req.NewKey); err != nil {
		return fmt.Errorf("failed to rename object: %w", err)
	}
	return nil
}

func bucketInfo(rec *types.ContainerRecord) objectstore.BucketInfo {
	return objectstore.BucketInfo{
		Name:          rec.Name,
		Namespace:     rec.Namespace,
		ETag:          rec.ETag,
		CompartmentID: rec.CompartmentID,
		TimeCreated:   rec.Created,
	}
}

// HeadBucket returns a bucket's metadata
func (s *Store) HeadBucket(ctx context.Context, req *objectstore.BucketRequest) (*objectstore.BucketInfo, error) {
	rec, err := s.requireBucket(ctx, req.Namespace, req.Bucket)
	if err != nil {
		return nil, err
	}
	info := bucketInfo(rec)
	return &info, nil
}

// CreateBucket creates a bucket
func (s *Store) CreateBucket(ctx context.Context, req *objectstore.CreateBucketRequest) error {
	if req.Bucket == "" {
		return objectstore.NewRemoteError(400, "InvalidParameter", "bucket name is empty")
	}
	etag, _ := checksums([]byte(req.Namespace + "/" + req.Bucket + time.Now().String()))
	err := s.backend.CreateContainer(ctx, types.ContainerRecord{
		Namespace:     req.Namespace,
		Name:          req.Bucket,
		CompartmentID: req.CompartmentID,
		ETag:          etag,
		Created:       time.Now().UTC(),
	})
	if errors.Is(err, os.ErrExist) {
		return objectstore.NewRemoteError(409, "BucketAlreadyExists", "bucket %s already exists", req.Bucket)
	}
	if err != nil {
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}

// DeleteBucket deletes an empty bucket
func (s *Store) DeleteBucket(ctx context.Context, req *objectstore.BucketRequest) error {
	err := s.backend.DeleteContainer(ctx, req.Namespace, req.Bucket)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return bucketNotFound(req.Namespace, req.Bucket)
	case errors.Is(err, types.ErrContainerNotEmpty):
		return objectstore.NewRemoteError(409, "BucketNotEmpty", "bucket %s is not empty", req.Bucket)
	case err != nil:
		return fmt.Errorf("failed to delete bucket: %w", err)
	}
	return nil
}

// ListBuckets lists the buckets of a namespace
func (s *Store) ListBuckets(ctx context.Context, req *objectstore.ListBucketsRequest) ([]objectstore.BucketInfo, error) {
	recs, err := s.backend.ListContainers(ctx, req.Namespace)
	if err != nil {
		return nil, fmt.Errorf("failed to list buckets: %w", err)
	}
	out := make([]objectstore.BucketInfo, 0, len(recs))
	for i := range recs {
		out = append(out, bucketInfo(&recs[i]))
	}
	return out, nil
}

// GetNamespace returns the namespace this store was created for
func (s *Store) GetNamespace(ctx context.Context) (string, error) {
	return s.namespace, nil
}

// GetNamespaceMetadata returns the compartment defaults for namespace
func (s *Store) GetNamespaceMetadata(ctx context.Context, namespace string) (*objectstore.NamespaceMetadata, error) {
	return &objectstore.NamespaceMetadata{
		Namespace:                 namespace,
		DefaultS3CompartmentID:    s.CompartmentID,
		DefaultSwiftCompartmentID: s.CompartmentID,
	}, nil
}
