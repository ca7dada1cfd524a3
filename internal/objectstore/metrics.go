package objectstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the counters shared by every instrumented store.
type Metrics struct {
	ops     *prometheus.CounterVec
	errs    *prometheus.CounterVec
	ioBytes *prometheus.CounterVec
}

// NewMetrics registers the object store counters with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{}
	m.ops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ocifs",
			Subsystem: "objectstore",
			Name:      "operations",
			Help:      "Number of object store operations",
		},
		[]string{"backend", "operation"},
	)
	reg.MustRegister(m.ops)
	m.errs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ocifs",
			Subsystem: "objectstore",
			Name:      "errors",
			Help:      "Number of object store errors",
		},
		[]string{"backend", "operation", "error_type"},
	)
	reg.MustRegister(m.errs)
	m.ioBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ocifs",
			Subsystem: "objectstore",
			Name:      "io_bytes",
			Help:      "Object store traffic in bytes",
		},
		[]string{"backend", "direction"},
	)
	reg.MustRegister(m.ioBytes)
	return m
}

// Instrument wraps store so every call is counted under the given backend
// label.
func (m *Metrics) Instrument(store ObjectStore, backend string) ObjectStore {
	lbls := prometheus.Labels{"backend": backend}
	return &instrumented{
		next:    store,
		ops:     m.ops.MustCurryWith(lbls),
		errs:    m.errs.MustCurryWith(lbls),
		ioBytes: m.ioBytes.MustCurryWith(lbls),
	}
}

type instrumented struct {
	next    ObjectStore
	ops     *prometheus.CounterVec
	errs    *prometheus.CounterVec
	ioBytes *prometheus.CounterVec
}

var _ ObjectStore = (*instrumented)(nil)

func (s *instrumented) count(op string, err error) {
	s.ops.WithLabelValues(op).Inc()
	if err == nil {
		return
	}
	errType := fmt.Sprintf("%T", err)
	var rerr *RemoteError
	if errors.As(err, &rerr) {
		errType = rerr.Code
	}
	s.errs.WithLabelValues(op, errType).Inc()
}

func (s *instrumented) HeadObject(ctx context.Context, req *HeadObjectRequest) (*ObjectInfo, error) {
	info, err := s.next.HeadObject(ctx, req)
	s.count("head_object", err)
	return info, err
}

func (s *instrumented) GetObjectRange(ctx context.Context, req *GetObjectRequest) ([]byte, error) {
	data, err := s.next.GetObjectRange(ctx, req)
	s.count("get_object", err)
	s.ioBytes.WithLabelValues("in").Add(float64(len(data)))
	return data, err
}

func (s *instrumented) PutObject(ctx context.Context, req *PutObjectRequest) (*PutObjectResult, error) {
	res, err := s.next.PutObject(ctx, req)
	s.count("put_object", err)
	if err == nil {
		s.ioBytes.WithLabelValues("out").Add(float64(len(req.Body)))
	}
	return res, err
}

func (s *instrumented) ListObjects(ctx context.Context, req *ListObjectsRequest) (*ListObjectsResult, error) {
	res, err := s.next.ListObjects(ctx, req)
	s.count("list_objects", err)
	return res, err
}

func (s *instrumented) CreateMultipartUpload(ctx context.Context, req *CreateMultipartUploadRequest) (*MultipartUpload, error) {
	mpu, err := s.next.CreateMultipartUpload(ctx, req)
	s.count("create_multipart_upload", err)
	return mpu, err
}

func (s *instrumented) UploadPart(ctx context.Context, req *UploadPartRequest) (*UploadPartResult, error) {
	res, err := s.next.UploadPart(ctx, req)
	s.count("upload_part", err)
	if err == nil {
		s.ioBytes.WithLabelValues("out").Add(float64(len(req.Body)))
	}
	return res, err
}

func (s *instrumented) CommitMultipartUpload(ctx context.Context, req *CommitMultipartUploadRequest) (*PutObjectResult, error) {
	res, err := s.next.CommitMultipartUpload(ctx, req)
	s.count("commit_multipart_upload", err)
	return res, err
}

func (s *instrumented) AbortMultipartUpload(ctx context.Context, req *AbortMultipartUploadRequest) error {
	err := s.next.AbortMultipartUpload(ctx, req)
	s.count("abort_multipart_upload", err)
	return err
}

func (s *instrumented) DeleteObject(ctx context.Context, req *DeleteObjectRequest) error {
	err := s.next.DeleteObject(ctx, req)
	s.count("delete_object", err)
	return err
}

func (s *instrumented) CopyObject(ctx context.Context, req *CopyObjectRequest) error {
	err := s.next.CopyObject(ctx, req)
	s.count("copy_object", err)
	return err
}

func (s *instrumented) RenameObject(ctx context.Context, req *RenameObjectRequest) error {
	err := s.next.RenameObject(ctx, req)
	s.count("rename_object", err)
	return err
}

func (s *instrumented) HeadBucket(ctx context.Context, req *BucketRequest) (*BucketInfo, error) {
	info, err := s.next.HeadBucket(ctx, req)
	s.count("head_bucket", err)
	return info, err
}

func (s *instrumented) CreateBucket(ctx context.Context, req *CreateBucketRequest) error {
	err := s.next.CreateBucket(ctx, req)
	s.count("create_bucket", err)
	return err
}

func (s *instrumented) DeleteBucket(ctx context.Context, req *BucketRequest) error {
	err := s.next.DeleteBucket(ctx, req)
	s.count("delete_bucket", err)
	return err
}

func (s *instrumented) ListBuckets(ctx context.Context, req *ListBucketsRequest) ([]BucketInfo, error) {
	buckets, err := s.next.ListBuckets(ctx, req)
	s.count("list_buckets", err)
	return buckets, err
}

func (s *instrumented) GetNamespace(ctx context.Context) (string, error) {
	ns, err := s.next.GetNamespace(ctx)
	s.count("get_namespace", err)
	return ns, err
}

func (s *instrumented) GetNamespaceMetadata(ctx context.Context, namespace string) (*NamespaceMetadata, error) {
	md, err := s.next.GetNamespaceMetadata(ctx, namespace)
	s.count("get_namespace_metadata", err)
	return md, err
}
