package filesystem

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/ocifs/ocifs-go/internal/objectstore"
	"github.com/ocifs/ocifs-go/internal/storage"
	"github.com/ocifs/ocifs-go/internal/storage/memory"
)

const testCompartment = "ocid1.compartment.oc1..test"

// recordingStore counts calls to the wrapped store and injects failures.
type recordingStore struct {
	objectstore.ObjectStore

	mu    sync.Mutex
	calls map[string]int

	partNumbers []int
	// failParts fails that many UploadPart calls with partErr.
	failParts int
	partErr   error
	// authFailures fails the next n calls of an operation with a 401.
	authFailures map[string]int
	// failGets fails that many GetObjectRange calls with a 503.
	failGets int
	// padGets returns one byte more than requested.
	padGets bool
}

func newRecordingStore(store objectstore.ObjectStore) *recordingStore {
	return &recordingStore{
		ObjectStore:  store,
		calls:        make(map[string]int),
		authFailures: make(map[string]int),
	}
}

func (r *recordingStore) record(op string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[op]++
	if r.authFailures[op] > 0 {
		r.authFailures[op]--
		return objectstore.NewRemoteError(401, "NotAuthenticated", "the required information to complete authentication was not provided")
	}
	return nil
}

func (r *recordingStore) count(op string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[op]
}

func (r *recordingStore) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = make(map[string]int)
	r.partNumbers = nil
}

func (r *recordingStore) HeadObject(ctx context.Context, req *objectstore.HeadObjectRequest) (*objectstore.ObjectInfo, error) {
	if err := r.record("HeadObject"); err != nil {
		return nil, err
	}
	return r.ObjectStore.HeadObject(ctx, req)
}

func (r *recordingStore) GetObjectRange(ctx context.Context, req *objectstore.GetObjectRequest) ([]byte, error) {
	if err := r.record("GetObjectRange"); err != nil {
		return nil, err
	}
	r.mu.Lock()
	fail := r.failGets > 0
	if fail {
		r.failGets--
	}
	pad := r.padGets
	r.mu.Unlock()
	if fail {
		return nil, objectstore.NewRemoteError(503, "ServiceUnavailable", "try again")
	}
	data, err := r.ObjectStore.GetObjectRange(ctx, req)
	if err == nil && pad {
		data = append(data, 'x')
	}
	return data, err
}

func (r *recordingStore) PutObject(ctx context.Context, req *objectstore.PutObjectRequest) (*objectstore.PutObjectResult, error) {
	if err := r.record("PutObject"); err != nil {
		return nil, err
	}
	return r.ObjectStore.PutObject(ctx, req)
}

func (r *recordingStore) ListObjects(ctx context.Context, req *objectstore.ListObjectsRequest) (*objectstore.ListObjectsResult, error) {
	if err := r.record("ListObjects"); err != nil {
		return nil, err
	}
	return r.ObjectStore.ListObjects(ctx, req)
}

func (r *recordingStore) ListBuckets(ctx context.Context, req *objectstore.ListBucketsRequest) ([]objectstore.BucketInfo, error) {
	if err := r.record("ListBuckets"); err != nil {
		return nil, err
	}
	return r.ObjectStore.ListBuckets(ctx, req)
}

func (r *recordingStore) CreateMultipartUpload(ctx context.Context, req *objectstore.CreateMultipartUploadRequest) (*objectstore.MultipartUpload, error) {
	if err := r.record("CreateMultipartUpload"); err != nil {
		return nil, err
	}
	return r.ObjectStore.CreateMultipartUpload(ctx, req)
}

func (r *recordingStore) UploadPart(ctx context.Context, req *objectstore.UploadPartRequest) (*objectstore.UploadPartResult, error) {
	if err := r.record("UploadPart"); err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.partNumbers = append(r.partNumbers, req.PartNumber)
	fail := r.failParts > 0
	if fail {
		r.failParts--
	}
	perr := r.partErr
	r.mu.Unlock()
	if fail {
		if perr == nil {
			perr = objectstore.NewRemoteError(503, "ServiceUnavailable", "try again")
		}
		return nil, perr
	}
	return r.ObjectStore.UploadPart(ctx, req)
}

func (r *recordingStore) CommitMultipartUpload(ctx context.Context, req *objectstore.CommitMultipartUploadRequest) (*objectstore.PutObjectResult, error) {
	if err := r.record("CommitMultipartUpload"); err != nil {
		return nil, err
	}
	return r.ObjectStore.CommitMultipartUpload(ctx, req)
}

func (r *recordingStore) AbortMultipartUpload(ctx context.Context, req *objectstore.AbortMultipartUploadRequest) error {
	if err := r.record("AbortMultipartUpload"); err != nil {
		return err
	}
	return r.ObjectStore.AbortMultipartUpload(ctx, req)
}

func (r *recordingStore) DeleteObject(ctx context.Context, req *objectstore.DeleteObjectRequest) error {
	if err := r.record("DeleteObject"); err != nil {
		return err
	}
	return r.ObjectStore.DeleteObject(ctx, req)
}

type countingRefresher struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (c *countingRefresher) Refresh(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return c.err
}

func (c *countingRefresher) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

type testEnv struct {
	fs        *Filesystem
	store     *storage.Store
	rec       *recordingStore
	refresher *countingRefresher
}

// newTestEnv returns a filesystem over an in-memory store holding bucket b
// in namespace ns.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := storage.NewStore(memory.New(), "ns")
	store.CompartmentID = testCompartment
	store.Logger = quietLogger()
	require.NoError(t, store.CreateBucket(context.Background(), &objectstore.CreateBucketRequest{
		Namespace: "ns", Bucket: "b", CompartmentID: testCompartment,
	}))

	rec := newRecordingStore(store)
	refresher := &countingRefresher{}
	fs, err := New(Options{
		Store:     rec,
		Refresher: refresher,
		Namespace: "ns",
		Logger:    quietLogger(),
	})
	require.NoError(t, err)
	return &testEnv{fs: fs, store: store, rec: rec, refresher: refresher}
}

func (e *testEnv) put(t *testing.T, key string, body []byte) {
	t.Helper()
	_, err := e.store.PutObject(context.Background(), &objectstore.PutObjectRequest{
		Namespace: "ns", Bucket: "b", Key: key, Body: body,
	})
	require.NoError(t, err)
}

func (e *testEnv) content(t *testing.T, key string) []byte {
	t.Helper()
	data, err := e.store.GetObjectRange(context.Background(), &objectstore.GetObjectRequest{
		Namespace: "ns", Bucket: "b", Key: key,
	})
	require.NoError(t, err)
	return data
}

func pattern(n int) []byte {
	return bytes.Repeat([]byte("0123456789abcdef"), n/16+1)[:n]
}
