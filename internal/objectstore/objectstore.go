// Package objectstore defines the object storage primitives the filesystem
// layer is built on, independent of the transport that implements them.
package objectstore

import (
	"context"
	"fmt"
	"time"
)

// ObjectStore is the capability interface consumed by the filesystem.
// Implementations return *RemoteError (or an SDK error carrying a code and
// status) when the backend rejects a call, and leave classifying it to the
// caller.
type ObjectStore interface {
	HeadObject(ctx context.Context, req *HeadObjectRequest) (*ObjectInfo, error)
	GetObjectRange(ctx context.Context, req *GetObjectRequest) ([]byte, error)
	PutObject(ctx context.Context, req *PutObjectRequest) (*PutObjectResult, error)
	ListObjects(ctx context.Context, req *ListObjectsRequest) (*ListObjectsResult, error)

	CreateMultipartUpload(ctx context.Context, req *CreateMultipartUploadRequest) (*MultipartUpload, error)
	UploadPart(ctx context.Context, req *UploadPartRequest) (*UploadPartResult, error)
	CommitMultipartUpload(ctx context.Context, req *CommitMultipartUploadRequest) (*PutObjectResult, error)
	AbortMultipartUpload(ctx context.Context, req *AbortMultipartUploadRequest) error

	DeleteObject(ctx context.Context, req *DeleteObjectRequest) error
	CopyObject(ctx context.Context, req *CopyObjectRequest) error
	RenameObject(ctx context.Context, req *RenameObjectRequest) error

	HeadBucket(ctx context.Context, req *BucketRequest) (*BucketInfo, error)
	CreateBucket(ctx context.Context, req *CreateBucketRequest) error
	DeleteBucket(ctx context.Context, req *BucketRequest) error
	ListBuckets(ctx context.Context, req *ListBucketsRequest) ([]BucketInfo, error)

	GetNamespace(ctx context.Context) (string, error)
	GetNamespaceMetadata(ctx context.Context, namespace string) (*NamespaceMetadata, error)
}

// ByteRange is a half-open byte interval [Start, End).
type ByteRange struct {
	Start int64
	End   int64
}

// Header renders the range as an HTTP Range header value.
func (r ByteRange) Header() string {
	return fmt.Sprintf("bytes=%d-%d", r.Start, r.End-1)
}

// Len returns the number of bytes covered by the range.
func (r ByteRange) Len() int64 {
	return r.End - r.Start
}

type HeadObjectRequest struct {
	Namespace string
	Bucket    string
	Key       string
}

type GetObjectRequest struct {
	Namespace string
	Bucket    string
	Key       string
	// Range is optional; nil fetches the whole object.
	Range *ByteRange
}

type PutObjectRequest struct {
	Namespace   string
	Bucket      string
	Key         string
	Body        []byte
	ContentType string
	Metadata    map[string]string
}

type PutObjectResult struct {
	ETag string
	MD5  string
}

type ListObjectsRequest struct {
	Namespace string
	Bucket    string
	Prefix    string
	Delimiter string
	// Start resumes a listing at the NextStart of a previous page. Stores
	// that page by name treat it as the first name (inclusive) to return.
	Start string
	// Limit caps the number of objects plus prefixes in one page. Zero
	// means the store default.
	Limit int
}

type ListObjectsResult struct {
	Objects  []ObjectSummary
	Prefixes []string
	// NextStart is empty on the last page.
	NextStart string
}

// ObjectSummary is a single object returned by a listing.
type ObjectSummary struct {
	Name          string
	Size          int64
	ETag          string
	MD5           string
	TimeCreated   time.Time
	TimeModified  time.Time
	StorageTier   string
	ArchivalState string
}

// ObjectInfo is the result of a head request.
type ObjectInfo struct {
	Size          int64
	ETag          string
	MD5           string
	ContentType   string
	LastModified  time.Time
	StorageTier   string
	ArchivalState string
	Metadata      map[string]string
}

type CreateMultipartUploadRequest struct {
	Namespace   string
	Bucket      string
	Key         string
	ContentType string
}

// MultipartUpload identifies an open multipart upload.
type MultipartUpload struct {
	Namespace string
	Bucket    string
	Key       string
	UploadID  string
}

type UploadPartRequest struct {
	Namespace  string
	Bucket     string
	Key        string
	UploadID   string
	PartNumber int
	Body       []byte
}

type UploadPartResult struct {
	ETag string
}

// CommittedPart is one entry of the part list sent on commit.
type CommittedPart struct {
	PartNumber int
	ETag       string
}

type CommitMultipartUploadRequest struct {
	Namespace string
	Bucket    string
	Key       string
	UploadID  string
	Parts     []CommittedPart
}

type AbortMultipartUploadRequest struct {
	Namespace string
	Bucket    string
	Key       string
	UploadID  string
}

type DeleteObjectRequest struct {
	Namespace string
	Bucket    string
	Key       string
}

type CopyObjectRequest struct {
	SourceNamespace      string
	SourceBucket         string
	SourceKey            string
	DestinationRegion    string
	DestinationNamespace string
	DestinationBucket    string
	DestinationKey       string
}

type RenameObjectRequest struct {
	Namespace string
	Bucket    string
	SourceKey string
	NewKey    string
}

type BucketRequest struct {
	Namespace string
	Bucket    string
}

type CreateBucketRequest struct {
	Namespace     string
	Bucket        string
	CompartmentID string
}

type ListBucketsRequest struct {
	Namespace     string
	CompartmentID string
}

// BucketInfo describes a bucket.
type BucketInfo struct {
	Name          string
	Namespace     string
	ETag          string
	CompartmentID string
	TimeCreated   time.Time
}

// NamespaceMetadata holds the tenancy defaults attached to a namespace.
type NamespaceMetadata struct {
	Namespace                 string
	DefaultS3CompartmentID    string
	DefaultSwiftCompartmentID string
}
