// Package s3client implements objectstore.ObjectStore against the Amazon S3
// compatibility API of OCI Object Storage.
package s3client

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/sirupsen/logrus"

	"github.com/ocifs/ocifs-go/internal/credentials"
	"github.com/ocifs/ocifs-go/internal/objectstore"
)

// DefaultEndpointTemplate is the S3 compatibility endpoint of a tenancy.
const DefaultEndpointTemplate = "https://{namespace}.compat.objectstorage.{region}.oraclecloud.com"

// Config describes how to reach the compatibility endpoint
type Config struct {
	Region string
	// Namespace is the tenancy namespace. The compatibility API cannot
	// discover it, so it must be configured.
	Namespace string
	// CompartmentID is reported as the namespace's default compartment.
	CompartmentID string
	// EndpointTemplate may reference {namespace} and {region}.
	EndpointTemplate string
	// Endpoint overrides the template for every namespace.
	Endpoint    string
	Credentials *credentials.Credentials
	HTTPClient  *http.Client
	// MaxAttempts bounds the SDK's own retries. Zero keeps the SDK default.
	MaxAttempts int
	Logger      logrus.FieldLogger
}

// Client represents an S3 client
type Client struct {
	cfg    Config
	awsCfg aws.Config
	logger logrus.FieldLogger
	// signing caches the keys handed to the signer; nil for anonymous access.
	signing *aws.CredentialsCache

	mu      sync.Mutex
	clients map[string]*s3.Client
}

var _ objectstore.ObjectStore = (*Client)(nil)

// NewClient loads the SDK configuration for cfg. SDK clients are created
// lazily, one per namespace.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Region == "" {
		return nil, fmt.Errorf("region is required")
	}
	if cfg.EndpointTemplate == "" {
		cfg.EndpointTemplate = DefaultEndpointTemplate
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}

	cfgOptions := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(aws.AnonymousCredentials{}),
	}
	if cfg.HTTPClient != nil {
		cfgOptions = append(cfgOptions, config.WithHTTPClient(cfg.HTTPClient))
	}
	if cfg.MaxAttempts > 0 {
		cfgOptions = append(cfgOptions, config.WithRetryMaxAttempts(cfg.MaxAttempts))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, cfgOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load SDK config: %w", err)
	}

	c := &Client{
		cfg:     cfg,
		awsCfg:  awsCfg,
		logger:  cfg.Logger.WithField("backend", "s3compat"),
		clients: make(map[string]*s3.Client),
	}
	// The SDK would wrap our provider in a cache of its own that never
	// expires static keys. Owning the cache lets Refresh invalidate it.
	if cfg.Credentials != nil && cfg.Credentials.IsValid() {
		c.signing = aws.NewCredentialsCache(cfg.Credentials)
		c.awsCfg.Credentials = c.signing
	}
	return c, nil
}

// Refresh reloads the credentials and makes the signer pick them up on the
// next request.
func (c *Client) Refresh(ctx context.Context) error {
	if c.cfg.Credentials == nil {
		return nil
	}
	if err := c.cfg.Credentials.Refresh(ctx); err != nil {
		return err
	}
	if c.signing != nil {
		c.signing.Invalidate()
	}
	return nil
}

// EndpointFor returns the compatibility endpoint serving namespace.
func (c *Client) EndpointFor(namespace string) string {
	if c.cfg.Endpoint != "" {
		return c.cfg.Endpoint
	}
	return strings.NewReplacer("{namespace}", namespace, "{region}", c.cfg.Region).Replace(c.cfg.EndpointTemplate)
}

func (c *Client) client(namespace string) *s3.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cl, ok := c.clients[namespace]; ok {
		return cl
	}
	endpoint := c.EndpointFor(namespace)
	cl := s3.NewFromConfig(c.awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true // the compatibility API does not serve virtual-hosted buckets
	})
	c.clients[namespace] = cl
	return cl
}

func trimETag(etag *string) string {
	return strings.Trim(aws.ToString(etag), `"`)
}

// cleanMetadata strips the x-amz-meta- prefix, which the SDK adds itself.
func cleanMetadata(metadata map[string]string) map[string]string {
	if metadata == nil {
		return nil
	}
	const metaPrefix = "x-amz-meta-"
	out := make(map[string]string, len(metadata))
	for k, v := range metadata {
		out[strings.TrimPrefix(k, metaPrefix)] = v
	}
	return out
}

func contentMD5(data []byte) string {
	sum := md5.Sum(data)
	return base64.StdEncoding.EncodeToString(sum[:])
}

// HeadObject retrieves object metadata
func (c *Client) HeadObject(ctx context.Context, req *objectstore.HeadObjectRequest) (*objectstore.ObjectInfo, error) {
	c.logger.WithFields(logrus.Fields{"container": req.Bucket, "key": req.Key}).Debug("head object")
	result, err := c.client(req.Namespace).HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(req.Bucket),
		Key:    aws.String(req.Key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to head object: %w", err)
	}

	info := &objectstore.ObjectInfo{
		Size:          aws.ToInt64(result.ContentLength),
		ETag:          trimETag(result.ETag),
		ContentType:   aws.ToString(result.ContentType),
		LastModified:  aws.ToTime(result.LastModified),
		StorageTier:   string(result.StorageClass),
		ArchivalState: string(result.ArchiveStatus),
		Metadata:      result.Metadata,
	}
	if info.StorageTier == "" {
		info.StorageTier = string(types.StorageClassStandard)
	}
	return info, nil
}

// GetObjectRange retrieves an object, or the requested slice of it
func (c *Client) GetObjectRange(ctx context.Context, req *objectstore.GetObjectRequest) ([]byte, error) {
	input := &s3.GetObjectInput{
		Bucket: aws.String(req.Bucket),
		Key:    aws.String(req.Key),
	}
	if req.Range != nil {
		if req.Range.Len() <= 0 {
			return []byte{}, nil
		}
		input.Range = aws.String(req.Range.Header())
	}
	c.logger.WithFields(logrus.Fields{"container": req.Bucket, "key": req.Key, "range": aws.ToString(input.Range)}).Debug("get object")

	result, err := c.client(req.Namespace).GetObject(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to get object: %w", err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object body: %w", err)
	}
	return data, nil
}

// PutObject uploads an object in one request
func (c *Client) PutObject(ctx context.Context, req *objectstore.PutObjectRequest) (*objectstore.PutObjectResult, error) {
	sum := contentMD5(req.Body)
	input := &s3.PutObjectInput{
		Bucket:        aws.String(req.Bucket),
		Key:           aws.String(req.Key),
		Body:          bytes.NewReader(req.Body),
		ContentLength: aws.Int64(int64(len(req.Body))),
		ContentMD5:    aws.String(sum),
		Metadata:      cleanMetadata(req.Metadata),
	}
	if req.ContentType != "" {
		input.ContentType = aws.String(req.ContentType)
	}
	c.logger.WithFields(logrus.Fields{"container": req.Bucket, "key": req.Key, "size": len(req.Body)}).Debug("put object")

	result, err := c.client(req.Namespace).PutObject(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to put object: %w", err)
	}
	return &objectstore.PutObjectResult{ETag: trimETag(result.ETag), MD5: sum}, nil
}

// ListObjects lists one page of objects and common prefixes. NextStart is
// the SDK continuation token.
func (c *Client) ListObjects(ctx context.Context, req *objectstore.ListObjectsRequest) (*objectstore.ListObjectsResult, error) {
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(req.Bucket),
	}
	if req.Prefix != "" {
		input.Prefix = aws.String(req.Prefix)
	}
	if req.Delimiter != "" {
		input.Delimiter = aws.String(req.Delimiter)
	}
	if req.Start != "" {
		input.ContinuationToken = aws.String(req.Start)
	}
	if req.Limit > 0 {
		input.MaxKeys = aws.Int32(int32(req.Limit))
	}
	c.logger.WithFields(logrus.Fields{"container": req.Bucket, "prefix": req.Prefix}).Debug("list objects")

	result, err := c.client(req.Namespace).ListObjectsV2(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to list objects: %w", err)
	}

	res := &objectstore.ListObjectsResult{
		Objects: make([]objectstore.ObjectSummary, 0, len(result.Contents)),
	}
	for _, obj := range result.Contents {
		if obj.Key == nil {
			continue
		}
		modified := aws.ToTime(obj.LastModified)
		res.Objects = append(res.Objects, objectstore.ObjectSummary{
			Name:         *obj.Key,
			Size:         aws.ToInt64(obj.Size),
			ETag:         trimETag(obj.ETag),
			TimeCreated:  modified,
			TimeModified: modified,
			StorageTier:  string(obj.StorageClass),
		})
	}
	for _, p := range result.CommonPrefixes {
		if p.Prefix != nil {
			res.Prefixes = append(res.Prefixes, *p.Prefix)
		}
	}
	if aws.ToBool(result.IsTruncated) {
		res.NextStart = aws.ToString(result.NextContinuationToken)
	}
	return res, nil
}

// DeleteObject deletes an object
func (c *Client) DeleteObject(ctx context.Context, req *objectstore.DeleteObjectRequest) error {
	c.logger.WithFields(logrus.Fields{"container": req.Bucket, "key": req.Key}).Debug("delete object")
	_, err := c.client(req.Namespace).DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(req.Bucket),
		Key:    aws.String(req.Key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

// CopyObject copies an object server-side. Objects above the single-request
// copy limit are copied part by part.
func (c *Client) CopyObject(ctx context.Context, req *objectstore.CopyObjectRequest) error {
	if req.DestinationRegion != "" && req.DestinationRegion != c.cfg.Region {
		return objectstore.NewRemoteError(http.StatusNotImplemented, "NotImplemented",
			"cross-region copy to %s is not available through the compatibility API", req.DestinationRegion)
	}
	if req.DestinationNamespace != "" && req.DestinationNamespace != req.SourceNamespace {
		return objectstore.NewRemoteError(http.StatusNotImplemented, "NotImplemented",
			"cross-namespace copy is not available through the compatibility API")
	}

	head, err := c.HeadObject(ctx, &objectstore.HeadObjectRequest{
		Namespace: req.SourceNamespace,
		Bucket:    req.SourceBucket,
		Key:       req.SourceKey,
	})
	if err != nil {
		return err
	}
	if head.Size > MaxCopySize {
		return c.copyObjectMultipart(ctx, req, head.Size)
	}

	c.logger.WithFields(logrus.Fields{"container": req.SourceBucket, "key": req.SourceKey, "destination": req.DestinationKey}).Debug("copy object")
	_, err = c.client(req.SourceNamespace).CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(req.DestinationBucket),
		Key:        aws.String(req.DestinationKey),
		CopySource: aws.String(copySource(req.SourceBucket, req.SourceKey)),
	})
	if err != nil {
		return fmt.Errorf("failed to copy object: %w", err)
	}
	return nil
}

func copySource(bucket, key string) string {
	return fmt.Sprintf("%s/%s", bucket, key)
}

// RenameObject is a copy followed by a delete; the compatibility API has
// no rename.
func (c *Client) RenameObject(ctx context.Context, req *objectstore.RenameObjectRequest) error {
	err := c.CopyObject(ctx, &objectstore.CopyObjectRequest{
		SourceNamespace:      req.Namespace,
		SourceBucket:         req.Bucket,
		SourceKey:            req.SourceKey,
		DestinationNamespace: req.Namespace,
		DestinationBucket:    req.Bucket,
		DestinationKey:       req.NewKey,
	})
	if err != nil {
		return err
	}
	return c.DeleteObject(ctx, &objectstore.DeleteObjectRequest{
		Namespace: req.Namespace,
		Bucket:    req.Bucket,
		Key:       req.SourceKey,
	})
}

// HeadBucket checks that a bucket exists
func (c *Client) HeadBucket(ctx context.Context, req *objectstore.BucketRequest) (*objectstore.BucketInfo, error) {
	_, err := c.client(req.Namespace).HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(req.Bucket),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to head bucket: %w", err)
	}
	return &objectstore.BucketInfo{
		Name:          req.Bucket,
		Namespace:     req.Namespace,
		CompartmentID: c.cfg.CompartmentID,
	}, nil
}

// CreateBucket creates a bucket. The compatibility API always places it in
// the namespace's S3 compartment, so req.CompartmentID is informational.
func (c *Client) CreateBucket(ctx context.Context, req *objectstore.CreateBucketRequest) error {
	c.logger.WithFields(logrus.Fields{"container": req.Bucket, "compartment": req.CompartmentID}).Debug("create bucket")
	_, err := c.client(req.Namespace).CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(req.Bucket),
		CreateBucketConfiguration: &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(c.cfg.Region),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}

// DeleteBucket deletes an empty bucket
func (c *Client) DeleteBucket(ctx context.Context, req *objectstore.BucketRequest) error {
	_, err := c.client(req.Namespace).DeleteBucket(ctx, &s3.DeleteBucketInput{
		Bucket: aws.String(req.Bucket),
	})
	if err != nil {
		return fmt.Errorf("failed to delete bucket: %w", err)
	}
	return nil
}

// ListBuckets lists the buckets visible through the namespace endpoint
func (c *Client) ListBuckets(ctx context.Context, req *objectstore.ListBucketsRequest) ([]objectstore.BucketInfo, error) {
	result, err := c.client(req.Namespace).ListBuckets(ctx, &s3.ListBucketsInput{})
	if err != nil {
		return nil, fmt.Errorf("failed to list buckets: %w", err)
	}
	out := make([]objectstore.BucketInfo, 0, len(result.Buckets))
	for _, b := range result.Buckets {
		out = append(out, objectstore.BucketInfo{
			Name:          aws.ToString(b.Name),
			Namespace:     req.Namespace,
			CompartmentID: c.cfg.CompartmentID,
			TimeCreated:   aws.ToTime(b.CreationDate),
		})
	}
	return out, nil
}

var errNoNamespace = errors.New("namespace must be configured when using the S3 compatibility API")

// GetNamespace returns the configured namespace
func (c *Client) GetNamespace(ctx context.Context) (string, error) {
	if c.cfg.Namespace == "" {
		return "", objectstore.NewRemoteError(http.StatusNotImplemented, "NotImplemented", "%v", errNoNamespace)
	}
	return c.cfg.Namespace, nil
}

// GetNamespaceMetadata reports the configured compartment as both defaults
func (c *Client) GetNamespaceMetadata(ctx context.Context, namespace string) (*objectstore.NamespaceMetadata, error) {
	return &objectstore.NamespaceMetadata{
		Namespace:                 namespace,
		DefaultS3CompartmentID:    c.cfg.CompartmentID,
		DefaultSwiftCompartmentID: c.cfg.CompartmentID,
	}, nil
}
