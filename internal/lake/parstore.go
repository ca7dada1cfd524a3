package lake

import (
	"context"
	"crypto/md5"
	"encoding/base64"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ocifs/ocifs-go/internal/objectstore"
)

const (
	metaHeaderPrefix = "opc-meta-"
	listFields       = "name,size,etag,md5,timeCreated,timeModified,storageTier,archivalState"
)

// parStore serves the buckets of one lake. Each object call first requests
// a PAR from the sharing service, scoped to the object and operation, and
// then calls object storage through it. Bucket and namespace calls are not
// lake-scoped and go to the direct store.
type parStore struct {
	r      *Registry
	lakeID string
	t      *transport
	logger logrus.FieldLogger
}

var _ objectstore.ObjectStore = (*parStore)(nil)

func newPARStore(r *Registry, lakeID string) *parStore {
	return &parStore{
		r:      r,
		lakeID: lakeID,
		t:      newTransport(r.transport),
		logger: r.logger.WithField("lake", lakeID),
	}
}

// par requests a PAR and returns the bucket base URL it grants access to.
func (s *parStore) par(ctx context.Context, namespace, bucket string, access AccessType, key, prefix string) (string, error) {
	sharing, err := s.r.sharingClient(ctx, s.lakeID)
	if err != nil {
		return "", err
	}
	base, err := s.r.endpoints.ObjectStorageURL(s.lakeID)
	if err != nil {
		return "", err
	}
	p, err := sharing.GeneratePAR(ctx, namespace, bucket, access, key, prefix)
	if err != nil {
		return "", err
	}
	s.logger.WithFields(logrus.Fields{"namespace": namespace, "container": bucket, "key": key, "access": access}).Debug("issued PAR")
	return base + "/p/" + p.Hash + "/n/" + url.PathEscape(namespace) + "/b/" + url.PathEscape(bucket), nil
}

func objectURL(base, key string) string {
	return base + "/o/" + url.PathEscape(key)
}

func uploadURL(base, key string) string {
	return base + "/u/" + url.PathEscape(key)
}

func trimETag(etag string) string {
	return strings.Trim(etag, `"`)
}

func (s *parStore) HeadObject(ctx context.Context, req *objectstore.HeadObjectRequest) (*objectstore.ObjectInfo, error) {
	base, err := s.par(ctx, req.Namespace, req.Bucket, AccessRead, req.Key, "")
	if err != nil {
		return nil, err
	}
	resp, err := s.t.do(ctx, &request{method: http.MethodHead, url: objectURL(base, req.Key)})
	if err != nil {
		return nil, err
	}
	return objectInfo(resp.header), nil
}

func objectInfo(h http.Header) *objectstore.ObjectInfo {
	info := &objectstore.ObjectInfo{
		ETag:          trimETag(h.Get("ETag")),
		MD5:           h.Get("opc-content-md5"),
		ContentType:   h.Get("Content-Type"),
		StorageTier:   h.Get("storage-tier"),
		ArchivalState: h.Get("archival-state"),
	}
	if n, err := strconv.ParseInt(h.Get("Content-Length"), 10, 64); err == nil {
		info.Size = n
	}
	if t, err := http.ParseTime(h.Get("Last-Modified")); err == nil {
		info.LastModified = t
	}
	for k, vs := range h {
		lk := strings.ToLower(k)
		if strings.HasPrefix(lk, metaHeaderPrefix) && len(vs) > 0 {
			if info.Metadata == nil {
				info.Metadata = make(map[string]string)
			}
			info.Metadata[strings.TrimPrefix(lk, metaHeaderPrefix)] = vs[0]
		}
	}
	return info
}

func (s *parStore) GetObjectRange(ctx context.Context, req *objectstore.GetObjectRequest) ([]byte, error) {
	if req.Range != nil && req.Range.Len() <= 0 {
		return []byte{}, nil
	}
	base, err := s.par(ctx, req.Namespace, req.Bucket, AccessRead, req.Key, "")
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	if req.Range != nil {
		header.Set("Range", req.Range.Header())
	}
	resp, err := s.t.do(ctx, &request{method: http.MethodGet, url: objectURL(base, req.Key), header: header})
	if err != nil {
		return nil, err
	}
	return resp.body, nil
}

func (s *parStore) PutObject(ctx context.Context, req *objectstore.PutObjectRequest) (*objectstore.PutObjectResult, error) {
	base, err := s.par(ctx, req.Namespace, req.Bucket, AccessWrite, req.Key, "")
	if err != nil {
		return nil, err
	}
	sum := md5.Sum(req.Body)
	header := http.Header{}
	header.Set("Content-MD5", base64.StdEncoding.EncodeToString(sum[:]))
	if req.ContentType != "" {
		header.Set("Content-Type", req.ContentType)
	}
	for k, v := range req.Metadata {
		header.Set(metaHeaderPrefix+k, v)
	}
	body := req.Body
	if body == nil {
		body = []byte{}
	}
	resp, err := s.t.do(ctx, &request{method: http.MethodPut, url: objectURL(base, req.Key), header: header, body: body})
	if err != nil {
		return nil, err
	}
	return &objectstore.PutObjectResult{
		ETag: trimETag(resp.header.Get("ETag")),
		MD5:  resp.header.Get("opc-content-md5"),
	}, nil
}

type listedObject struct {
	Name          string     `json:"name"`
	Size          int64      `json:"size"`
	ETag          string     `json:"etag"`
	MD5           string     `json:"md5"`
	TimeCreated   *time.Time `json:"timeCreated"`
	TimeModified  *time.Time `json:"timeModified"`
	StorageTier   string     `json:"storageTier"`
	ArchivalState string     `json:"archivalState"`
}

type listObjectsBody struct {
	Objects       []listedObject `json:"objects"`
	Prefixes      []string       `json:"prefixes"`
	NextStartWith string         `json:"nextStartWith"`
}

func (s *parStore) ListObjects(ctx context.Context, req *objectstore.ListObjectsRequest) (*objectstore.ListObjectsResult, error) {
	base, err := s.par(ctx, req.Namespace, req.Bucket, AccessRead, "", req.Prefix)
	if err != nil {
		return nil, err
	}
	query := url.Values{}
	setIf(query, "prefix", req.Prefix)
	setIf(query, "start", req.Start)
	setIf(query, "delimiter", req.Delimiter)
	if req.Limit > 0 {
		query.Set("limit", strconv.Itoa(req.Limit))
	}
	query.Set("fields", listFields)

	var out listObjectsBody
	if _, err := s.t.do(ctx, &request{method: http.MethodGet, url: base + "/o", query: query, jsonOut: &out}); err != nil {
		return nil, err
	}

	res := &objectstore.ListObjectsResult{Prefixes: out.Prefixes, NextStart: out.NextStartWith}
	for _, o := range out.Objects {
		sum := objectstore.ObjectSummary{
			Name:          o.Name,
			Size:          o.Size,
			ETag:          o.ETag,
			MD5:           o.MD5,
			StorageTier:   o.StorageTier,
			ArchivalState: o.ArchivalState,
		}
		if o.TimeCreated != nil {
			sum.TimeCreated = *o.TimeCreated
		}
		if o.TimeModified != nil {
			sum.TimeModified = *o.TimeModified
		}
		res.Objects = append(res.Objects, sum)
	}
	return res, nil
}

func (s *parStore) CreateMultipartUpload(ctx context.Context, req *objectstore.CreateMultipartUploadRequest) (*objectstore.MultipartUpload, error) {
	base, err := s.par(ctx, req.Namespace, req.Bucket, AccessWrite, req.Key, "")
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	header.Set("opc-multipart", "true")
	in := struct {
		Object      string `json:"object"`
		ContentType string `json:"contentType,omitempty"`
	}{req.Key, req.ContentType}
	var out struct {
		UploadID string `json:"uploadId"`
	}
	if _, err := s.t.do(ctx, &request{method: http.MethodPut, url: objectURL(base, req.Key), header: header, jsonIn: in, jsonOut: &out}); err != nil {
		return nil, err
	}
	if out.UploadID == "" {
		return nil, objectstore.NewRemoteError(http.StatusBadGateway, "InternalServerError", "no upload id returned for %s", req.Key)
	}
	return &objectstore.MultipartUpload{
		Namespace: req.Namespace,
		Bucket:    req.Bucket,
		Key:       req.Key,
		UploadID:  out.UploadID,
	}, nil
}

func (s *parStore) UploadPart(ctx context.Context, req *objectstore.UploadPartRequest) (*objectstore.UploadPartResult, error) {
	base, err := s.par(ctx, req.Namespace, req.Bucket, AccessWrite, req.Key, "")
	if err != nil {
		return nil, err
	}
	target := uploadURL(base, req.Key) + "/id/" + url.PathEscape(req.UploadID) + "/" + strconv.Itoa(req.PartNumber)
	resp, err := s.t.do(ctx, &request{method: http.MethodPut, url: target, body: req.Body})
	if err != nil {
		return nil, err
	}
	return &objectstore.UploadPartResult{ETag: trimETag(resp.header.Get("ETag"))}, nil
}

type partToCommit struct {
	PartNum int    `json:"partNum"`
	ETag    string `json:"etag"`
}

func (s *parStore) CommitMultipartUpload(ctx context.Context, req *objectstore.CommitMultipartUploadRequest) (*objectstore.PutObjectResult, error) {
	base, err := s.par(ctx, req.Namespace, req.Bucket, AccessWrite, req.Key, "")
	if err != nil {
		return nil, err
	}
	parts := make([]partToCommit, 0, len(req.Parts))
	for _, p := range req.Parts {
		parts = append(parts, partToCommit{PartNum: p.PartNumber, ETag: p.ETag})
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].PartNum < parts[j].PartNum })
	in := struct {
		PartsToCommit []partToCommit `json:"partsToCommit"`
	}{parts}

	target := uploadURL(base, req.Key) + "/id/" + url.PathEscape(req.UploadID)
	resp, err := s.t.do(ctx, &request{method: http.MethodPost, url: target, jsonIn: in})
	if err != nil {
		return nil, err
	}
	return &objectstore.PutObjectResult{
		ETag: trimETag(resp.header.Get("ETag")),
		MD5:  resp.header.Get("opc-multipart-md5"),
	}, nil
}

func (s *parStore) AbortMultipartUpload(ctx context.Context, req *objectstore.AbortMultipartUploadRequest) error {
	base, err := s.par(ctx, req.Namespace, req.Bucket, AccessWrite, req.Key, "")
	if err != nil {
		return err
	}
	query := url.Values{}
	query.Set("uploadId", req.UploadID)
	_, err = s.t.do(ctx, &request{method: http.MethodDelete, url: uploadURL(base, req.Key), query: query})
	return err
}

func (s *parStore) DeleteObject(ctx context.Context, req *objectstore.DeleteObjectRequest) error {
	base, err := s.par(ctx, req.Namespace, req.Bucket, AccessWrite, req.Key, "")
	if err != nil {
		return err
	}
	_, err = s.t.do(ctx, &request{method: http.MethodDelete, url: objectURL(base, req.Key)})
	return err
}

func (s *parStore) CopyObject(ctx context.Context, req *objectstore.CopyObjectRequest) error {
	return s.r.direct.CopyObject(ctx, req)
}

// RenameObject goes through the sharing service, which renames within the
// lake's bucket without a PAR.
func (s *parStore) RenameObject(ctx context.Context, req *objectstore.RenameObjectRequest) error {
	sharing, err := s.r.sharingClient(ctx, s.lakeID)
	if err != nil {
		return err
	}
	return sharing.RenameObject(ctx, req.Namespace, req.Bucket, RenameObjectDetails{
		SourceName: req.SourceKey,
		NewName:    req.NewKey,
	})
}

func (s *parStore) HeadBucket(ctx context.Context, req *objectstore.BucketRequest) (*objectstore.BucketInfo, error) {
	return s.r.direct.HeadBucket(ctx, req)
}

func (s *parStore) CreateBucket(ctx context.Context, req *objectstore.CreateBucketRequest) error {
	return s.r.direct.CreateBucket(ctx, req)
}

func (s *parStore) DeleteBucket(ctx context.Context, req *objectstore.BucketRequest) error {
	return s.r.direct.DeleteBucket(ctx, req)
}

func (s *parStore) ListBuckets(ctx context.Context, req *objectstore.ListBucketsRequest) ([]objectstore.BucketInfo, error) {
	return s.r.direct.ListBuckets(ctx, req)
}

func (s *parStore) GetNamespace(ctx context.Context) (string, error) {
	return s.r.direct.GetNamespace(ctx)
}

func (s *parStore) GetNamespaceMetadata(ctx context.Context, namespace string) (*objectstore.NamespaceMetadata, error) {
	return s.r.direct.GetNamespaceMetadata(ctx, namespace)
}
