package lake

import (
	"context"
	"net/http"
	"net/url"
	"strings"
)

// AccessType is the scope of a PAR.
type AccessType string

const (
	AccessRead  AccessType = "READ"
	AccessWrite AccessType = "WRITE"
)

// PAR is a pre-authenticated request issued for a single operation.
type PAR struct {
	Hash       string `json:"parHash"`
	PrefixPath string `json:"prefixPath"`
	Type       string `json:"parType"`
}

// ManagedPrefix is a prefix of a bucket managed by the lake.
type ManagedPrefix struct {
	PrefixPath string `json:"prefixPath"`
}

// ManagedPrefixCollection lists the managed prefixes of a bucket.
type ManagedPrefixCollection struct {
	Items                     []ManagedPrefix `json:"items"`
	FsURI                     string          `json:"fsUri,omitempty"`
	ServiceNamespace          string          `json:"serviceNamespace,omitempty"`
	IsForceFallbackForManaged bool            `json:"isForceFallbackForManaged,omitempty"`
}

// RenameObjectDetails is the body of a rename request.
type RenameObjectDetails struct {
	SourceName            string `json:"sourceName"`
	NewName               string `json:"newName"`
	SrcObjIfMatchETag     string `json:"srcObjIfMatchETag,omitempty"`
	NewObjIfMatchETag     string `json:"newObjIfMatchETag,omitempty"`
	NewObjIfNoneMatchETag string `json:"newObjIfNoneMatchETag,omitempty"`
}

// SharingClient talks to a lake sharing endpoint.
type SharingClient struct {
	base string
	t    *transport
}

// NewSharingClient creates a client for the sharing service at endpoint.
func NewSharingClient(endpoint string, opts TransportOptions) *SharingClient {
	return &SharingClient{base: SharingURL(endpoint), t: newTransport(opts)}
}

// IsHealthy reports whether the sharing service answers its health check.
func (c *SharingClient) IsHealthy(ctx context.Context) bool {
	resp, err := c.t.do(ctx, &request{method: http.MethodGet, url: c.base + "/isHealthy"})
	if err != nil {
		c.t.logger.WithError(err).Debug("sharing health check failed")
		return false
	}
	return resp.status == http.StatusOK
}

// GeneratePAR requests a PAR of the given scope for object. An empty object
// scopes the PAR to prefix, without its trailing separator.
func (c *SharingClient) GeneratePAR(ctx context.Context, namespace, bucket string, access AccessType, object, prefix string) (*PAR, error) {
	if object == "" {
		object = strings.TrimSuffix(prefix, "/")
	}
	query := url.Values{}
	query.Set("namespace", namespace)
	query.Set("bucket", bucket)
	query.Set("x_oci_lakeshare_op", string(access))
	query.Set("object", object)

	header := http.Header{}
	header.Set("x-oci-lakeshare-op", string(access))
	header.Set("object", object)

	var par PAR
	_, err := c.t.do(ctx, &request{
		method:  http.MethodGet,
		url:     c.base + "/par",
		query:   query,
		header:  header,
		jsonOut: &par,
	})
	if err != nil {
		return nil, err
	}
	return &par, nil
}

// DeleteObject deletes an object through the sharing service.
func (c *SharingClient) DeleteObject(ctx context.Context, namespace, bucket, object string) error {
	query := url.Values{}
	query.Set("namespace", namespace)
	query.Set("bucket", bucket)
	query.Set("object", object)
	_, err := c.t.do(ctx, &request{method: http.MethodPost, url: c.base + "/deleteObject", query: query})
	return err
}

// RenameObject renames an object through the sharing service.
func (c *SharingClient) RenameObject(ctx context.Context, namespace, bucket string, details RenameObjectDetails) error {
	query := url.Values{}
	query.Set("namespace", namespace)
	query.Set("bucket", bucket)
	_, err := c.t.do(ctx, &request{method: http.MethodPost, url: c.base + "/renameObject", query: query, jsonIn: details})
	return err
}

// ListManagedPrefixes lists the lake-managed prefixes of a bucket.
func (c *SharingClient) ListManagedPrefixes(ctx context.Context, namespace, bucket string) (*ManagedPrefixCollection, error) {
	query := url.Values{}
	query.Set("namespace", namespace)
	query.Set("bucket", bucket)
	var out ManagedPrefixCollection
	_, err := c.t.do(ctx, &request{method: http.MethodGet, url: c.base + "/managedprefixes", query: query, jsonOut: &out})
	if err != nil {
		return nil, err
	}
	return &out, nil
}
