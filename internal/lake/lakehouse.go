package lake

import (
	"context"
	"net/http"
	"net/url"

	"github.com/ocifs/ocifs-go/internal/ocipath"
)

// Lake is the subset of a lake resource ocifs needs.
type Lake struct {
	ID                string `json:"id"`
	DisplayName       string `json:"displayName,omitempty"`
	LakeshareEndpoint string `json:"lakeshareEndpoint"`
	LakeproxyEndpoint string `json:"lakeproxyEndpoint,omitempty"`
	LifecycleState    string `json:"lifecycleState,omitempty"`
}

// MountSpec locates the bucket behind a mount.
type MountSpec struct {
	Namespace            string `json:"namespace"`
	BucketName           string `json:"bucketName"`
	FilePath             string `json:"filePath,omitempty"`
	ObjStoreLocation     string `json:"objStoreLocation,omitempty"`
	MountScopeEntityType string `json:"mountScopeEntityType,omitempty"`
	MountScopeSchemaKey  string `json:"mountScopeSchemaKey,omitempty"`
	MountScopeTableKey   string `json:"mountScopeTableKey,omitempty"`
	MountScopeUserID     string `json:"mountScopeUserId,omitempty"`
	OciFsURI             string `json:"ociFsUri,omitempty"`
}

// Mount is a lake mount.
type Mount struct {
	Key            string    `json:"key"`
	DisplayName    string    `json:"displayName,omitempty"`
	MountType      string    `json:"mountType"`
	StorageType    string    `json:"storageType,omitempty"`
	AccessType     string    `json:"accessType,omitempty"`
	MountSpec      MountSpec `json:"mountSpec"`
	LakeID         string    `json:"lakeId,omitempty"`
	LifecycleState string    `json:"lifecycleState,omitempty"`
}

// LakehouseClient talks to the lake control plane of one region.
type LakehouseClient struct {
	base string
	t    *transport
}

// NewLakehouseClient creates a client for the control plane at base, which
// already includes the API version path.
func NewLakehouseClient(base string, opts TransportOptions) *LakehouseClient {
	return &LakehouseClient{base: base, t: newTransport(opts)}
}

// GetLake fetches a lake resource.
func (c *LakehouseClient) GetLake(ctx context.Context, lakeID string) (*Lake, error) {
	var lake Lake
	_, err := c.t.do(ctx, &request{
		method:  http.MethodGet,
		url:     c.base + "/lakes/" + url.PathEscape(lakeID),
		jsonOut: &lake,
	})
	if err != nil {
		return nil, err
	}
	return &lake, nil
}

// GetLakeshareEndpoint returns the sharing endpoint serving a lake.
func (c *LakehouseClient) GetLakeshareEndpoint(ctx context.Context, lakeID string) (string, error) {
	lake, err := c.GetLake(ctx, lakeID)
	if err != nil {
		return "", err
	}
	return lake.LakeshareEndpoint, nil
}

// GetMount fetches the mount named by ref, passing the managed scope as
// query parameters.
func (c *LakehouseClient) GetMount(ctx context.Context, ref *ocipath.MountRef) (*Mount, error) {
	query := url.Values{}
	mountType := ref.Type
	if mountType == "" {
		mountType = ocipath.MountExternal
	}
	query.Set("mountType", string(mountType))
	if mountType == ocipath.MountManaged {
		query.Set("mountScopeEntityType", string(ref.Scope))
		setIf(query, "mountScopeSchemaKey", ref.SchemaKey)
		setIf(query, "mountScopeTableKey", ref.TableKey)
		setIf(query, "mountScopeUserId", ref.UserID)
	}

	var mount Mount
	_, err := c.t.do(ctx, &request{
		method:  http.MethodGet,
		url:     c.base + "/lakes/" + url.PathEscape(ref.LakeID) + "/lakeMounts/" + url.PathEscape(ref.Name),
		query:   query,
		jsonOut: &mount,
	})
	if err != nil {
		return nil, err
	}
	return &mount, nil
}

func setIf(q url.Values, key, value string) {
	if value != "" {
		q.Set(key, value)
	}
}
