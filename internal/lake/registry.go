package lake

import (
	"context"
	"net/http"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/ocifs/ocifs-go/internal/fserrors"
	"github.com/ocifs/ocifs-go/internal/objectstore"
	"github.com/ocifs/ocifs-go/internal/ocipath"
)

// Options configures a Registry.
type Options struct {
	// Direct serves every bucket that is not behind a lake mount.
	Direct    objectstore.ObjectStore
	Endpoints Endpoints
	Transport TransportOptions
	// Metrics, when set, instruments the redirected stores under the
	// "lakeshare" backend label.
	Metrics *objectstore.Metrics
	Logger  logrus.FieldLogger
}

// Registry maps buckets discovered through lake mounts to the lake that
// serves them, and hands out the store to use for a bucket. Its caches are
// filled lazily and never expire.
type Registry struct {
	direct    objectstore.ObjectStore
	endpoints Endpoints
	transport TransportOptions
	metrics   *objectstore.Metrics
	logger    logrus.FieldLogger

	mu         sync.Mutex
	lakehouses map[string]*LakehouseClient
	shareURLs  map[string]string
	sharing    map[string]*SharingClient
	buckets    map[string]string
	stores     map[string]objectstore.ObjectStore
}

var _ ocipath.MountResolver = (*Registry)(nil)

// NewRegistry creates an empty registry.
func NewRegistry(opts Options) *Registry {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	transport := opts.Transport
	if transport.Logger == nil {
		transport.Logger = logger
	}
	return &Registry{
		direct:     opts.Direct,
		endpoints:  opts.Endpoints.withDefaults(),
		transport:  transport,
		metrics:    opts.Metrics,
		logger:     logger,
		lakehouses: make(map[string]*LakehouseClient),
		shareURLs:  make(map[string]string),
		sharing:    make(map[string]*SharingClient),
		buckets:    make(map[string]string),
		stores:     make(map[string]objectstore.ObjectStore),
	}
}

func bucketKey(container, namespace string) string {
	return namespace + "/" + container
}

// Direct returns the store used for unmapped buckets.
func (r *Registry) Direct() objectstore.ObjectStore {
	return r.direct
}

func (r *Registry) lakehouse(lakeID string) (*LakehouseClient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.lakehouses[lakeID]; ok {
		return c, nil
	}
	base, err := r.endpoints.LakehouseURL(lakeID)
	if err != nil {
		return nil, err
	}
	c := NewLakehouseClient(base, r.transport)
	r.lakehouses[lakeID] = c
	return c, nil
}

// sharingClient returns the sharing client of a lake. A client is only
// cached once it has passed a health check; an unhealthy endpoint is checked
// again on the next call.
func (r *Registry) sharingClient(ctx context.Context, lakeID string) (*SharingClient, error) {
	r.mu.Lock()
	c, ok := r.sharing[lakeID]
	endpoint := r.shareURLs[lakeID]
	r.mu.Unlock()
	if ok {
		return c, nil
	}

	log := r.logger.WithField("lake", lakeID)
	if endpoint == "" {
		lh, err := r.lakehouse(lakeID)
		if err != nil {
			return nil, err
		}
		endpoint, err = lh.GetLakeshareEndpoint(ctx, lakeID)
		if err != nil {
			return nil, fserrors.Wrap(err, "get lakeshare endpoint", lakeID)
		}
		if endpoint == "" {
			return nil, fserrors.Invalid("get lakeshare endpoint", lakeID, "lake has no sharing endpoint")
		}
		log.WithField("endpoint", endpoint).Debug("resolved sharing endpoint")
		r.mu.Lock()
		r.shareURLs[lakeID] = endpoint
		r.mu.Unlock()
	}

	c = NewSharingClient(endpoint, r.transport)
	if !c.IsHealthy(ctx) {
		log.WithField("endpoint", endpoint).Warn("lake sharing endpoint is not healthy")
		return nil, fserrors.Wrap(objectstore.NewRemoteError(http.StatusServiceUnavailable, "ServiceUnavailable",
			"sharing endpoint %s of lake %s is not healthy", endpoint, lakeID), "lake sharing", lakeID)
	}
	r.mu.Lock()
	r.sharing[lakeID] = c
	r.mu.Unlock()
	return c, nil
}

// ResolveMount turns a mount reference into the bucket and namespace behind
// it, and records that bucket as served by the mount's lake.
func (r *Registry) ResolveMount(ctx context.Context, mount *ocipath.MountRef) (string, string, error) {
	log := r.logger.WithFields(logrus.Fields{"lake": mount.LakeID, "mount": mount.Name})

	lh, err := r.lakehouse(mount.LakeID)
	if err != nil {
		return "", "", err
	}
	if _, err := r.sharingClient(ctx, mount.LakeID); err != nil {
		// Operations on the bucket check health again.
		log.WithError(err).Debug("sharing client unavailable while resolving mount")
	}

	m, err := lh.GetMount(ctx, mount)
	if err != nil {
		log.WithError(err).Error("failed to resolve lake mount")
		return "", "", fserrors.Invalid("resolve mount", mount.String(),
			"invalid mount %q or lake %q: %v", mount.Name, mount.LakeID, err)
	}
	container, namespace := m.MountSpec.BucketName, m.MountSpec.Namespace
	if container == "" || namespace == "" {
		log.Error("lake mount has no bucket")
		return "", "", fserrors.Invalid("resolve mount", mount.String(),
			"mount %q of lake %q does not name a bucket", mount.Name, mount.LakeID)
	}

	r.mu.Lock()
	r.buckets[bucketKey(container, namespace)] = mount.LakeID
	r.mu.Unlock()
	log.WithFields(logrus.Fields{"container": container, "namespace": namespace}).Debug("resolved lake mount")
	return container, namespace, nil
}

// LakeFor returns the lake serving a bucket, if any.
func (r *Registry) LakeFor(container, namespace string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	lakeID, ok := r.buckets[bucketKey(container, namespace)]
	return lakeID, ok
}

// IsRedirected reports whether a bucket is served through a lake.
func (r *Registry) IsRedirected(container, namespace string) bool {
	_, ok := r.LakeFor(container, namespace)
	return ok
}

// ResolveBackend returns the store serving a bucket: the lake's PAR store
// for buckets reached through a mount, the direct store otherwise.
func (r *Registry) ResolveBackend(container, namespace string) objectstore.ObjectStore {
	lakeID, ok := r.LakeFor(container, namespace)
	if !ok {
		return r.direct
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.stores[lakeID]; ok {
		return s
	}
	var s objectstore.ObjectStore = newPARStore(r, lakeID)
	if r.metrics != nil {
		s = r.metrics.Instrument(s, "lakeshare")
	}
	r.stores[lakeID] = s
	return s
}
