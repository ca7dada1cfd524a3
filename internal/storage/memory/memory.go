// Package memory is an in-process storage backend, used for tests and for
// scratch filesystems.
package memory

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/ocifs/ocifs-go/internal/storage/types"
)

type container struct {
	rec     types.ContainerRecord
	objects map[string]*types.ObjectRecord
}

// Backend keeps containers and objects in maps guarded by a RWMutex.
type Backend struct {
	mu         sync.RWMutex
	containers map[string]*container
}

var _ types.Backend = (*Backend)(nil)

// New creates an empty in-memory backend.
func New() *Backend {
	return &Backend{containers: make(map[string]*container)}
}

func containerKey(namespace, name string) string {
	return namespace + "/" + name
}

func copyRecord(rec *types.ObjectRecord, withData bool) *types.ObjectRecord {
	out := *rec
	out.Data = nil
	if withData {
		out.Data = make([]byte, len(rec.Data))
		copy(out.Data, rec.Data)
	}
	if rec.Metadata != nil {
		out.Metadata = make(map[string]string, len(rec.Metadata))
		for k, v := range rec.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

func (b *Backend) lookup(namespace, name string) (*container, error) {
	c, ok := b.containers[containerKey(namespace, name)]
	if !ok {
		return nil, fmt.Errorf("container %s not found: %w", name, os.ErrNotExist)
	}
	return c, nil
}

// CreateContainer creates a container
func (b *Backend) CreateContainer(ctx context.Context, rec types.ContainerRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := containerKey(rec.Namespace, rec.Name)
	if _, ok := b.containers[key]; ok {
		return fmt.Errorf("container %s: %w", rec.Name, os.ErrExist)
	}
	b.containers[key] = &container{rec: rec, objects: make(map[string]*types.ObjectRecord)}
	return nil
}

// StatContainer returns a container
func (b *Backend) StatContainer(ctx context.Context, namespace, name string) (*types.ContainerRecord, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	c, err := b.lookup(namespace, name)
	if err != nil {
		return nil, err
	}
	rec := c.rec
	return &rec, nil
}

// DeleteContainer deletes an empty container
func (b *Backend) DeleteContainer(ctx context.Context, namespace, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, err := b.lookup(namespace, name)
	if err != nil {
		return err
	}
	if len(c.objects) > 0 {
		return types.ErrContainerNotEmpty
	}
	delete(b.containers, containerKey(namespace, name))
	return nil
}

// ListContainers lists containers in a namespace
func (b *Backend) ListContainers(ctx context.Context, namespace string) ([]types.ContainerRecord, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []types.ContainerRecord
	for _, c := range b.containers {
		if c.rec.Namespace == namespace {
			out = append(out, c.rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (b *Backend) object(namespace, name, key string, withData bool) (*types.ObjectRecord, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	c, err := b.lookup(namespace, name)
	if err != nil {
		return nil, err
	}
	rec, ok := c.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %s not found: %w", key, os.ErrNotExist)
	}
	return copyRecord(rec, withData), nil
}

// ReadObject returns an object with its data
func (b *Backend) ReadObject(ctx context.Context, namespace, name, key string) (*types.ObjectRecord, error) {
	return b.object(namespace, name, key, true)
}

// StatObject returns an object without its data
func (b *Backend) StatObject(ctx context.Context, namespace, name, key string) (*types.ObjectRecord, error) {
	return b.object(namespace, name, key, false)
}

// WriteObject creates or replaces an object
func (b *Backend) WriteObject(ctx context.Context, namespace, name string, rec *types.ObjectRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, err := b.lookup(namespace, name)
	if err != nil {
		return err
	}
	c.objects[rec.Key] = copyRecord(rec, true)
	return nil
}

// DeleteObject deletes an object
func (b *Backend) DeleteObject(ctx context.Context, namespace, name, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, err := b.lookup(namespace, name)
	if err != nil {
		return err
	}
	if _, ok := c.objects[key]; !ok {
		return fmt.Errorf("object %s not found: %w", key, os.ErrNotExist)
	}
	delete(c.objects, key)
	return nil
}

// ListObjects lists objects whose key starts with prefix
func (b *Backend) ListObjects(ctx context.Context, namespace, name, prefix string) ([]types.ObjectRecord, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	c, err := b.lookup(namespace, name)
	if err != nil {
		return nil, err
	}
	var out []types.ObjectRecord
	for key, rec := range c.objects {
		if strings.HasPrefix(key, prefix) {
			out = append(out, *copyRecord(rec, false))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// RenameObject changes an object's key
func (b *Backend) RenameObject(ctx context.Context, namespace, name, from, to string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, err := b.lookup(namespace, name)
	if err != nil {
		return err
	}
	rec, ok := c.objects[from]
	if !ok {
		return fmt.Errorf("object %s not found: %w", from, os.ErrNotExist)
	}
	delete(c.objects, from)
	rec.Key = to
	c.objects[to] = rec
	return nil
}

// Close is a no-op.
func (b *Backend) Close() error {
	return nil
}
