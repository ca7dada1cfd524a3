// Package ocipath parses object storage URIs into container, namespace and
// key, and builds the canonical path strings used as cache keys.
package ocipath

import (
	"context"
	"strings"
	"sync"

	"github.com/ocifs/ocifs-go/internal/fserrors"
)

const (
	Protocol     = "oci"
	LakeProtocol = "ocilake"

	lakeMarker = "@ocid1.lake"
)

// LogicalPath is a parsed object storage path.
type LogicalPath struct {
	Container string
	Namespace string
	Key       string
	// Mount is set when the path was given in lake mount form.
	Mount *MountRef
}

// String returns the canonical container@namespace[/key] form.
func (p LogicalPath) String() string {
	return Join(p.Container, p.Namespace, p.Key)
}

// FullContainer returns container@namespace.
func (p LogicalPath) FullContainer() string {
	return Join(p.Container, p.Namespace, "")
}

// Child returns the path of name below p.
func (p LogicalPath) Child(name string) LogicalPath {
	c := p
	if c.Key == "" {
		c.Key = name
	} else {
		c.Key = c.Key + "/" + name
	}
	return c
}

// WithKey returns a copy of p with a different key.
func (p LogicalPath) WithKey(key string) LogicalPath {
	c := p
	c.Key = strings.TrimSuffix(key, "/")
	return c
}

// Join builds the canonical path string. An empty container yields the
// namespace root "@namespace".
func Join(container, namespace, key string) string {
	full := container + "@" + namespace
	if key != "" {
		full += "/" + key
	}
	return full
}

// StripProtocol removes a leading oci:// or ocilake:// and any trailing
// separator.
func StripProtocol(path string) string {
	for _, proto := range []string{Protocol, LakeProtocol} {
		path = strings.TrimPrefix(path, proto+"://")
	}
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
	}
	return path
}

// Parent returns the parent of a canonical path. A container's parent is the
// namespace root "@namespace".
func Parent(path string) string {
	path = StripProtocol(path)
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[:i]
	}
	if i := strings.LastIndex(path, "@"); i >= 0 {
		return path[i:]
	}
	return ""
}

// IsLakePath reports whether the container part of path is a lake mount
// reference.
func IsLakePath(path string) bool {
	full, _, _ := strings.Cut(StripProtocol(path), "/")
	return strings.Contains(full, lakeMarker)
}

// NamespaceSource provides the tenancy's default namespace.
type NamespaceSource interface {
	GetNamespace(ctx context.Context) (string, error)
}

// MountResolver turns a lake mount reference into a concrete container and
// namespace.
type MountResolver interface {
	ResolveMount(ctx context.Context, mount *MountRef) (container, namespace string, err error)
}

// Resolver splits paths, filling in the default namespace and resolving lake
// mounts.
type Resolver struct {
	source NamespaceSource
	mounts MountResolver

	mu               sync.Mutex
	defaultNamespace string
}

// NewResolver creates a resolver. mounts may be nil when lake paths are not
// supported.
func NewResolver(source NamespaceSource, mounts MountResolver) *Resolver {
	return &Resolver{source: source, mounts: mounts}
}

// SetDefaultNamespace pins the default namespace without a remote lookup.
func (r *Resolver) SetDefaultNamespace(ns string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultNamespace = ns
}

// DefaultNamespace returns the default namespace, fetching it on first use.
func (r *Resolver) DefaultNamespace(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.defaultNamespace != "" {
		return r.defaultNamespace, nil
	}
	if r.source == nil {
		return "", fserrors.Invalid("namespace", "", "no namespace given and no default namespace configured")
	}
	ns, err := r.source.GetNamespace(ctx)
	if err != nil {
		return "", fserrors.Wrap(err, "get namespace", "")
	}
	r.defaultNamespace = ns
	return ns, nil
}

// Split parses path into a LogicalPath with a non-empty namespace.
func (r *Resolver) Split(ctx context.Context, path string) (LogicalPath, error) {
	stripped := StripProtocol(path)
	full, key, _ := strings.Cut(stripped, "/")
	key = strings.TrimRight(key, "/")

	var p LogicalPath
	if strings.Contains(full, lakeMarker) {
		spec, lakeID, _ := strings.Cut(full, "@")
		mount, err := ParseMountSpecifier(spec, lakeID)
		if err != nil {
			return LogicalPath{}, err
		}
		if r.mounts == nil {
			return LogicalPath{}, fserrors.Invalid("split", path, "lake paths are not supported by this filesystem")
		}
		container, namespace, err := r.mounts.ResolveMount(ctx, mount)
		if err != nil {
			return LogicalPath{}, err
		}
		p = LogicalPath{Container: container, Namespace: namespace, Key: key, Mount: mount}
	} else {
		container, namespace, _ := strings.Cut(full, "@")
		p = LogicalPath{Container: container, Namespace: namespace, Key: key}
	}

	if p.Container == "" && p.Key != "" {
		return LogicalPath{}, fserrors.Invalid("split", path, "path has a key but no container")
	}
	if p.Namespace == "" {
		ns, err := r.DefaultNamespace(ctx)
		if err != nil {
			return LogicalPath{}, err
		}
		p.Namespace = ns
	}
	return p, nil
}
