// Package types holds the row-level interface implemented by storage
// drivers, kept apart from package storage so drivers and the factory do not
// import each other.
package types

import (
	"context"
	"errors"
	"time"
)

// ErrContainerNotEmpty is returned when deleting a container that still
// holds objects.
var ErrContainerNotEmpty = errors.New("container not empty")

// ContainerRecord is a stored container (bucket).
type ContainerRecord struct {
	Namespace     string
	Name          string
	CompartmentID string
	ETag          string
	Created       time.Time
}

// ObjectRecord is a stored object. Data is nil when returned from a stat or
// listing call.
type ObjectRecord struct {
	Key         string
	Data        []byte
	Size        int64
	ETag        string
	MD5         string
	ContentType string
	Metadata    map[string]string
	Created     time.Time
	Modified    time.Time
}

// Backend defines the row-level operations a storage driver must provide.
// Missing rows are reported with os.ErrNotExist, duplicates with
// os.ErrExist.
type Backend interface {
	// CreateContainer creates a container
	CreateContainer(ctx context.Context, rec ContainerRecord) error

	// StatContainer returns a container
	StatContainer(ctx context.Context, namespace, name string) (*ContainerRecord, error)

	// DeleteContainer deletes an empty container
	DeleteContainer(ctx context.Context, namespace, name string) error

	// ListContainers lists containers in a namespace, sorted by name
	ListContainers(ctx context.Context, namespace string) ([]ContainerRecord, error)

	// ReadObject returns an object with its data
	ReadObject(ctx context.Context, namespace, container, key string) (*ObjectRecord, error)

	// StatObject returns an object without its data
	StatObject(ctx context.Context, namespace, container, key string) (*ObjectRecord, error)

	// WriteObject creates or replaces an object
	WriteObject(ctx context.Context, namespace, container string, rec *ObjectRecord) error

	// DeleteObject deletes an object
	DeleteObject(ctx context.Context, namespace, container, key string) error

	// ListObjects lists objects whose key starts with prefix, sorted by key
	ListObjects(ctx context.Context, namespace, container, prefix string) ([]ObjectRecord, error)

	// RenameObject changes an object's key, replacing any object at the new key
	RenameObject(ctx context.Context, namespace, container, from, to string) error

	// Close releases the driver's resources
	Close() error
}
