package storage

import (
	"fmt"

	"github.com/ocifs/ocifs-go/internal/storage/memory"
	"github.com/ocifs/ocifs-go/internal/storage/mongodb"
	"github.com/ocifs/ocifs-go/internal/storage/postgres"
	"github.com/ocifs/ocifs-go/internal/storage/types"
)

// BackendType represents the type of storage backend
type BackendType string

const (
	BackendTypeMemory   BackendType = "memory"
	BackendTypePostgres BackendType = "postgres"
	BackendTypeMongoDB  BackendType = "mongodb"
)

// Config holds configuration for creating a backend
type Config struct {
	Type BackendType

	// Postgres config
	PostgresConnStr string
	PostgresTable   string

	// MongoDB config
	MongoURI        string
	MongoDatabase   string
	MongoCollection string
}

// NewBackend creates a new storage backend based on the config
func NewBackend(config Config) (types.Backend, error) {
	switch config.Type {
	case BackendTypeMemory, "":
		return memory.New(), nil

	case BackendTypePostgres:
		if config.PostgresConnStr == "" {
			return nil, fmt.Errorf("PostgreSQL connection string is required")
		}
		table := config.PostgresTable
		if table == "" {
			table = "objects"
		}
		backend, err := postgres.NewPostgresBackend(config.PostgresConnStr, table)
		if err != nil {
			return nil, err
		}
		return backend, nil

	case BackendTypeMongoDB:
		if config.MongoURI == "" {
			return nil, fmt.Errorf("MongoDB URI is required")
		}
		database := config.MongoDatabase
		if database == "" {
			database = "ocifs"
		}
		collection := config.MongoCollection
		if collection == "" {
			collection = "objects"
		}
		backend, err := mongodb.NewMongoBackend(config.MongoURI, database, collection)
		if err != nil {
			return nil, err
		}
		return backend, nil

	default:
		return nil, fmt.Errorf("unknown backend type: %s", config.Type)
	}
}

// Open creates the backend described by config and wraps it in a Store for
// namespace.
func Open(config Config, namespace string) (*Store, error) {
	backend, err := NewBackend(config)
	if err != nil {
		return nil, err
	}
	return NewStore(backend, namespace), nil
}
