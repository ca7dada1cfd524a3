// Package postgres stores containers and objects in PostgreSQL tables.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/lib/pq"

	"github.com/ocifs/ocifs-go/internal/storage/types"
)

// PostgresBackend implements types.Backend using PostgreSQL
type PostgresBackend struct {
	db         *sql.DB
	objects    string // quoted objects table name
	containers string // quoted containers table name
}

var _ types.Backend = (*PostgresBackend)(nil)

// NewPostgresBackend connects to PostgreSQL and creates the tables
// <table> and <table>_containers if needed
func NewPostgresBackend(connStr, table string) (*PostgresBackend, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	backend := &PostgresBackend{
		db:         db,
		objects:    pq.QuoteIdentifier(table),
		containers: pq.QuoteIdentifier(table + "_containers"),
	}

	if err := backend.initSchema(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return backend, nil
}

// initSchema creates the necessary tables
func (p *PostgresBackend) initSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			namespace VARCHAR(255) NOT NULL,
			name VARCHAR(255) NOT NULL,
			compartment_id VARCHAR(255) NOT NULL DEFAULT '',
			etag VARCHAR(64) NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (namespace, name)
		);
		CREATE TABLE IF NOT EXISTS %s (
			namespace VARCHAR(255) NOT NULL,
			container VARCHAR(255) NOT NULL,
			key VARCHAR(4096) NOT NULL,
			data BYTEA,
			size BIGINT NOT NULL DEFAULT 0,
			etag VARCHAR(128) NOT NULL DEFAULT '',
			md5 VARCHAR(64) NOT NULL DEFAULT '',
			content_type VARCHAR(255) NOT NULL DEFAULT '',
			metadata JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (namespace, container, key)
		);
	`, p.containers, p.objects)

	_, err := p.db.ExecContext(ctx, query)
	return err
}

func isUniqueViolation(err error) bool {
	var perr *pq.Error
	return errors.As(err, &perr) && perr.Code == "23505"
}

// CreateContainer creates a container
func (p *PostgresBackend) CreateContainer(ctx context.Context, rec types.ContainerRecord) error {
	query := fmt.Sprintf(`INSERT INTO %s (namespace, name, compartment_id, etag, created_at)
		VALUES ($1, $2, $3, $4, $5)`, p.containers)
	_, err := p.db.ExecContext(ctx, query, rec.Namespace, rec.Name, rec.CompartmentID, rec.ETag, rec.Created)
	if isUniqueViolation(err) {
		return fmt.Errorf("container %s: %w", rec.Name, os.ErrExist)
	}
	if err != nil {
		return fmt.Errorf("failed to create container: %w", err)
	}
	return nil
}

// StatContainer returns a container
func (p *PostgresBackend) StatContainer(ctx context.Context, namespace, name string) (*types.ContainerRecord, error) {
	query := fmt.Sprintf(`SELECT compartment_id, etag, created_at FROM %s
		WHERE namespace = $1 AND name = $2`, p.containers)
	rec := types.ContainerRecord{Namespace: namespace, Name: name}
	err := p.db.QueryRowContext(ctx, query, namespace, name).Scan(&rec.CompartmentID, &rec.ETag, &rec.Created)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("container %s not found: %w", name, os.ErrNotExist)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat container: %w", err)
	}
	return &rec, nil
}

// DeleteContainer deletes an empty container
func (p *PostgresBackend) DeleteContainer(ctx context.Context, namespace, name string) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var n int
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE namespace = $1 AND container = $2", p.objects)
	if err := tx.QueryRowContext(ctx, countQuery, namespace, name).Scan(&n); err != nil {
		return fmt.Errorf("failed to count objects: %w", err)
	}
	if n > 0 {
		return types.ErrContainerNotEmpty
	}

	deleteQuery := fmt.Sprintf("DELETE FROM %s WHERE namespace = $1 AND name = $2", p.containers)
	result, err := tx.ExecContext(ctx, deleteQuery, namespace, name)
	if err != nil {
		return fmt.Errorf("failed to delete container: %w", err)
	}
	if rows, err := result.RowsAffected(); err != nil {
		return err
	} else if rows == 0 {
		return fmt.Errorf("container %s not found: %w", name, os.ErrNotExist)
	}
	return tx.Commit()
}

// ListContainers lists containers in a namespace
func (p *PostgresBackend) ListContainers(ctx context.Context, namespace string) ([]types.ContainerRecord, error) {
	query := fmt.Sprintf(`SELECT name, compartment_id, etag, created_at FROM %s
		WHERE namespace = $1 ORDER BY name`, p.containers)
	rows, err := p.db.QueryContext(ctx, query, namespace)
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}
	defer rows.Close()

	var out []types.ContainerRecord
	for rows.Next() {
		rec := types.ContainerRecord{Namespace: namespace}
		if err := rows.Scan(&rec.Name, &rec.CompartmentID, &rec.ETag, &rec.Created); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (p *PostgresBackend) objectRow(ctx context.Context, namespace, container, key string, withData bool) (*types.ObjectRecord, error) {
	data := "NULL"
	if withData {
		data = "data"
	}
	query := fmt.Sprintf(`SELECT %s, size, etag, md5, content_type, metadata, created_at, updated_at FROM %s
		WHERE namespace = $1 AND container = $2 AND key = $3`, data, p.objects)

	rec := types.ObjectRecord{Key: key}
	var metadata []byte
	err := p.db.QueryRowContext(ctx, query, namespace, container, key).Scan(
		&rec.Data, &rec.Size, &rec.ETag, &rec.MD5, &rec.ContentType, &metadata, &rec.Created, &rec.Modified)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("object %s not found: %w", key, os.ErrNotExist)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read object: %w", err)
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &rec.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata: %w", err)
		}
	}
	if withData && rec.Data == nil {
		rec.Data = []byte{}
	}
	return &rec, nil
}

// ReadObject returns an object with its data
func (p *PostgresBackend) ReadObject(ctx context.Context, namespace, container, key string) (*types.ObjectRecord, error) {
	return p.objectRow(ctx, namespace, container, key, true)
}

// StatObject returns an object without its data
func (p *PostgresBackend) StatObject(ctx context.Context, namespace, container, key string) (*types.ObjectRecord, error) {
	return p.objectRow(ctx, namespace, container, key, false)
}

// WriteObject creates or replaces an object
func (p *PostgresBackend) WriteObject(ctx context.Context, namespace, container string, rec *types.ObjectRecord) error {
	var metadata []byte
	if rec.Metadata != nil {
		var err error
		if metadata, err = json.Marshal(rec.Metadata); err != nil {
			return fmt.Errorf("failed to encode metadata: %w", err)
		}
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (namespace, container, key, data, size, etag, md5, content_type, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (namespace, container, key)
		DO UPDATE SET
			data = EXCLUDED.data,
			size = EXCLUDED.size,
			etag = EXCLUDED.etag,
			md5 = EXCLUDED.md5,
			content_type = EXCLUDED.content_type,
			metadata = EXCLUDED.metadata,
			updated_at = EXCLUDED.updated_at
	`, p.objects)

	_, err := p.db.ExecContext(ctx, query, namespace, container, rec.Key, rec.Data, rec.Size,
		rec.ETag, rec.MD5, rec.ContentType, metadata, rec.Created, rec.Modified)
	if err != nil {
		return fmt.Errorf("failed to write object: %w", err)
	}
	return nil
}

// DeleteObject deletes an object
func (p *PostgresBackend) DeleteObject(ctx context.Context, namespace, container, key string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE namespace = $1 AND container = $2 AND key = $3", p.objects)
	result, err := p.db.ExecContext(ctx, query, namespace, container, key)
	if err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("object %s not found: %w", key, os.ErrNotExist)
	}
	return nil
}

// ListObjects lists objects whose key starts with prefix
func (p *PostgresBackend) ListObjects(ctx context.Context, namespace, container, prefix string) ([]types.ObjectRecord, error) {
	query := fmt.Sprintf(`SELECT key, size, etag, md5, content_type, created_at, updated_at FROM %s
		WHERE namespace = $1 AND container = $2 AND left(key, length($3)) = $3
		ORDER BY key COLLATE "C"`, p.objects)
	rows, err := p.db.QueryContext(ctx, query, namespace, container, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list objects: %w", err)
	}
	defer rows.Close()

	var out []types.ObjectRecord
	for rows.Next() {
		var rec types.ObjectRecord
		if err := rows.Scan(&rec.Key, &rec.Size, &rec.ETag, &rec.MD5, &rec.ContentType, &rec.Created, &rec.Modified); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// RenameObject changes an object's key, replacing any object at the new key
func (p *PostgresBackend) RenameObject(ctx context.Context, namespace, container, from, to string) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	deleteQuery := fmt.Sprintf("DELETE FROM %s WHERE namespace = $1 AND container = $2 AND key = $3", p.objects)
	if _, err := tx.ExecContext(ctx, deleteQuery, namespace, container, to); err != nil {
		return fmt.Errorf("failed to replace target: %w", err)
	}
	updateQuery := fmt.Sprintf(`UPDATE %s SET key = $4, updated_at = NOW()
		WHERE namespace = $1 AND container = $2 AND key = $3`, p.objects)
	result, err := tx.ExecContext(ctx, updateQuery, namespace, container, from, to)
	if err != nil {
		return fmt.Errorf("failed to rename: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("object %s not found: %w", from, os.ErrNotExist)
	}
	return tx.Commit()
}

// Close closes the database connection
func (p *PostgresBackend) Close() error {
	return p.db.Close()
}
