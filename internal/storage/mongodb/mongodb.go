// Package mongodb stores containers and objects as MongoDB documents.
package mongodb

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ocifs/ocifs-go/internal/storage/types"
)

// ObjectDocument represents an object document in MongoDB
type ObjectDocument struct {
	ID          string            `bson:"_id"`
	Namespace   string            `bson:"namespace"`
	Container   string            `bson:"container"`
	Key         string            `bson:"key"`
	Data        []byte            `bson:"data,omitempty"`
	Size        int64             `bson:"size"`
	ETag        string            `bson:"etag"`
	MD5         string            `bson:"md5"`
	ContentType string            `bson:"content_type,omitempty"`
	Metadata    map[string]string `bson:"metadata,omitempty"`
	CreatedAt   time.Time         `bson:"created_at"`
	UpdatedAt   time.Time         `bson:"updated_at"`
}

// ContainerDocument represents a container document in MongoDB
type ContainerDocument struct {
	ID            string    `bson:"_id"`
	Namespace     string    `bson:"namespace"`
	Name          string    `bson:"name"`
	CompartmentID string    `bson:"compartment_id,omitempty"`
	ETag          string    `bson:"etag"`
	CreatedAt     time.Time `bson:"created_at"`
}

// MongoBackend implements types.Backend using MongoDB
type MongoBackend struct {
	client     *mongo.Client
	objects    *mongo.Collection
	containers *mongo.Collection
}

var _ types.Backend = (*MongoBackend)(nil)

// NewMongoBackend connects to MongoDB and prepares the <collection> and
// <collection>_containers collections
func NewMongoBackend(uri, database, collection string) (*MongoBackend, error) {
	ctx := context.Background()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	db := client.Database(database)
	objects := db.Collection(collection)
	_, err = objects.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "namespace", Value: 1},
			{Key: "container", Value: 1},
			{Key: "key", Value: 1},
		},
	})
	if err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to create index: %w", err)
	}

	return &MongoBackend{
		client:     client,
		objects:    objects,
		containers: db.Collection(collection + "_containers"),
	}, nil
}

func containerID(namespace, name string) string {
	return namespace + "/" + name
}

func objectID(namespace, container, key string) string {
	return namespace + "/" + container + "/" + key
}

func (m *MongoBackend) toRecord(doc *ObjectDocument) *types.ObjectRecord {
	return &types.ObjectRecord{
		Key:         doc.Key,
		Data:        doc.Data,
		Size:        doc.Size,
		ETag:        doc.ETag,
		MD5:         doc.MD5,
		ContentType: doc.ContentType,
		Metadata:    doc.Metadata,
		Created:     doc.CreatedAt,
		Modified:    doc.UpdatedAt,
	}
}

// CreateContainer creates a container
func (m *MongoBackend) CreateContainer(ctx context.Context, rec types.ContainerRecord) error {
	_, err := m.containers.InsertOne(ctx, ContainerDocument{
		ID:            containerID(rec.Namespace, rec.Name),
		Namespace:     rec.Namespace,
		Name:          rec.Name,
		CompartmentID: rec.CompartmentID,
		ETag:          rec.ETag,
		CreatedAt:     rec.Created,
	})
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("container %s: %w", rec.Name, os.ErrExist)
	}
	if err != nil {
		return fmt.Errorf("failed to create container: %w", err)
	}
	return nil
}

// StatContainer returns a container
func (m *MongoBackend) StatContainer(ctx context.Context, namespace, name string) (*types.ContainerRecord, error) {
	var doc ContainerDocument
	err := m.containers.FindOne(ctx, bson.M{"_id": containerID(namespace, name)}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, fmt.Errorf("container %s not found: %w", name, os.ErrNotExist)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat container: %w", err)
	}
	return &types.ContainerRecord{
		Namespace:     doc.Namespace,
		Name:          doc.Name,
		CompartmentID: doc.CompartmentID,
		ETag:          doc.ETag,
		Created:       doc.CreatedAt,
	}, nil
}

// DeleteContainer deletes an empty container
func (m *MongoBackend) DeleteContainer(ctx context.Context, namespace, name string) error {
	n, err := m.objects.CountDocuments(ctx, bson.M{"namespace": namespace, "container": name},
		options.Count().SetLimit(1))
	if err != nil {
		return fmt.Errorf("failed to count objects: %w", err)
	}
	if n > 0 {
		return types.ErrContainerNotEmpty
	}
	result, err := m.containers.DeleteOne(ctx, bson.M{"_id": containerID(namespace, name)})
	if err != nil {
		return fmt.Errorf("failed to delete container: %w", err)
	}
	if result.DeletedCount == 0 {
		return fmt.Errorf("container %s not found: %w", name, os.ErrNotExist)
	}
	return nil
}

// ListContainers lists containers in a namespace
func (m *MongoBackend) ListContainers(ctx context.Context, namespace string) ([]types.ContainerRecord, error) {
	cursor, err := m.containers.Find(ctx, bson.M{"namespace": namespace},
		options.Find().SetSort(bson.D{{Key: "name", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}
	defer cursor.Close(ctx)

	var out []types.ContainerRecord
	for cursor.Next(ctx) {
		var doc ContainerDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, types.ContainerRecord{
			Namespace:     doc.Namespace,
			Name:          doc.Name,
			CompartmentID: doc.CompartmentID,
			ETag:          doc.ETag,
			Created:       doc.CreatedAt,
		})
	}
	return out, cursor.Err()
}

func (m *MongoBackend) findObject(ctx context.Context, namespace, container, key string, withData bool) (*types.ObjectRecord, error) {
	opts := options.FindOne()
	if !withData {
		opts.SetProjection(bson.M{"data": 0})
	}
	var doc ObjectDocument
	err := m.objects.FindOne(ctx, bson.M{"_id": objectID(namespace, container, key)}, opts).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, fmt.Errorf("object %s not found: %w", key, os.ErrNotExist)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read object: %w", err)
	}
	rec := m.toRecord(&doc)
	if withData && rec.Data == nil {
		rec.Data = []byte{}
	}
	return rec, nil
}

// ReadObject returns an object with its data
func (m *MongoBackend) ReadObject(ctx context.Context, namespace, container, key string) (*types.ObjectRecord, error) {
	return m.findObject(ctx, namespace, container, key, true)
}

// StatObject returns an object without its data
func (m *MongoBackend) StatObject(ctx context.Context, namespace, container, key string) (*types.ObjectRecord, error) {
	return m.findObject(ctx, namespace, container, key, false)
}

// WriteObject creates or replaces an object
func (m *MongoBackend) WriteObject(ctx context.Context, namespace, container string, rec *types.ObjectRecord) error {
	id := objectID(namespace, container, rec.Key)
	doc := ObjectDocument{
		ID:          id,
		Namespace:   namespace,
		Container:   container,
		Key:         rec.Key,
		Data:        rec.Data,
		Size:        rec.Size,
		ETag:        rec.ETag,
		MD5:         rec.MD5,
		ContentType: rec.ContentType,
		Metadata:    rec.Metadata,
		CreatedAt:   rec.Created,
		UpdatedAt:   rec.Modified,
	}
	_, err := m.objects.ReplaceOne(ctx, bson.M{"_id": id}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to write object: %w", err)
	}
	return nil
}

// DeleteObject deletes an object
func (m *MongoBackend) DeleteObject(ctx context.Context, namespace, container, key string) error {
	result, err := m.objects.DeleteOne(ctx, bson.M{"_id": objectID(namespace, container, key)})
	if err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	if result.DeletedCount == 0 {
		return fmt.Errorf("object %s not found: %w", key, os.ErrNotExist)
	}
	return nil
}

// ListObjects lists objects whose key starts with prefix
func (m *MongoBackend) ListObjects(ctx context.Context, namespace, container, prefix string) ([]types.ObjectRecord, error) {
	filter := bson.M{"namespace": namespace, "container": container}
	if prefix != "" {
		filter["key"] = bson.M{"$regex": "^" + regexp.QuoteMeta(prefix)}
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "key", Value: 1}}).
		SetProjection(bson.M{"data": 0})
	cursor, err := m.objects.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list objects: %w", err)
	}
	defer cursor.Close(ctx)

	var out []types.ObjectRecord
	for cursor.Next(ctx) {
		var doc ObjectDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, *m.toRecord(&doc))
	}
	return out, cursor.Err()
}

// RenameObject changes an object's key. Documents are keyed by path, so the
// document is re-inserted under the new id.
func (m *MongoBackend) RenameObject(ctx context.Context, namespace, container, from, to string) error {
	var doc ObjectDocument
	err := m.objects.FindOne(ctx, bson.M{"_id": objectID(namespace, container, from)}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return fmt.Errorf("object %s not found: %w", from, os.ErrNotExist)
	}
	if err != nil {
		return fmt.Errorf("failed to read object: %w", err)
	}

	doc.ID = objectID(namespace, container, to)
	doc.Key = to
	doc.UpdatedAt = time.Now().UTC()
	if _, err := m.objects.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, options.Replace().SetUpsert(true)); err != nil {
		return fmt.Errorf("failed to write renamed object: %w", err)
	}
	if _, err := m.objects.DeleteOne(ctx, bson.M{"_id": objectID(namespace, container, from)}); err != nil {
		return fmt.Errorf("failed to delete old object: %w", err)
	}
	return nil
}

// Close closes the MongoDB connection
func (m *MongoBackend) Close() error {
	return m.client.Disconnect(context.Background())
}
