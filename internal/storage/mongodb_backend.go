package storage

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// MongoBackend stores token records in a single collection, one document per
// token with the token ID as _id.
type MongoBackend struct {
	client   *mongo.Client
	database string
	uri      string
}

const mongoTokenCollection = "tokens"

// NewMongoBackend creates a new MongoDB storage backend
func NewMongoBackend(uri, database string) *MongoBackend {
	if database == "" {
		database = "keyrelay"
	}
	return &MongoBackend{uri: uri, database: database}
}

func (m *MongoBackend) Initialize(ctx context.Context) error {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(m.uri))
	if err != nil {
		return fmt.Errorf("mongodb connect failed: %w", err)
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		return fmt.Errorf("mongodb ping failed: %w", err)
	}
	m.client = client
	return nil
}

func (m *MongoBackend) Close() error {
	if m.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}

func (m *MongoBackend) Health(ctx context.Context) error {
	if m.client == nil {
		return fmt.Errorf("mongodb not initialized")
	}
	return m.client.Ping(ctx, readpref.Primary())
}

func (m *MongoBackend) collection() *mongo.Collection {
	return m.client.Database(m.database).Collection(mongoTokenCollection)
}

func (m *MongoBackend) GetToken(ctx context.Context, id string) (map[string]interface{}, error) {
	var doc map[string]interface{}
	err := m.collection().FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, &ErrNotFound{Key: id}
	}
	if err != nil {
		return nil, err
	}
	delete(doc, "_id")
	return doc, nil
}

func (m *MongoBackend) SetToken(ctx context.Context, id string, doc map[string]interface{}) error {
	if id == "" {
		return fmt.Errorf("empty token id")
	}
	stored := make(map[string]interface{}, len(doc)+1)
	for k, v := range doc {
		stored[k] = v
	}
	stored["_id"] = id

	opts := options.Replace().SetUpsert(true)
	_, err := m.collection().ReplaceOne(ctx, bson.M{"_id": id}, stored, opts)
	return err
}

func (m *MongoBackend) DeleteToken(ctx context.Context, id string) error {
	res, err := m.collection().DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return &ErrNotFound{Key: id}
	}
	return nil
}

func (m *MongoBackend) ListTokens(ctx context.Context) (map[string]map[string]interface{}, error) {
	cursor, err := m.collection().Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	out := make(map[string]map[string]interface{})
	for cursor.Next(ctx) {
		var doc map[string]interface{}
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		id, _ := doc["_id"].(string)
		if id == "" {
			continue
		}
		delete(doc, "_id")
		out[id] = doc
	}
	return out, cursor.Err()
}

func (m *MongoBackend) GetStorageStats(ctx context.Context) (StorageStats, error) {
	count, err := m.collection().CountDocuments(ctx, bson.M{})
	if err != nil {
		return StorageStats{Backend: "mongodb"}, err
	}
	return StorageStats{
		Backend:    "mongodb",
		Healthy:    m.Health(ctx) == nil,
		TokenCount: int(count),
	}, nil
}
