package store

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	mongoCloseTimeout  = 5 * time.Second
	defaultMongoIndex  = "vector_index"
	mongoCandidateMult = 10
)

// MongoStore queries an Atlas collection through `$vectorSearch`. The search
// index (cosine, path "embedding") is managed in Atlas, not here.
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
	index      string
}

type mongoProductDocument struct {
	ID        string         `bson:"_id"`
	Metadata  map[string]any `bson:"metadata"`
	Embedding []float64      `bson:"embedding"`
	UpdatedAt time.Time      `bson:"updated_at"`
}

func NewMongoStore(ctx context.Context, uri, database, collection, index string) (*MongoStore, error) {
	if uri == "" {
		return nil, errors.New("mongo uri is required")
	}
	if database == "" {
		return nil, errors.New("mongo database name is required")
	}
	if collection == "" {
		return nil, errors.New("mongo collection name is required")
	}
	if index == "" {
		index = defaultMongoIndex
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return &MongoStore{
		client:     client,
		collection: client.Database(database).Collection(collection),
		index:      index,
	}, nil
}

func (ms *MongoStore) Query(ctx context.Context, vector []float32, topK int) ([]Match, error) {
	if err := validateQuery(vector, topK); err != nil {
		return nil, err
	}
	if ms == nil || ms.collection == nil {
		return nil, ErrNotConfigured
	}
	pipeline := mongo.Pipeline{
		{
			{Key: "$vectorSearch", Value: bson.D{
				{Key: "index", Value: ms.index},
				{Key: "path", Value: "embedding"},
				{Key: "queryVector", Value: float64Embedding(vector)},
				{Key: "numCandidates", Value: int64(topK * mongoCandidateMult)},
				{Key: "limit", Value: int64(topK)},
			}},
		},
		{
			{Key: "$project", Value: bson.D{
				{Key: "metadata", Value: 1},
				{Key: "score", Value: bson.D{{Key: "$meta", Value: "vectorSearchScore"}}},
			}},
		},
	}

	cursor, err := ms.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var matches []Match
	for cursor.Next(ctx) {
		var doc struct {
			ID       string         `bson:"_id"`
			Metadata map[string]any `bson:"metadata"`
			Score    float64        `bson:"score"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		if doc.Metadata == nil {
			doc.Metadata = map[string]any{}
		}
		matches = append(matches, Match{ID: doc.ID, Score: doc.Score, Metadata: doc.Metadata})
	}
	return matches, cursor.Err()
}

func (ms *MongoStore) Upsert(ctx context.Context, points []Point) error {
	if ms == nil || ms.collection == nil {
		return ErrNotConfigured
	}
	if len(points) == 0 {
		return nil
	}
	now := time.Now().UTC()
	writes := make([]mongo.WriteModel, 0, len(points))
	for _, p := range points {
		if len(p.Vector) == 0 {
			return ErrVectorMismatch
		}
		doc := mongoProductDocument{
			ID:        p.ID,
			Metadata:  p.Metadata,
			Embedding: float64Embedding(p.Vector),
			UpdatedAt: now,
		}
		writes = append(writes, mongo.NewReplaceOneModel().
			SetFilter(bson.D{{Key: "_id", Value: p.ID}}).
			SetReplacement(doc).
			SetUpsert(true))
	}
	_, err := ms.collection.BulkWrite(ctx, writes, options.BulkWrite().SetOrdered(false))
	return err
}

func (ms *MongoStore) Close(ctx context.Context) error {
	if ms == nil || ms.client == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, mongoCloseTimeout)
	defer cancel()
	return ms.client.Disconnect(ctx)
}

func float64Embedding(vec []float32) []float64 {
	out := make([]float64, len(vec))
	for i, v := range vec {
		out[i] = float64(v)
	}
	return out
}
