package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/IshaanNene/hotline-scraper/internal/config"
)

// MongoStore is a Store backed by a MongoDB database.
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
	logger *slog.Logger
}

// NewMongoStore connects to MongoDB and verifies the connection with a ping.
func NewMongoStore(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (*MongoStore, error) {
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI).SetServerSelectionTimeout(timeout))
	if err != nil {
		return nil, fmt.Errorf("mongodb connect: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongodb ping: %w", err)
	}

	logger = logger.With("component", "mongo_store")
	logger.Info("connected to mongodb", "database", cfg.Database)

	return &MongoStore{
		client: client,
		db:     client.Database(cfg.Database),
		logger: logger,
	}, nil
}

func (s *MongoStore) Name() string { return "mongodb" }

func (s *MongoStore) Collection(name string) Collection {
	return &MongoCollection{coll: s.db.Collection(name)}
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func (s *MongoStore) Close(ctx context.Context) error {
	s.logger.Info("mongodb store closing")
	return s.client.Disconnect(ctx)
}

// MongoCollection implements Collection on a *mongo.Collection.
type MongoCollection struct {
	coll *mongo.Collection
}

func (c *MongoCollection) Name() string { return c.coll.Name() }

// mongoFilter translates a Filter into a query document.
func mongoFilter(f Filter) bson.M {
	q := bson.M{}
	for k, v := range f.Eq {
		q[k] = v
	}
	for k, v := range f.Lte {
		q[k] = mergeOp(q[k], "$lte", v)
	}
	for k, vals := range f.In {
		q[k] = mergeOp(q[k], "$in", vals)
	}
	return q
}

func mergeOp(existing any, op string, v any) any {
	if m, ok := existing.(bson.M); ok {
		m[op] = v
		return m
	}
	if existing != nil {
		return bson.M{"$eq": existing, op: v}
	}
	return bson.M{op: v}
}

func mongoUpdate(u Update) bson.M {
	doc := bson.M{}
	if len(u.Set) > 0 {
		doc["$set"] = u.Set
	}
	if len(u.SetOnInsert) > 0 {
		doc["$setOnInsert"] = u.SetOnInsert
	}
	return doc
}

func hexID(id any) string {
	if oid, ok := id.(primitive.ObjectID); ok {
		return oid.Hex()
	}
	if id == nil {
		return ""
	}
	return fmt.Sprint(id)
}

func (c *MongoCollection) FindOne(ctx context.Context, f Filter) (bson.Raw, bool, error) {
	raw, err := c.coll.FindOne(ctx, mongoFilter(f)).Raw()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return raw, true, nil
}

func (c *MongoCollection) Find(ctx context.Context, f Filter, opts FindOptions) ([]bson.Raw, error) {
	fo := options.Find()
	if opts.SortField != "" {
		dir := 1
		if opts.SortDesc {
			dir = -1
		}
		fo.SetSort(bson.D{{Key: opts.SortField, Value: dir}})
	}
	if opts.Limit > 0 {
		fo.SetLimit(opts.Limit)
	}

	cursor, err := c.coll.Find(ctx, mongoFilter(f), fo)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var out []bson.Raw
	for cursor.Next(ctx) {
		doc := make(bson.Raw, len(cursor.Current))
		copy(doc, cursor.Current)
		out = append(out, doc)
	}
	return out, cursor.Err()
}

func (c *MongoCollection) InsertOne(ctx context.Context, doc any) (string, error) {
	res, err := c.coll.InsertOne(ctx, doc)
	if err != nil {
		return "", err
	}
	return hexID(res.InsertedID), nil
}

func (c *MongoCollection) InsertMany(ctx context.Context, docs []any) ([]string, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	res, err := c.coll.InsertMany(ctx, docs)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(res.InsertedIDs))
	for i, id := range res.InsertedIDs {
		ids[i] = hexID(id)
	}
	return ids, nil
}

func (c *MongoCollection) UpdateOne(ctx context.Context, f Filter, u Update, upsert bool) (UpdateResult, error) {
	res, err := c.coll.UpdateOne(ctx, mongoFilter(f), mongoUpdate(u), options.Update().SetUpsert(upsert))
	if err != nil {
		return UpdateResult{}, err
	}
	return UpdateResult{
		Matched:    res.MatchedCount,
		Modified:   res.ModifiedCount,
		UpsertedID: hexID(res.UpsertedID),
	}, nil
}

func (c *MongoCollection) Count(ctx context.Context, f Filter) (int64, error) {
	return c.coll.CountDocuments(ctx, mongoFilter(f))
}

func (c *MongoCollection) EnsureUniqueIndex(ctx context.Context, field string) error {
	_, err := c.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: field, Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return err
}
