package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/IshaanNene/hotline-scraper/internal/config"
)

// Filter selects documents by dotted field path. All conditions must hold.
type Filter struct {
	Eq  bson.M
	Lte bson.M
	In  map[string][]any
}

// Update is applied by UpdateOne. SetOnInsert fields are written only when
// the upsert inserts a new document.
type Update struct {
	Set         bson.M
	SetOnInsert bson.M
}

// FindOptions controls ordering and size of Find results.
type FindOptions struct {
	SortField string
	SortDesc  bool
	Limit     int64 // 0 means no limit
}

// UpdateResult reports what UpdateOne did. UpsertedID is the hex id of an
// inserted document, empty otherwise.
type UpdateResult struct {
	Matched    int64
	Modified   int64
	UpsertedID string
}

// Collection is the document store contract used by the repositories.
type Collection interface {
	Name() string
	FindOne(ctx context.Context, f Filter) (bson.Raw, bool, error)
	Find(ctx context.Context, f Filter, opts FindOptions) ([]bson.Raw, error)
	InsertOne(ctx context.Context, doc any) (string, error)
	InsertMany(ctx context.Context, docs []any) ([]string, error)
	UpdateOne(ctx context.Context, f Filter, u Update, upsert bool) (UpdateResult, error)
	Count(ctx context.Context, f Filter) (int64, error)
	EnsureUniqueIndex(ctx context.Context, field string) error
}

// Store is the interface for all document store backends.
type Store interface {
	// Collection returns a handle to the named collection.
	Collection(name string) Collection

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the backend's resources.
	Close(ctx context.Context) error

	// Name returns the storage backend identifier.
	Name() string
}

// Open creates the store selected by cfg.Type.
func Open(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (Store, error) {
	switch cfg.Type {
	case "", "mongo", "mongodb":
		return NewMongoStore(ctx, cfg, logger)
	case "memory":
		return NewMemoryStore(logger), nil
	default:
		return nil, fmt.Errorf("unsupported store type: %s", cfg.Type)
	}
}

// Decode unmarshals raw documents into a typed slice.
func Decode[T any](docs []bson.Raw) ([]T, error) {
	out := make([]T, 0, len(docs))
	for _, raw := range docs {
		var v T
		if err := bson.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("decode document: %w", err)
		}
		out = append(out, v)
	}
	return out, nil
}

// IsDuplicateKey reports whether err is a unique-index violation from any backend.
func IsDuplicateKey(err error) bool {
	return errors.Is(err, ErrDuplicateKey) || mongo.IsDuplicateKeyError(err)
}
