package repository

import (
	"context"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/IshaanNene/hotline-scraper/internal/model"
	"github.com/IshaanNene/hotline-scraper/internal/storage"
	"github.com/IshaanNene/hotline-scraper/internal/types"
)

// DefaultNewsLimit caps FindUntil when no limit is given.
const DefaultNewsLimit = 100

// NewsRepository stores articles keyed by source_url.
type NewsRepository struct {
	coll   storage.Collection
	now    func() time.Time
	logger *slog.Logger
}

// NewNewsRepository creates a news repository on coll.
func NewNewsRepository(coll storage.Collection, logger *slog.Logger) *NewsRepository {
	return &NewsRepository{
		coll:   coll,
		now:    time.Now,
		logger: logger.With("component", "news_repository"),
	}
}

func (r *NewsRepository) persistenceError(op string, err error) error {
	return &types.PersistenceError{Op: op, Collection: r.coll.Name(), Err: err}
}

// EnsureIndexes creates the unique index on source_url.
func (r *NewsRepository) EnsureIndexes(ctx context.Context) error {
	if err := r.coll.EnsureUniqueIndex(ctx, "source_url"); err != nil {
		return r.persistenceError("create_index", err)
	}
	return nil
}

// SetClock replaces the clock used for created_at.
func (r *NewsRepository) SetClock(now func() time.Time) {
	r.now = now
}

// SaveBatch inserts the items whose source_url is not stored yet and returns
// exactly the new ids. Duplicates inside the batch keep the first occurrence.
// Existence is checked with one query before any write.
func (r *NewsRepository) SaveBatch(ctx context.Context, items []model.NewsItem, domain string) ([]string, error) {
	batch := dedupBatch(items)
	if len(batch) == 0 {
		return nil, nil
	}

	ids, err := r.insertNew(ctx, batch, domain)
	if storage.IsDuplicateKey(err) {
		// A concurrent writer stored some of the URLs between the check and the insert.
		r.logger.Debug("duplicate key on insert, retrying with a fresh existence check", "domain", domain)
		ids, err = r.insertNew(ctx, batch, domain)
	}
	if storage.IsDuplicateKey(err) {
		return nil, r.persistenceError("insert_many", err)
	}
	if err != nil {
		return nil, err
	}

	r.logger.Info("news saved", "domain", domain, "new", len(ids), "batch", len(items))
	return ids, nil
}

func (r *NewsRepository) insertNew(ctx context.Context, batch []model.NewsItem, domain string) ([]string, error) {
	urls := make([]any, len(batch))
	for i, item := range batch {
		urls[i] = item.SourceURL
	}

	existing, err := r.coll.Find(ctx, storage.Filter{In: map[string][]any{"source_url": urls}}, storage.FindOptions{})
	if err != nil {
		return nil, r.persistenceError("find", err)
	}
	stored := make(map[string]bool, len(existing))
	for _, raw := range existing {
		if s, ok := raw.Lookup("source_url").StringValueOK(); ok {
			stored[s] = true
		}
	}

	now := r.now().UTC()
	docs := make([]any, 0, len(batch))
	for _, item := range batch {
		if stored[item.SourceURL] {
			continue
		}
		if domain != "" {
			item.SourceDomain = domain
		}
		if item.SourceDomain == "" {
			item.SourceDomain = types.Domain(item.SourceURL)
		}
		if item.ArticleData.ImageURLs == nil {
			item.ArticleData.ImageURLs = []string{}
		}
		if item.ArticleData.Comments == nil {
			item.ArticleData.Comments = []string{}
		}
		item.CreatedAt = now
		docs = append(docs, item)
	}
	if len(docs) == 0 {
		return nil, nil
	}

	ids, err := r.coll.InsertMany(ctx, docs)
	if err != nil {
		if storage.IsDuplicateKey(err) {
			return nil, err
		}
		return nil, r.persistenceError("insert_many", err)
	}
	return ids, nil
}

func dedupBatch(items []model.NewsItem) []model.NewsItem {
	seen := make(map[string]bool, len(items))
	out := make([]model.NewsItem, 0, len(items))
	for _, item := range items {
		if item.SourceURL == "" || seen[item.SourceURL] {
			continue
		}
		seen[item.SourceURL] = true
		item.ID = primitive.NilObjectID
		out = append(out, item)
	}
	return out
}

// FindUntil returns articles of domain published at or before until, newest
// first. limit <= 0 means DefaultNewsLimit.
func (r *NewsRepository) FindUntil(ctx context.Context, domain string, until time.Time, limit int) ([]model.NewsItem, error) {
	if limit <= 0 {
		limit = DefaultNewsLimit
	}
	docs, err := r.coll.Find(ctx, storage.Filter{
		Eq:  bson.M{"source_domain": domain},
		Lte: bson.M{"article_data.published_at": until},
	}, storage.FindOptions{
		SortField: "article_data.published_at",
		SortDesc:  true,
		Limit:     int64(limit),
	})
	if err != nil {
		return nil, r.persistenceError("find", err)
	}

	items, err := storage.Decode[model.NewsItem](docs)
	if err != nil {
		return nil, r.persistenceError("decode", err)
	}
	return items, nil
}

// Exists reports whether an article with sourceURL is stored.
func (r *NewsRepository) Exists(ctx context.Context, sourceURL string) (bool, error) {
	n, err := r.coll.Count(ctx, storage.Filter{Eq: bson.M{"source_url": sourceURL}})
	if err != nil {
		return false, r.persistenceError("count", err)
	}
	return n > 0, nil
}
