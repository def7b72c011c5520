package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ErrDuplicateKey is returned by the memory backend when a write violates a
// unique index.
var ErrDuplicateKey = errors.New("duplicate key")

// MemoryStore is an in-process Store. Documents are kept as BSON so filters
// and decoding behave like the MongoDB backend.
type MemoryStore struct {
	mu     sync.Mutex
	colls  map[string]*MemoryCollection
	logger *slog.Logger
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(logger *slog.Logger) *MemoryStore {
	return &MemoryStore{
		colls:  make(map[string]*MemoryCollection),
		logger: logger.With("component", "memory_store"),
	}
}

func (s *MemoryStore) Name() string { return "memory" }

func (s *MemoryStore) Collection(name string) Collection {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.colls[name]
	if !ok {
		c = &MemoryCollection{name: name}
		s.colls[name] = c
	}
	return c
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close(context.Context) error {
	s.logger.Debug("memory store closing", "collections", len(s.colls))
	return nil
}

// MemoryCollection implements Collection over a slice of BSON documents.
type MemoryCollection struct {
	name   string
	mu     sync.RWMutex
	docs   []bson.Raw
	unique []string
}

func (c *MemoryCollection) Name() string { return c.name }

func (c *MemoryCollection) FindOne(_ context.Context, f Filter) (bson.Raw, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, doc := range c.docs {
		ok, err := matches(doc, f)
		if err != nil {
			return nil, false, err
		}
		if ok {
			return cloneRaw(doc), true, nil
		}
	}
	return nil, false, nil
}

func (c *MemoryCollection) Find(_ context.Context, f Filter, opts FindOptions) ([]bson.Raw, error) {
	c.mu.RLock()
	var out []bson.Raw
	for _, doc := range c.docs {
		ok, err := matches(doc, f)
		if err != nil {
			c.mu.RUnlock()
			return nil, err
		}
		if ok {
			out = append(out, cloneRaw(doc))
		}
	}
	c.mu.RUnlock()

	if opts.SortField != "" {
		path := strings.Split(opts.SortField, ".")
		sort.SliceStable(out, func(i, j int) bool {
			a, _ := out[i].LookupErr(path...)
			b, _ := out[j].LookupErr(path...)
			cmp, _ := compareValues(a, b)
			if opts.SortDesc {
				return cmp > 0
			}
			return cmp < 0
		})
	}
	if opts.Limit > 0 && int64(len(out)) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (c *MemoryCollection) InsertOne(ctx context.Context, doc any) (string, error) {
	ids, err := c.InsertMany(ctx, []any{doc})
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

// InsertMany is all-or-nothing: a duplicate anywhere in the batch inserts nothing.
func (c *MemoryCollection) InsertMany(_ context.Context, docs []any) ([]string, error) {
	if len(docs) == 0 {
		return nil, nil
	}

	prepared := make([]bson.Raw, 0, len(docs))
	ids := make([]string, 0, len(docs))
	for _, doc := range docs {
		d, err := toDocument(doc)
		if err != nil {
			return nil, err
		}
		id := ensureID(&d)
		raw, err := bson.Marshal(d)
		if err != nil {
			return nil, fmt.Errorf("marshal document: %w", err)
		}
		prepared = append(prepared, raw)
		ids = append(ids, hexID(id))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for i, raw := range prepared {
		if err := c.checkUnique(raw, -1, prepared[:i]); err != nil {
			return nil, err
		}
	}
	c.docs = append(c.docs, prepared...)
	return ids, nil
}

func (c *MemoryCollection) UpdateOne(_ context.Context, f Filter, u Update, upsert bool) (UpdateResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, doc := range c.docs {
		ok, err := matches(doc, f)
		if err != nil {
			return UpdateResult{}, err
		}
		if !ok {
			continue
		}

		var d bson.D
		if err := bson.Unmarshal(doc, &d); err != nil {
			return UpdateResult{}, fmt.Errorf("decode document: %w", err)
		}
		for k, v := range u.Set {
			setField(&d, k, v)
		}
		updated, err := bson.Marshal(d)
		if err != nil {
			return UpdateResult{}, fmt.Errorf("marshal document: %w", err)
		}
		if err := c.checkUnique(updated, i, nil); err != nil {
			return UpdateResult{}, err
		}

		res := UpdateResult{Matched: 1}
		if !bytes.Equal(doc, updated) {
			c.docs[i] = updated
			res.Modified = 1
		}
		return res, nil
	}

	if !upsert {
		return UpdateResult{}, nil
	}

	d := bson.D{}
	id := ensureID(&d)
	for _, k := range sortedKeys(f.Eq) {
		if !strings.Contains(k, ".") {
			setField(&d, k, f.Eq[k])
		}
	}
	for _, k := range sortedKeys(u.SetOnInsert) {
		setField(&d, k, u.SetOnInsert[k])
	}
	for _, k := range sortedKeys(u.Set) {
		setField(&d, k, u.Set[k])
	}
	raw, err := bson.Marshal(d)
	if err != nil {
		return UpdateResult{}, fmt.Errorf("marshal document: %w", err)
	}
	if err := c.checkUnique(raw, -1, nil); err != nil {
		return UpdateResult{}, err
	}
	c.docs = append(c.docs, raw)
	return UpdateResult{UpsertedID: hexID(id)}, nil
}

func (c *MemoryCollection) Count(_ context.Context, f Filter) (int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var n int64
	for _, doc := range c.docs {
		ok, err := matches(doc, f)
		if err != nil {
			return 0, err
		}
		if ok {
			n++
		}
	}
	return n, nil
}

func (c *MemoryCollection) EnsureUniqueIndex(_ context.Context, field string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, f := range c.unique {
		if f == field {
			return nil
		}
	}
	c.unique = append(c.unique, field)
	return nil
}

// checkUnique reports a unique-index violation of doc against the stored
// documents (except index skip) and the pending batch.
func (c *MemoryCollection) checkUnique(doc bson.Raw, skip int, pending []bson.Raw) error {
	for _, field := range c.unique {
		path := strings.Split(field, ".")
		v, err := doc.LookupErr(path...)
		if err != nil {
			continue
		}
		conflict := func(other bson.Raw) bool {
			ov, err := other.LookupErr(path...)
			if err != nil {
				return false
			}
			cmp, ok := compareValues(v, ov)
			return ok && cmp == 0
		}
		for i, other := range c.docs {
			if i != skip && conflict(other) {
				return fmt.Errorf("%w: collection %s index %s", ErrDuplicateKey, c.name, field)
			}
		}
		for _, other := range pending {
			if conflict(other) {
				return fmt.Errorf("%w: collection %s index %s", ErrDuplicateKey, c.name, field)
			}
		}
	}
	return nil
}

// --- Filter Evaluation ---

func matches(doc bson.Raw, f Filter) (bool, error) {
	for k, want := range f.Eq {
		ok, err := fieldCompare(doc, k, want, func(cmp int) bool { return cmp == 0 })
		if err != nil || !ok {
			return false, err
		}
	}
	for k, bound := range f.Lte {
		ok, err := fieldCompare(doc, k, bound, func(cmp int) bool { return cmp <= 0 })
		if err != nil || !ok {
			return false, err
		}
	}
	for k, vals := range f.In {
		found := false
		for _, want := range vals {
			ok, err := fieldCompare(doc, k, want, func(cmp int) bool { return cmp == 0 })
			if err != nil {
				return false, err
			}
			if ok {
				found = true
				break
			}
		}
		if !found {
			return false, nil
		}
	}
	return true, nil
}

// fieldCompare compares the document value at path with want. A missing
// field or incomparable types never match.
func fieldCompare(doc bson.Raw, path string, want any, pred func(int) bool) (bool, error) {
	got, err := doc.LookupErr(strings.Split(path, ".")...)
	if err != nil {
		return false, nil
	}
	t, data, err := bson.MarshalValue(want)
	if err != nil {
		return false, fmt.Errorf("filter value for %s: %w", path, err)
	}
	cmp, ok := compareValues(got, bson.RawValue{Type: t, Value: data})
	return ok && pred(cmp), nil
}

// compareValues orders two BSON values. ok is false when they are not comparable.
func compareValues(a, b bson.RawValue) (int, bool) {
	if a.Type == 0 || b.Type == 0 {
		switch {
		case a.Type == 0 && b.Type == 0:
			return 0, false
		case a.Type == 0:
			return -1, false
		default:
			return 1, false
		}
	}

	if af, ok := numeric(a); ok {
		if bf, ok := numeric(b); ok {
			return cmpOrdered(af, bf), true
		}
		return 0, false
	}
	if a.Type != b.Type {
		return 0, false
	}

	switch a.Type {
	case bsontype.String:
		return strings.Compare(a.StringValue(), b.StringValue()), true
	case bsontype.DateTime:
		return cmpOrdered(a.DateTime(), b.DateTime()), true
	case bsontype.Boolean:
		x, y := a.Boolean(), b.Boolean()
		switch {
		case x == y:
			return 0, true
		case !x:
			return -1, true
		default:
			return 1, true
		}
	case bsontype.ObjectID:
		x, y := a.ObjectID(), b.ObjectID()
		return bytes.Compare(x[:], y[:]), true
	default:
		if bytes.Equal(a.Value, b.Value) {
			return 0, true
		}
		return 0, false
	}
}

func numeric(v bson.RawValue) (float64, bool) {
	switch v.Type {
	case bsontype.Double:
		return v.Double(), true
	case bsontype.Int32:
		return float64(v.Int32()), true
	case bsontype.Int64:
		return float64(v.Int64()), true
	}
	return 0, false
}

func cmpOrdered[T int64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// --- Document Helpers ---

func toDocument(doc any) (bson.D, error) {
	raw, err := bson.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal document: %w", err)
	}
	var d bson.D
	if err := bson.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return d, nil
}

// ensureID returns the document's _id, prepending a fresh ObjectID when absent.
func ensureID(d *bson.D) any {
	for _, e := range *d {
		if e.Key == "_id" {
			return e.Value
		}
	}
	id := primitive.NewObjectID()
	*d = append(bson.D{{Key: "_id", Value: id}}, *d...)
	return id
}

func setField(d *bson.D, key string, value any) {
	for i := range *d {
		if (*d)[i].Key == key {
			(*d)[i].Value = value
			return
		}
	}
	*d = append(*d, bson.E{Key: key, Value: value})
}

func sortedKeys(m bson.M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func cloneRaw(doc bson.Raw) bson.Raw {
	out := make(bson.Raw, len(doc))
	copy(out, doc)
	return out
}
