package pipeline

import (
	"fmt"
	"log/slog"
	"sync"
)

// Middleware processes a record and returns the (possibly modified) record.
// Return nil to drop the record from the pipeline.
type Middleware[T any] interface {
	// Name returns the middleware's identifier.
	Name() string

	// Process transforms a record. Return nil to drop it.
	Process(rec *T) (*T, error)
}

// StageError reports which middleware failed.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("pipeline stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Pipeline chains middleware processors together.
type Pipeline[T any] struct {
	middlewares []Middleware[T]
	logger      *slog.Logger
}

// New creates a new Pipeline.
func New[T any](logger *slog.Logger) *Pipeline[T] {
	return &Pipeline[T]{
		logger: logger.With("component", "pipeline"),
	}
}

// Use adds a middleware to the pipeline chain.
func (p *Pipeline[T]) Use(mw Middleware[T]) *Pipeline[T] {
	p.middlewares = append(p.middlewares, mw)
	p.logger.Debug("middleware added", "name", mw.Name(), "position", len(p.middlewares))
	return p
}

// Process runs the record through all middleware in order.
func (p *Pipeline[T]) Process(rec *T) (*T, error) {
	current := rec

	for _, mw := range p.middlewares {
		result, err := mw.Process(current)
		if err != nil {
			return nil, &StageError{Stage: mw.Name(), Err: err}
		}
		if result == nil {
			p.logger.Debug("record dropped", "stage", mw.Name())
			return nil, nil
		}
		current = result
	}

	return current, nil
}

// Run processes records in order and returns the survivors. Records that
// fail a stage are dropped like filtered ones; dropped counts both.
func (p *Pipeline[T]) Run(records []*T) (kept []*T, dropped int) {
	kept = make([]*T, 0, len(records))
	for _, rec := range records {
		out, err := p.Process(rec)
		if err != nil {
			p.logger.Warn("record rejected", "error", err)
			dropped++
			continue
		}
		if out == nil {
			dropped++
			continue
		}
		kept = append(kept, out)
	}
	return kept, dropped
}

// Len returns the number of middleware in the chain.
func (p *Pipeline[T]) Len() int {
	return len(p.middlewares)
}

// --- Generic Middleware ---

// DedupMiddleware drops records whose key was already seen.
type DedupMiddleware[T any] struct {
	mu   sync.Mutex
	seen map[string]struct{}
	key  func(*T) string
}

// NewDedupMiddleware dedups on key. Records with an empty key pass through.
func NewDedupMiddleware[T any](key func(*T) string) *DedupMiddleware[T] {
	return &DedupMiddleware[T]{
		seen: make(map[string]struct{}),
		key:  key,
	}
}

func (m *DedupMiddleware[T]) Name() string { return "dedup" }

func (m *DedupMiddleware[T]) Process(rec *T) (*T, error) {
	val := m.key(rec)
	if val == "" {
		return rec, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.seen[val]; exists {
		return nil, nil
	}
	m.seen[val] = struct{}{}
	return rec, nil
}

// FilterMiddleware keeps records for which Keep returns true.
type FilterMiddleware[T any] struct {
	Label string
	Keep  func(*T) bool
}

func (m *FilterMiddleware[T]) Name() string { return m.Label }

func (m *FilterMiddleware[T]) Process(rec *T) (*T, error) {
	if !m.Keep(rec) {
		return nil, nil
	}
	return rec, nil
}
