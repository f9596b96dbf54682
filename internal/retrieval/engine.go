package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"docqa/internal/domain"
	"docqa/internal/embedding/tfidf"
	"docqa/internal/snapshot"
	"docqa/internal/vectorstore/flat"
)

// DefaultMaxChunks is the corpus cap used when none is configured.
const DefaultMaxChunks = 20000

// state is one immutable, fully aligned view of the index.
type state struct {
	fragments  []domain.Fragment
	model      *tfidf.Model
	index      *flat.Index
	generation string
}

// Stats describes the currently cached index.
type Stats struct {
	Loaded     bool
	Fragments  int
	Vocabulary int
	Generation string
}

// Engine owns a TF-IDF index over a capped corpus of fragments and keeps it
// in sync with a snapshot store.
//
// Queries read an immutable state through one atomic load and never wait for
// writers. Writers serialize on mu, which covers fitting, persisting and
// publishing, and publish only after the snapshot was saved.
type Engine struct {
	store     snapshot.Store
	maxChunks int
	logger    *zap.Logger

	mu      sync.Mutex
	current atomic.Pointer[state]
	loads   singleflight.Group
}

// Option configures an Engine.
type Option func(*Engine)

// WithMaxChunks caps the number of indexed fragments. Older fragments are
// dropped first.
func WithMaxChunks(n int) Option {
	return func(e *Engine) { e.maxChunks = n }
}

// WithLogger sets the engine logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// New creates an empty engine backed by store. Call Load or Rebuild to populate it;
// Query loads lazily otherwise.
func New(store snapshot.Store, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: snapshot store is required", domain.ErrConfiguration)
	}
	e := &Engine{store: store, maxChunks: DefaultMaxChunks, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	if e.maxChunks <= 0 {
		return nil, fmt.Errorf("%w: max chunks must be positive, got %d", domain.ErrConfiguration, e.maxChunks)
	}
	return e, nil
}

// MaxChunks returns the corpus cap.
func (e *Engine) MaxChunks() int { return e.maxChunks }

// Rebuild replaces the whole corpus with fragments, refits the model and the
// index and persists the result. On failure the previous snapshot stays in
// effect both in memory and in the store.
func (e *Engine) Rebuild(ctx context.Context, fragments []domain.Fragment) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rebuildLocked(ctx, corpus(nil).replace(fragments))
}

// Add appends fragments to the persisted corpus and rebuilds over the union.
func (e *Engine) Add(ctx context.Context, fragments []domain.Fragment) error {
	if len(fragments) == 0 {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	cur := e.current.Load()
	if cur == nil {
		var err error
		if cur, err = e.loadLocked(ctx); err != nil {
			return err
		}
	}
	return e.rebuildLocked(ctx, corpus(cur.fragments).append(fragments))
}

func (e *Engine) rebuildLocked(ctx context.Context, c corpus) error {
	total := len(c)
	c = c.truncate(e.maxChunks)
	if dropped := total - len(c); dropped > 0 {
		e.logger.Info("corpus cap reached, dropping oldest fragments",
			zap.Int("dropped", dropped), zap.Int("max_chunks", e.maxChunks))
	}

	st, rows, err := fit(c)
	if err != nil {
		return err
	}
	artifacts, err := encodeState(st, rows)
	if err != nil {
		return err
	}
	if err := e.store.Save(ctx, artifacts); err != nil {
		e.logger.Error("persist snapshot failed", zap.Error(err), zap.Int("fragments", len(c)))
		return fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	}
	gen, err := e.store.Generation(ctx)
	if err != nil {
		e.logger.Warn("read snapshot generation failed", zap.Error(err))
	}
	st.generation = gen
	e.current.Store(st)
	e.logger.Info("index rebuilt",
		zap.Int("fragments", len(st.fragments)),
		zap.Int("vocabulary", st.model.Dim()),
		zap.String("generation", gen))
	return nil
}

// fit builds model and index over c. rows are the normalized vectors, one per fragment.
func fit(c corpus) (*state, [][]float32, error) {
	model := tfidf.Fit(c.texts())
	rows := make([][]float32, len(c))
	for i, f := range c {
		rows[i] = flat.Normalize(model.Transform(f.Text))
	}
	index, err := flat.Build(model.Dim(), rows)
	if err != nil {
		return nil, nil, fmt.Errorf("build index: %w", err)
	}
	return &state{fragments: c, model: model, index: index}, rows, nil
}

// Query returns the topK fragments most similar to question, best first.
// Ties keep corpus order. An empty engine yields no results.
func (e *Engine) Query(ctx context.Context, question string, topK int) ([]domain.ScoredFragment, error) {
	if topK <= 0 {
		return nil, nil
	}
	st, err := e.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	if st.index.Len() == 0 {
		return nil, nil
	}
	q := flat.Normalize(st.model.Transform(question))
	hits := st.index.Search(q, topK)
	out := make([]domain.ScoredFragment, len(hits))
	for i, h := range hits {
		out[i] = domain.ScoredFragment{Fragment: st.fragments[h.Row], Index: h.Row, Score: h.Score}
	}
	return out, nil
}

// snapshot returns the cached state, loading it once if no state is cached.
// Concurrent callers share a single store read.
func (e *Engine) snapshot(ctx context.Context) (*state, error) {
	if st := e.current.Load(); st != nil {
		return st, nil
	}
	v, err, _ := e.loads.Do("load", func() (any, error) {
		e.mu.Lock()
		defer e.mu.Unlock()
		if st := e.current.Load(); st != nil {
			return st, nil
		}
		return e.loadLocked(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*state), nil
}

// Load replaces the cached state with the persisted snapshot. A store without
// a snapshot yields an empty engine.
func (e *Engine) Load(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, err := e.loadLocked(ctx)
	return err
}

func (e *Engine) loadLocked(ctx context.Context) (*state, error) {
	gen, err := e.store.Generation(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	}
	st, err := e.read(ctx)
	if err != nil {
		return nil, err
	}
	st.generation = gen
	e.current.Store(st)
	e.logger.Debug("snapshot loaded", zap.Int("fragments", len(st.fragments)), zap.String("generation", gen))
	return st, nil
}

func (e *Engine) read(ctx context.Context) (*state, error) {
	artifacts, err := e.store.Load(ctx)
	if errors.Is(err, snapshot.ErrNotFound) {
		st, _, err := fit(nil)
		return st, err
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	}
	return decodeState(artifacts)
}

// Refresh reloads the snapshot when the store holds a different generation
// than the cached one. It reports whether a reload happened.
func (e *Engine) Refresh(ctx context.Context) (bool, error) {
	gen, err := e.store.Generation(ctx)
	if err != nil {
		return false, fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	}
	if cur := e.current.Load(); cur != nil && cur.generation == gen {
		return false, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if cur := e.current.Load(); cur != nil && cur.generation == gen {
		return false, nil
	}
	if _, err := e.loadLocked(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// Health confirms that the persisted snapshot, if any, can be decoded.
// A writer in another process may prune the generation between resolving
// and reading it, so one failed read is retried against the new pointer.
func (e *Engine) Health(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.read(ctx); err == nil {
		return nil
	}
	_, err := e.read(ctx)
	return err
}

// Stats describes the cached state without touching the store.
func (e *Engine) Stats() Stats {
	st := e.current.Load()
	if st == nil {
		return Stats{}
	}
	return Stats{
		Loaded:     true,
		Fragments:  len(st.fragments),
		Vocabulary: st.model.Dim(),
		Generation: st.generation,
	}
}

// Fragments returns a copy of the indexed corpus, loading it if needed.
func (e *Engine) Fragments(ctx context.Context) ([]domain.Fragment, error) {
	st, err := e.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return append([]domain.Fragment(nil), st.fragments...), nil
}
