package snapshot

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"docqa/internal/config"
	"docqa/internal/domain"
)

// Artifact names written by the retrieval engine.
const (
	Vectorizer    = "vectorizer"
	Matrix        = "matrix"
	Index         = "index"
	FragmentTexts = "fragment_texts"
	FragmentMeta  = "fragment_meta"
)

// Names lists every artifact of a complete snapshot.
var Names = []string{Vectorizer, Matrix, Index, FragmentTexts, FragmentMeta}

// ErrNotFound is returned by Load when no snapshot has been saved yet.
var ErrNotFound = fmt.Errorf("snapshot %w", domain.ErrNotFound)

// Artifacts is the named set of blobs that make up one snapshot.
type Artifacts map[string][]byte

// Validate checks that every artifact of a snapshot is present.
func (a Artifacts) Validate() error {
	for _, name := range Names {
		if _, ok := a[name]; !ok {
			return fmt.Errorf("%w: artifact %q missing", domain.ErrCorruptSnapshot, name)
		}
	}
	return nil
}

// Store persists snapshots. Save makes all artifacts visible at once, so a
// concurrent Load sees either the previous snapshot or the new one.
type Store interface {
	Save(ctx context.Context, artifacts Artifacts) error
	Load(ctx context.Context) (Artifacts, error)
	// Generation identifies the current snapshot. It is empty when none exists.
	Generation(ctx context.Context) (string, error)
}

// LocalStore is implemented by stores backed by a local directory, which can
// be watched for changes made by other processes.
type LocalStore interface {
	Store
	Dir() string
}

type Factory func(cfg config.SnapshotConfig) (Store, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

func Register(name string, factory Factory) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" || factory == nil {
		return
	}
	registryMu.Lock()
	registry[key] = factory
	registryMu.Unlock()
}

func New(cfg config.SnapshotConfig) (Store, error) {
	key := strings.ToLower(strings.TrimSpace(cfg.Type))
	if key == "" {
		return nil, fmt.Errorf("%w: snapshot.type is required", domain.ErrConfiguration)
	}
	registryMu.RLock()
	factory := registry[key]
	registryMu.RUnlock()
	if factory == nil {
		return nil, fmt.Errorf("%w: unsupported snapshot store type: %s", domain.ErrConfiguration, cfg.Type)
	}
	return factory(cfg)
}
