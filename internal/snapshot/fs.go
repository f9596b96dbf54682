package snapshot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"docqa/internal/config"
)

const currentFile = "CURRENT"

// fsStore writes each snapshot into its own generation directory and then
// atomically renames a CURRENT pointer file to select it.
type fsStore struct {
	dir string
}

func init() {
	Register("fs", createFSStore)
}

func createFSStore(cfg config.SnapshotConfig) (Store, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("snapshot.dir is required for fs store")
	}
	return NewFS(cfg.Dir), nil
}

// NewFS returns a filesystem store rooted at dir.
func NewFS(dir string) LocalStore {
	return &fsStore{dir: dir}
}

func (s *fsStore) Dir() string { return s.dir }

func (s *fsStore) Save(ctx context.Context, artifacts Artifacts) error {
	if err := artifacts.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	gen := fmt.Sprintf("gen-%d-%s", time.Now().UTC().UnixNano(), uuid.NewString()[:8])
	genDir := filepath.Join(s.dir, gen)
	if err := os.Mkdir(genDir, 0o755); err != nil {
		return fmt.Errorf("create generation dir: %w", err)
	}
	for _, name := range Names {
		if err := ctx.Err(); err != nil {
			_ = os.RemoveAll(genDir)
			return err
		}
		if err := writeFileSync(filepath.Join(genDir, name), artifacts[name]); err != nil {
			_ = os.RemoveAll(genDir)
			return fmt.Errorf("write artifact %s: %w", name, err)
		}
	}
	previous, _ := s.Generation(ctx)
	tmp := filepath.Join(s.dir, currentFile+".tmp-"+uuid.NewString())
	if err := writeFileSync(tmp, []byte(gen+"\n")); err != nil {
		_ = os.RemoveAll(genDir)
		return fmt.Errorf("write current pointer: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(s.dir, currentFile)); err != nil {
		_ = os.Remove(tmp)
		_ = os.RemoveAll(genDir)
		return fmt.Errorf("publish generation: %w", err)
	}
	s.prune(gen, previous)
	return nil
}

// prune removes generations older than the previous one. The previous
// generation is kept so that a concurrent reader that resolved it can finish.
func (s *fsStore) prune(keep ...string) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), "gen-") || slices.Contains(keep, e.Name()) {
			continue
		}
		_ = os.RemoveAll(filepath.Join(s.dir, e.Name()))
	}
}

func (s *fsStore) Load(ctx context.Context) (Artifacts, error) {
	gen, err := s.Generation(ctx)
	if err != nil {
		return nil, err
	}
	if gen == "" {
		return nil, ErrNotFound
	}
	artifacts := make(Artifacts, len(Names))
	for _, name := range Names {
		data, err := os.ReadFile(filepath.Join(s.dir, gen, name))
		if err != nil {
			return nil, fmt.Errorf("read artifact %s: %w", name, err)
		}
		artifacts[name] = data
	}
	return artifacts, nil
}

func (s *fsStore) Generation(ctx context.Context) (string, error) {
	_ = ctx
	data, err := os.ReadFile(filepath.Join(s.dir, currentFile))
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read current pointer: %w", err)
	}
	gen := strings.TrimSpace(string(data))
	if gen == "" || strings.ContainsAny(gen, `/\`) {
		return "", fmt.Errorf("invalid current pointer %q", gen)
	}
	return gen, nil
}

func writeFileSync(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
