package catalog

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa/internal/domain"
)

func setupTestRepo(t *testing.T) *Repo {
	t.Helper()
	repo, err := OpenDSN(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, repo.Close()) })
	return repo
}

func Test_Repo_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	repo := setupTestRepo(t)

	doc, err := repo.Create(ctx, domain.Document{
		Filename:  "notes.txt",
		SHA256:    "abc",
		MimeType:  "text/plain",
		SizeBytes: 11,
		Content:   "hello world",
	})
	require.NoError(t, err)
	assert.Positive(t, doc.ID)
	assert.False(t, doc.CreatedAt.IsZero())

	got, err := repo.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, doc, got)

	found, err := repo.FindBySHA256(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, doc.ID, found.ID)
}

func Test_Repo_DuplicateHash(t *testing.T) {
	ctx := context.Background()
	repo := setupTestRepo(t)

	_, err := repo.Create(ctx, domain.Document{Filename: "a.txt", SHA256: "same", Content: "x"})
	require.NoError(t, err)
	_, err = repo.Create(ctx, domain.Document{Filename: "b.txt", SHA256: "same", Content: "x"})
	assert.ErrorIs(t, err, ErrDuplicate)

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func Test_Repo_NotFound(t *testing.T) {
	ctx := context.Background()
	repo := setupTestRepo(t)

	_, err := repo.Get(ctx, 42)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = repo.FindBySHA256(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, repo.SetChunkCount(ctx, 42, 1), domain.ErrNotFound)
}

func Test_Repo_ListAndChunkCount(t *testing.T) {
	ctx := context.Background()
	repo := setupTestRepo(t)

	for _, name := range []string{"one", "two", "three"} {
		_, err := repo.Create(ctx, domain.Document{Filename: name, SHA256: name, Content: name})
		require.NoError(t, err)
	}
	docs, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 3)
	assert.Equal(t, "one", docs[0].Filename)
	assert.Equal(t, "three", docs[2].Filename)

	require.NoError(t, repo.SetChunkCount(ctx, docs[1].ID, 7))
	got, err := repo.Get(ctx, docs[1].ID)
	require.NoError(t, err)
	assert.Equal(t, 7, got.ChunksCount)
	assert.NoError(t, repo.Ping(ctx))
}

func Test_Open_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "docqa.db")
	repo, err := Open(path)
	require.NoError(t, err)
	defer repo.Close()
	assert.FileExists(t, path)
}
