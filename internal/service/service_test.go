package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa/internal/catalog"
	"docqa/internal/chunker"
	"docqa/internal/domain"
	"docqa/internal/readers"
	"docqa/internal/retrieval"
	"docqa/internal/snapshot"
	"docqa/internal/summarizer"
)

type fakeGenerator struct {
	answer string
	err    error
	calls  int
}

func (g *fakeGenerator) Answer(ctx context.Context, question string, contexts []string) (string, error) {
	g.calls++
	return g.answer, g.err
}

type fixture struct {
	svc     *DocQAService
	catalog *catalog.Repo
	engine  *retrieval.Engine
}

func newFixture(t *testing.T, opts ...Option) fixture {
	t.Helper()
	repo, err := catalog.OpenDSN(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return newFixtureWithCatalog(t, repo, repo, opts...)
}

// newFixtureWithCatalog builds the service on cat, which usually wraps repo.
func newFixtureWithCatalog(t *testing.T, repo *catalog.Repo, cat Catalog, opts ...Option) fixture {
	t.Helper()

	engine, err := retrieval.New(snapshot.NewFS(filepath.Join(t.TempDir(), "index")))
	require.NoError(t, err)

	ch, err := chunker.New(60, 10, 0)
	require.NoError(t, err)

	svc := NewDocQAService(cat, engine, readers.Default(0), ch,
		summarizer.NewFrequencySummarizer(), summarizer.NewRuleEngine(3), opts...)
	return fixture{svc: svc, catalog: repo, engine: engine}
}

var (
	catText   = "The cat sat on the warm mat. Cats sleep most of the afternoon in the sun."
	stockText = "Stock markets closed higher today. Investors bought shares of energy companies."
)

func ingestSamples(t *testing.T, f fixture) IngestReport {
	t.Helper()
	report, err := f.svc.Ingest(context.Background(), []Upload{
		{Filename: "cats.txt", Data: []byte(catText)},
		{Filename: "/tmp/markets.md", Data: []byte("# Markets\n\n" + stockText)},
	})
	require.NoError(t, err)
	return report
}

func Test_Ingest_StoresAndIndexes(t *testing.T) {
	f := newFixture(t)
	report := ingestSamples(t, f)

	require.Len(t, report.DocumentIDs, 2)
	assert.Empty(t, report.Duplicates)
	assert.Empty(t, report.Skipped)
	assert.Greater(t, report.NewFragments, 2)
	assert.NotEmpty(t, report.Summary)

	docs, err := f.catalog.List(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "cats.txt", docs[0].Filename)
	assert.Equal(t, "markets.md", docs[1].Filename)
	assert.Equal(t, report.NewFragments, docs[0].ChunksCount+docs[1].ChunksCount)
	assert.Equal(t, report.NewFragments, f.engine.Stats().Fragments)
}

func Test_Ingest_Duplicates(t *testing.T) {
	f := newFixture(t)
	first := ingestSamples(t, f)

	report, err := f.svc.Ingest(context.Background(), []Upload{{Filename: "copy.txt", Data: []byte(catText)}})
	require.NoError(t, err)
	assert.Empty(t, report.DocumentIDs)
	assert.Zero(t, report.NewFragments)
	require.Len(t, report.Duplicates, 1)
	assert.Equal(t, first.DocumentIDs[0], report.Duplicates[0].DocumentID)
	assert.Equal(t, first.NewFragments, f.engine.Stats().Fragments)
}

func Test_Ingest_SkipsUnsupportedAndOversized(t *testing.T) {
	f := newFixture(t, WithSettings(Settings{MaxBytes: 10}))
	report, err := f.svc.Ingest(context.Background(), []Upload{
		{Filename: "image.png", Data: []byte("png")},
		{Filename: "big.txt", Data: []byte(catText)},
	})
	require.NoError(t, err)
	assert.Empty(t, report.DocumentIDs)
	require.Len(t, report.Skipped, 2)
	assert.Equal(t, "image.png", report.Skipped[0].Filename)
	assert.Equal(t, domain.ErrDocumentTooLarge.Error(), report.Skipped[1].Reason)
}

func Test_IngestFiles_Glob(t *testing.T) {
	f := newFixture(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte(catText), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte(stockText), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "c.bin"), []byte{1, 2, 3}, 0o644))

	report, err := f.svc.IngestFiles(context.Background(), []string{filepath.Join(dir, "*")})
	require.NoError(t, err)
	assert.Len(t, report.DocumentIDs, 2)
	require.Len(t, report.Skipped, 1)
	assert.True(t, strings.HasSuffix(report.Skipped[0].Filename, "c.bin"))

	_, err = f.svc.IngestFiles(context.Background(), []string{filepath.Join(dir, "missing.txt")})
	assert.Error(t, err)
}

func Test_Search(t *testing.T) {
	f := newFixture(t)
	ingestSamples(t, f)

	hits, err := f.svc.Search(context.Background(), "stock markets", 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Contains(t, hits[0].Fragment.Text, "Stock markets")
	assert.Equal(t, 0, hits[0].Fragment.Start)
	assert.Greater(t, hits[0].Score, 0.0)

	_, err = f.svc.Search(context.Background(), "  ", 1)
	assert.ErrorIs(t, err, ErrEmptyQuestion)
}

func Test_Ask_Reasons(t *testing.T) {
	tests := []struct {
		name      string
		gen       *fakeGenerator
		req       AskRequest
		ingest    bool
		reason    string
		text      string
		llmCalled bool
	}{
		{name: "llm", gen: &fakeGenerator{answer: "From the model."}, req: AskRequest{Question: "Which warm mat did the cat sit on?"},
			ingest: true, reason: ReasonLLM, text: "From the model.", llmCalled: true},
		{name: "llm error", gen: &fakeGenerator{err: errors.New("boom")}, req: AskRequest{Question: "Which warm mat did the cat sit on?"},
			ingest: true, reason: ReasonLLMError, llmCalled: true},
		{name: "not configured", req: AskRequest{Question: "Which warm mat did the cat sit on?"},
			ingest: true, reason: ReasonLLMNotConfigured},
		{name: "forced", gen: &fakeGenerator{answer: "unused"}, req: AskRequest{Question: "Which warm mat did the cat sit on?", ForceRule: true},
			ingest: true, reason: ReasonRuleForced},
		{name: "no context", gen: &fakeGenerator{answer: "unused"}, req: AskRequest{Question: "Which warm mat did the cat sit on?"},
			reason: ReasonNoContext, text: summarizer.NoMatchMessage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var opts []Option
			if tt.gen != nil {
				opts = append(opts, WithGenerator(tt.gen))
			}
			f := newFixture(t, opts...)
			if tt.ingest {
				ingestSamples(t, f)
			}
			ans, err := f.svc.Ask(context.Background(), tt.req)
			require.NoError(t, err)
			assert.Equal(t, tt.reason, ans.Reason)
			if tt.text != "" {
				assert.Equal(t, tt.text, ans.Text)
			} else {
				assert.Contains(t, ans.Text, "cat sat on the warm mat")
			}
			if tt.gen != nil {
				assert.Equal(t, tt.llmCalled, tt.gen.calls > 0)
			}
		})
	}
}

func Test_Ask_Citations(t *testing.T) {
	f := newFixture(t, WithSettings(Settings{TopK: 4, Citations: 2, EvidenceChars: 12}))
	ingestSamples(t, f)

	ans, err := f.svc.Ask(context.Background(), AskRequest{Question: "cat mat"})
	require.NoError(t, err)
	require.NotEmpty(t, ans.Retrieved)
	assert.LessOrEqual(t, len(ans.Retrieved), 4)
	require.Len(t, ans.Citations, 2)
	assert.Equal(t, ans.Retrieved[0].Score, ans.SimilarityTop)

	c := ans.Citations[0]
	require.NotNil(t, c.DocumentID)
	assert.Equal(t, ans.Retrieved[0].Fragment.Start, c.Start)
	assert.LessOrEqual(t, len([]rune(c.Evidence)), 12)
	assert.True(t, strings.HasPrefix(ans.Retrieved[0].Fragment.Text, c.Evidence))

	_, err = f.svc.Ask(context.Background(), AskRequest{})
	assert.ErrorIs(t, err, ErrEmptyQuestion)
}

func Test_Reindex(t *testing.T) {
	f := newFixture(t)
	ingested := ingestSamples(t, f)

	require.NoError(t, f.engine.Rebuild(context.Background(), nil))
	assert.Zero(t, f.engine.Stats().Fragments)

	report, err := f.svc.Reindex(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Documents)
	assert.Equal(t, ingested.NewFragments, report.Fragments)

	hits, err := f.svc.Search(context.Background(), "energy companies", 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.NotNil(t, hits[0].Fragment.DocumentID)
	assert.Equal(t, ingested.DocumentIDs[1], *hits[0].Fragment.DocumentID)
	assert.Greater(t, hits[0].Score, 0.0)
}

func Test_Audit(t *testing.T) {
	f := newFixture(t)
	report, err := f.svc.Audit(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Fragments)
	assert.Equal(t, []string{IssueSmallFragments, IssueNoFragments}, report.Issues)

	ingestSamples(t, f)
	report, err = f.svc.Audit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Documents)
	assert.Greater(t, report.AvgFragmentLength, 0.0)
	assert.LessOrEqual(t, report.AvgFragmentLength, 60.0)
	assert.Equal(t, []string{IssueSmallFragments}, report.Issues)
}

func Test_Health(t *testing.T) {
	f := newFixture(t, WithGenerator(&fakeGenerator{}))
	ingestSamples(t, f)

	report := f.svc.Health(context.Background())
	assert.True(t, report.OK)
	assert.Equal(t, "ok", report.Catalog)
	assert.Equal(t, "ok", report.Index)
	assert.True(t, report.LLM)
	assert.NotEmpty(t, report.Generation)

	require.NoError(t, f.catalog.Close())
	report = f.svc.Health(context.Background())
	assert.False(t, report.OK)
	assert.NotEqual(t, "ok", report.Catalog)
}

// gatedCatalog parks List until released so a test can interleave writers.
type gatedCatalog struct {
	*catalog.Repo
	listed  chan struct{}
	release chan struct{}
	once    sync.Once
}

func (c *gatedCatalog) List(ctx context.Context) ([]domain.Document, error) {
	c.once.Do(func() { close(c.listed) })
	<-c.release
	return c.Repo.List(ctx)
}

func Test_Reindex_DoesNotDropConcurrentIngest(t *testing.T) {
	repo, err := catalog.OpenDSN(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	gated := &gatedCatalog{Repo: repo, listed: make(chan struct{}), release: make(chan struct{})}
	f := newFixtureWithCatalog(t, repo, gated)
	ctx := context.Background()

	reindexErr := make(chan error, 1)
	go func() {
		_, err := f.svc.Reindex(ctx)
		reindexErr <- err
	}()
	<-gated.listed

	ingestDone := make(chan error, 1)
	go func() {
		_, err := f.svc.Ingest(ctx, []Upload{{Filename: "cats.txt", Data: []byte(catText)}})
		ingestDone <- err
	}()
	assert.Never(t, func() bool { return len(ingestDone) > 0 }, 100*time.Millisecond, 10*time.Millisecond)

	close(gated.release)
	require.NoError(t, <-reindexErr)
	require.NoError(t, <-ingestDone)

	docs, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Positive(t, docs[0].ChunksCount)
	assert.Equal(t, docs[0].ChunksCount, f.engine.Stats().Fragments)

	hits, err := f.svc.Search(ctx, "cat", 3)
	require.NoError(t, err)
	assert.NotEmpty(t, hits)
}

// staleLookupCatalog misses the first hash lookup, as when another ingest
// of the same bytes commits between lookup and insert.
type staleLookupCatalog struct {
	*catalog.Repo
	missed bool
}

func (c *staleLookupCatalog) FindBySHA256(ctx context.Context, sum string) (domain.Document, error) {
	if !c.missed {
		c.missed = true
		return domain.Document{}, domain.ErrNotFound
	}
	return c.Repo.FindBySHA256(ctx, sum)
}

func Test_Ingest_DuplicateOnInsertIsReported(t *testing.T) {
	repo, err := catalog.OpenDSN(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	ctx := context.Background()

	first := newFixtureWithCatalog(t, repo, repo)
	stored := ingestSamples(t, first)

	f := newFixtureWithCatalog(t, repo, &staleLookupCatalog{Repo: repo})
	report, err := f.svc.Ingest(ctx, []Upload{
		{Filename: "copy.txt", Data: []byte(catText)},
		{Filename: "dogs.txt", Data: []byte("Dogs fetch sticks in the park every morning.")},
	})
	require.NoError(t, err)
	require.Len(t, report.Duplicates, 1)
	assert.Equal(t, "copy.txt", report.Duplicates[0].Filename)
	assert.Equal(t, stored.DocumentIDs[0], report.Duplicates[0].DocumentID)
	assert.Len(t, report.DocumentIDs, 1)
}
