package service

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"docqa/internal/chunker"
	"docqa/internal/domain"
	"docqa/internal/retrieval"
)

// ErrEmptyQuestion is returned by Ask and Search for blank input.
var ErrEmptyQuestion = errors.New("question is required")

// Index is the retrieval engine as seen by the service.
type Index interface {
	Add(ctx context.Context, fragments []domain.Fragment) error
	Rebuild(ctx context.Context, fragments []domain.Fragment) error
	Query(ctx context.Context, question string, topK int) ([]domain.ScoredFragment, error)
	Fragments(ctx context.Context) ([]domain.Fragment, error)
	Health(ctx context.Context) error
	Stats() retrieval.Stats
}

// Catalog stores ingested documents.
type Catalog interface {
	Create(ctx context.Context, doc domain.Document) (domain.Document, error)
	FindBySHA256(ctx context.Context, sum string) (domain.Document, error)
	List(ctx context.Context) ([]domain.Document, error)
	SetChunkCount(ctx context.Context, id int64, count int) error
	Count(ctx context.Context) (int, error)
	Ping(ctx context.Context) error
}

// Extractor turns raw file bytes into text.
type Extractor interface {
	CanRead(filename string) bool
	MimeType(filename string) string
	Extract(filename string, data []byte) (string, error)
}

// Generator answers a question from retrieved context with a language model.
type Generator interface {
	Answer(ctx context.Context, question string, contexts []string) (string, error)
}

// Settings tunes answers and ingestion limits.
type Settings struct {
	TopK             int
	Citations        int
	EvidenceChars    int
	SummarySentences int
	MaxBytes         int64
}

func (s *Settings) applyDefaults() {
	if s.TopK <= 0 {
		s.TopK = 5
	}
	if s.Citations <= 0 {
		s.Citations = 3
	}
	if s.EvidenceChars <= 0 {
		s.EvidenceChars = 200
	}
	if s.SummarySentences <= 0 {
		s.SummarySentences = 5
	}
}

// DocQAService ties ingestion, indexing and answering together.
type DocQAService struct {
	catalog    Catalog
	index      Index
	extractor  Extractor
	chunker    *chunker.Chunker
	summarizer domain.Summarizer
	rules      domain.Answerer
	llm        Generator
	settings   Settings
	logger     *zap.Logger

	// writeMu serializes catalog writes with the index updates that follow them.
	writeMu sync.Mutex
}

// Option configures a DocQAService.
type Option func(*DocQAService)

// WithGenerator enables language model answers.
func WithGenerator(g Generator) Option {
	return func(s *DocQAService) { s.llm = g }
}

func WithSettings(settings Settings) Option {
	return func(s *DocQAService) { s.settings = settings }
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *DocQAService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewDocQAService assembles the service. Without WithGenerator every answer
// comes from the rule engine.
func NewDocQAService(catalog Catalog, index Index, extractor Extractor, ch *chunker.Chunker,
	summarizer domain.Summarizer, rules domain.Answerer, opts ...Option) *DocQAService {
	s := &DocQAService{
		catalog:    catalog,
		index:      index,
		extractor:  extractor,
		chunker:    ch,
		summarizer: summarizer,
		rules:      rules,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.settings.applyDefaults()
	return s
}

// LLMConfigured reports whether a language model is available.
func (s *DocQAService) LLMConfigured() bool { return s.llm != nil }

// Search returns the k fragments most similar to query.
func (s *DocQAService) Search(ctx context.Context, query string, k int) ([]domain.ScoredFragment, error) {
	if isBlank(query) {
		return nil, ErrEmptyQuestion
	}
	if k <= 0 {
		k = s.settings.TopK
	}
	return s.index.Query(ctx, query, k)
}
