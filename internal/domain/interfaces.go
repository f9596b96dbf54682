package domain

import "time"

// Document is a single ingested source file after text extraction.
type Document struct {
	ID          int64
	Filename    string
	SHA256      string
	MimeType    string
	SizeBytes   int64
	ChunksCount int
	Content     string
	CreatedAt   time.Time
}

// Fragment is a contiguous slice of one document's normalized text.
// Start and End are rune offsets into the document content.
type Fragment struct {
	Text       string
	DocumentID *int64
	Start      int
	End        int
	Page       *int
}

// ScoredFragment is a fragment returned by a similarity query.
type ScoredFragment struct {
	Fragment Fragment
	// Index is the position of the fragment in the indexed corpus.
	Index int
	Score float64
}

// Summarizer produces a brief summary of the provided text.
type Summarizer interface {
	Summarize(text string, maxSentences int) (string, error)
}

// Answerer builds an answer from retrieved context without a generative model.
type Answerer interface {
	Answer(question string, contexts []string) string
}

// Int64Ptr returns a pointer to v.
func Int64Ptr(v int64) *int64 { return &v }

// IntPtr returns a pointer to v.
func IntPtr(v int) *int { return &v }
