package chunker

import (
	"fmt"
	"iter"

	"docqa/internal/domain"
)

// Span is one fragment window over a text, in rune offsets.
type Span struct {
	Start int
	End   int
	Text  string
}

// Validate rejects size/overlap combinations that cannot advance.
func Validate(size, overlap int) error {
	if size <= 0 {
		return fmt.Errorf("%w: chunk size must be positive, got %d", domain.ErrConfiguration, size)
	}
	if overlap < 0 {
		return fmt.Errorf("%w: chunk overlap must not be negative, got %d", domain.ErrConfiguration, overlap)
	}
	if overlap >= size {
		return fmt.Errorf("%w: chunk overlap %d must be smaller than chunk size %d", domain.ErrConfiguration, overlap, size)
	}
	return nil
}

// Spans lazily yields overlapping windows of at most size runes. Each window
// starts overlap runes before the end of the previous one. Iteration stops at
// the end of the text or after limit windows when limit > 0.
func Spans(text string, size, overlap, limit int) iter.Seq[Span] {
	return func(yield func(Span) bool) {
		if size <= 0 {
			return
		}
		runes := []rune(text)
		n := len(runes)
		start, produced := 0, 0
		for start < n {
			end := min(n, start+size)
			if !yield(Span{Start: start, End: end, Text: string(runes[start:end])}) {
				return
			}
			produced++
			if end >= n || (limit > 0 && produced >= limit) {
				return
			}
			next := max(0, end-overlap)
			if next <= start {
				return
			}
			start = next
		}
	}
}

// Chunker splits documents into fixed-size overlapping fragments.
type Chunker struct {
	size    int
	overlap int
	limit   int
}

// New creates a chunker. limit caps the fragments produced per document; zero disables it.
func New(size, overlap, limit int) (*Chunker, error) {
	if err := Validate(size, overlap); err != nil {
		return nil, err
	}
	if limit < 0 {
		limit = 0
	}
	return &Chunker{size: size, overlap: overlap, limit: limit}, nil
}

// Size returns the configured fragment size in runes.
func (c *Chunker) Size() int { return c.size }

// Overlap returns the configured overlap in runes.
func (c *Chunker) Overlap() int { return c.overlap }

// Chunk splits the document content into fragments tagged with the document id.
func (c *Chunker) Chunk(document domain.Document) []domain.Fragment {
	var fragments []domain.Fragment
	for span := range Spans(document.Content, c.size, c.overlap, c.limit) {
		fragments = append(fragments, domain.Fragment{
			Text:       span.Text,
			DocumentID: domain.Int64Ptr(document.ID),
			Start:      span.Start,
			End:        span.End,
		})
	}
	return fragments
}
