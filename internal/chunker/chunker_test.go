package chunker

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa/internal/domain"
)

func collect(text string, size, overlap, limit int) []Span {
	var out []Span
	for s := range Spans(text, size, overlap, limit) {
		out = append(out, s)
	}
	return out
}

func Test_Spans(t *testing.T) {
	var cases = []struct {
		input   string
		size    int
		overlap int
		output  []string
	}{
		{input: "abcdefg", size: 3, overlap: 0, output: []string{"abc", "def", "g"}},
		{input: "abcdefg", size: 3, overlap: 1, output: []string{"abc", "cde", "efg"}},
		{input: "abcdefg", size: 9, overlap: 5, output: []string{"abcdefg"}},
		{input: "", size: 9, overlap: 5, output: nil},
	}

	for i, c := range cases {
		t.Run(fmt.Sprintf("case_%d", i), func(t *testing.T) {
			var texts []string
			for _, s := range collect(c.input, c.size, c.overlap, 0) {
				texts = append(texts, s.Text)
			}
			assert.Equal(t, c.output, texts)
		})
	}
}

func Test_Spans_DefaultWindow(t *testing.T) {
	spans := collect(strings.Repeat("x", 1500), 700, 100, 0)
	require.Len(t, spans, 3)

	assert.Equal(t, [2]int{0, 700}, [2]int{spans[0].Start, spans[0].End})
	assert.Equal(t, [2]int{600, 1300}, [2]int{spans[1].Start, spans[1].End})
	assert.Equal(t, [2]int{1200, 1500}, [2]int{spans[2].Start, spans[2].End})
	assert.Len(t, spans[2].Text, 300)
}

func Test_Spans_RuneOffsets(t *testing.T) {
	spans := collect("héllo wörld", 5, 1, 0)
	require.NotEmpty(t, spans)
	assert.Equal(t, "héllo", spans[0].Text)
	assert.Equal(t, 5, spans[0].End)
	assert.Equal(t, "o wör", spans[1].Text)
}

func Test_Spans_Limit(t *testing.T) {
	spans := collect(strings.Repeat("a", 100), 10, 0, 4)
	assert.Len(t, spans, 4)
}

func Test_Spans_StartAlwaysAdvances(t *testing.T) {
	// unvalidated parameters must still terminate
	spans := collect(strings.Repeat("a", 50), 5, 5, 0)
	assert.Len(t, spans, 1)

	spans = collect(strings.Repeat("a", 50), 5, 9, 0)
	assert.Len(t, spans, 1)
}

func Test_Spans_Restartable(t *testing.T) {
	seq := Spans("abcdefghij", 4, 1, 0)
	var first, second int
	for range seq {
		first++
	}
	for range seq {
		second++
	}
	assert.Equal(t, first, second)
}

func Test_Validate(t *testing.T) {
	var cases = []struct {
		size    int
		overlap int
		ok      bool
	}{
		{size: 700, overlap: 100, ok: true},
		{size: 10, overlap: 0, ok: true},
		{size: 10, overlap: 10, ok: false},
		{size: 10, overlap: 11, ok: false},
		{size: 0, overlap: 0, ok: false},
		{size: 10, overlap: -1, ok: false},
	}

	for i, c := range cases {
		t.Run(fmt.Sprintf("case_%d", i), func(t *testing.T) {
			err := Validate(c.size, c.overlap)
			if c.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, domain.ErrConfiguration)
		})
	}
}

func Test_Chunker_Chunk(t *testing.T) {
	c, err := New(4, 1, 0)
	require.NoError(t, err)

	frags := c.Chunk(domain.Document{ID: 7, Content: "abcdefghij"})
	require.Len(t, frags, 3)
	for _, f := range frags {
		require.NotNil(t, f.DocumentID)
		assert.Equal(t, int64(7), *f.DocumentID)
		assert.Nil(t, f.Page)
		assert.LessOrEqual(t, f.End-f.Start, 4)
	}
	assert.Equal(t, "abcd", frags[0].Text)
	assert.Equal(t, "defg", frags[1].Text)
	assert.Equal(t, "ghij", frags[2].Text)
}

func Test_Chunker_EmptyDocument(t *testing.T) {
	c, err := New(4, 1, 0)
	require.NoError(t, err)
	assert.Empty(t, c.Chunk(domain.Document{ID: 1}))
}

func Test_New_RejectsBadConfig(t *testing.T) {
	_, err := New(100, 100, 0)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}
