package tfidf

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
)

const modelVersion = 1

var tokenPattern = regexp.MustCompile(`[\p{L}\p{N}_]{2,}`)

// Model is a fitted TF-IDF vectorizer.
// The vocabulary is sorted, so a given corpus always yields the same columns.
type Model struct {
	vocabulary []string
	index      map[string]int
	idf        []float64
	documents  int
}

// Fit builds the vocabulary and smoothed IDF values from the corpus.
// A corpus without any usable token produces an empty model.
func Fit(corpus []string) *Model {
	df := make(map[string]int)
	for _, text := range corpus {
		seen := make(map[string]struct{})
		for _, tok := range Tokenize(text) {
			if _, ok := seen[tok]; ok {
				continue
			}
			seen[tok] = struct{}{}
			df[tok]++
		}
	}

	terms := make([]string, 0, len(df))
	for term := range df {
		terms = append(terms, term)
	}
	sort.Strings(terms)

	m := &Model{
		vocabulary: terms,
		index:      make(map[string]int, len(terms)),
		idf:        make([]float64, len(terms)),
		documents:  len(corpus),
	}
	n := float64(len(corpus))
	for i, term := range terms {
		m.index[term] = i
		m.idf[i] = math.Log((1+n)/(1+float64(df[term]))) + 1.0
	}
	return m
}

// Dim returns the number of columns produced by Transform.
func (m *Model) Dim() int {
	if m == nil {
		return 0
	}
	return len(m.vocabulary)
}

// Documents returns the corpus size the model was fitted on.
func (m *Model) Documents() int {
	if m == nil {
		return 0
	}
	return m.documents
}

// Vocabulary returns a copy of the sorted vocabulary.
func (m *Model) Vocabulary() []string {
	if m == nil {
		return nil
	}
	return append([]string(nil), m.vocabulary...)
}

// Transform returns the raw term count times IDF vector for text.
// Terms outside the vocabulary are ignored. The result is not normalized.
func (m *Model) Transform(text string) []float64 {
	vec := make([]float64, m.Dim())
	if len(vec) == 0 {
		return vec
	}
	for _, tok := range Tokenize(text) {
		if idx, ok := m.index[tok]; ok {
			vec[idx]++
		}
	}
	for i, count := range vec {
		if count != 0 {
			vec[i] = count * m.idf[i]
		}
	}
	return vec
}

type modelJSON struct {
	Version    int       `json:"version"`
	Vocabulary []string  `json:"vocabulary"`
	IDF        []float64 `json:"idf"`
	Documents  int       `json:"documents"`
}

// MarshalJSON implements json.Marshaler.
func (m *Model) MarshalJSON() ([]byte, error) {
	vocab := m.vocabulary
	if vocab == nil {
		vocab = []string{}
	}
	idf := m.idf
	if idf == nil {
		idf = []float64{}
	}
	return json.Marshal(modelJSON{Version: modelVersion, Vocabulary: vocab, IDF: idf, Documents: m.documents})
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *Model) UnmarshalJSON(data []byte) error {
	var raw modelJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Version != modelVersion {
		return fmt.Errorf("unsupported vectorizer version %d", raw.Version)
	}
	if len(raw.Vocabulary) != len(raw.IDF) {
		return fmt.Errorf("vocabulary has %d terms but %d idf values", len(raw.Vocabulary), len(raw.IDF))
	}
	index := make(map[string]int, len(raw.Vocabulary))
	for i, term := range raw.Vocabulary {
		if i > 0 && raw.Vocabulary[i-1] >= term {
			return fmt.Errorf("vocabulary is not strictly sorted at %q", term)
		}
		index[term] = i
	}
	m.vocabulary = raw.Vocabulary
	m.index = index
	m.idf = raw.IDF
	m.documents = raw.Documents
	return nil
}

// Tokenize lowercases text, splits it into word tokens of two or more
// characters and drops English stop words.
func Tokenize(text string) []string {
	raw := tokenPattern.FindAllString(strings.ToLower(text), -1)
	if len(raw) == 0 {
		return nil
	}
	out := raw[:0]
	for _, t := range raw {
		if _, isStop := stopwords[t]; isStop {
			continue
		}
		out = append(out, t)
	}
	return out
}
