package retrieval

import (
	"encoding/json"
	"fmt"

	"docqa/internal/domain"
	"docqa/internal/embedding/tfidf"
	"docqa/internal/snapshot"
	"docqa/internal/vectorstore/flat"
)

type fragmentMeta struct {
	DocumentID *int64 `json:"document_id"`
	Start      int    `json:"start"`
	End        int    `json:"end"`
	Page       *int   `json:"page"`
}

func encodeState(st *state, rows [][]float32) (snapshot.Artifacts, error) {
	vectorizer, err := json.Marshal(st.model)
	if err != nil {
		return nil, fmt.Errorf("encode vectorizer: %w", err)
	}
	matrix, err := flat.EncodeMatrix(st.model.Dim(), rows)
	if err != nil {
		return nil, fmt.Errorf("encode matrix: %w", err)
	}
	index, err := st.index.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("encode index: %w", err)
	}
	texts, err := json.Marshal(corpus(st.fragments).texts())
	if err != nil {
		return nil, fmt.Errorf("encode fragment texts: %w", err)
	}
	meta := make([]fragmentMeta, len(st.fragments))
	for i, f := range st.fragments {
		meta[i] = fragmentMeta{DocumentID: f.DocumentID, Start: f.Start, End: f.End, Page: f.Page}
	}
	metaData, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("encode fragment meta: %w", err)
	}
	return snapshot.Artifacts{
		snapshot.Vectorizer:    vectorizer,
		snapshot.Matrix:        matrix,
		snapshot.Index:         index,
		snapshot.FragmentTexts: texts,
		snapshot.FragmentMeta:  metaData,
	}, nil
}

// decodeState rebuilds engine state from artifacts and checks that they
// describe the same corpus.
func decodeState(a snapshot.Artifacts) (*state, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	corrupt := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", domain.ErrCorruptSnapshot, fmt.Sprintf(format, args...))
	}

	model := &tfidf.Model{}
	if err := json.Unmarshal(a[snapshot.Vectorizer], model); err != nil {
		return nil, corrupt("vectorizer: %v", err)
	}
	rows, dim, _, err := flat.DecodeMatrix(a[snapshot.Matrix])
	if err != nil {
		return nil, corrupt("matrix: %v", err)
	}
	index := &flat.Index{}
	if err := index.UnmarshalBinary(a[snapshot.Index]); err != nil {
		return nil, corrupt("index: %v", err)
	}
	var texts []string
	if err := json.Unmarshal(a[snapshot.FragmentTexts], &texts); err != nil {
		return nil, corrupt("fragment texts: %v", err)
	}
	var meta []fragmentMeta
	if err := json.Unmarshal(a[snapshot.FragmentMeta], &meta); err != nil {
		return nil, corrupt("fragment meta: %v", err)
	}

	if model.Dim() != dim || index.Dim() != dim {
		return nil, corrupt("dimensions disagree: vectorizer %d, matrix %d, index %d", model.Dim(), dim, index.Dim())
	}
	if rows != index.Len() || rows != len(texts) || rows != len(meta) {
		return nil, corrupt("row counts disagree: matrix %d, index %d, texts %d, meta %d", rows, index.Len(), len(texts), len(meta))
	}

	fragments := make([]domain.Fragment, rows)
	for i := range fragments {
		fragments[i] = domain.Fragment{
			Text:       texts[i],
			DocumentID: meta[i].DocumentID,
			Start:      meta[i].Start,
			End:        meta[i].End,
			Page:       meta[i].Page,
		}
	}
	return &state{fragments: fragments, model: model, index: index}, nil
}
