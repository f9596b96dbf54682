package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"docqa/internal/catalog"
	"docqa/internal/domain"
)

// summaryInputChars bounds the text fed to the ingestion summary.
const summaryInputChars = 200000

// Upload is one file handed to Ingest.
type Upload struct {
	Filename string
	Data     []byte
}

// Duplicate is an upload whose content was already ingested.
type Duplicate struct {
	Filename   string
	DocumentID int64
}

// Skipped is an upload that could not be ingested.
type Skipped struct {
	Filename string
	Reason   string
}

// IngestReport summarizes one Ingest call.
type IngestReport struct {
	DocumentIDs  []int64
	Duplicates   []Duplicate
	Skipped      []Skipped
	NewFragments int
	Summary      string
}

// Ingest extracts, deduplicates, stores and chunks the uploads and adds all
// new fragments to the index in one step.
func (s *DocQAService) Ingest(ctx context.Context, uploads []Upload) (IngestReport, error) {
	var report IngestReport
	var fragments []domain.Fragment
	var texts strings.Builder

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	for _, up := range uploads {
		name := filepath.Base(up.Filename)
		if s.settings.MaxBytes > 0 && int64(len(up.Data)) > s.settings.MaxBytes {
			report.Skipped = append(report.Skipped, Skipped{name, domain.ErrDocumentTooLarge.Error()})
			continue
		}
		text, err := s.extractor.Extract(name, up.Data)
		if err != nil {
			s.logger.Warn("extract failed", zap.String("file", name), zap.Error(err))
			report.Skipped = append(report.Skipped, Skipped{name, err.Error()})
			continue
		}

		sum := sha256.Sum256(up.Data)
		digest := hex.EncodeToString(sum[:])
		existing, err := s.catalog.FindBySHA256(ctx, digest)
		if err == nil {
			report.Duplicates = append(report.Duplicates, Duplicate{name, existing.ID})
			continue
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return report, fmt.Errorf("lookup %s: %w", name, err)
		}

		doc, err := s.catalog.Create(ctx, domain.Document{
			Filename:  name,
			SHA256:    digest,
			MimeType:  s.extractor.MimeType(name),
			SizeBytes: int64(len(up.Data)),
			Content:   text,
		})
		if errors.Is(err, catalog.ErrDuplicate) {
			existing, err = s.catalog.FindBySHA256(ctx, digest)
			if err != nil {
				return report, fmt.Errorf("lookup %s: %w", name, err)
			}
			report.Duplicates = append(report.Duplicates, Duplicate{name, existing.ID})
			continue
		}
		if err != nil {
			return report, fmt.Errorf("store %s: %w", name, err)
		}
		docFragments := s.chunker.Chunk(doc)
		if err := s.catalog.SetChunkCount(ctx, doc.ID, len(docFragments)); err != nil {
			return report, fmt.Errorf("store %s: %w", name, err)
		}
		fragments = append(fragments, docFragments...)
		report.DocumentIDs = append(report.DocumentIDs, doc.ID)
		if texts.Len() < summaryInputChars {
			texts.WriteString(text)
			texts.WriteString("\n")
		}
		s.logger.Info("document stored",
			zap.Int64("document_id", doc.ID),
			zap.String("file", name),
			zap.Int("fragments", len(docFragments)))
	}

	if len(fragments) > 0 {
		if err := s.index.Add(ctx, fragments); err != nil {
			return report, fmt.Errorf("index fragments: %w", err)
		}
	}
	report.NewFragments = len(fragments)

	if texts.Len() > 0 {
		summary, err := s.summarizer.Summarize(truncateRunes(texts.String(), summaryInputChars), s.settings.SummarySentences)
		if err != nil {
			s.logger.Warn("summarize failed", zap.Error(err))
		}
		report.Summary = summary
	}
	return report, nil
}

// IngestFiles reads the files matching the glob patterns and ingests them.
// A pattern without glob matches is used as a literal path.
func (s *DocQAService) IngestFiles(ctx context.Context, patterns []string) (IngestReport, error) {
	var uploads []Upload
	var report IngestReport
	seen := map[string]struct{}{}
	for _, p := range patterns {
		matches, _ := filepath.Glob(p)
		if matches == nil {
			matches = []string{p}
		}
		for _, m := range matches {
			if _, ok := seen[m]; ok {
				continue
			}
			seen[m] = struct{}{}
			info, err := os.Stat(m)
			if err != nil {
				report.Skipped = append(report.Skipped, Skipped{m, err.Error()})
				continue
			}
			if info.IsDir() {
				continue
			}
			if !s.extractor.CanRead(m) {
				report.Skipped = append(report.Skipped, Skipped{m, domain.ErrUnsupportedDocument.Error()})
				continue
			}
			data, err := os.ReadFile(m)
			if err != nil {
				return report, err
			}
			uploads = append(uploads, Upload{Filename: m, Data: data})
		}
	}
	if len(uploads) == 0 {
		if len(report.Skipped) > 0 {
			return report, fmt.Errorf("no readable documents: %s", report.Skipped[0].Reason)
		}
		return report, fmt.Errorf("no documents found")
	}
	ingested, err := s.Ingest(ctx, uploads)
	ingested.Skipped = append(report.Skipped, ingested.Skipped...)
	return ingested, err
}

// ReindexReport summarizes a Reindex call.
type ReindexReport struct {
	Documents int
	Fragments int
}

// Reindex re-chunks every stored document in id order and rebuilds the index.
func (s *DocQAService) Reindex(ctx context.Context) (ReindexReport, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	docs, err := s.catalog.List(ctx)
	if err != nil {
		return ReindexReport{}, fmt.Errorf("list documents: %w", err)
	}
	var fragments []domain.Fragment
	counts := make(map[int64]int, len(docs))
	for _, doc := range docs {
		docFragments := s.chunker.Chunk(doc)
		counts[doc.ID] = len(docFragments)
		fragments = append(fragments, docFragments...)
	}
	if err := s.index.Rebuild(ctx, fragments); err != nil {
		return ReindexReport{}, fmt.Errorf("rebuild index: %w", err)
	}
	for _, doc := range docs {
		if doc.ChunksCount == counts[doc.ID] {
			continue
		}
		if err := s.catalog.SetChunkCount(ctx, doc.ID, counts[doc.ID]); err != nil {
			return ReindexReport{}, err
		}
	}
	report := ReindexReport{Documents: len(docs), Fragments: s.index.Stats().Fragments}
	s.logger.Info("reindex finished", zap.Int("documents", report.Documents), zap.Int("fragments", report.Fragments))
	return report, nil
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}
