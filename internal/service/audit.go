package service

import (
	"context"
	"unicode/utf8"
)

const (
	auditSampleSize   = 500
	minAvgFragmentLen = 200

	IssueSmallFragments = "Chunks may be too small, consider increasing CHUNK_SIZE."
	IssueNoFragments    = "No chunks ingested."
)

// AuditReport describes the state of the corpus.
type AuditReport struct {
	Documents         int
	Fragments         int
	AvgFragmentLength float64
	Issues            []string
}

// Audit reports corpus size and flags likely configuration problems.
// The average fragment length is sampled over the first fragments.
func (s *DocQAService) Audit(ctx context.Context) (AuditReport, error) {
	docs, err := s.catalog.Count(ctx)
	if err != nil {
		return AuditReport{}, err
	}
	fragments, err := s.index.Fragments(ctx)
	if err != nil {
		return AuditReport{}, err
	}
	report := AuditReport{Documents: docs, Fragments: len(fragments), Issues: []string{}}
	sample := fragments
	if len(sample) > auditSampleSize {
		sample = sample[:auditSampleSize]
	}
	if len(sample) > 0 {
		total := 0
		for _, f := range sample {
			total += utf8.RuneCountInString(f.Text)
		}
		report.AvgFragmentLength = float64(total) / float64(len(sample))
	}
	if report.AvgFragmentLength < minAvgFragmentLen {
		report.Issues = append(report.Issues, IssueSmallFragments)
	}
	if report.Fragments == 0 {
		report.Issues = append(report.Issues, IssueNoFragments)
	}
	return report, nil
}

// HealthReport is the result of Health.
type HealthReport struct {
	OK         bool
	Catalog    string
	Index      string
	Fragments  int
	Generation string
	LLM        bool
}

// Health checks that the catalog is reachable and the snapshot is loadable.
func (s *DocQAService) Health(ctx context.Context) HealthReport {
	report := HealthReport{OK: true, Catalog: "ok", Index: "ok", LLM: s.llm != nil}
	if err := s.catalog.Ping(ctx); err != nil {
		report.OK, report.Catalog = false, err.Error()
	}
	if err := s.index.Health(ctx); err != nil {
		report.OK, report.Index = false, err.Error()
	}
	st := s.index.Stats()
	report.Fragments, report.Generation = st.Fragments, st.Generation
	return report
}
