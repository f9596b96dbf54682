package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"docqa/internal/domain"
	"docqa/internal/summarizer"
)

// Answer reasons.
const (
	ReasonLLM              = "llm"
	ReasonLLMError         = "llm_error"
	ReasonLLMNotConfigured = "llm_not_configured"
	ReasonRuleForced       = "rule_forced"
	ReasonNoContext        = "no_context"
)

// AskRequest is a question for Ask.
type AskRequest struct {
	Question  string
	ForceRule bool
	// TopK overrides the configured number of retrieved fragments when positive.
	TopK int
}

// Citation points at the fragment an answer drew from.
type Citation struct {
	DocumentID *int64
	Page       *int
	Start      int
	End        int
	Score      float64
	Evidence   string
}

// Answer is the result of Ask.
type Answer struct {
	Question      string
	Text          string
	Reason        string
	Citations     []Citation
	Retrieved     []domain.ScoredFragment
	SimilarityTop float64
}

// Ask retrieves context for the question and answers it with the language
// model when one is configured, falling back to the rule engine otherwise.
func (s *DocQAService) Ask(ctx context.Context, req AskRequest) (Answer, error) {
	if isBlank(req.Question) {
		return Answer{}, ErrEmptyQuestion
	}
	k := req.TopK
	if k <= 0 {
		k = s.settings.TopK
	}
	hits, err := s.index.Query(ctx, req.Question, k)
	if err != nil {
		return Answer{}, err
	}
	contexts := make([]string, len(hits))
	for i, h := range hits {
		contexts[i] = h.Fragment.Text
	}

	ans := Answer{Question: req.Question, Retrieved: hits}
	switch {
	case req.ForceRule:
		ans.Reason = ReasonRuleForced
	case len(hits) == 0:
		ans.Reason = ReasonNoContext
	case s.llm == nil:
		ans.Reason = ReasonLLMNotConfigured
	default:
		text, err := s.llm.Answer(ctx, req.Question, contexts)
		if err == nil {
			ans.Text, ans.Reason = text, ReasonLLM
			break
		}
		if ctx.Err() != nil {
			return Answer{}, ctx.Err()
		}
		s.logger.Warn("llm answer failed, using rule engine", zap.Error(err))
		ans.Reason = ReasonLLMError
	}
	if ans.Reason != ReasonLLM {
		ans.Text = s.rules.Answer(req.Question, contexts)
	}

	if len(hits) > 0 {
		ans.SimilarityTop = hits[0].Score
	}
	for i := 0; i < len(hits) && i < s.settings.Citations; i++ {
		f := hits[i].Fragment
		ans.Citations = append(ans.Citations, Citation{
			DocumentID: f.DocumentID,
			Page:       f.Page,
			Start:      f.Start,
			End:        f.End,
			Score:      hits[i].Score,
			Evidence:   strings.TrimSpace(truncateRunes(f.Text, s.settings.EvidenceChars)),
		})
	}
	return ans, nil
}

// NoAnswer reports whether text is one of the rule engine's "nothing found" messages.
func NoAnswer(text string) bool {
	return text == summarizer.NoKeywordsMessage || text == summarizer.NoMatchMessage
}
