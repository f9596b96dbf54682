package summarizer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_RuleEngine_Answer(t *testing.T) {
	contexts := []string{
		"Payment is due within thirty days. Late payment incurs a fee.",
		"The contract renews yearly. Payment terms are listed in annex B.",
	}
	answer := NewRuleEngine(5).Answer("When is payment due?", contexts)
	lines := strings.Split(answer, "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "Payment is due within thirty days.", lines[0])
	assert.Contains(t, lines, "Late payment incurs a fee.")
	assert.Contains(t, lines, "Payment terms are listed in annex B.")
}

func Test_RuleEngine_Messages(t *testing.T) {
	r := NewRuleEngine(5)
	assert.Equal(t, NoKeywordsMessage, r.Answer("is it ok?", []string{"anything"}))
	assert.Equal(t, NoMatchMessage, r.Answer("what about zebras", []string{"Nothing relevant here."}))
	assert.Equal(t, NoMatchMessage, r.Answer("what about zebras", nil))
}

func Test_RuleEngine_DeduplicatesAndLimits(t *testing.T) {
	contexts := []string{
		"Alpha beta. Alpha gamma. Alpha delta.",
		"Alpha beta. Alpha epsilon.",
	}
	answer := NewRuleEngine(3).Answer("alpha", contexts)
	lines := strings.Split(answer, "\n")
	assert.Equal(t, []string{"Alpha beta.", "Alpha gamma.", "Alpha delta."}, lines)
}

func Test_splitSentences(t *testing.T) {
	assert.Equal(t, []string{"One.", "Two!", "Three?"}, splitSentences("One. Two!\nThree?"))
	assert.Equal(t, []string{"no boundary"}, splitSentences("no boundary"))
}

func Test_FrequencySummarizer_Summarize(t *testing.T) {
	text := "Retrieval engines rank documents. Retrieval uses term weights and documents. " +
		"The weather was nice. Engines rank documents by retrieval scores."
	s := NewFrequencySummarizer()
	out, err := s.Summarize(text, 2)
	require.NoError(t, err)
	assert.NotContains(t, out, "weather")
	assert.True(t, strings.HasPrefix(out, "Retrieval engines rank documents."))

	out, err = s.Summarize("no sentence punctuation here ", 3)
	require.NoError(t, err)
	assert.Equal(t, "no sentence punctuation here", out)
}
