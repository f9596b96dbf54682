package readers

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa/internal/domain"
)

func Test_Registry_CanRead(t *testing.T) {
	r := Default(0)
	for _, name := range []string{"a.txt", "b.MD", "c.pdf", "d.docx", "e.odt"} {
		assert.True(t, r.CanRead(name), name)
	}
	assert.False(t, r.CanRead("f.exe"))
	assert.Equal(t, "application/pdf", r.MimeType("x.pdf"))
	assert.Equal(t, "application/octet-stream", r.MimeType("x.bin"))
}

func Test_Registry_ExtractText(t *testing.T) {
	r := Default(0)
	txt, err := r.Extract("notes.txt", []byte("hello\r\nworld\x00"))
	require.NoError(t, err)
	assert.Equal(t, "hello\nworld", txt)
}

func Test_Registry_Unsupported(t *testing.T) {
	_, err := Default(0).Extract("image.png", []byte{0x89})
	assert.ErrorIs(t, err, domain.ErrUnsupportedDocument)
}

func Test_Registry_Truncates(t *testing.T) {
	r := Default(5)
	txt, err := r.Extract("long.txt", []byte("héllo wörld"))
	require.NoError(t, err)
	assert.Equal(t, "héllo", txt)
}

func Test_Registry_DuplicateReader(t *testing.T) {
	_, err := NewRegistry(0, &TxtReader{}, &TxtReader{})
	assert.Error(t, err)
}

func Test_MarkdownReader_ReadText(t *testing.T) {
	src := "# Title\n\nSome *emphasised* text\nacross lines.\n\n- item one\n- item two\n\n```\ncode here\n```\n"
	txt, err := (&MarkdownReader{}).ReadText([]byte(src))
	require.NoError(t, err)

	assert.Contains(t, txt, "Title")
	assert.Contains(t, txt, "emphasised")
	assert.Contains(t, txt, "item two")
	assert.Contains(t, txt, "code here")
	assert.NotContains(t, txt, "#")
	assert.NotContains(t, txt, "*")
	assert.NotContains(t, txt, "```")
}

func Test_PdfReader_RejectsNonPdf(t *testing.T) {
	_, err := Default(0).Extract("fake.pdf", []byte("just text"))
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "not a pdf"))
}

func Test_PdfReader_FallsBackToRawText(t *testing.T) {
	// a header without any PDF objects cannot be converted
	data := []byte("%PDF-1.4\nQuarterly revenue grew in every region.\xff\n%%EOF")
	txt, err := (&PdfReader{}).ReadText(data)
	require.NoError(t, err)
	assert.Contains(t, txt, "Quarterly revenue grew in every region.")
	assert.NotContains(t, txt, "\xff")
}
