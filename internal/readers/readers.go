package readers

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"docqa/internal/domain"
)

// Reader extracts plain text from the raw bytes of one file type.
type Reader interface {
	Ext() string
	MimeType() string
	ReadText(data []byte) (string, error)
}

// Registry dispatches extraction on the file extension.
type Registry struct {
	maxRawChars int
	readers     map[string]Reader
}

// NewRegistry creates a registry with the given readers. Extracted text is
// truncated to maxRawChars runes when maxRawChars > 0.
func NewRegistry(maxRawChars int, readers ...Reader) (*Registry, error) {
	r := &Registry{maxRawChars: maxRawChars, readers: make(map[string]Reader)}
	if err := r.Register(readers...); err != nil {
		return nil, err
	}
	return r, nil
}

// Default returns a registry with every built-in reader.
func Default(maxRawChars int) *Registry {
	r, _ := NewRegistry(maxRawChars,
		&TxtReader{},
		&MarkdownReader{},
		&PdfReader{},
		&DocxReader{},
		&OdtReader{},
	)
	return r
}

func (r *Registry) Register(readers ...Reader) error {
	for _, rd := range readers {
		ext := strings.ToLower(rd.Ext())
		if _, ok := r.readers[ext]; ok {
			return fmt.Errorf("reader already registered for type %s", ext)
		}
		r.readers[ext] = rd
	}
	return nil
}

// CanRead reports whether a reader exists for the file name.
func (r *Registry) CanRead(filename string) bool {
	_, ok := r.readers[strings.ToLower(filepath.Ext(filename))]
	return ok
}

// MimeType returns the content type recorded for the file name.
func (r *Registry) MimeType(filename string) string {
	if rd, ok := r.readers[strings.ToLower(filepath.Ext(filename))]; ok {
		return rd.MimeType()
	}
	return "application/octet-stream"
}

// Extract returns the normalized text of a file.
func (r *Registry) Extract(filename string, data []byte) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	rd, ok := r.readers[ext]
	if !ok {
		return "", fmt.Errorf("%w: %s", domain.ErrUnsupportedDocument, filename)
	}
	text, err := rd.ReadText(data)
	if err != nil {
		return "", fmt.Errorf("extract %s: %w", filename, err)
	}
	return r.truncate(normalize(text)), nil
}

func (r *Registry) truncate(text string) string {
	if r.maxRawChars <= 0 || utf8.RuneCountInString(text) <= r.maxRawChars {
		return text
	}
	runes := []rune(text)
	return string(runes[:r.maxRawChars])
}

// normalize makes text valid UTF-8 with unix line endings and no NUL bytes.
func normalize(text string) string {
	text = strings.ToValidUTF8(text, "")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\x00", "")
	return text
}
