package readers

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"code.sajari.com/docconv/v2"
)

var pdfMagic = []byte("%PDF")

// PdfReader extracts text from PDF files. A PDF that yields no text, either
// because it has no text layer or because extraction failed (for example
// when pdftotext is not installed), falls back to the valid UTF-8 of the file.
type PdfReader struct{}

func (r *PdfReader) Ext() string      { return ".pdf" }
func (r *PdfReader) MimeType() string { return "application/pdf" }

func (r *PdfReader) ReadText(data []byte) (string, error) {
	if !bytes.HasPrefix(data, pdfMagic) {
		return "", errors.New("not a pdf document")
	}
	body, _, err := docconv.ConvertPDF(bytes.NewReader(data))
	if err != nil || strings.TrimSpace(body) == "" {
		return strings.ToValidUTF8(string(data), ""), nil
	}
	return body, nil
}

type DocxReader struct{}

func (r *DocxReader) Ext() string { return ".docx" }
func (r *DocxReader) MimeType() string {
	return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
}

func (r *DocxReader) ReadText(data []byte) (string, error) {
	body, _, err := docconv.ConvertDocx(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to read docx document: %w", err)
	}
	return body, nil
}

type OdtReader struct{}

func (r *OdtReader) Ext() string      { return ".odt" }
func (r *OdtReader) MimeType() string { return "application/vnd.oasis.opendocument.text" }

func (r *OdtReader) ReadText(data []byte) (string, error) {
	body, _, err := docconv.ConvertODT(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to read odt document: %w", err)
	}
	return body, nil
}
