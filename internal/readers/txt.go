package readers

type TxtReader struct{}

func (r *TxtReader) Ext() string      { return ".txt" }
func (r *TxtReader) MimeType() string { return "text/plain" }

func (r *TxtReader) ReadText(data []byte) (string, error) {
	return string(data), nil
}
