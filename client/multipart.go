package client

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
)

// FormFile is one file part of a multipart body.
type FormFile struct {
	FieldName string
	FileName  string
	Content   io.Reader
	MIMEType  string
}

// FormData accumulates fields and files for a multipart/form-data body.
type FormData struct {
	Fields []Header // ordered; repeated names allowed
	Files  []FormFile
}

func NewFormData() *FormData {
	return &FormData{}
}

// AddField appends a text field.
func (f *FormData) AddField(name, value string) *FormData {
	f.Fields = append(f.Fields, Header{Name: name, Value: value})
	return f
}

// AddFile appends a file part from bytes.
func (f *FormData) AddFile(fieldName, fileName string, content []byte) *FormData {
	f.Files = append(f.Files, FormFile{
		FieldName: fieldName,
		FileName:  fileName,
		Content:   bytes.NewReader(content),
		MIMEType:  mimeTypeFor(fileName),
	})
	return f
}

// AddFileReader appends a file part from a reader.
func (f *FormData) AddFileReader(fieldName, fileName string, content io.Reader, mimeType string) *FormData {
	if mimeType == "" {
		mimeType = mimeTypeFor(fileName)
	}
	f.Files = append(f.Files, FormFile{
		FieldName: fieldName,
		FileName:  fileName,
		Content:   content,
		MIMEType:  mimeType,
	})
	return f
}

// AddFilePath appends a file part read from disk. The file stays open
// until Encode runs.
func (f *FormData) AddFilePath(fieldName, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open form file: %w", err)
	}
	f.Files = append(f.Files, FormFile{
		FieldName: fieldName,
		FileName:  filepath.Base(path),
		Content:   file,
		MIMEType:  mimeTypeFor(path),
	})
	return nil
}

// Encode renders the multipart body and its Content-Type with boundary.
func (f *FormData) Encode() ([]byte, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	for _, field := range f.Fields {
		if err := writer.WriteField(field.Name, field.Value); err != nil {
			return nil, "", fmt.Errorf("write form field %q: %w", field.Name, err)
		}
	}

	for _, file := range f.Files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
			escapeQuotes(file.FieldName), escapeQuotes(file.FileName)))
		h.Set("Content-Type", file.MIMEType)
		part, err := writer.CreatePart(h)
		if err != nil {
			return nil, "", fmt.Errorf("create form part %q: %w", file.FieldName, err)
		}
		if _, err := io.Copy(part, file.Content); err != nil {
			return nil, "", fmt.Errorf("copy form file %q: %w", file.FieldName, err)
		}
		if closer, ok := file.Content.(io.Closer); ok {
			closer.Close()
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), writer.FormDataContentType(), nil
}

func escapeQuotes(s string) string {
	return strings.ReplaceAll(s, `"`, `\"`)
}

func mimeTypeFor(filename string) string {
	if t := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename))); t != "" {
		return t
	}
	return "application/octet-stream"
}
