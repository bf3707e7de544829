package client

import (
	"bytes"
	"compress/gzip"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"
)

func fakeResponse(body []byte, header http.Header) *Response {
	if header == nil {
		header = http.Header{}
	}
	return newResponse(&http.Response{
		StatusCode: 200,
		Header:     header,
		Body:       io.NopCloser(bytes.NewReader(body)),
		Proto:      "HTTP/1.1",
	}, "https://example.com/", nil)
}

func TestContentIsIdempotent(t *testing.T) {
	r := fakeResponse([]byte("payload"), nil)
	defer r.Close()

	first, err := r.Content()
	if err != nil {
		t.Fatalf("Content: %v", err)
	}
	second, err := r.Content()
	if err != nil {
		t.Fatalf("second Content: %v", err)
	}
	if !bytes.Equal(first, second) || string(first) != "payload" {
		t.Fatalf("Content = %q / %q, want stable %q", first, second, "payload")
	}
}

func TestStreamAfterContentFails(t *testing.T) {
	r := fakeResponse([]byte("payload"), nil)
	defer r.Close()

	if _, err := r.Content(); err != nil {
		t.Fatalf("Content: %v", err)
	}
	_, err := r.Stream()
	var ce *Error
	if !errors.As(err, &ce) || ce.Kind != KindStreamConsumed {
		t.Fatalf("Stream after Content: err = %v, want kind %s", err, KindStreamConsumed)
	}
}

func TestContentAfterStreamFails(t *testing.T) {
	r := fakeResponse([]byte("payload"), nil)
	defer r.Close()

	if _, err := r.Stream(); err != nil {
		t.Fatalf("Stream: %v", err)
	}
	_, err := r.Content()
	var ce *Error
	if !errors.As(err, &ce) || ce.Kind != KindStreamConsumed {
		t.Fatalf("Content after Stream: err = %v, want kind %s", err, KindStreamConsumed)
	}
}

func TestGzipDecode(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	zw.Write([]byte("compressed text"))
	zw.Close()

	r := fakeResponse(buf.Bytes(), http.Header{"Content-Encoding": {"gzip"}})
	defer r.Close()

	got, err := r.Content()
	if err != nil {
		t.Fatalf("Content: %v", err)
	}
	if string(got) != "compressed text" {
		t.Fatalf("Content = %q", got)
	}
}

func TestBrotliDecode(t *testing.T) {
	var buf bytes.Buffer
	bw := brotli.NewWriter(&buf)
	bw.Write([]byte("br payload"))
	bw.Close()

	r := fakeResponse(buf.Bytes(), http.Header{"Content-Encoding": {"br"}})
	defer r.Close()

	got, err := r.Content()
	if err != nil {
		t.Fatalf("Content: %v", err)
	}
	if string(got) != "br payload" {
		t.Fatalf("Content = %q", got)
	}
}

func TestZstdDecode(t *testing.T) {
	var buf bytes.Buffer
	zw, err := zstd.NewWriter(&buf)
	if err != nil {
		t.Fatalf("zstd.NewWriter: %v", err)
	}
	zw.Write([]byte("zstd payload"))
	zw.Close()

	r := fakeResponse(buf.Bytes(), http.Header{"Content-Encoding": {"zstd"}})
	defer r.Close()

	got, err := r.Content()
	if err != nil {
		t.Fatalf("Content: %v", err)
	}
	if string(got) != "zstd payload" {
		t.Fatalf("Content = %q", got)
	}
}

func TestCorruptGzipReportsContentDecoding(t *testing.T) {
	r := fakeResponse([]byte("definitely not gzip"), http.Header{"Content-Encoding": {"gzip"}})
	defer r.Close()

	_, err := r.Content()
	var ce *Error
	if !errors.As(err, &ce) || ce.Kind != KindContentDecoding {
		t.Fatalf("err = %v, want kind %s", err, KindContentDecoding)
	}
}

func TestTextCharsetFromContentType(t *testing.T) {
	// "héllo" in ISO-8859-1: é is a single 0xE9 byte.
	body := []byte{'h', 0xE9, 'l', 'l', 'o'}
	r := fakeResponse(body, http.Header{"Content-Type": {"text/plain; charset=iso-8859-1"}})
	defer r.Close()

	got, err := r.Text()
	if err != nil {
		t.Fatalf("Text: %v", err)
	}
	if got != "héllo" {
		t.Fatalf("Text = %q, want %q", got, "héllo")
	}
}

func TestSetEncodingOverride(t *testing.T) {
	body := []byte{'h', 0xE9, 'l', 'l', 'o'}
	r := fakeResponse(body, http.Header{"Content-Type": {"text/plain; charset=utf-8"}})
	defer r.Close()

	r.SetEncoding("iso-8859-1")
	got, err := r.Text()
	if err != nil {
		t.Fatalf("Text: %v", err)
	}
	if got != "héllo" {
		t.Fatalf("Text = %q, want override to decode latin-1", got)
	}
}

func TestJSONDecodeError(t *testing.T) {
	r := fakeResponse([]byte("{not json"), nil)
	defer r.Close()

	var out map[string]any
	err := r.JSON(&out)
	var ce *Error
	if !errors.As(err, &ce) || ce.Kind != KindJSONDecode {
		t.Fatalf("err = %v, want kind %s", err, KindJSONDecode)
	}
}

func TestJSONDecode(t *testing.T) {
	r := fakeResponse([]byte(`{"name":"go","count":3}`), nil)
	defer r.Close()

	var out struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}
	if err := r.JSON(&out); err != nil {
		t.Fatalf("JSON: %v", err)
	}
	if out.Name != "go" || out.Count != 3 {
		t.Fatalf("decoded %+v", out)
	}
}

func TestLines(t *testing.T) {
	r := fakeResponse([]byte("one\ntwo\nthree"), nil)
	defer r.Close()

	lines, err := r.Lines()
	if err != nil {
		t.Fatalf("Lines: %v", err)
	}
	var got []string
	for line := range lines {
		got = append(got, line)
	}
	if strings.Join(got, ",") != "one,two,three" {
		t.Fatalf("Lines = %v", got)
	}
}

// endlessLines yields the same line forever, so a Lines consumer that walks
// away can only be unblocked by Close.
type endlessLines struct{}

func (endlessLines) Read(p []byte) (int, error) {
	return copy(p, "data\n"), nil
}

func TestLinesStopsOnClose(t *testing.T) {
	r := newResponse(&http.Response{
		StatusCode: 200,
		Header:     http.Header{},
		Body:       io.NopCloser(endlessLines{}),
		Proto:      "HTTP/1.1",
	}, "https://example.com/", nil)

	lines, err := r.Lines()
	if err != nil {
		t.Fatalf("Lines: %v", err)
	}
	if got := <-lines; got != "data" {
		t.Fatalf("first line = %q", got)
	}
	r.Close()

	timeout := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-lines:
			if !ok {
				return
			}
		case <-timeout:
			t.Fatal("line channel still open after Close")
		}
	}
}

func TestDeadlineReleasedAtBodyEnd(t *testing.T) {
	var stopped bool
	r := newResponse(&http.Response{
		StatusCode: 200,
		Header:     http.Header{},
		Body:       io.NopCloser(strings.NewReader("tail end")),
		Proto:      "HTTP/1.1",
	}, "https://example.com/", func() { stopped = true })

	stream, err := r.Stream()
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	buf := make([]byte, 4)
	if _, err := stream.Read(buf); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if stopped {
		t.Fatal("deadline released before the body was drained")
	}
	if _, err := io.ReadAll(stream); err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !stopped {
		t.Fatal("deadline not released at EOF")
	}
}

func TestDeadlineReleasedOnClose(t *testing.T) {
	var stopped bool
	r := newResponse(&http.Response{
		StatusCode: 204,
		Header:     http.Header{},
		Body:       io.NopCloser(strings.NewReader("")),
		Proto:      "HTTP/1.1",
	}, "https://example.com/", func() { stopped = true })

	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !stopped {
		t.Fatal("deadline not released on Close")
	}
}

func TestErrorForStatus(t *testing.T) {
	r := newResponse(&http.Response{
		StatusCode: 404,
		Header:     http.Header{},
		Body:       io.NopCloser(strings.NewReader("missing")),
	}, "https://example.com/gone", nil)
	defer r.Close()

	err := r.ErrorForStatus()
	var ce *Error
	if !errors.As(err, &ce) || ce.Kind != KindHTTPStatus {
		t.Fatalf("err = %v, want kind %s", err, KindHTTPStatus)
	}
	if ce.Response != r {
		t.Fatal("status error must carry the response")
	}

	ok := fakeResponse(nil, nil)
	defer ok.Close()
	if err := ok.ErrorForStatus(); err != nil {
		t.Fatalf("200 ErrorForStatus = %v, want nil", err)
	}
}
