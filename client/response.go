package client

import (
	"bufio"
	"bytes"
	"compress/flate"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"
	"golang.org/x/net/html/charset"
)

// Response consumption modes. The first accessor fixes the mode; a
// buffered response cannot be streamed afterwards and vice versa.
const (
	modeUnset = iota
	modeBuffered
	modeStreamed
)

// Response is the result of a request. The body can be consumed exactly
// one way: buffered through Content/Text/JSON (re-reads hit the cache) or
// streamed through Stream/ReadChunk/Lines. Content-Encoding is undone
// transparently in both modes.
type Response struct {
	StatusCode int
	Headers    http.Header
	URL        string // final URL after redirects
	Proto      string // "HTTP/1.1" or "HTTP/2.0"

	body      io.ReadCloser
	mode      int
	content   []byte
	done      chan struct{}
	closeOnce sync.Once

	// encoding overrides charset detection for Text. Settable until the
	// first Text call; later calls re-decode from the cached bytes.
	encoding string
}

// newResponse wraps the wire response. stop, when non-nil, releases the
// request's deadline; the body fires it at EOF or Close so the deadline
// covers the read, not just the round trip.
func newResponse(resp *http.Response, finalURL string, stop func()) *Response {
	out := &Response{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		URL:        finalURL,
		Proto:      resp.Proto,
		done:       make(chan struct{}),
		body: &decodedBody{
			raw:      resp.Body,
			encoding: strings.ToLower(resp.Header.Get("Content-Encoding")),
			stop:     stop,
		},
	}
	return out
}

// Content returns the whole decoded body, reading it on first call.
func (r *Response) Content() ([]byte, error) {
	if r.mode == modeStreamed {
		return nil, newError(KindStreamConsumed, r.URL, errors.New("body already streamed"))
	}
	if r.mode == modeBuffered {
		return r.content, nil
	}

	data, err := io.ReadAll(r.body)
	r.body.Close()
	if err != nil {
		return nil, classifyBodyError(r.URL, err)
	}
	r.content = data
	r.mode = modeBuffered
	return data, nil
}

// Text decodes the body to a string using the Content-Type charset, a
// detection heuristic when the header is silent, or the label set through
// SetEncoding.
func (r *Response) Text() (string, error) {
	data, err := r.Content()
	if err != nil {
		return "", err
	}

	var reader io.Reader
	if r.encoding != "" {
		reader, err = charset.NewReaderLabel(r.encoding, bytes.NewReader(data))
	} else {
		reader, err = charset.NewReader(bytes.NewReader(data), r.Headers.Get("Content-Type"))
	}
	if err != nil {
		return "", newError(KindDecode, r.URL, err)
	}
	decoded, err := io.ReadAll(reader)
	if err != nil {
		return "", newError(KindDecode, r.URL, err)
	}
	return string(decoded), nil
}

// SetEncoding forces the charset label used by Text. Calling it after a
// Text call re-decodes from the cached raw bytes on the next call.
func (r *Response) SetEncoding(label string) {
	r.encoding = label
}

// JSON unmarshals the body.
func (r *Response) JSON(v interface{}) error {
	data, err := r.Content()
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return newError(KindJSONDecode, r.URL, err)
	}
	return nil
}

// Stream hands over the decoded body for incremental reading. The caller
// owns the reader and must Close it.
func (r *Response) Stream() (io.ReadCloser, error) {
	if r.mode != modeUnset {
		return nil, newError(KindStreamConsumed, r.URL, errors.New("body already consumed"))
	}
	r.mode = modeStreamed
	return r.body, nil
}

// ReadChunk reads up to size bytes from the streamed body.
func (r *Response) ReadChunk(size int) ([]byte, error) {
	if r.mode == modeBuffered {
		return nil, newError(KindStreamConsumed, r.URL, errors.New("body already buffered"))
	}
	r.mode = modeStreamed
	buf := make([]byte, size)
	n, err := r.body.Read(buf)
	if err != nil && err != io.EOF {
		return nil, classifyBodyError(r.URL, err)
	}
	return buf[:n], err
}

// Lines yields the streamed body line by line. The channel closes at EOF
// or on a read error.
func (r *Response) Lines() (<-chan string, error) {
	if r.mode == modeBuffered {
		return nil, newError(KindStreamConsumed, r.URL, errors.New("body already buffered"))
	}
	r.mode = modeStreamed

	ch := make(chan string)
	go func() {
		defer close(ch)
		defer r.body.Close()
		scanner := bufio.NewScanner(r.body)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case ch <- scanner.Text():
			case <-r.done:
				return
			}
		}
	}()
	return ch, nil
}

// Close releases the body if it has not been consumed and stops a Lines
// goroutine whose channel is no longer being drained.
func (r *Response) Close() error {
	r.closeOnce.Do(func() { close(r.done) })
	if r.mode == modeUnset {
		r.mode = modeStreamed
		return r.body.Close()
	}
	return nil
}

// StatusOK reports whether the status is 2xx.
func (r *Response) StatusOK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// ErrorForStatus returns an HTTPStatus error for 4xx/5xx responses, nil
// otherwise.
func (r *Response) ErrorForStatus() error {
	if r.StatusCode < 400 {
		return nil
	}
	return &Error{
		Kind:     KindHTTPStatus,
		URL:      r.URL,
		Err:      fmt.Errorf("server returned status %d", r.StatusCode),
		Response: r,
	}
}

func classifyBodyError(url string, err error) *Error {
	var de *decodeError
	if errors.As(err, &de) {
		return newError(KindContentDecoding, url, err)
	}
	// The chunked reader is internal to net/http; its failures are only
	// identifiable by message.
	if strings.Contains(err.Error(), "chunked") {
		return newError(KindChunkedEncoding, url, err)
	}
	return newError(KindBody, url, err)
}

// decodeError marks failures that came from undoing Content-Encoding, as
// opposed to transport reads.
type decodeError struct {
	encoding string
	err      error
}

func (e *decodeError) Error() string {
	return fmt.Sprintf("decode %s body: %v", e.encoding, e.err)
}

func (e *decodeError) Unwrap() error { return e.err }

// decodedBody lazily wraps the transport body with the decoder matching
// Content-Encoding. Lazy because gzip and zstd read magic bytes at
// construction.
type decodedBody struct {
	raw      io.ReadCloser
	encoding string
	r        io.Reader
	closer   io.Closer
	err      error
	stop     func()
}

func (d *decodedBody) Read(p []byte) (int, error) {
	if d.err != nil {
		return 0, d.err
	}
	if d.r == nil {
		if err := d.init(); err != nil {
			d.err = &decodeError{encoding: d.encoding, err: err}
			return 0, d.err
		}
	}
	n, err := d.r.Read(p)
	if err == io.EOF {
		d.finish()
	}
	if err != nil && err != io.EOF {
		if _, ok := err.(*decodeError); !ok && d.encoding != "" && d.encoding != "identity" {
			err = &decodeError{encoding: d.encoding, err: err}
		}
	}
	return n, err
}

func (d *decodedBody) finish() {
	if d.stop != nil {
		d.stop()
		d.stop = nil
	}
}

func (d *decodedBody) init() error {
	switch d.encoding {
	case "", "identity":
		d.r = d.raw
	case "gzip":
		zr, err := gzip.NewReader(d.raw)
		if err != nil {
			return err
		}
		d.r = zr
		d.closer = zr
	case "br":
		d.r = brotli.NewReader(d.raw)
	case "zstd":
		zr, err := zstd.NewReader(d.raw)
		if err != nil {
			return err
		}
		d.r = zr.IOReadCloser()
	case "deflate":
		fr := flate.NewReader(d.raw)
		d.r = fr
		d.closer = fr
	default:
		d.r = d.raw
	}
	return nil
}

func (d *decodedBody) Close() error {
	defer d.finish()
	if d.closer != nil {
		d.closer.Close()
	}
	return d.raw.Close()
}
