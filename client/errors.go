package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/keenanhx/guise/transport"
)

// Kind classifies a client failure. Every error returned by this package is
// a *Error carrying exactly one Kind.
type Kind string

const (
	KindConnectTimeout   Kind = "connect_timeout"
	KindConnection       Kind = "connection"
	KindSSL              Kind = "ssl"
	KindProxy            Kind = "proxy"
	KindInvalidURL       Kind = "invalid_url"
	KindInvalidHeader    Kind = "invalid_header"
	KindReadTimeout      Kind = "read_timeout"
	KindTimeout          Kind = "timeout"
	KindBody             Kind = "body"
	KindChunkedEncoding  Kind = "chunked_encoding"
	KindInvalidJSON      Kind = "invalid_json"
	KindStreamConsumed   Kind = "stream_consumed"
	KindDecode           Kind = "decode"
	KindContentDecoding  Kind = "content_decoding"
	KindJSONDecode       Kind = "json_decode"
	KindTooManyRedirects Kind = "too_many_redirects"
	KindUnknownProfile   Kind = "unknown_profile"
	KindHTTPStatus       Kind = "http_status"
)

// Error is the single error type surfaced by the client.
type Error struct {
	Kind Kind
	URL  string
	Err  error

	// Response carries the last response for TooManyRedirects and the
	// offending response for HTTPStatus. Nil for other kinds.
	Response *Response
}

func (e *Error) Error() string {
	if e.URL != "" {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.URL, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, url string, err error) *Error {
	return &Error{Kind: kind, URL: url, Err: err}
}

// KindOf extracts the Kind from an error returned by this package. The
// second result is false when the error came from somewhere else.
func KindOf(err error) (Kind, bool) {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind, true
	}
	return "", false
}

// fromTransport maps a transport failure onto the client's error surface.
// The transport tags dial and read phases, which is what separates
// ConnectTimeout from ReadTimeout.
func fromTransport(url string, err error) *Error {
	var te *transport.TransportError
	if !errors.As(err, &te) {
		if errors.Is(err, context.DeadlineExceeded) {
			return newError(KindTimeout, url, err)
		}
		return newError(KindConnection, url, err)
	}

	switch {
	case errors.Is(err, transport.ErrTimeout):
		if te.Op == "dial" {
			return newError(KindConnectTimeout, url, err)
		}
		return newError(KindReadTimeout, url, err)
	case errors.Is(err, transport.ErrTLS):
		return newError(KindSSL, url, err)
	case errors.Is(err, transport.ErrProxy):
		return newError(KindProxy, url, err)
	case errors.Is(err, transport.ErrProtocol):
		return newError(KindInvalidURL, url, err)
	default:
		return newError(KindConnection, url, err)
	}
}
