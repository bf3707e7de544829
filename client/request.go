package client

import (
	"encoding/json"
	"net/url"
	"time"
)

// Request describes one HTTP exchange. Exactly one of Body, Form, JSON,
// Multipart supplies the payload; the first set field in that order wins.
type Request struct {
	Method string
	URL    string

	// Headers override the merged template case-insensitively; names not
	// in the template are appended in the order given here.
	Headers []Header

	// Params are merged into the URL query on top of client-level params.
	Params map[string]string

	Body      []byte
	Form      map[string]string
	JSON      interface{}
	Multipart *FormData

	// Auth overrides the client's default authentication.
	Auth Auth

	// Timeout overrides the client timeout for this request.
	Timeout time.Duration

	// FollowRedirects overrides the client redirect policy. Nil inherits.
	FollowRedirects *bool
	MaxRedirects    int

	// Referer seeds the Referer header before any redirect updates it.
	Referer string
}

// payload renders the request body and its Content-Type. An explicit
// caller Content-Type header still wins over the returned one.
func (r *Request) payload() (body []byte, contentType string, err error) {
	switch {
	case r.Body != nil:
		return r.Body, "", nil
	case r.Form != nil:
		values := make(url.Values, len(r.Form))
		for k, v := range r.Form {
			values.Set(k, v)
		}
		return []byte(values.Encode()), "application/x-www-form-urlencoded", nil
	case r.JSON != nil:
		data, err := json.Marshal(r.JSON)
		if err != nil {
			return nil, "", newError(KindInvalidJSON, r.URL, err)
		}
		return data, "application/json", nil
	case r.Multipart != nil:
		data, ct, err := r.Multipart.Encode()
		if err != nil {
			return nil, "", newError(KindBody, r.URL, err)
		}
		return data, ct, nil
	}
	return nil, "", nil
}
