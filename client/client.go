// Package client is the high-level HTTP surface. A Client holds one browser
// identity, one connection pool and one cookie jar; requests issued through
// it carry the profile's ordered header template with caller overrides
// merged in by name.
package client

import (
	"bytes"
	"context"
	"crypto/x509"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/http/httpguts"

	"github.com/keenanhx/guise/pool"
	"github.com/keenanhx/guise/profile"
	"github.com/keenanhx/guise/proxy"
	"github.com/keenanhx/guise/transport"
)

// Client issues requests with a fixed wire identity. Safe for concurrent use;
// the mutators replace state under a lock and affect requests started after
// the call.
type Client struct {
	cfg  Config
	prof *profile.Profile

	// useTemplate is false when the caller never asked for impersonation.
	// The profile still shapes the TLS and HTTP/2 layers, but requests
	// carry only caller headers.
	useTemplate bool

	mgr *pool.Manager
	tr  *transport.Transport

	mu      sync.Mutex
	jar     *CookieJar
	headers []Header
	params  map[string]string
	auth    Auth
}

// New builds a client from the default configuration with opts applied.
func New(opts ...Option) (*Client, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return NewFromConfig(cfg)
}

// NewFromConfig builds a client from an explicit configuration.
func NewFromConfig(cfg Config) (*Client, error) {
	rnd := rand.New(rand.NewSource(time.Now().UnixNano()))
	prof, err := profile.Resolve(cfg.Impersonate, profile.OS(cfg.ImpersonateOS), rnd)
	if err != nil {
		return nil, newError(KindUnknownProfile, "", err)
	}

	var roots *x509.CertPool
	if cfg.CACertFile != "" {
		pem, err := os.ReadFile(cfg.CACertFile)
		if err != nil {
			return nil, newError(KindSSL, "", err)
		}
		roots = x509.NewCertPool()
		if !roots.AppendCertsFromPEM(pem) {
			return nil, newError(KindSSL, "", fmt.Errorf("no certificates in %s", cfg.CACertFile))
		}
	}

	proxyURL := cfg.Proxy
	if proxyURL == "" {
		proxyURL = proxy.FromEnv()
	}
	if proxyURL != "" {
		if _, err := proxy.Parse(proxyURL); err != nil {
			return nil, newError(KindProxy, "", err)
		}
	}

	mgr := pool.NewManager(prof, pool.Options{
		ProxyURL:           proxyURL,
		ConnectTimeout:     cfg.Timeout,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
		RootCAs:            roots,
		ForceHTTP1:         cfg.SkipHTTP2,
		ForceHTTP2:         cfg.HTTP2Only,
	})

	c := &Client{
		cfg:         cfg,
		prof:        prof,
		useTemplate: cfg.Impersonate != "",
		mgr:         mgr,
		tr:          transport.New(mgr, cfg.Timeout),
		headers:     append([]Header(nil), cfg.Headers...),
		auth:        cfg.Auth,
	}
	if len(cfg.Params) > 0 {
		c.params = make(map[string]string, len(cfg.Params))
		for k, v := range cfg.Params {
			c.params[k] = v
		}
	}
	if cfg.CookieStore {
		c.jar = NewCookieJar()
	}
	return c, nil
}

// Profile reports the resolved identity, e.g. "chrome_131/windows".
func (c *Client) Profile() string {
	return c.prof.FingerprintID()
}

// Config returns a copy of the configuration the client was built from.
func (c *Client) Config() Config {
	return c.cfg
}

// Jar exposes the cookie jar, nil when cookies are disabled.
func (c *Client) Jar() *CookieJar {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.jar
}

// UseJar swaps the cookie jar. Several clients can share one jar; the jar
// is safe for concurrent use. Requests already in flight finish on the jar
// they started with.
func (c *Client) UseJar(jar *CookieJar) {
	c.mu.Lock()
	c.jar = jar
	c.mu.Unlock()
}

// Do executes req, following redirects per the client policy, and returns a
// buffered-capable response. The caller owns the response body.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	timeout := c.cfg.Timeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}
	// The deadline has to outlive Do: bodies are consumed after it returns,
	// and the HTTP/2 transport aborts the stream the moment its request
	// context is cancelled. Ownership of cancel moves to the response, which
	// fires it at body EOF or Close; until then it is released only on the
	// error paths below.
	var cancel context.CancelFunc
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
	}
	handedOff := false
	defer func() {
		if cancel != nil && !handedOff {
			cancel()
		}
	}()

	c.mu.Lock()
	clientParams := c.params
	clientHeaders := append([]Header(nil), c.headers...)
	auth := c.auth
	jar := c.jar
	c.mu.Unlock()
	if req.Auth != nil {
		auth = req.Auth
	}

	rawURL := mergeParams(req.URL, clientParams, req.Params)
	target, err := url.Parse(rawURL)
	if err != nil {
		return nil, newError(KindInvalidURL, req.URL, err)
	}
	if target.Scheme != "http" && target.Scheme != "https" {
		return nil, newError(KindInvalidURL, rawURL, fmt.Errorf("unsupported scheme %q", target.Scheme))
	}
	if c.cfg.HTTPSOnly && target.Scheme != "https" {
		return nil, newError(KindInvalidURL, rawURL, fmt.Errorf("https required, got %q", target.Scheme))
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	body, bodyType, err := req.payload()
	if err != nil {
		return nil, err
	}

	headers, err := c.buildHeaders(clientHeaders, req.Headers)
	if err != nil {
		return nil, err
	}

	follow := c.cfg.FollowRedirects
	if req.FollowRedirects != nil {
		follow = *req.FollowRedirects
	}
	maxRedirects := c.cfg.MaxRedirects
	if req.MaxRedirects > 0 {
		maxRedirects = req.MaxRedirects
	}

	firstHost := target.Hostname()
	referer := req.Referer

	var resp *http.Response
	for hop := 0; ; hop++ {
		hreq, err := c.wireRequest(ctx, jar, method, target, headers, body, bodyType, referer)
		if err != nil {
			return nil, err
		}
		if auth != nil && target.Hostname() == firstHost {
			if err := auth.Apply(hreq); err != nil {
				return nil, newError(KindInvalidHeader, target.String(), err)
			}
		}

		resp, err = c.tr.RoundTrip(hreq)
		if err != nil {
			return nil, fromTransport(target.String(), err)
		}
		if jar != nil {
			jar.StoreResponse(target, resp.Header.Values("Set-Cookie"))
		}

		if auth != nil && resp.StatusCode == http.StatusUnauthorized && target.Hostname() == firstHost {
			retry, err := auth.HandleChallenge(resp, hreq)
			if err != nil {
				resp.Body.Close()
				return nil, newError(KindInvalidHeader, target.String(), err)
			}
			if retry {
				resp.Body.Close()
				hreq, err = c.wireRequest(ctx, jar, method, target, headers, body, bodyType, referer)
				if err != nil {
					return nil, err
				}
				if err := auth.Apply(hreq); err != nil {
					return nil, newError(KindInvalidHeader, target.String(), err)
				}
				resp, err = c.tr.RoundTrip(hreq)
				if err != nil {
					return nil, fromTransport(target.String(), err)
				}
				if jar != nil {
					jar.StoreResponse(target, resp.Header.Values("Set-Cookie"))
				}
			}
			// One challenge round only.
			auth = nil
		}

		location := resp.Header.Get("Location")
		if !follow || !isRedirect(resp.StatusCode) || location == "" {
			break
		}
		if hop >= maxRedirects {
			out := newResponse(resp, target.String(), cancel)
			handedOff = true
			return nil, &Error{Kind: KindTooManyRedirects, URL: target.String(),
				Err: fmt.Errorf("stopped after %d redirects", maxRedirects), Response: out}
		}

		next, err := resolveRedirect(target, location)
		if err != nil {
			resp.Body.Close()
			return nil, newError(KindInvalidURL, location, err)
		}
		if c.cfg.HTTPSOnly && next.Scheme != "https" {
			resp.Body.Close()
			return nil, newError(KindInvalidURL, next.String(), fmt.Errorf("redirect to non-https %q", next.String()))
		}

		switch resp.StatusCode {
		case http.StatusSeeOther:
			method, body, bodyType, headers = http.MethodGet, nil, "", stripEntityHeaders(headers)
		case http.StatusMovedPermanently, http.StatusFound:
			if method != http.MethodGet && method != http.MethodHead {
				method, body, bodyType, headers = http.MethodGet, nil, "", stripEntityHeaders(headers)
			}
		}
		// 307 and 308 keep the method and body untouched.

		if next.Hostname() != firstHost {
			headers = dropHeader(headers, "Authorization")
			headers = dropHeader(headers, "Cookie")
		}
		if c.cfg.Referer && !(target.Scheme == "https" && next.Scheme == "http") {
			ref := *target
			ref.User = nil
			ref.Fragment = ""
			referer = ref.String()
		}
		resp.Body.Close()
		target = next
	}

	out := newResponse(resp, target.String(), cancel)
	handedOff = true
	return out, nil
}

// wireRequest assembles one http.Request for a single hop. The jar is only
// consulted when the merged headers carry no Cookie of their own.
func (c *Client) wireRequest(ctx context.Context, jar *CookieJar, method string, target *url.URL, headers []Header, body []byte, bodyType, referer string) (*http.Request, error) {
	hreq, err := http.NewRequestWithContext(ctx, method, target.String(), nil)
	if err != nil {
		return nil, newError(KindInvalidURL, target.String(), err)
	}
	if body != nil {
		hreq.Body = newReplayBody(body)
		hreq.GetBody = func() (io.ReadCloser, error) { return newReplayBody(body), nil }
		hreq.ContentLength = int64(len(body))
	}

	for _, h := range headers {
		hreq.Header.Add(h.Name, h.Value)
	}
	if bodyType != "" && hreq.Header.Get("Content-Type") == "" {
		hreq.Header.Set("Content-Type", bodyType)
	}
	if referer != "" {
		hreq.Header.Set("Referer", referer)
	}
	if jar != nil && hreq.Header.Get("Cookie") == "" {
		if v := jar.Header(target); v != "" {
			hreq.Header.Set("Cookie", v)
		}
	}
	return hreq, nil
}

// buildHeaders merges the profile template with client and request headers.
// Overrides match case-insensitively and keep the template's position; new
// names append in caller order. An empty override value removes the header.
func (c *Client) buildHeaders(clientHeaders, reqHeaders []Header) ([]Header, error) {
	overrides := append(append([]Header(nil), clientHeaders...), reqHeaders...)
	for _, h := range overrides {
		if !httpguts.ValidHeaderFieldName(h.Name) {
			return nil, newError(KindInvalidHeader, "", fmt.Errorf("invalid header name %q", h.Name))
		}
		if !httpguts.ValidHeaderFieldValue(h.Value) {
			return nil, newError(KindInvalidHeader, "", fmt.Errorf("invalid value for header %q", h.Name))
		}
	}

	var merged []Header
	if c.useTemplate {
		merged = make([]Header, 0, len(c.prof.Headers)+len(overrides))
		for _, h := range c.prof.Headers {
			merged = append(merged, Header{Name: h.Name, Value: h.Value})
		}
	} else {
		merged = make([]Header, 0, len(overrides)+1)
		merged = append(merged, Header{Name: "Accept-Encoding", Value: "gzip, deflate, br"})
	}

	for _, o := range overrides {
		idx := -1
		for i, m := range merged {
			if strings.EqualFold(m.Name, o.Name) {
				idx = i
				break
			}
		}
		switch {
		case idx >= 0 && o.Value == "":
			merged = append(merged[:idx], merged[idx+1:]...)
		case idx >= 0:
			merged[idx].Value = o.Value
		case o.Value != "":
			merged = append(merged, o)
		}
	}
	return merged, nil
}

func isRedirect(code int) bool {
	switch code {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

func dropHeader(headers []Header, name string) []Header {
	for i := 0; i < len(headers); {
		if strings.EqualFold(headers[i].Name, name) {
			headers = append(headers[:i], headers[i+1:]...)
			continue
		}
		i++
	}
	return headers
}

// stripEntityHeaders drops the headers that described a body a redirect
// just discarded.
func stripEntityHeaders(headers []Header) []Header {
	for i := 0; i < len(headers); {
		switch strings.ToLower(headers[i].Name) {
		case "content-type", "content-length", "content-encoding", "transfer-encoding":
			headers = append(headers[:i], headers[i+1:]...)
		default:
			i++
		}
	}
	return headers
}

// Get issues a GET request.
func (c *Client) Get(ctx context.Context, url string, opts ...func(*Request)) (*Response, error) {
	return c.verb(ctx, http.MethodGet, url, opts)
}

// Head issues a HEAD request.
func (c *Client) Head(ctx context.Context, url string, opts ...func(*Request)) (*Response, error) {
	return c.verb(ctx, http.MethodHead, url, opts)
}

// Options issues an OPTIONS request.
func (c *Client) Options(ctx context.Context, url string, opts ...func(*Request)) (*Response, error) {
	return c.verb(ctx, http.MethodOptions, url, opts)
}

// Delete issues a DELETE request.
func (c *Client) Delete(ctx context.Context, url string, opts ...func(*Request)) (*Response, error) {
	return c.verb(ctx, http.MethodDelete, url, opts)
}

// Post issues a POST request.
func (c *Client) Post(ctx context.Context, url string, opts ...func(*Request)) (*Response, error) {
	return c.verb(ctx, http.MethodPost, url, opts)
}

// Put issues a PUT request.
func (c *Client) Put(ctx context.Context, url string, opts ...func(*Request)) (*Response, error) {
	return c.verb(ctx, http.MethodPut, url, opts)
}

// Patch issues a PATCH request.
func (c *Client) Patch(ctx context.Context, url string, opts ...func(*Request)) (*Response, error) {
	return c.verb(ctx, http.MethodPatch, url, opts)
}

func (c *Client) verb(ctx context.Context, method, url string, opts []func(*Request)) (*Response, error) {
	req := &Request{Method: method, URL: url}
	for _, opt := range opts {
		opt(req)
	}
	return c.Do(ctx, req)
}

// SetCookies stores cookies for rawURL's host in the jar.
func (c *Client) SetCookies(rawURL string, cookies map[string]string) error {
	jar := c.Jar()
	if jar == nil {
		return nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return newError(KindInvalidURL, rawURL, err)
	}
	for name, value := range cookies {
		jar.Set(u, name, value)
	}
	return nil
}

// GetCookies returns the cookies the jar would send to rawURL.
func (c *Client) GetCookies(rawURL string) (map[string]string, error) {
	jar := c.Jar()
	if jar == nil {
		return nil, nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, newError(KindInvalidURL, rawURL, err)
	}
	out := make(map[string]string)
	for _, ck := range jar.Cookies(u) {
		if _, ok := out[ck.Name]; !ok {
			out[ck.Name] = ck.Value
		}
	}
	return out, nil
}

// SetHeaders replaces the client-level default headers.
func (c *Client) SetHeaders(headers []Header) {
	c.mu.Lock()
	c.headers = append([]Header(nil), headers...)
	c.mu.Unlock()
}

// HeadersUpdate merges headers into the client-level defaults, replacing
// same-named entries in place.
func (c *Client) HeadersUpdate(headers []Header) {
	c.mu.Lock()
	defer c.mu.Unlock()
outer:
	for _, h := range headers {
		for i := range c.headers {
			if strings.EqualFold(c.headers[i].Name, h.Name) {
				c.headers[i] = h
				continue outer
			}
		}
		c.headers = append(c.headers, h)
	}
}

// SetAuth replaces the client-level authentication.
func (c *Client) SetAuth(a Auth) {
	c.mu.Lock()
	c.auth = a
	c.mu.Unlock()
}

// SetProxy repoints the connection pool at a new proxy. Existing connections
// are closed; in-flight requests finish on the old ones.
func (c *Client) SetProxy(proxyURL string) error {
	if err := c.mgr.SetProxy(proxyURL); err != nil {
		return newError(KindProxy, proxyURL, err)
	}
	return nil
}

// ClearCookies empties the jar.
func (c *Client) ClearCookies() {
	if jar := c.Jar(); jar != nil {
		jar.Clear()
	}
}

// Close shuts the connection pool down. The client must not be used after.
func (c *Client) Close() {
	c.tr.Close()
}

type replayBody struct {
	*bytes.Reader
}

func newReplayBody(b []byte) *replayBody {
	return &replayBody{bytes.NewReader(b)}
}

func (*replayBody) Close() error { return nil }
