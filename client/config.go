package client

import (
	"time"
)

// Header is one name/value pair. Slices of Header keep the caller's
// insertion order, which matters for wire-level header ordering.
type Header struct {
	Name  string
	Value string
}

// Config holds every construction-time option. Build it through
// DefaultConfig plus functional options; the defaults give a
// Chrome-impersonating client with cookies and redirects on.
type Config struct {
	// Impersonate names the browser profile, e.g. "chrome_131",
	// "firefox_135", "safari_18.2", or "random". Empty picks the default
	// profile for the wire fingerprint without applying its header
	// template.
	Impersonate string

	// ImpersonateOS adjusts the profile's OS identity: "windows", "macos",
	// "linux", "android", "ios". Empty uses the profile's default.
	ImpersonateOS string

	// Auth is applied to every request unless overridden per request.
	Auth Auth

	// Params are query parameters appended to every request URL.
	Params map[string]string

	// Headers are default headers merged over the profile template.
	Headers []Header

	// CookieStore enables the client-owned cookie jar. Default: true.
	CookieStore bool

	// Referer enables automatic Referer propagation across redirects.
	// Default: true.
	Referer bool

	// Proxy is the proxy URL (http, https, socks5, socks5h). Empty falls
	// back to GUISE_PROXY and the conventional environment variables.
	Proxy string

	// Timeout bounds each request including redirects. Default: 30s.
	Timeout time.Duration

	// FollowRedirects controls 3xx handling. Default: true, capped at
	// MaxRedirects (default 20).
	FollowRedirects bool
	MaxRedirects    int

	// InsecureSkipVerify disables TLS certificate verification.
	InsecureSkipVerify bool

	// CACertFile points at a PEM bundle replacing the system roots.
	CACertFile string

	// HTTPSOnly rejects plain http:// URLs before dialing.
	HTTPSOnly bool

	// HTTP2Only offers only h2 in ALPN; SkipHTTP2 offers only http/1.1.
	HTTP2Only bool
	SkipHTTP2 bool
}

// DefaultConfig returns the baseline configuration.
func DefaultConfig() Config {
	return Config{
		CookieStore:     true,
		Referer:         true,
		Timeout:         30 * time.Second,
		FollowRedirects: true,
		MaxRedirects:    20,
	}
}

// Option mutates a Config during construction.
type Option func(*Config)

// WithImpersonate selects the browser profile.
func WithImpersonate(name string) Option {
	return func(c *Config) { c.Impersonate = name }
}

// WithImpersonateOS selects the OS variant of the profile.
func WithImpersonateOS(os string) Option {
	return func(c *Config) { c.ImpersonateOS = os }
}

// WithAuth sets default authentication.
func WithAuth(auth Auth) Option {
	return func(c *Config) { c.Auth = auth }
}

// WithBasicAuth sets default Basic authentication.
func WithBasicAuth(username, password string) Option {
	return func(c *Config) { c.Auth = NewBasicAuth(username, password) }
}

// WithBearerAuth sets default Bearer token authentication.
func WithBearerAuth(token string) Option {
	return func(c *Config) { c.Auth = NewBearerAuth(token) }
}

// WithParams sets query parameters appended to every request.
func WithParams(params map[string]string) Option {
	return func(c *Config) { c.Params = params }
}

// WithHeaders sets default headers merged over the profile template.
func WithHeaders(headers []Header) Option {
	return func(c *Config) { c.Headers = headers }
}

// WithoutCookies disables the cookie jar.
func WithoutCookies() Option {
	return func(c *Config) { c.CookieStore = false }
}

// WithoutReferer disables Referer propagation on redirects.
func WithoutReferer() Option {
	return func(c *Config) { c.Referer = false }
}

// WithProxy sets the proxy URL.
func WithProxy(proxyURL string) Option {
	return func(c *Config) { c.Proxy = proxyURL }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Config) { c.Timeout = timeout }
}

// WithoutRedirects disables redirect following.
func WithoutRedirects() Option {
	return func(c *Config) { c.FollowRedirects = false }
}

// WithMaxRedirects caps the redirect chain length.
func WithMaxRedirects(n int) Option {
	return func(c *Config) { c.MaxRedirects = n }
}

// WithoutVerify disables TLS certificate verification.
func WithoutVerify() Option {
	return func(c *Config) { c.InsecureSkipVerify = true }
}

// WithCACertFile replaces the system roots with a PEM bundle.
func WithCACertFile(path string) Option {
	return func(c *Config) { c.CACertFile = path }
}

// WithHTTPSOnly rejects plaintext URLs.
func WithHTTPSOnly() Option {
	return func(c *Config) { c.HTTPSOnly = true }
}

// WithHTTP2Only restricts ALPN to h2.
func WithHTTP2Only() Option {
	return func(c *Config) { c.HTTP2Only = true }
}

// WithoutHTTP2 restricts ALPN to http/1.1.
func WithoutHTTP2() Option {
	return func(c *Config) { c.SkipHTTP2 = true }
}
