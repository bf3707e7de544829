// Package guise is an HTTP client that reproduces exact browser network
// fingerprints. Requests carry the chosen browser's TLS ClientHello layout,
// HTTP/2 connection preamble and ordered header set, so TLS and HTTP/2
// fingerprinting sees the impersonated browser rather than a Go program.
//
// Basic usage:
//
//	c, err := guise.New(guise.WithImpersonate("chrome_131"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer c.Close()
//
//	resp, err := c.Get(ctx, "https://example.com")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	body, _ := resp.Content()
package guise

import (
	"math/rand"
	"time"

	"github.com/keenanhx/guise/client"
	"github.com/keenanhx/guise/fingerprint"
	"github.com/keenanhx/guise/profile"
)

// Client issues requests with a fixed browser identity.
type Client = client.Client

// Request describes one exchange; see client.Request for the body variants.
type Request = client.Request

// Response is the result of a request.
type Response = client.Response

// Header is an ordered name/value pair.
type Header = client.Header

// Error is the error type every client operation returns.
type Error = client.Error

// Kind classifies client errors.
type Kind = client.Kind

// FormData builds multipart/form-data bodies.
type FormData = client.FormData

// Option configures a client at construction.
type Option = client.Option

// Auth schemes.
type Auth = client.Auth

var (
	NewBasicAuth  = client.NewBasicAuth
	NewBearerAuth = client.NewBearerAuth
	NewDigestAuth = client.NewDigestAuth
)

// Construction options, re-exported from client.
var (
	WithImpersonate   = client.WithImpersonate
	WithImpersonateOS = client.WithImpersonateOS
	WithAuth          = client.WithAuth
	WithBasicAuth     = client.WithBasicAuth
	WithBearerAuth    = client.WithBearerAuth
	WithParams        = client.WithParams
	WithHeaders       = client.WithHeaders
	WithoutCookies    = client.WithoutCookies
	WithoutReferer    = client.WithoutReferer
	WithProxy         = client.WithProxy
	WithTimeout       = client.WithTimeout
	WithoutRedirects  = client.WithoutRedirects
	WithMaxRedirects  = client.WithMaxRedirects
	WithoutVerify     = client.WithoutVerify
	WithCACertFile    = client.WithCACertFile
	WithHTTPSOnly     = client.WithHTTPSOnly
	WithHTTP2Only     = client.WithHTTP2Only
	WithoutHTTP2      = client.WithoutHTTP2
)

// New builds a client. Without options it uses the default profile's wire
// fingerprint but sends only caller headers.
func New(opts ...Option) (*Client, error) {
	return client.New(opts...)
}

// Profiles returns every available browser profile name, sorted.
func Profiles() []string {
	return profile.Names()
}

// JA3 returns the TLS fingerprint string a profile produces. Profiles that
// shuffle their ClientHello per connection report the layout of one draw.
func JA3(profileName string) (string, error) {
	p, err := resolve(profileName)
	if err != nil {
		return "", err
	}
	return fingerprint.ProfileJA3(p)
}

// JA4 returns the JA4 fingerprint string a profile produces. Unlike JA3,
// JA4 hashes sorted cipher and extension lists, so it is stable even for
// profiles that shuffle their ClientHello.
func JA4(profileName string) (string, error) {
	p, err := resolve(profileName)
	if err != nil {
		return "", err
	}
	return fingerprint.ProfileJA4(p)
}

// Akamai returns the HTTP/2 fingerprint string a profile produces.
func Akamai(profileName string) (string, error) {
	p, err := resolve(profileName)
	if err != nil {
		return "", err
	}
	return fingerprint.ProfileAkamai(p), nil
}

func resolve(name string) (*profile.Profile, error) {
	rnd := rand.New(rand.NewSource(time.Now().UnixNano()))
	return profile.Resolve(name, "", rnd)
}
