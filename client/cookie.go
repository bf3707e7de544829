package client

import (
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Cookie is one stored cookie record.
type Cookie struct {
	Name     string
	Value    string
	Domain   string // lowercase; leading dot marks a domain cookie
	Path     string
	Expires  time.Time // zero = session cookie
	Secure   bool
	HttpOnly bool
	SameSite string
}

// Expired reports whether the record is past its expiry. Session cookies
// never expire here.
func (c *Cookie) Expired(now time.Time) bool {
	return !c.Expires.IsZero() && now.After(c.Expires)
}

// Matches reports whether this cookie belongs on a request to u.
func (c *Cookie) Matches(u *url.URL) bool {
	if !c.matchesDomain(u.Hostname()) {
		return false
	}
	if !c.matchesPath(u.Path) {
		return false
	}
	if c.Secure && u.Scheme != "https" {
		return false
	}
	return true
}

// matchesDomain implements host matching: exact for host-only cookies,
// suffix with a dot boundary for domain cookies.
func (c *Cookie) matchesDomain(host string) bool {
	host = strings.ToLower(host)
	domain := c.Domain

	if !strings.HasPrefix(domain, ".") {
		return host == domain
	}
	if host == domain[1:] {
		return true
	}
	return strings.HasSuffix(host, domain)
}

// matchesPath implements RFC 6265 path-match: exact, or prefix ending at a
// path boundary.
func (c *Cookie) matchesPath(path string) bool {
	if path == "" {
		path = "/"
	}
	if c.Path == "" || c.Path == "/" {
		return true
	}
	if !strings.HasPrefix(path, c.Path) {
		return false
	}
	return len(path) == len(c.Path) || path[len(c.Path)] == '/' || strings.HasSuffix(c.Path, "/")
}

// parseSetCookie turns one Set-Cookie header into a record. Max-Age wins
// over Expires; both are resolved to an absolute expiry at parse time.
// Returns nil for headers with no usable name=value.
func parseSetCookie(header string, requestURL *url.URL, now time.Time) *Cookie {
	parts := strings.Split(header, ";")
	nameValue := strings.TrimSpace(parts[0])
	eq := strings.Index(nameValue, "=")
	if eq <= 0 {
		return nil
	}

	cookie := &Cookie{
		Name:  strings.TrimSpace(nameValue[:eq]),
		Value: strings.TrimSpace(nameValue[eq+1:]),
		Path:  defaultCookiePath(requestURL),
	}
	if requestURL != nil {
		cookie.Domain = strings.ToLower(requestURL.Hostname())
	}

	var expires time.Time
	var maxAge *int

	for _, attr := range parts[1:] {
		attr = strings.TrimSpace(attr)
		if attr == "" {
			continue
		}
		name, value := attr, ""
		if eq := strings.Index(attr, "="); eq >= 0 {
			name = strings.TrimSpace(attr[:eq])
			value = strings.TrimSpace(attr[eq+1:])
		}

		switch strings.ToLower(name) {
		case "domain":
			if value != "" {
				value = strings.ToLower(strings.TrimPrefix(value, "."))
				cookie.Domain = "." + value
			}
		case "path":
			// An attribute that does not start with "/" keeps the default.
			if strings.HasPrefix(value, "/") {
				cookie.Path = value
			}
		case "expires":
			if t, ok := parseCookieDate(value); ok {
				expires = t
			}
		case "max-age":
			if n, err := strconv.Atoi(value); err == nil {
				maxAge = &n
			}
		case "secure":
			cookie.Secure = true
		case "httponly":
			cookie.HttpOnly = true
		case "samesite":
			cookie.SameSite = value
		}
	}

	switch {
	case maxAge != nil && *maxAge <= 0:
		// Immediate expiry; the jar drops it and deletes any stored twin.
		cookie.Expires = now.Add(-time.Second)
	case maxAge != nil:
		cookie.Expires = now.Add(time.Duration(*maxAge) * time.Second)
	default:
		cookie.Expires = expires
	}

	return cookie
}

// defaultCookiePath is the RFC 6265 default-path: the request path up to,
// but not including, its last "/".
func defaultCookiePath(u *url.URL) string {
	if u == nil {
		return "/"
	}
	p := u.Path
	if p == "" || p[0] != '/' {
		return "/"
	}
	i := strings.LastIndex(p, "/")
	if i == 0 {
		return "/"
	}
	return p[:i]
}

var cookieDateFormats = []string{
	time.RFC1123,
	time.RFC1123Z,
	"Mon, 02-Jan-2006 15:04:05 MST",
	"Monday, 02-Jan-06 15:04:05 MST",
	"Mon Jan 2 15:04:05 2006",
}

func parseCookieDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, format := range cookieDateFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
