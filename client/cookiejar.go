package client

import (
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"
)

// CookieJar stores cookies keyed by (domain, path, name). Storing a cookie
// with a key already present replaces the record; expired cookies are
// dropped at store time and delete any stored twin.
type CookieJar struct {
	mu      sync.RWMutex
	cookies map[string][]*Cookie // domain key -> records
}

func NewCookieJar() *CookieJar {
	return &CookieJar{cookies: make(map[string][]*Cookie)}
}

// SetCookies upserts records into the jar.
func (j *CookieJar) SetCookies(cookies []*Cookie) {
	now := time.Now()

	j.mu.Lock()
	defer j.mu.Unlock()

	for _, cookie := range cookies {
		if cookie == nil || cookie.Name == "" {
			continue
		}
		key := domainKey(cookie.Domain)

		kept := j.cookies[key][:0]
		for _, existing := range j.cookies[key] {
			if existing.Name != cookie.Name || existing.Path != cookie.Path {
				kept = append(kept, existing)
			}
		}
		if !cookie.Expired(now) {
			kept = append(kept, cookie)
		}

		if len(kept) > 0 {
			j.cookies[key] = kept
		} else {
			delete(j.cookies, key)
		}
	}
}

// StoreResponse parses Set-Cookie headers from a response into the jar.
func (j *CookieJar) StoreResponse(u *url.URL, setCookie []string) {
	if len(setCookie) == 0 {
		return
	}
	now := time.Now()
	cookies := make([]*Cookie, 0, len(setCookie))
	for _, header := range setCookie {
		if c := parseSetCookie(header, u, now); c != nil {
			cookies = append(cookies, c)
		}
	}
	j.SetCookies(cookies)
}

// Cookies returns the records to send for u, longest path first then by
// name. The ordering is stable for unchanged jar state.
func (j *CookieJar) Cookies(u *url.URL) []*Cookie {
	j.mu.RLock()
	defer j.mu.RUnlock()

	now := time.Now()
	host := strings.ToLower(u.Hostname())

	var result []*Cookie
	for _, key := range j.matchingKeys(host) {
		for _, cookie := range j.cookies[key] {
			if cookie.Expired(now) {
				continue
			}
			if cookie.Matches(u) {
				result = append(result, cookie)
			}
		}
	}

	sort.SliceStable(result, func(a, b int) bool {
		if len(result[a].Path) != len(result[b].Path) {
			return len(result[a].Path) > len(result[b].Path)
		}
		return result[a].Name < result[b].Name
	})
	return result
}

// Header renders the Cookie header value for u, empty when nothing
// matches.
func (j *CookieJar) Header(u *url.URL) string {
	cookies := j.Cookies(u)
	if len(cookies) == 0 {
		return ""
	}
	parts := make([]string, len(cookies))
	for i, c := range cookies {
		parts[i] = c.Name + "=" + c.Value
	}
	return strings.Join(parts, "; ")
}

// Set adds one host cookie for u's hostname.
func (j *CookieJar) Set(u *url.URL, name, value string) {
	j.SetCookies([]*Cookie{{
		Name:   name,
		Value:  value,
		Domain: strings.ToLower(u.Hostname()),
		Path:   "/",
	}})
}

// All returns a snapshot copy of every stored record.
func (j *CookieJar) All() []*Cookie {
	j.mu.RLock()
	defer j.mu.RUnlock()
	var out []*Cookie
	for _, cookies := range j.cookies {
		for _, c := range cookies {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].Domain != out[b].Domain {
			return out[a].Domain < out[b].Domain
		}
		if out[a].Path != out[b].Path {
			return out[a].Path < out[b].Path
		}
		return out[a].Name < out[b].Name
	})
	return out
}

// Clear empties the jar.
func (j *CookieJar) Clear() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.cookies = make(map[string][]*Cookie)
}

// Count reports the number of stored records.
func (j *CookieJar) Count() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	n := 0
	for _, cookies := range j.cookies {
		n += len(cookies)
	}
	return n
}

// ClearExpired drops records past their expiry.
func (j *CookieJar) ClearExpired() {
	j.mu.Lock()
	defer j.mu.Unlock()
	now := time.Now()
	for key, cookies := range j.cookies {
		kept := cookies[:0]
		for _, c := range cookies {
			if !c.Expired(now) {
				kept = append(kept, c)
			}
		}
		if len(kept) > 0 {
			j.cookies[key] = kept
		} else {
			delete(j.cookies, key)
		}
	}
}

func domainKey(domain string) string {
	return strings.TrimPrefix(strings.ToLower(domain), ".")
}

// matchingKeys lists the exact host plus every parent-domain key present in
// the jar, most specific first.
func (j *CookieJar) matchingKeys(host string) []string {
	var keys []string
	if _, ok := j.cookies[host]; ok {
		keys = append(keys, host)
	}
	labels := strings.Split(host, ".")
	for i := 1; i < len(labels); i++ {
		parent := strings.Join(labels[i:], ".")
		if _, ok := j.cookies[parent]; ok {
			keys = append(keys, parent)
		}
	}
	return keys
}
