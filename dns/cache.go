// Package dns caches hostname lookups with record-honoring TTLs so repeated
// requests to the same host skip the resolver.
package dns

import (
	"context"
	"net"
	"sync"
	"time"

	mdns "github.com/miekg/dns"
)

const (
	defaultTTL = 5 * time.Minute
	minTTL     = 30 * time.Second
	maxTTL     = time.Hour
)

type entry struct {
	ips       []net.IP
	expiresAt time.Time
}

func (e *entry) expired() bool {
	return time.Now().After(e.expiresAt)
}

// Cache resolves hostnames and keeps the answers until their TTL runs out.
// Lookups go through the system's configured nameservers directly so the
// real record TTL is visible; when that fails the cache falls back to the
// stdlib resolver with a fixed TTL.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*entry

	client   *mdns.Client
	servers  []string
	fallback *net.Resolver
}

// NewCache reads the system resolver configuration. A host with no usable
// resolv.conf still works through the fallback path.
func NewCache() *Cache {
	c := &Cache{
		entries:  make(map[string]*entry),
		client:   &mdns.Client{Timeout: 5 * time.Second},
		fallback: net.DefaultResolver,
	}
	if conf, err := mdns.ClientConfigFromFile("/etc/resolv.conf"); err == nil {
		for _, s := range conf.Servers {
			c.servers = append(c.servers, net.JoinHostPort(s, conf.Port))
		}
	}
	return c
}

// Resolve returns the addresses for host, cached when possible. A stale
// entry is served if the fresh lookup fails.
func (c *Cache) Resolve(ctx context.Context, host string) ([]net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		return []net.IP{ip}, nil
	}

	c.mu.RLock()
	e, ok := c.entries[host]
	c.mu.RUnlock()
	if ok && !e.expired() {
		return e.ips, nil
	}

	ips, ttl, err := c.lookup(ctx, host)
	if err != nil {
		if ok {
			return e.ips, nil
		}
		return nil, err
	}

	c.mu.Lock()
	c.entries[host] = &entry{ips: ips, expiresAt: time.Now().Add(ttl)}
	c.mu.Unlock()
	return ips, nil
}

func (c *Cache) lookup(ctx context.Context, host string) ([]net.IP, time.Duration, error) {
	if len(c.servers) > 0 {
		if ips, ttl, err := c.query(ctx, host); err == nil && len(ips) > 0 {
			return ips, ttl, nil
		}
	}
	addrs, err := c.fallback.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, 0, err
	}
	ips := make([]net.IP, len(addrs))
	for i, a := range addrs {
		ips[i] = a.IP
	}
	return ips, defaultTTL, nil
}

// query asks the configured nameservers for A and AAAA records and keeps
// the smallest TTL seen across the answers.
func (c *Cache) query(ctx context.Context, host string) ([]net.IP, time.Duration, error) {
	fqdn := mdns.Fqdn(host)
	var ips []net.IP
	ttl := maxTTL

	for _, qtype := range []uint16{mdns.TypeAAAA, mdns.TypeA} {
		msg := new(mdns.Msg)
		msg.SetQuestion(fqdn, qtype)
		msg.RecursionDesired = true

		var resp *mdns.Msg
		var err error
		for _, server := range c.servers {
			resp, _, err = c.client.ExchangeContext(ctx, msg, server)
			if err == nil && resp != nil && resp.Rcode == mdns.RcodeSuccess {
				break
			}
		}
		if err != nil || resp == nil {
			continue
		}
		for _, rr := range resp.Answer {
			switch rec := rr.(type) {
			case *mdns.AAAA:
				ips = append(ips, rec.AAAA)
			case *mdns.A:
				ips = append(ips, rec.A)
			default:
				continue
			}
			if t := time.Duration(rr.Header().Ttl) * time.Second; t < ttl {
				ttl = t
			}
		}
	}

	if len(ips) == 0 {
		return nil, 0, &net.DNSError{Err: "no addresses found", Name: host}
	}
	if ttl < minTTL {
		ttl = minTTL
	}
	return ips, ttl, nil
}

// ResolveOne returns a single address, preferring IPv6 like modern browsers.
func (c *Cache) ResolveOne(ctx context.Context, host string) (net.IP, error) {
	ips, err := c.Resolve(ctx, host)
	if err != nil {
		return nil, err
	}
	if len(ips) == 0 {
		return nil, &net.DNSError{Err: "no addresses found", Name: host}
	}
	for _, ip := range ips {
		if ip.To4() == nil {
			return ip, nil
		}
	}
	return ips[0], nil
}

// ResolveAllSorted interleaves IPv6 and IPv4 answers for Happy Eyeballs
// dialing (RFC 8305).
func (c *Cache) ResolveAllSorted(ctx context.Context, host string) ([]net.IP, error) {
	ips, err := c.Resolve(ctx, host)
	if err != nil {
		return nil, err
	}
	if len(ips) == 0 {
		return nil, &net.DNSError{Err: "no addresses found", Name: host}
	}

	var v4, v6 []net.IP
	for _, ip := range ips {
		if ip.To4() != nil {
			v4 = append(v4, ip)
		} else {
			v6 = append(v6, ip)
		}
	}

	out := make([]net.IP, 0, len(ips))
	for i, j := 0, 0; i < len(v6) || j < len(v4); {
		if i < len(v6) {
			out = append(out, v6[i])
			i++
		}
		if j < len(v4) {
			out = append(out, v4[j])
			j++
		}
	}
	return out, nil
}

// Invalidate drops one hostname from the cache.
func (c *Cache) Invalidate(host string) {
	c.mu.Lock()
	delete(c.entries, host)
	c.mu.Unlock()
}

// Clear drops every cached entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]*entry)
	c.mu.Unlock()
}

// Cleanup removes expired entries. The pool calls this from its maintenance
// loop.
func (c *Cache) Cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for host, e := range c.entries {
		if e.expired() {
			delete(c.entries, host)
		}
	}
}
