// Package pool owns connection lifecycle: dialing with the profile's TLS
// fingerprint, ALPN dispatch, per-host reuse, and idle/age eviction.
// Connections are keyed so that two fingerprints never share a socket.
package pool

import (
	"bufio"
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	utls "github.com/refraction-networking/utls"
	"golang.org/x/net/http2"

	"github.com/keenanhx/guise/dns"
	"github.com/keenanhx/guise/fingerprint"
	"github.com/keenanhx/guise/keylog"
	"github.com/keenanhx/guise/profile"
	"github.com/keenanhx/guise/proxy"
)

var (
	ErrPoolClosed    = errors.New("connection pool is closed")
	ErrNoConnections = errors.New("no available connections")
)

// Negotiated protocols.
const (
	ProtoHTTP1 = "http/1.1"
	ProtoHTTP2 = "h2"
)

// DialError tags a connection failure with the phase it happened in so the
// caller can classify it without string matching.
type DialError struct {
	Phase string // "dns", "tcp", "tls", "proxy"
	Host  string
	Err   error
}

func (e *DialError) Error() string {
	return fmt.Sprintf("dial %s: %s phase: %v", e.Host, e.Phase, e.Err)
}

func (e *DialError) Unwrap() error { return e.Err }

// Conn is one pooled connection. HTTP/2 connections are shared by
// concurrent requests; HTTP/1.1 connections are checked out exclusively and
// released when the response body is drained.
type Conn struct {
	Host       string
	Scheme     string
	RemoteAddr net.Addr
	Raw        net.Conn
	TLS        *utls.UConn // nil for plaintext connections
	H2         *http2.ClientConn
	Proto      string
	CreatedAt  time.Time

	mu         sync.Mutex
	lastUsedAt time.Time
	useCount   int64
	inUse      bool
	closed     bool

	br *bufio.Reader
}

// Reader returns the connection's buffered reader, creating it on first use.
// HTTP/1.1 responses can leave buffered bytes behind, so the same reader
// must serve every request on the connection. Callers hold the connection
// exclusively while using it.
func (c *Conn) Reader() *bufio.Reader {
	if c.br == nil {
		c.br = bufio.NewReaderSize(c.Raw, 4096)
	}
	return c.br
}

// IsHealthy reports whether the connection can serve another request.
func (c *Conn) IsHealthy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	if c.H2 != nil {
		return c.H2.CanTakeNewRequest()
	}
	return true
}

func (c *Conn) Age() time.Duration {
	return time.Since(c.CreatedAt)
}

func (c *Conn) IdleTime() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Since(c.lastUsedAt)
}

func (c *Conn) MarkUsed() {
	c.mu.Lock()
	c.lastUsedAt = time.Now()
	c.useCount++
	c.mu.Unlock()
}

// tryAcquire takes exclusive ownership of an HTTP/1.1 connection. HTTP/2
// connections multiplex and always succeed.
func (c *Conn) tryAcquire() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	if c.H2 != nil {
		return true
	}
	if c.inUse {
		return false
	}
	c.inUse = true
	return true
}

// Release returns an exclusively held connection to its pool.
func (c *Conn) Release() {
	c.mu.Lock()
	c.inUse = false
	c.lastUsedAt = time.Now()
	c.mu.Unlock()
}

func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.Raw != nil {
		return c.Raw.Close()
	}
	return nil
}

// Options configures dialing and eviction for every pool under a manager.
type Options struct {
	ProxyURL           string
	ConnectTimeout     time.Duration
	MaxIdleTime        time.Duration
	MaxConnAge         time.Duration
	MaxConnsPerHost    int // 0 = unlimited
	InsecureSkipVerify bool
	RootCAs            *x509.CertPool
	ForceHTTP1         bool
	ForceHTTP2         bool
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.ConnectTimeout <= 0 {
		out.ConnectTimeout = 30 * time.Second
	}
	if out.MaxIdleTime <= 0 {
		out.MaxIdleTime = 90 * time.Second
	}
	if out.MaxConnAge <= 0 {
		out.MaxConnAge = 5 * time.Minute
	}
	return out
}

// HostPool holds the connections for one (scheme, host, port, fingerprint,
// proxy) key.
type HostPool struct {
	scheme string
	host   string
	port   string
	prof   *profile.Profile
	dns    *dns.Cache
	opts   Options

	proxyDialer  *proxy.Dialer
	sessionCache utls.ClientSessionCache
	headerOrder  []string

	mu    sync.Mutex
	conns []*Conn
}

// NewHostPool builds a pool for one origin. The proxy URL in opts is parsed
// eagerly so a bad URL fails at pool creation, not on first use.
func NewHostPool(scheme, host, port string, prof *profile.Profile, dnsCache *dns.Cache, opts Options) (*HostPool, error) {
	p := &HostPool{
		scheme:       scheme,
		host:         host,
		port:         port,
		prof:         prof,
		dns:          dnsCache,
		opts:         opts.withDefaults(),
		sessionCache: utls.NewLRUClientSessionCache(32),
		headerOrder:  headerOrderFor(prof),
	}
	if p.opts.ProxyURL != "" {
		d, err := proxy.NewDialer(p.opts.ProxyURL, p.opts.ConnectTimeout)
		if err != nil {
			return nil, err
		}
		p.proxyDialer = d
	}
	return p, nil
}

// headerOrderFor lists the profile's template names followed by headers a
// request can add beyond the template, so reordering stays deterministic.
func headerOrderFor(prof *profile.Profile) []string {
	seen := make(map[string]bool)
	var order []string
	for _, h := range prof.Headers {
		if !seen[h.Name] {
			order = append(order, h.Name)
			seen[h.Name] = true
		}
	}
	for _, name := range []string{
		"cache-control", "pragma", "authorization", "origin",
		"content-type", "content-length", "referer", "cookie",
	} {
		if !seen[name] {
			order = append(order, name)
			seen[name] = true
		}
	}
	return order
}

// GetConn returns a reusable connection or dials a new one. HTTP/1.1
// connections come back exclusively owned.
func (p *HostPool) GetConn(ctx context.Context) (*Conn, error) {
	p.mu.Lock()
	for i := len(p.conns) - 1; i >= 0; i-- {
		conn := p.conns[i]
		if conn.IsHealthy() && conn.IdleTime() < p.opts.MaxIdleTime && conn.Age() < p.opts.MaxConnAge && conn.tryAcquire() {
			// Most recently used first keeps warm connections warm.
			p.conns = append(p.conns[:i], p.conns[i+1:]...)
			p.conns = append(p.conns, conn)
			p.mu.Unlock()
			conn.MarkUsed()
			return conn, nil
		}
	}

	alive := p.conns[:0]
	for _, conn := range p.conns {
		if conn.IsHealthy() && conn.Age() < p.opts.MaxConnAge {
			alive = append(alive, conn)
		} else {
			go conn.Close()
		}
	}
	p.conns = alive

	if p.opts.MaxConnsPerHost > 0 && len(p.conns) >= p.opts.MaxConnsPerHost {
		p.mu.Unlock()
		return nil, ErrNoConnections
	}
	p.mu.Unlock()

	conn, err := p.dial(ctx)
	if err != nil {
		return nil, err
	}
	conn.tryAcquire()
	conn.MarkUsed()

	p.mu.Lock()
	p.conns = append(p.conns, conn)
	p.mu.Unlock()
	return conn, nil
}

// dial opens a raw connection, runs the profile's TLS handshake for https,
// and sets up HTTP/2 when ALPN lands on h2.
func (p *HostPool) dial(ctx context.Context) (*Conn, error) {
	raw, err := p.dialRaw(ctx)
	if err != nil {
		return nil, err
	}

	if p.scheme == "http" {
		// Plaintext stays on HTTP/1.1; there is no ALPN to negotiate.
		return &Conn{
			Host:       p.host,
			Scheme:     p.scheme,
			RemoteAddr: raw.RemoteAddr(),
			Raw:        raw,
			Proto:      ProtoHTTP1,
			CreatedAt:  time.Now(),
			lastUsedAt: time.Now(),
		}, nil
	}

	tlsConn, err := p.handshake(ctx, raw)
	if err != nil {
		raw.Close()
		return nil, &DialError{Phase: "tls", Host: p.host, Err: err}
	}

	proto := tlsConn.ConnectionState().NegotiatedProtocol
	if proto == "" {
		proto = ProtoHTTP1
	}

	conn := &Conn{
		Host:       p.host,
		Scheme:     p.scheme,
		RemoteAddr: raw.RemoteAddr(),
		Raw:        tlsConn,
		TLS:        tlsConn,
		Proto:      proto,
		CreatedAt:  time.Now(),
		lastUsedAt: time.Now(),
	}

	if proto == ProtoHTTP2 {
		fp := p.prof.HTTP2
		wrapped := newPreambleConn(tlsConn, fp, p.headerOrder)
		tr := &http2.Transport{
			MaxHeaderListSize:         settingOr(fp, http2.SettingMaxHeaderListSize, 262144),
			MaxReadFrameSize:          settingOr(fp, http2.SettingMaxFrameSize, 16384),
			MaxDecoderHeaderTableSize: settingOr(fp, http2.SettingHeaderTableSize, 4096),
			MaxEncoderHeaderTableSize: settingOr(fp, http2.SettingHeaderTableSize, 4096),
		}
		h2, err := tr.NewClientConn(wrapped)
		if err != nil {
			tlsConn.Close()
			return nil, &DialError{Phase: "tls", Host: p.host, Err: err}
		}
		conn.H2 = h2
	}

	return conn, nil
}

func settingOr(fp *profile.HTTP2Fingerprint, id http2.SettingID, def uint32) uint32 {
	if v, ok := fp.SettingValue(id); ok && v > 0 {
		return v
	}
	return def
}

func (p *HostPool) dialRaw(ctx context.Context) (net.Conn, error) {
	addr := net.JoinHostPort(p.host, p.port)

	if p.proxyDialer != nil {
		conn, err := p.proxyDialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, &DialError{Phase: "proxy", Host: p.host, Err: err}
		}
		return conn, nil
	}

	ips, err := p.dns.ResolveAllSorted(ctx, p.host)
	if err != nil {
		return nil, &DialError{Phase: "dns", Host: p.host, Err: err}
	}
	conn, err := p.dialSequential(ctx, ips)
	if err != nil {
		return nil, &DialError{Phase: "tcp", Host: p.host, Err: err}
	}
	return conn, nil
}

// dialSequential walks the interleaved v6/v4 list with a per-attempt
// timeout, returning the first connection that lands.
func (p *HostPool) dialSequential(ctx context.Context, ips []net.IP) (net.Conn, error) {
	if len(ips) == 0 {
		return nil, errors.New("no addresses to dial")
	}

	attemptTimeout := p.opts.ConnectTimeout / time.Duration(len(ips))
	if attemptTimeout < 2*time.Second {
		attemptTimeout = 2 * time.Second
	}
	if attemptTimeout > p.opts.ConnectTimeout {
		attemptTimeout = p.opts.ConnectTimeout
	}

	var lastErr error
	for _, ip := range ips {
		select {
		case <-ctx.Done():
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, ctx.Err()
		default:
		}
		dialer := &net.Dialer{Timeout: attemptTimeout}
		conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(ip.String(), p.port))
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// handshake runs the uTLS handshake with the profile's ClientHello layout.
// The spec is rebuilt per connection, so GREASE slots draw fresh values
// while everything else stays fixed.
func (p *HostPool) handshake(ctx context.Context, raw net.Conn) (*utls.UConn, error) {
	spec, err := fingerprint.SpecFor(p.prof)
	if err != nil {
		return nil, err
	}

	switch {
	case p.opts.ForceHTTP1:
		applyALPN(spec, []string{"http/1.1"}, true)
	case p.opts.ForceHTTP2:
		applyALPN(spec, []string{"h2"}, false)
	}

	cfg := &utls.Config{
		ServerName:         p.host,
		InsecureSkipVerify: p.opts.InsecureSkipVerify,
		RootCAs:            p.opts.RootCAs,
		MinVersion:         utls.VersionTLS12,
		ClientSessionCache: p.sessionCache,
		KeyLogWriter:       keylog.Writer(),
	}

	tlsConn := utls.UClient(raw, cfg, utls.HelloCustom)
	if err := tlsConn.ApplyPreset(spec); err != nil {
		return nil, err
	}
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return nil, err
	}
	return tlsConn, nil
}

// applyALPN narrows the offered protocols. ALPS extensions only make sense
// alongside h2, so they are dropped when h2 is excluded.
func applyALPN(spec *utls.ClientHelloSpec, protos []string, dropALPS bool) {
	out := spec.Extensions[:0]
	for _, ext := range spec.Extensions {
		switch e := ext.(type) {
		case *utls.ALPNExtension:
			e.AlpnProtocols = protos
		case *utls.ApplicationSettingsExtension:
			if dropALPS {
				continue
			}
		case *utls.ApplicationSettingsExtensionNew:
			if dropALPS {
				continue
			}
		}
		out = append(out, ext)
	}
	spec.Extensions = out
}

// evict closes connections that sat idle or grew too old.
func (p *HostPool) evict() {
	p.mu.Lock()
	defer p.mu.Unlock()
	alive := p.conns[:0]
	for _, conn := range p.conns {
		if conn.IsHealthy() && conn.IdleTime() < p.opts.MaxIdleTime && conn.Age() < p.opts.MaxConnAge {
			alive = append(alive, conn)
		} else {
			go conn.Close()
		}
	}
	p.conns = alive
}

// Close tears down every connection in the pool.
func (p *HostPool) Close() {
	p.mu.Lock()
	conns := p.conns
	p.conns = nil
	p.mu.Unlock()
	for _, conn := range conns {
		conn.Close()
	}
}

// Stats reports connection counts for observability.
func (p *HostPool) Stats() (total, healthy int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	total = len(p.conns)
	for _, conn := range p.conns {
		if conn.IsHealthy() {
			healthy++
		}
	}
	return total, healthy
}

// Manager routes requests to per-origin pools and runs background
// maintenance. All pools under a manager share one DNS cache and one
// fingerprint profile.
type Manager struct {
	mu     sync.Mutex
	pools  map[string]*HostPool
	prof   *profile.Profile
	opts   Options
	dns    *dns.Cache
	done   chan struct{}
	closed bool
}

// NewManager starts a manager with its cleanup loop running.
func NewManager(prof *profile.Profile, opts Options) *Manager {
	m := &Manager{
		pools: make(map[string]*HostPool),
		prof:  prof,
		opts:  opts.withDefaults(),
		dns:   dns.NewCache(),
		done:  make(chan struct{}),
	}
	go m.cleanupLoop()
	return m
}

func (m *Manager) poolKey(scheme, host, port string) string {
	return scheme + "|" + net.JoinHostPort(host, port) + "|" + m.prof.FingerprintID() + "|" + m.opts.ProxyURL
}

// GetConn hands out a connection for the origin, creating its pool on first
// use.
func (m *Manager) GetConn(ctx context.Context, scheme, host, port string) (*Conn, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrPoolClosed
	}
	key := m.poolKey(scheme, host, port)
	p, ok := m.pools[key]
	if !ok {
		var err error
		p, err = NewHostPool(scheme, host, port, m.prof, m.dns, m.opts)
		if err != nil {
			m.mu.Unlock()
			return nil, err
		}
		m.pools[key] = p
	}
	m.mu.Unlock()
	return p.GetConn(ctx)
}

// Profile returns the wire identity this manager dials with.
func (m *Manager) Profile() *profile.Profile {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.prof
}

// SetProxy swaps the proxy for future connections. Existing pools were
// dialed through the old route and are discarded.
func (m *Manager) SetProxy(proxyURL string) error {
	if proxyURL != "" {
		if _, err := proxy.Parse(proxyURL); err != nil {
			return err
		}
	}
	m.mu.Lock()
	old := m.pools
	m.pools = make(map[string]*HostPool)
	m.opts.ProxyURL = proxyURL
	m.mu.Unlock()
	for _, p := range old {
		p.Close()
	}
	return nil
}

// HeaderOrder returns the header emission order for the manager's profile.
// HTTP/1.1 request writing uses it directly; HTTP/2 ordering happens in the
// frame rewrite.
func (m *Manager) HeaderOrder() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return headerOrderFor(m.prof)
}

// DNSCache exposes the shared resolver cache.
func (m *Manager) DNSCache() *dns.Cache {
	return m.dns
}

func (m *Manager) cleanupLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.mu.Lock()
			pools := make([]*HostPool, 0, len(m.pools))
			for _, p := range m.pools {
				pools = append(pools, p)
			}
			m.mu.Unlock()
			for _, p := range pools {
				p.evict()
			}
			m.dns.Cleanup()
		case <-m.done:
			return
		}
	}
}

// Close shuts down every pool and stops maintenance.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	close(m.done)
	pools := m.pools
	m.pools = make(map[string]*HostPool)
	m.mu.Unlock()
	for _, p := range pools {
		p.Close()
	}
}

// Stats reports per-pool connection counts keyed by origin.
func (m *Manager) Stats() map[string][2]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string][2]int, len(m.pools))
	for key, p := range m.pools {
		total, healthy := p.Stats()
		out[key] = [2]int{total, healthy}
	}
	return out
}
