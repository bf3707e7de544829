// Package proxy dials TCP connections through HTTP CONNECT and SOCKS5
// proxies. The returned connections are plain tunnels; TLS to the target is
// layered on top by the caller.
package proxy

import (
	"bufio"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"
)

// EnvVar is consulted when no proxy is configured explicitly.
const EnvVar = "GUISE_PROXY"

// Config is a parsed proxy target.
type Config struct {
	Scheme   string
	Host     string
	Port     string
	Username string
	Password string
}

// Addr returns the proxy endpoint as host:port.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, c.Port)
}

// Parse validates a proxy URL. A bare host:port is treated as an HTTP
// proxy. Supported schemes are http, https, socks5 and socks5h.
func Parse(rawURL string) (*Config, error) {
	if rawURL == "" {
		return nil, errors.New("empty proxy URL")
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		u, err = url.Parse("http://" + rawURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL %q: %w", rawURL, err)
		}
	}

	switch u.Scheme {
	case "http", "https", "socks5", "socks5h":
	default:
		return nil, fmt.Errorf("unsupported proxy scheme %q", u.Scheme)
	}

	port := u.Port()
	if port == "" {
		switch u.Scheme {
		case "http":
			port = "80"
		case "https":
			port = "443"
		default:
			port = "1080"
		}
	}

	cfg := &Config{Scheme: u.Scheme, Host: u.Hostname(), Port: port}
	if u.User != nil {
		cfg.Username = u.User.Username()
		cfg.Password, _ = u.User.Password()
	}
	return cfg, nil
}

// FromEnv returns the proxy URL from GUISE_PROXY or the conventional
// HTTPS_PROXY/HTTP_PROXY/ALL_PROXY variables, or empty when none is set.
func FromEnv() string {
	for _, name := range []string{EnvVar, "HTTPS_PROXY", "https_proxy", "HTTP_PROXY", "http_proxy", "ALL_PROXY", "all_proxy"} {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return ""
}

// Dialer opens tunnels through a single proxy.
type Dialer struct {
	cfg     *Config
	timeout time.Duration
}

// NewDialer builds a dialer from a proxy URL.
func NewDialer(rawURL string, timeout time.Duration) (*Dialer, error) {
	cfg, err := Parse(rawURL)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Dialer{cfg: cfg, timeout: timeout}, nil
}

// DialContext opens a tunnel to addr through the proxy. The network must be
// "tcp"; SOCKS5 UDP association is not supported.
func (d *Dialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	if network != "tcp" {
		return nil, fmt.Errorf("proxy: unsupported network %q", network)
	}
	switch d.cfg.Scheme {
	case "http", "https":
		return d.dialConnect(ctx, addr)
	default:
		return d.dialSOCKS5(ctx, addr)
	}
}

// dialConnect opens an HTTP CONNECT tunnel.
func (d *Dialer) dialConnect(ctx context.Context, addr string) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: d.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", d.cfg.Addr())
	if err != nil {
		return nil, fmt.Errorf("proxy: connect to %s: %w", d.cfg.Addr(), err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
		defer conn.SetDeadline(time.Time{})
	}

	req := fmt.Sprintf("CONNECT %s HTTP/1.1\r\nHost: %s\r\n", addr, addr)
	if d.cfg.Username != "" {
		cred := base64.StdEncoding.EncodeToString([]byte(d.cfg.Username + ":" + d.cfg.Password))
		req += "Proxy-Authorization: Basic " + cred + "\r\n"
	}
	req += "\r\n"

	if _, err := conn.Write([]byte(req)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("proxy: send CONNECT: %w", err)
	}

	br := bufio.NewReader(conn)
	resp, err := http.ReadResponse(br, &http.Request{Method: http.MethodConnect})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("proxy: read CONNECT response: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		conn.Close()
		return nil, fmt.Errorf("proxy: CONNECT refused: %s", resp.Status)
	}
	if br.Buffered() > 0 {
		// A proxy that pipelines data after the 200 would desync TLS.
		conn.Close()
		return nil, errors.New("proxy: unexpected data after CONNECT response")
	}
	return conn, nil
}

// SOCKS5 protocol constants (RFC 1928, RFC 1929).
const (
	socksVersion = 0x05

	authNone     = 0x00
	authPassword = 0x02
	authNoAccept = 0xff

	cmdConnect = 0x01

	atypIPv4   = 0x01
	atypDomain = 0x03
	atypIPv6   = 0x04
)

func (d *Dialer) dialSOCKS5(ctx context.Context, addr string) (net.Conn, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("proxy: invalid target %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return nil, fmt.Errorf("proxy: invalid target port %q", portStr)
	}

	dialer := &net.Dialer{Timeout: d.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", d.cfg.Addr())
	if err != nil {
		return nil, fmt.Errorf("proxy: connect to %s: %w", d.cfg.Addr(), err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
		defer conn.SetDeadline(time.Time{})
	}

	if err := d.socksGreet(conn); err != nil {
		conn.Close()
		return nil, err
	}
	if err := socksConnect(conn, host, uint16(port)); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func (d *Dialer) socksGreet(conn net.Conn) error {
	greeting := []byte{socksVersion, 1, authNone}
	if d.cfg.Username != "" {
		greeting = []byte{socksVersion, 2, authNone, authPassword}
	}
	if _, err := conn.Write(greeting); err != nil {
		return fmt.Errorf("proxy: socks greeting: %w", err)
	}

	resp := make([]byte, 2)
	if _, err := io.ReadFull(conn, resp); err != nil {
		return fmt.Errorf("proxy: socks greeting response: %w", err)
	}
	if resp[0] != socksVersion {
		return fmt.Errorf("proxy: socks version %d in response", resp[0])
	}

	switch resp[1] {
	case authNone:
		return nil
	case authPassword:
		return d.socksAuth(conn)
	case authNoAccept:
		return errors.New("proxy: no acceptable socks auth method")
	default:
		return fmt.Errorf("proxy: unsupported socks auth method %d", resp[1])
	}
}

func (d *Dialer) socksAuth(conn net.Conn) error {
	if d.cfg.Username == "" {
		return errors.New("proxy: socks server requires credentials")
	}
	req := make([]byte, 0, 3+len(d.cfg.Username)+len(d.cfg.Password))
	req = append(req, 0x01, byte(len(d.cfg.Username)))
	req = append(req, d.cfg.Username...)
	req = append(req, byte(len(d.cfg.Password)))
	req = append(req, d.cfg.Password...)
	if _, err := conn.Write(req); err != nil {
		return fmt.Errorf("proxy: socks auth: %w", err)
	}

	resp := make([]byte, 2)
	if _, err := io.ReadFull(conn, resp); err != nil {
		return fmt.Errorf("proxy: socks auth response: %w", err)
	}
	if resp[1] != 0x00 {
		return errors.New("proxy: socks credentials rejected")
	}
	return nil
}

func socksConnect(conn net.Conn, host string, port uint16) error {
	req := []byte{socksVersion, cmdConnect, 0x00}
	if ip := net.ParseIP(host); ip != nil {
		if ip4 := ip.To4(); ip4 != nil {
			req = append(req, atypIPv4)
			req = append(req, ip4...)
		} else {
			req = append(req, atypIPv6)
			req = append(req, ip.To16()...)
		}
	} else {
		if len(host) > 255 {
			return errors.New("proxy: hostname too long for socks")
		}
		req = append(req, atypDomain, byte(len(host)))
		req = append(req, host...)
	}
	req = append(req, byte(port>>8), byte(port))

	if _, err := conn.Write(req); err != nil {
		return fmt.Errorf("proxy: socks connect: %w", err)
	}

	header := make([]byte, 4)
	if _, err := io.ReadFull(conn, header); err != nil {
		return fmt.Errorf("proxy: socks connect response: %w", err)
	}
	if header[1] != 0x00 {
		return fmt.Errorf("proxy: socks connect refused: %s", socksReplyString(header[1]))
	}

	// The bound address in the reply is not needed for a CONNECT tunnel.
	var skip int
	switch header[3] {
	case atypIPv4:
		skip = 4 + 2
	case atypIPv6:
		skip = 16 + 2
	case atypDomain:
		lenByte := make([]byte, 1)
		if _, err := io.ReadFull(conn, lenByte); err != nil {
			return fmt.Errorf("proxy: socks bound address: %w", err)
		}
		skip = int(lenByte[0]) + 2
	default:
		return fmt.Errorf("proxy: socks address type %d in reply", header[3])
	}
	if _, err := io.ReadFull(conn, make([]byte, skip)); err != nil {
		return fmt.Errorf("proxy: socks bound address: %w", err)
	}
	return nil
}

func socksReplyString(code byte) string {
	switch code {
	case 0x01:
		return "general failure"
	case 0x02:
		return "connection not allowed"
	case 0x03:
		return "network unreachable"
	case 0x04:
		return "host unreachable"
	case 0x05:
		return "connection refused"
	case 0x06:
		return "TTL expired"
	case 0x07:
		return "command not supported"
	case 0x08:
		return "address type not supported"
	default:
		return fmt.Sprintf("reply code %d", code)
	}
}

