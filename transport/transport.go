// Package transport executes requests over pooled connections. HTTP/1.1 is
// written by hand so header order follows the profile; HTTP/2 goes through
// the pooled ClientConn, whose frames were already rewritten at dial time.
package transport

import (
	"net/http"
	"time"

	"github.com/keenanhx/guise/pool"
)

var noDeadline time.Time

// Transport dispatches requests by the connection's negotiated protocol.
type Transport struct {
	mgr         *pool.Manager
	headerOrder []string
	readTimeout time.Duration
}

// New wraps a pool manager. readTimeout bounds the wait for response bytes
// on a connection; zero means the request context is the only limit.
func New(mgr *pool.Manager, readTimeout time.Duration) *Transport {
	return &Transport{
		mgr:         mgr,
		headerOrder: mgr.HeaderOrder(),
		readTimeout: readTimeout,
	}
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	scheme := req.URL.Scheme
	host := req.URL.Hostname()
	port := req.URL.Port()

	switch scheme {
	case "http", "https":
	default:
		return nil, &TransportError{
			Op:       "roundtrip",
			Host:     host,
			Category: ErrProtocol,
			Cause:    errUnsupportedScheme(scheme),
		}
	}
	if port == "" {
		if scheme == "https" {
			port = "443"
		} else {
			port = "80"
		}
	}

	conn, err := t.mgr.GetConn(req.Context(), scheme, host, port)
	if err != nil {
		return nil, classifyDial(host, "", err)
	}

	if conn.Proto == pool.ProtoHTTP2 {
		return t.roundTripH2(conn, req)
	}
	return t.roundTripH1(conn, req)
}

func (t *Transport) roundTripH2(conn *pool.Conn, req *http.Request) (*http.Response, error) {
	resp, err := conn.H2.RoundTrip(req)
	if err != nil {
		conn.Close()
		return nil, classifyRead(conn.Host, pool.ProtoHTTP2, err)
	}
	return resp, nil
}

func (t *Transport) roundTripH1(conn *pool.Conn, req *http.Request) (*http.Response, error) {
	deadline := t.deadlineFor(req)
	if !deadline.IsZero() {
		conn.Raw.SetDeadline(deadline)
	}

	bw := newWriter(conn)
	if err := writeRequest(bw, req, t.headerOrder); err != nil {
		conn.Close()
		return nil, &TransportError{
			Op:       "write",
			Host:     conn.Host,
			Proto:    pool.ProtoHTTP1,
			Category: ErrWrite,
			Cause:    err,
		}
	}

	resp, err := http.ReadResponse(conn.Reader(), req)
	if err != nil {
		conn.Close()
		return nil, classifyRead(conn.Host, pool.ProtoHTTP1, err)
	}

	body := &h1Body{
		rc:        resp.Body,
		conn:      conn,
		keepAlive: shouldKeepAlive(req, resp),
	}
	if resp.ContentLength == 0 && !resp.Close && req.Method != http.MethodHead {
		// Nothing to drain. Hand the connection back now so a caller that
		// never touches the body does not pin it.
		body.finish(body.keepAlive)
	}
	resp.Body = body
	return resp, nil
}

// deadlineFor picks the sooner of the request context deadline and the
// transport read timeout.
func (t *Transport) deadlineFor(req *http.Request) time.Time {
	var deadline time.Time
	if d, ok := req.Context().Deadline(); ok {
		deadline = d
	}
	if t.readTimeout > 0 {
		d := time.Now().Add(t.readTimeout)
		if deadline.IsZero() || d.Before(deadline) {
			deadline = d
		}
	}
	return deadline
}

// Close shuts down the underlying pools.
func (t *Transport) Close() {
	t.mgr.Close()
}

type errUnsupportedScheme string

func (e errUnsupportedScheme) Error() string {
	return "unsupported scheme \"" + string(e) + "\""
}
