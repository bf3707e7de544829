package transport

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/keenanhx/guise/pool"
)

// Error categories. Callers match with errors.Is instead of inspecting
// message text.
var (
	ErrDNS      = errors.New("dns resolution failed")
	ErrConnect  = errors.New("connection failed")
	ErrTLS      = errors.New("tls handshake failed")
	ErrProxy    = errors.New("proxy error")
	ErrTimeout  = errors.New("timeout")
	ErrRead     = errors.New("read failed")
	ErrWrite    = errors.New("write failed")
	ErrClosed   = errors.New("transport closed")
	ErrProtocol = errors.New("protocol error")
)

// TransportError wraps a failure with the operation that produced it and a
// category usable with errors.Is.
type TransportError struct {
	Op       string
	Host     string
	Proto    string
	Category error
	Cause    error
}

func (e *TransportError) Error() string {
	if e.Host != "" {
		return fmt.Sprintf("%s %s (%s): %v", e.Op, e.Host, e.Proto, e.Cause)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Cause)
}

func (e *TransportError) Unwrap() error { return e.Cause }

func (e *TransportError) Is(target error) bool {
	return target == e.Category
}

// classifyDial maps a pool dial failure to a category using the phase tag
// the pool attached.
func classifyDial(host, proto string, err error) *TransportError {
	te := &TransportError{Op: "dial", Host: host, Proto: proto, Cause: err}

	var de *pool.DialError
	if errors.As(err, &de) {
		switch de.Phase {
		case "dns":
			te.Category = ErrDNS
		case "tls":
			te.Category = ErrTLS
		case "proxy":
			te.Category = ErrProxy
		default:
			te.Category = ErrConnect
		}
		if isTimeout(de.Err) && te.Category != ErrProxy {
			te.Category = ErrTimeout
		}
		return te
	}

	if errors.Is(err, pool.ErrPoolClosed) {
		te.Category = ErrClosed
		return te
	}
	if isTimeout(err) {
		te.Category = ErrTimeout
		return te
	}
	te.Category = ErrConnect
	return te
}

func classifyRead(host, proto string, err error) *TransportError {
	te := &TransportError{Op: "read", Host: host, Proto: proto, Cause: err}
	if isTimeout(err) {
		te.Category = ErrTimeout
	} else {
		te.Category = ErrRead
	}
	return te
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
