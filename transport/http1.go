package transport

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"net/textproto"
	"strings"

	"github.com/keenanhx/guise/pool"
)

func newWriter(conn *pool.Conn) *bufio.Writer {
	return bufio.NewWriterSize(conn.Raw, 4096)
}

// writeRequest writes an HTTP/1.1 request with the profile's header order.
// Header names go on the wire in canonical case, the way browsers send them
// over HTTP/1.1.
func writeRequest(bw *bufio.Writer, req *http.Request, order []string) error {
	uri := req.URL.RequestURI()
	if uri == "" {
		uri = "/"
	}
	fmt.Fprintf(bw, "%s %s HTTP/1.1\r\n", req.Method, uri)

	host := req.Host
	if host == "" {
		host = req.URL.Host
	}
	fmt.Fprintf(bw, "Host: %s\r\n", host)

	chunked := req.Body != nil && req.ContentLength < 0

	written := make(map[string]bool)
	writeField := func(canonical string) {
		if written[canonical] {
			return
		}
		for _, v := range req.Header[canonical] {
			fmt.Fprintf(bw, "%s: %s\r\n", canonical, v)
		}
		written[canonical] = true
	}

	for _, name := range order {
		canonical := textproto.CanonicalMIMEHeaderKey(name)
		switch canonical {
		case "Host", "Content-Length", "Transfer-Encoding", "Connection":
			continue
		}
		if _, ok := req.Header[canonical]; ok {
			writeField(canonical)
		}
	}
	for canonical := range req.Header {
		switch canonical {
		case "Host", "Content-Length", "Transfer-Encoding", "Connection":
			continue
		}
		writeField(canonical)
	}

	if chunked {
		fmt.Fprintf(bw, "Transfer-Encoding: chunked\r\n")
	} else if req.Body != nil || bodyExpected(req.Method) {
		fmt.Fprintf(bw, "Content-Length: %d\r\n", req.ContentLength)
	}

	connection := req.Header.Get("Connection")
	if connection == "" {
		connection = "keep-alive"
	}
	fmt.Fprintf(bw, "Connection: %s\r\n", connection)
	bw.WriteString("\r\n")

	if req.Body != nil {
		defer req.Body.Close()
		if chunked {
			cw := httputil.NewChunkedWriter(bw)
			if _, err := io.Copy(cw, req.Body); err != nil {
				return err
			}
			if err := cw.Close(); err != nil {
				return err
			}
			bw.WriteString("\r\n")
		} else if _, err := io.Copy(bw, req.Body); err != nil {
			return err
		}
	}

	return bw.Flush()
}

// bodyExpected reports whether the method conventionally carries a body, so
// an empty POST still sends Content-Length: 0.
func bodyExpected(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	}
	return false
}

// shouldKeepAlive decides whether the connection survives this exchange.
func shouldKeepAlive(req *http.Request, resp *http.Response) bool {
	if strings.EqualFold(resp.Header.Get("Connection"), "close") {
		return false
	}
	if strings.EqualFold(req.Header.Get("Connection"), "close") {
		return false
	}
	if resp.ProtoMajor == 1 && resp.ProtoMinor >= 1 {
		return true
	}
	return strings.EqualFold(resp.Header.Get("Connection"), "keep-alive")
}

// h1Body hands the connection back to its pool once the body is drained. A
// Close before EOF tries to drain a bounded remainder; past that the
// connection is not safely reusable and gets closed.
type h1Body struct {
	rc        io.ReadCloser
	conn      *pool.Conn
	keepAlive bool
	finished  bool
}

const drainLimit = 256 << 10

func (b *h1Body) Read(p []byte) (int, error) {
	if b.finished {
		return 0, io.EOF
	}
	n, err := b.rc.Read(p)
	if err == io.EOF {
		b.finish(true)
	} else if err != nil {
		b.finish(false)
	}
	return n, err
}

func (b *h1Body) Close() error {
	if b.finished {
		return nil
	}
	drained, _ := io.CopyN(io.Discard, b.rc, drainLimit+1)
	b.finish(drained <= drainLimit)
	return nil
}

func (b *h1Body) finish(reusable bool) {
	if b.finished {
		return
	}
	b.finished = true
	b.rc.Close()
	b.conn.Raw.SetDeadline(noDeadline)
	if reusable && b.keepAlive {
		b.conn.Release()
	} else {
		b.conn.Close()
	}
}
