package transport

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/keenanhx/guise/pool"
	"github.com/keenanhx/guise/profile"
)

func testManager(t *testing.T) *pool.Manager {
	t.Helper()
	prof, err := profile.Resolve("chrome_131", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	m := pool.NewManager(prof, pool.Options{})
	t.Cleanup(m.Close)
	return m
}

func TestWriteRequestHeaderOrder(t *testing.T) {
	body := strings.NewReader("a=1")
	req, err := http.NewRequest("POST", "http://example.com/submit?q=2", body)
	if err != nil {
		t.Fatal(err)
	}
	req.ContentLength = 3
	req.Header.Set("Cookie", "sid=abc")
	req.Header.Set("User-Agent", "test-agent")
	req.Header.Set("Accept", "*/*")
	req.Header.Set("X-Custom", "1")

	var buf bytes.Buffer
	bw := bufio.NewWriter(&buf)
	order := []string{"user-agent", "accept", "cookie"}
	if err := writeRequest(bw, req, order); err != nil {
		t.Fatal(err)
	}

	out := buf.String()
	lines := strings.Split(out, "\r\n")
	if lines[0] != "POST /submit?q=2 HTTP/1.1" {
		t.Errorf("request line = %q", lines[0])
	}
	if lines[1] != "Host: example.com" {
		t.Errorf("second line = %q", lines[1])
	}

	idx := func(name string) int {
		for i, l := range lines {
			if strings.HasPrefix(l, name+":") {
				return i
			}
		}
		return -1
	}
	ua, accept, cookie := idx("User-Agent"), idx("Accept"), idx("Cookie")
	if ua < 0 || accept < 0 || cookie < 0 {
		t.Fatalf("headers missing in output:\n%s", out)
	}
	if !(ua < accept && accept < cookie) {
		t.Errorf("header order wrong: ua=%d accept=%d cookie=%d", ua, accept, cookie)
	}
	if idx("X-Custom") < cookie {
		t.Error("unordered header emitted before ordered ones")
	}
	if idx("Content-Length") < 0 {
		t.Error("Content-Length missing")
	}
	if !strings.HasSuffix(out, "\r\n\r\na=1") {
		t.Errorf("body not appended: %q", out)
	}
}

func TestWriteRequestEmptyPost(t *testing.T) {
	req, err := http.NewRequest("POST", "http://example.com/", nil)
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	bw := bufio.NewWriter(&buf)
	if err := writeRequest(bw, req, nil); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "Content-Length: 0\r\n") {
		t.Error("empty POST should carry Content-Length: 0")
	}
}

func TestShouldKeepAlive(t *testing.T) {
	tests := []struct {
		name     string
		reqConn  string
		respConn string
		minor    int
		want     bool
	}{
		{"http11 default", "", "", 1, true},
		{"response close", "", "close", 1, false},
		{"request close", "close", "", 1, false},
		{"http10 no header", "", "", 0, false},
		{"http10 keepalive", "", "keep-alive", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := &http.Request{Header: http.Header{}}
			if tt.reqConn != "" {
				req.Header.Set("Connection", tt.reqConn)
			}
			resp := &http.Response{ProtoMajor: 1, ProtoMinor: tt.minor, Header: http.Header{}}
			if tt.respConn != "" {
				resp.Header.Set("Connection", tt.respConn)
			}
			if got := shouldKeepAlive(req, resp); got != tt.want {
				t.Errorf("shouldKeepAlive = %v, want %v", got, tt.want)
			}
		})
	}
}

// fakeServer answers fixed HTTP/1.1 responses on a local listener and counts
// accepted connections.
func fakeServer(t *testing.T, body string) (addr string, accepts *int32) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })

	var count int32
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			atomic.AddInt32(&count, 1)
			go func(c net.Conn) {
				defer c.Close()
				br := bufio.NewReader(c)
				for {
					req, err := http.ReadRequest(br)
					if err != nil {
						return
					}
					io.Copy(io.Discard, req.Body)
					fmt.Fprintf(c, "HTTP/1.1 200 OK\r\nContent-Length: %d\r\nContent-Type: text/plain\r\n\r\n%s", len(body), body)
				}
			}(conn)
		}
	}()
	return ln.Addr().String(), &count
}

func TestRoundTripPlaintext(t *testing.T) {
	addr, _ := fakeServer(t, "hello")
	tr := New(testManager(t), 5*time.Second)

	req, err := http.NewRequest("GET", "http://"+addr+"/", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := tr.RoundTrip(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Errorf("status = %d", resp.StatusCode)
	}
	got, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello" {
		t.Errorf("body = %q", got)
	}
}

func TestRoundTripReusesConnection(t *testing.T) {
	addr, accepts := fakeServer(t, "ok")
	tr := New(testManager(t), 5*time.Second)

	for i := 0; i < 3; i++ {
		req, err := http.NewRequest("GET", "http://"+addr+"/", nil)
		if err != nil {
			t.Fatal(err)
		}
		resp, err := tr.RoundTrip(req)
		if err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
		if _, err := io.ReadAll(resp.Body); err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
	}

	if n := atomic.LoadInt32(accepts); n != 1 {
		t.Errorf("server accepted %d connections, want 1", n)
	}
}

func TestRoundTripRejectsScheme(t *testing.T) {
	tr := New(testManager(t), 0)
	req := &http.Request{
		Method: "GET",
		URL:    &url.URL{Scheme: "ftp", Host: "example.com"},
		Header: http.Header{},
	}
	req = req.WithContext(context.Background())
	_, err := tr.RoundTrip(req)
	if !errors.Is(err, ErrProtocol) {
		t.Errorf("err = %v, want ErrProtocol", err)
	}
}

func TestClassifyDial(t *testing.T) {
	tests := []struct {
		phase string
		want  error
	}{
		{"dns", ErrDNS},
		{"tcp", ErrConnect},
		{"tls", ErrTLS},
		{"proxy", ErrProxy},
	}
	for _, tt := range tests {
		t.Run(tt.phase, func(t *testing.T) {
			err := classifyDial("example.com", "", &pool.DialError{
				Phase: tt.phase,
				Host:  "example.com",
				Err:   errors.New("boom"),
			})
			if !errors.Is(err, tt.want) {
				t.Errorf("category = %v, want %v", err.Category, tt.want)
			}
		})
	}

	timeoutErr := classifyDial("example.com", "", &pool.DialError{
		Phase: "tcp",
		Host:  "example.com",
		Err:   context.DeadlineExceeded,
	})
	if !errors.Is(timeoutErr, ErrTimeout) {
		t.Errorf("deadline exceeded classified as %v", timeoutErr.Category)
	}
}
