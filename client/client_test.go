package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(t *testing.T, opts ...Option) *Client {
	t.Helper()
	c, err := New(opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestGetBuffered(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "hello from server")
	}))
	defer srv.Close()

	c := newTestClient(t)
	resp, err := c.Get(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer resp.Close()

	body, err := resp.Content()
	if err != nil {
		t.Fatalf("Content: %v", err)
	}
	if string(body) != "hello from server" {
		t.Fatalf("body = %q", body)
	}
	if !resp.StatusOK() {
		t.Fatalf("StatusCode = %d", resp.StatusCode)
	}
}

func TestRedirectChain(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/a", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/b", http.StatusFound)
	})
	mux.HandleFunc("/b", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/c", http.StatusFound)
	})
	mux.HandleFunc("/c", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "final")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestClient(t)
	resp, err := c.Get(context.Background(), srv.URL+"/a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer resp.Close()

	if !strings.HasSuffix(resp.URL, "/c") {
		t.Fatalf("final URL = %q, want /c", resp.URL)
	}
	body, _ := resp.Content()
	if string(body) != "final" {
		t.Fatalf("body = %q", body)
	}
}

func TestTooManyRedirects(t *testing.T) {
	var hops int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hops, 1)
		http.Redirect(w, r, "/loop", http.StatusFound)
	}))
	defer srv.Close()

	c := newTestClient(t, WithMaxRedirects(3))
	_, err := c.Get(context.Background(), srv.URL)
	var ce *Error
	if !errors.As(err, &ce) || ce.Kind != KindTooManyRedirects {
		t.Fatalf("err = %v, want kind %s", err, KindTooManyRedirects)
	}
	if ce.Response == nil {
		t.Fatal("redirect error must carry the last response")
	}
	ce.Response.Close()
	// Initial request plus exactly MaxRedirects follows.
	if n := atomic.LoadInt32(&hops); n != 4 {
		t.Fatalf("server saw %d requests, want 4", n)
	}
}

func TestRedirectsDisabled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/next", http.StatusMovedPermanently)
	}))
	defer srv.Close()

	c := newTestClient(t, WithoutRedirects())
	resp, err := c.Get(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer resp.Close()
	if resp.StatusCode != http.StatusMovedPermanently {
		t.Fatalf("StatusCode = %d, want 301 passed through", resp.StatusCode)
	}
}

func TestSeeOtherConvertsToGet(t *testing.T) {
	mux := http.NewServeMux()
	var method string
	var bodyLen int64
	mux.HandleFunc("/submit", func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		http.Redirect(w, r, "/done", http.StatusSeeOther)
	})
	mux.HandleFunc("/done", func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		bodyLen, _ = io.Copy(io.Discard, r.Body)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestClient(t)
	resp, err := c.Do(context.Background(), &Request{
		Method: http.MethodPost,
		URL:    srv.URL + "/submit",
		Body:   []byte("form data"),
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	resp.Close()

	if method != http.MethodGet {
		t.Fatalf("303 follow used %s, want GET", method)
	}
	if bodyLen != 0 {
		t.Fatalf("303 follow carried %d body bytes, want 0", bodyLen)
	}
}

func TestTemporaryRedirectKeepsPost(t *testing.T) {
	mux := http.NewServeMux()
	var method, body string
	mux.HandleFunc("/submit", func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		http.Redirect(w, r, "/retry", http.StatusTemporaryRedirect)
	})
	mux.HandleFunc("/retry", func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		b, _ := io.ReadAll(r.Body)
		body = string(b)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestClient(t)
	resp, err := c.Do(context.Background(), &Request{
		Method: http.MethodPost,
		URL:    srv.URL + "/submit",
		Body:   []byte("keep me"),
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	resp.Close()

	if method != http.MethodPost || body != "keep me" {
		t.Fatalf("307 follow: method=%s body=%q, want POST with original body", method, body)
	}
}

func TestAuthorizationDroppedCrossHost(t *testing.T) {
	var otherAuth string
	other := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		otherAuth = r.Header.Get("Authorization")
	}))
	defer other.Close()

	var firstAuth string
	first := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		firstAuth = r.Header.Get("Authorization")
		http.Redirect(w, r, other.URL, http.StatusFound)
	}))
	defer first.Close()

	c := newTestClient(t, WithBasicAuth("alice", "secret"))
	resp, err := c.Get(context.Background(), first.URL)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	resp.Close()

	if firstAuth == "" {
		t.Fatal("first host should have received credentials")
	}
	if otherAuth != "" {
		t.Fatalf("credentials leaked cross-host: %q", otherAuth)
	}
}

func TestRefererFollowsRedirects(t *testing.T) {
	mux := http.NewServeMux()
	var referer string
	mux.HandleFunc("/a", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/b", http.StatusFound)
	})
	mux.HandleFunc("/b", func(w http.ResponseWriter, r *http.Request) {
		referer = r.Header.Get("Referer")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestClient(t)
	resp, err := c.Get(context.Background(), srv.URL+"/a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	resp.Close()

	if referer != srv.URL+"/a" {
		t.Fatalf("Referer = %q, want %q", referer, srv.URL+"/a")
	}
}

func TestCookiesPersistAcrossRequests(t *testing.T) {
	mux := http.NewServeMux()
	var sent string
	mux.HandleFunc("/set", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "sid", Value: "xyz", Path: "/"})
	})
	mux.HandleFunc("/read", func(w http.ResponseWriter, r *http.Request) {
		sent = r.Header.Get("Cookie")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestClient(t)
	ctx := context.Background()
	if resp, err := c.Get(ctx, srv.URL+"/set"); err != nil {
		t.Fatalf("Get /set: %v", err)
	} else {
		resp.Close()
	}
	if resp, err := c.Get(ctx, srv.URL+"/read"); err != nil {
		t.Fatalf("Get /read: %v", err)
	} else {
		resp.Close()
	}

	if sent != "sid=xyz" {
		t.Fatalf("Cookie header = %q, want sid=xyz", sent)
	}
}

func TestHeaderOverridePrecedence(t *testing.T) {
	var ua, custom string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua = r.Header.Get("User-Agent")
		custom = r.Header.Get("X-Custom")
	}))
	defer srv.Close()

	c := newTestClient(t,
		WithImpersonate("chrome_131"),
		WithHeaders([]Header{{Name: "X-Custom", Value: "client"}}),
	)
	resp, err := c.Do(context.Background(), &Request{
		URL: srv.URL,
		Headers: []Header{
			{Name: "User-Agent", Value: "custom-agent/1.0"},
			{Name: "X-Custom", Value: "request"},
		},
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	resp.Close()

	if ua != "custom-agent/1.0" {
		t.Fatalf("User-Agent = %q, want request override", ua)
	}
	if custom != "request" {
		t.Fatalf("X-Custom = %q, want request headers to beat client headers", custom)
	}
}

func TestTemplateHeadersApplied(t *testing.T) {
	var ua, secChUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua = r.Header.Get("User-Agent")
		secChUA = r.Header.Get("Sec-Ch-Ua")
	}))
	defer srv.Close()

	c := newTestClient(t, WithImpersonate("chrome_131"))
	resp, err := c.Get(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	resp.Close()

	if !strings.Contains(ua, "Chrome/131") {
		t.Fatalf("User-Agent = %q, want Chrome 131 template", ua)
	}
	if secChUA == "" {
		t.Fatal("client hint headers missing from impersonated request")
	}
}

func TestNoTemplateWithoutImpersonation(t *testing.T) {
	var ua string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua = r.Header.Get("User-Agent")
	}))
	defer srv.Close()

	c := newTestClient(t)
	resp, err := c.Get(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	resp.Close()

	if strings.Contains(ua, "Chrome") {
		t.Fatalf("User-Agent = %q, want no browser template without impersonation", ua)
	}
}

func TestQueryParamsMerged(t *testing.T) {
	var query string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.RawQuery
	}))
	defer srv.Close()

	c := newTestClient(t, WithParams(map[string]string{"api_key": "k1"}))
	resp, err := c.Do(context.Background(), &Request{
		URL:    srv.URL + "/search?q=go",
		Params: map[string]string{"page": "2"},
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	resp.Close()

	for _, want := range []string{"q=go", "api_key=k1", "page=2"} {
		if !strings.Contains(query, want) {
			t.Errorf("query %q missing %q", query, want)
		}
	}
}

func TestFormAndJSONBodies(t *testing.T) {
	var contentType, body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentType = r.Header.Get("Content-Type")
		b, _ := io.ReadAll(r.Body)
		body = string(b)
	}))
	defer srv.Close()

	c := newTestClient(t)
	ctx := context.Background()

	resp, err := c.Do(ctx, &Request{
		Method: http.MethodPost,
		URL:    srv.URL,
		Form:   map[string]string{"name": "go"},
	})
	if err != nil {
		t.Fatalf("form Do: %v", err)
	}
	resp.Close()
	if contentType != "application/x-www-form-urlencoded" || body != "name=go" {
		t.Fatalf("form request: type=%q body=%q", contentType, body)
	}

	resp, err = c.Do(ctx, &Request{
		Method: http.MethodPost,
		URL:    srv.URL,
		JSON:   map[string]int{"n": 1},
	})
	if err != nil {
		t.Fatalf("json Do: %v", err)
	}
	resp.Close()
	if contentType != "application/json" || body != `{"n":1}` {
		t.Fatalf("json request: type=%q body=%q", contentType, body)
	}
}

func TestUseJarConcurrentWithRequests(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "sid", Value: "x"})
	}))
	defer srv.Close()

	c := newTestClient(t)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			c.UseJar(NewCookieJar())
		}
	}()
	for i := 0; i < 50; i++ {
		resp, err := c.Do(context.Background(), &Request{URL: srv.URL})
		if err != nil {
			t.Fatalf("Do: %v", err)
		}
		resp.Close()
	}
	<-done
}

func TestRequestTimeoutCoversBodyRead(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(strings.Repeat("a", 1024)))
		w.(http.Flusher).Flush()
		time.Sleep(100 * time.Millisecond)
		w.Write([]byte(strings.Repeat("b", 1024)))
	}))
	defer srv.Close()

	c := newTestClient(t)
	resp, err := c.Do(context.Background(), &Request{
		URL:     srv.URL,
		Timeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}

	// The body arrives in two flushes after Do has returned; the request
	// deadline must still be live for the read.
	time.Sleep(20 * time.Millisecond)
	body, err := resp.Content()
	if err != nil {
		t.Fatalf("Content: %v", err)
	}
	if len(body) != 2048 {
		t.Fatalf("read %d bytes, want 2048", len(body))
	}
}

func TestMultipartUpload(t *testing.T) {
	var field, fileName, fileBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("ParseMultipartForm: %v", err)
			return
		}
		field = r.FormValue("caption")
		f, hdr, err := r.FormFile("upload")
		if err != nil {
			t.Errorf("FormFile: %v", err)
			return
		}
		defer f.Close()
		fileName = hdr.Filename
		b, _ := io.ReadAll(f)
		fileBody = string(b)
	}))
	defer srv.Close()

	form := NewFormData().
		AddField("caption", "hello").
		AddFile("upload", "notes.txt", []byte("file contents"))

	c := newTestClient(t)
	resp, err := c.Do(context.Background(), &Request{
		Method:    http.MethodPost,
		URL:       srv.URL,
		Multipart: form,
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	resp.Close()

	if field != "hello" || fileName != "notes.txt" || fileBody != "file contents" {
		t.Fatalf("server saw field=%q file=%q body=%q", field, fileName, fileBody)
	}
}

func TestUnknownProfile(t *testing.T) {
	_, err := New(WithImpersonate("netscape_4"))
	var ce *Error
	if !errors.As(err, &ce) || ce.Kind != KindUnknownProfile {
		t.Fatalf("err = %v, want kind %s", err, KindUnknownProfile)
	}
}

func TestInvalidHeaderRejected(t *testing.T) {
	c := newTestClient(t)
	_, err := c.Do(context.Background(), &Request{
		URL:     "http://example.com/",
		Headers: []Header{{Name: "bad header", Value: "x"}},
	})
	var ce *Error
	if !errors.As(err, &ce) || ce.Kind != KindInvalidHeader {
		t.Fatalf("err = %v, want kind %s", err, KindInvalidHeader)
	}
}

func TestHTTPSOnlyRejectsPlaintext(t *testing.T) {
	c := newTestClient(t, WithHTTPSOnly())
	_, err := c.Get(context.Background(), "http://example.com/")
	var ce *Error
	if !errors.As(err, &ce) || ce.Kind != KindInvalidURL {
		t.Fatalf("err = %v, want kind %s", err, KindInvalidURL)
	}
}

func TestStreamingResponse(t *testing.T) {
	payload := strings.Repeat("chunk", 1000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, payload)
	}))
	defer srv.Close()

	c := newTestClient(t)
	resp, err := c.Get(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer resp.Close()

	stream, err := resp.Stream()
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	got, err := io.ReadAll(stream)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(got) != len(payload) {
		t.Fatalf("streamed %d bytes, want %d", len(got), len(payload))
	}
	if _, err := resp.Content(); err == nil {
		t.Fatal("Content after Stream should fail")
	}
}

func TestClientCookieAccessors(t *testing.T) {
	c := newTestClient(t)
	if err := c.SetCookies("https://example.com/", map[string]string{"k": "v"}); err != nil {
		t.Fatalf("SetCookies: %v", err)
	}
	got, err := c.GetCookies("https://example.com/")
	if err != nil {
		t.Fatalf("GetCookies: %v", err)
	}
	if got["k"] != "v" {
		t.Fatalf("GetCookies = %v", got)
	}
	c.ClearCookies()
	got, _ = c.GetCookies("https://example.com/")
	if len(got) != 0 {
		t.Fatalf("jar not cleared: %v", got)
	}
}
