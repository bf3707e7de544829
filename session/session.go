// Package session layers persistent browsing state on top of a client: a
// stable identity, cookie continuity, cache validators and forkable state.
// A session behaves like one browser profile that can be saved, restored
// and split into parallel tabs.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/keenanhx/guise/client"
)

var ErrClosed = errors.New("session is closed")

// validators holds the cache validation headers seen for one URL.
type validators struct {
	etag         string
	lastModified string
}

// Session is one persistent browsing identity. All methods are safe for
// concurrent use.
type Session struct {
	ID        string
	CreatedAt time.Time

	cl   *client.Client
	opts []client.Option

	mu           sync.RWMutex
	lastUsed     time.Time
	requestCount int64
	cache        map[string]*validators
	active       bool
}

// New creates a session with its own client and connection pool.
func New(opts ...client.Option) (*Session, error) {
	cl, err := client.New(opts...)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	return &Session{
		ID:        uuid.New().String(),
		CreatedAt: now,
		cl:        cl,
		opts:      opts,
		lastUsed:  now,
		cache:     make(map[string]*validators),
		active:    true,
	}, nil
}

// Do executes a request within the session. Responses are tracked for cache
// validators, so revisiting a URL sends If-None-Match and If-Modified-Since
// the way a browser with a warm cache would.
func (s *Session) Do(ctx context.Context, req *client.Request) (*client.Response, error) {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	s.lastUsed = time.Now()
	s.requestCount++
	if cached, ok := s.cache[req.URL]; ok {
		if cached.etag != "" {
			req.Headers = append(req.Headers, client.Header{Name: "If-None-Match", Value: cached.etag})
		}
		if cached.lastModified != "" {
			req.Headers = append(req.Headers, client.Header{Name: "If-Modified-Since", Value: cached.lastModified})
		}
	}
	s.mu.Unlock()

	resp, err := s.cl.Do(ctx, req)
	if err != nil {
		return nil, err
	}

	etag := resp.Headers.Get("Etag")
	lastModified := resp.Headers.Get("Last-Modified")
	if etag != "" || lastModified != "" {
		s.mu.Lock()
		s.cache[req.URL] = &validators{etag: etag, lastModified: lastModified}
		s.mu.Unlock()
	}
	return resp, nil
}

// Get issues a GET request within the session.
func (s *Session) Get(ctx context.Context, url string) (*client.Response, error) {
	return s.Do(ctx, &client.Request{Method: "GET", URL: url})
}

// Post issues a POST request within the session.
func (s *Session) Post(ctx context.Context, url string, body []byte) (*client.Response, error) {
	return s.Do(ctx, &client.Request{Method: "POST", URL: url, Body: body})
}

// Client exposes the underlying client for verbs and mutators not wrapped
// here.
func (s *Session) Client() *client.Client {
	return s.cl
}

// Stats is a point-in-time snapshot of session activity.
type Stats struct {
	ID           string    `json:"id"`
	Profile      string    `json:"profile"`
	CreatedAt    time.Time `json:"created_at"`
	LastUsed     time.Time `json:"last_used"`
	RequestCount int64     `json:"request_count"`
}

func (s *Session) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		ID:           s.ID,
		Profile:      s.cl.Profile(),
		CreatedAt:    s.CreatedAt,
		LastUsed:     s.lastUsed,
		RequestCount: s.requestCount,
	}
}

// LastUsed reports when the session last issued a request.
func (s *Session) LastUsed() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastUsed
}

// IsActive reports whether the session can still issue requests.
func (s *Session) IsActive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// Close shuts the session and its connection pool down.
func (s *Session) Close() {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	s.active = false
	s.mu.Unlock()
	s.cl.Close()
}
