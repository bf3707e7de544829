package session

import (
	"time"

	"github.com/google/uuid"

	"github.com/keenanhx/guise/client"
)

// Fork creates n sessions that share this session's cookie jar but own
// independent connection pools. This models multiple tabs of one browser:
// same cookies and identity, parallel connections.
func (s *Session) Fork(n int) ([]*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.active {
		return nil, ErrClosed
	}
	if n <= 0 {
		return nil, nil
	}

	forks := make([]*Session, 0, n)
	for i := 0; i < n; i++ {
		fork, err := s.forkOne()
		if err != nil {
			for _, f := range forks {
				f.Close()
			}
			return nil, err
		}
		forks = append(forks, fork)
	}
	return forks, nil
}

// forkOne builds a single fork. Caller holds s.mu.
func (s *Session) forkOne() (*Session, error) {
	cl, err := client.New(s.opts...)
	if err != nil {
		return nil, err
	}
	if jar := s.cl.Jar(); jar != nil {
		cl.UseJar(jar)
	}

	// Snapshot the parent's cache validators; forks diverge from here.
	cache := make(map[string]*validators, len(s.cache))
	for url, v := range s.cache {
		cp := *v
		cache[url] = &cp
	}

	now := time.Now()
	return &Session{
		ID:        uuid.New().String(),
		CreatedAt: now,
		cl:        cl,
		opts:      s.opts,
		lastUsed:  now,
		cache:     cache,
		active:    true,
	}, nil
}
