package session

import (
	"encoding/json"
	"time"

	"github.com/keenanhx/guise/client"
)

// StateVersion is bumped when the exported layout changes.
const StateVersion = 1

// State is the saveable part of a session: identity plus cookies. Restoring
// a state builds a fresh pool; live connections are never part of it.
type State struct {
	Version      int           `json:"version"`
	Profile      string        `json:"profile"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
	Cookies      []CookieState `json:"cookies"`
	RequestCount int64         `json:"request_count"`
}

// CookieState is one serialized cookie record.
type CookieState struct {
	Domain   string     `json:"domain"`
	Path     string     `json:"path"`
	Name     string     `json:"name"`
	Value    string     `json:"value"`
	Expires  *time.Time `json:"expires,omitempty"`
	Secure   bool       `json:"secure,omitempty"`
	HttpOnly bool       `json:"http_only,omitempty"`
}

// Export snapshots the session state.
func (s *Session) Export() *State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state := &State{
		Version:      StateVersion,
		Profile:      s.cl.Profile(),
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    time.Now(),
		RequestCount: s.requestCount,
	}
	if jar := s.cl.Jar(); jar != nil {
		for _, c := range jar.All() {
			cs := CookieState{
				Domain:   c.Domain,
				Path:     c.Path,
				Name:     c.Name,
				Value:    c.Value,
				Secure:   c.Secure,
				HttpOnly: c.HttpOnly,
			}
			if !c.Expires.IsZero() {
				expires := c.Expires
				cs.Expires = &expires
			}
			state.Cookies = append(state.Cookies, cs)
		}
	}
	return state
}

// ExportJSON renders the state for storage.
func (s *Session) ExportJSON() ([]byte, error) {
	return json.Marshal(s.Export())
}

// Restore builds a new session seeded with a previously exported state.
// opts configure the client; the state supplies the cookies.
func Restore(state *State, opts ...client.Option) (*Session, error) {
	s, err := New(opts...)
	if err != nil {
		return nil, err
	}
	if jar := s.cl.Jar(); jar != nil && len(state.Cookies) > 0 {
		cookies := make([]*client.Cookie, 0, len(state.Cookies))
		for _, cs := range state.Cookies {
			c := &client.Cookie{
				Domain:   cs.Domain,
				Path:     cs.Path,
				Name:     cs.Name,
				Value:    cs.Value,
				Secure:   cs.Secure,
				HttpOnly: cs.HttpOnly,
			}
			if cs.Expires != nil {
				c.Expires = *cs.Expires
			}
			cookies = append(cookies, c)
		}
		jar.SetCookies(cookies)
	}
	s.mu.Lock()
	s.requestCount = state.RequestCount
	s.mu.Unlock()
	return s, nil
}

// RestoreJSON parses a stored state and restores a session from it.
func RestoreJSON(data []byte, opts ...client.Option) (*Session, error) {
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, err
	}
	return Restore(&state, opts...)
}
