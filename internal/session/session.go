package session

import (
	"strings"
	"time"
)

// Cookie is one browser cookie in the shape the session file stores.
// Expires is epoch seconds; -1 means a session cookie with no expiry.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires,omitempty"`
	HTTPOnly bool    `json:"httpOnly,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
	SameSite string  `json:"sameSite,omitempty"`
}

// Expired reports whether the cookie's own expiry timestamp has passed.
func (c Cookie) Expired(now time.Time) bool {
	if c.Expires <= 0 {
		return false
	}
	return int64(c.Expires) <= now.Unix()
}

// Session is a snapshot of the browsing session's cookie jar. It is raw
// material produced by the browser layer; only the Store persists it.
type Session struct {
	Cookies    []Cookie
	UserAgent  string
	CapturedAt time.Time
	ProxyUsed  bool
}

// CookieMap flattens the jar to name->value, last write wins.
func (s *Session) CookieMap() map[string]string {
	m := make(map[string]string, len(s.Cookies))
	for _, c := range s.Cookies {
		if c.Name != "" {
			m[c.Name] = c.Value
		}
	}
	return m
}

// CookieHeader renders the jar as a Cookie request header value.
func (s *Session) CookieHeader() string {
	pairs := make([]string, 0, len(s.Cookies))
	for _, c := range s.Cookies {
		if c.Name != "" && c.Value != "" {
			pairs = append(pairs, c.Name+"="+c.Value)
		}
	}
	return strings.Join(pairs, "; ")
}
