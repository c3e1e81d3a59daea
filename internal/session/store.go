package session

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// RequiredCookies are the names the signed API cannot function without.
var RequiredCookies = []string{"_m_h5_tk", "_m_h5_tk_enc"}

// Validation is the outcome of checking a cookie set against the required
// names.
type Validation struct {
	Valid           bool
	PresentRequired []string
	MissingRequired []string
	TotalCookies    int
}

type storeFile struct {
	SavedAt   string   `json:"saved_at"`
	Timestamp int64    `json:"timestamp"`
	Cookies   []Cookie `json:"cookies"`
	UserAgent string   `json:"user_agent"`
	ProxyUsed bool     `json:"proxy_used"`
}

// Store persists sessions to a JSON file and is the only component that
// decides whether a session is still usable.
type Store struct {
	path             string
	validity         time.Duration
	missingTolerance int
	required         []string
	now              func() time.Time
	logger           *slog.Logger
}

// Option tweaks store policy.
type Option func(*Store)

// WithMissingTolerance sets how many required cookies may be absent before
// a cookie set is rejected. Default 0.
func WithMissingTolerance(n int) Option {
	return func(s *Store) { s.missingTolerance = n }
}

// WithRequiredCookies overrides the required cookie names.
func WithRequiredCookies(names []string) Option {
	return func(s *Store) { s.required = names }
}

// WithClock injects a clock for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func NewStore(path string, validity time.Duration, opts ...Option) *Store {
	s := &Store{
		path:     path,
		validity: validity,
		required: RequiredCookies,
		now:      time.Now,
		logger:   slog.Default().With("component", "session_store"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load reads the persisted session. A missing, corrupt or fully expired
// file yields (nil, nil): the caller falls through to fresh acquisition,
// a broken session file is never fatal.
func (s *Store) Load() (*Session, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		s.logger.Warn("session file unreadable, treating as absent", "path", s.path, "error", err)
		return nil, nil
	}

	var f storeFile
	if err := json.Unmarshal(raw, &f); err != nil {
		s.logger.Warn("session file corrupt, treating as absent", "path", s.path, "error", err)
		return nil, nil
	}

	now := s.now()
	valid := f.Cookies[:0:0]
	for _, c := range f.Cookies {
		if c.Name == "" {
			continue
		}
		if c.Expired(now) {
			s.logger.Debug("dropping expired cookie", "name", c.Name)
			continue
		}
		valid = append(valid, c)
	}
	if len(valid) == 0 {
		s.logger.Info("no valid cookies in session file", "path", s.path)
		return nil, nil
	}

	sess := &Session{
		Cookies:    valid,
		UserAgent:  f.UserAgent,
		CapturedAt: time.Unix(f.Timestamp, 0),
		ProxyUsed:  f.ProxyUsed,
	}
	s.logger.Info("loaded session", "cookies", len(valid), "saved_at", f.SavedAt)
	return sess, nil
}

// Save overwrites the persisted session atomically: write to a temp file in
// the same directory, then rename over the target so a crash can never
// leave a half-written store behind.
func (s *Store) Save(sess *Session) error {
	if sess == nil || len(sess.Cookies) == 0 {
		return fmt.Errorf("refusing to save empty session")
	}

	capturedAt := sess.CapturedAt
	if capturedAt.IsZero() {
		capturedAt = s.now()
	}
	f := storeFile{
		SavedAt:   capturedAt.UTC().Format("2006-01-02 15:04:05 UTC"),
		Timestamp: capturedAt.Unix(),
		Cookies:   sess.Cookies,
		UserAgent: sess.UserAgent,
		ProxyUsed: sess.ProxyUsed,
	}

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".session-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp session file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write session: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp session file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("failed to replace session file: %w", err)
	}

	s.logger.Info("saved session", "path", s.path, "cookies", len(sess.Cookies))
	return nil
}

// IsExpired reports whether the session has aged past the validity window
// or lost its required cookies.
func (s *Store) IsExpired(sess *Session) bool {
	if sess == nil {
		return true
	}
	age := s.now().Sub(sess.CapturedAt)
	if age >= s.validity {
		s.logger.Info("session expired by age", "age", age, "validity", s.validity)
		return true
	}
	v := s.Validate(sess.CookieMap())
	if !v.Valid {
		s.logger.Info("session invalid", "missing", v.MissingRequired)
		return true
	}
	return false
}

// Validate checks a cookie set for the required names. The set is valid
// when at most the configured tolerance of required names is missing.
func (s *Store) Validate(cookies map[string]string) Validation {
	v := Validation{TotalCookies: len(cookies)}
	for _, name := range s.required {
		if _, ok := cookies[name]; ok {
			v.PresentRequired = append(v.PresentRequired, name)
		} else {
			v.MissingRequired = append(v.MissingRequired, name)
		}
	}
	v.Valid = len(v.MissingRequired) <= s.missingTolerance
	return v
}
