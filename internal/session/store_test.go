package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSession(capturedAt time.Time) *Session {
	return &Session{
		Cookies: []Cookie{
			{Name: "_m_h5_tk", Value: "tok_1700000000000", Domain: ".aliexpress.com", Path: "/"},
			{Name: "_m_h5_tk_enc", Value: "enc", Domain: ".aliexpress.com", Path: "/"},
			{Name: "xman_us_f", Value: "x", Domain: ".aliexpress.com", Path: "/"},
		},
		UserAgent:  "Mozilla/5.0 test",
		CapturedAt: capturedAt,
	}
}

func TestStore_SaveLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cookies.json")
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	store := NewStore(path, 30*time.Minute, WithClock(func() time.Time { return now }))

	require.NoError(t, store.Save(testSession(now)))

	loaded, err := store.Load()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Len(t, loaded.Cookies, 3)
	assert.Equal(t, "Mozilla/5.0 test", loaded.UserAgent)
	assert.Equal(t, now.Unix(), loaded.CapturedAt.Unix())

	// no stray temp files after save
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestStore_Load(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	t.Run("missing file yields nil without error", func(t *testing.T) {
		store := NewStore(filepath.Join(t.TempDir(), "none.json"), time.Hour)
		sess, err := store.Load()
		require.NoError(t, err)
		assert.Nil(t, sess)
	})

	t.Run("corrupt file yields nil without error", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "cookies.json")
		require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))
		store := NewStore(path, time.Hour)
		sess, err := store.Load()
		require.NoError(t, err)
		assert.Nil(t, sess)
	})

	t.Run("expired cookies are filtered out", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "cookies.json")
		store := NewStore(path, time.Hour, WithClock(func() time.Time { return now }))

		sess := testSession(now)
		sess.Cookies[2].Expires = float64(now.Add(-time.Minute).Unix())
		require.NoError(t, store.Save(sess))

		loaded, err := store.Load()
		require.NoError(t, err)
		require.NotNil(t, loaded)
		assert.Len(t, loaded.Cookies, 2)
	})

	t.Run("all cookies expired yields nil", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "cookies.json")
		store := NewStore(path, time.Hour, WithClock(func() time.Time { return now }))

		sess := testSession(now)
		for i := range sess.Cookies {
			sess.Cookies[i].Expires = float64(now.Add(-time.Minute).Unix())
		}
		require.NoError(t, store.Save(sess))

		loaded, err := store.Load()
		require.NoError(t, err)
		assert.Nil(t, loaded)
	})
}

func TestStore_SaveRejectsEmpty(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "cookies.json"), time.Hour)
	assert.Error(t, store.Save(nil))
	assert.Error(t, store.Save(&Session{}))
}

func TestStore_IsExpired(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	store := NewStore("unused.json", 30*time.Minute, WithClock(func() time.Time { return now }))

	t.Run("nil session is expired", func(t *testing.T) {
		assert.True(t, store.IsExpired(nil))
	})

	t.Run("fresh session with required cookies is live", func(t *testing.T) {
		assert.False(t, store.IsExpired(testSession(now.Add(-10*time.Minute))))
	})

	t.Run("aged past validity window", func(t *testing.T) {
		assert.True(t, store.IsExpired(testSession(now.Add(-31*time.Minute))))
	})

	t.Run("exactly at validity boundary counts as expired", func(t *testing.T) {
		assert.True(t, store.IsExpired(testSession(now.Add(-30*time.Minute))))
	})

	t.Run("missing required cookie expires the session", func(t *testing.T) {
		sess := testSession(now)
		sess.Cookies = sess.Cookies[1:] // drop _m_h5_tk
		assert.True(t, store.IsExpired(sess))
	})
}

func TestStore_Validate(t *testing.T) {
	t.Run("default requires both token cookies", func(t *testing.T) {
		store := NewStore("unused.json", time.Hour)

		v := store.Validate(map[string]string{"_m_h5_tk": "a", "_m_h5_tk_enc": "b", "other": "c"})
		assert.True(t, v.Valid)
		assert.Equal(t, 3, v.TotalCookies)
		assert.Empty(t, v.MissingRequired)

		v = store.Validate(map[string]string{"_m_h5_tk": "a"})
		assert.False(t, v.Valid)
		assert.Equal(t, []string{"_m_h5_tk_enc"}, v.MissingRequired)
	})

	t.Run("missing tolerance loosens the check", func(t *testing.T) {
		store := NewStore("unused.json", time.Hour, WithMissingTolerance(1))
		v := store.Validate(map[string]string{"_m_h5_tk": "a"})
		assert.True(t, v.Valid)
	})

	t.Run("custom required names", func(t *testing.T) {
		store := NewStore("unused.json", time.Hour, WithRequiredCookies([]string{"sid"}))
		assert.True(t, store.Validate(map[string]string{"sid": "1"}).Valid)
		assert.False(t, store.Validate(map[string]string{"_m_h5_tk": "a"}).Valid)
	})
}

func TestCookie_Expired(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	assert.False(t, Cookie{Expires: -1}.Expired(now), "session cookie never expires")
	assert.False(t, Cookie{Expires: 0}.Expired(now))
	assert.False(t, Cookie{Expires: float64(now.Add(time.Hour).Unix())}.Expired(now))
	assert.True(t, Cookie{Expires: float64(now.Add(-time.Hour).Unix())}.Expired(now))
}

func TestSession_CookieHelpers(t *testing.T) {
	sess := testSession(time.Now())

	m := sess.CookieMap()
	assert.Equal(t, "tok_1700000000000", m["_m_h5_tk"])
	assert.Len(t, m, 3)

	header := sess.CookieHeader()
	assert.Contains(t, header, "_m_h5_tk=tok_1700000000000")
	assert.Contains(t, header, "; ")
}
