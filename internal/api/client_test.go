package api

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/aliexpress-credential-scraper/internal/config"
	"github.com/maltedev/aliexpress-credential-scraper/internal/session"
	"github.com/maltedev/aliexpress-credential-scraper/internal/sign"
)

const (
	testAppKey = "12574478"
	testToken  = "abc123def456"
)

func testSession() *session.Session {
	return &session.Session{
		Cookies: []session.Cookie{
			{Name: "_m_h5_tk", Value: testToken + "_1700000000000"},
			{Name: "_m_h5_tk_enc", Value: "enc-part"},
			{Name: "xman_t", Value: "tracking"},
		},
		UserAgent:  "Mozilla/5.0 (test)",
		CapturedAt: time.Now(),
	}
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient(
		config.APIConfig{BaseURL: srv.URL, AppKey: testAppKey, Timeout: 5 * time.Second},
		config.ProxyConfig{},
		WithClock(func() time.Time { return time.UnixMilli(1700000000000) }),
	)
	require.NoError(t, err)
	return c, srv
}

func TestCall(t *testing.T) {
	ctx := context.Background()

	t.Run("signs and addresses the request", func(t *testing.T) {
		payload := `{"storeId":"42"}`

		var gotPath string
		var gotQuery map[string]string
		var gotCookie, gotUA string
		c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			gotQuery = map[string]string{}
			for k := range r.URL.Query() {
				gotQuery[k] = r.URL.Query().Get(k)
			}
			gotCookie = r.Header.Get("Cookie")
			gotUA = r.Header.Get("User-Agent")
			fmt.Fprint(w, `mtopjsonp1({"api":"mtop.test.api","v":"1.0","ret":["SUCCESS::ok"],"data":{"x":1}});`)
		})

		resp, err := c.Call(ctx, testSession(), "mtop.Test.API", "1.0", payload)
		require.NoError(t, err)

		assert.Equal(t, "/h5/mtop.test.api/1.0/", gotPath)
		assert.Equal(t, testAppKey, gotQuery["appKey"])
		assert.Equal(t, "mtop.Test.API", gotQuery["api"])
		assert.Equal(t, "1.0", gotQuery["v"])
		assert.Equal(t, "1700000000000", gotQuery["t"])
		assert.Equal(t, payload, gotQuery["data"])
		assert.Equal(t, "jsonp", gotQuery["type"])
		assert.Equal(t, "mtopjsonp1", gotQuery["callback"])
		assert.Equal(t, sign.Sign(testToken, "1700000000000", testAppKey, payload), gotQuery["sign"])

		assert.Contains(t, gotCookie, "_m_h5_tk="+testToken+"_1700000000000")
		assert.Contains(t, gotCookie, "xman_t=tracking")
		assert.Equal(t, "Mozilla/5.0 (test)", gotUA)

		assert.Equal(t, "mtop.test.api", resp.API)
		assert.Equal(t, []string{"SUCCESS::ok"}, resp.Ret)
		assert.Equal(t, float64(1), resp.Data["x"])
		assert.True(t, resp.Succeeded())
	})

	t.Run("bare json body decodes too", func(t *testing.T) {
		c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"api":"mtop.test.api","ret":["SUCCESS::called"],"data":{}}`)
		})

		resp, err := c.Call(ctx, testSession(), "mtop.test.api", "1.0", `{}`)
		require.NoError(t, err)
		assert.True(t, resp.Succeeded())
	})

	t.Run("session without signing token", func(t *testing.T) {
		c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			t.Error("request should not be sent")
		})

		sess := testSession()
		sess.Cookies = sess.Cookies[2:]
		_, err := c.Call(ctx, sess, "mtop.test.api", "1.0", `{}`)
		assert.ErrorIs(t, err, sign.ErrMissingToken)
	})

	t.Run("non-200 status", func(t *testing.T) {
		c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		})

		_, err := c.Call(ctx, testSession(), "mtop.test.api", "1.0", `{}`)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "status 403")
	})

	t.Run("html body is not a payload", func(t *testing.T) {
		c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, "<html><body>blocked</body></html>")
		})

		_, err := c.Call(ctx, testSession(), "mtop.test.api", "1.0", `{}`)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no json payload")
	})
}

func TestGetProduct(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		var gotData string
		c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			gotData = r.URL.Query().Get("data")
			fmt.Fprint(w, `mtopjsonp1({"api":"mtop.aliexpress.pdp.pc.query","ret":["SUCCESS::ok"],"data":{"title":"widget"}});`)
		})

		resp, err := c.GetProduct(ctx, testSession(), "100500")
		require.NoError(t, err)
		assert.Equal(t, `{"productId":"100500"}`, gotData)
		assert.Equal(t, "widget", resp.Data["title"])
	})

	t.Run("gateway rejection surfaces ret lines", func(t *testing.T) {
		c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `mtopjsonp1({"ret":["FAIL_SYS_TOKEN_EXPIRED::token expired"],"data":{}});`)
		})

		resp, err := c.GetProduct(ctx, testSession(), "100500")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "FAIL_SYS_TOKEN_EXPIRED")
		require.NotNil(t, resp)
		assert.False(t, resp.Succeeded())
	})
}

func TestResponseSucceeded(t *testing.T) {
	tests := []struct {
		name string
		ret  []string
		want bool
	}{
		{"plain success", []string{"SUCCESS::调用成功"}, true},
		{"success among noise", []string{"WARN::slow", "SUCCESS::ok"}, true},
		{"failure", []string{"FAIL_SYS_SESSION_EXPIRED::session expired"}, false},
		{"empty", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &Response{Ret: tt.ret}
			assert.Equal(t, tt.want, r.Succeeded())
		})
	}
}
