package api

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/maltedev/aliexpress-credential-scraper/internal/capture"
	"github.com/maltedev/aliexpress-credential-scraper/internal/config"
	"github.com/maltedev/aliexpress-credential-scraper/internal/ratelimit"
	"github.com/maltedev/aliexpress-credential-scraper/internal/session"
	"github.com/maltedev/aliexpress-credential-scraper/internal/sign"
)

// ProductQueryAPI is the detail endpoint for a single listing.
const ProductQueryAPI = "mtop.aliexpress.pdp.pc.query"

// Response is a decoded mtop envelope. Ret carries the gateway verdict,
// Data the endpoint payload.
type Response struct {
	API  string         `json:"api"`
	V    string         `json:"v"`
	Ret  []string       `json:"ret"`
	Data map[string]any `json:"data"`
}

// Succeeded reports whether any gateway verdict line signals success.
// The gateway uses several success spellings, all containing SUCCESS.
func (r *Response) Succeeded() bool {
	for _, line := range r.Ret {
		if strings.Contains(line, "SUCCESS") {
			return true
		}
	}
	return false
}

// Client calls signed mtop endpoints directly, outside the browser. It
// needs a live session for the signing token, so it is only useful after
// at least one browser pass has stored cookies.
type Client struct {
	http    *http.Client
	baseURL string
	appKey  string
	limiter ratelimit.RateLimiter
	now     func() time.Time
	logger  *slog.Logger
}

type ClientOption func(*Client)

// WithHTTPClient swaps the underlying transport, mainly for tests.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

func WithClock(now func() time.Time) ClientOption {
	return func(c *Client) { c.now = now }
}

func NewClient(cfg config.APIConfig, proxy config.ProxyConfig, opts ...ClientOption) (*Client, error) {
	transport := &http.Transport{}
	if proxy.Enabled() {
		proxyURL, err := url.Parse(proxy.Server)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		if proxy.Username != "" {
			proxyURL.User = url.UserPassword(proxy.Username, proxy.Password)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	c := &Client{
		http: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		appKey:  cfg.AppKey,
		// bursts are fine, sustained hammering is not
		limiter: ratelimit.NewTokenBucketRateLimiter(5, time.Second),
		now:     time.Now,
		logger:  slog.Default().With("component", "api-client"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Call issues one signed GET against an mtop endpoint. data must be the
// JSON-encoded request payload; it is signed byte for byte, so the caller
// keeps control of key order.
func (c *Client) Call(ctx context.Context, sess *session.Session, apiName, version, data string) (*Response, error) {
	token, err := sign.TokenFromCookieSet(sess.CookieMap())
	if err != nil {
		return nil, err
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	ts := strconv.FormatInt(c.now().UnixMilli(), 10)
	signature := sign.Sign(token, ts, c.appKey, data)

	endpoint := fmt.Sprintf("%s/h5/%s/%s/",
		c.baseURL, strings.ToLower(apiName), strings.ToLower(version))

	params := url.Values{}
	params.Set("jsv", "2.7.2")
	params.Set("appKey", c.appKey)
	params.Set("t", ts)
	params.Set("sign", signature)
	params.Set("api", apiName)
	params.Set("v", version)
	params.Set("timeout", "10000")
	params.Set("type", "jsonp")
	params.Set("dataType", "jsonp")
	params.Set("callback", "mtopjsonp1")
	params.Set("data", data)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Cookie", sess.CookieHeader())
	req.Header.Set("Referer", "https://www.aliexpress.com/")
	if sess.UserAgent != "" {
		req.Header.Set("User-Agent", sess.UserAgent)
	}

	c.logger.Debug("mtop call", "api", apiName, "v", version)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", apiName, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", apiName, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("call %s: status %d", apiName, resp.StatusCode)
	}

	return decode(apiName, body)
}

// GetProduct fetches a single product detail payload.
func (c *Client) GetProduct(ctx context.Context, sess *session.Session, productID string) (*Response, error) {
	data := fmt.Sprintf(`{"productId":"%s"}`, productID)
	resp, err := c.Call(ctx, sess, ProductQueryAPI, "1.0", data)
	if err != nil {
		return nil, err
	}
	if !resp.Succeeded() {
		return resp, fmt.Errorf("product query rejected: %s", strings.Join(resp.Ret, "; "))
	}
	return resp, nil
}

func decode(apiName string, body []byte) (*Response, error) {
	decoded, ok := capture.ParseJSONP(string(body))
	if !ok {
		return nil, fmt.Errorf("decode %s response: no json payload", apiName)
	}

	r := &Response{Data: map[string]any{}}
	if v, ok := decoded["api"].(string); ok {
		r.API = v
	}
	if v, ok := decoded["v"].(string); ok {
		r.V = v
	}
	if lines, ok := decoded["ret"].([]any); ok {
		for _, l := range lines {
			if s, ok := l.(string); ok {
				r.Ret = append(r.Ret, s)
			}
		}
	}
	if d, ok := decoded["data"].(map[string]any); ok {
		r.Data = d
	}
	return r, nil
}
