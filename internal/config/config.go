package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server   ServerConfig
	Scraper  ScraperConfig
	Browser  BrowserConfig
	Proxy    ProxyConfig
	Session  SessionConfig
	Captcha  CaptchaConfig
	Capture  CaptureConfig
	API      APIConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Logging  LoggingConfig
}

type ServerConfig struct {
	Port            string
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type ScraperConfig struct {
	RateLimitMin time.Duration
	RateLimitMax time.Duration
	MaxRetries   int
	SettleDelay  time.Duration
	// PostSolveDelay is how long to linger after a solved challenge. The
	// page's data-bearing API calls fire well after page-ready, so this
	// is a measured constant, not a guess.
	PostSolveDelay time.Duration
	// ImageWaitCeiling bounds the DOM poll for rendered certificates.
	ImageWaitCeiling time.Duration
	CredentialWait   time.Duration
}

type BrowserConfig struct {
	Headless       bool
	Timeout        time.Duration
	UserAgent      string
	ViewportWidth  int
	ViewportHeight int
}

// ProxyConfig is optional; an empty server simply disables the proxy.
type ProxyConfig struct {
	Server   string
	Username string
	Password string
}

func (p ProxyConfig) Enabled() bool {
	return p.Server != ""
}

type SessionConfig struct {
	File string
	// Validity is the window after which stored cookies are refreshed.
	Validity time.Duration
	// MissingTolerance is how many required cookie names may be absent
	// before a stored session is rejected.
	MissingTolerance int
}

type CaptchaConfig struct {
	MaxAttempts int
	// RestartThreshold is the consecutive-failure count that forces a
	// full browser restart.
	RestartThreshold int
	// RecheckInterval is how often the image wait re-runs detection, in
	// case the target injects a challenge mid-session.
	RecheckInterval time.Duration
}

type CaptureConfig struct {
	// MinImageBytes filters out probable icons and placeholders.
	MinImageBytes int
}

type APIConfig struct {
	BaseURL string
	AppKey  string
	Timeout time.Duration
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type LoggingConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvOrDefault("SERVER_PORT", "8080"),
			Host:            getEnvOrDefault("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:     getDurationOrDefault("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getDurationOrDefault("SERVER_WRITE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getDurationOrDefault("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Scraper: ScraperConfig{
			RateLimitMin:     getDurationOrDefault("SCRAPER_RATE_LIMIT_MIN", 1*time.Second),
			RateLimitMax:     getDurationOrDefault("SCRAPER_RATE_LIMIT_MAX", 5*time.Second),
			MaxRetries:       getIntOrDefault("SCRAPER_MAX_RETRIES", 3),
			SettleDelay:      getDurationOrDefault("SCRAPER_SETTLE_DELAY", 5*time.Second),
			PostSolveDelay:   getDurationOrDefault("SCRAPER_POST_SOLVE_DELAY", 12*time.Second),
			ImageWaitCeiling: getDurationOrDefault("SCRAPER_IMAGE_WAIT_CEILING", 45*time.Second),
			CredentialWait:   getDurationOrDefault("SCRAPER_CREDENTIAL_WAIT", 15*time.Second),
		},
		Browser: BrowserConfig{
			Headless:       getBoolOrDefault("BROWSER_HEADLESS", true),
			Timeout:        getDurationOrDefault("BROWSER_TIMEOUT", 30*time.Second),
			UserAgent:      getEnvOrDefault("BROWSER_USER_AGENT", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"),
			ViewportWidth:  getIntOrDefault("BROWSER_VIEWPORT_WIDTH", 1920),
			ViewportHeight: getIntOrDefault("BROWSER_VIEWPORT_HEIGHT", 1080),
		},
		Proxy: ProxyConfig{
			Server:   getEnvOrDefault("PROXY_SERVER", ""),
			Username: getEnvOrDefault("PROXY_USERNAME", ""),
			Password: getEnvOrDefault("PROXY_PASSWORD", ""),
		},
		Session: SessionConfig{
			File:             getEnvOrDefault("SESSION_FILE", "aliexpress_session_cookies.json"),
			Validity:         getDurationOrDefault("SESSION_VALIDITY", 30*time.Minute),
			MissingTolerance: getIntOrDefault("SESSION_MISSING_TOLERANCE", 0),
		},
		Captcha: CaptchaConfig{
			MaxAttempts:      getIntOrDefault("CAPTCHA_MAX_ATTEMPTS", 3),
			RestartThreshold: getIntOrDefault("CAPTCHA_RESTART_THRESHOLD", 3),
			RecheckInterval:  getDurationOrDefault("CAPTCHA_RECHECK_INTERVAL", 10*time.Second),
		},
		Capture: CaptureConfig{
			MinImageBytes: getIntOrDefault("CAPTURE_MIN_IMAGE_BYTES", 5000),
		},
		API: APIConfig{
			BaseURL: getEnvOrDefault("API_BASE_URL", "https://acs.aliexpress.us"),
			AppKey:  getEnvOrDefault("API_APP_KEY", "12574478"),
			Timeout: getDurationOrDefault("API_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			Host:     getEnvOrDefault("DB_HOST", "localhost"),
			Port:     getIntOrDefault("DB_PORT", 5432),
			User:     getEnvOrDefault("DB_USER", "postgres"),
			Password: getEnvOrDefault("DB_PASSWORD", ""),
			DBName:   getEnvOrDefault("DB_NAME", "credential_scraper"),
			SSLMode:  getEnvOrDefault("DB_SSL_MODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
			Password: getEnvOrDefault("REDIS_PASSWORD", ""),
			DB:       getIntOrDefault("REDIS_DB", 0),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "json"),
		},
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Scraper.MaxRetries < 1 {
		return fmt.Errorf("SCRAPER_MAX_RETRIES must be at least 1")
	}
	if c.Scraper.RateLimitMin > c.Scraper.RateLimitMax {
		return fmt.Errorf("SCRAPER_RATE_LIMIT_MIN cannot be greater than SCRAPER_RATE_LIMIT_MAX")
	}
	if c.Captcha.MaxAttempts < 1 {
		return fmt.Errorf("CAPTCHA_MAX_ATTEMPTS must be at least 1")
	}
	if c.Captcha.RestartThreshold < 1 {
		return fmt.Errorf("CAPTCHA_RESTART_THRESHOLD must be at least 1")
	}
	if c.Capture.MinImageBytes < 0 {
		return fmt.Errorf("CAPTURE_MIN_IMAGE_BYTES cannot be negative")
	}
	if c.Proxy.Enabled() && !strings.Contains(c.Proxy.Server, ":") {
		return fmt.Errorf("PROXY_SERVER must be host:port")
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
