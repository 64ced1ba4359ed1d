package browser

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Environment variable names for browser checker configuration.
const (
	envLoginURL       = "OUTLETWATCH_BROWSER_LOGIN_URL"
	envOrdersURL      = "OUTLETWATCH_BROWSER_ORDERS_URL"
	envExecPath       = "OUTLETWATCH_BROWSER_EXEC_PATH"
	envHeadless       = "OUTLETWATCH_BROWSER_HEADLESS"
	envUserAgent      = "OUTLETWATCH_BROWSER_USER_AGENT"
	envElementTimeout = "OUTLETWATCH_BROWSER_ELEMENT_TIMEOUT"
	envPopupTimeout   = "OUTLETWATCH_BROWSER_POPUP_TIMEOUT"
	envSelectTimeout  = "OUTLETWATCH_BROWSER_SELECT_TIMEOUT"
)

// Defaults for the merchant portal.
const (
	DefaultLoginURL       = "https://merchant.grab.com/login"
	DefaultOrdersURL      = "https://merchant.grab.com/order"
	DefaultUserAgent      = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/96.0.4664.110 Safari/537.36"
	DefaultElementTimeout = 15 * time.Second
	DefaultPopupTimeout   = 3 * time.Second
	DefaultSelectTimeout  = 8 * time.Second
)

// Config holds configuration for the headless browser checker.
type Config struct {
	// LoginURL is the portal login page.
	LoginURL string

	// OrdersURL is the page that shows the outlet status indicator.
	OrdersURL string

	// ExecPath is the Chrome binary. Empty lets chromedp find one.
	ExecPath string

	// Headless runs Chrome without a window.
	Headless bool

	// UserAgent is sent with every request.
	UserAgent string

	// ElementTimeout bounds waits for login fields and the status indicator.
	ElementTimeout time.Duration

	// PopupTimeout bounds each best-effort popup dismissal.
	PopupTimeout time.Duration

	// SelectTimeout bounds the wait for the outlet row of a multi-outlet account.
	SelectTimeout time.Duration
}

// LoadConfig reads browser configuration from environment variables,
// applying defaults for values not set.
func LoadConfig() Config {
	cfg := Config{
		LoginURL:       DefaultLoginURL,
		OrdersURL:      DefaultOrdersURL,
		Headless:       true,
		UserAgent:      DefaultUserAgent,
		ElementTimeout: DefaultElementTimeout,
		PopupTimeout:   DefaultPopupTimeout,
		SelectTimeout:  DefaultSelectTimeout,
	}

	if v := os.Getenv(envLoginURL); v != "" {
		cfg.LoginURL = v
	}
	if v := os.Getenv(envOrdersURL); v != "" {
		cfg.OrdersURL = v
	}
	if v := os.Getenv(envExecPath); v != "" {
		cfg.ExecPath = v
	}
	if v := os.Getenv(envHeadless); v != "" {
		cfg.Headless = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv(envUserAgent); v != "" {
		cfg.UserAgent = v
	}
	cfg.ElementTimeout = durationEnv(envElementTimeout, cfg.ElementTimeout)
	cfg.PopupTimeout = durationEnv(envPopupTimeout, cfg.PopupTimeout)
	cfg.SelectTimeout = durationEnv(envSelectTimeout, cfg.SelectTimeout)

	return cfg
}

// durationEnv accepts a Go duration or a bare number of seconds. Invalid or
// non-positive values keep the default.
func durationEnv(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d
	}
	return def
}
