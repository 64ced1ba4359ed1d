// Package browser implements the status checker on a headless Chrome session
// driven through the DevTools protocol.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/seantiz/outletwatch/internal/checker"
	"github.com/seantiz/outletwatch/internal/model"
)

// Name is the registry name of the browser checker.
const Name = "browser"

// Page element locators. XPaths are matched with chromedp.BySearch.
const (
	usernameSel = "#username"
	passwordSel = "#password"
	submitXPath = "//form/div/button"

	continuePopupXPath = "/html/body/div[2]/div/div[2]/div/div[2]/div/div/div/div[2]/button[2]"
	closePopupXPath    = "/html/body/div[2]/div/div[2]/div/div[2]/div/div/div/div[3]/button[1]"

	outletRowXPath = "/html/body/div/div/div/div[2]/div/div[2]/div/div[2]/div/div/div/div/div/div[2]/table/tbody/tr[%d]/td[1]/div/span[1]"
	statusXPath    = "/html/body/div[1]/div/div/div[2]/div/div[1]/div[2]/button/span"
)

// ErrSelectOutlet is wrapped as terminal when the outlet row never appears.
var ErrSelectOutlet = errors.New("could not select outlet")

// Checker opens one headless Chrome per session.
type Checker struct {
	cfg    Config
	logger *slog.Logger
}

// Compile-time interface satisfaction check.
var _ checker.Checker = (*Checker)(nil)

// New creates a browser checker.
func New(cfg Config, logger *slog.Logger) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{cfg: cfg, logger: logger}
}

// Name implements checker.Checker.
func (c *Checker) Name() string { return Name }

// Open implements checker.Checker. It launches a fresh browser bound to ctx.
func (c *Checker) Open(ctx context.Context) (checker.Session, error) {
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, c.allocatorOptions()...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)

	// An empty Run starts the browser so launch failures surface here.
	if err := chromedp.Run(browserCtx); err != nil {
		cancelBrowser()
		cancelAlloc()
		return nil, fmt.Errorf("launch chrome: %w", err)
	}
	return &session{
		cfg:    c.cfg,
		logger: c.logger,
		ctx:    browserCtx,
		cancel: func() {
			cancelBrowser()
			cancelAlloc()
		},
	}, nil
}

func (c *Checker) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", c.cfg.Headless),
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.WindowSize(1920, 1080),
		chromedp.UserAgent(c.cfg.UserAgent),
	)
	if c.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(c.cfg.ExecPath))
	}
	return opts
}

type session struct {
	cfg    Config
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

// Check logs in, dismisses popups, selects the outlet row when the id carries
// a marker, and reads the status indicator.
func (s *session) Check(ctx context.Context, outlet model.Outlet) (string, error) {
	stop := context.AfterFunc(ctx, s.cancel)
	defer stop()

	log := s.logger.With("outlet_id", outlet.ID)

	if err := s.run(s.cfg.ElementTimeout,
		chromedp.Navigate(s.cfg.LoginURL),
		chromedp.WaitVisible(usernameSel, chromedp.ByQuery),
		chromedp.SendKeys(usernameSel, outlet.Username, chromedp.ByQuery),
		chromedp.WaitVisible(passwordSel, chromedp.ByQuery),
		chromedp.SendKeys(passwordSel, outlet.Password, chromedp.ByQuery),
		chromedp.Click(submitXPath, chromedp.BySearch, chromedp.NodeVisible),
	); err != nil {
		return "", fmt.Errorf("login: %w", err)
	}
	log.Debug("submitted login")

	s.dismiss(log, "continue", continuePopupXPath)
	s.dismiss(log, "close", closePopupXPath)

	if err := s.run(s.cfg.ElementTimeout, chromedp.Navigate(s.cfg.OrdersURL)); err != nil {
		return "", fmt.Errorf("open orders page: %w", err)
	}

	if xpath, ok := outletXPath(outlet); ok {
		if err := s.run(s.cfg.SelectTimeout,
			chromedp.ScrollIntoView(xpath, chromedp.BySearch),
			chromedp.Click(xpath, chromedp.BySearch, chromedp.NodeVisible),
		); err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "", checker.Terminal(fmt.Errorf("%w: %w", ErrSelectOutlet, err))
		}
		log.Debug("selected outlet row", "row", outlet.Selection())
	}

	var status string
	if err := s.run(s.cfg.ElementTimeout,
		chromedp.WaitVisible(statusXPath, chromedp.BySearch),
		chromedp.Text(statusXPath, &status, chromedp.BySearch),
	); err != nil {
		return "", fmt.Errorf("read status: %w", err)
	}
	return strings.TrimSpace(status), nil
}

// run executes actions with their own step timeout inside the session.
func (s *session) run(timeout time.Duration, actions ...chromedp.Action) error {
	ctx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()
	return chromedp.Run(ctx, actions...)
}

// dismiss clicks an optional popup button if it shows up in time.
func (s *session) dismiss(log *slog.Logger, name, xpath string) {
	if err := s.run(s.cfg.PopupTimeout, chromedp.Click(xpath, chromedp.BySearch, chromedp.NodeVisible)); err != nil {
		log.Debug("no popup to dismiss", "popup", name)
		return
	}
	log.Debug("dismissed popup", "popup", name)
}

func (s *session) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// outletXPath returns the outlet row to click for marked ids: "*" picks the
// first row, "**" the second.
func outletXPath(o model.Outlet) (string, bool) {
	sel := o.Selection()
	if sel == 0 {
		return "", false
	}
	// Row 1 of the table body is the header.
	return fmt.Sprintf(outletRowXPath, sel+1), true
}
