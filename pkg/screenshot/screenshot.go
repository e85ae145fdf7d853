package screenshot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"bilisub/pkg/config"
	"bilisub/pkg/imagecache"
	"bilisub/pkg/logger"
	"bilisub/pkg/models"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// ErrDisabled is returned by a capturer that was not configured
var ErrDisabled = errors.New("screenshots disabled")

// Capturer renders a dynamic to an image file and returns its path
type Capturer interface {
	Capture(ctx context.Context, dyn models.Dynamic) (string, error)
	Close() error
}

// Store is where captured images are kept
type Store interface {
	Put(kind imagecache.Kind, name string, data []byte) (string, error)
}

// New returns a RodCapturer when screenshots are enabled and a no-op
// capturer otherwise
func New(cfg config.ScreenshotConfig, store Store, log logger.Logger) Capturer {
	if !cfg.Enabled {
		return Disabled{}
	}
	return NewRodCapturer(cfg, store, log)
}

// Disabled always fails with ErrDisabled
type Disabled struct{}

func (Disabled) Capture(context.Context, models.Dynamic) (string, error) { return "", ErrDisabled }
func (Disabled) Close() error                                           { return nil }

// RodCapturer drives a shared Chromium instance. The browser is launched on
// first use; pages are opened one per capture.
type RodCapturer struct {
	cfg    config.ScreenshotConfig
	store  Store
	logger logger.Logger

	mu      sync.Mutex
	browser *rod.Browser
}

// NewRodCapturer creates a capturer; no browser is started until Capture
func NewRodCapturer(cfg config.ScreenshotConfig, store Store, log logger.Logger) *RodCapturer {
	if log == nil {
		log = logger.NewNopLogger()
	}
	if cfg.Width <= 0 {
		cfg.Width = 750
	}
	if cfg.Height <= 0 {
		cfg.Height = 1334
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &RodCapturer{
		cfg:    cfg,
		store:  store,
		logger: log.WithField("component", "screenshot"),
	}
}

func (c *RodCapturer) ensureBrowser() (*rod.Browser, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.browser != nil {
		return c.browser, nil
	}

	l := launcher.New().Headless(true).Set("disable-gpu")
	if c.cfg.Browser != "" {
		l = l.Bin(c.cfg.Browser)
	}
	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}
	c.browser = browser

	c.logger.InfoWithFields("Browser started", map[string]interface{}{
		"width":  c.cfg.Width,
		"height": c.cfg.Height,
	})
	return browser, nil
}

// Capture loads the mobile page of dyn and stores a PNG of the viewport
func (c *RodCapturer) Capture(ctx context.Context, dyn models.Dynamic) (string, error) {
	if dyn.ID == "" {
		return "", errors.New("dynamic has no id")
	}

	browser, err := c.ensureBrowser()
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	start := time.Now()
	page, err := browser.Context(ctx).Page(proto.TargetCreateTarget{})
	if err != nil {
		return "", fmt.Errorf("failed to open page: %w", err)
	}
	defer func() {
		if err := page.Close(); err != nil {
			c.logger.WithError(err).Debug("Failed to close page")
		}
	}()

	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             c.cfg.Width,
		Height:            c.cfg.Height,
		DeviceScaleFactor: 1,
		Mobile:            true,
	}); err != nil {
		return "", fmt.Errorf("failed to set viewport: %w", err)
	}

	if err := page.Navigate(dyn.MobileLink()); err != nil {
		return "", fmt.Errorf("failed to load %s: %w", dyn.MobileLink(), err)
	}
	if err := page.WaitLoad(); err != nil {
		return "", fmt.Errorf("failed to wait for %s: %w", dyn.MobileLink(), err)
	}

	data, err := page.Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return "", fmt.Errorf("failed to capture %s: %w", dyn.ID, err)
	}

	path, err := c.store.Put(imagecache.KindScreenshot, fileName(dyn), data)
	if err != nil {
		return "", err
	}

	c.logger.DebugWithFields("Captured dynamic", map[string]interface{}{
		"dynamic_id": dyn.ID,
		"bytes":      len(data),
		"duration":   time.Since(start),
	})
	return path, nil
}

// Close shuts the browser down if it was started
func (c *RodCapturer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.browser == nil {
		return nil
	}
	err := c.browser.Close()
	c.browser = nil
	return err
}

func fileName(dyn models.Dynamic) string {
	return "dynamic-" + dyn.ID + ".png"
}
