package device

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
	"github.com/pricelens/backend/internal/domain"
	"go.uber.org/zap"
)

// ChromeConfig holds configuration for the Chrome device controller
type ChromeConfig struct {
	Headless    bool
	ExecPath    string
	UserAgent   string
	Width       int
	Height      int
	Scale       float64
	SettleDelay time.Duration
}

// withDefaults fills in a Pixel 7 sized phone for unset fields.
func (cfg ChromeConfig) withDefaults() ChromeConfig {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		cfg.Width, cfg.Height = 412, 915
	}
	if cfg.Scale <= 0 {
		cfg.Scale = 2.625
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "Mozilla/5.0 (Linux; Android 14; Pixel 7) AppleWebKit/537.36 " +
			"(KHTML, like Gecko) Chrome/120.0.0.0 Mobile Safari/537.36"
	}
	return cfg
}

// toCSS converts a screenshot pixel to viewport CSS pixels.
func (cfg ChromeConfig) toCSS(x, y int) (float64, float64) {
	return float64(x) / cfg.Scale, float64(y) / cfg.Scale
}

// screenSize is the screenshot size in device pixels.
func (cfg ChromeConfig) screenSize() (int, int) {
	return int(float64(cfg.Width) * cfg.Scale), int(float64(cfg.Height) * cfg.Scale)
}

// ChromeController drives a mobile-emulated Chrome over the DevTools protocol.
type ChromeController struct {
	allocCancel context.CancelFunc
	ctx         context.Context
	cancel      context.CancelFunc
	cfg         ChromeConfig
	logger      *zap.Logger
	mu          sync.Mutex
}

// NewChromeController starts Chrome with a phone-sized viewport
func NewChromeController(cfg ChromeConfig, logger *zap.Logger) (*ChromeController, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("lang", "en-US"),
		chromedp.UserAgent(cfg.UserAgent),
	)
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	ctx, cancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...any) {
			logger.Debug(fmt.Sprintf(format, args...))
		}),
	)

	err := chromedp.Run(ctx, chromedp.EmulateViewport(int64(cfg.Width), int64(cfg.Height),
		chromedp.EmulateScale(cfg.Scale), chromedp.EmulateMobile))
	if err != nil {
		cancel()
		allocCancel()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	logger.Info("chrome device started",
		zap.Bool("headless", cfg.Headless),
		zap.Int("viewport_w", cfg.Width),
		zap.Int("viewport_h", cfg.Height))

	return &ChromeController{
		allocCancel: allocCancel,
		ctx:         ctx,
		cancel:      cancel,
		cfg:         cfg,
		logger:      logger.With(zap.String("component", "chrome")),
	}, nil
}

// Navigate loads url in the tab.
func (c *ChromeController) Navigate(ctx context.Context, url string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.logger.Debug("navigating", zap.String("url", url))
	return c.run(ctx, chromedp.Navigate(url), chromedp.Sleep(c.cfg.SettleDelay))
}

// Tap clicks a viewport point given in screenshot pixels.
func (c *ChromeController) Tap(ctx context.Context, x, y int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cx, cy := c.cfg.toCSS(x, y)
	c.logger.Debug("tapping", zap.Int("x", x), zap.Int("y", y))
	return c.run(ctx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			return input.DispatchMouseEvent(input.MousePressed, cx, cy).
				WithButton(input.Left).WithClickCount(1).Do(ctx)
		}),
		chromedp.ActionFunc(func(ctx context.Context) error {
			return input.DispatchMouseEvent(input.MouseReleased, cx, cy).
				WithButton(input.Left).WithClickCount(1).Do(ctx)
		}),
		chromedp.Sleep(c.cfg.SettleDelay),
	)
}

// Scroll moves the page by half a viewport per unit of amount.
func (c *ChromeController) Scroll(ctx context.Context, dir domain.Direction, amount int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	dy := scrollDelta(c.cfg.Height, dir, amount)
	cx, cy := float64(c.cfg.Width)/2, float64(c.cfg.Height)/2
	c.logger.Debug("scrolling", zap.Float64("deltaY", dy))
	return c.run(ctx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			return input.DispatchMouseEvent(input.MouseWheel, cx, cy).
				WithDeltaX(0).
				WithDeltaY(dy).Do(ctx)
		}),
		chromedp.Sleep(c.cfg.SettleDelay),
	)
}

// CaptureScreen takes a viewport screenshot.
func (c *ChromeController) CaptureScreen(ctx context.Context) (*domain.ScreenCapture, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var buf []byte
	var location string
	if err := c.run(ctx, chromedp.CaptureScreenshot(&buf), chromedp.Location(&location)); err != nil {
		return nil, fmt.Errorf("screenshot failed: %w", err)
	}
	width, height := c.cfg.screenSize()
	return &domain.ScreenCapture{
		Data:       buf,
		Width:      width,
		Height:     height,
		URL:        location,
		CapturedAt: time.Now(),
	}, nil
}

// Close shuts the browser down.
func (c *ChromeController) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.logger.Info("closing chrome device")
	c.cancel()
	c.allocCancel()
	return nil
}

// run executes actions on the browser tab, aborting when ctx ends.
func (c *ChromeController) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(c.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

func scrollDelta(viewportHeight int, dir domain.Direction, amount int) float64 {
	if amount <= 0 {
		amount = 1
	}
	dy := float64(viewportHeight) / 2 * float64(amount)
	if dir == domain.ScrollUp {
		dy = -dy
	}
	return dy
}

var _ domain.DeviceController = (*ChromeController)(nil)
