package device

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pricelens/backend/internal/domain"
	"go.uber.org/zap"
)

var (
	pngMagic = []byte("\x89PNG\r\n\x1a\n")

	// "Physical size: 1080x2400" / "Override size: 720x1600"
	wmSizePattern = regexp.MustCompile(`(Physical|Override) size:\s*(\d+)x(\d+)`)
)

// commandRunner runs a host command and returns its stdout
type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return out, nil
}

// ADBConfig holds configuration for the ADB device controller
type ADBConfig struct {
	Path          string
	Serial        string
	Browser       string // package that opens URLs, e.g. com.android.chrome; empty lets Android choose
	SettleDelay   time.Duration
	SwipeDuration time.Duration
}

// ADBController drives an Android phone over adb.
type ADBController struct {
	runner        commandRunner
	path          string
	serial        string
	browser       string
	settleDelay   time.Duration
	swipeDuration time.Duration
	logger        *zap.Logger

	mu            sync.Mutex
	width, height int
}

// NewADBController creates a controller shelling out to the adb binary
func NewADBController(cfg ADBConfig, logger *zap.Logger) *ADBController {
	return newADBController(execRunner{}, cfg, logger)
}

func newADBController(runner commandRunner, cfg ADBConfig, logger *zap.Logger) *ADBController {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Path == "" {
		cfg.Path = "adb"
	}
	if cfg.SwipeDuration <= 0 {
		cfg.SwipeDuration = 300 * time.Millisecond
	}
	return &ADBController{
		runner:        runner,
		path:          cfg.Path,
		serial:        cfg.Serial,
		browser:       cfg.Browser,
		settleDelay:   cfg.SettleDelay,
		swipeDuration: cfg.SwipeDuration,
		logger:        logger.With(zap.String("component", "adb")),
	}
}

// Navigate opens url with a VIEW intent and waits for the page to settle.
func (a *ADBController) Navigate(ctx context.Context, url string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	args := []string{"shell", "am", "start", "-a", "android.intent.action.VIEW", "-d", shellQuote(url)}
	if a.browser != "" {
		args = append(args, "-p", a.browser)
	}
	a.logger.Debug("navigating", zap.String("url", url))
	if _, err := a.adb(ctx, args...); err != nil {
		return err
	}
	return a.settle(ctx, 2*a.settleDelay)
}

// Tap taps a screen point.
func (a *ADBController) Tap(ctx context.Context, x, y int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.logger.Debug("tapping", zap.Int("x", x), zap.Int("y", y))
	if _, err := a.adb(ctx, "shell", "input", "tap", strconv.Itoa(x), strconv.Itoa(y)); err != nil {
		return err
	}
	return a.settle(ctx, a.settleDelay)
}

// Scroll swipes vertically through the middle of the screen, from 75% to 25%
// of its height for each unit of amount.
func (a *ADBController) Scroll(ctx context.Context, dir domain.Direction, amount int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	w, h, err := a.size(ctx)
	if err != nil {
		return err
	}
	if amount <= 0 {
		amount = 1
	}

	x := w / 2
	from, to := h*3/4, h/4
	if dir == domain.ScrollUp {
		from, to = to, from
	}
	ms := strconv.FormatInt(a.swipeDuration.Milliseconds(), 10)

	for i := 0; i < amount; i++ {
		_, err := a.adb(ctx, "shell", "input", "swipe",
			strconv.Itoa(x), strconv.Itoa(from), strconv.Itoa(x), strconv.Itoa(to), ms)
		if err != nil {
			return err
		}
	}
	return a.settle(ctx, a.settleDelay)
}

// CaptureScreen grabs a PNG screenshot.
func (a *ADBController) CaptureScreen(ctx context.Context) (*domain.ScreenCapture, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	data, err := a.adb(ctx, "exec-out", "screencap", "-p")
	if err != nil {
		return nil, err
	}
	if !bytes.HasPrefix(data, pngMagic) {
		return nil, errors.New("screencap did not return a PNG")
	}

	w, h, err := a.size(ctx)
	if err != nil {
		return nil, err
	}
	return &domain.ScreenCapture{Data: data, Width: w, Height: h, CapturedAt: time.Now()}, nil
}

// size returns the screen geometry, preferring an override size.
func (a *ADBController) size(ctx context.Context) (int, int, error) {
	if a.width > 0 && a.height > 0 {
		return a.width, a.height, nil
	}
	out, err := a.adb(ctx, "shell", "wm", "size")
	if err != nil {
		return 0, 0, err
	}

	var w, h int
	for _, m := range wmSizePattern.FindAllStringSubmatch(string(out), -1) {
		w, _ = strconv.Atoi(m[2])
		h, _ = strconv.Atoi(m[3])
		if m[1] == "Override" {
			break
		}
	}
	if w == 0 || h == 0 {
		return 0, 0, fmt.Errorf("unexpected wm size output %q", strings.TrimSpace(string(out)))
	}
	a.width, a.height = w, h
	return w, h, nil
}

func (a *ADBController) adb(ctx context.Context, args ...string) ([]byte, error) {
	if a.serial != "" {
		args = append([]string{"-s", a.serial}, args...)
	}
	return a.runner.Run(ctx, a.path, args...)
}

func (a *ADBController) settle(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// shellQuote quotes s for the device shell that adb hands its arguments to.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

var _ domain.DeviceController = (*ADBController)(nil)
