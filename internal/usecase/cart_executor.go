package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/pricelens/backend/internal/domain"
	"go.uber.org/zap"
)

// CartConfig holds configuration for the cart executor
type CartConfig struct {
	TapAttempts int
	VerifyReads int
	SettleDelay time.Duration
	StepTimeout time.Duration
}

// CartExecutor taps the add-to-cart control and checks for confirmation.
type CartExecutor struct {
	device     domain.DeviceController
	perception *PerceptionAdapter
	logger     *zap.Logger
	cfg        CartConfig
}

// NewCartExecutor creates a new cart executor
func NewCartExecutor(device domain.DeviceController, perception *PerceptionAdapter, logger *zap.Logger, cfg CartConfig) *CartExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TapAttempts <= 0 {
		cfg.TapAttempts = 1
	}
	if cfg.VerifyReads <= 0 {
		cfg.VerifyReads = 2
	}
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = 30 * time.Second
	}
	return &CartExecutor{
		device:     device,
		perception: perception,
		logger:     logger.With(zap.String("component", "cart")),
		cfg:        cfg,
	}
}

// AddToCart taps the add-to-cart region of screen and waits for a
// confirmation cue. A screen already showing "go to cart" counts as done.
func (c *CartExecutor) AddToCart(ctx context.Context, screen *domain.ScreenObservation) error {
	if screen == nil {
		return fmt.Errorf("%w: no screen", domain.ErrCart)
	}
	if screen.CartConfirmed {
		c.logger.Info("product already in cart")
		return nil
	}
	if screen.AddToCart == nil {
		return fmt.Errorf("%w: no add-to-cart control on screen", domain.ErrCart)
	}

	pt := screen.AddToCart.Center()
	var lastErr error
	for attempt := 1; attempt <= c.cfg.TapAttempts; attempt++ {
		c.logger.Info("tapping add to cart", zap.Int("x", pt.X), zap.Int("y", pt.Y), zap.Int("attempt", attempt))

		tapCtx, cancel := context.WithTimeout(ctx, c.cfg.StepTimeout)
		err := c.device.Tap(tapCtx, pt.X, pt.Y)
		cancel()
		if err != nil {
			lastErr = fmt.Errorf("tap: %w", err)
			continue
		}

		confirmed, err := c.confirmed(ctx)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}
		if confirmed {
			return nil
		}
		lastErr = fmt.Errorf("no confirmation after tap %d", attempt)
	}

	return fmt.Errorf("%w: %v", domain.ErrCart, lastErr)
}

// confirmed re-reads the screen a few times looking for a cart confirmation.
func (c *CartExecutor) confirmed(ctx context.Context) (bool, error) {
	var lastErr error
	for read := 1; read <= c.cfg.VerifyReads; read++ {
		if c.cfg.SettleDelay > 0 {
			select {
			case <-time.After(c.cfg.SettleDelay):
			case <-ctx.Done():
				return false, ctx.Err()
			}
		}

		capCtx, cancel := context.WithTimeout(ctx, c.cfg.StepTimeout)
		capture, err := c.device.CaptureScreen(capCtx)
		cancel()
		if err != nil {
			lastErr = err
			continue
		}
		screen, err := c.perception.Observe(ctx, capture)
		if err != nil {
			lastErr = err
			continue
		}
		if screen.CartConfirmed {
			return true, nil
		}
	}
	return false, lastErr
}
