package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pricelens/backend/internal/domain"
)

func newTestCartExecutor(w *fakeWorld) (*CartExecutor, *PerceptionAdapter) {
	adapter := NewPerceptionAdapter(w, NewPriceParser("INR"), nil)
	return NewCartExecutor(w, adapter, nil, CartConfig{TapAttempts: 2}), adapter
}

func readScreen(t *testing.T, w *fakeWorld, adapter *PerceptionAdapter) *domain.ScreenObservation {
	t.Helper()
	capture, err := w.CaptureScreen(context.Background())
	if err != nil {
		t.Fatalf("CaptureScreen() error = %v", err)
	}
	screen, err := adapter.Observe(context.Background(), capture)
	if err != nil {
		t.Fatalf("Observe() error = %v", err)
	}
	return screen
}

func TestCartExecutor_AddToCart(t *testing.T) {
	w := newFakeWorld()
	w.pages["p"] = productPage(m34Title, "₹17,499", "In stock")
	w.current = "p"
	cart, adapter := newTestCartExecutor(w)

	err := cart.AddToCart(context.Background(), readScreen(t, w, adapter))
	if err != nil {
		t.Fatalf("AddToCart() error = %v", err)
	}
	if w.cartTaps["p"] != 1 {
		t.Errorf("cart taps = %d, want 1", w.cartTaps["p"])
	}
}

func TestCartExecutor_AlreadyInCart(t *testing.T) {
	w := newFakeWorld()
	w.pages["p"] = productPage(m34Title, "₹17,499", "In stock")
	w.current = "p"
	w.inCart["p"] = true
	cart, adapter := newTestCartExecutor(w)

	if err := cart.AddToCart(context.Background(), readScreen(t, w, adapter)); err != nil {
		t.Fatalf("AddToCart() error = %v", err)
	}
	if len(w.taps) != 0 {
		t.Errorf("taps = %v, want none", w.taps)
	}
}

func TestCartExecutor_Failures(t *testing.T) {
	tests := []struct {
		name     string
		screen   func(w *fakeWorld, adapter *PerceptionAdapter) *domain.ScreenObservation
		wantTaps int
	}{
		{
			name:   "no screen",
			screen: func(*fakeWorld, *PerceptionAdapter) *domain.ScreenObservation { return nil },
		},
		{
			name: "no control",
			screen: func(*fakeWorld, *PerceptionAdapter) *domain.ScreenObservation {
				return &domain.ScreenObservation{Title: m34Title}
			},
		},
		{
			name: "tap never confirmed",
			screen: func(w *fakeWorld, adapter *PerceptionAdapter) *domain.ScreenObservation {
				// The control is on screen but does nothing
				w.pages["p"].hasCart = false
				return &domain.ScreenObservation{Title: m34Title, AddToCart: &cartButton}
			},
			wantTaps: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := newFakeWorld()
			w.pages["p"] = productPage(m34Title, "₹17,499", "In stock")
			w.current = "p"
			cart, adapter := newTestCartExecutor(w)

			err := cart.AddToCart(context.Background(), tt.screen(w, adapter))
			if !errors.Is(err, domain.ErrCart) {
				t.Errorf("AddToCart() error = %v, want ErrCart", err)
			}
			if len(w.taps) != tt.wantTaps {
				t.Errorf("taps = %d, want %d", len(w.taps), tt.wantTaps)
			}
		})
	}
}

func TestCartExecutor_Cancelled(t *testing.T) {
	w := newFakeWorld()
	w.pages["p"] = productPage(m34Title, "₹17,499", "In stock")
	w.current = "p"
	w.pages["p"].hasCart = false
	adapter := NewPerceptionAdapter(w, NewPriceParser("INR"), nil)
	cart := NewCartExecutor(w, adapter, nil, CartConfig{SettleDelay: time.Minute})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := cart.AddToCart(ctx, &domain.ScreenObservation{AddToCart: &cartButton})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("AddToCart() error = %v, want context.Canceled", err)
	}
}
