package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/pricelens/backend/internal/domain"
)

type stubPerception struct {
	detections *domain.Detections
	err        error
	calls      int
}

func (s *stubPerception) Analyze(ctx context.Context, image []byte) (*domain.Detections, error) {
	s.calls++
	return s.detections, s.err
}

func detection(tag domain.DetectionTag, text string, y int) domain.Detection {
	return domain.Detection{Tag: tag, Text: text, Box: domain.Box{X: 40, Y: y, Width: 200, Height: 40}}
}

func observeWith(t *testing.T, d *domain.Detections) *domain.ScreenObservation {
	t.Helper()
	adapter := NewPerceptionAdapter(&stubPerception{detections: d}, NewPriceParser("INR"), nil)
	obs, err := adapter.Observe(context.Background(), &domain.ScreenCapture{Data: testPNG})
	if err != nil {
		t.Fatalf("Observe() error = %v", err)
	}
	return obs
}

func TestPerceptionAdapter_RejectsBadCapture(t *testing.T) {
	provider := &stubPerception{detections: &domain.Detections{}}
	adapter := NewPerceptionAdapter(provider, NewPriceParser("INR"), nil)

	tests := []struct {
		name    string
		capture *domain.ScreenCapture
	}{
		{name: "nil capture", capture: nil},
		{name: "empty data", capture: &domain.ScreenCapture{}},
		{name: "not an image", capture: &domain.ScreenCapture{Data: []byte("<html>oops</html>")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := adapter.Observe(context.Background(), tt.capture)
			if !errors.Is(err, domain.ErrPerception) {
				t.Errorf("Observe() error = %v, want ErrPerception", err)
			}
		})
	}
	if provider.calls != 0 {
		t.Errorf("provider called %d times for unreadable captures", provider.calls)
	}
}

func TestPerceptionAdapter_ProviderError(t *testing.T) {
	adapter := NewPerceptionAdapter(&stubPerception{err: errors.New("quota exceeded")}, NewPriceParser("INR"), nil)

	_, err := adapter.Observe(context.Background(), &domain.ScreenCapture{Data: testPNG})
	if !errors.Is(err, domain.ErrPerception) {
		t.Errorf("Observe() error = %v, want ErrPerception", err)
	}
}

func TestPerceptionAdapter_ProductPage(t *testing.T) {
	d := &domain.Detections{
		Scrollable: true,
		Items: []domain.Detection{
			// Deliberately out of reading order
			detection(domain.TagPrice, "₹17,499", 300),
			detection(domain.TagStruckPrice, "₹24,999", 340),
			detection(domain.TagTitle, m34Title, 100),
			detection(domain.TagStock, "Only 3 left in stock", 400),
			{Tag: domain.TagVariant, Text: "8GB | 128GB", PriceHint: "₹18,999", Box: domain.Box{X: 400, Y: 600, Width: 100, Height: 60}},
			{Tag: domain.TagVariant, Text: "6GB | 128GB", Box: domain.Box{X: 100, Y: 600, Width: 100, Height: 60}},
			{Tag: domain.TagAddToCart, Text: "Add to Cart", Box: cartButton},
			{Tag: domain.TagSimilarItem, Text: "Galaxy M14 5G", PriceHint: "₹12,490", Box: domain.Box{X: 40, Y: 2000, Width: 300, Height: 300}},
			detection(domain.TagSimilarSection, "Similar products", 1950),
		},
	}

	obs := observeWith(t, d)

	if obs.Title != m34Title {
		t.Errorf("Title = %q", obs.Title)
	}
	if obs.Primary == nil {
		t.Fatalf("Primary = nil, PriceErr = %v", obs.PriceErr)
	}
	wantPrice(t, obs.Primary.Price, 17499)
	if obs.Stock != domain.InStock || obs.Primary.Stock != domain.InStock {
		t.Errorf("Stock = %s, want in_stock", obs.Stock)
	}
	if !obs.Scrollable {
		t.Error("Scrollable = false")
	}

	if len(obs.Variants) != 2 {
		t.Fatalf("Variants = %d, want 2", len(obs.Variants))
	}
	if obs.Variants[0].Label != "6GB | 128GB" || obs.Variants[0].PriceHint != nil {
		t.Errorf("Variants[0] = %+v, want the unhinted left option first", obs.Variants[0])
	}
	wantPrice(t, obs.Variants[1].PriceHint, 18999)
	if got := obs.Variants[1].Point; got != (domain.Point{X: 450, Y: 630}) {
		t.Errorf("Variants[1].Point = %+v, want box center", got)
	}

	if len(obs.SimilarItems) != 1 {
		t.Fatalf("SimilarItems = %d, want 1", len(obs.SimilarItems))
	}
	wantPrice(t, obs.SimilarItems[0].PriceHint, 12490)
	if obs.SimilarSection == nil {
		t.Error("SimilarSection = nil")
	}
	if obs.AddToCart == nil || *obs.AddToCart != cartButton {
		t.Errorf("AddToCart = %v, want %v", obs.AddToCart, cartButton)
	}
	if obs.CartConfirmed || obs.PageError {
		t.Errorf("CartConfirmed = %v, PageError = %v", obs.CartConfirmed, obs.PageError)
	}
}

func TestPerceptionAdapter_Stock(t *testing.T) {
	tests := []struct {
		name  string
		items []domain.Detection
		want  domain.StockStatus
	}{
		{
			name:  "sold out",
			items: []domain.Detection{detection(domain.TagTitle, m34Title, 100), detection(domain.TagPrice, "₹17,499", 200), detection(domain.TagStock, "Sold Out", 300)},
			want:  domain.OutOfStock,
		},
		{
			name:  "add to cart implies stock",
			items: []domain.Detection{detection(domain.TagTitle, m34Title, 100), detection(domain.TagPrice, "₹17,499", 200), detection(domain.TagAddToCart, "ADD TO CART", 900)},
			want:  domain.InStock,
		},
		{
			name:  "no cue",
			items: []domain.Detection{detection(domain.TagTitle, m34Title, 100), detection(domain.TagPrice, "₹17,499", 200)},
			want:  domain.StockUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obs := observeWith(t, &domain.Detections{Items: tt.items})
			if obs.Stock != tt.want {
				t.Errorf("Stock = %s, want %s", obs.Stock, tt.want)
			}
			if obs.Primary == nil {
				t.Fatal("Primary = nil")
			}
			if obs.Primary.Valid() != (tt.want == domain.InStock) {
				t.Errorf("Valid() = %v for stock %s", obs.Primary.Valid(), tt.want)
			}
		})
	}
}

func TestPerceptionAdapter_NoPrice(t *testing.T) {
	obs := observeWith(t, &domain.Detections{Items: []domain.Detection{detection(domain.TagTitle, m34Title, 100)}})

	if obs.Primary != nil {
		t.Errorf("Primary = %+v, want nil", obs.Primary)
	}
	if !errors.Is(obs.PriceErr, domain.ErrParse) {
		t.Errorf("PriceErr = %v, want ErrParse", obs.PriceErr)
	}
}

func TestPerceptionAdapter_AmbiguousPrice(t *testing.T) {
	obs := observeWith(t, &domain.Detections{Items: []domain.Detection{
		detection(domain.TagTitle, m34Title, 100),
		detection(domain.TagPrice, "₹17,499", 200),
		detection(domain.TagPrice, "$209.99", 240),
	}})

	if obs.Primary != nil {
		t.Errorf("Primary = %+v, want nil", obs.Primary)
	}
	if !errors.Is(obs.PriceErr, domain.ErrAmbiguousPrice) {
		t.Errorf("PriceErr = %v, want ErrAmbiguousPrice", obs.PriceErr)
	}
}

func TestPerceptionAdapter_EmptyScreen(t *testing.T) {
	obs := observeWith(t, nil)
	if !obs.Empty() {
		t.Errorf("observation = %+v, want empty", obs)
	}
}

func TestPerceptionAdapter_PageError(t *testing.T) {
	tests := []struct {
		name  string
		items []domain.Detection
		want  bool
	}{
		{name: "tagged", items: []domain.Detection{detection(domain.TagPageError, "Page not found", 400)}, want: true},
		{name: "error copy without product", items: []domain.Detection{detection(domain.TagStock, "Oops! Something went wrong", 400)}, want: true},
		{name: "error copy on product page", items: []domain.Detection{detection(domain.TagTitle, m34Title, 100), detection(domain.TagStock, "Something went wrong loading offers", 400)}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obs := observeWith(t, &domain.Detections{Items: tt.items})
			if obs.PageError != tt.want {
				t.Errorf("PageError = %v, want %v", obs.PageError, tt.want)
			}
		})
	}
}

func TestPerceptionAdapter_CartConfirmation(t *testing.T) {
	tests := []struct {
		name string
		item domain.Detection
	}{
		{name: "tag", item: detection(domain.TagCartConfirmation, "✓", 1800)},
		{name: "go to cart text", item: detection(domain.TagAddToCart, "GO TO CART", 1800)},
		{name: "added to bag text", item: detection(domain.TagStock, "Added to bag", 1800)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obs := observeWith(t, &domain.Detections{Items: []domain.Detection{tt.item}})
			if !obs.CartConfirmed {
				t.Error("CartConfirmed = false")
			}
		})
	}
}
