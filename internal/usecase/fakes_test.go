package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"sync"

	"github.com/pricelens/backend/internal/domain"
)

var testPNG = func() []byte {
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 1, 1))); err != nil {
		panic(err)
	}
	return buf.Bytes()
}()

var cartButton = domain.Box{X: 100, Y: 1800, Width: 400, Height: 100}

// fakePage is one scripted screen of the fake world.
type fakePage struct {
	items      []domain.Detection
	scrollable bool
	scrolled   [][]domain.Detection
	taps       map[domain.Point]string
	stock      []string
	hasCart    bool
}

func productPage(title, price, stock string) *fakePage {
	p := &fakePage{
		items: []domain.Detection{
			{Tag: domain.TagTitle, Text: title, Box: domain.Box{X: 40, Y: 100, Width: 900, Height: 60}},
			{Tag: domain.TagPrice, Text: price, Box: domain.Box{X: 40, Y: 200, Width: 300, Height: 50}},
			{Tag: domain.TagAddToCart, Text: "Add to Cart", Box: cartButton},
		},
		taps:    make(map[domain.Point]string),
		hasCart: true,
	}
	if stock != "" {
		p.stock = []string{stock}
	}
	return p
}

func (p *fakePage) withVariant(label, hint string, at domain.Point, dest string) *fakePage {
	p.items = append(p.items, domain.Detection{
		Tag:       domain.TagVariant,
		Text:      label,
		PriceHint: hint,
		Box:       domain.Box{X: at.X - 10, Y: at.Y - 10, Width: 20, Height: 20},
	})
	p.taps[at] = dest
	return p
}

// withScrolledSimilar adds a screen shown after scrolling, listing similar items.
func (p *fakePage) withScrolledSimilar(items map[domain.Point][2]string, dests map[domain.Point]string) *fakePage {
	p.scrollable = true
	screen := []domain.Detection{{Tag: domain.TagSimilarSection, Text: "Similar products", Box: domain.Box{X: 0, Y: 900, Width: 1080, Height: 40}}}
	for at, titleHint := range items {
		screen = append(screen, domain.Detection{
			Tag:       domain.TagSimilarItem,
			Text:      titleHint[0],
			PriceHint: titleHint[1],
			Box:       domain.Box{X: at.X - 10, Y: at.Y - 10, Width: 20, Height: 20},
		})
	}
	p.scrolled = append(p.scrolled, screen)
	for at, dest := range dests {
		p.taps[at] = dest
	}
	return p
}

// withScrolledScreen adds a screen shown after scrolling with exactly dets on it.
func (p *fakePage) withScrolledScreen(dets ...domain.Detection) *fakePage {
	p.scrollable = true
	p.scrolled = append(p.scrolled, dets)
	return p
}

func (p *fakePage) withStockSequence(seq ...string) *fakePage {
	p.stock = seq
	return p
}

// fakeWorld is a scripted device whose screens are read by the paired
// perception provider.
type fakeWorld struct {
	mu sync.Mutex

	pages    map[string]*fakePage
	generate func(key string) *fakePage

	current     string
	scrollDepth int
	reads       map[string]int
	inCart      map[string]bool

	navigations []string
	taps        []domain.Point
	cartTaps    map[string]int
	scrolls     int

	failNavigate map[string]bool
	hangNavigate map[string]bool
	perceiveErr  error
}

func newFakeWorld() *fakeWorld {
	return &fakeWorld{
		pages:        make(map[string]*fakePage),
		reads:        make(map[string]int),
		inCart:       make(map[string]bool),
		cartTaps:     make(map[string]int),
		failNavigate: make(map[string]bool),
		hangNavigate: make(map[string]bool),
	}
}

func (w *fakeWorld) page(key string) *fakePage {
	if p, ok := w.pages[key]; ok {
		return p
	}
	if w.generate != nil {
		p := w.generate(key)
		w.pages[key] = p
		return p
	}
	return nil
}

func (w *fakeWorld) Navigate(ctx context.Context, url string) error {
	w.mu.Lock()
	w.navigations = append(w.navigations, url)
	if w.hangNavigate[url] {
		w.mu.Unlock()
		<-ctx.Done()
		return ctx.Err()
	}
	defer w.mu.Unlock()
	if w.failNavigate[url] {
		return errors.New("net::ERR_CONNECTION_RESET")
	}
	w.current = url
	w.scrollDepth = 0
	return nil
}

func (w *fakeWorld) Scroll(ctx context.Context, dir domain.Direction, amount int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.scrolls++
	w.scrollDepth++
	return nil
}

func (w *fakeWorld) Tap(ctx context.Context, x, y int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	pt := domain.Point{X: x, Y: y}
	w.taps = append(w.taps, pt)

	p := w.page(w.current)
	if p == nil {
		return nil
	}
	if p.hasCart && pt == cartButton.Center() {
		w.cartTaps[w.current]++
		w.inCart[w.current] = true
		return nil
	}
	if dest, ok := p.taps[pt]; ok {
		w.current = dest
		w.scrollDepth = 0
	}
	return nil
}

func (w *fakeWorld) CaptureScreen(ctx context.Context) (*domain.ScreenCapture, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return &domain.ScreenCapture{Data: testPNG, Width: 1080, Height: 2400, URL: w.current}, nil
}

func (w *fakeWorld) Analyze(ctx context.Context, image []byte) (*domain.Detections, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.perceiveErr != nil {
		return nil, w.perceiveErr
	}

	p := w.page(w.current)
	if p == nil {
		return &domain.Detections{}, nil
	}

	if w.scrollDepth > 0 && len(p.scrolled) > 0 {
		i := min(w.scrollDepth, len(p.scrolled)) - 1
		return &domain.Detections{Items: append([]domain.Detection(nil), p.scrolled[i]...), Scrollable: true}, nil
	}

	items := append([]domain.Detection(nil), p.items...)
	if len(p.stock) > 0 {
		n := w.reads[w.current]
		w.reads[w.current]++
		items = append(items, domain.Detection{
			Tag:  domain.TagStock,
			Text: p.stock[min(n, len(p.stock)-1)],
			Box:  domain.Box{X: 40, Y: 260, Width: 300, Height: 40},
		})
	}
	if w.inCart[w.current] {
		items = append(items, domain.Detection{Tag: domain.TagCartConfirmation, Text: "Go to Cart", Box: cartButton})
	}
	return &domain.Detections{Items: items, Scrollable: p.scrollable}, nil
}

func (w *fakeWorld) navigationCount(url string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, u := range w.navigations {
		if u == url {
			n++
		}
	}
	return n
}

// staticSource returns fixed candidates.
type staticSource struct {
	candidates []domain.Candidate
	err        error
}

func (s staticSource) Search(ctx context.Context, query string) ([]domain.Candidate, error) {
	return s.candidates, s.err
}

// spyCart counts AddToCart calls and the page they were made on.
type spyCart struct {
	inner *CartExecutor
	world *fakeWorld
	calls int
	pages []string
}

func (s *spyCart) AddToCart(ctx context.Context, screen *domain.ScreenObservation) error {
	s.calls++
	s.world.mu.Lock()
	s.pages = append(s.pages, s.world.current)
	s.world.mu.Unlock()
	return s.inner.AddToCart(ctx, screen)
}

// fakeCaptureStore tracks capture files without touching disk.
type fakeCaptureStore struct {
	mu       sync.Mutex
	live     map[string]bool
	saved    int
	cleanups []string
}

func newFakeCaptureStore() *fakeCaptureStore {
	return &fakeCaptureStore{live: make(map[string]bool)}
}

func (s *fakeCaptureStore) Save(ctx context.Context, sessionID string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved++
	path := fmt.Sprintf("%s/%d.png", sessionID, s.saved)
	s.live[path] = true
	return path, nil
}

func (s *fakeCaptureStore) Remove(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.live, path)
	return nil
}

func (s *fakeCaptureStore) Cleanup(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanups = append(s.cleanups, sessionID)
	return nil
}

type testLoop struct {
	loop     *DecisionLoop
	cart     *spyCart
	captures *fakeCaptureStore
}

func defaultLoopConfig() LoopConfig {
	return LoopConfig{
		MaxSteps:          40,
		MaxFailures:       5,
		MaxScrollsPerPage: 5,
		DeviceRetries:     1,
		TrustPriceHints:   true,
		AddToCart:         true,
	}
}

func newTestLoop(w *fakeWorld, source CandidateSource, cfg LoopConfig) *testLoop {
	parser := NewPriceParser("INR")
	engine := NewSignatureEngine(SignatureConfig{EnableFuzzyMatching: true})
	adapter := NewPerceptionAdapter(w, parser, nil)
	cart := &spyCart{inner: NewCartExecutor(w, adapter, nil, CartConfig{}), world: w}
	captures := newFakeCaptureStore()

	loop := NewDecisionLoop(LoopDeps{
		Search:     source,
		Ranker:     NewCandidateRanker(parser, 25),
		Engine:     engine,
		Perception: adapter,
		Device:     w,
		Cart:       cart,
		Captures:   captures,
	}, cfg)
	return &testLoop{loop: loop, cart: cart, captures: captures}
}
