package app

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/pricelens/backend/config"
	"github.com/pricelens/backend/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const m34 = "Samsung Galaxy M34 5G (Midnight Blue, 6GB, 128GB)"

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2, 2))))
	return buf.Bytes()
}

// phone is a device showing the same product page wherever it goes.
type phone struct {
	mu          sync.Mutex
	png         []byte
	navigations []string
}

func (p *phone) Navigate(ctx context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.navigations = append(p.navigations, url)
	return nil
}

func (p *phone) Scroll(ctx context.Context, dir domain.Direction, amount int) error { return nil }
func (p *phone) Tap(ctx context.Context, x, y int) error                            { return nil }

func (p *phone) CaptureScreen(ctx context.Context) (*domain.ScreenCapture, error) {
	return &domain.ScreenCapture{Data: p.png, Width: 2, Height: 2}, nil
}

type productVision struct{}

func (productVision) Analyze(ctx context.Context, img []byte) (*domain.Detections, error) {
	return &domain.Detections{Items: []domain.Detection{
		{Tag: domain.TagTitle, Text: m34, Box: domain.Box{X: 10, Y: 100, Width: 900, Height: 60}},
		{Tag: domain.TagPrice, Text: "₹17,499", Box: domain.Box{X: 10, Y: 200, Width: 300, Height: 50}},
		{Tag: domain.TagStock, Text: "In stock", Box: domain.Box{X: 10, Y: 260, Width: 300, Height: 40}},
	}}, nil
}

// newSerper serves one amazon shopping result and nothing else.
func newSerper(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/shopping" && strings.Contains(string(body), "site:amazon.in") {
			w.Write([]byte(`{"shopping":[{"title":"` + m34 + `","source":"Amazon.in","link":"https://www.amazon.in/hi/dp/B0C7","price":"₹17,499","position":1}]}`))
			return
		}
		w.Write([]byte(`{}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, searchURL string) *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Environment: "test"},
		Search: config.SearchConfig{
			APIKey:              "k",
			BaseURL:             searchURL,
			Country:             "in",
			Language:            "en",
			PerMarketplaceLimit: 25,
			MaxParallel:         2,
			Timeout:             5 * time.Second,
			Rate:                100,
			Burst:               10,
		},
		Marketplaces: []config.MarketplaceConfig{
			{Name: "amazon", Domain: "amazon.in"},
			{Name: "flipkart", Domain: "flipkart.com"},
		},
		Cache:      config.CacheConfig{Type: "memory", TTL: time.Hour},
		Device:     config.DeviceConfig{Driver: "adb"},
		Perception: config.PerceptionConfig{APIKey: "k"},
		Matching:   config.MatchingConfig{SimilarityThreshold: 0.8, EnableFuzzy: true, FuzzyEditDistance: 2},
		Exploration: config.ExplorationConfig{
			MaxSteps:          10,
			MaxDuration:       time.Minute,
			MaxFailures:       3,
			MaxScrollsPerPage: 2,
			StepTimeout:       5 * time.Second,
			Currency:          "INR",
		},
		Cart:    config.CartConfig{Enabled: false},
		Capture: config.CaptureConfig{Dir: t.TempDir()},
	}
}

func TestApp_HuntEndToEnd(t *testing.T) {
	cfg := testConfig(t, newSerper(t).URL)
	dev := &phone{png: pngBytes(t)}

	a, err := build(context.Background(), cfg, nil, overrides{perception: productVision{}, device: dev})
	require.NoError(t, err)
	defer a.Close()

	result, err := a.Loop.Run(context.Background(), domain.HuntRequest{Query: "Samsung Galaxy M34 5G"})
	require.NoError(t, err)

	assert.Equal(t, domain.StateDone, result.State)
	assert.False(t, result.Carted)
	require.NotNil(t, result.Best)
	assert.Equal(t, int64(17499), result.Best.Price.Amount.IntPart())
	assert.Equal(t, "https://www.amazon.in/dp/B0C7", result.Best.Source.URL)
	assert.Equal(t, []string{"https://www.amazon.in/dp/B0C7"}, dev.navigations)

	srv := httptest.NewServer(a.Metrics.Handler())
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), `pricelens_sessions_total{outcome="done"} 1`)
	assert.Contains(t, string(body), `pricelens_search_candidates_total{marketplace="amazon"} 1`)
}

func TestApp_RedisCache(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	cfg := testConfig(t, newSerper(t).URL)
	cfg.Cache = config.CacheConfig{Type: "redis", RedisURL: "redis://" + mr.Addr(), TTL: time.Hour}

	a, err := build(context.Background(), cfg, nil, overrides{perception: productVision{}, device: &phone{png: pngBytes(t)}})
	require.NoError(t, err)

	_, err = a.Loop.Run(context.Background(), domain.HuntRequest{Query: "Samsung Galaxy M34 5G"})
	require.NoError(t, err)
	assert.NotEmpty(t, mr.Keys(), "search results cached in redis")
	assert.NoError(t, a.Close())
}

func TestApp_BuildErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *config.Config)
	}{
		{name: "unknown device driver", mutate: func(c *config.Config) { c.Device.Driver = "ios" }},
		{name: "unknown cache", mutate: func(c *config.Config) { c.Cache.Type = "memcached" }},
		{name: "unreachable redis", mutate: func(c *config.Config) {
			c.Cache = config.CacheConfig{Type: "redis", RedisURL: "redis://127.0.0.1:1"}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t, "http://127.0.0.1:1")
			tt.mutate(cfg)
			_, err := build(context.Background(), cfg, nil, overrides{perception: productVision{}})
			assert.Error(t, err)
		})
	}
}

func TestApp_ADBDevice(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1")

	a, err := build(context.Background(), cfg, nil, overrides{perception: productVision{}})
	require.NoError(t, err)
	assert.NotNil(t, a.Loop)
	assert.NoError(t, a.Close())
	assert.NoError(t, a.Close())
}
