package main

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/pricelens/backend/config"
	"github.com/pricelens/backend/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeHunter struct {
	req    domain.HuntRequest
	result *domain.HuntResult
	err    error
}

func (f *fakeHunter) Run(ctx context.Context, req domain.HuntRequest) (*domain.HuntResult, error) {
	f.req = req
	return f.result, f.err
}

// stub replaces configuration loading and wiring for one test.
func stub(t *testing.T, h *fakeHunter) *config.Config {
	t.Helper()
	cfg := &config.Config{Server: config.ServerConfig{Environment: "test"}, Log: config.LogConfig{Level: "error"}}

	origLoad, origNew := loadConfig, newHunter
	t.Cleanup(func() { loadConfig, newHunter = origLoad, origNew })

	loadConfig = func() (*config.Config, error) { return cfg, nil }
	newHunter = func(ctx context.Context, c *config.Config, logger *zap.Logger) (hunter, func() error, error) {
		return h, func() error { return nil }, nil
	}
	return cfg
}

func execute(args ...string) (string, error) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func best() *domain.PriceObservation {
	price := domain.NewPrice(16999, "INR")
	return &domain.PriceObservation{
		Title:  "Samsung Galaxy M34 5G",
		Price:  &price,
		Stock:  domain.InStock,
		Source: domain.Source{Marketplace: "amazon", URL: "https://www.amazon.in/dp/B0C7"},
	}
}

func TestHunt_Carted(t *testing.T) {
	price := domain.NewPrice(16999, "INR")
	h := &fakeHunter{result: &domain.HuntResult{
		Query:       "Samsung Galaxy M34 5G 6GB",
		State:       domain.StateDone,
		Best:        best(),
		Carted:      true,
		CartedPrice: &price,
	}}
	stub(t, h)

	out, err := execute("hunt", "Samsung", "Galaxy", "M34", "5G", "--variants", "6GB")
	require.NoError(t, err)

	assert.Equal(t, "Samsung Galaxy M34 5G", h.req.Query)
	assert.Equal(t, "6GB", h.req.Variants)
	assert.Nil(t, h.req.AddToCart)
	assert.Contains(t, out, "https://www.amazon.in/dp/B0C7")
	assert.Contains(t, out, "cart:     added")
}

func TestHunt_NoCart(t *testing.T) {
	h := &fakeHunter{result: &domain.HuntResult{State: domain.StateDone, Best: best()}}
	stub(t, h)

	out, err := execute("hunt", "iphone 15", "--no-cart")
	require.NoError(t, err)

	require.NotNil(t, h.req.AddToCart)
	assert.False(t, *h.req.AddToCart)
	assert.Contains(t, out, "no cart needed")
}

func TestHunt_TimeoutFlag(t *testing.T) {
	h := &fakeHunter{result: &domain.HuntResult{State: domain.StateDone}}
	cfg := stub(t, h)

	_, err := execute("hunt", "iphone 15", "--timeout", "90s")
	require.NoError(t, err)
	assert.Equal(t, "1m30s", cfg.Exploration.MaxDuration.String())
}

func TestHunt_FailureStillReportsBest(t *testing.T) {
	huntErr := &domain.HuntError{Kind: domain.ErrCart, Best: best(), Err: errors.New("never confirmed")}
	h := &fakeHunter{
		result: &domain.HuntResult{State: domain.StateFailed, Best: best()},
		err:    huntErr,
	}
	stub(t, h)

	out, err := execute("hunt", "Samsung Galaxy M34 5G")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrCart)
	assert.Contains(t, out, "https://www.amazon.in/dp/B0C7")
	assert.Contains(t, out, "failed:   "+domain.ErrCart.Error())
}

func TestHunt_RequiresQuery(t *testing.T) {
	stub(t, &fakeHunter{})

	_, err := execute("hunt")
	assert.Error(t, err)
}

func TestHunt_ConfigError(t *testing.T) {
	stub(t, &fakeHunter{})
	loadConfig = func() (*config.Config, error) { return nil, errors.New("search API key is required") }

	_, err := execute("hunt", "iphone 15")
	assert.ErrorContains(t, err, "search API key is required")
}
