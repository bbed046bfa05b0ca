// Package app wires configuration into a ready decision loop for the server
// and CLI entry points.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/pricelens/backend/config"
	"github.com/pricelens/backend/internal/domain"
	"github.com/pricelens/backend/internal/infrastructure/cache"
	"github.com/pricelens/backend/internal/infrastructure/capture"
	"github.com/pricelens/backend/internal/infrastructure/device"
	"github.com/pricelens/backend/internal/infrastructure/gemini"
	"github.com/pricelens/backend/internal/infrastructure/metrics"
	"github.com/pricelens/backend/internal/infrastructure/serper"
	"github.com/pricelens/backend/internal/usecase"
	"go.uber.org/zap"
)

// App owns every long-lived component of one process.
type App struct {
	Loop    *usecase.DecisionLoop
	Metrics *metrics.Recorder

	closers []func() error
	logger  *zap.Logger
}

// overrides replace external collaborators in tests.
type overrides struct {
	perception domain.PerceptionProvider
	device     domain.DeviceController
}

// New builds the application from cfg.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	return build(ctx, cfg, logger, overrides{})
}

func build(ctx context.Context, cfg *config.Config, logger *zap.Logger, o overrides) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{Metrics: metrics.NewRecorder(), logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	searchCache, err := newCache(ctx, cfg.Cache, logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, searchCache.Close)

	searchClient := serper.NewClient(serper.Config{
		APIKey:     cfg.Search.APIKey,
		BaseURL:    cfg.Search.BaseURL,
		Country:    cfg.Search.Country,
		Language:   cfg.Search.Language,
		Rate:       cfg.Search.Rate,
		Burst:      cfg.Search.Burst,
		MaxRetries: cfg.Search.MaxRetries,
		Timeout:    cfg.Search.Timeout,
	}, logger)

	marketplaces := make([]domain.Marketplace, 0, len(cfg.Marketplaces))
	for _, mk := range cfg.Marketplaces {
		marketplaces = append(marketplaces, domain.Marketplace{Name: mk.Name, Domain: mk.Domain})
	}
	search := usecase.NewSearchService(searchClient, searchCache, a.Metrics, logger, usecase.SearchServiceConfig{
		Marketplaces:        marketplaces,
		PerMarketplaceLimit: cfg.Search.PerMarketplaceLimit,
		MaxParallel:         cfg.Search.MaxParallel,
		Timeout:             cfg.Search.Timeout,
		CacheTTL:            cfg.Cache.TTL,
	})

	dev := o.device
	if dev == nil {
		dev, err = a.newDevice(cfg.Device, logger)
		if err != nil {
			return nil, err
		}
	}

	vision := o.perception
	if vision == nil {
		vision, err = gemini.NewProvider(ctx, gemini.Config{
			APIKey:  cfg.Perception.APIKey,
			Model:   cfg.Perception.Model,
			Rate:    cfg.Perception.Rate,
			Timeout: cfg.Perception.Timeout,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("perception: %w", err)
		}
	}

	captures, err := capture.NewStore(cfg.Capture.Dir, logger)
	if err != nil {
		return nil, err
	}

	parser := usecase.NewPriceParser(cfg.Exploration.Currency)
	adapter := usecase.NewPerceptionAdapter(vision, parser, logger)
	cart := usecase.NewCartExecutor(dev, adapter, logger, usecase.CartConfig{
		TapAttempts: cfg.Cart.Attempts,
		SettleDelay: cfg.Device.SettleDelay,
		StepTimeout: cfg.Exploration.StepTimeout,
	})

	a.Loop = usecase.NewDecisionLoop(usecase.LoopDeps{
		Search: search,
		Ranker: usecase.NewCandidateRanker(parser, cfg.Search.PerMarketplaceLimit),
		Engine: usecase.NewSignatureEngine(usecase.SignatureConfig{
			SimilarityThreshold: cfg.Matching.SimilarityThreshold,
			EnableFuzzyMatching: cfg.Matching.EnableFuzzy,
			FuzzyEditDistance:   cfg.Matching.FuzzyEditDistance,
		}),
		Perception: adapter,
		Device:     dev,
		Cart:       cart,
		Captures:   captures,
		Metrics:    a.Metrics,
		Logger:     logger,
	}, usecase.LoopConfig{
		MaxSteps:          cfg.Exploration.MaxSteps,
		MaxDuration:       cfg.Exploration.MaxDuration,
		MaxFailures:       cfg.Exploration.MaxFailures,
		MaxScrollsPerPage: cfg.Exploration.MaxScrollsPerPage,
		ScrollAmount:      cfg.Exploration.ScrollAmount,
		StepTimeout:       cfg.Exploration.StepTimeout,
		DeviceRetries:     cfg.Exploration.DeviceRetries,
		RetryDelay:        cfg.Exploration.RetryDelay,
		TrustPriceHints:   cfg.Exploration.TrustPriceHints,
		AddToCart:         cfg.Cart.Enabled,
		CartSearchScrolls: cfg.Cart.SearchScrolls,
	})

	logger.Info("application ready",
		zap.String("device", cfg.Device.Driver),
		zap.String("cache", cfg.Cache.Type),
		zap.Int("marketplaces", len(marketplaces)))
	return a, nil
}

// closableCache is a search cache with resources to release.
type closableCache interface {
	domain.CacheRepository
	Close() error
}

func newCache(ctx context.Context, cfg config.CacheConfig, logger *zap.Logger) (closableCache, error) {
	switch cfg.Type {
	case "redis":
		c, err := cache.NewRedisCache(ctx, cfg.RedisURL, logger)
		if err != nil {
			return nil, fmt.Errorf("cache: %w", err)
		}
		return c, nil
	case "memory", "":
		return cache.NewMemoryCache(0), nil
	default:
		return nil, fmt.Errorf("cache: unknown type %q", cfg.Type)
	}
}

func (a *App) newDevice(cfg config.DeviceConfig, logger *zap.Logger) (domain.DeviceController, error) {
	switch cfg.Driver {
	case "adb", "":
		return device.NewADBController(device.ADBConfig{
			Path:          cfg.ADBPath,
			Serial:        cfg.Serial,
			Browser:       cfg.Browser,
			SettleDelay:   cfg.SettleDelay,
			SwipeDuration: cfg.SwipeDuration,
		}, logger), nil
	case "chrome":
		c, err := device.NewChromeController(device.ChromeConfig{
			Headless:    cfg.Chrome.Headless,
			ExecPath:    cfg.Chrome.ExecPath,
			UserAgent:   cfg.Chrome.UserAgent,
			Width:       cfg.Chrome.Width,
			Height:      cfg.Chrome.Height,
			Scale:       cfg.Chrome.Scale,
			SettleDelay: cfg.SettleDelay,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("device: %w", err)
		}
		a.closers = append(a.closers, c.Close)
		return c, nil
	default:
		return nil, fmt.Errorf("device: unknown driver %q", cfg.Driver)
	}
}

// Close releases the device session and cache connections.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("shutdown incomplete", zap.Error(err))
		return err
	}
	return nil
}
