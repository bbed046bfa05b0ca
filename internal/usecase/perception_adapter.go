package usecase

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"regexp"
	"sort"
	"strings"

	"github.com/pricelens/backend/internal/domain"
	"go.uber.org/zap"
)

var (
	cartConfirmationPattern = regexp.MustCompile(`(?i)\b(go\s+to\s+(cart|bag)|view\s+(cart|bag)|added\s+to\s+(cart|bag))\b`)
	pageErrorPattern        = regexp.MustCompile(`(?i)\b(404|page\s+not\s+found|access\s+denied|something\s+went\s+wrong|oops)\b`)
)

// PerceptionAdapter turns raw detections into a ScreenObservation.
type PerceptionAdapter struct {
	provider domain.PerceptionProvider
	parser   *PriceParser
	logger   *zap.Logger
}

// NewPerceptionAdapter creates a new perception adapter
func NewPerceptionAdapter(provider domain.PerceptionProvider, parser *PriceParser, logger *zap.Logger) *PerceptionAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PerceptionAdapter{
		provider: provider,
		parser:   parser,
		logger:   logger.With(zap.String("component", "perception")),
	}
}

// Observe analyzes one capture. A capture that does not decode as an image,
// or a provider failure, is reported as ErrPerception. A screen with nothing
// recognisable is an empty observation, not an error.
func (a *PerceptionAdapter) Observe(ctx context.Context, capture *domain.ScreenCapture) (*domain.ScreenObservation, error) {
	if capture == nil || len(capture.Data) == 0 {
		return nil, fmt.Errorf("%w: empty capture", domain.ErrPerception)
	}
	if _, _, err := image.DecodeConfig(bytes.NewReader(capture.Data)); err != nil {
		return nil, fmt.Errorf("%w: unreadable capture: %v", domain.ErrPerception, err)
	}

	detections, err := a.provider.Analyze(ctx, capture.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPerception, err)
	}
	if detections == nil {
		detections = &domain.Detections{}
	}

	obs := a.interpret(detections)
	a.logger.Debug("screen observed",
		zap.String("title", obs.Title),
		zap.Bool("priced", obs.Primary != nil),
		zap.Stringer("stock", obs.Stock),
		zap.Int("variants", len(obs.Variants)),
		zap.Int("similar", len(obs.SimilarItems)))
	return obs, nil
}

func (a *PerceptionAdapter) interpret(d *domain.Detections) *domain.ScreenObservation {
	items := make([]domain.Detection, len(d.Items))
	copy(items, d.Items)
	// Reading order: top to bottom, then left to right
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Box.Y != items[j].Box.Y {
			return items[i].Box.Y < items[j].Box.Y
		}
		return items[i].Box.X < items[j].Box.X
	})

	obs := &domain.ScreenObservation{Scrollable: d.Scrollable}

	var priceParts, stockParts []string
	errorText := false
	for _, item := range items {
		text := strings.TrimSpace(item.Text)

		if cartConfirmationPattern.MatchString(text) {
			obs.CartConfirmed = true
		}

		switch item.Tag {
		case domain.TagTitle:
			if obs.Title == "" {
				obs.Title = text
			}
		case domain.TagPrice:
			priceParts = append(priceParts, text)
		case domain.TagStruckPrice:
			// The parser treats MRP-marked amounts as struck
			priceParts = append(priceParts, "MRP "+text)
		case domain.TagStock:
			stockParts = append(stockParts, text)
		case domain.TagAddToCart:
			stockParts = append(stockParts, text)
			if obs.AddToCart == nil {
				box := item.Box
				obs.AddToCart = &box
			}
		case domain.TagCartConfirmation:
			obs.CartConfirmed = true
		case domain.TagSimilarSection:
			if obs.SimilarSection == nil {
				box := item.Box
				obs.SimilarSection = &box
			}
		case domain.TagPageError:
			obs.PageError = true
		case domain.TagVariant:
			obs.Variants = append(obs.Variants, domain.VariantTarget{
				Label:     text,
				PriceHint: a.parser.ParseHint(item.PriceHint),
				Point:     item.Box.Center(),
			})
		case domain.TagSimilarItem:
			obs.SimilarItems = append(obs.SimilarItems, domain.SimilarItemTarget{
				Title:     text,
				PriceHint: a.parser.ParseHint(item.PriceHint),
				Point:     item.Box.Center(),
			})
		}

		if item.Tag != domain.TagPrice && pageErrorPattern.MatchString(text) {
			errorText = true
		}
	}

	// Error copy on a page with a product title is incidental text
	if errorText && obs.Title == "" {
		obs.PageError = true
	}

	obs.Stock = a.parser.ClassifyStock(strings.Join(stockParts, " \n "))

	if obs.Title == "" && len(priceParts) == 0 {
		return obs
	}

	primary := &domain.PriceObservation{Title: obs.Title, Stock: obs.Stock}
	if len(priceParts) > 0 {
		price, err := a.parser.Parse(strings.Join(priceParts, " "))
		if err != nil {
			obs.PriceErr = err
		} else {
			primary.Price = &price
		}
	} else {
		obs.PriceErr = fmt.Errorf("%w: no price on screen", domain.ErrParse)
	}
	if primary.Price != nil {
		obs.Primary = primary
	}
	return obs
}
