package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"net/http"
	"strings"
	"time"

	"github.com/pricelens/backend/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/genai"
)

const DefaultModel = "gemini-2.5-flash"

// generator is the slice of genai.Models the provider uses
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Config holds configuration for the Gemini perception provider
type Config struct {
	APIKey  string
	Model   string
	Rate    float64 // requests per second
	Burst   int
	Timeout time.Duration
}

// Provider reads product-page screenshots with a Gemini vision model.
type Provider struct {
	models      generator
	model       string
	timeout     time.Duration
	rateLimiter *rate.Limiter
	logger      *zap.Logger
}

// NewProvider creates a provider backed by the Gemini API
func NewProvider(ctx context.Context, cfg Config, logger *zap.Logger) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return newProvider(client.Models, cfg, logger), nil
}

func newProvider(models generator, cfg Config, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Rate <= 0 {
		cfg.Rate = 2
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 45 * time.Second
	}
	return &Provider{
		models:      models,
		model:       cfg.Model,
		timeout:     cfg.Timeout,
		rateLimiter: rate.NewLimiter(rate.Limit(cfg.Rate), cfg.Burst),
		logger:      logger.With(zap.String("component", "gemini")),
	}
}

// Analyze sends one screenshot to the model and returns its detections.
func (p *Provider) Analyze(ctx context.Context, img []byte) (*domain.Detections, error) {
	if err := p.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter error: %w", err)
	}

	width, height := 0, 0
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(img)); err == nil {
		width, height = cfg.Width, cfg.Height
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromText(buildPrompt(width, height)),
			genai.NewPartFromBytes(img, http.DetectContentType(img)),
		}, genai.RoleUser),
	}

	start := time.Now()
	resp, err := p.models.GenerateContent(ctx, p.model, contents, &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0),
	})
	if err != nil {
		return nil, fmt.Errorf("gemini generate: %w", err)
	}

	detections, err := parseDetections(resp.Text())
	if err != nil {
		return nil, err
	}
	if detections.Width == 0 {
		detections.Width, detections.Height = width, height
	}

	p.logger.Debug("screen analyzed",
		zap.Int("detections", len(detections.Items)),
		zap.Duration("elapsed", time.Since(start)))
	return detections, nil
}

var knownTags = map[domain.DetectionTag]bool{
	domain.TagTitle: true, domain.TagPrice: true, domain.TagStruckPrice: true,
	domain.TagStock: true, domain.TagVariant: true, domain.TagSimilarItem: true,
	domain.TagAddToCart: true, domain.TagCartConfirmation: true,
	domain.TagSimilarSection: true, domain.TagPageError: true,
}

// parseDetections decodes the model's JSON answer. Code fences are stripped,
// a bare item array is accepted and items with unknown tags are dropped.
func parseDetections(text string) (*domain.Detections, error) {
	text = stripCodeFence(text)
	if text == "" {
		return nil, errors.New("gemini returned an empty response")
	}

	var out domain.Detections
	if strings.HasPrefix(text, "[") {
		if err := json.Unmarshal([]byte(text), &out.Items); err != nil {
			return nil, fmt.Errorf("gemini response is not valid JSON: %w", err)
		}
	} else if err := json.Unmarshal([]byte(text), &out); err != nil {
		return nil, fmt.Errorf("gemini response is not valid JSON: %w", err)
	}

	items := out.Items[:0]
	for _, item := range out.Items {
		item.Tag = domain.DetectionTag(strings.ToLower(strings.TrimSpace(string(item.Tag))))
		if !knownTags[item.Tag] {
			continue
		}
		items = append(items, item)
	}
	out.Items = items
	return &out, nil
}

func stripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}

func buildPrompt(width, height int) string {
	var b strings.Builder
	b.WriteString("You are reading a screenshot of a mobile shopping app product page.\n")
	if width > 0 && height > 0 {
		fmt.Fprintf(&b, "The screenshot is %dx%d pixels. Give every box in these pixel coordinates.\n", width, height)
	}
	b.WriteString(`Return JSON only, in this shape:
{"scrollable": true, "items": [{"text": "...", "tag": "...", "box": {"x": 0, "y": 0, "width": 0, "height": 0}, "price_hint": ""}]}

Tags:
- title: the product name of the page
- price: the current selling price, exactly as shown with its currency symbol
- struck_price: a crossed-out MRP or former price
- stock: availability text such as "In stock", "Only 2 left", "Sold out", "Currently unavailable"
- variant: a selectable option (size, colour, storage, seller); put its shown price in price_hint
- similar_item: a product card in a similar or recommended products section; price in price_hint
- add_to_cart: the add to cart or add to bag button
- cart_confirmation: text confirming the item is in the cart, such as "Go to cart"
- similar_section: the heading of a similar products section
- page_error: an error page message

Only report what is visible. Copy text verbatim. Set scrollable to false when the page clearly ends.`)
	return b.String()
}

var _ domain.PerceptionProvider = (*Provider)(nil)
