package domain

import "time"

// DetectionTag labels a detected screen region.
type DetectionTag string

const (
	TagTitle            DetectionTag = "title"
	TagPrice            DetectionTag = "price"
	TagStruckPrice      DetectionTag = "struck_price"
	TagStock            DetectionTag = "stock"
	TagVariant          DetectionTag = "variant"
	TagSimilarItem      DetectionTag = "similar_item"
	TagAddToCart        DetectionTag = "add_to_cart"
	TagCartConfirmation DetectionTag = "cart_confirmation"
	TagSimilarSection   DetectionTag = "similar_section"
	TagPageError        DetectionTag = "page_error"
)

// Detection is one text region reported by a PerceptionProvider.
type Detection struct {
	Text      string       `json:"text"`
	Tag       DetectionTag `json:"tag"`
	Box       Box          `json:"box"`
	PriceHint string       `json:"price_hint,omitempty"`
}

// Detections is the raw output of a PerceptionProvider for one capture.
type Detections struct {
	Items      []Detection `json:"items"`
	Scrollable bool        `json:"scrollable"`
	Width      int         `json:"width,omitempty"`
	Height     int         `json:"height,omitempty"`
}

// ScreenCapture is an encoded screenshot of the device viewport.
type ScreenCapture struct {
	Data       []byte
	Width      int
	Height     int
	URL        string
	CapturedAt time.Time
}
