package domain

import (
	"context"
	"time"
)

// CacheRepository defines the interface for caching operations
type CacheRepository interface {
	Get(ctx context.Context, key string) (interface{}, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// SearchProvider queries one marketplace for product listings.
type SearchProvider interface {
	Search(ctx context.Context, req SearchRequest) ([]Candidate, error)
}

// DeviceController drives the single physical or emulated device.
// Implementations must serialize calls.
type DeviceController interface {
	Navigate(ctx context.Context, url string) error
	Scroll(ctx context.Context, dir Direction, amount int) error
	Tap(ctx context.Context, x, y int) error
	CaptureScreen(ctx context.Context) (*ScreenCapture, error)
}

// PerceptionProvider turns a screen capture into tagged text regions.
type PerceptionProvider interface {
	Analyze(ctx context.Context, image []byte) (*Detections, error)
}

// CaptureStore holds transient capture files for the lifetime of a session.
type CaptureStore interface {
	Save(ctx context.Context, sessionID string, data []byte) (string, error)
	Remove(path string) error
	Cleanup(sessionID string) error
}

// MetricsRecorder receives operational measurements.
type MetricsRecorder interface {
	ObserveDeviceOp(op string, elapsed time.Duration, err error)
	IncObservation(kind string)
	IncSession(outcome string)
	AddCandidates(marketplace string, n int)
}
