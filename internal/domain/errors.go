package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrSearchProvider is returned when a marketplace search fails or times out
	ErrSearchProvider = errors.New("search provider request failed")

	// ErrRateLimited is returned when an upstream API keeps rejecting requests with 429
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrDevice is returned when a device operation fails after its retries
	ErrDevice = errors.New("device operation failed")

	// ErrPerception is returned when a screen capture cannot be analyzed
	ErrPerception = errors.New("perception failed")

	// ErrParse is returned when no price can be extracted from text
	ErrParse = errors.New("price could not be parsed")

	// ErrAmbiguousPrice is returned when text holds several current prices and no marker picks one
	ErrAmbiguousPrice = errors.New("ambiguous price")

	// ErrNoValidPriceFound is fatal: exploration ended without a valid matching observation
	ErrNoValidPriceFound = errors.New("no valid price found")

	// ErrBestBecameUnavailable is fatal: every recorded best went out of stock before carting
	ErrBestBecameUnavailable = errors.New("best offer became unavailable")

	// ErrCart is fatal: the add-to-cart action could not be confirmed
	ErrCart = errors.New("add to cart failed")

	// ErrInvalidRequest is returned when request parameters are invalid
	ErrInvalidRequest = errors.New("invalid request parameters")

	// ErrCacheMiss is returned when data is not found in cache
	ErrCacheMiss = errors.New("cache miss")

	// ErrSessionBusy is returned when a session is already driving the device
	ErrSessionBusy = errors.New("a hunt session is already running")
)

// HuntError is the error a session ends with. Kind is one of the fatal
// sentinels (or a context error on cancellation) and Best is the best
// observation known when the session stopped, if any.
type HuntError struct {
	Kind error
	Best *PriceObservation
	Err  error
}

func (e *HuntError) Error() string {
	msg := e.Kind.Error()
	switch {
	case e.Err == nil:
	case errors.Is(e.Err, e.Kind):
		msg = e.Err.Error()
	default:
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Best != nil {
		msg = fmt.Sprintf("%s (best known: %s at %s)", msg, e.Best.Price, e.Best.Source.URL)
	}
	return msg
}

// Unwrap exposes both the fatal kind and the underlying cause to errors.Is.
func (e *HuntError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// IsFatal reports whether err belongs to a category that ends a session.
func IsFatal(err error) bool {
	return errors.Is(err, ErrNoValidPriceFound) ||
		errors.Is(err, ErrBestBecameUnavailable) ||
		errors.Is(err, ErrCart)
}
