package domain

import (
	"fmt"
	"strings"
)

// Point is a screen coordinate in device pixels.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Box is a detected screen region.
type Box struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Center returns the tap point for the region.
func (b Box) Center() Point {
	return Point{X: b.X + b.Width/2, Y: b.Y + b.Height/2}
}

// Direction is a scroll direction.
type Direction string

const (
	ScrollDown Direction = "down"
	ScrollUp   Direction = "up"
)

// StepAction is a device action replayed after navigation.
type StepAction string

const (
	ActionTap    StepAction = "tap"
	ActionScroll StepAction = "scroll"
)

// RouteStep is one action in a Route.
type RouteStep struct {
	Action    StepAction `json:"action"`
	Point     Point      `json:"point,omitempty"`
	Direction Direction  `json:"direction,omitempty"`
	Amount    int        `json:"amount,omitempty"`
}

func (s RouteStep) String() string {
	if s.Action == ActionScroll {
		return fmt.Sprintf("scroll:%s:%d", s.Direction, s.Amount)
	}
	return fmt.Sprintf("tap:%d,%d", s.Point.X, s.Point.Y)
}

// Route describes how a page is reached: open URL, then replay Steps.
type Route struct {
	URL   string      `json:"url"`
	Steps []RouteStep `json:"steps,omitempty"`
}

// Key identifies the page a route leads to.
func (r Route) Key() string {
	if len(r.Steps) == 0 {
		return r.URL
	}
	parts := make([]string, 0, len(r.Steps)+1)
	parts = append(parts, r.URL)
	for _, s := range r.Steps {
		parts = append(parts, s.String())
	}
	return strings.Join(parts, "|")
}

// IsZero reports whether the route points nowhere.
func (r Route) IsZero() bool {
	return r.URL == "" && len(r.Steps) == 0
}

// Then returns a copy of r extended with step.
func (r Route) Then(step RouteStep) Route {
	steps := make([]RouteStep, len(r.Steps), len(r.Steps)+1)
	copy(steps, r.Steps)
	return Route{URL: r.URL, Steps: append(steps, step)}
}

// TargetKind classifies frontier items.
type TargetKind string

const (
	TargetCandidate   TargetKind = "candidate"
	TargetVariant     TargetKind = "variant"
	TargetSimilarItem TargetKind = "similar_item"
)

// Target is a frontier item: a search candidate to open, or an on-page
// element to tap once the page at Via is open.
type Target struct {
	Kind        TargetKind `json:"kind"`
	Title       string     `json:"title"`
	Label       string     `json:"label,omitempty"`
	Marketplace string     `json:"marketplace"`
	URL         string     `json:"url,omitempty"`
	PriceHint   *Price     `json:"priceHint,omitempty"`
	Via         Route      `json:"via"`
	Point       Point      `json:"point"`
	Origin      string     `json:"origin"`
}

// Route returns the route to the page this target leads to.
func (t Target) Route() Route {
	if t.Kind == TargetCandidate {
		return Route{URL: t.URL}
	}
	return t.Via.Then(RouteStep{Action: ActionTap, Point: t.Point})
}
