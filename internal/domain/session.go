package domain

import "time"

// LoopState is a state of the decision loop.
type LoopState string

const (
	StateSearching         LoopState = "SEARCHING"
	StateOpeningCandidate  LoopState = "OPENING_CANDIDATE"
	StateReadingScreen     LoopState = "READING_SCREEN"
	StateExploringVariants LoopState = "EXPLORING_VARIANTS"
	StateScrollingSimilar  LoopState = "SCROLLING_SIMILAR"
	StateConverged         LoopState = "CONVERGED"
	StateCarting           LoopState = "CARTING"
	StateDone              LoopState = "DONE"
	StateFailed            LoopState = "FAILED"
)

// Terminal reports whether no transition leaves the state.
func (s LoopState) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// HuntRequest starts a session.
type HuntRequest struct {
	Query     string `json:"query" binding:"required"`
	Variants  string `json:"variants,omitempty"`
	AddToCart *bool  `json:"addToCart,omitempty"`
}

// HuntResult summarizes a finished session.
type HuntResult struct {
	SessionID    string            `json:"sessionId"`
	Query        string            `json:"query"`
	State        LoopState         `json:"state"`
	Best         *PriceObservation `json:"best,omitempty"`
	Carted       bool              `json:"carted"`
	CartedPrice  *Price            `json:"cartedPrice,omitempty"`
	Steps        int               `json:"steps"`
	Failures     int               `json:"failures"`
	Observations int               `json:"observations"`
	Candidates   int               `json:"candidates"`
	Elapsed      time.Duration     `json:"elapsed"`
	Error        string            `json:"error,omitempty"`
}
