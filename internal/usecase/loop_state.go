package usecase

import (
	"fmt"
	"slices"

	"github.com/pricelens/backend/internal/domain"
)

// validTransitions lists the legal decision-loop state changes
var validTransitions = map[domain.LoopState][]domain.LoopState{
	domain.StateSearching: {domain.StateOpeningCandidate, domain.StateFailed},
	domain.StateOpeningCandidate: {
		domain.StateOpeningCandidate, domain.StateReadingScreen, domain.StateExploringVariants,
		domain.StateConverged, domain.StateFailed,
	},
	domain.StateReadingScreen: {
		domain.StateExploringVariants, domain.StateScrollingSimilar, domain.StateOpeningCandidate,
		domain.StateConverged, domain.StateFailed,
	},
	domain.StateExploringVariants: {
		domain.StateExploringVariants, domain.StateReadingScreen, domain.StateScrollingSimilar,
		domain.StateOpeningCandidate, domain.StateConverged, domain.StateFailed,
	},
	domain.StateScrollingSimilar: {
		domain.StateScrollingSimilar, domain.StateOpeningCandidate, domain.StateConverged, domain.StateFailed,
	},
	domain.StateConverged: {domain.StateCarting, domain.StateDone, domain.StateFailed},
	// A best that went out of stock sends the loop back to exploring or to the next best
	domain.StateCarting: {domain.StateDone, domain.StateFailed, domain.StateOpeningCandidate, domain.StateConverged},
}

// CanTransition reports whether the loop may move from one state to another.
func CanTransition(from, to domain.LoopState) bool {
	return slices.Contains(validTransitions[from], to)
}

// ErrInvalidTransition is returned when a handler asks for an illegal move.
type ErrInvalidTransition struct {
	From domain.LoopState
	To   domain.LoopState
}

func (e ErrInvalidTransition) Error() string {
	return fmt.Sprintf("invalid state transition: %s -> %s", e.From, e.To)
}
