package usecase

import (
	"sort"
	"time"

	"github.com/pricelens/backend/internal/domain"
)

// ExplorationBudget bounds one session.
type ExplorationBudget struct {
	MaxSteps    int
	Deadline    time.Time
	MaxFailures int
}

// ExplorationState is the mutable bookkeeping of one session: what has been
// visited, what is left to explore, and the cheapest valid offer so far.
// It is owned by a single goroutine.
type ExplorationState struct {
	engine *SignatureEngine
	budget ExplorationBudget

	query     domain.NormalizedTitle
	confirmed domain.NormalizedTitle

	visited    []domain.ProductSignature
	ineligible []domain.ProductSignature
	frontier   []domain.Target

	best    *domain.PriceObservation
	history []*domain.PriceObservation
	dropped *domain.PriceObservation

	steps    int
	failures int
	seq      int
}

// NewExplorationState starts bookkeeping for query.
func NewExplorationState(engine *SignatureEngine, query string, budget ExplorationBudget) *ExplorationState {
	return &ExplorationState{
		engine: engine,
		budget: budget,
		query:  engine.Normalize(query),
	}
}

// Matches reports whether a title is the product being hunted: it must match
// the original query and, once a product is confirmed, the confirmed title.
func (s *ExplorationState) Matches(title string) bool {
	normalized := s.engine.Normalize(title)
	if !s.engine.SameProduct(s.query, normalized) {
		return false
	}
	return s.confirmed == "" || s.engine.SameProduct(s.confirmed, normalized)
}

// IsVisited reports whether sig matches any visited signature.
func (s *ExplorationState) IsVisited(sig domain.ProductSignature) bool {
	return s.containsSignature(s.visited, sig)
}

// MarkVisited records sig. Marking twice is a no-op.
func (s *ExplorationState) MarkVisited(sig domain.ProductSignature) {
	if sig.Title == "" && sig.Variant == "" {
		return
	}
	if !s.IsVisited(sig) {
		s.visited = append(s.visited, sig)
	}
}

func (s *ExplorationState) containsSignature(list []domain.ProductSignature, sig domain.ProductSignature) bool {
	for _, v := range list {
		if s.engine.SameSignature(v, sig) {
			return true
		}
	}
	return false
}

// NextSeq returns the next observation sequence number.
func (s *ExplorationState) NextSeq() int {
	s.seq++
	return s.seq
}

// Offer considers an observation for best. It is recorded only when valid,
// matching and not ineligible, and replaces best only when strictly cheaper
// in the same currency. Returns whether best changed.
func (s *ExplorationState) Offer(obs *domain.PriceObservation) bool {
	if !obs.Valid() || !s.Matches(obs.Title) {
		return false
	}
	if s.containsSignature(s.ineligible, obs.Signature) {
		return false
	}

	s.history = append(s.history, obs)
	if s.confirmed == "" {
		s.confirmed = s.engine.Normalize(obs.Title)
	}

	if s.best == nil {
		s.best = obs
		return true
	}
	if obs.Price.Comparable(*s.best.Price) && obs.Price.Less(*s.best.Price) {
		s.best = obs
		return true
	}
	return false
}

// Best returns the current best valid observation, or nil.
func (s *ExplorationState) Best() *domain.PriceObservation {
	return s.best
}

// BestKnown returns best, or the last dropped observation when none remain.
func (s *ExplorationState) BestKnown() *domain.PriceObservation {
	if s.best != nil {
		return s.best
	}
	return s.dropped
}

// DropBest marks the current best ineligible and falls back to the cheapest
// remaining recorded observation. This is the only way best can get more
// expensive. Returns the new best, or nil when none remain.
func (s *ExplorationState) DropBest() *domain.PriceObservation {
	if s.best == nil {
		return nil
	}
	s.dropped = s.best
	s.ineligible = append(s.ineligible, s.best.Signature)
	s.best = nil

	for _, obs := range s.history {
		if s.containsSignature(s.ineligible, obs.Signature) {
			continue
		}
		if s.best == nil || (obs.Price.Comparable(*s.best.Price) && obs.Price.Less(*s.best.Price)) {
			s.best = obs
		}
	}
	return s.best
}

// ValidObservations is the number of recorded valid observations.
func (s *ExplorationState) ValidObservations() int {
	return len(s.history)
}

// PushBack appends targets, ordered by price hint ascending with unhinted
// targets last in their given order.
func (s *ExplorationState) PushBack(targets ...domain.Target) {
	s.frontier = append(s.frontier, sortByHint(targets)...)
}

// PushFront puts targets, ordered by price hint, ahead of the frontier.
func (s *ExplorationState) PushFront(targets ...domain.Target) {
	sorted := sortByHint(targets)
	s.frontier = append(sorted, s.frontier...)
}

// Peek returns the next target without removing it.
func (s *ExplorationState) Peek() (domain.Target, bool) {
	if len(s.frontier) == 0 {
		return domain.Target{}, false
	}
	return s.frontier[0], true
}

// Pop removes and returns the next target.
func (s *ExplorationState) Pop() (domain.Target, bool) {
	t, ok := s.Peek()
	if ok {
		s.frontier = s.frontier[1:]
	}
	return t, ok
}

// FrontierLen is the number of targets left.
func (s *ExplorationState) FrontierLen() int {
	return len(s.frontier)
}

// CanStopEarly reports whether best already beats everything left: every
// remaining target carries a hint and none is cheaper than best.
func (s *ExplorationState) CanStopEarly() bool {
	if s.best == nil || len(s.frontier) == 0 {
		return false
	}
	for _, t := range s.frontier {
		if t.PriceHint == nil || !t.PriceHint.Comparable(*s.best.Price) {
			return false
		}
		if t.PriceHint.Less(*s.best.Price) {
			return false
		}
	}
	return true
}

// Step consumes one unit of the step budget.
func (s *ExplorationState) Step() {
	s.steps++
}

// Steps is the number of steps taken.
func (s *ExplorationState) Steps() int {
	return s.steps
}

// BudgetExhausted reports whether the step or wall-clock budget is spent.
func (s *ExplorationState) BudgetExhausted(now time.Time) bool {
	if s.budget.MaxSteps > 0 && s.steps >= s.budget.MaxSteps {
		return true
	}
	return !s.budget.Deadline.IsZero() && !now.Before(s.budget.Deadline)
}

// RecordFailure counts a failed action and reports whether the failure
// budget is now exceeded.
func (s *ExplorationState) RecordFailure() bool {
	s.failures++
	return s.budget.MaxFailures > 0 && s.failures > s.budget.MaxFailures
}

// Failures is the number of failed actions.
func (s *ExplorationState) Failures() int {
	return s.failures
}

// FailureBudgetExceeded reports whether more failures than allowed occurred.
func (s *ExplorationState) FailureBudgetExceeded() bool {
	return s.budget.MaxFailures > 0 && s.failures > s.budget.MaxFailures
}

func sortByHint(targets []domain.Target) []domain.Target {
	out := make([]domain.Target, len(targets))
	copy(out, targets)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].PriceHint, out[j].PriceHint
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.Less(*b)
		}
	})
	return out
}
