package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pricelens/backend/internal/domain"
	"go.uber.org/zap"
)

// CandidateSource produces search hits for a query.
type CandidateSource interface {
	Search(ctx context.Context, query string) ([]domain.Candidate, error)
}

// CartAdder puts the product on the open screen into the cart.
type CartAdder interface {
	AddToCart(ctx context.Context, screen *domain.ScreenObservation) error
}

// LoopConfig holds the budgets and tunables of the decision loop
type LoopConfig struct {
	MaxSteps          int
	MaxDuration       time.Duration
	MaxFailures       int
	MaxScrollsPerPage int
	ScrollAmount      int
	StepTimeout       time.Duration
	DeviceRetries     int
	RetryDelay        time.Duration
	TrustPriceHints   bool
	AddToCart         bool
	CartSearchScrolls int
}

// LoopDeps are the collaborators of the decision loop. Captures and Metrics
// may be nil.
type LoopDeps struct {
	Search     CandidateSource
	Ranker     *CandidateRanker
	Engine     *SignatureEngine
	Perception *PerceptionAdapter
	Device     domain.DeviceController
	Cart       CartAdder
	Captures   domain.CaptureStore
	Metrics    domain.MetricsRecorder
	Logger     *zap.Logger
}

// DecisionLoop drives one hunt: search, explore pages on the device, settle
// on the cheapest valid offer and put it in the cart.
type DecisionLoop struct {
	search     CandidateSource
	ranker     *CandidateRanker
	engine     *SignatureEngine
	perception *PerceptionAdapter
	device     domain.DeviceController
	cart       CartAdder
	captures   domain.CaptureStore
	metrics    domain.MetricsRecorder
	logger     *zap.Logger
	cfg        LoopConfig
	now        func() time.Time
}

// NewDecisionLoop creates a decision loop with defaults for unset budgets
func NewDecisionLoop(deps LoopDeps, cfg LoopConfig) *DecisionLoop {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Metrics == nil {
		deps.Metrics = NopMetrics{}
	}
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = 40
	}
	if cfg.MaxScrollsPerPage <= 0 {
		cfg.MaxScrollsPerPage = 15
	}
	if cfg.ScrollAmount <= 0 {
		cfg.ScrollAmount = 1
	}
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = 30 * time.Second
	}
	if cfg.DeviceRetries < 0 {
		cfg.DeviceRetries = 0
	}

	return &DecisionLoop{
		search:     deps.Search,
		ranker:     deps.Ranker,
		engine:     deps.Engine,
		perception: deps.Perception,
		device:     deps.Device,
		cart:       deps.Cart,
		captures:   deps.Captures,
		metrics:    deps.Metrics,
		logger:     deps.Logger.With(zap.String("component", "decision_loop")),
		cfg:        cfg,
		now:        time.Now,
	}
}

// session is the per-run state of the loop.
type session struct {
	id        string
	query     string
	addToCart bool
	started   time.Time
	log       *zap.Logger
	state     *ExplorationState

	// current is the route the device is known to be on; zero when unknown
	current domain.Route
	// page is the page most recently opened by an exploration action
	page    pageContext
	screen  *domain.ScreenObservation
	lastURL string

	scrolls     map[string]int
	scrollDone  map[string]bool
	lastPrint   map[string]string
	seenSimilar map[string]bool
	// pages whose similar-items section has come into view
	similarShown map[string]bool

	candidates  int
	carted      bool
	cartedPrice *domain.Price
}

type pageContext struct {
	marketplace string
	route       domain.Route
	target      domain.Target
}

// Run executes one hunt. The result is always returned; err is a
// *domain.HuntError when the session ends in FAILED.
func (l *DecisionLoop) Run(ctx context.Context, req domain.HuntRequest) (*domain.HuntResult, error) {
	query := strings.TrimSpace(strings.TrimSpace(req.Query) + " " + strings.TrimSpace(req.Variants))
	if strings.TrimSpace(req.Query) == "" {
		return nil, domain.ErrInvalidRequest
	}

	sess := l.newSession(query, req)
	if l.captures != nil {
		defer func() {
			if err := l.captures.Cleanup(sess.id); err != nil {
				sess.log.Warn("capture cleanup failed", zap.Error(err))
			}
		}()
	}

	sess.log.Info("hunt started", zap.Bool("add_to_cart", sess.addToCart))

	state := domain.StateSearching
	for !state.Terminal() {
		if err := ctx.Err(); err != nil {
			return l.finish(sess, domain.StateFailed, &domain.HuntError{Kind: err, Best: sess.state.BestKnown()})
		}

		next, err := l.handle(ctx, sess, state)
		if err != nil {
			if ctx.Err() != nil && !domain.IsFatal(err) {
				err = &domain.HuntError{Kind: ctx.Err(), Best: sess.state.BestKnown()}
			}
			return l.finish(sess, domain.StateFailed, err)
		}
		if !CanTransition(state, next) {
			return l.finish(sess, domain.StateFailed, ErrInvalidTransition{From: state, To: next})
		}
		if next != state {
			sess.log.Debug("transition", zap.String("from", string(state)), zap.String("to", string(next)))
		}
		state = next
	}
	return l.finish(sess, state, nil)
}

func (l *DecisionLoop) newSession(query string, req domain.HuntRequest) *session {
	id := uuid.NewString()
	now := l.now()

	addToCart := l.cfg.AddToCart
	if req.AddToCart != nil {
		addToCart = *req.AddToCart
	}

	var deadline time.Time
	if l.cfg.MaxDuration > 0 {
		deadline = now.Add(l.cfg.MaxDuration)
	}

	return &session{
		id:        id,
		query:     query,
		addToCart: addToCart,
		started:   now,
		log:       l.logger.With(zap.String("session_id", id), zap.String("query", query)),
		state: NewExplorationState(l.engine, query, ExplorationBudget{
			MaxSteps:    l.cfg.MaxSteps,
			Deadline:    deadline,
			MaxFailures: l.cfg.MaxFailures,
		}),
		scrolls:     make(map[string]int),
		scrollDone:  make(map[string]bool),
		lastPrint:   make(map[string]string),
		seenSimilar: make(map[string]bool),

		similarShown: make(map[string]bool),
	}
}

func (l *DecisionLoop) handle(ctx context.Context, sess *session, state domain.LoopState) (domain.LoopState, error) {
	switch state {
	case domain.StateSearching:
		return l.searchCandidates(ctx, sess)
	case domain.StateOpeningCandidate:
		return l.openNext(ctx, sess)
	case domain.StateReadingScreen:
		return l.readScreen(ctx, sess)
	case domain.StateExploringVariants:
		return l.exploreVariant(ctx, sess)
	case domain.StateScrollingSimilar:
		return l.scrollSimilar(ctx, sess)
	case domain.StateConverged:
		return l.converge(sess)
	case domain.StateCarting:
		return l.cartBest(ctx, sess)
	default:
		return domain.StateFailed, fmt.Errorf("unhandled state %s", state)
	}
}

func (l *DecisionLoop) finish(sess *session, state domain.LoopState, err error) (*domain.HuntResult, error) {
	result := &domain.HuntResult{
		SessionID:    sess.id,
		Query:        sess.query,
		State:        state,
		Best:         sess.state.BestKnown(),
		Carted:       sess.carted,
		CartedPrice:  sess.cartedPrice,
		Steps:        sess.state.Steps(),
		Failures:     sess.state.Failures(),
		Observations: sess.state.ValidObservations(),
		Candidates:   sess.candidates,
		Elapsed:      l.now().Sub(sess.started),
	}

	if err == nil {
		l.metrics.IncSession("done")
		fields := []zap.Field{zap.Int("steps", result.Steps), zap.Bool("carted", result.Carted)}
		if result.Best != nil {
			fields = append(fields,
				zap.Stringer("price", result.Best.Price),
				zap.String("marketplace", result.Best.Source.Marketplace),
				zap.String("url", result.Best.Source.URL))
		}
		sess.log.Info("hunt finished", fields...)
		return result, nil
	}

	var huntErr *domain.HuntError
	if !errors.As(err, &huntErr) {
		huntErr = &domain.HuntError{Kind: domain.ErrNoValidPriceFound, Best: result.Best, Err: err}
	}
	result.Error = huntErr.Error()
	l.metrics.IncSession(outcomeLabel(huntErr.Kind))
	sess.log.Warn("hunt failed", zap.Error(huntErr), zap.Int("steps", result.Steps))
	return result, huntErr
}

func outcomeLabel(kind error) string {
	switch {
	case errors.Is(kind, domain.ErrNoValidPriceFound):
		return "no_valid_price"
	case errors.Is(kind, domain.ErrBestBecameUnavailable):
		return "best_unavailable"
	case errors.Is(kind, domain.ErrCart):
		return "cart_failed"
	case errors.Is(kind, context.Canceled), errors.Is(kind, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "failed"
	}
}

// searchCandidates runs the concurrent search phase and seeds the frontier.
func (l *DecisionLoop) searchCandidates(ctx context.Context, sess *session) (domain.LoopState, error) {
	candidates, err := l.search.Search(ctx, sess.query)
	if err != nil {
		if ctx.Err() != nil {
			return domain.StateFailed, ctx.Err()
		}
		sess.log.Warn("search failed", zap.Error(err))
	}

	ranked := l.ranker.Rank(candidates)
	sess.candidates = len(ranked)

	targets := make([]domain.Target, 0, len(ranked))
	for _, rc := range ranked {
		targets = append(targets, domain.Target{
			Kind:        domain.TargetCandidate,
			Title:       rc.Title,
			Marketplace: rc.Marketplace,
			URL:         rc.URL,
			PriceHint:   l.hint(rc.Price),
			Origin:      "search",
		})
	}
	sess.state.PushBack(targets...)

	sess.log.Info("candidates ranked", zap.Int("candidates", len(targets)))
	return domain.StateOpeningCandidate, nil
}

// openNext opens the next candidate or similar item from the frontier.
func (l *DecisionLoop) openNext(ctx context.Context, sess *session) (domain.LoopState, error) {
	for {
		t, ok := sess.state.Peek()
		if !ok {
			sess.log.Info("frontier exhausted")
			return l.stopExploring(sess)
		}
		if t.Kind == domain.TargetVariant {
			return domain.StateExploringVariants, nil
		}
		if sess.state.CanStopEarly() {
			sess.log.Info("best beats every remaining hint", zap.Int("remaining", sess.state.FrontierLen()))
			return domain.StateConverged, nil
		}

		sig := l.impliedSignature(t)
		if sess.state.IsVisited(sig) || l.pruned(sess, t) {
			sess.state.Pop()
			sess.log.Debug("target skipped", zap.String("title", t.Title), zap.String("kind", string(t.Kind)))
			continue
		}
		if sess.state.BudgetExhausted(l.now()) {
			sess.log.Info("exploration budget spent", zap.Int("steps", sess.state.Steps()))
			return l.stopExploring(sess)
		}

		sess.state.Pop()
		sess.state.Step()
		sess.state.MarkVisited(sig)

		var err error
		if t.Kind == domain.TargetCandidate {
			sess.log.Info("opening candidate",
				zap.String("marketplace", t.Marketplace),
				zap.String("url", t.URL),
				zap.Stringer("hint", priceStringer{t.PriceHint}))
			err = l.goTo(ctx, sess, t.Route())
		} else {
			sess.log.Info("opening similar item", zap.String("title", t.Title))
			err = l.tapTarget(ctx, sess, t)
		}
		if err != nil {
			return l.actionFailed(ctx, sess, "open", err)
		}

		sess.page = pageContext{marketplace: t.Marketplace, route: t.Route(), target: t}
		return domain.StateReadingScreen, nil
	}
}

// readScreen captures and interprets the page just opened.
func (l *DecisionLoop) readScreen(ctx context.Context, sess *session) (domain.LoopState, error) {
	screen, err := l.observe(ctx, sess)
	if err != nil {
		sess.screen = nil
		return l.actionFailed(ctx, sess, "capture", err)
	}
	if screen.PageError {
		sess.screen = nil
		return l.actionFailed(ctx, sess, "page", errors.New("marketplace error page"))
	}
	sess.screen = screen

	l.record(sess, screen)

	pageKey := sess.page.route.Key()
	sess.lastPrint[pageKey] = fingerprint(screen)

	pageTitle := screen.Title
	if pageTitle == "" {
		pageTitle = sess.page.target.Title
	}

	var variants []domain.Target
	for _, v := range screen.Variants {
		t := domain.Target{
			Kind:        domain.TargetVariant,
			Title:       pageTitle,
			Label:       v.Label,
			Marketplace: sess.page.marketplace,
			PriceHint:   l.hint(v.PriceHint),
			Via:         sess.page.route,
			Point:       v.Point,
			Origin:      "variant",
		}
		if !sess.state.IsVisited(l.impliedSignature(t)) {
			variants = append(variants, t)
		}
	}
	l.harvestSimilar(sess, screen, sess.page.route)
	if revealsSimilar(screen) {
		sess.similarShown[pageKey] = true
	}

	if len(variants) > 0 {
		sess.state.PushFront(variants...)
		return domain.StateExploringVariants, nil
	}
	return l.afterPage(sess), nil
}

// exploreVariant taps the next unvisited, unpruned variant at the front of
// the frontier.
func (l *DecisionLoop) exploreVariant(ctx context.Context, sess *session) (domain.LoopState, error) {
	for {
		t, ok := sess.state.Peek()
		if !ok || t.Kind != domain.TargetVariant {
			return l.afterPage(sess), nil
		}

		sig := l.impliedSignature(t)
		if sess.state.IsVisited(sig) || l.pruned(sess, t) {
			sess.state.Pop()
			sess.log.Debug("variant skipped", zap.String("label", t.Label))
			continue
		}
		if sess.state.BudgetExhausted(l.now()) {
			sess.log.Info("exploration budget spent", zap.Int("steps", sess.state.Steps()))
			return l.stopExploring(sess)
		}

		sess.state.Pop()
		sess.state.Step()
		sess.state.MarkVisited(sig)

		sess.log.Info("tapping variant", zap.String("label", t.Label), zap.Stringer("hint", priceStringer{t.PriceHint}))
		if err := l.tapTarget(ctx, sess, t); err != nil {
			return l.actionFailed(ctx, sess, "variant", err)
		}

		sess.page = pageContext{marketplace: t.Marketplace, route: t.Route(), target: t}
		return domain.StateReadingScreen, nil
	}
}

// scrollSimilar scrolls the current page once and harvests newly revealed
// similar items.
func (l *DecisionLoop) scrollSimilar(ctx context.Context, sess *session) (domain.LoopState, error) {
	pageKey := sess.page.route.Key()
	if sess.state.BudgetExhausted(l.now()) {
		sess.log.Info("exploration budget spent", zap.Int("steps", sess.state.Steps()))
		return l.stopExploring(sess)
	}
	sess.state.Step()

	if err := l.scroll(ctx, sess); err != nil {
		sess.scrollDone[pageKey] = true
		return l.actionFailed(ctx, sess, "scroll", err)
	}
	sess.scrolls[pageKey]++

	screen, err := l.observe(ctx, sess)
	if err != nil {
		sess.scrollDone[pageKey] = true
		return l.actionFailed(ctx, sess, "capture", err)
	}

	fp := fingerprint(screen)
	if fp == sess.lastPrint[pageKey] {
		sess.log.Debug("end of page", zap.Int("scrolls", sess.scrolls[pageKey]))
		sess.scrollDone[pageKey] = true
		return domain.StateOpeningCandidate, nil
	}
	sess.lastPrint[pageKey] = fp

	added := l.harvestSimilar(sess, screen, sess.current)
	if revealsSimilar(screen) {
		sess.similarShown[pageKey] = true
	}
	sess.log.Debug("scrolled", zap.Int("scrolls", sess.scrolls[pageKey]), zap.Int("new_similar", added))

	// Keep scrolling until the section shows up
	if added == 0 && sess.similarShown[pageKey] {
		sess.log.Debug("no new similar items", zap.Int("scrolls", sess.scrolls[pageKey]))
		sess.scrollDone[pageKey] = true
		return domain.StateOpeningCandidate, nil
	}
	if sess.scrolls[pageKey] >= l.cfg.MaxScrollsPerPage {
		sess.scrollDone[pageKey] = true
		return domain.StateOpeningCandidate, nil
	}
	return domain.StateScrollingSimilar, nil
}

// converge decides whether there is anything to cart.
func (l *DecisionLoop) converge(sess *session) (domain.LoopState, error) {
	best := sess.state.Best()
	if best == nil {
		return domain.StateFailed, l.noBest(sess)
	}
	sess.log.Info("converged",
		zap.Stringer("price", best.Price),
		zap.String("marketplace", best.Source.Marketplace),
		zap.String("title", best.Title),
		zap.Int("steps", sess.state.Steps()))

	if !sess.addToCart {
		return domain.StateDone, nil
	}
	return domain.StateCarting, nil
}

// cartBest re-validates the best offer on a fresh read and adds it to the cart.
func (l *DecisionLoop) cartBest(ctx context.Context, sess *session) (domain.LoopState, error) {
	best := sess.state.Best()
	if best == nil {
		return domain.StateFailed, l.noBest(sess)
	}

	if sess.current.Key() != best.Source.Route.Key() || sess.current.IsZero() {
		sess.log.Info("returning to best offer", zap.String("url", best.Source.Route.URL))
		if err := l.goTo(ctx, sess, best.Source.Route); err != nil {
			if ctx.Err() != nil {
				return domain.StateFailed, ctx.Err()
			}
			return l.bestUnavailable(sess, fmt.Sprintf("could not reopen: %v", err))
		}
	}
	sess.page = pageContext{marketplace: best.Source.Marketplace, route: best.Source.Route}

	screen, err := l.observe(ctx, sess)
	if err != nil {
		if ctx.Err() != nil {
			return domain.StateFailed, ctx.Err()
		}
		return l.bestUnavailable(sess, fmt.Sprintf("could not read page: %v", err))
	}

	fresh := screen.Primary
	switch {
	case fresh == nil:
		return l.bestUnavailable(sess, "no price on fresh read")
	case !l.engine.SameProduct(l.engine.Normalize(best.Title), l.engine.Normalize(fresh.Title)):
		return l.bestUnavailable(sess, "page shows a different product")
	case fresh.Stock != domain.InStock:
		return l.bestUnavailable(sess, "stock is "+fresh.Stock.String())
	}
	if !fresh.Price.Amount.Equal(best.Price.Amount) {
		sess.log.Warn("price changed since observation",
			zap.Stringer("observed", best.Price), zap.Stringer("now", fresh.Price))
	}

	for i := 0; screen.AddToCart == nil && !screen.CartConfirmed && i < l.cfg.CartSearchScrolls; i++ {
		if err := l.scroll(ctx, sess); err != nil {
			break
		}
		next, err := l.observe(ctx, sess)
		if err != nil {
			break
		}
		screen = next
	}

	if err := l.cart.AddToCart(ctx, screen); err != nil {
		if ctx.Err() != nil {
			return domain.StateFailed, ctx.Err()
		}
		return domain.StateFailed, &domain.HuntError{Kind: domain.ErrCart, Best: best, Err: err}
	}

	sess.carted = true
	sess.cartedPrice = fresh.Price
	sess.log.Info("added to cart", zap.Stringer("price", fresh.Price), zap.String("url", best.Source.URL))
	return domain.StateDone, nil
}

// bestUnavailable drops the current best and picks where to continue.
func (l *DecisionLoop) bestUnavailable(sess *session, reason string) (domain.LoopState, error) {
	dropped := sess.state.Best()
	next := sess.state.DropBest()
	l.metrics.IncObservation("dropped")
	sess.log.Warn("best offer no longer valid",
		zap.String("reason", reason),
		zap.Stringer("price", dropped.Price),
		zap.String("url", dropped.Source.URL))

	if sess.state.FrontierLen() > 0 && !sess.state.BudgetExhausted(l.now()) && !sess.state.FailureBudgetExceeded() {
		return domain.StateOpeningCandidate, nil
	}
	if next != nil {
		sess.log.Info("falling back to next best", zap.Stringer("price", next.Price))
		return domain.StateConverged, nil
	}
	return domain.StateFailed, &domain.HuntError{Kind: domain.ErrBestBecameUnavailable, Best: dropped, Err: errors.New(reason)}
}

// stopExploring ends exploration with whatever best is known.
func (l *DecisionLoop) stopExploring(sess *session) (domain.LoopState, error) {
	if sess.state.Best() != nil {
		return domain.StateConverged, nil
	}
	return domain.StateFailed, l.noBest(sess)
}

func (l *DecisionLoop) noBest(sess *session) error {
	if dropped := sess.state.BestKnown(); dropped != nil {
		return &domain.HuntError{Kind: domain.ErrBestBecameUnavailable, Best: dropped}
	}
	return &domain.HuntError{Kind: domain.ErrNoValidPriceFound}
}

// actionFailed records a failed exploration action and skips to the next target.
func (l *DecisionLoop) actionFailed(ctx context.Context, sess *session, action string, err error) (domain.LoopState, error) {
	if ctx.Err() != nil {
		return domain.StateFailed, ctx.Err()
	}
	exceeded := sess.state.RecordFailure()
	sess.log.Warn("action failed, skipping target",
		zap.String("action", action),
		zap.Error(err),
		zap.Int("failures", sess.state.Failures()))
	if exceeded {
		sess.log.Warn("failure budget exceeded")
		return l.stopExploring(sess)
	}
	return domain.StateOpeningCandidate, nil
}

// afterPage picks the next state once the open page's variants are done.
func (l *DecisionLoop) afterPage(sess *session) domain.LoopState {
	key := sess.page.route.Key()
	if sess.screen != nil && sess.screen.Scrollable && !sess.scrollDone[key] &&
		sess.scrolls[key] < l.cfg.MaxScrollsPerPage {
		return domain.StateScrollingSimilar
	}
	return domain.StateOpeningCandidate
}

// record turns the primary reading of a page into an observation and offers it.
func (l *DecisionLoop) record(sess *session, screen *domain.ScreenObservation) {
	if screen.Title == "" && screen.Primary == nil {
		l.metrics.IncObservation("empty")
		return
	}

	var price *domain.Price
	if screen.Primary != nil {
		price = screen.Primary.Price
	}
	sig := l.engine.Signature(screen.Title, sess.page.marketplace, price, "")
	sess.state.MarkVisited(sig)

	if screen.Primary == nil {
		l.metrics.IncObservation("unparsable")
		sess.log.Debug("no usable price", zap.String("title", screen.Title), zap.Error(screen.PriceErr))
		return
	}

	url := sess.lastURL
	if url == "" {
		url = sess.page.route.URL
	}
	obs := *screen.Primary
	obs.Signature = sig
	obs.Source = domain.Source{Marketplace: sess.page.marketplace, URL: url, Route: sess.page.route}
	obs.Seq = sess.state.NextSeq()
	obs.ObservedAt = l.now()

	switch {
	case !obs.Valid():
		l.metrics.IncObservation("invalid")
		sess.log.Info("observation not valid", zap.String("title", obs.Title), zap.Stringer("stock", obs.Stock))
	case !sess.state.Matches(obs.Title):
		l.metrics.IncObservation("mismatch")
		sess.log.Info("different product", zap.String("title", obs.Title))
	default:
		l.metrics.IncObservation("valid")
		if sess.state.Offer(&obs) {
			sess.log.Info("new best",
				zap.Stringer("price", obs.Price),
				zap.String("marketplace", obs.Source.Marketplace),
				zap.String("title", obs.Title))
		}
	}
}

// harvestSimilar appends unseen similar items found on screen, reachable via
// route. Returns how many were added.
func (l *DecisionLoop) harvestSimilar(sess *session, screen *domain.ScreenObservation, via domain.Route) int {
	var targets []domain.Target
	for _, item := range screen.SimilarItems {
		if strings.TrimSpace(item.Title) == "" {
			continue
		}
		hint := l.hint(item.PriceHint)
		key := sess.page.route.Key() + "|" + string(l.engine.Normalize(item.Title)) + "|" + priceStringer{hint}.String()
		if sess.seenSimilar[key] {
			continue
		}
		sess.seenSimilar[key] = true

		t := domain.Target{
			Kind:        domain.TargetSimilarItem,
			Title:       item.Title,
			Marketplace: sess.page.marketplace,
			PriceHint:   hint,
			Via:         via,
			Point:       item.Point,
			Origin:      "similar",
		}
		if sess.state.IsVisited(l.impliedSignature(t)) {
			continue
		}
		targets = append(targets, t)
	}
	sess.state.PushBack(targets...)
	return len(targets)
}

func revealsSimilar(screen *domain.ScreenObservation) bool {
	return screen.SimilarSection != nil || len(screen.SimilarItems) > 0
}

func (l *DecisionLoop) impliedSignature(t domain.Target) domain.ProductSignature {
	variant := ""
	if t.Kind == domain.TargetVariant {
		variant = t.Label
		if variant == "" {
			variant = fmt.Sprintf("%d,%d", t.Point.X, t.Point.Y)
		}
	}
	return l.engine.Signature(t.Title, t.Marketplace, t.PriceHint, variant)
}

// pruned reports whether a tap target's trusted hint is no cheaper than best.
func (l *DecisionLoop) pruned(sess *session, t domain.Target) bool {
	best := sess.state.Best()
	if t.Kind == domain.TargetCandidate || t.PriceHint == nil || best == nil {
		return false
	}
	return t.PriceHint.Comparable(*best.Price) && !t.PriceHint.Less(*best.Price)
}

func (l *DecisionLoop) hint(p *domain.Price) *domain.Price {
	if !l.cfg.TrustPriceHints {
		return nil
	}
	return p
}

// observe captures the screen and interprets it. A capture failure is
// returned; a perception failure is retried once and then read as an empty
// screen. The capture file lives only for the duration of the call.
func (l *DecisionLoop) observe(ctx context.Context, sess *session) (*domain.ScreenObservation, error) {
	var capture *domain.ScreenCapture
	err := l.deviceOp(ctx, sess, "capture", func(ctx context.Context) error {
		var err error
		capture, err = l.device.CaptureScreen(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	if capture == nil {
		return nil, fmt.Errorf("%w: capture returned no image", domain.ErrDevice)
	}
	sess.lastURL = capture.URL

	if l.captures != nil {
		if path, err := l.captures.Save(ctx, sess.id, capture.Data); err != nil {
			sess.log.Debug("capture not stored", zap.Error(err))
		} else {
			defer func() {
				if err := l.captures.Remove(path); err != nil {
					sess.log.Debug("capture not removed", zap.String("path", path), zap.Error(err))
				}
			}()
		}
	}

	var perr error
	for attempt := 1; attempt <= 2; attempt++ {
		screen, err := l.perception.Observe(ctx, capture)
		if err == nil {
			return screen, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		perr = err
	}
	l.metrics.IncObservation("perception_failed")
	sess.log.Warn("perception failed, treating screen as empty", zap.Error(perr))
	return &domain.ScreenObservation{}, nil
}

// goTo opens route: navigate to its URL, then replay its steps.
func (l *DecisionLoop) goTo(ctx context.Context, sess *session, route domain.Route) error {
	sess.current = domain.Route{}
	err := l.deviceOp(ctx, sess, "navigate", func(ctx context.Context) error {
		return l.device.Navigate(ctx, route.URL)
	})
	if err != nil {
		return err
	}
	at := domain.Route{URL: route.URL}

	for _, step := range route.Steps {
		err := l.deviceOp(ctx, sess, string(step.Action), func(ctx context.Context) error {
			if step.Action == domain.ActionScroll {
				return l.device.Scroll(ctx, step.Direction, step.Amount)
			}
			return l.device.Tap(ctx, step.Point.X, step.Point.Y)
		})
		if err != nil {
			return err
		}
		at = at.Then(step)
	}
	sess.current = at
	return nil
}

// tapTarget taps t, reopening the page it was seen on when that is not the
// page on screen.
func (l *DecisionLoop) tapTarget(ctx context.Context, sess *session, t domain.Target) error {
	if sess.current.IsZero() || sess.current.Key() != t.Via.Key() {
		if err := l.goTo(ctx, sess, t.Via); err != nil {
			return err
		}
	}
	err := l.deviceOp(ctx, sess, "tap", func(ctx context.Context) error {
		return l.device.Tap(ctx, t.Point.X, t.Point.Y)
	})
	if err != nil {
		sess.current = domain.Route{}
		return err
	}
	sess.current = sess.current.Then(domain.RouteStep{Action: domain.ActionTap, Point: t.Point})
	return nil
}

func (l *DecisionLoop) scroll(ctx context.Context, sess *session) error {
	step := domain.RouteStep{Action: domain.ActionScroll, Direction: domain.ScrollDown, Amount: l.cfg.ScrollAmount}
	err := l.deviceOp(ctx, sess, "scroll", func(ctx context.Context) error {
		return l.device.Scroll(ctx, step.Direction, step.Amount)
	})
	if err != nil {
		sess.current = domain.Route{}
		return err
	}
	if !sess.current.IsZero() {
		sess.current = sess.current.Then(step)
	}
	return nil
}

// deviceOp runs one device call under the step timeout, retrying failures.
func (l *DecisionLoop) deviceOp(ctx context.Context, sess *session, op string, fn func(context.Context) error) error {
	var err error
	for attempt := 1; attempt <= l.cfg.DeviceRetries+1; attempt++ {
		stepCtx, cancel := context.WithTimeout(ctx, l.cfg.StepTimeout)
		start := time.Now()
		err = fn(stepCtx)
		cancel()
		l.metrics.ObserveDeviceOp(op, time.Since(start), err)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		sess.log.Debug("device operation failed", zap.String("op", op), zap.Int("attempt", attempt), zap.Error(err))

		if attempt <= l.cfg.DeviceRetries && l.cfg.RetryDelay > 0 {
			select {
			case <-time.After(l.cfg.RetryDelay * time.Duration(attempt)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return fmt.Errorf("%w: %s: %v", domain.ErrDevice, op, err)
}

// fingerprint summarizes what a screen shows, to spot a scroll that moved nothing.
func fingerprint(screen *domain.ScreenObservation) string {
	parts := []string{screen.Title}
	for _, s := range screen.SimilarItems {
		parts = append(parts, s.Title)
	}
	for _, v := range screen.Variants {
		parts = append(parts, v.Label)
	}
	sort.Strings(parts[1:])
	if screen.SimilarSection != nil {
		parts = append(parts, "similar-section")
	}
	if screen.AddToCart != nil {
		parts = append(parts, "add-to-cart")
	}
	return strings.Join(parts, "\x1f")
}

// priceStringer renders an optional price for logs.
type priceStringer struct{ p *domain.Price }

func (s priceStringer) String() string {
	if s.p == nil {
		return "-"
	}
	return s.p.String()
}
