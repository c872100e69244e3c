// internal/crawler/engine.go
package crawler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/settings-crawler/internal/config"
	"github.com/xkilldash9x/settings-crawler/internal/discovery"
	"github.com/xkilldash9x/settings-crawler/internal/llmclient"
)

const (
	// attemptsPerStep bounds click attempts, counted or not, per allowed step.
	attemptsPerStep = 5
	// scrollStep is how far one progressive scroll pass moves, in pixels.
	scrollStep      = 800
	classifyTimeout = 45 * time.Second
	// maxCategorized bounds the controls sent to the classifier for a category.
	maxCategorized = 20
)

// Options parameterizes one traversal.
type Options struct {
	RunID    string
	Service  string
	StartURL string

	Crawler   config.CrawlerConfig
	Evaluator config.EvaluatorConfig
	Harvester config.HarvesterConfig

	LoadStateTimeout time.Duration
	PostLoadWait     time.Duration

	// Classifier may veto a heuristic success. When it also implements
	// llmclient.ControlCategorizer it categorizes the harvested controls that
	// no keyword matched. Nil disables both.
	Classifier    llmclient.Classifier
	MinConfidence float64

	// StartErr is set when the start page failed to load during bootstrap.
	// The run then ends at once with ReasonStartFailed.
	StartErr error

	// Confirm gates every click. Nil allows all.
	Confirm ConfirmFunc
	Now     func() time.Time
}

// NewOptions derives traversal options from the application configuration.
func NewOptions(cfg *config.Config, startURL string) Options {
	return Options{
		StartURL:         startURL,
		Crawler:          cfg.Crawler,
		Evaluator:        cfg.Evaluator,
		Harvester:        cfg.Harvester,
		LoadStateTimeout: cfg.Network.LoadStateTimeout,
		PostLoadWait:     cfg.Network.PostLoadWait,
		MinConfidence:    cfg.LLM.MinConfidence,
	}
}

// State is the mutable state of one traversal. It is owned by a single Run.
type State struct {
	Tracker  *Tracker
	Path     []string
	Clicks   int
	Attempts int
	Status   EvalState
	Reason   string

	cooldown map[string]time.Time
	tabs     map[string]map[string]bool
	tried    map[string]bool
	expanded map[string]bool
	vetoed   map[string]bool
}

// NewState creates the state of a fresh traversal.
func NewState() *State {
	return &State{
		Tracker:  NewTracker(),
		Path:     []string{},
		Status:   StateSearching,
		cooldown: make(map[string]time.Time),
		tabs:     make(map[string]map[string]bool),
		tried:    make(map[string]bool),
		expanded: make(map[string]bool),
		vetoed:   make(map[string]bool),
	}
}

func (s *State) coolingDown(label string, now time.Time, window time.Duration) bool {
	last, ok := s.cooldown[label]
	return ok && now.Sub(last) < window
}

func (s *State) tabVisited(canonical, label string) bool {
	return s.tabs[canonical][label]
}

func (s *State) markTab(canonical, label string) {
	if s.tabs[canonical] == nil {
		s.tabs[canonical] = make(map[string]bool)
	}
	s.tabs[canonical][label] = true
}

func triedKey(sig Signature, c Candidate) string {
	return sig.Key() + "|" + c.Locator + "|" + c.Label
}

func (s *State) finish(status EvalState, reason string) {
	s.Status, s.Reason = status, reason
}

// Engine runs the discovery loop against one page holder.
type Engine struct {
	opts      Options
	ranker    *Ranker
	evaluator *Evaluator
	harvester *Harvester
	expander  *Expander
	banner    *BannerHandler
	menu      *MenuOpener
	logger    *zap.Logger
}

// Validate reports option errors that would make NewEngine fail. Callers
// use it to reject a run before any browser starts.
func (o Options) Validate() error {
	if o.StartURL == "" {
		return ErrNoStartURL
	}
	if _, err := discovery.NewScope(o.StartURL, o.Crawler.IncludeSubdomains); err != nil {
		return fmt.Errorf("invalid start URL: %w", err)
	}
	if o.Crawler.MaxSteps <= 0 {
		return fmt.Errorf("max steps must be positive, got %d", o.Crawler.MaxSteps)
	}
	if _, err := NewEvaluator(o.Evaluator); err != nil {
		return err
	}
	return nil
}

// NewEngine validates opts and builds the traversal components.
func NewEngine(opts Options, logger *zap.Logger) (*Engine, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	scope, err := discovery.NewScope(opts.StartURL, opts.Crawler.IncludeSubdomains)
	if err != nil {
		return nil, fmt.Errorf("invalid start URL: %w", err)
	}
	evaluator, err := NewEvaluator(opts.Evaluator)
	if err != nil {
		return nil, err
	}
	if opts.Confirm == nil {
		opts.Confirm = AllowAll
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}

	logger = logger.Named("crawler").With(zap.String("run_id", opts.RunID))
	deny := NewDenylist(opts.Crawler.ExtraDenylist)
	c := opts.Crawler
	return &Engine{
		opts:      opts,
		ranker:    NewRanker(GoalTerms(c.Query, c.Multilingual), deny, scope, opts.StartURL),
		evaluator: evaluator,
		harvester: NewHarvester(opts.Harvester, deny),
		expander:  newExpander(c.MaxExpansions, c.ExpansionSettle, c.ClickTimeout, deny, opts.Confirm, logger),
		banner:    newBannerHandler(c.BannerAttempts, c.BannerInterval, c.ClickTimeout, opts.Confirm, logger),
		menu:      newMenuOpener(c.ClickTimeout, c.ExpansionSettle, deny, opts.Confirm, logger),
		logger:    logger,
	}, nil
}

// run bundles the per-call collaborators of Run.
type run struct {
	*Engine
	holder PageHolder
	nav    *Navigator
	st     *State
}

// Run drives the traversal from the page currently held by holder until a
// settings surface is found or a budget runs out. It always returns a result;
// the error is non-nil only when the starting page cannot be observed.
func (e *Engine) Run(ctx context.Context, holder PageHolder) (*RunResult, error) {
	r := &run{Engine: e, holder: holder, st: NewState()}
	r.nav = newNavigator(holder, e.opts.Crawler, e.opts.LoadStateTimeout, r.observe, e.logger)

	res := &RunResult{
		RunID:     e.opts.RunID,
		Service:   e.opts.Service,
		StartURL:  e.opts.StartURL,
		Path:      []string{},
		Controls:  []Control{},
		StartedAt: e.opts.Now().UTC(),
	}
	e.logger.Info("Starting settings discovery.",
		zap.String("start_url", e.opts.StartURL),
		zap.Int("max_steps", e.opts.Crawler.MaxSteps),
		zap.Int("max_pages", e.opts.Crawler.MaxPages))

	if e.opts.StartErr != nil {
		r.st.finish(StateExhausted, ReasonStartFailed)
		if ctx.Err() != nil {
			r.st.finish(StateExhausted, ReasonCancelled)
		}
		r.fill(res)
		e.logger.Warn("Start page unavailable.", zap.Error(e.opts.StartErr))
		return res, fmt.Errorf("%s: %w", ReasonStartFailed, e.opts.StartErr)
	}

	_ = sleepCtx(ctx, e.opts.PostLoadWait)
	e.banner.Dismiss(ctx, holder.Page())
	obs, err := r.observe(ctx)
	if err != nil {
		r.st.finish(StateExhausted, ReasonStartFailed)
		if ctx.Err() != nil {
			r.st.finish(StateExhausted, ReasonCancelled)
			err = nil
		}
		r.fill(res)
		res.FinishedAt = e.opts.Now().UTC()
		return res, err
	}
	r.st.Tracker.MarkVisited(obs.sig)

	r.loop(ctx, obs)
	r.fill(res)
	if res.Success {
		res.Controls = r.harvest(ctx)
	}
	res.FinishedAt = e.opts.Now().UTC()

	e.logger.Info("Settings discovery finished.",
		zap.Bool("success", res.Success),
		zap.Int("click_count", res.ClickCount),
		zap.Strings("path", res.Path),
		zap.String("final_url", res.FinalURL),
		zap.String("reason", res.Reason),
		zap.Int("controls", len(res.Controls)))
	return res, nil
}

func (r *run) fill(res *RunResult) {
	res.Success = r.st.Status == StateSuccess
	res.State = r.st.Status
	res.Reason = r.st.Reason
	res.ClickCount = r.st.Clicks
	res.Path = append([]string{}, r.st.Path...)
	res.Visited = r.st.Tracker.Visited()
	res.FinalURL = r.holder.Page().URL()
	res.FinishedAt = r.opts.Now().UTC()
}

func (r *run) loop(ctx context.Context, obs *observation) {
	st := r.st
	c := r.opts.Crawler
	maxAttempts := c.MaxSteps * attemptsPerStep

	for {
		if ctx.Err() != nil {
			st.finish(StateExhausted, ReasonCancelled)
			return
		}
		if r.evaluate(ctx, obs) {
			return
		}

		canonical := obs.sig.CanonicalURL
		if !st.expanded[canonical] {
			st.expanded[canonical] = true
			if next, changed := r.expand(ctx, obs); changed {
				obs = next
				if r.evaluate(ctx, obs) {
					return
				}
			}
		}

		switch {
		case st.Clicks >= c.MaxSteps || st.Attempts >= maxAttempts:
			st.finish(StateExhausted, ReasonMaxSteps)
			return
		case c.MaxPages > 0 && st.Tracker.Len() >= c.MaxPages:
			st.finish(StateExhausted, ReasonMaxPages)
			return
		}

		ranked, base := r.candidates(ctx, obs)
		if len(ranked) == 0 {
			if ctx.Err() != nil {
				continue
			}
			st.finish(StateExhausted, ReasonNoCandidates)
			return
		}
		if base != nil {
			obs = base
		}

		if next, ok := r.step(ctx, obs, ranked, maxAttempts); ok {
			obs = next
		}
	}
}

// step tries the ranked candidates in order until one changes the screen.
func (r *run) step(ctx context.Context, obs *observation, ranked []Ranked, maxAttempts int) (*observation, bool) {
	st := r.st
	for _, cand := range ranked {
		if ctx.Err() != nil || st.Attempts >= maxAttempts {
			return nil, false
		}
		st.tried[triedKey(obs.sig, cand.Candidate)] = true
		action := Action{Kind: ActionNavigate, Label: cand.Label, Locator: cand.Locator, Href: cand.Href, URL: obs.snap.URL}
		if !r.opts.Confirm(action) {
			r.logger.Debug("Click vetoed by confirmation gate.", zap.String("label", cand.Label))
			continue
		}
		st.Attempts++
		out := r.nav.AttemptClick(ctx, cand.Candidate, obs.sig)
		if out.Abandoned {
			next, err := r.observe(ctx)
			if err != nil {
				return nil, false
			}
			return next, true
		}
		if !out.Success || !out.StateChanged || out.after == nil {
			continue
		}

		if cand.Role == RoleTab {
			st.markTab(obs.sig.CanonicalURL, cand.Label)
		}
		next := out.after
		if r.banner.Dismiss(ctx, r.holder.Page()) {
			if again, err := r.observe(ctx); err == nil {
				next = again
			}
		}

		r.record(cand.Label, next, zap.Float64("score", cand.Score), zap.String("method", out.Method))
		return next, true
	}
	return nil, false
}

// record counts a click that reached next as a step, unless next was
// already visited.
func (r *run) record(label string, next *observation, fields ...zap.Field) {
	st := r.st
	if !st.Tracker.MarkVisited(next.sig) {
		r.logger.Debug("Click led to an already visited screen.",
			zap.String("label", label),
			zap.String("url", next.sig.CanonicalURL))
		return
	}
	st.Clicks++
	st.Path = append(st.Path, label)
	st.cooldown[label] = r.opts.Now()
	r.logger.Info("Navigated.", append([]zap.Field{
		zap.Int("step", st.Clicks),
		zap.String("label", label),
		zap.String("url", next.sig.CanonicalURL),
	}, fields...)...)
}

// expand reveals the collapsed sections of obs and returns the screen
// afterwards. An expansion click that left the page is recorded as a step.
func (r *run) expand(ctx context.Context, obs *observation) (*observation, bool) {
	exp := r.expander.Expand(ctx, r.holder.Page(), obs.snap)
	if len(exp.Clicked) == 0 {
		return obs, false
	}
	next, err := r.observe(ctx)
	if err != nil {
		return obs, false
	}
	if exp.Navigated || next.sig.CanonicalURL != obs.sig.CanonicalURL {
		r.record(exp.Clicked[len(exp.Clicked)-1], next, zap.String("method", "expand"))
	}
	return next, true
}

// candidates ranks the viable candidates of obs, falling back to progressive
// scrolling and then the profile menu. It returns the observation the
// candidates were taken from when that differs from obs.
func (r *run) candidates(ctx context.Context, obs *observation) ([]Ranked, *observation) {
	if ranked := r.rankViable(obs.snap, obs.sig); len(ranked) > 0 {
		return ranked, nil
	}

	page := r.holder.Page()
	for pass := 0; pass < r.opts.Crawler.ScrollPasses; pass++ {
		if err := page.ScrollBy(ctx, scrollStep); err != nil {
			break
		}
		if err := sleepCtx(ctx, r.opts.Crawler.ExpansionSettle); err != nil {
			return nil, nil
		}
		next, err := r.observe(ctx)
		if err != nil {
			break
		}
		if ranked := r.rankViable(next.snap, obs.sig); len(ranked) > 0 {
			r.logger.Debug("Found candidates after scrolling.", zap.Int("pass", pass+1))
			return ranked, &observation{snap: next.snap, sig: obs.sig, controls: obs.controls}
		}
	}

	items, opened, ok := r.menu.Open(ctx, page, obs.snap)
	if !ok {
		return nil, nil
	}
	ranked, _ := r.ranker.Rank(items, opened.URL)
	return r.viable(ranked, obs.sig), &observation{snap: opened, sig: obs.sig, controls: obs.controls}
}

// rankViable ranks snap's candidates and drops those the state rules out.
// sig identifies the screen the candidates belong to.
func (r *run) rankViable(snap *Snapshot, sig Signature) []Ranked {
	ranked, excluded := r.ranker.Rank(Extract(snap), snap.URL)
	for _, ex := range excluded {
		if ex.Reason != "no goal match" {
			r.logger.Debug("Excluded candidate.", zap.String("label", ex.Candidate.Label), zap.String("reason", ex.Reason))
		}
	}
	return r.viable(ranked, sig)
}

func (r *run) viable(ranked []Ranked, sig Signature) []Ranked {
	now := r.opts.Now()
	out := ranked[:0]
	for _, c := range ranked {
		switch {
		case r.st.tried[triedKey(sig, c.Candidate)]:
		case r.st.coolingDown(c.Label, now, r.opts.Crawler.Cooldown):
		case c.Role == RoleTab && r.st.tabVisited(sig.CanonicalURL, c.Label):
		default:
			out = append(out, c)
		}
	}
	return out
}

// evaluate judges obs and records a confirmed success in the state.
func (r *run) evaluate(ctx context.Context, obs *observation) bool {
	ev := r.evaluator.Evaluate(Observation{
		CanonicalURL: obs.sig.CanonicalURL,
		Clicks:       r.st.Clicks,
		Headings:     obs.snap.Headings(),
		Controls:     obs.controls,
	})
	if ev.State != StateSuccess {
		return false
	}
	if r.vetoed(ctx, obs) {
		return false
	}
	r.st.finish(StateSuccess, ev.Reason)
	r.logger.Info("Settings surface found.", zap.String("reason", ev.Reason), zap.String("url", obs.sig.CanonicalURL))
	return true
}

// vetoed asks the classifier whether a heuristic success is wrong. Verdicts
// are cached per screen.
func (r *run) vetoed(ctx context.Context, obs *observation) bool {
	if r.opts.Classifier == nil {
		return false
	}
	key := obs.sig.Key()
	if v, ok := r.st.vetoed[key]; ok {
		return v
	}
	cctx, cancel := context.WithTimeout(ctx, classifyTimeout)
	defer cancel()
	cls, err := r.opts.Classifier.Classify(cctx, obs.snap.BodyText())
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			r.logger.Warn("Page classification failed; keeping heuristic verdict.", zap.Error(err))
		}
		return false
	}
	veto := !cls.IsSettings() && cls.Confidence >= r.opts.MinConfidence
	r.st.vetoed[key] = veto
	if veto {
		r.logger.Info("Classifier vetoed heuristic success.",
			zap.String("label", cls.Label),
			zap.Float64("confidence", cls.Confidence),
			zap.String("url", obs.sig.CanonicalURL))
	}
	return veto
}

// harvest expands the final page if that has not happened yet and collects
// its controls.
func (r *run) harvest(ctx context.Context) []Control {
	obs, err := r.observe(ctx)
	if err != nil {
		r.logger.Warn("Could not observe the settings page for harvesting.", zap.Error(err))
		return []Control{}
	}
	if !r.st.expanded[obs.sig.CanonicalURL] {
		r.st.expanded[obs.sig.CanonicalURL] = true
		exp := r.expander.Expand(ctx, r.holder.Page(), obs.snap)
		if len(exp.Clicked) > 0 {
			next, err := r.observe(ctx)
			switch {
			case err != nil:
			case exp.Navigated || next.sig.CanonicalURL != obs.sig.CanonicalURL:
				// The settings page is gone; harvest what was seen of it.
				r.logger.Warn("Expansion left the settings page; harvesting the unexpanded page.",
					zap.String("url", obs.sig.CanonicalURL),
					zap.String("now", next.sig.CanonicalURL))
			default:
				obs = next
			}
		}
	}
	controls := r.harvester.Harvest(obs.snap)
	r.categorize(ctx, controls)
	return controls
}

// categorize asks the classifier for a category for each control the
// keywords left uncategorized. Only confident answers are kept.
func (r *run) categorize(ctx context.Context, controls []Control) {
	cat, ok := r.opts.Classifier.(llmclient.ControlCategorizer)
	if !ok {
		return
	}
	names := CategoryNames()
	asked := 0
	for i := range controls {
		if len(controls[i].Categories) > 0 {
			continue
		}
		if asked == maxCategorized || ctx.Err() != nil {
			return
		}
		asked++

		cctx, cancel := context.WithTimeout(ctx, classifyTimeout)
		cls, err := cat.Categorize(cctx, controls[i].Label, names)
		cancel()
		if err != nil {
			if errors.Is(err, llmclient.ErrCategorizeUnsupported) {
				return
			}
			r.logger.Debug("Control categorization failed.", zap.String("label", controls[i].Label), zap.Error(err))
			continue
		}
		if cls.Label == llmclient.LabelOther || cls.Confidence < r.opts.MinConfidence {
			continue
		}
		controls[i].Categories = []string{cls.Label}
		r.logger.Debug("Control categorized by classifier.",
			zap.String("label", controls[i].Label),
			zap.String("category", cls.Label),
			zap.Float64("confidence", cls.Confidence))
	}
}

// observe snapshots the active page and computes its signature.
func (r *run) observe(ctx context.Context) (*observation, error) {
	page := r.holder.Page()
	if r.opts.LoadStateTimeout > 0 {
		loadCtx, cancel := context.WithTimeout(ctx, r.opts.LoadStateTimeout)
		_ = page.WaitForLoad(loadCtx)
		cancel()
	}
	raw, err := page.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot page: %w", err)
	}
	current := page.URL()
	snap, err := ParseSnapshot(current, raw)
	if err != nil {
		return nil, err
	}
	canonical, err := Canonicalize(current, r.opts.Crawler.QueryWhitelist)
	if err != nil {
		canonical = current
	}
	controls := r.harvester.Scan(snap)
	return &observation{
		snap:     snap,
		sig:      Signature{CanonicalURL: canonical, Fingerprint: Fingerprint(snap, controls)},
		controls: controls,
	}, nil
}
