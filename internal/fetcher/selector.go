package fetcher

import (
	"context"
	"time"

	"scrapeforge/internal/metrics"
	"scrapeforge/internal/model"
)

// Selector orders strategies and invokes them with fallback, per
// spec.md §4.B.
type Selector struct {
	plain   Strategy
	headless Strategy
	stealth  Strategy
	fireEngine Strategy
}

// NewSelector builds a Selector from the four strategies. Any may be nil
// if disabled by configuration (e.g. Rod is not enabled); a nil strategy is
// simply skipped when building the ordered list.
func NewSelector(plain, headless, stealthProxy, fireEngine Strategy) *Selector {
	return &Selector{plain: plain, headless: headless, stealth: stealthProxy, fireEngine: fireEngine}
}

// ordered returns the full capability-complete fallback chain.
func (s *Selector) ordered() []Strategy {
	var all []Strategy
	for _, st := range []Strategy{s.plain, s.headless, s.stealth, s.fireEngine} {
		if st != nil {
			all = append(all, st)
		}
	}
	return all
}

// buildChain implements step 1/2 of spec.md §4.B: decide the starting
// strategy based on the request's needs, then fall back through the rest
// of the capability-complete chain in order.
func (s *Selector) buildChain(opts Options) []Strategy {
	all := s.ordered()
	if len(all) == 0 {
		return nil
	}

	needsCapable := opts.NeedsScreenshot || opts.WaitForMs > 0 || (opts.Proxy != "" && opts.Proxy != "none")
	if !needsCapable {
		return all
	}

	// Start at the first capable strategy (renders JS), then continue the
	// remaining chain in its original relative order.
	startIdx := -1
	for i, st := range all {
		if st.Capabilities().RendersJS {
			startIdx = i
			break
		}
	}
	if startIdx <= 0 {
		return all
	}
	chain := make([]Strategy, 0, len(all))
	chain = append(chain, all[startIdx:]...)
	chain = append(chain, all[:startIdx]...)
	return chain
}

// Result is what Selector.Select returns: the winning fetch, which strategy
// produced it, and the trail of failures from strategies tried before it.
type Result struct {
	Fetch    *FetchResult
	Strategy string
	Attempts []Attempt
}

// Attempt records one strategy's outcome, used for fallback-monotonicity
// tests and diagnostics.
type Attempt struct {
	Strategy string
	Class    model.FailureClass
	Err      error
}

// Select runs the fallback chain for one URL, enforcing the total
// wall-clock budget from opts.TimeoutMs across all attempts.
func (s *Selector) Select(ctx context.Context, url string, opts Options) (*Result, error) {
	chain := s.buildChain(opts)
	if len(chain) == 0 {
		return nil, &FetchError{Class: model.FailureFatal, Err: errNoStrategies}
	}

	budget := time.Duration(opts.TimeoutMs) * time.Millisecond
	if budget <= 0 {
		budget = 30 * time.Second
	}
	deadline := time.Now().Add(budget)

	var attempts []Attempt
	var lastErr error

	for i, strat := range chain {
		// At least one strategy is always attempted even if the budget is
		// already exceeded; subsequent fallbacks are skipped once it is.
		if i > 0 && time.Now().After(deadline) {
			break
		}

		attemptCtx, cancel := context.WithDeadline(ctx, deadline)
		res, err := strat.Fetch(attemptCtx, url, opts)
		cancel()

		if err == nil {
			metrics.RecordFetchAttempt(strat.Name(), "success")
			return &Result{Fetch: res, Strategy: strat.Name(), Attempts: attempts}, nil
		}

		class := ClassOf(err)
		metrics.RecordFetchAttempt(strat.Name(), class.String())
		attempts = append(attempts, Attempt{Strategy: strat.Name(), Class: class, Err: err})
		lastErr = err

		// InvalidContent is treated as Blocked for fallback purposes.
		if class == model.FailureInvalidContent {
			class = model.FailureBlocked
		}
		if class != model.FailureTransient && class != model.FailureBlocked {
			break
		}
	}

	return nil, &FetchError{Class: ClassOf(lastErr), Err: lastErr}
}

var errNoStrategies = fetchErrString("no fetcher strategies configured")

type fetchErrString string

func (e fetchErrString) Error() string { return string(e) }
