// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/M0hamedSayed/MSMapper/pkg/types"
)

// backoffBase controls the base duration for exponential backoff between
// retries. Tests override this to avoid real sleeps.
var backoffBase = time.Second

// defaultOutputTokens is the output allowance used in cost estimates when
// a profile declares no MaxTokens.
const defaultOutputTokens = 512

// ErrUnknownProvider is returned for a provider name that is not configured.
var ErrUnknownProvider = errors.New("unknown provider")

// Budget tracks one session's provider spend against its cost ceiling. A
// zero Ceiling disables the check. It is owned by a single session.
type Budget struct {
	Ceiling float64
	spent   float64
}

// NewBudget creates a budget with the given ceiling.
func NewBudget(ceiling float64) *Budget { return &Budget{Ceiling: ceiling} }

// Spent returns the cost charged so far.
func (b *Budget) Spent() float64 { return b.spent }

func (b *Budget) allows(cost float64) bool {
	return b == nil || b.Ceiling <= 0 || b.spent+cost <= b.Ceiling
}

func (b *Budget) charge(cost float64) {
	if b != nil {
		b.spent += cost
	}
}

// Suggestion is the normalised outcome of one Map call.
type Suggestion struct {
	Provider  string
	IsSuccess bool
	Matches   []types.PropertyMatch
	Usage     types.UsageDelta
	Warnings  []types.MappingWarning
	Attempts  int
}

// profileState is one provider plus its usage, guarded by mu. The mutex
// covers counter updates only; network calls run outside it.
type profileState struct {
	provider Provider
	profile  types.ProviderProfile

	mu    sync.Mutex
	win   window
	usage types.ProviderUsage
}

// Option customises a Gateway.
type Option func(*Gateway)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option { return func(g *Gateway) { g.logger = l } }

// WithClock replaces time.Now for window accounting.
func WithClock(now func() time.Time) Option { return func(g *Gateway) { g.now = now } }

// Gateway dispatches mapping requests to named providers under their
// limits. It is safe for concurrent use by many sessions.
type Gateway struct {
	states     map[string]*profileState
	names      []string
	timeout    time.Duration
	maxRetries int
	maxWait    time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

// NewGateway registers providers. Provider names must be unique.
func NewGateway(cfg types.ProviderConfig, providers []Provider, opts ...Option) (*Gateway, error) {
	c := types.Config{Provider: cfg}
	c.ApplyDefaults()

	g := &Gateway{
		states:     make(map[string]*profileState, len(providers)),
		timeout:    c.Provider.Timeout,
		maxRetries: *c.Provider.MaxRetries,
		maxWait:    c.Provider.MaxWait,
		now:        time.Now,
	}
	for _, o := range opts {
		o(g)
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}

	for _, p := range providers {
		prof := p.Profile()
		if prof.Name == "" {
			return nil, errors.New("provider without a name")
		}
		if _, dup := g.states[prof.Name]; dup {
			return nil, fmt.Errorf("duplicate provider %q", prof.Name)
		}
		if prof.Limits.Window <= 0 {
			prof.Limits.Window = types.DefaultProviderWindow
		}
		g.states[prof.Name] = &profileState{
			provider: p,
			profile:  prof,
			win:      window{limits: prof.Limits},
			usage:    types.ProviderUsage{Provider: prof.Name},
		}
		g.names = append(g.names, prof.Name)
	}
	sort.Strings(g.names)
	return g, nil
}

// Has reports whether a provider is registered under name.
func (g *Gateway) Has(name string) bool {
	_, ok := g.states[name]
	return ok
}

// Profiles lists registered profiles sorted by name.
func (g *Gateway) Profiles() []types.ProviderProfile {
	out := make([]types.ProviderProfile, 0, len(g.names))
	for _, n := range g.names {
		out = append(out, g.states[n].profile)
	}
	return out
}

// Usage returns a snapshot of a provider's usage.
func (g *Gateway) Usage(name string) (types.ProviderUsage, bool) {
	st, ok := g.states[name]
	if !ok {
		return types.ProviderUsage{}, false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	st.win.prune(g.now())
	u := st.usage
	u.Requests = len(st.win.calls)
	u.Tokens = st.win.tokensInWindow()
	u.DayStart = st.win.dayStart
	u.DayRequests = st.win.dayRequests
	if len(st.win.calls) > 0 {
		u.WindowStart = st.win.calls[0]
	}
	return u, true
}

// EstimateTokens approximates the input tokens of a prompt at four bytes
// per token.
func EstimateTokens(s string) int {
	return (len(s) + 3) / 4
}

// Map asks the named provider for mappings. Provider failures return an
// *Error; cancellation of ctx returns ctx.Err(). The returned Suggestion
// carries usage even when the call failed.
func (g *Gateway) Map(ctx context.Context, name string, req MapRequest, budget *Budget) (Suggestion, error) {
	st, ok := g.states[name]
	if !ok {
		return Suggestion{}, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	sug := Suggestion{Provider: name}

	prompt, err := RenderPrompt(req)
	if err != nil {
		return sug, newError(name, KindInvalidResponse, err)
	}
	maxOut := st.profile.Capabilities.MaxTokens
	if maxOut <= 0 {
		maxOut = defaultOutputTokens
	}
	estIn := EstimateTokens(systemPrompt) + EstimateTokens(prompt)
	estCost := st.profile.Limits.Cost(estIn, maxOut)
	if !budget.allows(estCost) {
		return sug, newError(name, KindCostCeilingExceeded,
			fmt.Errorf("estimated cost %.4f would exceed session ceiling %.4f (spent %.4f)", estCost, budget.Ceiling, budget.Spent()))
	}

	rid := uuid.NewString()
	call := Request{System: systemPrompt, Prompt: prompt, MaxTokens: maxOut}

	var lastErr *Error
	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(math.Pow(2, float64(attempt-1))) * backoffBase
			if lastErr != nil && lastErr.RetryAfter > delay {
				delay = lastErr.RetryAfter
			}
			g.logger.Info("provider.call.retry",
				"req_id", rid, "provider", name, "attempt", attempt, "delay", delay, "error", lastErr)
			if err := sleep(ctx, delay); err != nil {
				return sug, err
			}
		}
		if err := ctx.Err(); err != nil {
			return sug, err
		}

		reservedAt, err := g.reserve(ctx, st, estIn+maxOut)
		if err != nil {
			return sug, err
		}

		sug.Attempts++
		start := time.Now()
		g.logger.Debug("provider.call.start",
			"req_id", rid, "provider", name, "attempt", attempt, "est_tokens", estIn+maxOut)

		callCtx, cancel := context.WithTimeout(ctx, g.timeout)
		resp, callErr := st.provider.Call(callCtx, call)
		cancel()

		if callErr != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				g.record(st, reservedAt, estIn+maxOut, 0, 0, false, &sug)
				return sug, ctxErr
			}
			lastErr = classify(name, callErr)
			g.record(st, reservedAt, estIn+maxOut, 0, 0, false, &sug)
			g.logger.Warn("provider.call.failed",
				"req_id", rid, "provider", name, "attempt", attempt, "kind", lastErr.Kind,
				"error", callErr, "elapsed_ms", time.Since(start).Milliseconds())
			if !lastErr.Transient() {
				return sug, lastErr
			}
			continue
		}

		in, out := resp.InputTokens, resp.OutputTokens
		if in <= 0 {
			in = estIn
		}
		if out <= 0 {
			out = EstimateTokens(resp.Content)
		}

		matches, warnings, perr := parseSuggestions(name, resp.Content, req)
		cost := g.record(st, reservedAt, estIn+maxOut, in, out, perr == nil, &sug)
		budget.charge(cost)
		if perr != nil {
			g.logger.Warn("provider.call.invalid_response",
				"req_id", rid, "provider", name, "error", perr)
			return sug, newError(name, KindInvalidResponse, perr)
		}

		sug.IsSuccess = true
		sug.Matches = matches
		sug.Warnings = warnings
		g.logger.Info("provider.call.ok",
			"req_id", rid, "provider", name, "matches", len(matches), "input_tokens", in,
			"output_tokens", out, "cost", cost, "elapsed_ms", time.Since(start).Milliseconds())
		return sug, nil
	}
	return sug, lastErr
}

// reserve takes a slot in the profile's window, blocking until a slot
// frees up. If the wait would pass the gateway's MaxWait it fails with
// KindRateLimitExceeded.
func (g *Gateway) reserve(ctx context.Context, st *profileState, estTokens int) (time.Time, error) {
	deadline := g.now().Add(g.maxWait)
	for {
		st.mu.Lock()
		now := g.now()
		wait, ok := st.win.reserve(now, estTokens)
		st.mu.Unlock()
		if ok {
			return now, nil
		}

		if now.Add(wait).After(deadline) {
			return time.Time{}, &Error{
				Kind:       KindRateLimitExceeded,
				Provider:   st.profile.Name,
				RetryAfter: wait,
				Err:        fmt.Errorf("window resets in %s, beyond wait cap %s", wait.Round(time.Millisecond), g.maxWait),
			}
		}
		g.logger.Debug("provider.ratelimit.wait", "provider", st.profile.Name, "wait", wait)
		if err := sleep(ctx, wait); err != nil {
			return time.Time{}, err
		}
	}
}

// record updates the profile counters for one finished call and the
// session's usage delta. It returns the call's cost.
func (g *Gateway) record(st *profileState, reservedAt time.Time, est, in, out int, ok bool, sug *Suggestion) float64 {
	cost := st.profile.Limits.Cost(in, out)

	st.mu.Lock()
	st.win.settle(reservedAt, est, in+out)
	st.usage.TotalCalls++
	if !ok {
		st.usage.TotalFailures++
	}
	st.usage.TotalTokens += in + out
	st.usage.TotalCost += cost
	st.mu.Unlock()

	sug.Usage.Add(types.UsageDelta{Calls: 1, InputTokens: in, OutputTokens: out, Cost: cost})
	return cost
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
