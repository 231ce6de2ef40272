// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package provider

import (
	"time"

	"github.com/M0hamedSayed/MSMapper/pkg/types"
)

const day = 24 * time.Hour

type tokenStamp struct {
	at     time.Time
	tokens int
}

// window tracks one profile's usage over a rolling window plus a daily
// request count. It is not safe for concurrent use; the gateway guards it
// with the profile mutex.
type window struct {
	limits types.Limits

	calls  []time.Time
	tokens []tokenStamp

	dayStart    time.Time
	dayRequests int
}

func (w *window) prune(now time.Time) {
	cutoff := now.Add(-w.limits.Window)
	i := 0
	for i < len(w.calls) && !w.calls[i].After(cutoff) {
		i++
	}
	w.calls = w.calls[i:]

	j := 0
	for j < len(w.tokens) && !w.tokens[j].at.After(cutoff) {
		j++
	}
	w.tokens = w.tokens[j:]

	if w.dayStart.IsZero() || now.Sub(w.dayStart) >= day {
		w.dayStart = now
		w.dayRequests = 0
	}
}

func (w *window) tokensInWindow() int {
	var n int
	for _, t := range w.tokens {
		n += t.tokens
	}
	return n
}

// reserve records a call of estTokens at now when every limit allows it.
// Otherwise it returns how long until the earliest blocking limit resets.
func (w *window) reserve(now time.Time, estTokens int) (time.Duration, bool) {
	w.prune(now)
	l := w.limits

	var wait time.Duration
	if l.RequestsPerDay > 0 && w.dayRequests >= l.RequestsPerDay {
		wait = max(wait, w.dayStart.Add(day).Sub(now))
	}
	if l.RequestsPerMinute > 0 && len(w.calls) >= l.RequestsPerMinute {
		wait = max(wait, w.calls[0].Add(l.Window).Sub(now))
	}
	if l.TokensPerMinute > 0 && len(w.tokens) > 0 && w.tokensInWindow()+estTokens > l.TokensPerMinute {
		wait = max(wait, w.tokens[0].at.Add(l.Window).Sub(now))
	}
	if wait > 0 {
		return wait, false
	}

	w.calls = append(w.calls, now)
	w.tokens = append(w.tokens, tokenStamp{at: now, tokens: estTokens})
	w.dayRequests++
	return 0, true
}

// settle replaces the estimate recorded at reservedAt with the actual
// token count.
func (w *window) settle(reservedAt time.Time, estTokens, actual int) {
	for i := len(w.tokens) - 1; i >= 0; i-- {
		if w.tokens[i].at.Equal(reservedAt) && w.tokens[i].tokens == estTokens {
			w.tokens[i].tokens = actual
			return
		}
	}
}
