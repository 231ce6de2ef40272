// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/M0hamedSayed/MSMapper/pkg/types"
)

func TestMain(m *testing.M) {
	backoffBase = time.Millisecond
	os.Exit(m.Run())
}

const validContent = `{"matches":[{"source":"emp_nm","target":"full_name","confidence":0.9}]}`

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// scriptedProvider answers from fn and counts calls.
func scriptedProvider(name string, limits types.Limits, fn Func) (*Custom, *atomic.Int32) {
	var calls atomic.Int32
	p := NewCustom(types.ProviderProfile{Name: name, Limits: limits}, func(ctx context.Context, req Request) (Response, error) {
		calls.Add(1)
		return fn(ctx, req)
	})
	return p, &calls
}

func okFunc(in, out int) Func {
	return func(context.Context, Request) (Response, error) {
		return Response{Content: validContent, InputTokens: in, OutputTokens: out}, nil
	}
}

func newTestGateway(t *testing.T, cfg types.ProviderConfig, ps ...Provider) *Gateway {
	t.Helper()
	g, err := NewGateway(cfg, ps, WithLogger(quietLogger))
	require.NoError(t, err)
	return g
}

func TestGateway_MapSuccess(t *testing.T) {
	p, calls := scriptedProvider("openai", types.Limits{CostPerInputToken: 0.001, CostPerOutputToken: 0.002}, okFunc(100, 20))
	g := newTestGateway(t, types.ProviderConfig{}, p)

	budget := NewBudget(0)
	sug, err := g.Map(context.Background(), "openai", employeeRequest(), budget)
	require.NoError(t, err)

	assert.True(t, sug.IsSuccess)
	assert.Equal(t, 1, sug.Attempts)
	assert.EqualValues(t, 1, calls.Load())
	require.Len(t, sug.Matches, 1)
	assert.Equal(t, "full_name", sug.Matches[0].TargetField)
	assert.Equal(t, types.MatchAIInferred, sug.Matches[0].Kind)

	assert.Equal(t, 1, sug.Usage.Calls)
	assert.Equal(t, 100, sug.Usage.InputTokens)
	assert.Equal(t, 20, sug.Usage.OutputTokens)
	assert.InDelta(t, 0.14, sug.Usage.Cost, 1e-9)
	assert.InDelta(t, 0.14, budget.Spent(), 1e-9)

	u, ok := g.Usage("openai")
	require.True(t, ok)
	assert.Equal(t, 1, u.TotalCalls)
	assert.Equal(t, 0, u.TotalFailures)
	assert.Equal(t, 120, u.TotalTokens)
	assert.Equal(t, 120, u.Tokens, "estimate is replaced by actual tokens")
	assert.Equal(t, 1, u.Requests)
	assert.Equal(t, 1, u.DayRequests)
}

func TestGateway_RetriesTransient(t *testing.T) {
	var n atomic.Int32
	p, calls := scriptedProvider("p", types.Limits{}, func(ctx context.Context, req Request) (Response, error) {
		if n.Add(1) < 3 {
			return Response{}, &Error{Kind: KindUnavailable, Err: errors.New("503")}
		}
		return okFunc(10, 5)(ctx, req)
	})
	g := newTestGateway(t, types.ProviderConfig{MaxRetries: types.Retries(2)}, p)

	sug, err := g.Map(context.Background(), "p", employeeRequest(), nil)
	require.NoError(t, err)
	assert.True(t, sug.IsSuccess)
	assert.Equal(t, 3, sug.Attempts)
	assert.EqualValues(t, 3, calls.Load())
	assert.Equal(t, 3, sug.Usage.Calls)

	u, _ := g.Usage("p")
	assert.Equal(t, 3, u.TotalCalls)
	assert.Equal(t, 2, u.TotalFailures)
}

func TestGateway_RetriesExhausted(t *testing.T) {
	p, calls := scriptedProvider("p", types.Limits{}, func(context.Context, Request) (Response, error) {
		return Response{}, &Error{Kind: KindTimeout}
	})
	g := newTestGateway(t, types.ProviderConfig{MaxRetries: types.Retries(1)}, p)

	sug, err := g.Map(context.Background(), "p", employeeRequest(), nil)
	assert.True(t, IsKind(err, KindTimeout))
	assert.False(t, sug.IsSuccess)
	assert.Equal(t, 2, sug.Attempts)
	assert.EqualValues(t, 2, calls.Load())
}

func TestGateway_ZeroRetriesDisablesRetry(t *testing.T) {
	p, calls := scriptedProvider("p", types.Limits{}, func(context.Context, Request) (Response, error) {
		return Response{}, &Error{Kind: KindUnavailable, Err: errors.New("503")}
	})
	g := newTestGateway(t, types.ProviderConfig{MaxRetries: types.Retries(0)}, p)

	sug, err := g.Map(context.Background(), "p", employeeRequest(), nil)
	assert.True(t, IsKind(err, KindUnavailable))
	assert.Equal(t, 1, sug.Attempts)
	assert.EqualValues(t, 1, calls.Load())
}

func TestGateway_NoRetryOnPermanentErrors(t *testing.T) {
	tests := []struct {
		name string
		fn   Func
		want ErrorKind
	}{
		{
			name: "auth failure",
			fn: func(context.Context, Request) (Response, error) {
				return Response{}, &Error{Kind: KindAuthFailure}
			},
			want: KindAuthFailure,
		},
		{
			name: "unparseable content",
			fn: func(context.Context, Request) (Response, error) {
				return Response{Content: "sure! full_name is emp_nm"}, nil
			},
			want: KindInvalidResponse,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, calls := scriptedProvider("p", types.Limits{}, tt.fn)
			g := newTestGateway(t, types.ProviderConfig{MaxRetries: types.Retries(3)}, p)

			sug, err := g.Map(context.Background(), "p", employeeRequest(), nil)
			assert.True(t, IsKind(err, tt.want), "got %v", err)
			assert.Equal(t, 1, sug.Attempts)
			assert.EqualValues(t, 1, calls.Load())
		})
	}
}

func TestGateway_CostCeiling(t *testing.T) {
	p, calls := scriptedProvider("p", types.Limits{CostPerInputToken: 1}, okFunc(10, 10))
	g := newTestGateway(t, types.ProviderConfig{}, p)

	_, err := g.Map(context.Background(), "p", employeeRequest(), NewBudget(1.0))
	assert.True(t, IsKind(err, KindCostCeilingExceeded))
	assert.EqualValues(t, 0, calls.Load(), "ceiling is checked before the call")

	u, _ := g.Usage("p")
	assert.Equal(t, 0, u.TotalCalls)
}

func TestGateway_BudgetAccumulates(t *testing.T) {
	p, calls := scriptedProvider("p", types.Limits{CostPerOutputToken: 0.01}, okFunc(10, 100))
	g := newTestGateway(t, types.ProviderConfig{}, p)
	// Output allowance is 512 tokens, so each estimate is about 5.1.
	budget := NewBudget(6)

	_, err := g.Map(context.Background(), "p", employeeRequest(), budget)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, budget.Spent(), 1e-9)

	_, err = g.Map(context.Background(), "p", employeeRequest(), budget)
	assert.True(t, IsKind(err, KindCostCeilingExceeded))
	assert.EqualValues(t, 1, calls.Load())
}

func TestGateway_RateLimitBlocksThenSucceeds(t *testing.T) {
	limits := types.Limits{RequestsPerMinute: 1, Window: 100 * time.Millisecond}
	p, calls := scriptedProvider("p", limits, okFunc(1, 1))
	g := newTestGateway(t, types.ProviderConfig{MaxWait: 5 * time.Second}, p)

	_, err := g.Map(context.Background(), "p", employeeRequest(), nil)
	require.NoError(t, err)

	start := time.Now()
	_, err = g.Map(context.Background(), "p", employeeRequest(), nil)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond, "second call waits for the window")
	assert.EqualValues(t, 2, calls.Load())
}

func TestGateway_RateLimitExceeded(t *testing.T) {
	limits := types.Limits{RequestsPerMinute: 1, Window: time.Minute}
	p, calls := scriptedProvider("p", limits, okFunc(1, 1))
	g := newTestGateway(t, types.ProviderConfig{MaxWait: 10 * time.Millisecond}, p)

	_, err := g.Map(context.Background(), "p", employeeRequest(), nil)
	require.NoError(t, err)

	start := time.Now()
	_, err = g.Map(context.Background(), "p", employeeRequest(), nil)
	assert.True(t, IsKind(err, KindRateLimitExceeded))
	assert.Less(t, time.Since(start), time.Second, "fails without waiting out the window")
	assert.EqualValues(t, 1, calls.Load())

	var pe *Error
	require.True(t, errors.As(err, &pe))
	assert.Greater(t, pe.RetryAfter, 50*time.Second)
}

func TestGateway_ContextCancelled(t *testing.T) {
	started := make(chan struct{})
	p, _ := scriptedProvider("p", types.Limits{}, func(ctx context.Context, _ Request) (Response, error) {
		close(started)
		<-ctx.Done()
		return Response{}, ctx.Err()
	})
	g := newTestGateway(t, types.ProviderConfig{}, p)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()
	_, err := g.Map(ctx, "p", employeeRequest(), nil)
	assert.ErrorIs(t, err, context.Canceled)

	var pe *Error
	assert.False(t, errors.As(err, &pe), "cancellation is not a provider error")
}

func TestGateway_PerCallTimeout(t *testing.T) {
	p, calls := scriptedProvider("p", types.Limits{}, func(ctx context.Context, _ Request) (Response, error) {
		<-ctx.Done()
		return Response{}, ctx.Err()
	})
	g := newTestGateway(t, types.ProviderConfig{Timeout: 5 * time.Millisecond, MaxRetries: types.Retries(0)}, p)

	_, err := g.Map(context.Background(), "p", employeeRequest(), nil)
	assert.True(t, IsKind(err, KindTimeout))
	assert.EqualValues(t, 1, calls.Load())
}

func TestGateway_ConcurrentCounters(t *testing.T) {
	p, _ := scriptedProvider("p", types.Limits{CostPerInputToken: 0.5}, okFunc(2, 3))
	g := newTestGateway(t, types.ProviderConfig{}, p)

	const n = 25
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := g.Map(context.Background(), "p", employeeRequest(), NewBudget(0))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	u, _ := g.Usage("p")
	assert.Equal(t, n, u.TotalCalls)
	assert.Equal(t, n*5, u.TotalTokens)
	assert.InDelta(t, n*1.0, u.TotalCost, 1e-9)
	assert.Equal(t, n, u.Requests)
}

func TestGateway_Registry(t *testing.T) {
	a, _ := scriptedProvider("b-provider", types.Limits{}, okFunc(1, 1))
	b, _ := scriptedProvider("a-provider", types.Limits{}, okFunc(1, 1))
	g := newTestGateway(t, types.ProviderConfig{}, a, b)

	assert.True(t, g.Has("a-provider"))
	assert.False(t, g.Has("c-provider"))

	profiles := g.Profiles()
	require.Len(t, profiles, 2)
	assert.Equal(t, "a-provider", profiles[0].Name)
	assert.Equal(t, types.DefaultProviderWindow, profiles[0].Limits.Window)

	_, ok := g.Usage("c-provider")
	assert.False(t, ok)

	_, err := g.Map(context.Background(), "c-provider", employeeRequest(), nil)
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestNewGateway_Errors(t *testing.T) {
	a, _ := scriptedProvider("same", types.Limits{}, okFunc(1, 1))
	b, _ := scriptedProvider("same", types.Limits{}, okFunc(1, 1))
	_, err := NewGateway(types.ProviderConfig{}, []Provider{a, b})
	assert.ErrorContains(t, err, "duplicate")

	c, _ := scriptedProvider("", types.Limits{}, okFunc(1, 1))
	_, err = NewGateway(types.ProviderConfig{}, []Provider{c})
	assert.Error(t, err)
}

func TestEstimateTokens(t *testing.T) {
	for _, tt := range []struct {
		in   string
		want int
	}{{"", 0}, {"a", 1}, {"abcd", 1}, {"abcde", 2}} {
		assert.Equal(t, tt.want, EstimateTokens(tt.in), fmt.Sprintf("%q", tt.in))
	}
}
