// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package provider presents one call contract over AI backends and
// enforces their rate, token, and cost limits. The Gateway owns all usage
// counters; sessions never touch them directly.
package provider

import (
	"context"
	"fmt"
	"net/http"

	"github.com/M0hamedSayed/MSMapper/internal/secrets"
	"github.com/M0hamedSayed/MSMapper/pkg/types"
)

// Request is one prompt sent to a provider.
type Request struct {
	System    string
	Prompt    string
	MaxTokens int
}

// Response is a provider's raw answer. Token counts are zero when the
// backend does not report them.
type Response struct {
	Content      string
	InputTokens  int
	OutputTokens int
}

// Provider is the capability every backend implements. Call returns an
// *Error for classified failures.
type Provider interface {
	Profile() types.ProviderProfile
	Call(ctx context.Context, req Request) (Response, error)
}

// Func adapts a Go function into a custom provider.
type Func func(ctx context.Context, req Request) (Response, error)

// Custom is a provider backed by a Func.
type Custom struct {
	profile types.ProviderProfile
	fn      Func
}

// NewCustom creates a custom provider. The profile kind is forced to
// ProviderCustom.
func NewCustom(profile types.ProviderProfile, fn Func) *Custom {
	profile.Kind = types.ProviderCustom
	return &Custom{profile: profile, fn: fn}
}

func (c *Custom) Profile() types.ProviderProfile { return c.profile }

func (c *Custom) Call(ctx context.Context, req Request) (Response, error) {
	return c.fn(ctx, req)
}

// Build constructs providers for every configured profile. API keys not
// set in the profile are looked up in keys as "<name>-api-key". Custom
// profiles must have a matching entry in customs.
func Build(cfg types.ProviderConfig, keys map[string]string, client *http.Client, customs map[string]Func) ([]Provider, error) {
	var out []Provider
	for _, p := range cfg.Profiles {
		if p.Name == "" {
			return nil, fmt.Errorf("provider profile without a name")
		}
		kind, err := types.ParseProviderKind(string(p.Kind))
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", p.Name, err)
		}
		p.Kind = kind
		if p.APIKey == "" {
			p.APIKey = keys[secrets.KeyFor(p.Name)]
		}

		switch kind {
		case types.ProviderOpenAICompatible:
			out = append(out, NewOpenAI(p, client))
		case types.ProviderLocalInference:
			out = append(out, NewLocal(p, client))
		case types.ProviderCustom:
			fn, ok := customs[p.Name]
			if !ok {
				return nil, fmt.Errorf("provider %s: custom provider has no registered function", p.Name)
			}
			out = append(out, NewCustom(p, fn))
		}
	}
	return out, nil
}
