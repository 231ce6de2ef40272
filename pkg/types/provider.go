// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"fmt"
	"time"
)

// ProviderKind is the closed set of AI backend families.
type ProviderKind string

const (
	ProviderOpenAICompatible ProviderKind = "openai_compatible"
	ProviderLocalInference   ProviderKind = "local_inference"
	ProviderCustom           ProviderKind = "custom"
)

// ParseProviderKind validates a configured provider kind.
func ParseProviderKind(s string) (ProviderKind, error) {
	switch ProviderKind(s) {
	case ProviderOpenAICompatible, ProviderLocalInference, ProviderCustom:
		return ProviderKind(s), nil
	case "openai":
		return ProviderOpenAICompatible, nil
	case "local", "ollama":
		return ProviderLocalInference, nil
	}
	return "", fmt.Errorf("unknown provider kind %q", s)
}

// Capabilities declares what a provider can do.
type Capabilities struct {
	Streaming bool     `json:"streaming" yaml:"streaming" mapstructure:"streaming"`
	MaxTokens int      `json:"max_tokens" yaml:"max_tokens" mapstructure:"max_tokens"`
	Languages []string `json:"languages,omitempty" yaml:"languages,omitempty" mapstructure:"languages"`
}

// Limits bounds provider usage. Zero values mean unlimited.
type Limits struct {
	RequestsPerMinute  int     `json:"requests_per_minute" yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
	RequestsPerDay     int     `json:"requests_per_day" yaml:"requests_per_day" mapstructure:"requests_per_day"`
	TokensPerMinute    int     `json:"tokens_per_minute" yaml:"tokens_per_minute" mapstructure:"tokens_per_minute"`
	CostPerInputToken  float64 `json:"cost_per_input_token" yaml:"cost_per_input_token" mapstructure:"cost_per_input_token"`
	CostPerOutputToken float64 `json:"cost_per_output_token" yaml:"cost_per_output_token" mapstructure:"cost_per_output_token"`

	// Window is the rolling window length for the per-minute limits
	// (default one minute).
	Window time.Duration `json:"window" yaml:"window" mapstructure:"window"`
}

// Cost prices a call from its token counts.
func (l Limits) Cost(inputTokens, outputTokens int) float64 {
	return float64(inputTokens)*l.CostPerInputToken + float64(outputTokens)*l.CostPerOutputToken
}

// ProviderProfile is the static description of one configured provider.
type ProviderProfile struct {
	Name         string       `json:"name" yaml:"name" mapstructure:"name"`
	Kind         ProviderKind `json:"kind" yaml:"kind" mapstructure:"kind"`
	Model        string       `json:"model,omitempty" yaml:"model,omitempty" mapstructure:"model"`
	BaseURL      string       `json:"base_url,omitempty" yaml:"base_url,omitempty" mapstructure:"base_url"`
	APIKey       string       `json:"-" yaml:"api_key,omitempty" mapstructure:"api_key"`
	Capabilities Capabilities `json:"capabilities" yaml:"capabilities" mapstructure:"capabilities"`
	Limits       Limits       `json:"limits" yaml:"limits" mapstructure:"limits"`
}

// ProviderUsage is a snapshot of a provider's current usage windows.
type ProviderUsage struct {
	Provider      string    `json:"provider" yaml:"provider"`
	WindowStart   time.Time `json:"window_start" yaml:"window_start"`
	Requests      int       `json:"requests" yaml:"requests"`
	Tokens        int       `json:"tokens" yaml:"tokens"`
	DayStart      time.Time `json:"day_start" yaml:"day_start"`
	DayRequests   int       `json:"day_requests" yaml:"day_requests"`
	TotalCalls    int       `json:"total_calls" yaml:"total_calls"`
	TotalFailures int       `json:"total_failures" yaml:"total_failures"`
	TotalTokens   int       `json:"total_tokens" yaml:"total_tokens"`
	TotalCost     float64   `json:"total_cost" yaml:"total_cost"`
}
