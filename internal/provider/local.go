// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/M0hamedSayed/MSMapper/internal/httputil"
	"github.com/M0hamedSayed/MSMapper/pkg/types"
)

const defaultLocalBaseURL = "http://localhost:11434"

// Local calls a local inference server exposing an Ollama-style
// /api/generate endpoint. No key is sent.
type Local struct {
	profile types.ProviderProfile
	client  *http.Client
}

// NewLocal creates a local inference client.
func NewLocal(profile types.ProviderProfile, client *http.Client) *Local {
	profile.Kind = types.ProviderLocalInference
	if profile.BaseURL == "" {
		profile.BaseURL = defaultLocalBaseURL
	}
	return &Local{profile: profile, client: client}
}

func (c *Local) Profile() types.ProviderProfile { return c.profile }

type generateRequest struct {
	Model   string         `json:"model"`
	System  string         `json:"system,omitempty"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Format  string         `json:"format"`
	Options map[string]any `json:"options,omitempty"`
}

type generateResponse struct {
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

func (c *Local) Call(ctx context.Context, req Request) (Response, error) {
	body := generateRequest{
		Model:   c.profile.Model,
		System:  req.System,
		Prompt:  req.Prompt,
		Format:  "json",
		Options: map[string]any{"temperature": 0},
	}
	if req.MaxTokens > 0 {
		body.Options["num_predict"] = req.MaxTokens
	}

	endpoint := strings.TrimRight(c.profile.BaseURL, "/") + "/api/generate"
	raw, err := httputil.PostJSON(ctx, c.client, endpoint, nil, body)
	if err != nil {
		return Response{}, classify(c.profile.Name, err)
	}

	var gr generateResponse
	if err := json.Unmarshal(raw, &gr); err != nil {
		return Response{}, newError(c.profile.Name, KindInvalidResponse, fmt.Errorf("decoding generate response: %w", err))
	}
	if strings.TrimSpace(gr.Response) == "" {
		return Response{}, newError(c.profile.Name, KindInvalidResponse, errors.New("empty generate response"))
	}
	return Response{
		Content:      strings.TrimSpace(gr.Response),
		InputTokens:  gr.PromptEvalCount,
		OutputTokens: gr.EvalCount,
	}, nil
}
