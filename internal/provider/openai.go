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

// defaultOpenAIBaseURL is used when a profile sets no base URL.
const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAI calls an OpenAI-compatible chat/completions endpoint with a
// bearer key.
type OpenAI struct {
	profile types.ProviderProfile
	client  *http.Client
}

// NewOpenAI creates an OpenAI-compatible client. A nil client uses
// http.DefaultClient.
func NewOpenAI(profile types.ProviderProfile, client *http.Client) *OpenAI {
	profile.Kind = types.ProviderOpenAICompatible
	if profile.BaseURL == "" {
		profile.BaseURL = defaultOpenAIBaseURL
	}
	return &OpenAI{profile: profile, client: client}
}

func (c *OpenAI) Profile() types.ProviderProfile { return c.profile }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	MaxTokens      int               `json:"max_tokens,omitempty"`
	Temperature    float64           `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (c *OpenAI) Call(ctx context.Context, req Request) (Response, error) {
	body := chatRequest{
		Model:          c.profile.Model,
		MaxTokens:      req.MaxTokens,
		ResponseFormat: map[string]string{"type": "json_object"},
	}
	if req.System != "" {
		body.Messages = append(body.Messages, chatMessage{Role: "system", Content: req.System})
	}
	body.Messages = append(body.Messages, chatMessage{Role: "user", Content: req.Prompt})

	header := http.Header{}
	if c.profile.APIKey != "" {
		header.Set("Authorization", "Bearer "+c.profile.APIKey)
	}

	endpoint := strings.TrimRight(c.profile.BaseURL, "/") + "/chat/completions"
	raw, err := httputil.PostJSON(ctx, c.client, endpoint, header, body)
	if err != nil {
		return Response{}, classify(c.profile.Name, err)
	}

	var cr chatResponse
	if err := json.Unmarshal(raw, &cr); err != nil {
		return Response{}, newError(c.profile.Name, KindInvalidResponse, fmt.Errorf("decoding chat response: %w", err))
	}
	if len(cr.Choices) == 0 {
		return Response{}, newError(c.profile.Name, KindInvalidResponse, errors.New("no choices in chat response"))
	}
	return Response{
		Content:      strings.TrimSpace(cr.Choices[0].Message.Content),
		InputTokens:  cr.Usage.PromptTokens,
		OutputTokens: cr.Usage.CompletionTokens,
	}, nil
}
