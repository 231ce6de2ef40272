// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package provider

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/M0hamedSayed/MSMapper/pkg/types"
)

const responseSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["matches"],
  "properties": {
    "matches": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["source", "target", "confidence"],
        "properties": {
          "source": {"type": "string", "minLength": 1},
          "target": {"type": "string", "minLength": 1},
          "confidence": {"type": "number", "minimum": 0, "maximum": 1},
          "reason": {"type": "string"}
        }
      }
    }
  }
}`

var responseSchema = compileResponseSchema()

func compileResponseSchema() *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("mapping-response.json", strings.NewReader(responseSchemaJSON)); err != nil {
		panic(fmt.Sprintf("adding response schema: %v", err))
	}
	return compiler.MustCompile("mapping-response.json")
}

type mappingResponse struct {
	Matches []struct {
		Source     string  `json:"source"`
		Target     string  `json:"target"`
		Confidence float64 `json:"confidence"`
		Reason     string  `json:"reason"`
	} `json:"matches"`
}

// parseSuggestions validates provider content against the response schema
// and converts it to AI-inferred matches. Names outside the request and
// repeated sources or targets are dropped with a warning.
func parseSuggestions(provider, content string, req MapRequest) ([]types.PropertyMatch, []types.MappingWarning, error) {
	content = stripCodeFence(content)

	var doc any
	if err := json.Unmarshal([]byte(content), &doc); err != nil {
		return nil, nil, fmt.Errorf("response is not JSON: %w", err)
	}
	if err := responseSchema.Validate(doc); err != nil {
		return nil, nil, fmt.Errorf("response does not match schema: %w", err)
	}
	var resp mappingResponse
	if err := json.Unmarshal([]byte(content), &resp); err != nil {
		return nil, nil, fmt.Errorf("decoding response: %w", err)
	}

	sources := make(map[string]bool, len(req.Sources))
	for _, s := range req.Sources {
		sources[s.Name] = true
	}
	targets := make(map[string]bool, len(req.Targets))
	for _, t := range req.Targets {
		targets[t] = true
	}

	var (
		matches    []types.PropertyMatch
		warnings   []types.MappingWarning
		usedSource = map[string]bool{}
		usedTarget = map[string]bool{}
	)
	reject := func(target, msg string, conf float64) {
		warnings = append(warnings, types.MappingWarning{
			Field: target, Kind: types.WarnAIRejected, Message: msg, Confidence: conf, Batch: -1,
		})
	}
	for _, m := range resp.Matches {
		switch {
		case !targets[m.Target]:
			reject(m.Target, fmt.Sprintf("%s suggested unknown target %q", provider, m.Target), m.Confidence)
		case !sources[m.Source]:
			reject(m.Target, fmt.Sprintf("%s suggested unknown source %q for %q", provider, m.Source, m.Target), m.Confidence)
		case usedSource[m.Source] || usedTarget[m.Target]:
			reject(m.Target, fmt.Sprintf("%s reused %q or %q in a second suggestion", provider, m.Source, m.Target), m.Confidence)
		default:
			usedSource[m.Source] = true
			usedTarget[m.Target] = true
			matches = append(matches, types.PropertyMatch{
				SourceField: m.Source,
				TargetField: m.Target,
				Score:       m.Confidence,
				Kind:        types.MatchAIInferred,
				Algorithm:   "ai:" + provider,
				Reason:      m.Reason,
			})
		}
	}
	return matches, warnings, nil
}

// stripCodeFence removes a surrounding Markdown code fence, which some
// models add despite instructions.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}
