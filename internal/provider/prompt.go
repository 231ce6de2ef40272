// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package provider

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/M0hamedSayed/MSMapper/pkg/types"
)

// SourceField is a source column offered to the provider with a few
// sample values.
type SourceField struct {
	Name    string
	Samples []string
}

// MapRequest asks a provider to map source fields onto target fields.
type MapRequest struct {
	Schema types.TargetSchema

	// Sources are the source fields the provider may use.
	Sources []SourceField

	// Targets are the target field names that need a decision.
	Targets []string
}

const systemPrompt = "You are a data mapping assistant. You answer with a single JSON object and nothing else."

// mappingPromptTmpl renders the user prompt for one escalation.
var mappingPromptTmpl = template.Must(template.New("mapping").Funcs(template.FuncMap{
	"join": strings.Join,
}).Parse(`Map fields of a source document onto the target schema {{printf "%q" .Schema.Name}}.

Target fields:
{{range .Fields}}- {{.Name}} ({{.Type}}{{if .Required}}, required{{end}}){{if .Description}}: {{.Description}}{{end}}
{{end}}
Source fields with sample values:
{{range .Sources}}- {{.Name}}{{if .Samples}}: {{join .Samples " | "}}{{end}}
{{end}}
Decide a source field for each of these targets: {{join .Targets ", "}}.

Respond with a JSON object of the form
{"matches": [{"source": "<source field>", "target": "<target field>", "confidence": <0.0-1.0>, "reason": "<short reason>"}]}
Use only the names listed above. Use each source and each target at most once. Leave out targets with no plausible source.
`))

// RenderPrompt renders the escalation prompt. Only target fields in
// req.Targets are described.
func RenderPrompt(req MapRequest) (string, error) {
	wanted := make(map[string]bool, len(req.Targets))
	for _, t := range req.Targets {
		wanted[t] = true
	}
	var fields []types.FieldSpec
	for _, f := range req.Schema.Fields {
		if wanted[f.Name] {
			fields = append(fields, f)
		}
	}

	var buf bytes.Buffer
	err := mappingPromptTmpl.Execute(&buf, struct {
		Schema  types.TargetSchema
		Fields  []types.FieldSpec
		Sources []SourceField
		Targets []string
	}{req.Schema, fields, req.Sources, req.Targets})
	if err != nil {
		return "", fmt.Errorf("rendering mapping prompt: %w", err)
	}
	return buf.String(), nil
}
