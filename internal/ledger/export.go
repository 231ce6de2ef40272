// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"go.yaml.in/yaml/v3"
)

// ExportEntry is one session with its provider usage, as written by the
// export functions.
type ExportEntry struct {
	SessionRecord `json:",inline" yaml:",inline"`

	Usage []SessionUsage `json:"usage,omitempty" yaml:"usage,omitempty"`
}

// SessionUsage is the usage one session recorded against a provider.
type SessionUsage struct {
	Provider     string  `json:"provider" yaml:"provider"`
	Calls        int     `json:"calls" yaml:"calls"`
	InputTokens  int     `json:"input_tokens" yaml:"input_tokens"`
	OutputTokens int     `json:"output_tokens" yaml:"output_tokens"`
	Cost         float64 `json:"cost" yaml:"cost"`
}

const exportLimit = 100000

// ExportYAML writes the sessions selected by q, with matches, warnings and
// usage, to w as YAML. A zero Limit exports everything.
func (s *Store) ExportYAML(ctx context.Context, w io.Writer, q SessionQuery) error {
	entries, err := s.exportEntries(ctx, q)
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(entries); err != nil {
		return fmt.Errorf("marshaling YAML: %w", err)
	}
	return enc.Close()
}

// ExportJSON is ExportYAML with indented JSON output.
func (s *Store) ExportJSON(ctx context.Context, w io.Writer, q SessionQuery) error {
	entries, err := s.exportEntries(ctx, q)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling JSON: %w", err)
	}
	_, err = w.Write(append(data, '\n'))
	return err
}

func (s *Store) exportEntries(ctx context.Context, q SessionQuery) ([]ExportEntry, error) {
	if q.Limit <= 0 {
		q.Limit = exportLimit
	}
	list, err := s.Sessions(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("querying for export: %w", err)
	}

	entries := make([]ExportEntry, 0, len(list))
	for _, r := range list {
		full, err := s.Session(ctx, r.ID)
		if err != nil {
			return nil, err
		}
		usage, err := s.sessionUsage(ctx, r.ID)
		if err != nil {
			return nil, err
		}
		entries = append(entries, ExportEntry{SessionRecord: full, Usage: usage})
	}
	return entries, nil
}

func (s *Store) sessionUsage(ctx context.Context, id string) ([]SessionUsage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT provider, calls, input_tokens, output_tokens, cost FROM provider_usage
		 WHERE session_id = ? ORDER BY provider`, id)
	if err != nil {
		return nil, fmt.Errorf("querying usage of %s: %w", id, err)
	}
	defer rows.Close()

	var out []SessionUsage
	for rows.Next() {
		var u SessionUsage
		if err := rows.Scan(&u.Provider, &u.Calls, &u.InputTokens, &u.OutputTokens, &u.Cost); err != nil {
			return nil, fmt.Errorf("scanning usage: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}
