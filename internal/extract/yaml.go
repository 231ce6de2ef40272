// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/M0hamedSayed/MSMapper/pkg/types"
)

// YAML extracts records from a multi-document YAML stream. A mapping
// document is one record; a sequence of mappings is one record per item.
// Keys keep document order.
type YAML struct {
	matcher formatMatcher
}

// NewYAML creates a YAML extractor.
func NewYAML() *YAML {
	return &YAML{matcher: formatMatcher{
		mediaTypes: []string{"application/yaml", "application/x-yaml", "text/yaml", "text/x-yaml"},
		extensions: []string{".yaml", ".yml"},
	}}
}

func (e *YAML) Name() string { return "yaml" }

func (e *YAML) CanHandle(doc types.SourceDocument) bool { return e.matcher.matches(doc) }

type flatRecord struct {
	order []string
	row   map[string]string
}

func (e *YAML) Extract(ctx context.Context, src ChunkStream, doc types.SourceDocument, cfg types.ChunkConfig) (BatchReader, error) {
	dec := yaml.NewDecoder(src.Reader(ctx))

	var (
		queue   []flatRecord
		text    []string
		docs    int
		drained bool
	)

	next := func(ctx context.Context) (types.Batch, error) {
		for !drained && len(queue) < cfg.RowBatchSize {
			if err := ctx.Err(); err != nil {
				return types.Batch{}, err
			}
			var node yaml.Node
			err := dec.Decode(&node)
			if errors.Is(err, io.EOF) {
				drained = true
				break
			}
			if err != nil {
				return types.Batch{}, fmt.Errorf("decoding yaml %s document %d: %w", doc.Name, docs, err)
			}
			docs++
			queue, text = collectYAML(&node, queue, text)
			if len(text) > 0 && len(queue) == 0 {
				break
			}
		}

		if len(queue) == 0 && len(text) == 0 {
			return types.Batch{}, io.EOF
		}

		var set rowSet
		n := min(len(queue), cfg.RowBatchSize)
		for _, rec := range queue[:n] {
			set.add(rec.order, rec.row)
		}
		queue = queue[n:]

		b := set.take()
		if len(text) > 0 {
			b.Text = strings.Join(text, "\n")
			text = nil
		}
		b.Metadata = map[string]string{"documents": strconv.Itoa(docs)}
		return b, nil
	}

	return newLookahead(next, nil), nil
}

// collectYAML appends the records and free text found in one document.
func collectYAML(n *yaml.Node, queue []flatRecord, text []string) ([]flatRecord, []string) {
	n = resolveAlias(n)
	switch n.Kind {
	case yaml.DocumentNode:
		for _, c := range n.Content {
			queue, text = collectYAML(c, queue, text)
		}
	case yaml.MappingNode:
		queue = append(queue, flattenYAML(n))
	case yaml.SequenceNode:
		for _, item := range n.Content {
			item = resolveAlias(item)
			if item.Kind == yaml.MappingNode {
				queue = append(queue, flattenYAML(item))
				continue
			}
			text = append(text, scalarYAML(item))
		}
	case yaml.ScalarNode:
		if n.Value != "" {
			text = append(text, n.Value)
		}
	}
	return queue, text
}

func flattenYAML(n *yaml.Node) flatRecord {
	rec := flatRecord{row: make(map[string]string)}
	walkYAML("", n, &rec)
	return rec
}

func walkYAML(prefix string, n *yaml.Node, rec *flatRecord) {
	n = resolveAlias(n)
	set := func(key, value string) {
		if key == "" {
			key = "value"
		}
		if _, ok := rec.row[key]; !ok {
			rec.order = append(rec.order, key)
		}
		rec.row[key] = value
	}

	switch n.Kind {
	case yaml.MappingNode:
		if len(n.Content) == 0 && prefix != "" {
			set(prefix, "")
		}
		for i := 0; i+1 < len(n.Content); i += 2 {
			walkYAML(joinKey(prefix, n.Content[i].Value), n.Content[i+1], rec)
		}
	case yaml.SequenceNode:
		if len(n.Content) == 0 && prefix != "" {
			set(prefix, "")
		}
		for i, c := range n.Content {
			walkYAML(joinKey(prefix, strconv.Itoa(i)), c, rec)
		}
	default:
		set(prefix, scalarYAML(n))
	}
}

func scalarYAML(n *yaml.Node) string {
	if n.Tag == "!!null" {
		return ""
	}
	return n.Value
}

func resolveAlias(n *yaml.Node) *yaml.Node {
	for n != nil && n.Kind == yaml.AliasNode && n.Alias != nil {
		n = n.Alias
	}
	return n
}
