// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package extract

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode"

	"github.com/M0hamedSayed/MSMapper/pkg/types"
)

// JSON extracts records from a top-level array, newline-delimited JSON, or
// a stream of concatenated values. Nested objects are flattened with dotted
// keys (address.city, items.0.sku) in document key order.
type JSON struct {
	matcher formatMatcher
}

// NewJSON creates a JSON/NDJSON extractor.
func NewJSON() *JSON {
	return &JSON{matcher: formatMatcher{
		mediaTypes: []string{"application/json", "application/x-ndjson", "application/ndjson", "application/jsonl", "text/json"},
		extensions: []string{".json", ".ndjson", ".jsonl"},
	}}
}

func (e *JSON) Name() string { return "json" }

func (e *JSON) CanHandle(doc types.SourceDocument) bool { return e.matcher.matches(doc) }

func (e *JSON) Extract(ctx context.Context, src ChunkStream, doc types.SourceDocument, cfg types.ChunkConfig) (BatchReader, error) {
	br := bufio.NewReader(src.Reader(ctx))
	dec := json.NewDecoder(br)
	dec.UseNumber()

	var (
		started bool
		inArray bool
		done    bool
	)

	next := func(ctx context.Context) (types.Batch, error) {
		if done {
			return types.Batch{}, io.EOF
		}
		if !started {
			started = true
			first, err := firstNonSpace(br)
			if errors.Is(err, io.EOF) {
				done = true
				return types.Batch{}, io.EOF
			}
			if err != nil {
				return types.Batch{}, fmt.Errorf("reading json %s: %w", doc.Name, err)
			}
			if first == '[' {
				inArray = true
				if _, err := dec.Token(); err != nil {
					return types.Batch{}, fmt.Errorf("reading json array %s: %w", doc.Name, err)
				}
			}
		}

		var set rowSet
		var text []string
		for set.len()+len(text) < cfg.RowBatchSize {
			if err := ctx.Err(); err != nil {
				return types.Batch{}, err
			}
			if inArray && !dec.More() {
				done = true
				break
			}
			var raw json.RawMessage
			err := dec.Decode(&raw)
			if errors.Is(err, io.EOF) && !inArray {
				done = true
				break
			}
			if err != nil {
				return types.Batch{}, fmt.Errorf("decoding json %s: %w", doc.Name, err)
			}
			if isObject(raw) {
				var rec flatRecord
				if err := flattenJSON(newNumberDecoder(raw), "", &rec); err != nil {
					return types.Batch{}, fmt.Errorf("decoding json %s: %w", doc.Name, err)
				}
				if rec.row == nil {
					rec.row = make(map[string]string)
				}
				set.add(rec.order, rec.row)
				continue
			}
			var v any
			if err := newNumberDecoder(raw).Decode(&v); err != nil {
				return types.Batch{}, fmt.Errorf("decoding json %s: %w", doc.Name, err)
			}
			text = append(text, scalarString(v))
		}

		if set.len() == 0 && len(text) == 0 {
			return types.Batch{}, io.EOF
		}
		b := set.take()
		if len(text) > 0 {
			b.Text = strings.Join(text, "\n")
		}
		return b, nil
	}

	return newLookahead(next, nil), nil
}

// firstNonSpace peeks past leading whitespace without consuming the
// first significant byte.
func firstNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.Peek(1)
		if err != nil {
			return 0, err
		}
		if !unicode.IsSpace(rune(b[0])) && b[0] != 0xEF {
			return b[0], nil
		}
		if b[0] == 0xEF {
			// UTF-8 byte order mark.
			if bom, err := br.Peek(3); err == nil && string(bom) == "\ufeff" {
				_, _ = br.Discard(3)
				continue
			}
			return b[0], nil
		}
		_, _ = br.Discard(1)
	}
}

func newNumberDecoder(raw json.RawMessage) *json.Decoder {
	d := json.NewDecoder(bytes.NewReader(raw))
	d.UseNumber()
	return d
}

func isObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimLeft(raw, " \t\r\n")
	return len(trimmed) > 0 && trimmed[0] == '{'
}

// flattenJSON reads one value from dec and records its leaves under dotted
// keys in the order they appear. A repeated key keeps its first position
// and its last value.
func flattenJSON(dec *json.Decoder, prefix string, rec *flatRecord) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	delim, ok := tok.(json.Delim)
	if !ok {
		if prefix == "" {
			prefix = "value"
		}
		setField(rec, prefix, scalarString(tok))
		return nil
	}

	n := 0
	for ; dec.More(); n++ {
		key := strconv.Itoa(n)
		if delim == '{' {
			kt, err := dec.Token()
			if err != nil {
				return err
			}
			key, _ = kt.(string)
		}
		if err := flattenJSON(dec, joinKey(prefix, key), rec); err != nil {
			return err
		}
	}
	if n == 0 && prefix != "" {
		setField(rec, prefix, "")
	}
	_, err = dec.Token()
	return err
}

func setField(rec *flatRecord, key, value string) {
	if rec.row == nil {
		rec.row = make(map[string]string)
	}
	if _, ok := rec.row[key]; !ok {
		rec.order = append(rec.order, key)
	}
	rec.row[key] = value
}

func joinKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

func scalarString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(data)
	}
}
