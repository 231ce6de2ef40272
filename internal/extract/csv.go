// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package extract

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/M0hamedSayed/MSMapper/pkg/types"
)

// CSV extracts comma- or tab-separated tables. The first record is the
// header; every RowBatchSize records form one batch. A malformed record is
// skipped and reported on its batch without ending the stream.
type CSV struct {
	matcher formatMatcher
}

// NewCSV creates a CSV/TSV extractor.
func NewCSV() *CSV {
	return &CSV{matcher: formatMatcher{
		mediaTypes: []string{"text/csv", "application/csv", "text/tab-separated-values"},
		extensions: []string{".csv", ".tsv", ".tab"},
	}}
}

func (e *CSV) Name() string { return "csv" }

func (e *CSV) CanHandle(doc types.SourceDocument) bool { return e.matcher.matches(doc) }

func (e *CSV) Extract(ctx context.Context, src ChunkStream, doc types.SourceDocument, cfg types.ChunkConfig) (BatchReader, error) {
	r := csv.NewReader(src.Reader(ctx))
	if isTSV(doc) {
		r.Comma = '\t'
	}
	r.TrimLeadingSpace = true

	var header []string
	exhausted := false

	next := func(ctx context.Context) (types.Batch, error) {
		if exhausted {
			return types.Batch{}, io.EOF
		}
		if header == nil {
			raw, err := r.Read()
			if err != nil {
				if errors.Is(err, io.EOF) {
					return types.Batch{}, io.EOF
				}
				return types.Batch{}, fmt.Errorf("reading csv header of %s: %w", doc.Name, err)
			}
			header = headerNames(raw)
		}

		var (
			set     rowSet
			badRows []error
		)
		for set.len()+len(badRows) < cfg.RowBatchSize {
			if err := ctx.Err(); err != nil {
				return types.Batch{}, err
			}
			rec, err := r.Read()
			if errors.Is(err, io.EOF) {
				exhausted = true
				break
			}
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				badRows = append(badRows, fmt.Errorf("skipping malformed record: %w", err))
				continue
			}
			if err != nil {
				return types.Batch{}, fmt.Errorf("reading csv %s: %w", doc.Name, err)
			}
			set.add(header, zipRow(header, rec))
		}

		if set.len() == 0 && len(badRows) == 0 {
			return types.Batch{}, io.EOF
		}
		b := set.take()
		if b.Columns == nil {
			b.Columns = header
		}
		b.Err = errors.Join(badRows...)
		return b, nil
	}

	return newLookahead(next, nil), nil
}

func isTSV(doc types.SourceDocument) bool {
	if strings.Contains(strings.ToLower(doc.MediaType), "tab-separated") {
		return true
	}
	name := strings.ToLower(doc.Name)
	return strings.HasSuffix(name, ".tsv") || strings.HasSuffix(name, ".tab")
}
