// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package extract

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/M0hamedSayed/MSMapper/pkg/types"
)

// XLSX extracts the first non-empty worksheet of an Office Open XML
// workbook. The first non-blank row is the header. The zip container needs
// random access, so the first batch spools the document to a temporary
// file and opens it from there; rows are then streamed with the excelize
// row iterator. Worksheet XML larger than the memory ceiling is unzipped
// to disk rather than held in memory.
type XLSX struct {
	matcher formatMatcher
}

// NewXLSX creates an XLSX extractor.
func NewXLSX() *XLSX {
	return &XLSX{matcher: formatMatcher{
		mediaTypes: []string{"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", "application/vnd.ms-excel.sheet.macroenabled.12"},
		extensions: []string{".xlsx", ".xlsm"},
	}}
}

func (e *XLSX) Name() string { return "xlsx" }

func (e *XLSX) CanHandle(doc types.SourceDocument) bool { return e.matcher.matches(doc) }

func (e *XLSX) Extract(ctx context.Context, src ChunkStream, doc types.SourceDocument, cfg types.ChunkConfig) (BatchReader, error) {
	var (
		spooled *os.File
		f       *excelize.File
		opened  bool
		sheets  []string
		current int
		rows    *excelize.Rows
		header  []string
		sheet   string
	)

	closeRows := func() {
		if rows != nil {
			_ = rows.Close()
			rows = nil
		}
	}

	open := func(ctx context.Context) error {
		opened = true
		sf, _, err := spool(ctx, src, "msmapper-*.xlsx")
		if err != nil {
			return fmt.Errorf("reading workbook %s: %w", doc.Name, err)
		}
		spooled = sf
		if err := sf.Close(); err != nil {
			return fmt.Errorf("spooling workbook %s: %w", doc.Name, err)
		}
		f, err = excelize.OpenFile(sf.Name(), excelize.Options{
			UnzipXMLSizeLimit: min(cfg.MaxMemoryUsageBytes, excelize.StreamChunkSize),
		})
		if err != nil {
			return fmt.Errorf("opening workbook %s: %w", doc.Name, err)
		}
		sheets = f.GetSheetList()
		return nil
	}

	next := func(ctx context.Context) (types.Batch, error) {
		if !opened {
			if err := open(ctx); err != nil {
				return types.Batch{}, err
			}
		}
		var set rowSet
		for set.len() < cfg.RowBatchSize {
			if err := ctx.Err(); err != nil {
				return types.Batch{}, err
			}
			if rows == nil {
				if current >= len(sheets) {
					break
				}
				r, err := f.Rows(sheets[current])
				if err != nil {
					return types.Batch{}, fmt.Errorf("reading sheet %q of %s: %w", sheets[current], doc.Name, err)
				}
				rows = r
				sheet = sheets[current]
			}

			if !rows.Next() {
				err := rows.Error()
				closeRows()
				if err != nil {
					return types.Batch{}, fmt.Errorf("reading sheet %q of %s: %w", sheets[current], doc.Name, err)
				}
				if header != nil {
					// Only the first non-empty sheet is extracted.
					current = len(sheets)
					break
				}
				current++
				continue
			}

			cells, err := rows.Columns()
			if err != nil {
				return types.Batch{}, fmt.Errorf("reading row of sheet %q: %w", sheets[current], err)
			}
			if blankRow(cells) {
				continue
			}
			if header == nil {
				header = headerNames(cells)
				continue
			}
			set.add(header, zipRow(header, cells))
		}

		if set.len() == 0 {
			return types.Batch{}, io.EOF
		}
		b := set.take()
		b.Metadata = map[string]string{"sheet": sheet}
		return b, nil
	}

	closeAll := func() error {
		closeRows()
		var err error
		if f != nil {
			err = f.Close()
			f = nil
		}
		if spooled != nil {
			if rerr := discardSpool(spooled); err == nil {
				err = rerr
			}
			spooled = nil
		}
		return err
	}
	return newLookahead(next, closeAll), nil
}

func blankRow(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
