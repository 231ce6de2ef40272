// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package extract

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/ledongthuc/pdf"

	"github.com/M0hamedSayed/MSMapper/pkg/types"
)

// PDF extracts plain text page by page. Lines shaped like "key: value"
// become a record for the page. The cross-reference table sits at the end
// of the file, so the first batch spools the document to a temporary file
// and parses it from there.
type PDF struct {
	matcher formatMatcher
}

// NewPDF creates a PDF extractor.
func NewPDF() *PDF {
	return &PDF{matcher: formatMatcher{
		mediaTypes: []string{"application/pdf"},
		extensions: []string{".pdf"},
	}}
}

func (e *PDF) Name() string { return "pdf" }

func (e *PDF) CanHandle(doc types.SourceDocument) bool { return e.matcher.matches(doc) }

func (e *PDF) Extract(ctx context.Context, src ChunkStream, doc types.SourceDocument, cfg types.ChunkConfig) (BatchReader, error) {
	var (
		file   *os.File
		r      *pdf.Reader
		opened bool
		total  int
		page   int
	)

	open := func(ctx context.Context) error {
		opened = true
		f, size, err := spool(ctx, src, "msmapper-*.pdf")
		if err != nil {
			return fmt.Errorf("reading pdf %s: %w", doc.Name, err)
		}
		file = f
		r, err = pdf.NewReader(f, size)
		if err != nil {
			return fmt.Errorf("opening pdf %s: %w", doc.Name, err)
		}
		total = r.NumPage()
		return nil
	}

	next := func(ctx context.Context) (types.Batch, error) {
		if !opened {
			if err := open(ctx); err != nil {
				return types.Batch{}, err
			}
		}
		for page < total {
			if err := ctx.Err(); err != nil {
				return types.Batch{}, err
			}
			page++
			p := r.Page(page)
			if p.V.IsNull() {
				continue
			}

			meta := map[string]string{"page": strconv.Itoa(page), "pages": strconv.Itoa(total)}
			text, err := pageText(p)
			if err != nil {
				return types.Batch{Metadata: meta, Err: fmt.Errorf("page %d of %s: %w", page, doc.Name, err)}, nil
			}

			b := textBatch(text)
			b.Metadata = meta
			return b, nil
		}
		return types.Batch{}, io.EOF
	}

	closeFn := func() error {
		if file == nil {
			return nil
		}
		f := file
		file = nil
		return discardSpool(f)
	}
	return newLookahead(next, closeFn), nil
}

// pageText extracts a page's text. The parser panics on some malformed
// content streams; that is reported as an error for the page.
func pageText(p pdf.Page) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed content stream: %v", r)
		}
	}()
	return p.GetPlainText(nil)
}
