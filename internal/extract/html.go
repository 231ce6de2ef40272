// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"

	"github.com/M0hamedSayed/MSMapper/pkg/types"
)

// HTML extracts tables as records and the remaining visible text as text
// spans. The first row of each table is its header. Script and style
// content is skipped; the document title is reported as metadata.
type HTML struct {
	matcher formatMatcher
}

// NewHTML creates an HTML extractor.
func NewHTML() *HTML {
	return &HTML{matcher: formatMatcher{
		mediaTypes: []string{"text/html", "application/xhtml+xml"},
		extensions: []string{".html", ".htm", ".xhtml"},
	}}
}

func (e *HTML) Name() string { return "html" }

func (e *HTML) CanHandle(doc types.SourceDocument) bool { return e.matcher.matches(doc) }

var skippedElements = map[string]bool{"script": true, "style": true, "noscript": true, "template": true}

var blockElements = map[string]bool{
	"p": true, "div": true, "br": true, "li": true, "section": true, "article": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"header": true, "footer": true, "blockquote": true, "pre": true,
}

type htmlScanner struct {
	z       *html.Tokenizer
	maxText int
	maxRows int

	skip    int
	inTitle bool
	title   string

	tableDepth int
	header     []string
	cells      []string
	cell       *strings.Builder
	set        rowSet

	text strings.Builder
	eof  bool
}

func (e *HTML) Extract(ctx context.Context, src ChunkStream, doc types.SourceDocument, cfg types.ChunkConfig) (BatchReader, error) {
	s := &htmlScanner{
		z:       html.NewTokenizer(src.Reader(ctx)),
		maxText: cfg.BatchSizeBytes,
		maxRows: cfg.RowBatchSize,
	}
	next := func(ctx context.Context) (types.Batch, error) {
		b, err := s.next(ctx)
		if err != nil && !errors.Is(err, io.EOF) {
			return b, fmt.Errorf("parsing html %s: %w", doc.Name, err)
		}
		return b, err
	}
	return newLookahead(next, nil), nil
}

func (s *htmlScanner) next(ctx context.Context) (types.Batch, error) {
	for !s.eof {
		if err := ctx.Err(); err != nil {
			return types.Batch{}, err
		}
		ready, err := s.step()
		if err != nil {
			return types.Batch{}, err
		}
		if ready {
			return s.take(), nil
		}
	}
	if s.set.len() > 0 || strings.TrimSpace(s.text.String()) != "" {
		return s.take(), nil
	}
	return types.Batch{}, io.EOF
}

// step consumes one token and reports whether a batch is ready.
func (s *htmlScanner) step() (bool, error) {
	switch s.z.Next() {
	case html.ErrorToken:
		if err := s.z.Err(); !errors.Is(err, io.EOF) {
			return false, err
		}
		s.eof = true
		return false, nil

	case html.StartTagToken, html.SelfClosingTagToken:
		name, _ := s.z.TagName()
		return s.open(string(name)), nil

	case html.EndTagToken:
		name, _ := s.z.TagName()
		return s.close(string(name)), nil

	case html.TextToken:
		if s.skip > 0 {
			return false, nil
		}
		words := strings.Fields(string(s.z.Text()))
		if len(words) == 0 {
			return false, nil
		}
		chunk := strings.Join(words, " ")
		switch {
		case s.inTitle:
			s.title = strings.TrimSpace(s.title + " " + chunk)
		case s.cell != nil:
			if s.cell.Len() > 0 {
				s.cell.WriteByte(' ')
			}
			s.cell.WriteString(chunk)
		default:
			if s.text.Len() > 0 && !strings.HasSuffix(s.text.String(), "\n") {
				s.text.WriteByte(' ')
			}
			s.text.WriteString(chunk)
			return s.text.Len() >= s.maxText, nil
		}
	}
	return false, nil
}

func (s *htmlScanner) open(name string) bool {
	switch {
	case skippedElements[name]:
		s.skip++
	case name == "title":
		s.inTitle = true
	case name == "table":
		s.tableDepth++
		if s.tableDepth == 1 {
			s.header = nil
		}
	case s.tableDepth == 1 && name == "tr":
		s.cells = nil
	case s.tableDepth == 1 && (name == "td" || name == "th"):
		s.cell = &strings.Builder{}
	case name == "br" && s.cell == nil:
		s.newline()
	}
	return false
}

func (s *htmlScanner) close(name string) bool {
	switch {
	case skippedElements[name]:
		if s.skip > 0 {
			s.skip--
		}
	case name == "title":
		s.inTitle = false
	case s.tableDepth == 1 && (name == "td" || name == "th"):
		if s.cell != nil {
			s.cells = append(s.cells, s.cell.String())
			s.cell = nil
		}
	case s.tableDepth == 1 && name == "tr":
		return s.endRow()
	case name == "table":
		if s.tableDepth > 0 {
			s.tableDepth--
		}
		if s.tableDepth == 0 {
			s.endRow()
			s.header = nil
			return s.set.len() > 0
		}
	case blockElements[name] && s.cell == nil:
		s.newline()
	}
	return false
}

func (s *htmlScanner) endRow() bool {
	if s.cell != nil {
		s.cells = append(s.cells, s.cell.String())
		s.cell = nil
	}
	cells := s.cells
	s.cells = nil
	if blankRow(cells) {
		return false
	}
	if s.header == nil {
		s.header = headerNames(cells)
		return false
	}
	s.set.add(s.header, zipRow(s.header, cells))
	return s.set.len() >= s.maxRows
}

func (s *htmlScanner) newline() {
	if s.text.Len() > 0 && !strings.HasSuffix(s.text.String(), "\n") {
		s.text.WriteByte('\n')
	}
}

func (s *htmlScanner) take() types.Batch {
	b := s.set.take()
	b.Text = strings.TrimSpace(s.text.String())
	s.text.Reset()
	if s.title != "" {
		b.Metadata = map[string]string{"title": s.title}
	}
	return b
}
