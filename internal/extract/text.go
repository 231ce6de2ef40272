// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package extract

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/M0hamedSayed/MSMapper/pkg/types"
)

// maxLineBytes bounds a single line of text input.
const maxLineBytes = 1 << 20

// Text extracts plain text and Markdown. Markdown is split into sections
// at headings; plain text is split only by size. Within a section,
// "key: value" lines form one record and Markdown pipe tables form one
// record per row.
type Text struct {
	matcher  formatMatcher
	markdown formatMatcher
}

// NewText creates a plain text and Markdown extractor.
func NewText() *Text {
	return &Text{
		matcher: formatMatcher{
			mediaTypes: []string{"text/plain", "text/markdown", "text/x-markdown"},
			extensions: []string{".txt", ".text", ".md", ".markdown", ".log"},
		},
		markdown: formatMatcher{
			mediaTypes: []string{"text/markdown", "text/x-markdown"},
			extensions: []string{".md", ".markdown"},
		},
	}
}

func (e *Text) Name() string { return "text" }

func (e *Text) CanHandle(doc types.SourceDocument) bool { return e.matcher.matches(doc) }

func (e *Text) Extract(ctx context.Context, src ChunkStream, doc types.SourceDocument, cfg types.ChunkConfig) (BatchReader, error) {
	sc := bufio.NewScanner(src.Reader(ctx))
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	s := &textScanner{
		sc:       sc,
		markdown: e.markdown.matches(doc),
		maxBytes: cfg.BatchSizeBytes,
		maxRows:  cfg.RowBatchSize,
		page:     1,
	}
	next := func(ctx context.Context) (types.Batch, error) {
		b, err := s.next(ctx)
		if err != nil && err != io.EOF {
			return b, fmt.Errorf("reading text %s: %w", doc.Name, err)
		}
		return b, err
	}
	return newLookahead(next, nil), nil
}

type textScanner struct {
	sc       *bufio.Scanner
	markdown bool
	maxBytes int
	maxRows  int

	heading     string
	nextHeading string
	page        int
	eof         bool

	section   section
	tableHead []string
}

// section accumulates one heading-delimited span of text.
type section struct {
	lines  []string
	size   int
	fields flatRecord
	table  rowSet
}

func (s *section) empty() bool {
	return strings.TrimSpace(strings.Join(s.lines, "")) == ""
}

func (s *textScanner) next(ctx context.Context) (types.Batch, error) {
	for !s.eof {
		if err := ctx.Err(); err != nil {
			return types.Batch{}, err
		}
		if !s.sc.Scan() {
			if err := s.sc.Err(); err != nil {
				return types.Batch{}, err
			}
			s.eof = true
			break
		}
		line := s.sc.Text()
		trimmed := strings.TrimSpace(line)

		if page, ok := parsePageMarker(trimmed); ok {
			s.page = page
			continue
		}

		if s.markdown && isHeading(trimmed) {
			h := stripHeadingPrefix(trimmed)
			if !s.section.empty() {
				s.nextHeading = h
				return s.take(), nil
			}
			s.heading = h
			continue
		}

		s.addLine(line, trimmed)
		if s.section.size >= s.maxBytes || s.section.table.len() >= s.maxRows {
			return s.take(), nil
		}
	}

	if !s.section.empty() {
		return s.take(), nil
	}
	return types.Batch{}, io.EOF
}

func (s *textScanner) addLine(line, trimmed string) {
	s.section.lines = append(s.section.lines, line)
	s.section.size += len(line) + 1

	if s.markdown && strings.HasPrefix(trimmed, "|") {
		cells := splitTableRow(trimmed)
		switch {
		case isTableDivider(cells):
		case s.tableHead == nil:
			s.tableHead = headerNames(cells)
		default:
			s.section.table.add(s.tableHead, zipRow(s.tableHead, cells))
		}
		return
	}
	s.tableHead = nil

	if key, value, ok := fieldLine(trimmed); ok {
		addField(&s.section.fields, key, value)
	}
}

func (s *textScanner) take() types.Batch {
	sec := s.section
	s.section = section{}

	if len(sec.fields.order) > 0 {
		sec.table.add(sec.fields.order, sec.fields.row)
	}
	b := sec.table.take()
	b.Text = strings.TrimSpace(strings.Join(sec.lines, "\n"))

	meta := map[string]string{"page": strconv.Itoa(s.page)}
	if s.heading != "" {
		meta["heading"] = s.heading
		b.Text = s.heading + "\n\n" + b.Text
	}
	b.Metadata = meta

	if s.nextHeading != "" {
		s.heading, s.nextHeading = s.nextHeading, ""
	}
	return b
}

// textBatch builds a batch from a block of text, collecting field lines
// into a single record.
func textBatch(text string) types.Batch {
	var rec flatRecord
	for _, line := range strings.Split(text, "\n") {
		if key, value, ok := fieldLine(strings.TrimSpace(line)); ok {
			addField(&rec, key, value)
		}
	}
	b := types.Batch{Text: strings.TrimSpace(text)}
	if len(rec.order) > 0 {
		b.Columns = rec.order
		b.Rows = []map[string]string{rec.row}
	}
	return b
}

func addField(rec *flatRecord, key, value string) {
	if rec.row == nil {
		rec.row = make(map[string]string)
	}
	if _, ok := rec.row[key]; ok {
		return
	}
	rec.order = append(rec.order, key)
	rec.row[key] = value
}

var fieldLinePattern = regexp.MustCompile(`^(?:[-*+]\s+)?\**([A-Za-z][A-Za-z0-9 _./()#-]{0,63}?)\**\s*:\s+(\S.*)$`)

// fieldLine recognises "key: value" lines. Keys are at most five words so
// ordinary sentences containing a colon are not mistaken for fields.
func fieldLine(line string) (string, string, bool) {
	m := fieldLinePattern.FindStringSubmatch(line)
	if m == nil {
		return "", "", false
	}
	key := strings.TrimSpace(m[1])
	if len(strings.Fields(key)) > 5 {
		return "", "", false
	}
	return key, strings.TrimSpace(m[2]), true
}

// isHeading reports whether a line is a Markdown ATX heading.
func isHeading(line string) bool {
	level := 0
	for level < len(line) && line[level] == '#' {
		level++
	}
	return level > 0 && level <= 6 && level < len(line) && line[level] == ' '
}

// stripHeadingPrefix removes the leading # characters and whitespace.
func stripHeadingPrefix(line string) string {
	return strings.TrimSpace(strings.TrimLeft(line, "#"))
}

// parsePageMarker extracts the page number from a <!-- page N --> comment.
func parsePageMarker(line string) (int, bool) {
	if !strings.HasPrefix(line, "<!-- page ") || !strings.HasSuffix(line, " -->") {
		return 0, false
	}
	inner := strings.TrimSuffix(strings.TrimPrefix(line, "<!-- page "), " -->")
	page, err := strconv.Atoi(strings.TrimSpace(inner))
	if err != nil {
		return 0, false
	}
	return page, true
}

func splitTableRow(line string) []string {
	line = strings.TrimSuffix(strings.TrimPrefix(line, "|"), "|")
	cells := strings.Split(line, "|")
	for i := range cells {
		cells[i] = strings.TrimSpace(cells[i])
	}
	return cells
}

func isTableDivider(cells []string) bool {
	for _, c := range cells {
		c = strings.Trim(c, ":")
		if len(c) < 3 || strings.Trim(c, "-") != "" {
			return false
		}
	}
	return len(cells) > 0
}
