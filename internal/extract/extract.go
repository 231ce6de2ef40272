// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package extract turns a chunk stream into structured batches of rows and
// text. Each supported format is an Extractor; a Registry selects one by
// declared media type or file extension.
package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/M0hamedSayed/MSMapper/pkg/types"
)

// ErrUnsupported is returned when no registered extractor handles a document.
var ErrUnsupported = errors.New("unsupported document format")

// ChunkStream is the input side of an extractor. *chunk.Source implements it.
type ChunkStream interface {
	Next(ctx context.Context) (types.ContentChunk, error)
	Reader(ctx context.Context) io.Reader
}

// BatchReader yields batches lazily. It is finite and not restartable; Next
// returns io.EOF after the batch marked IsLast.
type BatchReader interface {
	Next(ctx context.Context) (types.Batch, error)
}

// Extractor parses one family of formats.
type Extractor interface {
	Name() string
	CanHandle(doc types.SourceDocument) bool
	Extract(ctx context.Context, src ChunkStream, doc types.SourceDocument, cfg types.ChunkConfig) (BatchReader, error)
}

// Registry holds extractors in priority order.
type Registry struct {
	extractors []Extractor
}

// NewRegistry creates a registry with the given extractors.
func NewRegistry(extractors ...Extractor) *Registry {
	return &Registry{extractors: extractors}
}

// DefaultRegistry returns a registry with every built-in extractor.
func DefaultRegistry() *Registry {
	return NewRegistry(
		NewCSV(),
		NewJSON(),
		NewYAML(),
		NewXLSX(),
		NewHTML(),
		NewPDF(),
		NewText(),
	)
}

// Register appends an extractor. Later registrations have lower priority.
func (r *Registry) Register(e Extractor) {
	r.extractors = append(r.extractors, e)
}

// Names returns the registered extractor names in priority order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.extractors))
	for i, e := range r.extractors {
		names[i] = e.Name()
	}
	return names
}

// Select returns the first extractor that handles the declared media type,
// falling back to the first that handles the file extension.
func (r *Registry) Select(doc types.SourceDocument) (Extractor, error) {
	if doc.MediaType != "" {
		byType := types.SourceDocument{MediaType: doc.MediaType}
		for _, e := range r.extractors {
			if e.CanHandle(byType) {
				return e, nil
			}
		}
	}
	byName := types.SourceDocument{Name: doc.Name}
	for _, e := range r.extractors {
		if e.CanHandle(byName) {
			return e, nil
		}
	}
	return nil, fmt.Errorf("%w: %q (media type %q)", ErrUnsupported, doc.Name, doc.MediaType)
}

// formatMatcher is the CanHandle logic shared by the built-in extractors.
type formatMatcher struct {
	mediaTypes []string
	extensions []string
}

func (m formatMatcher) matches(doc types.SourceDocument) bool {
	if doc.MediaType != "" {
		mt, _, err := mime.ParseMediaType(doc.MediaType)
		if err != nil {
			mt = strings.ToLower(strings.TrimSpace(doc.MediaType))
		}
		for _, want := range m.mediaTypes {
			if mt == want {
				return true
			}
		}
	}
	if doc.Name != "" {
		ext := strings.ToLower(filepath.Ext(doc.Name))
		for _, want := range m.extensions {
			if ext == want {
				return true
			}
		}
	}
	return false
}

// batchFunc produces raw batches without Index or IsLast. It returns
// io.EOF at the end of the document; any other error is fatal.
type batchFunc func(ctx context.Context) (types.Batch, error)

// lookahead holds one batch back so the final batch can be marked IsLast.
// A fatal producer error becomes a terminal batch carrying the error.
type lookahead struct {
	next  batchFunc
	close func() error

	held    types.Batch
	hasHeld bool
	endErr  error
	started bool
	done    bool
	index   int
}

func newLookahead(next batchFunc, closeFn func() error) *lookahead {
	return &lookahead{next: next, close: closeFn}
}

func (l *lookahead) Next(ctx context.Context) (types.Batch, error) {
	if l.done {
		return types.Batch{}, io.EOF
	}
	if err := ctx.Err(); err != nil {
		return types.Batch{}, err
	}
	if !l.started {
		l.started = true
		l.fill(ctx)
	}

	if !l.hasHeld {
		l.finish()
		return types.Batch{Index: l.index, IsLast: true, Err: l.endErr}, nil
	}

	cur := l.held
	l.hasHeld = false
	cur.Index = l.index
	l.index++

	l.fill(ctx)
	// A batch with a recoverable error cannot be the last one, or it would
	// read as fatal; an empty terminal batch follows it instead.
	if !l.hasHeld && l.endErr == nil && cur.Err == nil {
		cur.IsLast = true
		l.finish()
	}
	return cur, nil
}

func (l *lookahead) fill(ctx context.Context) {
	b, err := l.next(ctx)
	switch {
	case err == nil:
		l.held, l.hasHeld = b, true
	case errors.Is(err, io.EOF):
	default:
		l.endErr = err
	}
}

// Close releases extractor resources when the stream is abandoned before
// its terminal batch.
func (l *lookahead) Close() error {
	if l.done {
		return nil
	}
	l.done = true
	if l.close != nil {
		return l.close()
	}
	return nil
}

func (l *lookahead) finish() {
	l.done = true
	if l.close != nil {
		_ = l.close()
	}
}

// rowSet accumulates rows for one batch while tracking column order.
type rowSet struct {
	columns []string
	seen    map[string]bool
	rows    []map[string]string
}

func (s *rowSet) add(order []string, row map[string]string) {
	if s.seen == nil {
		s.seen = make(map[string]bool)
	}
	for _, c := range order {
		if !s.seen[c] {
			s.seen[c] = true
			s.columns = append(s.columns, c)
		}
	}
	s.rows = append(s.rows, row)
}

func (s *rowSet) len() int { return len(s.rows) }

// take returns the accumulated batch and resets the set.
func (s *rowSet) take() types.Batch {
	b := types.Batch{Columns: s.columns, Rows: s.rows}
	*s = rowSet{}
	return b
}

// headerNames cleans a header row: blanks become column_N and duplicates
// get a numeric suffix.
func headerNames(raw []string) []string {
	out := make([]string, len(raw))
	used := make(map[string]int, len(raw))
	for i, h := range raw {
		name := strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		if name == "" {
			name = "column_" + strconv.Itoa(i+1)
		}
		used[name]++
		if n := used[name]; n > 1 {
			name = name + "_" + strconv.Itoa(n)
		}
		out[i] = name
	}
	return out
}

// zipRow pairs header names with cell values. Missing cells are empty.
func zipRow(header, cells []string) map[string]string {
	row := make(map[string]string, len(header))
	for i, h := range header {
		if i < len(cells) {
			row[h] = strings.TrimSpace(cells[i])
		} else {
			row[h] = ""
		}
	}
	return row
}
