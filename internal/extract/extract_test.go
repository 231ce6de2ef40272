// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package extract

import (
	"context"
	"errors"
	"io"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/M0hamedSayed/MSMapper/internal/chunk"
	"github.com/M0hamedSayed/MSMapper/pkg/types"
)

// runExtractor feeds content through a chunk source and the extractor and
// collects every batch.
func runExtractor(t *testing.T, e Extractor, doc types.SourceDocument, content io.Reader, cfg types.ChunkConfig) []types.Batch {
	t.Helper()
	src := chunk.Open(content, doc, cfg, chunk.WithReclaim(func() {}))
	t.Cleanup(func() { src.Close() })

	br, err := e.Extract(context.Background(), src, doc, src.Config())
	require.NoError(t, err)
	return collect(t, br)
}

func collect(t *testing.T, br BatchReader) []types.Batch {
	t.Helper()
	var out []types.Batch
	for {
		b, err := br.Next(context.Background())
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		out = append(out, b)
	}
	require.NotEmpty(t, out)
	for i, b := range out {
		assert.Equal(t, i, b.Index, "batch indices are gap-free")
		assert.Equal(t, i == len(out)-1, b.IsLast, "only the final batch is last")
	}
	return out
}

func TestRegistry_Select(t *testing.T) {
	r := DefaultRegistry()

	tests := []struct {
		name string
		doc  types.SourceDocument
		want string
	}{
		{"csv by extension", types.SourceDocument{Name: "people.csv"}, "csv"},
		{"tsv by extension", types.SourceDocument{Name: "people.TSV"}, "csv"},
		{"media type wins over extension", types.SourceDocument{Name: "export.txt", MediaType: "text/csv"}, "csv"},
		{"media type with parameters", types.SourceDocument{Name: "x", MediaType: "application/json; charset=utf-8"}, "json"},
		{"ndjson", types.SourceDocument{Name: "events.ndjson"}, "json"},
		{"yaml", types.SourceDocument{Name: "cfg.yml"}, "yaml"},
		{"xlsx", types.SourceDocument{Name: "book.xlsx"}, "xlsx"},
		{"html", types.SourceDocument{MediaType: "text/html"}, "html"},
		{"pdf", types.SourceDocument{Name: "invoice.pdf"}, "pdf"},
		{"markdown", types.SourceDocument{Name: "notes.md"}, "text"},
		{"unknown media type falls back to extension", types.SourceDocument{Name: "a.csv", MediaType: "application/octet-stream"}, "csv"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			e, err := r.Select(tc.doc)
			require.NoError(t, err)
			assert.Equal(t, tc.want, e.Name())
		})
	}
}

func TestRegistry_Unsupported(t *testing.T) {
	_, err := DefaultRegistry().Select(types.SourceDocument{Name: "image.png", MediaType: "image/png"})
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestRegistry_NamesAndRegister(t *testing.T) {
	r := NewRegistry(NewCSV())
	r.Register(NewJSON())
	assert.Equal(t, []string{"csv", "json"}, r.Names())
	assert.Equal(t, []string{"csv", "json", "yaml", "xlsx", "html", "pdf", "text"}, DefaultRegistry().Names())
}

// scripted yields the given batches, then ends with err (io.EOF for a clean end).
func scripted(batches []types.Batch, end error) batchFunc {
	i := 0
	return func(context.Context) (types.Batch, error) {
		if i < len(batches) {
			b := batches[i]
			i++
			return b, nil
		}
		return types.Batch{}, end
	}
}

func TestLookahead_MarksLastBatch(t *testing.T) {
	l := newLookahead(scripted([]types.Batch{{Text: "a"}, {Text: "b"}, {Text: "c"}}, io.EOF), nil)
	out := collect(t, l)
	require.Len(t, out, 3)
	assert.Equal(t, "c", out[2].Text)
	assert.NoError(t, out[2].Err)
}

func TestLookahead_EmptyDocumentYieldsOneTerminalBatch(t *testing.T) {
	closed := false
	l := newLookahead(scripted(nil, io.EOF), func() error { closed = true; return nil })
	out := collect(t, l)
	require.Len(t, out, 1)
	assert.True(t, out[0].Empty())
	assert.False(t, out[0].Fatal())
	assert.True(t, closed)
}

func TestLookahead_CloseBeforeEndReleasesOnce(t *testing.T) {
	closes := 0
	l := newLookahead(scripted([]types.Batch{{Text: "a"}, {Text: "b"}, {Text: "c"}}, io.EOF), func() error { closes++; return nil })

	_, err := l.Next(context.Background())
	require.NoError(t, err)
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())
	assert.Equal(t, 1, closes)

	_, err = l.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)
}

func TestLookahead_FatalErrorBecomesTerminalBatch(t *testing.T) {
	boom := errors.New("corrupt")
	l := newLookahead(scripted([]types.Batch{{Text: "a"}, {Text: "b"}}, boom), nil)
	out := collect(t, l)
	require.Len(t, out, 3)
	assert.NoError(t, out[1].Err)
	assert.True(t, out[2].Fatal())
	assert.ErrorIs(t, out[2].Err, boom)
}

func TestLookahead_RecoverableErrorOnFinalBatchIsNotFatal(t *testing.T) {
	warn := errors.New("bad row")
	l := newLookahead(scripted([]types.Batch{{Text: "a"}, {Text: "b", Err: warn}}, io.EOF), nil)
	out := collect(t, l)
	require.Len(t, out, 3)
	assert.ErrorIs(t, out[1].Err, warn)
	assert.False(t, out[1].Fatal())
	assert.True(t, out[2].Empty())
	assert.NoError(t, out[2].Err)
}

func TestLookahead_HonoursContext(t *testing.T) {
	l := newLookahead(scripted([]types.Batch{{Text: "a"}}, io.EOF), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := l.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHeaderNames(t *testing.T) {
	got := headerNames([]string{"\ufeffName", " ", "Age", "Name", ""})
	assert.Equal(t, []string{"Name", "column_2", "Age", "Name_2", "column_5"}, got)
}

func TestZipRow_PadsMissingCells(t *testing.T) {
	row := zipRow([]string{"a", "b", "c"}, []string{" 1 ", "2"})
	assert.Equal(t, map[string]string{"a": "1", "b": "2", "c": ""}, row)
}

func csvRows(n int) string {
	var b strings.Builder
	b.WriteString("id,name,amount\n")
	for i := 1; i <= n; i++ {
		b.WriteString(strings.Join([]string{strconv.Itoa(i), "name" + strconv.Itoa(i), strconv.Itoa(i * 10)}, ","))
		b.WriteByte('\n')
	}
	return b.String()
}
