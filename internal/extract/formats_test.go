// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/M0hamedSayed/MSMapper/internal/chunk"
	"github.com/M0hamedSayed/MSMapper/pkg/types"
)

func TestCSV_BatchesByRowCount(t *testing.T) {
	doc := types.SourceDocument{Name: "orders.csv"}
	out := runExtractor(t, NewCSV(), doc, strings.NewReader(csvRows(120)), types.ChunkConfig{RowBatchSize: 50, BatchSizeBytes: 256})

	require.Len(t, out, 3)
	assert.Len(t, out[0].Rows, 50)
	assert.Len(t, out[1].Rows, 50)
	assert.Len(t, out[2].Rows, 20)
	assert.Equal(t, []string{"id", "name", "amount"}, out[0].Columns)
	assert.Equal(t, map[string]string{"id": "1", "name": "name1", "amount": "10"}, out[0].Rows[0])
	assert.Equal(t, "120", out[2].Rows[19]["id"])
}

func TestCSV_TabSeparated(t *testing.T) {
	doc := types.SourceDocument{Name: "people.tsv"}
	out := runExtractor(t, NewCSV(), doc, strings.NewReader("First Name\tAge\nAda\t36\n"), types.ChunkConfig{})

	require.Len(t, out, 1)
	assert.Equal(t, []string{"First Name", "Age"}, out[0].Columns)
	assert.Equal(t, "Ada", out[0].Rows[0]["First Name"])
}

func TestCSV_MalformedRecordIsRecoverable(t *testing.T) {
	content := "a,b\n1,2\n3,4,5\n6,7\n"
	out := runExtractor(t, NewCSV(), types.SourceDocument{Name: "x.csv"}, strings.NewReader(content), types.ChunkConfig{})

	require.Len(t, out, 2)
	assert.Len(t, out[0].Rows, 2)
	require.Error(t, out[0].Err)
	assert.False(t, out[0].Fatal())
	assert.True(t, out[1].Empty())
	assert.NoError(t, out[1].Err)
}

func TestCSV_EmptyAndHeaderOnly(t *testing.T) {
	out := runExtractor(t, NewCSV(), types.SourceDocument{Name: "e.csv"}, strings.NewReader(""), types.ChunkConfig{})
	require.Len(t, out, 1)
	assert.True(t, out[0].Empty())

	out = runExtractor(t, NewCSV(), types.SourceDocument{Name: "h.csv"}, strings.NewReader("a,b\n"), types.ChunkConfig{})
	require.Len(t, out, 1)
	assert.Empty(t, out[0].Rows)
}

func TestJSON_ArrayWithNestedObjects(t *testing.T) {
	content := `[
		{"name": "Ada", "age": 36, "address": {"city": "London"}, "tags": ["x", "y"]},
		{"name": "Alan", "age": 41.5, "active": true, "note": null}
	]`
	out := runExtractor(t, NewJSON(), types.SourceDocument{Name: "people.json"}, strings.NewReader(content), types.ChunkConfig{})

	require.Len(t, out, 1)
	rows := out[0].Rows
	require.Len(t, rows, 2)
	assert.Equal(t, "London", rows[0]["address.city"])
	assert.Equal(t, "y", rows[0]["tags.1"])
	assert.Equal(t, "36", rows[0]["age"])
	assert.Equal(t, "41.5", rows[1]["age"])
	assert.Equal(t, "true", rows[1]["active"])
	assert.Equal(t, "", rows[1]["note"])
	assert.Equal(t, []string{"name", "age", "address.city", "tags.0", "tags.1", "active", "note"}, out[0].Columns)
}

func TestJSON_ColumnsKeepDocumentOrder(t *testing.T) {
	content := `{"zeta": 1, "alpha": {"inner": "x", "empty": {}}, "mid": [], "zeta": 2}`
	out := runExtractor(t, NewJSON(), types.SourceDocument{Name: "one.json"}, strings.NewReader(content), types.ChunkConfig{})

	require.Len(t, out, 1)
	assert.Equal(t, []string{"zeta", "alpha.inner", "alpha.empty", "mid"}, out[0].Columns)
	assert.Equal(t, map[string]string{"zeta": "2", "alpha.inner": "x", "alpha.empty": "", "mid": ""}, out[0].Rows[0])
}

func TestJSON_NDJSONAcrossBatches(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 60; i++ {
		b.WriteString(`{"id": 1, "ok": false}` + "\n")
	}
	out := runExtractor(t, NewJSON(), types.SourceDocument{Name: "events.ndjson"}, strings.NewReader(b.String()), types.ChunkConfig{RowBatchSize: 50, BatchSizeBytes: 100})

	require.Len(t, out, 2)
	assert.Len(t, out[0].Rows, 50)
	assert.Len(t, out[1].Rows, 10)
	assert.Equal(t, []string{"id", "ok"}, out[0].Columns)
}

func TestJSON_ScalarsBecomeText(t *testing.T) {
	out := runExtractor(t, NewJSON(), types.SourceDocument{Name: "s.json"}, strings.NewReader(`["alpha", 2]`), types.ChunkConfig{})
	require.Len(t, out, 1)
	assert.Equal(t, "alpha\n2", out[0].Text)
}

func TestJSON_SyntaxErrorIsFatal(t *testing.T) {
	out := runExtractor(t, NewJSON(), types.SourceDocument{Name: "bad.json"}, strings.NewReader(`[{"a": 1}, {"a": }]`), types.ChunkConfig{})
	last := out[len(out)-1]
	assert.True(t, last.Fatal())
}

func TestYAML_MultiDocumentKeepsKeyOrder(t *testing.T) {
	content := `zeta: 1
alpha: two
nested:
  inner: x
---
- zeta: 3
  alpha: four
- zeta: 5
  empty: ~
`
	out := runExtractor(t, NewYAML(), types.SourceDocument{Name: "recs.yaml"}, strings.NewReader(content), types.ChunkConfig{})

	require.Len(t, out, 1)
	assert.Equal(t, []string{"zeta", "alpha", "nested.inner", "empty"}, out[0].Columns)
	require.Len(t, out[0].Rows, 3)
	assert.Equal(t, "x", out[0].Rows[0]["nested.inner"])
	assert.Equal(t, "four", out[0].Rows[1]["alpha"])
	assert.Equal(t, "", out[0].Rows[2]["empty"])
}

func TestYAML_InvalidDocumentIsFatal(t *testing.T) {
	out := runExtractor(t, NewYAML(), types.SourceDocument{Name: "bad.yaml"}, strings.NewReader("a: [1, 2\n"), types.ChunkConfig{})
	assert.True(t, out[len(out)-1].Fatal())
}

func TestXLSX_FirstSheetWithHeader(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	require.NoError(t, f.SetSheetRow("Sheet1", "A2", &[]any{"Customer Name", "Total"}))
	for i := 0; i < 55; i++ {
		cell, err := excelize.CoordinatesToCellName(1, i+3)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &[]any{"acme", i}))
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)

	out := runExtractor(t, NewXLSX(), types.SourceDocument{Name: "book.xlsx"}, bytes.NewReader(buf.Bytes()), types.ChunkConfig{RowBatchSize: 50})

	require.Len(t, out, 2)
	assert.Equal(t, []string{"Customer Name", "Total"}, out[0].Columns)
	assert.Len(t, out[0].Rows, 50)
	assert.Len(t, out[1].Rows, 5)
	assert.Equal(t, "0", out[0].Rows[0]["Total"])
	assert.Equal(t, "Sheet1", out[1].Metadata["sheet"])
}

func TestXLSX_NotAWorkbook(t *testing.T) {
	dir := useSpoolDir(t)
	out := runExtractor(t, NewXLSX(), types.SourceDocument{Name: "fake.xlsx"}, strings.NewReader("definitely not a zip file"), types.ChunkConfig{})

	require.Len(t, out, 1)
	assert.True(t, out[0].Fatal())
	assert.ErrorContains(t, out[0].Err, "opening workbook fake.xlsx")
	assertSpoolRemoved(t, dir)
}

func TestHTML_TablesAndText(t *testing.T) {
	content := `<html><head><title>Invoice 42</title><style>td{color:red}</style></head>
<body>
<h1>Summary</h1>
<p>Issued to <b>ACME</b> corp.</p>
<script>var x = "<td>nope</td>";</script>
<table>
  <tr><th>Item</th><th>Qty</th></tr>
  <tr><td>Widget</td><td>3</td></tr>
  <tr><td>Gadget</td><td>5</td></tr>
</table>
<p>Thank you.</p>
</body></html>`
	out := runExtractor(t, NewHTML(), types.SourceDocument{Name: "inv.html"}, strings.NewReader(content), types.ChunkConfig{})

	require.NotEmpty(t, out)
	first := out[0]
	assert.Equal(t, []string{"Item", "Qty"}, first.Columns)
	require.Len(t, first.Rows, 2)
	assert.Equal(t, map[string]string{"Item": "Gadget", "Qty": "5"}, first.Rows[1])
	assert.Contains(t, first.Text, "Issued to ACME corp.")
	assert.NotContains(t, first.Text, "nope")
	assert.Equal(t, "Invoice 42", first.Metadata["title"])

	var all strings.Builder
	for _, b := range out {
		all.WriteString(b.Text)
	}
	assert.Contains(t, all.String(), "Thank you.")
}

func TestText_MarkdownSections(t *testing.T) {
	content := `Intro line
# Customer
Name: Ada Lovelace
Email: ada@example.com
This long sentence has a colon: it is long enough that it is not a field at all here.

<!-- page 2 -->
## Items
| SKU | Qty |
|-----|----:|
| A-1 | 2 |
| B-7 | 9 |
`
	out := runExtractor(t, NewText(), types.SourceDocument{Name: "order.md"}, strings.NewReader(content), types.ChunkConfig{})

	require.Len(t, out, 3)
	assert.Equal(t, "Intro line", out[0].Text)

	customer := out[1]
	assert.Equal(t, "Customer", customer.Metadata["heading"])
	assert.Equal(t, []string{"Name", "Email"}, customer.Columns)
	assert.Equal(t, "ada@example.com", customer.Rows[0]["Email"])

	items := out[2]
	assert.Equal(t, "Items", items.Metadata["heading"])
	assert.Equal(t, "2", items.Metadata["page"])
	assert.Equal(t, []string{"SKU", "Qty"}, items.Columns)
	require.Len(t, items.Rows, 2)
	assert.Equal(t, "9", items.Rows[1]["Qty"])
}

func TestText_PlainTextIgnoresHeadings(t *testing.T) {
	out := runExtractor(t, NewText(), types.SourceDocument{Name: "notes.txt"}, strings.NewReader("# not a heading\nTotal: 12\n"), types.ChunkConfig{})
	require.Len(t, out, 1)
	assert.Contains(t, out[0].Text, "# not a heading")
	assert.Equal(t, "12", out[0].Rows[0]["Total"])
}

func TestFieldLine(t *testing.T) {
	tests := []struct {
		line      string
		key, want string
		ok        bool
	}{
		{"Invoice Number: INV-001", "Invoice Number", "INV-001", true},
		{"- **Due date**: 2024-01-31", "Due date", "2024-01-31", true},
		{"see https://example.com", "", "", false},
		{"no colon here", "", "", false},
		{"one two three four five six: value", "", "", false},
		{"Key:", "", "", false},
	}
	for _, tc := range tests {
		t.Run(tc.line, func(t *testing.T) {
			key, value, ok := fieldLine(tc.line)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.key, key)
			assert.Equal(t, tc.want, value)
		})
	}
}

func TestTextBatch_CollectsFields(t *testing.T) {
	b := textBatch("INVOICE\nVendor: Acme\nTotal: 99.50\nVendor: ignored duplicate\n")
	assert.Equal(t, []string{"Vendor", "Total"}, b.Columns)
	assert.Equal(t, "Acme", b.Rows[0]["Vendor"])
	assert.Contains(t, b.Text, "INVOICE")
}

func TestPDF_InvalidDocumentEndsStream(t *testing.T) {
	dir := useSpoolDir(t)
	out := runExtractor(t, NewPDF(), types.SourceDocument{Name: "x.pdf"}, strings.NewReader("%PDF-garbage"), types.ChunkConfig{})

	require.Len(t, out, 1)
	assert.True(t, out[0].Fatal())
	assert.ErrorContains(t, out[0].Err, "opening pdf x.pdf")
	assertSpoolRemoved(t, dir)
}

func TestPDF_PagesAndFields(t *testing.T) {
	dir := useSpoolDir(t)
	data := pdfFixture(
		"INVOICE\nVendor: Acme Corp\nTotal: 99.50",
		"Invoice Number: INV-7\nDue Date: 2024-01-31",
	)
	out := runExtractor(t, NewPDF(), types.SourceDocument{Name: "invoice.pdf"}, bytes.NewReader(data), types.ChunkConfig{BatchSizeBytes: 128})

	require.Len(t, out, 2)
	assert.Equal(t, map[string]string{"page": "1", "pages": "2"}, out[0].Metadata)
	assert.Equal(t, map[string]string{"page": "2", "pages": "2"}, out[1].Metadata)

	assert.Contains(t, out[0].Text, "INVOICE")
	assert.Equal(t, []string{"Vendor", "Total"}, out[0].Columns)
	require.Len(t, out[0].Rows, 1)
	assert.Equal(t, "Acme Corp", out[0].Rows[0]["Vendor"])
	assert.Equal(t, "99.50", out[0].Rows[0]["Total"])

	assert.Equal(t, []string{"Invoice Number", "Due Date"}, out[1].Columns)
	assert.Equal(t, "INV-7", out[1].Rows[0]["Invoice Number"])
	assertSpoolRemoved(t, dir)
}

// brokenReader yields data and then fails.
type brokenReader struct {
	data []byte
	err  error
}

func (b *brokenReader) Read(p []byte) (int, error) {
	if len(b.data) == 0 {
		return 0, b.err
	}
	n := copy(p, b.data)
	b.data = b.data[n:]
	return n, nil
}

func TestExtract_StreamErrorIsTerminalBatch(t *testing.T) {
	boom := errors.New("disk went away")
	tests := []struct {
		name string
		e    Extractor
		doc  string
		head string
	}{
		{name: "csv", e: NewCSV(), doc: "x.csv", head: "a,b\n1,2\n3,"},
		{name: "pdf", e: NewPDF(), doc: "x.pdf", head: "%PDF-1.4\n1 0 obj"},
		{name: "xlsx", e: NewXLSX(), doc: "x.xlsx", head: "PK\x03\x04"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := useSpoolDir(t)
			r := &brokenReader{data: []byte(tt.head), err: boom}
			out := runExtractor(t, tt.e, types.SourceDocument{Name: tt.doc}, r, types.ChunkConfig{BatchSizeBytes: 4})

			last := out[len(out)-1]
			assert.True(t, last.IsLast)
			assert.True(t, last.Fatal())
			assert.ErrorIs(t, last.Err, boom)
			assertSpoolRemoved(t, dir)
		})
	}
}

func TestExtract_RandomAccessFormatsReadLazily(t *testing.T) {
	const ceiling = 8192
	for _, e := range []Extractor{NewPDF(), NewXLSX()} {
		t.Run(e.Name(), func(t *testing.T) {
			useSpoolDir(t)
			cr := &countingReader{r: bytes.NewReader(bytes.Repeat([]byte("x"), 4<<20))}
			doc := types.SourceDocument{Name: "big." + e.Name()}
			src := chunk.Open(cr, doc, types.ChunkConfig{BatchSizeBytes: 1024, MaxMemoryUsageBytes: ceiling}, chunk.WithReclaim(func() {}))
			t.Cleanup(func() { src.Close() })

			br, err := e.Extract(context.Background(), src, doc, src.Config())
			require.NoError(t, err)
			time.Sleep(10 * time.Millisecond)
			assert.LessOrEqual(t, cr.pulled.Load(), int64(ceiling), "nothing is read before the first batch")

			out := collect(t, br)
			assert.True(t, out[len(out)-1].Fatal())
			assert.Equal(t, int64(4<<20), cr.pulled.Load())
		})
	}
}

// countingReader records how many bytes were pulled from the stream.
type countingReader struct {
	r      io.Reader
	pulled atomic.Int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.pulled.Add(int64(n))
	return n, err
}

func useSpoolDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	prev := spoolDir
	spoolDir = dir
	t.Cleanup(func() { spoolDir = prev })
	return dir
}

func assertSpoolRemoved(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

// pdfFixture builds a minimal PDF with one Helvetica text page per entry.
// Lines within a page are separated by newlines.
func pdfFixture(pages ...string) []byte {
	kids := make([]string, len(pages))
	for i := range pages {
		kids[i] = fmt.Sprintf("%d 0 R", 4+2*i)
	}
	objs := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(pages)),
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>",
	}
	for i, text := range pages {
		var content strings.Builder
		content.WriteString("BT /F1 12 Tf 14 TL 72 720 Td")
		for j, line := range strings.Split(text, "\n") {
			if j > 0 {
				content.WriteString(" T*")
			}
			fmt.Fprintf(&content, " (%s) Tj", line)
		}
		content.WriteString(" ET")
		objs = append(objs,
			fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 3 0 R >> >> /Contents %d 0 R >>", 5+2*i),
			fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", content.Len(), content.String()),
		)
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objs))
	for i, o := range objs {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, o)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objs)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objs)+1, xref)
	return buf.Bytes()
}
