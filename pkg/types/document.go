// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package types defines shared data structures for the msmapper pipeline:
// source documents and their chunks, target schemas, mapping decisions,
// provider profiles, and configuration.
package types

// SourceDocument identifies one document handed to an extraction session.
// It is owned by exactly one session and never modified after open.
type SourceDocument struct {
	// Name is the file name or caller-supplied identifier.
	Name string `json:"name" yaml:"name"`

	// MediaType is the declared media type (e.g. "text/csv"). When empty,
	// extractors fall back to the extension of Name.
	MediaType string `json:"media_type" yaml:"media_type"`

	// Size is the byte length of the document, or -1 when unknown.
	Size int64 `json:"size" yaml:"size"`
}

// ContentChunk is one bounded unit of raw bytes produced by a ChunkSource.
// A chunk with Err set and IsLast false is a recoverable warning; with
// IsLast true it is fatal for the stream.
type ContentChunk struct {
	// Index is 0-based and strictly increasing without gaps.
	Index int

	// Data holds the raw bytes of the chunk.
	Data []byte

	// IsLast marks the final chunk of the stream.
	IsLast bool

	// Err records a read failure for this chunk.
	Err error
}

// Fatal reports whether the chunk ends the stream with an error.
func (c ContentChunk) Fatal() bool {
	return c.Err != nil && c.IsLast
}

// Batch is one structured content unit produced by an extractor: a group of
// tabular rows, a text span, or both, plus document metadata discovered so far.
type Batch struct {
	// Index is the 0-based batch position within the document.
	Index int

	// Columns lists the field names seen in this batch in source order.
	Columns []string

	// Rows holds the records of this batch keyed by column name.
	Rows []map[string]string

	// Text holds free text extracted in this batch (PDF pages, paragraphs).
	Text string

	// Metadata carries document-level metadata (sheet name, page, title).
	Metadata map[string]string

	// IsLast marks the final batch of the document.
	IsLast bool

	// Err records a per-batch extraction problem. Same warning/fatal rule
	// as ContentChunk.
	Err error
}

// Empty reports whether the batch carries neither fields nor text.
func (b Batch) Empty() bool {
	return len(b.Columns) == 0 && len(b.Rows) == 0 && b.Text == ""
}

// Fatal reports whether the batch ends the stream with an error.
func (b Batch) Fatal() bool {
	return b.Err != nil && b.IsLast
}

// Samples returns up to n raw values of column in row order. Rows without
// the column contribute nothing; empty strings are kept so callers can
// count them.
func (b Batch) Samples(column string, n int) []string {
	var out []string
	for _, row := range b.Rows {
		if n > 0 && len(out) >= n {
			break
		}
		if v, ok := row[column]; ok {
			out = append(out, v)
		}
	}
	return out
}
