// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package chunk turns a byte stream into an ordered, bounded sequence of
// content chunks. A single producer goroutine reads at most one chunk, plus
// one lookahead byte, ahead of the consumer. Every byte read from the
// underlying stream is reserved from a weighted semaphore sized to the
// configured memory ceiling before it is read, so a slow consumer stalls
// the producer instead of growing the buffer.
package chunk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/M0hamedSayed/MSMapper/pkg/types"
)

// ErrClosed is returned by Next after Close.
var ErrClosed = errors.New("chunk source closed")

// Option customises a Source.
type Option func(*Source)

// WithReclaim replaces the memory-pressure hook (default debug.FreeOSMemory).
func WithReclaim(fn func()) Option {
	return func(s *Source) { s.reclaim = fn }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Source) { s.logger = l }
}

type pending struct {
	chunk    types.ContentChunk
	reserved int64
}

// Source is a pull-driven chunk stream over one SourceDocument.
type Source struct {
	doc     types.SourceDocument
	cfg     types.ChunkConfig
	sem     *semaphore.Weighted
	out     chan pending
	cancel  context.CancelFunc
	reclaim func()
	logger  *slog.Logger

	buffered atomic.Int64
	consumed atomic.Int64
	reclaims atomic.Int64
	closed   atomic.Bool
	finished bool
}

// Open starts reading r in the background and returns the stream handle.
// Zero-valued settings in cfg take their defaults.
func Open(r io.Reader, doc types.SourceDocument, cfg types.ChunkConfig, opts ...Option) *Source {
	c := types.Config{Chunk: cfg}
	c.ApplyDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	s := &Source{
		doc:     doc,
		cfg:     c.Chunk,
		sem:     semaphore.NewWeighted(c.Chunk.MaxMemoryUsageBytes),
		out:     make(chan pending),
		cancel:  cancel,
		reclaim: debug.FreeOSMemory,
	}
	for _, o := range opts {
		o(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	go s.produce(ctx, r)
	return s
}

// Document returns the document this source reads.
func (s *Source) Document() types.SourceDocument { return s.doc }

// Config returns the effective configuration after defaults.
func (s *Source) Config() types.ChunkConfig { return s.cfg }

// Buffered reports bytes read from the stream but not yet taken by the
// consumer, including the lookahead byte. It never exceeds
// MaxMemoryUsageBytes.
func (s *Source) Buffered() int64 { return s.buffered.Load() }

// Consumed reports bytes handed to the consumer so far.
func (s *Source) Consumed() int64 { return s.consumed.Load() }

// Reclaims reports how many times the memory-pressure hook ran.
func (s *Source) Reclaims() int64 { return s.reclaims.Load() }

func (s *Source) produce(ctx context.Context, r io.Reader) {
	defer close(s.out)

	size := int64(s.cfg.BatchSizeBytes)
	// carry is the lookahead byte read past the previous full chunk. It
	// stays reserved and counted in Buffered until it opens the next chunk.
	var carry []byte
	for index := 0; ; index++ {
		want := size + types.ChunkLookaheadBytes
		need := want - int64(len(carry))
		if err := s.sem.Acquire(ctx, need); err != nil {
			s.drop(int64(len(carry)))
			return
		}

		buf := make([]byte, want)
		copy(buf, carry)
		n, err := io.ReadFull(r, buf[len(carry):])
		s.buffered.Add(int64(n))
		held := int64(len(carry) + n)
		carry = nil

		c := types.ContentChunk{Index: index}
		switch {
		case err == nil:
			c.Data = buf[:size:size]
			carry = append([]byte(nil), buf[size:]...)
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			c.Data = buf[:held]
			c.IsLast = true
		default:
			c.Data = buf[:held]
			c.IsLast = true
			c.Err = fmt.Errorf("reading %s at chunk %d: %w", s.doc.Name, index, err)
		}
		if held < want {
			s.sem.Release(want - held)
		}
		reserved := int64(len(c.Data))

		s.relievePressure()

		select {
		case s.out <- pending{chunk: c, reserved: reserved}:
		case <-ctx.Done():
			s.drop(held)
			return
		}
		if c.IsLast {
			return
		}
	}
}

// drop releases bytes the producer holds but will never deliver.
func (s *Source) drop(n int64) {
	if n == 0 {
		return
	}
	s.buffered.Add(-n)
	s.sem.Release(n)
}

// relievePressure runs the reclaim hook when buffered bytes pass the
// configured fraction of the ceiling.
func (s *Source) relievePressure() {
	limit := int64(float64(s.cfg.MaxMemoryUsageBytes) * s.cfg.PressureRatio)
	buffered := s.buffered.Load()
	if buffered <= limit || s.reclaim == nil {
		return
	}
	s.reclaims.Add(1)
	s.logger.Debug("chunk.pressure.reclaim",
		"document", s.doc.Name,
		"buffered", buffered,
		"ceiling", s.cfg.MaxMemoryUsageBytes,
	)
	s.reclaim()
}

// Next returns the next chunk, blocking until the producer has one. It
// returns io.EOF after the chunk marked IsLast has been delivered.
func (s *Source) Next(ctx context.Context) (types.ContentChunk, error) {
	if s.finished {
		return types.ContentChunk{}, io.EOF
	}
	if err := ctx.Err(); err != nil {
		return types.ContentChunk{}, err
	}

	select {
	case <-ctx.Done():
		return types.ContentChunk{}, ctx.Err()
	case p, ok := <-s.out:
		if !ok {
			s.finished = true
			if s.closed.Load() {
				return types.ContentChunk{}, ErrClosed
			}
			return types.ContentChunk{}, io.EOF
		}
		s.buffered.Add(-p.reserved)
		s.sem.Release(p.reserved)
		s.consumed.Add(p.reserved)
		if p.chunk.IsLast {
			s.finished = true
		}
		return p.chunk, nil
	}
}

// Close stops the producer. Chunks not yet taken are discarded.
func (s *Source) Close() error {
	s.closed.Store(true)
	s.cancel()
	return nil
}

// Reader adapts the source to an io.Reader for format parsers. A chunk
// error is returned after the chunk's bytes have been read.
func (s *Source) Reader(ctx context.Context) io.Reader {
	return &reader{ctx: ctx, src: s}
}

type reader struct {
	ctx context.Context
	src *Source
	buf []byte
	err error
}

func (r *reader) Read(p []byte) (int, error) {
	for len(r.buf) == 0 {
		if r.err != nil {
			return 0, r.err
		}
		c, err := r.src.Next(r.ctx)
		if err != nil {
			r.err = err
			continue
		}
		r.buf = c.Data
		switch {
		case c.Err != nil:
			r.err = c.Err
		case c.IsLast:
			r.err = io.EOF
		}
	}
	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}
