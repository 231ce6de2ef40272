// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package mapping

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/M0hamedSayed/MSMapper/internal/chunk"
	"github.com/M0hamedSayed/MSMapper/internal/extract"
	"github.com/M0hamedSayed/MSMapper/internal/infer"
	"github.com/M0hamedSayed/MSMapper/internal/match"
	"github.com/M0hamedSayed/MSMapper/internal/provider"
	"github.com/M0hamedSayed/MSMapper/pkg/types"
)

// Session maps one document onto one schema. It is owned by a single
// goroutine; only the progress channel may be read from elsewhere.
type Session struct {
	id     string
	doc    types.SourceDocument
	schema types.TargetSchema
	logger *slog.Logger

	src     *chunk.Source
	batches extract.BatchReader
	ctx     context.Context
	cancel  context.CancelFunc

	matcher      *match.Matcher
	inferencer   *infer.Inferencer
	escalator    Escalator
	providerName string
	smart        bool
	escalateAt   float64
	budget       *provider.Budget

	state
	warnings []types.MappingWarning
	usage    map[string]types.UsageDelta

	stage    types.Stage
	started  time.Time
	batchesN int
	chunks   int
	records  int

	progress       chan types.ProgressEvent
	progressClosed bool

	done   bool
	closed bool
	result *types.MappingResult
}

func newSession(m *Mapper, id string, doc types.SourceDocument, target types.TargetSchema,
	src *chunk.Source, batches extract.BatchReader, ctx context.Context, cancel context.CancelFunc, logger *slog.Logger) *Session {
	return &Session{
		id:           id,
		doc:          doc,
		schema:       target,
		logger:       logger,
		src:          src,
		batches:      batches,
		ctx:          ctx,
		cancel:       cancel,
		matcher:      m.matcher,
		inferencer:   m.inferencer,
		escalator:    m.escalator,
		providerName: m.cfg.Mapping.Provider,
		escalateAt:   m.cfg.Match.EscalationThreshold / 100,
		budget:       provider.NewBudget(m.cfg.Mapping.SessionCostCeiling),
		state:        newState(target),
		usage:        make(map[string]types.UsageDelta),
		stage:        types.StageIdle,
		started:      time.Now(),
		progress:     make(chan types.ProgressEvent, m.cfg.Mapping.ProgressBuffer),
	}
}

// ID returns the session identifier carried by every chunk.
func (s *Session) ID() string { return s.id }

// Stage returns the current orchestrator state.
func (s *Session) Stage() types.Stage { return s.stage }

// Progress returns the progress event channel. Events are published at
// each batch boundary; when the buffer is full the oldest event is
// dropped. The channel is closed when the session ends.
func (s *Session) Progress() <-chan types.ProgressEvent { return s.progress }

// Result returns the finalised result once the terminal chunk has been
// produced.
func (s *Session) Result() (types.MappingResult, bool) {
	if s.result == nil {
		return types.MappingResult{}, false
	}
	return *s.result, true
}

// Next processes one extracted batch and returns its chunk. The last
// chunk has IsLastChunk set; after it Next returns io.EOF. Cancellation
// of ctx, or the session timeout, ends the stream with a cancelled
// terminal chunk rather than an error.
func (s *Session) Next(ctx context.Context) (types.MappingChunk, error) {
	switch {
	case s.closed:
		return types.MappingChunk{}, ErrSessionClosed
	case s.done:
		return types.MappingChunk{}, io.EOF
	}
	if ctx.Err() != nil {
		return s.cancelled(context.Cause(ctx)), nil
	}
	ctx, stop := s.bind(ctx)
	defer stop()
	if ctx.Err() != nil {
		return s.cancelled(context.Cause(ctx)), nil
	}

	s.stage = types.StageExtracting
	b, err := s.batches.Next(ctx)
	switch {
	case ctx.Err() != nil:
		return s.cancelled(context.Cause(ctx)), nil
	case errors.Is(err, io.EOF):
		return s.finish(types.MappingChunk{SourceBatch: -1}, nil), nil
	case err != nil:
		return s.finish(types.MappingChunk{SourceBatch: -1}, err), nil
	}
	return s.process(ctx, b), nil
}

// bind derives a context that ends with either the caller's ctx or the
// session's own lifetime.
func (s *Session) bind(ctx context.Context) (context.Context, func()) {
	c, cancel := context.WithCancelCause(s.ctx)
	stop := context.AfterFunc(ctx, func() { cancel(context.Cause(ctx)) })
	return c, func() {
		stop()
		cancel(nil)
	}
}

func (s *Session) process(ctx context.Context, b types.Batch) types.MappingChunk {
	s.batchesN++
	var delta []types.MappingWarning

	if b.Err != nil && !b.IsLast {
		delta = append(delta, types.MappingWarning{
			Kind:    types.WarnExtraction,
			Message: fmt.Sprintf("batch %d: %v", b.Index, b.Err),
			Batch:   b.Index,
		})
	}

	if len(b.Columns) > 0 {
		s.stage = types.StageMatching
		s.observe(b, s.matcher, s.inferencer)

		if cands := s.candidates(s.escalateAt); s.smart && len(cands) > 0 {
			if ctx.Err() != nil {
				return s.cancelled(context.Cause(ctx))
			}
			s.stage = types.StageAIEscalating
			ws, err := s.escalate(ctx, b.Index, cands)
			if err != nil {
				return s.cancelled(err)
			}
			delta = append(delta, ws...)
		}
		delta = append(delta, s.typeWarnings(b.Index, s.inferencer.SampleSize(), false)...)
	}

	s.stage = types.StageEmitting
	c := types.MappingChunk{
		SourceBatch: b.Index,
		Records:     s.mapRows(b.Rows),
		Text:        b.Text,
		Warnings:    s.addWarnings(delta),
	}
	s.logger.Debug("mapping.batch",
		"batch", b.Index,
		"rows", len(b.Rows),
		"records", len(c.Records),
		"matches", len(s.committed),
		"warnings", len(delta),
	)

	if b.IsLast {
		if b.Err != nil && ctx.Err() != nil {
			return s.cancelled(context.Cause(ctx))
		}
		return s.finish(c, b.Err)
	}
	c.IsSuccess = true
	return s.emit(c)
}

// escalate asks the provider about the candidate targets and merges its
// answer. Provider failures become warnings; only cancellation is
// returned as an error.
func (s *Session) escalate(ctx context.Context, batch int, cands []string) ([]types.MappingWarning, error) {
	req := s.escalationRequest(cands)
	s.markEscalated(cands)
	if len(req.Sources) == 0 {
		return nil, nil
	}

	s.logger.Info("mapping.escalate",
		"batch", batch,
		"provider", s.providerName,
		"targets", cands,
		"sources", len(req.Sources),
	)
	sug, err := s.escalator.Map(ctx, s.providerName, req, s.budget)
	if sug.Usage.Calls > 0 {
		u := s.usage[s.providerName]
		u.Add(sug.Usage)
		s.usage[s.providerName] = u
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, context.Cause(ctx)
		}
		s.logger.Warn("mapping.escalate.failed", "batch", batch, "provider", s.providerName, "error", err)
		return []types.MappingWarning{{
			Kind:    types.WarnProvider,
			Message: fmt.Sprintf("AI escalation skipped, similarity matches kept: %v", err),
			Batch:   batch,
		}}, nil
	}

	var ws []types.MappingWarning
	for _, w := range sug.Warnings {
		w.Batch = batch
		ws = append(ws, w)
	}
	return append(ws, s.merge(sug.Matches, batch, s.matcher, s.escalateAt)...), nil
}

func (s *Session) addWarnings(ws []types.MappingWarning) []types.MappingWarning {
	s.warnings = append(s.warnings, ws...)
	return ws
}

// emit stamps the running snapshots onto c and counts it.
func (s *Session) emit(c types.MappingChunk) types.MappingChunk {
	c.SessionID = s.id
	c.Index = s.chunks
	if c.Stage == "" {
		c.Stage = s.stage
	}
	c.Fields = s.typedFields()
	c.Matches = s.committedMatches()
	c.Confidence = s.confidence()

	s.chunks++
	s.records += len(c.Records)
	s.publish()
	return c
}

func (s *Session) cancelled(cause error) types.MappingChunk {
	if cause == nil {
		cause = context.Canceled
	}
	return s.end(types.MappingChunk{SourceBatch: -1, Cancelled: true}, cause, types.StatusCancelled)
}

// finish ends the session after the source is exhausted or failed. The
// closing warnings are attached to the terminal chunk.
func (s *Session) finish(c types.MappingChunk, err error) types.MappingChunk {
	c.Warnings = append(c.Warnings, s.addWarnings(s.typeWarnings(-1, 0, true))...)
	c.Warnings = append(c.Warnings, s.addWarnings(s.closingWarnings())...)
	status := types.StatusCompleted
	if err != nil {
		status = types.StatusFailed
	}
	return s.end(c, err, status)
}

func (s *Session) end(c types.MappingChunk, err error, status types.SessionStatus) types.MappingChunk {
	c.IsLastChunk = true
	c.IsSuccess = err == nil
	if err != nil {
		c.ErrorMessage = err.Error()
		s.stage = types.StageFailed
	} else {
		s.stage = types.StageCompleted
	}
	c.Stage = s.stage
	c = s.emit(c)

	res := types.MappingResult{
		SessionID:    s.id,
		Document:     s.doc,
		Schema:       s.schema.Name,
		Matches:      c.Matches,
		Fields:       c.Fields,
		Confidence:   c.Confidence,
		Warnings:     s.warnings,
		Chunks:       s.chunks,
		Records:      s.records,
		Status:       status,
		IsSuccess:    c.IsSuccess,
		ErrorMessage: c.ErrorMessage,
		StartedAt:    s.started,
		FinishedAt:   time.Now(),
	}
	if len(s.usage) > 0 {
		res.Usage = s.usage
	}
	s.result = &res
	s.done = true
	s.release()

	s.logger.Info("mapping.session.end",
		"status", status,
		"chunks", s.chunks,
		"records", s.records,
		"aggregate", res.Confidence.Aggregate,
		"level", res.Confidence.Level,
		"warnings", len(s.warnings),
		"elapsed_ms", res.FinishedAt.Sub(s.started).Milliseconds(),
		"error", c.ErrorMessage,
	)
	return c
}

// Close releases the session. Closing before the terminal chunk abandons
// the stream; Next then returns ErrSessionClosed.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if !s.done {
		s.logger.Info("mapping.session.closed", "chunks", s.chunks, "stage", s.stage)
		s.release()
	}
	return nil
}

func (s *Session) release() {
	s.cancel()
	if c, ok := s.batches.(io.Closer); ok {
		_ = c.Close()
	}
	s.src.Close()
	if !s.progressClosed {
		s.progressClosed = true
		close(s.progress)
	}
}
