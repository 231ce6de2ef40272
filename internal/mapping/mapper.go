// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package mapping drives one document at a time through extraction,
// similarity matching, type inference, and optional AI escalation. A
// Session is pull-driven: each Next call does the work for one extracted
// batch and returns the resulting MappingChunk.
package mapping

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"

	"github.com/M0hamedSayed/MSMapper/internal/chunk"
	"github.com/M0hamedSayed/MSMapper/internal/extract"
	"github.com/M0hamedSayed/MSMapper/internal/infer"
	"github.com/M0hamedSayed/MSMapper/internal/match"
	"github.com/M0hamedSayed/MSMapper/internal/provider"
	"github.com/M0hamedSayed/MSMapper/internal/schema"
	"github.com/M0hamedSayed/MSMapper/pkg/types"
)

// ErrSessionClosed is returned by Next after Close.
var ErrSessionClosed = errors.New("mapping session closed")

// Escalator is the part of the provider gateway a session needs.
// *provider.Gateway implements it.
type Escalator interface {
	Has(name string) bool
	Map(ctx context.Context, name string, req provider.MapRequest, budget *provider.Budget) (provider.Suggestion, error)
}

// Option customises a Mapper.
type Option func(*Mapper)

// WithRegistry replaces the default extractor registry.
func WithRegistry(r *extract.Registry) Option { return func(m *Mapper) { m.registry = r } }

// WithEscalator sets the provider gateway used for smart mapping.
func WithEscalator(e Escalator) Option { return func(m *Mapper) { m.escalator = e } }

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option { return func(m *Mapper) { m.logger = l } }

// WithChunkOptions passes options to every session's chunk source.
func WithChunkOptions(opts ...chunk.Option) Option {
	return func(m *Mapper) { m.chunkOpts = append(m.chunkOpts, opts...) }
}

// Mapper opens mapping sessions. It holds no per-session state and is
// safe for concurrent use; sessions that share it share its gateway.
type Mapper struct {
	cfg       types.Config
	registry  *extract.Registry
	escalator Escalator
	logger    *slog.Logger
	chunkOpts []chunk.Option

	matcher    *match.Matcher
	inferencer *infer.Inferencer
}

// New creates a Mapper. Zero-valued settings in cfg take their defaults.
func New(cfg types.Config, opts ...Option) *Mapper {
	cfg.ApplyDefaults()
	m := &Mapper{
		cfg:        cfg,
		matcher:    match.New(cfg.Match),
		inferencer: infer.New(cfg.Infer),
	}
	for _, o := range opts {
		o(m)
	}
	if m.registry == nil {
		m.registry = extract.DefaultRegistry()
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	return m
}

// Config returns the effective configuration.
func (m *Mapper) Config() types.Config { return m.cfg }

// Open validates the target schema, selects an extractor for doc and
// starts reading r. ctx bounds the whole session together with the
// configured session timeout. A malformed schema, an unsupported format,
// or smart mapping without a usable provider fail here.
func (m *Mapper) Open(ctx context.Context, r io.Reader, doc types.SourceDocument, target types.TargetSchema) (*Session, error) {
	if err := schema.Validate(target); err != nil {
		return nil, err
	}
	smart := m.cfg.Mapping.SmartMapping
	if smart && (m.escalator == nil || !m.escalator.Has(m.cfg.Mapping.Provider)) {
		return nil, fmt.Errorf("smart mapping: provider %q is not configured", m.cfg.Mapping.Provider)
	}
	ex, err := m.registry.Select(doc)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	logger := m.logger.With("session", id)
	sctx, cancel := context.WithTimeout(ctx, m.cfg.Mapping.SessionTimeout)

	opts := append([]chunk.Option{chunk.WithLogger(logger)}, m.chunkOpts...)
	src := chunk.Open(r, doc, m.cfg.Chunk, opts...)
	batches, err := ex.Extract(sctx, src, doc, src.Config())
	if err != nil {
		cancel()
		src.Close()
		return nil, fmt.Errorf("starting %s extractor for %s: %w", ex.Name(), doc.Name, err)
	}

	s := newSession(m, id, doc, target, src, batches, sctx, cancel, logger)
	s.smart = smart
	logger.Info("mapping.session.start",
		"document", doc.Name,
		"media_type", doc.MediaType,
		"extractor", ex.Name(),
		"schema", target.Name,
		"smart", smart,
	)
	return s, nil
}

// Run opens a session and passes every chunk to emit until the terminal
// chunk. An error from emit stops the session and is returned.
func (m *Mapper) Run(ctx context.Context, r io.Reader, doc types.SourceDocument, target types.TargetSchema, emit func(types.MappingChunk) error) (types.MappingResult, error) {
	s, err := m.Open(ctx, r, doc, target)
	if err != nil {
		return types.MappingResult{}, err
	}
	defer s.Close()

	for {
		c, err := s.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return types.MappingResult{}, err
		}
		if emit != nil {
			if err := emit(c); err != nil {
				return types.MappingResult{}, err
			}
		}
	}
	res, _ := s.Result()
	return res, nil
}
