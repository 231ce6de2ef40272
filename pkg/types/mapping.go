// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// MatchKind records how a PropertyMatch was obtained.
type MatchKind string

const (
	MatchExact      MatchKind = "exact"
	MatchNormalized MatchKind = "normalized"
	MatchFuzzy      MatchKind = "fuzzy"
	MatchAIInferred MatchKind = "ai_inferred"
)

// Deterministic reports whether the kind came from string similarity rather
// than a provider suggestion.
func (k MatchKind) Deterministic() bool {
	return k != MatchAIInferred
}

// PropertyMatch is one proposed or committed source-to-target assignment.
type PropertyMatch struct {
	SourceField string    `json:"source_field" yaml:"source_field"`
	TargetField string    `json:"target_field" yaml:"target_field"`
	Score       float64   `json:"score" yaml:"score"`
	Kind        MatchKind `json:"kind" yaml:"kind"`

	// Algorithm tags the scoring tier or provider that produced the score
	// (e.g. "normalized-equality", "containment", "levenshtein", "ai:openai").
	Algorithm string `json:"algorithm" yaml:"algorithm"`

	// Reason is an optional provider explanation for AI-inferred matches.
	Reason string `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// ConfidenceLevel is the discretized form of an aggregate confidence.
type ConfidenceLevel string

const (
	LevelLow    ConfidenceLevel = "low"
	LevelMedium ConfidenceLevel = "medium"
	LevelHigh   ConfidenceLevel = "high"
)

// LevelFor discretizes a score: Low below 0.6, High above 0.85, Medium
// in between (both bounds inclusive).
func LevelFor(score float64) ConfidenceLevel {
	switch {
	case score < 0.6:
		return LevelLow
	case score > 0.85:
		return LevelHigh
	default:
		return LevelMedium
	}
}

// Confidence holds per-property scores and their weighted aggregate.
type Confidence struct {
	// Properties maps target field name to committed score.
	Properties map[string]float64 `json:"properties" yaml:"properties"`

	// Aggregate is the mean of committed scores, required fields weighted 2x.
	Aggregate float64 `json:"aggregate" yaml:"aggregate"`

	Level ConfidenceLevel `json:"level" yaml:"level"`
}

// WarningKind classifies a MappingWarning.
type WarningKind string

const (
	WarnExtraction      WarningKind = "extraction"
	WarnUnmatchedTarget WarningKind = "unmatched_target"
	WarnUnmatchedSource WarningKind = "unmatched_source"
	WarnTypeMismatch    WarningKind = "type_mismatch"
	WarnTypeInference   WarningKind = "type_inference"
	WarnProvider        WarningKind = "provider"
	WarnAIRejected      WarningKind = "ai_rejected"
)

// MappingWarning is a non-fatal observation accumulated during a session.
type MappingWarning struct {
	Field      string      `json:"field,omitempty" yaml:"field,omitempty"`
	Message    string      `json:"message" yaml:"message"`
	Kind       WarningKind `json:"kind" yaml:"kind"`
	Confidence float64     `json:"confidence" yaml:"confidence"`

	// Batch is the source batch index the warning refers to, or -1 when it
	// concerns the session as a whole.
	Batch int `json:"batch" yaml:"batch"`
}

// TypedField describes one source field after type inference.
type TypedField struct {
	Source     string    `json:"source" yaml:"source"`
	Target     string    `json:"target,omitempty" yaml:"target,omitempty"`
	Type       FieldType `json:"type" yaml:"type"`
	Confidence float64   `json:"confidence" yaml:"confidence"`
	Samples    int       `json:"samples" yaml:"samples"`
}

// Stage is the orchestrator state a chunk or progress event was produced in.
type Stage string

const (
	StageIdle         Stage = "idle"
	StageExtracting   Stage = "extracting"
	StageMatching     Stage = "matching"
	StageAIEscalating Stage = "ai_escalating"
	StageEmitting     Stage = "emitting"
	StageCompleted    Stage = "completed"
	StageFailed       Stage = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s Stage) Terminal() bool {
	return s == StageCompleted || s == StageFailed
}

// SessionStatus is the final outcome of a mapping session.
type SessionStatus string

const (
	StatusCompleted SessionStatus = "completed"
	StatusFailed    SessionStatus = "failed"
	StatusCancelled SessionStatus = "cancelled"
)

// UsageDelta is the provider usage accrued by one session.
type UsageDelta struct {
	Calls        int     `json:"calls" yaml:"calls"`
	InputTokens  int     `json:"input_tokens" yaml:"input_tokens"`
	OutputTokens int     `json:"output_tokens" yaml:"output_tokens"`
	Cost         float64 `json:"cost" yaml:"cost"`
}

// Add accumulates another delta into u.
func (u *UsageDelta) Add(o UsageDelta) {
	u.Calls += o.Calls
	u.InputTokens += o.InputTokens
	u.OutputTokens += o.OutputTokens
	u.Cost += o.Cost
}

// MappingChunk is one element of the caller-facing stream. Exactly one
// chunk per session has IsLastChunk set.
type MappingChunk struct {
	SessionID string `json:"session_id" yaml:"session_id"`
	Index     int    `json:"index" yaml:"index"`

	// SourceBatch is the extractor batch this chunk was built from, or -1
	// for a synthesized terminal chunk.
	SourceBatch int   `json:"source_batch" yaml:"source_batch"`
	Stage       Stage `json:"stage" yaml:"stage"`

	// Records holds the mapped rows of this batch keyed by target field.
	Records []map[string]string `json:"records,omitempty" yaml:"records,omitempty"`

	// Text passes through free text extracted in this batch.
	Text string `json:"text,omitempty" yaml:"text,omitempty"`

	Fields     []TypedField     `json:"fields,omitempty" yaml:"fields,omitempty"`
	Matches    []PropertyMatch  `json:"matches,omitempty" yaml:"matches,omitempty"`
	Confidence Confidence       `json:"confidence" yaml:"confidence"`
	Warnings   []MappingWarning `json:"warnings,omitempty" yaml:"warnings,omitempty"`

	IsLastChunk  bool   `json:"is_last_chunk" yaml:"is_last_chunk"`
	IsSuccess    bool   `json:"is_success" yaml:"is_success"`
	ErrorMessage string `json:"error_message,omitempty" yaml:"error_message,omitempty"`
	Cancelled    bool   `json:"cancelled,omitempty" yaml:"cancelled,omitempty"`
}

// MappingResult is the finalized outcome of a session.
type MappingResult struct {
	SessionID string         `json:"session_id" yaml:"session_id"`
	Document  SourceDocument `json:"document" yaml:"document"`
	Schema    string         `json:"schema" yaml:"schema"`

	Matches    []PropertyMatch  `json:"matches" yaml:"matches"`
	Fields     []TypedField     `json:"fields" yaml:"fields"`
	Confidence Confidence       `json:"confidence" yaml:"confidence"`
	Warnings   []MappingWarning `json:"warnings" yaml:"warnings"`

	// Usage maps provider name to the usage this session accrued.
	Usage map[string]UsageDelta `json:"usage,omitempty" yaml:"usage,omitempty"`

	Chunks  int `json:"chunks" yaml:"chunks"`
	Records int `json:"records" yaml:"records"`

	Status       SessionStatus `json:"status" yaml:"status"`
	IsSuccess    bool          `json:"is_success" yaml:"is_success"`
	ErrorMessage string        `json:"error_message,omitempty" yaml:"error_message,omitempty"`

	StartedAt  time.Time `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time `json:"finished_at" yaml:"finished_at"`
}

// ProgressEvent is published at each batch boundary.
type ProgressEvent struct {
	SessionID          string        `json:"session_id"`
	Stage              Stage         `json:"stage"`
	Percent            float64       `json:"percent"`
	ItemsProcessed     int           `json:"items_processed"`
	TotalItemsEstimate int           `json:"total_items_estimate"`
	Elapsed            time.Duration `json:"elapsed"`
	EstimatedRemaining time.Duration `json:"estimated_remaining"`
}
