// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package mapping

import (
	"fmt"
	"sort"
	"strings"

	"github.com/M0hamedSayed/MSMapper/internal/infer"
	"github.com/M0hamedSayed/MSMapper/internal/match"
	"github.com/M0hamedSayed/MSMapper/internal/provider"
	"github.com/M0hamedSayed/MSMapper/pkg/types"
)

// promptSamples is the number of sample values per source field shown to
// a provider.
const promptSamples = 3

const epsilon = 1e-9

// state is the mapping decision state of one session: the source field
// set, committed matches, and type samples. It keeps the committed
// assignment injective.
type state struct {
	target types.TargetSchema

	sources  []string
	known    map[string]bool
	samples  map[string][]string
	inferred map[string]infer.Result

	committed map[string]types.PropertyMatch // by target
	bySource  map[string]string              // source -> target
	hints     map[string]types.PropertyMatch // best sub-threshold candidate by target
	unmatched map[string]types.MappingWarning
	escalated map[string]bool
	checked   map[string]bool
}

func newState(target types.TargetSchema) state {
	return state{
		target:    target,
		known:     make(map[string]bool),
		samples:   make(map[string][]string),
		inferred:  make(map[string]infer.Result),
		committed: make(map[string]types.PropertyMatch),
		bySource:  make(map[string]string),
		hints:     make(map[string]types.PropertyMatch),
		unmatched: make(map[string]types.MappingWarning),
		escalated: make(map[string]bool),
		checked:   make(map[string]bool),
	}
}

// observe folds a batch into the state: new columns join the source set
// and are matched against still-unmapped targets, and type samples grow
// until the inferencer's sample size.
func (st *state) observe(b types.Batch, m *match.Matcher, in *infer.Inferencer) {
	var fresh bool
	for _, c := range b.Columns {
		if st.known[c] {
			continue
		}
		st.known[c] = true
		st.sources = append(st.sources, c)
		st.inferred[c] = in.Infer(nil)
		fresh = true
	}

	for _, src := range st.sources {
		have := st.samples[src]
		if len(have) >= in.SampleSize() {
			continue
		}
		added := false
		for _, row := range b.Rows {
			v, ok := row[src]
			if !ok || strings.TrimSpace(v) == "" {
				continue
			}
			have = append(have, v)
			added = true
			if len(have) >= in.SampleSize() {
				break
			}
		}
		if added {
			st.samples[src] = have
			st.inferred[src] = in.Infer(have)
		}
	}

	if fresh {
		st.rematch(m)
	}
}

// rematch runs the matcher over unassigned sources and unmapped targets.
// Committed matches are never revisited.
func (st *state) rematch(m *match.Matcher) {
	var free, open []string
	for _, s := range st.sources {
		if _, ok := st.bySource[s]; !ok {
			free = append(free, s)
		}
	}
	for _, f := range st.target.Fields {
		if _, ok := st.committed[f.Name]; !ok {
			open = append(open, f.Name)
		}
	}
	if len(free) == 0 || len(open) == 0 {
		return
	}

	res := m.Match(free, open)
	for _, pm := range res.Matches {
		st.commit(pm)
	}
	for _, h := range res.Hints {
		st.hints[h.TargetField] = h
	}
	for _, w := range res.Warnings {
		st.unmatched[w.Field] = w
	}
}

func (st *state) commit(pm types.PropertyMatch) {
	st.committed[pm.TargetField] = pm
	st.bySource[pm.SourceField] = pm.TargetField
	delete(st.hints, pm.TargetField)
	delete(st.unmatched, pm.TargetField)
}

func (st *state) uncommit(target string) {
	if pm, ok := st.committed[target]; ok {
		delete(st.bySource, pm.SourceField)
		delete(st.committed, target)
	}
}

// replaceable reports whether an AI suggestion may take over a committed
// match: only fuzzy matches below the escalation threshold qualify.
func replaceable(pm types.PropertyMatch, escalateAt float64) bool {
	return pm.Kind == types.MatchFuzzy && pm.Score+epsilon < escalateAt
}

// candidates lists, in schema order, targets not yet escalated that are
// unmapped or held by a replaceable match.
func (st *state) candidates(escalateAt float64) []string {
	var out []string
	for _, f := range st.target.Fields {
		if st.escalated[f.Name] {
			continue
		}
		pm, ok := st.committed[f.Name]
		if !ok || replaceable(pm, escalateAt) {
			out = append(out, f.Name)
		}
	}
	return out
}

func (st *state) markEscalated(targets []string) {
	for _, t := range targets {
		st.escalated[t] = true
	}
}

// escalationRequest offers the provider every source that is free or held
// by one of the candidate targets.
func (st *state) escalationRequest(cands []string) provider.MapRequest {
	open := make(map[string]bool, len(cands))
	for _, t := range cands {
		open[t] = true
	}
	req := provider.MapRequest{Schema: st.target, Targets: cands}
	for _, src := range st.sources {
		if t, ok := st.bySource[src]; ok && !open[t] {
			continue
		}
		samples := st.samples[src]
		if len(samples) > promptSamples {
			samples = samples[:promptSamples]
		}
		req.Sources = append(req.Sources, provider.SourceField{Name: src, Samples: samples})
	}
	return req
}

// merge applies AI suggestions. They fill unmapped targets and replace
// fuzzy matches below the escalation threshold; any other committed match
// they collide with is kept. Suggestions below the acceptance threshold
// are rejected.
func (st *state) merge(suggested []types.PropertyMatch, batch int, m *match.Matcher, escalateAt float64) []types.MappingWarning {
	ordered := append([]types.PropertyMatch(nil), suggested...)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Score != ordered[j].Score {
			return ordered[i].Score > ordered[j].Score
		}
		return ordered[i].TargetField < ordered[j].TargetField
	})

	var ws []types.MappingWarning
	reject := func(pm types.PropertyMatch, format string, args ...any) {
		ws = append(ws, types.MappingWarning{
			Field:      pm.TargetField,
			Kind:       types.WarnAIRejected,
			Message:    fmt.Sprintf("%s -> %s: ", pm.SourceField, pm.TargetField) + fmt.Sprintf(format, args...),
			Confidence: pm.Score,
			Batch:      batch,
		})
	}

	for _, pm := range ordered {
		if !m.Accepts(pm.Score) {
			reject(pm, "confidence %.2f is below the acceptance threshold %.2f", pm.Score, m.Threshold())
			continue
		}
		if cur, ok := st.committed[pm.TargetField]; ok && !replaceable(cur, escalateAt) {
			reject(pm, "target already mapped from %q (%s %.2f)", cur.SourceField, cur.Kind, cur.Score)
			continue
		}
		if other, ok := st.bySource[pm.SourceField]; ok && other != pm.TargetField {
			if !replaceable(st.committed[other], escalateAt) {
				reject(pm, "source already mapped to %q", other)
				continue
			}
			st.uncommit(other)
		}
		st.uncommit(pm.TargetField)
		st.commit(pm)
	}
	return ws
}

// typeWarnings checks committed pairs whose source type is settled: the
// sample is full, or final is set. Each pair and each source is checked
// once.
func (st *state) typeWarnings(batch, sampleSize int, final bool) []types.MappingWarning {
	var ws []types.MappingWarning
	for _, f := range st.target.Fields {
		pm, ok := st.committed[f.Name]
		if !ok {
			continue
		}
		src := pm.SourceField
		if !final && len(st.samples[src]) < sampleSize {
			continue
		}
		res := st.inferred[src]

		if key := src + "\x00" + f.Name; !st.checked[key] {
			st.checked[key] = true
			if w, bad := infer.Check(src, res, f); bad {
				w.Batch = batch
				ws = append(ws, w)
			}
		}
		if key := src; !st.checked[key] {
			st.checked[key] = true
			if res.Ambiguous > 0 {
				ws = append(ws, types.MappingWarning{
					Field:      f.Name,
					Kind:       types.WarnTypeInference,
					Message:    fmt.Sprintf("%d sampled values of %q read differently day-first and month-first", res.Ambiguous, src),
					Confidence: res.Confidence,
					Batch:      batch,
				})
			}
		}
	}
	return ws
}

// closingWarnings reports targets and sources left unmapped at the end of
// the session, one warning each.
func (st *state) closingWarnings() []types.MappingWarning {
	var ws []types.MappingWarning
	for _, f := range st.target.Fields {
		if _, ok := st.committed[f.Name]; ok {
			continue
		}
		w, ok := st.unmatched[f.Name]
		if !ok {
			w = types.MappingWarning{
				Field:   f.Name,
				Kind:    types.WarnUnmatchedTarget,
				Message: fmt.Sprintf("no source field matched target %q", f.Name),
			}
		}
		if h, ok := st.hints[f.Name]; !ok || st.bySource[h.SourceField] != "" {
			w.Confidence = 0
			w.Message = fmt.Sprintf("no source field matched target %q", f.Name)
		}
		if f.Required {
			w.Message += " (required)"
		}
		w.Batch = -1
		ws = append(ws, w)
	}
	for _, src := range st.sources {
		if _, ok := st.bySource[src]; ok {
			continue
		}
		ws = append(ws, types.MappingWarning{
			Field:   src,
			Kind:    types.WarnUnmatchedSource,
			Message: fmt.Sprintf("source field %q is not mapped", src),
			Batch:   -1,
		})
	}
	return ws
}

// mapRows projects source rows onto target fields, coercing values to
// the inferred source type. Rows with no mapped column are dropped.
func (st *state) mapRows(rows []map[string]string) []map[string]string {
	if len(st.committed) == 0 {
		return nil
	}
	var out []map[string]string
	for _, row := range rows {
		rec := make(map[string]string, len(st.committed))
		for target, pm := range st.committed {
			v, ok := row[pm.SourceField]
			if !ok {
				continue
			}
			cv, _ := infer.Coerce(v, st.inferred[pm.SourceField].Type)
			rec[target] = cv
		}
		if len(rec) > 0 {
			out = append(out, rec)
		}
	}
	return out
}

func (st *state) typedFields() []types.TypedField {
	out := make([]types.TypedField, 0, len(st.sources))
	for _, src := range st.sources {
		res := st.inferred[src]
		out = append(out, types.TypedField{
			Source:     src,
			Target:     st.bySource[src],
			Type:       res.Type,
			Confidence: res.Confidence,
			Samples:    len(st.samples[src]),
		})
	}
	return out
}

// committedMatches returns the committed matches in schema order.
func (st *state) committedMatches() []types.PropertyMatch {
	var out []types.PropertyMatch
	for _, f := range st.target.Fields {
		if pm, ok := st.committed[f.Name]; ok {
			out = append(out, pm)
		}
	}
	return out
}

// confidence is the mean of committed scores with required fields
// weighted twice.
func (st *state) confidence() types.Confidence {
	c := types.Confidence{Properties: make(map[string]float64, len(st.committed))}
	var sum, weight float64
	for _, f := range st.target.Fields {
		pm, ok := st.committed[f.Name]
		if !ok {
			continue
		}
		c.Properties[f.Name] = pm.Score
		w := 1.0
		if f.Required {
			w = 2
		}
		sum += w * pm.Score
		weight += w
	}
	if weight > 0 {
		c.Aggregate = sum / weight
	}
	c.Level = types.LevelFor(c.Aggregate)
	return c
}
