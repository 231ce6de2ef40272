// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package match proposes source-to-target field assignments from name
// similarity alone. It is deterministic and has no side effects: the same
// name sets produce the same assignment regardless of input order.
package match

import (
	"fmt"
	"sort"

	"github.com/M0hamedSayed/MSMapper/pkg/types"
)

// epsilon absorbs floating point noise when comparing a score with the
// threshold, so a score that equals the threshold is accepted.
const epsilon = 1e-9

// Matcher assigns source fields to target fields greedily by score.
type Matcher struct {
	threshold float64
}

// New creates a Matcher. The threshold is on a 0-100 scale; zero takes the
// default.
func New(cfg types.MatchConfig) *Matcher {
	c := types.Config{Match: cfg}
	c.ApplyDefaults()
	return &Matcher{threshold: c.Match.FuzzyMatchThreshold / 100}
}

// Threshold returns the acceptance threshold in [0,1].
func (m *Matcher) Threshold() float64 { return m.threshold }

// Accepts reports whether a score reaches the threshold.
func (m *Matcher) Accepts(score float64) bool {
	return score+epsilon >= m.threshold
}

// Candidate is one scored source/target pair.
type Candidate struct {
	Source    string
	Target    string
	Score     float64
	Kind      types.MatchKind
	Algorithm string
}

func (c Candidate) propertyMatch() types.PropertyMatch {
	return types.PropertyMatch{
		SourceField: c.Source,
		TargetField: c.Target,
		Score:       c.Score,
		Kind:        c.Kind,
		Algorithm:   c.Algorithm,
	}
}

// CandidateList orders candidates by score descending, then source name,
// then target name.
type CandidateList []Candidate

func (c CandidateList) Len() int      { return len(c) }
func (c CandidateList) Swap(i, j int) { c[i], c[j] = c[j], c[i] }
func (c CandidateList) Less(i, j int) bool {
	if c[i].Score != c[j].Score {
		return c[i].Score > c[j].Score
	}
	if c[i].Source != c[j].Source {
		return c[i].Source < c[j].Source
	}
	return c[i].Target < c[j].Target
}

// Result is the outcome of one Match call.
type Result struct {
	// Matches are the committed assignments in target order.
	Matches []types.PropertyMatch

	// Hints holds, for each unmatched target, the best sub-threshold
	// candidate among unassigned sources. Hints are never committed.
	Hints []types.PropertyMatch

	// UnmatchedTargets lists targets without an accepted source, in target order.
	UnmatchedTargets []string

	// UnmatchedSources lists sources left unassigned, in source order.
	UnmatchedSources []string

	// Warnings holds exactly one unmatched_target warning per unmatched target.
	Warnings []types.MappingWarning
}

// Match assigns sources to targets. Each source and each target is used at
// most once; pairs scoring at least the threshold are accepted highest
// first.
func (m *Matcher) Match(sources, targets []string) Result {
	sources = dedupe(sources)
	targets = dedupe(targets)

	all := make(CandidateList, 0, len(sources)*len(targets))
	for _, s := range sources {
		for _, t := range targets {
			score, kind, algo := Score(s, t)
			all = append(all, Candidate{Source: s, Target: t, Score: score, Kind: kind, Algorithm: algo})
		}
	}
	sort.Sort(all)

	usedSource := make(map[string]bool, len(sources))
	assigned := make(map[string]Candidate, len(targets))
	for _, c := range all {
		if !m.Accepts(c.Score) {
			break
		}
		if usedSource[c.Source] {
			continue
		}
		if _, ok := assigned[c.Target]; ok {
			continue
		}
		usedSource[c.Source] = true
		assigned[c.Target] = c
	}

	var res Result
	for _, t := range targets {
		if c, ok := assigned[t]; ok {
			res.Matches = append(res.Matches, c.propertyMatch())
			continue
		}
		res.UnmatchedTargets = append(res.UnmatchedTargets, t)

		hint, found := bestFree(all, t, usedSource)
		w := types.MappingWarning{
			Field:   t,
			Kind:    types.WarnUnmatchedTarget,
			Message: fmt.Sprintf("no source field matched target %q", t),
			Batch:   -1,
		}
		if found {
			res.Hints = append(res.Hints, hint.propertyMatch())
			w.Confidence = hint.Score
			w.Message = fmt.Sprintf("no source field matched target %q (best candidate %q scored %.2f)", t, hint.Source, hint.Score)
		}
		res.Warnings = append(res.Warnings, w)
	}
	for _, s := range sources {
		if !usedSource[s] {
			res.UnmatchedSources = append(res.UnmatchedSources, s)
		}
	}
	return res
}

// bestFree returns the highest-ranked candidate for target whose source is
// still unassigned. all must already be sorted.
func bestFree(all CandidateList, target string, used map[string]bool) (Candidate, bool) {
	for _, c := range all {
		if c.Target == target && !used[c.Source] && c.Score > 0 {
			return c, true
		}
	}
	return Candidate{}, false
}

func dedupe(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}
