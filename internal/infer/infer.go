// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package infer classifies sampled field values into a FieldType with a
// confidence score and normalises values to a declared type.
package infer

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/M0hamedSayed/MSMapper/pkg/types"
)

// nullMarkers are non-empty values that stand for a missing value. They
// count toward the confidence denominator but are not type-tested.
var nullMarkers = map[string]bool{
	"n/a": true, "na": true, "null": true, "none": true, "nil": true, "-": true, "?": true,
}

// ambiguityPenalty is subtracted from the confidence per ambiguous value.
const ambiguityPenalty = 0.1

// Result is the inferred type of one field.
type Result struct {
	Type       types.FieldType
	Confidence float64

	// NonEmpty counts samples that are not blank, null markers included.
	NonEmpty int

	// Parsed counts samples that parse as Type.
	Parsed int

	// Ambiguous counts values with two distinct readings of equal
	// specificity, such as 03/04/2024.
	Ambiguous int
}

// Inferencer infers field types from up to SampleSize values.
type Inferencer struct {
	sampleSize int
}

// New creates an Inferencer. A zero SampleSize takes the default.
func New(cfg types.InferConfig) *Inferencer {
	c := types.Config{Infer: cfg}
	c.ApplyDefaults()
	return &Inferencer{sampleSize: c.Infer.SampleSize}
}

// SampleSize returns the number of values considered per field.
func (in *Inferencer) SampleSize() int { return in.sampleSize }

// Infer classifies samples. Whitespace-only values are ignored; the first
// SampleSize remaining values are used. The result is the most specific
// type every non-null value parses as.
func (in *Inferencer) Infer(samples []string) Result {
	var values []string
	for _, s := range samples {
		if len(values) >= in.sampleSize {
			break
		}
		if v := strings.TrimSpace(s); v != "" {
			values = append(values, v)
		}
	}

	res := Result{Type: types.TypeString, NonEmpty: len(values)}
	var testable []string
	for _, v := range values {
		if !IsNull(v) {
			testable = append(testable, v)
		}
	}
	if len(testable) == 0 {
		return res
	}

	for _, t := range types.FieldTypes {
		if allParse(testable, t) {
			res.Type = t
			break
		}
	}
	res.Parsed = len(testable)

	if res.Type == types.TypeDateTime {
		for _, v := range testable {
			if ambiguousDate(v) {
				res.Ambiguous++
			}
		}
	}

	conf := float64(res.Parsed)/float64(res.NonEmpty) - ambiguityPenalty*float64(res.Ambiguous)
	res.Confidence = math.Max(0, math.Min(1, conf))
	return res
}

// IsNull reports whether v is blank or a null marker.
func IsNull(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "" || nullMarkers[v]
}

func allParse(values []string, t types.FieldType) bool {
	for _, v := range values {
		if !Parses(v, t) {
			return false
		}
	}
	return true
}

var (
	integerPattern = regexp.MustCompile(`^[+-]?(\d+|\d{1,3}(,\d{3})+)$`)
	decimalPattern = regexp.MustCompile(`^[+-]?(\d+|\d{1,3}(,\d{3})+)?(\.\d+)?([eE][+-]?\d+)?$`)
)

var booleanValues = map[string]bool{
	"true": true, "false": false, "yes": true, "no": false,
	"y": true, "n": false, "t": true, "f": false,
}

// Parses reports whether a trimmed value is a valid literal of t.
func Parses(v string, t types.FieldType) bool {
	switch t {
	case types.TypeInteger:
		return integerPattern.MatchString(v)
	case types.TypeDecimal:
		return decimalPattern.MatchString(v) && strings.ContainsAny(v, "0123456789")
	case types.TypeBoolean:
		_, ok := booleanValues[strings.ToLower(v)]
		return ok
	case types.TypeDateTime:
		_, _, ok := parseTime(v)
		return ok
	case types.TypeString:
		return true
	}
	return false
}

// dateLayouts are tried in order. Layouts sharing a group are equally
// specific readings; a value matching two of them with different results
// is ambiguous.
var dateLayouts = []struct {
	layout  string
	group   string
	hasTime bool
}{
	{time.RFC3339Nano, "iso", true},
	{"2006-01-02T15:04:05", "iso", true},
	{"2006-01-02 15:04:05", "iso", true},
	{"2006-01-02 15:04", "iso", true},
	{"2006-01-02", "iso", false},
	{"2006/01/02", "iso", false},
	{"01/02/2006", "slash", false},
	{"02/01/2006", "slash", false},
	{"1/2/2006", "slash", false},
	{"2/1/2006", "slash", false},
	{"01-02-2006", "dash", false},
	{"02-01-2006", "dash", false},
	{"02.01.2006", "dot", false},
	{"Jan 2, 2006", "named", false},
	{"January 2, 2006", "named", false},
	{"2 Jan 2006", "named", false},
	{"2 January 2006", "named", false},
	{"02-Jan-2006", "named", false},
	{time.RFC1123Z, "rfc", true},
	{time.RFC1123, "rfc", true},
}

func parseTime(v string) (time.Time, bool, bool) {
	for _, l := range dateLayouts {
		if t, err := time.Parse(l.layout, v); err == nil {
			return t, l.hasTime, true
		}
	}
	return time.Time{}, false, false
}

// ambiguousDate reports whether v reads as two different dates under
// layouts of the same group (month-first vs day-first).
func ambiguousDate(v string) bool {
	var (
		first time.Time
		group string
		found bool
	)
	for _, l := range dateLayouts {
		t, err := time.Parse(l.layout, v)
		if err != nil {
			continue
		}
		if !found {
			first, group, found = t, l.group, true
			continue
		}
		if l.group == group && !t.Equal(first) {
			return true
		}
	}
	return false
}

// Coerce normalises v to type t. Null markers become empty. When v does
// not parse as t the trimmed value is returned with ok false.
func Coerce(v string, t types.FieldType) (string, bool) {
	v = strings.TrimSpace(v)
	if IsNull(v) {
		return "", true
	}
	switch t {
	case types.TypeInteger:
		if !integerPattern.MatchString(v) {
			return v, false
		}
		n, err := strconv.ParseInt(strings.ReplaceAll(v, ",", ""), 10, 64)
		if err != nil {
			return v, false
		}
		return strconv.FormatInt(n, 10), true
	case types.TypeDecimal:
		if !Parses(v, types.TypeDecimal) {
			return v, false
		}
		f, err := strconv.ParseFloat(strings.ReplaceAll(v, ",", ""), 64)
		if err != nil {
			return v, false
		}
		return strconv.FormatFloat(f, 'f', -1, 64), true
	case types.TypeBoolean:
		b, ok := booleanValues[strings.ToLower(v)]
		if !ok {
			return v, false
		}
		return strconv.FormatBool(b), true
	case types.TypeDateTime:
		ts, hasTime, ok := parseTime(v)
		if !ok {
			return v, false
		}
		if hasTime {
			return ts.Format(time.RFC3339), true
		}
		return ts.Format(time.DateOnly), true
	}
	return v, true
}

// Check compares an inferred result with the target's declared type and
// returns a type_mismatch warning when the values would not fit.
func Check(source string, res Result, target types.FieldSpec) (types.MappingWarning, bool) {
	if res.Parsed == 0 || target.Type == "" || target.Type.Accepts(res.Type) {
		return types.MappingWarning{}, false
	}
	return types.MappingWarning{
		Field:      target.Name,
		Kind:       types.WarnTypeMismatch,
		Message:    fmt.Sprintf("source %q looks like %s but target %q is declared %s", source, res.Type, target.Name, target.Type),
		Confidence: res.Confidence,
		Batch:      -1,
	}, true
}
