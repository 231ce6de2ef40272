// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package infer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/M0hamedSayed/MSMapper/pkg/types"
)

func TestInfer_AgeWithNullMarker(t *testing.T) {
	in := New(types.InferConfig{SampleSize: 10})
	res := in.Infer([]string{"23", "45", "n/a", "31"})

	assert.Equal(t, types.TypeInteger, res.Type)
	assert.Equal(t, 4, res.NonEmpty)
	assert.Equal(t, 3, res.Parsed)
	assert.InDelta(t, 0.75, res.Confidence, 1e-9)
}

func TestInfer_Precedence(t *testing.T) {
	tests := []struct {
		name    string
		samples []string
		want    types.FieldType
		conf    float64
	}{
		{"integers", []string{"1", "-2", "+30", "1,234"}, types.TypeInteger, 1},
		{"integers widen to decimal", []string{"1", "2.5", "3"}, types.TypeDecimal, 1},
		{"scientific", []string{"1e3", "2.5E-2"}, types.TypeDecimal, 1},
		{"booleans", []string{"true", "No", "Y", "f"}, types.TypeBoolean, 1},
		{"zero and one stay integer", []string{"0", "1", "1"}, types.TypeInteger, 1},
		{"iso dates", []string{"2024-01-31", "2024-02-01T10:00:00Z"}, types.TypeDateTime, 1},
		{"named dates", []string{"Jan 2, 2024", "3 March 2024"}, types.TypeDateTime, 1},
		{"mixed falls back to string", []string{"12", "abc"}, types.TypeString, 1},
		{"nan is not decimal", []string{"NaN"}, types.TypeString, 1},
	}
	in := New(types.InferConfig{})
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res := in.Infer(tc.samples)
			assert.Equal(t, tc.want, res.Type)
			assert.InDelta(t, tc.conf, res.Confidence, 1e-9)
		})
	}
}

func TestInfer_NoUsableSamples(t *testing.T) {
	in := New(types.InferConfig{})
	for _, samples := range [][]string{nil, {"", "   "}, {"null", "-", "N/A"}} {
		res := in.Infer(samples)
		assert.Equal(t, types.TypeString, res.Type)
		assert.Zero(t, res.Confidence)
	}
}

func TestInfer_WhitespaceIgnoredNullsCounted(t *testing.T) {
	res := New(types.InferConfig{}).Infer([]string{"1", " ", "", "none", "2"})
	assert.Equal(t, types.TypeInteger, res.Type)
	assert.Equal(t, 3, res.NonEmpty)
	assert.InDelta(t, 2.0/3.0, res.Confidence, 1e-9)
}

func TestInfer_AmbiguousDatesArePenalised(t *testing.T) {
	in := New(types.InferConfig{})

	res := in.Infer([]string{"03/04/2024", "13/04/2024", "05/06/2024"})
	assert.Equal(t, types.TypeDateTime, res.Type)
	assert.Equal(t, 2, res.Ambiguous)
	assert.InDelta(t, 0.8, res.Confidence, 1e-9)

	res = in.Infer([]string{"04/04/2024", "2024-01-01"})
	assert.Zero(t, res.Ambiguous, "same date under both readings is not ambiguous")
	assert.InDelta(t, 1.0, res.Confidence, 1e-9)
}

func TestInfer_SampleSizeCapsValues(t *testing.T) {
	in := New(types.InferConfig{SampleSize: 3})
	res := in.Infer([]string{"1", "2", "3", "four", "five"})
	assert.Equal(t, types.TypeInteger, res.Type)
	assert.Equal(t, 3, res.NonEmpty)
	assert.Equal(t, 3, in.SampleSize())
}

func TestInfer_DefaultSampleSize(t *testing.T) {
	assert.Equal(t, types.DefaultSampleSize, New(types.InferConfig{}).SampleSize())
}

func TestCoerce(t *testing.T) {
	tests := []struct {
		in     string
		typ    types.FieldType
		want   string
		wantOK bool
	}{
		{" 1,234 ", types.TypeInteger, "1234", true},
		{"12.50", types.TypeDecimal, "12.5", true},
		{"7", types.TypeDecimal, "7", true},
		{"Yes", types.TypeBoolean, "true", true},
		{"31/01/2024", types.TypeDateTime, "2024-01-31", true},
		{"2024-02-01T10:00:00Z", types.TypeDateTime, "2024-02-01T10:00:00Z", true},
		{"n/a", types.TypeInteger, "", true},
		{"abc", types.TypeInteger, "abc", false},
		{"  hello ", types.TypeString, "hello", true},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, ok := Coerce(tc.in, tc.typ)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.wantOK, ok)
		})
	}
}

func TestCheck_TypeCompatibility(t *testing.T) {
	intResult := Result{Type: types.TypeInteger, Confidence: 1, Parsed: 3, NonEmpty: 3}
	strResult := Result{Type: types.TypeString, Confidence: 1, Parsed: 2, NonEmpty: 2}

	_, mismatch := Check("age", intResult, types.FieldSpec{Name: "Age", Type: types.TypeDecimal})
	assert.False(t, mismatch, "integers fit decimal")

	_, mismatch = Check("age", intResult, types.FieldSpec{Name: "Age", Type: types.TypeString})
	assert.False(t, mismatch, "anything fits string")

	w, mismatch := Check("name", strResult, types.FieldSpec{Name: "Age", Type: types.TypeInteger})
	require.True(t, mismatch)
	assert.Equal(t, types.WarnTypeMismatch, w.Kind)
	assert.Equal(t, "Age", w.Field)

	_, mismatch = Check("x", Result{Type: types.TypeString}, types.FieldSpec{Name: "X", Type: types.TypeInteger})
	assert.False(t, mismatch, "no evidence, no warning")
}

func TestIsNull(t *testing.T) {
	for _, v := range []string{"", " ", "N/A", "null", "NONE", "-", "?", "nil", "na"} {
		assert.True(t, IsNull(v), v)
	}
	for _, v := range []string{"0", "no", "n", "false"} {
		assert.False(t, IsNull(v), v)
	}
}
