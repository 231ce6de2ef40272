// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package schema

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/M0hamedSayed/MSMapper/pkg/types"
)

const employeeYAML = `name: employee
fields:
  - name: Id
    type: int
    required: true
  - name: FullName
    type: text
    required: true
    description: person's full name
  - name: Salary
    type: number
  - name: HiredOn
    type: date
`

func TestLoad_YAML(t *testing.T) {
	s, err := Load(strings.NewReader(employeeYAML), false)
	require.NoError(t, err)

	assert.Equal(t, "employee", s.Name)
	assert.Equal(t, []string{"Id", "FullName", "Salary", "HiredOn"}, s.FieldNames())
	assert.Equal(t, types.FieldSpec{Name: "Id", Type: types.TypeInteger, Required: true}, s.Fields[0])
	assert.Equal(t, "person's full name", s.Fields[1].Description)
	assert.Equal(t, types.TypeDecimal, s.Fields[2].Type)
	assert.Equal(t, types.TypeDateTime, s.Fields[3].Type)
}

func TestLoad_JSON(t *testing.T) {
	in := `{"name":"invoice","fields":[{"name":"total","type":"decimal","required":true},{"name":"paid","type":"bool"}]}`
	s, err := Load(strings.NewReader(in), true)
	require.NoError(t, err)
	assert.Equal(t, []types.FieldSpec{
		{Name: "total", Type: types.TypeDecimal, Required: true},
		{Name: "paid", Type: types.TypeBoolean},
	}, s.Fields)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		asJSON  bool
		wantMsg string
	}{
		{name: "not yaml", in: "fields: [", wantMsg: "decoding"},
		{name: "unknown key", in: "name: x\nfeilds: []\n", wantMsg: "decoding"},
		{name: "unknown json key", in: `{"name":"x","colour":"red"}`, asJSON: true, wantMsg: "decoding"},
		{name: "no fields", in: "name: x\nfields: []\n", wantMsg: "no fields"},
		{name: "unknown type", in: "fields:\n  - name: a\n    type: money\n", wantMsg: "money"},
		{name: "blank name", in: "fields:\n  - name: ' '\n", wantMsg: "no name"},
		{name: "punctuation only", in: "fields:\n  - name: '--'\n", wantMsg: "no letters"},
		{name: "normalised collision", in: "fields:\n  - name: full_name\n  - name: FullName\n", wantMsg: "collide"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(strings.NewReader(tt.in), tt.asJSON)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidSchema)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestValidate_ReportsAllProblems(t *testing.T) {
	err := Validate(types.TargetSchema{Fields: []types.FieldSpec{
		{Name: "", Type: types.TypeString},
		{Name: "a", Type: "money"},
		{Name: "b_c", Type: types.TypeString},
		{Name: "BC", Type: types.TypeString},
	}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "field 0 has no name")
	assert.Contains(t, err.Error(), `"money"`)
	assert.Contains(t, err.Error(), "collide")
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "people.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte("fields:\n  - name: email\n"), 0o644))
	s, err := LoadFile(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, "people", s.Name, "name defaults to the file stem")
	assert.Equal(t, types.TypeString, s.Fields[0].Type)

	jsonPath := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"fields":[]}`), 0o644))
	_, err = LoadFile(jsonPath)
	assert.ErrorIs(t, err, ErrInvalidSchema)
	assert.Contains(t, err.Error(), jsonPath)

	_, err = LoadFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
