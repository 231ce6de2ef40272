// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package schema loads and validates target schemas.
package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/M0hamedSayed/MSMapper/internal/match"
	"github.com/M0hamedSayed/MSMapper/pkg/types"
)

// ErrInvalidSchema marks a schema that cannot drive a mapping session.
var ErrInvalidSchema = errors.New("invalid target schema")

// fileField mirrors FieldSpec with the type as free text so aliases such
// as "int" or "date" can be resolved.
type fileField struct {
	Name        string `json:"name" yaml:"name"`
	Type        string `json:"type" yaml:"type"`
	Required    bool   `json:"required" yaml:"required"`
	Description string `json:"description" yaml:"description"`
}

type fileSchema struct {
	Name   string      `json:"name" yaml:"name"`
	Fields []fileField `json:"fields" yaml:"fields"`
}

// LoadFile reads a schema from a .yaml, .yml or .json file. Other
// extensions are parsed as YAML, which also accepts JSON.
func LoadFile(path string) (types.TargetSchema, error) {
	f, err := os.Open(path)
	if err != nil {
		return types.TargetSchema{}, fmt.Errorf("opening schema: %w", err)
	}
	defer f.Close()

	s, err := Load(f, strings.EqualFold(filepath.Ext(path), ".json"))
	if err != nil {
		return types.TargetSchema{}, fmt.Errorf("%s: %w", path, err)
	}
	if s.Name == "" {
		s.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return s, nil
}

// Load decodes and validates a schema. asJSON selects the strict JSON
// decoder; otherwise the input is read as YAML.
func Load(r io.Reader, asJSON bool) (types.TargetSchema, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return types.TargetSchema{}, fmt.Errorf("reading schema: %w", err)
	}

	var fs fileSchema
	if asJSON {
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		err = dec.Decode(&fs)
	} else {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		err = dec.Decode(&fs)
	}
	if err != nil {
		return types.TargetSchema{}, fmt.Errorf("%w: decoding: %v", ErrInvalidSchema, err)
	}

	s := types.TargetSchema{Name: fs.Name}
	var errs []error
	for i, f := range fs.Fields {
		t, err := types.ParseFieldType(f.Type)
		if err != nil {
			errs = append(errs, fmt.Errorf("field %d (%q): %w", i, f.Name, err))
			continue
		}
		s.Fields = append(s.Fields, types.FieldSpec{
			Name:        strings.TrimSpace(f.Name),
			Type:        t,
			Required:    f.Required,
			Description: strings.TrimSpace(f.Description),
		})
	}
	if len(errs) > 0 {
		return types.TargetSchema{}, fmt.Errorf("%w: %w", ErrInvalidSchema, errors.Join(errs...))
	}
	if err := Validate(s); err != nil {
		return types.TargetSchema{}, err
	}
	return s, nil
}

// Validate checks that a schema has at least one field, that every field
// has a name and a known type, and that no two names normalise to the
// same key. All problems are reported together.
func Validate(s types.TargetSchema) error {
	if len(s.Fields) == 0 {
		return fmt.Errorf("%w: %q has no fields", ErrInvalidSchema, s.Name)
	}

	var errs []error
	seen := make(map[string]string, len(s.Fields))
	for i, f := range s.Fields {
		if strings.TrimSpace(f.Name) == "" {
			errs = append(errs, fmt.Errorf("field %d has no name", i))
			continue
		}
		if _, err := types.ParseFieldType(string(f.Type)); err != nil {
			errs = append(errs, fmt.Errorf("field %q: %w", f.Name, err))
		}
		key := match.Normalize(f.Name)
		if key == "" {
			errs = append(errs, fmt.Errorf("field %q has no letters or digits", f.Name))
			continue
		}
		if prev, dup := seen[key]; dup {
			errs = append(errs, fmt.Errorf("fields %q and %q collide after normalisation", prev, f.Name))
			continue
		}
		seen[key] = f.Name
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidSchema, errors.Join(errs...))
	}
	return nil
}
