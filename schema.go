// Copyright 2025 The preflight-mcp Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package preflight

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"slices"
	"strconv"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
)

// ParamType is the JSON type accepted for a parameter.
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeNumber  ParamType = "number"
	TypeInteger ParamType = "integer"
	TypeBoolean ParamType = "boolean"
	TypeObject  ParamType = "object"
	TypeArray   ParamType = "array"
)

func (t ParamType) valid() bool {
	switch t {
	case TypeString, TypeNumber, TypeInteger, TypeBoolean, TypeObject, TypeArray:
		return true
	}
	return false
}

// Param declares one accepted tool parameter.
//
// Optional parameters also accept an explicit JSON null. When an optional
// parameter is absent and Default is non-nil, Default is filled in before the
// handler runs; otherwise the parameter stays absent.
type Param struct {
	Name        string
	Type        ParamType
	Required    bool
	Default     any
	Description string
}

// Params is the parameter contract of a tool.
type Params []Param

// Schema renders the parameters as a JSON object schema.
func (ps Params) Schema() (*jsonschema.Schema, error) {
	s := &jsonschema.Schema{
		Type:       "object",
		Properties: make(map[string]*jsonschema.Schema, len(ps)),
	}
	for _, p := range ps {
		name := strings.TrimSpace(p.Name)
		if name == "" {
			return nil, errors.New("param with empty name")
		}
		if _, dup := s.Properties[name]; dup {
			return nil, fmt.Errorf("param %q declared twice", name)
		}
		if !p.Type.valid() {
			return nil, fmt.Errorf("param %q: unsupported type %q", name, p.Type)
		}

		prop := &jsonschema.Schema{Description: p.Description}
		if p.Required {
			if p.Default != nil {
				return nil, fmt.Errorf("param %q: required params cannot declare a default", name)
			}
			prop.Type = string(p.Type)
			s.Required = append(s.Required, name)
		} else {
			prop.Types = []string{string(p.Type), "null"}
		}
		if p.Default != nil {
			raw, err := json.Marshal(p.Default)
			if err != nil {
				return nil, fmt.Errorf("param %q: encoding default: %w", name, err)
			}
			prop.Default = raw
		}
		s.Properties[name] = prop
	}
	return s, nil
}

// validator checks raw parameters against a resolved schema.
type validator struct {
	params   Params
	schema   *jsonschema.Schema
	resolved *jsonschema.Resolved
}

func newValidator(ps Params) (*validator, error) {
	s, err := ps.Schema()
	if err != nil {
		return nil, err
	}
	rs, err := s.Resolve(&jsonschema.ResolveOptions{ValidateDefaults: true})
	if err != nil {
		return nil, fmt.Errorf("resolving parameter schema: %w", err)
	}
	return &validator{params: ps, schema: s, resolved: rs}, nil
}

// validate returns a fresh, defaulted copy of params. The caller's map is
// never mutated. Numbers in the result are json.Number, so integers keep
// every digit on their way to the handler.
func (v *validator) validate(params map[string]any) (map[string]any, error) {
	m, err := normalizeParams(params)
	if err != nil {
		return nil, err
	}
	for _, p := range v.params {
		val, ok := m[p.Name]
		switch {
		case p.Required && (!ok || val == nil):
			return nil, validationError("missing required parameter %q", p.Name)
		case !p.Required && ok && val == nil:
			// explicit null on an optional param means absent
			delete(m, p.Name)
		}
	}
	if err := v.resolved.ApplyDefaults(&m); err != nil {
		return nil, validationError("applying defaults: %v", err)
	}
	// defaults arrive as float64; bring them in line with the decoded values
	if m, err = normalizeParams(m); err != nil {
		return nil, err
	}

	// jsonschema-go types json.Number as a string, so validate a float view.
	view, err := floatView(m)
	if err != nil {
		return nil, err
	}
	if err := v.resolved.Validate(view); err != nil {
		return nil, validationError("invalid parameters: %v", err)
	}
	return m, nil
}

// normalizeParams round-trips params through JSON so library calls see the
// same value shapes (json.Number numbers, []any arrays) as wire calls.
func normalizeParams(params map[string]any) (map[string]any, error) {
	if len(params) == 0 {
		return map[string]any{}, nil
	}
	b, err := json.Marshal(params)
	if err != nil {
		return nil, validationError("parameters are not JSON-encodable: %v", err)
	}
	return decodeArguments(b)
}

// decodeArguments parses raw tool arguments. Absent or null arguments are an
// empty parameter set. Numbers decode as json.Number.
func decodeArguments(raw json.RawMessage) (map[string]any, error) {
	m := map[string]any{}
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return m, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&m); err != nil {
		return nil, validationError("parameters must be a JSON object: %v", err)
	}
	if dec.More() {
		return nil, validationError("parameters must be a single JSON object")
	}
	if m == nil {
		return map[string]any{}, nil
	}
	return canonicalNumbers(m).(map[string]any), nil
}

// maxExactInt is the largest magnitude a float64 holds without rounding.
const maxExactInt = 1 << 53

// canonicalNumbers rewrites integral numbers spelled as decimals or with an
// exponent ("2.0", "1e3") to plain integers, so they decode into Go ints.
func canonicalNumbers(v any) any {
	switch x := v.(type) {
	case json.Number:
		if _, err := x.Int64(); err == nil {
			return x
		}
		f, err := x.Float64()
		if err == nil && f == math.Trunc(f) && math.Abs(f) <= maxExactInt {
			return json.Number(strconv.FormatInt(int64(f), 10))
		}
		return x
	case map[string]any:
		for k, e := range x {
			x[k] = canonicalNumbers(e)
		}
		return x
	case []any:
		for i, e := range x {
			x[i] = canonicalNumbers(e)
		}
		return x
	default:
		return v
	}
}

// floatView copies v with every json.Number converted to float64.
func floatView(v map[string]any) (map[string]any, error) {
	out, err := toFloats(v)
	if err != nil {
		return nil, err
	}
	return out.(map[string]any), nil
}

func toFloats(v any) (any, error) {
	switch x := v.(type) {
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return nil, validationError("number %s is out of range", x)
		}
		return f, nil
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			c, err := toFloats(e)
			if err != nil {
				return nil, err
			}
			out[k] = c
		}
		return out, nil
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			c, err := toFloats(e)
			if err != nil {
				return nil, err
			}
			out[i] = c
		}
		return out, nil
	default:
		return v, nil
	}
}

// checkShape verifies at registration time that every declared param maps to
// a JSON field of In with a compatible type. Map inputs accept anything.
func checkShape[In any](ps Params) error {
	t := reflect.TypeFor[In]()
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.Map, reflect.Interface:
		return nil
	case reflect.Struct:
	default:
		return fmt.Errorf("input type %s must be a struct or map", t)
	}

	inferred, err := jsonschema.For[In](nil)
	if err != nil {
		return fmt.Errorf("inferring schema for %s: %w", t, err)
	}
	for _, p := range ps {
		field, ok := inferred.Properties[p.Name]
		if !ok {
			return fmt.Errorf("param %q has no matching field in %s", p.Name, t)
		}
		if !typeCompatible(p.Type, field) {
			return fmt.Errorf("param %q is %s but field in %s is %s", p.Name, p.Type, t, fieldTypes(field))
		}
	}
	return nil
}

func typeCompatible(pt ParamType, field *jsonschema.Schema) bool {
	types := fieldTypesList(field)
	if len(types) == 0 {
		return true
	}
	if slices.Contains(types, string(pt)) {
		return true
	}
	return pt == TypeInteger && slices.Contains(types, string(TypeNumber))
}

func fieldTypesList(field *jsonschema.Schema) []string {
	if field == nil {
		return nil
	}
	if field.Type != "" {
		return []string{field.Type}
	}
	return field.Types
}

func fieldTypes(field *jsonschema.Schema) string {
	return strings.Join(fieldTypesList(field), "|")
}
