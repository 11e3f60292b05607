// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tools

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/AleutianAdvisor/pkg/validation"
	"github.com/AleutianAI/AleutianAdvisor/services/orchestrator/datatypes"
)

// DateLayout is the calendar date format accepted for date parameters.
const DateLayout = "2006-01-02"

// Args holds coerced arguments. Values are string, float64, bool,
// time.Time or []string depending on the parameter type.
type Args map[string]any

// Has reports whether name carries a value.
func (a Args) Has(name string) bool {
	_, ok := a[name]
	return ok
}

// String returns a string argument or "".
func (a Args) String(name string) string {
	s, _ := a[name].(string)
	return s
}

// Float returns a number argument.
func (a Args) Float(name string) (float64, bool) {
	f, ok := a[name].(float64)
	return f, ok
}

// Bool returns a bool argument, false when absent.
func (a Args) Bool(name string) bool {
	b, _ := a[name].(bool)
	return b
}

// Time returns a date argument or nil.
func (a Args) Time(name string) *time.Time {
	t, ok := a[name].(time.Time)
	if !ok {
		return nil
	}
	return &t
}

// Strings returns a list argument.
func (a Args) Strings(name string) []string {
	s, _ := a[name].([]string)
	return s
}

// =============================================================================
// Schema validation
// =============================================================================

// validateArgs checks raw arguments against spec and returns coerced Args.
//
// # Description
//
// Keys starting with "_" are control flags and pass through untouched.
// Unknown parameters, missing required parameters, type mismatches and
// enum violations fail with ErrInvalidArgument. Parameters with a
// Validate tag are additionally checked with validator/v10.
func validateArgs(v *validator.Validate, spec datatypes.ToolSpec, raw map[string]any) (Args, error) {
	out := make(Args, len(raw))

	for key, val := range raw {
		if strings.HasPrefix(key, "_") {
			out[key] = val
			continue
		}
		if _, ok := spec.Param(key); !ok {
			return nil, fmt.Errorf("%w: unknown parameter %q", ErrInvalidArgument, key)
		}
	}

	for _, p := range spec.Params {
		val, present := raw[p.Name]
		if present && isEmpty(val) {
			present = false
		}
		if !present {
			if p.Default != nil {
				val, present = p.Default, true
			} else if p.Required {
				return nil, fmt.Errorf("%w: missing required parameter %q", ErrInvalidArgument, p.Name)
			} else {
				continue
			}
		}

		coerced, err := coerce(p, val)
		if err != nil {
			return nil, fmt.Errorf("%w: parameter %q: %v", ErrInvalidArgument, p.Name, err)
		}
		if p.Entity != "" {
			if err := validateEntityIDs(coerced); err != nil {
				return nil, fmt.Errorf("%w: parameter %q: %v", ErrInvalidArgument, p.Name, err)
			}
		}
		if p.Validate != "" {
			if err := v.Var(coerced, p.Validate); err != nil {
				return nil, fmt.Errorf("%w: parameter %q failed %q", ErrInvalidArgument, p.Name, p.Validate)
			}
		}
		out[p.Name] = coerced
	}
	return out, nil
}

// validateEntityIDs checks the shape of a coerced id or id list before it
// reaches a store query.
func validateEntityIDs(val any) error {
	switch v := val.(type) {
	case string:
		return validation.ValidateEntityID(v)
	case []string:
		for _, id := range v {
			if err := validation.ValidateEntityID(id); err != nil {
				return err
			}
		}
	}
	return nil
}

func isEmpty(val any) bool {
	switch v := val.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == ""
	case []string:
		return len(v) == 0
	case []any:
		return len(v) == 0
	}
	return false
}

func coerce(p datatypes.ToolParam, val any) (any, error) {
	switch p.Type {
	case datatypes.ParamString:
		s, ok := val.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", val)
		}
		return strings.TrimSpace(s), nil

	case datatypes.ParamNumber:
		return toFloat(val)

	case datatypes.ParamBool:
		switch b := val.(type) {
		case bool:
			return b, nil
		case string:
			parsed, err := strconv.ParseBool(strings.TrimSpace(b))
			if err != nil {
				return nil, fmt.Errorf("expected bool, got %q", b)
			}
			return parsed, nil
		}
		return nil, fmt.Errorf("expected bool, got %T", val)

	case datatypes.ParamDate:
		return toDate(val)

	case datatypes.ParamEnum:
		s, ok := val.(string)
		if !ok {
			return nil, fmt.Errorf("expected one of %v, got %T", p.Enum, val)
		}
		s = strings.ToLower(strings.TrimSpace(s))
		for _, opt := range p.Enum {
			if s == opt {
				return opt, nil
			}
		}
		return nil, fmt.Errorf("expected one of %v, got %q", p.Enum, s)

	case datatypes.ParamList:
		return toStrings(val)
	}
	return nil, fmt.Errorf("unsupported parameter type %q", p.Type)
}

func toFloat(val any) (float64, error) {
	switch n := val.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	case string:
		cleaned := strings.NewReplacer(",", "", "$", "").Replace(strings.TrimSpace(n))
		mult := 1.0
		switch {
		case strings.HasSuffix(strings.ToLower(cleaned), "k"):
			mult, cleaned = 1e3, cleaned[:len(cleaned)-1]
		case strings.HasSuffix(strings.ToLower(cleaned), "m"):
			mult, cleaned = 1e6, cleaned[:len(cleaned)-1]
		}
		f, err := strconv.ParseFloat(cleaned, 64)
		if err != nil {
			return 0, fmt.Errorf("expected number, got %q", n)
		}
		return f * mult, nil
	}
	return 0, fmt.Errorf("expected number, got %T", val)
}

func toDate(val any) (time.Time, error) {
	switch d := val.(type) {
	case time.Time:
		return d, nil
	case *time.Time:
		if d != nil {
			return *d, nil
		}
	case string:
		s := strings.TrimSpace(d)
		if t, err := time.Parse(DateLayout, s); err == nil {
			return t, nil
		}
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t, nil
		}
		return time.Time{}, fmt.Errorf("expected date (YYYY-MM-DD), got %q", s)
	}
	return time.Time{}, fmt.Errorf("expected date, got %T", val)
}

func toStrings(val any) ([]string, error) {
	var out []string
	switch l := val.(type) {
	case []string:
		out = append(out, l...)
	case []any:
		for _, item := range l {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("expected list of strings, found %T", item)
			}
			out = append(out, s)
		}
	case string:
		out = strings.Split(l, ",")
	default:
		return nil, fmt.Errorf("expected list, got %T", val)
	}

	cleaned := out[:0]
	for _, s := range out {
		if s = strings.TrimSpace(s); s != "" {
			cleaned = append(cleaned, s)
		}
	}
	return cleaned, nil
}
