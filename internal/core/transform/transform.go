// Package transform applies declared per-field post-processing to fetched
// records before they become part of a snapshot.
//
// Rules are compiled once at startup. Applying a pipeline never modifies
// its input; every touched record is copied first.
package transform

import (
	"fmt"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/yndnr/rowcache/internal/core/domain"
)

// AllFields selects every field of a record.
const AllFields = "*"

// Supported operations.
const (
	OpJSONDecode  = "json_decode"
	OpTrim        = "trim"
	OpEmptyToNull = "empty_to_null"
	OpToNumber    = "to_number"
	OpToBool      = "to_bool"
	OpDrop        = "drop"
	OpRename      = "rename" // rename:<new_name>
)

// maxJSONDepth bounds how many string layers json_decode unwraps.
const maxJSONDepth = 3

// Rule is one configured transformation.
type Rule struct {
	Field string `koanf:"field" json:"field"`
	Op    string `koanf:"op" json:"op"`
}

type valueFunc func(v any) (any, error)

type step struct {
	field  string
	op     string
	fn     valueFunc
	drop   bool
	rename string
}

// Pipeline is a compiled, ordered list of rules.
type Pipeline struct {
	steps []step
}

// Compile validates rules and returns a pipeline. An empty rule list yields
// a pipeline that passes records through unchanged.
func Compile(rules []Rule) (*Pipeline, error) {
	p := &Pipeline{steps: make([]step, 0, len(rules))}

	for i, r := range rules {
		field := strings.TrimSpace(r.Field)
		if field == "" {
			return nil, domain.ErrInvalidTransform.WithDetails(fmt.Sprintf("rule %d: field is required", i))
		}

		name, arg, _ := strings.Cut(strings.TrimSpace(r.Op), ":")
		s := step{field: field, op: name}

		switch name {
		case OpJSONDecode:
			s.fn = jsonDecode
		case OpTrim:
			s.fn = trim
		case OpEmptyToNull:
			s.fn = emptyToNull
		case OpToNumber:
			s.fn = toNumber
		case OpToBool:
			s.fn = toBool
		case OpDrop:
			s.drop = true
		case OpRename:
			if arg == "" {
				return nil, domain.ErrInvalidTransform.WithDetails(fmt.Sprintf("rule %d: rename needs a target name", i))
			}
			if field == AllFields {
				return nil, domain.ErrInvalidTransform.WithDetails(fmt.Sprintf("rule %d: cannot rename all fields", i))
			}
			s.rename = arg
		default:
			return nil, domain.ErrInvalidTransform.WithDetails(fmt.Sprintf("rule %d: unknown op %q", i, r.Op))
		}

		p.steps = append(p.steps, s)
	}

	return p, nil
}

// Len returns the number of compiled steps.
func (p *Pipeline) Len() int {
	if p == nil {
		return 0
	}
	return len(p.steps)
}

// Apply runs the pipeline over records and returns new records. The input
// slice and its records are left untouched.
func (p *Pipeline) Apply(records []domain.Record) ([]domain.Record, error) {
	if p.Len() == 0 {
		return records, nil
	}

	out := make([]domain.Record, len(records))
	for i, r := range records {
		rec, err := p.applyOne(r)
		if err != nil {
			return nil, domain.ErrTransformFailed.WithDetails(fmt.Sprintf("record %d", i)).WithCause(err)
		}
		out[i] = rec
	}
	return out, nil
}

func (p *Pipeline) applyOne(in domain.Record) (domain.Record, error) {
	rec := in.Clone()

	for _, s := range p.steps {
		if s.field == AllFields {
			for k, v := range rec {
				if s.drop {
					delete(rec, k)
					continue
				}
				nv, err := s.fn(v)
				if err != nil {
					return nil, fmt.Errorf("field %q: %s: %w", k, s.op, err)
				}
				rec[k] = nv
			}
			continue
		}

		v, ok := rec[s.field]
		if !ok {
			continue
		}
		switch {
		case s.drop:
			delete(rec, s.field)
		case s.rename != "":
			delete(rec, s.field)
			rec[s.rename] = v
		default:
			nv, err := s.fn(v)
			if err != nil {
				return nil, fmt.Errorf("field %q: %s: %w", s.field, s.op, err)
			}
			rec[s.field] = nv
		}
	}

	return rec, nil
}

// jsonDecode unwraps string values that hold JSON, including values that
// were encoded more than once. Strings that are not JSON pass through.
func jsonDecode(v any) (any, error) {
	for depth := 0; depth < maxJSONDepth; depth++ {
		s, ok := v.(string)
		if !ok {
			return v, nil
		}
		s = strings.TrimSpace(s)
		if s == "" || !looksLikeJSON(s) {
			return v, nil
		}

		var decoded any
		if err := jsoniter.ConfigCompatibleWithStandardLibrary.UnmarshalFromString(s, &decoded); err != nil {
			return v, nil
		}
		v = decoded
	}
	return v, nil
}

func looksLikeJSON(s string) bool {
	switch s[0] {
	case '{', '[', '"':
		return true
	}
	return false
}

func trim(v any) (any, error) {
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s), nil
	}
	return v, nil
}

func emptyToNull(v any) (any, error) {
	if s, ok := v.(string); ok && strings.TrimSpace(s) == "" {
		return nil, nil
	}
	return v, nil
}

func toNumber(v any) (any, error) {
	s, ok := v.(string)
	if !ok {
		return v, nil
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("not a number: %q", s)
	}
	return f, nil
}

func toBool(v any) (any, error) {
	s, ok := v.(string)
	if !ok {
		return v, nil
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	switch strings.ToLower(s) {
	case "yes", "y", "on":
		return true, nil
	case "no", "n", "off":
		return false, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return nil, fmt.Errorf("not a boolean: %q", s)
	}
	return b, nil
}
