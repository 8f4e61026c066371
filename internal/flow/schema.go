package flow

import (
	"slices"
	"strings"

	"github.com/dokzlo13/indoorsun/internal/entry"
)

// FieldType is the kind of value a form field accepts.
type FieldType string

const (
	FieldInt    FieldType = "int"
	FieldBool   FieldType = "bool"
	FieldString FieldType = "string"
	FieldEnum   FieldType = "enum"
)

// Per-field error keys.
const (
	FieldErrRequired      = "required"
	FieldErrInvalidInt    = "invalid_int"
	FieldErrOutOfRange    = "out_of_range"
	FieldErrInvalidOption = "invalid_option"
)

// BaseError is the errors map key for errors that concern the whole form.
const BaseError = "base"

// Field describes one input of a form.
type Field struct {
	Name     string    `json:"name"`
	Type     FieldType `json:"type"`
	Label    string    `json:"label,omitempty"`
	Required bool      `json:"required"`
	Nullable bool      `json:"nullable,omitempty"`
	Default  any       `json:"default,omitempty"`
	Min      *int      `json:"min,omitempty"`
	Max      *int      `json:"max,omitempty"`
	Options  []string  `json:"options,omitempty"`
}

// Schema is an ordered list of fields.
type Schema []Field

func intField(name string, def any, lo, hi *int) Field {
	return Field{Name: name, Type: FieldInt, Default: def, Min: lo, Max: hi}
}

func boolField(name string, def bool) Field {
	return Field{Name: name, Type: FieldBool, Default: def}
}

func stringField(name string, def string) Field {
	f := Field{Name: name, Type: FieldString, Required: true}
	if def != "" {
		f.Default = def
	}
	return f
}

func enumField(name string, def string, options ...string) Field {
	return Field{Name: name, Type: FieldEnum, Required: true, Default: def, Options: options}
}

func bound(n int) *int { return &n }

// Coerce validates input against the schema. It returns the coerced values
// with defaults applied and a map of field name to error key.
//
// Keys missing from input take the field default. An explicit null clears a
// nullable field and counts as missing otherwise. Keys not in the schema are
// dropped.
func (s Schema) Coerce(input map[string]any) (entry.Data, map[string]string) {
	out := make(entry.Data, len(s))
	errs := make(map[string]string)

	for _, f := range s {
		v, ok := input[f.Name]
		if ok && v == nil && f.Nullable {
			out[f.Name] = nil
			continue
		}
		if !ok || v == nil {
			switch {
			case f.Default != nil:
				v = f.Default
			case f.Required:
				errs[f.Name] = FieldErrRequired
				continue
			default:
				continue
			}
		}

		val, key := f.coerce(v)
		if key != "" {
			errs[f.Name] = key
			continue
		}
		out[f.Name] = val
	}
	return out, errs
}

func (f Field) coerce(v any) (any, string) {
	switch f.Type {
	case FieldInt:
		n, ok := entry.Int(v)
		if !ok {
			return nil, FieldErrInvalidInt
		}
		if (f.Min != nil && n < *f.Min) || (f.Max != nil && n > *f.Max) {
			return nil, FieldErrOutOfRange
		}
		return n, ""

	case FieldBool:
		b, ok := entry.Bool(v)
		if !ok {
			return nil, FieldErrInvalidOption
		}
		return b, ""

	case FieldString:
		str, ok := entry.String(v)
		if !ok {
			return nil, FieldErrInvalidOption
		}
		str = strings.TrimSpace(str)
		if str == "" && f.Required {
			return nil, FieldErrRequired
		}
		return str, ""

	case FieldEnum:
		str, ok := entry.String(v)
		if !ok || !slices.Contains(f.Options, str) {
			return nil, FieldErrInvalidOption
		}
		return str, ""
	}
	return nil, FieldErrInvalidOption
}
