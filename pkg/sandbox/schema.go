package sandbox

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/cloudwego/eino/schema"
)

// Kind is the value type a Schema accepts.
type Kind string

const (
	KindString  Kind = "string"
	KindNumber  Kind = "number"
	KindBoolean Kind = "boolean"
	KindArray   Kind = "array"
	KindObject  Kind = "object"
	KindEnum    Kind = "enum"
	KindAny     Kind = "any"
)

// Schema is the parameter schema a plugin declares through the injected z
// builder. Values are immutable; every modifier returns a copy, so one base
// schema can be shared between fields.
//
// Exported methods are visible to plugin code through the runtime's
// uncapitalizing field mapper (Describe becomes describe, and so on).
type Schema struct {
	kind     Kind
	desc     string
	optional bool
	nullable bool
	integer  bool
	min      *float64
	max      *float64
	values   []string
	elem     *Schema
	fields   map[string]*Schema
}

// ValidationError reports the first value that did not match a schema.
type ValidationError struct {
	Path    string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return e.Path + ": " + e.Message
}

func newSchema(kind Kind) *Schema {
	return &Schema{kind: kind}
}

func newObjectSchema(fields map[string]*Schema) *Schema {
	s := newSchema(KindObject)
	s.fields = fields
	return s
}

func (s *Schema) clone() *Schema {
	c := *s
	return &c
}

func (s *Schema) Describe(desc string) *Schema {
	c := s.clone()
	c.desc = desc
	return c
}

func (s *Schema) Optional() *Schema {
	c := s.clone()
	c.optional = true
	return c
}

func (s *Schema) Nullable() *Schema {
	c := s.clone()
	c.nullable = true
	return c
}

// Int restricts a number schema to integers.
func (s *Schema) Int() *Schema {
	c := s.clone()
	c.integer = true
	return c
}

// Min bounds numbers by value and strings and arrays by length.
func (s *Schema) Min(n float64) *Schema {
	c := s.clone()
	c.min = &n
	return c
}

// Max bounds numbers by value and strings and arrays by length.
func (s *Schema) Max(n float64) *Schema {
	c := s.clone()
	c.max = &n
	return c
}

// Kind returns the accepted value type.
func (s *Schema) Kind() Kind {
	return s.kind
}

// Fields returns the object field names in sorted order.
func (s *Schema) Fields() []string {
	names := make([]string, 0, len(s.fields))
	for name := range s.fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Parse validates v and returns the normalized value. Unknown object keys
// are stripped and missing optional fields are left out.
func (s *Schema) Parse(v any) (any, error) {
	return s.parse("", v)
}

func (s *Schema) parse(path string, v any) (any, error) {
	if v == nil {
		if s.nullable || s.optional || s.kind == KindAny {
			return nil, nil
		}
		return nil, &ValidationError{Path: path, Message: fmt.Sprintf("expected %s, received null", s.kind)}
	}

	switch s.kind {
	case KindAny:
		return v, nil

	case KindString:
		str, ok := v.(string)
		if !ok {
			return nil, mismatch(path, s.kind, v)
		}
		n := float64(len([]rune(str)))
		if err := s.checkBounds(path, n, "length"); err != nil {
			return nil, err
		}
		return str, nil

	case KindNumber:
		f, ok := toFloat(v)
		if !ok {
			return nil, mismatch(path, s.kind, v)
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, &ValidationError{Path: path, Message: "expected finite number"}
		}
		if s.integer && f != math.Trunc(f) {
			return nil, &ValidationError{Path: path, Message: "expected integer, received float"}
		}
		if err := s.checkBounds(path, f, "value"); err != nil {
			return nil, err
		}
		return f, nil

	case KindBoolean:
		b, ok := v.(bool)
		if !ok {
			return nil, mismatch(path, s.kind, v)
		}
		return b, nil

	case KindEnum:
		str, ok := v.(string)
		if !ok {
			return nil, mismatch(path, KindString, v)
		}
		for _, allowed := range s.values {
			if str == allowed {
				return str, nil
			}
		}
		return nil, &ValidationError{
			Path:    path,
			Message: fmt.Sprintf("invalid enum value %q, expected one of %s", str, strings.Join(s.values, ", ")),
		}

	case KindArray:
		items, ok := v.([]any)
		if !ok {
			return nil, mismatch(path, s.kind, v)
		}
		if err := s.checkBounds(path, float64(len(items)), "length"); err != nil {
			return nil, err
		}
		out := make([]any, 0, len(items))
		for i, item := range items {
			parsed, err := s.elem.parse(fmt.Sprintf("%s[%d]", path, i), item)
			if err != nil {
				return nil, err
			}
			out = append(out, parsed)
		}
		return out, nil

	case KindObject:
		obj, ok := v.(map[string]any)
		if !ok {
			return nil, mismatch(path, s.kind, v)
		}
		out := make(map[string]any, len(s.fields))
		for _, name := range s.Fields() {
			field := s.fields[name]
			fieldPath := name
			if path != "" {
				fieldPath = path + "." + name
			}
			raw, present := obj[name]
			if !present {
				if field.optional {
					continue
				}
				return nil, &ValidationError{Path: fieldPath, Message: "required"}
			}
			parsed, err := field.parse(fieldPath, raw)
			if err != nil {
				return nil, err
			}
			out[name] = parsed
		}
		return out, nil
	}

	return nil, &ValidationError{Path: path, Message: fmt.Sprintf("unsupported schema kind %s", s.kind)}
}

func (s *Schema) checkBounds(path string, n float64, what string) error {
	if s.min != nil && n < *s.min {
		return &ValidationError{Path: path, Message: fmt.Sprintf("%s must be >= %v", what, *s.min)}
	}
	if s.max != nil && n > *s.max {
		return &ValidationError{Path: path, Message: fmt.Sprintf("%s must be <= %v", what, *s.max)}
	}
	return nil
}

func mismatch(path string, want Kind, v any) error {
	return &ValidationError{Path: path, Message: fmt.Sprintf("expected %s, received %s", want, typeName(v))}
}

func typeName(v any) string {
	switch v.(type) {
	case string:
		return "string"
	case bool:
		return "boolean"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	}
	if _, ok := toFloat(v); ok {
		return "number"
	}
	return fmt.Sprintf("%T", v)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// parameterInfo converts a field schema to eino's tool parameter description.
func (s *Schema) parameterInfo() *schema.ParameterInfo {
	info := &schema.ParameterInfo{
		Desc:     s.desc,
		Required: !s.optional,
	}

	switch s.kind {
	case KindString:
		info.Type = schema.String
	case KindNumber:
		info.Type = schema.Number
		if s.integer {
			info.Type = schema.Integer
		}
	case KindBoolean:
		info.Type = schema.Boolean
	case KindEnum:
		info.Type = schema.String
		info.Enum = append([]string(nil), s.values...)
	case KindArray:
		info.Type = schema.Array
		info.ElemInfo = s.elem.parameterInfo()
	case KindObject:
		info.Type = schema.Object
		info.SubParams = s.paramsMap()
	default:
		info.Type = schema.Object
	}
	return info
}

func (s *Schema) paramsMap() map[string]*schema.ParameterInfo {
	params := make(map[string]*schema.ParameterInfo, len(s.fields))
	for name, field := range s.fields {
		params[name] = field.parameterInfo()
	}
	return params
}
