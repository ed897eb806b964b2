package sandbox

import (
	"errors"
	"reflect"
	"testing"
)

func TestSchema_Parse(t *testing.T) {
	obj := newObjectSchema(map[string]*Schema{
		"name":  newSchema(KindString).Min(1),
		"count": newSchema(KindNumber).Int().Max(10),
		"tags":  (&Schema{kind: KindArray, elem: newSchema(KindString)}).Optional(),
		"mode":  (&Schema{kind: KindEnum, values: []string{"a", "b"}}).Optional(),
		"note":  newSchema(KindString).Nullable(),
	})

	tests := []struct {
		name     string
		input    any
		want     any
		wantPath string
	}{
		{
			name:  "valid with unknown keys stripped",
			input: map[string]any{"name": "x", "count": float64(3), "note": nil, "extra": true},
			want:  map[string]any{"name": "x", "count": float64(3), "note": nil},
		},
		{
			name:  "optional fields kept when present",
			input: map[string]any{"name": "x", "count": float64(1), "note": "n", "tags": []any{"t"}, "mode": "b"},
			want:  map[string]any{"name": "x", "count": float64(1), "note": "n", "tags": []any{"t"}, "mode": "b"},
		},
		{name: "missing required", input: map[string]any{"count": float64(1), "note": nil}, wantPath: "name"},
		{name: "wrong type", input: map[string]any{"name": 5, "count": float64(1), "note": nil}, wantPath: "name"},
		{name: "min length", input: map[string]any{"name": "", "count": float64(1), "note": nil}, wantPath: "name"},
		{name: "not integer", input: map[string]any{"name": "x", "count": 1.5, "note": nil}, wantPath: "count"},
		{name: "above max", input: map[string]any{"name": "x", "count": float64(11), "note": nil}, wantPath: "count"},
		{name: "bad array element", input: map[string]any{"name": "x", "count": float64(1), "note": nil, "tags": []any{1}}, wantPath: "tags[0]"},
		{name: "bad enum", input: map[string]any{"name": "x", "count": float64(1), "note": nil, "mode": "c"}, wantPath: "mode"},
		{name: "not an object", input: "nope", wantPath: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := obj.Parse(tt.input)
			if tt.want != nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if !reflect.DeepEqual(got, tt.want) {
					t.Fatalf("got %#v, want %#v", got, tt.want)
				}
				return
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if verr.Path != tt.wantPath {
				t.Fatalf("expected path %q, got %q (%s)", tt.wantPath, verr.Path, verr.Message)
			}
		})
	}
}

func TestSchema_ModifiersDoNotMutate(t *testing.T) {
	base := newSchema(KindString)
	opt := base.Optional().Describe("d")

	if base.optional || base.desc != "" {
		t.Fatalf("base schema was mutated")
	}
	if !opt.optional || opt.desc != "d" {
		t.Fatalf("modifiers not applied")
	}
}

func TestSchema_AcceptsIntegerTypes(t *testing.T) {
	s := newSchema(KindNumber)
	for _, v := range []any{int(1), int64(2), float32(3), float64(4)} {
		if _, err := s.Parse(v); err != nil {
			t.Errorf("Parse(%T): %v", v, err)
		}
	}
}
