package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dop251/goja"
)

// toolDef is the value produced by the injected tool() function. Fields are
// raw script values; Compile validates them after evaluation finishes.
type toolDef struct {
	handler     goja.Value
	name        goja.Value
	description goja.Value
	schema      goja.Value
}

// consoleSink forwards plugin console output to the process logger.
type consoleSink struct {
	logger *slog.Logger
}

func installBuiltins(vm *goja.Runtime, console *consoleSink, maxStringLength int) error {
	if err := limitStringBuilders(vm, maxStringLength); err != nil {
		return err
	}
	if err := vm.Set("tool", toolFunc(vm)); err != nil {
		return err
	}
	if err := vm.Set("z", zObject(vm)); err != nil {
		return err
	}
	return vm.Set("console", consoleObject(vm, console))
}

// limitStringBuilders wraps the String.prototype methods that can allocate
// large strings in one call so they throw past maxLen bytes.
func limitStringBuilders(vm *goja.Runtime, maxLen int) error {
	proto := vm.Get("String").ToObject(vm).Get("prototype").ToObject(vm)

	wrap := func(method string, size func(call goja.FunctionCall) float64) error {
		orig, ok := goja.AssertFunction(proto.Get(method))
		if !ok {
			return fmt.Errorf("String.prototype.%s is not a function", method)
		}
		return proto.Set(method, func(call goja.FunctionCall) goja.Value {
			if size(call) > float64(maxLen) {
				panic(vm.NewTypeError("String.prototype.%s: result exceeds %d bytes", method, maxLen))
			}
			v, err := orig(call.This, call.Arguments...)
			if err != nil {
				panic(err)
			}
			return v
		})
	}

	repeated := func(call goja.FunctionCall) float64 {
		return float64(len(call.This.String())) * call.Argument(0).ToFloat()
	}
	padded := func(call goja.FunctionCall) float64 {
		return call.Argument(0).ToFloat()
	}
	if err := wrap("repeat", repeated); err != nil {
		return err
	}
	if err := wrap("padStart", padded); err != nil {
		return err
	}
	return wrap("padEnd", padded)
}

func toolFunc(vm *goja.Runtime) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		def := &toolDef{handler: call.Argument(0)}
		if opts := call.Argument(1); !goja.IsUndefined(opts) && !goja.IsNull(opts) {
			o := opts.ToObject(vm)
			def.name = o.Get("name")
			def.description = o.Get("description")
			def.schema = o.Get("schema")
		}
		return vm.ToValue(def)
	}
}

func zObject(vm *goja.Runtime) *goja.Object {
	z := vm.NewObject()

	simple := func(kind Kind) func(goja.FunctionCall) goja.Value {
		return func(goja.FunctionCall) goja.Value {
			return vm.ToValue(newSchema(kind))
		}
	}
	_ = z.Set("string", simple(KindString))
	_ = z.Set("number", simple(KindNumber))
	_ = z.Set("boolean", simple(KindBoolean))
	_ = z.Set("any", simple(KindAny))

	_ = z.Set("array", func(call goja.FunctionCall) goja.Value {
		elem, ok := call.Argument(0).Export().(*Schema)
		if !ok {
			panic(vm.NewTypeError("z.array expects an element schema"))
		}
		s := newSchema(KindArray)
		s.elem = elem
		return vm.ToValue(s)
	})

	_ = z.Set("enum", func(call goja.FunctionCall) goja.Value {
		var values []string
		if err := vm.ExportTo(call.Argument(0), &values); err != nil || len(values) == 0 {
			panic(vm.NewTypeError("z.enum expects a non-empty array of strings"))
		}
		s := newSchema(KindEnum)
		s.values = values
		return vm.ToValue(s)
	})

	_ = z.Set("object", func(call goja.FunctionCall) goja.Value {
		arg := call.Argument(0)
		if goja.IsUndefined(arg) || goja.IsNull(arg) {
			panic(vm.NewTypeError("z.object expects a shape object"))
		}
		shape := arg.ToObject(vm)
		fields := make(map[string]*Schema)
		for _, key := range shape.Keys() {
			field, ok := shape.Get(key).Export().(*Schema)
			if !ok {
				panic(vm.NewTypeError("z.object: field " + key + " is not a schema"))
			}
			fields[key] = field
		}
		return vm.ToValue(newObjectSchema(fields))
	})

	return z
}

func consoleObject(vm *goja.Runtime, sink *consoleSink) *goja.Object {
	console := vm.NewObject()
	logAt := func(level slog.Level) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			parts := make([]string, 0, len(call.Arguments))
			for _, arg := range call.Arguments {
				parts = append(parts, arg.String())
			}
			sink.logger.Log(context.Background(), level, strings.Join(parts, " "))
			return goja.Undefined()
		}
	}
	_ = console.Set("log", logAt(slog.LevelInfo))
	_ = console.Set("info", logAt(slog.LevelInfo))
	_ = console.Set("debug", logAt(slog.LevelDebug))
	_ = console.Set("warn", logAt(slog.LevelWarn))
	_ = console.Set("error", logAt(slog.LevelError))
	return console
}
