// Package sandbox turns developer-authored plugin source into invokable tools.
//
// Every compilation gets its own goja runtime. The only non-standard globals
// are tool, z and console; there is no module loader and no host access.
// Plugin source either evaluates to a tool value as its completion value:
//
//	tool(async ({num1, num2}) => num1 + num2, {
//		name: "add",
//		description: "Adds two numbers",
//		schema: z.object({num1: z.number(), num2: z.number()}),
//	})
//
// or is a function body ending in `return tool(...)`.
package sandbox

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/choraleia/plugbot/pkg/utils"
	"github.com/dop251/goja"
)

const (
	DefaultCompileTimeout   = 2 * time.Second
	DefaultHandlerTimeout   = 10 * time.Second
	DefaultMaxCallStackSize = 1024
	DefaultMaxStringLength  = 16 << 20

	bodyPrefix      = "(function () {\n"
	asyncBodyPrefix = "(async function () {\n"
	bodySuffix      = "\n})()"
)

var toolNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// ErrTimeout is reported when evaluation or a handler call runs too long.
var ErrTimeout = errors.New("execution timed out")

// ErrInvalidArguments is wrapped by invocation errors whose arguments were
// rejected before the handler ran.
var ErrInvalidArguments = errors.New("invalid arguments")

// Options configures a Compiler. Zero values fall back to defaults.
type Options struct {
	CompileTimeout   time.Duration
	HandlerTimeout   time.Duration
	MaxCallStackSize int
	MaxStringLength  int // bytes, for strings built by repeat/padStart/padEnd
	Logger           *slog.Logger
}

// Compiler evaluates plugin source. It is safe for concurrent use; each
// Compile call works on a private runtime.
type Compiler struct {
	compileTimeout   time.Duration
	handlerTimeout   time.Duration
	maxCallStackSize int
	maxStringLength  int
	logger           *slog.Logger
}

func NewCompiler(opts Options) *Compiler {
	c := &Compiler{
		compileTimeout:   opts.CompileTimeout,
		handlerTimeout:   opts.HandlerTimeout,
		maxCallStackSize: opts.MaxCallStackSize,
		maxStringLength:  opts.MaxStringLength,
		logger:           opts.Logger,
	}
	if c.compileTimeout <= 0 {
		c.compileTimeout = DefaultCompileTimeout
	}
	if c.handlerTimeout <= 0 {
		c.handlerTimeout = DefaultHandlerTimeout
	}
	if c.maxCallStackSize <= 0 {
		c.maxCallStackSize = DefaultMaxCallStackSize
	}
	if c.maxStringLength <= 0 {
		c.maxStringLength = DefaultMaxStringLength
	}
	if c.logger == nil {
		c.logger = utils.GetLogger()
	}
	return c
}

// Compile evaluates code into a Tool. A non-nil error is always a
// *CompileError carrying the offending source.
func (c *Compiler) Compile(ctx context.Context, code string) (*Tool, error) {
	t, cerr := c.compile(ctx, code)
	if cerr != nil {
		cerr.Source = code
		return nil, cerr
	}
	return t, nil
}

func (c *Compiler) compile(ctx context.Context, code string) (t *Tool, err *CompileError) {
	defer func() {
		if r := recover(); r != nil {
			t, err = nil, compileErrorf(CodeEvaluation, "plugin evaluation panicked: %v", r)
		}
	}()

	if strings.TrimSpace(code) == "" {
		return nil, compileErrorf(CodeNotATool, "plugin code is empty")
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, compileErrorf(CodeEvaluation, "evaluation aborted: %v", ctxErr)
	}

	issues, lintErr := Lint(ctx, code)
	if lintErr != nil {
		return nil, compileErrorf(CodeSyntax, "%v", lintErr)
	}
	if len(issues) > 0 {
		first := issues[0]
		return nil, &CompileError{Code: first.Code, Message: first.Message, Line: first.Line, Column: first.Column}
	}

	prog, progErr := compileProgram(code)
	if progErr != nil {
		return nil, compileErrorf(CodeSyntax, "%v", progErr)
	}

	console := &consoleSink{logger: c.logger.With("component", "plugin")}
	vm := goja.New()
	vm.SetFieldNameMapper(goja.UncapFieldNameMapper())
	vm.SetMaxCallStackSize(c.maxCallStackSize)
	if installErr := installBuiltins(vm, console, c.maxStringLength); installErr != nil {
		return nil, compileErrorf(CodeEvaluation, "failed to prepare runtime: %v", installErr)
	}

	stop := interruptOn(ctx, vm, c.compileTimeout)
	value, runErr := vm.RunProgram(prog)
	stop()
	if runErr != nil {
		return nil, runtimeError(runErr)
	}

	value, cerr := settle(value)
	if cerr != nil {
		return nil, cerr
	}

	var def *toolDef
	if value != nil {
		def, _ = value.Export().(*toolDef)
	}
	if def == nil {
		return nil, compileErrorf(CodeNotATool, "plugin code must evaluate to tool(handler, {name, description, schema})")
	}

	tool, cerr := c.buildTool(vm, def)
	if cerr != nil {
		return nil, cerr
	}
	console.logger = console.logger.With("plugin", tool.Name)
	return tool, nil
}

func (c *Compiler) buildTool(vm *goja.Runtime, def *toolDef) (*Tool, *CompileError) {
	if isUnset(def.name) {
		return nil, compileErrorf(CodeInvalidName, "tool name is required")
	}
	name, ok := def.name.Export().(string)
	if !ok || !toolNamePattern.MatchString(name) {
		return nil, compileErrorf(CodeInvalidName, "tool name must match %s", toolNamePattern.String())
	}

	var description string
	if !isUnset(def.description) {
		description = def.description.String()
	}

	handler, ok := goja.AssertFunction(def.handler)
	if !ok {
		return nil, compileErrorf(CodeInvalidHandler, "tool %s: handler is not callable", name)
	}

	if isUnset(def.schema) {
		return nil, compileErrorf(CodeInvalidSchema, "tool %s: schema is required", name)
	}
	params, ok := def.schema.Export().(*Schema)
	if !ok || params.Kind() != KindObject {
		return nil, compileErrorf(CodeInvalidSchema, "tool %s: schema must be z.object({...})", name)
	}

	return &Tool{
		Name:        name,
		Description: description,
		Schema:      params,
		vm:          vm,
		handler:     handler,
		timeout:     c.handlerTimeout,
	}, nil
}

// compileProgram accepts code either as a script or as a function body.
func compileProgram(code string) (*goja.Program, error) {
	prog, err := goja.Compile("plugin.js", code, false)
	if err == nil {
		return prog, nil
	}
	for _, prefix := range []string{bodyPrefix, asyncBodyPrefix} {
		if wrapped, werr := goja.Compile("plugin.js", prefix+code+bodySuffix, false); werr == nil {
			return wrapped, nil
		}
	}
	return nil, err
}

// settle unwraps a promise completion value. Jobs have already run when
// RunProgram returns, so a pending promise can never resolve.
func settle(value goja.Value) (goja.Value, *CompileError) {
	if value == nil {
		return nil, nil
	}
	p, ok := value.Export().(*goja.Promise)
	if !ok {
		return value, nil
	}
	switch p.State() {
	case goja.PromiseStateFulfilled:
		return p.Result(), nil
	case goja.PromiseStateRejected:
		return nil, compileErrorf(CodeEvaluation, "%s", p.Result().String())
	default:
		return nil, compileErrorf(CodeNotATool, "plugin evaluation did not settle")
	}
}

func runtimeError(err error) *CompileError {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		if reason, ok := interrupted.Value().(error); ok && !errors.Is(reason, ErrTimeout) {
			return compileErrorf(CodeEvaluation, "evaluation aborted: %v", reason)
		}
		return compileErrorf(CodeTimeout, "plugin evaluation timed out")
	}
	var ex *goja.Exception
	if errors.As(err, &ex) {
		return compileErrorf(CodeEvaluation, "%s", ex.Value().String())
	}
	return compileErrorf(CodeEvaluation, "%v", err)
}

// interruptOn interrupts vm when the timeout fires or ctx is done. The
// returned stop func must be called once the guarded call has returned; it
// clears any pending interrupt so the runtime can be reused.
func interruptOn(ctx context.Context, vm *goja.Runtime, timeout time.Duration) (stop func()) {
	done := make(chan struct{})
	exited := make(chan struct{})

	go func() {
		defer close(exited)
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case <-done:
		case <-timer.C:
			vm.Interrupt(ErrTimeout)
		case <-ctx.Done():
			vm.Interrupt(ctx.Err())
		}
	}()

	return func() {
		close(done)
		<-exited
		vm.ClearInterrupt()
	}
}

func isUnset(v goja.Value) bool {
	return v == nil || goja.IsUndefined(v) || goja.IsNull(v)
}

// Validate compiles code and discards the result. It is used at save time.
func (c *Compiler) Validate(ctx context.Context, code string) (*ToolSummary, error) {
	t, err := c.Compile(ctx, code)
	if err != nil {
		return nil, err
	}
	return t.Summary(), nil
}
