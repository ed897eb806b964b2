package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/dop251/goja"
)

// Tool is a compiled plugin. It is never persisted; callers recompile from
// source whenever they need one.
type Tool struct {
	Name        string
	Description string
	Schema      *Schema

	vm      *goja.Runtime
	handler goja.Callable
	timeout time.Duration

	// goja runtimes are single threaded
	mu sync.Mutex
}

// Info describes the tool for a tool-calling model.
func (t *Tool) Info() *schema.ToolInfo {
	return &schema.ToolInfo{
		Name:        t.Name,
		Desc:        t.Description,
		ParamsOneOf: schema.NewParamsOneOfByParams(t.Schema.paramsMap()),
	}
}

// Invoke validates argumentsJSON against the tool schema and runs the
// handler. Promise results are awaited; non-string results are JSON encoded.
func (t *Tool) Invoke(ctx context.Context, argumentsJSON string) (out string, err error) {
	var raw any = map[string]any{}
	if strings.TrimSpace(argumentsJSON) != "" {
		if err := json.Unmarshal([]byte(argumentsJSON), &raw); err != nil {
			return "", &InvocationError{Tool: t.Name, Err: fmt.Errorf("%w: malformed JSON: %w", ErrInvalidArguments, err)}
		}
	}
	args, err := t.Schema.Parse(raw)
	if err != nil {
		return "", &InvocationError{Tool: t.Name, Err: fmt.Errorf("%w: %w", ErrInvalidArguments, err)}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			out, err = "", &InvocationError{Tool: t.Name, Err: fmt.Errorf("handler panicked: %v", r)}
		}
	}()

	stop := interruptOn(ctx, t.vm, t.timeout)
	value, callErr := t.handler(goja.Undefined(), t.vm.ToValue(args))
	stop()
	if callErr != nil {
		return "", &InvocationError{Tool: t.Name, Err: handlerError(callErr)}
	}

	if p, ok := value.Export().(*goja.Promise); ok {
		switch p.State() {
		case goja.PromiseStateFulfilled:
			value = p.Result()
		case goja.PromiseStateRejected:
			return "", &InvocationError{Tool: t.Name, Err: fmt.Errorf("handler rejected: %s", p.Result().String())}
		default:
			return "", &InvocationError{Tool: t.Name, Err: fmt.Errorf("handler did not settle")}
		}
	}

	return encodeResult(value)
}

// Summary describes a compiled tool without its handler.
func (t *Tool) Summary() *ToolSummary {
	return &ToolSummary{Name: t.Name, Description: t.Description, Parameters: t.Schema.Fields()}
}

type ToolSummary struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Parameters  []string `json:"parameters"`
}

func encodeResult(value goja.Value) (string, error) {
	if isUnset(value) {
		return "", nil
	}
	exported := value.Export()
	if s, ok := exported.(string); ok {
		return s, nil
	}
	b, err := json.Marshal(exported)
	if err != nil {
		return value.String(), nil
	}
	return string(b), nil
}

func handlerError(err error) error {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		if reason, ok := interrupted.Value().(error); ok {
			return reason
		}
		return ErrTimeout
	}
	var ex *goja.Exception
	if errors.As(err, &ex) {
		return errors.New(ex.Value().String())
	}
	return err
}
