package sandbox

import "fmt"

// ErrorCode classifies why a plugin failed to compile.
type ErrorCode string

const (
	CodeSyntax         ErrorCode = "syntax_error"
	CodeForbidden      ErrorCode = "forbidden_construct"
	CodeEvaluation     ErrorCode = "evaluation_error"
	CodeTimeout        ErrorCode = "timeout"
	CodeNotATool       ErrorCode = "not_a_tool"
	CodeInvalidName    ErrorCode = "invalid_name"
	CodeInvalidHandler ErrorCode = "invalid_handler"
	CodeInvalidSchema  ErrorCode = "invalid_schema"
)

// CompileError is the only error type returned by Compile.
// Line and Column are 1-based and zero when unknown. Source is the code
// that failed and is never serialized.
type CompileError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Line    int       `json:"line,omitempty"`
	Column  int       `json:"column,omitempty"`
	Source  string    `json:"-"`
}

func (e *CompileError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s at %d:%d: %s", e.Code, e.Line, e.Column, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func compileErrorf(code ErrorCode, format string, args ...any) *CompileError {
	return &CompileError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// InvocationError is returned when a compiled tool's handler fails.
type InvocationError struct {
	Tool string
	Err  error
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("tool %s: %v", e.Tool, e.Err)
}

func (e *InvocationError) Unwrap() error {
	return e.Err
}
