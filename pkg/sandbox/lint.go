package sandbox

import (
	"context"
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
)

// forbiddenIdentifiers name host capabilities plugin code may not reach for.
var forbiddenIdentifiers = map[string]string{
	"require":    "require is not available",
	"process":    "process is not available",
	"globalThis": "globalThis access is not allowed",
}

// Issue is a problem found by Lint.
type Issue struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Line    int       `json:"line"`
	Column  int       `json:"column"`
}

// Lint statically checks plugin source before it is evaluated. It reports
// syntax errors and module or host access. Source that is only valid as a
// function body (a top-level return) is accepted.
func Lint(ctx context.Context, code string) ([]Issue, error) {
	src := []byte(code)
	root, err := parseJS(ctx, src)
	if err != nil {
		return nil, err
	}

	lineOffset := 0
	if root.HasError() {
		wrapped := []byte(bodyPrefix + code + bodySuffix)
		wrappedRoot, err := parseJS(ctx, wrapped)
		if err != nil {
			return nil, err
		}
		if wrappedRoot.HasError() {
			return []Issue{syntaxIssue(root, src)}, nil
		}
		root, src, lineOffset = wrappedRoot, wrapped, 1
	}

	var issues []Issue
	walk(root, func(n *sitter.Node) bool {
		var msg string
		descend := true
		switch n.Type() {
		case "import_statement":
			msg, descend = "import statements are not allowed", false
		case "export_statement":
			msg, descend = "export statements are not allowed", false
		case "import":
			msg = "dynamic import is not allowed"
		case "identifier":
			msg = forbiddenIdentifiers[n.Content(src)]
		}
		if msg == "" {
			return descend
		}
		p := n.StartPoint()
		issues = append(issues, Issue{
			Code:    CodeForbidden,
			Message: msg,
			Line:    int(p.Row) + 1 - lineOffset,
			Column:  int(p.Column) + 1,
		})
		return descend
	})
	return issues, nil
}

func parseJS(ctx context.Context, src []byte) (*sitter.Node, error) {
	parser := sitter.NewParser()
	parser.SetLanguage(javascript.GetLanguage())
	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, fmt.Errorf("failed to parse plugin source: %w", err)
	}
	return tree.RootNode(), nil
}

func syntaxIssue(root *sitter.Node, src []byte) Issue {
	issue := Issue{Code: CodeSyntax, Message: "syntax error", Line: 1, Column: 1}
	var found *sitter.Node
	walk(root, func(n *sitter.Node) bool {
		if found == nil && (n.IsError() || n.IsMissing()) {
			found = n
		}
		return found == nil
	})
	if found != nil {
		p := found.StartPoint()
		issue.Line = int(p.Row) + 1
		issue.Column = int(p.Column) + 1
		if found.IsMissing() {
			issue.Message = fmt.Sprintf("syntax error: missing %s", found.Type())
		} else if text := found.Content(src); text != "" {
			if len(text) > 40 {
				text = text[:40] + "..."
			}
			issue.Message = fmt.Sprintf("syntax error near %q", text)
		}
	}
	return issue
}

// walk visits n depth-first; children are skipped when fn returns false.
func walk(n *sitter.Node, fn func(*sitter.Node) bool) {
	if n == nil || !fn(n) {
		return
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		walk(n.Child(i), fn)
	}
}
