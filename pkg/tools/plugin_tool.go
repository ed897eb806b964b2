package tools

import (
	"context"
	"errors"
	"log/slog"

	"github.com/choraleia/plugbot/pkg/sandbox"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
)

// pluginTool exposes a compiled plugin to the eino tools node.
type pluginTool struct {
	pluginID string
	compiled *sandbox.Tool
	logger   *slog.Logger
}

var _ tool.InvokableTool = (*pluginTool)(nil)

func (t *pluginTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return t.compiled.Info(), nil
}

// InvokableRun reports handler failures to the model as tool output so the
// agent can recover. Rejected arguments and a finished turn context still
// fail the call.
func (t *pluginTool) InvokableRun(ctx context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	out, err := t.compiled.Invoke(ctx, argumentsInJSON)
	if err == nil {
		return out, nil
	}
	var ierr *sandbox.InvocationError
	if !errors.As(err, &ierr) || errors.Is(err, sandbox.ErrInvalidArguments) || ctx.Err() != nil {
		return "", err
	}
	if t.logger != nil {
		t.logger.Warn("Plugin handler failed", "pluginID", t.pluginID, "tool", ierr.Tool, "error", ierr.Err)
	}
	return "Error: " + ierr.Err.Error(), nil
}
