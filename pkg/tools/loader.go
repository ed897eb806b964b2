// Package tools assembles the tool set a chatbot's agent may call.
package tools

import (
	"context"
	"errors"
	"log/slog"

	"github.com/choraleia/plugbot/pkg/db"
	"github.com/choraleia/plugbot/pkg/event"
	"github.com/choraleia/plugbot/pkg/models"
	"github.com/choraleia/plugbot/pkg/sandbox"
	"github.com/choraleia/plugbot/pkg/utils"
	"github.com/cloudwego/eino/components/tool"
	"golang.org/x/sync/errgroup"
)

const defaultMaxConcurrency = 8

// LoadReport lists what happened to each enabled plugin.
type LoadReport struct {
	Loaded   []string               `json:"loaded"`
	Failures []models.PluginFailure `json:"failures,omitempty"`
}

// PluginToolLoader compiles a chatbot's enabled plugins into tools. Nothing
// is cached: every call recompiles from the stored source.
type PluginToolLoader struct {
	compiler       *sandbox.Compiler
	emitter        *event.Emitter
	maxConcurrency int
	logger         *slog.Logger
}

func NewPluginToolLoader(compiler *sandbox.Compiler, emitter *event.Emitter, maxConcurrency int) *PluginToolLoader {
	if emitter == nil {
		emitter = event.Global()
	}
	if maxConcurrency <= 0 {
		maxConcurrency = defaultMaxConcurrency
	}
	return &PluginToolLoader{
		compiler:       compiler,
		emitter:        emitter,
		maxConcurrency: maxConcurrency,
		logger:         utils.GetLogger(),
	}
}

type compileResult struct {
	pluginID string
	tool     *sandbox.Tool
	err      *sandbox.CompileError
}

// LoadChatbotTools compiles the enabled plugins of chatbot concurrently and
// waits for all of them. Plugins that fail to compile are left out of the
// tool set and reported; they never fail the call. Only ctx cancellation
// does.
func (l *PluginToolLoader) LoadChatbotTools(ctx context.Context, chatbot *db.Chatbot) ([]tool.InvokableTool, *LoadReport, error) {
	var enabled []db.ChatbotPlugin
	for _, assoc := range chatbot.Plugins {
		// Skip disabled plugins
		if !assoc.Enabled {
			l.logger.Debug("Skipping disabled plugin", "chatbotID", chatbot.ID, "pluginID", assoc.PluginID)
			continue
		}
		enabled = append(enabled, assoc)
	}

	report := &LoadReport{Loaded: []string{}}
	if len(enabled) == 0 {
		return nil, report, nil
	}

	results := make([]compileResult, len(enabled))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.maxConcurrency)
	for i, assoc := range enabled {
		g.Go(func() error {
			compiled, err := l.compiler.Compile(gctx, assoc.Plugin.Code)
			results[i] = compileResult{pluginID: assoc.PluginID, tool: compiled}
			if err != nil {
				var cerr *sandbox.CompileError
				if !errors.As(err, &cerr) {
					cerr = &sandbox.CompileError{Code: sandbox.CodeEvaluation, Message: err.Error()}
				}
				results[i].err = cerr
			}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	var tools []tool.InvokableTool
	seen := make(map[string]string)
	for _, r := range results {
		if r.err == nil {
			if owner, dup := seen[r.tool.Name]; dup {
				r.err = &sandbox.CompileError{
					Code:    sandbox.CodeInvalidName,
					Message: "tool name " + r.tool.Name + " is already provided by plugin " + owner,
				}
			}
		}
		if r.err != nil {
			l.reportFailure(chatbot.ID, r.pluginID, r.err, report)
			continue
		}
		seen[r.tool.Name] = r.pluginID
		tools = append(tools, &pluginTool{pluginID: r.pluginID, compiled: r.tool, logger: l.logger})
		report.Loaded = append(report.Loaded, r.tool.Name)
	}

	l.logger.Info("Loaded chatbot tools",
		"chatbotID", chatbot.ID,
		"enabled", len(enabled),
		"loaded", len(tools),
		"failed", len(report.Failures))
	return tools, report, nil
}

func (l *PluginToolLoader) reportFailure(chatbotID, pluginID string, cerr *sandbox.CompileError, report *LoadReport) {
	l.logger.Warn("Dropping plugin that failed to compile",
		"chatbotID", chatbotID,
		"pluginID", pluginID,
		"code", cerr.Code,
		"error", cerr.Message,
		"sourceBytes", len(cerr.Source))

	report.Failures = append(report.Failures, models.PluginFailure{
		PluginID: pluginID,
		Code:     string(cerr.Code),
		Message:  cerr.Message,
		Line:     cerr.Line,
		Column:   cerr.Column,
	})
	l.emitter.Emit(event.PluginCompileFailedEvent{
		ChatbotID: chatbotID,
		PluginID:  pluginID,
		Code:      string(cerr.Code),
		Message:   cerr.Message,
	})
}
