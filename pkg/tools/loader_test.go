package tools

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/choraleia/plugbot/pkg/db"
	"github.com/choraleia/plugbot/pkg/event"
	"github.com/choraleia/plugbot/pkg/sandbox"
)

const addCode = `tool(async ({num1, num2}) => num1 + num2, {
	name: "add",
	description: "Adds two numbers",
	schema: z.object({num1: z.number(), num2: z.number()}),
})`

func namedTool(name string) string {
	return fmt.Sprintf(`tool(() => %q, {name: %q, schema: z.object({})})`, name, name)
}

func assoc(id, code string, enabled bool) db.ChatbotPlugin {
	return db.ChatbotPlugin{
		ChatbotID: "bot",
		PluginID:  id,
		Enabled:   enabled,
		Plugin:    db.Plugin{ID: id, Name: id, Code: code, Version: 1},
	}
}

func newTestLoader(emitter *event.Emitter) *PluginToolLoader {
	compiler := sandbox.NewCompiler(sandbox.Options{CompileTimeout: time.Second})
	return NewPluginToolLoader(compiler, emitter, 2)
}

func TestLoadChatbotTools(t *testing.T) {
	tests := []struct {
		name       string
		plugins    []db.ChatbotPlugin
		wantTools  []string
		wantFailed []string
	}{
		{
			name:      "no plugins",
			plugins:   nil,
			wantTools: nil,
		},
		{
			name: "disabled plugins are excluded",
			plugins: []db.ChatbotPlugin{
				assoc("p-add", addCode, true),
				assoc("p-off", namedTool("off"), false),
			},
			wantTools: []string{"add"},
		},
		{
			name: "broken plugin is dropped and reported",
			plugins: []db.ChatbotPlugin{
				assoc("p-broken", "tool(", true),
				assoc("p-add", addCode, true),
				assoc("p-notool", "1 + 1", true),
			},
			wantTools:  []string{"add"},
			wantFailed: []string{"p-broken", "p-notool"},
		},
		{
			name: "duplicate tool names keep the first",
			plugins: []db.ChatbotPlugin{
				assoc("p-first", namedTool("echo"), true),
				assoc("p-second", namedTool("echo"), true),
				assoc("p-other", namedTool("other"), true),
			},
			wantTools:  []string{"echo", "other"},
			wantFailed: []string{"p-second"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			emitter := event.NewEmitter()
			var events []event.PluginCompileFailedEvent
			emitter.On(event.PluginCompileFailed, func(ev event.Event) {
				events = append(events, ev.(event.PluginCompileFailedEvent))
			})

			bot := &db.Chatbot{ID: "bot", Plugins: tt.plugins}
			tools, report, err := newTestLoader(emitter).LoadChatbotTools(context.Background(), bot)
			if err != nil {
				t.Fatalf("LoadChatbotTools: %v", err)
			}

			var names []string
			for _, tl := range tools {
				info, err := tl.Info(context.Background())
				if err != nil {
					t.Fatalf("Info: %v", err)
				}
				names = append(names, info.Name)
			}
			if fmt.Sprint(names) != fmt.Sprint(tt.wantTools) {
				t.Fatalf("tools = %v, want %v", names, tt.wantTools)
			}

			var failed []string
			for _, f := range report.Failures {
				failed = append(failed, f.PluginID)
			}
			if fmt.Sprint(failed) != fmt.Sprint(tt.wantFailed) {
				t.Fatalf("failures = %v, want %v", failed, tt.wantFailed)
			}
			if len(events) != len(tt.wantFailed) {
				t.Fatalf("expected %d compileFailed events, got %d", len(tt.wantFailed), len(events))
			}
		})
	}
}

func TestLoadChatbotTools_InvokesPlugin(t *testing.T) {
	bot := &db.Chatbot{ID: "bot", Plugins: []db.ChatbotPlugin{assoc("p-add", addCode, true)}}
	tools, _, err := newTestLoader(event.NewEmitter()).LoadChatbotTools(context.Background(), bot)
	if err != nil || len(tools) != 1 {
		t.Fatalf("expected one tool, got %d (%v)", len(tools), err)
	}

	out, err := tools[0].InvokableRun(context.Background(), `{"num1": 2, "num2": 2}`)
	if err != nil {
		t.Fatalf("InvokableRun: %v", err)
	}
	if out != "4" {
		t.Fatalf("expected 4, got %q", out)
	}
}

func TestPluginTool_HandlerFailures(t *testing.T) {
	throwing := `tool(async ({n}) => { if (n > 0) throw new Error("boom"); return "ok"; }, {
		name: "flaky",
		schema: z.object({n: z.number()}),
	})`
	bot := &db.Chatbot{ID: "bot", Plugins: []db.ChatbotPlugin{assoc("p-flaky", throwing, true)}}
	tools, _, err := newTestLoader(event.NewEmitter()).LoadChatbotTools(context.Background(), bot)
	if err != nil || len(tools) != 1 {
		t.Fatalf("expected one tool, got %d (%v)", len(tools), err)
	}

	tests := []struct {
		name    string
		args    string
		want    string
		wantErr bool
	}{
		{name: "success", args: `{"n": 0}`, want: "ok"},
		{name: "thrown error becomes tool output", args: `{"n": 1}`, want: "Error: handler rejected: Error: boom"},
		{name: "bad arguments fail the call", args: `{"n": "one"}`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := tools[0].InvokableRun(context.Background(), tt.args)
			if tt.wantErr {
				if !errors.Is(err, sandbox.ErrInvalidArguments) {
					t.Fatalf("expected ErrInvalidArguments, got %q, %v", out, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("InvokableRun: %v", err)
			}
			if out != tt.want {
				t.Fatalf("output = %q, want %q", out, tt.want)
			}
		})
	}
}

func TestLoadChatbotTools_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	bot := &db.Chatbot{ID: "bot", Plugins: []db.ChatbotPlugin{assoc("p-add", addCode, true)}}
	if _, _, err := newTestLoader(event.NewEmitter()).LoadChatbotTools(ctx, bot); err == nil {
		t.Fatalf("expected context error")
	}
}
