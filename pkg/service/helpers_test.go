package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/choraleia/plugbot/pkg/config"
	"github.com/choraleia/plugbot/pkg/db"
	"github.com/choraleia/plugbot/pkg/event"
	"github.com/choraleia/plugbot/pkg/sandbox"
	"github.com/choraleia/plugbot/pkg/tools"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"gorm.io/gorm"
)

const addCode = `tool(async ({num1, num2}) => num1 + num2, {
	name: "add",
	description: "Adds two numbers",
	schema: z.object({num1: z.number(), num2: z.number()}),
})`

const mulCode = `tool(({num1, num2}) => num1 * num2, {
	name: "multiply",
	description: "Multiplies two numbers",
	schema: z.object({num1: z.number(), num2: z.number()}),
})`

// scriptedModel is a tool-calling chat model whose replies come from respond.
type scriptedModel struct {
	mu      sync.Mutex
	respond func(in []*schema.Message) (*schema.Message, error)
	inputs  [][]*schema.Message
}

func (m *scriptedModel) Generate(_ context.Context, in []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	m.mu.Lock()
	m.inputs = append(m.inputs, append([]*schema.Message(nil), in...))
	m.mu.Unlock()
	return m.respond(in)
}

func (m *scriptedModel) Stream(ctx context.Context, in []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, in, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

func (m *scriptedModel) WithTools(_ []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	return m, nil
}

// calls returns the model inputs recorded so far.
func (m *scriptedModel) calls() [][]*schema.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]*schema.Message(nil), m.inputs...)
}

// callAddThenAnswer asks for add(2, 2) on a user message and answers with the
// tool result once it arrives.
func callAddThenAnswer(in []*schema.Message) (*schema.Message, error) {
	last := in[len(in)-1]
	if last.Role == schema.Tool {
		return schema.AssistantMessage("The sum is "+last.Content, nil), nil
	}
	return schema.AssistantMessage("", []schema.ToolCall{{
		ID:   "call-1",
		Type: "function",
		Function: schema.FunctionCall{
			Name:      "add",
			Arguments: `{"num1": 2, "num2": 2}`,
		},
	}}), nil
}

// echoAnswer replies with the last user message.
func echoAnswer(in []*schema.Message) (*schema.Message, error) {
	return schema.AssistantMessage("echo: "+in[len(in)-1].Content, nil), nil
}

type fakeFactory struct {
	model *scriptedModel
	err   error
}

func (f *fakeFactory) CreateChatModel(context.Context, *config.ModelConfig) (model.ToolCallingChatModel, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.model, nil
}

var errModelDown = errors.New("model backend down")

type fixture struct {
	db       *gorm.DB
	emitter  *event.Emitter
	plugins  *PluginService
	chatbots *ChatbotService
	chat     *ChatService
	model    *scriptedModel
}

func newFixture(t *testing.T, respond func([]*schema.Message) (*schema.Message, error)) *fixture {
	t.Helper()
	gdb, err := db.OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	emitter := event.NewEmitter()
	compiler := sandbox.NewCompiler(sandbox.Options{CompileTimeout: time.Second, HandlerTimeout: time.Second})
	chatModel := &scriptedModel{respond: respond}
	loader := tools.NewPluginToolLoader(compiler, emitter, 2)

	return &fixture{
		db:       gdb,
		emitter:  emitter,
		plugins:  NewPluginService(gdb, compiler, emitter),
		chatbots: NewChatbotService(gdb, emitter),
		chat: NewChatService(gdb, &fakeFactory{model: chatModel}, loader, nil, emitter, ChatOptions{
			MaxIterations: 4,
			AgentTimeout:  5 * time.Second,
		}),
		model: chatModel,
	}
}

func (f *fixture) mustPlugin(t *testing.T, userID, code string) *db.Plugin {
	t.Helper()
	p, err := f.plugins.CreatePlugin(context.Background(), userID, "", code)
	if err != nil {
		t.Fatalf("CreatePlugin: %v", err)
	}
	return p
}

func (f *fixture) mustChatbot(t *testing.T, userID string) *db.Chatbot {
	t.Helper()
	bot, err := f.chatbots.CreateChatbot(context.Background(), userID, "Calculator", "", "")
	if err != nil {
		t.Fatalf("CreateChatbot: %v", err)
	}
	return bot
}

func ptr[T any](v T) *T { return &v }
