package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/choraleia/plugbot/pkg/config"
	"github.com/choraleia/plugbot/pkg/utils"
	ollamaEmbed "github.com/cloudwego/eino-ext/components/embedding/ollama"
	openaiEmbed "github.com/cloudwego/eino-ext/components/embedding/openai"
	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/deepseek"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/ollama"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino-ext/components/model/qianfan"
	"github.com/cloudwego/eino-ext/components/model/qwen"
	"github.com/cloudwego/eino/components/embedding"
	einoModel "github.com/cloudwego/eino/components/model"
	"google.golang.org/genai"
)

const (
	defaultOllamaURL            = "http://localhost:11434"
	defaultOpenAIEmbeddingModel = "text-embedding-3-small"
	defaultOllamaEmbeddingModel = "nomic-embed-text"
)

// ModelFactory builds the reasoning model used for conversation turns.
type ModelFactory interface {
	CreateChatModel(ctx context.Context, cfg *config.ModelConfig) (einoModel.ToolCallingChatModel, error)
}

type ModelService struct {
	logger *slog.Logger
}

func NewModelService() *ModelService {
	return &ModelService{
		logger: utils.GetLogger(),
	}
}

// CreateChatModel creates an eino chat model from config
func (m *ModelService) CreateChatModel(ctx context.Context, cfg *config.ModelConfig) (einoModel.ToolCallingChatModel, error) {
	if cfg == nil || cfg.Provider == "" {
		return nil, fmt.Errorf("model provider is not configured")
	}

	m.logger.Debug("Creating chat model", "provider", cfg.Provider, "model", cfg.Model, "apiKey", utils.MaskSensitiveString(cfg.APIKey))

	switch cfg.Provider {
	case "openai", "custom":
		chatModel, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL: cfg.BaseURL,
			APIKey:  cfg.APIKey,
			Model:   orDefault(cfg.Model, "gpt-4o-mini"),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create OpenAI model: %w", err)
		}
		return chatModel, nil

	case "ark":
		timeout := time.Second * 600
		retries := 3
		chatModel, err := ark.NewChatModel(ctx, &ark.ChatModelConfig{
			BaseURL:    cfg.BaseURL,
			Region:     cfg.Extra["region"],
			Timeout:    &timeout,
			RetryTimes: &retries,
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create Ark model: %w", err)
		}
		return chatModel, nil

	case "deepseek":
		chatModel, err := deepseek.NewChatModel(ctx, &deepseek.ChatModelConfig{
			BaseURL: cfg.BaseURL,
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create DeepSeek model: %w", err)
		}
		return chatModel, nil

	case "anthropic":
		var baseURL *string
		if cfg.BaseURL != "" {
			baseURL = &cfg.BaseURL
		}
		chatModel, err := claude.NewChatModel(ctx, &claude.Config{
			BaseURL:   baseURL,
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			MaxTokens: 8192,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create Claude model: %w", err)
		}
		return chatModel, nil

	case "ollama":
		chatModel, err := ollama.NewChatModel(ctx, &ollama.ChatModelConfig{
			BaseURL: orDefault(cfg.BaseURL, defaultOllamaURL),
			Model:   cfg.Model,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create Ollama model: %w", err)
		}
		return chatModel, nil

	case "google":
		genaiClient, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  cfg.APIKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create Gemini client: %w", err)
		}
		chatModel, err := gemini.NewChatModel(ctx, &gemini.Config{
			Client: genaiClient,
			Model:  cfg.Model,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create Gemini model: %w", err)
		}
		return chatModel, nil

	case "qianfan":
		qianfanConfig := qianfan.GetQianfanSingletonConfig()
		qianfanConfig.BaseURL = cfg.BaseURL
		qianfanConfig.BearerToken = cfg.APIKey
		chatModel, err := qianfan.NewChatModel(ctx, &qianfan.ChatModelConfig{
			Model: cfg.Model,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create Qianfan model: %w", err)
		}
		return chatModel, nil

	case "qwen":
		chatModel, err := qwen.NewChatModel(ctx, &qwen.ChatModelConfig{
			BaseURL: cfg.BaseURL,
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create Qwen model: %w", err)
		}
		return chatModel, nil

	default:
		return nil, fmt.Errorf("unsupported model provider: %s", cfg.Provider)
	}
}

// CreateEmbedder creates an eino embedder for the plugin catalog.
// It returns nil, nil when no embedding provider is configured.
func (m *ModelService) CreateEmbedder(ctx context.Context, cfg *config.ModelConfig) (embedding.Embedder, error) {
	if cfg == nil || cfg.Provider == "" {
		return nil, nil
	}

	switch cfg.Provider {
	case "openai", "custom":
		embedder, err := openaiEmbed.NewEmbedder(ctx, &openaiEmbed.EmbeddingConfig{
			BaseURL: cfg.BaseURL,
			APIKey:  cfg.APIKey,
			Model:   orDefault(cfg.Model, defaultOpenAIEmbeddingModel),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create OpenAI embedder: %w", err)
		}
		return embedder, nil

	case "ollama":
		embedder, err := ollamaEmbed.NewEmbedder(ctx, &ollamaEmbed.EmbeddingConfig{
			BaseURL: orDefault(cfg.BaseURL, defaultOllamaURL),
			Model:   orDefault(cfg.Model, defaultOllamaEmbeddingModel),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create Ollama embedder: %w", err)
		}
		return embedder, nil

	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Provider)
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
