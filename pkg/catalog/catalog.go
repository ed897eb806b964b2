// Package catalog provides semantic search over plugins backed by chromem-go.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/choraleia/plugbot/pkg/db"
	"github.com/choraleia/plugbot/pkg/utils"
	"github.com/cloudwego/eino/components/embedding"
	chromem "github.com/philippgille/chromem-go"
)

const collectionName = "plugins"

// Catalog indexes plugin names and tool descriptions as embeddings.
type Catalog struct {
	vectorDB *chromem.DB
	col      *chromem.Collection
	logger   *slog.Logger
}

// New creates a catalog using embed for documents and queries. A non-empty
// path persists the index on disk.
func New(embed chromem.EmbeddingFunc, path string) (*Catalog, error) {
	if embed == nil {
		return nil, errors.New("catalog: embedding function is required")
	}

	var (
		vectorDB *chromem.DB
		err      error
	)
	if path != "" {
		if err := os.MkdirAll(path, 0755); err != nil {
			return nil, fmt.Errorf("failed to create catalog directory: %w", err)
		}
		vectorDB, err = chromem.NewPersistentDB(path, false)
		if err != nil {
			return nil, fmt.Errorf("failed to open catalog: %w", err)
		}
	} else {
		vectorDB = chromem.NewDB()
	}

	col, err := vectorDB.GetOrCreateCollection(collectionName, nil, embed)
	if err != nil {
		return nil, fmt.Errorf("failed to create catalog collection: %w", err)
	}

	logger := utils.GetLogger()
	logger.Info("Plugin catalog initialized", "path", path, "documents", col.Count())
	return &Catalog{vectorDB: vectorDB, col: col, logger: logger}, nil
}

// NewFromEmbedder wraps an eino embedder as the catalog's embedding function.
func NewFromEmbedder(embedder embedding.Embedder, path string) (*Catalog, error) {
	return New(EmbeddingFuncFromEmbedder(embedder), path)
}

// EmbeddingFuncFromEmbedder adapts an eino Embedder to chromem-go.
func EmbeddingFuncFromEmbedder(embedder embedding.Embedder) chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		embeddings, err := embedder.EmbedStrings(ctx, []string{text})
		if err != nil {
			return nil, err
		}
		if len(embeddings) == 0 {
			return nil, fmt.Errorf("no embeddings returned")
		}
		result := make([]float32, len(embeddings[0]))
		for i, v := range embeddings[0] {
			result[i] = float32(v)
		}
		return result, nil
	}
}

func documentContent(p *db.Plugin) string {
	if p.Description == "" {
		return p.Name
	}
	return p.Name + "\n" + p.Description
}

// Index adds or replaces the plugin's document.
func (c *Catalog) Index(ctx context.Context, p *db.Plugin) error {
	return c.col.AddDocument(ctx, chromem.Document{
		ID:      p.ID,
		Content: documentContent(p),
		Metadata: map[string]string{
			"name": p.Name,
		},
	})
}

// Search returns plugin IDs ranked by similarity to query.
func (c *Catalog) Search(ctx context.Context, query string, limit int) ([]string, error) {
	count := c.col.Count()
	if count == 0 || strings.TrimSpace(query) == "" {
		return []string{}, nil
	}
	if limit <= 0 || limit > count {
		limit = count
	}

	results, err := c.col.Query(ctx, query, limit, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("catalog search failed: %w", err)
	}
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.ID
	}
	return ids, nil
}

// Rebuild indexes every plugin, logging and skipping ones that fail.
func (c *Catalog) Rebuild(ctx context.Context, plugins []db.Plugin) int {
	indexed := 0
	for i := range plugins {
		if err := ctx.Err(); err != nil {
			break
		}
		if err := c.Index(ctx, &plugins[i]); err != nil {
			c.logger.Warn("Failed to index plugin", "pluginID", plugins[i].ID, "error", err)
			continue
		}
		indexed++
	}
	c.logger.Info("Plugin catalog rebuilt", "indexed", indexed, "total", len(plugins))
	return indexed
}

// Len reports the number of indexed plugins.
func (c *Catalog) Len() int {
	return c.col.Count()
}
