package catalog

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/choraleia/plugbot/pkg/db"
	"github.com/cloudwego/eino/components/embedding"
)

var vocabulary = []string{"add", "multiply", "weather", "translate"}

// keywordEmbed embeds text as keyword presence over a tiny vocabulary.
func keywordEmbed(_ context.Context, text string) ([]float32, error) {
	text = strings.ToLower(text)
	vec := make([]float32, len(vocabulary)+1)
	for i, w := range vocabulary {
		if strings.Contains(text, w) {
			vec[i] = 1
		}
	}
	vec[len(vocabulary)] = 0.1
	return vec, nil
}

func newTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := New(keywordEmbed, "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestSearch_RanksBySimilarity(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()

	n := c.Rebuild(ctx, []db.Plugin{
		{ID: "p-add", Name: "add", Description: "Adds two numbers"},
		{ID: "p-weather", Name: "forecast", Description: "Current weather for a city"},
		{ID: "p-mul", Name: "multiply", Description: "Multiplies two numbers"},
	})
	if n != 3 || c.Len() != 3 {
		t.Fatalf("expected 3 indexed documents, got %d/%d", n, c.Len())
	}

	ids, err := c.Search(ctx, "what's the weather like", 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(ids) != 1 || ids[0] != "p-weather" {
		t.Fatalf("unexpected results %v", ids)
	}

	// Limits above the collection size are clamped.
	ids, err = c.Search(ctx, "multiply", 50)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(ids) != 3 || ids[0] != "p-mul" {
		t.Fatalf("unexpected results %v", ids)
	}
}

func TestIndex_ReplacesDocument(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()

	p := &db.Plugin{ID: "p1", Name: "add", Description: "Adds numbers"}
	if err := c.Index(ctx, p); err != nil {
		t.Fatalf("Index: %v", err)
	}
	p.Name, p.Description = "translate", "Translates text"
	if err := c.Index(ctx, p); err != nil {
		t.Fatalf("Index: %v", err)
	}
	if c.Len() != 1 {
		t.Fatalf("re-indexing duplicated the document: %d", c.Len())
	}
}

func TestSearch_EmptyCatalog(t *testing.T) {
	ids, err := newTestCatalog(t).Search(context.Background(), "anything", 5)
	if err != nil || len(ids) != 0 {
		t.Fatalf("expected no results, got %v (%v)", ids, err)
	}
}

type fakeEmbedder struct {
	vectors [][]float64
	err     error
}

func (f fakeEmbedder) EmbedStrings(context.Context, []string, ...embedding.Option) ([][]float64, error) {
	return f.vectors, f.err
}

func TestEmbeddingFuncFromEmbedder(t *testing.T) {
	ctx := context.Background()

	vec, err := EmbeddingFuncFromEmbedder(fakeEmbedder{vectors: [][]float64{{0.5, 0.25}}})(ctx, "x")
	if err != nil || len(vec) != 2 || vec[0] != 0.5 || vec[1] != 0.25 {
		t.Fatalf("unexpected embedding %v (%v)", vec, err)
	}
	if _, err := EmbeddingFuncFromEmbedder(fakeEmbedder{})(ctx, "x"); err == nil {
		t.Fatalf("expected an error for an empty response")
	}
	boom := errors.New("boom")
	if _, err := EmbeddingFuncFromEmbedder(fakeEmbedder{err: boom})(ctx, "x"); !errors.Is(err, boom) {
		t.Fatalf("expected embedder error, got %v", err)
	}
}

func TestNew_RequiresEmbeddingFunc(t *testing.T) {
	if _, err := New(nil, ""); err == nil {
		t.Fatalf("expected error")
	}
}

func TestNew_Persistent(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	c, err := New(keywordEmbed, dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Index(ctx, &db.Plugin{ID: "p1", Name: "add"}); err != nil {
		t.Fatalf("Index: %v", err)
	}

	reopened, err := New(keywordEmbed, dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if reopened.Len() != 1 {
		t.Fatalf("expected the persisted document, got %d", reopened.Len())
	}
}
