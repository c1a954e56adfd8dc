package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	agent "github.com/Protocol-Lattice/promo-agent"
	"github.com/Protocol-Lattice/promo-agent/src/catalog"
	"github.com/Protocol-Lattice/promo-agent/src/config"
	"github.com/Protocol-Lattice/promo-agent/src/models"
)

const productsJSON = `[
  {"name": "HydraGlow Cream", "brand": "Aqua Labs", "item_category2": "Skincare", "price": 44900, "image": "https://cdn.example.com/hydraglow.jpg", "url": "https://shop.example.com/hydraglow"},
  {"name": "Velvet Night Serum", "brand": "Lune", "item_category2": "Skincare", "price": 69000, "image": "https://cdn.example.com/velvet.jpg"}
]`

func writeProducts(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "products.json")
	require.NoError(t, os.WriteFile(path, []byte(productsJSON), 0o644))
	return path
}

func TestBootstrapDefaultsAndIngest(t *testing.T) {
	ctx := context.Background()
	a, err := bootstrap(ctx, config.Default(), zaptest.NewLogger(t))
	require.NoError(t, err)
	defer a.Close(ctx)

	n, err := a.ingest(ctx, []string{writeProducts(t)}, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	out := a.searcher.Search(ctx, "hydrating cream", 5)
	require.NoError(t, out.Err)
	assert.Len(t, out.Products, 2)
	assert.Len(t, a.agent.Tools(), 2)
	assert.NotNil(t, a.writer)
	assert.NotNil(t, a.advisor)
}

func TestBootstrapRejectsUnknownBackends(t *testing.T) {
	cfg := config.Default()
	cfg.Image.Provider = "dalle"
	_, err := bootstrap(context.Background(), cfg, zaptest.NewLogger(t))
	assert.ErrorContains(t, err, "dalle")

	cfg = config.Default()
	cfg.Model.Provider = "mystery"
	_, err = bootstrap(context.Background(), cfg, zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestSearchCommand(t *testing.T) {
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"search", "face", "cream", "--limit", "1", "--products", writeProducts(t), "--log-level", "error"})
	require.NoError(t, root.ExecuteContext(context.Background()))
	assert.Contains(t, out.String(), "products")
	assert.Equal(t, 1, strings.Count(out.String(), "name:"))
}

func TestIngestCommandNeedsFiles(t *testing.T) {
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"ingest"})
	assert.Error(t, root.Execute())
}

type oneProduct struct{}

func (oneProduct) Search(context.Context, string, int) catalog.Outcome {
	return catalog.Outcome{Products: []catalog.ProductRecord{{Name: "HydraGlow Cream", Price: 449}}}
}

func TestChatLoopKeepsHistory(t *testing.T) {
	model := models.NewScriptedModel(
		models.Turn{Text: "Hi! What are you looking for?"},
		models.Turn{Text: "Try the cream."},
	)
	orch, err := agent.New(agent.Options{Model: model, Searcher: oneProduct{}})
	require.NoError(t, err)

	var out bytes.Buffer
	in := strings.NewReader("hello\n\nany cream?\n/quit\nnever read\n")
	require.NoError(t, chatLoop(context.Background(), orch, in, &out, "", false))

	assert.Contains(t, out.String(), "Hi! What are you looking for?")
	assert.Contains(t, out.String(), "Try the cream.")
	assert.Equal(t, 2, model.Calls())

	second := model.Requests()[1].Messages
	require.Len(t, second, 3)
	assert.Equal(t, models.RoleAssistant, second[1].Role)
}

func TestChatLoopStreams(t *testing.T) {
	model := models.NewScriptedModel(
		models.Turn{ToolCalls: []models.ToolCall{{ID: "c1", Name: "searchProducts", Arguments: `{"query":"cream"}`}}},
		models.Turn{Text: "Found one for you"},
	)
	orch, err := agent.New(agent.Options{Model: model, Searcher: oneProduct{}})
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, chatLoop(context.Background(), orch, strings.NewReader("cream please\n"), &out, "", true))
	assert.Contains(t, out.String(), "[searchProducts]")
	assert.Contains(t, out.String(), "Found one for you")
}

func TestPhotoDataURL(t *testing.T) {
	dir := t.TempDir()
	png := filepath.Join(dir, "me.png")
	require.NoError(t, os.WriteFile(png, []byte("\x89PNG\r\n\x1a\nrest"), 0o644))
	url, err := photoDataURL(png)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "data:image/png;base64,"))

	txt := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(txt, []byte("hello"), 0o644))
	_, err = photoDataURL(txt)
	assert.Error(t, err)

	_, err = photoDataURL(filepath.Join(dir, "missing.jpg"))
	assert.Error(t, err)
}

func TestDescribeImage(t *testing.T) {
	assert.Equal(t, "https://img.example.com/a.png", describeImage("https://img.example.com/a.png"))
	assert.Equal(t, "data:image/png;base64 (26 bytes inline)", describeImage("data:image/png;base64,AAAA"))
}
