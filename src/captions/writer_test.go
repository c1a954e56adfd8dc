package captions

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Protocol-Lattice/promo-agent/src/errs"
	"github.com/Protocol-Lattice/promo-agent/src/models"
)

func TestWritePromptCarriesProductDetails(t *testing.T) {
	model := models.NewScriptedModel(models.Turn{Text: "  Obsessed with this cream ✨ #skincare  "})
	w, err := New(Options{Model: model})
	require.NoError(t, err)

	post, err := w.Write(context.Background(), Product{
		Name:  "HydraGlow Cream",
		Brand: "Lumi",
		Price: 449.5,
		URL:   "https://shop.example.com/r/abc",
	})
	require.NoError(t, err)
	assert.Equal(t, "Obsessed with this cream ✨ #skincare", post)

	reqs := model.Requests()
	require.Len(t, reqs, 1)
	assert.Empty(t, reqs[0].Tools)
	prompt := reqs[0].Messages[0].Content
	assert.Contains(t, prompt, "Product: HydraGlow Cream")
	assert.Contains(t, prompt, "Brand: Lumi")
	assert.Contains(t, prompt, "Price: 449.5 CZK")
	assert.Contains(t, prompt, "Affiliate link: https://shop.example.com/r/abc")
	assert.Contains(t, prompt, "includes the affiliate link")
	assert.Contains(t, prompt, "3 to 5 relevant hashtags")
}

func TestWriteFallsBackToConfiguredAffiliate(t *testing.T) {
	w, err := New(Options{Model: models.NewScriptedModel(), AffiliateURL: "https://aff.example.com", Currency: "EUR"})
	require.NoError(t, err)

	prompt := w.Prompt(Product{Name: "Serum", Price: 12})
	assert.Contains(t, prompt, "Price: 12 EUR")
	assert.NotContains(t, prompt, "Affiliate link")

	model := models.NewScriptedModel(models.Turn{Text: "post"})
	w, _ = New(Options{Model: model, AffiliateURL: "https://aff.example.com"})
	_, err = w.Write(context.Background(), Product{Name: "Serum"})
	require.NoError(t, err)
	assert.Contains(t, model.Requests()[0].Messages[0].Content, "Affiliate link: https://aff.example.com")
}

func TestWriteErrors(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)

	w, _ := New(Options{Model: models.NewScriptedModel()})
	_, err = w.Write(context.Background(), Product{Name: "  "})
	assert.True(t, errs.IsInvalid(err))

	// ScriptedModel with no turns answers with empty text.
	_, err = w.Write(context.Background(), Product{Name: "Serum"})
	assert.True(t, errs.IsUpstream(err))

	failing := models.NewScriptedModel().FailAt(0, errors.New("503"))
	w, _ = New(Options{Model: failing})
	_, err = w.Write(context.Background(), Product{Name: "Serum"})
	assert.True(t, errs.IsUpstream(err))
	assert.ErrorContains(t, err, "503")
}
