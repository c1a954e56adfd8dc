package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Protocol-Lattice/promo-agent/src/catalog"
	"github.com/Protocol-Lattice/promo-agent/src/imagesynth"
)

func searchInvocation(products ...catalog.ProductRecord) ToolInvocation {
	return ToolInvocation{
		Ordinal:  1,
		Tool:     ToolSearchProducts,
		ToolName: "searchProducts",
		Search:   &catalog.Outcome{Products: products},
	}
}

func imageInvocation(url, errMsg string) ToolInvocation {
	inv := ToolInvocation{
		Tool:      ToolGenerateImage,
		ToolName:  "generateImage",
		Arguments: map[string]any{"productName": "HydraGlow Cream"},
		Image:     &imagesynth.Result{ImageURL: url, Error: errMsg},
		Error:     errMsg,
	}
	return inv
}

func TestFormatProductList(t *testing.T) {
	f := Formatter{}
	res := f.Format("", []ToolInvocation{searchInvocation(
		catalog.ProductRecord{Name: "HydraGlow Cream", Brand: "Aqua Labs", Category: "Skincare", Price: 449},
		catalog.ProductRecord{Name: "Velvet Serum", Brand: "Lune", Category: "Skincare", Price: 699.5},
	)}, 0)

	want := "🔍 Found Products:\n" +
		"\n• HydraGlow Cream\n  Brand: Aqua Labs\n  Price: 449 CZK\n  Category: Skincare\n" +
		"\n• Velvet Serum\n  Brand: Lune\n  Price: 699.5 CZK\n  Category: Skincare"
	assert.Equal(t, want, res.Text)
	assert.Empty(t, res.ImageURL)
}

func TestFormatSkipsSeenInvocations(t *testing.T) {
	invs := []ToolInvocation{
		searchInvocation(catalog.ProductRecord{Name: "Seen Cream"}),
		searchInvocation(catalog.ProductRecord{Name: "Fresh Serum"}),
	}
	res := Formatter{Currency: "EUR"}.Format("Here you go.", invs, 1)
	assert.Contains(t, res.Text, "Here you go.")
	assert.Contains(t, res.Text, "Fresh Serum")
	assert.Contains(t, res.Text, "EUR")
	assert.NotContains(t, res.Text, "Seen Cream")
}

func TestFormatEmptyTextRendersEverything(t *testing.T) {
	invs := []ToolInvocation{searchInvocation(catalog.ProductRecord{Name: "Seen Cream"})}
	res := Formatter{}.Format("  ", invs, 1)
	assert.Contains(t, res.Text, "Seen Cream")
}

func TestFormatImageURLIsLastSuccess(t *testing.T) {
	invs := []ToolInvocation{
		imageInvocation("https://img.example.com/1.png", ""),
		imageInvocation("https://img.example.com/2.png", ""),
		imageInvocation("", "no image data found"),
	}
	res := Formatter{}.Format("Done!", invs, 3)
	assert.Equal(t, "https://img.example.com/2.png", res.ImageURL)
	assert.Equal(t, "Done!", res.Text, "the url stays out of the prose")
}

func TestFormatImageNotes(t *testing.T) {
	ok := Formatter{}.Format("", []ToolInvocation{imageInvocation("https://img.example.com/1.png", "")}, 0)
	assert.Equal(t, "✨ Generated your promotional image with HydraGlow Cream!", ok.Text)

	failed := Formatter{}.Format("", []ToolInvocation{imageInvocation("", "photo required")}, 0)
	assert.Equal(t, "❌ Failed to generate image: photo required", failed.Text)
}

func TestFormatSearchStates(t *testing.T) {
	empty := Formatter{}.Format("", []ToolInvocation{searchInvocation()}, 0)
	assert.Equal(t, "🔍 No matching products found.", empty.Text)

	broken := searchInvocation()
	broken.Error = "the service is temporarily unavailable"
	res := Formatter{}.Format("", []ToolInvocation{broken}, 0)
	assert.Equal(t, "⚠️ Product search failed: the service is temporarily unavailable", res.Text)
}

func TestFormatNeverEmpty(t *testing.T) {
	res := Formatter{}.Format("", nil, 0)
	assert.Equal(t, fallbackReply, res.Text)
}
