package agent

import (
	"strconv"
	"strings"
)

const DefaultCurrency = "CZK"

const fallbackReply = "Sorry, I couldn't finish that request. Please try rephrasing it."

// Formatter turns the model's final text and the invocations it never got to
// describe into the reply.
type Formatter struct {
	Currency string
}

// Format renders invocations[seen:] after text. When text is empty the model
// described nothing, so every invocation is rendered. ImageURL is always the
// last successful synthesis, seen or not.
func (f Formatter) Format(text string, invocations []ToolInvocation, seen int) OrchestrationResult {
	text = strings.TrimSpace(text)
	if text == "" || seen < 0 || seen > len(invocations) {
		seen = 0
	}
	unseen := invocations[seen:]

	// A successful repair replaces the product list it was built from.
	repairedOK := false
	for _, inv := range unseen {
		if inv.Repair && inv.ImageURL() != "" {
			repairedOK = true
		}
	}

	var sections []string
	if text != "" {
		sections = append(sections, text)
	}
	for _, inv := range unseen {
		if inv.Repair {
			sections = append(sections, f.imageNote(inv))
		}
	}
	for _, inv := range unseen {
		if inv.Repair || (repairedOK && inv.Tool == ToolSearchProducts) {
			continue
		}
		if s := f.render(inv); s != "" {
			sections = append(sections, s)
		}
	}

	res := OrchestrationResult{Text: strings.Join(sections, "\n\n")}
	if res.Text == "" {
		res.Text = fallbackReply
	}
	for _, inv := range invocations {
		if url := inv.ImageURL(); url != "" {
			res.ImageURL = url
		}
	}
	return res
}

func (f Formatter) render(inv ToolInvocation) string {
	switch inv.Tool {
	case ToolSearchProducts:
		return f.productList(inv)
	case ToolGenerateImage:
		return f.imageNote(inv)
	default:
		return "⚠️ " + inv.ToolName + " failed: " + inv.Error
	}
}

func (f Formatter) productList(inv ToolInvocation) string {
	if inv.Search == nil {
		return "⚠️ Product search failed: " + inv.Error
	}
	if len(inv.Search.Products) == 0 {
		if inv.Error != "" {
			return "⚠️ Product search failed: " + inv.Error
		}
		return "🔍 No matching products found."
	}
	currency := f.Currency
	if currency == "" {
		currency = DefaultCurrency
	}
	var b strings.Builder
	b.WriteString("🔍 Found Products:\n")
	for _, p := range inv.Search.Products {
		b.WriteString("\n• " + p.Name + "\n")
		b.WriteString("  Brand: " + p.Brand + "\n")
		b.WriteString("  Price: " + strconv.FormatFloat(p.Price, 'f', -1, 64) + " " + currency + "\n")
		b.WriteString("  Category: " + p.Category + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (f Formatter) imageNote(inv ToolInvocation) string {
	if inv.ImageURL() == "" {
		reason := inv.Error
		if reason == "" {
			reason = "no image data found"
		}
		return "❌ Failed to generate image: " + reason
	}
	if name := argString(inv.Arguments, "productName"); name != "" {
		return "✨ Generated your promotional image with " + name + "!"
	}
	return "✨ Generated your promotional image!"
}
