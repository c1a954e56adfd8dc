package imagesynth

import (
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

// Shape identifies which response layout carried the image.
type Shape int

const (
	ShapeNone Shape = iota
	ShapeImageAttachment
	ShapeInlineContent
	ShapeTextLink
)

func (s Shape) String() string {
	switch s {
	case ShapeImageAttachment:
		return "image_attachment"
	case ShapeInlineContent:
		return "inline_content"
	case ShapeTextLink:
		return "text_link"
	default:
		return "none"
	}
}

// Normalized is the single image reference extracted from a response.
type Normalized struct {
	ImageURL   string
	Shape      Shape
	Diagnostic string
}

var (
	markdownImage = regexp.MustCompile(`!\[[^\]]*\]\(([^)\s]+)\)`)
	bareURL       = regexp.MustCompile(`https?://[^\s]+`)
)

// Normalize probes, in order: message.images[].image_url.url, an image block
// with inline base64 in a content array, then a markdown image or bare URL
// in text content. When nothing matches, Diagnostic reports the image token
// count from usage so callers can tell "model refused" from "model drew but
// we could not find it".
func Normalize(raw []byte) Normalized {
	if !gjson.ValidBytes(raw) {
		return Normalized{Diagnostic: "response is not valid JSON"}
	}
	doc := gjson.ParseBytes(raw)
	msg := doc.Get("choices.0.message")

	for _, img := range msg.Get("images").Array() {
		if u := strings.TrimSpace(img.Get("image_url.url").String()); u != "" {
			return Normalized{ImageURL: u, Shape: ShapeImageAttachment}
		}
	}

	content := msg.Get("content")
	if content.IsArray() {
		for _, block := range content.Array() {
			if block.Get("type").String() != "image" {
				continue
			}
			data := strings.TrimSpace(block.Get("image.data").String())
			if data == "" {
				continue
			}
			return Normalized{ImageURL: dataURL(data, block.Get("image.mime_type").String()), Shape: ShapeInlineContent}
		}
		var texts []string
		for _, block := range content.Array() {
			if block.Get("type").String() == "text" {
				texts = append(texts, block.Get("text").String())
			}
		}
		if u := urlFromText(strings.Join(texts, "\n")); u != "" {
			return Normalized{ImageURL: u, Shape: ShapeTextLink}
		}
	} else if content.Type == gjson.String {
		if u := urlFromText(content.String()); u != "" {
			return Normalized{ImageURL: u, Shape: ShapeTextLink}
		}
	}

	diag := "no image in response"
	if tokens := doc.Get("usage.completion_tokens_details.image_tokens"); tokens.Exists() {
		diag = "image_tokens=" + tokens.Raw
	}
	return Normalized{Diagnostic: diag}
}

func urlFromText(text string) string {
	if m := markdownImage.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	if u := bareURL.FindString(text); u != "" {
		return strings.TrimRight(u, `.,;:!?)]}"'`)
	}
	return ""
}

func dataURL(data, mime string) string {
	if strings.HasPrefix(data, "data:") {
		return data
	}
	if mime == "" {
		mime = "image/png"
	}
	return "data:" + mime + ";base64," + data
}
