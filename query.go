package agent

import (
	"strings"

	"github.com/Protocol-Lattice/promo-agent/src/models"
)

// IntentPolicy decides whether the latest user message asks for an image.
// It only gates the completion repair, so a classifier can replace it
// without touching the orchestration loop.
type IntentPolicy func(lastUserMessage string) bool

var imageIntentCues = []string{"generate", "create image", "image"}

// DefaultIntentPolicy is a lowercase substring match. It over-triggers on
// phrases such as "generate a list" and misses non-English requests.
func DefaultIntentPolicy(lastUserMessage string) bool {
	in := strings.ToLower(lastUserMessage)
	for _, cue := range imageIntentCues {
		if strings.Contains(in, cue) {
			return true
		}
	}
	return false
}

// KeywordIntentPolicy matches any of the given cues, case-insensitively.
func KeywordIntentPolicy(cues ...string) IntentPolicy {
	lowered := make([]string, 0, len(cues))
	for _, c := range cues {
		if c = strings.ToLower(strings.TrimSpace(c)); c != "" {
			lowered = append(lowered, c)
		}
	}
	return func(msg string) bool {
		in := strings.ToLower(msg)
		for _, cue := range lowered {
			if strings.Contains(in, cue) {
				return true
			}
		}
		return false
	}
}

func lastUserMessage(conv []ConversationMessage) string {
	for i := len(conv) - 1; i >= 0; i-- {
		if conv[i].Role == models.RoleUser {
			return conv[i].Content
		}
	}
	return ""
}

// latestPhoto returns the most recent image attached to the conversation.
func latestPhoto(conv []ConversationMessage) string {
	for i := len(conv) - 1; i >= 0; i-- {
		if p := strings.TrimSpace(conv[i].AttachedImage); p != "" {
			return p
		}
	}
	return ""
}
