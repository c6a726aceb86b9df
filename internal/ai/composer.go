// Package ai composes natural-language replies through a hosted chat model.
//
// The dispatcher consumes the Composer interface; the Azure OpenAI
// implementation below is wired in at bootstrap.
package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"sage/internal/session"
)

// Request carries everything a composition needs: the user's text, merged
// conversation history, an intent-specific fact sheet, and sampling knobs.
type Request struct {
	UserText    string
	History     []session.Turn
	Facts       map[string]any
	Temperature float64
	MaxTokens   int
}

// Composer turns a Request into reply text. Implementations must be safe for
// concurrent use.
type Composer interface {
	Compose(ctx context.Context, req Request) (string, error)
}

const (
	historyWindow  = 30
	factValueLimit = 1000
)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// buildMessages assembles the chat transcript: system prompt, recent history,
// an optional [FACTS] block, then the user text. Nil-valued facts are omitted
// and long values truncated before inclusion.
func buildMessages(req Request) []chatMessage {
	label, _ := req.Facts["deployment_label"].(string)
	messages := []chatMessage{{Role: "system", Content: RenderSystemPrompt(label)}}

	history := req.History
	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}
	for _, turn := range history {
		if u := strings.TrimSpace(turn.User); u != "" {
			messages = append(messages, chatMessage{Role: "user", Content: u})
		}
		if a := strings.TrimSpace(turn.Assistant); a != "" {
			messages = append(messages, chatMessage{Role: "assistant", Content: a})
		}
	}

	if block := renderFacts(req.Facts); block != "" {
		messages = append(messages, chatMessage{Role: "user", Content: block})
	}

	return append(messages, chatMessage{Role: "user", Content: req.UserText})
}

func renderFacts(facts map[string]any) string {
	if len(facts) == 0 {
		return ""
	}
	keys := make([]string, 0, len(facts))
	for k, v := range facts {
		if v == nil {
			continue
		}
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		return ""
	}
	sort.Strings(keys)

	lines := []string{"[FACTS]"}
	for _, k := range keys {
		lines = append(lines, "- "+k+": "+truncate(factString(facts[k])))
	}
	return strings.Join(lines, "\n")
}

// factString renders a fact value for the model: strings and scalars as-is,
// structured values as JSON.
func factString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool, int, int64, float32, float64:
		return fmt.Sprintf("%v", t)
	default:
		if raw, err := json.Marshal(v); err == nil {
			return string(raw)
		}
		return fmt.Sprintf("%v", v)
	}
}

func truncate(s string) string {
	runes := []rune(s)
	if len(runes) <= factValueLimit {
		return s
	}
	return string(runes[:factValueLimit]) + "…"
}
