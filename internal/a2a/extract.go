package a2a

import (
	"fmt"
	"strings"

	"sage/internal/textutil"
)

const inlineHistoryCap = 20

// Extraction is the outcome of pulling an effective user text out of a
// provider message. Text is "" when nothing usable was found; Diagnostics is a
// short summary for logs.
type Extraction struct {
	Text          string
	InlineHistory []string
	Diagnostics   string
}

// Extract applies the cleaned primary strategy, then the raw fallback when the
// primary yields no text.
func Extract(params SendParams) Extraction {
	if ex := extractCleaned(params); ex.Text != "" {
		return ex
	}
	return extractRaw(params)
}

// extractCleaned prefers the last cleaned text of the data-part at index 1,
// then a text-part at index 0, then the top-level message text. Inline history
// is the cleaned data texts, most recent last, capped.
func extractCleaned(params SendParams) Extraction {
	var ex Extraction
	var dbg []string

	parts := params.Message.Parts
	if len(parts) > 1 && parts[1].Kind == PartKindData {
		var cleaned []string
		for _, item := range parts[1].Data {
			if item.Kind != PartKindText {
				continue
			}
			if t := textutil.Clean(item.Text); t != "" {
				cleaned = append(cleaned, t)
			}
		}
		ex.InlineHistory = tail(cleaned, inlineHistoryCap)
		dbg = append(dbg, fmt.Sprintf("data_text_count=%d", len(cleaned)))
		if len(ex.InlineHistory) > 0 {
			ex.Text = ex.InlineHistory[len(ex.InlineHistory)-1]
			dbg = append(dbg, "source=data:last")
		}
	}

	if ex.Text == "" && len(parts) > 0 && parts[0].Kind == PartKindText {
		if t := textutil.Clean(parts[0].Text); t != "" {
			ex.Text = t
			dbg = append(dbg, "source=parts0")
		}
	}

	if ex.Text == "" {
		if t := textutil.Clean(params.Message.Text); t != "" {
			ex.Text = t
			dbg = append(dbg, "source=message.text")
		}
	}

	ex.Diagnostics = joinDiag(dbg)
	return ex
}

// extractRaw is the fallback strategy: only trimmed, and a text-part at index
// 0 wins over the data-part texts.
func extractRaw(params SendParams) Extraction {
	var ex Extraction
	var dbg []string

	parts := params.Message.Parts
	if len(parts) > 0 && parts[0].Kind == PartKindText {
		ex.Text = strings.TrimSpace(parts[0].Text)
		dbg = append(dbg, fmt.Sprintf("parts[0].text_len=%d", len(ex.Text)))
	}
	if len(parts) > 1 && parts[1].Kind == PartKindData {
		for _, item := range parts[1].Data {
			if item.Kind != PartKindText {
				continue
			}
			if t := strings.TrimSpace(item.Text); t != "" {
				ex.InlineHistory = append(ex.InlineHistory, t)
			}
		}
		dbg = append(dbg, fmt.Sprintf("data_text_count=%d", len(ex.InlineHistory)))
	}

	if ex.Text == "" {
		if t := strings.TrimSpace(params.Message.Text); t != "" {
			ex.Text = t
			dbg = append(dbg, "fallback:message.text")
		}
	}

	ex.InlineHistory = tail(ex.InlineHistory, inlineHistoryCap)
	ex.Diagnostics = joinDiag(dbg)
	return ex
}

func tail(items []string, n int) []string {
	if len(items) > n {
		return items[len(items)-n:]
	}
	return items
}

func joinDiag(bits []string) string {
	if len(bits) > 3 {
		bits = bits[:3]
	}
	return strings.Join(bits, ";")
}
