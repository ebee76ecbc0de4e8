package agent

import (
	"encoding/json"
	"strings"
)

// CompletionMarker is the sentinel the interview prompt asks the model to emit on its final turn.
const CompletionMarker = "[CONVERSATION_COMPLETE]"

// Completion is the detector's view of one raw provider reply.
type Completion struct {
	// Text is the reply with any sentinel removed.
	Text     string
	Complete bool
	// Summary is set only on a complete reply.
	Summary *string
}

// Detector decides whether a raw reply ends the conversation.
type Detector interface {
	Detect(raw string) Completion
}

// SentinelDetector treats the presence of Marker anywhere in the reply as completion.
type SentinelDetector struct {
	Marker string
}

func (d SentinelDetector) marker() string {
	if d.Marker == "" {
		return CompletionMarker
	}
	return d.Marker
}

func (d SentinelDetector) Detect(raw string) Completion {
	m := d.marker()
	complete := strings.Contains(raw, m)
	text := strings.TrimSpace(strings.ReplaceAll(raw, m, ""))
	c := Completion{Text: text, Complete: complete}
	if complete {
		summary := text
		c.Summary = &summary
	}
	return c
}

// JSONArrayDetector treats a reply that is exactly a JSON array as the final turn.
// The array is rendered to a markdown summary.
type JSONArrayDetector struct{}

func (JSONArrayDetector) Detect(raw string) Completion {
	text := strings.TrimSpace(raw)
	c := Completion{Text: text}
	if !strings.HasPrefix(text, "[") {
		return c
	}
	var items []json.RawMessage
	if err := json.Unmarshal([]byte(text), &items); err != nil {
		return c
	}
	c.Complete = true
	summary := RenderContributions(items)
	c.Summary = &summary
	return c
}

type contribution struct {
	Agent        string `json:"Agent"`
	Contribution string `json:"Contribution"`
}

// RenderContributions formats Agent/Contribution objects as a markdown summary.
// Elements that are not such objects are skipped.
func RenderContributions(items []json.RawMessage) string {
	var b strings.Builder
	b.WriteString("### Conversation Summary:")
	for _, raw := range items {
		var c contribution
		if err := json.Unmarshal(raw, &c); err != nil || c.Agent == "" || c.Contribution == "" {
			continue
		}
		b.WriteString("\n# ")
		b.WriteString(c.Agent)
		b.WriteString("\n")
		b.WriteString(c.Contribution)
		b.WriteString("\n")
		b.WriteString(strings.Repeat("-", 60))
	}
	return b.String()
}

// FinalDetector treats every reply as complete. Thread and single-shot
// variants finish each call; there is no separate summary.
type FinalDetector struct{}

func (FinalDetector) Detect(raw string) Completion {
	return Completion{Text: strings.TrimSpace(raw), Complete: true}
}
