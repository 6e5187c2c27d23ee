package sessions

import (
	"github.com/moltworks/colony/pkg/llm"
	"github.com/moltworks/colony/pkg/models"
)

// DefaultHistoryWindow is how many non-system messages a completion
// request carries at most.
const DefaultHistoryWindow = 40

// ComposeHistory turns a stored session into the wire-format message
// list for one completion: an optional system prompt, then the most
// recent window of conversation.
func ComposeHistory(systemPrompt string, msgs []models.Message, window int) []llm.ChatMessage {
	if window <= 0 {
		window = DefaultHistoryWindow
	}

	var out []llm.ChatMessage
	if systemPrompt != "" {
		out = append(out, llm.ChatMessage{Role: string(models.RoleSystem), Content: systemPrompt})
	}

	trimmed := TrimHistory(msgs, window)
	for _, m := range trimmed {
		out = append(out, toWire(m))
	}
	return out
}

// TrimHistory keeps stored system messages plus the most recent window
// of other messages. The cut never lands on a tool result whose
// assistant call was dropped: orphaned tool messages at the window head
// are skipped forward.
func TrimHistory(msgs []models.Message, window int) []models.Message {
	var system []models.Message
	var rest []models.Message
	for _, m := range msgs {
		if m.Role == models.RoleSystem {
			system = append(system, m)
		} else {
			rest = append(rest, m)
		}
	}

	if len(rest) > window {
		rest = rest[len(rest)-window:]
		for len(rest) > 0 && rest[0].Role == models.RoleTool {
			rest = rest[1:]
		}
	}

	out := make([]models.Message, 0, len(system)+len(rest))
	out = append(out, system...)
	out = append(out, rest...)
	return out
}

func toWire(m models.Message) llm.ChatMessage {
	return llm.ChatMessage{
		Role:      string(m.Role),
		Content:   m.Content,
		ToolCalls: m.ToolCalls,
	}
}
