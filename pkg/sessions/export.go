package sessions

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/moltworks/colony/pkg/models"
)

// ExportJSONL writes one JSON object per message, in insertion order.
func ExportJSONL(w io.Writer, detail *models.SessionDetail) error {
	enc := json.NewEncoder(w)
	for i := range detail.Messages {
		if err := enc.Encode(&detail.Messages[i]); err != nil {
			return fmt.Errorf("failed to encode message %d: %w", detail.Messages[i].ID, err)
		}
	}
	return nil
}

// Transcript renders a session as a readable plain-text log.
func Transcript(detail *models.SessionDetail) string {
	var b strings.Builder
	fmt.Fprintf(&b, "session %s (agent=%s, status=%s)\n", detail.ID, detail.AgentID, detail.Status)
	for _, m := range detail.Messages {
		fmt.Fprintf(&b, "[%s] %s", m.CreatedAt.Format("2006-01-02 15:04:05"), m.Role)
		if m.Model != "" {
			fmt.Fprintf(&b, " (%s)", m.Model)
		}
		b.WriteString(":\n")
		if m.Content != "" {
			b.WriteString(m.Content)
			b.WriteString("\n")
		}
		for _, tc := range m.ToolCalls {
			fmt.Fprintf(&b, "  -> tool %s(%s)\n", tc.Name, tc.Arguments)
		}
	}
	return b.String()
}
