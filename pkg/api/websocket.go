package api

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"

	"github.com/moltworks/colony/pkg/models"
)

// wsTokenChunk is how many runes each token frame carries. The gateway
// returns whole completions, so frames are synthesized from the reply.
const wsTokenChunk = 64

// wsInbound is a client frame on /ws/chat/:session_id.
type wsInbound struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// wsOutbound is a server frame: token chunks while the reply is being
// delivered, then a terminal done or error frame.
type wsOutbound struct {
	Type         string  `json:"type"` // "token", "done", "error"
	Content      string  `json:"content,omitempty"`
	Error        string  `json:"error,omitempty"`
	Model        string  `json:"model,omitempty"`
	InputTokens  int64   `json:"input_tokens,omitempty"`
	OutputTokens int64   `json:"output_tokens,omitempty"`
	CostUSD      float64 `json:"cost_usd,omitempty"`
	LatencyMS    int64   `json:"latency_ms,omitempty"`
}

// wsChatHandler runs an interactive conversation over one socket. Each
// inbound message frame becomes a turn; the reply streams back as token
// frames followed by a done frame with the turn's accounting. A failed
// turn emits an error frame and keeps the socket and the session open.
func (s *Server) wsChatHandler(c *gin.Context) {
	sessionID := c.Param("session_id")

	if _, err := s.sessions.Detail(c.Request.Context(), sessionID); err != nil {
		respondError(c, err)
		return
	}

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx := c.Request.Context()
	for {
		var in wsInbound
		if err := wsjson.Read(ctx, conn, &in); err != nil {
			if !errors.Is(err, context.Canceled) {
				slog.Debug("WebSocket closed", "session_id", sessionID, "error", err)
			}
			return
		}
		if in.Type != "message" || in.Content == "" {
			_ = wsjson.Write(ctx, conn, wsOutbound{Type: "error", Error: "expected {type: message, content}"})
			continue
		}

		if err := s.runWSTurn(ctx, conn, sessionID, in.Content); err != nil {
			return
		}
	}
}

func (s *Server) runWSTurn(ctx context.Context, conn *websocket.Conn, sessionID, content string) error {
	turnCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	reply, err := s.sessions.Send(turnCtx, sessionID, models.RoleUser, content)
	if err != nil && reply == nil {
		return wsjson.Write(ctx, conn, wsOutbound{Type: "error", Error: err.Error()})
	}

	runes := []rune(reply.Content)
	for start := 0; start < len(runes); start += wsTokenChunk {
		end := start + wsTokenChunk
		if end > len(runes) {
			end = len(runes)
		}
		if err := wsjson.Write(ctx, conn, wsOutbound{Type: "token", Content: string(runes[start:end])}); err != nil {
			return err
		}
	}

	done := wsOutbound{
		Type:  "done",
		Model: reply.Model,
	}
	if reply.InputTokens != nil {
		done.InputTokens = *reply.InputTokens
	}
	if reply.OutputTokens != nil {
		done.OutputTokens = *reply.OutputTokens
	}
	if reply.CostUSD != nil {
		done.CostUSD = *reply.CostUSD
	}
	if reply.LatencyMS != nil {
		done.LatencyMS = *reply.LatencyMS
	}
	return wsjson.Write(ctx, conn, done)
}
