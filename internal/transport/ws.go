package transport

import (
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
)

// upgrader grants any origin, mirroring nexus's
// internal/gateway/ws_control_plane.go (a private/internal socket with
// bearer auth ahead of the upgrade, not a public-origin-restricted one).
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type wsClientFrame struct {
	Type    string `json:"type"`
	Content string `json:"content"`
	Model   string `json:"model,omitempty"`
}

type wsServerFrame struct {
	Type     string `json:"type"`
	Content  string `json:"content,omitempty"`
	Thinking string `json:"thinking,omitempty"`
	ToolName string `json:"tool_name,omitempty"`
	Error    string `json:"error,omitempty"`
}

// handleWSChat implements the §6 bidirectional streaming socket at
// /ws/chat/{session_id}. The socket reconnects to the same session id by
// construction — session state lives in the Session Store, not the
// connection.
func (s *Server) handleWSChat(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimPrefix(r.URL.Path, "/ws/chat/")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "session id required")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		if s.logger != nil {
			s.logger.Error(r.Context(), "ws upgrade failed", "error", err)
		}
		return
	}
	defer conn.Close()

	for {
		var frame wsClientFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		if frame.Type != "message" {
			_ = conn.WriteJSON(wsServerFrame{Type: "error", Error: "unsupported frame type"})
			continue
		}
		s.streamTurn(r, conn, sessionID, frame.Content)
	}
}

func (s *Server) streamTurn(r *http.Request, conn *websocket.Conn, sessionID, content string) {
	chunks, err := s.engine.StreamMessage(r.Context(), sessionID, content, true, true)
	if err != nil {
		_ = conn.WriteJSON(wsServerFrame{Type: "error", Error: err.Error()})
		return
	}

	_ = conn.WriteJSON(wsServerFrame{Type: "stream_start"})
	for chunk := range chunks {
		switch chunk.Kind {
		case "content":
			_ = conn.WriteJSON(wsServerFrame{Type: "content", Content: chunk.Delta})
		case "thinking":
			_ = conn.WriteJSON(wsServerFrame{Type: "thinking", Thinking: chunk.Delta})
		case "tool_call":
			name := ""
			if chunk.ToolCall != nil {
				name = chunk.ToolCall.Name
			}
			_ = conn.WriteJSON(wsServerFrame{Type: "tool_call", ToolName: name})
		case "tool_result":
			_ = conn.WriteJSON(wsServerFrame{Type: "tool_result"})
		case "error":
			msg := ""
			if chunk.Err != nil {
				msg = chunk.Err.Error()
			}
			_ = conn.WriteJSON(wsServerFrame{Type: "error", Error: msg})
		}
	}
	_ = conn.WriteJSON(wsServerFrame{Type: "stream_end"})
}
