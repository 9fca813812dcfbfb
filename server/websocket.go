package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/hupe1980/relaymesh/runner"
)

type wsInbound struct {
	Message        string `json:"message"`
	UserID         string `json:"user_id"`
	ConversationID string `json:"conversation_id,omitempty"`
}

type wsStatus struct {
	Type      string `json:"type"`
	Status    string `json:"status"`
	SessionID string `json:"session_id"`
}

type wsReply struct {
	Type              string   `json:"type"`
	Message           string   `json:"message"`
	Sources           []string `json:"sources"`
	FollowUpQuestions []string `json:"follow_up_questions"`
	ConversationID    string   `json:"conversation_id,omitempty"`
}

type wsError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	ErrorID string `json:"error_id,omitempty"`
}

// handleWebSocket runs turns for messages received on the session channel.
// Turns of one connection run sequentially.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws.upgrade_failed", "session_id", sessionID, "error", err)
		return
	}

	ctx := r.Context()
	c := s.hub.attach(sessionID, ws)
	defer s.hub.detach(sessionID, c)

	if err := s.hub.SendJSON(ctx, sessionID, wsStatus{
		Type: "connection_status", Status: "connected", SessionID: sessionID,
	}); err != nil {
		return
	}

	userID := r.URL.Query().Get("user_id")
	for {
		mt, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("ws.read_failed", "session_id", sessionID, "error", err)
			}
			return
		}
		if mt != websocket.TextMessage {
			continue
		}

		text := strings.TrimSpace(string(data))
		if text == "" || text == "ping" {
			continue
		}

		in := wsInbound{Message: text, UserID: userID}
		if strings.HasPrefix(text, "{") {
			if err := json.Unmarshal(data, &in); err != nil {
				s.logger.Debug("ws.invalid_message", "session_id", sessionID, "error", err)
				continue
			}
			if in.UserID == "" {
				in.UserID = userID
			}
		}

		reply, err := s.runner.Run(ctx, runner.Request{
			UserID:         in.UserID,
			SessionID:      sessionID,
			UserInput:      in.Message,
			ConversationID: in.ConversationID,
		})
		if err != nil {
			out := wsError{Type: "error", Message: wsApology}
			var terr *runner.TurnError
			if errors.As(err, &terr) {
				out.ErrorID = terr.ID
			} else {
				s.logger.Error("ws.turn_failed", "session_id", sessionID, "error", err)
			}
			if err := s.hub.SendJSON(ctx, sessionID, out); err != nil {
				return
			}
			continue
		}

		sources := make([]string, 0, len(reply.Sources))
		for _, src := range reply.Sources {
			sources = append(sources, "• "+src)
		}
		if err := s.hub.SendJSON(ctx, sessionID, wsReply{
			Type:              "message",
			Message:           reply.Message,
			Sources:           sources,
			FollowUpQuestions: reply.FollowUpQuestions,
			ConversationID:    reply.ConversationID,
		}); err != nil {
			return
		}
	}
}
