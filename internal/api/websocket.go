package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// handleChatWS upgrades to a websocket and answers each ChatRequest frame
// with a ChatResponse or ErrorResponse frame. Requests on one connection
// are processed in order.
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: originHosts(s.opts.AllowedOrigins),
	})
	if err != nil {
		slog.Warn("Websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(1 << 20)

	ctx := r.Context()
	for {
		var req ChatRequest
		if err := wsjson.Read(ctx, conn, &req); err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure && !errors.Is(err, context.Canceled) {
				slog.Debug("Websocket read ended", "err", err)
			}
			return
		}

		var reply any
		if strings.TrimSpace(req.Message) == "" {
			reply = ErrorResponse{Error: "Invalid request", Message: "message is required"}
		} else if resp, errResp := s.process(ctx, req); errResp != nil {
			reply = errResp
		} else {
			reply = resp
		}

		if err := wsjson.Write(ctx, conn, reply); err != nil {
			slog.Warn("Websocket write failed", "err", err)
			return
		}
	}
}
