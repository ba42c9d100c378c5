package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"nhooyr.io/websocket"
)

const defaultStreamWriteTimeout = 10 * time.Second

func (s *Server) handleActionStream(w http.ResponseWriter, r *http.Request) {
	ctrl, err := s.controller(r)
	if err != nil {
		writeError(w, err)
		return
	}
	updates, cancel := ctrl.Subscribe()
	defer cancel()
	stream(s, w, r, updates, ctrl.Snapshot())
}

func (s *Server) handleChainStream(w http.ResponseWriter, r *http.Request) {
	updates, cancel := s.deps.Selection.Subscribe()
	defer cancel()
	stream(s, w, r, updates, s.deps.Selection.Snapshot())
}

// handleCompletionStream pushes action outcomes as their completion policies
// release them. There is no initial message.
func (s *Server) handleCompletionStream(w http.ResponseWriter, r *http.Request) {
	updates, cancel := s.completions.Subscribe()
	defer cancel()
	stream(s, w, r, updates)
}

// stream upgrades the request and relays initial followed by every update
// until the client goes away.
func stream[T any](s *Server, w http.ResponseWriter, r *http.Request, updates <-chan T, initial ...T) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.originPatterns})
	if err != nil {
		s.logger.Debug("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")
	ctx := conn.CloseRead(r.Context())

	for _, msg := range initial {
		if err := writeMessage(ctx, conn, s.writeTimeout, msg); err != nil {
			return
		}
	}
	err = relay(ctx, conn, s.writeTimeout, updates)
	if err != nil && websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
		s.logger.Warn("websocket stream failed", slog.String("error", err.Error()))
		_ = conn.Close(websocket.StatusInternalError, "stream error")
	}
}

func relay[T any](ctx context.Context, conn *websocket.Conn, timeout time.Duration, updates <-chan T) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if err := writeMessage(ctx, conn, timeout, update); err != nil {
				return err
			}
		}
	}
}

func writeMessage(ctx context.Context, conn *websocket.Conn, timeout time.Duration, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
