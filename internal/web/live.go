package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mioxtw/sol-wallet-monitor/internal/events"
	"go.uber.org/zap"
)

const (
	sseHeartbeat = 20 * time.Second
	wsPing       = 30 * time.Second
	wsReadWait   = 60 * time.Second
	wsWriteWait  = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

type session struct {
	ID     string
	Kind   string
	Remote string
	Since  time.Time
}

func (s *Server) openSession(kind, remote string) session {
	sess := session{ID: uuid.NewString(), Kind: kind, Remote: remote, Since: time.Now()}
	s.sessions.Store(sess.ID, sess)
	s.metrics.ClientConnected()
	s.logger.Info("live client connected", zap.String("session", sess.ID), zap.String("kind", kind), zap.String("remote", remote))
	return sess
}

func (s *Server) closeSession(sess session, err error) {
	s.sessions.Delete(sess.ID)
	s.metrics.ClientDisconnected()
	s.logger.Info("live client disconnected",
		zap.String("session", sess.ID),
		zap.Duration("duration", time.Since(sess.Since)),
		zap.NamedError("reason", err))
}

// handleWebSocket streams batches over a websocket until either side goes away.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	sess := s.openSession("websocket", r.RemoteAddr)
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go s.readUntilClosed(conn, cancel)
	go s.sendPings(ctx, conn, cancel)

	err = s.feed.Run(ctx, func(batch events.BatchUpdate) error {
		if err := conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
			return err
		}
		return conn.WriteJSON(batch)
	})
	s.closeSession(sess, err)
}

// readUntilClosed discards client frames and cancels once the connection drops.
func (s *Server) readUntilClosed(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	_ = conn.SetReadDeadline(time.Now().Add(wsReadWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsReadWait))
	})
	for {
		if _, _, err := conn.NextReader(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("websocket read", zap.Error(err))
			}
			return
		}
	}
}

func (s *Server) sendPings(ctx context.Context, conn *websocket.Conn, cancel context.CancelFunc) {
	ticker := time.NewTicker(wsPing)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				cancel()
				return
			}
		}
	}
}

// handleStream serves the same batches as server-sent events.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sess := s.openSession("sse", r.RemoteAddr)
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	batches := make(chan events.BatchUpdate)
	feedErr := make(chan error, 1)
	go func() {
		feedErr <- s.feed.Run(ctx, func(batch events.BatchUpdate) error {
			select {
			case batches <- batch:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}()

	// send a comment heartbeat so proxies keep the connection
	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()

	var id uint64
	for {
		select {
		case <-ctx.Done():
			s.closeSession(sess, ctx.Err())
			return
		case err := <-feedErr:
			s.closeSession(sess, err)
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case batch := <-batches:
			payload, err := json.Marshal(batch)
			if err != nil {
				s.logger.Error("marshal batch", zap.Error(err))
				continue
			}
			id++
			fmt.Fprintf(w, "id: %d\n", id)
			fmt.Fprintf(w, "event: %s\n", events.TypeBatchUpdate)
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		}
	}
}
