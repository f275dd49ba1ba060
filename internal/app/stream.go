package app

import (
	"context"
	"net/http"
	"time"

	"draftdodger/api/internal/notify"
	"draftdodger/api/internal/proposal"

	"github.com/rs/zerolog/log"
	"golang.org/x/net/websocket"
)

const (
	MessageHeartbeat = "heartbeat"

	streamWriteTimeout = 10 * time.Second
)

// StreamUpdate is one message pushed to a project's stream.
type StreamUpdate struct {
	ProjectID string `json:"project_id"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

func (s *HTTPServer) handleStream(w http.ResponseWriter, r *http.Request, projectID string) {
	websocket.Handler(func(conn *websocket.Conn) {
		s.streamProject(conn, projectID)
	}).ServeHTTP(w, r)
}

// streamProject sends a heartbeat every stream interval and forwards the
// project's notices until the client goes away.
func (s *HTTPServer) streamProject(conn *websocket.Conn, projectID string) {
	defer conn.Close()

	ctx, cancel := context.WithCancel(conn.Request().Context())
	defer cancel()

	notices, unsubscribe, err := s.service.Subscribe(ctx, projectID)
	if err != nil {
		log.Warn().Err(err).Str("project_id", projectID).Msg("stream: subscribe failed, heartbeats only")
		notices = nil
	} else {
		defer unsubscribe()
	}

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		var discard []byte
		for {
			if err := websocket.Message.Receive(conn, &discard); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.service.StreamInterval())
	defer ticker.Stop()

	log.Debug().Str("project_id", projectID).Msg("stream: client connected")
	for {
		var update StreamUpdate
		select {
		case <-closed:
			log.Debug().Str("project_id", projectID).Msg("stream: client disconnected")
			return
		case <-ctx.Done():
			return
		case tick := <-ticker.C:
			update = StreamUpdate{ProjectID: projectID, Message: MessageHeartbeat, Timestamp: proposal.FormatTimestamp(tick)}
		case notice, ok := <-notices:
			if !ok {
				notices = nil
				continue
			}
			update = noticeUpdate(notice)
		}

		if err := conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout)); err != nil {
			return
		}
		if err := websocket.JSON.Send(conn, update); err != nil {
			log.Debug().Err(err).Str("project_id", projectID).Msg("stream: send failed")
			return
		}
	}
}

func noticeUpdate(notice notify.Notice) StreamUpdate {
	ts := notice.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return StreamUpdate{ProjectID: notice.ProjectID, Message: notice.Message, Timestamp: proposal.FormatTimestamp(ts)}
}
