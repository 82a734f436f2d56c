package server

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/go-go-golems/persona/pkg/events"
	"github.com/go-go-golems/persona/pkg/session"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

const wsSendBuffer = 32

// HandleWebSocket streams transcript events to the client. The first frame
// is a reset event with the current transcript.
// GET /ws
func (s *Server) HandleWebSocket(c echo.Context) error {
	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to upgrade websocket")
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Subscribing and snapshotting on the loop goroutine means no event can be
	// published in between. Publishing blocks until every subscriber acks, so
	// forward starts right after and does not depend on the loop.
	var (
		sub      <-chan *message.Message
		snapshot *events.TranscriptEvent
	)
	err = s.loop.Do(c.Request().Context(), func(_ context.Context, m *session.Manager) error {
		var err error
		sub, err = s.router.Subscribe(ctx, events.TopicTranscript)
		if err != nil {
			return err
		}
		snapshot = snapshotEvent(m)
		return nil
	})
	if err != nil {
		log.Error().Err(err).Msg("Could not subscribe to transcript events")
		_ = conn.Close()
		return nil
	}

	send := make(chan []byte, wsSendBuffer)
	if b, err := json.Marshal(snapshot); err == nil {
		send <- b
	}
	go s.forward(ctx, sub, send, cancel)

	go s.readPump(conn, cancel)
	s.writePump(ctx, conn, send)

	return nil
}

func snapshotEvent(m *session.Manager) *events.TranscriptEvent {
	st := m.Status()
	return &events.TranscriptEvent{
		Type:           events.EventTypeReset,
		SessionID:      st.SessionID,
		State:          st.State,
		CharacterID:    st.CharacterID,
		CharacterTitle: st.CharacterTitle,
		Pending:        st.Pending,
		Messages:       m.Transcript().Messages(),
		Failed:         st.Failed,
		Time:           time.Now(),
	}
}

// forward acks every event right away so the publishing session never waits
// on a slow client. A client that falls behind is dropped.
func (s *Server) forward(ctx context.Context, sub <-chan *message.Message, send chan<- []byte, cancel context.CancelFunc) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub:
			if !ok {
				cancel()
				return
			}
			payload := msg.Payload
			msg.Ack()
			select {
			case send <- payload:
			default:
				log.Warn().Msg("Websocket client too slow, closing")
				cancel()
				return
			}
		}
	}
}

// readPump discards client frames and notices when the client goes away.
func (s *Server) readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Msg("Websocket read error")
			}
			return
		}
	}
}

func (s *Server) writePump(ctx context.Context, conn *websocket.Conn, send <-chan []byte) {
	ticker := time.NewTicker(s.pingInterval)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			_ = conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case b := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				log.Debug().Err(err).Msg("Websocket write failed")
				return
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
