package ws

import (
	"context"
	"time"

	"github.com/gorilla/websocket"

	"stream-drop/server"
	"stream-drop/server/internal/net/intake"
	"stream-drop/server/internal/net/proto"
	"stream-drop/server/internal/telemetry"
)

type subscription interface {
	ID() string
	WriteMessage(messageType int, data []byte) error
	LastCommandSeq() uint64
	StoreLastCommandSeq(seq uint64)
}

// Session runs the read loop of one websocket connection.
type Session struct {
	hub    *server.Hub
	logger telemetry.Logger
}

// NewSession constructs a websocket session handler for the given hub.
func NewSession(hub *server.Hub, logger telemetry.Logger) *Session {
	if logger == nil {
		logger = telemetry.LoggerFunc(nil)
	}
	return &Session{hub: hub, logger: logger}
}

// Serve registers the connection as a subscriber, sends the initial state and
// handles inbound messages until the connection fails.
func (s *Session) Serve(ctx context.Context, conn *websocket.Conn) {
	if s == nil || s.hub == nil || conn == nil {
		return
	}

	sub, initial, err := s.hub.Subscribe(conn)
	if err != nil {
		s.logger.Printf("failed to marshal initial state: %v", err)
		conn.Close()
		return
	}
	session := subscription(sub)
	if err := session.WriteMessage(websocket.TextMessage, initial); err != nil {
		s.hub.Disconnect(session.ID(), "write_failed")
		return
	}

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			s.hub.Disconnect(session.ID(), "closed")
			return
		}

		msg, err := proto.DecodeClientMessage(payload)
		if err != nil {
			s.logger.Printf("discarding malformed message from %s: %v", session.ID(), err)
			continue
		}

		if !s.handle(ctx, session, msg) {
			s.hub.Disconnect(session.ID(), "write_failed")
			return
		}
	}
}

// handle processes one message and reports false when the connection broke.
func (s *Session) handle(ctx context.Context, session subscription, msg proto.ClientMessage) bool {
	switch {
	case msg.Type == proto.TypeHeartbeat:
		now := time.Now()
		rtt, ok := s.hub.UpdateHeartbeat(session.ID(), now, msg.SentAt)
		if !ok {
			return true
		}
		data, err := proto.EncodeHeartbeat(proto.Heartbeat{
			ServerTime: now.UnixMilli(),
			ClientTime: msg.SentAt,
			RTTMillis:  rtt.Milliseconds(),
		})
		if err != nil {
			s.logger.Printf("failed to marshal heartbeat ack for %s: %v", session.ID(), err)
			return true
		}
		return session.WriteMessage(websocket.TextMessage, data) == nil
	case intake.IsCommand(msg.Type):
		return s.handleCommand(ctx, session, msg)
	default:
		s.logger.Printf("unknown message type %q from %s", msg.Type, session.ID())
		return true
	}
}

func (s *Session) handleCommand(ctx context.Context, session subscription, msg proto.ClientMessage) bool {
	seq := msg.Seq()
	if seq > 0 {
		if last := session.LastCommandSeq(); last > 0 && seq <= last {
			return s.write(session, func() ([]byte, error) {
				return proto.EncodeCommandAck(proto.CommandAck{Seq: seq})
			})
		}
	}

	outcome, err := intake.StageClientCommand(ctx, s.hub, msg)
	if err != nil {
		s.logger.Printf("command %s from %s failed: %v", msg.Type, session.ID(), err)
		outcome = intake.Outcome{Reason: "internal_error"}
	}
	if seq == 0 {
		return true
	}
	if outcome.OK {
		ok := s.write(session, func() ([]byte, error) {
			return proto.EncodeCommandAck(proto.CommandAck{Seq: seq, Tick: s.hub.Snapshot().Tick, Result: outcome.Result})
		})
		if ok {
			session.StoreLastCommandSeq(seq)
		}
		return ok
	}
	return s.write(session, func() ([]byte, error) {
		return proto.EncodeCommandReject(proto.CommandReject{
			Seq:          seq,
			Reason:       outcome.Reason,
			Retry:        outcome.Retryable(),
			RetryAfterMs: outcome.RetryAfter.Milliseconds(),
		})
	})
}

func (s *Session) write(session subscription, encode func() ([]byte, error)) bool {
	data, err := encode()
	if err != nil {
		s.logger.Printf("failed to marshal response for %s: %v", session.ID(), err)
		return true
	}
	return session.WriteMessage(websocket.TextMessage, data) == nil
}
