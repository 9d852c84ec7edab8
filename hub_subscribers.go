package server

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"stream-drop/server/internal/drop"
	"stream-drop/server/internal/net/proto"
	"stream-drop/server/internal/physics"
	"stream-drop/server/internal/sim"
	"stream-drop/server/logging/lifecycle"
)

type subscriber struct {
	id          string
	conn        *websocket.Conn
	mu          sync.Mutex
	connectedAt time.Time

	lastHeartbeat  atomic.Int64
	lastRTT        atomic.Int64
	lastCommandSeq atomic.Uint64
}

func (s *subscriber) ID() string {
	return s.id
}

// WriteMessage serializes writes; gorilla connections allow one writer.
func (s *subscriber) WriteMessage(messageType int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(messageType, data)
}

func (s *subscriber) LastCommandSeq() uint64 {
	return s.lastCommandSeq.Load()
}

func (s *subscriber) StoreLastCommandSeq(seq uint64) {
	s.lastCommandSeq.Store(seq)
}

func (s *subscriber) diagnostics() diagnosticsSubscriber {
	return diagnosticsSubscriber{
		Ver:           ProtocolVersion,
		ID:            s.id,
		ConnectedAt:   s.connectedAt.UnixMilli(),
		LastHeartbeat: s.lastHeartbeat.Load(),
		RTTMillis:     s.lastRTT.Load(),
		LastCommand:   s.lastCommandSeq.Load(),
	}
}

// Subscribe registers an overlay connection and returns the initial state
// frame, which carries the playfield geometry.
func (h *Hub) Subscribe(conn *websocket.Conn) (*subscriber, []byte, error) {
	now := h.clock.Now()
	sub := &subscriber{id: uuid.NewString(), conn: conn, connectedAt: now}
	sub.lastHeartbeat.Store(now.UnixMilli())

	snapshot := h.loop.Snapshot()
	playfield := proto.PlayfieldFor(h.config.Tuning)
	data, err := proto.EncodeStateSnapshotV1(proto.StateSnapshotV1{
		Tick:       snapshot.Tick,
		ServerTime: now.UnixMilli(),
		SimTimeMs:  snapshot.SimTime.Milliseconds(),
		Entities:   snapshot.Entities,
		Playfield:  &playfield,
	})
	if err != nil {
		return nil, nil, err
	}

	h.mu.Lock()
	h.subscribers[sub.id] = sub
	h.mu.Unlock()

	lifecycle.OverlayJoined(context.Background(), h.deps.Publisher, lifecycle.OverlayPayload{SubscriberID: sub.id}, nil)
	return sub, data, nil
}

// Disconnect drops the subscriber and closes its connection.
func (h *Hub) Disconnect(id, reason string) bool {
	h.mu.Lock()
	sub, ok := h.subscribers[id]
	if ok {
		delete(h.subscribers, id)
	}
	h.mu.Unlock()
	if !ok {
		return false
	}
	if sub.conn != nil {
		sub.conn.Close()
	}
	lifecycle.OverlayLeft(context.Background(), h.deps.Publisher, lifecycle.OverlayPayload{SubscriberID: id, Reason: reason}, nil)
	return true
}

// UpdateHeartbeat records a ping and returns the round trip time.
func (h *Hub) UpdateHeartbeat(id string, receivedAt time.Time, clientSent int64) (time.Duration, bool) {
	h.mu.Lock()
	sub, ok := h.subscribers[id]
	h.mu.Unlock()
	if !ok {
		return 0, false
	}
	sub.lastHeartbeat.Store(receivedAt.UnixMilli())
	var rtt time.Duration
	if clientSent > 0 {
		rtt = receivedAt.Sub(time.UnixMilli(clientSent))
		if rtt < 0 {
			rtt = 0
		}
		sub.lastRTT.Store(rtt.Milliseconds())
	}
	return rtt, true
}

// SubscriberCount reports connected overlays.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

func (h *Hub) broadcastState(snapshot sim.Snapshot) {
	data, err := proto.EncodeStateSnapshotV1(proto.StateSnapshotV1{
		Tick:       snapshot.Tick,
		ServerTime: h.clock.Now().UnixMilli(),
		SimTimeMs:  snapshot.SimTime.Milliseconds(),
		Entities:   snapshot.Entities,
	})
	if err != nil {
		h.logger.Printf("failed to marshal state message: %v", err)
		return
	}
	if sent := h.broadcast(data); sent > 0 {
		h.telemetry.RecordBroadcast(len(data)*sent, len(snapshot.Entities)*sent)
	}
}

func (h *Hub) broadcastLanding(tick uint64, landed drop.Landed) {
	data, err := proto.EncodeLandingV1(proto.LandingV1{
		Tick:       tick,
		SessionID:  landed.Session.ID,
		Username:   landed.Session.Username,
		X:          landed.X,
		Score:      landed.Session.Score,
		Forced:     landed.Session.Forced,
		DropPoints: landed.Outcome.DropPoints,
		TotalDrops: landed.Outcome.TotalDrops,
	})
	if err != nil {
		h.logger.Printf("failed to marshal landing message: %v", err)
		return
	}
	h.broadcast(data)
}

func (h *Hub) broadcastExplosion(result sim.LoopStepResult, applied sim.AppliedActivation) {
	h.telemetry.explosions.Add(1)
	var origin physics.EntitySnapshot
	for _, entity := range result.Snapshot.Entities {
		if entity.ID == applied.SessionID {
			origin = entity
			break
		}
	}
	msg := proto.ExplosionV1{
		Tick:      result.Tick,
		SessionID: applied.SessionID,
		Username:  applied.Owner,
		X:         origin.X,
		Y:         origin.Y,
		Radius:    applied.Activation.Radius,
		Shielded:  applied.Result.Shielded,
	}
	for _, push := range applied.Result.Pushed {
		msg.Pushed = append(msg.Pushed, push.EntityID)
	}
	data, err := proto.EncodeExplosionV1(msg)
	if err != nil {
		h.logger.Printf("failed to marshal explosion message: %v", err)
		return
	}
	h.broadcast(data)
}

// broadcast writes data to every subscriber and returns how many received it.
func (h *Hub) broadcast(data []byte) int {
	h.mu.Lock()
	subs := make([]*subscriber, 0, len(h.subscribers))
	for _, sub := range h.subscribers {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	sent := 0
	for _, sub := range subs {
		if err := sub.WriteMessage(websocket.TextMessage, data); err != nil {
			h.logger.Printf("failed to send update to %s: %v", sub.id, err)
			h.Disconnect(sub.id, "write_failed")
			continue
		}
		sent++
	}
	return sent
}
