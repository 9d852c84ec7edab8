package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"stream-drop/server"
	"stream-drop/server/internal/net/proto"
)

type frame struct {
	Ver          int               `json:"ver"`
	Type         string            `json:"type"`
	Seq          uint64            `json:"seq"`
	Reason       string            `json:"reason"`
	Retry        bool              `json:"retry"`
	RetryAfterMs int64             `json:"retryAfterMs"`
	Result       json.RawMessage   `json:"result"`
	Playfield    *proto.Playfield  `json:"playfield"`
	Entities     []json.RawMessage `json:"entities"`
	ClientTime   int64             `json:"clientTime"`
}

func dialHub(t *testing.T, hub *server.Hub) *websocket.Conn {
	t.Helper()
	handler := NewHandler(hub, HandlerConfig{})
	srv := httptest.NewServer(http.HandlerFunc(handler.Handle))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		t.Fatalf("failed to open websocket connection: %v", err)
	}
	t.Cleanup(func() {
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.Close()
		if resp != nil {
			resp.Body.Close()
		}
	})
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("failed to read frame: %v", err)
	}
	var out frame
	if err := json.Unmarshal(payload, &out); err != nil {
		t.Fatalf("failed to decode frame %s: %v", payload, err)
	}
	return out
}

// readUntil skips state broadcasts until a frame of the given type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, typ string) frame {
	t.Helper()
	for i := 0; i < 16; i++ {
		f := readFrame(t, conn)
		if f.Type == typ {
			return f
		}
	}
	t.Fatalf("no %s frame received", typ)
	return frame{}
}

func sendJSON(t *testing.T, conn *websocket.Conn, msg map[string]any) {
	t.Helper()
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("failed to send %v: %v", msg, err)
	}
}

func TestHandleSendsInitialStateWithPlayfield(t *testing.T) {
	hub, _ := server.NewTestHub(t, nil)
	conn := dialHub(t, hub)

	initial := readFrame(t, conn)
	if initial.Type != proto.TypeState {
		t.Fatalf("expected state frame, got %q", initial.Type)
	}
	if initial.Ver != proto.Version {
		t.Fatalf("expected version %d, got %d", proto.Version, initial.Ver)
	}
	if initial.Playfield == nil || initial.Playfield.Width <= 0 {
		t.Fatalf("expected playfield in initial state, got %+v", initial.Playfield)
	}
	if initial.Entities == nil {
		t.Fatalf("expected empty entities array, got null")
	}
	if hub.SubscriberCount() != 1 {
		t.Fatalf("expected one subscriber, got %d", hub.SubscriberCount())
	}
}

func TestHandleAcksDropCommand(t *testing.T) {
	hub, _ := server.NewTestHub(t, nil)
	conn := dialHub(t, hub)
	readFrame(t, conn)

	sendJSON(t, conn, map[string]any{"type": proto.TypeDrop, "username": "Alice", "seq": 1})
	ack := readUntil(t, conn, "commandAck")
	if ack.Seq != 1 {
		t.Fatalf("expected ack for seq 1, got %d", ack.Seq)
	}
	var result server.DropResult
	if err := json.Unmarshal(ack.Result, &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if !result.Accepted || result.SessionID == "" {
		t.Fatalf("expected accepted drop with session, got %+v", result)
	}

	// A resent sequence number is acknowledged without running the command again.
	sendJSON(t, conn, map[string]any{"type": proto.TypeDrop, "username": "Alice", "seq": 1})
	dup := readUntil(t, conn, "commandAck")
	if dup.Seq != 1 || len(dup.Result) != 0 {
		t.Fatalf("expected bare duplicate ack, got %+v", dup)
	}
	if sessions := hub.Sessions(); len(sessions) != 1 {
		t.Fatalf("expected one session, got %d", len(sessions))
	}
}

func TestHandleRejectsCooldownAsRetryable(t *testing.T) {
	hub, _ := server.NewTestHub(t, func(cfg *server.HubConfig) { cfg.Cooldowns.Buy = time.Minute })
	if _, err := hub.Credit(t.Context(), "bob", 1000, "admin"); err != nil {
		t.Fatalf("credit: %v", err)
	}
	conn := dialHub(t, hub)
	readFrame(t, conn)

	sendJSON(t, conn, map[string]any{"type": proto.TypeBuy, "username": "bob", "powerup": "shield", "seq": 1})
	readUntil(t, conn, "commandAck")

	sendJSON(t, conn, map[string]any{"type": proto.TypeBuy, "username": "bob", "powerup": "shield", "seq": 2})
	reject := readUntil(t, conn, "commandReject")
	if reject.Seq != 2 || reject.Reason != server.CommandRejectCooldown {
		t.Fatalf("expected cooldown reject for seq 2, got %+v", reject)
	}
	if !reject.Retry || reject.RetryAfterMs <= 0 {
		t.Fatalf("expected retry hint, got %+v", reject)
	}
}

func TestHandleRejectsUnknownPowerup(t *testing.T) {
	hub, _ := server.NewTestHub(t, nil)
	conn := dialHub(t, hub)
	readFrame(t, conn)

	sendJSON(t, conn, map[string]any{"type": proto.TypeActivate, "username": "bob", "powerup": "laser", "seq": 7})
	reject := readUntil(t, conn, "commandReject")
	if reject.Reason != server.CommandRejectUnknownPowerup || reject.Retry {
		t.Fatalf("expected non-retryable unknown_powerup, got %+v", reject)
	}
}

func TestHandleEchoesHeartbeat(t *testing.T) {
	hub, _ := server.NewTestHub(t, nil)
	conn := dialHub(t, hub)
	readFrame(t, conn)

	sentAt := time.Now().UnixMilli()
	sendJSON(t, conn, map[string]any{"type": proto.TypeHeartbeat, "sentAt": sentAt})
	ack := readUntil(t, conn, proto.TypeHeartbeat)
	if ack.ClientTime != sentAt {
		t.Fatalf("expected client time %d echoed, got %d", sentAt, ack.ClientTime)
	}
}

func TestHandleDisconnectRemovesSubscriber(t *testing.T) {
	hub, _ := server.NewTestHub(t, nil)
	conn := dialHub(t, hub)
	readFrame(t, conn)
	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.SubscriberCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("subscriber not removed after close")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
