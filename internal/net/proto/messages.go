package proto

import (
	"encoding/json"
	"fmt"

	"stream-drop/server/internal/physics"
)

const (
	// Version tracks the wire-protocol revision expected by clients.
	Version = 1

	// Type identifiers for websocket payloads.
	typeCommandAck    = "commandAck"
	typeCommandReject = "commandReject"
	typeHeartbeat     = "heartbeat"
	typeState         = "state"
	typeLanding       = "landing"
	typeExplosion     = "explosion"
)

// Client message type identifiers. Overlays only send heartbeats; a chat
// bridge may also issue viewer commands over the same socket.
const (
	TypeDrop      = "drop"
	TypeBuy       = "buy"
	TypeActivate  = "activate"
	TypeHeartbeat = "heartbeat"
)

// Exported aliases for outbound message type identifiers.
const (
	TypeState     = typeState
	TypeLanding   = typeLanding
	TypeExplosion = typeExplosion
)

// ClientMessage captures an inbound websocket message.
type ClientMessage struct {
	Ver        int     `json:"ver,omitempty"`
	Type       string  `json:"type"`
	Username   string  `json:"username"`
	AvatarURL  string  `json:"avatarUrl"`
	EmoteURL   string  `json:"emoteUrl"`
	Powerup    string  `json:"powerup"`
	SentAt     int64   `json:"sentAt"`
	CommandSeq *uint64 `json:"seq,omitempty"`
}

// DecodeClientMessage converts raw websocket payloads into a structured message.
func DecodeClientMessage(payload []byte) (ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return msg, err
	}
	if msg.Ver == 0 {
		msg.Ver = Version
	}
	if msg.Ver != Version {
		return msg, fmt.Errorf("unsupported client protocol version %d", msg.Ver)
	}
	return msg, nil
}

// Seq returns the command sequence number, or zero when absent.
func (m ClientMessage) Seq() uint64 {
	if m.CommandSeq == nil {
		return 0
	}
	return *m.CommandSeq
}

// CommandAck describes an acknowledgement of a processed command.
type CommandAck struct {
	Seq    uint64
	Tick   uint64
	Result any
}

// EncodeCommandAck renders a command acknowledgement response.
func EncodeCommandAck(msg CommandAck) ([]byte, error) {
	frame := struct {
		Ver    int    `json:"ver"`
		Type   string `json:"type"`
		Seq    uint64 `json:"seq"`
		Tick   uint64 `json:"tick,omitempty"`
		Result any    `json:"result,omitempty"`
	}{
		Ver:    Version,
		Type:   typeCommandAck,
		Seq:    msg.Seq,
		Result: msg.Result,
	}
	if msg.Tick > 0 {
		frame.Tick = msg.Tick
	}
	return json.Marshal(frame)
}

// CommandReject notifies the client that a command was refused.
type CommandReject struct {
	Seq          uint64
	Reason       string
	Retry        bool
	RetryAfterMs int64
}

// EncodeCommandReject renders a command rejection response.
func EncodeCommandReject(msg CommandReject) ([]byte, error) {
	frame := struct {
		Ver          int    `json:"ver"`
		Type         string `json:"type"`
		Seq          uint64 `json:"seq"`
		Reason       string `json:"reason"`
		Retry        bool   `json:"retry,omitempty"`
		RetryAfterMs int64  `json:"retryAfterMs,omitempty"`
	}{
		Ver:          Version,
		Type:         typeCommandReject,
		Seq:          msg.Seq,
		Reason:       msg.Reason,
		Retry:        msg.Retry,
		RetryAfterMs: msg.RetryAfterMs,
	}
	return json.Marshal(frame)
}

// Heartbeat echoes timing metadata back to the client.
type Heartbeat struct {
	ServerTime int64
	ClientTime int64
	RTTMillis  int64
}

// EncodeHeartbeat renders a heartbeat acknowledgement payload.
func EncodeHeartbeat(msg Heartbeat) ([]byte, error) {
	frame := struct {
		Ver        int    `json:"ver"`
		Type       string `json:"type"`
		ServerTime int64  `json:"serverTime"`
		ClientTime int64  `json:"clientTime"`
		RTTMillis  int64  `json:"rtt"`
	}{
		Ver:        Version,
		Type:       typeHeartbeat,
		ServerTime: msg.ServerTime,
		ClientTime: msg.ClientTime,
		RTTMillis:  msg.RTTMillis,
	}
	return json.Marshal(frame)
}

// Playfield describes the static geometry overlays need to draw the scene.
type Playfield struct {
	Width         float64 `json:"width"`
	Height        float64 `json:"height"`
	PlatformY     float64 `json:"platformY"`
	PlatformLeft  float64 `json:"platformLeft"`
	PlatformRight float64 `json:"platformRight"`
	EntityRadius  float64 `json:"entityRadius"`
}

// PlayfieldFor derives the overlay geometry from physics tuning.
func PlayfieldFor(t physics.Tuning) Playfield {
	center, half := t.Center(), t.HalfWidth()
	return Playfield{
		Width:         t.PlayWidth,
		Height:        t.PlayHeight,
		PlatformY:     t.PlatformY,
		PlatformLeft:  center - half,
		PlatformRight: center + half,
		EntityRadius:  t.EntityRadius,
	}
}

// StateSnapshotV1 captures the version 1 websocket state payload layout.
type StateSnapshotV1 struct {
	Ver        int                      `json:"ver"`
	Type       string                   `json:"type"`
	Tick       uint64                   `json:"t"`
	ServerTime int64                    `json:"serverTime"`
	SimTimeMs  int64                    `json:"simTimeMs"`
	Entities   []physics.EntitySnapshot `json:"entities"`
	Playfield  *Playfield               `json:"playfield,omitempty"`
}

// EncodeStateSnapshotV1 renders a versioned snapshot payload.
func EncodeStateSnapshotV1(msg StateSnapshotV1) ([]byte, error) {
	if msg.Type == "" {
		msg.Type = TypeState
	}
	if msg.Entities == nil {
		msg.Entities = []physics.EntitySnapshot{}
	}
	msg.Ver = Version
	return json.Marshal(msg)
}

// LandingV1 announces a scored landing.
type LandingV1 struct {
	Ver        int     `json:"ver"`
	Type       string  `json:"type"`
	Tick       uint64  `json:"t"`
	SessionID  string  `json:"sessionId"`
	Username   string  `json:"username"`
	X          float64 `json:"x"`
	Score      int     `json:"score"`
	Forced     bool    `json:"forced,omitempty"`
	DropPoints int     `json:"dropPoints"`
	TotalDrops int     `json:"totalDrops"`
}

// EncodeLandingV1 renders a landing announcement.
func EncodeLandingV1(msg LandingV1) ([]byte, error) {
	msg.Type = TypeLanding
	msg.Ver = Version
	return json.Marshal(msg)
}

// ExplosionV1 lets overlays render a tnt blast.
type ExplosionV1 struct {
	Ver       int      `json:"ver"`
	Type      string   `json:"type"`
	Tick      uint64   `json:"t"`
	SessionID string   `json:"sessionId"`
	Username  string   `json:"username"`
	X         float64  `json:"x"`
	Y         float64  `json:"y"`
	Radius    float64  `json:"radius"`
	Pushed    []string `json:"pushed,omitempty"`
	Shielded  []string `json:"shielded,omitempty"`
}

// EncodeExplosionV1 renders an explosion announcement.
func EncodeExplosionV1(msg ExplosionV1) ([]byte, error) {
	msg.Type = TypeExplosion
	msg.Ver = Version
	return json.Marshal(msg)
}
