package server

import (
	"time"

	"stream-drop/server/internal/net/proto"
)

const (
	ProtocolVersion   = proto.Version
	writeWait         = 10 * time.Second
	heartbeatInterval = 2 * time.Second
	stepBacklog       = 64
)

// Command names recorded by the cooldown gate.
const (
	CommandDrop     = "drop"
	CommandBuy      = "buy"
	CommandActivate = "activate"
)

// Rejection reasons reported to the command layer. Economy and drop reasons
// pass through unchanged.
const (
	CommandRejectCooldown       = "cooldown"
	CommandRejectUnknownPowerup = "unknown_powerup"
	CommandRejectInvalidUser    = "invalid_username"
	CommandRejectNoActiveDrop   = "no_active_drop"
	CommandRejectInvalidCommand = "invalid_command"
)

// HeartbeatInterval is how often overlays are expected to ping.
func HeartbeatInterval() time.Duration {
	return heartbeatInterval
}
