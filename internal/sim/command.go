package sim

import (
	"time"

	"stream-drop/server/internal/physics"
)

// CommandType enumerates the supported simulation commands.
type CommandType string

const (
	CommandSpawn    CommandType = "Spawn"
	CommandActivate CommandType = "Activate"
	CommandRemove   CommandType = "Remove"
)

// SpawnCommand describes the dropper to create for a session.
type SpawnCommand struct {
	Owner     string `json:"owner"`
	AvatarURL string `json:"avatarUrl,omitempty"`
	EmoteURL  string `json:"emoteUrl,omitempty"`
}

// Command represents an intent captured for processing on the next tick.
// ActorID is the drop session id, which is also the entity id.
type Command struct {
	OriginTick uint64              `json:"originTick"`
	ActorID    string              `json:"actorId"`
	Type       CommandType         `json:"type"`
	IssuedAt   time.Time           `json:"issuedAt"`
	Spawn      *SpawnCommand       `json:"spawn,omitempty"`
	Activate   *physics.Activation `json:"activate,omitempty"`
}
