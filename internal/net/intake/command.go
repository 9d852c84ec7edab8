package intake

import (
	"context"
	"time"

	"stream-drop/server"
	"stream-drop/server/internal/net/proto"
)

// Commands is the viewer command surface a chat bridge can drive.
type Commands interface {
	RequestDrop(ctx context.Context, username, avatarURL, emoteURL string) (server.DropResult, error)
	BuyPowerup(ctx context.Context, username, powerup string) (server.BuyResult, error)
	ActivatePowerup(ctx context.Context, username, powerup string) (server.ActivateResult, error)
}

// Outcome is the result of one staged client command.
type Outcome struct {
	Result     any
	OK         bool
	Reason     string
	RetryAfter time.Duration
}

// Retryable reports whether resending the same command later may succeed.
func (o Outcome) Retryable() bool {
	return o.Reason == server.CommandRejectCooldown
}

// IsCommand reports whether the message type carries a viewer command.
func IsCommand(msgType string) bool {
	switch msgType {
	case proto.TypeDrop, proto.TypeBuy, proto.TypeActivate:
		return true
	default:
		return false
	}
}

// StageClientCommand routes a decoded client message to the command surface.
// Expected refusals come back as an Outcome; errors are infrastructure faults.
func StageClientCommand(ctx context.Context, commands Commands, msg proto.ClientMessage) (Outcome, error) {
	if msg.Username == "" {
		return Outcome{Reason: server.CommandRejectInvalidUser}, nil
	}
	switch msg.Type {
	case proto.TypeDrop:
		result, err := commands.RequestDrop(ctx, msg.Username, msg.AvatarURL, msg.EmoteURL)
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{Result: result, OK: result.Accepted, Reason: result.Reason, RetryAfter: result.RetryAfter}, nil
	case proto.TypeBuy:
		if msg.Powerup == "" {
			return Outcome{Reason: server.CommandRejectUnknownPowerup}, nil
		}
		result, err := commands.BuyPowerup(ctx, msg.Username, msg.Powerup)
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{Result: result, OK: result.Success, Reason: result.Reason, RetryAfter: result.RetryAfter}, nil
	case proto.TypeActivate:
		if msg.Powerup == "" {
			return Outcome{Reason: server.CommandRejectUnknownPowerup}, nil
		}
		result, err := commands.ActivatePowerup(ctx, msg.Username, msg.Powerup)
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{Result: result, OK: result.Success, Reason: result.Reason, RetryAfter: result.RetryAfter}, nil
	default:
		return Outcome{Reason: server.CommandRejectInvalidCommand}, nil
	}
}
