package server

import "time"

// DropResult is the command-layer outcome of RequestDrop.
type DropResult struct {
	Accepted   bool          `json:"accepted"`
	Reason     string        `json:"reason,omitempty"`
	SessionID  string        `json:"sessionId,omitempty"`
	RetryAfter time.Duration `json:"-"`
}

// BuyResult is the command-layer outcome of BuyPowerup.
type BuyResult struct {
	Success    bool          `json:"success"`
	Reason     string        `json:"reason,omitempty"`
	Powerup    string        `json:"powerup,omitempty"`
	Balance    int           `json:"balance"`
	Quantity   int           `json:"quantity"`
	Cost       int           `json:"cost"`
	RetryAfter time.Duration `json:"-"`
}

// ActivateResult is the command-layer outcome of ActivatePowerup. Success
// means an inventory unit was consumed; Applied means a dropper received the
// effect.
type ActivateResult struct {
	Success    bool          `json:"success"`
	Applied    bool          `json:"applied"`
	Reason     string        `json:"reason,omitempty"`
	Powerup    string        `json:"powerup,omitempty"`
	Remaining  int           `json:"remaining"`
	SessionID  string        `json:"sessionId,omitempty"`
	RetryAfter time.Duration `json:"-"`
}

type diagnosticsSubscriber struct {
	Ver           int    `json:"ver"`
	ID            string `json:"id"`
	ConnectedAt   int64  `json:"connectedAt"`
	LastHeartbeat int64  `json:"lastHeartbeat"`
	RTTMillis     int64  `json:"rttMillis"`
	LastCommand   uint64 `json:"lastCommandSeq"`
}

type diagnosticsSession struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	State    string `json:"state"`
	Scored   bool   `json:"scored"`
}
