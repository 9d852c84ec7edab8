package net

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	nethttp "net/http"
	"strconv"
	"time"

	"stream-drop/server"
	"stream-drop/server/internal/economy"
	"stream-drop/server/internal/net/ws"
	"stream-drop/server/internal/observability"
	"stream-drop/server/internal/storage"
	"stream-drop/server/internal/telemetry"
)

const (
	defaultLeaderboardLimit = 10
	maxListLimit            = 100
	maxRequestBytes         = 16 << 10
	healthTimeout           = 2 * time.Second
)

type HTTPHandlerConfig struct {
	Logger        telemetry.Logger
	Observability observability.Config
}

type dropRequest struct {
	Username  string `json:"username"`
	AvatarURL string `json:"avatarUrl"`
	EmoteURL  string `json:"emoteUrl"`
}

type powerupRequest struct {
	Username string `json:"username"`
	Powerup  string `json:"powerup"`
}

type pointsRequest struct {
	Username string `json:"username"`
	Amount   int    `json:"amount"`
	Source   string `json:"source"`
}

type rejection struct {
	Reason       string `json:"reason"`
	RetryAfterMs int64  `json:"retryAfterMs,omitempty"`
}

// NewHTTPHandler exposes the command surface used by the chat bridge and the
// overlay stream.
func NewHTTPHandler(hub *server.Hub, cfg HTTPHandlerConfig) nethttp.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.LoggerFunc(nil)
	}

	mux := nethttp.NewServeMux()

	mux.HandleFunc("GET /health", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()
		w.Header().Set("Content-Type", "text/plain")
		if err := hub.Ping(ctx); err != nil {
			logger.Printf("[http] health check failed: %v", err)
			w.WriteHeader(nethttp.StatusServiceUnavailable)
			w.Write([]byte("unavailable"))
			return
		}
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("GET /diagnostics", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		subscribers, sessions := hub.DiagnosticsSnapshot()
		payload := struct {
			Status      string `json:"status"`
			ServerTime  int64  `json:"serverTime"`
			Subscribers any    `json:"subscribers"`
			Sessions    any    `json:"sessions"`
			TickRate    int    `json:"tickRate"`
			Heartbeat   int64  `json:"heartbeatMillis"`
			Telemetry   any    `json:"telemetry"`
		}{
			Status:      "ok",
			ServerTime:  time.Now().UnixMilli(),
			Subscribers: subscribers,
			Sessions:    sessions,
			TickRate:    hub.TickRate(),
			Heartbeat:   server.HeartbeatInterval().Milliseconds(),
			Telemetry:   hub.TelemetrySnapshot(),
		}
		writeJSON(w, logger, nethttp.StatusOK, payload)
	})

	mux.HandleFunc("POST /drops", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		var req dropRequest
		if !decodeBody(w, r, &req) {
			return
		}
		result, err := hub.RequestDrop(r.Context(), req.Username, req.AvatarURL, req.EmoteURL)
		if err != nil {
			internalError(w, logger, "drop", err)
			return
		}
		if !result.Accepted {
			writeRejection(w, logger, result.Reason, result.RetryAfter)
			return
		}
		writeJSON(w, logger, nethttp.StatusAccepted, result)
	})

	mux.HandleFunc("GET /drops", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		payload := struct {
			Snapshot any `json:"snapshot"`
			Sessions any `json:"sessions"`
		}{
			Snapshot: hub.Snapshot(),
			Sessions: hub.Sessions(),
		}
		writeJSON(w, logger, nethttp.StatusOK, payload)
	})

	mux.HandleFunc("GET /powerups", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		payload := struct {
			Powerups any `json:"powerups"`
		}{Powerups: hub.ListPowerups()}
		writeJSON(w, logger, nethttp.StatusOK, payload)
	})

	mux.HandleFunc("POST /powerups/buy", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		var req powerupRequest
		if !decodeBody(w, r, &req) {
			return
		}
		result, err := hub.BuyPowerup(r.Context(), req.Username, req.Powerup)
		if err != nil {
			internalError(w, logger, "buy", err)
			return
		}
		if !result.Success && (result.Reason == server.CommandRejectCooldown || result.Reason == server.CommandRejectUnknownPowerup || result.Reason == server.CommandRejectInvalidUser) {
			writeRejection(w, logger, result.Reason, result.RetryAfter)
			return
		}
		writeJSON(w, logger, nethttp.StatusOK, result)
	})

	mux.HandleFunc("POST /powerups/activate", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		var req powerupRequest
		if !decodeBody(w, r, &req) {
			return
		}
		result, err := hub.ActivatePowerup(r.Context(), req.Username, req.Powerup)
		if err != nil {
			internalError(w, logger, "activate", err)
			return
		}
		if !result.Success && (result.Reason == server.CommandRejectCooldown || result.Reason == server.CommandRejectUnknownPowerup || result.Reason == server.CommandRejectInvalidUser) {
			writeRejection(w, logger, result.Reason, result.RetryAfter)
			return
		}
		writeJSON(w, logger, nethttp.StatusOK, result)
	})

	mux.HandleFunc("GET /accounts/{username}", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		account, err := hub.Account(r.Context(), r.PathValue("username"))
		if err != nil {
			economyError(w, logger, "account", err)
			return
		}
		writeJSON(w, logger, nethttp.StatusOK, account)
	})

	mux.HandleFunc("GET /accounts/{username}/inventory", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		inventory, err := hub.ListInventory(r.Context(), r.PathValue("username"))
		if err != nil {
			economyError(w, logger, "inventory", err)
			return
		}
		payload := struct {
			Inventory any `json:"inventory"`
		}{Inventory: inventory}
		writeJSON(w, logger, nethttp.StatusOK, payload)
	})

	mux.HandleFunc("GET /accounts/{username}/ledger", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		entries, err := hub.Ledger(r.Context(), r.PathValue("username"), limitParam(r, maxListLimit))
		if err != nil {
			economyError(w, logger, "ledger", err)
			return
		}
		if entries == nil {
			entries = []storage.LedgerEntry{}
		}
		payload := struct {
			Entries any `json:"entries"`
		}{Entries: entries}
		writeJSON(w, logger, nethttp.StatusOK, payload)
	})

	mux.HandleFunc("PUT /accounts/{username}/profile", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		var profile storage.Profile
		if !decodeBody(w, r, &profile) {
			return
		}
		if err := hub.UpdateProfile(r.Context(), r.PathValue("username"), profile); err != nil {
			economyError(w, logger, "profile", err)
			return
		}
		w.WriteHeader(nethttp.StatusNoContent)
	})

	mux.HandleFunc("POST /points/credit", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		var req pointsRequest
		if !decodeBody(w, r, &req) {
			return
		}
		source := economy.Source(req.Source)
		switch source {
		case "":
			source = economy.SourceChat
		case economy.SourceChat, economy.SourceAdmin:
		default:
			httpError(w, "unsupported source", nethttp.StatusBadRequest)
			return
		}
		balance, err := hub.Credit(r.Context(), req.Username, req.Amount, source)
		if err != nil {
			economyError(w, logger, "credit", err)
			return
		}
		writeJSON(w, logger, nethttp.StatusOK, struct {
			Balance int `json:"balance"`
		}{Balance: balance})
	})

	mux.HandleFunc("POST /points/spend", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		var req pointsRequest
		if !decodeBody(w, r, &req) {
			return
		}
		result, err := hub.Spend(r.Context(), req.Username, req.Amount)
		if err != nil {
			economyError(w, logger, "spend", err)
			return
		}
		writeJSON(w, logger, nethttp.StatusOK, result)
	})

	mux.HandleFunc("POST /points/refund", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		var req pointsRequest
		if !decodeBody(w, r, &req) {
			return
		}
		balance, err := hub.Refund(r.Context(), req.Username, req.Amount)
		if err != nil {
			economyError(w, logger, "refund", err)
			return
		}
		writeJSON(w, logger, nethttp.StatusOK, struct {
			Balance int `json:"balance"`
		}{Balance: balance})
	})

	mux.HandleFunc("GET /leaderboard", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		limit := limitParam(r, defaultLeaderboardLimit)
		accounts, err := hub.Leaderboard(r.Context(), limit)
		if err != nil {
			internalError(w, logger, "leaderboard", err)
			return
		}
		if accounts == nil {
			accounts = []storage.Account{}
		}
		writeJSON(w, logger, nethttp.StatusOK, struct {
			Accounts any `json:"accounts"`
		}{Accounts: accounts})
	})

	wsHandler := ws.NewHandler(hub, ws.HandlerConfig{Logger: logger})
	mux.HandleFunc("GET /ws", wsHandler.Handle)

	cfg.Observability.Register(mux)

	return mux
}

func decodeBody(w nethttp.ResponseWriter, r *nethttp.Request, target any) bool {
	if r.Body == nil {
		httpError(w, "missing payload", nethttp.StatusBadRequest)
		return false
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes))
	if err := decoder.Decode(target); err != nil {
		httpError(w, "invalid payload", nethttp.StatusBadRequest)
		return false
	}
	return true
}

func limitParam(r *nethttp.Request, fallback int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	if value > maxListLimit {
		return maxListLimit
	}
	return value
}

func writeJSON(w nethttp.ResponseWriter, logger telemetry.Logger, status int, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		logger.Printf("failed to encode response: %v", err)
		httpError(w, "failed to encode", nethttp.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

// writeRejection reports refusals that are not balance or inventory outcomes.
// Cooldowns map to 429 with a Retry-After header.
func writeRejection(w nethttp.ResponseWriter, logger telemetry.Logger, reason string, retryAfter time.Duration) {
	status := nethttp.StatusConflict
	switch reason {
	case server.CommandRejectCooldown:
		status = nethttp.StatusTooManyRequests
		seconds := int64((retryAfter + time.Second - 1) / time.Second)
		w.Header().Set("Retry-After", strconv.FormatInt(seconds, 10))
	case server.CommandRejectInvalidUser, server.CommandRejectUnknownPowerup:
		status = nethttp.StatusBadRequest
	}
	writeJSON(w, logger, status, rejection{Reason: reason, RetryAfterMs: retryAfter.Milliseconds()})
}

func economyError(w nethttp.ResponseWriter, logger telemetry.Logger, op string, err error) {
	switch {
	case errors.Is(err, economy.ErrInvalidAmount), errors.Is(err, economy.ErrInvalidUsername):
		httpError(w, err.Error(), nethttp.StatusBadRequest)
	default:
		internalError(w, logger, op, err)
	}
}

func internalError(w nethttp.ResponseWriter, logger telemetry.Logger, op string, err error) {
	logger.Printf("%s failed: %v", op, err)
	httpError(w, "internal error", nethttp.StatusInternalServerError)
}

func httpError(w nethttp.ResponseWriter, msg string, code int) {
	nethttp.Error(w, msg, code)
}
