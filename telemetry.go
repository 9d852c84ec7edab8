package server

import (
	"sync/atomic"
	"time"
)

type telemetryCounters struct {
	bytesSent             atomic.Uint64
	entitiesSent          atomic.Uint64
	tickDurationMicros    atomic.Int64
	lastBroadcastBytes    atomic.Uint64
	lastBroadcastEntities atomic.Uint64
	stepsDropped          atomic.Uint64
	landings              atomic.Uint64
	commitFailures        atomic.Uint64
	explosions            atomic.Uint64
}

type telemetrySnapshot struct {
	BytesSent          uint64 `json:"bytesSent"`
	EntitiesSent       uint64 `json:"entitiesSent"`
	TickDurationMicros int64  `json:"tickDurationMicros"`
	LastBroadcastBytes uint64 `json:"lastBroadcastBytes"`
	StepsDropped       uint64 `json:"stepsDropped"`
	Landings           uint64 `json:"landings"`
	CommitFailures     uint64 `json:"commitFailures"`
	Explosions         uint64 `json:"explosions"`
}

func newTelemetryCounters() *telemetryCounters {
	return &telemetryCounters{}
}

func (t *telemetryCounters) RecordBroadcast(bytes, entities int) {
	if bytes < 0 {
		bytes = 0
	}
	if entities < 0 {
		entities = 0
	}
	t.bytesSent.Add(uint64(bytes))
	t.entitiesSent.Add(uint64(entities))
	t.lastBroadcastBytes.Store(uint64(bytes))
	t.lastBroadcastEntities.Store(uint64(entities))
}

func (t *telemetryCounters) RecordTickDuration(duration time.Duration) {
	micros := duration.Microseconds()
	if micros < 0 {
		micros = 0
	}
	t.tickDurationMicros.Store(micros)
}

func (t *telemetryCounters) Snapshot() telemetrySnapshot {
	return telemetrySnapshot{
		BytesSent:          t.bytesSent.Load(),
		EntitiesSent:       t.entitiesSent.Load(),
		TickDurationMicros: t.tickDurationMicros.Load(),
		LastBroadcastBytes: t.lastBroadcastBytes.Load(),
		StepsDropped:       t.stepsDropped.Load(),
		Landings:           t.landings.Load(),
		CommitFailures:     t.commitFailures.Load(),
		Explosions:         t.explosions.Load(),
	}
}
