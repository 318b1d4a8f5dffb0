/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package party

import (
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
)

// DefaultDriftTolerance is how far a client's local position may stray
// from a received sync before the client seeks. Clients enforce it; the
// server only advertises it.
const DefaultDriftTolerance = 2 * time.Second

// Snapshot is the authoritative playback state of a room.
type Snapshot struct {
	Time      float64
	Playing   bool
	UpdatedAt time.Time
}

// Playback reconciles client reports against room state. Every valid
// report overwrites the room (last writer wins); there is no ordering
// token.
type Playback struct {
	registry *Registry
	now      func() time.Time
	logger   *zap.Logger
}

func NewPlayback(registry *Registry, now func() time.Time, logger *zap.Logger) *Playback {
	if now == nil {
		now = time.Now
	}

	return &Playback{
		registry: registry,
		now:      now,
		logger:   logger,
	}
}

// Report applies an observation. Non-finite or negative times are
// rejected without touching the room. A report for a room that no longer
// exists yields ErrRoomNotFound, which callers treat as a no-op.
func (p *Playback) Report(roomID string, reportedTime float64, playing bool) error {
	if math.IsNaN(reportedTime) || math.IsInf(reportedTime, 0) || reportedTime < 0 {
		return fmt.Errorf("report %v for room %q: %w", reportedTime, roomID, ErrInvalidReport)
	}

	room, ok := p.registry.Get(roomID)
	if !ok {
		return fmt.Errorf("report for room %q: %w", roomID, ErrRoomNotFound)
	}

	room.playbackTime = reportedTime
	room.isPlaying = playing
	room.updatedAt = p.now()

	p.logger.Debug("playback reported",
		zap.String("room_id", roomID),
		zap.Float64("time", reportedTime),
		zap.Bool("playing", playing))

	return nil
}

func (p *Playback) Snapshot(roomID string) (Snapshot, bool) {
	room, ok := p.registry.Get(roomID)
	if !ok {
		return Snapshot{}, false
	}

	return Snapshot{
		Time:      room.playbackTime,
		Playing:   room.isPlaying,
		UpdatedAt: room.updatedAt,
	}, true
}
