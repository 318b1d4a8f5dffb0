/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package party

import (
	"time"

	"go.uber.org/zap"
)

// Member is one connection's seat in a room.
type Member struct {
	ConnID      string
	DisplayName string
}

// Room is an ephemeral shared playback and chat session. Its fields are
// written only by Membership (members) and Playback (position).
type Room struct {
	id string

	members []Member

	playbackTime float64
	isPlaying    bool
	updatedAt    time.Time
}

func (r *Room) ID() string {
	return r.id
}

func (r *Room) indexOf(connID string) int {
	for i, m := range r.members {
		if m.ConnID == connID {
			return i
		}
	}

	return -1
}

func (r *Room) displayNames() []string {
	names := make([]string, 0, len(r.members))
	for _, m := range r.members {
		names = append(names, m.DisplayName)
	}

	return names
}

// Registry owns every live Room, keyed by room id.
type Registry struct {
	rooms  map[string]*Room
	logger *zap.Logger
}

func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		rooms:  make(map[string]*Room),
		logger: logger,
	}
}

func (g *Registry) GetOrCreate(roomID string) *Room {
	if room, ok := g.rooms[roomID]; ok {
		return room
	}

	room := &Room{id: roomID}
	g.rooms[roomID] = room

	g.logger.Info("room created", zap.String("room_id", roomID))

	return room
}

func (g *Registry) Get(roomID string) (*Room, bool) {
	room, ok := g.rooms[roomID]

	return room, ok
}

// Remove evicts a room. Unknown ids are ignored.
func (g *Registry) Remove(roomID string) {
	if _, ok := g.rooms[roomID]; !ok {
		return
	}

	delete(g.rooms, roomID)

	g.logger.Info("room removed", zap.String("room_id", roomID))
}

func (g *Registry) Len() int {
	return len(g.rooms)
}
