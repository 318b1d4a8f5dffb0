/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package party

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
)

const (
	DefaultDisplayName   = "Guest"
	MaxDisplayNameLength = 100
	MaxRoomIDLength      = 64
)

// Departure describes a connection leaving a room.
type Departure struct {
	RoomID      string
	DisplayName string
	Remaining   []string
}

// Joined is the result of a successful Join. Previous is set when the
// connection was moved out of another room first; Existing when it was
// already seated in the requested room.
type Joined struct {
	RoomID      string
	DisplayName string
	Members     []string
	Previous    *Departure
	Existing    bool
}

type session struct {
	identity    string
	roomID      string
	displayName string
}

// Membership tracks which connection sits in which room, under which
// display name, and which identity each connection presented. It is the
// only writer of Room.members.
type Membership struct {
	registry *Registry
	bans     *BanList

	sessions map[string]*session
	order    []string

	logger *zap.Logger
}

func NewMembership(registry *Registry, bans *BanList, logger *zap.Logger) *Membership {
	return &Membership{
		registry: registry,
		bans:     bans,
		sessions: make(map[string]*session),
		logger:   logger,
	}
}

// Register records the identity a connection presented. An empty
// identity is filled in from the display name of its first join.
func (m *Membership) Register(connID, identity string) {
	if s, ok := m.sessions[connID]; ok {
		s.identity = identity

		return
	}

	m.sessions[connID] = &session{identity: identity}
	m.order = append(m.order, connID)
}

// Forget removes a connection entirely, leaving its room first.
func (m *Membership) Forget(connID string) (Departure, bool) {
	departure, left := m.Leave(connID)

	if _, ok := m.sessions[connID]; !ok {
		return departure, left
	}

	delete(m.sessions, connID)

	for i, id := range m.order {
		if id == connID {
			m.order = append(m.order[:i], m.order[i+1:]...)

			break
		}
	}

	return departure, left
}

func (m *Membership) Identity(connID string) string {
	if s, ok := m.sessions[connID]; ok {
		return s.identity
	}

	return ""
}

func (m *Membership) RoomOf(connID string) (string, bool) {
	s, ok := m.sessions[connID]
	if !ok || s.roomID == "" {
		return "", false
	}

	return s.roomID, true
}

func (m *Membership) DisplayName(connID string) (string, bool) {
	s, ok := m.sessions[connID]
	if !ok || s.roomID == "" {
		return "", false
	}

	return s.displayName, true
}

// Connections returns every registered connection in registration order.
func (m *Membership) Connections() []string {
	out := make([]string, len(m.order))
	copy(out, m.order)

	return out
}

func (m *Membership) ConnectionsOf(identity string) []string {
	var out []string
	for _, id := range m.order {
		if m.sessions[id].identity == identity {
			out = append(out, id)
		}
	}

	return out
}

// Join seats connID in roomID. A connection already in another room
// leaves it first. Banned identities and display names are refused
// before anything changes.
func (m *Membership) Join(connID, roomID, displayName string) (Joined, error) {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" || utf8.RuneCountInString(roomID) > MaxRoomIDLength {
		return Joined{}, fmt.Errorf("join room %q: %w", roomID, ErrInvalidArgument)
	}

	displayName = normalizeDisplayName(displayName)

	s, ok := m.sessions[connID]
	if !ok {
		m.Register(connID, "")
		s = m.sessions[connID]
	}

	if m.bans.Contains(displayName) || (s.identity != "" && m.bans.Contains(s.identity)) {
		return Joined{}, fmt.Errorf("join room %q as %q: %w", roomID, displayName, ErrBanned)
	}

	if s.roomID == roomID {
		return Joined{
			RoomID:      roomID,
			DisplayName: s.displayName,
			Members:     m.MembersOf(roomID),
			Existing:    true,
		}, nil
	}

	var previous *Departure
	if departure, left := m.Leave(connID); left {
		previous = &departure
	}

	if s.identity == "" {
		s.identity = displayName
	}

	room := m.registry.GetOrCreate(roomID)
	if room.indexOf(connID) < 0 {
		room.members = append(room.members, Member{ConnID: connID, DisplayName: displayName})
	}

	s.roomID = roomID
	s.displayName = displayName

	m.logger.Info("member joined",
		zap.String("room_id", roomID),
		zap.String("conn_id", connID),
		zap.String("display_name", displayName),
		zap.Int("members", len(room.members)))

	return Joined{
		RoomID:      roomID,
		DisplayName: displayName,
		Members:     room.displayNames(),
		Previous:    previous,
	}, nil
}

// Leave removes connID from its room, evicting the room once empty.
// Leaving twice is a no-op.
func (m *Membership) Leave(connID string) (Departure, bool) {
	s, ok := m.sessions[connID]
	if !ok || s.roomID == "" {
		return Departure{}, false
	}

	departure := Departure{
		RoomID:      s.roomID,
		DisplayName: s.displayName,
	}

	s.roomID = ""
	s.displayName = ""

	room, ok := m.registry.Get(departure.RoomID)
	if !ok {
		return departure, true
	}

	if i := room.indexOf(connID); i >= 0 {
		room.members = append(room.members[:i], room.members[i+1:]...)
	}

	m.logger.Info("member left",
		zap.String("room_id", departure.RoomID),
		zap.String("conn_id", connID),
		zap.String("display_name", departure.DisplayName),
		zap.Int("members", len(room.members)))

	if len(room.members) == 0 {
		m.registry.Remove(departure.RoomID)

		return departure, true
	}

	departure.Remaining = room.displayNames()

	return departure, true
}

// MembersOf lists display names in join order. Unknown rooms yield nil.
func (m *Membership) MembersOf(roomID string) []string {
	room, ok := m.registry.Get(roomID)
	if !ok {
		return nil
	}

	return room.displayNames()
}

// Members returns the current seats of a room, for fan-out.
func (m *Membership) Members(roomID string) []Member {
	room, ok := m.registry.Get(roomID)
	if !ok {
		return nil
	}

	out := make([]Member, len(room.members))
	copy(out, room.members)

	return out
}

func normalizeDisplayName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return DefaultDisplayName
	}

	if utf8.RuneCountInString(name) > MaxDisplayNameLength {
		name = string([]rune(name)[:MaxDisplayNameLength])
	}

	return name
}
