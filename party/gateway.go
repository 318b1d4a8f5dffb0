/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package party

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Conn is one live transport session as seen by the Gateway.
type Conn interface {
	ID() string
	Send(msgType string, payload any) error
	Close() error
}

type Options struct {
	// Operator is the identity allowed to run moderation commands.
	Operator string

	DriftTolerance time.Duration
	MaxChatLength  int

	Now func() time.Time
}

// Gateway routes inbound events onto the room components and pushes the
// resulting events back out. It holds no locks: every method must be
// called from a single goroutine, which Loop provides.
type Gateway struct {
	conns map[string]Conn

	registry   *Registry
	bans       *BanList
	membership *Membership
	playback   *Playback
	chat       *ChatRelay
	moderator  *Moderator

	driftTolerance time.Duration

	logger *zap.Logger
}

func NewGateway(opts Options, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}

	if opts.DriftTolerance <= 0 {
		opts.DriftTolerance = DefaultDriftTolerance
	}

	registry := NewRegistry(logger)
	bans := NewBanList()
	membership := NewMembership(registry, bans, logger)

	return &Gateway{
		conns:          make(map[string]Conn),
		registry:       registry,
		bans:           bans,
		membership:     membership,
		playback:       NewPlayback(registry, opts.Now, logger),
		chat:           NewChatRelay(membership, opts.MaxChatLength, opts.Now),
		moderator:      NewModerator(opts.Operator, membership, bans, logger),
		driftTolerance: opts.DriftTolerance,
		logger:         logger,
	}
}

// Connect registers conn under the identity its transport established.
func (g *Gateway) Connect(conn Conn, identity string) {
	g.conns[conn.ID()] = conn
	g.membership.Register(conn.ID(), identity)

	g.logger.Debug("connection registered",
		zap.String("conn_id", conn.ID()),
		zap.String("identity", identity))

	g.sendWelcome(conn.ID())
}

func (g *Gateway) sendWelcome(connID string) {
	g.send(connID, MsgTypeWelcome, WelcomePayload{
		ConnectionID:   connID,
		Operator:       g.moderator.Authorize(connID),
		DriftTolerance: g.driftTolerance.Seconds(),
	})
}

// Disconnect runs leave cleanup for a closed transport. Unknown or
// already disconnected ids are ignored.
func (g *Gateway) Disconnect(connID string) {
	g.drop(connID, true)
}

func (g *Gateway) Stats() (rooms, connections int) {
	return g.registry.Len(), len(g.conns)
}

// Dispatch handles one inbound message from connID.
func (g *Gateway) Dispatch(connID, msgType string, payload []byte) {
	if _, ok := g.conns[connID]; !ok {
		return
	}

	g.logger.Debug("message received",
		zap.String("conn_id", connID),
		zap.String("message_type", msgType))

	switch msgType {
	case MsgTypeJoin:
		g.handleJoin(connID, payload)
	case MsgTypeLeave:
		g.handleLeave(connID)
	case MsgTypePlaybackReport:
		g.handlePlaybackReport(connID, payload)
	case MsgTypeRequestSync:
		g.handleRequestSync(connID)
	case MsgTypeChat:
		g.handleChat(connID, payload)
	case MsgTypeModerationCommand:
		g.handleModerationCommand(connID, payload)
	case MsgTypePing:
		g.send(connID, MsgTypePong, nil)
	default:
		g.sendError(connID, "unknown_message_type", fmt.Sprintf("Unknown message type: %s", msgType))
	}
}

func (g *Gateway) handleJoin(connID string, payload []byte) {
	var p JoinPayload
	if err := decodePayload(payload, &p); err != nil {
		g.sendError(connID, "invalid_payload", "Invalid join payload")

		return
	}

	wasOperator := g.moderator.Authorize(connID)

	joined, err := g.membership.Join(connID, p.RoomID, p.DisplayName)
	switch {
	case errors.Is(err, ErrBanned):
		g.logger.Info("banned identity refused",
			zap.String("conn_id", connID),
			zap.String("identity", g.membership.Identity(connID)),
			zap.String("display_name", p.DisplayName))

		g.send(connID, MsgTypeBanned, BannedPayload{Reason: "You have been banned."})
		g.closeConn(connID)
		g.drop(connID, true)

		return
	case err != nil:
		g.sendError(connID, errorName(err), "Invalid room id")

		return
	}

	if joined.Previous != nil {
		g.announceDeparture(*joined.Previous)
	}

	g.sendSnapshot(connID, joined.RoomID)

	g.broadcast(joined.RoomID, "", MsgTypeMemberList, MemberListPayload{
		RoomID:  joined.RoomID,
		Members: joined.Members,
	})

	if !joined.Existing {
		g.broadcastChat(joined.RoomID, g.chat.System(joined.DisplayName+" joined"))
	}

	// A first join can fill in the identity; tell a newly recognized
	// operator so the client can offer the moderation controls.
	if !wasOperator && g.moderator.Authorize(connID) {
		g.sendWelcome(connID)
	}
}

func (g *Gateway) handleLeave(connID string) {
	if departure, left := g.membership.Leave(connID); left {
		g.announceDeparture(departure)
	}
}

func (g *Gateway) handlePlaybackReport(connID string, payload []byte) {
	var p PlaybackReportPayload
	if err := decodePayload(payload, &p); err != nil {
		g.sendError(connID, "invalid_payload", "Invalid playback report payload")

		return
	}

	roomID, ok := g.resolveRoom(connID, p.RoomID)
	if !ok {
		g.sendError(connID, ErrNotInRoom.Error(), "You are not in that room")

		return
	}

	if p.Time == nil {
		g.logger.Debug("playback report dropped",
			zap.String("conn_id", connID),
			zap.Error(ErrInvalidReport))

		return
	}

	if err := g.playback.Report(roomID, *p.Time, p.Playing); err != nil {
		g.logger.Debug("playback report dropped",
			zap.String("conn_id", connID),
			zap.Error(err))

		return
	}

	snapshot, _ := g.playback.Snapshot(roomID)

	g.broadcast(roomID, connID, MsgTypePlaybackSync, syncPayload(roomID, snapshot))
}

func (g *Gateway) handleRequestSync(connID string) {
	roomID, ok := g.membership.RoomOf(connID)
	if !ok {
		g.sendError(connID, ErrNotInRoom.Error(), "You are not in a room")

		return
	}

	g.sendSnapshot(connID, roomID)
}

func (g *Gateway) handleChat(connID string, payload []byte) {
	var p ChatPayload
	if err := decodePayload(payload, &p); err != nil {
		g.sendError(connID, "invalid_payload", "Invalid chat payload")

		return
	}

	roomID := p.RoomID
	if roomID == "" {
		roomID, _ = g.membership.RoomOf(connID)
	}

	msg, err := g.chat.Post(roomID, connID, p.Text)
	switch {
	case errors.Is(err, ErrEmptyMessage):
		return
	case err != nil:
		g.sendError(connID, errorName(err), "You are not in that room")

		return
	}

	g.broadcastChat(roomID, msg)
}

func (g *Gateway) handleModerationCommand(connID string, payload []byte) {
	var p ModerationCommandPayload
	if err := decodePayload(payload, &p); err != nil {
		g.sendError(connID, "invalid_payload", "Invalid moderation payload")

		return
	}

	outcome, err := g.moderator.Execute(connID, p.Command, p.Arg)
	if err != nil {
		g.send(connID, MsgTypeModerationResult, ModerationResultPayload{
			Success: false,
			Error:   errorName(err),
		})

		return
	}

	g.send(connID, MsgTypeModerationResult, ModerationResultPayload{
		Command: outcome.Command,
		Success: true,
	})

	if outcome.Announcement != "" {
		for _, id := range g.membership.Connections() {
			g.send(id, MsgTypeAnnouncement, AnnouncementPayload{Text: outcome.Announcement})
		}
	}

	for _, id := range outcome.Banned {
		g.send(id, MsgTypeBanned, BannedPayload{Reason: "You have been banned by the operator."})
	}

	g.announceDepartures(outcome.Departures)

	for _, id := range outcome.Banned {
		g.closeConn(id)
		g.drop(id, true)
	}

	if len(outcome.Disconnect) == 0 {
		return
	}

	for _, id := range outcome.Disconnect {
		g.send(id, MsgTypeForceDisconnect, ForceDisconnectPayload{Reason: "Disconnected by the operator."})
		g.closeConn(id)
	}

	for _, id := range outcome.Disconnect {
		g.drop(id, false)
	}
}

// resolveRoom maps a payload room id onto the sender's actual room. An
// empty id means the current room; any other room is refused.
func (g *Gateway) resolveRoom(connID, roomID string) (string, bool) {
	current, ok := g.membership.RoomOf(connID)
	if !ok {
		return "", false
	}

	if roomID != "" && roomID != current {
		return "", false
	}

	return current, true
}

// drop forgets a connection. With announce set, the room it left is told
// about it.
func (g *Gateway) drop(connID string, announce bool) {
	if _, ok := g.conns[connID]; !ok {
		return
	}

	delete(g.conns, connID)

	departure, left := g.membership.Forget(connID)

	g.logger.Debug("connection dropped", zap.String("conn_id", connID))

	if left && announce {
		g.announceDeparture(departure)
	}
}

func (g *Gateway) announceDeparture(departure Departure) {
	if len(departure.Remaining) == 0 {
		return
	}

	g.broadcast(departure.RoomID, "", MsgTypeMemberList, MemberListPayload{
		RoomID:  departure.RoomID,
		Members: departure.Remaining,
	})

	g.broadcastChat(departure.RoomID, g.chat.System(departure.DisplayName+" left"))
}

// announceDepartures tells each affected room once, after every
// departure has happened, so no list names a member already gone.
func (g *Gateway) announceDepartures(departures []Departure) {
	var rooms []string

	names := make(map[string][]string)
	for _, d := range departures {
		if _, ok := names[d.RoomID]; !ok {
			rooms = append(rooms, d.RoomID)
		}
		names[d.RoomID] = append(names[d.RoomID], d.DisplayName)
	}

	for _, roomID := range rooms {
		members := g.membership.MembersOf(roomID)
		if len(members) == 0 {
			continue
		}

		g.broadcast(roomID, "", MsgTypeMemberList, MemberListPayload{
			RoomID:  roomID,
			Members: members,
		})

		for _, name := range names[roomID] {
			g.broadcastChat(roomID, g.chat.System(name+" left"))
		}
	}
}

func (g *Gateway) sendSnapshot(connID, roomID string) {
	snapshot, ok := g.playback.Snapshot(roomID)
	if !ok {
		return
	}

	g.send(connID, MsgTypePlaybackSync, syncPayload(roomID, snapshot))
}

func (g *Gateway) broadcastChat(roomID string, msg ChatMessage) {
	g.broadcast(roomID, "", MsgTypeChatMessage, ChatMessagePayload{
		RoomID:    roomID,
		Sender:    msg.Sender,
		Text:      msg.Text,
		Timestamp: msg.Timestamp.UnixMilli(),
		System:    msg.System,
	})
}

// broadcast sends to every current member of roomID except exclude.
func (g *Gateway) broadcast(roomID, exclude, msgType string, payload any) {
	for _, m := range g.membership.Members(roomID) {
		if m.ConnID == exclude {
			continue
		}

		g.send(m.ConnID, msgType, payload)
	}
}

// send delivers to one connection. A failed send closes the transport,
// whose close path then disconnects it.
func (g *Gateway) send(connID, msgType string, payload any) {
	conn, ok := g.conns[connID]
	if !ok {
		return
	}

	if err := conn.Send(msgType, payload); err != nil {
		g.logger.Debug("send failed",
			zap.String("conn_id", connID),
			zap.String("message_type", msgType),
			zap.Error(err))

		_ = conn.Close()
	}
}

func (g *Gateway) sendError(connID, code, message string) {
	g.send(connID, MsgTypeError, ErrorPayload{
		Code:    code,
		Message: message,
	})
}

func (g *Gateway) closeConn(connID string) {
	if conn, ok := g.conns[connID]; ok {
		_ = conn.Close()
	}
}

func syncPayload(roomID string, snapshot Snapshot) PlaybackSyncPayload {
	p := PlaybackSyncPayload{
		RoomID:  roomID,
		Time:    snapshot.Time,
		Playing: snapshot.Playing,
	}

	if !snapshot.UpdatedAt.IsZero() {
		p.UpdatedAt = snapshot.UpdatedAt.UnixMilli()
	}

	return p
}

func decodePayload(payload []byte, target any) error {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 || bytes.Equal(payload, []byte("null")) {
		return nil
	}

	return json.Unmarshal(payload, target)
}
