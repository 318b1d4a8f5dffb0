/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package party

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
)

const (
	CommandAnnounce = "announce"
	CommandBan      = "ban"
	CommandKickAll  = "kickall"
	CommandUnban    = "unban"
)

// Outcome lists the side effects of an accepted moderation command. The
// Gateway delivers them; Moderator only decides.
type Outcome struct {
	Command string

	// Announcement is sent to every connection when non-empty.
	Announcement string

	// Disconnect receives forceDisconnect and is closed.
	Disconnect []string

	// Banned receives a banned notice and is closed. Departures are the
	// rooms those connections were removed from.
	Banned     []string
	Departures []Departure
}

// Moderator executes operator commands. Every command is rejected with
// ErrUnauthorized unless the caller's identity equals the operator
// identity, before the command name is even looked at.
type Moderator struct {
	operator   string
	membership *Membership
	bans       *BanList
	logger     *zap.Logger
}

func NewModerator(operator string, membership *Membership, bans *BanList, logger *zap.Logger) *Moderator {
	return &Moderator{
		operator:   operator,
		membership: membership,
		bans:       bans,
		logger:     logger,
	}
}

// Authorize reports whether connID acts as operator. An empty operator
// identity disables moderation entirely.
func (m *Moderator) Authorize(connID string) bool {
	if m.operator == "" {
		return false
	}

	return m.membership.Identity(connID) == m.operator
}

func (m *Moderator) Execute(connID, command, arg string) (Outcome, error) {
	if !m.Authorize(connID) {
		m.logger.Warn("moderation refused",
			zap.String("conn_id", connID),
			zap.String("identity", m.membership.Identity(connID)))

		return Outcome{}, fmt.Errorf("moderation by %q: %w", connID, ErrUnauthorized)
	}

	command = strings.ToLower(strings.TrimSpace(command))
	arg = strings.TrimSpace(arg)

	var (
		outcome Outcome
		err     error
	)

	switch command {
	case CommandAnnounce:
		outcome, err = m.announce(arg)
	case CommandKickAll:
		outcome = m.kickAll()
	case CommandBan:
		outcome, err = m.ban(arg)
	case CommandUnban:
		outcome, err = m.unban(arg)
	default:
		return Outcome{}, fmt.Errorf("moderation command %q: %w", command, ErrUnknownCommand)
	}

	if err != nil {
		return Outcome{}, err
	}

	outcome.Command = command

	m.logger.Info("moderation executed",
		zap.String("command", command),
		zap.String("arg", arg),
		zap.Int("disconnected", len(outcome.Disconnect)),
		zap.Int("banned", len(outcome.Banned)))

	return outcome, nil
}

func (m *Moderator) announce(text string) (Outcome, error) {
	if text == "" {
		return Outcome{}, fmt.Errorf("announce: %w", ErrInvalidArgument)
	}

	return Outcome{Announcement: text}, nil
}

func (m *Moderator) kickAll() Outcome {
	return Outcome{Disconnect: m.membership.Connections()}
}

func (m *Moderator) ban(identity string) (Outcome, error) {
	if identity == "" || identity == m.operator {
		return Outcome{}, fmt.Errorf("ban %q: %w", identity, ErrInvalidArgument)
	}

	m.bans.Add(identity)

	outcome := Outcome{Banned: m.membership.ConnectionsOf(identity)}

	for _, connID := range outcome.Banned {
		if departure, left := m.membership.Leave(connID); left {
			outcome.Departures = append(outcome.Departures, departure)
		}
	}

	return outcome, nil
}

func (m *Moderator) unban(identity string) (Outcome, error) {
	if identity == "" {
		return Outcome{}, fmt.Errorf("unban: %w", ErrInvalidArgument)
	}

	m.bans.Remove(identity)

	return Outcome{}, nil
}
