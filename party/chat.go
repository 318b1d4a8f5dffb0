/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package party

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	DefaultMaxChatLength = 500

	// SystemSender is the reserved sender of join and leave notices.
	SystemSender = "*system*"
)

// ChatMessage is one chat line as delivered to a room.
type ChatMessage struct {
	Sender    string
	Text      string
	Timestamp time.Time
	System    bool
}

// ChatRelay builds chat events. The sender is always resolved from
// Membership; clients cannot name themselves.
type ChatRelay struct {
	membership *Membership
	maxLength  int
	now        func() time.Time
}

func NewChatRelay(membership *Membership, maxLength int, now func() time.Time) *ChatRelay {
	if maxLength < 1 {
		maxLength = DefaultMaxChatLength
	}

	if now == nil {
		now = time.Now
	}

	return &ChatRelay{
		membership: membership,
		maxLength:  maxLength,
		now:        now,
	}
}

// Post validates text from senderConnID and returns the event to deliver
// to every member of roomID, sender included.
func (c *ChatRelay) Post(roomID, senderConnID, text string) (ChatMessage, error) {
	if strings.TrimSpace(text) == "" {
		return ChatMessage{}, fmt.Errorf("chat in room %q: %w", roomID, ErrEmptyMessage)
	}

	current, ok := c.membership.RoomOf(senderConnID)
	if !ok || current != roomID {
		return ChatMessage{}, fmt.Errorf("chat in room %q: %w", roomID, ErrNotInRoom)
	}

	sender, _ := c.membership.DisplayName(senderConnID)

	if utf8.RuneCountInString(text) > c.maxLength {
		text = string([]rune(text)[:c.maxLength])
	}

	return ChatMessage{
		Sender:    sender,
		Text:      text,
		Timestamp: c.now(),
	}, nil
}

// System builds a server-authored notice.
func (c *ChatRelay) System(text string) ChatMessage {
	return ChatMessage{
		Sender:    SystemSender,
		Text:      text,
		Timestamp: c.now(),
		System:    true,
	}
}
