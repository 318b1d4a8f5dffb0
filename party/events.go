/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package party

// Message types, client to server.
const (
	MsgTypeChat              = "chat"
	MsgTypeJoin              = "join"
	MsgTypeLeave             = "leave"
	MsgTypeModerationCommand = "moderationCommand"
	MsgTypePing              = "ping"
	MsgTypePlaybackReport    = "playbackReport"
	MsgTypeRequestSync       = "requestSync"
)

// Message types, server to client.
const (
	MsgTypeAnnouncement     = "announcement"
	MsgTypeBanned           = "banned"
	MsgTypeChatMessage      = "chatMessage"
	MsgTypeError            = "error"
	MsgTypeForceDisconnect  = "forceDisconnect"
	MsgTypeMemberList       = "memberList"
	MsgTypeModerationResult = "moderationResult"
	MsgTypePlaybackSync     = "playbackSync"
	MsgTypePong             = "pong"
	MsgTypeWelcome          = "welcome"
)

type JoinPayload struct {
	RoomID      string `json:"roomId"`
	DisplayName string `json:"displayName"`
}

// PlaybackReportPayload carries time in seconds. A missing time is an
// invalid report. An empty RoomID means the sender's current room.
type PlaybackReportPayload struct {
	RoomID  string   `json:"roomId,omitempty"`
	Time    *float64 `json:"time"`
	Playing bool     `json:"playing"`
}

// ChatPayload has no sender field on purpose; the server names the
// sender.
type ChatPayload struct {
	RoomID string `json:"roomId,omitempty"`
	Text   string `json:"text"`
}

type ModerationCommandPayload struct {
	Command string `json:"command"`
	Arg     string `json:"arg,omitempty"`
}

// WelcomePayload is sent once per connection, before anything else.
type WelcomePayload struct {
	ConnectionID   string  `json:"connectionId"`
	Operator       bool    `json:"operator"`
	DriftTolerance float64 `json:"driftTolerance"` // seconds
}

type MemberListPayload struct {
	RoomID  string   `json:"roomId"`
	Members []string `json:"members"`
}

type PlaybackSyncPayload struct {
	RoomID    string  `json:"roomId"`
	Time      float64 `json:"time"` // seconds
	Playing   bool    `json:"playing"`
	UpdatedAt int64   `json:"updatedAt,omitempty"` // unix ms
}

type ChatMessagePayload struct {
	RoomID    string `json:"roomId"`
	Sender    string `json:"sender"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"` // unix ms
	System    bool   `json:"system,omitempty"`
}

type AnnouncementPayload struct {
	Text string `json:"text"`
}

type ForceDisconnectPayload struct {
	Reason string `json:"reason"`
}

type BannedPayload struct {
	Reason string `json:"reason"`
}

type ModerationResultPayload struct {
	Command string `json:"command,omitempty"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
