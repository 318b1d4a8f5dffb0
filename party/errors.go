/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package party

import "errors"

// Error is a rejection kind. Its text is the name sent to clients in
// moderationResult and error events.
type Error string

func (e Error) Error() string {
	return string(e)
}

const (
	ErrBanned          Error = "Banned"
	ErrEmptyMessage    Error = "EmptyMessage"
	ErrInvalidArgument Error = "InvalidArgument"
	ErrInvalidReport   Error = "InvalidReport"
	ErrNotInRoom       Error = "NotInRoom"
	ErrRoomNotFound    Error = "RoomNotFound"
	ErrUnauthorized    Error = "Unauthorized"
	ErrUnknownCommand  Error = "UnknownCommand"
)

func errorName(err error) string {
	var e Error
	if errors.As(err, &e) {
		return string(e)
	}

	return "Internal"
}
