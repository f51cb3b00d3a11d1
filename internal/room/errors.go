package room

import "errors"

// Join and leave failures.
var (
	// ErrRoomLimit means the tenant hit max_rooms_total.
	ErrRoomLimit = errors.New("room: tenant room limit reached")

	// ErrRoomFull means the room hit max_users_per_room.
	ErrRoomFull = errors.New("room: room is full")

	// ErrUserRoomLimit means the session hit max_rooms_per_user.
	ErrUserRoomLimit = errors.New("room: per-user room limit reached")

	// ErrNotMember means the session is not in the room.
	ErrNotMember = errors.New("room: not a member")
)
