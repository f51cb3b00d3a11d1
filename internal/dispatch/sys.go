package dispatch

import (
	"encoding/json"
	"errors"

	"github.com/wsprism/wsprism/internal/protocol"
	"github.com/wsprism/wsprism/internal/room"
	"github.com/wsprism/wsprism/internal/session"
	"github.com/wsprism/wsprism/internal/tenant"
)

// Room operation error codes surfaced to clients.
const (
	codeRoomLimit     = "room_limit"
	codeRoomFull      = "room_full"
	codeUserRoomLimit = "rooms_per_user_limit"
	codeNotMember     = "not_member"
)

// handleSys serves the reserved `sys` service: room membership, active-room
// selection, and keep-alive echoes. Sys frames bypass the allowlist so room
// management works without tenant configuration, but they still pay a rate
// token like any other frame.
func (d *Dispatcher) handleSys(st *tenant.State, sess *session.Session, env *protocol.Envelope) {
	if !sess.Pipeline().TakeToken() {
		d.reply(sess, protocol.SysFrame("rate_limited", nil))
		return
	}

	switch env.Type {
	case "ping":
		d.reply(sess, protocol.SysFrame("pong", nil))

	case "pong":
		// Reply to a server ping. Idle accounting already reset on receipt;
		// nothing to send back.

	case "room:join":
		roomID, ok := sysRoom(env)
		if !ok {
			d.reply(sess, protocol.SysError("malformed_frame", "room is required"))
			return
		}
		if err := st.Presence().Join(sess, roomID, st.RoomLimits()); err != nil {
			d.reply(sess, protocol.SysError(roomErrCode(err), err.Error()))
			return
		}
		d.reply(sess, protocol.SysFrame("room_joined", map[string]any{"room": roomID}))

	case "room:leave":
		roomID, ok := sysRoom(env)
		if !ok {
			d.reply(sess, protocol.SysError("malformed_frame", "room is required"))
			return
		}
		if err := st.Presence().Leave(sess, roomID); err != nil {
			d.reply(sess, protocol.SysError(roomErrCode(err), err.Error()))
			return
		}
		d.reply(sess, protocol.SysFrame("room_left", map[string]any{"room": roomID}))

	case "room:set_active":
		roomID, ok := sysRoom(env)
		if !ok {
			d.reply(sess, protocol.SysError("malformed_frame", "room is required"))
			return
		}
		// Requires prior explicit join; setting an unjoined room fails.
		if !sess.SetActiveRoom(roomID) {
			d.reply(sess, protocol.SysError(codeNotMember, "join the room first"))
			return
		}
		d.reply(sess, protocol.SysFrame("room_active", map[string]any{"room": roomID}))

	default:
		d.reply(sess, protocol.SysError("policy_denied", "unknown sys type"))
	}
}

// sysRoom extracts the target room from the envelope's room field, falling
// back to a {"room": ...} data object.
func sysRoom(env *protocol.Envelope) (string, bool) {
	if env.Room != "" {
		return env.Room, true
	}
	var body struct {
		Room string `json:"room"`
	}
	if len(env.Data) > 0 && json.Unmarshal(env.Data, &body) == nil && body.Room != "" {
		return body.Room, true
	}
	return "", false
}

func roomErrCode(err error) string {
	switch {
	case errors.Is(err, room.ErrRoomLimit):
		return codeRoomLimit
	case errors.Is(err, room.ErrRoomFull):
		return codeRoomFull
	case errors.Is(err, room.ErrUserRoomLimit):
		return codeUserRoomLimit
	case errors.Is(err, room.ErrNotMember):
		return codeNotMember
	}
	return "internal_error"
}
