// Package services holds the built-in gateway services: room chat on the Ext
// Lane and binary echo on the Hot Lane. Both are thin reference handlers;
// real deployments register their own implementations of the realtime
// interfaces alongside or instead of these.
package services

import (
	"encoding/json"

	"github.com/wsprism/wsprism/internal/protocol"
	"github.com/wsprism/wsprism/pkg/realtime"
)

// Chat relays room messages between members.
type Chat struct{}

// NewChat creates the chat service.
func NewChat() *Chat { return &Chat{} }

// Name implements realtime.ExtService.
func (c *Chat) Name() string { return "chat" }

type chatSend struct {
	Msg string `json:"msg"`
}

type chatMsg struct {
	From string `json:"from"`
	Msg  string `json:"msg"`
}

// HandleExt implements realtime.ExtService. The only inbound type is "send";
// the room comes from the envelope, falling back to the sender's active room.
func (c *Chat) HandleExt(ctx realtime.Ctx, msg realtime.ExtMessage) realtime.Action {
	if msg.Type != "send" {
		return realtime.Error("policy_denied", "unknown chat type")
	}

	room := msg.Room
	if room == "" {
		room = ctx.ActiveRoom
	}
	if room == "" {
		return realtime.Error("not_member", "chat:send requires a room")
	}

	var body chatSend
	if err := json.Unmarshal(msg.Data, &body); err != nil || body.Msg == "" {
		return realtime.Error("malformed_frame", "chat:send requires data.msg")
	}

	payload, err := protocol.EncodeEnvelope(&protocol.Envelope{
		V:     protocol.Version,
		Svc:   "chat",
		Type:  "msg",
		Flags: protocol.ExtFlagRoomPresent,
		Room:  room,
		Data:  mustJSON(chatMsg{From: ctx.User, Msg: body.Msg}),
	})
	if err != nil {
		return realtime.Error("internal_error", "encode failed")
	}

	return realtime.Broadcast(room, realtime.Item{Payload: payload}, false)
}

func mustJSON(v any) json.RawMessage {
	raw, _ := json.Marshal(v)
	return raw
}
