package services

import (
	"encoding/json"
	"testing"

	"github.com/wsprism/wsprism/internal/protocol"
	"github.com/wsprism/wsprism/pkg/realtime"
)

func TestChatSendBroadcastsToRoom(t *testing.T) {
	t.Parallel()

	c := NewChat()
	if c.Name() != "chat" {
		t.Fatalf("name = %q", c.Name())
	}

	act := c.HandleExt(
		realtime.Ctx{User: "alice", Tenant: "acme"},
		realtime.ExtMessage{Type: "send", Room: "lobby", Data: json.RawMessage(`{"msg":"hi"}`)},
	)
	if act.Kind != realtime.ActBroadcast {
		t.Fatalf("action = %+v", act)
	}
	if act.Room != "lobby" {
		t.Fatalf("broadcast target = %+v", act)
	}
	if act.ExcludeSelf {
		t.Fatal("chat must echo back to the sender")
	}
	if act.Item.Binary || act.Item.Lossy {
		t.Fatalf("chat messages belong on the reliable text path: %+v", act.Item)
	}

	env, err := protocol.DecodeEnvelope(act.Item.Payload)
	if err != nil {
		t.Fatalf("broadcast payload not a valid envelope: %v", err)
	}
	if env.Svc != "chat" || env.Type != "msg" || env.Room != "lobby" {
		t.Fatalf("envelope = %+v", env)
	}
	var body chatMsg
	if err := json.Unmarshal(env.Data, &body); err != nil {
		t.Fatal(err)
	}
	if body.From != "alice" || body.Msg != "hi" {
		t.Fatalf("body = %+v", body)
	}
}

func TestChatFallsBackToActiveRoom(t *testing.T) {
	t.Parallel()

	act := NewChat().HandleExt(
		realtime.Ctx{User: "alice", ActiveRoom: "den"},
		realtime.ExtMessage{Type: "send", Data: json.RawMessage(`{"msg":"hi"}`)},
	)
	if act.Kind != realtime.ActBroadcast || act.Room != "den" {
		t.Fatalf("action = %+v, want broadcast to active room", act)
	}
}

func TestChatErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		ctx      realtime.Ctx
		msg      realtime.ExtMessage
		wantCode string
	}{
		{
			name:     "unknown type",
			msg:      realtime.ExtMessage{Type: "edit", Room: "lobby", Data: json.RawMessage(`{"msg":"x"}`)},
			wantCode: "policy_denied",
		},
		{
			name:     "no room anywhere",
			msg:      realtime.ExtMessage{Type: "send", Data: json.RawMessage(`{"msg":"x"}`)},
			wantCode: "not_member",
		},
		{
			name:     "missing msg field",
			msg:      realtime.ExtMessage{Type: "send", Room: "lobby", Data: json.RawMessage(`{}`)},
			wantCode: "malformed_frame",
		},
		{
			name:     "data not json",
			msg:      realtime.ExtMessage{Type: "send", Room: "lobby", Data: json.RawMessage(`nope`)},
			wantCode: "malformed_frame",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			act := NewChat().HandleExt(tt.ctx, tt.msg)
			if act.Kind != realtime.ActError || act.ErrCode != tt.wantCode {
				t.Fatalf("action = %+v, want error %q", act, tt.wantCode)
			}
		})
	}
}

func TestEchoReflectsWithoutRoom(t *testing.T) {
	t.Parallel()

	e := NewEchoBinary(7)
	if e.SvcID() != 7 {
		t.Fatalf("svc id = %d", e.SvcID())
	}

	act := e.HandleHot(
		realtime.Ctx{User: "alice"},
		realtime.HotMessage{Opcode: 3, Seq: 42, HasSeq: true, Payload: []byte{0xde, 0xad}},
	)
	if act.Kind != realtime.ActForward {
		t.Fatalf("action = %+v, want forward", act)
	}
	if !act.Item.Binary || act.Item.Lossy {
		t.Fatalf("reflected frame must be binary and reliable: %+v", act.Item)
	}

	frame, err := protocol.DecodeHotFrame(act.Item.Payload)
	if err != nil {
		t.Fatalf("reflected payload not a valid frame: %v", err)
	}
	if frame.SvcID != 7 || frame.Opcode != 3 {
		t.Fatalf("frame = %+v", frame)
	}
	if frame.Flags&protocol.HotFlagSeqPresent == 0 || frame.Seq != 42 {
		t.Fatalf("seq not preserved: %+v", frame)
	}
	if string(frame.Payload) != "\xde\xad" {
		t.Fatalf("payload = %x", frame.Payload)
	}
}

func TestEchoBroadcastsLossyWithActiveRoom(t *testing.T) {
	t.Parallel()

	act := NewEchoBinary(7).HandleHot(
		realtime.Ctx{User: "alice", ActiveRoom: "arena"},
		realtime.HotMessage{Opcode: 1, Payload: []byte{0x01}},
	)
	if act.Kind != realtime.ActBroadcast || act.Room != "arena" || !act.ExcludeSelf {
		t.Fatalf("action = %+v, want broadcast to arena excluding sender", act)
	}
	if !act.Item.Binary || !act.Item.Lossy {
		t.Fatalf("room echo must be binary and lossy: %+v", act.Item)
	}
	if act.Item.Key == "" {
		t.Fatal("lossy echo needs a coalescing key")
	}

	// Same sender and opcode coalesce; a different opcode must not.
	other := NewEchoBinary(7).HandleHot(
		realtime.Ctx{User: "alice", ActiveRoom: "arena"},
		realtime.HotMessage{Opcode: 2, Payload: []byte{0x02}},
	)
	if other.Item.Key == act.Item.Key {
		t.Fatal("distinct opcodes must not share a coalescing key")
	}

	frame, err := protocol.DecodeHotFrame(act.Item.Payload)
	if err != nil {
		t.Fatal(err)
	}
	if frame.Flags&protocol.HotFlagSeqPresent != 0 {
		t.Fatalf("seq flag set without a seq: %+v", frame)
	}
}
