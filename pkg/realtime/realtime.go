// Package realtime is the SDK for gateway service handlers. Services receive
// a per-message Ctx plus the decoded message and return an Action telling the
// dispatcher what to deliver. Handlers must not block; offload long work and
// re-enqueue replies through the gateway.
package realtime

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Ctx identifies the sending session for one message.
type Ctx struct {
	SessionID  uuid.UUID
	User       string
	Tenant     string
	ActiveRoom string
}

// ExtMessage is a decoded Ext Lane message addressed to a service.
type ExtMessage struct {
	Type         string
	Room         string
	Seq          uint32
	HasSeq       bool
	AckRequested bool
	Data         json.RawMessage
}

// HotMessage is a decoded Hot Lane message. Payload aliases the read buffer;
// handlers that keep it past return must copy.
type HotMessage struct {
	Opcode       uint8
	Seq          uint32
	HasSeq       bool
	AckRequested bool
	Payload      []byte
}

// Item is an outbound message produced by a handler.
type Item struct {
	// Binary selects the WebSocket frame type.
	Binary bool
	// Lossy routes the item through the droppable tier.
	Lossy bool
	// Key coalesces Lossy items: newer payloads replace queued ones with the
	// same key.
	Key     string
	Payload []byte
}

// ActionKind discriminates Action.
type ActionKind int

// Handler outcomes.
const (
	ActNoop ActionKind = iota
	ActAck
	ActForward
	ActBroadcast
	ActError
)

// Action is what the dispatcher does with a handled message.
type Action struct {
	Kind        ActionKind
	Item        Item
	Room        string
	ExcludeSelf bool
	ErrCode     string
	ErrMessage  string
}

// Noop acknowledges nothing and sends nothing.
func Noop() Action { return Action{Kind: ActNoop} }

// Ack requests an acknowledgement frame when the client asked for one.
func Ack() Action { return Action{Kind: ActAck} }

// Forward sends the item back to the originating session.
func Forward(item Item) Action { return Action{Kind: ActForward, Item: item} }

// Broadcast fans the item out to a room.
func Broadcast(room string, item Item, excludeSelf bool) Action {
	return Action{Kind: ActBroadcast, Room: room, Item: item, ExcludeSelf: excludeSelf}
}

// Error reports a handler failure delivered to the client as a sys error.
func Error(code, message string) Action {
	return Action{Kind: ActError, ErrCode: code, ErrMessage: message}
}

// ExtService handles Ext Lane messages for one service name.
type ExtService interface {
	Name() string
	HandleExt(ctx Ctx, msg ExtMessage) Action
}

// HotService handles Hot Lane messages for one service id.
type HotService interface {
	SvcID() uint8
	HandleHot(ctx Ctx, msg HotMessage) Action
}
