package services

import (
	"fmt"

	"github.com/wsprism/wsprism/internal/protocol"
	"github.com/wsprism/wsprism/pkg/realtime"
)

// EchoBinary mirrors Hot Lane payloads: with an active room it fans the frame
// out to the room on the droppable tier, otherwise it reflects the frame to
// the sender. Useful as a latency probe and as the reference Hot service.
type EchoBinary struct {
	svcID uint8
}

// NewEchoBinary creates the echo service under the given service id.
func NewEchoBinary(svcID uint8) *EchoBinary {
	return &EchoBinary{svcID: svcID}
}

// SvcID implements realtime.HotService.
func (e *EchoBinary) SvcID() uint8 { return e.svcID }

// HandleHot implements realtime.HotService. The payload is copied because it
// aliases the connection's read buffer.
func (e *EchoBinary) HandleHot(ctx realtime.Ctx, msg realtime.HotMessage) realtime.Action {
	var flags uint8
	if msg.HasSeq {
		flags |= protocol.HotFlagSeqPresent
	}
	frame := protocol.EncodeHotFrame(protocol.HotFrame{
		V:       protocol.Version,
		SvcID:   e.svcID,
		Opcode:  msg.Opcode,
		Flags:   flags,
		Seq:     msg.Seq,
		Payload: msg.Payload,
	})

	if ctx.ActiveRoom != "" {
		item := realtime.Item{
			Binary:  true,
			Lossy:   true,
			Key:     fmt.Sprintf("echo:%s:%d", ctx.User, msg.Opcode),
			Payload: frame,
		}
		return realtime.Broadcast(ctx.ActiveRoom, item, true)
	}

	return realtime.Forward(realtime.Item{Binary: true, Payload: frame})
}
