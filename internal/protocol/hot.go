package protocol

import "encoding/binary"

// Hot frame flag bits.
const (
	HotFlagSeqPresent   uint8 = 0x01
	HotFlagAckRequested uint8 = 0x02
)

const hotHeaderSize = 4

// HotFrame is a parsed Hot Lane binary frame. Payload aliases the input
// buffer; handlers must finish with it synchronously or copy.
type HotFrame struct {
	V       uint8
	SvcID   uint8
	Opcode  uint8
	Flags   uint8
	Seq     uint32
	HasSeq  bool
	Payload []byte
}

// DecodeHotFrame parses the little-endian header
// [v][svc_id][opcode][flags][seq:u32?][payload]. It never panics on
// truncated input.
func DecodeHotFrame(data []byte) (HotFrame, error) {
	if len(data) < hotHeaderSize {
		return HotFrame{}, ErrDecode
	}

	f := HotFrame{
		V:      data[0],
		SvcID:  data[1],
		Opcode: data[2],
		Flags:  data[3],
	}
	if f.V != Version {
		return HotFrame{}, ErrBadVersion
	}

	rest := data[hotHeaderSize:]
	if f.Flags&HotFlagSeqPresent != 0 {
		if len(rest) < 4 {
			return HotFrame{}, ErrDecode
		}
		f.Seq = binary.LittleEndian.Uint32(rest)
		f.HasSeq = true
		rest = rest[4:]
	}
	f.Payload = rest
	return f, nil
}

// EncodeHotFrame builds a Hot Lane frame. The seq word is emitted only when
// the flag says so.
func EncodeHotFrame(f HotFrame) []byte {
	size := hotHeaderSize + len(f.Payload)
	if f.Flags&HotFlagSeqPresent != 0 {
		size += 4
	}
	out := make([]byte, 0, size)
	out = append(out, f.V, f.SvcID, f.Opcode, f.Flags)
	if f.Flags&HotFlagSeqPresent != 0 {
		out = binary.LittleEndian.AppendUint32(out, f.Seq)
	}
	return append(out, f.Payload...)
}
