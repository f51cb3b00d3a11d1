// Package protocol defines the two wire formats carried over one WebSocket:
// the JSON Ext Lane envelope (text frames) and the binary Hot Lane frame.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Protocol version accepted on both lanes.
const Version = 1

// Ext envelope flag bits.
const (
	ExtFlagSeqPresent   uint32 = 0x01
	ExtFlagRoomPresent  uint32 = 0x02
	ExtFlagAckRequested uint32 = 0x04
)

// SysService is the service name reserved for gateway control traffic.
const SysService = "sys"

// Envelope is the Ext Lane message. Data is kept raw so services decode it
// lazily.
type Envelope struct {
	V     uint32          `json:"v"`
	Svc   string          `json:"svc"`
	Type  string          `json:"type"`
	Flags uint32          `json:"flags"`
	Seq   uint32          `json:"seq,omitempty"`
	Room  string          `json:"room,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// DecodeEnvelope parses an Ext Lane text frame. Unknown fields are rejected
// to keep the client contract strict.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var env Envelope
	if err := dec.Decode(&env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if env.V != Version {
		return nil, ErrBadVersion
	}
	if env.Svc == "" || env.Type == "" {
		return nil, fmt.Errorf("%w: svc and type are required", ErrDecode)
	}
	return &env, nil
}

// EncodeEnvelope serializes an envelope for the wire.
func EncodeEnvelope(env *Envelope) ([]byte, error) {
	return json.Marshal(env)
}

// SysFrame builds a system envelope of the given type with an optional data
// object. Marshal errors cannot occur for the map payloads the gateway sends.
func SysFrame(msgType string, data map[string]any) []byte {
	env := Envelope{V: Version, Svc: SysService, Type: msgType}
	if data != nil {
		raw, _ := json.Marshal(data)
		env.Data = raw
	}
	out, _ := json.Marshal(&env)
	return out
}

// SysError builds the standard `sys/error` frame.
func SysError(code, message string) []byte {
	return SysFrame("error", map[string]any{"code": code, "message": message})
}
