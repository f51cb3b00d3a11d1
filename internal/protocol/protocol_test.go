package protocol

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDecodeEnvelope(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in      string
		wantErr error
		check   func(t *testing.T, env *Envelope)
	}{
		{
			name: "minimal",
			in:   `{"v":1,"svc":"chat","type":"send","flags":0}`,
			check: func(t *testing.T, env *Envelope) {
				if env.Svc != "chat" || env.Type != "send" {
					t.Fatalf("got %s/%s", env.Svc, env.Type)
				}
			},
		},
		{
			name: "all fields",
			in:   `{"v":1,"svc":"chat","type":"send","flags":7,"seq":42,"room":"lobby","data":{"msg":"hi"}}`,
			check: func(t *testing.T, env *Envelope) {
				if env.Seq != 42 || env.Room != "lobby" {
					t.Fatalf("seq=%d room=%s", env.Seq, env.Room)
				}
				if env.Flags != ExtFlagSeqPresent|ExtFlagRoomPresent|ExtFlagAckRequested {
					t.Fatalf("flags=%d", env.Flags)
				}
			},
		},
		{name: "not json", in: `not json`, wantErr: ErrDecode},
		{name: "unknown field", in: `{"v":1,"svc":"a","type":"b","flags":0,"extra":true}`, wantErr: ErrDecode},
		{name: "wrong version", in: `{"v":2,"svc":"a","type":"b","flags":0}`, wantErr: ErrBadVersion},
		{name: "missing svc", in: `{"v":1,"type":"b","flags":0}`, wantErr: ErrDecode},
		{name: "missing type", in: `{"v":1,"svc":"a","flags":0}`, wantErr: ErrDecode},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			env, err := DecodeEnvelope([]byte(tt.in))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			tt.check(t, env)
		})
	}
}

func TestDecodeHotFrame(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in      []byte
		wantErr bool
		check   func(t *testing.T, f HotFrame)
	}{
		{
			name: "no seq",
			in:   []byte{1, 7, 2, 0, 0xAA, 0xBB},
			check: func(t *testing.T, f HotFrame) {
				if f.SvcID != 7 || f.Opcode != 2 || f.HasSeq {
					t.Fatalf("frame %+v", f)
				}
				if len(f.Payload) != 2 || f.Payload[0] != 0xAA {
					t.Fatalf("payload %x", f.Payload)
				}
			},
		},
		{
			name: "with seq little endian",
			in:   []byte{1, 7, 2, 0x01, 0x01, 0x02, 0x00, 0x00, 0xFF},
			check: func(t *testing.T, f HotFrame) {
				if !f.HasSeq || f.Seq != 0x0201 {
					t.Fatalf("seq=%d hasSeq=%v", f.Seq, f.HasSeq)
				}
				if len(f.Payload) != 1 || f.Payload[0] != 0xFF {
					t.Fatalf("payload %x", f.Payload)
				}
			},
		},
		{
			name: "seq flag with empty payload",
			in:   []byte{1, 7, 2, 0x01, 0x05, 0x00, 0x00, 0x00},
			check: func(t *testing.T, f HotFrame) {
				if f.Seq != 5 || len(f.Payload) != 0 {
					t.Fatalf("frame %+v", f)
				}
			},
		},
		{name: "truncated header", in: []byte{1, 7, 2}, wantErr: true},
		{name: "truncated seq", in: []byte{1, 7, 2, 0x01, 0x05, 0x00}, wantErr: true},
		{name: "wrong version", in: []byte{2, 7, 2, 0}, wantErr: true},
		{name: "empty", in: nil, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f, err := DecodeHotFrame(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			tt.check(t, f)
		})
	}
}

func TestHotFrameRoundTrip(t *testing.T) {
	t.Parallel()

	in := HotFrame{
		V:      Version,
		SvcID:  9,
		Opcode: 3,
		Flags:  HotFlagSeqPresent | HotFlagAckRequested,
		Seq:    123456,
	}
	in.Payload = []byte("state")

	out, err := DecodeHotFrame(EncodeHotFrame(in))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.SvcID != in.SvcID || out.Opcode != in.Opcode || out.Seq != in.Seq || !out.HasSeq {
		t.Fatalf("round trip mismatch: %+v", out)
	}
	if string(out.Payload) != "state" {
		t.Fatalf("payload %q", out.Payload)
	}
}

func TestSysFrame(t *testing.T) {
	t.Parallel()

	var env Envelope
	if err := json.Unmarshal(SysFrame("pong", nil), &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env.V != Version || env.Svc != SysService || env.Type != "pong" {
		t.Fatalf("frame %+v", env)
	}
	if len(env.Data) != 0 {
		t.Fatalf("nil data should be omitted, got %s", env.Data)
	}
}

func TestSysError(t *testing.T) {
	t.Parallel()

	var env Envelope
	if err := json.Unmarshal(SysError("rate_limited", "slow down"), &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env.Type != "error" {
		t.Fatalf("type = %s", env.Type)
	}
	var data struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("data: %v", err)
	}
	if data.Code != "rate_limited" || data.Message != "slow down" {
		t.Fatalf("data %+v", data)
	}
}
