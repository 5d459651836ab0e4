package ws

import (
	"encoding/binary"
)

// Frame is one decoded or to be encoded frame.
// A fragmented message is a run of frames:the first one carries the data
// opcode,the followers are continuations,only the last one has Fin set.
// This package never merges fragments,every frame is handled on its own.
type Frame struct {
	OPCode  OPCode
	RSV     uint8 //3 bits,no extension is supported,so this is always 0
	Fin     bool
	Payload []byte
}

// NewFrame builds a text frame carrying data
func NewFrame(data []byte) *Frame {
	return &Frame{OPCode: Text, Fin: true, Payload: data}
}

// NewCloseFrame builds a close frame carrying the status code,2 bytes big endian
func NewCloseFrame(code uint16) *Frame {
	payload := make([]byte, 2)
	binary.BigEndian.PutUint16(payload, code)
	return &Frame{OPCode: Close, Fin: true, Payload: payload}
}

// CloseEcho builds the echo for a received close frame.
// Only the 2 bytes status code is kept,the reason text is dropped.
// origin's payload must have at least 2 bytes.
func CloseEcho(origin *Frame) *Frame {
	return &Frame{OPCode: Close, Fin: true, Payload: origin.Payload[:2]}
}

// CloseCode returns the status code carried in a close frame's payload,
// ok is false when this is not a close frame or the payload has no code in it
func (f *Frame) CloseCode() (code uint16, ok bool) {
	if f.OPCode != Close || len(f.Payload) < 2 {
		return 0, false
	}
	return binary.BigEndian.Uint16(f.Payload), true
}

// CloseReason returns the utf8 reason text behind the status code,may be empty
func (f *Frame) CloseReason() string {
	if f.OPCode != Close || len(f.Payload) <= 2 {
		return ""
	}
	return string(f.Payload[2:])
}
