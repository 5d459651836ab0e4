package ws

import (
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"strconv"
)

type OPCode uint8

const (
	Continuation OPCode = 0b00000000 //can be not fin
	Text         OPCode = 0b00000001 //can be not fin
	Binary       OPCode = 0b00000010 //can be not fin
	Close        OPCode = 0b00001000 //must be fin,payload can't be longer then 125
	Ping         OPCode = 0b00001001 //must be fin,payload can't be longer then 125
	Pong         OPCode = 0b00001010 //must be fin,payload can't be longer then 125
)

const (
	_FIN  uint8 = 0b10000000
	_RSV1 uint8 = 0b01000000
	_RSV2 uint8 = 0b00100000
	_RSV3 uint8 = 0b00010000
	_MASK uint8 = 0b10000000
)

// close status codes written by this package
const (
	CloseCodeNormal   uint16 = 1000
	CloseCodeAway     uint16 = 1001
	CloseCodeProtocol uint16 = 1002
	CloseCodeTooLarge uint16 = 1009
)

func (op OPCode) IsContinuation() bool {
	return op == Continuation
}
func (op OPCode) IsText() bool {
	return op == Text
}
func (op OPCode) IsBinary() bool {
	return op == Binary
}
func (op OPCode) IsClose() bool {
	return op == Close
}
func (op OPCode) IsPing() bool {
	return op == Ping
}
func (op OPCode) IsPong() bool {
	return op == Pong
}
func (op OPCode) IsControl() bool {
	return op&0b00001000 > 0
}

// IsReserved reports whether this opcode has no meaning in RFC 6455
func (op OPCode) IsReserved() bool {
	switch op {
	case Continuation, Text, Binary, Close, Ping, Pong:
		return false
	}
	return true
}

func (op OPCode) String() string {
	switch op {
	case Continuation:
		return "continuation"
	case Text:
		return "text"
	case Binary:
		return "binary"
	case Close:
		return "close"
	case Ping:
		return "ping"
	case Pong:
		return "pong"
	}
	return "reserved-" + strconv.FormatUint(uint64(op), 10)
}

var (
	ErrNotWS              = errors.New("not a websocket connection")
	ErrRequestLineFormat  = errors.New("http request line format wrong")
	ErrResponseLineFormat = errors.New("http response line format wrong")
	ErrHeaderLineFormat   = errors.New("http header line format wrong")
	ErrHttpVersion        = errors.New("http version unsupported")
	ErrAcceptSign         = errors.New("accept sign wrong")

	ErrMsgRsv      = errors.New("message rsv set")
	ErrMsgTooLarge = errors.New("message too large")
	ErrCtlTooLarge = errors.New("control message too large")
)

// HttpError is returned by Cupgrade when the upgrade request is answered
// with a status other then 101,Status carries the response's status line
// without the http version,e.g. "403 Forbidden"
type HttpError struct {
	Status string
}

func (e *HttpError) Error() string {
	return "http error: " + e.Status
}

func domask(data []byte, maskkey []byte) {
	for i, v := range data {
		data[i] = v ^ maskkey[i%4]
	}
}

// base64(sha1(key + 258EAFA5-E914-47DA-95CA-C5AB0DC85B11)),see RFC 6455 4.2.2
func makeAccept(key []byte) string {
	h := sha1.New()
	h.Write(key)
	h.Write([]byte{'2', '5', '8', 'E', 'A', 'F', 'A', '5', '-', 'E', '9', '1', '4', '-', '4', '7', 'D', 'A', '-', '9', '5', 'C', 'A', '-', 'C', '5', 'A', 'B', '0', 'D', 'C', '8', '5', 'B', '1', '1'})
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}
