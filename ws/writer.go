package ws

import (
	"crypto/rand"
	"encoding/binary"
	"math"
	"net"

	"github.com/chenjie199234/Websocket/pool/bpool"
)

// the header is 2 bytes,plus 2 or 8 bytes extended payload length,plus 4
// bytes mask key when mask is needed,see the layout in reader.go
func makeheader(buf []byte, fin, firstpiece, mask bool, length uint64, opcode OPCode) ([]byte, []byte) {
	if fin && firstpiece {
		buf = append(buf, _FIN|uint8(opcode))
	} else if fin {
		buf = append(buf, _FIN|uint8(Continuation))
	} else if firstpiece {
		buf = append(buf, uint8(opcode))
	} else {
		buf = append(buf, uint8(Continuation))
	}
	var lencode uint8
	switch {
	case length <= 125:
		lencode = uint8(length)
	case length <= math.MaxUint16:
		lencode = 126
	default:
		lencode = 127
	}
	if mask {
		buf = append(buf, _MASK|lencode)
	} else {
		buf = append(buf, lencode)
	}
	switch lencode {
	case 126:
		buf = binary.BigEndian.AppendUint16(buf, uint16(length))
	case 127:
		buf = binary.BigEndian.AppendUint64(buf, length)
	}
	var maskkey []byte
	if mask {
		curlen := len(buf)
		buf = append(buf, 0, 0, 0, 0)
		maskkey = buf[curlen:]
		rand.Read(maskkey)
	}
	return buf, maskkey
}

// WriteFrame encodes the frame and sends it with one single Write on the conn,
// so frames sent by concurrent callers never interleave on the wire.
// The rsv bits are always written as 0,no extension is supported.
// mask decides whether the payload is masked with a fresh random key,RFC 6455
// wants it on the client side and forbids it on the server side.
// ErrCtlTooLarge is returned before anything is written when a control frame
// carries a payload longer then 125.
func WriteFrame(conn net.Conn, f *Frame, mask bool) error {
	if f.OPCode.IsControl() && len(f.Payload) > 125 {
		return ErrCtlTooLarge
	}
	buf := bpool.Get(14 + len(f.Payload))
	defer bpool.Put(&buf)
	var maskkey []byte
	buf, maskkey = makeheader(buf, f.Fin, true, mask, uint64(len(f.Payload)), f.OPCode)
	headlen := len(buf)
	buf = append(buf, f.Payload...)
	if mask {
		domask(buf[headlen:], maskkey)
	}
	if _, e := conn.Write(buf); e != nil {
		return e
	}
	return nil
}

// WriteMsg sends one piece of a binary message.
// A whole message is one call with both fin and firstpiece true.
// A fragmented message is one call per piece:firstpiece is true on the first
// one,fin is true on the last one,every piece behind the first is sent as a
// continuation.
// Each piece goes out in one single Write on the conn.
func WriteMsg(conn net.Conn, data []byte, fin, firstpiece, mask bool) error {
	buf := bpool.Get(14 + len(data))
	defer bpool.Put(&buf)
	var maskkey []byte
	buf, maskkey = makeheader(buf, fin, firstpiece, mask, uint64(len(data)), Binary)
	headlen := len(buf)
	buf = append(buf, data...)
	if mask {
		domask(buf[headlen:], maskkey)
	}
	if _, e := conn.Write(buf); e != nil {
		return e
	}
	return nil
}

// RFC 6455:control frames must not be fragmented and the payload can't be longer then 125
func WritePing(conn net.Conn, data []byte, mask bool) error {
	if len(data) > 125 {
		return ErrCtlTooLarge
	}
	return WriteFrame(conn, &Frame{OPCode: Ping, Fin: true, Payload: data}, mask)
}

// RFC 6455:control frames must not be fragmented and the payload can't be longer then 125
func WritePong(conn net.Conn, data []byte, mask bool) error {
	if len(data) > 125 {
		return ErrCtlTooLarge
	}
	return WriteFrame(conn, &Frame{OPCode: Pong, Fin: true, Payload: data}, mask)
}
