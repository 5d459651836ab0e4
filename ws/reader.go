package ws

import (
	"bufio"
	"encoding/binary"
	"io"
	"math"
)

//  0                   1                   2                   3
//  0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1
// +-+-+-+-+-------+-+-------------+-------------------------------+
// |F|R|R|R| opcode|M| Payload len |    Extended payload length    |
// |I|S|S|S|  (4)  |A|     (7)     |             (16/64)           |
// |N|V|V|V|       |S|             |   (if payload len==126/127)   |
// | |1|2|3|       |K|             |                               |
// +-+-+-+-+-------+-+-------------+ - - - - - - - - - - - - - - - +
// |     Extended payload length continued, if payload len == 127  |
// + - - - - - - - - - - - - - - - +-------------------------------+
// |                               |Masking-key, if MASK set to 1  |
// +-------------------------------+-------------------------------+
// | Masking-key (continued)       |          Payload Data         |
// +-------------------------------- - - - - - - - - - - - - - - - +
// :                     Payload Data continued ...                :
// + - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - +
// |                     Payload Data continued ...                |
// +---------------------------------------------------------------+

// ReadFrame decodes one frame from the reader.
// The decode is all or nothing:either a whole frame is returned or an error,
// a partly decoded frame never escapes.
// The header's mask bit alone decides whether the payload gets unmasked,no
// matter which role this side plays.RFC 6455 wants a server to drop unmasked
// client frames,this implementation doesn't enforce that.
// The payload is freshly allocated,the caller can keep it.
// maxmsglen 0 means no limit.
// Wire format errors:
// ErrMsgRsv - one of the rsv bits is set,no extension is negotiated,so this is a protocol violation
// ErrCtlTooLarge - a control frame claims a payload longer then 125
// ErrMsgTooLarge - the payload is longer then maxmsglen(or doesn't fit in memory)
// Everything else is an error from the reader itself,io.EOF between two frames
// means the peer closed the connection cleanly,inside a frame it comes back as
// io.ErrUnexpectedEOF.
func ReadFrame(reader *bufio.Reader, maxmsglen uint32) (*Frame, error) {
	//only io.EOF on the frame's very first byte is a clean close
	readfull := func(buf []byte) error {
		if _, e := io.ReadFull(reader, buf); e != nil {
			if e == io.EOF {
				return io.ErrUnexpectedEOF
			}
			return e
		}
		return nil
	}
	var headbuf [2]byte
	if _, e := io.ReadFull(reader, headbuf[:]); e != nil {
		return nil, e
	}
	f := &Frame{}
	f.Fin = headbuf[0]&_FIN > 0
	f.RSV = (headbuf[0] >> 4) & 0b00000111
	f.OPCode = OPCode(headbuf[0] & 0b00001111)
	if f.RSV != 0 {
		return nil, ErrMsgRsv
	}
	mask := headbuf[1]&_MASK > 0
	payloadlen := uint64(headbuf[1] & 0b01111111)
	if f.OPCode.IsControl() && payloadlen > 125 {
		return nil, ErrCtlTooLarge
	}
	switch payloadlen {
	case 126:
		var lenbuf [2]byte
		if e := readfull(lenbuf[:]); e != nil {
			return nil, e
		}
		payloadlen = uint64(binary.BigEndian.Uint16(lenbuf[:]))
	case 127:
		var lenbuf [8]byte
		if e := readfull(lenbuf[:]); e != nil {
			return nil, e
		}
		payloadlen = binary.BigEndian.Uint64(lenbuf[:])
		if payloadlen > math.MaxInt32 {
			return nil, ErrMsgTooLarge
		}
	}
	if maxmsglen > 0 && payloadlen > uint64(maxmsglen) {
		return nil, ErrMsgTooLarge
	}
	var maskkey [4]byte
	if mask {
		if e := readfull(maskkey[:]); e != nil {
			return nil, e
		}
	}
	if payloadlen > 0 {
		f.Payload = make([]byte, payloadlen)
		if e := readfull(f.Payload); e != nil {
			return nil, e
		}
		if mask {
			domask(f.Payload, maskkey[:])
		}
	}
	return f, nil
}
