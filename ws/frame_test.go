package ws

import (
	"bufio"
	"bytes"
	"crypto/rand"
	"io"
	"net"
	"testing"
)

func Test_FrameRoundTrip(t *testing.T) {
	for _, masked := range []bool{false, true} {
		for _, length := range []int{0, 1, 125, 126, 65535, 65536} {
			data := make([]byte, length)
			rand.Read(data)
			p1, p2 := net.Pipe()
			go func() {
				if e := WriteFrame(p1, &Frame{OPCode: Binary, Fin: true, Payload: data}, masked); e != nil {
					t.Error("write failed:", e)
				}
			}()
			f, e := ReadFrame(bufio.NewReader(p2), 0)
			if e != nil {
				t.Fatal("read failed:", e)
			}
			if f.OPCode != Binary || !f.Fin || f.RSV != 0 {
				t.Fatal("frame head broken")
			}
			if !bytes.Equal(f.Payload, data) {
				t.Fatal("payload broken,masked:", masked, "length:", length)
			}
			p1.Close()
			p2.Close()
		}
	}
}

func Test_RoundTripAllTypes(t *testing.T) {
	for _, op := range []OPCode{Continuation, Text, Binary, Close, Ping, Pong} {
		for _, fin := range []bool{true, false} {
			if op.IsControl() && !fin {
				continue
			}
			p1, p2 := net.Pipe()
			go WriteFrame(p1, &Frame{OPCode: op, Fin: fin, Payload: []byte("abc")}, true)
			f, e := ReadFrame(bufio.NewReader(p2), 0)
			if e != nil {
				t.Fatal("read failed:", e)
			}
			if f.OPCode != op || f.Fin != fin || !bytes.Equal(f.Payload, []byte("abc")) {
				t.Fatal("frame broken,opcode:", op.String())
			}
			p1.Close()
			p2.Close()
		}
	}
}

func Test_Mask(t *testing.T) {
	data := make([]byte, 1000)
	rand.Read(data)
	key := []byte{0x12, 0x34, 0x56, 0x78}
	origin := bytes.Clone(data)
	domask(data, key)
	for i, v := range data {
		if v != origin[i]^key[i%4] {
			t.Fatal("mask used the wrong key byte at:", i)
		}
	}
	domask(data, key)
	if !bytes.Equal(data, origin) {
		t.Fatal("mask twice didn't give the origin data back")
	}
}

func Test_DecodeRsv(t *testing.T) {
	for _, b0 := range []byte{
		_FIN | _RSV1 | uint8(Text),
		_FIN | _RSV2 | uint8(Binary),
		_FIN | _RSV3 | uint8(Ping),
		_RSV1 | uint8(Continuation),
	} {
		if _, e := ReadFrame(bufio.NewReader(bytes.NewReader([]byte{b0, 0})), 0); e != ErrMsgRsv {
			t.Fatal("rsv set should fail the decode,got:", e)
		}
	}
}

func Test_DecodeControlTooLarge(t *testing.T) {
	for _, op := range []OPCode{Close, Ping, Pong} {
		for _, lencode := range []byte{126, 127} {
			if _, e := ReadFrame(bufio.NewReader(bytes.NewReader([]byte{_FIN | uint8(op), lencode})), 0); e != ErrCtlTooLarge {
				t.Fatal("oversized control should fail the decode,got:", e)
			}
		}
	}
	//125 is the limit itself,that must still work
	wire := append([]byte{_FIN | uint8(Ping), 125}, make([]byte, 125)...)
	f, e := ReadFrame(bufio.NewReader(bytes.NewReader(wire)), 0)
	if e != nil {
		t.Fatal("read failed:", e)
	}
	if f.OPCode != Ping || len(f.Payload) != 125 {
		t.Fatal("frame broken")
	}
}

func Test_DecodeMsgTooLarge(t *testing.T) {
	wire := append([]byte{_FIN | uint8(Binary), 17}, make([]byte, 17)...)
	if _, e := ReadFrame(bufio.NewReader(bytes.NewReader(wire)), 16); e != ErrMsgTooLarge {
		t.Fatal("oversized payload should fail the decode,got:", e)
	}
	wire = append([]byte{_FIN | uint8(Binary), 17}, make([]byte, 17)...)
	if _, e := ReadFrame(bufio.NewReader(bytes.NewReader(wire)), 17); e != nil {
		t.Fatal("payload on the limit should still work,got:", e)
	}
	//2^31 claimed in the 64bit extended length doesn't fit in memory on every platform
	wire = []byte{_FIN | uint8(Binary), 127, 0, 0, 0, 0, 0x80, 0, 0, 0}
	if _, e := ReadFrame(bufio.NewReader(bytes.NewReader(wire)), 0); e != ErrMsgTooLarge {
		t.Fatal("huge payload should fail the decode,got:", e)
	}
}

func Test_DecodeEOF(t *testing.T) {
	//nothing at all is a clean close
	if _, e := ReadFrame(bufio.NewReader(bytes.NewReader(nil)), 0); e != io.EOF {
		t.Fatal("clean close should be io.EOF,got:", e)
	}
	//a broken frame is not
	for _, wire := range [][]byte{
		{_FIN | uint8(Binary)},
		{_FIN | uint8(Binary), 126, 0},
		{_FIN | uint8(Binary), 127, 0, 0, 0},
		{_FIN | uint8(Binary), _MASK | 3, 1, 2},
		{_FIN | uint8(Binary), 3, 1, 2},
	} {
		if _, e := ReadFrame(bufio.NewReader(bytes.NewReader(wire)), 0); e != io.ErrUnexpectedEOF {
			t.Fatal("broken frame should be io.ErrUnexpectedEOF,got:", e)
		}
	}
}

func Test_FragmentedMsg(t *testing.T) {
	data := make([]byte, 513)
	rand.Read(data)
	p1, p2 := net.Pipe()
	go func() {
		for i := 0; i < len(data); i += 32 {
			end := min(i+32, len(data))
			if e := WriteMsg(p1, data[i:end], end == len(data), i == 0, true); e != nil {
				t.Error("write failed:", e)
				return
			}
		}
	}()
	reader := bufio.NewReader(p2)
	merged := make([]byte, 0, len(data))
	for count := 0; ; count++ {
		f, e := ReadFrame(reader, 0)
		if e != nil {
			t.Fatal("read failed:", e)
		}
		if count == 0 && f.OPCode != Binary {
			t.Fatal("first piece should carry the data opcode,got:", f.OPCode.String())
		}
		if count > 0 && f.OPCode != Continuation {
			t.Fatal("piece behind the first should be a continuation,got:", f.OPCode.String())
		}
		merged = append(merged, f.Payload...)
		if f.Fin {
			break
		}
	}
	if !bytes.Equal(merged, data) {
		t.Fatal("data broken")
	}
	p1.Close()
	p2.Close()
}

func Test_CloseFrame(t *testing.T) {
	f := NewCloseFrame(1000)
	if !bytes.Equal(f.Payload, []byte{0x03, 0xE8}) {
		t.Fatal("close payload broken")
	}
	if code, ok := f.CloseCode(); !ok || code != 1000 {
		t.Fatal("close code broken")
	}
	f.Payload = append(f.Payload, "bye"...)
	if f.CloseReason() != "bye" {
		t.Fatal("close reason broken")
	}
	echo := CloseEcho(f)
	if !bytes.Equal(echo.Payload, []byte{0x03, 0xE8}) {
		t.Fatal("close echo should only keep the status code")
	}
	if _, ok := (&Frame{OPCode: Close, Fin: true}).CloseCode(); ok {
		t.Fatal("close without payload has no code")
	}
	if _, ok := NewFrame([]byte{0x03, 0xE8}).CloseCode(); ok {
		t.Fatal("a data frame has no close code")
	}
}
