package ws

import (
	"bufio"
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"net"
	"net/http"
	"strings"

	"github.com/chenjie199234/Websocket/pool/bpool"
	"github.com/chenjie199234/Websocket/util/common"
)

// Cupgrade sends the http upgrade request on the conn and checks the response,client side.
// doesn't support sub protocol and extension
// extraheader is merged into the request,set it with http.Header.Set so the
// keys are canonical.When a key collides with a header this function writes
// itself the caller's value wins,so the caller can pin its own
// Sec-Websocket-Key or Host if it wants to,the required Sec-Websocket-Key is
// made from 16 random bytes otherwise.
// The returned header carries the response headers this function doesn't consume.
// The response must be 101 with the matching accept sign,any other status
// comes back as a *HttpError which carries the status text.
// example:
//
//	var conn net.Conn
//	... dial the server
//	... don't forget to set the deadline on the conn
//	reader := bufio.NewReader(conn)
//	Cupgrade(reader, conn, "www.example.com", "/chat", nil)
func Cupgrade(reader *bufio.Reader, conn net.Conn, host, path string, extraheader http.Header) (http.Header, error) {
	nonce := extraheader.Get("Sec-Websocket-Key")
	if nonce == "" {
		noncebuf := make([]byte, base64.StdEncoding.EncodedLen(16))
		rand.Read(noncebuf[len(noncebuf)-16:])
		base64.StdEncoding.Encode(noncebuf, noncebuf[len(noncebuf)-16:])
		nonce = common.BTS(noncebuf)
	}
	buf := bpool.Get(256 + len(host) + len(path))
	defer bpool.Put(&buf)
	buf = append(buf, "GET "...)
	if len(path) == 0 {
		buf = append(buf, '/')
	} else {
		if path[0] != '/' {
			buf = append(buf, '/')
		}
		buf = append(buf, path...)
	}
	buf = append(buf, " HTTP/1.1\r\nHost: "...)
	if v := extraheader.Get("Host"); v != "" {
		buf = append(buf, v...)
	} else {
		buf = append(buf, host...)
	}
	buf = append(buf, "\r\nUpgrade: "...)
	if v := extraheader.Get("Upgrade"); v != "" {
		buf = append(buf, v...)
	} else {
		buf = append(buf, "websocket"...)
	}
	buf = append(buf, "\r\nConnection: "...)
	if v := extraheader.Get("Connection"); v != "" {
		buf = append(buf, v...)
	} else {
		buf = append(buf, "Upgrade"...)
	}
	buf = append(buf, "\r\nSec-Websocket-Version: "...)
	if v := extraheader.Get("Sec-Websocket-Version"); v != "" {
		buf = append(buf, v...)
	} else {
		buf = append(buf, "13"...)
	}
	buf = append(buf, "\r\nSec-Websocket-Key: "...)
	buf = append(buf, nonce...)
	buf = append(buf, "\r\n"...)
	for k, vs := range extraheader {
		switch strings.ToLower(k) {
		case "host", "upgrade", "connection", "sec-websocket-version", "sec-websocket-key":
			//already written above
			continue
		}
		for _, v := range vs {
			buf = append(buf, k...)
			buf = append(buf, ": "...)
			buf = append(buf, v...)
			buf = append(buf, "\r\n"...)
		}
	}
	buf = append(buf, "\r\n"...)
	if _, e := conn.Write(buf); e != nil {
		return nil, e
	}
	//response line
	line, prefix, e := reader.ReadLine()
	if e != nil {
		return nil, e
	}
	if prefix {
		return nil, ErrResponseLineFormat
	}
	pieces := bytes.SplitN(line, []byte{' '}, 3)
	if len(pieces) < 2 {
		return nil, ErrResponseLineFormat
	}
	if !bytes.Equal(pieces[0], []byte{'H', 'T', 'T', 'P', '/', '1', '.', '1'}) {
		return nil, ErrHttpVersion
	}
	if !bytes.Equal(pieces[1], []byte{'1', '0', '1'}) {
		status := string(pieces[1])
		if len(pieces) == 3 {
			status += " " + string(bytes.TrimSpace(pieces[2]))
		}
		return nil, &HttpError{Status: status}
	}
	//response headers
	header := make(http.Header)
	var check uint8
	for {
		line, prefix, e = reader.ReadLine()
		if e != nil {
			return nil, e
		}
		if prefix {
			return nil, ErrHeaderLineFormat
		}
		if len(line) == 0 {
			break
		}
		pieces = bytes.SplitN(line, []byte{':'}, 2)
		if len(pieces) != 2 {
			return nil, ErrHeaderLineFormat
		}
		key := bytes.TrimSpace(pieces[0])
		value := bytes.TrimSpace(pieces[1])
		switch strings.ToLower(common.BTS(key)) {
		case "upgrade":
			if strings.ToLower(common.BTS(value)) != "websocket" {
				return nil, ErrNotWS
			}
			check |= 0b00000001
		case "connection":
			if !strings.Contains(strings.ToLower(common.BTS(value)), "upgrade") {
				return nil, ErrNotWS
			}
			check |= 0b00000010
		case "sec-websocket-accept":
			if common.BTS(value) != makeAccept(common.STB(nonce)) {
				return nil, ErrAcceptSign
			}
			check |= 0b00000100
		default:
			header.Add(string(key), string(value))
		}
	}
	if check != 0b00000111 {
		return nil, ErrNotWS
	}
	return header, nil
}
