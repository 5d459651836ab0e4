package ws

import (
	"bufio"
	"bytes"
	"net"
	"net/http"
	"strings"

	"github.com/chenjie199234/Websocket/pool/bpool"
	"github.com/chenjie199234/Websocket/util/common"
)

// Supgrade reads the http upgrade request from the conn and answers it,server side.
// doesn't support sub protocol and extension
// The request must be a GET on http 1.1 with the upgrade,connection and
// sec-websocket-key headers,the connection header may carry other tokens
// around "upgrade",everything else gets refused and nothing is written back.
// path is the raw request target.The returned header carries the request
// headers this function doesn't consume.
// io.EOF comes back untouched when the peer leaves before sending anything.
// example:
//
//	var conn net.Conn
//	... accept the client conn
//	... don't forget to set the deadline on the conn
//	reader := bufio.NewReader(conn)
//	Supgrade(reader, conn)
func Supgrade(reader *bufio.Reader, conn net.Conn) (path string, header http.Header, e error) {
	first, e := reader.Peek(1)
	if e != nil {
		return "", nil, e
	}
	if first[0] != 'G' {
		return "", nil, ErrNotWS
	}
	//request line
	line, prefix, e := reader.ReadLine()
	if e != nil {
		return "", nil, e
	}
	if prefix {
		return "", nil, ErrRequestLineFormat
	}
	pieces := bytes.SplitN(line, []byte{' '}, 3)
	if len(pieces) != 3 {
		return "", nil, ErrRequestLineFormat
	}
	if !bytes.Equal(pieces[0], []byte{'G', 'E', 'T'}) {
		return "", nil, ErrRequestLineFormat
	}
	if !bytes.Equal(pieces[2], []byte{'H', 'T', 'T', 'P', '/', '1', '.', '1'}) {
		return "", nil, ErrHttpVersion
	}
	if len(pieces[1]) == 0 {
		path = "/"
	} else {
		path = string(pieces[1])
	}
	//request headers
	header = make(http.Header)
	var nonce string
	var check uint8
	for {
		line, prefix, e = reader.ReadLine()
		if e != nil {
			return "", nil, e
		}
		if prefix {
			return "", nil, ErrHeaderLineFormat
		}
		if len(line) == 0 {
			break
		}
		pieces = bytes.SplitN(line, []byte{':'}, 2)
		if len(pieces) != 2 {
			return "", nil, ErrHeaderLineFormat
		}
		key := bytes.TrimSpace(pieces[0])
		value := bytes.TrimSpace(pieces[1])
		switch strings.ToLower(common.BTS(key)) {
		case "upgrade":
			if strings.ToLower(common.BTS(value)) != "websocket" {
				return "", nil, ErrNotWS
			}
			check |= 0b00000001
		case "connection":
			if !strings.Contains(strings.ToLower(common.BTS(value)), "upgrade") {
				return "", nil, ErrNotWS
			}
			check |= 0b00000010
		case "sec-websocket-key":
			if len(value) == 0 {
				return "", nil, ErrNotWS
			}
			nonce = string(value)
			check |= 0b00000100
		case "sec-websocket-version":
			//not checked,famous browsers all speak 13
		default:
			header.Add(string(key), string(value))
		}
	}
	if check != 0b00000111 {
		return "", nil, ErrNotWS
	}
	//response
	buf := bpool.Get(256)
	defer bpool.Put(&buf)
	buf = append(buf, "HTTP/1.1 101 Switching Protocols\r\nUpgrade: websocket\r\nConnection: Upgrade\r\nSec-Websocket-Accept: "...)
	buf = append(buf, makeAccept(common.STB(nonce))...)
	buf = append(buf, "\r\n\r\n"...)
	if _, e := conn.Write(buf); e != nil {
		return "", nil, e
	}
	return path, header, nil
}
