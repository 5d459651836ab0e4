package stream

import (
	"time"

	"github.com/chenjie199234/Websocket/util/ctime"
	"github.com/chenjie199234/Websocket/ws"
)

// FrameHandler deals one delivered frame.
// Control frames are delivered too:pings are handed over after the loop
// already queued the auto pong,close frames are handed over right before the
// connection dies,check Conn.Termination for the reason afterwards.
// The returned frame,when not nil,is sent back on the same connection.The
// send is fire and forget and runs beside the loop's own auto replies,there
// is no order guarantee between the two,but single frames never interleave
// on the wire.
// Don't block in this function,the read loop waits for it.
type FrameHandler func(c *Conn, f *ws.Frame) *ws.Frame

// HandlerFactory runs once for every accepted connection after its upgrade
// succeeded,it binds the FrameHandler for this connection.
// connid starts from 1 and is never reused inside one WSServer.
// path is the raw request target of the upgrade request.
// Return nil to refuse the connection,the underlying transport is closed then.
type HandlerFactory func(connid uint64, path string, c *Conn) FrameHandler

type ClientConfig struct {
	//time for the whole dial + tls handshake + upgrade exchange,default 3s
	ConnectTimeout ctime.Duration `json:"connect_timeout"`
	//interval between the ping probes,<= 0 means no probe
	HeartprobeInterval ctime.Duration `json:"heartprobe_interval"`
	//the connection is dropped when no frame arrived in this time,<= 0 means no idle check
	//the peer must see probes often enough to answer,so when this is set the
	//probe interval is clamped to a third of it
	IdleTimeout ctime.Duration `json:"idle_timeout"`
	//single frame payload limit,0 means no limit
	MaxMsgLen uint32 `json:"max_msg_len"`
	//read buffer size for the connection,default 1024,max 65536
	ReadBufferLen uint32 `json:"read_buffer_len"`
}

func (c *ClientConfig) validate() {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = ctime.Duration(time.Second * 3)
	}
	if c.HeartprobeInterval < 0 {
		c.HeartprobeInterval = 0
	}
	if c.IdleTimeout < 0 {
		c.IdleTimeout = 0
	}
	if c.IdleTimeout > 0 && (c.HeartprobeInterval <= 0 || c.HeartprobeInterval >= c.IdleTimeout) {
		c.HeartprobeInterval = c.IdleTimeout / 3
	}
	if c.ReadBufferLen == 0 {
		c.ReadBufferLen = 1024
	} else if c.ReadBufferLen > 65536 {
		c.ReadBufferLen = 65536
	}
}

type ServerConfig struct {
	//time for the whole tls handshake + upgrade exchange on a new connection,default 3s
	ConnectTimeout ctime.Duration `json:"connect_timeout"`
	//interval between the ping probes to every connection,<= 0 means no probe
	HeartprobeInterval ctime.Duration `json:"heartprobe_interval"`
	//a connection is dropped when no frame arrived in this time,<= 0 means no idle check
	IdleTimeout ctime.Duration `json:"idle_timeout"`
	//single frame payload limit,0 means no limit
	MaxMsgLen uint32 `json:"max_msg_len"`
	//read buffer size for every connection,default 1024,max 65536
	ReadBufferLen uint32 `json:"read_buffer_len"`
	//new connections are refused when this is reached,0 means no limit
	MaxConnNum uint32 `json:"max_conn_num"`
	//connections are sharded into groups to ease the heart check race,default 1
	GroupNum uint16 `json:"group_num"`
	//graceful stop waits this long after the away announce before the force close,default and min 1s
	WaitCloseTime ctime.Duration `json:"wait_close_time"`
}

func (c *ServerConfig) validate() {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = ctime.Duration(time.Second * 3)
	}
	if c.HeartprobeInterval < 0 {
		c.HeartprobeInterval = 0
	}
	if c.IdleTimeout < 0 {
		c.IdleTimeout = 0
	}
	if c.IdleTimeout > 0 && (c.HeartprobeInterval <= 0 || c.HeartprobeInterval >= c.IdleTimeout) {
		c.HeartprobeInterval = c.IdleTimeout / 3
	}
	if c.ReadBufferLen == 0 {
		c.ReadBufferLen = 1024
	} else if c.ReadBufferLen > 65536 {
		c.ReadBufferLen = 65536
	}
	if c.GroupNum == 0 {
		c.GroupNum = 1
	}
	if c.WaitCloseTime < ctime.Duration(time.Second) {
		c.WaitCloseTime = ctime.Duration(time.Second)
	}
}
