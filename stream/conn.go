package stream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/chenjie199234/Websocket/internal/version"
	"github.com/chenjie199234/Websocket/ws"

	"go.opentelemetry.io/otel"
	ometric "go.opentelemetry.io/otel/metric"
)

var (
	ErrConnClosed = errors.New("connection closed")
	ErrMsgUnknown = errors.New("message type unknown")
)

const (
	connOpen int32 = iota
	connClosing
	connClosed
)

type TerminationKind uint8

const (
	//the close exchange finished or the peer left cleanly
	NormalClosure TerminationKind = iota + 1
	//an unassigned opcode,an oversized frame or a broken handler killed the session
	AbnormalClosure
	//the peer broke the protocol,a close with status 1002 went back
	ProtocolError
	//the transport itself failed or the server stopped before the session went live
	TransportError
)

func (k TerminationKind) String() string {
	switch k {
	case NormalClosure:
		return "normal closure"
	case AbnormalClosure:
		return "abnormal closure"
	case ProtocolError:
		return "protocol error"
	case TransportError:
		return "transport error"
	}
	return "unknown"
}

// Termination tells why the read loop ended
type Termination struct {
	Kind TerminationKind
	Code uint16 //the close status code sent or received,0 when none applies
	Err  error  //the cause,set on AbnormalClosure,ProtocolError and TransportError
}

var (
	meter       = otel.Meter("Websocket.stream", ometric.WithInstrumentationVersion(version.String()))
	framein, _  = meter.Int64Counter("frame_in", ometric.WithUnit("1"))
	frameout, _ = meter.Int64Counter("frame_out", ometric.WithUnit("1"))
)

// Conn is one established websocket session,client or server side.
// Conn is also a context.Context,it is canceled when the session ends,check
// Termination for the reason then.
type Conn struct {
	context.Context
	cancel context.CancelFunc

	id        uint64 //0 on client created connections
	path      string
	realip    string
	header    http.Header
	c         net.Conn
	reader    *bufio.Reader
	masked    bool //this side masks its outgoing frames
	handler   FrameHandler
	maxmsglen uint32

	status     int32 //connOpen,connClosing,connClosed
	lastactive int64 //unixnano of the last decoded frame
	netlag     int64 //unixnano(now) - unixnano(probe) taken from the probe's pong
	term       atomic.Pointer[Termination]

	peergroup *connGroup //only set on server side connections
}

func newConn(c net.Conn, reader *bufio.Reader, masked bool, maxmsglen uint32) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	return &Conn{
		Context:    ctx,
		cancel:     cancel,
		c:          c,
		reader:     reader,
		masked:     masked,
		maxmsglen:  maxmsglen,
		lastactive: time.Now().UnixNano(),
	}
}

// GetID returns the server given connection id,0 on client created connections
func (c *Conn) GetID() uint64 {
	return c.id
}

// GetPath returns the raw request target of the upgrade request
func (c *Conn) GetPath() string {
	return c.path
}

func (c *Conn) GetRemoteAddr() string {
	return c.c.RemoteAddr().String()
}

// GetRealPeerIp returns the peer's ip which will not be confused by the proxies in front
func (c *Conn) GetRealPeerIp() string {
	return c.realip
}

// GetHeader reads the peer's upgrade headers,request headers on the server
// side,response headers on the client side
func (c *Conn) GetHeader(key string) string {
	return c.header.Get(key)
}

// GetNetlag returns the probe's round trip time in nanoseconds,0 until the
// first probe's pong came back,probes need HeartprobeInterval to be set
func (c *Conn) GetNetlag() int64 {
	return atomic.LoadInt64(&c.netlag)
}

// Termination tells why this connection ended,the zero value comes back while
// the connection is still alive,wait on the Conn's Done first
func (c *Conn) Termination() Termination {
	if t := c.term.Load(); t != nil {
		return *t
	}
	return Termination{}
}

func (c *Conn) write(f *ws.Frame) error {
	if e := ws.WriteFrame(c.c, f, c.masked); e != nil {
		return e
	}
	frameout.Add(c, 1)
	return nil
}

// replies never block the read loop,write errors are swallowed,the read loop
// sees the dead transport on its own
func (c *Conn) sendAsync(f *ws.Frame) {
	go func() {
		if e := c.write(f); e != nil && atomic.LoadInt32(&c.status) == connOpen {
			slog.Warn("[stream.conn] async write failed", slog.String("remote_addr", c.GetRemoteAddr()), slog.String("error", e.Error()))
		}
	}()
}

// Send encodes the frame and writes it with one single Write,frames from
// concurrent Sends never interleave on the wire
func (c *Conn) Send(f *ws.Frame) error {
	if atomic.LoadInt32(&c.status) != connOpen {
		return ErrConnClosed
	}
	if e := c.write(f); e != nil {
		if e == ws.ErrCtlTooLarge {
			return e
		}
		slog.Error("[stream.conn] write failed", slog.String("remote_addr", c.GetRemoteAddr()), slog.String("error", e.Error()))
		c.c.Close()
		return ErrConnClosed
	}
	return nil
}

// SendMessage sends data as one whole binary message
func (c *Conn) SendMessage(data []byte) error {
	if atomic.LoadInt32(&c.status) != connOpen {
		return ErrConnClosed
	}
	if e := ws.WriteMsg(c.c, data, true, true, c.masked); e != nil {
		slog.Error("[stream.conn] write failed", slog.String("remote_addr", c.GetRemoteAddr()), slog.String("error", e.Error()))
		c.c.Close()
		return ErrConnClosed
	}
	frameout.Add(c, 1)
	return nil
}

func (c *Conn) SendPing(data []byte) error {
	return c.Send(&ws.Frame{OPCode: ws.Ping, Fin: true, Payload: data})
}

func (c *Conn) SendPong(data []byte) error {
	return c.Send(&ws.Frame{OPCode: ws.Pong, Fin: true, Payload: data})
}

// SendClose starts the close exchange,the connection keeps reading until the
// peer's answer close comes back,the read loop ends normally then
func (c *Conn) SendClose(code uint16) error {
	if !atomic.CompareAndSwapInt32(&c.status, connOpen, connClosing) {
		return ErrConnClosed
	}
	if e := c.write(ws.NewCloseFrame(code)); e != nil {
		c.c.Close()
		return ErrConnClosed
	}
	return nil
}

// Close drops the connection without a close exchange,out of band,the read
// loop ends with a TransportError soon after
func (c *Conn) Close() {
	atomic.CompareAndSwapInt32(&c.status, connOpen, connClosing)
	c.c.Close()
}

func (c *Conn) shutdown(t Termination) {
	atomic.StoreInt32(&c.status, connClosed)
	c.term.Store(&t)
	c.c.Close()
	c.cancel()
}

// readLoop decodes until the session is over,every exit path stores a
// Termination,closes the transport and cancels the Conn's context.
// onoffline runs last,after the Termination is visible.
func (c *Conn) readLoop(onoffline func(*Conn)) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("[stream.conn] handler panic", slog.Any("panic", r), slog.String("remote_addr", c.GetRemoteAddr()))
			c.shutdown(Termination{Kind: AbnormalClosure, Err: fmt.Errorf("handler panic: %v", r)})
		}
		if onoffline != nil {
			onoffline(c)
		}
	}()
	for {
		f, e := ws.ReadFrame(c.reader, c.maxmsglen)
		if e != nil {
			c.shutdown(c.decodeFail(e))
			return
		}
		atomic.StoreInt64(&c.lastactive, time.Now().UnixNano())
		framein.Add(c, 1)
		if t, dead := c.dispatch(f); dead {
			c.shutdown(t)
			return
		}
	}
}

func (c *Conn) decodeFail(e error) Termination {
	switch {
	case e == ws.ErrMsgRsv || e == ws.ErrCtlTooLarge:
		//protocol violation,tell the peer why before the drop
		c.write(ws.NewCloseFrame(ws.CloseCodeProtocol))
		return Termination{Kind: ProtocolError, Code: ws.CloseCodeProtocol, Err: e}
	case e == ws.ErrMsgTooLarge:
		c.write(ws.NewCloseFrame(ws.CloseCodeTooLarge))
		return Termination{Kind: AbnormalClosure, Code: ws.CloseCodeTooLarge, Err: e}
	case e == io.EOF:
		//the peer closed the transport between two frames,lazy but clean
		return Termination{Kind: NormalClosure}
	default:
		return Termination{Kind: TransportError, Err: e}
	}
}

func (c *Conn) dispatch(f *ws.Frame) (Termination, bool) {
	switch {
	case f.OPCode.IsPing():
		//copied payload,the async write must not race the handler's view of the frame
		c.sendAsync(&ws.Frame{OPCode: ws.Pong, Fin: true, Payload: bytes.Clone(f.Payload)})
		c.deliver(f)
	case f.OPCode.IsPong():
		if len(f.Payload) == 8 {
			//probably the echo of our own probe
			if lag := time.Now().UnixNano() - int64(binary.BigEndian.Uint64(f.Payload)); lag >= 0 {
				atomic.StoreInt64(&c.netlag, lag)
			}
		}
		c.deliver(f)
	case f.OPCode.IsClose():
		atomic.CompareAndSwapInt32(&c.status, connOpen, connClosing)
		if len(f.Payload) >= 2 {
			code, _ := f.CloseCode()
			c.deliver(f)
			c.write(ws.CloseEcho(f))
			return Termination{Kind: NormalClosure, Code: code}, true
		}
		f.Payload = nil
		c.deliver(f)
		c.write(ws.NewCloseFrame(ws.CloseCodeNormal))
		return Termination{Kind: NormalClosure, Code: ws.CloseCodeNormal}, true
	case f.OPCode.IsReserved():
		//no idea what this is,a close without a status says it best
		c.write(&ws.Frame{OPCode: ws.Close, Fin: true})
		return Termination{Kind: AbnormalClosure, Err: ErrMsgUnknown}, true
	default:
		//text,binary and continuation,fragments are delivered piece by piece
		c.deliver(f)
	}
	return Termination{}, false
}

func (c *Conn) deliver(f *ws.Frame) {
	if c.handler == nil {
		return
	}
	if reply := c.handler(c, f); reply != nil {
		c.sendAsync(reply)
	}
}

// client side probe,the server side probe runs on the connmng's wheel
func (c *Conn) probeLoop(probeinterval, idletimeout time.Duration) {
	tker := time.NewTicker(probeinterval)
	defer tker.Stop()
	for {
		select {
		case <-c.Done():
			return
		case now := <-tker.C:
			if idletimeout > 0 && now.UnixNano()-atomic.LoadInt64(&c.lastactive) > int64(idletimeout) {
				slog.Warn("[stream.conn] idle timeout", slog.String("remote_addr", c.GetRemoteAddr()))
				c.Close()
				return
			}
			pingdata := make([]byte, 8)
			binary.BigEndian.PutUint64(pingdata, uint64(now.UnixNano()))
			if c.SendPing(pingdata) != nil {
				return
			}
		}
	}
}

// one shot of the server side heart check,called from the connmng's wheel
func (c *Conn) checkheart(idletimeout time.Duration, now *time.Time) {
	if atomic.LoadInt32(&c.status) != connOpen {
		return
	}
	if idletimeout > 0 && now.UnixNano()-atomic.LoadInt64(&c.lastactive) > int64(idletimeout) {
		slog.Warn("[stream.connmng] idle timeout", slog.Uint64("conn_id", c.id), slog.String("remote_addr", c.GetRemoteAddr()))
		c.Close()
		return
	}
	pingdata := make([]byte, 8)
	binary.BigEndian.PutUint64(pingdata, uint64(now.UnixNano()))
	go c.SendPing(pingdata)
}
