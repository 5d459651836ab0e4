package stream

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chenjie199234/Websocket/ws"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	ometric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var ErrServerClosed = errors.New("[stream.server] closed")

type WSServer struct {
	c          *ServerConfig
	tlsc       *tls.Config
	factory    HandlerFactory
	mng        *connmng
	nextid     uint64 //the listener owns the ids,they are never reused
	lker       sync.Mutex
	l          net.Listener
	closetimer *time.Timer
	stoponce   sync.Once
	accepted   ometric.Int64Counter
}

// NewWSServer creates the server but doesn't listen yet.
// tlsc can be nil,then the server speaks plain tcp,when it is not nil it must
// carry a certificate.
// factory must not be nil,it runs once per accepted connection.
func NewWSServer(c *ServerConfig, tlsc *tls.Config, factory HandlerFactory) (*WSServer, error) {
	if factory == nil {
		return nil, errors.New("[stream.server] missing handler factory")
	}
	if tlsc != nil {
		if len(tlsc.Certificates) == 0 && tlsc.GetCertificate == nil && tlsc.GetConfigForClient == nil {
			return nil, errors.New("[stream.server] tls certificate setting missing")
		}
		tlsc = tlsc.Clone()
	}
	if c == nil {
		c = &ServerConfig{}
	}
	c.validate()
	s := &WSServer{
		c:          c,
		tlsc:       tlsc,
		factory:    factory,
		mng:        newconnmng(int(c.GroupNum), c.HeartprobeInterval.StdDuration(), c.IdleTimeout.StdDuration()),
		closetimer: time.NewTimer(0),
	}
	<-s.closetimer.C
	var e error
	if s.accepted, e = meter.Int64Counter("accepted_conns", ometric.WithUnit("1")); e != nil {
		return nil, errors.New("[stream.server] create otel instrument failed: " + e.Error())
	}
	curconns, e := meter.Int64ObservableGauge("cur_conns", ometric.WithUnit("1"))
	if e != nil {
		return nil, errors.New("[stream.server] create otel instrument failed: " + e.Error())
	}
	if _, e = meter.RegisterCallback(func(ctx context.Context, o ometric.Observer) error {
		o.ObserveInt64(curconns, int64(s.mng.GetConnNum()))
		return nil
	}, curconns); e != nil {
		return nil, errors.New("[stream.server] register otel callback failed: " + e.Error())
	}
	return s, nil
}

func (s *WSServer) GetConnNum() int32 {
	return s.mng.GetConnNum()
}

// StartWSServer blocks until the server stops,a normal stop comes back as ErrServerClosed
func (s *WSServer) StartWSServer(listenaddr string) error {
	l, e := net.Listen("tcp", listenaddr)
	if e != nil {
		return errors.New("[stream.server] listen tcp " + listenaddr + " failed: " + e.Error())
	}
	s.lker.Lock()
	if s.l != nil {
		s.lker.Unlock()
		l.Close()
		return errors.New("[stream.server] already started")
	}
	if s.mng.Finishing() {
		s.lker.Unlock()
		l.Close()
		return ErrServerClosed
	}
	s.l = l
	s.lker.Unlock()
	for {
		conn, e := l.Accept()
		if e != nil {
			if errors.Is(e, net.ErrClosed) {
				return ErrServerClosed
			}
			return errors.New("[stream.server] accept failed: " + e.Error())
		}
		if s.c.MaxConnNum > 0 && uint32(s.mng.GetConnNum()) >= s.c.MaxConnNum {
			slog.Warn("[stream.server] too many connections", slog.String("remote_addr", conn.RemoteAddr().String()))
			conn.Close()
			continue
		}
		go s.sworker(conn)
	}
}

func (s *WSServer) sworker(conn net.Conn) {
	ctx, span := otel.Tracer("").Start(context.Background(), "accept websocket",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.String("remote.addr", conn.RemoteAddr().String())))
	conn.SetDeadline(time.Now().Add(s.c.ConnectTimeout.StdDuration()))
	if s.tlsc != nil {
		tmp := tls.Server(conn, s.tlsc)
		if e := tmp.HandshakeContext(ctx); e != nil {
			slog.Error("[stream.server] tls handshake failed", slog.String("remote_addr", conn.RemoteAddr().String()), slog.String("error", e.Error()))
			span.SetStatus(codes.Error, e.Error())
			span.End()
			conn.Close()
			return
		}
		conn = tmp
	}
	reader := bufio.NewReaderSize(conn, int(s.c.ReadBufferLen))
	path, header, e := ws.Supgrade(reader, conn)
	if e != nil {
		if e == io.EOF {
			//the peer probed the port and left,that happens all the time
			slog.Info("[stream.server] peer left before the upgrade", slog.String("remote_addr", conn.RemoteAddr().String()))
		} else {
			slog.Error("[stream.server] upgrade failed", slog.String("remote_addr", conn.RemoteAddr().String()), slog.String("error", e.Error()))
		}
		span.SetStatus(codes.Error, e.Error())
		span.End()
		conn.Close()
		return
	}
	c := newConn(conn, reader, false, s.c.MaxMsgLen)
	c.id = atomic.AddUint64(&s.nextid, 1)
	c.path = path
	c.header = header
	c.realip = realip(header, conn)
	span.SetAttributes(attribute.Int64("conn.id", int64(c.id)), attribute.String("request.path", path))
	if c.handler = s.factory(c.id, path, c); c.handler == nil {
		slog.Warn("[stream.server] connection refused", slog.Uint64("conn_id", c.id), slog.String("remote_addr", c.GetRemoteAddr()))
		span.SetStatus(codes.Error, "refused by the handler factory")
		span.End()
		conn.Close()
		return
	}
	if e := s.mng.AddConn(c); e != nil {
		slog.Warn("[stream.server] connection refused", slog.Uint64("conn_id", c.id), slog.String("remote_addr", c.GetRemoteAddr()), slog.String("error", e.Error()))
		span.SetStatus(codes.Error, e.Error())
		span.End()
		//the factory already saw this conn,its Done must still fire
		c.shutdown(Termination{Kind: TransportError, Err: e})
		return
	}
	conn.SetDeadline(time.Time{})
	s.accepted.Add(ctx, 1)
	span.SetStatus(codes.Ok, "")
	span.End()
	slog.Info("[stream.server] online", slog.Uint64("conn_id", c.id), slog.String("path", path), slog.String("remote_addr", c.GetRemoteAddr()), slog.String("real_ip", c.GetRealPeerIp()))
	c.readLoop(func(cc *Conn) {
		s.mng.DelConn(cc)
		t := cc.Termination()
		slog.Info("[stream.server] offline", slog.Uint64("conn_id", cc.id), slog.String("remote_addr", cc.GetRemoteAddr()), slog.String("reason", t.Kind.String()), slog.Uint64("close_code", uint64(t.Code)))
	})
}

// StopWSServer stops the accept loop and the connections.
// force false is the graceful way:new connections get refused,every living
// connection gets a close with status 1001 going away,the peers get
// WaitCloseTime to answer it,the stragglers are cut after that.
// force true cuts everything right now.
func (s *WSServer) StopWSServer(force bool) {
	s.lker.Lock()
	if s.l != nil {
		s.l.Close()
	}
	s.lker.Unlock()
	if force {
		s.mng.Stop()
		return
	}
	s.stoponce.Do(func() {
		s.mng.PreStop()
		s.mng.RangeConns(func(c *Conn) {
			if e := c.SendClose(ws.CloseCodeAway); e != nil && e != ErrConnClosed {
				slog.Warn("[stream.server] away announce failed", slog.Uint64("conn_id", c.GetID()), slog.String("error", e.Error()))
			}
		})
		s.closetimer.Reset(s.c.WaitCloseTime.StdDuration())
		<-s.closetimer.C
	})
	s.mng.Stop()
}

func realip(header http.Header, conn net.Conn) string {
	if xforward := strings.TrimSpace(header.Get("X-Forwarded-For")); xforward != "" {
		if ip := strings.TrimSpace(strings.Split(xforward, ",")[0]); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(header.Get("X-Real-Ip")); ip != "" {
		return ip
	}
	ip, _, _ := net.SplitHostPort(conn.RemoteAddr().String())
	return ip
}
