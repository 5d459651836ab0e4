package stream

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/chenjie199234/Websocket/ws"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var ErrTargetFormat = errors.New("[stream.client] target format wrong,should be ws://host[:port][/path] or wss://host[:port][/path]")

// Connect dials the target,does the upgrade exchange and starts the read loop
// in its own goroutine,frames land in the handler from then on.
// tlsc only matters when the target's scheme is wss.A nil tlsc there means
// the server's certificate is not checked at all,pass a real one to verify.
// extraheader goes into the upgrade request,see ws.Cupgrade.
// Handshake refusals come back as they are:*ws.HttpError carries a non 101
// status,ws.ErrAcceptSign a wrong accept sign,the dial and tls troubles come
// back wrapped with the reason text.
func Connect(c *ClientConfig, tlsc *tls.Config, target string, extraheader http.Header, handler FrameHandler) (*Conn, error) {
	if handler == nil {
		return nil, errors.New("[stream.client] missing frame handler")
	}
	if c == nil {
		c = &ClientConfig{}
	}
	c.validate()
	var usetls bool
	switch {
	case strings.HasPrefix(target, "ws://"):
		target = target[5:]
	case strings.HasPrefix(target, "wss://"):
		usetls = true
		target = target[6:]
	default:
		return nil, ErrTargetFormat
	}
	var host, path string
	if index := strings.Index(target, "/"); index == -1 {
		host = target
		path = "/"
	} else {
		host = target[:index]
		path = target[index:]
	}
	if host == "" {
		return nil, ErrTargetFormat
	}
	addr := host
	hostname := host
	if h, _, e := net.SplitHostPort(host); e == nil {
		hostname = h
	} else {
		//no port in the target,take the scheme's default one
		hostname = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
		if usetls {
			addr = net.JoinHostPort(hostname, "443")
		} else {
			addr = net.JoinHostPort(hostname, "80")
		}
	}
	_, span := otel.Tracer("").Start(context.Background(), "connect websocket",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("server.addr", addr), attribute.String("request.path", path)))
	//one deadline covers the dial,the tls handshake and the upgrade exchange
	dl := time.Now().Add(c.ConnectTimeout.StdDuration())
	conn, e := (&net.Dialer{Deadline: dl}).Dial("tcp", addr)
	if e != nil {
		span.SetStatus(codes.Error, e.Error())
		span.End()
		return nil, errors.New("[stream.client] dial failed: " + e.Error())
	}
	conn.SetDeadline(dl)
	if usetls {
		if tlsc == nil {
			//check nothing,good enough for tests and lab setups
			tlsc = &tls.Config{InsecureSkipVerify: true}
		} else {
			tlsc = tlsc.Clone()
		}
		if tlsc.ServerName == "" {
			tlsc.ServerName = hostname
		}
		tmp := tls.Client(conn, tlsc)
		if e := tmp.HandshakeContext(context.Background()); e != nil {
			conn.Close()
			span.SetStatus(codes.Error, e.Error())
			span.End()
			return nil, errors.New("[stream.client] tls handshake failed: " + e.Error())
		}
		conn = tmp
	}
	reader := bufio.NewReaderSize(conn, int(c.ReadBufferLen))
	header, e := ws.Cupgrade(reader, conn, host, path, extraheader)
	if e != nil {
		conn.Close()
		span.SetStatus(codes.Error, e.Error())
		span.End()
		return nil, e
	}
	conn.SetDeadline(time.Time{})
	cc := newConn(conn, reader, true, c.MaxMsgLen)
	cc.path = path
	cc.header = header
	cc.realip = realip(header, conn)
	cc.handler = handler
	span.SetStatus(codes.Ok, "")
	span.End()
	slog.Info("[stream.client] online", slog.String("remote_addr", cc.GetRemoteAddr()), slog.String("path", path))
	go cc.readLoop(func(p *Conn) {
		t := p.Termination()
		slog.Info("[stream.client] offline", slog.String("remote_addr", p.GetRemoteAddr()), slog.String("reason", t.Kind.String()), slog.Uint64("close_code", uint64(t.Code)))
	})
	if c.HeartprobeInterval > 0 {
		go cc.probeLoop(c.HeartprobeInterval.StdDuration(), c.IdleTimeout.StdDuration())
	}
	return cc, nil
}
