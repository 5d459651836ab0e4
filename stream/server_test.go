package stream

import (
	"bufio"
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/chenjie199234/Websocket/util/ctime"
	"github.com/chenjie199234/Websocket/ws"
)

func waitlisten(t *testing.T, addr string) {
	for i := 0; i < 50; i++ {
		conn, e := net.Dial("tcp", addr)
		if e == nil {
			conn.Close()
			return
		}
		time.Sleep(time.Millisecond * 20)
	}
	t.Fatal("server didn't come up on:", addr)
}

func waitconnnum(t *testing.T, s *WSServer, want int32) {
	for i := 0; i < 100; i++ {
		if s.GetConnNum() == want {
			return
		}
		time.Sleep(time.Millisecond * 20)
	}
	t.Fatal("conn num didn't settle,want:", want, "got:", s.GetConnNum())
}

func Test_ServerClient(t *testing.T) {
	type accepted struct {
		id   uint64
		path string
	}
	acceptedch := make(chan accepted, 2)
	s, e := NewWSServer(nil, nil, func(connid uint64, path string, c *Conn) FrameHandler {
		acceptedch <- accepted{id: connid, path: path}
		return func(c *Conn, f *ws.Frame) *ws.Frame {
			if f.OPCode.IsBinary() || f.OPCode.IsText() {
				return ws.NewFrame(f.Payload)
			}
			return nil
		}
	})
	if e != nil {
		t.Fatal("new server failed:", e)
	}
	startch := make(chan error, 1)
	go func() {
		startch <- s.StartWSServer("127.0.0.1:17001")
	}()
	waitlisten(t, "127.0.0.1:17001")
	clientch := make(chan *ws.Frame, 1)
	c, e := Connect(nil, nil, "ws://127.0.0.1:17001/chat?room=1", nil, func(_ *Conn, f *ws.Frame) *ws.Frame {
		if !f.OPCode.IsControl() {
			clientch <- f
		}
		return nil
	})
	if e != nil {
		t.Fatal("connect failed:", e)
	}
	a := <-acceptedch
	if a.id != 1 || a.path != "/chat?room=1" {
		t.Fatal("wrong accept,id:", a.id, "path:", a.path)
	}
	if e := c.SendMessage([]byte("hello")); e != nil {
		t.Fatal("send failed:", e)
	}
	if f := <-clientch; !bytes.Equal(f.Payload, []byte("hello")) {
		t.Fatal("echo broken:", f.Payload)
	}
	//the second connection gets the next id
	c2, e := Connect(nil, nil, "ws://127.0.0.1:17001/other", nil, func(_ *Conn, f *ws.Frame) *ws.Frame { return nil })
	if e != nil {
		t.Fatal("connect failed:", e)
	}
	if a = <-acceptedch; a.id != 2 || a.path != "/other" {
		t.Fatal("wrong accept,id:", a.id, "path:", a.path)
	}
	c2.Close()
	//clean close exchange
	if e := c.SendClose(1000); e != nil {
		t.Fatal("send close failed:", e)
	}
	<-c.Done()
	if term := c.Termination(); term.Kind != NormalClosure || term.Code != 1000 {
		t.Fatal("wrong termination:", term.Kind.String(), term.Code)
	}
	waitconnnum(t, s, 0)
	s.StopWSServer(true)
	if e := <-startch; e != ErrServerClosed {
		t.Fatal("want:", ErrServerClosed, "got:", e)
	}
}

func Test_ServerRefuse(t *testing.T) {
	s, e := NewWSServer(nil, nil, func(connid uint64, path string, c *Conn) FrameHandler {
		return nil
	})
	if e != nil {
		t.Fatal("new server failed:", e)
	}
	go s.StartWSServer("127.0.0.1:17002")
	waitlisten(t, "127.0.0.1:17002")
	c, e := Connect(nil, nil, "ws://127.0.0.1:17002/", nil, func(_ *Conn, f *ws.Frame) *ws.Frame { return nil })
	if e != nil {
		t.Fatal("connect failed:", e)
	}
	//the refuse happens behind the upgrade,the client only sees the transport go away
	select {
	case <-c.Done():
	case <-time.After(time.Second * 3):
		t.Fatal("refused connection didn't die")
	}
	waitconnnum(t, s, 0)
	s.StopWSServer(true)
}

func Test_ServerMaxConn(t *testing.T) {
	s, e := NewWSServer(&ServerConfig{MaxConnNum: 1}, nil, func(connid uint64, path string, c *Conn) FrameHandler {
		return func(c *Conn, f *ws.Frame) *ws.Frame { return nil }
	})
	if e != nil {
		t.Fatal("new server failed:", e)
	}
	go s.StartWSServer("127.0.0.1:17003")
	waitlisten(t, "127.0.0.1:17003")
	c1, e := Connect(nil, nil, "ws://127.0.0.1:17003/", nil, func(_ *Conn, f *ws.Frame) *ws.Frame { return nil })
	if e != nil {
		t.Fatal("connect failed:", e)
	}
	waitconnnum(t, s, 1)
	if _, e := Connect(nil, nil, "ws://127.0.0.1:17003/", nil, func(_ *Conn, f *ws.Frame) *ws.Frame { return nil }); e == nil {
		t.Fatal("the second connection should be refused")
	}
	c1.Close()
	waitconnnum(t, s, 0)
	//room again
	c3, e := Connect(nil, nil, "ws://127.0.0.1:17003/", nil, func(_ *Conn, f *ws.Frame) *ws.Frame { return nil })
	if e != nil {
		t.Fatal("connect failed:", e)
	}
	c3.Close()
	s.StopWSServer(true)
}

func Test_ServerGracefulStop(t *testing.T) {
	s, e := NewWSServer(nil, nil, func(connid uint64, path string, c *Conn) FrameHandler {
		return func(c *Conn, f *ws.Frame) *ws.Frame { return nil }
	})
	if e != nil {
		t.Fatal("new server failed:", e)
	}
	go s.StartWSServer("127.0.0.1:17004")
	waitlisten(t, "127.0.0.1:17004")
	closech := make(chan *ws.Frame, 1)
	c, e := Connect(nil, nil, "ws://127.0.0.1:17004/", nil, func(_ *Conn, f *ws.Frame) *ws.Frame {
		if f.OPCode.IsClose() {
			closech <- f
		}
		return nil
	})
	if e != nil {
		t.Fatal("connect failed:", e)
	}
	stopped := make(chan *struct{})
	go func() {
		s.StopWSServer(false)
		close(stopped)
	}()
	//the away announce must reach the client
	select {
	case f := <-closech:
		if code, _ := f.CloseCode(); code != 1001 {
			t.Fatal("wrong announce close code:", code)
		}
	case <-time.After(time.Second * 3):
		t.Fatal("no away announce")
	}
	<-c.Done()
	if term := c.Termination(); term.Kind != NormalClosure || term.Code != 1001 {
		t.Fatal("wrong termination:", term.Kind.String(), term.Code)
	}
	select {
	case <-stopped:
	case <-time.After(time.Second * 5):
		t.Fatal("graceful stop hangs")
	}
	if s.GetConnNum() != 0 {
		t.Fatal("connections left:", s.GetConnNum())
	}
}

func testcert(t *testing.T) tls.Certificate {
	key, e := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if e != nil {
		t.Fatal("generate key failed:", e)
	}
	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
	}
	der, e := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if e != nil {
		t.Fatal("create certificate failed:", e)
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}
}

func Test_ServerTLS(t *testing.T) {
	s, e := NewWSServer(nil, &tls.Config{Certificates: []tls.Certificate{testcert(t)}}, func(connid uint64, path string, c *Conn) FrameHandler {
		return func(c *Conn, f *ws.Frame) *ws.Frame {
			if f.OPCode.IsBinary() {
				return ws.NewFrame(f.Payload)
			}
			return nil
		}
	})
	if e != nil {
		t.Fatal("new server failed:", e)
	}
	go s.StartWSServer("127.0.0.1:17005")
	waitlisten(t, "127.0.0.1:17005")
	clientch := make(chan *ws.Frame, 1)
	//nil tls config on a wss target accepts the self signed certificate
	c, e := Connect(nil, nil, "wss://127.0.0.1:17005/secure", nil, func(_ *Conn, f *ws.Frame) *ws.Frame {
		if !f.OPCode.IsControl() {
			clientch <- f
		}
		return nil
	})
	if e != nil {
		t.Fatal("connect failed:", e)
	}
	if e := c.SendMessage([]byte("secret")); e != nil {
		t.Fatal("send failed:", e)
	}
	if f := <-clientch; !bytes.Equal(f.Payload, []byte("secret")) {
		t.Fatal("echo broken:", f.Payload)
	}
	c.SendClose(1000)
	<-c.Done()
	s.StopWSServer(true)
}

func Test_ServerTLSMissingCert(t *testing.T) {
	if _, e := NewWSServer(nil, &tls.Config{}, func(connid uint64, path string, c *Conn) FrameHandler {
		return nil
	}); e == nil {
		t.Fatal("a tls config without certificate should be refused")
	}
}

func Test_ServerHeartprobe(t *testing.T) {
	s, e := NewWSServer(&ServerConfig{HeartprobeInterval: ctime.Duration(time.Millisecond * 200)}, nil, func(connid uint64, path string, c *Conn) FrameHandler {
		return func(c *Conn, f *ws.Frame) *ws.Frame { return nil }
	})
	if e != nil {
		t.Fatal("new server failed:", e)
	}
	go s.StartWSServer("127.0.0.1:17006")
	waitlisten(t, "127.0.0.1:17006")
	pingch := make(chan *ws.Frame, 1)
	c, e := Connect(nil, nil, "ws://127.0.0.1:17006/", nil, func(_ *Conn, f *ws.Frame) *ws.Frame {
		if f.OPCode.IsPing() {
			select {
			case pingch <- f:
			default:
			}
		}
		return nil
	})
	if e != nil {
		t.Fatal("connect failed:", e)
	}
	select {
	case <-pingch:
	case <-time.After(time.Second * 3):
		t.Fatal("no probe arrived")
	}
	c.Close()
	s.StopWSServer(true)
}

func Test_ServerStopRefuse(t *testing.T) {
	connch := make(chan *Conn, 1)
	s, e := NewWSServer(nil, nil, func(connid uint64, path string, c *Conn) FrameHandler {
		connch <- c
		return func(c *Conn, f *ws.Frame) *ws.Frame { return nil }
	})
	if e != nil {
		t.Fatal("new server failed:", e)
	}
	go s.StartWSServer("127.0.0.1:17008")
	waitlisten(t, "127.0.0.1:17008")
	//the listener is still up,the conn manager already refuses
	s.mng.PreStop()
	if _, e := Connect(nil, nil, "ws://127.0.0.1:17008/", nil, func(_ *Conn, f *ws.Frame) *ws.Frame { return nil }); e != nil {
		t.Fatal("connect failed:", e)
	}
	//the conn the factory saw must still finish its lifecycle
	sc := <-connch
	select {
	case <-sc.Done():
	case <-time.After(time.Second * 3):
		t.Fatal("refused connection's Done never fired")
	}
	if term := sc.Termination(); term.Kind != TransportError || term.Err != ErrServerClosed {
		t.Fatal("wrong termination:", term.Kind.String(), term.Err)
	}
	if e := sc.SendMessage([]byte("late")); e != ErrConnClosed {
		t.Fatal("send on the refused conn should fail,got:", e)
	}
	s.StopWSServer(true)
}

func Test_ServerIdleTimeout(t *testing.T) {
	s, e := NewWSServer(&ServerConfig{IdleTimeout: ctime.Duration(time.Millisecond * 300)}, nil, func(connid uint64, path string, c *Conn) FrameHandler {
		return func(c *Conn, f *ws.Frame) *ws.Frame { return nil }
	})
	if e != nil {
		t.Fatal("new server failed:", e)
	}
	go s.StartWSServer("127.0.0.1:17007")
	waitlisten(t, "127.0.0.1:17007")
	//a bare client which upgrades but answers nothing at all
	conn, e := net.Dial("tcp", "127.0.0.1:17007")
	if e != nil {
		t.Fatal("dial failed:", e)
	}
	if _, e := ws.Cupgrade(bufio.NewReader(conn), conn, "127.0.0.1:17007", "/", nil); e != nil {
		t.Fatal("upgrade failed:", e)
	}
	waitconnnum(t, s, 1)
	//the silent connection must be dropped by the idle check
	waitconnnum(t, s, 0)
	conn.Close()
	s.StopWSServer(true)
}
