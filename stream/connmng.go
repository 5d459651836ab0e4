package stream

import (
	"math"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"
)

// connmng shards the connections into a group of timewheels,every wheel gets
// 20 slots and one ticker,so inside one probe interval every slot is checked
// once and one tick only locks a twentieth of a wheel's connections
type connmng struct {
	heartprobe  time.Duration
	idletimeout time.Duration
	groups      []*connWheel
	connnum     int32 //drops below 0 once the mng starts stopping
	delconnch   chan *struct{}
	closewait   *sync.WaitGroup
}

type connWheel struct {
	index uint64
	wheel [20]*connGroup
}

type connGroup struct {
	sync.RWMutex
	conns map[uint64]*Conn
}

func newconnmng(groupnum int, heartprobe, idletimeout time.Duration) *connmng {
	mng := &connmng{
		heartprobe:  heartprobe,
		idletimeout: idletimeout,
		groups:      make([]*connWheel, groupnum),
		delconnch:   make(chan *struct{}, 1),
		closewait:   &sync.WaitGroup{},
	}
	for i := range mng.groups {
		w := &connWheel{}
		for j := range w.wheel {
			w.wheel[j] = &connGroup{conns: make(map[uint64]*Conn)}
		}
		mng.groups[i] = w
	}
	mng.closewait.Add(1)
	go func() {
		defer mng.closewait.Done()
		for {
			<-mng.delconnch
			if mng.Finished() {
				return
			}
		}
	}()
	if mng.heartprobe > 0 {
		for _, w := range mng.groups {
			go func() {
				tker := time.NewTicker(mng.heartprobe / 20)
				defer tker.Stop()
				for {
					t := <-tker.C
					if mng.Finished() {
						return
					}
					newindex := atomic.AddUint64(&w.index, 1)
					go w.wheel[newindex%20].run(mng.idletimeout, &t)
				}
			}()
		}
	}
	return mng
}

func (m *connmng) AddConn(c *Conn) error {
	w := m.groups[c.id%uint64(len(m.groups))]
	//the random slot spreads the load,+2 keeps a fresh conn away from the slot under check right now
	g := w.wheel[(atomic.LoadUint64(&w.index)+rand.Uint64N(16)+2)%20]
	g.Lock()
	defer g.Unlock()
	for {
		old := atomic.LoadInt32(&m.connnum)
		if old < 0 {
			return ErrServerClosed
		}
		if atomic.CompareAndSwapInt32(&m.connnum, old, old+1) {
			g.conns[c.id] = c
			c.peergroup = g
			return nil
		}
	}
}

func (m *connmng) DelConn(c *Conn) {
	g := c.peergroup
	if g == nil {
		return
	}
	g.Lock()
	if _, ok := g.conns[c.id]; !ok {
		g.Unlock()
		return
	}
	delete(g.conns, c.id)
	c.peergroup = nil
	g.Unlock()
	atomic.AddInt32(&m.connnum, -1)
	select {
	case m.delconnch <- nil:
	default:
	}
}

// PreStop refuses new connections,the old ones keep running
func (m *connmng) PreStop() {
	for {
		old := atomic.LoadInt32(&m.connnum)
		if old < 0 {
			return
		}
		if atomic.CompareAndSwapInt32(&m.connnum, old, old-math.MaxInt32) {
			return
		}
	}
}

// Stop refuses new connections and force closes the old ones,blocks until
// every connection's read loop finished
func (m *connmng) Stop() {
	m.PreStop()
	for _, w := range m.groups {
		for _, g := range w.wheel {
			g.RLock()
			for _, c := range g.conns {
				c.Close()
			}
			g.RUnlock()
		}
	}
	select {
	case m.delconnch <- nil:
	default:
	}
	m.closewait.Wait()
}

func (m *connmng) GetConnNum() int32 {
	num := atomic.LoadInt32(&m.connnum)
	if num >= 0 {
		return num
	}
	return num + math.MaxInt32
}

func (m *connmng) Finishing() bool {
	return atomic.LoadInt32(&m.connnum) < 0
}

func (m *connmng) Finished() bool {
	return atomic.LoadInt32(&m.connnum) == -math.MaxInt32
}

// RangeConns snapshots the connections first,f runs without any lock
func (m *connmng) RangeConns(f func(c *Conn)) {
	for _, w := range m.groups {
		for _, g := range w.wheel {
			g.RLock()
			conns := make([]*Conn, 0, len(g.conns))
			for _, c := range g.conns {
				conns = append(conns, c)
			}
			g.RUnlock()
			for _, c := range conns {
				f(c)
			}
		}
	}
}

func (g *connGroup) run(idletimeout time.Duration, now *time.Time) {
	g.RLock()
	for _, c := range g.conns {
		c.checkheart(idletimeout, now)
	}
	g.RUnlock()
}
