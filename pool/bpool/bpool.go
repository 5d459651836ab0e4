package bpool

import (
	"sync"
)

var p *sync.Pool

func init() {
	p = &sync.Pool{}
}

// Get return a []byte with 0 len and at least length cap
func Get(length int) []byte {
	if length < 0 {
		panic("[bpool] length can't be negative")
	} else if length < 256 {
		length = 256
	}
	b, ok := p.Get().([]byte)
	if !ok {
		return make([]byte, 0, length)
	}
	if cap(b) < length {
		p.Put(b)
		return make([]byte, 0, length)
	}
	return b[:0]
}

func Put(b *[]byte) {
	if cap(*b) == 0 {
		return
	}
	p.Put((*b)[:0])
}
