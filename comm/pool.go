package comm

import (
	"io"
	"sync"
	"time"
)

// Pool is a communication pool which holds one or more connections to a device
// that will be closed if they are not in use, and re-opened as needed.
// It is concurrent safe.  Pools must be created with NewPool.
type Pool struct {
	maxSize int
	timeout time.Duration // idle time after the last return before every conn is closed
	maker   CreationFunc

	// lease holds one token per connection given out; Get blocks on it when
	// all maxSize connections are out
	lease chan struct{}

	mu      sync.Mutex
	idle    []io.ReadWriteCloser
	onLease int
	timer   *time.Timer
}

// NewPool creates a pool of at most maxSize connections made by maker.
// Connections are closed once none is on lease for timeout.
func NewPool(maxSize int, timeout time.Duration, maker CreationFunc) *Pool {
	if maxSize < 1 {
		maxSize = 1
	}
	return &Pool{
		maxSize: maxSize,
		timeout: timeout,
		maker:   maker,
		lease:   make(chan struct{}, maxSize),
	}
}

// Get retrieves a connection, blocking until one is available if all are in
// use.  It is guaranteed that there is no contention for the ReadWriter.
//
// When done with the connection, return it with Put, or discard it with
// Destroy if it has become no good.  ReturnWithError picks for you.
//
// If the error from Get is not nil, you must not return the connection.
func (p *Pool) Get() (io.ReadWriter, error) {
	p.lease <- struct{}{}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	if n := len(p.idle); n > 0 {
		c := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.onLease++
		return c, nil
	}
	c, err := p.maker()
	if err != nil {
		<-p.lease
		return nil, err
	}
	p.onLease++
	return c, nil
}

// Put restores a connection to the pool.  It may be reused, or will be
// freed after all connections are returned and the timeout has elapsed.
func (p *Pool) Put(rw io.ReadWriter) {
	rwc := rw.(io.ReadWriteCloser)
	p.mu.Lock()
	p.idle = append(p.idle, rwc)
	p.onLease--
	if p.onLease == 0 {
		p.timer = time.AfterFunc(p.timeout, p.reclaim)
	}
	p.mu.Unlock()
	<-p.lease
}

// Destroy immediately closes a connection taken from the pool.  This should
// be used instead of Put if the connection has gone bad.
func (p *Pool) Destroy(rw io.ReadWriter) {
	rwc := rw.(io.ReadWriteCloser)
	rwc.Close()
	p.mu.Lock()
	p.onLease--
	p.mu.Unlock()
	<-p.lease
}

// ReturnWithError returns the connection with Put if err is nil, otherwise
// it is destroyed
func (p *Pool) ReturnWithError(rw io.ReadWriter, err error) {
	if err != nil {
		p.Destroy(rw)
		return
	}
	p.Put(rw)
}

// Size returns the number of connections in the pool, or given out from it
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle) + p.onLease
}

// Active returns the number of connections owned by the pool that are
// currently given out
func (p *Pool) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.onLease
}

func (p *Pool) reclaim() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.onLease != 0 {
		return
	}
	for _, c := range p.idle {
		c.Close()
	}
	p.idle = nil
	p.timer = nil
}
