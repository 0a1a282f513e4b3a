package net

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/xid"
)

// NewInmemAddr returns a new in-memory addr with a random unique ID.
func NewInmemAddr() string {
	return "inmem-" + xid.New().String()
}

// InmemTransport implements the Transport interface, to allow the coherence
// protocol to be tested in-memory without going over a network. Frames are
// delivered synchronously by the sender.
type InmemTransport struct {
	sync.RWMutex
	localAddr string
	peers     map[string]*InmemTransport
	listener  *inmemListener
	conns     []*InmemConn
	shutdown  bool
}

// NewInmemTransport is used to initialize a new transport
// and generates a random local address if none is specified
func NewInmemTransport(addr string) (string, *InmemTransport) {
	if addr == "" {
		addr = NewInmemAddr()
	}
	trans := &InmemTransport{
		localAddr: addr,
		peers:     make(map[string]*InmemTransport),
	}
	return addr, trans
}

// LocalAddr returns the address of the transport.
func (i *InmemTransport) LocalAddr() string {
	return i.localAddr
}

// Link makes the transport t reachable at addr.
func (i *InmemTransport) Link(addr string, t *InmemTransport) {
	i.Lock()
	defer i.Unlock()
	i.peers[addr] = t
}

// Unlink removes the route to addr.
func (i *InmemTransport) Unlink(addr string) {
	i.Lock()
	defer i.Unlock()
	delete(i.peers, addr)
}

// UnlinkAll removes all routes.
func (i *InmemTransport) UnlinkAll() {
	i.Lock()
	defer i.Unlock()
	i.peers = make(map[string]*InmemTransport)
}

// Connect implements the Transport interface.
func (i *InmemTransport) Connect(target string) (Conn, error) {
	i.RLock()
	shutdown := i.shutdown
	peer, ok := i.peers[target]
	i.RUnlock()

	if shutdown {
		return nil, ErrTransportShutdown
	}
	if !ok {
		return nil, fmt.Errorf("failed to connect to peer: %v", target)
	}

	local, remote := newInmemPair(i.localAddr, target)
	if err := peer.enqueue(remote); err != nil {
		return nil, err
	}

	i.Lock()
	i.conns = append(i.conns, local)
	i.Unlock()

	return local, nil
}

func (i *InmemTransport) enqueue(c *InmemConn) error {
	i.Lock()
	defer i.Unlock()
	if i.shutdown || i.listener == nil || i.listener.closed {
		return fmt.Errorf("connection refused: %v", i.localAddr)
	}
	i.listener.pending = append(i.listener.pending, c)
	i.conns = append(i.conns, c)
	i.listener.cond.Signal()
	return nil
}

// Listen implements the Transport interface. An in-memory transport has a
// single listener, bound to its local address.
func (i *InmemTransport) Listen(addr string) (Listener, error) {
	i.Lock()
	defer i.Unlock()

	if i.shutdown {
		return nil, ErrTransportShutdown
	}
	if addr != "" && addr != i.localAddr {
		return nil, fmt.Errorf("cannot listen on %v from %v", addr, i.localAddr)
	}
	if i.listener != nil && !i.listener.closed {
		return nil, fmt.Errorf("already listening on %v", i.localAddr)
	}

	i.listener = &inmemListener{trans: i}
	i.listener.cond = sync.NewCond(&i.RWMutex)
	return i.listener, nil
}

// Close implements the Transport interface.
func (i *InmemTransport) Close() error {
	i.Lock()
	if i.shutdown {
		i.Unlock()
		return nil
	}
	i.shutdown = true
	if i.listener != nil {
		i.listener.closed = true
		i.listener.cond.Broadcast()
	}
	conns := i.conns
	i.conns = nil
	i.Unlock()

	for _, c := range conns {
		c.Release()
	}
	return nil
}

// inmemListener shares the transport lock.
type inmemListener struct {
	trans   *InmemTransport
	cond    *sync.Cond
	pending []*InmemConn
	closed  bool
}

// Accept implements the Listener interface.
func (l *inmemListener) Accept() (Conn, error) {
	l.trans.Lock()
	defer l.trans.Unlock()

	for len(l.pending) == 0 && !l.closed {
		l.cond.Wait()
	}
	return l.pop()
}

// TryAccept implements the Listener interface.
func (l *inmemListener) TryAccept() (Conn, error) {
	l.trans.Lock()
	defer l.trans.Unlock()

	if len(l.pending) == 0 && !l.closed {
		return nil, ErrNoPendingConn
	}
	return l.pop()
}

func (l *inmemListener) pop() (Conn, error) {
	if l.closed {
		return nil, ErrTransportShutdown
	}
	c := l.pending[0]
	l.pending = l.pending[1:]
	return c, nil
}

// Addr implements the Listener interface.
func (l *inmemListener) Addr() string {
	return l.trans.localAddr
}

// Close implements the Listener interface.
func (l *inmemListener) Close() error {
	l.trans.Lock()
	defer l.trans.Unlock()
	l.closed = true
	l.cond.Broadcast()
	return nil
}

// InmemConn is one end of an in-memory connection. Delivery to the other end
// can be held and released later, in any order.
type InmemConn struct {
	id         string
	remoteAddr string
	peer       *InmemConn
	cache      *txCache
	txids      txCounter

	mu       sync.Mutex
	holding  bool
	held     []*Frame
	released bool
}

func newInmemPair(local, remote string) (*InmemConn, *InmemConn) {
	a := &InmemConn{
		id:         xid.New().String(),
		remoteAddr: remote,
		cache:      newTxCache(),
	}
	b := &InmemConn{
		id:         xid.New().String(),
		remoteAddr: local,
		cache:      newTxCache(),
	}
	a.peer, b.peer = b, a
	return a, b
}

// ID implements the Conn interface.
func (c *InmemConn) ID() string {
	return c.id
}

// RemoteAddr implements the Conn interface.
func (c *InmemConn) RemoteAddr() string {
	return c.remoteAddr
}

// NextTxID implements the Conn interface.
func (c *InmemConn) NextTxID() uint16 {
	return c.txids.next()
}

// Send implements the Conn interface.
func (c *InmemConn) Send(ext TxExtent, payload []byte) error {
	if err := checkFrame(ext, payload); err != nil {
		return err
	}

	c.mu.Lock()
	released := c.released
	c.mu.Unlock()
	if released {
		return ErrConnReleased
	}

	f := &Frame{
		TxExtent: ext,
		Payload:  append([]byte{}, payload...),
	}
	c.peer.arrive(f)
	return nil
}

// Reply implements the Conn interface.
func (c *InmemConn) Reply(ext TxExtent, payload []byte) error {
	ext.TxID = ResponseID(ext.TxID)
	return c.Send(ext, payload)
}

// Receive implements the Conn interface.
func (c *InmemConn) Receive(ctx context.Context, txid uint16) (*Frame, error) {
	return c.cache.wait(ctx, txid)
}

// Release implements the Conn interface. The other end sees the connection
// closed once its buffered frames are consumed, and can no longer send.
func (c *InmemConn) Release() error {
	if !c.markReleased() {
		return nil
	}
	c.peer.markReleased()

	c.cache.fail(ErrConnReleased)
	c.peer.cache.fail(ErrConnReleased)
	return nil
}

func (c *InmemConn) markReleased() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return false
	}
	c.released = true
	return true
}

func (c *InmemConn) arrive(f *Frame) {
	c.mu.Lock()
	if c.holding {
		c.held = append(c.held, f)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	c.cache.deliver(f)
}

// HoldDelivery queues incoming frames until Flush is called.
func (c *InmemConn) HoldDelivery() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.holding = true
}

// Held returns the number of frames waiting for Flush.
func (c *InmemConn) Held() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.held)
}

// Flush delivers the held frames and resumes normal delivery. Frames are
// delivered in arrival order, or in reverse when reverse is set.
func (c *InmemConn) Flush(reverse bool) {
	c.mu.Lock()
	held := c.held
	c.held = nil
	c.holding = false
	c.mu.Unlock()

	if reverse {
		for j := len(held) - 1; j >= 0; j-- {
			c.cache.deliver(held[j])
		}
		return
	}
	for _, f := range held {
		c.cache.deliver(f)
	}
}

// Pending returns the number of delivered frames nobody received yet.
func (c *InmemConn) Pending() int {
	return c.cache.pending()
}
