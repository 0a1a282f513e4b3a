package net

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/rs/xid"
	"github.com/sirupsen/logrus"
)

const (
	// acceptPoll bounds how long TryAccept waits for a pending connection.
	acceptPoll = time.Millisecond

	// DefaultConnectRetries is the number of connection attempts made before
	// giving up on a peer that refuses connections.
	DefaultConnectRetries = 50

	connectBackoff = 100 * time.Millisecond
)

/*
NetworkTransport provides a network based transport that can be used to
exchange coherence messages with remote nodes. It requires an underlying
stream layer to provide a stream abstraction, which can be simple TCP, TLS,
etc.

Every connection has a dedicated reader goroutine that decodes frames and
routes them by transaction id, so a connection is shared by all the requests
in flight towards the same peer.
*/
type NetworkTransport struct {
	logger *logrus.Entry

	conns     map[string]*netConn
	listeners []*netListener
	connsLock sync.Mutex

	shutdown     bool
	shutdownCh   chan struct{}
	shutdownLock sync.Mutex

	stream StreamLayer

	timeout time.Duration
	retries int
}

// NewNetworkTransport creates a new network transport with the given stream
// layer. The timeout is applied to dials and writes. retries bounds the
// number of connection attempts.
func NewNetworkTransport(
	stream StreamLayer,
	timeout time.Duration,
	retries int,
	logger *logrus.Entry,
) *NetworkTransport {

	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}

	if retries <= 0 {
		retries = DefaultConnectRetries
	}

	trans := &NetworkTransport{
		conns:      make(map[string]*netConn),
		logger:     logger,
		shutdownCh: make(chan struct{}),
		stream:     stream,
		timeout:    timeout,
		retries:    retries,
	}

	return trans
}

// Close is used to stop the network transport.
func (n *NetworkTransport) Close() error {
	n.shutdownLock.Lock()
	defer n.shutdownLock.Unlock()

	if !n.shutdown {
		close(n.shutdownCh)
		n.shutdown = true

		n.connsLock.Lock()
		listeners := n.listeners
		conns := make([]*netConn, 0, len(n.conns))
		for _, c := range n.conns {
			conns = append(conns, c)
		}
		n.listeners = nil
		n.connsLock.Unlock()

		for _, l := range listeners {
			l.Close()
		}
		for _, c := range conns {
			c.Release()
		}
	}
	return nil
}

// IsShutdown is used to check if the transport is shutdown.
func (n *NetworkTransport) IsShutdown() bool {
	select {
	case <-n.shutdownCh:
		return true
	default:
		return false
	}
}

// Connect implements the Transport interface. Refused connections and
// interrupted dials are retried, up to the configured number of attempts.
func (n *NetworkTransport) Connect(target string) (Conn, error) {
	var (
		conn net.Conn
		err  error
	)

	for attempt := 1; ; attempt++ {
		if n.IsShutdown() {
			return nil, ErrTransportShutdown
		}

		conn, err = n.stream.Dial(target, n.timeout)
		if err == nil {
			break
		}

		if attempt >= n.retries || !isTransientDial(err) {
			n.logger.WithFields(logrus.Fields{
				"target":   target,
				"attempts": attempt,
				"error":    err,
			}).Error("Failed to connect")
			return nil, err
		}

		select {
		case <-time.After(connectBackoff):
		case <-n.shutdownCh:
			return nil, ErrTransportShutdown
		}
	}

	c := n.wrap(conn)

	n.logger.WithFields(logrus.Fields{
		"conn":   c.id,
		"target": target,
	}).Debug("connected")

	return c, nil
}

// Listen implements the Transport interface.
func (n *NetworkTransport) Listen(addr string) (Listener, error) {
	if n.IsShutdown() {
		return nil, ErrTransportShutdown
	}

	l, err := n.stream.Listen(addr)
	if err != nil {
		return nil, err
	}

	nl := &netListener{
		trans:    n,
		listener: l,
	}

	n.connsLock.Lock()
	n.listeners = append(n.listeners, nl)
	n.connsLock.Unlock()

	return nl, nil
}

// wrap starts the reader goroutine of a fresh connection and tracks it until
// it is released.
func (n *NetworkTransport) wrap(conn net.Conn) *netConn {
	c := &netConn{
		id:      xid.New().String(),
		conn:    conn,
		buf:     make([]byte, MaxFrameSize),
		cache:   newTxCache(),
		timeout: n.timeout,
		trans:   n,
	}
	c.logger = n.logger.WithField("conn", c.id)

	n.connsLock.Lock()
	n.conns[c.id] = c
	n.connsLock.Unlock()

	go c.readLoop()

	return c
}

func (n *NetworkTransport) forget(c *netConn) {
	n.connsLock.Lock()
	delete(n.conns, c.id)
	n.connsLock.Unlock()
}

type netListener struct {
	trans    *NetworkTransport
	listener net.Listener
	lock     sync.Mutex
}

// Accept implements the Listener interface. Interrupted accepts are retried.
func (l *netListener) Accept() (Conn, error) {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.accept()
}

func (l *netListener) accept() (Conn, error) {
	for {
		conn, err := l.listener.Accept()
		if err == nil {
			c := l.trans.wrap(conn)
			l.trans.logger.WithFields(logrus.Fields{
				"conn": c.id,
				"node": conn.LocalAddr(),
				"from": conn.RemoteAddr(),
			}).Debug("accepted connection")
			return c, nil
		}
		if l.trans.IsShutdown() {
			return nil, ErrTransportShutdown
		}
		if !isTransient(err) {
			return nil, err
		}
	}
}

// TryAccept implements the Listener interface. It waits at most acceptPoll
// for a pending connection.
func (l *netListener) TryAccept() (Conn, error) {
	l.lock.Lock()
	defer l.lock.Unlock()

	dl, ok := l.listener.(interface{ SetDeadline(time.Time) error })
	if !ok {
		return nil, errors.New("listener does not support deadlines")
	}
	if err := dl.SetDeadline(time.Now().Add(acceptPoll)); err != nil {
		return nil, err
	}
	defer dl.SetDeadline(time.Time{})

	c, err := l.accept()
	if isTimeout(err) {
		return nil, ErrNoPendingConn
	}
	return c, err
}

// Addr implements the Listener interface.
func (l *netListener) Addr() string {
	return l.listener.Addr().String()
}

// Close implements the Listener interface.
func (l *netListener) Close() error {
	return l.listener.Close()
}

type netConn struct {
	id     string
	conn   net.Conn
	logger *logrus.Entry
	trans  *NetworkTransport

	buf     []byte
	wLock   sync.Mutex
	timeout time.Duration

	cache *txCache
	txids txCounter

	releaseOnce sync.Once
}

// ID implements the Conn interface.
func (c *netConn) ID() string {
	return c.id
}

// RemoteAddr implements the Conn interface.
func (c *netConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// NextTxID implements the Conn interface.
func (c *netConn) NextTxID() uint16 {
	return c.txids.next()
}

// Send implements the Conn interface. The frame is written in full or the
// connection is released.
func (c *netConn) Send(ext TxExtent, payload []byte) error {
	if err := checkFrame(ext, payload); err != nil {
		return err
	}

	c.wLock.Lock()
	defer c.wLock.Unlock()

	select {
	case <-c.cache.done:
		return ErrConnReleased
	default:
	}

	if c.timeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.timeout))
	}

	n := encodeFrame(c.buf, ext, payload)
	if err := c.writeFull(c.buf[:n]); err != nil {
		c.logger.WithFields(logrus.Fields{
			"txid":  ext.TxID,
			"error": err,
		}).Error("Failed to send frame")
		c.Release()
		return err
	}
	return nil
}

// writeFull writes b completely, retrying interrupted writes.
func (c *netConn) writeFull(b []byte) error {
	for len(b) > 0 {
		n, err := c.conn.Write(b)
		b = b[n:]
		if err != nil && !isTransient(err) {
			return err
		}
	}
	return nil
}

// Reply implements the Conn interface.
func (c *netConn) Reply(ext TxExtent, payload []byte) error {
	ext.TxID = ResponseID(ext.TxID)
	return c.Send(ext, payload)
}

// Receive implements the Conn interface.
func (c *netConn) Receive(ctx context.Context, txid uint16) (*Frame, error) {
	return c.cache.wait(ctx, txid)
}

// Release implements the Conn interface.
func (c *netConn) Release() error {
	var err error
	c.releaseOnce.Do(func() {
		c.cache.fail(ErrConnReleased)
		err = c.conn.Close()
		c.trans.forget(c)
	})
	return err
}

// readLoop decodes frames until the connection fails.
func (c *netConn) readLoop() {
	r := bufio.NewReaderSize(c.conn, MaxFrameSize)
	for {
		f, err := readFrame(r)
		if err != nil {
			c.stop(err)
			return
		}
		c.cache.deliver(f)
	}
}

func (c *netConn) stop(err error) {
	select {
	case <-c.cache.done:
		// released locally
		return
	default:
	}

	switch {
	case err == io.EOF:
		c.logger.Debug("connection closed by peer")
	case errors.Is(err, ErrFrameTooLarge):
		c.logger.WithField("error", err).Error("Malformed frame, dropping connection")
	default:
		c.logger.WithField("error", err).Error("Failed to read frame")
	}

	c.cache.fail(err)
	c.conn.Close()
	c.trans.forget(c)
}

// isTransient reports whether an I/O error is worth retrying.
func isTransient(err error) bool {
	if errors.Is(err, syscall.EINTR) || errors.Is(err, syscall.EAGAIN) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Temporary() && !ne.Timeout()
	}
	return false
}

// isTransientDial also retries refused connections: peers of a cluster
// start in any order.
func isTransientDial(err error) bool {
	return isTransient(err) || errors.Is(err, syscall.ECONNREFUSED)
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
