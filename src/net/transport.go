package net

import (
	"context"
	"errors"
)

var (
	// ErrTransportShutdown is returned when operations on a transport are
	// invoked after it's been terminated.
	ErrTransportShutdown = errors.New("transport shutdown")

	// ErrFrameTooLarge is returned when a frame declares or carries more than
	// one page of payload.
	ErrFrameTooLarge = errors.New("frame payload exceeds page size")

	// ErrInvalidTxID is returned when sending with the wildcard id.
	ErrInvalidTxID = errors.New("wildcard transaction id cannot be sent")

	// ErrConnReleased is returned by operations on a released connection.
	ErrConnReleased = errors.New("connection released")

	// ErrNoPendingConn is returned by TryAccept when nobody is connecting.
	ErrNoPendingConn = errors.New("no pending connection")
)

// Transport provides an interface for network transports to allow a node to
// exchange coherence messages with other nodes.
type Transport interface {

	// Connect opens a connection to the listener at addr. Transient failures
	// are retried.
	Connect(addr string) (Conn, error)

	// Listen starts accepting connections on addr.
	Listen(addr string) (Listener, error)

	// Close permanently closes a transport, releasing its listeners and
	// connections.
	Close() error
}

// Listener hands out inbound connections.
type Listener interface {

	// Accept blocks until a peer connects.
	Accept() (Conn, error)

	// TryAccept returns a pending connection if there is one, or
	// ErrNoPendingConn.
	TryAccept() (Conn, error)

	// Addr returns the address the listener is bound to.
	Addr() string

	Close() error
}

// Conn is a transactional channel between two nodes. It is safe for
// concurrent use: Send and Reply are serialized, and any number of goroutines
// may block in Receive, each on its own transaction id.
type Conn interface {

	// ID returns a unique identifier for the connection.
	ID() string

	// RemoteAddr returns the address of the other end.
	RemoteAddr() string

	// NextTxID allocates a transaction id for a new request.
	NextTxID() uint16

	// Send writes one frame. The payload must not exceed one page.
	Send(ext TxExtent, payload []byte) error

	// Reply answers the request with extent ext, toggling the response bit
	// of its transaction id.
	Reply(ext TxExtent, payload []byte) error

	// Receive blocks until a frame with transaction id txid arrives, or any
	// frame when txid is AnyTx. Frames that arrive before anybody waits for
	// them are buffered.
	Receive(ctx context.Context, txid uint16) (*Frame, error)

	// Release closes the connection. It is idempotent.
	Release() error
}
