package net

import (
	"errors"
	"net"
	"time"
)

var errNotTCP = errors.New("local address is not a TCP address")

// StreamLayer is used with the NetworkTransport to provide the low level stream
// abstraction.
type StreamLayer interface {
	// Dial is used to create a new outgoing connection
	Dial(address string, timeout time.Duration) (net.Conn, error)

	// Listen binds a listener to address
	Listen(address string) (net.Listener, error)
}

// TCPStreamLayer implements StreamLayer interface for plain TCP.
type TCPStreamLayer struct{}

// Dial implements the StreamLayer interface.
func (t *TCPStreamLayer) Dial(address string, timeout time.Duration) (net.Conn, error) {
	conn, err := net.DialTimeout("tcp", address, timeout)
	if err != nil {
		return nil, err
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		tc.SetNoDelay(true)
	}
	return conn, nil
}

// Listen implements the StreamLayer interface.
func (t *TCPStreamLayer) Listen(address string) (net.Listener, error) {
	list, err := net.Listen("tcp", address)
	if err != nil {
		return nil, err
	}

	if _, ok := list.Addr().(*net.TCPAddr); !ok {
		list.Close()
		return nil, errNotTCP
	}

	return &tcpListener{list.(*net.TCPListener)}, nil
}

// tcpListener disables Nagle on accepted connections: frames are small and
// latency bound.
type tcpListener struct {
	*net.TCPListener
}

func (l *tcpListener) Accept() (net.Conn, error) {
	conn, err := l.TCPListener.AcceptTCP()
	if err != nil {
		return nil, err
	}
	conn.SetNoDelay(true)
	return conn, nil
}
