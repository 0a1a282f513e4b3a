package net

import (
	"context"
	"sync"
)

// Request is a frame received on a connection, waiting for a response.
type Request struct {
	*Frame
	Conn Conn
}

// Respond replies to the request. The reply keeps the request's transaction
// id, with the response bit toggled.
func (r *Request) Respond(ext TxExtent, payload []byte) error {
	ext.TxID = r.TxID
	return r.Conn.Reply(ext, payload)
}

// Handler processes one request.
type Handler func(ctx context.Context, req *Request)

// ServeConn receives requests on conn until ctx is done or the connection
// fails, and runs handler on each of them in its own goroutine. Stray
// responses are dropped. It waits for running handlers before returning.
func ServeConn(ctx context.Context, conn Conn, handler Handler) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		f, err := conn.Receive(ctx, AnyTx)
		if err != nil {
			return err
		}
		if f.IsResponse() {
			continue
		}

		wg.Add(1)
		go func(f *Frame) {
			defer wg.Done()
			handler(ctx, &Request{Frame: f, Conn: conn})
		}(f)
	}
}
