package net

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mosaicnetworks/dsm/src/common"
)

const (
	INMEM = iota
	TCP
	numTestTransports
)

// testCluster is a listening transport and a transport connecting to it.
type testCluster struct {
	server   Transport
	client   Transport
	listener Listener
}

func (c *testCluster) Close() {
	c.client.Close()
	c.server.Close()
}

func newTestCluster(ttype int, t *testing.T) *testCluster {
	t.Helper()

	switch ttype {
	case INMEM:
		saddr, server := NewInmemTransport("")
		_, client := NewInmemTransport("")
		client.Link(saddr, server)
		l, err := server.Listen(saddr)
		if err != nil {
			t.Fatalf("err: %v", err)
		}
		return &testCluster{server: server, client: client, listener: l}
	case TCP:
		logger := common.NewTestEntry(t, common.TestLogLevel)
		server := NewTCPTransport(time.Second, 3, logger)
		client := NewTCPTransport(time.Second, 3, logger)
		l, err := server.Listen("127.0.0.1:0")
		if err != nil {
			t.Fatalf("err: %v", err)
		}
		return &testCluster{server: server, client: client, listener: l}
	default:
		panic(fmt.Sprintf("Unknown transport type %v", ttype))
	}
}

// connect returns both ends of a fresh connection.
func (c *testCluster) connect(t *testing.T) (Conn, Conn) {
	t.Helper()

	accepted := make(chan Conn, 1)
	errCh := make(chan error, 1)
	go func() {
		conn, err := c.listener.Accept()
		if err != nil {
			errCh <- err
			return
		}
		accepted <- conn
	}()

	out, err := c.client.Connect(c.listener.Addr())
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	select {
	case in := <-accepted:
		return out, in
	case err := <-errCh:
		t.Fatalf("err: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for connection")
	}
	return nil, nil
}

func TestTransport_RequestResponse(t *testing.T) {
	for ttype := 0; ttype < numTestTransports; ttype++ {
		cluster := newTestCluster(ttype, t)
		out, in := cluster.connect(t)

		page := make([]byte, common.PageSize)
		for i := range page {
			page[i] = byte(i)
		}

		go func() {
			f, err := in.Receive(context.Background(), AnyTx)
			if err != nil {
				return
			}
			f.Status = 1
			in.Reply(f.TxExtent, page)
		}()

		txid := out.NextTxID()
		req := TxExtent{TxID: txid, Op: 1, Version: 5, Page: 0x1000}
		if err := out.Send(req, nil); err != nil {
			t.Fatalf("err: %v", err)
		}

		resp, err := out.Receive(context.Background(), ResponseID(txid))
		if err != nil {
			t.Fatalf("err: %v", err)
		}
		if resp.Page != req.Page || resp.Version != req.Version || resp.Status != 1 {
			t.Fatalf("transport %d: bad response extent %+v", ttype, resp.TxExtent)
		}
		if !bytes.Equal(resp.Payload, page) {
			t.Fatalf("transport %d: response payload mismatch", ttype)
		}

		cluster.Close()
	}
}

func TestTransport_ConcurrentTransactions(t *testing.T) {
	for ttype := 0; ttype < numTestTransports; ttype++ {
		cluster := newTestCluster(ttype, t)
		out, in := cluster.connect(t)

		ctx, cancel := context.WithCancel(context.Background())
		go ServeConn(ctx, in, func(ctx context.Context, req *Request) {
			// answer with the page number as payload
			req.Respond(req.TxExtent, []byte(fmt.Sprintf("%d", req.Page)))
		})

		var wg sync.WaitGroup
		errs := make(chan error, 100)
		for i := 0; i < 100; i++ {
			wg.Add(1)
			go func(page uint64) {
				defer wg.Done()
				txid := out.NextTxID()
				if err := out.Send(TxExtent{TxID: txid, Page: page}, nil); err != nil {
					errs <- err
					return
				}
				resp, err := out.Receive(context.Background(), ResponseID(txid))
				if err != nil {
					errs <- err
					return
				}
				if string(resp.Payload) != fmt.Sprintf("%d", page) {
					errs <- fmt.Errorf("page %d got response %q", page, resp.Payload)
				}
			}(uint64(i))
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			t.Fatalf("transport %d: %v", ttype, err)
		}

		cancel()
		cluster.Close()
	}
}

func TestTransport_TryAccept(t *testing.T) {
	for ttype := 0; ttype < numTestTransports; ttype++ {
		cluster := newTestCluster(ttype, t)

		if _, err := cluster.listener.TryAccept(); err != ErrNoPendingConn {
			t.Fatalf("transport %d: err should be ErrNoPendingConn, got %v", ttype, err)
		}

		out, err := cluster.client.Connect(cluster.listener.Addr())
		if err != nil {
			t.Fatalf("err: %v", err)
		}

		var in Conn
		for i := 0; i < 1000 && in == nil; i++ {
			in, err = cluster.listener.TryAccept()
			if err != nil && err != ErrNoPendingConn {
				t.Fatalf("err: %v", err)
			}
		}
		if in == nil {
			t.Fatalf("transport %d: pending connection was never accepted", ttype)
		}

		if err := out.Send(TxExtent{TxID: 1}, []byte("hello")); err != nil {
			t.Fatalf("err: %v", err)
		}
		f, err := in.Receive(context.Background(), 1)
		if err != nil {
			t.Fatalf("err: %v", err)
		}
		if string(f.Payload) != "hello" {
			t.Fatalf("payload should be hello, not %q", f.Payload)
		}

		cluster.Close()
	}
}

func TestTransport_Release(t *testing.T) {
	for ttype := 0; ttype < numTestTransports; ttype++ {
		cluster := newTestCluster(ttype, t)
		out, in := cluster.connect(t)

		done := make(chan error, 1)
		go func() {
			_, err := in.Receive(context.Background(), AnyTx)
			done <- err
		}()

		if err := out.Release(); err != nil {
			t.Fatalf("err: %v", err)
		}
		if err := out.Release(); err != nil {
			t.Fatalf("second release should be a no-op, got %v", err)
		}

		if err := out.Send(TxExtent{TxID: 1}, nil); err != ErrConnReleased {
			t.Fatalf("transport %d: send on released conn should fail, got %v", ttype, err)
		}
		if _, err := out.Receive(context.Background(), 1); err != ErrConnReleased {
			t.Fatalf("transport %d: receive on released conn should fail, got %v", ttype, err)
		}

		select {
		case err := <-done:
			if err == nil {
				t.Fatalf("transport %d: peer should see the connection closed", ttype)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("transport %d: peer never noticed the release", ttype)
		}

		cluster.Close()
	}
}

func TestTransport_Oversized(t *testing.T) {
	for ttype := 0; ttype < numTestTransports; ttype++ {
		cluster := newTestCluster(ttype, t)
		out, _ := cluster.connect(t)

		if err := out.Send(TxExtent{TxID: 1}, make([]byte, common.PageSize+1)); err != ErrFrameTooLarge {
			t.Fatalf("transport %d: err should be ErrFrameTooLarge, got %v", ttype, err)
		}

		cluster.Close()
	}
}

func TestTransport_Shutdown(t *testing.T) {
	for ttype := 0; ttype < numTestTransports; ttype++ {
		cluster := newTestCluster(ttype, t)
		addr := cluster.listener.Addr()
		cluster.Close()

		if _, err := cluster.client.Connect(addr); err != ErrTransportShutdown {
			t.Fatalf("transport %d: err should be ErrTransportShutdown, got %v", ttype, err)
		}
		if err := cluster.client.Close(); err != nil {
			t.Fatalf("second close should be a no-op, got %v", err)
		}
	}
}

func TestInmemHoldDelivery(t *testing.T) {
	cluster := newTestCluster(INMEM, t)
	defer cluster.Close()
	out, in := cluster.connect(t)

	in.(*InmemConn).HoldDelivery()

	t1, t2 := out.NextTxID(), out.NextTxID()
	out.Send(TxExtent{TxID: t1, Version: 1}, nil)
	out.Send(TxExtent{TxID: t2, Version: 2}, nil)

	if held := in.(*InmemConn).Held(); held != 2 {
		t.Fatalf("2 frames should be held, not %d", held)
	}

	// T2 lands first
	in.(*InmemConn).Flush(true)

	f1, err := in.Receive(context.Background(), t1)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	f2, err := in.Receive(context.Background(), t2)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if f1.Version != 1 || f2.Version != 2 {
		t.Fatalf("each transaction should get its own frame, got %d and %d", f1.Version, f2.Version)
	}
}

func TestInmemSendToReleasedPeer(t *testing.T) {
	cluster := newTestCluster(INMEM, t)
	defer cluster.Close()
	out, in := cluster.connect(t)

	if err := out.Send(TxExtent{TxID: 1, Version: 7}, nil); err != nil {
		t.Fatalf("err: %v", err)
	}
	if err := in.Release(); err != nil {
		t.Fatalf("err: %v", err)
	}

	if err := out.Send(TxExtent{TxID: 2}, nil); err != ErrConnReleased {
		t.Fatalf("send to a released peer should fail, got %v", err)
	}
	if err := out.Release(); err != nil {
		t.Fatalf("err: %v", err)
	}

	// frames delivered before the release are still there
	f, err := in.Receive(context.Background(), 1)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if f.Version != 7 {
		t.Fatalf("wrong frame, version %d", f.Version)
	}
}

func TestTCPConnectRefused(t *testing.T) {
	trans := NewTCPTransport(100*time.Millisecond, 2, common.NewTestEntry(t, common.TestLogLevel))
	defer trans.Close()

	l, err := trans.Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	addr := l.Addr()
	l.Close()

	if _, err := trans.Connect(addr); err == nil {
		t.Fatal("connecting to a closed port should fail")
	}
}
