package net

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestTxCacheBuffersEarlyFrames(t *testing.T) {
	c := newTxCache()
	c.deliver(&Frame{TxExtent: TxExtent{TxID: 2}})
	c.deliver(&Frame{TxExtent: TxExtent{TxID: 1}})

	f, err := c.wait(context.Background(), 1)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if f.TxID != 1 {
		t.Fatalf("should receive txid 1, not %d", f.TxID)
	}
	if c.pending() != 1 {
		t.Fatalf("one frame should stay buffered, not %d", c.pending())
	}
}

func TestTxCacheWildcardTakesOldest(t *testing.T) {
	c := newTxCache()
	c.deliver(&Frame{TxExtent: TxExtent{TxID: 9}})
	c.deliver(&Frame{TxExtent: TxExtent{TxID: 3}})
	c.deliver(&Frame{TxExtent: TxExtent{TxID: 9, Version: 1}})

	for i, expected := range []uint16{9, 3, 9} {
		f, err := c.wait(context.Background(), AnyTx)
		if err != nil {
			t.Fatalf("err: %v", err)
		}
		if f.TxID != expected {
			t.Fatalf("frame %d should have txid %d, not %d", i, expected, f.TxID)
		}
	}
}

func TestTxCacheInterleavedReceivers(t *testing.T) {
	c := newTxCache()

	const receivers = 64
	var wg sync.WaitGroup
	errs := make(chan error, receivers)

	for i := 1; i <= receivers; i++ {
		wg.Add(1)
		go func(txid uint16) {
			defer wg.Done()
			f, err := c.wait(context.Background(), txid)
			if err != nil {
				errs <- err
				return
			}
			if f.TxID != txid || f.Version != uint32(txid) {
				errs <- errors.New("received another transaction's frame")
			}
		}(uint16(i))
	}

	// arrival order is unrelated to the order receivers registered
	for i := receivers; i >= 1; i-- {
		c.deliver(&Frame{TxExtent: TxExtent{TxID: uint16(i), Version: uint32(i)}})
	}

	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}
	if c.pending() != 0 {
		t.Fatalf("no frame should stay buffered, not %d", c.pending())
	}
}

func TestTxCacheSpecificBeforeWildcard(t *testing.T) {
	c := newTxCache()

	got := make(chan uint16, 2)
	go func() {
		f, _ := c.wait(context.Background(), AnyTx)
		got <- f.TxID
	}()
	waitForWaiters(t, c, AnyTx)

	go func() {
		f, _ := c.wait(context.Background(), 5)
		got <- uint16(f.Version)
	}()
	waitForWaiters(t, c, 5)

	c.deliver(&Frame{TxExtent: TxExtent{TxID: 5, Version: 55}})
	if v := <-got; v != 55 {
		t.Fatalf("specific receiver should get the frame, got %d", v)
	}

	c.deliver(&Frame{TxExtent: TxExtent{TxID: 6}})
	if id := <-got; id != 6 {
		t.Fatalf("wildcard receiver should get txid 6, got %d", id)
	}
}

func TestTxCacheContext(t *testing.T) {
	c := newTxCache()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if _, err := c.wait(ctx, 1); err != context.DeadlineExceeded {
		t.Fatalf("wait should time out, got %v", err)
	}

	// the abandoned waiter must not swallow later frames
	c.deliver(&Frame{TxExtent: TxExtent{TxID: 1}})
	if c.pending() != 1 {
		t.Fatal("frame should be buffered once its receiver left")
	}
}

func TestTxCacheFail(t *testing.T) {
	c := newTxCache()
	c.deliver(&Frame{TxExtent: TxExtent{TxID: 1}})

	done := make(chan error, 1)
	go func() {
		_, err := c.wait(context.Background(), 2)
		done <- err
	}()
	waitForWaiters(t, c, 2)

	c.fail(ErrConnReleased)
	c.fail(errors.New("ignored"))

	if err := <-done; err != ErrConnReleased {
		t.Fatalf("blocked receiver should fail with ErrConnReleased, got %v", err)
	}
	if _, err := c.wait(context.Background(), 1); err != nil {
		t.Fatalf("buffered frame should survive failure, got %v", err)
	}
	if _, err := c.wait(context.Background(), 1); err != ErrConnReleased {
		t.Fatalf("err should be ErrConnReleased, got %v", err)
	}
}

func waitForWaiters(t *testing.T, c *txCache, txid uint16) {
	t.Helper()
	for i := 0; i < 1000; i++ {
		c.mu.Lock()
		n := len(c.waiters[txid])
		c.mu.Unlock()
		if n > 0 {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("nobody waiting on txid %d", txid)
}
