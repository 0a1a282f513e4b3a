package net

import (
	"context"
	"sync"
	"sync/atomic"
)

// txCache matches incoming frames with the goroutines waiting for them.
// A frame goes to the oldest receiver blocked on its transaction id, then to
// the oldest wildcard receiver, and is buffered otherwise.
type txCache struct {
	mu       sync.Mutex
	seq      uint64
	buffered map[uint16][]*Frame
	waiters  map[uint16][]chan *Frame

	err  error
	done chan struct{}
}

func newTxCache() *txCache {
	return &txCache{
		buffered: make(map[uint16][]*Frame),
		waiters:  make(map[uint16][]chan *Frame),
		done:     make(chan struct{}),
	}
}

// deliver hands f to a waiting receiver or buffers it.
func (c *txCache) deliver(f *Frame) {
	c.mu.Lock()
	ch := c.popWaiter(f.TxID)
	if ch == nil {
		ch = c.popWaiter(AnyTx)
	}
	if ch == nil {
		c.seq++
		f.seq = c.seq
		c.buffered[f.TxID] = append(c.buffered[f.TxID], f)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	// buffered channel of one, never blocks
	ch <- f
}

// wait blocks until a frame for txid is available. Buffered frames are
// returned even after the cache failed.
func (c *txCache) wait(ctx context.Context, txid uint16) (*Frame, error) {
	c.mu.Lock()
	if f := c.take(txid); f != nil {
		c.mu.Unlock()
		return f, nil
	}
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return nil, err
	}
	ch := make(chan *Frame, 1)
	c.waiters[txid] = append(c.waiters[txid], ch)
	c.mu.Unlock()

	var cause error
	select {
	case f := <-ch:
		return f, nil
	case <-c.done:
	case <-ctx.Done():
		cause = ctx.Err()
	}

	c.mu.Lock()
	removed := c.removeWaiter(txid, ch)
	if cause == nil {
		cause = c.err
	}
	c.mu.Unlock()

	if !removed {
		// deliver picked us before we gave up
		return <-ch, nil
	}
	return nil, cause
}

// fail wakes up every receiver with err. Only the first error sticks.
func (c *txCache) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil {
		c.err = err
		close(c.done)
	}
}

// pending returns the number of buffered frames.
func (c *txCache) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, fs := range c.buffered {
		n += len(fs)
	}
	return n
}

func (c *txCache) popWaiter(txid uint16) chan *Frame {
	ws := c.waiters[txid]
	if len(ws) == 0 {
		return nil
	}
	ch := ws[0]
	if len(ws) == 1 {
		delete(c.waiters, txid)
	} else {
		c.waiters[txid] = ws[1:]
	}
	return ch
}

func (c *txCache) removeWaiter(txid uint16, ch chan *Frame) bool {
	ws := c.waiters[txid]
	for i, w := range ws {
		if w != ch {
			continue
		}
		ws = append(ws[:i], ws[i+1:]...)
		if len(ws) == 0 {
			delete(c.waiters, txid)
		} else {
			c.waiters[txid] = ws
		}
		return true
	}
	return false
}

// take pops the first buffered frame for txid, or the oldest buffered frame
// of all when txid is AnyTx.
func (c *txCache) take(txid uint16) *Frame {
	if txid == AnyTx {
		var oldest *Frame
		for id, fs := range c.buffered {
			if len(fs) > 0 && (oldest == nil || fs[0].seq < oldest.seq) {
				oldest = fs[0]
				txid = id
			}
		}
		if oldest == nil {
			return nil
		}
	}

	fs := c.buffered[txid]
	if len(fs) == 0 {
		return nil
	}
	f := fs[0]
	if len(fs) == 1 {
		delete(c.buffered, txid)
	} else {
		c.buffered[txid] = fs[1:]
	}
	return f
}

// txCounter allocates transaction ids in [1, maxTxID].
type txCounter struct {
	n atomic.Uint32
}

func (t *txCounter) next() uint16 {
	v := t.n.Add(1) - 1
	return uint16(v%uint32(maxTxID)) + 1
}
