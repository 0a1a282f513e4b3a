package node

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mosaicnetworks/dsm/src/common"
	"github.com/mosaicnetworks/dsm/src/memory"
	"github.com/mosaicnetworks/dsm/src/net"
	"github.com/sirupsen/logrus"
)

// maxHops bounds the number of requests a single fault may send.
const maxHops = 16

// Fault describes a guest access to a page the node has no sufficient
// access to.
type Fault struct {
	VFN      uint64
	Write    bool
	Callsite []uint64
}

// Reply is the outcome of a Fetch.
type Reply struct {
	Status  uint8
	Version uint32
	// Owner is the probable owner named by a redirect.
	Owner int
	// Len is the size of the payload that was received.
	Len int
}

// ResolveFault gives the node the access the fault needs, fetching the page
// from its owner if necessary. The page lock is held for the whole
// resolution, so concurrent faults on one page are served one at a time.
func (n *Node) ResolveFault(ctx context.Context, f Fault) error {
	start := time.Now()

	slot, err := n.table.Find(f.VFN)
	if err != nil {
		return err
	}

	slot.Lock(f.VFN)
	defer slot.Unlock(f.VFN)

	if f.Write {
		n.writeFaults.Add(1)
	} else {
		n.readFaults.Add(1)
	}

	st := slot.State(f.VFN)
	n.applyPendingInvalidation(st)

	respLen, err := n.resolve(ctx, slot, st, f)
	if err != nil {
		n.logger.WithFields(logrus.Fields{
			"vfn":   f.VFN,
			"write": f.Write,
			"error": err,
		}).Error("Failed to resolve fault")
		return err
	}

	n.profile.Trace(slot, f.VFN, f.Write, respLen, time.Since(start), f.Callsite)

	return nil
}

func satisfies(a memory.Access, write bool) bool {
	if write {
		return a == memory.Owned
	}
	return a != memory.Invalid
}

// applyPendingInvalidation applies an invalidation that arrived while the
// page lock was taken. Owners ignore it: ownership was acquired after it was
// sent.
func (n *Node) applyPendingInvalidation(st *memory.PageState) bool {
	owner, ok := st.TakeInvalidated()
	if !ok || st.Owner() == n.id {
		return false
	}
	st.SetAccess(memory.Invalid)
	st.SetOwner(owner)
	return true
}

func (n *Node) resolve(ctx context.Context,
	slot *memory.MemorySlot,
	st *memory.PageState,
	f Fault,
) (int, error) {

	if satisfies(st.Access(), f.Write) {
		return 0, nil
	}

	// the owner upgrading its read-only copy only needs to invalidate
	// the replicas
	if f.Write && st.Owner() == n.id && st.Access() == memory.Shared {
		if err := n.invalidateCopies(ctx, slot, f.VFN, n.id); err != nil {
			return 0, err
		}
		st.BumpVersion()
		st.SetAccess(memory.Owned)
		return 0, nil
	}

	gfn := slot.GFN(f.VFN)
	page := make([]byte, common.PageSize)
	if err := n.guest.ReadPage(gfn, page); err != nil {
		return 0, err
	}

	target := st.Owner()
	for hop := 0; hop < maxHops; hop++ {
		if target == n.id {
			return 0, fmt.Errorf("page %#x: %w", f.VFN, ErrUnexpectedReply)
		}

		conn, err := n.Connect(target)
		if err != nil {
			return 0, err
		}

		rep, err := n.Fetch(ctx, conn, f.VFN, st.Version(), f.Write, page)
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, ErrRequestFailed) {
				n.dropConn(target, conn)
			}
			return 0, err
		}

		if rep.Status == StatusRedirect {
			n.redirects.Add(1)
			target = rep.Owner
			continue
		}

		if err := n.guest.WritePage(gfn, page); err != nil {
			return 0, err
		}
		st.SetVersion(rep.Version)
		n.codec.SetTwinConditionally(st, rep.Version, page, false, nil)

		if f.Write {
			st.TakeInvalidated()
			st.BumpVersion()
			st.SetOwner(n.id)
			st.SetAccess(memory.Owned)
			slot.SetCopies(f.VFN, 0)
			return rep.Len, nil
		}

		st.SetOwner(target)
		st.SetAccess(memory.Shared)

		// the replica may have been invalidated while in flight
		if n.applyPendingInvalidation(st) {
			target = st.Owner()
			continue
		}

		return rep.Len, nil
	}

	return 0, fmt.Errorf("page %#x: %w", f.VFN, ErrTooManyRedirects)
}

// Fetch asks the node at the other end of conn for page vfn, claiming the
// requester holds version of it. page must hold the requester's copy of the
// page; when the reply carries content, page is updated with it. The caller
// must hold the page lock.
func (n *Node) Fetch(ctx context.Context,
	conn net.Conn,
	vfn uint64,
	version uint32,
	write bool,
	page []byte,
) (Reply, error) {

	op := OpRead
	if write {
		op = OpWrite
	}

	txid := conn.NextTxID()
	ext := net.TxExtent{
		TxID:    txid,
		Op:      op,
		Version: version,
		Page:    vfn,
	}

	if err := conn.Send(ext, encodeNodeID(n.id)); err != nil {
		return Reply{}, fmt.Errorf("sending %s request: %w", opName(op), err)
	}

	resp, err := conn.Receive(ctx, net.ResponseID(txid))
	if err != nil {
		return Reply{}, fmt.Errorf("receiving %s reply: %w", opName(op), err)
	}

	rep := Reply{
		Status:  resp.Status,
		Version: resp.Version,
		Len:     len(resp.Payload),
	}

	switch resp.Status {
	case StatusOK:
		if err := n.codec.Decode(resp.Payload, page); err != nil {
			return rep, fmt.Errorf("page %#x: %w", vfn, err)
		}
	case StatusRedirect:
		rep.Owner, err = decodeNodeID(resp.Payload)
	case StatusRetry, StatusBadRequest:
		err = fmt.Errorf("page %#x, status %d: %w", vfn, resp.Status, ErrRequestFailed)
	default:
		err = fmt.Errorf("page %#x, status %d: %w", vfn, resp.Status, ErrUnexpectedReply)
	}

	return rep, err
}

// invalidateCopies invalidates every replica of page vfn except the one of
// newOwner. On failure the copyset is restored, so the invalidation can be
// retried. The caller must hold the page lock.
func (n *Node) invalidateCopies(ctx context.Context,
	slot *memory.MemorySlot,
	vfn uint64,
	newOwner int,
) error {

	copies := slot.Copies(vfn).Remove(n.id).Remove(newOwner)
	if copies.Len() == 0 {
		slot.SetCopies(vfn, 0)
		return nil
	}

	slot.BackupCopies(vfn)
	version := slot.State(vfn).Version()

	for _, id := range copies.IDs() {
		if err := n.invalidate(ctx, id, vfn, version, newOwner); err != nil {
			slot.RestoreCopies(vfn)
			return fmt.Errorf("invalidating node %d: %w", id, err)
		}
	}

	slot.SetCopies(vfn, 0)
	return nil
}

func (n *Node) invalidate(ctx context.Context, id int, vfn uint64, version uint32, newOwner int) error {
	conn, err := n.Connect(id)
	if err != nil {
		return err
	}

	txid := conn.NextTxID()
	ext := net.TxExtent{
		TxID:    txid,
		Op:      OpInvalidate,
		Version: version,
		Page:    vfn,
	}

	if err := conn.Send(ext, encodeNodeID(newOwner)); err != nil {
		n.dropConn(id, conn)
		return err
	}

	resp, err := conn.Receive(ctx, net.ResponseID(txid))
	if err != nil {
		if ctx.Err() == nil {
			n.dropConn(id, conn)
		}
		return err
	}
	if resp.Status != StatusAck {
		return fmt.Errorf("status %d: %w", resp.Status, ErrUnexpectedReply)
	}
	return nil
}
