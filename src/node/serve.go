package node

import (
	"context"
	"time"

	"github.com/mosaicnetworks/dsm/src/common"
	"github.com/mosaicnetworks/dsm/src/memory"
	"github.com/mosaicnetworks/dsm/src/net"
	"github.com/sirupsen/logrus"
)

// handleRequest serves one request received from another node.
func (n *Node) handleRequest(ctx context.Context, req *net.Request) {
	n.served.Add(1)

	slot, err := n.table.Find(req.Page)
	if err != nil {
		n.logger.WithFields(logrus.Fields{
			"op":  opName(req.Op),
			"vfn": req.Page,
		}).Warn("request for unknown page")
		n.respond(req, StatusBadRequest, 0, nil)
		return
	}

	switch req.Op {
	case OpRead, OpWrite:
		n.serveFetch(ctx, slot, req)
	case OpInvalidate:
		n.serveInvalidate(slot, req)
	default:
		n.logger.WithField("op", req.Op).Warn("unknown operation")
		n.respond(req, StatusBadRequest, 0, nil)
	}
}

// serveFetch answers a read or write request. Only the owner serves pages;
// any other node redirects the requester to its probable owner.
func (n *Node) serveFetch(ctx context.Context, slot *memory.MemorySlot, req *net.Request) {
	requester, err := decodeNodeID(req.Payload)
	if err != nil {
		n.respond(req, StatusBadRequest, 0, nil)
		return
	}

	vfn := req.Page
	slot.Lock(vfn)
	defer slot.Unlock(vfn)

	st := slot.State(vfn)
	if st.Owner() != n.id {
		n.respond(req, StatusRedirect, st.Version(), encodeNodeID(st.Owner()))
		return
	}

	gfn := slot.GFN(vfn)
	page := make([]byte, common.PageSize)
	if err := n.guest.ReadPage(gfn, page); err != nil {
		n.logger.WithError(err).Error("Failed to read guest page")
		n.respond(req, StatusRetry, 0, nil)
		return
	}

	start := time.Now()

	if req.Op == OpWrite {
		if err := n.invalidateCopies(ctx, slot, vfn, requester); err != nil {
			n.logger.WithFields(logrus.Fields{
				"vfn":   vfn,
				"error": err,
			}).Error("Failed to invalidate copies")
			n.respond(req, StatusRetry, 0, nil)
			return
		}

		payload := n.codec.Encode(st.Twin(), page, req.Version)
		if err := n.respond(req, StatusOK, st.Version(), payload); err != nil {
			return
		}

		// the requester has the page, hand over ownership
		st.SetOwner(requester)
		st.SetAccess(memory.Invalid)
		st.DropTwin()

		n.logger.WithFields(logrus.Fields{
			"vfn":     vfn,
			"to":      requester,
			"version": st.Version(),
			"bytes":   len(payload),
			"took":    time.Since(start),
		}).Debug("ownership transferred")
		return
	}

	if st.Access() == memory.Owned {
		st.SetAccess(memory.Shared)
	}
	slot.AddCopy(vfn, requester)

	payload := n.codec.Encode(st.Twin(), page, req.Version)
	if err := n.respond(req, StatusOK, st.Version(), payload); err != nil {
		slot.RemoveCopy(vfn, requester)
		return
	}

	n.codec.SetTwinConditionally(st, st.Version(), page, true, func(buf []byte) error {
		return n.guest.ReadPage(gfn, buf)
	})
}

// serveInvalidate drops the local replica. It never waits for the page
// lock: a node resolving a fault on the page holds it while waiting for the
// owner, which may be the one invalidating. The invalidation is then left
// pending for the lock holder.
func (n *Node) serveInvalidate(slot *memory.MemorySlot, req *net.Request) {
	newOwner, err := decodeNodeID(req.Payload)
	if err != nil {
		n.respond(req, StatusBadRequest, 0, nil)
		return
	}

	vfn := req.Page
	if slot.TryLock(vfn) {
		st := slot.State(vfn)
		if st.Owner() != n.id {
			st.SetAccess(memory.Invalid)
			st.SetOwner(newOwner)
		}
		slot.Unlock(vfn)
	} else {
		slot.State(vfn).MarkInvalidated(newOwner)
	}

	n.respond(req, StatusAck, req.Version, nil)
}

func (n *Node) respond(req *net.Request, status uint8, version uint32, payload []byte) error {
	ext := req.TxExtent
	ext.Status = status
	ext.Version = version

	err := req.Respond(ext, payload)
	if err != nil {
		n.logger.WithFields(logrus.Fields{
			"op":    opName(req.Op),
			"vfn":   req.Page,
			"error": err,
		}).Error("Failed to respond")
	}
	return err
}
