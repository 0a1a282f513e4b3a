package node

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mosaicnetworks/dsm/src/config"
	"github.com/mosaicnetworks/dsm/src/diff"
	"github.com/mosaicnetworks/dsm/src/memory"
	"github.com/mosaicnetworks/dsm/src/net"
	"github.com/mosaicnetworks/dsm/src/peers"
	"github.com/mosaicnetworks/dsm/src/profile"
	"github.com/sirupsen/logrus"
)

// acceptInterval is the pause between two polls of an idle listener.
const acceptInterval = 5 * time.Millisecond

// Node is a member of a DSM cluster.
type Node struct {
	// The node's state is kept atomically; its running goroutines are
	// tracked so Shutdown can wait for them.
	state

	conf   *config.Config
	id     int
	logger *logrus.Entry

	cluster  *peers.Cluster
	trans    net.Transport
	listener net.Listener
	guest    GuestMemory

	table   *memory.SlotTable
	codec   *diff.Codec
	profile *profile.Collector

	connsLock sync.Mutex
	conns     map[int]net.Conn

	readFaults  atomic.Uint64
	writeFaults atomic.Uint64
	served      atomic.Uint64
	redirects   atomic.Uint64

	start      time.Time
	shutdownCh chan struct{}
}

// NewNode creates a node. The slot table starts with a single slot covering
// every guest frame.
func NewNode(conf *config.Config,
	cluster *peers.Cluster,
	trans net.Transport,
	guest GuestMemory,
) *Node {

	logger := conf.Logger()

	// fault counters are only kept by the profiler, without it every page
	// is eligible for a twin
	twinThreshold := conf.TwinThreshold
	if !conf.EnableProfile {
		twinThreshold = 0
	}

	node := &Node{
		conf:       conf,
		id:         conf.NodeID,
		logger:     logger,
		cluster:    cluster,
		trans:      trans,
		guest:      guest,
		table:      memory.NewSlotTable(conf.MaxSlots, conf.MaxPages, conf.DeadlockTimeout, nil, logger),
		codec:      diff.NewCodec(conf.EnableDiff, twinThreshold, logger),
		conns:      make(map[int]net.Conn),
		start:      time.Now(),
		shutdownCh: make(chan struct{}),
	}
	node.profile = profile.NewCollector(node.table, conf.EnableProfile, logger)

	return node
}

// Init creates the guest slot, sets up initial ownership and starts
// listening.
func (n *Node) Init() error {
	slot, err := n.table.Add(0, uint64(n.conf.GuestPages))
	if err != nil {
		return fmt.Errorf("creating guest slot: %w", err)
	}
	n.initOwnership(slot)

	addr, err := n.cluster.Resolve(n.id)
	if err != nil {
		return err
	}

	n.listener, err = n.trans.Listen(addr.String())
	if err != nil {
		return fmt.Errorf("listening on %v: %w", addr, err)
	}

	n.logger.WithFields(logrus.Fields{
		"addr":  n.listener.Addr(),
		"pages": n.conf.GuestPages,
	}).Debug("Init")

	return nil
}

// AddSlot adds a slot covering [start, start+npages), owned by node 0.
func (n *Node) AddSlot(start, npages uint64) (*memory.MemorySlot, error) {
	slot, err := n.table.Add(start, npages)
	if err != nil {
		return nil, err
	}
	n.initOwnership(slot)
	return slot, nil
}

// initOwnership hands every page of slot to node 0. The owner's content is
// version 1; version 0 stands for no copy at all, so it never matches a twin.
func (n *Node) initOwnership(slot *memory.MemorySlot) {
	for i := uint64(0); i < slot.NPages; i++ {
		st := slot.StateAt(i)
		st.SetOwner(0)
		if n.id == 0 {
			st.SetAccess(memory.Owned)
			st.SetVersion(1)
		}
	}
}

// RunAsync runs the node in a goroutine. Shutdown waits for it.
func (n *Node) RunAsync(ctx context.Context) {
	n.logger.Debug("runasync")

	n.goFunc(func() { n.Run(ctx) })
}

// Run accepts connections and serves the requests they carry until ctx is
// done or the node shuts down.
func (n *Node) Run(ctx context.Context) {
	n.setState(Running)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case <-n.shutdownCh:
			return
		default:
		}

		conn, err := n.listener.TryAccept()
		if err == net.ErrNoPendingConn {
			time.Sleep(acceptInterval)
			continue
		}
		if err != nil {
			if n.getState() == Shutdown {
				return
			}
			n.logger.WithError(err).Error("Failed to accept connection")
			time.Sleep(acceptInterval)
			continue
		}

		n.logger.WithFields(logrus.Fields{
			"conn": conn.ID(),
			"from": conn.RemoteAddr(),
		}).Debug("serving connection")

		n.goFunc(func() {
			err := net.ServeConn(ctx, conn, n.handleRequest)
			n.logger.WithFields(logrus.Fields{
				"conn":  conn.ID(),
				"error": err,
			}).Debug("connection done")
			conn.Release()
		})
	}
}

// Connect returns the connection to node id, opening it on first use.
// Configuration errors are returned as is.
func (n *Node) Connect(id int) (net.Conn, error) {
	n.connsLock.Lock()
	defer n.connsLock.Unlock()

	if conn, ok := n.conns[id]; ok {
		return conn, nil
	}

	addr, err := n.cluster.Resolve(id)
	if err != nil {
		return nil, err
	}

	conn, err := n.trans.Connect(addr.String())
	if err != nil {
		return nil, fmt.Errorf("connecting to node %d: %w", id, err)
	}
	n.conns[id] = conn

	return conn, nil
}

// dropConn forgets a broken connection so the next Connect opens a new one.
func (n *Node) dropConn(id int, conn net.Conn) {
	n.connsLock.Lock()
	if n.conns[id] == conn {
		delete(n.conns, id)
	}
	n.connsLock.Unlock()

	conn.Release()
}

// Shutdown stops serving, releases connections and closes the transport.
func (n *Node) Shutdown() {
	if n.getState() != Shutdown {
		n.logger.Debug("Shutdown")

		n.setState(Shutdown)
		close(n.shutdownCh)

		// release connections first, so blocked handlers return
		n.connsLock.Lock()
		for id, conn := range n.conns {
			conn.Release()
			delete(n.conns, id)
		}
		n.connsLock.Unlock()

		n.trans.Close()

		n.waitRoutines()

		if n.profile.Enabled() {
			n.profile.Report(profile.DefaultTopN).Log(n.logger)
		}

		n.table.Clear()
	}
}

// ID returns the node id.
func (n *Node) ID() int {
	return n.id
}

// State returns the current state of the node.
func (n *Node) State() State {
	return n.getState()
}

// Table returns the slot table.
func (n *Node) Table() *memory.SlotTable {
	return n.table
}

// Profile returns the fault profile collector.
func (n *Node) Profile() *profile.Collector {
	return n.profile
}

// Stats returns a snapshot of the node's counters.
func (n *Node) Stats() map[string]string {
	n.connsLock.Lock()
	conns := len(n.conns)
	n.connsLock.Unlock()

	s := map[string]string{
		"id":           strconv.Itoa(n.id),
		"state":        n.getState().String(),
		"slots":        strconv.Itoa(n.table.Len()),
		"pages":        strconv.FormatUint(n.table.Pages(), 10),
		"connections":  strconv.Itoa(conns),
		"read_faults":  strconv.FormatUint(n.readFaults.Load(), 10),
		"write_faults": strconv.FormatUint(n.writeFaults.Load(), 10),
		"served":       strconv.FormatUint(n.served.Load(), 10),
		"redirects":    strconv.FormatUint(n.redirects.Load(), 10),
		"uptime":       time.Since(n.start).Round(time.Second).String(),
	}
	return s
}
