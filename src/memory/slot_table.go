package memory

import (
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/mosaicnetworks/dsm/src/common"
	"github.com/sirupsen/logrus"
)

// SlotTable is the ordered collection of memory slots of a node. Slots cover
// disjoint ranges and are kept in ascending BaseVFN order. The number of
// slots is bounded by the table capacity and, optionally, the total number of
// pages by a page budget.
type SlotTable struct {
	sync.RWMutex

	slots     []*MemorySlot
	capacity  int
	maxPages  uint64
	usedPages uint64

	mapper          FrameMapper
	deadlockTimeout time.Duration
	logger          *logrus.Entry
}

// NewSlotTable creates an empty SlotTable. maxPages = 0 disables the page
// budget. A nil mapper defaults to the IdentityMapper.
func NewSlotTable(capacity int,
	maxPages int,
	deadlockTimeout time.Duration,
	mapper FrameMapper,
	logger *logrus.Entry,
) *SlotTable {

	if mapper == nil {
		mapper = IdentityMapper{}
	}

	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}

	return &SlotTable{
		slots:           make([]*MemorySlot, 0, capacity),
		capacity:        capacity,
		maxPages:        uint64(maxPages),
		mapper:          mapper,
		deadlockTimeout: deadlockTimeout,
		logger:          logger,
	}
}

// Insert creates a slot covering [start, start+npages) at position pos,
// shifting the slots at and after pos. The slot's page states, reverse maps
// and locks are allocated before the table is modified, so the table is
// left unchanged by any error.
func (t *SlotTable) Insert(pos int, start, npages uint64) (*MemorySlot, error) {
	t.Lock()
	defer t.Unlock()

	key := fmt.Sprintf("[%d,%d]", start, npages)

	if len(t.slots) >= t.capacity {
		t.logger.WithField("slot", key).Error("all slots are used, no more space for new slot")
		return nil, common.NewDSMErr("SlotTable", common.CapacityExceeded, key)
	}

	if npages == 0 || start+npages < start || pos < 0 || pos > len(t.slots) {
		return nil, common.NewDSMErr("SlotTable", common.InvalidArgument, key)
	}

	if pos > 0 {
		prev := t.slots[pos-1]
		if prev.BaseVFN+prev.NPages > start {
			return nil, common.NewDSMErr("SlotTable", common.InvalidArgument, key)
		}
	}
	if pos < len(t.slots) && start+npages > t.slots[pos].BaseVFN {
		return nil, common.NewDSMErr("SlotTable", common.InvalidArgument, key)
	}

	if t.maxPages > 0 && t.usedPages+npages > t.maxPages {
		return nil, common.NewDSMErr("SlotTable", common.OutOfMemory, key)
	}

	slot, err := newMemorySlot(start, npages, t.mapper, t.deadlockTimeout,
		t.logger.WithField("slot", key))
	if err != nil {
		return nil, err
	}

	t.slots = append(t.slots, nil)
	copy(t.slots[pos+1:], t.slots[pos:])
	t.slots[pos] = slot
	t.usedPages += npages

	t.logger.WithFields(logrus.Fields{
		"pos":   pos,
		"slot":  key,
		"slots": len(t.slots),
	}).Debug("inserted slot")

	return slot, nil
}

// Position returns the index at which a slot starting at start must be
// inserted to keep the table ordered.
func (t *SlotTable) Position(start uint64) int {
	t.RLock()
	defer t.RUnlock()

	return sort.Search(len(t.slots), func(i int) bool {
		return t.slots[i].BaseVFN >= start
	})
}

// Add inserts a slot at the position keeping the table ordered.
func (t *SlotTable) Add(start, npages uint64) (*MemorySlot, error) {
	return t.Insert(t.Position(start), start, npages)
}

// Find returns the slot covering vfn.
func (t *SlotTable) Find(vfn uint64) (*MemorySlot, error) {
	t.RLock()
	defer t.RUnlock()

	i := sort.Search(len(t.slots), func(i int) bool {
		s := t.slots[i]
		return s.BaseVFN+s.NPages > vfn
	})

	if i < len(t.slots) && t.slots[i].Contains(vfn) {
		return t.slots[i], nil
	}

	return nil, common.NewDSMErr("SlotTable", common.NotFound, strconv.FormatUint(vfn, 10))
}

// Remove tears down the slot at position pos, dropping its twins and
// copysets.
func (t *SlotTable) Remove(pos int) error {
	t.Lock()
	defer t.Unlock()

	if pos < 0 || pos >= len(t.slots) {
		return common.NewDSMErr("SlotTable", common.InvalidArgument, strconv.Itoa(pos))
	}

	slot := t.slots[pos]
	copy(t.slots[pos:], t.slots[pos+1:])
	t.slots[len(t.slots)-1] = nil
	t.slots = t.slots[:len(t.slots)-1]
	t.usedPages -= slot.NPages

	slot.release()

	return nil
}

// Clear tears down every slot.
func (t *SlotTable) Clear() {
	t.Lock()
	defer t.Unlock()

	for _, s := range t.slots {
		s.release()
	}
	t.slots = t.slots[:0]
	t.usedPages = 0
}

// Len returns the number of slots in use.
func (t *SlotTable) Len() int {
	t.RLock()
	defer t.RUnlock()
	return len(t.slots)
}

// Capacity ...
func (t *SlotTable) Capacity() int {
	return t.capacity
}

// Pages returns the number of pages tracked across all slots.
func (t *SlotTable) Pages() uint64 {
	t.RLock()
	defer t.RUnlock()
	return t.usedPages
}

// Slot returns the slot at position i.
func (t *SlotTable) Slot(i int) *MemorySlot {
	t.RLock()
	defer t.RUnlock()
	return t.slots[i]
}

// Slots returns a snapshot of the slots in order.
func (t *SlotTable) Slots() []*MemorySlot {
	t.RLock()
	defer t.RUnlock()

	res := make([]*MemorySlot, len(t.slots))
	copy(res, t.slots)
	return res
}
