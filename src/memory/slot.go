package memory

import (
	"fmt"
	"sync"
	"time"

	"github.com/mosaicnetworks/dsm/src/common"
	"github.com/sirupsen/logrus"
)

// FrameMapper translates a slot's virtual frame numbers into guest frame
// numbers. The translation is owned by the hypervisor and only used for
// diagnostics and reporting.
type FrameMapper interface {
	VFNToGFN(slot *MemorySlot, vfn uint64) (gfn uint64, smm bool)
}

// IdentityMapper maps every vfn to the gfn of the same value.
type IdentityMapper struct{}

// VFNToGFN implements the FrameMapper interface.
func (IdentityMapper) VFNToGFN(slot *MemorySlot, vfn uint64) (uint64, bool) {
	return vfn, false
}

// MemorySlot is a contiguous run of pages sharing one PageState array.
type MemorySlot struct {
	BaseVFN uint64
	NPages  uint64

	states []PageState

	rmapLock   sync.Mutex
	rmap       []NodeSet
	backupRmap []NodeSet

	mapper          FrameMapper
	deadlockTimeout time.Duration
	logger          *logrus.Entry
}

// newMemorySlot allocates the page states and reverse maps of a slot. A
// failed allocation is reported as OutOfMemory and leaves nothing behind.
func newMemorySlot(start, npages uint64,
	mapper FrameMapper,
	deadlockTimeout time.Duration,
	logger *logrus.Entry,
) (slot *MemorySlot, err error) {

	defer func() {
		if r := recover(); r != nil {
			slot = nil
			err = common.NewDSMErr("MemorySlot", common.OutOfMemory,
				fmt.Sprintf("[%d,%d]: %v", start, npages, r))
		}
	}()

	slot = &MemorySlot{
		BaseVFN:         start,
		NPages:          npages,
		states:          make([]PageState, npages),
		rmap:            make([]NodeSet, npages),
		backupRmap:      make([]NodeSet, npages),
		mapper:          mapper,
		deadlockTimeout: deadlockTimeout,
		logger:          logger,
	}

	return slot, nil
}

// Contains reports whether vfn falls inside the slot.
func (s *MemorySlot) Contains(vfn uint64) bool {
	return vfn >= s.BaseVFN && vfn-s.BaseVFN < s.NPages
}

// Index returns the position of vfn in the slot's page arrays. vfn must be
// contained in the slot.
func (s *MemorySlot) Index(vfn uint64) uint64 {
	return vfn - s.BaseVFN
}

// State returns the PageState of vfn.
func (s *MemorySlot) State(vfn uint64) *PageState {
	return &s.states[s.Index(vfn)]
}

// StateAt returns the PageState of the page at index i.
func (s *MemorySlot) StateAt(i uint64) *PageState {
	return &s.states[i]
}

// GFN translates vfn into a guest frame number.
func (s *MemorySlot) GFN(vfn uint64) uint64 {
	gfn, _ := s.mapper.VFNToGFN(s, vfn)
	return gfn
}

// SMM reports whether vfn belongs to the SMM address space.
func (s *MemorySlot) SMM(vfn uint64) bool {
	_, smm := s.mapper.VFNToGFN(s, vfn)
	return smm
}

// AddCopy records that node id holds a copy of vfn.
func (s *MemorySlot) AddCopy(vfn uint64, id int) {
	s.rmapLock.Lock()
	defer s.rmapLock.Unlock()
	i := s.Index(vfn)
	s.rmap[i] = s.rmap[i].Add(id)
}

// RemoveCopy ...
func (s *MemorySlot) RemoveCopy(vfn uint64, id int) {
	s.rmapLock.Lock()
	defer s.rmapLock.Unlock()
	i := s.Index(vfn)
	s.rmap[i] = s.rmap[i].Remove(id)
}

// Copies returns the set of nodes holding a copy of vfn.
func (s *MemorySlot) Copies(vfn uint64) NodeSet {
	s.rmapLock.Lock()
	defer s.rmapLock.Unlock()
	return s.rmap[s.Index(vfn)]
}

// SetCopies replaces the copyset of vfn.
func (s *MemorySlot) SetCopies(vfn uint64, set NodeSet) {
	s.rmapLock.Lock()
	defer s.rmapLock.Unlock()
	s.rmap[s.Index(vfn)] = set
}

// BackupCopies snapshots the copyset of vfn into the backup map.
func (s *MemorySlot) BackupCopies(vfn uint64) {
	s.rmapLock.Lock()
	defer s.rmapLock.Unlock()
	i := s.Index(vfn)
	s.backupRmap[i] = s.rmap[i]
}

// RestoreCopies puts back the copyset saved by BackupCopies.
func (s *MemorySlot) RestoreCopies(vfn uint64) {
	s.rmapLock.Lock()
	defer s.rmapLock.Unlock()
	i := s.Index(vfn)
	s.rmap[i] = s.backupRmap[i]
}

// release drops twins and copysets. The slot must not be used afterwards.
func (s *MemorySlot) release() {
	for i := range s.states {
		s.states[i].DropTwin()
	}
	s.rmapLock.Lock()
	s.rmap = nil
	s.backupRmap = nil
	s.rmapLock.Unlock()
}
