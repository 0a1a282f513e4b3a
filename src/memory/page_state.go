package memory

import (
	"sync"
	"sync/atomic"
)

const (
	// FingerprintSlots is the number of distinct call sites remembered per
	// page.
	FingerprintSlots = 4
	// FingerprintDepth is the number of frames kept for each call site.
	FingerprintDepth = 3
)

// Access is the right a node currently holds on a page.
type Access uint8

const (
	// Invalid means the local copy must not be used.
	Invalid Access = iota
	// Shared means the local copy is a read-only replica.
	Shared
	// Owned means this node is the owner with write access.
	Owned
)

// String ...
func (a Access) String() string {
	switch a {
	case Invalid:
		return "Invalid"
	case Shared:
		return "Shared"
	case Owned:
		return "Owned"
	default:
		return "Unknown"
	}
}

// Twin is the full content of a page as it was last sent, along with the
// version that content represents.
type Twin struct {
	Data    []byte
	Version uint32
}

type fingerprint struct {
	key    atomic.Uint64
	frames [FingerprintDepth - 1]uint64
}

// PageState is the coherence metadata of a single page.
//
// version, owner, access, twin and policy are only read or written with the
// page's coherence lock held. Fault counters are atomic statistics and may be
// updated without it.
type PageState struct {
	lock   sync.Mutex
	holder atomic.Uintptr

	version uint32
	owner   int
	access  Access
	policy  byte
	twin    *Twin

	// owner+1 announced by an invalidation that found the lock taken
	invalidated atomic.Int32

	readFaults  atomic.Uint32
	writeFaults atomic.Uint32
	faults      atomic.Uint32

	fingerprints [FingerprintSlots]fingerprint
}

// Version ...
func (p *PageState) Version() uint32 {
	return p.version
}

// SetVersion sets the version. Versions never go backwards; an older value
// is ignored unless the counter wrapped around.
func (p *PageState) SetVersion(v uint32) {
	if int32(v-p.version) >= 0 {
		p.version = v
	}
}

// BumpVersion increments the version and returns the new value.
func (p *PageState) BumpVersion() uint32 {
	p.version++
	return p.version
}

// Owner returns the probable owner of the page.
func (p *PageState) Owner() int {
	return p.owner
}

// SetOwner ...
func (p *PageState) SetOwner(id int) {
	p.owner = id
}

// Access ...
func (p *PageState) Access() Access {
	return p.access
}

// SetAccess ...
func (p *PageState) SetAccess(a Access) {
	p.access = a
}

// Policy returns the opaque placement policy tag.
func (p *PageState) Policy() byte {
	return p.policy
}

// SetPolicy ...
func (p *PageState) SetPolicy(tag byte) {
	p.policy = tag
}

// Twin returns the current twin or nil.
func (p *PageState) Twin() *Twin {
	return p.twin
}

// SetTwin copies data into the page twin, allocating it on first use, and
// stamps it with version.
func (p *PageState) SetTwin(data []byte, version uint32) {
	if p.twin == nil {
		p.twin = &Twin{Data: make([]byte, len(data))}
	}
	copy(p.twin.Data, data)
	p.twin.Version = version
}

// DropTwin releases the twin buffer.
func (p *PageState) DropTwin() {
	p.twin = nil
}

// MarkInvalidated records an invalidation that could not be applied because
// the page lock was held. newOwner is the node that requested it. It is safe
// to call without the lock.
func (p *PageState) MarkInvalidated(newOwner int) {
	p.invalidated.Store(int32(newOwner) + 1)
}

// TakeInvalidated returns and clears the pending invalidation, if any.
func (p *PageState) TakeInvalidated() (newOwner int, ok bool) {
	v := p.invalidated.Swap(0)
	if v == 0 {
		return 0, false
	}
	return int(v - 1), true
}

// CountFault records one read or write fault on the page.
func (p *PageState) CountFault(write bool) {
	if write {
		p.writeFaults.Add(1)
	} else {
		p.readFaults.Add(1)
	}
	p.faults.Add(1)
}

// Faults returns the read, write and total fault counters.
func (p *PageState) Faults() (read, write, total uint32) {
	return p.readFaults.Load(), p.writeFaults.Load(), p.faults.Load()
}

// RecordCallsite remembers trace as a call site of a fault on this page. The
// first frame identifies the call site. Slots are claimed first-come and
// never evicted; it reports whether a new slot was used.
//
// Callsites must not run concurrently with RecordCallsite.
func (p *PageState) RecordCallsite(trace []uint64) bool {
	if len(trace) == 0 || trace[0] == 0 {
		return false
	}
	key := trace[0]

	for i := range p.fingerprints {
		if p.fingerprints[i].key.Load() == key {
			return false
		}
	}

	for i := range p.fingerprints {
		fp := &p.fingerprints[i]
		if fp.key.CompareAndSwap(0, key) {
			copy(fp.frames[:], trace[1:])
			return true
		}
		if fp.key.Load() == key {
			return false
		}
	}
	return false
}

// Callsites returns the recorded call sites, in the order they were first
// seen.
func (p *PageState) Callsites() [][]uint64 {
	res := [][]uint64{}
	for i := range p.fingerprints {
		fp := &p.fingerprints[i]
		key := fp.key.Load()
		if key == 0 {
			break
		}
		trace := make([]uint64, 0, FingerprintDepth)
		trace = append(trace, key)
		trace = append(trace, fp.frames[:]...)
		res = append(res, trace)
	}
	return res
}

// ResetProfile zeroes fault counters and forgets call sites.
func (p *PageState) ResetProfile() {
	p.readFaults.Store(0)
	p.writeFaults.Store(0)
	p.faults.Store(0)
	for i := range p.fingerprints {
		p.fingerprints[i].key.Store(0)
		p.fingerprints[i].frames = [FingerprintDepth - 1]uint64{}
	}
}
