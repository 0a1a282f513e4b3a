package node

import (
	"strconv"
	"sync"

	"github.com/mosaicnetworks/dsm/src/common"
)

// GuestMemory gives access to the guest frames backing the shared pages.
type GuestMemory interface {
	// ReadPage copies frame gfn into buf, which holds one page.
	ReadPage(gfn uint64, buf []byte) error

	// WritePage overwrites frame gfn with data, which holds one page.
	WritePage(gfn uint64, data []byte) error
}

// InmemGuest is a GuestMemory backed by a byte slice.
type InmemGuest struct {
	sync.RWMutex
	mem    []byte
	frames uint64
}

// NewInmemGuest allocates a zeroed guest of frames pages.
func NewInmemGuest(frames int) *InmemGuest {
	return &InmemGuest{
		mem:    make([]byte, frames*common.PageSize),
		frames: uint64(frames),
	}
}

// ReadPage implements the GuestMemory interface.
func (g *InmemGuest) ReadPage(gfn uint64, buf []byte) error {
	if err := g.check(gfn, buf); err != nil {
		return err
	}
	g.RLock()
	defer g.RUnlock()
	copy(buf, g.mem[gfn*common.PageSize:])
	return nil
}

// WritePage implements the GuestMemory interface.
func (g *InmemGuest) WritePage(gfn uint64, data []byte) error {
	if err := g.check(gfn, data); err != nil {
		return err
	}
	g.Lock()
	defer g.Unlock()
	copy(g.mem[gfn*common.PageSize:(gfn+1)*common.PageSize], data)
	return nil
}

// Frames returns the number of frames.
func (g *InmemGuest) Frames() int {
	return int(g.frames)
}

func (g *InmemGuest) check(gfn uint64, buf []byte) error {
	if gfn >= g.frames {
		return common.NewDSMErr("InmemGuest", common.InvalidArgument, strconv.FormatUint(gfn, 10))
	}
	if len(buf) != common.PageSize {
		return common.NewDSMErr("InmemGuest", common.InvalidArgument, "buffer size")
	}
	return nil
}
