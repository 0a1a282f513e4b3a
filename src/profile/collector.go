package profile

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/mosaicnetworks/dsm/src/memory"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultTopN is the number of pages listed in a report by default.
	DefaultTopN = 10

	// MaxTopN bounds the number of pages listed in a report.
	MaxTopN = 1024
)

// Collector aggregates fault statistics over the pages of a slot table.
//
// Trace may run concurrently with itself; Report and Reset exclude every
// Trace.
type Collector struct {
	lock    sync.RWMutex
	enabled bool
	table   *memory.SlotTable
	logger  *logrus.Entry

	faults  atomic.Uint64
	bytes   atomic.Uint64
	latency atomic.Int64
}

// NewCollector creates a Collector over table. A disabled collector ignores
// traces and reports nothing.
func NewCollector(table *memory.SlotTable, enabled bool, logger *logrus.Entry) *Collector {
	return &Collector{
		enabled: enabled,
		table:   table,
		logger:  logger,
	}
}

// Enabled ...
func (c *Collector) Enabled() bool {
	return c.enabled
}

// Trace records one fault on page vfn of slot.
func (c *Collector) Trace(slot *memory.MemorySlot,
	vfn uint64,
	write bool,
	respLen int,
	latency time.Duration,
	callsite []uint64,
) {
	if !c.enabled || slot == nil || !slot.Contains(vfn) {
		return
	}

	c.lock.RLock()
	defer c.lock.RUnlock()

	st := slot.State(vfn)
	st.CountFault(write)
	st.RecordCallsite(callsite)

	c.faults.Add(1)
	c.bytes.Add(uint64(respLen))
	c.latency.Add(int64(latency))
}

// Report returns the topN most faulted pages, most faulted first, along with
// the aggregate figures since the last Reset. topN is capped at MaxTopN.
func (c *Collector) Report(topN int) Report {
	if !c.enabled {
		return Report{}
	}
	if topN <= 0 {
		topN = DefaultTopN
	}
	if topN > MaxTopN {
		topN = MaxTopN
	}

	c.lock.Lock()
	defer c.lock.Unlock()

	rep := Report{
		Pages:       make([]PageReport, 0, topN),
		TotalFaults: c.faults.Load(),
	}
	if rep.TotalFaults > 0 {
		rep.AverageBytes = c.bytes.Load() / rep.TotalFaults
		rep.AverageLatency = time.Duration(c.latency.Load() / int64(rep.TotalFaults))
	}

	for _, slot := range c.table.Slots() {
		for i := uint64(0); i < slot.NPages; i++ {
			st := slot.StateAt(i)
			read, write, total := st.Faults()
			if total == 0 {
				continue
			}
			rep.UniquePages++

			// bounded insertion, the list never grows past topN
			n := len(rep.Pages)
			if n == topN && total <= rep.Pages[n-1].Faults {
				continue
			}
			vfn := slot.BaseVFN + i
			entry := PageReport{
				VFN:       vfn,
				GFN:       slot.GFN(vfn),
				Reads:     read,
				Writes:    write,
				Faults:    total,
				Callsites: st.Callsites(),
			}
			pos := n
			for pos > 0 && rep.Pages[pos-1].Faults < total {
				pos--
			}
			if n < topN {
				rep.Pages = append(rep.Pages, PageReport{})
			}
			copy(rep.Pages[pos+1:], rep.Pages[pos:])
			rep.Pages[pos] = entry
		}
	}

	return rep
}

// Reset zeroes all counters and forgets recorded call sites.
func (c *Collector) Reset() {
	if !c.enabled {
		return
	}

	c.lock.Lock()
	defer c.lock.Unlock()

	for _, slot := range c.table.Slots() {
		for i := uint64(0); i < slot.NPages; i++ {
			slot.StateAt(i).ResetProfile()
		}
	}
	c.faults.Store(0)
	c.bytes.Store(0)
	c.latency.Store(0)

	c.logger.Debug("profile reset")
}
