package profile

import (
	"bytes"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/ugorji/go/codec"
)

// PageReport holds the counters of one page.
type PageReport struct {
	VFN       uint64
	GFN       uint64
	Reads     uint32
	Writes    uint32
	Faults    uint32
	Callsites [][]uint64
}

// Report is a snapshot of the collected statistics.
type Report struct {
	Pages          []PageReport
	UniquePages    int
	TotalFaults    uint64
	AverageBytes   uint64
	AverageLatency time.Duration
}

// Log writes the report to logger, one entry per page.
func (r Report) Log(logger *logrus.Entry) {
	for i, p := range r.Pages {
		sites := make([]string, len(p.Callsites))
		for j, cs := range p.Callsites {
			sites[j] = fmt.Sprintf("%#x", cs)
		}
		logger.WithFields(logrus.Fields{
			"rank":      i + 1,
			"vfn":       fmt.Sprintf("%#x", p.VFN),
			"gfn":       fmt.Sprintf("%#x", p.GFN),
			"reads":     p.Reads,
			"writes":    p.Writes,
			"faults":    p.Faults,
			"callsites": sites,
		}).Info("hot page")
	}

	logger.WithFields(logrus.Fields{
		"unique_pages":    r.UniquePages,
		"total_faults":    r.TotalFaults,
		"average_bytes":   r.AverageBytes,
		"average_latency": r.AverageLatency,
	}).Info("fault profile")
}

// Marshal - json encoding of Report
func (r *Report) Marshal() ([]byte, error) {
	b := new(bytes.Buffer)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	enc := codec.NewEncoder(b, jh)

	if err := enc.Encode(r); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// Unmarshal ...
func (r *Report) Unmarshal(data []byte) error {
	b := bytes.NewBuffer(data)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	dec := codec.NewDecoder(b, jh)

	return dec.Decode(r)
}
