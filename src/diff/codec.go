package diff

import (
	"fmt"
	"sync"

	"github.com/mosaicnetworks/dsm/src/common"
	"github.com/mosaicnetworks/dsm/src/memory"
	"github.com/sirupsen/logrus"
)

var pagePool = sync.Pool{
	New: func() interface{} {
		return make([]byte, common.PageSize)
	},
}

// Codec encodes and decodes page payloads against twins.
type Codec struct {
	enabled       bool
	twinThreshold uint32
	logger        *logrus.Entry
}

// NewCodec creates a Codec. When enabled is false, Encode always returns
// full pages and SetTwinConditionally never keeps twins. twinThreshold is the
// number of faults a page must exceed before a twin is kept for it; zero or
// less keeps twins for every page.
func NewCodec(enabled bool, twinThreshold int, logger *logrus.Entry) *Codec {
	if twinThreshold < 0 {
		twinThreshold = 0
	}
	return &Codec{
		enabled:       enabled,
		twinThreshold: uint32(twinThreshold),
		logger:        logger,
	}
}

// Encode returns the payload to send to a requester holding
// requesterVersion of the page. It is a delta against twin when the twin
// matches that version and the delta is smaller than a page; otherwise it is
// page itself.
func (c *Codec) Encode(twin *memory.Twin, page []byte, requesterVersion uint32) []byte {
	if !c.enabled || twin == nil || twin.Version != requesterVersion {
		return page
	}

	buf := pagePool.Get().([]byte)
	defer pagePool.Put(buf)

	// dst is one byte short of a page so that a delta never has the length
	// of a literal page
	n, err := EncodeBuffer(twin.Data, page, buf[:common.PageSize-1])
	if err != nil {
		if err != ErrOverflow {
			c.logger.WithError(err).Warn("diff encoding failed, sending full page")
		}
		return page
	}

	delta := make([]byte, n)
	copy(delta, buf[:n])
	return delta
}

// Decode rebuilds a page from payload into fallback, which must hold the
// requester's own cached copy of the page. A payload of exactly one page is
// the literal content. Anything else is a delta to apply to fallback. A
// corrupt delta leaves fallback untouched and must abort the operation.
func (c *Codec) Decode(payload []byte, fallback []byte) error {
	if len(fallback) != common.PageSize {
		return fmt.Errorf("decode: fallback is %d bytes: %w", len(fallback), ErrSizeMismatch)
	}

	if len(payload) == common.PageSize {
		copy(fallback, payload)
		return nil
	}

	if len(payload) > common.PageSize {
		return fmt.Errorf("decode: payload of %d bytes: %w", len(payload), ErrCorrupt)
	}

	buf := pagePool.Get().([]byte)
	defer pagePool.Put(buf)

	copy(buf, fallback)
	if _, err := DecodeBuffer(payload, buf); err != nil {
		return fmt.Errorf("decode: payload of %d bytes: %w", len(payload), err)
	}
	copy(fallback, buf)

	return nil
}

// SetTwinConditionally stores content as the twin of the page, stamped with
// version. Cold pages, whose fault count does not exceed the twin threshold,
// are skipped. When isOwner is set, content is first refreshed through reload
// since the owner's page may have changed since it was last read. It reports
// whether a twin was stored.
func (c *Codec) SetTwinConditionally(st *memory.PageState,
	version uint32,
	content []byte,
	isOwner bool,
	reload func([]byte) error,
) bool {

	if !c.enabled {
		return false
	}

	if c.twinThreshold > 0 {
		read, write, _ := st.Faults()
		if read+write <= c.twinThreshold {
			return false
		}
	}

	if isOwner && reload != nil {
		if err := reload(content); err != nil {
			c.logger.WithError(err).Warn("twin reload failed")
			return false
		}
	}

	st.SetTwin(content, version)
	return true
}
