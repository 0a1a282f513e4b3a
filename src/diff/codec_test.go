package diff

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"

	"github.com/mosaicnetworks/dsm/src/common"
	"github.com/mosaicnetworks/dsm/src/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCodec(t *testing.T, threshold int) *Codec {
	return NewCodec(true, threshold, common.NewTestEntry(t, common.TestLogLevel))
}

func TestCodecRoundTripSameVersion(t *testing.T) {
	r := rand.New(rand.NewSource(3))
	codec := newTestCodec(t, 0)

	for v := uint32(1); v < 20; v++ {
		var st memory.PageState
		content := randomPage(r)

		require.True(t, codec.SetTwinConditionally(&st, v, content, false, nil))

		payload := codec.Encode(st.Twin(), content, v)
		assert.Less(t, len(payload), common.PageSize, "unchanged page should be a delta")

		// the requester holds version v, i.e. the twin content
		cached := make([]byte, common.PageSize)
		copy(cached, content)
		require.NoError(t, codec.Decode(payload, cached))
		assert.True(t, bytes.Equal(cached, content))
	}
}

func TestCodecDeltaAfterWrite(t *testing.T) {
	r := rand.New(rand.NewSource(4))
	codec := newTestCodec(t, 0)

	var st memory.PageState
	base := randomPage(r)
	codec.SetTwinConditionally(&st, 5, base, false, nil)

	current := mutate(r, base, 8)
	payload := codec.Encode(st.Twin(), current, 5)
	require.Less(t, len(payload), common.PageSize)

	cached := make([]byte, common.PageSize)
	copy(cached, base)
	require.NoError(t, codec.Decode(payload, cached))
	assert.Equal(t, current, cached)
}

func TestCodecFullPage(t *testing.T) {
	r := rand.New(rand.NewSource(5))
	codec := newTestCodec(t, 0)
	page := randomPage(r)

	// no twin
	assert.Len(t, codec.Encode(nil, page, 0), common.PageSize)

	// version mismatch
	var st memory.PageState
	codec.SetTwinConditionally(&st, 5, page, false, nil)
	assert.Len(t, codec.Encode(st.Twin(), page, 3), common.PageSize)
	assert.Len(t, codec.Encode(st.Twin(), page, 6), common.PageSize)

	// delta would overflow
	other := make([]byte, common.PageSize)
	for i := range other {
		other[i] = page[i] + 1
	}
	assert.Len(t, codec.Encode(st.Twin(), other, 5), common.PageSize)

	// diffing disabled
	off := NewCodec(false, 0, common.NewTestEntry(t, common.TestLogLevel))
	assert.Len(t, off.Encode(st.Twin(), page, 5), common.PageSize)
	assert.False(t, off.SetTwinConditionally(&st, 6, page, false, nil))
}

func TestCodecDecodeLiteral(t *testing.T) {
	r := rand.New(rand.NewSource(6))
	codec := newTestCodec(t, 0)

	page := randomPage(r)
	cached := make([]byte, common.PageSize)
	require.NoError(t, codec.Decode(page, cached))
	assert.Equal(t, page, cached)
}

func TestCodecDecodeEmpty(t *testing.T) {
	r := rand.New(rand.NewSource(8))
	codec := newTestCodec(t, 0)

	page := randomPage(r)
	cached := make([]byte, common.PageSize)
	copy(cached, page)

	require.NoError(t, codec.Decode(nil, cached))
	assert.Equal(t, page, cached)
}

func TestCodecDecodeCorrupt(t *testing.T) {
	r := rand.New(rand.NewSource(9))
	codec := newTestCodec(t, 0)

	page := randomPage(r)
	cached := make([]byte, common.PageSize)
	copy(cached, page)

	// a valid first record followed by garbage
	err := codec.Decode([]byte{0, 2, 0xAA, 0xBB, 0x10, 0x00}, cached)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCorrupt))
	assert.Equal(t, page, cached, "fallback must be untouched on failure")

	err = codec.Decode(make([]byte, common.PageSize+1), cached)
	assert.True(t, errors.Is(err, ErrCorrupt))

	err = codec.Decode(nil, make([]byte, 10))
	assert.True(t, errors.Is(err, ErrSizeMismatch))
}

func TestCodecTwinThreshold(t *testing.T) {
	codec := newTestCodec(t, 20)
	page := make([]byte, common.PageSize)

	var st memory.PageState
	for i := 0; i < 20; i++ {
		st.CountFault(i%2 == 0)
	}
	assert.False(t, codec.SetTwinConditionally(&st, 1, page, false, nil), "cold page")
	assert.Nil(t, st.Twin())

	st.CountFault(true)
	assert.True(t, codec.SetTwinConditionally(&st, 1, page, false, nil))
	assert.NotNil(t, st.Twin())
}

func TestCodecTwinOwnerReload(t *testing.T) {
	codec := newTestCodec(t, 0)

	var st memory.PageState
	content := make([]byte, common.PageSize)

	reloaded := false
	ok := codec.SetTwinConditionally(&st, 2, content, true, func(buf []byte) error {
		reloaded = true
		buf[0] = 0x42
		return nil
	})

	require.True(t, ok)
	assert.True(t, reloaded)
	assert.Equal(t, byte(0x42), st.Twin().Data[0])
	assert.Equal(t, uint32(2), st.Twin().Version)

	ok = codec.SetTwinConditionally(&st, 3, content, true, func(buf []byte) error {
		return errors.New("boom")
	})
	assert.False(t, ok)
	assert.Equal(t, uint32(2), st.Twin().Version, "failed reload keeps the old twin")
}
