package diff

import (
	"encoding/binary"
	"errors"
)

var (
	// ErrOverflow is returned by EncodeBuffer when the delta does not fit in
	// the destination buffer.
	ErrOverflow = errors.New("xbzrle: delta overflows destination buffer")

	// ErrCorrupt is returned when a delta cannot be applied.
	ErrCorrupt = errors.New("xbzrle: corrupt delta")

	// ErrSizeMismatch is returned when the old and new buffers differ in
	// length.
	ErrSizeMismatch = errors.New("xbzrle: buffers differ in size")
)

// EncodeBuffer writes into dst the delta that turns old into new and returns
// its length.
func EncodeBuffer(old, new, dst []byte) (int, error) {
	if len(old) != len(new) {
		return -1, ErrSizeMismatch
	}

	var scratch [2 * binary.MaxVarintLen64]byte

	n := len(new)
	i, d := 0, 0

	for i < n {
		zrun := 0
		for i < n && old[i] == new[i] {
			zrun++
			i++
		}

		// unchanged tail
		if i == n {
			break
		}

		start := i
		for i < n && old[i] != new[i] {
			i++
		}
		nzrun := i - start

		hdr := binary.PutUvarint(scratch[:], uint64(zrun))
		hdr += binary.PutUvarint(scratch[hdr:], uint64(nzrun))

		if d+hdr+nzrun > len(dst) {
			return -1, ErrOverflow
		}

		d += copy(dst[d:], scratch[:hdr])
		d += copy(dst[d:], new[start:i])
	}

	return d, nil
}

// DecodeBuffer applies the delta src to dst in place and returns the offset
// just past the last byte it wrote. dst is left partially updated when an
// error is returned.
func DecodeBuffer(src, dst []byte) (int, error) {
	i, d := 0, 0

	for i < len(src) {
		zrun, k := binary.Uvarint(src[i:])
		if k <= 0 {
			return -1, ErrCorrupt
		}
		i += k

		if zrun > uint64(len(dst)-d) {
			return -1, ErrCorrupt
		}
		d += int(zrun)

		nzrun, k := binary.Uvarint(src[i:])
		if k <= 0 || nzrun == 0 {
			return -1, ErrCorrupt
		}
		i += k

		if nzrun > uint64(len(dst)-d) || nzrun > uint64(len(src)-i) {
			return -1, ErrCorrupt
		}

		d += copy(dst[d:], src[i:i+int(nzrun)])
		i += int(nzrun)
	}

	return d, nil
}
