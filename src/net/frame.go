package net

import (
	"encoding/binary"
	"io"

	"github.com/mosaicnetworks/dsm/src/common"
)

const (
	// ResponseBit is toggled in the transaction id of replies.
	ResponseBit uint16 = 0x8000

	// AnyTx is the wildcard transaction id accepted by Receive.
	AnyTx uint16 = 0xFFFF

	// maxTxID is the largest id handed out by NextTxID. 0x7FFF is reserved
	// since its reply would collide with AnyTx.
	maxTxID uint16 = 0x7FFE

	extentSize = 16

	// HeaderSize is the size of a frame header on the wire.
	HeaderSize = extentSize + 2

	// MaxFrameSize is the size of the largest frame on the wire.
	MaxFrameSize = HeaderSize + common.PageSize
)

// TxExtent describes the transaction a frame belongs to.
type TxExtent struct {
	TxID    uint16
	Op      uint8
	Status  uint8
	Version uint32
	Page    uint64
}

// IsResponse reports whether the extent belongs to a reply.
func (e TxExtent) IsResponse() bool {
	return e.TxID&ResponseBit != 0
}

// ResponseID returns the id carried by the reply to transaction txid.
func ResponseID(txid uint16) uint16 {
	return txid ^ ResponseBit
}

// Frame is a transaction extent with its payload.
type Frame struct {
	TxExtent
	Payload []byte

	seq uint64
}

func putHeader(buf []byte, ext TxExtent, length uint16) {
	binary.BigEndian.PutUint16(buf[0:], ext.TxID)
	buf[2] = ext.Op
	buf[3] = ext.Status
	binary.BigEndian.PutUint32(buf[4:], ext.Version)
	binary.BigEndian.PutUint64(buf[8:], ext.Page)
	binary.BigEndian.PutUint16(buf[16:], length)
}

func getHeader(buf []byte) (TxExtent, uint16) {
	ext := TxExtent{
		TxID:    binary.BigEndian.Uint16(buf[0:]),
		Op:      buf[2],
		Status:  buf[3],
		Version: binary.BigEndian.Uint32(buf[4:]),
		Page:    binary.BigEndian.Uint64(buf[8:]),
	}
	return ext, binary.BigEndian.Uint16(buf[16:])
}

// checkFrame validates an outgoing frame.
func checkFrame(ext TxExtent, payload []byte) error {
	if len(payload) > common.PageSize {
		return ErrFrameTooLarge
	}
	if ext.TxID == AnyTx {
		return ErrInvalidTxID
	}
	return nil
}

// encodeFrame lays out header and payload in buf, which must hold at least
// HeaderSize+len(payload) bytes, and returns the frame length.
func encodeFrame(buf []byte, ext TxExtent, payload []byte) int {
	putHeader(buf, ext, uint16(len(payload)))
	copy(buf[HeaderSize:], payload)
	return HeaderSize + len(payload)
}

// readFrame reads one frame from r. A declared length above one page is
// fatal: the stream cannot be trusted past it.
func readFrame(r io.Reader) (*Frame, error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}

	ext, length := getHeader(hdr[:])
	if int(length) > common.PageSize {
		return nil, ErrFrameTooLarge
	}

	f := &Frame{
		TxExtent: ext,
		Payload:  make([]byte, length),
	}
	if _, err := io.ReadFull(r, f.Payload); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return f, nil
}
