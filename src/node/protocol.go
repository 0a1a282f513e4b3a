package node

import (
	"encoding/binary"
	"errors"
)

// Operations carried in the Op field of a transaction extent.
const (
	OpRead uint8 = iota + 1
	OpWrite
	OpInvalidate
)

// Statuses carried in the Status field of a reply.
const (
	StatusOK uint8 = iota
	// StatusRedirect means the node is not the owner. The payload holds its
	// probable owner.
	StatusRedirect
	// StatusAck acknowledges an invalidation.
	StatusAck
	// StatusRetry means the owner could not complete the request.
	StatusRetry
	// StatusBadRequest means the request named an unknown page or
	// operation.
	StatusBadRequest
)

var (
	// ErrTooManyRedirects is returned when a fault keeps being redirected.
	ErrTooManyRedirects = errors.New("too many redirects")

	// ErrRequestFailed is returned when the owner cannot serve a request.
	ErrRequestFailed = errors.New("request failed")

	// ErrUnexpectedReply is returned when a reply does not fit the request.
	ErrUnexpectedReply = errors.New("unexpected reply")
)

func opName(op uint8) string {
	switch op {
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	case OpInvalidate:
		return "invalidate"
	default:
		return "unknown"
	}
}

// encodeNodeID lays out a node id as the payload of redirects and
// invalidations.
func encodeNodeID(id int) []byte {
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, uint16(id))
	return buf
}

func decodeNodeID(payload []byte) (int, error) {
	if len(payload) != 2 {
		return 0, ErrUnexpectedReply
	}
	return int(binary.BigEndian.Uint16(payload)), nil
}
