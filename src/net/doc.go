// Package net implements the transactional transport the coherence protocol
// rides on.
//
// A connection carries frames in both directions. Each frame starts with a
// fixed header made of a transaction extent and a 16-bit payload length,
// followed by at most one page of payload:
//
//  +--------+----+--------+---------+------+--------+-----------------+
//  | txid   | op | status | version | page | length | payload ...     |
//  | 2      | 1  | 1      | 4       | 8    | 2      | 0..PageSize     |
//  +--------+----+--------+---------+------+--------+-----------------+
//
// All fields are big-endian. The transaction id correlates a request with
// its response: a reply carries the request's id with the response bit
// (0x8000) toggled, so requests and responses can share one connection.
//
// Many goroutines may wait on the same connection at once, each for its own
// transaction id, or for any id with the AnyTx wildcard. Frames are
// demultiplexed by a per-connection table mapping transaction ids to either a
// blocked receiver or the frames nobody asked for yet, so a frame that
// arrives before its receiver is buffered rather than lost, whatever the
// arrival order on the wire.
//
// There are two implementations of the Transport interface:
//
// - TCP: NetworkTransport over a StreamLayer, one reader goroutine per
// connection.
//
// - Inmem: in-memory transport used for testing. Frames are handed over
// synchronously, and delivery can be held and released in a chosen order to
// reproduce interleavings deterministically.
package net
