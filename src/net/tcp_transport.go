package net

import (
	"time"

	"github.com/sirupsen/logrus"
)

// NewTCPTransport returns a NetworkTransport that is built on top of
// a TCP streaming transport layer, with log output going to the supplied Logger
func NewTCPTransport(
	timeout time.Duration,
	retries int,
	logger *logrus.Entry,
) *NetworkTransport {
	return NewNetworkTransport(&TCPStreamLayer{}, timeout, retries, logger)
}
