package peers

import (
	"net"
	"strconv"
)

// Address is the connectable location of a node.
type Address struct {
	Host string
	Port int
}

// NewAddress ...
func NewAddress(host string, port int) Address {
	return Address{Host: host, Port: port}
}

// String returns host:port.
func (a Address) String() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}
