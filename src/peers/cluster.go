package peers

import (
	"strconv"
	"sync"

	"github.com/mosaicnetworks/dsm/src/common"
)

// ClusterStore provides the list of cluster hosts, indexed by node id.
type ClusterStore interface {
	Hosts() ([]string, error)
	SetHosts([]string) error
}

// Cluster resolves node ids to addresses. It is safe for concurrent use.
type Cluster struct {
	sync.RWMutex
	hosts    []string
	basePort int
}

// NewCluster creates a Cluster from a host list and a base port.
func NewCluster(hosts []string, basePort int) *Cluster {
	h := make([]string, len(hosts))
	copy(h, hosts)
	return &Cluster{
		hosts:    h,
		basePort: basePort,
	}
}

// NewClusterFromStore reads the host list from a ClusterStore.
func NewClusterFromStore(store ClusterStore, basePort int) (*Cluster, error) {
	hosts, err := store.Hosts()
	if err != nil {
		return nil, err
	}
	return NewCluster(hosts, basePort), nil
}

// Resolve returns the address of node id. It fails with an InvalidArgument
// error when the id has no configured host.
func (c *Cluster) Resolve(id int) (Address, error) {
	c.RLock()
	defer c.RUnlock()

	if id < 0 || id >= len(c.hosts) || c.hosts[id] == "" {
		return Address{}, common.NewDSMErr("Cluster", common.InvalidArgument, strconv.Itoa(id))
	}

	return NewAddress(c.hosts[id], c.basePort+id), nil
}

// Len returns the number of ids in the host list, configured or not.
func (c *Cluster) Len() int {
	c.RLock()
	defer c.RUnlock()
	return len(c.hosts)
}

// IDs returns the configured node ids in ascending order.
func (c *Cluster) IDs() []int {
	c.RLock()
	defer c.RUnlock()

	ids := make([]int, 0, len(c.hosts))
	for id, h := range c.hosts {
		if h != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// BasePort ...
func (c *Cluster) BasePort() int {
	return c.basePort
}
