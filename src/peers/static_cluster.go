package peers

import "sync"

// StaticCluster is used to provide a static list of hosts.
type StaticCluster struct {
	StaticHosts []string
	l           sync.Mutex
}

// Hosts implements the ClusterStore interface.
func (s *StaticCluster) Hosts() ([]string, error) {
	s.l.Lock()
	hosts := s.StaticHosts
	s.l.Unlock()
	return hosts, nil
}

// SetHosts implements the ClusterStore interface.
func (s *StaticCluster) SetHosts(h []string) error {
	s.l.Lock()
	s.StaticHosts = h
	s.l.Unlock()
	return nil
}
