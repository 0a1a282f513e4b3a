package peers

import (
	"bytes"
	"io/ioutil"
	"path/filepath"
	"sync"

	"github.com/ugorji/go/codec"
)

const jsonClusterPath = "cluster.json"

// JSONCluster is used to provide the cluster host list from a JSON file on
// disk. This allows human operators to manipulate the file.
type JSONCluster struct {
	l    sync.Mutex
	path string
}

// NewJSONCluster creates a new JSONCluster store.
func NewJSONCluster(base string) *JSONCluster {
	path := filepath.Join(base, jsonClusterPath)
	store := &JSONCluster{
		path: path,
	}
	return store
}

// Hosts implements the ClusterStore interface.
func (j *JSONCluster) Hosts() ([]string, error) {
	j.l.Lock()
	defer j.l.Unlock()

	// Read the file
	buf, err := ioutil.ReadFile(j.path)
	if err != nil {
		return nil, err
	}

	// Check for no hosts
	if len(buf) == 0 {
		return nil, nil
	}

	// Decode the hosts
	var hosts []string
	dec := codec.NewDecoder(bytes.NewReader(buf), new(codec.JsonHandle))
	if err := dec.Decode(&hosts); err != nil {
		return nil, err
	}

	return hosts, nil
}

// SetHosts implements the ClusterStore interface.
func (j *JSONCluster) SetHosts(hosts []string) error {
	j.l.Lock()
	defer j.l.Unlock()

	var buf bytes.Buffer
	jh := new(codec.JsonHandle)
	jh.Indent = 1
	enc := codec.NewEncoder(&buf, jh)
	if err := enc.Encode(hosts); err != nil {
		return err
	}

	// Write out as JSON
	return ioutil.WriteFile(j.path, buf.Bytes(), 0644)
}
