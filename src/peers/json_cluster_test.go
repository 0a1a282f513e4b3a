package peers

import (
	"io/ioutil"
	"os"
	"reflect"
	"testing"
)

func TestJSONCluster(t *testing.T) {
	// Create a test dir
	dir, err := ioutil.TempDir("", "dsm")
	if err != nil {
		t.Fatalf("err: %v ", err)
	}
	defer os.RemoveAll(dir)

	// Create the store
	store := NewJSONCluster(dir)

	// Try a read, should get nothing
	hosts, err := store.Hosts()
	if err == nil {
		t.Fatalf("store.Hosts() should generate an error")
	}
	if hosts != nil {
		t.Fatalf("hosts: %v", hosts)
	}

	newHosts := []string{"10.0.0.1", "", "10.0.0.3"}
	if err := store.SetHosts(newHosts); err != nil {
		t.Fatalf("err: %v", err)
	}

	// Try a read, should find 3 hosts
	hosts, err = store.Hosts()
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if !reflect.DeepEqual(hosts, newHosts) {
		t.Fatalf("hosts mismatch: %v %v", hosts, newHosts)
	}
}
