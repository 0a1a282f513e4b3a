// Package peers maps DSM node identifiers to network addresses.
//
// A DSM cluster is a small, statically configured set of machines. Each node
// is identified by a small integer, its index in the cluster host list. The
// port a node listens on is derived from its id: BasePort + id. The host list
// is either given directly in the configuration or loaded from a
// cluster.json file in the data directory:
//
//  ["10.0.0.1", "10.0.0.2", "10.0.0.3"]
//
// An empty string leaves the corresponding id unconfigured.
package peers
