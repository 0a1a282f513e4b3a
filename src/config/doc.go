// Package config defines the configuration for a DSM node.
//
// Whether the node is embedded in a hypervisor process or started from the
// command line, it uses the Config object defined in this package to store
// and forward configuration options. On top of these options, a node relies
// on a data directory, defined by Config.DataDir, where it looks for a few
// additional files:
//
//  dsm.toml     // (optional) configuration file read by the CLI through viper.
//  .env         // (optional) DSM_* environment overrides.
//  cluster.json // (optional) JSON list of cluster hosts, indexed by node id.
package config
