// Package config defines the configuration of a relay process.
//
// Whether the relay is embedded in Go code or started from the command line,
// it uses the Config object defined in this package. The command line reads
// additional options from a file in the data directory, Config.DataDir:
//
//  signal.toml // (or .yaml, .json) any of the options below, by key name.
//
// The bus option decides how far the relay scales. With the in-memory bus
// every peer must connect to the same process. With redis or wamp, any number
// of relay processes share inboxes through the broker, while the router
// election stays local to each process.
package config
