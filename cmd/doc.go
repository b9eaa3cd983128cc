// Package cmd implements the command-line interface of dGrid. It provides a
// hierarchical command structure for running the cache server and for talking
// to it as a client.
//
// The package is organized into several subpackages:
//
//   - serve: Starts the cache server with the configured regions
//   - region: Client commands for region operations (put, get, destroy, contains, size, ping)
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// Every flag can also be set through an environment variable DGRID_<FLAG>
// (dashes become underscores), a .env or .env.local file, or a config file
// passed with --config.
//
// See dgrid -help for a list of all commands.
package cmd
