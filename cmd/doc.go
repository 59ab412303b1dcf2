// Package cmd implements the command-line interface for the dMap distributed
// atomic map. It provides a hierarchical command structure with operations
// for running the server and interacting with it as a client.
//
// The package is organized into several subpackages:
//
//   - mapcmd: Commands for map operations (get, put, remove, replace, size,
//     clear, watch) and a built-in performance benchmark
//   - serve: Commands for starting and configuring the dMap server
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See dmap -help for a list of all commands.
package cmd
