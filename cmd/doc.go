// Package cmd implements the seabolt command line client. It acquires
// connections from a Connector and drives them directly, which makes it
// useful for checking connectivity and looking at protocol traffic.
//
// The package is organized into subpackages:
//
//   - query: run, debug, perf and ping
//   - util: flags, environment handling and value formatting (internal use)
//
// See seabolt --help for a list of all commands.
package cmd
