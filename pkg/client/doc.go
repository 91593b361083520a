// Package client is the thin HTTP client the CLI uses against a node's
// admin endpoint.
package client
