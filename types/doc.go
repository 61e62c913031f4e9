// Package types defines the shared vocabulary of the gateway: the error
// taxonomy, conversation messages and usage accounting, and the per-request
// correlation context threaded through the session pool, streaming bridge,
// and batch engine.
package types
