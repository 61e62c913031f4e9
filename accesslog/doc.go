// Package accesslog records per-request audit entries. The SQLite sink
// batches writes off the request path; when logging is disabled the nop
// sink keeps the rest of the gateway oblivious.
package accesslog
