// Package middleware provides the gateway's HTTP middleware: request
// correlation and access logging, static key auth, per-client rate
// limiting, and CORS.
package middleware
