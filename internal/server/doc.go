// Package server manages HTTP listener lifecycles: non-blocking start,
// graceful shutdown, and signal-driven waiting.
package server
