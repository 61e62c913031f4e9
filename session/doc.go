// Package session provides the pooled-session layer over backend handles:
// exclusive leases keyed by session id, capacity enforcement with LRU
// eviction, TTL-based reaping, and the mandatory clear-on-release that
// keeps one caller's conversation from leaking into another's.
package session
