// Package handlers implements the gateway's HTTP endpoints: the Messages
// API, token counting, batch management, session administration, and
// health. Handlers translate between the Anthropic wire schema and the
// session pool, the streaming bridge, and the batch engine.
package handlers
