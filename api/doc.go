// Package api defines the Anthropic-compatible wire models the gateway
// speaks: the Messages request/response schema, streaming content blocks,
// the Message Batches shapes, and the error envelope.
package api
