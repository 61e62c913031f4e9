// Package batch implements the Message Batches engine: immediate execution
// of independent message requests under a bounded concurrency cap, with
// per-entry isolation, cooperative cancellation, and a retention window
// for completed jobs.
package batch
