// Package stream bridges backend event streams onto Anthropic's SSE
// streaming schema. The bridge preserves backend event order, applies the
// configured message mode, tracks chunks and bytes sent, and records
// exactly one completion per stream regardless of how it ended.
package stream
