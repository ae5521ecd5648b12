// Package comments follows the discussion thread of a task or news post.
//
// A Feed owns one connection-manager channel per thread. It primes itself
// from the REST snapshot, then merges stream events, WebSocket room events
// and fallback polls into a single ordered view that reports each added or
// deleted comment once.
package comments
