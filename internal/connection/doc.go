// Package connection implements the Stream Connection Manager.
//
// The Manager:
//   - Owns named channels, each backed by one live event stream or one fallback polling loop
//   - Caps concurrent streams at MaxConnections; extra channels poll instead
//   - Reconnects failed streams with exponential backoff up to MaxReconnectAttempts
//   - Falls back to polling once the reconnect budget is spent
//   - Honors server rotation frames ({"type":"reconnect"|"timeout"}) with a short fixed delay
//
// Streams are opened through a Dialer. The default dialer speaks SSE for
// http(s) URLs and a JSON-envelope WebSocket protocol for ws(s) URLs.
package connection
