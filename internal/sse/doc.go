// Package sse decodes text/event-stream bodies into discrete frames.
//
// Framing follows the WHATWG server-sent events format: "event", "data",
// "id" and "retry" fields, ":" comment lines, and a blank line dispatching
// the accumulated frame. Multiple data lines are joined with "\n".
package sse
