// Package notify tracks the current user's unread notifications.
//
// The Tracker registers the "notifications" channel with the connection
// manager. Stream events and fallback polls both land in Apply, which diffs
// the unread IDs against the persisted seen set and announces each new
// notification exactly once.
package notify
