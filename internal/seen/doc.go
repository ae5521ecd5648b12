// Package seen tracks identifiers the client has already surfaced.
//
// A Set is the in-memory view used to tell new notifications and comments
// from known ones. A Store persists a Set's contents under a scope so that
// a restarted client does not announce the same notifications again.
package seen
