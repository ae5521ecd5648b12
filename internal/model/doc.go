// Package model defines the payload types exchanged with the workflow server.
//
// The same types are decoded from stream events and from the JSON snapshots
// returned by the polling endpoints, so both delivery paths produce
// identical values.
//
// Conventions:
//   - IDs: int64 database identifiers
//   - CreatedAtTimestamp: float64 seconds since Unix epoch (the comment cursor)
package model
