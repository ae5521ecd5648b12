// Package database opens the backing stores for seen-ID persistence.
//
//   - PostgreSQL (pgx pool): shared store for fleets of desk or kiosk clients
//   - SQLite: client-local file, one per machine
package database
