// Package poller implements fallback polling for stream channels.
//
// The Poller:
//   - Runs one loop per channel name, replacing any loop already running under it
//   - Fetches immediately, then once per interval
//   - Logs and swallows fetch failures; polling has no backoff
//   - Hands each parsed JSON body to the channel's OnData callback
package poller
