package main

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/rickgao/taskstream/internal/connection"
	"github.com/rickgao/taskstream/internal/version"
)

// channelSource is the part of the manager the health server reads.
type channelSource interface {
	Snapshot() map[string]connection.Status
}

// newHealthHandler creates the HTTP handler for health checks.
func newHealthHandler(src channelSource, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		snapshot := src.Snapshot()

		var streaming, polling, silent int
		for _, st := range snapshot {
			switch {
			case st.Connected:
				streaming++
			case st.Mode == connection.ModePolling:
				polling++
			case st.Exhausted:
				silent++
			}
		}

		// Polling still delivers updates; only silent channels degrade.
		status := "healthy"
		if silent > 0 {
			status = "degraded"
		}

		writeJSON(w, logger, map[string]any{
			"status":  status,
			"version": version.Version,
			"components": map[string]any{
				"channels":  len(snapshot),
				"streaming": streaming,
				"polling":   polling,
				"silent":    silent,
			},
		})
	})

	mux.HandleFunc("/debug/channels", func(w http.ResponseWriter, r *http.Request) {
		snapshot := src.Snapshot()
		writeJSON(w, logger, map[string]any{
			"count":    len(snapshot),
			"channels": snapshot,
		})
	})

	return mux
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("failed to write health response", "error", err)
	}
}
