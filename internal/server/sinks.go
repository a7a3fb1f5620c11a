package server

import (
	"io"
	"log/slog"
	"net/http"
)

// devSinkMaxBody caps how much of a sink body gets logged.
const devSinkMaxBody = 4 * 1024

// devSinkHandler is a loopback receiver for dispatched actions, mounted
// only when KIROKU_MOUNT_DEV_SINKS is set. It logs the payload and
// acknowledges, so a single local process can exercise the full
// dispatch path without external systems.
func devSinkHandler(name string, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, devSinkMaxBody))
		if err != nil {
			http.Error(w, "read body", http.StatusBadRequest)
			return
		}
		logger.Info("dev sink received action",
			"sink", name,
			"bytes", len(body),
			"payload", string(body),
		)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"received","sink":"` + name + `"}`))
	}
}
