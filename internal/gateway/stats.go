// Package gateway - stats.go exposes stream counters as JSON.
//
// GET /stats returns the monitoring collector snapshot.
package gateway

import "net/http"

// handleStats returns aggregated metrics as JSON.
// Restricted to localhost to prevent external access to operational metrics.
func (g *Gateway) handleStats(w http.ResponseWriter, r *http.Request) {
	if !isLoopback(r.RemoteAddr) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	writeJSON(w, http.StatusOK, g.metrics.FullStats())
}
