package handlers

import "net/http"

// Health reports liveness plus a database ping. The engine is gated at
// startup, so its reachability is not re-probed per request.
func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	if a.DB != nil {
		if err := a.DB.Ping(r.Context()); err != nil {
			a.Logger.Error().Err(err).Msg("health: database unreachable")
			a.json(w, http.StatusServiceUnavailable, map[string]string{
				"status":   "degraded",
				"database": "unreachable",
			})
			return
		}
	}
	a.json(w, http.StatusOK, map[string]string{"status": "ok"})
}
