package http

import (
	"net/http"
	"time"

	"github.com/certhub/certhub-platform/internal/clock"
)

// GET /time — the clock-sync contract: clients compute a serverNow-localNow
// offset once and derive remaining time locally between polls. Deadline
// decisions stay on the server regardless.
func ServerTimeHandler(clk clock.Clock) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"server_time": clk.Now().UTC().Format(time.RFC3339Nano),
		})
	}
}
