package api

import "net/http"

// Health handles GET /healthz, a plain liveness probe with no auth tier —
// it answers before any dependency is touched.
func Health(w http.ResponseWriter, r *http.Request) {
	Ok(w, envelope{"status": "ok"})
}
