package server

import "net/http"

// handleGC runs one collector sweep on demand and returns its report.
func (s *Server) handleGC(w http.ResponseWriter, r *http.Request) {
	rep, err := s.deps.Collector.Sweep(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}
