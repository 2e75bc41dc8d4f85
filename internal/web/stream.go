package web

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// handleJobStream serves a job's event log as Server-Sent Events. Events
// already in the log are replayed first, then new ones are pushed as they
// arrive; heartbeat events keep the connection warm through silent stretches.
// A "done" event is sent when the job finishes.
func (s *Server) handleJobStream(w http.ResponseWriter, r *http.Request) {
	j, ok := s.manager.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // disable nginx buffering if present

	offset := 0
	for {
		events, open := j.Log.WaitAfter(r.Context(), offset)
		if r.Context().Err() != nil {
			return
		}
		for _, e := range events {
			data, err := json.Marshal(e)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Type, data)
		}
		flusher.Flush()
		offset += len(events)

		if !open {
			info := j.Snapshot()
			fmt.Fprintf(w, "event: done\ndata: %s\n\n", info.Status)
			flusher.Flush()
			return
		}
	}
}
