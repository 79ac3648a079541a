// Package introspect exposes per-stream pipeline stats over plain HTTP,
// grounded on the reference pack's relay/http_api.go: a bare
// net/http.ServeMux, JSON responses, one handler per route, no
// framework.
package introspect

import (
	"encoding/json"
	"log"
	"net/http"

	"coverframe/internal/engine"
)

// Registry is the minimal view the introspection server needs of
// whatever owns the running streams — implemented by cmd/coverframe's
// stream manager.
type Registry interface {
	Streams() []*engine.Engine
	Stream(id string) (*engine.Engine, bool)
}

// StartServer starts the introspection HTTP API on addr, returning the
// *http.Server so the caller can Shutdown it during process teardown.
func StartServer(addr string, reg Registry) *http.Server {
	mux := http.NewServeMux()

	mux.HandleFunc("/streams", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		streams := reg.Streams()
		out := make([]engine.Stats, 0, len(streams))
		for _, s := range streams {
			out = append(out, s.Stats())
		}
		writeJSON(w, out)
	})

	mux.HandleFunc("/streams/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		id := r.URL.Path[len("/streams/"):]
		if id == "" {
			http.Error(w, "missing stream id", http.StatusBadRequest)
			return
		}
		s, ok := reg.Stream(id)
		if !ok {
			http.Error(w, "stream not found", http.StatusNotFound)
			return
		}
		writeJSON(w, s.Stats())
	})

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	server := &http.Server{Addr: addr, Handler: mux}
	log.Printf("[introspect] starting HTTP API on %s", addr)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[introspect] server error: %v", err)
		}
	}()
	return server
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[introspect] encode response: %v", err)
	}
}
