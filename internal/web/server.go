package web

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lucasnoah/evoforge/internal/escalate"
	"github.com/lucasnoah/evoforge/internal/job"
	"github.com/lucasnoah/evoforge/internal/project"
)

// Server exposes the job manager and project store over a JSON API, plus a
// Server-Sent Events stream per job.
type Server struct {
	manager *job.Manager
	store   *project.Store
	hub     *escalate.Hub
	addr    string
}

// NewServer creates a Server listening on the given port. hub may be nil when
// escalations are decided elsewhere.
func NewServer(manager *job.Manager, store *project.Store, hub *escalate.Hub, port int) *Server {
	return &Server{
		manager: manager,
		store:   store,
		hub:     hub,
		addr:    fmt.Sprintf(":%d", port),
	}
}

// Handler returns the API routing table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/projects", s.handleListProjects)
	mux.HandleFunc("POST /api/projects", s.handleCreateProject)
	mux.HandleFunc("GET /api/projects/{name}", s.handleGetProject)
	mux.HandleFunc("POST /api/run", s.handleRun)
	mux.HandleFunc("GET /api/jobs", s.handleListJobs)
	mux.HandleFunc("GET /api/jobs/{id}", s.handleGetJob)
	mux.HandleFunc("GET /api/jobs/{id}/events", s.handleJobEvents)
	mux.HandleFunc("POST /api/jobs/{id}/cancel", s.handleCancelJob)
	mux.HandleFunc("POST /api/jobs/{id}/decision", s.handleJobDecision)
	mux.HandleFunc("GET /api/escalations", s.handleListEscalations)
	mux.HandleFunc("GET /api/jobs/{id}/stream", s.handleJobStream)
	return mux
}

// Start serves until the context is cancelled, then shuts down gracefully and
// waits for running jobs to finish.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("serving API on %s", s.addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return s.manager.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
