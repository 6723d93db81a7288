// Package web provides the HTTP status and control server for the gatewise daemon.
package web

import (
	"context"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/sweeney/gatewise/internal/garage"
	"github.com/sweeney/gatewise/internal/status"
)

// Event window limits for /events.json and the status page.
const (
	defaultEventCount = 20
	maxEventCount     = 500
	pageEventCount    = 10
)

// Door is the part of the door controller the server drives.
type Door interface {
	status.DoorView
	Trigger(source string) bool
	CancelAutoClose()
	RecentEvents(n int) ([]string, error)
}

// Server serves the status page and door actions over HTTP.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	door       Door
}

// New creates a Server that reads state from tracker and acts on door.
func New(addr string, tracker *status.Tracker, door Door) *Server {
	s := &Server{tracker: tracker, door: door}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/index.html", s.handleIndex)
	mux.HandleFunc("/index.json", s.handleJSON)
	mux.HandleFunc("/events.json", s.handleEvents)
	mux.HandleFunc("/trigger", s.handleTrigger)
	mux.HandleFunc("/auto-close/cancel", s.handleCancelAutoClose)

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	return s
}

// Handler returns the server's request router.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) snapshot() status.Snapshot {
	s.tracker.SyncDoor(s.door)
	return s.tracker.Snapshot()
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/index.html" {
		http.NotFound(w, r)
		return
	}
	events, err := s.door.RecentEvents(pageEventCount)
	if err != nil {
		log.Printf("web: recent events: %v", err)
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	renderHTML(w, s.snapshot(), events)
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(s.snapshot()))
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	n := defaultEventCount
	if v := r.URL.Query().Get("n"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			writeJSON(w, http.StatusBadRequest, actionResponse{OK: false, Error: "n must be a non-negative integer"})
			return
		}
		n = min(parsed, maxEventCount)
	}

	events, err := s.door.RecentEvents(n)
	if err != nil {
		log.Printf("web: recent events: %v", err)
		writeJSON(w, http.StatusInternalServerError, actionResponse{OK: false, Error: "event log unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, eventsResponse{Events: events})
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	if fault := s.tracker.Snapshot().DoorFault; fault != "" {
		s.tracker.RecordRejected()
		s.respond(w, r, http.StatusServiceUnavailable, actionResponse{
			OK:    false,
			State: string(garage.StateUnknown),
			Error: "door unavailable: " + fault,
		})
		return
	}
	if !s.door.Trigger("web") {
		s.tracker.RecordRejected()
		s.respond(w, r, http.StatusConflict, actionResponse{
			OK:    false,
			State: string(s.door.State()),
			Error: "trigger rejected",
		})
		return
	}
	s.respond(w, r, http.StatusOK, actionResponse{OK: true, State: string(s.door.State())})
}

func (s *Server) handleCancelAutoClose(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	s.door.CancelAutoClose()
	s.respond(w, r, http.StatusOK, actionResponse{OK: true, State: string(s.door.State())})
}

// respond sends browsers that posted a form back to the status page and
// everyone else a JSON body.
func (s *Server) respond(w http.ResponseWriter, r *http.Request, code int, resp actionResponse) {
	if strings.Contains(r.Header.Get("Accept"), "text/html") {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	writeJSON(w, code, resp)
}

func requirePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method == http.MethodPost {
		return true
	}
	w.Header().Set("Allow", http.MethodPost)
	writeJSON(w, http.StatusMethodNotAllowed, actionResponse{OK: false, Error: "method not allowed"})
	return false
}
