package present

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/MrWong99/medscribe/internal/pipeline"
)

// API is the HTTP control surface:
//
//	POST /session/start  start recording
//	POST /session/stop   stop recording and process
//	GET  /session        state and latest values
//	GET  /session/note   the latest note as plain text
//	GET  /ws             WebSocket events and commands
type API struct {
	ctl   Controller
	board *Board
	hub   *Hub
}

// NewAPI creates an API. hub may be nil, in which case /ws is not served.
func NewAPI(ctl Controller, board *Board, hub *Hub) *API {
	return &API{ctl: ctl, board: board, hub: hub}
}

// Register adds the API routes to mux.
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /session/start", a.handleStart)
	mux.HandleFunc("POST /session/stop", a.handleStop)
	mux.HandleFunc("GET /session", a.handleSession)
	mux.HandleFunc("GET /session/note", a.handleNote)
	if a.hub != nil {
		mux.Handle("GET /ws", a.hub)
	}
}

// sessionResponse is the JSON body of GET /session and the start and stop
// endpoints.
type sessionResponse struct {
	Session pipeline.Info `json:"session"`
	Latest  Snapshot      `json:"latest"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (a *API) handleStart(w http.ResponseWriter, r *http.Request) {
	if _, err := a.ctl.Start(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, a.session())
}

func (a *API) handleStop(w http.ResponseWriter, _ *http.Request) {
	if err := a.ctl.Stop(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, a.session())
}

func (a *API) handleSession(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.session())
}

// handleNote serves the note for copying into a record system.
func (a *API) handleNote(w http.ResponseWriter, _ *http.Request) {
	n := a.board.Snapshot().Note
	if n == "" {
		http.Error(w, "no note available", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(n))
}

func (a *API) session() sessionResponse {
	return sessionResponse{Session: a.ctl.Info(), Latest: a.board.Snapshot()}
}

// writeError maps pipeline errors to status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, pipeline.ErrBusy), errors.Is(err, pipeline.ErrNotRecording):
		status = http.StatusConflict
	case errors.Is(err, pipeline.ErrDevice), errors.Is(err, pipeline.ErrClosed):
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
