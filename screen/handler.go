package screen

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/opd-ai/rtccall/interfaces"
	"github.com/opd-ai/rtccall/session"
	"github.com/opd-ai/rtccall/simulation"
	"github.com/sirupsen/logrus"
)

//go:embed static
var staticFiles embed.FS

// CallController is the part of a session controller the screen drives.
type CallController interface {
	Join(ctx context.Context) error
	Leave() error
	SwitchCamera() error
	SetCredentials(creds session.Credentials) error
	Credentials() session.Credentials
	Snapshot() session.Snapshot
	Subscribe() (<-chan session.Snapshot, func())
	Flush(ctx context.Context) error
}

// RemoteSimulator pushes engine callbacks on demand.
type RemoteSimulator interface {
	EmitUserJoined(uid interfaces.ParticipantID) error
	EmitUserOffline(uid interfaces.ParticipantID, reason interfaces.OfflineReason) error
	EmitLeaveChannel() error
	EmitError(code interfaces.ErrorCode, message string) error
}

var _ RemoteSimulator = (*simulation.SimulatedEngine)(nil)

// ErrCredentialsFixed indicates a credential edit while editing is disabled.
var ErrCredentialsFixed = errors.New("credentials are fixed by configuration")

// StateFrame is the JSON document returned by every endpoint and streamed
// over the websocket.
type StateFrame struct {
	Snapshot    session.Snapshot    `json:"snapshot"`
	Layout      session.Layout      `json:"layout"`
	Credentials session.Credentials `json:"credentials"`
	Editable    bool                `json:"editable"`
}

// Options configures a Handler.
type Options struct {
	// Editable allows PUT /api/credentials.
	Editable bool

	// Simulator enables the /api/sim routes when non-nil.
	Simulator RemoteSimulator
}

// Handler serves the call screen for one controller.
type Handler struct {
	controller CallController
	simulator  RemoteSimulator
	editable   bool
}

// NewHandler creates a handler for controller.
func NewHandler(controller CallController, opts Options) *Handler {
	return &Handler{
		controller: controller,
		simulator:  opts.Simulator,
		editable:   opts.Editable,
	}
}

// NewRouter returns the HTTP routes of the screen.
func (h *Handler) NewRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/state", h.getState)
		r.Put("/credentials", h.putCredentials)
		r.Post("/join", h.postJoin)
		r.Post("/leave", h.postLeave)
		r.Post("/switch-camera", h.postSwitchCamera)

		if h.simulator != nil {
			r.Route("/sim", func(r chi.Router) {
				r.Post("/remote/{uid}", h.postSimRemote)
				r.Delete("/remote/{uid}", h.deleteSimRemote)
				r.Post("/left", h.postSimLeft)
				r.Post("/error", h.postSimError)
			})
		}
	})

	r.Get("/ws", h.ServeWS)

	static, err := fs.Sub(staticFiles, "static")
	if err == nil {
		r.Handle("/*", http.FileServer(http.FS(static)))
	}

	return r
}

func (h *Handler) frame(snap session.Snapshot) StateFrame {
	return StateFrame{
		Snapshot:    snap,
		Layout:      snap.Layout(),
		Credentials: h.controller.Credentials(),
		Editable:    h.editable,
	}
}

func (h *Handler) getState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.frame(h.controller.Snapshot()))
}

func (h *Handler) putCredentials(w http.ResponseWriter, r *http.Request) {
	if !h.editable {
		writeError(w, http.StatusForbidden, ErrCredentialsFixed)
		return
	}

	var creds session.Credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := h.controller.SetCredentials(creds); err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	logrus.WithFields(logrus.Fields{
		"function": "putCredentials",
		"channel":  creds.ChannelName,
	}).Info("Credentials updated from screen")

	writeJSON(w, http.StatusOK, h.frame(h.controller.Snapshot()))
}

func (h *Handler) postJoin(w http.ResponseWriter, r *http.Request) {
	if err := h.controller.Join(r.Context()); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	h.writeSettled(w, r, http.StatusAccepted)
}

func (h *Handler) postLeave(w http.ResponseWriter, r *http.Request) {
	if err := h.controller.Leave(); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, h.frame(h.controller.Snapshot()))
}

func (h *Handler) postSwitchCamera(w http.ResponseWriter, r *http.Request) {
	if err := h.controller.SwitchCamera(); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, h.frame(h.controller.Snapshot()))
}

// writeSettled waits for queued engine events to be applied before
// answering.
func (h *Handler) writeSettled(w http.ResponseWriter, r *http.Request, status int) {
	if err := h.controller.Flush(r.Context()); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, status, h.frame(h.controller.Snapshot()))
}

// statusFor maps controller errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrCredentialsLocked),
		errors.Is(err, session.ErrNotInitialized),
		errors.Is(err, simulation.ErrNotInChannel):
		return http.StatusConflict
	case errors.Is(err, session.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	default:
		return http.StatusBadGateway
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	logrus.WithFields(logrus.Fields{
		"function": "writeError",
		"status":   status,
		"error":    err.Error(),
	}).Warn("Request failed")

	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "writeJSON",
			"error":    err.Error(),
		}).Error("Failed to encode response")
	}
}
