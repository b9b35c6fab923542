package screen

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/opd-ai/rtccall/interfaces"
	"github.com/sirupsen/logrus"
)

type simErrorRequest struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func parseUID(r *http.Request) (interfaces.ParticipantID, error) {
	raw := chi.URLParam(r, "uid")
	uid, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid participant id %q: %w", raw, err)
	}
	if uid == uint64(interfaces.LocalParticipant) {
		return 0, fmt.Errorf("participant id %d is reserved for the local participant", uid)
	}
	return interfaces.ParticipantID(uid), nil
}

func parseReason(raw string) (interfaces.OfflineReason, error) {
	switch raw {
	case "", interfaces.OfflineReasonQuit.String():
		return interfaces.OfflineReasonQuit, nil
	case interfaces.OfflineReasonDropped.String():
		return interfaces.OfflineReasonDropped, nil
	case interfaces.OfflineReasonBecomeAudience.String():
		return interfaces.OfflineReasonBecomeAudience, nil
	default:
		return 0, fmt.Errorf("unknown offline reason %q", raw)
	}
}

func (h *Handler) postSimRemote(w http.ResponseWriter, r *http.Request) {
	uid, err := parseUID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	logrus.WithFields(logrus.Fields{
		"function": "postSimRemote",
		"uid":      uid,
	}).Info("Injecting remote participant join")

	if err := h.simulator.EmitUserJoined(uid); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	h.writeSettled(w, r, http.StatusOK)
}

func (h *Handler) deleteSimRemote(w http.ResponseWriter, r *http.Request) {
	uid, err := parseUID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	reason, err := parseReason(r.URL.Query().Get("reason"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	logrus.WithFields(logrus.Fields{
		"function": "deleteSimRemote",
		"uid":      uid,
		"reason":   reason.String(),
	}).Info("Injecting remote participant departure")

	if err := h.simulator.EmitUserOffline(uid, reason); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	h.writeSettled(w, r, http.StatusOK)
}

func (h *Handler) postSimLeft(w http.ResponseWriter, r *http.Request) {
	if err := h.simulator.EmitLeaveChannel(); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	h.writeSettled(w, r, http.StatusOK)
}

func (h *Handler) postSimError(w http.ResponseWriter, r *http.Request) {
	var req simErrorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := h.simulator.EmitError(interfaces.ErrorCode(req.Code), req.Message); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	h.writeSettled(w, r, http.StatusOK)
}
