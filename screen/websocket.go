package screen

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/opd-ai/rtccall/session"
	"github.com/sirupsen/logrus"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeWS streams state frames: one on connect and one per session change.
// Incoming messages are ignored.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "ServeWS",
			"error":    err.Error(),
		}).Error("Failed to upgrade websocket")
		return
	}
	defer conn.Close()

	log := logrus.WithFields(logrus.Fields{
		"function":  "ServeWS",
		"client_id": uuid.NewString(),
	})
	log.Info("Screen client connected")
	defer log.Info("Screen client disconnected")

	updates, cancel := h.controller.Subscribe()
	defer cancel()

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.WithField("error", err.Error()).Warn("Unexpected websocket close")
				}
				return
			}
		}
	}()

	if err := h.writeFrame(conn, h.controller.Snapshot()); err != nil {
		log.WithField("error", err.Error()).Warn("Failed to send initial frame")
		return
	}

	for {
		select {
		case snap, ok := <-updates:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "session closed"),
					time.Now().Add(writeWait))
				return
			}
			if err := h.writeFrame(conn, snap); err != nil {
				log.WithField("error", err.Error()).Warn("Failed to send frame")
				return
			}
		case <-gone:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func (h *Handler) writeFrame(conn *websocket.Conn, snap session.Snapshot) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteJSON(h.frame(snap))
}
