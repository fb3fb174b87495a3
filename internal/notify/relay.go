package notify

import (
	"encoding/json"
	"log/slog"
	"net/http"
	netmail "net/mail"
)

// Relay is the receiving end of ConfirmationMailer for local runs. It validates and logs
// messages instead of delivering them.
type Relay struct {
	logger *slog.Logger
}

func NewRelay(logger *slog.Logger) *Relay {
	return &Relay{logger: logger}
}

type sendResponse struct {
	Status string `json:"status"`
}

func (h *Relay) HandleSend(w http.ResponseWriter, r *http.Request) {
	var msg mail
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&msg); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if _, err := netmail.ParseAddress(msg.To); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid recipient")
		return
	}
	if msg.Subject == "" {
		h.writeError(w, http.StatusBadRequest, "subject is required")
		return
	}

	h.logger.Info("email sent", "to", msg.To, "subject", msg.Subject, "bytes", len(msg.Body))

	h.writeJSON(w, http.StatusOK, sendResponse{Status: "sent"})
}

func (h *Relay) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Relay) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
