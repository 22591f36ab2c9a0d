package notifications

import (
	"io"
	"net/http"
	"strings"

	"iap-reconciler/internal/common/logging"
)

// HandleNotification is the single webhook entrypoint. The platform is
// selected by a path substring; everything downstream of this function
// reports status via (status, message) pairs so no handler failure can
// escape as an unhandled error.
func (h *Handler) HandleNotification(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			h.logger.Error("panic while processing notification", nil,
				logging.Field{Key: "path", Value: r.URL.Path},
				logging.Field{Key: "panic", Value: rec},
			)
			writeMessage(w, http.StatusInternalServerError, "internal error")
		}
	}()

	// Cap the body before any parsing happens.
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.Warn("failed to read notification body",
			logging.Field{Key: "path", Value: r.URL.Path}, logging.Err(err))
		writeMessage(w, http.StatusBadRequest, "request body unreadable or too large")
		return
	}

	var status int
	var message string
	switch {
	case strings.Contains(r.URL.Path, "apple"):
		status, message = h.processApple(r.Context(), body)
	case strings.Contains(r.URL.Path, "google"):
		status, message = h.processGoogle(r.Context(), body)
	default:
		status, message = http.StatusBadRequest, "unknown platform"
	}

	writeMessage(w, status, message)
}
