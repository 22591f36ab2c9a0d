// Package notifications ingests server notifications from the payment
// platforms, verifies them, and reconciles them into entitlement state.
package notifications

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"iap-reconciler/internal/common/logging"
	"iap-reconciler/internal/dedup"
	"iap-reconciler/internal/entitlements"
	"iap-reconciler/internal/jws"
	"iap-reconciler/internal/playapi"
	"iap-reconciler/internal/secrets"
)

// DefaultMaxBodyBytes caps inbound webhook bodies.
const DefaultMaxBodyBytes = 100 * 1024

// Deps carries the collaborators a Handler needs.
type Deps struct {
	Secrets    secrets.Provider
	Verifier   *jws.Verifier
	Dedup      dedup.Cache
	Store      entitlements.Store
	Reconciler *entitlements.Reconciler
	Play       playapi.Client
	Logger     logging.Logger

	AppleMaxAge  time.Duration
	GoogleMaxAge time.Duration
	MaxBodyBytes int64
}

// Handler processes inbound platform notifications.
type Handler struct {
	secrets    secrets.Provider
	verifier   *jws.Verifier
	dedup      dedup.Cache
	store      entitlements.Store
	reconciler *entitlements.Reconciler
	play       playapi.Client
	logger     logging.Logger

	appleMaxAge  time.Duration
	googleMaxAge time.Duration
	maxBodyBytes int64

	now func() time.Time
}

// New creates a notification handler.
func New(deps Deps) *Handler {
	logger := deps.Logger
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	appleMaxAge := deps.AppleMaxAge
	if appleMaxAge <= 0 {
		appleMaxAge = 5 * time.Minute
	}
	googleMaxAge := deps.GoogleMaxAge
	if googleMaxAge <= 0 {
		googleMaxAge = 60 * time.Minute
	}
	maxBodyBytes := deps.MaxBodyBytes
	if maxBodyBytes <= 0 {
		maxBodyBytes = DefaultMaxBodyBytes
	}

	return &Handler{
		secrets:      deps.Secrets,
		verifier:     deps.Verifier,
		dedup:        deps.Dedup,
		store:        deps.Store,
		reconciler:   deps.Reconciler,
		play:         deps.Play,
		logger:       logger,
		appleMaxAge:  appleMaxAge,
		googleMaxAge: googleMaxAge,
		maxBodyBytes: maxBodyBytes,
		now:          time.Now,
	}
}

// ackResponse is the JSON body every webhook response carries.
type ackResponse struct {
	Message string `json:"message"`
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ackResponse{Message: message})
}

// checkSeen asks the dedup cache whether the event was already processed.
// Cache errors are logged and treated as unseen: the database transaction is
// the correctness boundary, dedup is an optimization.
func (h *Handler) checkSeen(ctx context.Context, id string) bool {
	seen, err := h.dedup.Seen(ctx, id)
	if err != nil {
		h.logger.Warn("dedup lookup failed, proceeding",
			logging.Field{Key: "event_id", Value: id}, logging.Err(err))
		return false
	}
	return seen
}

// recordProcessed marks the event id after a successful commit.
func (h *Handler) recordProcessed(ctx context.Context, id string) {
	if err := h.dedup.Record(ctx, id); err != nil {
		h.logger.Warn("failed to record dedup marker",
			logging.Field{Key: "event_id", Value: id}, logging.Err(err))
	}
}
