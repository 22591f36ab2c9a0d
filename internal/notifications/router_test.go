package notifications

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func postNotification(t *testing.T, h *Handler, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.HandleNotification(rec, req)
	return rec
}

func TestHandleNotificationUnknownPlatform(t *testing.T) {
	f := newFixture(t)

	rec := postNotification(t, f.handler, "/webhooks/iap/steam", []byte(`{}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var resp ackResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "unknown platform", resp.Message)
}

func TestHandleNotificationRoutesByPath(t *testing.T) {
	f := newFixture(t)

	rec := postNotification(t, f.handler, "/webhooks/iap/apple", []byte(`{}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid payload")

	rec = postNotification(t, f.handler, "/webhooks/iap/google", []byte(`{}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid payload")
}

func TestHandleNotificationBodyTooLarge(t *testing.T) {
	f := newFixture(t)
	f.handler.maxBodyBytes = 64

	oversized := []byte(`{"signedPayload":"` + strings.Repeat("a", 128) + `"}`)
	rec := postNotification(t, f.handler, "/webhooks/iap/apple", oversized)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "request body unreadable or too large")
	assert.Zero(t, f.store.Mutations)
}

func TestHandleNotificationResponsesAreJSON(t *testing.T) {
	f := newFixture(t)

	rec := postNotification(t, f.handler, "/webhooks/iap/apple", []byte(`{}`))
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}
