package app

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"iap-reconciler/internal/middleware"
)

// NewRouter sets up the HTTP routes.
func (app *App) NewRouter() *mux.Router {
	router := mux.NewRouter()
	router.Use(middleware.Logging)

	// Webhook endpoints. The platform segment is matched again inside the
	// handler, which keeps both endpoints on one code path.
	router.HandleFunc("/webhooks/iap/{platform}", app.Handler.HandleNotification).Methods("POST")

	router.HandleFunc("/health", app.healthCheck).Methods("GET")

	return router
}

type healthResponse struct {
	Status   string            `json:"status"`
	Services map[string]string `json:"services"`
}

func (app *App) healthCheck(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:   "ok",
		Services: map[string]string{"database": "ok"},
	}
	status := http.StatusOK

	if err := app.Store.Ping(r.Context()); err != nil {
		resp.Status = "degraded"
		resp.Services["database"] = err.Error()
		status = http.StatusServiceUnavailable
	}

	if app.RedisClient != nil {
		resp.Services["redis"] = "ok"
		if err := app.RedisClient.Ping(r.Context()).Err(); err != nil {
			// Dedup degrades gracefully; report but stay healthy.
			resp.Services["redis"] = err.Error()
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
