package restapi

import (
	"context"
	"net/http"
	"time"

	"fleetlive.io/internal/models"
)

type healthStatus struct {
	Status  string `json:"status"`
	Members int    `json:"members"`
	Store   string `json:"store"`
}

func (api *RestAPI) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := healthStatus{
		Status:  "ok",
		Members: len(api.Registry.Members()),
		Store:   "ok",
	}
	code := http.StatusOK
	if err := api.Store.Ping(ctx); err != nil {
		api.Logger.Warn("store ping failed", "error", err)
		status.Status = "degraded"
		status.Store = "unreachable"
		code = http.StatusServiceUnavailable
	}

	api.sendResponse(w, r, models.NewResponse(code, status, status.Status))
}
