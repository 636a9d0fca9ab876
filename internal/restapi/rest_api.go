package restapi

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"fleetlive.io/internal/app"
)

type RestAPI struct {
	*app.Application
	rateLimiter *RateLimitMiddleware
	upgrader    websocket.Upgrader
}

// NewRestAPI creates a new RestAPI instance with initialized rate limiter
func NewRestAPI(app *app.Application) *RestAPI {
	return &RestAPI{
		Application: app,
		rateLimiter: NewRateLimitMiddleware(app.Config.Server.RateLimit, time.Second),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Viewers authenticate with a token, not with cookies.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Shutdown stops background work owned by the API.
func (api *RestAPI) Shutdown() {
	api.rateLimiter.Stop()
}
