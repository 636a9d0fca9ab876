package restapi

import (
	"errors"
	"log/slog"
	"net/http"

	"fleetlive.io/internal/app"
	"fleetlive.io/internal/hub"
	"fleetlive.io/internal/logging"
)

// websocketHandler upgrades first and authenticates afterwards, so a rejected viewer
// receives a close frame carrying the reason instead of a bare HTTP error.
func (api *RestAPI) websocketHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := api.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error.
		api.Logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	token := app.RequestToken(r)
	c, err := api.Registry.Admit(r.Context(), token, hub.NewWebsocketSocket(conn))
	if err != nil {
		level := slog.LevelDebug
		if !errors.Is(err, hub.ErrMissingCredential) && !errors.Is(err, hub.ErrInvalidCredential) {
			level = slog.LevelWarn
		}
		api.Logger.Log(r.Context(), level, "viewer rejected", "error", err, "remote", r.RemoteAddr)
		return
	}
	logging.LogConnectionEvent(api.Logger, "upgraded", c.ID(), slog.String("remote", r.RemoteAddr))
}
