package app

import (
	"net/http"

	"fleetlive.io/internal/auth"
	"fleetlive.io/internal/models"
)

// RequestToken returns the bearer token of r, falling back to the "token" query
// parameter used by browser websocket clients.
func RequestToken(r *http.Request) string {
	if token := auth.BearerToken(r.Header.Get("Authorization")); token != "" {
		return token
	}
	return r.URL.Query().Get("token")
}

// RequestIdentity verifies the credential presented with r.
func (app *Application) RequestIdentity(r *http.Request) (models.Identity, error) {
	token := RequestToken(r)
	if token == "" {
		return models.Identity{}, auth.ErrMissingToken
	}
	return app.Verifier.Verify(r.Context(), token)
}
