package restapi

import (
	"context"
	"net/http"

	"github.com/julienschmidt/httprouter"

	"fleetlive.io/internal/appconf"
	"fleetlive.io/internal/auth"
	"fleetlive.io/internal/models"
	"fleetlive.io/internal/webui"
)

type contextKey string

const identityContextKey contextKey = "identity"

func identityFromContext(ctx context.Context) (models.Identity, bool) {
	identity, ok := ctx.Value(identityContextKey).(models.Identity)
	return identity, ok
}

// requireIdentity rejects requests without a valid credential and stores the verified
// identity in the request context.
func requireIdentity(api *RestAPI, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := api.RequestIdentity(r)
		if err != nil {
			api.invalidCredentialResponse(w, r)
			return
		}
		ctx := context.WithValue(r.Context(), identityContextKey, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireFleetViewer is requireIdentity restricted to roles that may see every vehicle.
func requireFleetViewer(api *RestAPI, next http.Handler) http.Handler {
	return requireIdentity(api, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, _ := identityFromContext(r.Context())
		if !auth.CanViewFleet(identity.Role) {
			api.forbiddenResponse(w, r)
			return
		}
		next.ServeHTTP(w, r)
	}))
}

// Routes builds the router with every endpoint and the shared middlewares.
func (api *RestAPI) Routes() http.Handler {
	router := httprouter.New()
	router.NotFound = http.HandlerFunc(api.sendNotFound)

	router.Handler(http.MethodGet, "/ws", http.HandlerFunc(api.websocketHandler))
	router.Handler(http.MethodGet, "/healthz", http.HandlerFunc(api.healthHandler))

	router.Handler(http.MethodPost, "/api/positions",
		requireIdentity(api, api.rateLimiter.Handler(http.HandlerFunc(api.ingestPositionHandler))))

	router.Handler(http.MethodGet, "/api/positions",
		CompressionMiddleware(requireFleetViewer(api, http.HandlerFunc(api.listPositionsHandler))))
	router.Handler(http.MethodGet, "/api/positions/:vehicleId",
		CompressionMiddleware(requireFleetViewer(api, http.HandlerFunc(api.positionHandler))))
	router.Handler(http.MethodGet, "/api/vehicles/:vehicleId/history",
		CompressionMiddleware(requireFleetViewer(api, http.HandlerFunc(api.historyHandler))))

	if api.Config.Env != appconf.Production {
		debug := &webui.WebUI{
			Registry:  api.Registry,
			Positions: api.Store,
			Status: func() any {
				return map[string]any{
					"env":     api.Config.Env.String(),
					"members": len(api.Registry.Members()),
				}
			},
			Logger: api.Logger,
		}
		debug.SetWebUIRoutes(router)
	}

	return NewRequestLoggingMiddleware(api.Logger)(api.WithSecurityHeaders(router))
}
