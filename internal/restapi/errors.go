package restapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"fleetlive.io/internal/logging"
	"fleetlive.io/internal/models"
)

type errorResponse struct {
	Code        int    `json:"code"`
	CurrentTime int64  `json:"currentTime"`
	Text        string `json:"text"`
	Version     int    `json:"version"`
}

func writeJSONError(w http.ResponseWriter, status int, text string) error {
	response := errorResponse{
		Code:        status,
		CurrentTime: models.ResponseCurrentTime(),
		Text:        text,
		Version:     models.ResponseVersion,
	}

	setJSONResponseType(&w)
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(response)
}

func (api *RestAPI) errorResponse(w http.ResponseWriter, status int, text string) {
	if err := writeJSONError(w, status, text); err != nil {
		api.Logger.Error("failed to encode error response", "error", err, "status", status)
	}
}

// invalidCredentialResponse sends a 401 Unauthorized response
func (api *RestAPI) invalidCredentialResponse(w http.ResponseWriter, r *http.Request) {
	api.errorResponse(w, http.StatusUnauthorized, "permission denied")
}

func (api *RestAPI) forbiddenResponse(w http.ResponseWriter, r *http.Request) {
	api.errorResponse(w, http.StatusForbidden, "fleet positions are not visible to this role")
}

func (api *RestAPI) serverErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	logging.LogError(logging.FromContext(r.Context()), "request failed", err,
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path))
	api.errorResponse(w, http.StatusInternalServerError, "internal server error")
}

func (api *RestAPI) badRequestResponse(w http.ResponseWriter, r *http.Request, text string) {
	api.errorResponse(w, http.StatusBadRequest, text)
}

// validationErrorResponse sends a 400 Bad Request response with field-specific validation errors
func (api *RestAPI) validationErrorResponse(w http.ResponseWriter, r *http.Request, fieldErrors map[string][]string) {
	response := struct {
		FieldErrors map[string][]string `json:"fieldErrors"`
	}{
		FieldErrors: fieldErrors,
	}

	setJSONResponseType(&w)
	w.WriteHeader(http.StatusBadRequest)
	err := json.NewEncoder(w).Encode(response)
	if err != nil {
		api.Logger.Error("failed to encode validation error response", "error", err)
	}
}
