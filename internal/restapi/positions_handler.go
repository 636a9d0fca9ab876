package restapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/julienschmidt/httprouter"

	"fleetlive.io/internal/ingest"
	"fleetlive.io/internal/models"
	"fleetlive.io/internal/store"
)

const maxReportBytes = 64 << 10

// vehicleIDParam parses the :vehicleId route parameter. ok is false when a response
// has already been written.
func (api *RestAPI) vehicleIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := httprouter.ParamsFromContext(r.Context()).ByName("vehicleId")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		api.validationErrorResponse(w, r, map[string][]string{
			"vehicleId": {"must be a positive integer"},
		})
		return 0, false
	}
	return id, true
}

func (api *RestAPI) ingestPositionHandler(w http.ResponseWriter, r *http.Request) {
	var req ingest.Request
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxReportBytes))
	if err := dec.Decode(&req); err != nil {
		api.badRequestResponse(w, r, "malformed position report")
		return
	}

	stored, err := api.Ingest.Ingest(r.Context(), req)
	switch {
	case errors.Is(err, ingest.ErrInvalidRequest):
		api.validationErrorResponse(w, r, ingest.ValidationErrors(err))
		return
	case errors.Is(err, ingest.ErrUnknownVehicle):
		api.errorResponse(w, http.StatusNotFound, "unknown vehicle")
		return
	case err != nil:
		api.serverErrorResponse(w, r, err)
		return
	}

	api.sendResponse(w, r, models.NewEntryResponse(stored))
}

func (api *RestAPI) listPositionsHandler(w http.ResponseWriter, r *http.Request) {
	positions, err := api.Store.ListPositions(r.Context())
	if err != nil {
		api.serverErrorResponse(w, r, err)
		return
	}
	api.sendResponse(w, r, models.NewListResponse(positions))
}

func (api *RestAPI) positionHandler(w http.ResponseWriter, r *http.Request) {
	vehicleID, ok := api.vehicleIDParam(w, r)
	if !ok {
		return
	}

	position, err := api.Store.GetPosition(r.Context(), vehicleID)
	if errors.Is(err, store.ErrNotFound) {
		api.sendNotFound(w, r)
		return
	}
	if err != nil {
		api.serverErrorResponse(w, r, err)
		return
	}
	api.sendResponse(w, r, models.NewEntryResponse(position))
}
