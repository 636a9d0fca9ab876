package restapi

import (
	"net/http"
	"strconv"

	"fleetlive.io/internal/models"
)

const maxHistoryLimit = 1000

func (api *RestAPI) historyHandler(w http.ResponseWriter, r *http.Request) {
	vehicleID, ok := api.vehicleIDParam(w, r)
	if !ok {
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxHistoryLimit {
			api.validationErrorResponse(w, r, map[string][]string{
				"limit": {"must be between 1 and " + strconv.Itoa(maxHistoryLimit)},
			})
			return
		}
		limit = n
	}

	entries, err := api.Store.LocationHistory(r.Context(), vehicleID, limit)
	if err != nil {
		api.serverErrorResponse(w, r, err)
		return
	}
	api.sendResponse(w, r, models.NewListResponse(entries))
}
