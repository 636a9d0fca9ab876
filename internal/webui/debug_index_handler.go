// Package webui serves a development-only page that dumps the live state of the
// server: registry members and the latest stored positions.
package webui

import (
	"context"
	"embed"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/davecgh/go-spew/spew"

	"fleetlive.io/internal/hub"
	"fleetlive.io/internal/models"
)

//go:embed debug_index.html
var templateFS embed.FS

var debugTemplate = template.Must(template.ParseFS(templateFS, "debug_index.html"))

type MemberLister interface {
	Members() []hub.MemberInfo
}

type PositionLister interface {
	ListPositions(ctx context.Context) ([]models.PositionUpdate, error)
}

// WebUI holds what the debug page reads from. Status is optional.
type WebUI struct {
	Registry  MemberLister
	Positions PositionLister
	Status    func() any
	Logger    *slog.Logger
}

type debugData struct {
	Title string
	Pre   string
}

func (webUI *WebUI) writeDebugData(w http.ResponseWriter, title string, data interface{}) {
	content := spew.Sdump(data)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	err := debugTemplate.Execute(w, debugData{
		Title: title,
		Pre:   content,
	})
	if err != nil && webUI.Logger != nil {
		webUI.Logger.Error("failed to render debug page", "error", err)
	}
}

func (webUI *WebUI) debugIndexHandler(w http.ResponseWriter, r *http.Request) {
	dataType := r.URL.Query().Get("dataType")

	var data interface{}
	var title string

	switch dataType {
	case "members":
		data = webUI.Registry.Members()
		title = "Registry - Members"
	case "positions":
		positions, err := webUI.Positions.ListPositions(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		data = positions
		title = "Store - Latest Positions"
	case "status":
		if webUI.Status == nil {
			data = "no status available"
		} else {
			data = webUI.Status()
		}
		title = "Server - Status"
	default:
		data = map[string]string{
			"error": "Please use one of the following: members, positions, status.",
		}
		title = "Choose a data type"
	}

	webUI.writeDebugData(w, title, data)
}
