package handlers

import (
	"context"
	"net/http"
	"time"

	"channel-sync-backend/state"

	"github.com/gorilla/mux"
)

// SetupChannelRoutes configures the routes related to channels and their selection.
func SetupChannelRoutes(router *mux.Router, cm *state.ChannelManager) {
	router.HandleFunc("/api/channels", ListChannelsHandler(cm)).Methods("GET")
	router.HandleFunc("/api/channels", CreateChannelHandler(cm)).Methods("POST")
	router.HandleFunc("/api/channels/{name}/selection", GetSelectionHandler(cm)).Methods("GET")
	router.HandleFunc("/api/channels/{name}/selection", PutSelectionHandler(cm)).Methods("PUT")
}

// Pinger reports backend health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SetupHealthRoute registers GET /api/health backed by p.
func SetupHealthRoute(router *mux.Router, p Pinger) {
	router.HandleFunc("/api/health", HealthHandler(p)).Methods("GET")
}

type createChannelRequest struct {
	Name string `json:"name"`
}

type channelResponse struct {
	Name    string `json:"name"`
	Created bool   `json:"created"`
}

// SelectionResponse is the body of the selection endpoints. A nil VideoID means none.
type SelectionResponse struct {
	ChannelName string  `json:"channelName"`
	VideoID     *string `json:"videoId"`
}

type selectRequest struct {
	VideoID string `json:"videoId"`
}

// ListChannelsHandler returns every channel name.
func ListChannelsHandler(cm *state.ChannelManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		names, err := cm.ListChannels(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, names)
	}
}

// CreateChannelHandler creates an empty channel; 201 when new, 200 when it existed.
func CreateChannelHandler(cm *state.ChannelManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createChannelRequest
		if err := decodeBody(w, r, &req); err != nil {
			writeError(w, err)
			return
		}
		created, err := cm.CreateChannel(r.Context(), req.Name)
		if err != nil {
			writeError(w, err)
			return
		}
		status := http.StatusOK
		if created {
			status = http.StatusCreated
		}
		writeJSON(w, status, channelResponse{Name: req.Name, Created: created})
	}
}

// GetSelectionHandler returns the channel's current selection.
func GetSelectionHandler(cm *state.ChannelManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := mux.Vars(r)["name"]
		id, err := cm.Selection(r.Context(), name)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, selectionResponse(name, id))
	}
}

// PutSelectionHandler selects a video on the channel.
func PutSelectionHandler(cm *state.ChannelManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := mux.Vars(r)["name"]
		var req selectRequest
		if err := decodeBody(w, r, &req); err != nil {
			writeError(w, err)
			return
		}
		id, err := cm.SelectVideo(r.Context(), name, req.VideoID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, selectionResponse(name, id))
	}
}

// HealthHandler answers 200 when the store responds and 503 otherwise.
func HealthHandler(p Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func selectionResponse(name, id string) SelectionResponse {
	resp := SelectionResponse{ChannelName: name}
	if id != "" {
		resp.VideoID = &id
	}
	return resp
}
