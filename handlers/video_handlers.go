package handlers

import (
	"net/http"

	"channel-sync-backend/models"
	"channel-sync-backend/state"

	"github.com/gorilla/mux"
)

// SetupVideoRoutes configures the per-channel video queue routes.
func SetupVideoRoutes(router *mux.Router, cm *state.ChannelManager) {
	router.HandleFunc("/api/channels/{name}/videos", ListVideosHandler(cm)).Methods("GET")
	router.HandleFunc("/api/channels/{name}/videos", AddVideoHandler(cm)).Methods("POST")
	router.HandleFunc("/api/channels/{name}/videos/{id}", UpdateVideoHandler(cm)).Methods("PATCH")
	router.HandleFunc("/api/channels/{name}/videos/{id}", RemoveVideoHandler(cm)).Methods("DELETE")
}

// AddVideoRequest is the body of POST /api/channels/{name}/videos.
type AddVideoRequest struct {
	URL string `json:"url"`
	models.VideoMeta
}

// ListVideosHandler returns the channel's queue ordered by added time.
func ListVideosHandler(cm *state.ChannelManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		videos, err := cm.ListVideos(r.Context(), mux.Vars(r)["name"])
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, videos)
	}
}

// AddVideoHandler queues a video; 201 when new, 200 with the existing record for a duplicate url.
func AddVideoHandler(cm *state.ChannelManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AddVideoRequest
		if err := decodeBody(w, r, &req); err != nil {
			writeError(w, err)
			return
		}
		v, created, err := cm.AddVideo(r.Context(), mux.Vars(r)["name"], req.URL, req.VideoMeta)
		if err != nil {
			writeError(w, err)
			return
		}
		status := http.StatusOK
		if created {
			status = http.StatusCreated
		}
		writeJSON(w, status, v)
	}
}

// UpdateVideoHandler merges the supplied fields into a video.
func UpdateVideoHandler(cm *state.ChannelManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		var patch models.VideoPatch
		if err := decodeBody(w, r, &patch); err != nil {
			writeError(w, err)
			return
		}
		v, err := cm.UpdateVideo(r.Context(), vars["name"], vars["id"], patch)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, v)
	}
}

// RemoveVideoHandler deletes a video. Unknown ids also answer 204.
func RemoveVideoHandler(cm *state.ChannelManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		if _, err := cm.RemoveVideo(r.Context(), vars["name"], vars["id"]); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
