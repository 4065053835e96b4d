package api

import "net/http"

type healthResponse struct {
	Status      string `json:"status"`
	Uptime      int64  `json:"uptime"`
	DBSizeBytes int64  `json:"db_size_bytes"`
	SSEClients  int    `json:"sse_clients"`
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:      "ok",
		Uptime:      int64(h.state.Uptime().Seconds()),
		DBSizeBytes: h.state.Store.DBSizeBytes(h.state.Config.DBPath),
		SSEClients:  h.state.Hub.ClientCount(),
	})
}
