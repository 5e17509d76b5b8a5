package bantutrack

import (
	"encoding/json"
	"net/http"

	"github.com/guetchou/bantudelice-tracking/utils"
)

type healthResponse struct {
	Status      string `json:"status"`
	Time        string `json:"time"`
	Tracks      int    `json:"tracks"`
	Subscribers int    `json:"subscribers"`
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	resp := healthResponse{Status: "ok", Time: utils.Iso8601Now()}
	if core != nil {
		resp.Tracks = core.Registry.Len()
		resp.Subscribers = core.Sessions.Count()
	}
	_ = json.NewEncoder(w).Encode(resp)
}
