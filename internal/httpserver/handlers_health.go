package httpserver

import (
	"net/http"
	"time"
)

type healthResponse struct {
	Status        string    `json:"status"`
	Uptime        string    `json:"uptime"`
	ActiveFlows   int       `json:"activeFlows"`
	GuestSessions int       `json:"guestSessions"`
	ServerTime    time.Time `json:"serverTime"`
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status: "ok",
		Uptime: time.Since(serverStartTime).Round(time.Second).String(),
	}
	if h.Flows != nil {
		resp.ActiveFlows = h.Flows.Len()
	}
	if h.Guests != nil {
		resp.GuestSessions = h.Guests.Len()
	}
	if h.Resolver != nil {
		resp.ServerTime = h.Resolver.ServerNow()
	} else {
		resp.ServerTime = time.Now().UTC()
	}
	writeJSON(w, http.StatusOK, resp)
}
