package handler

import "net/http"

// Handlers groups everything mounted on the public mux. WS and Stats may be
// nil in tests.
type Handlers struct {
	HTTP   *HTTPHandler
	WS     *WSHandler
	Health *HealthHandler
	Stats  *StatsHandler
}

func (h Handlers) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/trips/{id}", h.HTTP.GetTrip)
	mux.HandleFunc("GET /v1/departures/{stop_id}", h.HTTP.GetDepartures)
	mux.HandleFunc("GET /v1/agency/{id}", h.HTTP.GetAgency)
	mux.HandleFunc("GET /v1/stops", h.HTTP.ListStops)
	mux.HandleFunc("GET /v1/stops/{id}", h.HTTP.GetStop)
	mux.HandleFunc("GET /v1/stops/{id}/live", h.HTTP.GetStopLive)

	if h.WS != nil {
		mux.HandleFunc("/v1/ws", h.WS.ServeWS)
	}
	if h.Stats != nil {
		mux.HandleFunc("GET /v1/stats", h.Stats.GetStats)
	}

	mux.HandleFunc("GET /healthz", h.Health.Healthz)
	mux.HandleFunc("GET /readyz", h.Health.Readyz)
}
