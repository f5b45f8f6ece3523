package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

// NewProxy creates the reverse proxy to the marketplace application.
// Transport failures become a 502 (504 on timeout) JSON error in the same
// shape the application uses.
func NewProxy(target *url.URL, transport http.RoundTripper, logger zerolog.Logger) *httputil.ReverseProxy {
	logger = logger.With().Str("component", "proxy").Logger()

	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
		},
		Transport: transport,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			if errors.Is(err, context.Canceled) {
				// client went away; nothing to answer
				return
			}

			status := http.StatusBadGateway
			if errors.Is(err, context.DeadlineExceeded) {
				status = http.StatusGatewayTimeout
			}

			ev := logger.Error().Err(err).Str("path", r.URL.Path)
			if id, ok := hlog.IDFromRequest(r); ok {
				ev = ev.Stringer("req_id", id)
			}
			ev.Msg("upstream request failed")
			writeJSON(w, status, errorBody{Success: false, Error: "Upstream unavailable"})
		},
	}
}

type errorBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
