package commands

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/wolfeidau/tlslistener/internal/peer"
)

type whoamiResponse struct {
	RemoteAddr string         `json:"remote_addr"`
	Proto      string         `json:"proto"`
	Peer       *peer.Identity `json:"peer,omitempty"`
}

func routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /whoami", whoamiHandler)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

// whoamiHandler reports the connection details the server saw for the caller.
func whoamiHandler(w http.ResponseWriter, r *http.Request) {
	id := peer.FromContext(r.Context())

	ev := zerolog.Ctx(r.Context()).Debug().Str("remote_addr", r.RemoteAddr).Str("proto", r.Proto)
	if id != nil {
		ev = ev.Str("peer_cn", id.CommonName).Bool("verified", id.Verified)
	}
	ev.Msg("whoami")

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(whoamiResponse{
		RemoteAddr: r.RemoteAddr,
		Proto:      r.Proto,
		Peer:       id,
	}); err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("failed to encode response")
	}
}
