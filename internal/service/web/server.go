package web

import (
	"fmt"
	"net"
	"net/http"
	"sync"

	"camrand/internal/shared/logger"
	"camrand/internal/shared/types"
)

// basicAuthMiddleware enforces HTTP Basic Authentication when web_user and
// web_password are configured; otherwise the handler is served as-is.
func basicAuthMiddleware(next http.Handler, user, pass string) http.Handler {
	if user == "" || pass == "" {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || u != user || p != pass {
			w.Header().Set("WWW-Authenticate", `Basic realm="Restricted"`)
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte("Unauthorized.\n"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// StartServer exposes the buffer manager over HTTP: /api/random and
// /api/status are public, /api/seed is auth-protected when credentials are
// configured, and /ws streams status snapshots.
func StartServer(
	wg *sync.WaitGroup,
	cfg *types.Config,
	controller PipelineController,
	hub *Hub,
) {
	l := logger.WithComponent("Web")
	if cfg.LocalConf.WebPort <= 0 {
		l.Info().Msg("Web API is disabled (web_port is 0 or not set).")
		return
	}

	handler := NewHandler(controller, cfg.MixerConf.BlockSize)
	mux := http.NewServeMux()

	webUser := cfg.LocalConf.WebUser
	webPassword := cfg.LocalConf.WebPassword

	mux.HandleFunc("/api/random", handler.HandleRandom)
	mux.HandleFunc("/api/status", handler.HandleStatus)
	mux.Handle("/api/seed", basicAuthMiddleware(http.HandlerFunc(handler.HandleSeed), webUser, webPassword))

	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, w, r)
	})

	addr := fmt.Sprintf("0.0.0.0:%d", cfg.LocalConf.WebPort)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		l.Error().Err(err).Str("addr", addr).Msg("Failed to start web API listener.")
		return
	}

	l.Info().Msgf("Web API is listening on http://%s", addr)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := http.Serve(listener, mux); err != nil && err != http.ErrServerClosed {
			l.Error().Err(err).Msg("Web server error.")
		}
		l.Info().Msg("Web server stopped.")
	}()
}
