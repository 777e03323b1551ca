package web

import (
	"fmt"
	"net"
	"net/http"
	"sync"

	"irproxy_pool/internal/shared/logger"
	"irproxy_pool/internal/shared/types"
)

// basicAuthMiddleware 检查 web.user 和 web.password 是否已配置。
// 如果配置了，它将强制执行 HTTP Basic Authentication。
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

// NewMux wires the subscription endpoints.
func NewMux(cfg types.WebConf, handler *Handler, hub *Hub) *http.ServeMux {
	mux := http.NewServeMux()

	mux.Handle("/subscription", basicAuthMiddleware(http.HandlerFunc(handler.HandleSubscription), cfg.User, cfg.Password))
	mux.Handle("/clash.yaml", basicAuthMiddleware(http.HandlerFunc(handler.HandleClash), cfg.User, cfg.Password))

	// 公开的状态 API 与推送
	mux.HandleFunc("/api/status", handler.HandleStatus)
	if hub != nil {
		mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
			ServeWs(hub, w, r)
		})
	}
	return mux
}

// StartServer listens on web.port and serves in the background. It returns nil when the
// server is disabled.
func StartServer(wg *sync.WaitGroup, cfg types.WebConf, handler *Handler, hub *Hub) (*http.Server, error) {
	l := logger.WithComponent("Web/Server")
	if cfg.Port <= 0 {
		l.Info().Msg("Subscription server is disabled (web.port is 0 or not set).")
		return nil, nil
	}

	addr := fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	srv := &http.Server{Handler: NewMux(cfg, handler, hub)}
	l.Info().Msgf("Subscription server is listening on http://%s", addr)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := srv.Serve(listener); err != nil && err != http.ErrServerClosed {
			l.Error().Err(err).Msg("Web server error.")
		}
		l.Info().Msg("Web server stopped.")
	}()
	return srv, nil
}
