package web

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"sync"
	"time"

	"proxyfinder/internal/shared/logger"
	"proxyfinder/internal/shared/types"
)

//go:embed all:static
var staticFiles embed.FS

// loggingListener logs accepted connections at debug level.
type loggingListener struct {
	net.Listener
}

func (l loggingListener) Accept() (net.Conn, error) {
	conn, err := l.Listener.Accept()
	if err == nil {
		logger.Debug().Msgf("[WebServer] Connection accepted from: %s", conn.RemoteAddr())
	}
	return conn, err
}

// Server is the HTTP front end that triggers runs and shows their progress.
type Server struct {
	httpServer *http.Server
	listener   net.Listener
}

// NewMux registers every route of the front end.
func NewMux(handler *Handler, hub *Hub) (*http.ServeMux, error) {
	mux := http.NewServeMux()

	mux.HandleFunc("/start", handler.HandleStart)
	mux.HandleFunc("/stop", handler.HandleStop)
	mux.HandleFunc("/logs", handler.HandleLogs)
	mux.HandleFunc("/status", handler.HandleStatus)
	mux.HandleFunc("/results", handler.HandleResults)

	if hub != nil {
		mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
			ServeWs(hub, w, r)
		})
	}

	// --- 静态文件和主页 ---
	staticFS, err := fs.Sub(staticFiles, "static")
	if err != nil {
		return nil, fmt.Errorf("failed to create sub filesystem for static assets: %w", err)
	}
	fileServer := http.FileServer(http.FS(staticFS))
	mux.Handle("/static/", http.StripPrefix("/static/", fileServer))

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		index, err := staticFiles.ReadFile("static/index.html")
		if err != nil {
			http.Error(w, "Could not load index.html", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write(index)
	})
	return mux, nil
}

// StartServer binds the [web] address and serves in the background. The
// listener is bound synchronously so a port conflict is reported to the caller.
func StartServer(wg *sync.WaitGroup, cfg types.WebConf, handler *Handler, hub *Hub) (*Server, error) {
	l := logger.WithComponent("Web/Server")

	mux, err := NewMux(handler, hub)
	if err != nil {
		return nil, err
	}

	addr := net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to start web UI on %s: %w", addr, err)
	}

	s := &Server{
		httpServer: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		listener: listener,
	}
	l.Info().Msgf("SUCCESS: Web UI is listening on http://%s", listener.Addr())

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := s.httpServer.Serve(loggingListener{Listener: listener}); err != nil && err != http.ErrServerClosed {
			l.Error().Err(err).Msg("Web server error.")
		}
		l.Info().Msg("Web server stopped.")
	}()
	return s, nil
}

// Addr returns the bound address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
