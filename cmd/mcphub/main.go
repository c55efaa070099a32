// Command mcphub runs the MCP gateway: it spawns the child servers named
// in a config file (or a single server given on the command line) and
// exposes each as an HTTP-routable MCP endpoint.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/HyphaGroup/mcphub/internal/auth"
	"github.com/HyphaGroup/mcphub/internal/config"
	"github.com/HyphaGroup/mcphub/internal/lifecycle"
	"github.com/HyphaGroup/mcphub/internal/logger"
	"github.com/HyphaGroup/mcphub/internal/mcp"
	"github.com/HyphaGroup/mcphub/internal/metrics"
	"github.com/HyphaGroup/mcphub/internal/watcher"
)

func main() {
	host := flag.String("host", "0.0.0.0", "address to listen on")
	port := flag.Int("port", 8080, "port to listen on")
	apiKey := flag.String("api-key", "", "API key required on every proxied request; empty disables auth")
	corsAllowOrigins := flag.String("cors-allow-origins", "", "comma-separated list of allowed CORS origins")
	configPath := flag.String("config", "", "path to the mcpServers config file")
	serverCmd := flag.String("server", "", "single-server shortcut: command to run as the only mounted server (mutually exclusive with -config)")
	pathPrefix := flag.String("path-prefix", "/", "URL path prefix under which routes are mounted")
	tlsCert := flag.String("tls-cert", "", "TLS certificate file")
	tlsKey := flag.String("tls-key", "", "TLS key file")
	noHotReload := flag.Bool("no-hot-reload", false, "disable the config file watcher")
	flag.Parse()

	if err := logger.InitSlog("logs", os.Getenv("MCPHUB_ENV") == "production"); err != nil {
		fmt.Fprintf(os.Stderr, "mcphub: failed to initialize logging: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.CloseSlog() }()

	if *configPath == "" && *serverCmd == "" {
		fmt.Fprintln(os.Stderr, "mcphub: one of -config or -server is required")
		os.Exit(1)
	}
	if *configPath != "" && *serverCmd != "" {
		fmt.Fprintln(os.Stderr, "mcphub: -config and -server are mutually exclusive")
		os.Exit(1)
	}

	var initial *config.Config
	if *serverCmd != "" {
		parts := strings.Fields(*serverCmd)
		initial = &config.Config{Servers: map[string]config.ServerSpec{
			"server": {Command: parts[0], Args: parts[1:]},
		}}
	} else {
		cfg, err := config.Load(*configPath)
		if err != nil {
			logger.Slog().Error("failed to load config", "error", err)
			os.Exit(1)
		}
		initial = cfg
	}

	table := mcp.NewRouteTable()
	controller := mcp.NewController(table, *pathPrefix, 10*time.Second, lifecycle.IdleTimeout)

	if err := controller.Apply(context.Background(), initial); err != nil {
		logger.Slog().Error("failed to mount initial config", "error", err)
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "healthy", "service": "mcp-hub"})
	})
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/", table)

	var handler http.Handler = mux
	handler = auth.RateLimitMiddleware(auth.DefaultRateLimiter())(handler)
	handler = auth.Middleware(*apiKey)(handler)
	handler = metrics.Middleware(handler)
	if *corsAllowOrigins != "" {
		handler = withCORS(*corsAllowOrigins, handler)
	}

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", *host, *port),
		Handler: handler,
	}

	supervisor := lifecycle.New(table)

	var w *watcher.Watcher
	if !*noHotReload && *configPath != "" {
		var err error
		w, err = watcher.New(*configPath, func(cfg *config.Config) {
			if err := controller.Apply(context.Background(), cfg); err != nil {
				logger.Slog().Error("hot reload failed", "error", err)
			}
		})
		if err != nil {
			logger.Slog().Error("failed to start config watcher", "error", err)
		} else {
			w.Start()
			supervisor.Track(w)
		}
	}

	go func() {
		var err error
		if *tlsCert != "" && *tlsKey != "" {
			err = server.ListenAndServeTLS(*tlsCert, *tlsKey)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			logger.Slog().Error("server error", "error", err)
		}
	}()

	logger.Slog().Info("mcphub listening", "addr", server.Addr)
	supervisor.Track(httpServerCloser{server})
	supervisor.Run(15 * time.Second)
}

// httpServerCloser adapts *http.Server to lifecycle.Closer with a bounded
// shutdown deadline of 5 seconds.
type httpServerCloser struct{ server *http.Server }

func (h httpServerCloser) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return h.server.Shutdown(ctx)
}

// withCORS is a minimal allow-list CORS wrapper; full CORS policy is an
// external collaborator per spec.md §1, this only threads the configured
// origin list through to response headers.
func withCORS(allowOrigins string, next http.Handler) http.Handler {
	origins := strings.Split(allowOrigins, ",")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		for _, allowed := range origins {
			if strings.TrimSpace(allowed) == origin || strings.TrimSpace(allowed) == "*" {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				break
			}
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, x-session-id")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
