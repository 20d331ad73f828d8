package server

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/gokatarajesh/live-quiz/internal/auth"
	"github.com/gokatarajesh/live-quiz/internal/auth/jwt"
	"github.com/gokatarajesh/live-quiz/internal/config"
	"github.com/gokatarajesh/live-quiz/internal/logging"
	httperrors "github.com/gokatarajesh/live-quiz/pkg/http/errors"
)

// WSUpgrader handles WebSocket upgrades. Origin checks are delegated to the
// edge proxy; sockets are authenticated by token.
var WSUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Routes are the feature handlers mounted by NewHTTPServer. Nil handlers
// answer 501.
type Routes struct {
	CreateSession http.HandlerFunc
	LiveSocket    http.HandlerFunc
}

// NewHTTPServer wires base routes (health, metrics) and the live-session API.
func NewHTTPServer(cfg *config.App, logger zerolog.Logger, pool *pgxpool.Pool, redis *redis.Client, validator auth.TokenValidator, gatherer prometheus.Gatherer, routes Routes) *http.Server {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_ = httperrors.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	mux.HandleFunc("/v1/ping", func(w http.ResponseWriter, r *http.Request) {
		ctx := logging.IntoContext(r.Context(), logger)
		if err := pingDependencies(ctx, pool, redis); err != nil {
			logging.FromContext(ctx).Error().Err(err).Msg("dependency ping failed")
			httperrors.RespondError(w, http.StatusBadGateway, httperrors.ErrCodeServiceUnavailable, "upstream error")
			return
		}
		_ = httperrors.RespondJSON(w, http.StatusOK, map[string]bool{"pong": true})
	})

	authn := auth.AuthMiddleware(validator, logger)
	mux.Handle("/v1/sessions", authn(auth.RequireRole(jwt.RoleTeacher, orNotImplemented(routes.CreateSession))))

	// WebSocket endpoint; the token travels in the query string.
	mux.Handle("/ws/kahoot", orNotImplemented(routes.LiveSocket))

	return &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: mux,
	}
}

func orNotImplemented(h http.HandlerFunc) http.Handler {
	if h != nil {
		return h
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httperrors.RespondError(w, http.StatusNotImplemented, httperrors.ErrCodeServiceUnavailable, "handler not configured")
	})
}

func pingDependencies(ctx context.Context, pool *pgxpool.Pool, redis *redis.Client) error {
	if err := pool.Ping(ctx); err != nil {
		return err
	}
	if err := redis.Ping(ctx).Err(); err != nil {
		return err
	}
	return nil
}
