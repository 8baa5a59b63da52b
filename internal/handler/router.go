package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/hitoshi/rewear/internal/metrics"
	"github.com/hitoshi/rewear/internal/middleware"
)

// HealthChecker はヘルスチェックで疎通を確認する依存先。
// セルフホスト構成では*sql.DBを渡す。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// ModeReporter は現在のバックエンド構成名を返す。client.Registryが実装する。
type ModeReporter interface {
	Mode() string
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Registry          middleware.ClientRegistry
	Mode              ModeReporter
	Cookies           middleware.CookieConfig
	CORSAllowedOrigin string

	Logger   *slog.Logger
	Metrics  metrics.MetricsCollector
	Gatherer prometheus.Gatherer

	// HealthChecker がnilの場合、/healthは依存先を確認せずに200を返す。
	HealthChecker HealthChecker
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアの実行順序:
//
//	Recovery → otelhttp → Logging → CORS → SecurityHeaders → CSRF → Client
//
// /health と /metrics はCSRFとクライアント解決の外に置く。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	csrfConfig := middleware.CSRFConfig{
		CookieSecure: deps.Cookies.Secure,
		CookieDomain: deps.Cookies.Domain,
		Logger:       logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "rewear.http",
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		)
	})
	r.Use(middleware.NewLoggingMiddleware(logger, deps.Metrics))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewSecurityHeadersMiddleware())

	r.Get("/health", healthHandler(deps.HealthChecker, deps.Mode))
	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))
	}

	authHandler := NewAuthHandler(deps.Cookies, logger)
	itemHandler := NewItemHandler(logger)
	eventsHandler := NewEventsHandler(deps.CORSAllowedOrigin, logger)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.NewCSRFMiddleware(csrfConfig))

		r.Method(http.MethodGet, "/csrf-token", middleware.NewCSRFTokenHandler(csrfConfig))
		r.Get("/catalog", itemHandler.Catalog)

		r.Group(func(r chi.Router) {
			r.Use(middleware.NewClientMiddleware(deps.Registry, deps.Cookies))

			r.Route("/auth", func(r chi.Router) {
				r.Post("/signup", authHandler.SignUp)
				r.Post("/signin", authHandler.SignIn)
				r.Post("/signout", authHandler.SignOut)
				r.Post("/reset-password", authHandler.ResetPassword)
				r.Get("/me", authHandler.Me)
				r.Get("/events", eventsHandler.Stream)
			})

			r.Route("/items", func(r chi.Router) {
				r.Get("/", itemHandler.ListItems)
				r.Post("/", itemHandler.CreateItem)
				r.Patch("/{id}", itemHandler.UpdateItem)
				r.Delete("/{id}", itemHandler.DeleteItem)
			})
		})
	})

	return r
}

type healthResponse struct {
	Status string `json:"status"`
	Mode   string `json:"mode,omitempty"`
}

// healthHandler はヘルスチェックのハンドラーを返す。
// GET /health
func healthHandler(checker HealthChecker, mode ModeReporter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{Status: "ok"}
		if mode != nil {
			resp.Mode = mode.Mode()
		}
		if checker != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
			defer cancel()
			if err := checker.PingContext(ctx); err != nil {
				resp.Status = "unavailable"
				writeJSON(w, http.StatusServiceUnavailable, resp)
				return
			}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
