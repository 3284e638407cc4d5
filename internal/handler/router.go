package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"qkd-mail-service/internal/middleware"
)

// NewRouter はルーターを生成する。metricsがnilの場合は/metricsを公開しない。
func NewRouter(h *KMEHandler, metrics http.Handler) http.Handler {
	r := chi.NewRouter()

	// ミドルウェア
	r.Use(chimiddleware.RequestID)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)

	// ルート定義
	r.Get("/health", h.Health)
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}
	r.Route("/api/v1/keys/{sae_id}", func(r chi.Router) {
		r.Get("/status", h.Status)
		r.Post("/enc_keys", h.EncKeys)
		r.Post("/dec_keys", h.DecKeys)
	})

	return otelhttp.NewHandler(r, "kme",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}
