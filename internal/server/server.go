// Package server собирает HTTP-периметр шлюза: колбэк Slack за проверкой подписи,
// MCP-транспорт инструментов, healthcheck и метрики.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/xela07ax/approval-gateway/internal/engine"
	"github.com/xela07ax/approval-gateway/internal/infra"
	"github.com/xela07ax/approval-gateway/internal/metrics"
	"github.com/xela07ax/approval-gateway/internal/webhook"
	"go.uber.org/zap"
)

type Options struct {
	CallbackPath string
	MCPPath      string
	MCP          http.Handler // nil — MCP-транспорт выключен
}

type GatewayServer struct {
	router *chi.Mux
	logger *zap.Logger
	opts   Options

	verifier *webhook.Verifier
	callback http.HandlerFunc
	gatherer prometheus.Gatherer
	metrics  *metrics.Metrics
}

// NewGatewayServer. Отказы verifier считаются в gateway_callbacks_total{outcome="rejected"}.
func NewGatewayServer(
	opts Options,
	logger *zap.Logger,
	verifier *webhook.Verifier,
	callback http.HandlerFunc,
	gatherer prometheus.Gatherer,
	m *metrics.Metrics,
) *GatewayServer {
	if m == nil {
		m = metrics.New(nil)
	}
	s := &GatewayServer{
		router:   chi.NewRouter(),
		logger:   logger.Named("gateway-api"),
		opts:     opts,
		verifier: verifier,
		callback: callback,
		gatherer: gatherer,
		metrics:  m,
	}
	s.verifier.OnReject(func(*http.Request, error) {
		s.metrics.Callbacks.WithLabelValues(engine.OutcomeRejected).Inc()
	})

	s.routes()
	return s
}

func (s *GatewayServer) routes() {
	r := s.router

	// --- 1. Глобальные инфраструктурные Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(infra.TracingMiddleware)

	// --- 2. Служебные роуты ---
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	// --- 3. Колбэк администратора: только с валидной подписью ---
	r.Group(func(r chi.Router) {
		r.Use(s.verifier.Middleware)
		r.Post(s.opts.CallbackPath, s.callback)
	})

	// --- 4. Инструменты для ассистента ---
	if s.opts.MCP != nil {
		r.Handle(s.opts.MCPPath, s.opts.MCP)
	}

	s.logger.Info("routes registered",
		zap.String("callback", s.opts.CallbackPath),
		zap.Bool("mcp", s.opts.MCP != nil),
	)
}

// ServeHTTP позволяет использовать GatewayServer как стандартный http.Handler
func (s *GatewayServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
