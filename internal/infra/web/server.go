package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"mpesa-subscription-billing/internal/usecase"
)

// Server exposes the four reconciliation entry points plus the admin API.
type Server struct {
	paymentUC    usecase.PaymentUseCase
	activationUC usecase.ActivationUseCase
	statusUC     usecase.StatusUseCase
	adminUC      usecase.AdminUseCase
	auth         *AuthManager
	adminSecret  string
	log          *zerolog.Logger

	httpSrv *http.Server
}

func NewServer(
	paymentUC usecase.PaymentUseCase,
	activationUC usecase.ActivationUseCase,
	statusUC usecase.StatusUseCase,
	adminUC usecase.AdminUseCase,
	auth *AuthManager,
	adminSecret string,
	port int,
	logger *zerolog.Logger,
) *Server {
	l := logger.With().Str("component", "WebServer").Logger()
	s := &Server{
		paymentUC:    paymentUC,
		activationUC: activationUC,
		statusUC:     statusUC,
		adminUC:      adminUC,
		auth:         auth,
		adminSecret:  adminSecret,
		log:          &l,
	}
	s.httpSrv = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/payments/stk-push", stkPushHandler(s.paymentUC))
		// The gateway retries on non-200; the callback must always ack.
		r.Post("/payments/callback", callbackHandler(s.activationUC, s.log))
		r.Get("/payments/status", statusHandler(s.statusUC))
		r.Post("/payments/status", statusHandler(s.statusUC))

		r.Post("/admin/session", sessionHandler(s.auth, s.adminSecret))
		r.Group(func(r chi.Router) {
			r.Use(s.auth.Middleware)
			r.Post("/subscriptions/finalize", finalizeHandler(s.activationUC))
			r.Get("/admin/payments", paymentsListHandler(s.adminUC))
		})
	})
	return r
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.httpSrv.Addr).Msg("http server listening")
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}
