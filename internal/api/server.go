package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
)

const shutdownTimeout = 5 * time.Second

func NewAPI(cfg Config) *API {
	return &API{
		backend:       cfg.Backend,
		challenges:    cfg.Challenges,
		metrics:       cfg.Metrics,
		userPubkey:    cfg.UserPubkey,
		allowedOrigin: cfg.AllowedOrigin,
		jwtKey:        cfg.JWTKey,
		logger:        cfg.Logger.With().Str("component", "api").Logger(),
		now:           time.Now,
	}
}

// Router wires every route. Operator routes sit behind the JWT check;
// login, health and metrics do not.
func (a *API) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(a.ErrorMiddleware, a.RequestIDMiddleware, a.LoggingMiddleware, a.CORSMiddleware)

	r.HandleFunc("/challenge", a.HandleChallengeRequest).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/verify", a.VerifyChallenge).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/health", a.HandleHealth).Methods(http.MethodGet)
	if a.metrics != nil {
		r.Handle("/metrics", a.metrics.Handler()).Methods(http.MethodGet)
	}

	protected := r.NewRoute().Subrouter()
	protected.Use(a.JWTMiddleware)
	protected.HandleFunc("/status", a.HandleStatus).Methods(http.MethodGet)
	protected.HandleFunc("/requests", a.HandleListRequests).Methods(http.MethodGet)
	protected.HandleFunc("/requests/{id}/approve", a.HandleApprove).Methods(http.MethodPost)
	protected.HandleFunc("/requests/{id}/reject", a.HandleReject).Methods(http.MethodPost)
	protected.HandleFunc("/connections", a.HandleListConnections).Methods(http.MethodGet)
	protected.HandleFunc("/connect", a.HandleConnect).Methods(http.MethodPost)
	protected.HandleFunc("/refresh", a.HandleRefresh).Methods(http.MethodPost)
	protected.HandleFunc("/sweep", a.HandleSweep).Methods(http.MethodPost)

	return r
}

// Serve listens on port until ctx is cancelled, then shuts down gracefully.
func (a *API) Serve(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(port),
		Handler:           a.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info().Int("port", port).Msg("starting HTTP server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		a.logger.Info().Msg("shutting down HTTP server")
		return srv.Shutdown(shutdownCtx)
	}
}
