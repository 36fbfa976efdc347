package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/aiguesbcn/aigues/pkg/aigues"
	"github.com/aiguesbcn/aigues/pkg/log"
	"github.com/aiguesbcn/aigues/pkg/storage"
	"github.com/aiguesbcn/aigues/pkg/syncer"
	"github.com/aiguesbcn/aigues/pkg/types"
	"github.com/levenlabs/go-lflag"
)

// waterClient is the provider client the handlers call.
type waterClient interface {
	Provider() types.ProviderID
	ResolveContract(ctx context.Context, contract string) (string, error)
	Profile(ctx context.Context, user string) (types.Profile, bool, error)
	Contracts(ctx context.Context, q aigues.ContractsQuery) ([]types.Contract, error)
	Invoices(ctx context.Context, q aigues.InvoicesQuery) ([]types.Invoice, error)
	Consumptions(ctx context.Context, q aigues.ConsumptionsQuery) ([]types.ConsumptionSample, error)
	ConsumptionsWeek(ctx context.Context, ref time.Time, contract, user string) ([]types.ConsumptionSample, error)
	ConsumptionsMonth(ctx context.Context, ref time.Time, contract, user string) ([]types.ConsumptionSample, error)
}

var _ waterClient = (*aigues.Client)(nil)

// Server exposes the provider data and the stored history as a JSON API for
// home automation platforms.
type Server struct {
	client  waterClient
	storage storage.Database
	syncer  *syncer.Syncer

	listenAddr string
	httpServer *http.Server
	serverName string

	oidcVerifiers       map[string]tokenVerifier
	updateSpecificEmail string
	adminEmails         []string
	bypassAuth          bool
}

// Configured initializes the Server with dependencies.
// It uses lflag to register command-line flags for configuration.
func Configured(c *aigues.Client, db storage.Database, sy *syncer.Syncer) *Server {
	srv := &Server{
		client:     c,
		storage:    db,
		syncer:     sy,
		serverName: "aigues",
	}
	revision := os.Getenv("K_REVISION")
	if revision != "" {
		srv.serverName = revision
	}

	// get the port from PORT when running in cloud run
	port := os.Getenv("PORT")
	if port == "" {
		// otherwise default to 8080
		port = "8080"
	}

	listenAddr := lflag.String("http-listen", ":"+port, "HTTP server listen address")
	updateSpecificEmail := lflag.String("update-specific-email", "", "email allowed to trigger POST /api/sync")
	adminEmails := lflag.String("admin-emails", "", "comma-delimited list of email addresses allowed to use the api")
	oidcAudience := lflag.String("oidc-audience", "", "audience to validate Google ID tokens against")
	updateSpecificAudience := lflag.String("update-specific-audience", "", "Google-specific audience to validate for POST /api/sync")
	bypassAuth := lflag.Bool("bypass-auth", false, "Serve the api without authentication (local development only)")

	lflag.Do(func() {
		ctx := context.Background()
		srv.listenAddr = *listenAddr
		srv.updateSpecificEmail = *updateSpecificEmail
		if *adminEmails != "" {
			srv.adminEmails = strings.Split(*adminEmails, ",")
			for i, email := range srv.adminEmails {
				srv.adminEmails[i] = strings.TrimSpace(email)
			}
		}
		srv.oidcVerifiers = map[string]tokenVerifier{}
		audiences := map[string]string{
			googleClient:         *oidcAudience,
			updateSpecificClient: *updateSpecificAudience,
		}
		for name, audience := range audiences {
			if audience == "" {
				continue
			}
			verifier, err := newVerifier(ctx, googleIssuer, audience)
			if err != nil {
				log.Ctx(ctx).Error("failed to initialize Google OIDC provider", slog.Any("error", err))
				os.Exit(1)
			}
			srv.oidcVerifiers[name] = verifier
		}
		srv.bypassAuth = *bypassAuth
		if srv.bypassAuth {
			log.Ctx(ctx).Warn("authentication is disabled")
		} else if len(srv.oidcVerifiers) == 0 {
			log.Ctx(ctx).Warn("no oidc audience configured, every api request will be rejected")
		}
	})

	return srv
}

func (s *Server) setupHandler() http.Handler {
	apiMux := http.NewServeMux()
	apiMux.HandleFunc("GET /api/providers", s.handleProviders)
	apiMux.HandleFunc("GET /api/profile", s.handleProfile)
	apiMux.HandleFunc("GET /api/contracts", s.handleContracts)
	apiMux.HandleFunc("GET /api/invoices", s.handleInvoices)
	apiMux.HandleFunc("GET /api/consumptions", s.handleConsumptions)
	apiMux.HandleFunc("GET /api/consumptions/week", s.handleConsumptionsWeek)
	apiMux.HandleFunc("GET /api/consumptions/month", s.handleConsumptionsMonth)
	apiMux.HandleFunc("GET /api/history/consumptions", s.handleHistoryConsumptions)
	apiMux.HandleFunc("GET /api/history/invoices", s.handleHistoryInvoices)
	apiMux.HandleFunc("GET /api/sync", s.handleSyncState)
	apiMux.HandleFunc("POST /api/sync", s.handleSync)

	mux := http.NewServeMux()
	mux.Handle("/api/", s.authMiddleware(apiMux))
	mux.HandleFunc("/healthz", s.handleHealthz)
	return s.revisionMiddleware(gziphandler.GzipHandler(s.securityHeadersMiddleware(mux)))
}

// Run starts the HTTP server and blocks until the context is canceled or an error occurs.
// It also handles graceful shutdown when the context is done.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.listenAddr,
		Handler:      s.setupHandler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  15 * time.Second,
	}

	// use a channel to capturing server errors
	errChan := make(chan error, 1)
	go func() {
		defer close(errChan)
		log.Ctx(ctx).InfoContext(ctx, "starting server", slog.String("addr", s.listenAddr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		// Context canceled, shut down gracefully
		log.Ctx(ctx).InfoContext(ctx, "shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func writeJSONError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(struct {
		Error string `json:"error"`
	}{Error: msg}); err != nil {
		slog.Warn("failed to write error response", slog.Any("error", err))
		panic(http.ErrAbortHandler)
	}
}

// errorStatus maps a client error to the status returned to our caller.
// Failures on the provider side are reported as a bad gateway.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, aigues.ErrAmbiguousContract):
		return http.StatusBadRequest
	case errors.Is(err, aigues.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, aigues.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, aigues.ErrSessionCookieRequired),
		errors.Is(err, aigues.ErrNotAuthenticated),
		errors.Is(err, aigues.ErrAuthentication),
		errors.Is(err, aigues.ErrDenied),
		errors.Is(err, aigues.ErrBadRequest),
		errors.Is(err, aigues.ErrServer),
		errors.Is(err, aigues.ErrUnexpectedResponse):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// writeClientError logs and writes a provider call failure.
func writeClientError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	ctx := r.Context()
	code := errorStatus(err)
	if code >= http.StatusInternalServerError {
		log.Ctx(ctx).ErrorContext(ctx, msg, slog.Any("error", err))
	} else {
		log.Ctx(ctx).WarnContext(ctx, msg, slog.Any("error", err))
	}
	writeJSONError(w, msg+": "+err.Error(), code)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) revisionMiddleware(next http.Handler) http.Handler {
	if s.serverName == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", s.serverName)
		next.ServeHTTP(w, r)
	})
}
