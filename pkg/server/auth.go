package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aiguesbcn/aigues/pkg/log"
	"github.com/coreos/go-oidc/v3/oidc"
)

const (
	googleIssuer = "https://accounts.google.com"

	// googleClient verifies tokens for the whole api.
	googleClient = "google"
	// updateSpecificClient verifies tokens minted for the scheduler that
	// triggers POST /api/sync.
	updateSpecificClient = "google_update_specific"
)

// tokenVerifier is a function that validates a Google ID Token.
type tokenVerifier func(ctx context.Context, rawIDToken string) (*oidc.IDToken, error)

// newVerifier discovers issuer and returns a verifier for tokens issued to
// audience.
func newVerifier(ctx context.Context, issuer, audience string) (tokenVerifier, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize oidc provider (%s): %w", issuer, err)
	}
	return provider.Verifier(&oidc.Config{ClientID: audience}).Verify, nil
}

func isSyncRequest(r *http.Request) bool {
	return r.Method == http.MethodPost && r.URL.Path == "/api/sync"
}

// authMiddleware requires a Google ID token in the Authorization header. Reads
// are limited to admin emails; a sync may also be triggered by the
// update-specific email.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		ctx = log.With(ctx, log.Ctx(ctx).With(slog.String("reqPath", r.URL.Path)))

		if s.bypassAuth {
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			log.Ctx(ctx).WarnContext(ctx, "unauthenticated request")
			writeJSONError(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if !strings.HasPrefix(authHeader, "Bearer ") {
			log.Ctx(ctx).WarnContext(ctx, "invalid auth header")
			writeJSONError(w, "invalid auth header", http.StatusBadRequest)
			return
		}
		token := strings.TrimPrefix(authHeader, "Bearer ")

		sync := isSyncRequest(r)
		specificClient := googleClient
		if sync {
			// the scheduler's audience or the regular one
			specificClient = ""
		}
		email, subject, err := s.authenticateToken(ctx, token, specificClient)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "token validation failed", slog.Any("error", err))
			writeJSONError(w, "invalid auth token", http.StatusUnauthorized)
			return
		}
		if !s.emailAllowed(email, sync) {
			log.Ctx(ctx).WarnContext(ctx, "email not allowed", slog.String("email", email), slog.Bool("sync", sync))
			writeJSONError(w, "forbidden", http.StatusForbidden)
			return
		}

		ctx = log.With(ctx, log.Ctx(ctx).With(slog.String("authUserID", subject)))
		log.Ctx(ctx).DebugContext(ctx, "authenticated request", slog.String("email", email))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) emailAllowed(email string, sync bool) bool {
	if email == "" {
		return false
	}
	if sync && s.updateSpecificEmail != "" && subtle.ConstantTimeCompare([]byte(email), []byte(s.updateSpecificEmail)) == 1 {
		return true
	}
	for _, admin := range s.adminEmails {
		if email == admin {
			return true
		}
	}
	return false
}

// authenticateToken returns the email and subject of a valid token. An empty
// specificClient tries every verifier.
func (s *Server) authenticateToken(ctx context.Context, token string, specificClient string) (string, string, error) {
	var errs []error

	for providerName, verifier := range s.oidcVerifiers {
		if specificClient != "" && providerName != specificClient {
			continue
		}
		idToken, err := verifier(ctx, token)
		if err == nil {
			var claims struct {
				Email         string `json:"email"`
				EmailVerified *bool  `json:"email_verified"`
			}
			err = idToken.Claims(&claims)
			if err == nil && claims.EmailVerified != nil && !*claims.EmailVerified {
				err = errors.New("email not verified")
			}
			if err == nil {
				return claims.Email, idToken.Subject, nil
			}
		}
		errs = append(errs, fmt.Errorf("%s verifier failed: %v", providerName, err))
	}

	if len(errs) > 1 {
		return "", "", errors.Join(errs...)
	}
	if len(errs) == 1 {
		return "", "", errs[0]
	}
	return "", "", errors.New("no valid audiences configured or token invalid")
}
