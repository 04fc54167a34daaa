package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var (
	errTokenMissing = errors.New("bearer token required")
	errTokenInvalid = errors.New("invalid token")
)

// authEnabled reports whether a JWT secret is configured.
func (s *Server) authEnabled() bool {
	return s.secCfg.JWT.Secret != ""
}

// authMiddleware requires a valid HS256 bearer token when a secret is
// configured. The token may also be passed as the "token" query parameter,
// which browsers need for WebSocket upgrades.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.authEnabled() {
			next.ServeHTTP(w, r)
			return
		}

		subject, err := s.authenticate(r)
		if err != nil {
			s.logger.Debug("request rejected", "path", r.URL.Path, "error", err)
			writeUnauthorized(w, err.Error())
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeySubject, subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// authenticate validates the request's token and returns its subject.
func (s *Server) authenticate(r *http.Request) (string, error) {
	raw := bearerToken(r)
	if raw == "" {
		return "", errTokenMissing
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if s.secCfg.JWT.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.secCfg.JWT.Issuer))
	}

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(_ *jwt.Token) (any, error) {
		return []byte(s.secCfg.JWT.Secret), nil
	}, opts...)
	if err != nil || !token.Valid {
		return "", errTokenInvalid
	}
	if claims.Subject == "" {
		return "", errTokenInvalid
	}
	return claims.Subject, nil
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") {
			return ""
		}
		return strings.TrimSpace(token)
	}
	return r.URL.Query().Get("token")
}

// subjectFrom returns the authenticated subject, or "anonymous" when
// authentication is disabled.
func subjectFrom(ctx context.Context) string {
	if sub, ok := ctx.Value(ctxKeySubject).(string); ok && sub != "" {
		return sub
	}
	return "anonymous"
}
