package api

import (
	"net/http"
	"testing"
	"time"
)

func TestAuth_DisabledWithoutSecret(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodPost, "/api/v1/devices", `{"name":"Hall Sensor","node_id":4}`)
	if w.Code != http.StatusCreated {
		t.Errorf("create status = %d, want %d", w.Code, http.StatusCreated)
	}
}

func TestAuth_MutatingRoutes(t *testing.T) {
	env := newTestEnv(t, withSecret(testSecret))
	body := `{"name":"Hall Sensor","node_id":4}`

	tests := []struct {
		name     string
		header   string
		wantCode int
	}{
		{"missing token", "", http.StatusUnauthorized},
		{"malformed token", "Bearer not-a-jwt", http.StatusUnauthorized},
		{"wrong secret", "Bearer " + signToken(t, "another-secret-of-sufficient-length", "alice", time.Hour), http.StatusUnauthorized},
		{"expired", "Bearer " + signToken(t, testSecret, "alice", -time.Minute), http.StatusUnauthorized},
		{"no subject", "Bearer " + signToken(t, testSecret, "", time.Hour), http.StatusUnauthorized},
		{"valid", "Bearer " + signToken(t, testSecret, "alice", time.Hour), http.StatusCreated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var headers []string
			if tt.header != "" {
				headers = []string{"Authorization", tt.header}
			}
			w := env.do(http.MethodPost, "/api/v1/devices", body, headers...)
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d; body: %s", w.Code, tt.wantCode, w.Body.String())
			}
			if tt.wantCode == http.StatusUnauthorized {
				if got := decode[Error](t, w).Code; got != ErrCodeUnauthorized {
					t.Errorf("code = %q, want %q", got, ErrCodeUnauthorized)
				}
			}
		})
	}
}

func TestAuth_ReadsStayOpen(t *testing.T) {
	env := newTestEnv(t, withSecret(testSecret))

	for _, path := range []string{"/api/v1/health", "/api/v1/devices", "/api/v1/firmware"} {
		if w := env.do(http.MethodGet, path, ""); w.Code != http.StatusOK {
			t.Errorf("GET %s status = %d, want %d", path, w.Code, http.StatusOK)
		}
	}
}

func TestAuth_QueryToken(t *testing.T) {
	env := newTestEnv(t, withSecret(testSecret))
	token := signToken(t, testSecret, "dashboard", time.Hour)

	w := env.do(http.MethodPost, "/api/v1/devices?token="+token, `{"name":"Hall Sensor","node_id":4}`)
	if w.Code != http.StatusCreated {
		t.Errorf("status = %d, want %d", w.Code, http.StatusCreated)
	}
}

func TestAuth_Issuer(t *testing.T) {
	env := newTestEnv(t, withSecret(testSecret), func(d *Deps) { d.Security.JWT.Issuer = "gray-logic" })

	// signToken sets no issuer.
	w := env.do(http.MethodPost, "/api/v1/devices", `{"name":"Hall Sensor","node_id":4}`,
		"Authorization", "Bearer "+signToken(t, testSecret, "alice", time.Hour))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		name   string
		header string
		query  string
		want   string
	}{
		{"header", "Bearer abc", "", "abc"},
		{"lowercase scheme", "bearer abc", "", "abc"},
		{"query", "", "xyz", "xyz"},
		{"header wins", "Bearer abc", "xyz", "abc"},
		{"other scheme", "Basic dXNlcg==", "", ""},
		{"none", "", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := "/api/v1/ws"
			if tt.query != "" {
				target += "?token=" + tt.query
			}
			req, _ := http.NewRequest(http.MethodGet, target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			if got := bearerToken(req); got != tt.want {
				t.Errorf("bearerToken() = %q, want %q", got, tt.want)
			}
		})
	}
}
