package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/menta2k/cryptonet/pkg/engine"
)

const testJWTSecret = "test-secret"

func buildTestToken(t *testing.T, subject string, audience ...string) string {
	t.Helper()

	return signClaims(t, jwt.RegisteredClaims{
		Subject:   subject,
		Audience:  audience,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
}

func signClaims(t *testing.T, claims jwt.RegisteredClaims) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func TestAuthGuardsV1Routes(t *testing.T) {
	srv, _ := newTestServer(t, Options{AuthSecret: testJWTSecret, AuthAudience: "cryptonet"})
	router := srv.Router()

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"garbage token", "Bearer abc", http.StatusUnauthorized},
		{"wrong audience", "Bearer " + buildTestToken(t, "user-1", "other"), http.StatusUnauthorized},
		{"missing subject", "Bearer " + buildTestToken(t, "", "cryptonet"), http.StatusUnauthorized},
		{"expired", "Bearer " + signClaims(t, jwt.RegisteredClaims{
			Subject:   "user-1",
			Audience:  jwt.ClaimStrings{"cryptonet"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		}), http.StatusUnauthorized},
		{"no expiry", "Bearer " + signClaims(t, jwt.RegisteredClaims{
			Subject:  "user-1",
			Audience: jwt.ClaimStrings{"cryptonet"},
		}), http.StatusUnauthorized},
		{"valid", "Bearer " + buildTestToken(t, "user-1", "cryptonet"), http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp := httptest.NewRecorder()
			router.ServeHTTP(resp, req)
			if resp.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, resp.Code, resp.Body.String())
			}
		})
	}
}

func TestHealthIsPublic(t *testing.T) {
	srv, _ := newTestServer(t, Options{AuthSecret: testJWTSecret})
	resp := httptest.NewRecorder()
	srv.Router().ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/health", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		token  string
		ok     bool
	}{
		{"Bearer   ", "", false},
		{"Bearer", "", false},
		{"Token abc", "", false},
		{"bearer abc", "abc", true},
		{"  Bearer  abc  ", "abc", true},
	}
	for _, tt := range tests {
		token, ok := bearerToken(tt.header)
		if token != tt.token || ok != tt.ok {
			t.Errorf("bearerToken(%q) = %q, %v; want %q, %v", tt.header, token, ok, tt.token, tt.ok)
		}
	}
}

func TestGetSubject(t *testing.T) {
	if _, ok := GetSubject(context.Background()); ok {
		t.Error("expected no subject on a bare context")
	}
	ctx := context.WithValue(context.Background(), subjectKey{}, "user-7")
	if subject, ok := GetSubject(ctx); !ok || subject != "user-7" {
		t.Errorf("unexpected subject %q %v", subject, ok)
	}
}

func TestRequestLogCarriesSubject(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	srv, _ := newTestServer(t, Options{AuthSecret: testJWTSecret})
	srv.logger = zap.New(core)

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	req.Header.Set("Authorization", "Bearer "+buildTestToken(t, "user-1"))
	resp := httptest.NewRecorder()
	srv.Router().ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}

	entries := logs.FilterMessage("request").All()
	if len(entries) != 1 {
		t.Fatalf("expected one request entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["subject"] != "user-1" {
		t.Errorf("expected subject user-1, got %v", fields["subject"])
	}
	if fields["path"] != "/v1/models" {
		t.Errorf("unexpected path %v", fields["path"])
	}
}

func TestRequestLogCarriesFailure(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	srv, eng := newTestServer(t, Options{})
	srv.logger = zap.New(core)
	eng.Fail(engine.OpUserEnroll)

	resp := postImage(t, srv.Router(), "/v1/enroll", "image/png", encodePNG(t), "")
	if resp.Code == http.StatusOK {
		t.Fatalf("expected failure, got 200: %s", resp.Body.String())
	}

	entries := logs.FilterMessage("request").All()
	if len(entries) != 1 {
		t.Fatalf("expected one request entry, got %d", len(entries))
	}
	failure, ok := entries[0].ContextMap()["failure"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected failure object, got %v", entries[0].ContextMap())
	}
	if failure["stage"] != "engine" || failure["operation"] != "cryptonet.enroll" {
		t.Errorf("unexpected failure fields %v", failure)
	}
	if _, hasSubject := entries[0].ContextMap()["subject"]; hasSubject {
		t.Error("unauthenticated request should not log a subject")
	}
}
