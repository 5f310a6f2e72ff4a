package rest

import (
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestJWTMiddleware_InjectsClaims(t *testing.T) {
	priv, pub := generateRouterTestKey(t)

	var gotSubject string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, ok := ClaimsFromContext(r.Context())
		if !ok {
			t.Error("claims missing from context")
			return
		}
		gotSubject = c.Subject
		w.WriteHeader(http.StatusNoContent)
	})
	h := JWTMiddleware(JWTConfig{PublicKey: pub})(next)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/files", nil)
	req.Header.Set("Authorization", signToken(t, priv, jwt.RegisteredClaims{
		Subject:   "operator",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if gotSubject != "operator" {
		t.Errorf("subject = %q, want operator", gotSubject)
	}
}

func TestJWTMiddleware_RejectsHS256(t *testing.T) {
	_, pub := generateRouterTestKey(t)
	h := JWTMiddleware(JWTConfig{PublicKey: pub})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("next handler must not be called")
	}))

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "x"})
	signed, err := tok.SignedString([]byte("shared-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/files", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestLoadRSAPublicKey(t *testing.T) {
	_, pub := generateRouterTestKey(t)
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	path := filepath.Join(t.TempDir(), "jwt.pub")
	if err := os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}

	got, err := LoadRSAPublicKey(path)
	if err != nil {
		t.Fatalf("LoadRSAPublicKey: %v", err)
	}
	if !got.Equal(pub) {
		t.Error("loaded key differs from the written key")
	}

	if _, err := LoadRSAPublicKey(filepath.Join(t.TempDir(), "missing.pub")); err == nil {
		t.Error("expected error for missing key file")
	}

	bad := filepath.Join(t.TempDir(), "bad.pub")
	_ = os.WriteFile(bad, []byte("not pem"), 0o600)
	if _, err := LoadRSAPublicKey(bad); err == nil {
		t.Error("expected error for non-PEM key file")
	}
}
