package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/bigkaa/filevault/internal/api/middleware"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// issueToken запрашивает токен у mock-сервера.
func issueToken(t *testing.T, baseURL, body string) (*http.Response, tokenResponse) {
	t.Helper()
	resp, err := http.Post(baseURL+"/token", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var tok tokenResponse
	if resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
			t.Fatal(err)
		}
	}
	return resp, tok
}

// TestIDP_TokensAcceptedByJWKSMiddleware — токены mock-сервера проходят
// проверку filevault в режиме JWKS (загрузка ключей по HTTP).
func TestIDP_TokensAcceptedByJWKSMiddleware(t *testing.T) {
	srv, err := newIDP(2048, "https://idp.test", "filevault", testLogger())
	if err != nil {
		t.Fatal(err)
	}
	ts := httptest.NewServer(srv.routes())
	defer ts.Close()

	auth, err := middleware.NewJWTAuth(middleware.JWTAuthConfig{
		JWKSURL:         ts.URL + "/jwks",
		ClientTimeout:   5 * time.Second,
		RefreshInterval: time.Hour,
		Issuer:          "https://idp.test",
		Audience:        "filevault",
	}, testLogger())
	if err != nil {
		t.Fatalf("NewJWTAuth: %v", err)
	}

	var gotSub string
	var gotScopes []string
	protected := auth.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSub = middleware.SubjectFromContext(r.Context())
		gotScopes = middleware.ScopesFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	resp, tok := issueToken(t, ts.URL, `{"sub":"alice","scopes":["files:admin"],"ttl_seconds":60}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/token: ожидался 200, получен %d", resp.StatusCode)
	}
	if tok.Token == "" || time.Until(tok.ExpiresAt) > time.Minute+time.Second {
		t.Errorf("неожиданный ответ /token: %+v", tok)
	}

	req := httptest.NewRequest(http.MethodGet, "/files", nil)
	req.Header.Set("Authorization", "Bearer "+tok.Token)
	rec := httptest.NewRecorder()
	protected.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("ожидался 200, получен %d: %s", rec.Code, rec.Body.String())
	}
	if gotSub != "alice" || len(gotScopes) != 1 || gotScopes[0] != "files:admin" {
		t.Errorf("sub/scopes: получено %q %v", gotSub, gotScopes)
	}
}

func TestIDP_TokenValidation(t *testing.T) {
	srv, err := newIDP(1024, "jwks-mock", "", testLogger())
	if err != nil {
		t.Fatal(err)
	}
	ts := httptest.NewServer(srv.routes())
	defer ts.Close()

	for _, body := range []string{`{"scopes":["x"]}`, `not json`} {
		resp, _ := issueToken(t, ts.URL, body)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: ожидался 400, получен %d", body, resp.StatusCode)
		}
	}

	resp, err := http.Get(ts.URL + "/jwks")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var jwks jwksResponse
	if err := json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
		t.Fatal(err)
	}
	if len(jwks.Keys) != 1 || jwks.Keys[0].Kid != keyID || jwks.Keys[0].Alg != "RS256" {
		t.Errorf("неожиданный JWKS: %+v", jwks)
	}
}
