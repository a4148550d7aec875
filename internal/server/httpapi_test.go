package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestRouter(t *testing.T) (http.Handler, *TokenService) {
	t.Helper()
	users, err := NewUsers(map[string]string{"demo": "demo"})
	if err != nil {
		t.Fatal(err)
	}
	tokens := NewTokenService("test-secret", time.Hour)
	return NewAPIRouter(users, tokens, zap.NewNop()), tokens
}

func postJSON(t *testing.T, handler http.Handler, path, body string) (*httptest.ResponseRecorder, tokenReply) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	var reply tokenReply
	if err := json.Unmarshal(rec.Body.Bytes(), &reply); err != nil {
		t.Fatalf("unparseable reply %q: %v", rec.Body.String(), err)
	}
	return rec, reply
}

func TestLoginIssuesToken(t *testing.T) {
	router, tokens := newTestRouter(t)

	rec, reply := postJSON(t, router, "/evdash/api/login", `{"username":"demo","password":"demo"}`)
	if rec.Code != http.StatusOK || !reply.Success {
		t.Fatalf("login failed: status=%d reply=%+v", rec.Code, reply)
	}
	if reply.Token == "" {
		t.Fatal("expected a token")
	}
	if _, err := time.Parse(time.RFC3339, reply.ExpiresAt); err != nil {
		t.Fatalf("expiresAt not RFC3339: %q", reply.ExpiresAt)
	}

	claims, err := tokens.Validate(reply.Token)
	if err != nil {
		t.Fatalf("issued token does not validate: %v", err)
	}
	if claims.Username != "demo" {
		t.Fatalf("claims.Username = %q", claims.Username)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	router, _ := newTestRouter(t)

	rec, reply := postJSON(t, router, "/evdash/api/login", `{"username":"demo","password":"wrong"}`)
	if rec.Code != http.StatusUnauthorized || reply.Error != "unauthorized" {
		t.Fatalf("status=%d reply=%+v", rec.Code, reply)
	}

	rec, reply = postJSON(t, router, "/evdash/api/login", `{"username":"nobody","password":"x"}`)
	if rec.Code != http.StatusUnauthorized || reply.Error != "unauthorized" {
		t.Fatalf("status=%d reply=%+v", rec.Code, reply)
	}
}

func TestLoginRejectsMalformedRequests(t *testing.T) {
	router, _ := newTestRouter(t)

	for _, body := range []string{`{`, `{}`, `{"username":"demo"}`, `{"username":"  ","password":"x"}`} {
		rec, reply := postJSON(t, router, "/evdash/api/login", body)
		if rec.Code != http.StatusBadRequest || reply.Error != "invalidRequest" {
			t.Fatalf("body %q: status=%d reply=%+v", body, rec.Code, reply)
		}
	}
}

func TestLoginRequiresPost(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/evdash/api/login", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestRefreshRotatesToken(t *testing.T) {
	router, tokens := newTestRouter(t)

	current, _, err := tokens.Generate("demo")
	if err != nil {
		t.Fatal(err)
	}

	rec, reply := postJSON(t, router, "/evdash/api/refresh", `{"token":"`+current+`"}`)
	if rec.Code != http.StatusOK || !reply.Success {
		t.Fatalf("refresh failed: status=%d reply=%+v", rec.Code, reply)
	}

	claims, err := tokens.Validate(reply.Token)
	if err != nil {
		t.Fatalf("refreshed token does not validate: %v", err)
	}
	if claims.Username != "demo" {
		t.Fatalf("refresh must preserve the identity, got %q", claims.Username)
	}
}

func TestRefreshRejectsInvalidToken(t *testing.T) {
	router, _ := newTestRouter(t)

	rec, reply := postJSON(t, router, "/evdash/api/refresh", `{"token":"garbage"}`)
	if rec.Code != http.StatusUnauthorized || reply.Error != "unauthorized" {
		t.Fatalf("status=%d reply=%+v", rec.Code, reply)
	}

	rec, reply = postJSON(t, router, "/evdash/api/refresh", `{"token":""}`)
	if rec.Code != http.StatusBadRequest || reply.Error != "invalidRequest" {
		t.Fatalf("status=%d reply=%+v", rec.Code, reply)
	}
}

func TestRefreshRejectsForeignSignature(t *testing.T) {
	router, _ := newTestRouter(t)

	foreign := NewTokenService("other-secret", time.Hour)
	token, _, err := foreign.Generate("demo")
	if err != nil {
		t.Fatal(err)
	}

	rec, reply := postJSON(t, router, "/evdash/api/refresh", `{"token":"`+token+`"}`)
	if rec.Code != http.StatusUnauthorized || reply.Error != "unauthorized" {
		t.Fatalf("status=%d reply=%+v", rec.Code, reply)
	}
}
