package family

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/healthport/healthport/internal/platform/auth"
)

func newTestServer(t *testing.T, f *fixture) (*echo.Echo, auth.JWTConfig) {
	t.Helper()
	cfg := auth.JWTConfig{Secret: []byte("test-secret"), TTL: time.Hour}

	e := echo.New()
	e.Use(auth.JWTMiddleware(cfg))
	h := NewHandler(f.svc)
	h.RegisterRoutes(e.Group("/api"), e.Group(""))
	return e, cfg
}

// An unauthenticated visitor opening a share link is sent through login and,
// after authenticating, redeems the exact token from the original URL.
func TestOpenInvite_TokenSurvivesAuthRedirect(t *testing.T) {
	f := newFixture(t)
	e, cfg := newTestServer(t, f)

	owner := uuid.New()
	invitee := uuid.New()
	m := f.addMember(t, owner, "+31612345678")
	issued, err := f.svc.IssueInvite(context.Background(), owner, m.ID)
	if err != nil {
		t.Fatalf("IssueInvite: %v", err)
	}

	// Step 1: anonymous visit. Expect a login redirect carrying the invite
	// path as the target.
	req := httptest.NewRequest(http.MethodGet, "/invite/"+issued.Token, nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", rec.Code)
	}
	loc, err := url.Parse(rec.Header().Get("Location"))
	if err != nil {
		t.Fatalf("parse Location: %v", err)
	}
	next := loc.Query().Get("next")
	if !strings.HasPrefix(loc.Path, "/login") || next == "" {
		t.Fatalf("Location = %q", rec.Header().Get("Location"))
	}
	if next != "/invite/"+issued.Token {
		t.Fatalf("next = %q, token mutated in transit", next)
	}

	// Step 2: authenticate, then resume at the preserved path.
	token, _, err := auth.IssueToken(cfg, invitee.String(), uuid.NewString(), "+31699999999")
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	req = httptest.NewRequest(http.MethodGet, next, nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("resume status = %d, body = %s", rec.Code, rec.Body.String())
	}
	linked, _ := f.members.GetByID(context.Background(), m.ID)
	if linked.LinkedUserID == nil || *linked.LinkedUserID != invitee {
		t.Error("original token did not redeem after the auth round trip")
	}
}

func TestOpenInvite_ExpiredTokenIsTerminal(t *testing.T) {
	f := newFixture(t)
	e, cfg := newTestServer(t, f)

	owner := uuid.New()
	m := f.addMember(t, owner, "+31612345678")
	issued, _ := f.svc.IssueInvite(context.Background(), owner, m.ID)
	f.clock = issued.Invite.ExpiresAt

	token, _, _ := auth.IssueToken(cfg, uuid.NewString(), uuid.NewString(), "")
	req := httptest.NewRequest(http.MethodGet, "/invite/"+issued.Token, nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusGone {
		t.Fatalf("status = %d, want 410", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "invalid or expired") {
		t.Errorf("body = %s", rec.Body.String())
	}
}
