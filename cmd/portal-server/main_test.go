package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/healthport/healthport/internal/platform/auth"
)

func contextWithLab(labID string) echo.Context {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/lab", nil)
	ctx := auth.WithRole(req.Context(), "lab", labID)
	req = req.WithContext(ctx)
	return e.NewContext(req, httptest.NewRecorder())
}

func TestParseLabID_ValidMembership(t *testing.T) {
	want := uuid.New()
	got, err := parseLabID(contextWithLab(want.String()))
	if err != nil {
		t.Fatalf("parseLabID: %v", err)
	}
	if got != want {
		t.Errorf("lab id = %s, want %s", got, want)
	}
}

func TestParseLabID_NoMembership(t *testing.T) {
	_, err := parseLabID(contextWithLab(""))
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("err = %v, want *echo.HTTPError", err)
	}
	if httpErr.Code != http.StatusForbidden {
		t.Errorf("code = %d, want 403", httpErr.Code)
	}
}

func TestMigrateCmd_Subcommands(t *testing.T) {
	cmd := migrateCmd()
	var names []string
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}
	for _, want := range []string{"up", "status"} {
		found := false
		for _, n := range names {
			if n == want {
				found = true
			}
		}
		if !found {
			t.Errorf("missing %q subcommand, have %v", want, names)
		}
	}
}
