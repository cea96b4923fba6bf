package family

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/healthport/healthport/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the authenticated family endpoints on g and the
// public invite-link entry point on public. The public route is what a
// shared URL hits; it carries the token through login when needed.
func (h *Handler) RegisterRoutes(g *echo.Group, public *echo.Group) {
	g.POST("/family/members", h.AddMember, auth.RequireAuth())
	g.GET("/family/members", h.ListMembers, auth.RequireAuth())
	g.POST("/family/members/:id/invite", h.IssueInvite, auth.RequireAuth())
	g.POST("/family/invites/redeem", h.Redeem, auth.RequireAuth())
	g.GET("/family/invites/inbox", h.Inbox, auth.RequireAuth())
	g.POST("/family/invites/:id/accept", h.Accept, auth.RequireAuth())

	public.GET("/invite/:token", h.OpenInvite)
}

type addMemberRequest struct {
	Name     string `json:"name"`
	Relation string `json:"relation"`
	Phone    string `json:"phone"`
}

func (h *Handler) AddMember(c echo.Context) error {
	userID, ok := auth.UserUUID(c.Request().Context())
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "no session")
	}

	var req addMemberRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	m, err := h.svc.AddMember(c.Request().Context(), userID, req.Name, req.Relation, req.Phone)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, m)
}

func (h *Handler) ListMembers(c echo.Context) error {
	userID, ok := auth.UserUUID(c.Request().Context())
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "no session")
	}
	members, err := h.svc.ListMembers(c.Request().Context(), userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, members)
}

func (h *Handler) IssueInvite(c echo.Context) error {
	userID, ok := auth.UserUUID(c.Request().Context())
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "no session")
	}
	memberID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid member id")
	}

	issued, err := h.svc.IssueInvite(c.Request().Context(), userID, memberID)
	if err != nil {
		switch {
		case errors.Is(err, ErrMemberNotFound):
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		case errors.Is(err, ErrNotOwner):
			return echo.NewHTTPError(http.StatusForbidden, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, issued)
}

type redeemRequest struct {
	Token string `json:"token"`
}

func (h *Handler) Redeem(c echo.Context) error {
	userID, ok := auth.UserUUID(c.Request().Context())
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "no session")
	}

	var req redeemRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	m, err := h.svc.Redeem(c.Request().Context(), userID, req.Token)
	if err != nil {
		if errors.Is(err, ErrInviteInvalid) {
			return echo.NewHTTPError(http.StatusGone, ErrInviteInvalid.Error())
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, m)
}

func (h *Handler) Inbox(c echo.Context) error {
	userID, ok := auth.UserUUID(c.Request().Context())
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "no session")
	}
	entries, err := h.svc.Inbox(c.Request().Context(), userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if entries == nil {
		entries = []*InboxEntry{}
	}
	return c.JSON(http.StatusOK, entries)
}

func (h *Handler) Accept(c echo.Context) error {
	userID, ok := auth.UserUUID(c.Request().Context())
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "no session")
	}
	inviteID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid invite id")
	}

	m, err := h.svc.Accept(c.Request().Context(), userID, inviteID)
	if err != nil {
		if errors.Is(err, ErrInviteInvalid) {
			return echo.NewHTTPError(http.StatusGone, ErrInviteInvalid.Error())
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, m)
}

// OpenInvite is where a shared invite URL lands. An unauthenticated visitor
// is sent through login with the invite path as the redirect target, so the
// original token survives the round trip and redemption resumes afterwards.
func (h *Handler) OpenInvite(c echo.Context) error {
	token := c.Param("token")
	userID, ok := auth.UserUUID(c.Request().Context())
	if !ok {
		next := url.QueryEscape("/invite/" + token)
		return c.Redirect(http.StatusFound, "/login?next="+next)
	}

	m, err := h.svc.Redeem(c.Request().Context(), userID, token)
	if err != nil {
		if errors.Is(err, ErrInviteInvalid) {
			return echo.NewHTTPError(http.StatusGone, ErrInviteInvalid.Error())
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, m)
}
