package identity

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
)

const sessionCookie = "portal_session"

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the session endpoints. They authenticate by token
// directly rather than through the JWT middleware, since an invalid token
// here means "no session", not "reject the request".
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/auth/session", h.CurrentSession)
	g.POST("/auth/signout", h.SignOut)
	g.POST("/auth/check-contact", h.CheckContact)
}

func tokenFromRequest(c echo.Context) string {
	header := c.Request().Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	if cookie, err := c.Cookie(sessionCookie); err == nil {
		return cookie.Value
	}
	return ""
}

// CurrentSession answers the session-probe on app load: the live session if
// the token holds, 401 otherwise.
func (h *Handler) CurrentSession(c echo.Context) error {
	token := tokenFromRequest(c)
	if token == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "no session")
	}
	session, err := h.svc.CurrentSession(c.Request().Context(), token)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "no session")
	}
	return c.JSON(http.StatusOK, session)
}

// SignOut revokes the current session and expires the cookie.
func (h *Handler) SignOut(c echo.Context) error {
	token := tokenFromRequest(c)
	if token == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "no session")
	}
	session, err := h.svc.CurrentSession(c.Request().Context(), token)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "no session")
	}
	if err := h.svc.SignOut(c.Request().Context(), session); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	c.SetCookie(&http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return c.NoContent(http.StatusNoContent)
}

type checkContactRequest struct {
	Phone       string `json:"phone"`
	CountryCode string `json:"country_code"`
	Email       string `json:"email"`
}

// CheckContact is the advisory pre-check behind the "log in" vs "create
// account" framing. It is not a security gate.
func (h *Handler) CheckContact(c echo.Context) error {
	var req checkContactRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	phone := ""
	if req.Phone != "" {
		phone = NormalizePhone(req.Phone, req.CountryCode)
		if err := ValidatePhone(phone); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}

	reg, err := h.svc.CheckContact(c.Request().Context(), phone, req.Email)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, reg)
}
