package profile

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/healthport/healthport/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the profile endpoints. All routes require a session;
// the profile touched is always the caller's own.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/profile/me", h.GetMe, auth.RequireAuth())
	g.PUT("/profile/me", h.UpdateMe, auth.RequireAuth())
}

func (h *Handler) GetMe(c echo.Context) error {
	userID, ok := auth.UserUUID(c.Request().Context())
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "no session")
	}
	p, err := h.svc.Ensure(c.Request().Context(), userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) UpdateMe(c echo.Context) error {
	userID, ok := auth.UserUUID(c.Request().Context())
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "no session")
	}

	var in UpdateInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	p, err := h.svc.Update(c.Request().Context(), userID, in)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "profile not found")
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, p)
}
