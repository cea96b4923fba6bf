package report

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/healthport/healthport/internal/platform/auth"
	"github.com/healthport/healthport/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts report endpoints. Lab routes check the resolved
// role; the shared fetch is public, authorized by token alone.
func (h *Handler) RegisterRoutes(g *echo.Group, public *echo.Group) {
	g.POST("/reports", h.Create, auth.RequireRole("lab"))
	g.GET("/reports/lab", h.ListForLab, auth.RequireRole("lab"))
	g.PATCH("/reports/:id/status", h.UpdateStatus, auth.RequireRole("lab"))

	g.GET("/reports/mine", h.ListMine, auth.RequireAuth())
	g.GET("/reports/:id", h.Get, auth.RequireAuth())
	g.POST("/reports/:id/share", h.Share, auth.RequireAuth())

	public.GET("/shared/reports/:id", h.GetShared)
}

func labFromContext(c echo.Context) (uuid.UUID, error) {
	labID, err := uuid.Parse(auth.LabIDFromContext(c.Request().Context()))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusForbidden, "no lab membership")
	}
	return labID, nil
}

func (h *Handler) Create(c echo.Context) error {
	labID, err := labFromContext(c)
	if err != nil {
		return err
	}

	var in CreateInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	r, err := h.svc.Create(c.Request().Context(), labID, in)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, r)
}

func (h *Handler) ListForLab(c echo.Context) error {
	labID, err := labFromContext(c)
	if err != nil {
		return err
	}
	p := pagination.FromContext(c)
	reports, total, err := h.svc.ListForLab(c.Request().Context(), labID, p)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(reports, total, p))
}

func (h *Handler) ListMine(c echo.Context) error {
	userID, ok := auth.UserUUID(c.Request().Context())
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "no session")
	}
	reports, err := h.svc.ListForPatient(c.Request().Context(), userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, reports)
}

func (h *Handler) Get(c echo.Context) error {
	userID, ok := auth.UserUUID(c.Request().Context())
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "no session")
	}
	reportID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid report id")
	}

	labID, _ := uuid.Parse(auth.LabIDFromContext(c.Request().Context()))
	r, err := h.svc.Get(c.Request().Context(), userID, labID, reportID)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		case errors.Is(err, ErrAccessDenied):
			return echo.NewHTTPError(http.StatusForbidden, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, r)
}

type updateStatusRequest struct {
	Status Status `json:"status"`
}

func (h *Handler) UpdateStatus(c echo.Context) error {
	labID, err := labFromContext(c)
	if err != nil {
		return err
	}
	reportID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid report id")
	}

	var req updateStatusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	r, err := h.svc.UpdateStatus(c.Request().Context(), labID, reportID, req.Status)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		case errors.Is(err, ErrAccessDenied):
			return echo.NewHTTPError(http.StatusForbidden, err.Error())
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) Share(c echo.Context) error {
	userID, ok := auth.UserUUID(c.Request().Context())
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "no session")
	}
	reportID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid report id")
	}

	labID, _ := uuid.Parse(auth.LabIDFromContext(c.Request().Context()))
	issued, err := h.svc.Share(c.Request().Context(), userID, labID, reportID)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		case errors.Is(err, ErrAccessDenied):
			return echo.NewHTTPError(http.StatusForbidden, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, issued)
}

func (h *Handler) GetShared(c echo.Context) error {
	reportID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid report id")
	}

	r, err := h.svc.GetShared(c.Request().Context(), reportID, c.QueryParam("token"))
	if err != nil {
		if errors.Is(err, ErrShareInvalid) || errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusGone, ErrShareInvalid.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, r)
}
