package otp

import (
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/healthport/healthport/internal/identity"
)

// SessionCookie carries the access token for browser clients. API clients
// use the Authorization header instead.
const SessionCookie = "portal_session"

// Handler exposes the sign-in flow over HTTP. One Flow instance exists per
// phone number mid-challenge, so the resend cooldown and duplicate-submit
// protection hold across requests.
type Handler struct {
	provider codeSender
	profiles profileReconciler
	cooldown time.Duration
	flowTTL  time.Duration
	now      func() time.Time

	mu    sync.Mutex
	flows map[string]*flowEntry
}

// flowEntry pairs a flow with its last-touched time so abandoned challenges
// can be swept once the code behind them has expired anyway.
type flowEntry struct {
	flow    *Flow
	touched time.Time
}

func NewHandler(provider codeSender, profiles profileReconciler, cooldown, flowTTL time.Duration) *Handler {
	return &Handler{
		provider: provider,
		profiles: profiles,
		cooldown: cooldown,
		flowTTL:  flowTTL,
		now:      time.Now,
		flows:    make(map[string]*flowEntry),
	}
}

// SetClock overrides the time source. Tests only.
func (h *Handler) SetClock(now func() time.Time) { h.now = now }

// RegisterRoutes mounts the OTP endpoints. All are anonymous by nature.
func (h *Handler) RegisterRoutes(g *echo.Group, extra ...echo.MiddlewareFunc) {
	g.POST("/auth/otp/send", h.Send, extra...)
	g.POST("/auth/otp/resend", h.Resend, extra...)
	g.POST("/auth/otp/verify", h.Verify)
}

func (h *Handler) flowFor(phone string) *Flow {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.evictExpired()
	if e, ok := h.flows[phone]; ok {
		e.touched = h.now()
		return e.flow
	}
	f := NewFlow(h.provider, h.profiles, h.cooldown)
	h.flows[phone] = &flowEntry{flow: f, touched: h.now()}
	return f
}

func (h *Handler) lookupFlow(phone string) *Flow {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.evictExpired()
	e, ok := h.flows[phone]
	if !ok {
		return nil
	}
	e.touched = h.now()
	return e.flow
}

// evictExpired drops flows idle past the code TTL. Their codes can no longer
// verify, so keeping the entries only grows the map. Caller holds the lock.
func (h *Handler) evictExpired() {
	cutoff := h.now().Add(-h.flowTTL)
	for phone, e := range h.flows {
		if e.touched.Before(cutoff) {
			delete(h.flows, phone)
		}
	}
}

func (h *Handler) dropFlow(phone string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.flows, phone)
}

type sendRequest struct {
	Phone       string `json:"phone"`
	CountryCode string `json:"country_code"`
}

type sendResponse struct {
	State           string `json:"state"`
	Phone           string `json:"phone"`
	CooldownSeconds int    `json:"cooldown_seconds"`
}

func flowError(err error) error {
	switch {
	case errors.Is(err, ErrCooldown):
		return echo.NewHTTPError(http.StatusTooManyRequests, "resend cooldown active")
	case errors.Is(err, ErrBusy):
		return echo.NewHTTPError(http.StatusConflict, "request already in flight")
	case errors.Is(err, ErrBadState):
		return echo.NewHTTPError(http.StatusBadRequest, "no code challenge in progress")
	case errors.Is(err, identity.ErrCodeInvalid), errors.Is(err, identity.ErrCodeExpired):
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid or expired code")
	case errors.Is(err, identity.ErrTooManyAttempts):
		return echo.NewHTTPError(http.StatusTooManyRequests, "too many failed attempts, request a new code")
	}
	return echo.NewHTTPError(http.StatusBadGateway, err.Error())
}

func (h *Handler) Send(c echo.Context) error {
	var req sendRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	phone := identity.NormalizePhone(req.Phone, req.CountryCode)
	if err := identity.ValidatePhone(phone); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	f := h.flowFor(phone)
	if err := f.SendCode(c.Request().Context(), req.Phone, req.CountryCode); err != nil {
		if errors.Is(err, ErrCooldown) {
			c.Response().Header().Set("Retry-After",
				strconv.Itoa(int(f.CooldownRemaining().Seconds())+1))
		}
		return flowError(err)
	}

	return c.JSON(http.StatusOK, sendResponse{
		State:           f.State().String(),
		Phone:           phone,
		CooldownSeconds: int(f.CooldownRemaining().Seconds()),
	})
}

func (h *Handler) Resend(c echo.Context) error {
	var req sendRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	phone := identity.NormalizePhone(req.Phone, req.CountryCode)
	f := h.lookupFlow(phone)
	if f == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "no code challenge in progress")
	}
	if err := f.Resend(c.Request().Context()); err != nil {
		if errors.Is(err, ErrCooldown) {
			c.Response().Header().Set("Retry-After",
				strconv.Itoa(int(f.CooldownRemaining().Seconds())+1))
		}
		return flowError(err)
	}

	return c.JSON(http.StatusOK, sendResponse{
		State:           f.State().String(),
		Phone:           phone,
		CooldownSeconds: int(f.CooldownRemaining().Seconds()),
	})
}

type verifyRequest struct {
	Phone       string `json:"phone"`
	CountryCode string `json:"country_code"`
	Code        string `json:"code"`
	Next        string `json:"next"`
}

type verifyResponse struct {
	Session *identity.Session `json:"session"`
	Next    string            `json:"next,omitempty"`
}

func (h *Handler) Verify(c echo.Context) error {
	var req verifyRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	phone := identity.NormalizePhone(req.Phone, req.CountryCode)
	f := h.lookupFlow(phone)
	if f == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "no code challenge in progress")
	}

	session, err := f.Verify(c.Request().Context(), req.Code)
	if session == nil && err != nil {
		return flowError(err)
	}
	h.dropFlow(phone)

	c.SetCookie(&http.Cookie{
		Name:     SessionCookie,
		Value:    session.AccessToken,
		Path:     "/",
		Expires:  session.ExpiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	// Login completion hands back the destination captured before the
	// redirect, so the client can resume where the visitor was headed.
	return c.JSON(http.StatusOK, verifyResponse{Session: session, Next: req.Next})
}
