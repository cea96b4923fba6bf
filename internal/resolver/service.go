package resolver

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/healthport/healthport/internal/platform/auth"
)

// Role is the resolved capacity of a signed-in user.
type Role string

const (
	// RoleUnresolved means role resolution has not completed.
	RoleUnresolved Role = ""
	RolePatient    Role = "patient"
	RoleLab        Role = "lab"
)

// Service answers "in what capacity is this user signed in". Membership
// lookups are bounded by a hard timeout; a slow or failing query degrades to
// the patient default rather than blocking. The degradation is logged for
// operators, never surfaced to the user.
type Service struct {
	memberships MembershipRepository
	timeout     time.Duration
	logger      zerolog.Logger
}

func NewService(memberships MembershipRepository, timeout time.Duration, logger zerolog.Logger) *Service {
	return &Service{memberships: memberships, timeout: timeout, logger: logger}
}

// ResolveRole classifies the user as lab staff or patient. First membership
// found wins, making the classification mutually exclusive by construction.
// Never returns an error: timeouts and query failures resolve to the
// least-privileged patient default.
func (s *Service) ResolveRole(ctx context.Context, userID uuid.UUID) (Role, uuid.UUID) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	type result struct {
		memberships []*Membership
		err         error
	}
	ch := make(chan result, 1)
	go func() {
		ms, err := s.memberships.ListByUser(ctx, userID)
		ch <- result{ms, err}
	}()

	select {
	case <-ctx.Done():
		s.logger.Warn().
			Str("user_id", userID.String()).
			Dur("timeout", s.timeout).
			Msg("role resolution timed out, defaulting to patient")
		return RolePatient, uuid.Nil
	case res := <-ch:
		if res.err != nil {
			s.logger.Warn().
				Err(res.err).
				Str("user_id", userID.String()).
				Msg("role resolution failed, defaulting to patient")
			return RolePatient, uuid.Nil
		}
		if len(res.memberships) > 0 {
			return RoleLab, res.memberships[0].LabID
		}
		return RolePatient, uuid.Nil
	}
}

// Middleware resolves the role for authenticated requests and stores it on
// the context for RequireRole and the route guard. Anonymous requests pass
// through untouched.
func (s *Service) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			rawID := auth.UserIDFromContext(ctx)
			if rawID == "" {
				return next(c)
			}
			userID, err := uuid.Parse(rawID)
			if err != nil {
				return next(c)
			}

			role, labID := s.ResolveRole(ctx, userID)
			lab := ""
			if labID != uuid.Nil {
				lab = labID.String()
			}
			c.SetRequest(c.Request().WithContext(auth.WithRole(ctx, string(role), lab)))
			return next(c)
		}
	}
}
