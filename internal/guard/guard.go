// Package guard wraps protected route groups with the navigation decision
// chain: resolve first, then authenticate, then match role, then require a
// usable profile.
package guard

import (
	"context"
	"net/http"
	"net/url"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/healthport/healthport/internal/platform/auth"
	"github.com/healthport/healthport/internal/resolver"
)

// Default destinations. Overridable per guard via Options.
const (
	PatientLoginPath    = "/login"
	LabLoginPath        = "/lab/login"
	PatientHomePath     = "/patient"
	LabHomePath         = "/lab"
	CompleteProfilePath = "/patient/complete-profile"
)

// completenessChecker reports whether the user's profile has the required
// fields. The profile service implements it.
type completenessChecker interface {
	IsComplete(ctx context.Context, userID uuid.UUID) (bool, error)
}

// Options configure one guarded route group.
type Options struct {
	// Role required to enter the group.
	Role resolver.Role
	// LoginPath receives unauthenticated visitors, with the original path
	// carried in the `next` query parameter. Defaults per role.
	LoginPath string
	// Profiles, when set on a patient guard, enforces profile completeness
	// before the destination renders.
	Profiles completenessChecker
	// CompleteProfilePath receives patients with incomplete profiles.
	CompleteProfilePath string
}

func (o *Options) defaults() {
	if o.LoginPath == "" {
		if o.Role == resolver.RoleLab {
			o.LoginPath = LabLoginPath
		} else {
			o.LoginPath = PatientLoginPath
		}
	}
	if o.CompleteProfilePath == "" {
		o.CompleteProfilePath = CompleteProfilePath
	}
}

func homeFor(role resolver.Role) string {
	if role == resolver.RoleLab {
		return LabHomePath
	}
	return PatientHomePath
}

// withNext appends the original request path so login or profile completion
// can return the visitor where they were headed.
func withNext(base, original string) string {
	return base + "?next=" + url.QueryEscape(original)
}

// Middleware evaluates the decision chain on every request, in order:
// still resolving, unauthenticated, wrong role, incomplete profile, pass.
func Middleware(opts Options) echo.MiddlewareFunc {
	opts.defaults()
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			original := c.Request().URL.RequestURI()

			userID, authenticated := auth.UserUUID(ctx)
			if !authenticated {
				return c.Redirect(http.StatusFound, withNext(opts.LoginPath, original))
			}

			// Authenticated but role not yet resolved: no redirect decision
			// may be made on a loading state. Tell the client to retry.
			role := resolver.Role(auth.RoleFromContext(ctx))
			if role == resolver.RoleUnresolved {
				c.Response().Header().Set("Retry-After", "1")
				return echo.NewHTTPError(http.StatusServiceUnavailable, "session still resolving")
			}

			if role != opts.Role {
				return c.Redirect(http.StatusFound, homeFor(role))
			}

			if opts.Role == resolver.RolePatient && opts.Profiles != nil {
				complete, err := opts.Profiles.IsComplete(ctx, userID)
				if err != nil {
					// A failed read must not block navigation; the profile
					// page itself will surface the problem.
					return next(c)
				}
				if !complete {
					return c.Redirect(http.StatusFound, withNext(opts.CompleteProfilePath, original))
				}
			}

			return next(c)
		}
	}
}
