package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	UserIDKey    contextKey = "user_id"
	SessionIDKey contextKey = "session_id"
	RoleKey      contextKey = "role"
	LabIDKey     contextKey = "lab_id"
)

// Claims carried by a portal session token. The token asserts identity only;
// role is resolved per request from lab membership.
type Claims struct {
	jwt.RegisteredClaims
	Phone string `json:"phone,omitempty"`
}

type JWTConfig struct {
	Secret []byte
	TTL    time.Duration
	// Revoked reports whether the session id (jti) has been signed out.
	Revoked func(ctx context.Context, sessionID string) bool
}

// IssueToken signs a session token for the given user.
func IssueToken(cfg JWTConfig, userID, sessionID, phone string) (string, time.Time, error) {
	expires := time.Now().Add(cfg.TTL)
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "healthport",
			Subject:   userID,
			ID:        sessionID,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		Phone: phone,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(cfg.Secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expires, nil
}

// ParseToken validates a session token and returns its claims.
func ParseToken(cfg JWTConfig, raw string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return cfg.Secret, nil
	}, jwt.WithIssuer("healthport"))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

// JWTMiddleware authenticates requests carrying a Bearer session token and
// stores the user and session ids on the request context. Requests without a
// token pass through unauthenticated; handlers and guards decide what an
// anonymous request may do.
func JWTMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get("Authorization")
			raw := ""
			if strings.HasPrefix(header, "Bearer ") {
				raw = strings.TrimPrefix(header, "Bearer ")
			} else if cookie, err := c.Cookie("portal_session"); err == nil {
				raw = cookie.Value
			}
			if raw == "" {
				return next(c)
			}

			claims, err := ParseToken(cfg, raw)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid or expired session")
			}
			if cfg.Revoked != nil && cfg.Revoked(c.Request().Context(), claims.ID) {
				return echo.NewHTTPError(http.StatusUnauthorized, "session signed out")
			}

			ctx := c.Request().Context()
			ctx = context.WithValue(ctx, UserIDKey, claims.Subject)
			ctx = context.WithValue(ctx, SessionIDKey, claims.ID)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

func UserIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(UserIDKey).(string)
	return id
}

func SessionIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(SessionIDKey).(string)
	return id
}

// UserUUID returns the authenticated user id as a UUID, false when the
// request is anonymous or the id is malformed.
func UserUUID(ctx context.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(UserIDFromContext(ctx))
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// WithRole stores the resolved role and lab id on the context. Only the role
// resolution middleware writes these.
func WithRole(ctx context.Context, role, labID string) context.Context {
	ctx = context.WithValue(ctx, RoleKey, role)
	return context.WithValue(ctx, LabIDKey, labID)
}

func RoleFromContext(ctx context.Context) string {
	role, _ := ctx.Value(RoleKey).(string)
	return role
}

func LabIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(LabIDKey).(string)
	return id
}
