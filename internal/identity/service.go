package identity

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/healthport/healthport/internal/platform/auth"
	"github.com/healthport/healthport/internal/platform/notification"
)

// CodeLength is the fixed length of one-time codes.
const CodeLength = 6

// MaxCodeAttempts is the wrong-guess budget per code. At the cap the code is
// burned and the caller must request a fresh one.
const MaxCodeAttempts = 5

// Provider is the identity-provider contract the sign-in flows consume.
type Provider interface {
	SendCode(ctx context.Context, phone string) error
	Verify(ctx context.Context, phone, code string) (*Session, error)
	CurrentSession(ctx context.Context, accessToken string) (*Session, error)
	SignOut(ctx context.Context, s *Session) error
	Subscribe(fn func(Event)) func()
}

// Service implements Provider on top of the user store, a one-time-code
// store, and an SMS channel. Sessions are signed JWTs with server-side
// revocation.
type Service struct {
	users    UserRepository
	codes    CodeStore
	sessions SessionStore
	sms      notification.SMSSender
	jwt      auth.JWTConfig
	codeTTL  time.Duration
	hub      *Hub
	logger   zerolog.Logger
	now      func() time.Time
}

func NewService(
	users UserRepository,
	codes CodeStore,
	sessions SessionStore,
	sms notification.SMSSender,
	jwtCfg auth.JWTConfig,
	codeTTL time.Duration,
	logger zerolog.Logger,
) *Service {
	return &Service{
		users:    users,
		codes:    codes,
		sessions: sessions,
		sms:      sms,
		jwt:      jwtCfg,
		codeTTL:  codeTTL,
		hub:      NewHub(),
		logger:   logger,
		now:      time.Now,
	}
}

// SetClock overrides the time source. Tests only.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Subscribe registers an auth-event listener.
func (s *Service) Subscribe(fn func(Event)) func() {
	return s.hub.Subscribe(fn)
}

// IsRevoked reports whether a session id has been signed out. Wired into the
// JWT middleware.
func (s *Service) IsRevoked(ctx context.Context, sessionID string) bool {
	return s.sessions.IsRevoked(ctx, sessionID)
}

// SendCode generates a one-time code for the phone number, stores it with a
// TTL, and dispatches it over SMS.
func (s *Service) SendCode(ctx context.Context, phone string) error {
	if err := ValidatePhone(phone); err != nil {
		return err
	}

	code, err := GenerateCode(CodeLength)
	if err != nil {
		return err
	}
	if err := s.codes.Put(ctx, phone, code, s.codeTTL); err != nil {
		return err
	}

	body := notification.TemplateOTPCode.Render(map[string]string{
		"code":    code,
		"minutes": strconv.Itoa(int(s.codeTTL.Minutes())),
	})
	if err := s.sms.SendSMS(ctx, phone, body); err != nil {
		// The stored code is unusable if the SMS never left; drop it so a
		// retry starts clean.
		_ = s.codes.Delete(ctx, phone)
		return fmt.Errorf("send otp: %w", err)
	}

	s.logger.Info().Str("phone", phone).Msg("otp code sent")
	return nil
}

// Verify exchanges (phone, code) for a session. The code is single-use. A
// user record is created on first successful verification.
func (s *Service) Verify(ctx context.Context, phone, code string) (*Session, error) {
	stored, err := s.codes.Get(ctx, phone)
	if err != nil {
		return nil, err
	}
	if stored != code {
		attempts, ferr := s.codes.RecordFailure(ctx, phone)
		if ferr != nil {
			s.logger.Error().Err(ferr).Str("phone", phone).Msg("otp failure count unavailable")
			return nil, ErrCodeInvalid
		}
		if attempts >= MaxCodeAttempts {
			_ = s.codes.Delete(ctx, phone)
			s.logger.Warn().Str("phone", phone).Msg("otp attempt cap reached, code burned")
			return nil, ErrTooManyAttempts
		}
		return nil, ErrCodeInvalid
	}
	if err := s.codes.Delete(ctx, phone); err != nil {
		return nil, fmt.Errorf("consume otp code: %w", err)
	}

	user, err := s.users.GetByPhone(ctx, phone)
	if err == ErrUserNotFound {
		user = &User{Phone: &phone}
		if err := s.users.Create(ctx, user); err != nil {
			return nil, fmt.Errorf("create user: %w", err)
		}
		s.logger.Info().Str("user_id", user.ID.String()).Msg("user created on first sign-in")
	} else if err != nil {
		return nil, fmt.Errorf("look up user: %w", err)
	}

	session, err := s.issueSession(user)
	if err != nil {
		return nil, err
	}

	s.hub.Publish(Event{Type: EventSignedIn, Session: session})
	return session, nil
}

func (s *Service) issueSession(user *User) (*Session, error) {
	sessionID := uuid.New().String()
	phone := ""
	if user.Phone != nil {
		phone = *user.Phone
	}

	token, expires, err := auth.IssueToken(s.jwt, user.ID.String(), sessionID, phone)
	if err != nil {
		return nil, err
	}

	return &Session{
		AccessToken: token,
		SessionID:   sessionID,
		UserID:      user.ID,
		Phone:       phone,
		ExpiresAt:   expires,
	}, nil
}

// CurrentSession resolves an access token into a live session, or an error if
// the token is invalid, expired, or signed out.
func (s *Service) CurrentSession(ctx context.Context, accessToken string) (*Session, error) {
	claims, err := auth.ParseToken(s.jwt, accessToken)
	if err != nil {
		return nil, fmt.Errorf("parse session token: %w", err)
	}
	if s.sessions.IsRevoked(ctx, claims.ID) {
		return nil, fmt.Errorf("session signed out")
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("parse user id: %w", err)
	}

	return &Session{
		AccessToken: accessToken,
		SessionID:   claims.ID,
		UserID:      userID,
		Phone:       claims.Phone,
		ExpiresAt:   claims.ExpiresAt.Time,
	}, nil
}

// SignOut revokes the session and announces the transition.
func (s *Service) SignOut(ctx context.Context, session *Session) error {
	ttl := session.ExpiresAt.Sub(s.now())
	if err := s.sessions.Revoke(ctx, session.SessionID, ttl); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}

	s.hub.Publish(Event{Type: EventSignedOut})
	return nil
}

// GetUser returns the user record for an id.
func (s *Service) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.users.GetByID(ctx, id)
}

// CheckContact reports whether a phone or email is already registered.
// Advisory only: it frames the UI as "log in" vs "create account".
func (s *Service) CheckContact(ctx context.Context, phone, email string) (*Registration, error) {
	var user *User
	var err error
	switch {
	case phone != "":
		user, err = s.users.GetByPhone(ctx, phone)
	case email != "":
		user, err = s.users.GetByEmail(ctx, email)
	default:
		return nil, fmt.Errorf("phone or email is required")
	}

	if err == ErrUserNotFound {
		return &Registration{Registered: false}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("check contact: %w", err)
	}
	return &Registration{Registered: true, UserID: user.ID}, nil
}

// UpdatePhone writes a verified phone number onto the user record.
func (s *Service) UpdatePhone(ctx context.Context, userID uuid.UUID, phone string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	user.Phone = &phone
	return s.users.Update(ctx, user)
}
