package report

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/healthport/healthport/internal/identity"
	"github.com/healthport/healthport/pkg/pagination"
)

// phoneDirectory resolves a user to their profile phone, for reports a lab
// filed against a bare number before the patient had an account.
type phoneDirectory interface {
	PhoneOf(ctx context.Context, userID uuid.UUID) (string, error)
}

// Service owns report visibility: lab CRUD, patient listings, access grants,
// and share tokens.
type Service struct {
	repo     Repository
	grants   GrantRepository
	shares   ShareStore
	profiles phoneDirectory
	baseURL  string
	logger   zerolog.Logger
}

func NewService(repo Repository, grants GrantRepository, shares ShareStore,
	profiles phoneDirectory, baseURL string, logger zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		grants:   grants,
		shares:   shares,
		profiles: profiles,
		baseURL:  strings.TrimRight(baseURL, "/"),
		logger:   logger.With().Str("component", "report").Logger(),
	}
}

// CreateInput is what lab staff submit when filing a report. The patient is
// identified by user id when known, otherwise by phone.
type CreateInput struct {
	PatientUserID *uuid.UUID `json:"patient_user_id"`
	PatientPhone  string     `json:"patient_phone"`
	Title         string     `json:"title"`
	StoragePath   string     `json:"storage_path"`
}

// Create files a report under the caller's lab.
func (s *Service) Create(ctx context.Context, labID uuid.UUID, in CreateInput) (*Report, error) {
	if in.Title == "" {
		return nil, errors.New("title is required")
	}
	if in.PatientUserID == nil && in.PatientPhone == "" {
		return nil, errors.New("patient user id or phone is required")
	}

	phone := in.PatientPhone
	if phone != "" {
		phone = identity.NormalizePhone(phone, "")
		if err := identity.ValidatePhone(phone); err != nil {
			return nil, err
		}
	}

	r := &Report{
		LabID:         labID,
		PatientUserID: in.PatientUserID,
		PatientPhone:  phone,
		Title:         in.Title,
		StoragePath:   in.StoragePath,
		Status:        StatusPending,
	}
	if err := s.repo.Create(ctx, r); err != nil {
		return nil, fmt.Errorf("create report: %w", err)
	}
	return r, nil
}

// ListForLab returns one page of the lab's own reports plus the total count.
func (s *Service) ListForLab(ctx context.Context, labID uuid.UUID, p pagination.Params) ([]*Report, int, error) {
	return s.repo.ListByLab(ctx, labID, p.Limit, p.Offset)
}

// ListForPatient returns everything the user may see: their own reports
// (by id or phone match) plus anything granted to them.
func (s *Service) ListForPatient(ctx context.Context, userID uuid.UUID) ([]*Report, error) {
	phone, err := s.profiles.PhoneOf(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("resolve patient phone: %w", err)
	}
	return s.repo.ListVisible(ctx, userID, phone)
}

// Get returns the report if the caller may view it: the owning lab's staff,
// the patient it belongs to, or a grant holder.
func (s *Service) Get(ctx context.Context, userID uuid.UUID, labID uuid.UUID, reportID uuid.UUID) (*Report, error) {
	r, err := s.repo.GetByID(ctx, reportID)
	if err != nil {
		return nil, err
	}
	if labID != uuid.Nil && r.LabID == labID {
		return r, nil
	}
	if r.PatientUserID != nil && *r.PatientUserID == userID {
		return r, nil
	}
	if r.PatientPhone != "" {
		phone, err := s.profiles.PhoneOf(ctx, userID)
		if err == nil && phone != "" && phone == r.PatientPhone {
			return r, nil
		}
	}
	granted, err := s.grants.Exists(ctx, reportID, userID)
	if err != nil {
		return nil, fmt.Errorf("check grant: %w", err)
	}
	if granted {
		return r, nil
	}
	return nil, ErrAccessDenied
}

// UpdateStatus moves a report along its lifecycle. Lab staff only, own lab
// only.
func (s *Service) UpdateStatus(ctx context.Context, labID, reportID uuid.UUID, status Status) (*Report, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("unknown status %q", status)
	}
	r, err := s.repo.GetByID(ctx, reportID)
	if err != nil {
		return nil, err
	}
	if r.LabID != labID {
		return nil, ErrAccessDenied
	}
	if err := s.repo.UpdateStatus(ctx, reportID, status); err != nil {
		return nil, err
	}
	r.Status = status
	return r, nil
}

// IssuedShare is the response to a share request.
type IssuedShare struct {
	Token    string `json:"token"`
	ShareURL string `json:"share_url"`
}

// Share issues a share token for a report the caller may view, reusing the
// live token when one exists.
func (s *Service) Share(ctx context.Context, userID, labID, reportID uuid.UUID) (*IssuedShare, error) {
	if _, err := s.Get(ctx, userID, labID, reportID); err != nil {
		return nil, err
	}
	token, err := s.shares.IssueOrReuse(ctx, reportID)
	if err != nil {
		return nil, err
	}
	return &IssuedShare{
		Token:    token,
		ShareURL: s.baseURL + "/shared/reports/" + reportID.String() + "?token=" + token,
	}, nil
}

// GetShared fetches a report by id plus share token, no session required.
// The token must resolve to exactly the requested report.
func (s *Service) GetShared(ctx context.Context, reportID uuid.UUID, token string) (*Report, error) {
	if token == "" {
		return nil, ErrShareInvalid
	}
	resolved, err := s.shares.Resolve(ctx, token)
	if err != nil {
		return nil, err
	}
	if resolved != reportID {
		return nil, ErrShareInvalid
	}
	return s.repo.GetByID(ctx, reportID)
}

// GrantAll opens every report belonging to the owner patient to the grantee.
// Invoked when a family invite is redeemed.
func (s *Service) GrantAll(ctx context.Context, ownerUserID, granteeUserID uuid.UUID) error {
	phone, err := s.profiles.PhoneOf(ctx, ownerUserID)
	if err != nil {
		return fmt.Errorf("resolve owner phone: %w", err)
	}
	reports, err := s.repo.ListOwnedByPatient(ctx, ownerUserID, phone)
	if err != nil {
		return fmt.Errorf("list owner reports: %w", err)
	}
	for _, r := range reports {
		if err := s.grants.CreateIfAbsent(ctx, r.ID, granteeUserID); err != nil {
			return fmt.Errorf("grant report %s: %w", r.ID, err)
		}
	}
	s.logger.Info().
		Str("owner", ownerUserID.String()).
		Str("grantee", granteeUserID.String()).
		Int("reports", len(reports)).
		Msg("Report access granted")
	return nil
}
