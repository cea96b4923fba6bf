package resolver

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type fixtureMembershipRepo struct {
	rows []*Membership
	err  error
	hang bool
}

func (f *fixtureMembershipRepo) Create(_ context.Context, m *Membership) error {
	f.rows = append(f.rows, m)
	return nil
}

func (f *fixtureMembershipRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]*Membership, error) {
	if f.hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	var out []*Membership
	for _, m := range f.rows {
		if m.UserID == userID {
			out = append(out, m)
		}
	}
	return out, nil
}

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).Level(zerolog.Disabled)
}

func TestResolveRole_LabMembership(t *testing.T) {
	userID := uuid.New()
	labID := uuid.New()
	repo := &fixtureMembershipRepo{rows: []*Membership{
		{ID: uuid.New(), UserID: userID, LabID: labID, Role: "staff"},
	}}
	svc := NewService(repo, time.Second, testLogger())

	role, gotLab := svc.ResolveRole(context.Background(), userID)
	if role != RoleLab {
		t.Errorf("role = %q, want lab", role)
	}
	if gotLab != labID {
		t.Errorf("labID = %s, want %s", gotLab, labID)
	}
}

func TestResolveRole_NoMembershipIsPatient(t *testing.T) {
	repo := &fixtureMembershipRepo{rows: []*Membership{
		{ID: uuid.New(), UserID: uuid.New(), LabID: uuid.New(), Role: "admin"},
	}}
	svc := NewService(repo, time.Second, testLogger())

	role, labID := svc.ResolveRole(context.Background(), uuid.New())
	if role != RolePatient {
		t.Errorf("role = %q, want patient", role)
	}
	if labID != uuid.Nil {
		t.Errorf("labID = %s, want nil", labID)
	}
}

func TestResolveRole_FirstMembershipWins(t *testing.T) {
	userID := uuid.New()
	first := uuid.New()
	repo := &fixtureMembershipRepo{rows: []*Membership{
		{ID: uuid.New(), UserID: userID, LabID: first, Role: "staff"},
		{ID: uuid.New(), UserID: userID, LabID: uuid.New(), Role: "staff"},
	}}
	svc := NewService(repo, time.Second, testLogger())

	role, labID := svc.ResolveRole(context.Background(), userID)
	if role != RoleLab || labID != first {
		t.Errorf("got (%q, %s), want (lab, %s)", role, labID, first)
	}
}

func TestResolveRole_TimeoutDefaultsToPatient(t *testing.T) {
	repo := &fixtureMembershipRepo{hang: true}
	svc := NewService(repo, 20*time.Millisecond, testLogger())

	start := time.Now()
	role, labID := svc.ResolveRole(context.Background(), uuid.New())
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("ResolveRole blocked %v, want bounded by timeout", elapsed)
	}
	if role != RolePatient {
		t.Errorf("role = %q, want patient default after timeout", role)
	}
	if labID != uuid.Nil {
		t.Errorf("labID = %s, want nil", labID)
	}
}

func TestResolveRole_QueryErrorDefaultsToPatient(t *testing.T) {
	repo := &fixtureMembershipRepo{err: context.DeadlineExceeded}
	svc := NewService(repo, time.Second, testLogger())

	role, labID := svc.ResolveRole(context.Background(), uuid.New())
	if role != RolePatient || labID != uuid.Nil {
		t.Errorf("got (%q, %s), want silent patient default", role, labID)
	}
}
