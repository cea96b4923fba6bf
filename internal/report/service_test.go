package report

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/healthport/healthport/pkg/pagination"
)

type mockRepo struct {
	byID map[uuid.UUID]*Report
}

func newMockRepo() *mockRepo {
	return &mockRepo{byID: make(map[uuid.UUID]*Report)}
}

func (m *mockRepo) Create(_ context.Context, r *Report) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	cp := *r
	m.byID[r.ID] = &cp
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Report, error) {
	r, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *mockRepo) ListByLab(_ context.Context, labID uuid.UUID, limit, offset int) ([]*Report, int, error) {
	var all []*Report
	for _, r := range m.byID {
		if r.LabID == labID {
			cp := *r
			all = append(all, &cp)
		}
	}
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (m *mockRepo) ListVisible(ctx context.Context, userID uuid.UUID, phone string) ([]*Report, error) {
	return m.ListOwnedByPatient(ctx, userID, phone)
}

func (m *mockRepo) ListOwnedByPatient(_ context.Context, userID uuid.UUID, phone string) ([]*Report, error) {
	var out []*Report
	for _, r := range m.byID {
		owned := r.PatientUserID != nil && *r.PatientUserID == userID
		byPhone := phone != "" && r.PatientPhone == phone
		if owned || byPhone {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockRepo) UpdateStatus(_ context.Context, id uuid.UUID, status Status) error {
	r, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	r.Status = status
	return nil
}

type mockGrants struct {
	set map[[2]uuid.UUID]bool
}

func newMockGrants() *mockGrants {
	return &mockGrants{set: make(map[[2]uuid.UUID]bool)}
}

func (g *mockGrants) CreateIfAbsent(_ context.Context, reportID, userID uuid.UUID) error {
	g.set[[2]uuid.UUID{reportID, userID}] = true
	return nil
}

func (g *mockGrants) Exists(_ context.Context, reportID, userID uuid.UUID) (bool, error) {
	return g.set[[2]uuid.UUID{reportID, userID}], nil
}

type memShareStore struct {
	byReport map[uuid.UUID]string
	byToken  map[string]uuid.UUID
	issued   int
}

func newMemShareStore() *memShareStore {
	return &memShareStore{byReport: make(map[uuid.UUID]string), byToken: make(map[string]uuid.UUID)}
}

func (s *memShareStore) IssueOrReuse(_ context.Context, reportID uuid.UUID) (string, error) {
	if token, ok := s.byReport[reportID]; ok {
		return token, nil
	}
	s.issued++
	token := uuid.NewString()
	s.byReport[reportID] = token
	s.byToken[token] = reportID
	return token, nil
}

func (s *memShareStore) Resolve(_ context.Context, token string) (uuid.UUID, error) {
	id, ok := s.byToken[token]
	if !ok {
		return uuid.Nil, ErrShareInvalid
	}
	return id, nil
}

type mockPhones struct {
	byUser map[uuid.UUID]string
}

func (p *mockPhones) PhoneOf(_ context.Context, userID uuid.UUID) (string, error) {
	return p.byUser[userID], nil
}

type fixture struct {
	svc    *Service
	repo   *mockRepo
	grants *mockGrants
	shares *memShareStore
	phones *mockPhones
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:   newMockRepo(),
		grants: newMockGrants(),
		shares: newMemShareStore(),
		phones: &mockPhones{byUser: make(map[uuid.UUID]string)},
	}
	f.svc = NewService(f.repo, f.grants, f.shares, f.phones,
		"https://portal.example.com", zerolog.Nop())
	return f
}

func (f *fixture) file(t *testing.T, labID uuid.UUID, in CreateInput) *Report {
	t.Helper()
	r, err := f.svc.Create(context.Background(), labID, in)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return r
}

func TestCreate_RequiresPatientAssociation(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Create(context.Background(), uuid.New(), CreateInput{Title: "CBC panel"})
	if err == nil {
		t.Fatal("expected error without patient id or phone")
	}
}

func TestCreate_NormalizesPatientPhone(t *testing.T) {
	f := newFixture(t)
	r := f.file(t, uuid.New(), CreateInput{Title: "CBC panel", PatientPhone: "+31 6 1234 5678"})
	if r.PatientPhone != "+31612345678" {
		t.Errorf("phone = %q", r.PatientPhone)
	}
	if r.Status != StatusPending {
		t.Errorf("status = %q, want pending", r.Status)
	}
}

func TestListForPatient_PhoneMatchWithoutUserLink(t *testing.T) {
	f := newFixture(t)
	lab := uuid.New()
	patient := uuid.New()
	f.phones.byUser[patient] = "+31612345678"

	// Filed against a bare number before the patient signed up.
	f.file(t, lab, CreateInput{Title: "CBC panel", PatientPhone: "+31612345678"})
	f.file(t, lab, CreateInput{Title: "other patient", PatientPhone: "+31699999999"})

	reports, err := f.svc.ListForPatient(context.Background(), patient)
	if err != nil {
		t.Fatalf("ListForPatient: %v", err)
	}
	if len(reports) != 1 || reports[0].Title != "CBC panel" {
		t.Errorf("reports = %v", reports)
	}
}

func TestListForLab_Paginates(t *testing.T) {
	f := newFixture(t)
	lab := uuid.New()
	for i := 0; i < 5; i++ {
		f.file(t, lab, CreateInput{Title: "panel", PatientPhone: "+31612345678"})
	}
	f.file(t, uuid.New(), CreateInput{Title: "other lab", PatientPhone: "+31612345678"})

	page, total, err := f.svc.ListForLab(context.Background(), lab,
		pagination.Params{Limit: 2, Offset: 0})
	if err != nil {
		t.Fatalf("ListForLab: %v", err)
	}
	if total != 5 {
		t.Errorf("total = %d, want 5", total)
	}
	if len(page) != 2 {
		t.Errorf("page size = %d, want 2", len(page))
	}

	tail, _, err := f.svc.ListForLab(context.Background(), lab,
		pagination.Params{Limit: 2, Offset: 4})
	if err != nil {
		t.Fatalf("ListForLab tail: %v", err)
	}
	if len(tail) != 1 {
		t.Errorf("tail size = %d, want 1", len(tail))
	}
}

func TestGet_AccessRules(t *testing.T) {
	f := newFixture(t)
	lab := uuid.New()
	patient := uuid.New()
	stranger := uuid.New()
	r := f.file(t, lab, CreateInput{Title: "CBC panel", PatientUserID: &patient})
	ctx := context.Background()

	if _, err := f.svc.Get(ctx, patient, uuid.Nil, r.ID); err != nil {
		t.Errorf("patient access: %v", err)
	}
	if _, err := f.svc.Get(ctx, stranger, lab, r.ID); err != nil {
		t.Errorf("lab staff access: %v", err)
	}
	if _, err := f.svc.Get(ctx, stranger, uuid.Nil, r.ID); err != ErrAccessDenied {
		t.Errorf("stranger access: err = %v, want ErrAccessDenied", err)
	}

	// A grant opens access.
	f.grants.CreateIfAbsent(ctx, r.ID, stranger)
	if _, err := f.svc.Get(ctx, stranger, uuid.Nil, r.ID); err != nil {
		t.Errorf("granted access: %v", err)
	}
}

func TestUpdateStatus_OwnLabOnly(t *testing.T) {
	f := newFixture(t)
	lab := uuid.New()
	patient := uuid.New()
	r := f.file(t, lab, CreateInput{Title: "CBC panel", PatientUserID: &patient})
	ctx := context.Background()

	if _, err := f.svc.UpdateStatus(ctx, uuid.New(), r.ID, StatusReady); err != ErrAccessDenied {
		t.Fatalf("foreign lab: err = %v, want ErrAccessDenied", err)
	}
	updated, err := f.svc.UpdateStatus(ctx, lab, r.ID, StatusReady)
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if updated.Status != StatusReady {
		t.Errorf("status = %q", updated.Status)
	}
	if _, err := f.svc.UpdateStatus(ctx, lab, r.ID, Status("bogus")); err == nil {
		t.Error("unknown status accepted")
	}
}

func TestShare_IssueOrReuse(t *testing.T) {
	f := newFixture(t)
	lab := uuid.New()
	patient := uuid.New()
	r := f.file(t, lab, CreateInput{Title: "CBC panel", PatientUserID: &patient})
	ctx := context.Background()

	first, err := f.svc.Share(ctx, patient, uuid.Nil, r.ID)
	if err != nil {
		t.Fatalf("Share: %v", err)
	}
	second, err := f.svc.Share(ctx, patient, uuid.Nil, r.ID)
	if err != nil {
		t.Fatalf("Share again: %v", err)
	}
	if first.Token != second.Token {
		t.Error("second share must reuse the live token")
	}
	if f.shares.issued != 1 {
		t.Errorf("issued = %d, want 1", f.shares.issued)
	}

	// A stranger cannot mint a share for someone else's report.
	if _, err := f.svc.Share(ctx, uuid.New(), uuid.Nil, r.ID); err != ErrAccessDenied {
		t.Errorf("stranger share: err = %v", err)
	}
}

func TestGetShared_TokenMustMatchReport(t *testing.T) {
	f := newFixture(t)
	lab := uuid.New()
	patient := uuid.New()
	r1 := f.file(t, lab, CreateInput{Title: "one", PatientUserID: &patient})
	r2 := f.file(t, lab, CreateInput{Title: "two", PatientUserID: &patient})
	ctx := context.Background()

	issued, _ := f.svc.Share(ctx, patient, uuid.Nil, r1.ID)

	got, err := f.svc.GetShared(ctx, r1.ID, issued.Token)
	if err != nil {
		t.Fatalf("GetShared: %v", err)
	}
	if got.ID != r1.ID {
		t.Error("wrong report")
	}

	// The token is bound to r1; it must not open r2.
	if _, err := f.svc.GetShared(ctx, r2.ID, issued.Token); err != ErrShareInvalid {
		t.Errorf("cross-report token: err = %v, want ErrShareInvalid", err)
	}
	if _, err := f.svc.GetShared(ctx, r1.ID, ""); err != ErrShareInvalid {
		t.Errorf("empty token: err = %v", err)
	}
}

func TestGrantAll_CoversUserAndPhoneReports(t *testing.T) {
	f := newFixture(t)
	lab := uuid.New()
	owner := uuid.New()
	grantee := uuid.New()
	f.phones.byUser[owner] = "+31612345678"

	byID := f.file(t, lab, CreateInput{Title: "by id", PatientUserID: &owner})
	byPhone := f.file(t, lab, CreateInput{Title: "by phone", PatientPhone: "+31612345678"})
	f.file(t, lab, CreateInput{Title: "unrelated", PatientPhone: "+31699999999"})

	if err := f.svc.GrantAll(context.Background(), owner, grantee); err != nil {
		t.Fatalf("GrantAll: %v", err)
	}

	for _, id := range []uuid.UUID{byID.ID, byPhone.ID} {
		if ok, _ := f.grants.Exists(context.Background(), id, grantee); !ok {
			t.Errorf("report %s not granted", id)
		}
	}
	if len(f.grants.set) != 2 {
		t.Errorf("grants = %d, want 2", len(f.grants.set))
	}
}
