package resolver

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/healthport/healthport/internal/identity"
)

type fakeIdentity struct {
	mu        sync.Mutex
	session   *identity.Session
	hub       *identity.Hub
	probeGate chan struct{} // when non-nil, CurrentSession blocks until closed
}

func newFakeIdentity() *fakeIdentity {
	return &fakeIdentity{hub: identity.NewHub()}
}

func (f *fakeIdentity) CurrentSession(_ context.Context, token string) (*identity.Session, error) {
	if f.probeGate != nil {
		<-f.probeGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.session != nil && f.session.AccessToken == token {
		return f.session, nil
	}
	return nil, fmt.Errorf("no session")
}

func (f *fakeIdentity) GetUser(_ context.Context, id uuid.UUID) (*identity.User, error) {
	return &identity.User{ID: id}, nil
}

func (f *fakeIdentity) Subscribe(fn func(identity.Event)) func() {
	return f.hub.Subscribe(fn)
}

func (f *fakeIdentity) signIn(s *identity.Session) {
	f.mu.Lock()
	f.session = s
	f.mu.Unlock()
	f.hub.Publish(identity.Event{Type: identity.EventSignedIn, Session: s})
}

func (f *fakeIdentity) signOut() {
	f.mu.Lock()
	f.session = nil
	f.mu.Unlock()
	f.hub.Publish(identity.Event{Type: identity.EventSignedOut})
}

type fakeRoles struct {
	role    Role
	labID   uuid.UUID
	release chan struct{} // when non-nil, ResolveRole blocks until closed
}

func (f *fakeRoles) ResolveRole(_ context.Context, _ uuid.UUID) (Role, uuid.UUID) {
	if f.release != nil {
		<-f.release
	}
	return f.role, f.labID
}

func waitFor(t *testing.T, r *Resolver, cond func(Snapshot) bool) Snapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s := r.Snapshot()
		if cond(s) {
			return s
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not reached, last snapshot phase=%s", r.Snapshot().Phase)
	return Snapshot{}
}

func testSession(userID uuid.UUID) *identity.Session {
	return &identity.Session{
		AccessToken: "token-" + userID.String(),
		SessionID:   uuid.New().String(),
		UserID:      userID,
		ExpiresAt:   time.Now().Add(time.Hour),
	}
}

func TestResolver_NoSessionUnauthenticated(t *testing.T) {
	r := New(newFakeIdentity(), &fakeRoles{role: RolePatient}, testLogger())
	defer r.Close()
	r.Initialize()

	s := waitFor(t, r, func(s Snapshot) bool { return s.Phase == PhaseUnauthenticated })
	if s.Loading() {
		t.Error("unauthenticated snapshot must not report loading")
	}
}

func TestResolver_InitialTokenResolvesToReady(t *testing.T) {
	ids := newFakeIdentity()
	userID := uuid.New()
	ids.session = testSession(userID)
	labID := uuid.New()

	r := New(ids, &fakeRoles{role: RoleLab, labID: labID}, testLogger(),
		WithInitialToken(ids.session.AccessToken))
	defer r.Close()
	r.Initialize()

	s := waitFor(t, r, func(s Snapshot) bool { return s.Phase == PhaseReady })
	if s.Role != RoleLab || s.LabID != labID {
		t.Errorf("got (%q, %s), want (lab, %s)", s.Role, s.LabID, labID)
	}
	if s.User == nil || s.User.ID != userID {
		t.Error("user not carried into ready snapshot")
	}
}

func TestResolver_PendingRedirectSuppressesUnauthenticated(t *testing.T) {
	ids := newFakeIdentity()
	r := New(ids, &fakeRoles{role: RolePatient}, testLogger(),
		WithPendingRedirect(true),
		WithFallbackDelay(50*time.Millisecond))
	defer r.Close()
	r.Initialize()

	// While the redirect is being consumed, the machine must hold in
	// PendingRedirect rather than declaring no session.
	s := waitFor(t, r, func(s Snapshot) bool { return s.Phase == PhasePendingRedirect })
	if !s.Loading() {
		t.Error("pending redirect must report loading")
	}

	// The provider event lands before the fallback: session wins.
	ids.signIn(testSession(uuid.New()))
	s = waitFor(t, r, func(s Snapshot) bool { return s.Phase == PhaseReady })
	if s.Role != RolePatient {
		t.Errorf("role = %q, want patient", s.Role)
	}
}

func TestResolver_FallbackTimerGuaranteesProgress(t *testing.T) {
	ids := newFakeIdentity()
	r := New(ids, &fakeRoles{role: RolePatient}, testLogger(),
		WithPendingRedirect(true),
		WithFallbackDelay(20*time.Millisecond))
	defer r.Close()
	r.Initialize()

	// No provider event ever arrives; the fallback re-probe must settle the
	// machine in Unauthenticated.
	waitFor(t, r, func(s Snapshot) bool { return s.Phase == PhaseUnauthenticated })
}

func TestResolver_SignedInEventTriggersRoleResolution(t *testing.T) {
	ids := newFakeIdentity()
	r := New(ids, &fakeRoles{role: RolePatient}, testLogger())
	defer r.Close()
	r.Initialize()

	waitFor(t, r, func(s Snapshot) bool { return s.Phase == PhaseUnauthenticated })

	userID := uuid.New()
	ids.signIn(testSession(userID))

	s := waitFor(t, r, func(s Snapshot) bool { return s.Phase == PhaseReady })
	if s.Session == nil || s.Session.UserID != userID {
		t.Error("session not adopted from signed-in event")
	}
}

func TestResolver_SignOutClearsDerivedStateFirst(t *testing.T) {
	ids := newFakeIdentity()
	userID := uuid.New()
	ids.session = testSession(userID)

	r := New(ids, &fakeRoles{role: RoleLab, labID: uuid.New()}, testLogger(),
		WithInitialToken(ids.session.AccessToken))

	var mu sync.Mutex
	var seen []Snapshot
	r.OnChange(func(s Snapshot) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})

	defer r.Close()
	r.Initialize()
	waitFor(t, r, func(s Snapshot) bool { return s.Phase == PhaseReady })

	ids.signOut()
	waitFor(t, r, func(s Snapshot) bool { return s.Phase == PhaseUnauthenticated })

	mu.Lock()
	defer mu.Unlock()

	// Find the transition pair: role/labID cleared while the session is
	// still visible, then everything cleared.
	var clearedRoleFirst bool
	for i, s := range seen {
		if s.Session != nil && s.Role == RoleUnresolved && s.LabID == uuid.Nil && i > 0 && seen[i-1].Role == RoleLab {
			clearedRoleFirst = true
			if i+1 < len(seen) {
				next := seen[i+1]
				if next.Session != nil || next.User != nil {
					t.Error("session/user not cleared after role")
				}
			}
		}
	}
	if !clearedRoleFirst {
		t.Error("derived role state was not cleared before the session")
	}

	final := r.Snapshot()
	if final.Session != nil || final.User != nil || final.Role != RoleUnresolved || final.LabID != uuid.Nil {
		t.Errorf("stale state after sign-out: %+v", final)
	}
}

func TestResolver_StaleRoleResultIgnoredAfterSignOut(t *testing.T) {
	ids := newFakeIdentity()
	userID := uuid.New()
	ids.session = testSession(userID)

	roles := &fakeRoles{role: RoleLab, labID: uuid.New(), release: make(chan struct{})}
	r := New(ids, roles, testLogger(), WithInitialToken(ids.session.AccessToken))
	defer r.Close()
	r.Initialize()

	waitFor(t, r, func(s Snapshot) bool { return s.Phase == PhaseResolvingRole })

	// Sign out while the membership lookup is still in flight, then let the
	// lookup complete. The stale result must not resurrect the lab role.
	ids.signOut()
	waitFor(t, r, func(s Snapshot) bool { return s.Phase == PhaseUnauthenticated })
	close(roles.release)

	time.Sleep(20 * time.Millisecond)
	s := r.Snapshot()
	if s.Phase != PhaseUnauthenticated || s.Role != RoleUnresolved {
		t.Errorf("stale role applied after sign-out: %+v", s)
	}
}

func TestResolver_LateProbeCannotClobberSignedInState(t *testing.T) {
	ids := newFakeIdentity()
	ids.probeGate = make(chan struct{})

	r := New(ids, &fakeRoles{role: RolePatient}, testLogger(),
		WithInitialToken("stale-boot-token"))
	defer r.Close()
	r.Initialize()

	// A signed-in event arrives while the initial session probe is still in
	// flight; the machine reaches Ready on the event alone.
	userID := uuid.New()
	ids.signIn(testSession(userID))
	waitFor(t, r, func(s Snapshot) bool { return s.Phase == PhaseReady })

	// Now the probe completes with "no session". That stale answer must not
	// demote the authenticated state.
	close(ids.probeGate)
	time.Sleep(20 * time.Millisecond)

	s := r.Snapshot()
	if s.Phase != PhaseReady {
		t.Fatalf("phase = %s after late probe, want ready", s.Phase)
	}
	if s.Session == nil || s.Session.UserID != userID {
		t.Error("session dropped by a stale probe result")
	}
}

func TestResolver_CloseStopsCallbacks(t *testing.T) {
	ids := newFakeIdentity()
	r := New(ids, &fakeRoles{role: RolePatient}, testLogger())
	r.Initialize()
	waitFor(t, r, func(s Snapshot) bool { return s.Phase == PhaseUnauthenticated })
	r.Close()

	before := r.Snapshot()
	ids.signIn(testSession(uuid.New()))
	time.Sleep(20 * time.Millisecond)

	after := r.Snapshot()
	if after.Phase != before.Phase {
		t.Error("state mutated after Close")
	}
}
