package resolver

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/healthport/healthport/internal/identity"
)

// Phase is the explicit state of the session/role machine. Illegal flag
// combinations (loading finished but role stale from a previous user) are
// unrepresentable: role and lab id live only in the Ready phase.
type Phase int

const (
	// PhaseInitializing: the initial session probe is in flight.
	PhaseInitializing Phase = iota
	// PhasePendingRedirect: no session yet, but an unconsumed sign-in
	// redirect is being processed; "unauthenticated" must not be declared.
	PhasePendingRedirect
	// PhaseUnauthenticated: no session exists.
	PhaseUnauthenticated
	// PhaseResolvingRole: a session exists, membership lookup in flight.
	PhaseResolvingRole
	// PhaseReady: session and role are both known.
	PhaseReady
)

func (p Phase) String() string {
	switch p {
	case PhaseInitializing:
		return "initializing"
	case PhasePendingRedirect:
		return "pending_redirect"
	case PhaseUnauthenticated:
		return "unauthenticated"
	case PhaseResolvingRole:
		return "resolving_role"
	case PhaseReady:
		return "ready"
	default:
		return "unknown"
	}
}

// Snapshot is the externally visible resolver state. Read access is broad;
// writes happen only inside the resolver's own loop.
type Snapshot struct {
	Phase   Phase
	Session *identity.Session
	User    *identity.User
	Role    Role
	LabID   uuid.UUID
}

// Loading is true until session existence is known.
func (s Snapshot) Loading() bool {
	return s.Phase == PhaseInitializing || s.Phase == PhasePendingRedirect
}

// RoleLoading is true only while a known user's role is being determined.
// It gates lab-only routes, not patient routes: patient is the fallback role.
func (s Snapshot) RoleLoading() bool {
	return s.Phase == PhaseResolvingRole
}

// sessionClient is the slice of the identity provider the resolver consumes.
type sessionClient interface {
	CurrentSession(ctx context.Context, accessToken string) (*identity.Session, error)
	GetUser(ctx context.Context, id uuid.UUID) (*identity.User, error)
	Subscribe(fn func(identity.Event)) func()
}

// roleResolver is the slice of Service the resolver consumes.
type roleResolver interface {
	ResolveRole(ctx context.Context, userID uuid.UUID) (Role, uuid.UUID)
}

// internal loop messages
type (
	msgProbeResult struct {
		session *identity.Session
	}
	msgAuthEvent struct {
		event identity.Event
	}
	msgRoleResult struct {
		userID uuid.UUID
		role   Role
		labID  uuid.UUID
	}
	msgFallback struct{}
)

// Resolver establishes "who is signed in and in what capacity" exactly once
// per auth-state transition. All state transitions run on a single goroutine,
// so events are processed in delivery order and later events overwrite
// earlier state. Every timer and subscription is torn down on Close; no
// callback mutates state after teardown.
type Resolver struct {
	users  sessionClient
	roles  roleResolver
	logger zerolog.Logger

	initialToken    string
	pendingRedirect bool
	fallbackDelay   time.Duration

	mu       sync.RWMutex
	snapshot Snapshot
	onChange []func(Snapshot)

	msgs        chan interface{}
	done        chan struct{}
	stopped     sync.WaitGroup
	unsubscribe func()
	fallback    *time.Timer
	closeOnce   sync.Once
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithInitialToken supplies a persisted credential to probe on startup.
func WithInitialToken(token string) Option {
	return func(r *Resolver) { r.initialToken = token }
}

// WithPendingRedirect marks that an unconsumed sign-in redirect is present,
// suppressing the unauthenticated verdict until the provider event arrives or
// the fallback timer fires.
func WithPendingRedirect(pending bool) Option {
	return func(r *Resolver) { r.pendingRedirect = pending }
}

// WithFallbackDelay overrides the redirect fallback delay (default 800ms).
func WithFallbackDelay(d time.Duration) Option {
	return func(r *Resolver) { r.fallbackDelay = d }
}

func New(users sessionClient, roles roleResolver, logger zerolog.Logger, opts ...Option) *Resolver {
	r := &Resolver{
		users:         users,
		roles:         roles,
		logger:        logger,
		fallbackDelay: 800 * time.Millisecond,
		snapshot:      Snapshot{Phase: PhaseInitializing},
		msgs:          make(chan interface{}, 16),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Initialize starts the resolver loop, subscribes to provider events, and
// kicks off the initial session probe.
func (r *Resolver) Initialize() {
	r.unsubscribe = r.users.Subscribe(func(e identity.Event) {
		r.post(msgAuthEvent{event: e})
	})

	r.stopped.Add(1)
	go r.loop()
	go r.probe()
}

// Close tears the resolver down: the provider subscription is cancelled, all
// timers are stopped, and the loop exits. Safe to call more than once.
func (r *Resolver) Close() {
	r.closeOnce.Do(func() {
		if r.unsubscribe != nil {
			r.unsubscribe()
		}
		close(r.done)
	})
	r.stopped.Wait()
}

// Snapshot returns the current state.
func (r *Resolver) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshot
}

// OnChange registers a listener invoked after every visible state change, in
// change order. Must be called before Initialize.
func (r *Resolver) OnChange(fn func(Snapshot)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onChange = append(r.onChange, fn)
}

// post delivers a message to the loop unless the resolver is closed.
func (r *Resolver) post(msg interface{}) {
	select {
	case r.msgs <- msg:
	case <-r.done:
	}
}

func (r *Resolver) probe() {
	var session *identity.Session
	if r.initialToken != "" {
		s, err := r.users.CurrentSession(context.Background(), r.initialToken)
		if err == nil {
			session = s
		}
	}
	r.post(msgProbeResult{session: session})
}

func (r *Resolver) loop() {
	defer r.stopped.Done()
	for {
		select {
		case <-r.done:
			if r.fallback != nil {
				r.fallback.Stop()
			}
			return
		case msg := <-r.msgs:
			r.handle(msg)
		}
	}
}

func (r *Resolver) handle(msg interface{}) {
	switch m := msg.(type) {
	case msgProbeResult:
		r.handleProbe(m.session)
	case msgAuthEvent:
		r.handleAuthEvent(m.event)
	case msgRoleResult:
		r.handleRoleResult(m)
	case msgFallback:
		// The expected provider event never fired; re-probe once so the
		// machine cannot stall in PendingRedirect.
		r.pendingRedirect = false
		go r.probe()
	}
}

func (r *Resolver) handleProbe(session *identity.Session) {
	if session != nil {
		r.startRoleResolution(session)
		return
	}

	// A slow probe may answer after a signed-in event has already driven
	// the machine forward. "No session" never overrides a known session;
	// only the pre-session phases may settle in Unauthenticated.
	r.mu.RLock()
	phase := r.snapshot.Phase
	r.mu.RUnlock()
	if phase == PhaseResolvingRole || phase == PhaseReady {
		return
	}

	if r.pendingRedirect {
		r.update(func(s *Snapshot) {
			s.Phase = PhasePendingRedirect
		})
		r.fallback = time.AfterFunc(r.fallbackDelay, func() {
			r.post(msgFallback{})
		})
		return
	}

	r.update(func(s *Snapshot) {
		*s = Snapshot{Phase: PhaseUnauthenticated}
	})
}

func (r *Resolver) handleAuthEvent(e identity.Event) {
	switch e.Type {
	case identity.EventSignedIn:
		r.pendingRedirect = false
		if r.fallback != nil {
			r.fallback.Stop()
		}
		r.startRoleResolution(e.Session)
	case identity.EventSignedOut:
		// Derived state first: no stale role may remain visible while the
		// session is still set.
		r.update(func(s *Snapshot) {
			s.Role = RoleUnresolved
			s.LabID = uuid.Nil
		})
		r.update(func(s *Snapshot) {
			*s = Snapshot{Phase: PhaseUnauthenticated}
		})
	}
}

func (r *Resolver) startRoleResolution(session *identity.Session) {
	user, err := r.users.GetUser(context.Background(), session.UserID)
	if err != nil {
		// Session without a loadable user record: identity is still known.
		user = &identity.User{ID: session.UserID}
	}

	r.update(func(s *Snapshot) {
		*s = Snapshot{
			Phase:   PhaseResolvingRole,
			Session: session,
			User:    user,
		}
	})

	userID := session.UserID
	go func() {
		role, labID := r.roles.ResolveRole(context.Background(), userID)
		r.post(msgRoleResult{userID: userID, role: role, labID: labID})
	}()
}

func (r *Resolver) handleRoleResult(m msgRoleResult) {
	r.mu.RLock()
	current := r.snapshot
	r.mu.RUnlock()

	// A sign-out or a newer sign-in may have raced the lookup; a stale
	// result must not resurrect an old user's role.
	if current.Phase != PhaseResolvingRole || current.Session == nil || current.Session.UserID != m.userID {
		return
	}

	r.update(func(s *Snapshot) {
		s.Phase = PhaseReady
		s.Role = m.role
		s.LabID = m.labID
	})
}

func (r *Resolver) update(mutate func(*Snapshot)) {
	r.mu.Lock()
	mutate(&r.snapshot)
	snapshot := r.snapshot
	listeners := r.onChange
	r.mu.Unlock()

	for _, fn := range listeners {
		fn(snapshot)
	}
}
