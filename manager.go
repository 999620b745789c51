package session

import (
	"context"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// Config holds the manager settings that come from the deployment.
type Config struct {
	// RedirectURL is where the identity service sends the user agent after a
	// provider login.
	RedirectURL string
	// PasswordResetURL is the target of password recovery links.
	PasswordResetURL string
	// AvatarBucket defaults to DefaultAvatarBucket.
	AvatarBucket string
	// Providers lists the federated providers accepted by LoginWithProvider.
	Providers []string
}

// DefaultProviders are accepted when Config.Providers is empty.
var DefaultProviders = []string{"google", "github"}

// Manager is the authentication session manager. It reconciles the local
// Store with the remote identity service.
//
// Only one state changing operation runs at a time. An operation started
// while another is in flight fails with ErrBusy.
type Manager struct {
	identity     IdentityService
	store        *Store
	drafts       DraftStore
	logger       Logger
	activitySink ActivitySink
	config       Config
	now          func() time.Time
	// assets is set by NewAvatarHandler so profile updates can release
	// avatar assets they replace.
	assets *AvatarHandler

	opMu         sync.Mutex
	inflight     string
	closed       bool
	bootstrapped bool
	unsubscribe  func()
}

// NewManager returns a manager bound to identity. Call Bootstrap before use.
func NewManager(identity IdentityService, cfg Config) *Manager {
	if cfg.AvatarBucket == "" {
		cfg.AvatarBucket = DefaultAvatarBucket
	}
	if len(cfg.Providers) == 0 {
		cfg.Providers = DefaultProviders
	}

	return &Manager{
		identity:     identity,
		store:        NewStore(),
		drafts:       NewMemoryDraftStore(),
		logger:       defLogger{},
		activitySink: discardSink{},
		config:       cfg,
		now:          time.Now,
	}
}

func (m *Manager) WithLogger(logger Logger) *Manager {
	m.logger = normalizeLogger(logger)
	return m
}

// WithActivitySink configures an ActivitySink for emitting session events.
func (m *Manager) WithActivitySink(sink ActivitySink) *Manager {
	m.activitySink = normalizeActivitySink(sink)
	return m
}

// WithDraftStore replaces the in memory profile draft store.
func (m *Manager) WithDraftStore(drafts DraftStore) *Manager {
	if drafts != nil {
		m.drafts = drafts
	}
	return m
}

// Store returns the state container observed by the presentation layer.
func (m *Manager) Store() *Store {
	return m.store
}

// State is a shortcut for Store().Snapshot().
func (m *Manager) State() SessionState {
	return m.store.Snapshot()
}

// Bootstrap restores an existing remote session and subscribes to identity
// changes. Failures leave the session unauthenticated; IsLoading is always
// cleared. Calling it again is a no-op.
func (m *Manager) Bootstrap(ctx context.Context) error {
	end, err := m.begin("bootstrap")
	if err != nil {
		return err
	}
	defer end()

	if m.bootstrapped {
		return nil
	}

	identity, err := m.identity.GetSession(ctx)
	switch {
	case err != nil:
		m.logger.Warn("bootstrap could not restore session", "error", err)
		m.store.bootstrapped(nil)
	case identity == nil:
		m.store.bootstrapped(nil)
	default:
		user := Normalize(*identity)
		m.store.bootstrapped(&user)
		if user.Valid() {
			m.emitActivity(ctx, ActivityEventSessionRestored, user.ID, user.Email, nil)
		}
	}

	unsubscribe := m.identity.OnAuthStateChange(m.handleAuthEvent)

	m.opMu.Lock()
	defer m.opMu.Unlock()
	if m.closed {
		unsubscribe()
		return ErrManagerClosed
	}
	m.unsubscribe = unsubscribe
	m.bootstrapped = true
	return nil
}

// handleAuthEvent applies identity service notifications. Applying the same
// event twice leaves the state unchanged.
func (m *Manager) handleAuthEvent(event AuthChangeEvent) {
	if m.store.Closed() {
		return
	}

	switch event.Type {
	case AuthEventSignedOut:
		m.store.clear()
	case AuthEventSignedIn, AuthEventTokenRefreshed, AuthEventUserUpdated,
		AuthEventInitialSession, AuthEventPasswordRecovery:
		if event.Identity == nil {
			if event.Type == AuthEventInitialSession {
				m.store.clear()
			}
			return
		}
		if !m.store.setUser(Normalize(*event.Identity)) {
			m.logger.Debug("auth event left state unchanged", "event", event.Type)
		}
	default:
		m.logger.Debug("ignoring auth event", "event", event.Type)
	}
}

// Login exchanges credentials for a session. A rejected credential pair is
// reported as false with a nil error; transport and other remote failures
// are returned.
func (m *Manager) Login(ctx context.Context, email, password string) (bool, error) {
	email = strings.TrimSpace(email)
	if err := validateLogin(email, password); err != nil {
		return false, err
	}

	end, err := m.begin("login")
	if err != nil {
		return false, err
	}
	defer end()

	identity, err := m.identity.SignInWithPassword(ctx, email, password)
	if err != nil {
		if isInvalidCredentials(err) {
			m.emitActivity(ctx, ActivityEventLoginFailure, "", email, map[string]any{"reason": "invalid_credentials"})
			return false, nil
		}
		m.logger.Error("login failed", "error", err)
		m.emitActivity(ctx, ActivityEventLoginFailure, "", email, map[string]any{"reason": ErrorKind(err)})
		return false, err
	}

	user, err := userFromIdentity(identity)
	if err != nil {
		m.logger.Error("login returned unusable identity", "error", err)
		return false, err
	}

	m.store.setUser(user)
	m.emitActivity(ctx, ActivityEventLoginSuccess, user.ID, user.Email, nil)
	return true, nil
}

// Register creates an account. It never authenticates the session; the
// identity service may require email confirmation first.
func (m *Manager) Register(ctx context.Context, email, password, name string) (bool, error) {
	email = strings.TrimSpace(email)
	name = strings.TrimSpace(name)
	if err := validateRegistration(email, password, name); err != nil {
		return false, err
	}

	end, err := m.begin("register")
	if err != nil {
		return false, err
	}
	defer end()

	_, err = m.identity.SignUp(ctx, email, password, map[string]any{"full_name": name})
	if err != nil {
		if !IsTransportError(err) {
			err = classifySignUpError(err)
		}
		m.logger.Error("registration failed", "error", err)
		m.emitActivity(ctx, ActivityEventRegisterFailure, "", email, map[string]any{"reason": ErrorKind(err)})
		return false, err
	}

	m.emitActivity(ctx, ActivityEventRegistered, "", email, nil)
	return true, nil
}

// LoginWithProvider starts a federated login and returns the URL the user
// agent must be sent to. The session is updated once the identity service
// reports the sign in.
func (m *Manager) LoginWithProvider(ctx context.Context, provider string) (string, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if !m.providerAllowed(provider) {
		return "", ErrProviderNotSupported
	}

	end, err := m.begin("login_provider")
	if err != nil {
		return "", err
	}
	defer end()

	redirect, err := m.identity.SignInWithOAuth(ctx, provider, m.config.RedirectURL)
	if err != nil {
		m.logger.Error("provider login failed", "provider", provider, "error", err)
		return "", err
	}

	m.emitActivity(ctx, ActivityEventProviderRedirect, "", "", map[string]any{"provider": provider})
	return redirect, nil
}

// Logout ends the remote session and clears local state once the identity
// service confirmed it. On failure the local state is left untouched.
func (m *Manager) Logout(ctx context.Context) error {
	end, err := m.begin("logout")
	if err != nil {
		return err
	}
	defer end()

	current := m.store.Snapshot()
	if err := m.identity.SignOut(ctx); err != nil {
		m.logger.Error("logout failed", "error", err)
		return err
	}

	m.store.clear()
	if current.User != nil {
		m.emitActivity(ctx, ActivityEventLogout, current.User.ID, current.User.Email, nil)
	}
	return nil
}

// UpdateProfile writes name and avatar to the identity metadata and merges
// them locally after the remote write succeeded. Changing the email is not
// supported; an update carrying the current email is accepted.
func (m *Manager) UpdateProfile(ctx context.Context, update ProfileUpdate) error {
	end, err := m.begin("update_profile")
	if err != nil {
		return err
	}
	defer end()

	user, err := m.currentUser()
	if err != nil {
		return err
	}

	if update.Email != nil && !strings.EqualFold(strings.TrimSpace(*update.Email), user.Email) {
		return ErrEmailImmutable
	}

	data := map[string]any{}
	if update.Name != nil {
		name := strings.TrimSpace(*update.Name)
		if name == "" {
			return ErrNameRequired
		}
		update.Name = &name
		data["full_name"] = name
	}
	if update.Avatar != nil {
		avatar := strings.TrimSpace(*update.Avatar)
		if avatar == "" {
			avatar = PlaceholderAvatar(user.Email)
		}
		update.Avatar = &avatar
		data["avatar_url"] = avatar
	}
	if len(data) == 0 {
		return ErrEmptyProfileUpdate
	}

	if _, err := m.identity.UpdateUser(ctx, UserAttributes{Data: data}); err != nil {
		m.logger.Error("profile update failed", "user_id", user.ID, "error", err)
		return err
	}

	if update.Avatar != nil && m.assets != nil {
		m.assets.release(ctx, user.ID, user.Avatar, *update.Avatar)
	}

	m.store.mergeProfile(update.Name, update.Avatar)

	if err := m.drafts.ClearDraft(ctx, user.ID); err != nil {
		m.logger.Warn("could not clear profile draft", "user_id", user.ID, "error", err)
	}

	m.emitActivity(ctx, ActivityEventProfileUpdated, user.ID, user.Email, fieldNames(data))
	return nil
}

// ResetPassword asks the identity service to send a recovery email.
func (m *Manager) ResetPassword(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	if err := validateEmail(email); err != nil {
		return err
	}

	if err := m.identity.ResetPasswordForEmail(ctx, email, m.config.PasswordResetURL); err != nil {
		m.logger.Error("password reset request failed", "error", err)
		return err
	}

	m.emitActivity(ctx, ActivityEventPasswordReset, "", email, nil)
	return nil
}

// SaveProfileDraft stores an unsaved profile edit for the current user.
func (m *Manager) SaveProfileDraft(ctx context.Context, draft ProfileDraft) error {
	user, err := m.currentUser()
	if err != nil {
		return err
	}

	draft.UserID = user.ID
	draft.UpdatedAt = m.now()
	if err := m.drafts.SaveDraft(ctx, draft); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to save profile draft")
	}
	return nil
}

// ProfileDraft returns the edit draft of the current user reconciled with
// the authoritative profile. Unreadable or foreign drafts are discarded.
func (m *Manager) ProfileDraft(ctx context.Context) (ProfileDraft, error) {
	user, err := m.currentUser()
	if err != nil {
		return ProfileDraft{}, err
	}

	out := ProfileDraft{UserID: user.ID, Name: user.Name, Avatar: user.Avatar}

	draft, err := m.drafts.LoadDraft(ctx, user.ID)
	if err != nil {
		m.logger.Warn("discarding unreadable profile draft", "user_id", user.ID, "error", err)
		return out, nil
	}
	if draft == nil || draft.UserID != user.ID {
		return out, nil
	}

	out.Name = firstNonBlank(draft.Name, user.Name)
	out.Avatar = firstNonBlank(draft.Avatar, user.Avatar)
	out.UpdatedAt = draft.UpdatedAt
	return out, nil
}

// Close unsubscribes from the identity service and closes the store. Every
// later operation fails with ErrManagerClosed.
func (m *Manager) Close() {
	m.opMu.Lock()
	if m.closed {
		m.opMu.Unlock()
		return
	}
	m.closed = true
	unsubscribe := m.unsubscribe
	m.unsubscribe = nil
	m.opMu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	m.store.Close()
}

func (m *Manager) begin(op string) (func(), error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	if m.closed {
		return nil, ErrManagerClosed
	}
	if m.inflight != "" {
		m.logger.Debug("rejecting overlapping operation", "operation", op, "inflight", m.inflight)
		return nil, ErrBusy
	}

	m.inflight = op
	return func() {
		m.opMu.Lock()
		m.inflight = ""
		m.opMu.Unlock()
	}, nil
}

func (m *Manager) currentUser() (User, error) {
	state := m.store.Snapshot()
	if !state.IsAuthenticated || !state.User.Valid() {
		return User{}, ErrNotAuthenticated
	}
	return *state.User, nil
}

func (m *Manager) providerAllowed(provider string) bool {
	if provider == "" {
		return false
	}
	for _, p := range m.config.Providers {
		if strings.EqualFold(p, provider) {
			return true
		}
	}
	return false
}

func (m *Manager) emitActivity(ctx context.Context, eventType ActivityEventType, userID, email string, metadata map[string]any) {
	sink := normalizeActivitySink(m.activitySink)
	event := ActivityEvent{
		EventType:  eventType,
		UserID:     userID,
		Email:      email,
		Metadata:   metadata,
		OccurredAt: m.now(),
	}

	if event.Metadata == nil {
		event.Metadata = map[string]any{}
	}

	if err := sink.Record(ctx, event); err != nil {
		m.logger.Warn("activity sink record error", "error", err)
	}
}

func userFromIdentity(identity *RemoteIdentity) (User, error) {
	if identity == nil {
		return User{}, goerrors.New("identity service returned no user", goerrors.CategoryInternal)
	}
	user := Normalize(*identity)
	if !user.Valid() {
		return User{}, goerrors.New("identity service returned a user without id or email", goerrors.CategoryInternal).
			WithMetadata(map[string]any{"id": identity.ID})
	}
	return user, nil
}

func fieldNames(data map[string]any) map[string]any {
	return map[string]any{"fields": slices.Sorted(maps.Keys(data))}
}
