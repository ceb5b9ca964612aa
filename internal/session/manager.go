package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phuslu/log"

	"github.com/shehryarbajwa/webpage2pdf/internal/batch"
	"github.com/shehryarbajwa/webpage2pdf/internal/browser"
	"github.com/shehryarbajwa/webpage2pdf/pkg/models"
)

var (
	// ErrSessionInvalid is returned for unknown, stale or finished session ids.
	ErrSessionInvalid = errors.New("invalid session, please log in again")
	// ErrStillOnLoginPage is returned when generation is requested before the
	// login finished.
	ErrStillOnLoginPage = errors.New("still on the login page, finish logging in and retry")
	// ErrLoginPage is returned when the login page could not be opened.
	ErrLoginPage = errors.New("failed to open login page")
)

// StillOnLoginError carries where the login tab currently is.
type StillOnLoginError struct {
	CurrentURL string
	PageTitle  string
}

func (e *StillOnLoginError) Error() string {
	return ErrStillOnLoginPage.Error()
}

func (e *StillOnLoginError) Is(target error) bool {
	return target == ErrStillOnLoginPage
}

// Runner is the batch machinery a session drives. Implemented by batch.Service.
type Runner interface {
	Acquire(ctx context.Context) (browser.Browser, bool, error)
	Navigator() *browser.Navigator
	RunWith(ctx context.Context, b browser.Browser, urls []string, firstPage browser.Page) ([]models.Outcome, error)
	Release(b browser.Browser)
}

type loginSession struct {
	view    models.LoginSession
	browser browser.Browser
	lease   browser.Lease
	urls    []string
	ready   *time.Timer
	expiry  *time.Timer
}

// Manager keeps manual-login sessions. At most one session waits for a
// login at any time; preparing a new one closes the previous one.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*loginSession
	runner   Runner
	grace    time.Duration
	ttl      time.Duration
	logger   *log.Logger
	now      func() time.Time
}

// NewManager creates a session manager. grace is how long a login page is
// given before the session counts as ready; ttl bounds how long a session
// may wait for generation.
func NewManager(runner Runner, grace, ttl time.Duration, logger *log.Logger) *Manager {
	return &Manager{
		sessions: make(map[string]*loginSession),
		runner:   runner,
		grace:    grace,
		ttl:      ttl,
		logger:   logger,
		now:      time.Now,
	}
}

// Prepare acquires a browser, opens the first URL for a human to log in,
// and returns the id to resume with.
func (m *Manager) Prepare(ctx context.Context, raw string) (models.PrepareLoginResponse, error) {
	urls, err := batch.ParseURLList(raw)
	if err != nil {
		return models.PrepareLoginResponse{}, err
	}

	loginURL := batch.Normalize(urls[0])
	if err := batch.Validate(loginURL); err != nil {
		return models.PrepareLoginResponse{}, err
	}

	b, shared, err := m.runner.Acquire(ctx)
	if err != nil {
		return models.PrepareLoginResponse{}, err
	}

	lease, err := browser.ObtainPage(ctx, b, nil)
	if err != nil {
		m.runner.Release(b)
		return models.PrepareLoginResponse{}, fmt.Errorf("%w: %v", ErrLoginPage, err)
	}

	m.logger.Info().Str("url", loginURL).Bool("shared_browser", shared).Msg("🔑 opening login page")
	if _, err := m.runner.Navigator().Navigate(ctx, lease.Page, loginURL); err != nil {
		m.releaseResources(lease, b)
		return models.PrepareLoginResponse{}, fmt.Errorf("%w: %v", ErrLoginPage, err)
	}

	now := m.now()
	s := &loginSession{
		view: models.LoginSession{
			ID:                   uuid.New().String(),
			State:                models.StateLoginPending,
			LoginURL:             loginURL,
			TotalURLs:            len(urls),
			UsingExistingBrowser: shared,
			CreatedAt:            now,
			ReadyAt:              now.Add(m.grace),
			ExpiresAt:            now.Add(m.ttl),
		},
		browser: b,
		lease:   lease,
		urls:    urls,
	}
	id := s.view.ID

	m.mu.Lock()
	var stale []*loginSession
	for _, old := range m.sessions {
		if old.view.State == models.StateGenerating {
			continue
		}
		stale = append(stale, m.detach(old, models.StateCancelled))
	}
	s.ready = time.AfterFunc(m.grace, func() { m.markReady(id) })
	s.expiry = time.AfterFunc(m.ttl, func() { m.expire(id) })
	m.sessions[id] = s
	m.mu.Unlock()

	for _, old := range stale {
		m.logger.Warn().Str("session_id", old.view.ID).Msg("replacing previous login session")
		m.releaseResources(old.lease, old.browser)
	}

	m.logger.Info().Str("session_id", id).Int("urls", len(urls)).Msg("✅ login session ready for manual login")

	return models.PrepareLoginResponse{
		Message:              "Login page opened. Log in, then start PDF generation.",
		SessionID:            id,
		LoginURL:             loginURL,
		TotalURLs:            len(urls),
		UsingExistingBrowser: shared,
	}, nil
}

// Start renders the session's URLs, beginning on the login tab. The session
// ends when generation finishes. If the tab still shows a login page the
// session is left as it was so the caller can retry.
func (m *Manager) Start(ctx context.Context, id string) ([]models.Outcome, error) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok || !startable(s.view.State) {
		m.mu.Unlock()
		return nil, ErrSessionInvalid
	}
	prev := s.view.State
	s.view.State = models.StateGenerating
	m.mu.Unlock()

	firstPage := s.lease.Page
	info, err := m.runner.Navigator().Inspect(ctx, firstPage)
	switch {
	case err != nil:
		// The tab is gone; the first URL gets a fresh one
		m.logger.Warn().Err(err).Str("session_id", id).Msg("login tab unavailable")
		firstPage = nil
	case info.LikelyLogin:
		m.restore(s, prev)
		m.logger.Warn().Str("session_id", id).Str("url", info.FinalURL).Msg("⚠️ still on login page")
		return nil, &StillOnLoginError{CurrentURL: info.FinalURL, PageTitle: info.Title}
	}

	m.logger.Info().Str("session_id", id).Int("urls", len(s.urls)).Msg("🚀 login confirmed, generating")

	outcomes, err := m.runner.RunWith(ctx, s.browser, s.urls, firstPage)
	if err != nil {
		m.restore(s, prev)
		return nil, err
	}

	// Run released the browser. The login tab stays open.
	m.mu.Lock()
	m.detach(s, models.StateCompleted)
	m.mu.Unlock()

	m.logger.Info().Str("session_id", id).Msg("login session completed")
	return outcomes, nil
}

// Cancel ends a waiting session without generating.
func (m *Manager) Cancel(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok || !startable(s.view.State) {
		m.mu.Unlock()
		return ErrSessionInvalid
	}
	m.detach(s, models.StateCancelled)
	m.mu.Unlock()

	m.logger.Info().Str("session_id", id).Msg("login session cancelled")
	m.releaseResources(s.lease, s.browser)
	return nil
}

// Get returns the public view of a live session.
func (m *Manager) Get(id string) (models.LoginSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return models.LoginSession{}, ErrSessionInvalid
	}
	return s.view, nil
}

// ControlURL returns the CDP endpoint of a waiting session's browser.
func (m *Manager) ControlURL(id string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || !startable(s.view.State) {
		return "", ErrSessionInvalid
	}
	return s.browser.ControlURL(), nil
}

// Close cancels every waiting session. Sessions mid-generation finish on their own.
func (m *Manager) Close() {
	m.mu.Lock()
	var waiting []*loginSession
	for _, s := range m.sessions {
		if startable(s.view.State) {
			waiting = append(waiting, m.detach(s, models.StateCancelled))
		}
	}
	m.mu.Unlock()

	for _, s := range waiting {
		m.releaseResources(s.lease, s.browser)
	}
}

func (m *Manager) markReady(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok && s.view.State == models.StateLoginPending {
		s.view.State = models.StateReady
		m.logger.Debug().Str("session_id", id).Msg("login grace period elapsed")
	}
}

func (m *Manager) expire(id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	// A session mid-generation is finished or restored by Start
	if !ok || !startable(s.view.State) {
		m.mu.Unlock()
		return
	}
	m.detach(s, models.StateExpired)
	m.mu.Unlock()

	m.logger.Info().Str("session_id", id).Msg("⏰ login session expired")
	m.releaseResources(s.lease, s.browser)
}

// restore puts a session back to the state it had before Start claimed it.
func (m *Manager) restore(s *loginSession, prev models.LoginState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.sessions[s.view.ID]; !ok || cur != s {
		return
	}
	s.view.State = prev
	// Expiry may have been skipped while generation was being attempted
	if remaining := s.view.ExpiresAt.Sub(m.now()); remaining <= 0 {
		s.expiry.Reset(0)
	}
}

// detach removes s from the store. Callers hold m.mu.
func (m *Manager) detach(s *loginSession, final models.LoginState) *loginSession {
	s.ready.Stop()
	s.expiry.Stop()
	s.view.State = final
	delete(m.sessions, s.view.ID)
	return s
}

func (m *Manager) releaseResources(lease browser.Lease, b browser.Browser) {
	if lease.NewlyCreated && lease.Page != nil {
		if err := lease.Page.Close(); err != nil {
			m.logger.Debug().Err(err).Msg("closing login tab failed")
		}
	}
	m.runner.Release(b)
}

func startable(state models.LoginState) bool {
	return state == models.StateLoginPending || state == models.StateReady
}
