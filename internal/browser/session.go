// Package browser wraps Playwright for the three consumers that need a
// live page: the Snapshot Service (C1) captures one page and closes it,
// the Executor (C8) drives one page through a whole ActionPlan, and the
// Interactive Session Manager (C10) keeps several named sessions alive
// across separate requests. All three share the launch/teardown and
// console/error bookkeeping in this file; the teacher's CDP-relay
// connection model (attaching to an already-running, user-owned browser)
// does not apply here — each session launches and owns its own Chromium
// process.
package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/playwright-community/playwright-go"
)

// LaunchOptions configures a freshly-launched Chromium instance.
type LaunchOptions struct {
	Headless         bool
	ViewportWidth    int
	ViewportHeight   int
	DefaultTimeoutMS int
}

// Session owns one Chromium browser process, one browser context and one
// page. Unlike the teacher's Session, which indexed every page of a
// shared, externally-managed browser, a Session here is single-page: C1,
// C8 and C10 never need more than one tab per logical test session.
type Session struct {
	mu sync.RWMutex

	id      string
	browser playwright.Browser
	ctx     playwright.BrowserContext
	page    *Page

	createdAt  time.Time
	lastUsedAt time.Time
	closed     bool
}

// Page wraps a Playwright page with state tracking.
type Page struct {
	mu sync.RWMutex

	pwPage  playwright.Page
	session *Session
	state   *PageState
	closed  bool
}

// PageState tracks page state for debugging and artifact capture.
type PageState struct {
	URL             string           `json:"url"`
	Title           string           `json:"title"`
	ConsoleMessages []ConsoleMessage `json:"console_messages,omitempty"`
	Errors          []PageError      `json:"errors,omitempty"`
}

// ConsoleMessage represents a browser console message.
type ConsoleMessage struct {
	Type      string    `json:"type"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// PageError represents an uncaught page error.
type PageError struct {
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

var (
	// Playwright driver instance, started once per process.
	pwOnce     sync.Once
	pwInstance *playwright.Playwright
	pwErr      error

	// Named sessions, used by the Interactive Session Manager (C10) only.
	// C1 and C8 launch ephemeral sessions that never enter this map.
	sessionsMu sync.Mutex
	sessions   = make(map[string]*Session)
)

// getPlaywright returns the singleton Playwright driver, installing
// browsers on first use.
func getPlaywright() (*playwright.Playwright, error) {
	pwOnce.Do(func() {
		if err := playwright.Install(); err != nil {
			pwErr = fmt.Errorf("failed to install playwright browsers: %w", err)
			return
		}
		pw, err := playwright.Run()
		if err != nil {
			pwErr = fmt.Errorf("failed to start playwright: %w", err)
			return
		}
		pwInstance = pw
	})
	return pwInstance, pwErr
}

// Shutdown stops the Playwright driver. Call once at process exit, after
// every session has been closed.
func Shutdown() error {
	sessionsMu.Lock()
	for id, s := range sessions {
		_ = s.Close()
		delete(sessions, id)
	}
	sessionsMu.Unlock()

	if pwInstance != nil {
		return pwInstance.Stop()
	}
	return nil
}

// NewEphemeralSession launches a Chromium instance not tracked by the
// named-session map: used by the Snapshot Service and the Executor, each
// of which owns exactly one session for the duration of one operation.
func NewEphemeralSession(ctx context.Context, opts LaunchOptions) (*Session, error) {
	return launchSession(ctx, "", opts)
}

// CreateSession launches and registers a named session for the
// Interactive Session Manager. It fails if maxSessions are already open.
func CreateSession(ctx context.Context, id string, opts LaunchOptions, maxSessions int) (*Session, error) {
	sessionsMu.Lock()
	if len(sessions) >= maxSessions {
		sessionsMu.Unlock()
		return nil, fmt.Errorf("session limit reached: %d sessions already open", maxSessions)
	}
	if _, exists := sessions[id]; exists {
		sessionsMu.Unlock()
		return nil, fmt.Errorf("session already exists: %s", id)
	}
	sessionsMu.Unlock()

	session, err := launchSession(ctx, id, opts)
	if err != nil {
		return nil, err
	}

	sessionsMu.Lock()
	sessions[id] = session
	sessionsMu.Unlock()
	return session, nil
}

// GetSession returns a named session, or false if it doesn't exist.
func GetSession(id string) (*Session, bool) {
	sessionsMu.Lock()
	defer sessionsMu.Unlock()
	s, ok := sessions[id]
	if !ok || s.closed {
		return nil, false
	}
	return s, true
}

// CloseSession closes and unregisters a named session.
func CloseSession(id string) error {
	sessionsMu.Lock()
	s, ok := sessions[id]
	if ok {
		delete(sessions, id)
	}
	sessionsMu.Unlock()

	if !ok {
		return nil
	}
	return s.Close()
}

// EvictIdle closes every named session whose last use predates the cutoff,
// returning the IDs it closed. The Interactive Session Manager calls this
// on a timer using its configured idle timeout.
func EvictIdle(maxIdle time.Duration) []string {
	cutoff := time.Now().Add(-maxIdle)

	sessionsMu.Lock()
	var toEvict []*Session
	for id, s := range sessions {
		s.mu.RLock()
		idle := s.lastUsedAt.Before(cutoff)
		s.mu.RUnlock()
		if idle {
			toEvict = append(toEvict, s)
			delete(sessions, id)
		}
	}
	sessionsMu.Unlock()

	evicted := make([]string, 0, len(toEvict))
	for _, s := range toEvict {
		evicted = append(evicted, s.id)
		_ = s.Close()
	}
	return evicted
}

func launchSession(_ context.Context, id string, opts LaunchOptions) (*Session, error) {
	pw, err := getPlaywright()
	if err != nil {
		return nil, err
	}

	if opts.ViewportWidth == 0 {
		opts.ViewportWidth = 1280
	}
	if opts.ViewportHeight == 0 {
		opts.ViewportHeight = 720
	}

	headless := opts.Headless
	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: &headless,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to launch chromium: %w", err)
	}

	browserCtx, err := browser.NewContext(playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{
			Width:  opts.ViewportWidth,
			Height: opts.ViewportHeight,
		},
	})
	if err != nil {
		_ = browser.Close()
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}

	pwPage, err := browserCtx.NewPage()
	if err != nil {
		_ = browser.Close()
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	if opts.DefaultTimeoutMS > 0 {
		pwPage.SetDefaultTimeout(float64(opts.DefaultTimeoutMS))
	}

	if id == "" {
		id = fmt.Sprintf("ephemeral-%s", uuid.New().String()[:8])
	}

	session := &Session{
		id:         id,
		browser:    browser,
		ctx:        browserCtx,
		createdAt:  time.Now(),
		lastUsedAt: time.Now(),
	}
	page := &Page{
		pwPage:  pwPage,
		session: session,
		state:   &PageState{},
	}
	session.page = page
	setupPageListeners(page)

	return session, nil
}

// ID returns the session's identifier.
func (s *Session) ID() string {
	return s.id
}

// Page returns the session's single page.
func (s *Session) Page() *Page {
	s.mu.Lock()
	s.lastUsedAt = time.Now()
	s.mu.Unlock()
	return s.page
}

// Touch records that the session was just used, resetting its idle clock.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastUsedAt = time.Now()
	s.mu.Unlock()
}

// Close closes the session's browser and marks it unusable.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.page != nil {
		s.page.mu.Lock()
		s.page.closed = true
		s.page.mu.Unlock()
	}
	if s.browser != nil {
		return s.browser.Close()
	}
	return nil
}

// PlaywrightPage returns the underlying Playwright page.
func (p *Page) PlaywrightPage() playwright.Page {
	return p.pwPage
}

// State returns a snapshot of the page's tracked state.
func (p *Page) State() *PageState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// UpdateState refreshes URL and title from the live page.
func (p *Page) UpdateState() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return fmt.Errorf("page is closed")
	}
	p.state.URL = p.pwPage.URL()
	title, _ := p.pwPage.Title()
	p.state.Title = title
	return nil
}

func setupPageListeners(page *Page) {
	pwPage := page.pwPage

	pwPage.OnConsole(func(msg playwright.ConsoleMessage) {
		page.mu.Lock()
		defer page.mu.Unlock()

		page.state.ConsoleMessages = append(page.state.ConsoleMessages, ConsoleMessage{
			Type:      msg.Type(),
			Text:      msg.Text(),
			Timestamp: time.Now(),
		})
		if len(page.state.ConsoleMessages) > 100 {
			page.state.ConsoleMessages = page.state.ConsoleMessages[len(page.state.ConsoleMessages)-100:]
		}
	})

	pwPage.OnPageError(func(err error) {
		page.mu.Lock()
		defer page.mu.Unlock()

		page.state.Errors = append(page.state.Errors, PageError{
			Message:   err.Error(),
			Timestamp: time.Now(),
		})
		if len(page.state.Errors) > 50 {
			page.state.Errors = page.state.Errors[len(page.state.Errors)-50:]
		}
	})

	pwPage.OnClose(func(_ playwright.Page) {
		page.mu.Lock()
		defer page.mu.Unlock()
		page.closed = true
	})
}
