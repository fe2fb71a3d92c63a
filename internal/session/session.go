// Package session implements the Interactive Session Manager (C10): a
// minimally specified collaborator for human-in-the-loop calibration. It
// keeps named, headed browser sessions alive across separate requests,
// pushes live DOM state to a calibration UI over WebSocket, and lets
// that UI highlight individual DOM nodes by the stable ID the Snapshot
// Service assigns during its walk.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/corepilot/corepilot/internal/atomicfile"
	"github.com/corepilot/corepilot/internal/browser"
	"github.com/corepilot/corepilot/internal/logging"
	"github.com/corepilot/corepilot/internal/model"
)

var log = logging.WithField("session")

// HighlightAction is the action argument to Highlight.
type HighlightAction string

const (
	HighlightShow HighlightAction = "show"
	HighlightHide HighlightAction = "hide"
)

// Error is a typed Interactive Session Manager failure.
type Error struct {
	Code    string // SESSION_LIMIT_REACHED | SESSION_NOT_FOUND | SESSION_FAILED
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Options configures a Manager.
type Options struct {
	MaxSessions    int // shared-resource cap across all named sessions
	IdleTimeout    time.Duration
	SnapshotRoot   string // where PersistSnapshot writes
	ViewportWidth  int
	ViewportHeight int
	Headless       bool // false keeps sessions headed, per spec.md's "headed browsers"
}

// Manager owns the named-session lifecycle on top of internal/browser's
// registry, plus the calibration-UI push channel and the idle reaper.
type Manager struct {
	opts Options
	Hub  *Hub
}

// NewManager builds a Manager ready to create sessions.
func NewManager(opts Options) *Manager {
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = 5
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = 10 * time.Minute
	}
	return &Manager{opts: opts, Hub: NewHub()}
}

// CreateSession launches a headed browser, navigates to url, and
// registers it under a freshly generated session_id.
func (m *Manager) CreateSession(ctx context.Context, url string, viewportWidth, viewportHeight int) (string, error) {
	id := fmt.Sprintf("sess-%s", uuid.New().String()[:8])

	width := viewportWidth
	if width <= 0 {
		width = m.opts.ViewportWidth
	}
	height := viewportHeight
	if height <= 0 {
		height = m.opts.ViewportHeight
	}

	sess, err := browser.CreateSession(ctx, id, browser.LaunchOptions{
		Headless:       m.opts.Headless,
		ViewportWidth:  width,
		ViewportHeight: height,
	}, m.opts.MaxSessions)
	if err != nil {
		if strings.Contains(err.Error(), "session limit reached") {
			return "", &Error{Code: "SESSION_LIMIT_REACHED", Message: err.Error()}
		}
		return "", &Error{Code: "SESSION_FAILED", Message: "could not launch session", Cause: err}
	}

	if url != "" {
		if _, err := sess.Page().Navigate(url, 30*time.Second); err != nil {
			_ = browser.CloseSession(id)
			return "", &Error{Code: "SESSION_FAILED", Message: "navigation failed", Cause: err}
		}
	}

	log.Infof("created session %s for %s", id, url)
	return id, nil
}

func (m *Manager) lookup(sessionID string) (*browser.Session, error) {
	sess, ok := browser.GetSession(sessionID)
	if !ok {
		return nil, &Error{Code: "SESSION_NOT_FOUND", Message: fmt.Sprintf("no such session: %s", sessionID)}
	}
	return sess, nil
}

// SyncDOM re-captures the session's current DOM/controls/a11y tree and
// pushes it to any calibration UI watching the session.
func (m *Manager) SyncDOM(sessionID string) (*model.Snapshot, error) {
	sess, err := m.lookup(sessionID)
	if err != nil {
		return nil, err
	}

	page := sess.Page()
	if err := page.UpdateState(); err != nil {
		return nil, &Error{Code: "SESSION_FAILED", Message: "update state failed", Cause: err}
	}

	snap, err := page.Capture(8, 1000)
	if err != nil {
		return nil, &Error{Code: "SESSION_FAILED", Message: "dom capture failed", Cause: err}
	}

	m.Hub.Broadcast(Frame{Type: "dom_sync", SessionID: sessionID, Payload: snap})
	return snap, nil
}

// highlightScript toggles a visual outline on the node whose data-dom-id
// attribute matches id, mirroring the stable IDs the Snapshot Service
// assigns during its DOM walk.
const highlightScript = `(args) => {
	document.querySelectorAll('[data-corepilot-highlight]').forEach((el) => {
		if (args.action === 'show' && el.getAttribute('data-dom-id') !== args.domId) return;
		el.style.outline = '';
		el.removeAttribute('data-corepilot-highlight');
	});
	if (args.action !== 'show') return;
	const el = document.querySelector('[data-dom-id="' + args.domId + '"]');
	if (!el) return;
	el.style.outline = '3px solid #ff3366';
	el.setAttribute('data-corepilot-highlight', '1');
}`

// Highlight shows or hides a highlight overlay around the DOM node
// identified by domID, and notifies any calibration UI watching.
func (m *Manager) Highlight(sessionID, domID string, action HighlightAction) error {
	sess, err := m.lookup(sessionID)
	if err != nil {
		return err
	}

	page := sess.Page().PlaywrightPage()
	if _, err := page.Evaluate(highlightScript, map[string]any{"domId": domID, "action": string(action)}); err != nil {
		return &Error{Code: "SESSION_FAILED", Message: "highlight script failed", Cause: err}
	}

	m.Hub.Broadcast(Frame{
		Type:      "highlight",
		SessionID: sessionID,
		Payload:   map[string]string{"dom_id": domID, "action": string(action)},
	})
	return nil
}

// PersistSnapshot captures the session's current state and writes it
// under opts.SnapshotRoot, keyed by a freshly generated token.
func (m *Manager) PersistSnapshot(sessionID string) (string, error) {
	sess, err := m.lookup(sessionID)
	if err != nil {
		return "", err
	}

	snap, err := sess.Page().Capture(8, 1000)
	if err != nil {
		return "", &Error{Code: "SESSION_FAILED", Message: "dom capture failed", Cause: err}
	}

	token := fmt.Sprintf("snaptok-%s", uuid.New().String()[:12])
	dir := filepath.Join(m.opts.SnapshotRoot, token)

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", &Error{Code: "SESSION_FAILED", Message: "marshal snapshot failed", Cause: err}
	}
	if err := atomicfile.Write(filepath.Join(dir, "snapshot.json"), data, 0o644); err != nil {
		return "", &Error{Code: "SESSION_FAILED", Message: "persist snapshot failed", Cause: err}
	}

	return token, nil
}

// CloseSession closes and unregisters a named session, notifying any
// calibration UI watching it.
func (m *Manager) CloseSession(sessionID string) error {
	if err := browser.CloseSession(sessionID); err != nil {
		return &Error{Code: "SESSION_FAILED", Message: "close failed", Cause: err}
	}
	m.Hub.Broadcast(Frame{Type: "session_closed", SessionID: sessionID})
	return nil
}

// RunIdleReaper blocks, evicting sessions idle past opts.IdleTimeout on
// every tick, until ctx is cancelled.
func (m *Manager) RunIdleReaper(ctx context.Context, tick time.Duration) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, id := range browser.EvictIdle(m.opts.IdleTimeout) {
				log.Infof("evicted idle session %s", id)
				m.Hub.Broadcast(Frame{Type: "session_closed", SessionID: id})
			}
		}
	}
}

// WatchControlDir watches dir for close-request files dropped by an
// external calibration UI process (one empty file named
// "<session_id>.close" per request) and closes the matching session.
// Blocks until ctx is cancelled.
func (m *Manager) WatchControlDir(ctx context.Context, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create control dir: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch control dir: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) {
				continue
			}
			name := filepath.Base(event.Name)
			if !strings.HasSuffix(name, ".close") {
				continue
			}
			sessionID := strings.TrimSuffix(name, ".close")
			if err := m.CloseSession(sessionID); err != nil {
				log.Warnf("external close request for %s failed: %v", sessionID, err)
			}
			_ = os.Remove(event.Name)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warnf("control dir watcher error: %v", err)
		}
	}
}
