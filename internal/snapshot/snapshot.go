// Package snapshot implements the Snapshot Service (C1): load a page,
// extract an abbreviated DOM tree with injected stable IDs, an
// accessibility tree and a control inventory, and persist the result
// atomically to a directory keyed by snapshot ID.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/corepilot/corepilot/internal/atomicfile"
	"github.com/corepilot/corepilot/internal/browser"
	"github.com/corepilot/corepilot/internal/logging"
	"github.com/corepilot/corepilot/internal/model"
)

var log = logging.WithField("snapshot")

// Options configures one Snapshot call.
type Options struct {
	WaitFor           string        // optional selector to await before capture
	TimeoutMS         int           // navigation/wait-for timeout, default 30000
	MaxDepth          int           // default 8
	MaxNodes          int           // default 1000
	IncludeScreenshot bool
	Headless          bool
	ViewportWidth     int
	ViewportHeight    int
	DebugDump         bool // also write debug/dom_summary.json and debug/page.html
}

// FetchError is a typed Snapshot Service failure.
type FetchError struct {
	Code    string // FETCH_TIMEOUT | FETCH_ERROR
	Message string
	Cause   error
}

func (e *FetchError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *FetchError) Unwrap() error { return e.Cause }

// Snapshot navigates to url, captures DOM/controls/a11y tree, and returns
// the result. The caller is responsible for persisting it via Store.
func Snapshot(ctx context.Context, url string, opts Options) (*model.Snapshot, error) {
	if opts.TimeoutMS <= 0 {
		opts.TimeoutMS = 30_000
	}
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = 8
	}
	if opts.MaxNodes <= 0 {
		opts.MaxNodes = 1000
	}

	log.Infof("fetching %s", url)

	session, err := browser.NewEphemeralSession(ctx, browser.LaunchOptions{
		Headless:         opts.Headless,
		ViewportWidth:    opts.ViewportWidth,
		ViewportHeight:   opts.ViewportHeight,
		DefaultTimeoutMS: opts.TimeoutMS,
	})
	if err != nil {
		return nil, &FetchError{Code: "FETCH_ERROR", Message: "could not launch browser", Cause: err}
	}
	defer session.Close()

	page := session.Page()
	timeout := time.Duration(opts.TimeoutMS) * time.Millisecond
	if _, err := page.Navigate(url, timeout); err != nil {
		if isTimeout(err) {
			return nil, &FetchError{Code: "FETCH_TIMEOUT", Message: fmt.Sprintf("page load timed out after %dms", opts.TimeoutMS), Cause: err}
		}
		return nil, &FetchError{Code: "FETCH_ERROR", Message: "navigation failed", Cause: err}
	}

	if opts.WaitFor != "" {
		if err := page.WaitVisible(opts.WaitFor, timeout); err != nil {
			return nil, &FetchError{Code: "FETCH_TIMEOUT", Message: fmt.Sprintf("waiting for %q timed out", opts.WaitFor), Cause: err}
		}
	}

	snap, err := page.Capture(opts.MaxDepth, opts.MaxNodes)
	if err != nil {
		return nil, &FetchError{Code: "FETCH_ERROR", Message: "dom capture failed", Cause: err}
	}

	if opts.IncludeScreenshot {
		if _, err := page.Screenshot(); err != nil {
			log.Warnf("screenshot failed: %v", err)
		}
	}

	return snap, nil
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "Timeout") || strings.Contains(msg, "timeout") || strings.Contains(msg, "exceeded")
}

// Store persists a Snapshot as a directory of files keyed by SnapshotID,
// writing each file atomically (temp-then-rename) so a crash mid-write
// never leaves a reader-visible partial snapshot. On any failure, the
// partially written directory is removed. When debugDump is set, the raw
// DOM tree and full page HTML are additionally written under a debug/
// subdirectory (page_fetcher.py's debug_dir), for troubleshooting a
// compiler/annotator run without keeping that weight on every snapshot.
func Store(root string, snap *model.Snapshot, debugDump bool) (dir string, err error) {
	dir = filepath.Join(root, snap.SnapshotID)
	target := dir

	defer func() {
		if err != nil {
			_ = os.RemoveAll(target)
		}
	}()

	metaPath := filepath.Join(dir, "snapshot.json")
	metaData, err := json.MarshalIndent(stripHTML(snap), "", "  ")
	if err != nil {
		return "", &FetchError{Code: "FETCH_ERROR", Message: "failed to marshal snapshot", Cause: err}
	}
	if err = atomicfile.Write(metaPath, metaData, 0o644); err != nil {
		return "", &FetchError{Code: "FETCH_ERROR", Message: "failed to persist snapshot.json", Cause: err}
	}

	htmlPath := filepath.Join(dir, "page.html")
	if err = atomicfile.Write(htmlPath, []byte(snap.HTML), 0o644); err != nil {
		return "", &FetchError{Code: "FETCH_ERROR", Message: "failed to persist page.html", Cause: err}
	}

	if debugDump {
		debugDir := filepath.Join(dir, "debug")
		domSummaryData, err := json.MarshalIndent(snap.DomTree, "", "  ")
		if err != nil {
			return "", &FetchError{Code: "FETCH_ERROR", Message: "failed to marshal dom summary", Cause: err}
		}
		if err := atomicfile.Write(filepath.Join(debugDir, "dom_summary.json"), domSummaryData, 0o644); err != nil {
			return "", &FetchError{Code: "FETCH_ERROR", Message: "failed to persist debug/dom_summary.json", Cause: err}
		}
		if err := atomicfile.Write(filepath.Join(debugDir, "page.html"), []byte(snap.HTML), 0o644); err != nil {
			return "", &FetchError{Code: "FETCH_ERROR", Message: "failed to persist debug/page.html", Cause: err}
		}
	}

	return dir, nil
}

// Load reads back a previously stored snapshot directory.
func Load(root, snapshotID string) (*model.Snapshot, error) {
	dir := filepath.Join(root, snapshotID)
	metaPath := filepath.Join(dir, "snapshot.json")

	data, err := os.ReadFile(metaPath)
	if err != nil {
		return nil, &FetchError{Code: "FETCH_ERROR", Message: "failed to read snapshot.json", Cause: err}
	}
	var snap model.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, &FetchError{Code: "FETCH_ERROR", Message: "failed to parse snapshot.json", Cause: err}
	}

	htmlPath := filepath.Join(dir, "page.html")
	if htmlData, err := os.ReadFile(htmlPath); err == nil {
		snap.HTML = string(htmlData)
	}

	return &snap, nil
}

// stripHTML returns a shallow copy of snap with HTML cleared, since it is
// persisted separately as page.html to keep snapshot.json small.
func stripHTML(snap *model.Snapshot) *model.Snapshot {
	clone := *snap
	clone.HTML = ""
	return &clone
}
