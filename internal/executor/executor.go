// Package executor implements the Executor (C8): it drives one
// ActionPlan through a freshly-launched browser, step by step, capturing
// artifacts and enforcing the project's one-retry click policy.
package executor

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/corepilot/corepilot/internal/atomicfile"
	"github.com/corepilot/corepilot/internal/browser"
	"github.com/corepilot/corepilot/internal/logging"
	"github.com/corepilot/corepilot/internal/model"
)

var log = logging.WithField("executor")

// timeoutMessage is the fixed, user-facing message substituted for any
// raw Playwright timeout error.
const timeoutMessage = "验证失败：未能找到指定的DOM元素"

// ScreenshotPolicy controls when Run captures a step screenshot.
type ScreenshotPolicy string

const (
	ScreenshotNone      ScreenshotPolicy = "none"
	ScreenshotOnFailure ScreenshotPolicy = "on-failure"
	ScreenshotAll       ScreenshotPolicy = "all"
)

// Options configures one Run call.
type Options struct {
	ArtifactsDir     string // default <OutputRoot>/<UTCts>_<sanitized_test_id>/
	OutputRoot       string
	Headless         bool
	ViewportWidth    int
	ViewportHeight   int
	DefaultTimeoutMS int
	Screenshots      ScreenshotPolicy
}

var sanitizeTestID = regexp.MustCompile(`[^A-Za-z0-9_\-]+`)

// Run executes plan step by step against a freshly-launched browser,
// stopping at the first step that fails, and returns the outcome of each
// step it ran and of the run as a whole.
func Run(ctx context.Context, plan *model.ActionPlan, opts Options) (*model.RunResult, error) {
	if opts.DefaultTimeoutMS <= 0 {
		opts.DefaultTimeoutMS = 30_000
	}
	if opts.Screenshots == "" {
		opts.Screenshots = ScreenshotOnFailure
	}

	artifactsDir := opts.ArtifactsDir
	if artifactsDir == "" {
		timestamp := time.Now().UTC().Format("20060102T150405Z")
		sanitized := sanitizeTestID.ReplaceAllString(plan.Meta.TestID, "_")
		artifactsDir = filepath.Join(opts.OutputRoot, fmt.Sprintf("%s_%s", timestamp, sanitized))
	}
	stepsDir := filepath.Join(artifactsDir, "steps")
	if err := os.MkdirAll(stepsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifacts dir: %w", err)
	}

	runnerLog, err := os.Create(filepath.Join(artifactsDir, "runner.log"))
	if err != nil {
		return nil, fmt.Errorf("create runner.log: %w", err)
	}
	defer runnerLog.Close()

	result := &model.RunResult{
		RunID:        fmt.Sprintf("run-%s", uuid.New().String()[:12]),
		TestID:       plan.Meta.TestID,
		StartedAt:    time.Now().UTC(),
		ArtifactsDir: artifactsDir,
		Status:       "passed",
	}

	session, err := browser.NewEphemeralSession(ctx, browser.LaunchOptions{
		Headless:         opts.Headless,
		ViewportWidth:    opts.ViewportWidth,
		ViewportHeight:   opts.ViewportHeight,
		DefaultTimeoutMS: opts.DefaultTimeoutMS,
	})
	if err != nil {
		result.Status = "failed"
		result.Error = fmt.Sprintf("failed to launch browser: %v", err)
		result.FinishedAt = time.Now().UTC()
		writeRunJSON(artifactsDir, result)
		return result, nil
	}
	defer session.Close()

	page := session.Page()
	timeout := time.Duration(opts.DefaultTimeoutMS) * time.Millisecond

	func() {
		defer func() {
			if r := recover(); r != nil {
				result.Status = "failed"
				result.Error = fmt.Sprintf("run crashed: %v", r)
			}
		}()

		for i, step := range plan.Steps {
			stepResult := runStep(page, step, i, stepsDir, timeout, plan.Meta.BaseURL, opts.Screenshots)
			result.Steps = append(result.Steps, stepResult)
			fmt.Fprintf(runnerLog, "[%s] step %d (%s): %s\n", stepResult.Status, i, step.T, stepResult.Error)

			if stepResult.Status != "passed" {
				result.Status = "failed"
				break
			}
		}
	}()

	result.FinishedAt = time.Now().UTC()
	writeRunJSON(artifactsDir, result)
	return result, nil
}

func writeRunJSON(artifactsDir string, result *model.RunResult) {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		log.Warnf("marshal run.json: %v", err)
		return
	}
	if err := atomicfile.Write(filepath.Join(artifactsDir, "run.json"), data, 0o644); err != nil {
		log.Warnf("write run.json: %v", err)
	}
}

func runStep(page *browser.Page, step model.ActionStep, index int, stepsDir string, timeout time.Duration, baseURL string, policy ScreenshotPolicy) model.StepResult {
	sr := model.StepResult{Index: index, Action: step, StartedAt: time.Now().UTC(), Status: "passed"}

	var stepErr error
	switch step.T {
	case model.StepGoto:
		stepErr = doGoto(page, step.URL, baseURL, timeout)
	case model.StepFill:
		stepErr = doFill(page, step.Selector, step.Value, timeout)
	case model.StepClick:
		stepErr = doClick(page, step.Selector, timeout)
	case model.StepAssert:
		stepErr = doAssert(page, step, timeout)
	default:
		stepErr = fmt.Errorf("unknown step type %q", step.T)
	}

	if stepErr != nil {
		sr.Status = "failed"
		sr.Error = userFacingError(stepErr)
	}

	sr.FinishedAt = time.Now().UTC()
	if state := page.State(); state != nil {
		sr.CurrentURL = state.URL
		sr.PageTitle = state.Title
	}
	if html, err := page.GetSource(); err == nil {
		sr.DomSizeBytes = len(html)
	}

	if policy == ScreenshotAll || (policy == ScreenshotOnFailure && sr.Status == "failed") {
		if path, err := captureScreenshot(page, stepsDir, index); err != nil {
			log.Warnf("screenshot failed for step %d: %v", index, err)
		} else {
			sr.ScreenshotPath = path
		}
	}

	return sr
}

func doGoto(page *browser.Page, target, baseURL string, timeout time.Duration) error {
	resolved := resolveURL(baseURL, target)
	_, err := page.Navigate(resolved, timeout)
	return err
}

// resolveURL joins target against base the way a browser does: an
// absolute URL passes through untouched, a relative one resolves
// against base.
func resolveURL(base, target string) string {
	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
		return target
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return target
	}
	ref, err := url.Parse(target)
	if err != nil {
		return target
	}
	return baseURL.ResolveReference(ref).String()
}

func doFill(page *browser.Page, selector, value string, timeout time.Duration) error {
	if err := page.WaitVisible(selector, timeout); err != nil {
		return err
	}
	_, err := page.Fill(selector, value, timeout)
	return err
}

func doClick(page *browser.Page, selector string, timeout time.Duration) error {
	_, err := page.Click(selector, timeout)
	if err == nil {
		return nil
	}
	time.Sleep(500 * time.Millisecond)
	_, retryErr := page.Click(selector, timeout)
	return retryErr
}

func doAssert(page *browser.Page, step model.ActionStep, timeout time.Duration) error {
	switch step.Kind {
	case model.KindVisible:
		return page.WaitVisible(step.Selector, timeout)

	case model.KindInvisible:
		visible, err := page.IsVisible(step.Selector)
		if err != nil {
			return err
		}
		if visible {
			return fmt.Errorf("expected %q to be invisible but it is visible", step.Selector)
		}
		return nil

	case model.KindTextContains:
		text, err := page.TextContent(step.Selector)
		if err != nil {
			return err
		}
		if !strings.Contains(text, step.Value) {
			return fmt.Errorf("expected text of %q to contain %q, got %q", step.Selector, step.Value, text)
		}
		return nil

	case model.KindTextEquals:
		text, err := page.TextContent(step.Selector)
		if err != nil {
			return err
		}
		if strings.TrimSpace(text) != step.Value {
			return fmt.Errorf("expected text of %q to equal %q, got %q", step.Selector, step.Value, strings.TrimSpace(text))
		}
		return nil

	case model.KindTextRegex:
		text, err := page.TextContent(step.Selector)
		if err != nil {
			return err
		}
		re, err := regexp.Compile(step.Value)
		if err != nil {
			return fmt.Errorf("invalid regex %q: %w", step.Value, err)
		}
		if !re.MatchString(text) {
			return fmt.Errorf("expected text of %q to match %q, got %q", step.Selector, step.Value, text)
		}
		return nil

	case model.KindCountEquals, model.KindCountAtLeast:
		expected, err := strconv.Atoi(step.Value)
		if err != nil || expected < 0 {
			return fmt.Errorf("assert value %q is not a non-negative integer", step.Value)
		}
		if expected > 0 {
			_ = page.WaitVisible(step.Selector, timeout)
		}
		count, err := page.Count(step.Selector)
		if err != nil {
			return err
		}
		if step.Kind == model.KindCountEquals && count != expected {
			return fmt.Errorf("expected %d matches for %q, got %d", expected, step.Selector, count)
		}
		if step.Kind == model.KindCountAtLeast && count < expected {
			return fmt.Errorf("expected at least %d matches for %q, got %d", expected, step.Selector, count)
		}
		return nil

	default:
		return fmt.Errorf("unsupported assert kind %q", step.Kind)
	}
}

func captureScreenshot(page *browser.Page, stepsDir string, index int) (string, error) {
	data, err := page.Screenshot()
	if err != nil {
		return "", err
	}
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return "", err
	}
	path := filepath.Join(stepsDir, fmt.Sprintf("%02d.png", index))
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

var timeoutIndicators = []string{"Timeout", "timeout", "exceeded"}

// userFacingError translates a raw Playwright timeout error into the
// fixed Chinese message users see; every other error passes through
// unchanged.
func userFacingError(err error) string {
	msg := err.Error()
	for _, ind := range timeoutIndicators {
		if strings.Contains(msg, ind) {
			return timeoutMessage
		}
	}
	return msg
}
