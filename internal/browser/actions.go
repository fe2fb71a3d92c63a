package browser

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/playwright-community/playwright-go"
)

// ActionResult is the result of a browser action.
type ActionResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	URL     string `json:"url,omitempty"`
	Title   string `json:"title,omitempty"`
}

// Navigate navigates to a URL and waits for the load event, the semantics
// an ActionStep of type "goto" needs.
func (p *Page) Navigate(url string, timeout time.Duration) (*ActionResult, error) {
	if p.closed {
		return nil, fmt.Errorf("page is closed")
	}
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	_, err := p.pwPage.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateLoad,
		Timeout:   playwright.Float(float64(timeout.Milliseconds())),
	})
	if err != nil {
		return nil, fmt.Errorf("navigation failed: %w", err)
	}
	_ = p.UpdateState()

	return &ActionResult{Success: true, Message: fmt.Sprintf("navigated to %s", url), URL: p.state.URL, Title: p.state.Title}, nil
}

// Click clicks the element matching selector. The Executor is responsible
// for the click-only retry policy; Click itself never retries.
func (p *Page) Click(selector string, timeout time.Duration) (*ActionResult, error) {
	if p.closed {
		return nil, fmt.Errorf("page is closed")
	}
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	locator := p.pwPage.Locator(selector)
	err := locator.Click(playwright.LocatorClickOptions{
		Timeout: playwright.Float(float64(timeout.Milliseconds())),
	})
	if err != nil {
		return nil, fmt.Errorf("click failed: %w", err)
	}

	// Give the page a moment to react (navigation, re-render) before the
	// caller reads state or moves to the next step.
	time.Sleep(200 * time.Millisecond)
	_ = p.UpdateState()

	return &ActionResult{Success: true, Message: fmt.Sprintf("clicked %s", selector), URL: p.state.URL, Title: p.state.Title}, nil
}

// Fill clears the element matching selector and types value into it.
func (p *Page) Fill(selector, value string, timeout time.Duration) (*ActionResult, error) {
	if p.closed {
		return nil, fmt.Errorf("page is closed")
	}
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	locator := p.pwPage.Locator(selector)
	err := locator.Fill(value, playwright.LocatorFillOptions{
		Timeout: playwright.Float(float64(timeout.Milliseconds())),
	})
	if err != nil {
		return nil, fmt.Errorf("fill failed: %w", err)
	}
	_ = p.UpdateState()

	return &ActionResult{Success: true, Message: fmt.Sprintf("filled %s", selector), URL: p.state.URL, Title: p.state.Title}, nil
}

// WaitVisible waits until the element matching selector is visible,
// the precondition every assert kind checks before reading its value.
func (p *Page) WaitVisible(selector string, timeout time.Duration) error {
	if p.closed {
		return fmt.Errorf("page is closed")
	}
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	_, err := p.pwPage.WaitForSelector(selector, playwright.PageWaitForSelectorOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: playwright.Float(float64(timeout.Milliseconds())),
	})
	return err
}

// IsVisible reports whether the first element matching selector is
// currently visible, for the "visible"/"invisible" assert kinds.
func (p *Page) IsVisible(selector string) (bool, error) {
	if p.closed {
		return false, fmt.Errorf("page is closed")
	}
	return p.pwPage.Locator(selector).First().IsVisible()
}

// TextContent returns the untrimmed text content of the first element
// matching selector, for the "text_contains"/"text_equals"/"text_regex"
// assert kinds.
func (p *Page) TextContent(selector string) (string, error) {
	if p.closed {
		return "", fmt.Errorf("page is closed")
	}
	return p.pwPage.Locator(selector).First().TextContent()
}

// Count returns the number of elements matching selector, for the
// "count_equals"/"count_at_least" assert kinds.
func (p *Page) Count(selector string) (int, error) {
	if p.closed {
		return 0, fmt.Errorf("page is closed")
	}
	return p.pwPage.Locator(selector).Count()
}

// Screenshot captures the full page as base64-encoded PNG data, used for
// the Executor's on-failure/all screenshot policy.
func (p *Page) Screenshot() (string, error) {
	if p.closed {
		return "", fmt.Errorf("page is closed")
	}
	data, err := p.pwPage.Screenshot(playwright.PageScreenshotOptions{
		FullPage: playwright.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("screenshot failed: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}
