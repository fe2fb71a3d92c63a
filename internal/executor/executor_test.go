package executor

import "testing"

func TestResolveURLPassesAbsoluteURLsThrough(t *testing.T) {
	got := resolveURL("https://example.com", "https://other.example.com/path")
	if got != "https://other.example.com/path" {
		t.Errorf("resolveURL = %q", got)
	}
}

func TestResolveURLJoinsRelativeAgainstBase(t *testing.T) {
	got := resolveURL("https://example.com/app/", "cart")
	if got != "https://example.com/app/cart" {
		t.Errorf("resolveURL = %q, want https://example.com/app/cart", got)
	}
}

func TestResolveURLJoinsAbsolutePathAgainstBase(t *testing.T) {
	got := resolveURL("https://example.com/app/", "/login")
	if got != "https://example.com/login" {
		t.Errorf("resolveURL = %q, want https://example.com/login", got)
	}
}

func TestResolveURLFallsBackToTargetOnUnparsableBase(t *testing.T) {
	got := resolveURL("://not a url", "/login")
	if got != "/login" {
		t.Errorf("resolveURL = %q, want the target unchanged", got)
	}
}

func TestUserFacingErrorTranslatesTimeouts(t *testing.T) {
	err := errString("Timeout 30000ms exceeded waiting for selector")
	if got := userFacingError(err); got != timeoutMessage {
		t.Errorf("userFacingError = %q, want the fixed timeout message", got)
	}
}

func TestUserFacingErrorPassesThroughOtherErrors(t *testing.T) {
	err := errString("element is not attached to the DOM")
	if got := userFacingError(err); got != err.Error() {
		t.Errorf("userFacingError = %q, want the original message unchanged", got)
	}
}

func TestSanitizeTestIDReplacesDisallowedCharacters(t *testing.T) {
	got := sanitizeTestID.ReplaceAllString("REQ-Login Flow!/v2", "_")
	if got != "REQ-Login_Flow_v2" {
		t.Errorf("sanitizeTestID = %q", got)
	}
}

type errString string

func (e errString) Error() string { return string(e) }
