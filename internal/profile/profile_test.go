package profile

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/corepilot/corepilot/internal/model"
)

func TestLoadProfileMissingFileIsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.json")
	p, err := LoadProfile(path)
	if err != nil {
		t.Fatalf("LoadProfile error: %v", err)
	}
	if p.Pages == nil || len(p.Pages) != 0 {
		t.Errorf("expected an empty, non-nil Pages slice, got %+v", p.Pages)
	}
}

func TestLoadProfileRejectsMissingPagesField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.json")
	if err := os.WriteFile(path, []byte(`{"version": "x"}`), 0o644); err != nil {
		t.Fatalf("write profile: %v", err)
	}
	_, err := LoadProfile(path)
	if err == nil {
		t.Fatal("expected an error for a profile with no pages array")
	}
	var perr *ProfileError
	if !isProfileError(err, &perr) || perr.Code != "INVALID_PROFILE" {
		t.Errorf("expected INVALID_PROFILE, got %v", err)
	}
}

func TestMergePageCreatesNewFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.json")
	page := model.AnnotatedPage{
		PageID:     "home",
		PageName:   "Home page",
		URLPattern: "/",
		Aliases:    map[string]model.SiteAlias{"search": {Selector: "#q"}},
	}

	result, err := MergePage(path, page, "Example Site")
	if err != nil {
		t.Fatalf("MergePage error: %v", err)
	}
	if !result.CreatedNewFile {
		t.Error("expected CreatedNewFile to be true on first write")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read persisted profile: %v", err)
	}
	var persisted model.SiteProfile
	if err := json.Unmarshal(data, &persisted); err != nil {
		t.Fatalf("parse persisted profile: %v", err)
	}
	if len(persisted.Pages) != 1 || persisted.Pages[0].ID != "home" {
		t.Fatalf("unexpected persisted pages: %+v", persisted.Pages)
	}
	if persisted.Pages[0].GeneratedBy != "profile_builder_cli" {
		t.Errorf("GeneratedBy = %q, want profile_builder_cli", persisted.Pages[0].GeneratedBy)
	}
	if persisted.Site == nil || persisted.Site.Name != "Example Site" {
		t.Errorf("expected site name to be recorded, got %+v", persisted.Site)
	}
}

func TestMergePageSnapshotsHistoryOnUpdate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.json")
	first := model.AnnotatedPage{PageID: "home", PageName: "Home v1", Aliases: map[string]model.SiteAlias{}}
	if _, err := MergePage(path, first, "Example Site"); err != nil {
		t.Fatalf("first MergePage error: %v", err)
	}

	second := model.AnnotatedPage{PageID: "home", PageName: "Home v2", Aliases: map[string]model.SiteAlias{}}
	result, err := MergePage(path, second, "")
	if err != nil {
		t.Fatalf("second MergePage error: %v", err)
	}
	if result.CreatedNewFile {
		t.Error("expected CreatedNewFile to be false on an update")
	}

	data, _ := os.ReadFile(path)
	var persisted model.SiteProfile
	if err := json.Unmarshal(data, &persisted); err != nil {
		t.Fatalf("parse persisted profile: %v", err)
	}
	if len(persisted.Pages) != 1 {
		t.Fatalf("expected a single page entry after update, got %d", len(persisted.Pages))
	}
	page := persisted.Pages[0]
	if page.Name != "Home v2" {
		t.Errorf("expected the current entry to reflect the latest merge, got %q", page.Name)
	}
	if len(page.History) != 1 {
		t.Fatalf("expected one history snapshot, got %d", len(page.History))
	}
	if page.History[0]["name"] != "Home v1" {
		t.Errorf("expected history to snapshot the prior name, got %+v", page.History[0])
	}
}

func isProfileError(err error, target **ProfileError) bool {
	perr, ok := err.(*ProfileError)
	if ok {
		*target = perr
	}
	return ok
}
