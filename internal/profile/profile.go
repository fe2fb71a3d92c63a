// Package profile implements the Site Profile Store (C2): load and merge
// per-page alias tables, persisting every write atomically.
package profile

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/corepilot/corepilot/internal/atomicfile"
	"github.com/corepilot/corepilot/internal/model"
)

// ProfileError is a typed Site Profile Store failure.
type ProfileError struct {
	Code    string // INVALID_PROFILE | PROFILE_WRITE_FAILED
	Message string
	Cause   error
}

func (e *ProfileError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ProfileError) Unwrap() error { return e.Cause }

// nowVersion formats the current UTC time the way profile_merger.py
// stamps version/generated_at fields.
func nowVersion() string {
	return time.Now().UTC().Format("20060102T150405Z")
}

// LoadProfile reads a SiteProfile from path. A missing file is not an
// error: LoadProfile returns a fresh, empty profile so MergePage can
// create the file on first write. Fails with INVALID_PROFILE when the
// top-level pages field is missing or not a list.
func LoadProfile(path string) (*model.SiteProfile, error) {
	profile, _, err := loadOrCreate(path)
	return profile, err
}

// MergeResult describes the outcome of a MergePage call.
type MergeResult struct {
	OutputPath     string
	CreatedNewFile bool
	PageID         string
	Warnings       []string
}

// MergePage loads the profile at path (creating an empty one if absent),
// finds the entry with a matching page_id (snapshotting it into history
// if found, appending a new entry otherwise), rewrites the top-level
// version to the current UTC timestamp, and persists the result
// atomically.
func MergePage(path string, page model.AnnotatedPage, siteName string) (*MergeResult, error) {
	profile, createdNew, err := loadOrCreate(path)
	if err != nil {
		return nil, err
	}

	if siteName != "" {
		if profile.Site == nil {
			profile.Site = &model.SiteSection{}
		}
		if profile.Site.Name == "" {
			profile.Site.Name = siteName
		}
	}

	timestamp := nowVersion()
	newEntry := &model.SitePage{
		ID:          page.PageID,
		Name:        page.PageName,
		URLPattern:  page.URLPattern,
		Version:     timestamp,
		GeneratedAt: timestamp,
		GeneratedBy: "profile_builder_cli",
		Summary:     page.Summary,
		Aliases:     page.Aliases,
	}

	existingIdx := -1
	for i, p := range profile.Pages {
		if p.ID == page.PageID {
			existingIdx = i
			break
		}
	}

	if existingIdx == -1 {
		profile.Pages = append(profile.Pages, newEntry)
	} else {
		existing := profile.Pages[existingIdx]
		history := existing.History
		snapshot := map[string]any{
			"id":           existing.ID,
			"name":         existing.Name,
			"url_pattern":  existing.URLPattern,
			"version":      existing.Version,
			"generated_at": existing.GeneratedAt,
			"generated_by": existing.GeneratedBy,
			"aliases":      existing.Aliases,
		}
		if existing.Summary != "" {
			snapshot["summary"] = existing.Summary
		}
		history = append(history, snapshot)
		newEntry.History = history
		profile.Pages[existingIdx] = newEntry
	}

	profile.Version = nowVersion()

	data, err := json.MarshalIndent(profile, "", "  ")
	if err != nil {
		return nil, &ProfileError{Code: "PROFILE_WRITE_FAILED", Message: "failed to marshal profile", Cause: err}
	}
	if err := atomicfile.Write(path, data, 0o644); err != nil {
		return nil, &ProfileError{Code: "PROFILE_WRITE_FAILED", Message: "failed to persist profile file", Cause: err}
	}

	return &MergeResult{
		OutputPath:     path,
		CreatedNewFile: createdNew,
		PageID:         page.PageID,
		Warnings:       page.Warnings,
	}, nil
}

func loadOrCreate(path string) (*model.SiteProfile, bool, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &model.SiteProfile{Version: nowVersion(), Pages: []*model.SitePage{}}, true, nil
	}
	if err != nil {
		return nil, false, &ProfileError{Code: "INVALID_PROFILE", Message: "failed to read profile file", Cause: err}
	}

	var profile model.SiteProfile
	if err := json.Unmarshal(data, &profile); err != nil {
		return nil, false, &ProfileError{Code: "INVALID_PROFILE", Message: "failed to parse profile JSON", Cause: err}
	}
	if profile.Pages == nil {
		return nil, false, &ProfileError{Code: "INVALID_PROFILE", Message: "profile has no top-level pages array"}
	}
	return &profile, false, nil
}
