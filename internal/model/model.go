// Package model holds the data types shared by every component of the
// compile/execute pipeline: DOM snapshots, site profiles, action plans,
// datasets and their execution results.
package model

import "time"

// DomNode is one element captured by the Snapshot Service's DOM walk.
// DomID is assigned during the walk and mirrored onto the live page as a
// data-dom-id attribute so later operations (highlighting, re-sync) can
// address the same node.
type DomNode struct {
	DomID    string            `json:"dom_id"`
	Tag      string            `json:"tag"`
	Depth    int               `json:"depth"`
	Attrs    map[string]string `json:"attrs,omitempty"`
	Path     string            `json:"path"`
	Text     string            `json:"text,omitempty"`
	Children []*DomNode        `json:"children,omitempty"`
}

// Control is a flat descriptor of an input/textarea/select/button element.
type Control struct {
	Tag       string `json:"tag"`
	ID        string `json:"id,omitempty"`
	Class     string `json:"class,omitempty"`
	Role      string `json:"role,omitempty"`
	Name      string `json:"nameAttr,omitempty"`
	Type      string `json:"type,omitempty"`
	AriaLabel string `json:"ariaLabel,omitempty"`
	DataTest  string `json:"dataTest,omitempty"`
	Placeholder string `json:"placeholder,omitempty"`
	Path      string `json:"path"`
}

// SnapshotStats records cheap facts about an extracted DOM tree.
type SnapshotStats struct {
	NodeCount int `json:"node_count"`
	MaxDepth  int `json:"max_depth"`
}

// A11yNode is one node of the accessibility tree.
type A11yNode struct {
	Role     string      `json:"role"`
	Name     string      `json:"name,omitempty"`
	Value    string      `json:"value,omitempty"`
	Children []*A11yNode `json:"children,omitempty"`
}

// Snapshot is an offline bundle of one page at one moment, keyed by ID.
type Snapshot struct {
	SnapshotID string         `json:"snapshot_id"`
	URL        string         `json:"url"`
	Title      string         `json:"title"`
	CreatedAt  time.Time      `json:"created_at"`
	DomTree    *DomNode       `json:"dom_tree"`
	Controls   []Control      `json:"controls"`
	A11yTree   *A11yNode      `json:"a11y_tree,omitempty"`
	HTML       string         `json:"html"`
	Stats      SnapshotStats  `json:"stats"`
}

// SiteAlias is a human-meaningful name for a DOM region.
// Role is an advisory human-language capability tag that the compiler
// lists in its LLM prompt; Confidence is informational only (spec §9
// note 3). The compiler's selector scorer reads neither.
type SiteAlias struct {
	Name        string   `json:"-"`
	Selector    string   `json:"selector"`
	Description string   `json:"description,omitempty"`
	Role        string   `json:"role,omitempty"`
	Confidence  *float64 `json:"confidence,omitempty"`
	Notes       string   `json:"notes,omitempty"`
	PageID      string   `json:"-"`
}

// SitePage is one page entry inside a SiteProfile.
type SitePage struct {
	ID          string               `json:"id"`
	Name        string               `json:"name"`
	URLPattern  string               `json:"url_pattern"`
	Version     string               `json:"version"`
	GeneratedAt string               `json:"generated_at"`
	GeneratedBy string               `json:"generated_by"`
	Summary     string               `json:"summary,omitempty"`
	Aliases     map[string]SiteAlias `json:"aliases"`
	History     []map[string]any     `json:"history,omitempty"`
}

// AnnotatedPage is the Profile Annotator's (C3) output: a single page's
// alias table, ready to be merged into a SiteProfile by the Site Profile
// Store (C2).
type AnnotatedPage struct {
	PageID     string
	PageName   string
	URLPattern string
	Summary    string
	Aliases    map[string]SiteAlias
	Warnings   []string
}

// SiteSection holds site-wide metadata recorded in a SiteProfile.
type SiteSection struct {
	Name    string `json:"name,omitempty"`
	BaseURL string `json:"base_url,omitempty"`
}

// SiteProfile is a collection of per-page alias tables for one site.
type SiteProfile struct {
	Version string       `json:"version"`
	Site    *SiteSection `json:"site,omitempty"`
	Pages   []*SitePage  `json:"pages"`
}

// FindPage returns the page entry with the given id, or nil.
func (p *SiteProfile) FindPage(id string) *SitePage {
	for _, page := range p.Pages {
		if page.ID == id {
			return page
		}
	}
	return nil
}

// AllAliases flattens every alias across every page into one slice, each
// carrying its owning PageID — the shape the Plan Compiler scores against.
func (p *SiteProfile) AllAliases() []SiteAlias {
	var out []SiteAlias
	for _, page := range p.Pages {
		for name, alias := range page.Aliases {
			alias.Name = name
			alias.PageID = page.ID
			out = append(out, alias)
		}
	}
	return out
}

// TestRequestStep is one numbered step parsed from a TestRequest Markdown
// document.
type TestRequestStep struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}

// TestRequest is the parsed form of a natural-language test description.
type TestRequest struct {
	Title      string            `json:"title"`
	BaseURL    string            `json:"base_url,omitempty"`
	Steps      []TestRequestStep `json:"steps"`
	SourcePath string            `json:"source_path"`
}

// Assertion kinds allowed on an "assert" ActionStep.
const (
	KindVisible       = "visible"
	KindInvisible     = "invisible"
	KindTextContains  = "text_contains"
	KindTextEquals    = "text_equals"
	KindTextRegex     = "text_regex"
	KindCountEquals   = "count_equals"
	KindCountAtLeast  = "count_at_least"
)

// Step types.
const (
	StepGoto   = "goto"
	StepFill   = "fill"
	StepClick  = "click"
	StepAssert = "assert"
)

// ActionStep is one step of an ActionPlan.
type ActionStep struct {
	T        string `json:"t"`
	Selector string `json:"selector,omitempty"`
	URL      string `json:"url,omitempty"`
	Value    string `json:"value,omitempty"`
	Kind     string `json:"kind,omitempty"`

	// HasValue distinguishes "value omitted" from "value is the empty
	// string" across the JSON round-trip used by the placeholder
	// processor and data expander.
	HasValue bool `json:"-"`
}

// ActionPlanMeta is the meta block of an ActionPlan.
type ActionPlanMeta struct {
	TestID     string `json:"testId"`
	BaseURL    string `json:"baseUrl"`
	DataSource string `json:"dataSource,omitempty"`
}

// ActionPlan is a JSON-serialized program of UI steps against a browser.
type ActionPlan struct {
	Meta  ActionPlanMeta `json:"meta"`
	Steps []ActionStep   `json:"steps"`
}

// DatasetRow is a flat map from field name to string/number value.
type DatasetRow map[string]any

// DatasetCategory groups rows under a category key.
type DatasetCategory struct {
	CategoryKey string       `json:"category_key"`
	Items       []DatasetRow `json:"items"`
}

// Dataset is the top-level container for data-driven expansion.
type Dataset struct {
	Categories []DatasetCategory `json:"categories"`
}

// StepResult records the outcome of executing one ActionStep.
type StepResult struct {
	Index         int        `json:"index"`
	Action        ActionStep `json:"action"`
	Status        string     `json:"status"` // passed | failed
	StartedAt     time.Time  `json:"started_at"`
	FinishedAt    time.Time  `json:"finished_at"`
	Error         string     `json:"error,omitempty"`
	ScreenshotPath string    `json:"screenshot_path,omitempty"`
	CurrentURL    string     `json:"current_url,omitempty"`
	PageTitle     string     `json:"page_title,omitempty"`
	DomSizeBytes  int        `json:"dom_size_bytes,omitempty"`
}

// RunResult is the outcome of executing one ActionPlan.
type RunResult struct {
	RunID        string       `json:"run_id"`
	TestID       string       `json:"test_id"`
	Status       string       `json:"status"` // passed | failed
	StartedAt    time.Time    `json:"started_at"`
	FinishedAt   time.Time    `json:"finished_at"`
	Steps        []StepResult `json:"steps"`
	ArtifactsDir string       `json:"artifacts_dir"`
	Error        string       `json:"error,omitempty"`
}

// Passed reports whether every step of the run passed — the executor law
// from spec §8: run.status == "passed" iff every step's status is "passed".
func (r *RunResult) Passed() bool {
	if r.Status != "passed" {
		return false
	}
	for _, s := range r.Steps {
		if s.Status != "passed" {
			return false
		}
	}
	return true
}

// BatchResult is the outcome of running a batch of cases.
type BatchResult struct {
	BatchID      string      `json:"batch_id"`
	Total        int         `json:"total"`
	Passed       int         `json:"passed"`
	Failed       int         `json:"failed"`
	Error        int         `json:"error"`
	CaseResults  []RunResult `json:"case_results"`
	ArtifactsDir string      `json:"artifacts_dir"`
	StartedAt    time.Time   `json:"started_at"`
	FinishedAt   time.Time   `json:"finished_at"`
}
