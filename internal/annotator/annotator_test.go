package annotator

import (
	"context"
	"testing"
	"time"

	"github.com/corepilot/corepilot/internal/llm"
	"github.com/corepilot/corepilot/internal/model"
)

type fakeClient struct {
	reply string
	err   error
}

func (c *fakeClient) ChatCompletion(ctx context.Context, messages []llm.Message, model string, temperature float64, timeout time.Duration) (string, error) {
	return c.reply, c.err
}

func TestNormalizeAliasesMapShape(t *testing.T) {
	raw := map[string]any{
		"buy_button": map[string]any{"selector": "#buy", "description": "purchase", "confidence": 0.9},
		"no_selector": map[string]any{"description": "dropped, no selector"},
	}
	aliases := normalizeAliases(raw)
	if len(aliases) != 1 {
		t.Fatalf("expected 1 alias (selector-less entry dropped), got %+v", aliases)
	}
	alias, ok := aliases["buy_button"]
	if !ok || alias.Selector != "#buy" || alias.Description != "purchase" {
		t.Errorf("unexpected alias: %+v", alias)
	}
	if alias.Confidence == nil || *alias.Confidence != 0.9 {
		t.Errorf("expected confidence 0.9, got %+v", alias.Confidence)
	}
}

func TestNormalizeAliasesListShapeWithStringConfidence(t *testing.T) {
	raw := []any{
		map[string]any{"alias": "search.input", "selector": "#q", "confidence": "0.5"},
		map[string]any{"name": "search.button", "selector": "#go"},
	}
	aliases := normalizeAliases(raw)
	if len(aliases) != 2 {
		t.Fatalf("expected 2 aliases, got %+v", aliases)
	}
	if aliases["search.input"].Confidence == nil || *aliases["search.input"].Confidence != 0.5 {
		t.Errorf("expected string confidence parsed to 0.5, got %+v", aliases["search.input"].Confidence)
	}
}

func TestNormalizeAliasesEmptyNameSkipped(t *testing.T) {
	raw := []any{map[string]any{"selector": "#x"}}
	aliases := normalizeAliases(raw)
	if len(aliases) != 0 {
		t.Errorf("expected no aliases when the name/alias field is absent, got %+v", aliases)
	}
}

func TestNormalizeDetailNameStripsQuotesAndAppendsSuffix(t *testing.T) {
	got := normalizeDetailName(`"华为P50"`, "详情页")
	want := "华为P50详情页"
	if got != want {
		t.Errorf("normalizeDetailName = %q, want %q", got, want)
	}
}

func TestNormalizeDetailNameTrimsAroundSeparator(t *testing.T) {
	got := normalizeDetailName("红色连衣裙-夏季新款", "详情页")
	want := "红色连衣裙详情页"
	if got != want {
		t.Errorf("normalizeDetailName = %q, want %q", got, want)
	}
}

func TestNormalizeDetailNameDoesNotDoubleSuffix(t *testing.T) {
	got := normalizeDetailName("iPhone详情页", "详情页")
	want := "iPhone详情页"
	if got != want {
		t.Errorf("normalizeDetailName = %q, want %q", got, want)
	}
}

func TestNormalizeDetailNameCapsAtTenRunes(t *testing.T) {
	long := "一二三四五六七八九十十一十二十三"
	got := normalizeDetailName(long, "详情页")
	runes := []rune(got)
	// 10 core runes plus the 3-rune suffix.
	if len(runes) != 13 {
		t.Errorf("expected a 13-rune result (10 + suffix), got %q (%d runes)", got, len(runes))
	}
}

func TestEnrichSearchAliasesSynthesizesFromControls(t *testing.T) {
	aliases := map[string]model.SiteAlias{}
	controls := []model.Control{
		{Tag: "input", ID: "search-box", AriaLabel: "Search products"},
		{Tag: "button", Class: "search-submit", Name: "search"},
	}
	enrichSearchAliases(aliases, controls)

	input, ok := aliases["search.input"]
	if !ok || input.Selector != "#search-box" {
		t.Errorf("expected search.input selector #search-box, got %+v", input)
	}
	button, ok := aliases["search.button"]
	if !ok || button.Selector != "button.search-submit" {
		t.Errorf("expected search.button selector button.search-submit, got %+v", button)
	}
}

func TestEnrichSearchAliasesLeavesExistingAliasesAlone(t *testing.T) {
	aliases := map[string]model.SiteAlias{"search.input": {Selector: "#already-set"}}
	controls := []model.Control{{Tag: "input", ID: "other", AriaLabel: "search"}}
	enrichSearchAliases(aliases, controls)
	if aliases["search.input"].Selector != "#already-set" {
		t.Errorf("expected existing search.input alias to be left alone, got %+v", aliases["search.input"])
	}
}

func TestSelectorForPrefersIDThenClassThenDataTestThenNameThenAriaLabel(t *testing.T) {
	if got := selectorFor(model.Control{Tag: "div", ID: "x"}); got != "#x" {
		t.Errorf("id priority: got %q", got)
	}
	if got := selectorFor(model.Control{Tag: "div", Class: "a b"}); got != "div.a" {
		t.Errorf("class priority: got %q", got)
	}
	if got := selectorFor(model.Control{Tag: "div", DataTest: "dt"}); got != `[data-test="dt"]` {
		t.Errorf("data-test priority: got %q", got)
	}
	if got := selectorFor(model.Control{Tag: "div", Name: "n", AriaLabel: "l"}); got != `[name="n"]` {
		t.Errorf("name priority: got %q", got)
	}
	if got := selectorFor(model.Control{Tag: "div", AriaLabel: "l"}); got != `[aria-label="l"]` {
		t.Errorf("aria-label priority: got %q", got)
	}
	if got := selectorFor(model.Control{Tag: "div", Path: "/html/body/div[2]"}); got != "/html/body/div[2]" {
		t.Errorf("path fallback: got %q", got)
	}
}

func TestAnnotateHappyPath(t *testing.T) {
	reply := "```json\n" + `{
  "page": {"id": "home", "name": "首页", "url_pattern": "/", "summary": "landing page",
    "aliases": {"buy_button": {"selector": "#buy", "description": "buy"}}},
  "warnings": ["low confidence"]
}` + "\n```"
	client := &fakeClient{reply: reply}
	snap := &model.Snapshot{URL: "https://example.com", Title: "Home"}

	page, err := Annotate(context.Background(), client, snap, Hints{})
	if err != nil {
		t.Fatalf("Annotate error: %v", err)
	}
	if page.PageID != "home" || page.PageName != "首页" {
		t.Errorf("unexpected page: %+v", page)
	}
	if len(page.Warnings) != 1 || page.Warnings[0] != "low confidence" {
		t.Errorf("expected one warning, got %+v", page.Warnings)
	}
	if _, ok := page.Aliases["buy_button"]; !ok {
		t.Errorf("expected buy_button alias to survive, got %+v", page.Aliases)
	}
}

func TestAnnotateDetailPageNormalizesName(t *testing.T) {
	reply := `{"page": {"id": "detail", "name": "\"华为P50\"", "aliases": {}}}`
	client := &fakeClient{reply: reply}
	snap := &model.Snapshot{URL: "https://example.com/p/1"}

	page, err := Annotate(context.Background(), client, snap, Hints{IsDetailPage: true})
	if err != nil {
		t.Fatalf("Annotate error: %v", err)
	}
	if page.PageName != "华为P50详情页" {
		t.Errorf("PageName = %q, want 华为P50详情页", page.PageName)
	}
}

func TestAnnotateMissingPageObjectIsUnparseable(t *testing.T) {
	client := &fakeClient{reply: `{"warnings": []}`}
	snap := &model.Snapshot{URL: "https://example.com"}

	_, err := Annotate(context.Background(), client, snap, Hints{})
	annErr, ok := err.(*AnnotationError)
	if !ok || annErr.Code != "ANNOTATION_UNPARSEABLE" {
		t.Errorf("expected ANNOTATION_UNPARSEABLE, got %v", err)
	}
}

func TestAnnotateMissingPageIDIsUnparseable(t *testing.T) {
	client := &fakeClient{reply: `{"page": {"name": "no id here"}}`}
	snap := &model.Snapshot{URL: "https://example.com"}

	_, err := Annotate(context.Background(), client, snap, Hints{})
	annErr, ok := err.(*AnnotationError)
	if !ok || annErr.Code != "ANNOTATION_UNPARSEABLE" {
		t.Errorf("expected ANNOTATION_UNPARSEABLE for missing page.id, got %v", err)
	}
}

func TestAnnotatePropagatesLLMFailure(t *testing.T) {
	client := &fakeClient{err: context.DeadlineExceeded}
	snap := &model.Snapshot{URL: "https://example.com"}

	_, err := Annotate(context.Background(), client, snap, Hints{})
	annErr, ok := err.(*AnnotationError)
	if !ok || annErr.Code != "ANNOTATION_FAILED" {
		t.Errorf("expected ANNOTATION_FAILED, got %v", err)
	}
}
