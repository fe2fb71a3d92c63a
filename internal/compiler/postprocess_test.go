package compiler

import (
	"strings"
	"testing"

	"github.com/corepilot/corepilot/internal/model"
)

func TestAppendHasTextAddsFragmentOnce(t *testing.T) {
	got := appendHasText("#item", "Buy Now")
	want := `#item:has-text("Buy Now")`
	if got != want {
		t.Errorf("appendHasText = %q, want %q", got, want)
	}
	// already present: appendHasText must not double it up.
	got2 := appendHasText(got, "Ignored")
	if got2 != got {
		t.Errorf("appendHasText should be a no-op when :has-text( is already present, got %q", got2)
	}
}

func TestIsBuyButtonAlias(t *testing.T) {
	if !isBuyButtonAlias(&model.SiteAlias{Name: "buy_now", Description: ""}) {
		t.Error("expected buy_now to be recognized as a buy button")
	}
	if isBuyButtonAlias(&model.SiteAlias{Name: "search_box"}) {
		t.Error("expected search_box to not be a buy button")
	}
	if isBuyButtonAlias(nil) {
		t.Error("expected nil alias to be false")
	}
}

func TestLooksLikeProductNameStep(t *testing.T) {
	if !looksLikeProductNameStep("div.product-name", nil) {
		t.Error("expected selector containing 'name' to look like a product name step")
	}
	if looksLikeProductNameStep("#buy-btn", &model.SiteAlias{Name: "buy_button"}) {
		t.Error("expected the buy button alias to not look like a product name")
	}
}

func TestCorrectProductTextToBuyButtonRetargets(t *testing.T) {
	aliases := []model.SiteAlias{
		{Name: "product_name", Selector: ".product .item .name", PageID: "p1"},
		{Name: "buy_button", Selector: ".product .item .buy", Description: "purchase", PageID: "p1"},
	}
	alias := &aliases[0]

	selector, corrected, _, ok := correctProductTextToBuyButton(".product .item .name", alias, aliases, map[string]string{}, "")
	if !ok {
		t.Fatal("expected a correction to be applied")
	}
	if selector != ".product .item .buy" || corrected.Name != "buy_button" {
		t.Errorf("expected retarget to .product .item .buy, got %q / %+v", selector, corrected)
	}
}

func TestCorrectProductTextToBuyButtonNoOpWhenNotProductName(t *testing.T) {
	aliases := []model.SiteAlias{{Name: "confirm_button", Selector: "#ok-btn"}}
	_, _, _, ok := correctProductTextToBuyButton("#ok-btn", &aliases[0], aliases, map[string]string{}, "")
	if ok {
		t.Error("expected no correction for a selector that doesn't look like a product name")
	}
}

func TestPostProcessStepsThreadsLastValueIntoCountAssert(t *testing.T) {
	plan := &model.ActionPlan{Steps: []model.ActionStep{
		{T: model.StepFill, Selector: "#search", Value: "laptop", HasValue: true, Kind: model.KindTextContains},
		{T: model.StepAssert, Selector: ".results li", Kind: model.KindCountAtLeast},
	}}
	matched := []*model.SiteAlias{nil, nil}

	postProcessSteps(plan, matched, nil)

	fillStep := plan.Steps[0]
	if fillStep.Selector != `#search:has-text("laptop")` {
		t.Errorf("expected fill step selector to gain :has-text, got %q", fillStep.Selector)
	}

	assertStep := plan.Steps[1]
	if !assertStep.HasValue || assertStep.Value != "laptop" {
		t.Errorf("expected the count assert to inherit last_value=laptop, got %+v", assertStep)
	}
}

func TestPostProcessStepsLeavesCountAssertAloneWhenValueAlreadySet(t *testing.T) {
	plan := &model.ActionPlan{Steps: []model.ActionStep{
		{T: model.StepAssert, Selector: ".results li", Kind: model.KindCountEquals, Value: "3", HasValue: true},
	}}
	postProcessSteps(plan, []*model.SiteAlias{nil}, nil)
	if plan.Steps[0].Value != "3" {
		t.Errorf("expected the explicit count value to be preserved, got %q", plan.Steps[0].Value)
	}
}

func TestIsImageAssertionStepRequiresVisibleAssertKind(t *testing.T) {
	imgAssert := &model.ActionStep{T: model.StepAssert, Kind: model.KindVisible, Selector: ".product img"}
	if !isImageAssertionStep(imgAssert, nil) {
		t.Error("expected an 'img' selector on a visible assert to be detected as an image assertion")
	}

	namedAlias := &model.SiteAlias{Name: "product_image"}
	aliasAssert := &model.ActionStep{T: model.StepAssert, Kind: model.KindVisible, Selector: ".thumb"}
	if !isImageAssertionStep(aliasAssert, namedAlias) {
		t.Error("expected an alias named with 'image' to be detected even without 'img' in the selector")
	}

	// Only StepAssert+KindVisible ever qualifies: a click step is never
	// treated as an image assertion, even with an identical selector/alias.
	clickStep := &model.ActionStep{T: model.StepClick, Kind: model.KindVisible, Selector: ".product img"}
	if isImageAssertionStep(clickStep, namedAlias) {
		t.Error("expected a click step to never be reported as an image assertion")
	}

	countAssert := &model.ActionStep{T: model.StepAssert, Kind: model.KindCountAtLeast, Selector: ".product img"}
	if isImageAssertionStep(countAssert, nil) {
		t.Error("expected a non-visible assert kind to not be reported as an image assertion")
	}
}

// A visible-assert on an image selector neither inherits a value nor gains
// a :has-text(...) fragment, even after a prior step has set lastValue.
func TestPostProcessStepsKeepsImageVisibleAssertFreeOfInheritedHasText(t *testing.T) {
	plan := &model.ActionPlan{Steps: []model.ActionStep{
		{T: model.StepFill, Selector: "#search", Value: "laptop", HasValue: true, Kind: model.KindTextContains},
		{T: model.StepAssert, Selector: ".product img", Kind: model.KindVisible},
	}}
	postProcessSteps(plan, []*model.SiteAlias{nil, nil}, nil)

	assertStep := plan.Steps[1]
	if strings.Contains(assertStep.Selector, ":has-text(") || assertStep.HasValue {
		t.Errorf("expected the image-visible assert to carry no value and no :has-text, got %+v", assertStep)
	}
}
