package model

import (
	"encoding/json"
	"testing"
)

func TestActionStepJSONRoundTripsStringValue(t *testing.T) {
	var step ActionStep
	if err := json.Unmarshal([]byte(`{"t": "fill", "selector": "#x", "value": "hello"}`), &step); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if !step.HasValue || step.Value != "hello" {
		t.Fatalf("unexpected step: %+v", step)
	}

	data, err := json.Marshal(step)
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}
	var roundTripped ActionStep
	if err := json.Unmarshal(data, &roundTripped); err != nil {
		t.Fatalf("round-trip unmarshal error: %v", err)
	}
	if roundTripped.Value != "hello" || !roundTripped.HasValue {
		t.Errorf("round trip lost the value: %+v", roundTripped)
	}
}

func TestActionStepJSONAcceptsNumericValue(t *testing.T) {
	var step ActionStep
	if err := json.Unmarshal([]byte(`{"t": "assert", "kind": "count_equals", "value": 3}`), &step); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if !step.HasValue || step.Value != "3" {
		t.Fatalf("expected numeric value normalized to string \"3\", got %+v", step)
	}
}

func TestActionStepJSONDistinguishesOmittedFromEmptyValue(t *testing.T) {
	var omitted ActionStep
	if err := json.Unmarshal([]byte(`{"t": "goto", "url": "/"}`), &omitted); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if omitted.HasValue {
		t.Error("expected HasValue=false when value is omitted entirely")
	}

	var empty ActionStep
	if err := json.Unmarshal([]byte(`{"t": "fill", "selector": "#x", "value": ""}`), &empty); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if !empty.HasValue || empty.Value != "" {
		t.Errorf("expected HasValue=true with an explicit empty string, got %+v", empty)
	}
}

func TestActionStepJSONRejectsNonStringNonNumberValue(t *testing.T) {
	var step ActionStep
	err := json.Unmarshal([]byte(`{"t": "fill", "value": {"nested": true}}`), &step)
	if err == nil {
		t.Error("expected an error for a value that is neither a string nor a number")
	}
}

func TestActionStepMarshalOmitsValueWhenNotSet(t *testing.T) {
	step := ActionStep{T: StepGoto, URL: "/"}
	data, err := json.Marshal(step)
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}
	var raw map[string]any
	json.Unmarshal(data, &raw)
	if _, ok := raw["value"]; ok {
		t.Errorf("expected no value key when HasValue=false, got %s", data)
	}
}

func TestSiteProfileFindPage(t *testing.T) {
	profile := &SiteProfile{Pages: []*SitePage{{ID: "home"}, {ID: "cart"}}}
	if page := profile.FindPage("cart"); page == nil || page.ID != "cart" {
		t.Errorf("expected to find cart page, got %+v", page)
	}
	if page := profile.FindPage("missing"); page != nil {
		t.Errorf("expected nil for a missing page id, got %+v", page)
	}
}

func TestSiteProfileAllAliasesFlattensWithOwningPageID(t *testing.T) {
	profile := &SiteProfile{Pages: []*SitePage{
		{ID: "home", Aliases: map[string]SiteAlias{"buy_button": {Selector: "#buy"}}},
		{ID: "cart", Aliases: map[string]SiteAlias{"checkout_button": {Selector: "#checkout"}}},
	}}
	all := profile.AllAliases()
	if len(all) != 2 {
		t.Fatalf("expected 2 aliases total, got %d", len(all))
	}
	byName := map[string]SiteAlias{}
	for _, a := range all {
		byName[a.Name] = a
	}
	if byName["buy_button"].PageID != "home" {
		t.Errorf("expected buy_button owned by home, got %+v", byName["buy_button"])
	}
	if byName["checkout_button"].PageID != "cart" {
		t.Errorf("expected checkout_button owned by cart, got %+v", byName["checkout_button"])
	}
}

func TestRunResultPassedRequiresEveryStepToPass(t *testing.T) {
	allPassed := &RunResult{Status: "passed", Steps: []StepResult{{Status: "passed"}, {Status: "passed"}}}
	if !allPassed.Passed() {
		t.Error("expected Passed()==true when status and every step are passed")
	}

	stepFailed := &RunResult{Status: "passed", Steps: []StepResult{{Status: "passed"}, {Status: "failed"}}}
	if stepFailed.Passed() {
		t.Error("expected Passed()==false when a step failed even though the run status says passed")
	}

	statusFailed := &RunResult{Status: "failed", Steps: []StepResult{{Status: "passed"}}}
	if statusFailed.Passed() {
		t.Error("expected Passed()==false when the run status itself is failed")
	}
}
