package compiler

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/corepilot/corepilot/internal/llm"
	"github.com/corepilot/corepilot/internal/model"
)

func TestExtractJSONBlockFencedBlock(t *testing.T) {
	text := "here you go:\n```json\n{\"a\": 1}\n```\nthanks"
	got, err := extractJSONBlock(text)
	if err != nil {
		t.Fatalf("extractJSONBlock error: %v", err)
	}
	if got != `{"a": 1}` {
		t.Errorf("extractJSONBlock = %q", got)
	}
}

func TestExtractJSONBlockBareBraces(t *testing.T) {
	text := `some preamble {"a": 1, "b": {"c": 2}} trailing notes`
	got, err := extractJSONBlock(text)
	if err != nil {
		t.Fatalf("extractJSONBlock error: %v", err)
	}
	if got != `{"a": 1, "b": {"c": 2}}` {
		t.Errorf("extractJSONBlock = %q", got)
	}
}

func TestExtractJSONBlockNoObject(t *testing.T) {
	if _, err := extractJSONBlock("no json here"); err == nil {
		t.Error("expected an error when no JSON object is present")
	}
}

func TestDeriveTestIDSlugifiesTitle(t *testing.T) {
	got := deriveTestID("Login & Checkout Flow!")
	if got != "REQ-LOGIN-CHECKOUT-FLOW" {
		t.Errorf("deriveTestID = %q", got)
	}
}

func TestDeriveTestIDFallsBackToHashWhenSlugEmpty(t *testing.T) {
	got := deriveTestID("日本語のみ")
	if len(got) != len("REQ-") + 8 {
		t.Errorf("expected an 8-char hash suffix, got %q", got)
	}
}

func TestEnsureMetadataPrefersRequestBaseURL(t *testing.T) {
	payload := map[string]any{"meta": map[string]any{"baseUrl": "https://llm-guessed.example/"}}
	request := &model.TestRequest{Title: "My Test", BaseURL: "https://real.example.com/"}

	ensureMetadata(payload, request)

	meta := payload["meta"].(map[string]any)
	if meta["baseUrl"] != "https://real.example.com" {
		t.Errorf("baseUrl = %v, want the request's own base URL trimmed of trailing slash", meta["baseUrl"])
	}
	if meta["testId"] != "REQ-MY-TEST" {
		t.Errorf("testId = %v, want REQ-MY-TEST", meta["testId"])
	}
}

func TestFinalPolicyCheckRejectsDisallowedFragmentsAndMissingFillValue(t *testing.T) {
	plan := &model.ActionPlan{Steps: []model.ActionStep{
		{T: model.StepClick, Selector: "div:contains('x')"},
		{T: model.StepFill, Selector: "#name", HasValue: false},
	}}
	if err := finalPolicyCheck(plan); err == nil {
		t.Error("expected a policy violation for a :contains selector and a missing fill value")
	}
}

func TestFinalPolicyCheckAcceptsCleanPlan(t *testing.T) {
	plan := &model.ActionPlan{Steps: []model.ActionStep{
		{T: model.StepGoto, URL: "/"},
		{T: model.StepFill, Selector: "#name", Value: "Ann", HasValue: true},
		{T: model.StepAssert, Selector: "h1", Kind: model.KindVisible},
	}}
	if err := finalPolicyCheck(plan); err != nil {
		t.Errorf("expected no violations, got %v", err)
	}
}

// fakeClient returns each entry of replies in turn, one per ChatCompletion
// call, so a test can simulate an LLM producing a bad reply before a good one.
type fakeClient struct {
	replies []string
	calls   int
}

func (c *fakeClient) ChatCompletion(ctx context.Context, messages []llm.Message, model string, temperature float64, timeout time.Duration) (string, error) {
	reply := c.replies[c.calls]
	c.calls++
	return reply, nil
}

func validPlanJSON(testID string) string {
	return `{"meta": {"testId": "` + testID + `", "baseUrl": "https://example.com"}, "steps": [{"t": "goto", "url": "/"}]}`
}

func TestCompileSucceedsFirstAttempt(t *testing.T) {
	client := &fakeClient{replies: []string{"```json\n" + validPlanJSON("REQ-1") + "\n```"}}
	request := &model.TestRequest{Title: "Some flow", BaseURL: "https://example.com"}
	profile := &model.SiteProfile{}

	planRoot := t.TempDir()
	result, err := Compile(context.Background(), client, request, profile, Options{PlanRoot: planRoot})
	if err != nil {
		t.Fatalf("Compile error: %v", err)
	}
	if result.TestID != "REQ-1" {
		t.Errorf("TestID = %q, want REQ-1", result.TestID)
	}
	if _, err := os.Stat(filepath.Join(result.CaseDir, "action_plan.json")); err != nil {
		t.Errorf("expected action_plan.json to be written: %v", err)
	}
}

func TestCompileRepairsAfterInvalidJSON(t *testing.T) {
	client := &fakeClient{replies: []string{
		"not json at all",
		"```json\n" + validPlanJSON("REQ-2") + "\n```",
	}}
	request := &model.TestRequest{Title: "Another flow", BaseURL: "https://example.com"}
	profile := &model.SiteProfile{}

	result, err := Compile(context.Background(), client, request, profile, Options{PlanRoot: t.TempDir(), MaxAttempts: 3})
	if err != nil {
		t.Fatalf("Compile error: %v", err)
	}
	if client.calls != 2 {
		t.Errorf("expected exactly 2 LLM calls (one retry), got %d", client.calls)
	}
	if result.TestID != "REQ-2" {
		t.Errorf("TestID = %q, want REQ-2", result.TestID)
	}
}

func TestCompileExhaustsAttempts(t *testing.T) {
	client := &fakeClient{replies: []string{"nope", "still nope"}}
	request := &model.TestRequest{Title: "Doomed flow", BaseURL: "https://example.com"}
	profile := &model.SiteProfile{}

	_, err := Compile(context.Background(), client, request, profile, Options{PlanRoot: t.TempDir(), MaxAttempts: 2})
	if err == nil {
		t.Fatal("expected an error after exhausting every attempt")
	}
	var compileErr *CompileError
	if ce, ok := err.(*CompileError); ok {
		compileErr = ce
	}
	if compileErr == nil || compileErr.Code != "COMPILE_EXHAUSTED" {
		t.Errorf("expected COMPILE_EXHAUSTED, got %v", err)
	}
}

func TestCompileHonorsCustomSchemaLoader(t *testing.T) {
	// a permissive schema that only requires "steps", so a payload missing
	// "meta" (which the built-in schema would reject) still validates.
	jsonLoader := gojsonschema.NewStringLoader(`{"type": "object", "required": ["steps"]}`)

	client := &fakeClient{replies: []string{`{"steps": [{"t": "goto", "url": "/"}]}`}}
	request := &model.TestRequest{Title: "Loose schema flow", BaseURL: "https://example.com"}
	profile := &model.SiteProfile{}

	result, err := Compile(context.Background(), client, request, profile, Options{PlanRoot: t.TempDir(), SchemaLoader: jsonLoader})
	if err != nil {
		t.Fatalf("Compile error: %v", err)
	}
	if result.Plan.Meta.TestID == "" {
		t.Error("expected ensureMetadata to still derive a testId even under a custom schema")
	}
}

func TestMaterializeWritesActionPlanJSON(t *testing.T) {
	plan := &model.ActionPlan{
		Meta:  model.ActionPlanMeta{TestID: "REQ-X", BaseURL: "https://example.com"},
		Steps: []model.ActionStep{{T: model.StepGoto, URL: "/"}},
	}
	planRoot := t.TempDir()
	result, err := materialize(plan, Options{PlanRoot: planRoot, PlanName: "my_plan", CaseName: "case_x"})
	if err != nil {
		t.Fatalf("materialize error: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(result.CaseDir, "action_plan.json"))
	if err != nil {
		t.Fatalf("read action_plan.json: %v", err)
	}
	var roundTripped model.ActionPlan
	if err := json.Unmarshal(data, &roundTripped); err != nil {
		t.Fatalf("unmarshal written plan: %v", err)
	}
	if roundTripped.Meta.TestID != "REQ-X" {
		t.Errorf("round-tripped TestID = %q, want REQ-X", roundTripped.Meta.TestID)
	}
}
