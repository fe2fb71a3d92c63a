// Package compiler implements the Plan Compiler (C5): it turns a parsed
// TestRequest and a SiteProfile into a validated ActionPlan, prompting
// the LLM through a repair loop and then deterministically snapping
// selectors onto the profile's aliases.
package compiler

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/corepilot/corepilot/internal/atomicfile"
	"github.com/corepilot/corepilot/internal/llm"
	"github.com/corepilot/corepilot/internal/logging"
	"github.com/corepilot/corepilot/internal/model"
	"github.com/corepilot/corepilot/internal/schema"
)

var log = logging.WithField("compiler")

// Options configures one Compile call.
type Options struct {
	MaxAttempts  int // default 3
	Temperature  float64
	PlanName     string // default "<UTCts>_llm_plan"
	CaseName     string // default "case_<test_id_lower>"
	PlanRoot     string
	Model        string
	Timeout      time.Duration
	SchemaLoader gojsonschema.JSONLoader // nil uses the built-in schema
}

// CompilationResult is the materialized, validated ActionPlan plus where
// it was written.
type CompilationResult struct {
	TestID  string
	BaseURL string
	Plan    *model.ActionPlan
	PlanDir string
	CaseDir string
}

// CompileError is a typed Plan Compiler failure.
type CompileError struct {
	Code    string // COMPILE_EXHAUSTED | COMPILE_FAILED
	Message string
	Cause   error
}

func (e *CompileError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *CompileError) Unwrap() error { return e.Cause }

var jsonBlockPattern = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// extractJSONBlock pulls a JSON object out of an LLM completion, either
// from a fenced ```json ... ``` block or, failing that, the first `{`
// through the last `}`.
func extractJSONBlock(text string) (string, error) {
	if m := jsonBlockPattern.FindStringSubmatch(text); m != nil {
		return m[1], nil
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || end <= start {
		return "", fmt.Errorf("LLM output did not contain a JSON object")
	}
	return text[start : end+1], nil
}

var nonAlnum = regexp.MustCompile(`[^A-Za-z0-9]+`)

// deriveTestID builds REQ-<UPPER-SLUG> from title, falling back to
// REQ-<md5(title)[0:8] upper> when the title slugifies to nothing.
func deriveTestID(title string) string {
	slug := strings.Trim(nonAlnum.ReplaceAllString(title, "-"), "-")
	if slug != "" {
		return "REQ-" + strings.ToUpper(slug)
	}
	sum := md5.Sum([]byte(title))
	return "REQ-" + strings.ToUpper(hex.EncodeToString(sum[:])[:8])
}

// Compile runs the three-message prompt, the repair loop, metadata
// enrichment and selector post-processing, then writes the plan to disk.
func Compile(ctx context.Context, client llm.Client, request *model.TestRequest, profile *model.SiteProfile, opts Options) (*CompilationResult, error) {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}

	messages := initialMessages(request, profile)

	var payload map[string]any
	var lastErr string

	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		completion, err := client.ChatCompletion(ctx, messages, opts.Model, opts.Temperature, opts.Timeout)
		if err != nil {
			return nil, &CompileError{Code: "COMPILE_FAILED", Message: "LLM call failed", Cause: err}
		}

		block, err := extractJSONBlock(completion)
		if err != nil {
			lastErr = err.Error()
			messages = appendRepairRequest(messages, lastErr)
			continue
		}

		var candidate map[string]any
		if err := json.Unmarshal([]byte(block), &candidate); err != nil {
			lastErr = fmt.Sprintf("JSON parse failed: %v", err)
			messages = appendRepairRequest(messages, lastErr)
			continue
		}

		var violations []schema.ValidationError
		if opts.SchemaLoader != nil {
			violations, err = schema.ValidateJSONAgainst([]byte(block), opts.SchemaLoader)
		} else {
			violations, err = schema.ValidateJSON([]byte(block))
		}
		if err != nil {
			return nil, &CompileError{Code: "COMPILE_FAILED", Message: "schema validation could not run", Cause: err}
		}
		if len(violations) > 0 {
			var parts []string
			for _, v := range violations {
				parts = append(parts, v.String())
			}
			lastErr = strings.Join(parts, "; ")
			messages = appendRepairRequest(messages, lastErr)
			continue
		}

		payload = candidate
		lastErr = ""
		break
	}

	if payload == nil {
		return nil, &CompileError{Code: "COMPILE_EXHAUSTED", Message: fmt.Sprintf("no valid DSL after %d attempts: %s", opts.MaxAttempts, lastErr)}
	}

	ensureMetadata(payload, request)

	plan, err := decodePlan(payload)
	if err != nil {
		return nil, &CompileError{Code: "COMPILE_FAILED", Message: "failed to decode enriched plan", Cause: err}
	}

	aliases := profile.AllAliases()
	matched := snapSelectors(plan, aliases)
	postProcessSteps(plan, matched, aliases)

	if err := finalPolicyCheck(plan); err != nil {
		return nil, &CompileError{Code: "COMPILE_FAILED", Message: err.Error()}
	}

	result, err := materialize(plan, opts)
	if err != nil {
		return nil, &CompileError{Code: "COMPILE_FAILED", Message: "failed to write plan", Cause: err}
	}
	return result, nil
}

func appendRepairRequest(messages []llm.Message, fault string) []llm.Message {
	return append(messages, llm.Message{
		Role: "user",
		Content: "上一步生成的 JSON 存在问题：\n" + fault +
			"\n请根据错误信息重新输出完整且符合 Schema 的 JSON，仍然只输出 JSON。",
	})
}

func decodePlan(payload map[string]any) (*model.ActionPlan, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	var plan model.ActionPlan
	if err := json.Unmarshal(data, &plan); err != nil {
		return nil, err
	}
	return &plan, nil
}

// ensureMetadata derives meta.testId from the request title when absent
// and resolves meta.baseUrl, preferring the request's own base URL over
// whatever the LLM produced.
func ensureMetadata(payload map[string]any, request *model.TestRequest) {
	metaRaw, _ := payload["meta"].(map[string]any)
	if metaRaw == nil {
		metaRaw = map[string]any{}
	}

	if testID, ok := metaRaw["testId"].(string); !ok || testID == "" {
		metaRaw["testId"] = deriveTestID(request.Title)
	}

	baseURL := strings.TrimRight(request.BaseURL, "/")
	if baseURL == "" {
		if existing, ok := metaRaw["baseUrl"].(string); ok {
			baseURL = strings.TrimRight(existing, "/")
		}
	}
	if baseURL != "" {
		metaRaw["baseUrl"] = baseURL
	}

	payload["meta"] = metaRaw
}

func initialMessages(request *model.TestRequest, profile *model.SiteProfile) []llm.Message {
	system := llm.Message{
		Role: "system",
		Content: "你是一名资深的 UI 自动化 DSL 编译专家。" +
			"请严格遵守提供的 JSON Schema，并只输出 JSON。",
	}
	spec := llm.Message{Role: "user", Content: dslPrompt()}
	scenario := llm.Message{
		Role: "user",
		Content: summarizeRequest(request) + "\n\n" + summarizeProfile(profile) +
			"\n\n请基于上述需求生成完整的 ActionPlan JSON。",
	}
	return []llm.Message{system, spec, scenario}
}

// dslPrompt documents the schema and the generation rules spec.md §4.5
// names as materially affecting output quality.
func dslPrompt() string {
	return `ActionPlan Schema:
{
  "meta": {"testId": "string", "baseUrl": "string"},
  "steps": [
    {"t": "goto", "url": "string"},
    {"t": "fill", "selector": "string (Playwright CSS)", "value": "string"},
    {"t": "click", "selector": "string (Playwright CSS)"},
    {"t": "assert", "selector": "string (Playwright CSS)", "kind": "visible|invisible|text_contains|text_equals|text_regex|count_equals|count_at_least", "value": "string or number, required for text_*/count_*"}
  ]
}

生成规则:
- 选择器使用 Playwright CSS；文本过滤使用 :has-text("...")，绝不要使用 :contains。
- 优先使用 Site Profile 中提供的别名选择器（下方会附上每个页面的 name -> selector, role, description 列表）。
- 操作类型需匹配元素角色：fill -> 输入类别名；click -> 按钮/链接类别名；assert -> 文本/标题/图片类别名。
- 图片元素的 kind 必须是 visible；绝不要把 img 与 :has-text 组合使用。

示例 ActionPlan:
{
  "meta": {"testId": "REQ-EXAMPLE", "baseUrl": "https://example.com"},
  "steps": [
    {"t": "goto", "url": "/"},
    {"t": "fill", "selector": "#search-input", "value": "keyword"},
    {"t": "click", "selector": "#search-button"},
    {"t": "assert", "selector": ".result-title", "kind": "text_contains", "value": "keyword"}
  ]
}`
}

func summarizeRequest(request *model.TestRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "测试需求标题: %s\n", request.Title)
	fmt.Fprintf(&b, "起始 URL: %s\n", request.BaseURL)
	b.WriteString("步骤:\n")
	for _, step := range request.Steps {
		fmt.Fprintf(&b, "%d. %s\n", step.Index, step.Text)
	}
	return b.String()
}

func summarizeProfile(profile *model.SiteProfile) string {
	if profile == nil || len(profile.Pages) == 0 {
		return "Site Profile: (空)"
	}
	var b strings.Builder
	b.WriteString("Site Profile 元素别名:\n")
	for _, page := range profile.Pages {
		fmt.Fprintf(&b, "页面 %s (%s):\n", page.Name, page.URLPattern)
		for name, alias := range page.Aliases {
			fmt.Fprintf(&b, "  - %s -> selector=%q role=%q description=%q\n", name, alias.Selector, alias.Role, alias.Description)
		}
	}
	return b.String()
}

// materialize writes the final plan to <plan_root>/<plan_name>/cases/<case_name>/action_plan.json.
func materialize(plan *model.ActionPlan, opts Options) (*CompilationResult, error) {
	planName := opts.PlanName
	if planName == "" {
		planName = fmt.Sprintf("%s_llm_plan", time.Now().UTC().Format("20060102T150405"))
	}
	planDir := filepath.Join(opts.PlanRoot, planName)

	caseName := opts.CaseName
	if caseName == "" {
		caseName = "case_" + strings.ToLower(plan.Meta.TestID)
	}
	caseDir := filepath.Join(planDir, "cases", caseName)

	if err := os.MkdirAll(caseDir, 0o755); err != nil {
		return nil, err
	}

	data, err := json.MarshalIndent(plan, "", "  ")
	if err != nil {
		return nil, err
	}
	outputPath := filepath.Join(caseDir, "action_plan.json")
	if err := atomicfile.Write(outputPath, data, 0o644); err != nil {
		return nil, err
	}

	log.Infof("compiled plan %s -> %s", plan.Meta.TestID, outputPath)

	return &CompilationResult{
		TestID:  plan.Meta.TestID,
		BaseURL: plan.Meta.BaseURL,
		Plan:    plan,
		PlanDir: planDir,
		CaseDir: caseDir,
	}, nil
}

// finalPolicyCheck is step 5 of post-processing: reject anything that
// slipped past sanitization.
func finalPolicyCheck(plan *model.ActionPlan) error {
	var errs []string
	for i, step := range plan.Steps {
		index := i + 1
		if step.Selector != "" {
			for _, frag := range []string{":contains", "::", "contains(", "[text()"} {
				if strings.Contains(step.Selector, frag) {
					errs = append(errs, fmt.Sprintf("step %d selector %q uses disallowed fragment %q", index, step.Selector, frag))
				}
			}
		}
		if step.T == model.StepFill && !step.HasValue {
			errs = append(errs, fmt.Sprintf("step %d is missing a fill value", index))
		}
		if step.Kind != "" && !allowedAssertKinds[step.Kind] {
			errs = append(errs, fmt.Sprintf("step %d uses unsupported assert kind %q", index, step.Kind))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

var allowedAssertKinds = map[string]bool{
	model.KindVisible:      true,
	model.KindInvisible:    true,
	model.KindTextContains: true,
	model.KindTextEquals:   true,
	model.KindTextRegex:    true,
	model.KindCountEquals:  true,
	model.KindCountAtLeast: true,
}
