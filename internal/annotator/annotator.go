// Package annotator implements the Profile Annotator (C3): it asks the
// LLM to name the regions of a page from its DOM snapshot, repairs and
// normalizes the reply, and augments it deterministically with
// search-box aliases and normalized detail-page names.
package annotator

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/corepilot/corepilot/internal/llm"
	"github.com/corepilot/corepilot/internal/logging"
	"github.com/corepilot/corepilot/internal/model"
)

var log = logging.WithField("annotator")

// Hints carries the optional authoring-time context named in spec.md §4.3.
type Hints struct {
	SiteName     string
	BaseURL      string
	IsDetailPage bool
	DetailLabel  string
	Temperature  float64
	Model        string
	Timeout      float64
}

// AnnotationError is a typed Profile Annotator failure.
type AnnotationError struct {
	Code    string // ANNOTATION_UNPARSEABLE | ANNOTATION_FAILED
	Message string
	Cause   error
}

func (e *AnnotationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AnnotationError) Unwrap() error { return e.Cause }

// domSummary is the JSON shape handed to the LLM: enough of the snapshot
// to name regions without shipping the full raw HTML.
type domSummary struct {
	URL      string         `json:"url"`
	Title    string         `json:"title"`
	DomTree  *model.DomNode `json:"dom_tree"`
	Controls []model.Control `json:"controls"`
}

// Annotate prompts the LLM to name the regions of snap and returns the
// normalized, enriched result.
func Annotate(ctx context.Context, client llm.Client, snap *model.Snapshot, hints Hints) (*model.AnnotatedPage, error) {
	summary := domSummary{URL: snap.URL, Title: snap.Title, DomTree: snap.DomTree, Controls: snap.Controls}
	summaryJSON, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return nil, &AnnotationError{Code: "ANNOTATION_FAILED", Message: "failed to marshal DOM summary", Cause: err}
	}

	messages := buildMessages(snap, hints, string(summaryJSON))

	timeout := hints.Timeout
	if timeout <= 0 {
		timeout = 60
	}
	reply, err := client.ChatCompletion(ctx, messages, hints.Model, hints.Temperature, time.Duration(timeout*float64(time.Second)))
	if err != nil {
		return nil, &AnnotationError{Code: "ANNOTATION_FAILED", Message: "LLM call failed", Cause: err}
	}

	payload, err := extractJSON(reply)
	if err != nil {
		return nil, &AnnotationError{Code: "ANNOTATION_UNPARSEABLE", Message: "LLM reply is not parseable JSON", Cause: err}
	}

	pagePayload, _ := payload["page"].(map[string]any)
	if pagePayload == nil {
		return nil, &AnnotationError{Code: "ANNOTATION_UNPARSEABLE", Message: "LLM reply is missing a page object"}
	}

	pageID := stringField(pagePayload, "id", "page_id")
	if pageID == "" {
		return nil, &AnnotationError{Code: "ANNOTATION_UNPARSEABLE", Message: "LLM reply is missing page.id"}
	}
	pageName := stringField(pagePayload, "name", "title")
	if pageName == "" {
		pageName = pageID
	}
	urlPattern := stringField(pagePayload, "url_pattern", "path")
	if urlPattern == "" {
		urlPattern = snap.URL
	}
	summaryText := stringField(pagePayload, "summary", "description")

	aliasesPayload := pagePayload["aliases"]
	if aliasesPayload == nil {
		aliasesPayload = pagePayload["elements"]
	}
	aliases := normalizeAliases(aliasesPayload)
	if len(aliases) == 0 {
		log.Warnf("LLM identified no aliases for %s, may need manual supplementation", pageID)
	}

	var warnings []string
	if raw, ok := payload["warnings"].([]any); ok {
		for _, w := range raw {
			if s := fmt.Sprint(w); s != "" {
				warnings = append(warnings, s)
			}
		}
	}

	if hints.IsDetailPage {
		label := hints.DetailLabel
		if label == "" {
			label = "详情页"
		}
		pageName = normalizeDetailName(pageName, label)
	}

	enrichSearchAliases(aliases, snap.Controls)

	return &model.AnnotatedPage{
		PageID:     pageID,
		PageName:   pageName,
		URLPattern: urlPattern,
		Summary:    summaryText,
		Aliases:    aliases,
		Warnings:   warnings,
	}, nil
}

func buildMessages(snap *model.Snapshot, hints Hints, summaryJSON string) []llm.Message {
	detailHint := ""
	if hints.IsDetailPage {
		label := hints.DetailLabel
		if label == "" {
			label = "详情页"
		}
		detailHint = fmt.Sprintf("这是%s，请以更抽象、更概括的方式描述板块和元素，不要逐字复述长文本。"+
			"请明确详情页主标题所在元素，并列出页面展示的核心数据项目，逐项说明用途与定位线索。", label)
	}
	detailLine := ""
	if detailHint != "" {
		detailLine = "页面类型提示: " + detailHint + "\n"
	}

	siteName := hints.SiteName
	if siteName == "" {
		siteName = "未提供"
	}
	baseURL := hints.BaseURL
	if baseURL == "" {
		baseURL = "未提供"
	}
	title := snap.Title
	if title == "" {
		title = "未知"
	}

	system := "你是前端测试工程专家，需要从页面 DOM 摘要中提取可用于 UI 自动化的元素别名。先理解页面的大致功能，再逐功能区块进行解析和抽取。" +
		"输出严格符合 JSON 格式，包含页面元信息、别名和推荐选择器。"

	user := fmt.Sprintf("请根据以下上下文生成页面标定草稿。\n\n"+
		"URL: %s\n页面标题: %s\n站点名称: %s\n站点 BaseURL: %s\n%s"+
		"请输出 JSON，字段示例如下：\n"+
		"{\n  \"page\": {\n    \"id\": \"page_id\",\n    \"name\": \"页面名称\",\n"+
		"    \"url_pattern\": \"/path\",\n    \"summary\": \"页面用途概述\",\n    \"aliases\": {\n"+
		"      \"alias.name\": {\n        \"selector\": \"data-test=example\",\n"+
		"        \"description\": \"元素作用说明\",\n        \"role\": \"按钮\",\n        \"confidence\": 0.8\n"+
		"      }\n    }\n  },\n  \"warnings\": []\n}\n"+
		"DOM 摘要 (JSON 字符串):\n```json\n%s\n```",
		snap.URL, title, siteName, baseURL, detailLine, summaryJSON)

	return []llm.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}
}

func stringField(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

// normalizeAliases accepts either {name: {...}} or [{alias|name, ...}] and
// returns a uniform map, dropping entries with no selector.
func normalizeAliases(raw any) map[string]model.SiteAlias {
	out := map[string]model.SiteAlias{}

	addEntry := func(name string, payload map[string]any) {
		if name == "" {
			return
		}
		selector, _ := payload["selector"].(string)
		if selector == "" {
			return
		}
		alias := model.SiteAlias{Selector: selector}
		if v, ok := payload["description"].(string); ok {
			alias.Description = v
		}
		if v, ok := payload["role"].(string); ok {
			alias.Role = v
		}
		if v, ok := payload["notes"].(string); ok {
			alias.Notes = v
		}
		switch v := payload["confidence"].(type) {
		case float64:
			alias.Confidence = &v
		case string:
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				alias.Confidence = &f
			}
		}
		out[name] = alias
	}

	switch v := raw.(type) {
	case map[string]any:
		for name, payload := range v {
			if p, ok := payload.(map[string]any); ok {
				addEntry(name, p)
			}
		}
	case []any:
		for _, item := range v {
			p, ok := item.(map[string]any)
			if !ok {
				continue
			}
			name := stringField(p, "alias", "name")
			addEntry(name, p)
		}
	}
	return out
}

// detailSeparators mirrors spec.md's trim-around-separators list for
// detail-page name normalization.
var detailSeparators = regexp.MustCompile(`[：:\x{2014}\x{2015}\-]+`)

// normalizeDetailName strips quotes, trims around separators, caps the
// remaining text to 10 runes, and appends the detail-page label suffix.
func normalizeDetailName(name, label string) string {
	cleaned := strings.NewReplacer(`"`, "", "'", "", `“`, "", `”`, "").Replace(name)
	parts := detailSeparators.Split(cleaned, -1)
	core := strings.TrimSpace(parts[0])
	if core == "" {
		core = strings.TrimSpace(cleaned)
	}
	if utf8.RuneCountInString(core) > 10 {
		runes := []rune(core)
		core = string(runes[:10])
	}
	if strings.HasSuffix(core, label) {
		return core
	}
	return core + label
}

// searchPattern matches id/class/role/path/aria-label/name/data-test
// fields that suggest a search control.
var searchPattern = regexp.MustCompile(`(?i)search|lookup|find`)

// enrichSearchAliases synthesizes search.input/search.button aliases from
// the control inventory when the LLM's output didn't already name them.
func enrichSearchAliases(aliases map[string]model.SiteAlias, controls []model.Control) {
	if _, ok := aliases["search.input"]; !ok {
		if c := findControl(controls, isSearchInput); c != nil {
			aliases["search.input"] = model.SiteAlias{Selector: selectorFor(*c), Role: "输入框", Description: "搜索输入框"}
		}
	}
	if _, ok := aliases["search.button"]; !ok {
		if c := findControl(controls, isSearchButton); c != nil {
			aliases["search.button"] = model.SiteAlias{Selector: selectorFor(*c), Role: "按钮", Description: "搜索按钮"}
		}
	}
}

func controlMatches(c model.Control) bool {
	fields := []string{c.ID, c.Class, c.Role, c.Path, c.AriaLabel, c.Name, c.DataTest}
	for _, f := range fields {
		if searchPattern.MatchString(f) {
			return true
		}
	}
	return false
}

func isSearchInput(c model.Control) bool {
	return (c.Tag == "input" || c.Tag == "textarea") && controlMatches(c)
}

func isSearchButton(c model.Control) bool {
	if c.Tag != "button" && !(c.Tag == "input" && (c.Type == "submit" || c.Type == "button")) {
		return false
	}
	return controlMatches(c)
}

func findControl(controls []model.Control, pred func(model.Control) bool) *model.Control {
	for i := range controls {
		if pred(controls[i]) {
			return &controls[i]
		}
	}
	return nil
}

// selectorFor picks the most specific selector available for a control,
// in spec.md's documented fallback order.
func selectorFor(c model.Control) string {
	switch {
	case c.ID != "":
		return "#" + c.ID
	case c.Class != "":
		return c.Tag + "." + strings.Fields(c.Class)[0]
	case c.DataTest != "":
		return fmt.Sprintf("[data-test=%q]", c.DataTest)
	case c.Name != "":
		return fmt.Sprintf("[name=%q]", c.Name)
	case c.AriaLabel != "":
		return fmt.Sprintf("[aria-label=%q]", c.AriaLabel)
	default:
		return c.Path
	}
}
