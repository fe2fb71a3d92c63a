package compiler

import (
	"regexp"
	"strings"

	"github.com/corepilot/corepilot/internal/model"
)

var containsSelectorPattern = regexp.MustCompile(`:contains\((['"])\s*(.*?)\s*\1\)`)

// sanitizeSelector rewrites jQuery-style :contains('X') into Playwright's
// :has-text("X"), escaping embedded double quotes.
func sanitizeSelector(selector string) string {
	return containsSelectorPattern.ReplaceAllStringFunc(selector, func(match string) string {
		groups := containsSelectorPattern.FindStringSubmatch(match)
		text := strings.ReplaceAll(groups[2], `"`, `\"`)
		return `:has-text("` + text + `")`
	})
}

var tokenSplit = regexp.MustCompile(`[^a-z0-9\x{4e00}-\x{9fff}]+`)

// extractTokens lowercases text and splits it on non-alphanumeric (and
// non-CJK) runs, keeping tokens of length >= 2 — the unit the fallback
// Jaccard-like scorer compares across selector/name/description.
func extractTokens(text string) map[string]bool {
	tokens := map[string]bool{}
	if text == "" {
		return tokens
	}
	for _, part := range tokenSplit.Split(strings.ToLower(text), -1) {
		if len([]rune(part)) >= 2 {
			tokens[part] = true
		}
	}
	return tokens
}

func intersectCount(a, b map[string]bool) int {
	n := 0
	small, big := a, b
	if len(b) < len(a) {
		small, big = b, a
	}
	for t := range small {
		if big[t] {
			n++
		}
	}
	return n
}

var clickKeywords = map[string]bool{
	"button": true, "btn": true, "buy": true, "purchase": true, "click": true,
	"link": true, "submit": true, "confirm": true, "按钮": true, "购买": true,
	"点击": true, "提交": true, "确定": true, "buy_list": true, "buybtn": true,
}

var fillKeywords = map[string]bool{
	"input": true, "field": true, "textbox": true, "text": true, "search": true,
	"fill": true, "enter": true, "输入": true, "框": true, "文本框": true, "搜索": true, "填入": true,
}

var assertKeywords = map[string]bool{
	"title": true, "text": true, "label": true, "name": true, "content": true,
	"value": true, "price": true, "标题": true, "文本": true, "名称": true,
	"内容": true, "价格": true, "h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
}

// snapSelectors is post-processing step 2 — for each step with a
// selector, sanitize it, then either adopt a profile alias whose
// selector matches directly, or score every alias against the step and
// adopt the best match above threshold. Returns, aligned with
// plan.Steps, the alias each step snapped to (nil if none).
func snapSelectors(plan *model.ActionPlan, aliases []model.SiteAlias) []*model.SiteAlias {
	matched := make([]*model.SiteAlias, len(plan.Steps))
	for i := range plan.Steps {
		step := &plan.Steps[i]
		if step.Selector == "" {
			continue
		}
		sanitized := sanitizeSelector(step.Selector)
		snapped, alias := fallbackSelectorToProfile(sanitized, *step, aliases)
		step.Selector = snapped
		matched[i] = alias
	}
	return matched
}

func fallbackSelectorToProfile(selector string, step model.ActionStep, aliases []model.SiteAlias) (string, *model.SiteAlias) {
	if len(aliases) == 0 {
		return selector, nil
	}

	for i := range aliases {
		if aliases[i].Selector == selector {
			return selector, &aliases[i]
		}
	}

	lowered := strings.ToLower(selector)
	for i := range aliases {
		if aliases[i].Selector != "" && strings.Contains(lowered, strings.ToLower(aliases[i].Selector)) {
			return aliases[i].Selector, &aliases[i]
		}
	}

	switch step.T {
	case model.StepClick:
		if sel, alias := findByKeywordScore(selector, aliases, clickKeywords, 10, 5, 5); alias != nil {
			return sel, alias
		}
	case model.StepFill:
		if sel, alias := findInputAliasByKeyword(selector, aliases, fillKeywords); alias != nil {
			return sel, alias
		}
	case model.StepAssert:
		if sel, alias := findAssertAliasByKeyword(selector, aliases, assertKeywords); alias != nil {
			return sel, alias
		}
	}

	return fallbackJaccardMatch(selector, step, aliases)
}

// findInputAliasByKeyword returns the first alias whose name,
// description, or the step's own selector tokens intersect the keyword
// set — the step's own selector legitimately counts here, since an
// LLM-authored fill selector like "#search-input" is itself informative.
func findInputAliasByKeyword(selector string, aliases []model.SiteAlias, keywords map[string]bool) (string, *model.SiteAlias) {
	selectorTokens := extractTokens(selector)
	for i := range aliases {
		alias := &aliases[i]
		nameTokens := extractTokens(alias.Name)
		descTokens := extractTokens(alias.Description)
		if intersectCount(nameTokens, keywords) > 0 || intersectCount(descTokens, keywords) > 0 || intersectCount(selectorTokens, keywords) > 0 {
			return alias.Selector, alias
		}
	}
	return selector, nil
}

// findAssertAliasByKeyword returns the first alias whose name or
// description intersects the keyword set. Unlike findInputAliasByKeyword,
// it deliberately does not consult the step's own selector tokens: an
// assert step's selector is frequently display-text-shaped (".product-title",
// "#price-display") regardless of which alias it should actually snap to,
// so matching on it would snap to whichever alias happens to be first in
// iteration order rather than leaving the step unmatched.
func findAssertAliasByKeyword(selector string, aliases []model.SiteAlias, keywords map[string]bool) (string, *model.SiteAlias) {
	for i := range aliases {
		alias := &aliases[i]
		nameTokens := extractTokens(alias.Name)
		descTokens := extractTokens(alias.Description)
		if intersectCount(nameTokens, keywords) > 0 || intersectCount(descTokens, keywords) > 0 {
			return alias.Selector, alias
		}
	}
	return selector, nil
}

// findByKeywordScore is the click-specific scorer: weights interactive
// keyword matches heavily, adds a bonus for the "product name clicked
// instead of buy button" pattern, and requires a minimum score.
func findByKeywordScore(selector string, aliases []model.SiteAlias, keywords map[string]bool, keywordWeight, selectorWeight, threshold int) (string, *model.SiteAlias) {
	selectorTokens := extractTokens(selector)
	var best *model.SiteAlias
	bestScore := 0

	looksLikeProductName := (selectorTokens["product"] || selectorTokens["商品"] || selectorTokens["item"]) &&
		(selectorTokens["name"] || selectorTokens["名称"])

	for i := range aliases {
		alias := &aliases[i]
		nameTokens := extractTokens(alias.Name)
		descTokens := extractTokens(alias.Description)

		nameMatches := intersectCount(nameTokens, keywords)
		descMatches := intersectCount(descTokens, keywords)
		score := 0
		if nameMatches > 0 || descMatches > 0 {
			score += keywordWeight * (nameMatches + descMatches)
		}
		if sim := intersectCount(selectorTokens, nameTokens); sim > 0 {
			score += selectorWeight * sim
		}
		if looksLikeProductName && (nameMatches > 0 || descMatches > 0) && isBuyAlias(alias) {
			score += 15
		}
		if score > bestScore {
			bestScore = score
			best = alias
		}
	}

	if best != nil && bestScore > threshold {
		return best.Selector, best
	}
	return selector, nil
}

var buyIndicators = []string{"buy", "purchase", "购买", "buy_list"}

func isBuyAlias(alias *model.SiteAlias) bool {
	nameLower := strings.ToLower(alias.Name)
	descLower := strings.ToLower(alias.Description)
	for _, kw := range buyIndicators {
		if strings.Contains(nameLower, kw) || strings.Contains(descLower, kw) {
			return true
		}
	}
	return false
}

// fallbackJaccardMatch is the generic token-overlap scorer used when no
// operation-specific match was found: 3x weight for selector/selector
// overlap, 2x for selector/name, 1x for selector/description, plus
// step-type hint bonuses. Accepts a match only at score >= 3.
func fallbackJaccardMatch(selector string, step model.ActionStep, aliases []model.SiteAlias) (string, *model.SiteAlias) {
	selectorTokens := extractTokens(selector)
	var best *model.SiteAlias
	bestScore := 0

	for i := range aliases {
		alias := &aliases[i]
		aliasSelectorTokens := extractTokens(alias.Selector)
		aliasNameTokens := extractTokens(alias.Name)
		aliasDescTokens := extractTokens(alias.Description)

		score := 3*intersectCount(selectorTokens, aliasSelectorTokens) +
			2*intersectCount(selectorTokens, aliasNameTokens) +
			intersectCount(selectorTokens, aliasDescTokens)

		switch step.T {
		case model.StepFill:
			if intersectCount(aliasNameTokens, fillKeywords) > 0 || intersectCount(aliasSelectorTokens, fillKeywords) > 0 {
				score += 4
			}
		case model.StepClick:
			if intersectCount(aliasNameTokens, clickKeywords) > 0 || intersectCount(aliasSelectorTokens, clickKeywords) > 0 {
				score += 3
			}
		case model.StepAssert:
			if step.Kind == model.KindTextContains && step.HasValue {
				value := step.Value
				if alias.Description != "" && strings.Contains(alias.Description, value) {
					score += 3
				}
				if strings.HasSuffix(strings.ToLower(alias.Selector), "h1") || strings.Contains(strings.ToLower(alias.Name), "title") {
					score += 1
				}
			}
		}

		if score > bestScore {
			bestScore = score
			best = alias
		}
	}

	if best != nil && bestScore >= 3 {
		return best.Selector, best
	}
	return selector, nil
}
