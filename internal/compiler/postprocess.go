package compiler

import (
	"strings"

	"github.com/corepilot/corepilot/internal/model"
)

// appendHasText appends :has-text("value") to selector unless it's
// already present.
func appendHasText(selector, value string) string {
	if strings.Contains(selector, ":has-text(") {
		return selector
	}
	escaped := strings.ReplaceAll(value, `"`, `\"`)
	return selector + `:has-text("` + escaped + `")`
}

var buyButtonIndicators = []string{"buy", "purchase", "购买", "buy_list", "shoppingcart_list"}

func isBuyButtonAlias(alias *model.SiteAlias) bool {
	if alias == nil {
		return false
	}
	nameLower := strings.ToLower(alias.Name)
	descLower := strings.ToLower(alias.Description)
	for _, kw := range buyButtonIndicators {
		if strings.Contains(nameLower, kw) || strings.Contains(descLower, kw) {
			return true
		}
	}
	return false
}

func isImageAssertionStep(step *model.ActionStep, alias *model.SiteAlias) bool {
	if step.T != model.StepAssert || step.Kind != model.KindVisible {
		return false
	}
	if strings.Contains(strings.ToLower(step.Selector), "img") {
		return true
	}
	return alias != nil && strings.Contains(strings.ToLower(alias.Name), "image")
}

var productNameIndicators = map[string]bool{
	"name": true, "title": true, "商品": true, "名称": true, "p": true,
	"h3": true, "h4": true, "h5": true, "h6": true,
}

var textElementIndicators = map[string]bool{"text": true, "content": true, "label": true}

// looksLikeProductNameStep reports whether a click step targets what
// looks like a product-name/title text node rather than an actionable
// button — the bug correctProductTextToBuyButton exists to fix.
func looksLikeProductNameStep(selector string, alias *model.SiteAlias) bool {
	if alias != nil {
		nameLower := strings.ToLower(alias.Name)
		descLower := strings.ToLower(alias.Description)
		for kw := range productNameIndicators {
			if strings.Contains(nameLower, kw) || strings.Contains(descLower, kw) {
				return true
			}
		}
	}
	selectorLower := strings.ToLower(selector)
	for kw := range productNameIndicators {
		if strings.Contains(selectorLower, kw) {
			return true
		}
	}
	for kw := range textElementIndicators {
		if strings.Contains(selectorLower, kw) {
			return true
		}
	}
	return false
}

// correctProductTextToBuyButton implements the "clicked the product name
// instead of the buy button" fix: when a click step targets a
// product-name-shaped text node, retarget it to a buy-button alias. With
// a matched alias, the buy-button alias must be on the same page and
// share at least two selector path segments with it; with no matched
// alias, the first buy-button alias in the list is used.
func correctProductTextToBuyButton(selector string, alias *model.SiteAlias, aliases []model.SiteAlias, valueByAlias map[string]string, lastValue string) (string, *model.SiteAlias, string, bool) {
	if !looksLikeProductNameStep(selector, alias) {
		return "", nil, "", false
	}

	var targetPageID string
	if alias != nil {
		targetPageID = alias.PageID
	}

	for i := range aliases {
		candidate := &aliases[i]
		if !isBuyButtonAlias(candidate) {
			continue
		}
		if targetPageID != "" && candidate.PageID != targetPageID {
			continue
		}
		if alias != nil {
			aliasParts := strings.Fields(alias.Selector)
			candidateParts := strings.Fields(candidate.Selector)
			common := 0
			seen := map[string]bool{}
			for _, p := range aliasParts {
				seen[p] = true
			}
			for _, p := range candidateParts {
				if seen[p] {
					common++
				}
			}
			if common < 2 {
				continue
			}
			value := valueByAlias[alias.Selector]
			if value == "" {
				value = valueByAlias[alias.Name]
			}
			return candidate.Selector, candidate, value, true
		}
		return candidate.Selector, candidate, lastValue, true
	}

	return "", nil, "", false
}

// findRelatedItemAlias finds an "item"/"link" alias whose selector is
// nested under a list alias's selector prefix — used when a click step
// resolved to the list container itself rather than its repeated item.
func findRelatedItemAlias(listAlias *model.SiteAlias, aliases []model.SiteAlias) *model.SiteAlias {
	prefix := strings.TrimRight(listAlias.Selector, " >")
	for i := range aliases {
		alias := &aliases[i]
		if alias == listAlias {
			continue
		}
		nameLower := strings.ToLower(alias.Name)
		if !strings.Contains(nameLower, "item") && !strings.Contains(nameLower, "link") {
			continue
		}
		if prefix != "" && strings.Contains(alias.Selector, prefix) {
			return alias
		}
	}
	return nil
}

// postProcessSteps is post-processing steps 3-4: thread textual context
// between steps (last_value / value_by_alias) and apply the
// product-name-clicked-instead-of-buy-button correction.
func postProcessSteps(plan *model.ActionPlan, matched []*model.SiteAlias, aliases []model.SiteAlias) {
	valueByAlias := map[string]string{}
	lastValue := ""

	for i := range plan.Steps {
		step := &plan.Steps[i]
		if step.Selector == "" {
			continue
		}
		alias := matched[i]

		if step.Kind == model.KindTextContains && step.HasValue {
			value := step.Value
			step.Selector = appendHasText(step.Selector, value)
			lastValue = value
			if alias != nil {
				valueByAlias[alias.Selector] = value
				valueByAlias[alias.Name] = value
			}
			continue
		}

		if step.T == model.StepAssert {
			if isImageAssertionStep(step, alias) {
				step.Value = ""
				step.HasValue = false
				continue
			}
			if step.Kind == model.KindCountEquals || step.Kind == model.KindCountAtLeast {
				if !step.HasValue && lastValue != "" {
					step.Value = lastValue
					step.HasValue = true
				}
				continue
			}
			value := step.Value
			if value == "" && alias != nil {
				value = valueByAlias[alias.Selector]
				if value == "" {
					value = valueByAlias[alias.Name]
				}
			}
			if value == "" {
				value = lastValue
			}
			if value != "" {
				if step.Kind == "" {
					step.Kind = model.KindTextContains
				}
				step.Value = value
				step.HasValue = true
				step.Selector = appendHasText(step.Selector, value)
				lastValue = value
				if alias != nil {
					valueByAlias[alias.Selector] = value
					valueByAlias[alias.Name] = value
				}
			}
			continue
		}

		if step.T == model.StepClick {
			selector := step.Selector
			value := step.Value
			if value == "" && alias != nil {
				value = valueByAlias[alias.Selector]
				if value == "" {
					value = valueByAlias[alias.Name]
				}
				if value == "" && strings.Contains(strings.ToLower(alias.Name), "list") {
					if related := findRelatedItemAlias(alias, aliases); related != nil {
						alias = related
						selector = related.Selector
						value = valueByAlias[related.Selector]
						if value == "" {
							value = valueByAlias[related.Name]
						}
					}
				}
			}
			if value == "" {
				value = lastValue
			}

			if correctedSelector, correctedAlias, correctedValue, ok := correctProductTextToBuyButton(selector, alias, aliases, valueByAlias, lastValue); ok {
				selector, alias, value = correctedSelector, correctedAlias, correctedValue
			}

			if value != "" {
				isBuyButton := isBuyButtonAlias(alias)
				isImageAssertion := isImageAssertionStep(step, alias)

				if isBuyButton || isImageAssertion {
					step.Selector = selector
					if isImageAssertion {
						step.Value = ""
						step.HasValue = false
					}
				} else {
					step.Selector = appendHasText(selector, value)
					if !step.HasValue {
						step.Value = value
						step.HasValue = true
					}
				}

				if alias != nil && !isImageAssertion {
					valueByAlias[alias.Selector] = value
					valueByAlias[alias.Name] = value
				}
			} else {
				step.Selector = selector
			}
		}
	}
}
