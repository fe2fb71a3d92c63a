// Package placeholder implements the Placeholder Processor (C6): it
// finds s_<field>[*N] tokens in a template tree, substitutes them from a
// data row, and accumulates every substitution failure so the Data
// Expander can decide whether a generated case is usable.
package placeholder

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// placeholderPattern matches s_<field>[*N] — field names are Go/Python
// identifiers, the optional multiplier is a bare integer.
var placeholderPattern = regexp.MustCompile(`s_([a-zA-Z_][a-zA-Z0-9_]*)(?:\*(\d+))?`)

var genderTranslations = map[string]string{
	"m":   "男",
	"f":   "女",
	"m,f": "通用",
}

// Match is one placeholder occurrence found in a template string.
type Match struct {
	Placeholder         string
	FieldName           string
	Multiplier          *int
	IsGenderTranslation bool
}

// IsExpression reports whether the placeholder carries a *N multiplier.
func (m Match) IsExpression() bool { return m.Multiplier != nil }

// Error is one failed substitution.
type Error struct {
	ErrorType string // missing_field | translation_error | expression_error | unreplaced_placeholder
	Placeholder string
	FieldName   string
	DataIndex   int
	Message     string
}

// Stats accumulates every Error raised while resolving one data row.
type Stats struct {
	Errors []Error
}

func (s *Stats) record(errType, placeholder, field string, dataIndex int, message string) {
	s.Errors = append(s.Errors, Error{ErrorType: errType, Placeholder: placeholder, FieldName: field, DataIndex: dataIndex, Message: message})
}

// FindAll returns every placeholder occurrence in text, in order.
func FindAll(text string) []Match {
	var matches []Match
	for _, m := range placeholderPattern.FindAllStringSubmatch(text, -1) {
		var multiplier *int
		if m[2] != "" {
			n, _ := strconv.Atoi(m[2])
			multiplier = &n
		}
		matches = append(matches, Match{
			Placeholder:         m[0],
			FieldName:           m[1],
			Multiplier:          multiplier,
			IsGenderTranslation: m[1] == "gender",
		})
	}
	return matches
}

// TranslateGender maps a raw gender code onto its Chinese label.
func TranslateGender(value string) (string, error) {
	translated, ok := genderTranslations[value]
	if !ok {
		return "", fmt.Errorf("未知的性别值: %s", value)
	}
	return translated, nil
}

// ApplyExpression multiplies baseValue by multiplier, returning an
// integer-looking string when the result is integral.
func ApplyExpression(baseValue string, multiplier int) (string, error) {
	num, err := strconv.ParseFloat(baseValue, 64)
	if err != nil {
		return "", fmt.Errorf("无法计算表达式: %s * %d", baseValue, multiplier)
	}
	result := num * float64(multiplier)
	if result == float64(int64(result)) {
		return strconv.FormatInt(int64(result), 10), nil
	}
	return strconv.FormatFloat(result, 'g', -1, 64), nil
}

// replacementValue resolves one placeholder against data, recording an
// Error and returning ("", false) on any failure.
func replacementValue(placeholder Match, data map[string]any, stats *Stats, dataIndex int) (string, bool) {
	candidates := []string{placeholder.FieldName, "s_" + placeholder.FieldName}

	var fieldValue any
	found := false
	for _, field := range candidates {
		if v, ok := data[field]; ok {
			fieldValue = v
			found = true
			break
		}
	}
	if !found {
		stats.record("missing_field", placeholder.Placeholder, placeholder.FieldName, dataIndex,
			fmt.Sprintf("数据项中缺失字段: %s (尝试过: %s)", placeholder.FieldName, strings.Join(candidates, ", ")))
		return "", false
	}

	baseValue := stringify(fieldValue)

	if placeholder.IsGenderTranslation {
		translated, err := TranslateGender(baseValue)
		if err != nil {
			stats.record("translation_error", placeholder.Placeholder, placeholder.FieldName, dataIndex, err.Error())
			return "", false
		}
		return translated, true
	}

	if placeholder.IsExpression() {
		expanded, err := ApplyExpression(baseValue, *placeholder.Multiplier)
		if err != nil {
			stats.record("expression_error", placeholder.Placeholder, placeholder.FieldName, dataIndex, err.Error())
			return "", false
		}
		return expanded, true
	}

	return baseValue, true
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// replaceInText substitutes every placeholder in text from data,
// rescans for anything left unresolved, and reports overall success.
func replaceInText(text string, data map[string]any, stats *Stats, dataIndex int) (string, bool) {
	matches := FindAll(text)
	if len(matches) == 0 {
		return text, true
	}

	result := text
	allSuccess := true
	for _, m := range matches {
		replacement, ok := replacementValue(m, data, stats, dataIndex)
		if !ok {
			allSuccess = false
			continue
		}
		result = strings.Replace(result, m.Placeholder, replacement, 1)
	}

	for _, remaining := range FindAll(result) {
		stats.record("unreplaced_placeholder", remaining.Placeholder, remaining.FieldName, dataIndex,
			fmt.Sprintf("替换后仍存在无法处理的占位符: %s", remaining.Placeholder))
		allSuccess = false
	}

	return result, allSuccess
}

// Resolve recursively substitutes placeholders through a map/slice/string
// tree (as decoded from JSON), returning the rebuilt tree and whether
// every substitution across it succeeded.
func Resolve(obj any, data map[string]any, stats *Stats, dataIndex int) (any, bool) {
	switch v := obj.(type) {
	case map[string]any:
		result := make(map[string]any, len(v))
		allSuccess := true
		for key, value := range v {
			processed, ok := Resolve(value, data, stats, dataIndex)
			result[key] = processed
			allSuccess = allSuccess && ok
		}
		return result, allSuccess

	case []any:
		result := make([]any, len(v))
		allSuccess := true
		for i, item := range v {
			processed, ok := Resolve(item, data, stats, dataIndex)
			result[i] = processed
			allSuccess = allSuccess && ok
		}
		return result, allSuccess

	case string:
		return replaceInText(v, data, stats, dataIndex)

	default:
		return obj, true
	}
}
