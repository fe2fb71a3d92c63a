// Package expander implements the Data Expander (C7): it applies the
// Placeholder Processor over an entire template ActionPlan once per row
// of a Dataset, producing N concrete plans and a record of every
// substitution failure along the way.
package expander

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/corepilot/corepilot/internal/atomicfile"
	"github.com/corepilot/corepilot/internal/model"
	"github.com/corepilot/corepilot/internal/placeholder"
)

// Stats totals the outcome of one Expand call, per spec.md §4.7's
// stats.json (totals, per-error-type counts).
type Stats struct {
	Total         int            `json:"total"`
	Accepted      int            `json:"accepted"`
	Failed        int            `json:"failed"`
	ErrorsByType  map[string]int `json:"errors_by_type,omitempty"`
}

// RowError is one placeholder.Error tagged with the row it came from,
// the shape errors.json persists.
type RowError struct {
	RowIndex    int    `json:"row_index"`
	ErrorType   string `json:"error_type"`
	Placeholder string `json:"placeholder"`
	FieldName   string `json:"field_name"`
	Message     string `json:"message"`
}

// Case is one accepted, fully-substituted plan.
type Case struct {
	Plan     *model.ActionPlan
	RowIndex int
}

// Result is everything Expand produces.
type Result struct {
	Template *model.ActionPlan
	Cases    []Case
	Stats    Stats
	Errors   []RowError
}

// Expand deep-copies templatePlan once per dataset row, substitutes
// placeholders via internal/placeholder, and accepts only the rows
// where every substitution succeeded. categoryKey, if non-empty,
// restricts expansion to that one Dataset category; empty expands every
// row across every category, in category-then-row order.
func Expand(templatePlan *model.ActionPlan, dataset *model.Dataset, categoryKey, testIDBase, baseURL string) (*Result, error) {
	rows, err := selectRows(dataset, categoryKey)
	if err != nil {
		return nil, err
	}

	result := &Result{Template: templatePlan, Stats: Stats{ErrorsByType: map[string]int{}}}

	for i, row := range rows {
		result.Stats.Total++

		clone, err := deepCopy(templatePlan)
		if err != nil {
			return nil, fmt.Errorf("deep-copy template for row %d: %w", i, err)
		}

		stats := &placeholder.Stats{}
		raw, err := toGeneric(clone)
		if err != nil {
			return nil, fmt.Errorf("decode template for row %d: %w", i, err)
		}
		substituted, ok := placeholder.Resolve(raw, row, stats, i)

		for _, e := range stats.Errors {
			result.Errors = append(result.Errors, RowError{
				RowIndex:    i,
				ErrorType:   e.ErrorType,
				Placeholder: e.Placeholder,
				FieldName:   e.FieldName,
				Message:     e.Message,
			})
			result.Stats.ErrorsByType[e.ErrorType]++
		}

		if !ok {
			result.Stats.Failed++
			continue
		}

		plan, err := fromGeneric(substituted)
		if err != nil {
			return nil, fmt.Errorf("re-encode substituted plan for row %d: %w", i, err)
		}

		plan.Meta.TestID = fmt.Sprintf("%s_%03d", testIDBase, i+1)
		plan.Meta.DataSource = fmt.Sprintf("dataset#%d", i)
		if baseURL != "" {
			plan.Meta.BaseURL = baseURL
		}

		result.Stats.Accepted++
		result.Cases = append(result.Cases, Case{Plan: plan, RowIndex: i})
	}

	return result, nil
}

func selectRows(dataset *model.Dataset, categoryKey string) ([]model.DatasetRow, error) {
	if dataset == nil {
		return nil, fmt.Errorf("dataset is required")
	}
	var rows []model.DatasetRow
	for _, cat := range dataset.Categories {
		if categoryKey != "" && cat.CategoryKey != categoryKey {
			continue
		}
		rows = append(rows, cat.Items...)
	}
	return rows, nil
}

func deepCopy(plan *model.ActionPlan) (*model.ActionPlan, error) {
	data, err := json.Marshal(plan)
	if err != nil {
		return nil, err
	}
	var clone model.ActionPlan
	if err := json.Unmarshal(data, &clone); err != nil {
		return nil, err
	}
	return &clone, nil
}

func toGeneric(plan *model.ActionPlan) (any, error) {
	data, err := json.Marshal(plan)
	if err != nil {
		return nil, err
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func fromGeneric(v any) (*model.ActionPlan, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var plan model.ActionPlan
	if err := json.Unmarshal(data, &plan); err != nil {
		return nil, err
	}
	return &plan, nil
}

// Store persists a Result under outputDir: the template, stats.json,
// errors.json (only if there were any), and one case_NNN_<ts>.json per
// accepted case.
func Store(outputDir string, result *Result) error {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return err
	}

	templateData, err := json.MarshalIndent(result.Template, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal template: %w", err)
	}
	if err := atomicfile.Write(filepath.Join(outputDir, "template.json"), templateData, 0o644); err != nil {
		return fmt.Errorf("write template.json: %w", err)
	}

	statsData, err := json.MarshalIndent(result.Stats, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal stats: %w", err)
	}
	if err := atomicfile.Write(filepath.Join(outputDir, "stats.json"), statsData, 0o644); err != nil {
		return fmt.Errorf("write stats.json: %w", err)
	}

	if len(result.Errors) > 0 {
		errorsData, err := json.MarshalIndent(result.Errors, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal errors: %w", err)
		}
		if err := atomicfile.Write(filepath.Join(outputDir, "errors.json"), errorsData, 0o644); err != nil {
			return fmt.Errorf("write errors.json: %w", err)
		}
	}

	timestamp := time.Now().UTC().Format("20060102T150405Z")
	for _, c := range result.Cases {
		data, err := json.MarshalIndent(c.Plan, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal case %d: %w", c.RowIndex, err)
		}
		name := fmt.Sprintf("case_%03d_%s.json", c.RowIndex+1, timestamp)
		if err := atomicfile.Write(filepath.Join(outputDir, name), data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
	}

	return nil
}
