package batch

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/corepilot/corepilot/internal/model"
)

func writePlan(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(`{"meta":{"testId":"t","baseUrl":"https://example.com"},"steps":[]}`), 0o644); err != nil {
		t.Fatalf("write plan: %v", err)
	}
}

func TestDiscoverCasesSortedAndBothShapes(t *testing.T) {
	dir := t.TempDir()
	writePlan(t, filepath.Join(dir, "cases", "zzz_case", "action_plan.json"))
	writePlan(t, filepath.Join(dir, "cases", "aaa_case.json"))
	// a directory with no action_plan.json inside should be skipped.
	if err := os.MkdirAll(filepath.Join(dir, "cases", "empty_dir"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	names, err := DiscoverCases(dir)
	if err != nil {
		t.Fatalf("DiscoverCases error: %v", err)
	}
	if len(names) != 2 {
		t.Fatalf("expected 2 cases, got %+v", names)
	}
	if names[0] != "aaa_case" || names[1] != "zzz_case" {
		t.Errorf("expected sorted [aaa_case zzz_case], got %+v", names)
	}
}

func TestDiscoverCasesMissingCasesDir(t *testing.T) {
	if _, err := DiscoverCases(t.TempDir()); err == nil {
		t.Error("expected an error when cases/ is missing")
	}
}

func TestSelectCasesReturnsAllWhenCountZeroOrExceedsLen(t *testing.T) {
	items := []caseItem{{Name: "a"}, {Name: "b"}, {Name: "c"}}
	if got := selectCases(items, 0, nil); len(got) != 3 {
		t.Errorf("count=0 should return all items, got %d", len(got))
	}
	if got := selectCases(items, 10, nil); len(got) != 3 {
		t.Errorf("count>len should return all items, got %d", len(got))
	}
}

func TestSelectCasesSeededIsReproducible(t *testing.T) {
	items := []caseItem{{Name: "a"}, {Name: "b"}, {Name: "c"}, {Name: "d"}, {Name: "e"}}
	seed := 42

	first := selectCases(items, 2, &seed)
	second := selectCases(items, 2, &seed)

	if len(first) != 2 || len(second) != 2 {
		t.Fatalf("expected 2 items each, got %d and %d", len(first), len(second))
	}
	for i := range first {
		if first[i].Name != second[i].Name {
			t.Errorf("same seed produced different samples: %+v vs %+v", first, second)
		}
	}
}

func TestRecordCaseResultTalliesByOutcome(t *testing.T) {
	result := &model.BatchResult{}

	recordCaseResult(result, outcomeLoadFailed, nil)
	if result.Error != 1 {
		t.Errorf("expected Error=1 after load failure, got %d", result.Error)
	}

	recordCaseResult(result, outcomeRunErrored, nil)
	if result.Error != 2 {
		t.Errorf("expected Error=2 after run error, got %d", result.Error)
	}

	recordCaseResult(result, outcomeRan, &model.RunResult{Status: "passed"})
	if result.Passed != 1 || len(result.CaseResults) != 1 {
		t.Errorf("expected Passed=1 and one CaseResult, got Passed=%d len=%d", result.Passed, len(result.CaseResults))
	}

	recordCaseResult(result, outcomeRan, &model.RunResult{Status: "failed"})
	if result.Failed != 1 {
		t.Errorf("expected Failed=1, got %d", result.Failed)
	}
}

func TestWriteBatchSummaryAndReport(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	result := &model.BatchResult{
		BatchID:    "20260102T030405Z_batch_run",
		Total:      2,
		Passed:     1,
		Failed:     1,
		StartedAt:  now,
		FinishedAt: now.Add(5 * time.Second),
		CaseResults: []model.RunResult{
			{TestID: "case_a", Status: "passed", ArtifactsDir: filepath.Join(dir, "case_a")},
			{
				TestID: "case_b", Status: "failed", ArtifactsDir: filepath.Join(dir, "case_b"),
				Steps: []model.StepResult{
					{Index: 1, Status: "passed"},
					{Index: 2, Status: "failed", Error: "验证失败：未能找到指定的DOM元素"},
				},
			},
		},
	}

	if err := writeBatchSummary(dir, result); err != nil {
		t.Fatalf("writeBatchSummary error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "batch_summary.json")); err != nil {
		t.Errorf("expected batch_summary.json to exist: %v", err)
	}

	if err := writeReport(dir, result); err != nil {
		t.Fatalf("writeReport error: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "test_report.md"))
	if err != nil {
		t.Fatalf("read test_report.md: %v", err)
	}
	report := string(data)
	for _, want := range []string{"# 测试执行报告", "## 📊 总体统计", "## ❌ 未通过的用例", "## ✅ 通过的用例", "验证失败：未能找到指定的DOM元素"} {
		if !strings.Contains(report, want) {
			t.Errorf("expected report to contain %q", want)
		}
	}
}
