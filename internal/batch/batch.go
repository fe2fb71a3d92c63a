// Package batch implements the Batch Runner (C9): it discovers every
// case under a compiled plan directory, runs each one through the
// Executor, and writes a machine-readable summary plus a Markdown
// report.
package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/corepilot/corepilot/internal/atomicfile"
	"github.com/corepilot/corepilot/internal/executor"
	"github.com/corepilot/corepilot/internal/logging"
	"github.com/corepilot/corepilot/internal/model"
)

var log = logging.WithField("batch")

// Options configures one RunBatch call.
type Options struct {
	Count      int // 0 = run every discovered case
	Seed       *int
	OutputRoot string
	Executor   executor.Options
	NoReport   bool // skip writing test_report.md, keep batch_summary.json
	Parallel   int  // >1 runs cases concurrently, each with its own browser context; 0 or 1 runs sequentially
}

// caseItem is one discovered case: Name is the directory/file stem,
// PlanPath is the action_plan.json to load.
type caseItem struct {
	Name     string
	PlanPath string
}

// DiscoverCases finds every runnable case under planDir/cases: either a
// subdirectory containing action_plan.json, or a *.json file directly.
// Results are sorted by name for a stable run order.
func DiscoverCases(planDir string) ([]string, error) {
	items, err := discoverCases(planDir)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(items))
	for i, it := range items {
		names[i] = it.Name
	}
	return names, nil
}

func discoverCases(planDir string) ([]caseItem, error) {
	casesDir := filepath.Join(planDir, "cases")
	entries, err := os.ReadDir(casesDir)
	if err != nil {
		return nil, fmt.Errorf("cases directory not found: %w", err)
	}

	var items []caseItem
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			planPath := filepath.Join(casesDir, name, "action_plan.json")
			if _, err := os.Stat(planPath); err == nil {
				items = append(items, caseItem{Name: name, PlanPath: planPath})
			}
			continue
		}
		if strings.HasSuffix(name, ".json") {
			items = append(items, caseItem{
				Name:     strings.TrimSuffix(name, ".json"),
				PlanPath: filepath.Join(casesDir, name),
			})
		}
	}

	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	return items, nil
}

// selectCases applies an optional seeded random sample of count items;
// count <= 0 or count >= len(items) runs every case.
func selectCases(items []caseItem, count int, seed *int) []caseItem {
	if count <= 0 || count >= len(items) {
		return items
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	if seed != nil {
		rng = rand.New(rand.NewSource(int64(*seed)))
	}

	shuffled := make([]caseItem, len(items))
	copy(shuffled, items)
	rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
	return shuffled[:count]
}

func buildBatchID() string {
	return fmt.Sprintf("%s_batch_run", time.Now().UTC().Format("20060102T150405Z"))
}

// RunBatch discovers and executes every case under planDir/cases (or a
// seeded random sample of opts.Count of them), writing per-case
// artifacts, batch_summary.json and test_report.md under
// opts.OutputRoot/<batch_id>/.
func RunBatch(ctx context.Context, planDir string, opts Options) (*model.BatchResult, error) {
	batchID := buildBatchID()
	batchDir := filepath.Join(opts.OutputRoot, batchID)
	if err := os.MkdirAll(batchDir, 0o755); err != nil {
		return nil, fmt.Errorf("create batch dir: %w", err)
	}

	result := &model.BatchResult{
		BatchID:      batchID,
		ArtifactsDir: batchDir,
		StartedAt:    time.Now().UTC(),
	}

	items, err := discoverCases(planDir)
	if err != nil {
		return nil, err
	}
	items = selectCases(items, opts.Count, opts.Seed)
	result.Total = len(items)

	log.Infof("running %d cases in batch %s", result.Total, batchID)

	if opts.Parallel > 1 {
		runParallel(ctx, items, batchDir, opts, result)
	} else {
		runSequential(ctx, items, batchDir, opts, result)
	}

	result.FinishedAt = time.Now().UTC()

	if err := writeBatchSummary(batchDir, result); err != nil {
		return nil, fmt.Errorf("write batch_summary.json: %w", err)
	}
	if !opts.NoReport {
		if err := writeReport(batchDir, result); err != nil {
			return nil, fmt.Errorf("write test_report.md: %w", err)
		}
	}

	return result, nil
}

// runSequential runs every case one after another, in discovery order.
func runSequential(ctx context.Context, items []caseItem, batchDir string, opts Options, result *model.BatchResult) {
	for i, item := range items {
		log.Infof("[%d/%d] running: %s", i+1, len(items), item.Name)
		status, caseResult := runOneCase(ctx, item, batchDir, opts)
		recordCaseResult(result, status, caseResult)
	}
}

// runParallel runs up to opts.Parallel cases concurrently. Each case
// gets its own Executor.Run call, and therefore its own ephemeral
// browser context, so cases never share browser state — the
// "isolated browser context per case" precondition spec.md §5 names
// for parallelizing across cases.
func runParallel(ctx context.Context, items []caseItem, batchDir string, opts Options, result *model.BatchResult) {
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Parallel)

	for i, item := range items {
		item := item
		index := i
		g.Go(func() error {
			log.Infof("[%d/%d] running: %s", index+1, len(items), item.Name)
			status, caseResult := runOneCase(gctx, item, batchDir, opts)
			mu.Lock()
			recordCaseResult(result, status, caseResult)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
}

// caseOutcome classifies how one case finished, for recordCaseResult's
// tally independent of whether a *model.RunResult was produced.
type caseOutcome string

const (
	outcomeLoadFailed caseOutcome = "load_failed"
	outcomeRunErrored caseOutcome = "run_errored"
	outcomeRan        caseOutcome = "ran"
)

func runOneCase(ctx context.Context, item caseItem, batchDir string, opts Options) (caseOutcome, *model.RunResult) {
	plan, err := loadPlan(item.PlanPath)
	if err != nil {
		log.Warnf("case %s failed to load: %v", item.Name, err)
		return outcomeLoadFailed, nil
	}

	caseOpts := opts.Executor
	caseOpts.ArtifactsDir = filepath.Join(batchDir, item.Name)

	caseResult, err := executor.Run(ctx, plan, caseOpts)
	if err != nil {
		log.Warnf("case %s raised an error: %v", item.Name, err)
		return outcomeRunErrored, nil
	}
	return outcomeRan, caseResult
}

func recordCaseResult(result *model.BatchResult, outcome caseOutcome, caseResult *model.RunResult) {
	if outcome != outcomeRan {
		result.Error++
		return
	}
	result.CaseResults = append(result.CaseResults, *caseResult)
	switch caseResult.Status {
	case "passed":
		result.Passed++
	case "failed":
		result.Failed++
	default:
		result.Error++
	}
}

func loadPlan(path string) (*model.ActionPlan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var plan model.ActionPlan
	if err := json.Unmarshal(data, &plan); err != nil {
		return nil, err
	}
	return &plan, nil
}

type summaryCase struct {
	TestID       string `json:"test_id"`
	Status       string `json:"status"`
	StepsPassed  int    `json:"steps_passed"`
	StepsTotal   int    `json:"steps_total"`
	ArtifactsDir string `json:"artifacts_dir"`
}

type batchSummary struct {
	BatchID     string        `json:"batch_id"`
	Total       int           `json:"total"`
	Passed      int           `json:"passed"`
	Failed      int           `json:"failed"`
	Error       int           `json:"error"`
	SuccessRate float64       `json:"success_rate"`
	StartedAt   string        `json:"started_at"`
	FinishedAt  string        `json:"finished_at"`
	Cases       []summaryCase `json:"cases"`
}

func writeBatchSummary(batchDir string, result *model.BatchResult) error {
	summary := batchSummary{
		BatchID:    result.BatchID,
		Total:      result.Total,
		Passed:     result.Passed,
		Failed:     result.Failed,
		Error:      result.Error,
		StartedAt:  result.StartedAt.Format(time.RFC3339),
		FinishedAt: result.FinishedAt.Format(time.RFC3339),
	}
	if result.Total > 0 {
		summary.SuccessRate = float64(result.Passed) / float64(result.Total) * 100
	}
	for _, r := range result.CaseResults {
		passed := 0
		for _, s := range r.Steps {
			if s.Status == "passed" {
				passed++
			}
		}
		summary.Cases = append(summary.Cases, summaryCase{
			TestID:       r.TestID,
			Status:       r.Status,
			StepsPassed:  passed,
			StepsTotal:   len(r.Steps),
			ArtifactsDir: r.ArtifactsDir,
		})
	}

	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return err
	}
	return atomicfile.Write(filepath.Join(batchDir, "batch_summary.json"), data, 0o644)
}

// writeReport renders test_report.md, in the shape of a hand-written
// execution report: overall stats table, a failed-cases table with
// each case's first failure, and a passed-cases table.
func writeReport(batchDir string, result *model.BatchResult) error {
	var b strings.Builder

	duration := result.FinishedAt.Sub(result.StartedAt).Seconds()

	fmt.Fprintf(&b, "# 测试执行报告\n\n")
	fmt.Fprintf(&b, "**批次ID**: `%s`  \n", result.BatchID)
	fmt.Fprintf(&b, "**执行时间**: %s - %s  \n",
		result.StartedAt.Format("2006-01-02 15:04:05"), result.FinishedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "**总时长**: %.2f秒  \n\n", duration)

	fmt.Fprintf(&b, "## 📊 总体统计\n\n")
	fmt.Fprintf(&b, "| 指标 | 数值 |\n")
	fmt.Fprintf(&b, "|------|------|\n")
	fmt.Fprintf(&b, "| 总测试用例数 | %d |\n", result.Total)
	fmt.Fprintf(&b, "| ✅ 通过 | %d |\n", result.Passed)
	fmt.Fprintf(&b, "| ❌ 失败 | %d |\n", result.Failed)
	fmt.Fprintf(&b, "| ⚠️ 异常 | %d |\n", result.Error)
	if result.Total > 0 {
		fmt.Fprintf(&b, "| 成功率 | %.1f%% |\n", float64(result.Passed)/float64(result.Total)*100)
		fmt.Fprintf(&b, "| 总执行时长 | %.2f秒 |\n", duration)
		fmt.Fprintf(&b, "| 平均每用例时长 | %.2f秒 |\n\n", duration/float64(result.Total))
	} else {
		fmt.Fprintf(&b, "| 成功率 | N/A |\n\n")
	}

	var failed, passed []model.RunResult
	for _, r := range result.CaseResults {
		if r.Status == "failed" {
			failed = append(failed, r)
		} else if r.Status == "passed" {
			passed = append(passed, r)
		}
	}

	if len(failed) > 0 {
		fmt.Fprintf(&b, "## ❌ 未通过的用例\n\n")
		fmt.Fprintf(&b, "| Case ID | 结果目录 | 执行时长 | 通过步骤 | 失败步骤 | 错误信息 |\n")
		fmt.Fprintf(&b, "|---------|----------|----------|----------|----------|----------|\n")
		for _, r := range failed {
			caseID := filepath.Base(r.ArtifactsDir)
			caseDuration := r.FinishedAt.Sub(r.StartedAt).Seconds()
			passedSteps := 0
			var firstFailureStep int = -1
			var firstFailureMessage string
			for _, s := range r.Steps {
				if s.Status == "passed" {
					passedSteps++
				} else if firstFailureStep == -1 {
					firstFailureStep = s.Index
					firstFailureMessage = s.Error
				}
			}
			failureStep := "N/A"
			if firstFailureStep != -1 {
				failureStep = fmt.Sprintf("步骤%d", firstFailureStep)
			}
			if firstFailureMessage == "" {
				firstFailureMessage = "未知错误"
			}
			fmt.Fprintf(&b, "| `%s` | `%s` | %.2f秒 | %d/%d | %s | %s |\n",
				caseID, r.ArtifactsDir, caseDuration, passedSteps, len(r.Steps), failureStep, firstFailureMessage)
		}
		fmt.Fprintf(&b, "\n")
	}

	if len(passed) > 0 {
		fmt.Fprintf(&b, "## ✅ 通过的用例\n\n")
		fmt.Fprintf(&b, "| Case ID | 执行时长 | 通过步骤 |\n")
		fmt.Fprintf(&b, "|---------|----------|----------|\n")
		for _, r := range passed {
			caseID := filepath.Base(r.ArtifactsDir)
			caseDuration := r.FinishedAt.Sub(r.StartedAt).Seconds()
			fmt.Fprintf(&b, "| `%s` | %.2f秒 | %d/%d |\n", caseID, caseDuration, len(r.Steps), len(r.Steps))
		}
		fmt.Fprintf(&b, "\n")
	}

	fmt.Fprintf(&b, "---\n\n")
	fmt.Fprintf(&b, "*报告生成时间: %s*\n", time.Now().UTC().Format("2006-01-02 15:04:05 UTC"))

	return atomicfile.Write(filepath.Join(batchDir, "test_report.md"), []byte(b.String()), 0o644)
}
