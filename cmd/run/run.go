// Command run wires the Executor (C8) and Batch Runner (C9) into a
// cobra command, in the teacher's constructor-returns-*Command pattern
// (cmd/nebo/doctor.go).
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/corepilot/corepilot/internal/batch"
	"github.com/corepilot/corepilot/internal/cliexit"
	"github.com/corepilot/corepilot/internal/config"
	"github.com/corepilot/corepilot/internal/executor"
	"github.com/corepilot/corepilot/internal/logging"
	"github.com/corepilot/corepilot/internal/model"
)

var log = logging.WithField("cmd.run")

// RunCmd builds the run command: execute one compiled case (--case), or
// every case under a plan directory (--batch / default when --case is
// omitted), against a freshly-launched browser.
func RunCmd() *cobra.Command {
	var (
		configPath  string
		planDir     string
		caseName    string
		batchMode   bool
		randomSeed  int
		seedSet     bool
		outputPath  string
		headed      bool
		screenshots string
		timeoutMS   int
		summary     bool
		noReport    bool
		count       int
		parallel    int
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a compiled ActionPlan case, or a batch of cases",
		Long: `run executes a compiled ActionPlan against a freshly-launched
browser. With --case it runs exactly one case; with --batch (or no
--case at all) it discovers and runs every case under --plan-dir/cases,
writing a batch summary and Markdown report.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("random-seed") {
				seedSet = true
			}
			return runRun(cmd.Context(), runFlags{
				configPath:  configPath,
				planDir:     planDir,
				caseName:    caseName,
				batchMode:   batchMode,
				randomSeed:  randomSeed,
				seedSet:     seedSet,
				outputPath:  outputPath,
				headed:      headed,
				screenshots: screenshots,
				timeoutMS:   timeoutMS,
				summary:     summary,
				noReport:    noReport,
				count:       count,
				parallel:    parallel,
			})
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to a YAML config file")
	cmd.Flags().StringVar(&planDir, "plan-dir", "", "compiled plan directory (required)")
	cmd.Flags().StringVar(&caseName, "case", "", "run only this one case (by directory/file name under plan-dir/cases)")
	cmd.Flags().BoolVar(&batchMode, "batch", false, "run every case under plan-dir/cases")
	cmd.Flags().IntVar(&randomSeed, "random-seed", 0, "seed a reproducible random sample of cases for batch mode")
	cmd.Flags().StringVar(&outputPath, "output", "", "artifacts output root (default from config)")
	cmd.Flags().BoolVar(&headed, "headed", false, "run with a visible browser window instead of headless")
	cmd.Flags().StringVar(&screenshots, "screenshots", "", "screenshot policy: none | on-failure | all (default from config)")
	cmd.Flags().IntVar(&timeoutMS, "timeout", 0, "default per-step timeout in milliseconds (default from config)")
	cmd.Flags().BoolVar(&summary, "summary", false, "print a human-readable summary after running")
	cmd.Flags().BoolVar(&noReport, "no-report", false, "skip writing test_report.md in batch mode")
	cmd.Flags().IntVar(&count, "count", 0, "batch mode: run a random sample of this many cases (0 = all)")
	cmd.Flags().IntVar(&parallel, "parallel", 1, "batch mode: number of cases to run concurrently, each in its own browser context")

	return cmd
}

type runFlags struct {
	configPath  string
	planDir     string
	caseName    string
	batchMode   bool
	randomSeed  int
	seedSet     bool
	outputPath  string
	headed      bool
	screenshots string
	timeoutMS   int
	summary     bool
	noReport    bool
	count       int
	parallel    int
}

func runRun(ctx context.Context, f runFlags) error {
	if f.planDir == "" {
		return &cliexit.InputError{Message: "--plan-dir is required"}
	}

	cfg, err := config.Load(f.configPath)
	if err != nil {
		return &cliexit.InputError{Message: "failed to load config", Cause: err}
	}

	outputRoot := f.outputPath
	if outputRoot == "" {
		outputRoot = cfg.Paths.OutputRoot
	}

	policy := executor.ScreenshotPolicy(f.screenshots)
	if policy == "" {
		policy = executor.ScreenshotPolicy(cfg.Browser.Screenshots)
	}

	timeoutMS := f.timeoutMS
	if timeoutMS <= 0 {
		timeoutMS = cfg.Browser.DefaultTimeoutMS
	}

	execOpts := executor.Options{
		OutputRoot:       outputRoot,
		Headless:         !f.headed,
		ViewportWidth:    cfg.Browser.ViewportWidth,
		ViewportHeight:   cfg.Browser.ViewportHeight,
		DefaultTimeoutMS: timeoutMS,
		Screenshots:      policy,
	}

	if f.caseName != "" && !f.batchMode {
		return runSingleCase(ctx, f, execOpts)
	}
	return runBatchMode(ctx, f, outputRoot, execOpts)
}

func runSingleCase(ctx context.Context, f runFlags, execOpts executor.Options) error {
	planPath := filepath.Join(f.planDir, "cases", f.caseName, "action_plan.json")
	if _, err := os.Stat(planPath); err != nil {
		alt := filepath.Join(f.planDir, "cases", f.caseName+".json")
		if _, altErr := os.Stat(alt); altErr == nil {
			planPath = alt
		} else {
			return &cliexit.InputError{Message: fmt.Sprintf("case %q not found under %s", f.caseName, f.planDir), Cause: err}
		}
	}

	data, err := os.ReadFile(planPath)
	if err != nil {
		return &cliexit.InputError{Message: "failed to read action_plan.json", Cause: err}
	}
	var plan model.ActionPlan
	if err := json.Unmarshal(data, &plan); err != nil {
		return &cliexit.InputError{Message: "failed to parse action_plan.json", Cause: err}
	}

	result, err := executor.Run(ctx, &plan, execOpts)
	if err != nil {
		return err
	}

	log.Infof("run %s: %s", result.RunID, result.Status)
	if f.summary {
		printRunSummary(result)
	}
	if result.Status != "passed" {
		return &cliexit.CaseFailureError{Failed: 1, Total: 1}
	}
	return nil
}

func runBatchMode(ctx context.Context, f runFlags, outputRoot string, execOpts executor.Options) error {
	var seed *int
	if f.seedSet {
		seed = &f.randomSeed
	}

	result, err := batch.RunBatch(ctx, f.planDir, batch.Options{
		Count:      f.count,
		Seed:       seed,
		OutputRoot: outputRoot,
		Executor:   execOpts,
		NoReport:   f.noReport,
		Parallel:   f.parallel,
	})
	if err != nil {
		return err
	}

	log.Infof("batch %s: %d/%d passed", result.BatchID, result.Passed, result.Total)
	if f.summary {
		printBatchSummary(result)
	}
	if result.Failed > 0 || result.Error > 0 {
		return &cliexit.CaseFailureError{Failed: result.Failed, Errored: result.Error, Total: result.Total}
	}
	return nil
}

func printRunSummary(result *model.RunResult) {
	duration := result.FinishedAt.Sub(result.StartedAt)
	fmt.Printf("%s: %s (%d 步骤, 耗时 %s) -> %s\n",
		result.TestID, result.Status, len(result.Steps), duration.Round(time.Millisecond), result.ArtifactsDir)
}

func printBatchSummary(result *model.BatchResult) {
	fmt.Printf("批次 %s: 总计 %d, 通过 %d, 失败 %d, 异常 %d -> %s\n",
		result.BatchID, result.Total, result.Passed, result.Failed, result.Error, result.ArtifactsDir)
}
