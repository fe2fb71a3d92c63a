// Command compile wires the Plan Compiler (C5), Data Expander (C7) and
// their ambient dependencies (config, LLM client, site profile) into a
// cobra command, in the teacher's constructor-returns-*Command pattern
// (cmd/nebo/doctor.go).
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/xeipuuv/gojsonschema"

	"github.com/corepilot/corepilot/internal/cliexit"
	"github.com/corepilot/corepilot/internal/compiler"
	"github.com/corepilot/corepilot/internal/config"
	"github.com/corepilot/corepilot/internal/expander"
	"github.com/corepilot/corepilot/internal/llm"
	"github.com/corepilot/corepilot/internal/logging"
	"github.com/corepilot/corepilot/internal/model"
	"github.com/corepilot/corepilot/internal/profile"
	"github.com/corepilot/corepilot/internal/schema"
	"github.com/corepilot/corepilot/internal/testrequest"
)

var log = logging.WithField("cmd.compile")

// CompileCmd builds the compile command: turn a TestRequest Markdown
// document plus a Site Profile into a validated, persisted ActionPlan,
// either through the LLM repair loop or, with --skip-llm, by expanding
// a pre-authored template plan against a dataset.
func CompileCmd() *cobra.Command {
	var (
		configPath      string
		requestPath     string
		profilePath     string
		schemaPath      string
		outputRoot      string
		planName        string
		caseName        string
		attempts        int
		temperature     float64
		apiTimeoutS     float64
		datasetPath     string
		datasetCategory string
		skipLLM         bool
		outputStats     bool
		summary         bool
	)

	cmd := &cobra.Command{
		Use:   "compile",
		Short: "Compile a natural-language test request into an ActionPlan",
		Long: `compile turns a TestRequest Markdown document and a Site Profile
into a validated ActionPlan JSON document, either by prompting an LLM
through a repair loop against the DSL schema, or (with --skip-llm) by
expanding a pre-authored template plan against a dataset file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(cmd.Context(), compileFlags{
				configPath:      configPath,
				requestPath:     requestPath,
				profilePath:     profilePath,
				schemaPath:      schemaPath,
				outputRoot:      outputRoot,
				planName:        planName,
				caseName:        caseName,
				attempts:        attempts,
				temperature:     temperature,
				apiTimeoutS:     apiTimeoutS,
				datasetPath:     datasetPath,
				datasetCategory: datasetCategory,
				skipLLM:         skipLLM,
				outputStats:     outputStats,
				summary:         summary,
			})
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to a YAML config file")
	cmd.Flags().StringVar(&requestPath, "request", "", "path to the TestRequest Markdown document (required)")
	cmd.Flags().StringVar(&profilePath, "profile", "", "path to the Site Profile JSON document")
	cmd.Flags().StringVar(&schemaPath, "schema", "", "path to a custom ActionPlan JSON Schema, overriding the built-in one")
	cmd.Flags().StringVar(&outputRoot, "output-root", "", "directory compiled plans are written under")
	cmd.Flags().StringVar(&planName, "plan-name", "", "plan directory name (default: <timestamp>_llm_plan)")
	cmd.Flags().StringVar(&caseName, "case-name", "", "case directory name (default: case_<test_id in lower case>)")
	cmd.Flags().IntVar(&attempts, "attempts", 0, "max repair-loop attempts (default from config)")
	cmd.Flags().Float64Var(&temperature, "temperature", -1, "LLM sampling temperature (default from config)")
	cmd.Flags().Float64Var(&apiTimeoutS, "api-timeout", 0, "LLM call timeout in seconds (default from config)")
	cmd.Flags().StringVar(&datasetPath, "dataset", "", "dataset JSON file, for --skip-llm data-driven expansion")
	cmd.Flags().StringVar(&datasetCategory, "dataset-category", "", "dataset category key to expand (empty expands every category)")
	cmd.Flags().BoolVar(&skipLLM, "skip-llm", false, "bypass the LLM and expand --request's template plan against --dataset directly")
	cmd.Flags().BoolVar(&outputStats, "output-stats", false, "print a JSON stats block after compiling")
	cmd.Flags().BoolVar(&summary, "summary", false, "print a human-readable summary after compiling")

	return cmd
}

type compileFlags struct {
	configPath      string
	requestPath     string
	profilePath     string
	schemaPath      string
	outputRoot      string
	planName        string
	caseName        string
	attempts        int
	temperature     float64
	apiTimeoutS     float64
	datasetPath     string
	datasetCategory string
	skipLLM         bool
	outputStats     bool
	summary         bool
}

func runCompile(ctx context.Context, f compileFlags) error {
	if f.requestPath == "" {
		return &cliexit.InputError{Message: "--request is required"}
	}

	cfg, err := config.Load(f.configPath)
	if err != nil {
		return &cliexit.InputError{Message: "failed to load config", Cause: err}
	}

	outputRoot := f.outputRoot
	if outputRoot == "" {
		outputRoot = cfg.Paths.PlanRoot
	}

	if f.skipLLM {
		return runSkipLLM(f, outputRoot)
	}

	request, err := testrequest.Parse(f.requestPath)
	if err != nil {
		return &cliexit.InputError{Message: "failed to parse test request", Cause: err}
	}

	profilePath := f.profilePath
	if profilePath == "" {
		profilePath = cfg.Paths.ProfilePath
	}
	siteProfile, err := profile.LoadProfile(profilePath)
	if err != nil {
		return err
	}

	var schemaLoader gojsonschema.JSONLoader
	if f.schemaPath != "" {
		schemaLoader, err = schema.LoadCustomSchema(f.schemaPath)
		if err != nil {
			return &cliexit.InputError{Message: "failed to load custom schema", Cause: err}
		}
	}

	client, err := llm.New(cfg)
	if err != nil {
		return &cliexit.InputError{Message: "failed to build LLM client", Cause: err}
	}

	attempts := f.attempts
	if attempts <= 0 {
		attempts = cfg.LLM.MaxAttempts
	}
	temperature := f.temperature
	if temperature < 0 {
		temperature = cfg.LLM.Temperature
	}
	apiTimeoutS := f.apiTimeoutS
	if apiTimeoutS <= 0 {
		apiTimeoutS = llm.ResolveTimeout(cfg)
	}

	result, err := compiler.Compile(ctx, client, request, siteProfile, compiler.Options{
		MaxAttempts: attempts,
		Temperature: temperature,
		PlanName:    f.planName,
		CaseName:    f.caseName,
		PlanRoot:    outputRoot,
		Model:       cfg.LLM.Model,
		Timeout:     time.Duration(apiTimeoutS * float64(time.Second)),
		SchemaLoader: schemaLoader,
	})
	if err != nil {
		return err
	}

	log.Infof("compiled %s -> %s", result.TestID, result.CaseDir)
	printCompileOutcome(result.TestID, result.CaseDir, len(result.Plan.Steps), f.outputStats, f.summary)
	return nil
}

func printCompileOutcome(testID, caseDir string, stepCount int, outputStats, summary bool) {
	if outputStats {
		stats := map[string]any{
			"test_id":    testID,
			"case_dir":   caseDir,
			"step_count": stepCount,
		}
		data, _ := json.MarshalIndent(stats, "", "  ")
		fmt.Println(string(data))
	}
	if summary {
		fmt.Printf("已编译: %s (%d 个步骤) -> %s\n", testID, stepCount, caseDir)
	}
}

func runSkipLLM(f compileFlags, outputRoot string) error {
	if f.datasetPath == "" {
		return &cliexit.InputError{Message: "--skip-llm requires --dataset"}
	}

	templateData, err := os.ReadFile(f.requestPath)
	if err != nil {
		return &cliexit.InputError{Message: "failed to read template plan", Cause: err}
	}
	var templatePlan model.ActionPlan
	if err := json.Unmarshal(templateData, &templatePlan); err != nil {
		return &cliexit.InputError{Message: "--request must be a JSON ActionPlan template when --skip-llm is set", Cause: err}
	}

	datasetData, err := os.ReadFile(f.datasetPath)
	if err != nil {
		return &cliexit.InputError{Message: "failed to read dataset", Cause: err}
	}
	var dataset model.Dataset
	if err := json.Unmarshal(datasetData, &dataset); err != nil {
		return &cliexit.InputError{Message: "failed to parse dataset JSON", Cause: err}
	}

	result, err := expander.Expand(&templatePlan, &dataset, f.datasetCategory, templatePlan.Meta.TestID, templatePlan.Meta.BaseURL)
	if err != nil {
		return &cliexit.InputError{Message: "data expansion failed", Cause: err}
	}

	if err := expander.Store(outputRoot, result); err != nil {
		return err
	}

	log.Infof("expanded %d cases into %s", len(result.Cases), outputRoot)
	if f.outputStats {
		data, _ := json.MarshalIndent(result.Stats, "", "  ")
		fmt.Println(string(data))
	}
	if f.summary {
		fmt.Printf("已生成 %d 个测试用例 -> %s\n", len(result.Cases), outputRoot)
	}
	return nil
}
