package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"ci-core/internal/app"
	"ci-core/internal/changes"
	"ci-core/internal/config"
	"ci-core/internal/domain"
	"ci-core/internal/service/pipeline"
	"ci-core/internal/service/report"
	"ci-core/internal/settings"
	"ci-core/internal/workflow"
)

const defaultWorkflowFile = ".cicore/workflow.yaml"

// localFlags configure an in-process pipeline.
type localFlags struct {
	file       string
	repo       string
	dryRun     bool
	maxWorkers int
	timeout    time.Duration
	archiveURL string
	changed    []string
	verbose    bool
}

func (f *localFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.file, "file", "f", defaultWorkflowFile, "Workflow definition file or directory")
	cmd.Flags().StringVar(&f.repo, "repo", ".", "Repository checkout to run in")
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "Log actions instead of executing them")
	cmd.Flags().IntVar(&f.maxWorkers, "max-workers", 4, "Maximum concurrently executing nodes")
	cmd.Flags().DurationVar(&f.timeout, "timeout", time.Hour, "Default per-node timeout")
	cmd.Flags().StringVar(&f.archiveURL, "report-archive", "", "Also archive the report to an s3://, gs://, az:// or file:// prefix")
	cmd.Flags().StringSliceVar(&f.changed, "changed-file", nil, "Treat these paths as the change set instead of diffing with git (repeatable)")
	cmd.Flags().BoolVarP(&f.verbose, "verbose", "v", false, "Log pipeline events to stderr")
}

func (f *localFlags) open(ctx context.Context, stderr io.Writer) (*app.App, error) {
	level := slog.LevelWarn
	if f.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	cfg := &config.Config{
		WorkflowPath:       f.file,
		RepoDir:            f.repo,
		Executor:           "shell",
		MaxWorkers:         f.maxWorkers,
		DefaultNodeTimeout: f.timeout,
		ClassTimeouts:      config.DefaultClassTimeouts(),
		ReportArchiveURL:   f.archiveURL,
	}
	if f.dryRun {
		cfg.Executor = "dry-run"
	}
	if f.archiveURL != "" {
		// Archive credentials come from the same variables the server reads.
		if env, err := config.LoadFromEnv(); err == nil {
			cfg.Archive = env.Archive
		}
	}
	deps := app.Deps{Cfg: cfg, Logger: logger}
	if len(f.changed) > 0 {
		deps.Changes = changes.StaticSource{Files: f.changed}
	}
	return app.New(ctx, deps)
}

func newRunCmd() *cobra.Command {
	var (
		local localFlags
		trig  triggerFlags
	)

	cmd := &cobra.Command{
		Use:   "run <workflow>",
		Short: "Run a workflow locally and print its report",
		Long: "Run a workflow against a local checkout. The report is printed when the run " +
			"finishes and the exit status is non-zero unless the run and its report succeeded.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := local.open(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { _ = a.Shutdown(context.WithoutCancel(ctx)) }()

			asJSON := getOutputFormat(cmd) == "json"
			if !asJSON {
				a.Aggregator.AddSink(report.NewWriterSink(cmd.OutOrStdout()))
			}

			snap, rep, err := a.Pipeline.RunAndReport(ctx, trig.trigger(args[0]))
			if rep == nil {
				if err == nil {
					err = fmt.Errorf("run produced no report")
				}
				return err
			}
			if err != nil {
				_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %v\n", err)
			}

			if asJSON {
				if err := PrintJSON(cmd.OutOrStdout(), map[string]any{"run": snap, "report": rep}); err != nil {
					return err
				}
			}
			if code := rep.ExitCode(); code != 0 {
				return &exitError{code: code}
			}
			return nil
		},
	}

	local.register(cmd)
	trig.register(cmd.Flags())
	return cmd
}

func newPlanCmd() *cobra.Command {
	var (
		local localFlags
		trig  triggerFlags
	)

	cmd := &cobra.Command{
		Use:   "plan <workflow>",
		Short: "Show the execution levels a trigger would run, without running anything",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := local.open(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { _ = a.Shutdown(context.WithoutCancel(cmd.Context())) }()

			plan, err := a.Pipeline.Plan(cmd.Context(), trig.trigger(args[0]))
			if err != nil {
				return err
			}
			if getOutputFormat(cmd) == "json" {
				return PrintJSON(cmd.OutOrStdout(), plan)
			}
			printPlan(cmd.OutOrStdout(), plan)
			return nil
		},
	}

	local.register(cmd)
	trig.register(cmd.Flags())
	return cmd
}

func printPlan(w io.Writer, plan *pipeline.Plan) {
	_, _ = fmt.Fprintf(w, "Workflow %s (concurrency key %s)\n", plan.Workflow, plan.ConcurrencyKey)
	for _, warn := range plan.Warnings {
		_, _ = fmt.Fprintf(w, "Warning: %s\n", warn)
	}
	if len(plan.Flags) > 0 {
		names := make([]string, 0, len(plan.Flags))
		for name := range plan.Flags {
			names = append(names, name)
		}
		sort.Strings(names)
		parts := make([]string, len(names))
		for i, name := range names {
			parts[i] = name + "=" + strconv.FormatBool(plan.Flags[name])
		}
		suffix := ""
		if plan.FlagsUnresolved {
			suffix = " (unresolved)"
		}
		_, _ = fmt.Fprintf(w, "Flags: %s%s\n", strings.Join(parts, " "), suffix)
	}
	rows := make([][]string, len(plan.Levels))
	for i, level := range plan.Levels {
		rows[i] = []string{strconv.Itoa(i), strings.Join(level, ", ")}
	}
	PrintTable(w, []string{"level", "nodes"}, rows)
}

func newValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [file...]",
		Short: "Check workflow definitions for structural and graph errors",
		Long: "Validate workflow definitions. Configuration queries resolve to their defaults " +
			"and every change filter is assumed to exist, so matrix expansion and reference " +
			"checks run without a checkout.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				args = []string{defaultWorkflowFile}
			}

			type result struct {
				File     string `json:"file"`
				Workflow string `json:"workflow,omitempty"`
				Nodes    int    `json:"nodes,omitempty"`
				Error    string `json:"error,omitempty"`
			}
			results := make([]result, 0, len(args))
			failed := 0
			for _, path := range args {
				res := result{File: path}
				wf, g, err := checkWorkflow(path)
				if err != nil {
					res.Error = err.Error()
					failed++
				} else {
					res.Workflow = wf.Name
					res.Nodes = g.Len()
				}
				results = append(results, res)
			}

			if getOutputFormat(cmd) == "json" {
				if err := PrintJSON(cmd.OutOrStdout(), results); err != nil {
					return err
				}
			} else {
				rows := make([][]string, len(results))
				for i, r := range results {
					status := "ok"
					if r.Error != "" {
						status = r.Error
					}
					rows[i] = []string{r.File, r.Workflow, strconv.Itoa(r.Nodes), status}
				}
				PrintTable(cmd.OutOrStdout(), []string{"file", "workflow", "nodes", "status"}, rows)
			}
			if failed > 0 {
				return &exitError{code: 1}
			}
			return nil
		},
	}
	return cmd
}

// checkWorkflow loads path and builds its graph with every configuration
// query answered by its default.
func checkWorkflow(path string) (*domain.Workflow, *pipeline.Graph, error) {
	wf, err := workflow.LoadFile(path)
	if err != nil {
		return nil, nil, err
	}
	queries := make([]domain.ConfigQuery, len(wf.Config.Queries))
	for i, q := range wf.Config.Queries {
		q.Required = false
		queries[i] = q
	}
	set, err := settings.Query(nil, queries)
	if err != nil {
		return nil, nil, err
	}
	filters := make([]string, 0, len(wf.Changes.Filters))
	for name := range wf.Changes.Filters {
		filters = append(filters, name)
	}
	sort.Strings(filters)
	g, err := pipeline.Build(wf, pipeline.BuildInputs{Settings: set, Filters: filters})
	if err != nil {
		return nil, nil, err
	}
	return wf, g, nil
}
