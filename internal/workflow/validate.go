package workflow

import (
	"fmt"
	"regexp"
	"time"

	"github.com/robfig/cron/v3"

	"ci-core/internal/domain"
)

// Problem is a single validation finding.
type Problem struct {
	Path    string // e.g. "job[build]" or "report.thresholds[0]"
	Message string
}

func (p Problem) Error() string {
	if p.Path != "" {
		return fmt.Sprintf("%s: %s", p.Path, p.Message)
	}
	return p.Message
}

// jobNamePattern excludes '[' and ']', which are reserved for matrix
// instance names.
var jobNamePattern = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_.-]*$`)

var validQueryKinds = map[domain.QueryKind]bool{
	domain.QueryAny:    true,
	domain.QueryScalar: true,
	domain.QueryList:   true,
	domain.QueryObject: true,
}

// Validate checks a decoded workflow for structural problems. Cycles are
// reported by graph construction, not here.
func Validate(wf *domain.Workflow) []Problem {
	var errs []Problem

	if wf.Name == "" {
		addErr(&errs, "", "name is required")
	}
	if len(wf.Jobs) == 0 {
		addErr(&errs, "", "at least one job is required")
	}

	queries := validateConfig(wf.Config, &errs)
	validateChanges(wf.Changes, &errs)
	validateSchedules(wf.Schedules, &errs)
	validateTimeouts(wf.Timeouts, &errs)
	jobs := validateJobs(wf.Jobs, queries, &errs)
	validateReport(wf.Report, jobs, &errs)

	return errs
}

func addErr(errs *[]Problem, path, msg string, args ...any) {
	*errs = append(*errs, Problem{Path: path, Message: fmt.Sprintf(msg, args...)})
}

func validateConfig(spec domain.ConfigSpec, errs *[]Problem) map[string]domain.ConfigQuery {
	queries := make(map[string]domain.ConfigQuery, len(spec.Queries))
	if len(spec.Queries) > 0 && spec.Path == "" {
		addErr(errs, "config", "path is required when queries are declared")
	}
	for i, q := range spec.Queries {
		path := fmt.Sprintf("config.queries[%d]", i)
		if q.Name == "" {
			addErr(errs, path, "name is required")
			continue
		}
		path = fmt.Sprintf("config.queries[%s]", q.Name)
		if q.Path == "" {
			addErr(errs, path, "path is required")
		}
		if !validQueryKinds[q.Kind] {
			addErr(errs, path, "unknown kind %q (expected scalar, list or object)", q.Kind)
		}
		if _, dup := queries[q.Name]; dup {
			addErr(errs, path, "duplicate query name %q", q.Name)
		}
		queries[q.Name] = q
	}
	return queries
}

func validateChanges(spec domain.ChangesSpec, errs *[]Problem) {
	for name, globs := range spec.Filters {
		if len(globs) == 0 {
			addErr(errs, fmt.Sprintf("changes.filters[%s]", name), "at least one glob is required")
		}
	}
}

func validateSchedules(schedules []domain.Schedule, errs *[]Problem) {
	for i, s := range schedules {
		path := fmt.Sprintf("schedules[%d]", i)
		if s.Cron == "" {
			addErr(errs, path, "cron is required")
			continue
		}
		if _, err := cron.ParseStandard(s.Cron); err != nil {
			addErr(errs, path, "invalid cron expression %q: %v", s.Cron, err)
		}
		if s.Ref == "" {
			addErr(errs, path, "ref is required")
		}
	}
}

func validateTimeouts(timeouts domain.ClassTimeouts, errs *[]Problem) {
	for class, v := range timeouts {
		if err := checkDuration(v); err != nil {
			addErr(errs, fmt.Sprintf("timeouts[%s]", class), "%v", err)
		}
	}
}

func validateJobs(jobs []domain.JobSpec, queries map[string]domain.ConfigQuery, errs *[]Problem) map[string]bool {
	names := make(map[string]bool, len(jobs))
	for _, j := range jobs {
		if j.Name != "" {
			names[j.Name] = true
		}
	}

	seen := make(map[string]bool, len(jobs))
	for i, job := range jobs {
		path := fmt.Sprintf("job[%d]", i)
		if job.Name != "" {
			path = fmt.Sprintf("job[%s]", job.Name)
		}

		switch {
		case job.Name == "":
			addErr(errs, path, "name is required")
		case !jobNamePattern.MatchString(job.Name):
			addErr(errs, path, "invalid job name %q", job.Name)
		case seen[job.Name]:
			addErr(errs, path, "duplicate job name %q", job.Name)
		}
		seen[job.Name] = true

		if job.Uses == "" {
			addErr(errs, path, "uses is required")
		}
		for _, dep := range job.Needs {
			if !names[dep] {
				addErr(errs, path, "needs references unknown job %q", dep)
			}
		}
		if job.Timeout != "" {
			if err := checkDuration(job.Timeout); err != nil {
				addErr(errs, path, "timeout: %v", err)
			}
		}
		if job.Matrix != nil {
			validateMatrix(path, job.Matrix, queries, errs)
		}
	}
	return names
}

func validateMatrix(path string, m *domain.MatrixSpec, queries map[string]domain.ConfigQuery, errs *[]Problem) {
	if m.Source == "" && len(m.Include) == 0 {
		addErr(errs, path+".matrix", "source or include is required")
	}
	if m.Source != "" {
		q, ok := queries[m.Source]
		switch {
		case !ok:
			addErr(errs, path+".matrix", "source references unknown config query %q", m.Source)
		case q.Kind != domain.QueryList && q.Kind != domain.QueryAny:
			addErr(errs, path+".matrix", "source %q must be a list query, not %s", m.Source, q.Kind)
		}
	}
	if m.MaxParallel < 0 {
		addErr(errs, path+".matrix", "max_parallel must not be negative")
	}
}

func validateReport(spec domain.ReportSpec, jobs map[string]bool, errs *[]Problem) {
	for _, sink := range spec.Sinks {
		if !jobs[sink] {
			addErr(errs, "report.sinks", "references unknown job %q", sink)
		}
	}
	for i, th := range spec.Thresholds {
		path := fmt.Sprintf("report.thresholds[%d]", i)
		if !jobs[th.Node] {
			addErr(errs, path, "references unknown job %q", th.Node)
		}
		if th.Output == "" {
			addErr(errs, path, "output is required")
		}
		if th.Min == nil && th.Max == nil {
			addErr(errs, path, "one of min or max is required")
		}
		if th.Min != nil && th.Max != nil && *th.Min > *th.Max {
			addErr(errs, path, "min %g exceeds max %g", *th.Min, *th.Max)
		}
	}
}

func checkDuration(v string) error {
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid duration %q", v)
	}
	if d <= 0 {
		return fmt.Errorf("duration %q must be positive", v)
	}
	return nil
}
