package domain

// QueryKind constrains the shape a configuration query must resolve to.
type QueryKind string

// Query kinds.
const (
	QueryAny    QueryKind = ""
	QueryScalar QueryKind = "scalar"
	QueryList   QueryKind = "list"
	QueryObject QueryKind = "object"
)

// Workflow is a parsed pipeline definition: the static template a run's
// job graph is built from.
type Workflow struct {
	Name        string        `yaml:"name" json:"name"`
	Concurrency Concurrency   `yaml:"concurrency" json:"concurrency"`
	Config      ConfigSpec    `yaml:"config" json:"config"`
	Changes     ChangesSpec   `yaml:"changes" json:"changes"`
	Schedules   []Schedule    `yaml:"schedules" json:"schedules,omitempty"`
	Jobs        []JobSpec     `yaml:"jobs" json:"jobs"`
	Report      ReportSpec    `yaml:"report" json:"report"`
	Timeouts    ClassTimeouts `yaml:"timeouts" json:"timeouts,omitempty"`
}

// ClassTimeouts maps an action class to its default maximum running duration
// (Go duration syntax).
type ClassTimeouts map[string]string

// Concurrency configures single-flight admission per concurrency key.
type Concurrency struct {
	// Group is a key template; ${workflow}, ${ref}, ${pr} and ${event} are expanded.
	Group string `yaml:"group" json:"group,omitempty"`
	// CancelInProgress defaults to true.
	CancelInProgress *bool `yaml:"cancel_in_progress" json:"cancel_in_progress,omitempty"`
}

// CancelsInProgress returns the effective cancel-in-progress policy.
func (c Concurrency) CancelsInProgress() bool {
	return c.CancelInProgress == nil || *c.CancelInProgress
}

// ConfigSpec names the configuration document and the queries resolved from it.
type ConfigSpec struct {
	Path    string        `yaml:"path" json:"path,omitempty"`
	Queries []ConfigQuery `yaml:"queries" json:"queries,omitempty"`
}

// ConfigQuery resolves one dotted path in the configuration document.
type ConfigQuery struct {
	Name     string    `yaml:"name" json:"name"`
	Path     string    `yaml:"path" json:"path"`
	Kind     QueryKind `yaml:"kind" json:"kind,omitempty"`
	Required bool      `yaml:"required" json:"required,omitempty"`
	Default  any       `yaml:"default" json:"default,omitempty"`
}

// ChangesSpec configures change detection: named path-glob groups.
type ChangesSpec struct {
	// Base overrides the trigger's base revision when set.
	Base    string              `yaml:"base" json:"base,omitempty"`
	Filters map[string][]string `yaml:"filters" json:"filters,omitempty"`
}

// Schedule is a cron-driven trigger.
type Schedule struct {
	Cron   string            `yaml:"cron" json:"cron"`
	Ref    string            `yaml:"ref" json:"ref"`
	Inputs map[string]string `yaml:"inputs" json:"inputs,omitempty"`
}

// JobSpec declares one job template.
type JobSpec struct {
	Name         string            `yaml:"name" json:"name"`
	Needs        []string          `yaml:"needs" json:"needs,omitempty"`
	If           string            `yaml:"if" json:"if,omitempty"`
	Always       bool              `yaml:"always" json:"always,omitempty"`
	AllowFailure bool              `yaml:"allow_failure" json:"allow_failure,omitempty"`
	Timeout      string            `yaml:"timeout" json:"timeout,omitempty"`
	Class        string            `yaml:"class" json:"class,omitempty"`
	Uses         string            `yaml:"uses" json:"uses"`
	With         map[string]string `yaml:"with" json:"with,omitempty"`
	Matrix       *MatrixSpec       `yaml:"matrix" json:"matrix,omitempty"`
}

// ActionClass returns the class used for timeout defaults; it falls back to Uses.
func (j JobSpec) ActionClass() string {
	if j.Class != "" {
		return j.Class
	}
	return j.Uses
}

// MatrixSpec configures dynamic fan-out of a job template.
type MatrixSpec struct {
	// Source names a list-valued config query.
	Source          string           `yaml:"source" json:"source,omitempty"`
	Include         []map[string]any `yaml:"include" json:"include,omitempty"`
	FailFast        bool             `yaml:"fail_fast" json:"fail_fast,omitempty"`
	RequireNonEmpty bool             `yaml:"require_nonempty" json:"require_nonempty,omitempty"`
	MaxParallel     int              `yaml:"max_parallel" json:"max_parallel,omitempty"`
}

// ReportSpec configures the result aggregator.
type ReportSpec struct {
	Title      string      `yaml:"title" json:"title,omitempty"`
	Sinks      []string    `yaml:"sinks" json:"sinks,omitempty"`
	Thresholds []Threshold `yaml:"thresholds" json:"thresholds,omitempty"`
}

// Threshold bounds a numeric output of a sink node.
type Threshold struct {
	Node   string   `yaml:"node" json:"node"`
	Output string   `yaml:"output" json:"output"`
	Min    *float64 `yaml:"min" json:"min,omitempty"`
	Max    *float64 `yaml:"max" json:"max,omitempty"`
}

// Job returns the named job spec, or nil.
func (w *Workflow) Job(name string) *JobSpec {
	for i := range w.Jobs {
		if w.Jobs[i].Name == name {
			return &w.Jobs[i]
		}
	}
	return nil
}
