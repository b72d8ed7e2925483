package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"

	"ci-core/internal/domain"
)

// eventFlag is a pflag.Value restricted to the known event kinds.
type eventFlag domain.EventKind

var _ pflag.Value = (*eventFlag)(nil)

func (e *eventFlag) String() string { return string(*e) }

func (e *eventFlag) Set(v string) error {
	kind := domain.EventKind(strings.ToLower(strings.TrimSpace(v)))
	if !domain.ValidEventKind(kind) {
		return fmt.Errorf("must be one of push, pull_request, schedule, manual")
	}
	*e = eventFlag(kind)
	return nil
}

func (e *eventFlag) Type() string { return "event" }

// triggerFlags are the flags shared by every command that builds a trigger.
type triggerFlags struct {
	event       eventFlag
	ref         string
	revision    string
	base        string
	pullRequest int
	actor       string
	inputs      map[string]string
}

func (f *triggerFlags) register(fs *pflag.FlagSet) {
	f.event = eventFlag(domain.EventManual)
	fs.Var(&f.event, "event", "Event kind (push, pull_request, schedule, manual)")
	fs.StringVar(&f.ref, "ref", "", "Branch or tag the run is for")
	fs.StringVar(&f.revision, "revision", "", "Commit to run against (defaults to --ref)")
	fs.StringVar(&f.base, "base", "", "Base revision for change detection")
	fs.IntVar(&f.pullRequest, "pr", 0, "Pull request number (required for pull_request events)")
	fs.StringVar(&f.actor, "actor", "", "Who triggered the run")
	fs.StringToStringVar(&f.inputs, "input", nil, "Workflow input as key=value (repeatable)")
}

func (f *triggerFlags) trigger(workflow string) domain.Trigger {
	t := domain.Trigger{
		Workflow: workflow,
		Event:    domain.EventKind(f.event),
		Ref:      f.ref,
		Revision: f.revision,
		Base:     f.base,
		Actor:    f.actor,
		Inputs:   f.inputs,
	}
	if f.pullRequest > 0 {
		pr := f.pullRequest
		t.PullRequest = &pr
	}
	return t
}
