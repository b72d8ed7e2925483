// Package changes classifies which named path groups a revision range touches.
package changes

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/sync/errgroup"

	"ci-core/internal/domain"
)

// maxGroupWorkers bounds concurrent glob evaluation.
const maxGroupWorkers = 8

// Result holds per-group flags. When Unresolved is set every flag is false
// and Err carries the BaseUnresolvable cause; guards that reference flags
// must then evaluate to false.
type Result struct {
	Flags      map[string]bool
	Unresolved bool
	Err        error
}

// Detector evaluates path-glob groups against a ChangeSource.
type Detector struct {
	source domain.ChangeSource
	logger *slog.Logger
}

// NewDetector creates a Detector.
func NewDetector(source domain.ChangeSource, logger *slog.Logger) *Detector {
	return &Detector{source: source, logger: logger}
}

// Detect returns, for each group, whether any file changed between base and
// head matches one of its globs. A glob prefixed with "!" excludes files that
// earlier globs in the same group matched.
//
// An unresolvable base never fails the call: the result is marked Unresolved
// instead. Only malformed globs and diff failures return an error.
func (d *Detector) Detect(ctx context.Context, base, head string, groups map[string][]string) (Result, error) {
	res := Result{Flags: make(map[string]bool, len(groups))}
	for name := range groups {
		res.Flags[name] = false
	}
	if len(groups) == 0 {
		return res, nil
	}

	if err := validateGroups(groups); err != nil {
		return Result{}, err
	}

	if base == "" {
		res.Unresolved = true
		res.Err = domain.NewError(domain.KindBaseUnresolvable, "no base revision")
		d.logger.Warn("change detection degraded", "error", res.Err)
		return res, nil
	}
	if err := d.source.Resolve(ctx, base); err != nil {
		res.Unresolved = true
		res.Err = domain.WrapError(domain.KindBaseUnresolvable, err, "resolve base %q", base)
		d.logger.Warn("change detection degraded", "base", base, "error", err)
		return res, nil
	}

	files, err := d.source.ChangedFiles(ctx, base, head)
	if err != nil {
		return Result{}, err
	}
	sort.Strings(files)

	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Strings(names)

	var mu sync.Mutex
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(maxGroupWorkers)
	for _, name := range names {
		globs := groups[name]
		g.Go(func() error {
			hit := matchAny(globs, files)
			mu.Lock()
			res.Flags[name] = hit
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	d.logger.Debug("change detection complete", "base", base, "head", head, "files", len(files), "flags", res.Flags)
	return res, nil
}

func validateGroups(groups map[string][]string) error {
	for name, globs := range groups {
		if len(globs) == 0 {
			return domain.ErrValidation("change group %q has no globs", name)
		}
		for _, glob := range globs {
			if !doublestar.ValidatePattern(strings.TrimPrefix(glob, "!")) {
				return domain.ErrValidation("change group %q: invalid glob %q", name, glob)
			}
		}
	}
	return nil
}

// matchAny reports whether any file is selected by globs. Globs apply in order,
// so a later "!pattern" can deselect a file an earlier glob selected.
func matchAny(globs []string, files []string) bool {
	for _, f := range files {
		selected := false
		for _, glob := range globs {
			if neg, ok := strings.CutPrefix(glob, "!"); ok {
				if selected && doublestar.MatchUnvalidated(neg, f) {
					selected = false
				}
				continue
			}
			if !selected && doublestar.MatchUnvalidated(glob, f) {
				selected = true
			}
		}
		if selected {
			return true
		}
	}
	return false
}
