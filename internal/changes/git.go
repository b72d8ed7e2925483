package changes

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"ci-core/internal/domain"
)

// GitSource answers change queries with the git CLI. Every command targets
// Dir via "git -C".
type GitSource struct {
	Dir string
}

// NewGitSource returns a GitSource for the repository at dir.
func NewGitSource(dir string) *GitSource {
	return &GitSource{Dir: dir}
}

// Resolve implements domain.ChangeSource.
func (g *GitSource) Resolve(ctx context.Context, rev string) error {
	if rev == "" {
		return fmt.Errorf("empty revision")
	}
	_, err := g.run(ctx, "rev-parse", "--verify", "--quiet", rev+"^{commit}")
	return err
}

// ChangedFiles implements domain.ChangeSource. It diffs head against the
// merge base of base and head, so commits that landed on base after the
// branch point are not counted.
func (g *GitSource) ChangedFiles(ctx context.Context, base, head string) ([]string, error) {
	if head == "" {
		head = "HEAD"
	}
	out, err := g.run(ctx, "diff", "--name-only", "--no-renames", "-z", base+"..."+head)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, f := range strings.Split(out, "\x00") {
		if f != "" {
			files = append(files, f)
		}
	}
	return files, nil
}

func (g *GitSource) run(ctx context.Context, args ...string) (string, error) {
	fullArgs := append([]string{"-C", g.Dir}, args...)
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "git", fullArgs...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s in %s: %w (stderr: %s)",
			strings.Join(args, " "), g.Dir, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// StaticSource reports a fixed list of changed files for any revision pair.
// Known lists the revisions Resolve accepts; an empty Known accepts everything.
type StaticSource struct {
	Files []string
	Known []string
}

// Resolve implements domain.ChangeSource.
func (s StaticSource) Resolve(_ context.Context, rev string) error {
	if len(s.Known) == 0 {
		return nil
	}
	for _, k := range s.Known {
		if k == rev {
			return nil
		}
	}
	return domain.ErrNotFound("unknown revision %q", rev)
}

// ChangedFiles implements domain.ChangeSource.
func (s StaticSource) ChangedFiles(context.Context, string, string) ([]string, error) {
	return append([]string(nil), s.Files...), nil
}
