package executor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"ci-core/internal/domain"
)

// OutputFileEnv names the variable that points a shell step at the file it
// writes key=value outputs to.
const OutputFileEnv = "CI_OUTPUT"

const (
	defaultShell     = "sh"
	defaultTailBytes = 4096
	defaultWaitDelay = 5 * time.Second
)

var _ domain.ActionExecutor = (*Shell)(nil)

// Shell runs the "run" script of an action with sh -c inside a repository
// checkout.
//
// Recognised "with" keys:
//   - run: the script (required)
//   - workdir: directory relative to Dir
//   - shell: interpreter overriding Shell.Command
//
// Every other "with" key is exported as WITH_<KEY>.
type Shell struct {
	Dir       string   // working directory (default: process cwd)
	Command   string   // interpreter invoked as "<Command> -c <script>" (default "sh")
	Env       []string // base environment (default: os.Environ())
	TailBytes int      // bytes of combined output kept for failure messages
	logger    *slog.Logger
}

// NewShell creates a Shell executor rooted at dir.
func NewShell(dir string, logger *slog.Logger) *Shell {
	return &Shell{Dir: dir, logger: logger}
}

// Execute implements domain.ActionExecutor. A non-zero exit is reported as
// a Failed result carrying the tail of the combined output; only failures to
// start the process and cancellation are returned as errors.
func (s *Shell) Execute(ctx context.Context, req domain.ActionRequest) (domain.ActionResult, error) {
	script := strings.TrimSpace(req.Action.With["run"])
	if script == "" {
		return domain.ActionResult{}, domain.ErrValidation("node %s: shell action requires a non-empty \"run\"", req.Node)
	}

	outFile, err := os.CreateTemp("", "cicore-output-*")
	if err != nil {
		return domain.ActionResult{}, fmt.Errorf("create output file: %w", err)
	}
	outPath := outFile.Name()
	_ = outFile.Close()
	defer os.Remove(outPath)

	shell := s.Command
	if v := req.Action.With["shell"]; v != "" {
		shell = v
	}
	if shell == "" {
		shell = defaultShell
	}

	tail := newTailBuffer(s.TailBytes)
	cmd := exec.CommandContext(ctx, shell, "-c", script)
	cmd.Dir = s.workdir(req.Action.With["workdir"])
	cmd.Env = append(s.baseEnv(), actionEnv(req, outPath)...)
	cmd.Stdout = tail
	cmd.Stderr = tail
	cmd.WaitDelay = defaultWaitDelay

	logger := s.logger.With("run_id", req.RunID, "node", req.Node)
	logger.Info("running shell action", "dir", cmd.Dir)
	start := time.Now()

	runErr := cmd.Run()
	if ctx.Err() != nil {
		return domain.ActionResult{}, ctx.Err()
	}
	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return domain.ActionResult{}, fmt.Errorf("start %s: %w", shell, runErr)
		}
		logger.Warn("shell action failed", "exit_code", exitErr.ExitCode(), "elapsed", time.Since(start))
		return domain.ActionResult{
			Status:  domain.NodeFailed,
			Message: failureMessage(exitErr.ExitCode(), tail.String()),
		}, nil
	}

	outputs, err := readOutputs(outPath)
	if err != nil {
		return domain.ActionResult{Status: domain.NodeFailed, Message: err.Error()}, nil
	}
	logger.Info("shell action succeeded", "outputs", len(outputs), "elapsed", time.Since(start))
	return domain.ActionResult{Status: domain.NodeSucceeded, Outputs: outputs}, nil
}

func (s *Shell) workdir(rel string) string {
	if rel == "" {
		return s.Dir
	}
	if filepath.IsAbs(rel) {
		return rel
	}
	return filepath.Join(s.Dir, rel)
}

func (s *Shell) baseEnv() []string {
	if s.Env != nil {
		return append([]string(nil), s.Env...)
	}
	return os.Environ()
}

// actionEnv describes the request to the script through environment
// variables. Keys are emitted in a stable order.
func actionEnv(req domain.ActionRequest, outPath string) []string {
	t := req.Trigger
	env := []string{
		"CI=true",
		OutputFileEnv + "=" + outPath,
		"CI_RUN_ID=" + req.RunID,
		"CI_NODE=" + req.Node,
		"CI_WORKFLOW=" + t.Workflow,
		"CI_EVENT=" + string(t.Event),
		"CI_REF=" + t.Ref,
		"CI_REVISION=" + t.Revision,
		"CI_BASE=" + t.Base,
		"CI_ACTOR=" + t.Actor,
	}
	if t.PullRequest != nil {
		env = append(env, "CI_PULL_REQUEST="+strconv.Itoa(*t.PullRequest))
	}
	env = appendPrefixed(env, "INPUT_", req.Inputs)
	with := make(map[string]string, len(req.Action.With))
	for k, v := range req.Action.With {
		switch k {
		case "run", "workdir", "shell":
		default:
			with[k] = v
		}
	}
	env = appendPrefixed(env, "WITH_", with)

	matrix := make(map[string]string, len(req.Matrix))
	for k, v := range req.Matrix {
		matrix[k] = fmt.Sprint(v)
	}
	env = appendPrefixed(env, "MATRIX_", matrix)

	for _, pred := range sortedKeys(req.Upstream) {
		env = appendPrefixed(env, "NEEDS_"+envName(pred)+"_", req.Upstream[pred])
	}
	return env
}

func appendPrefixed(env []string, prefix string, values map[string]string) []string {
	for _, k := range sortedKeys(values) {
		env = append(env, prefix+envName(k)+"="+values[k])
	}
	return env
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// envName upper-cases s and replaces every character outside [A-Z0-9_].
func envName(s string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(s) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// readOutputs parses key=value lines. Blank lines and lines starting with #
// are ignored; a later key overrides an earlier one.
func readOutputs(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open outputs: %w", err)
	}
	defer f.Close()

	outputs := make(map[string]string)
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		key, value, ok := strings.Cut(text, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("malformed output on line %d: %q", line, text)
		}
		outputs[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read outputs: %w", err)
	}
	return outputs, nil
}

func failureMessage(code int, tail string) string {
	tail = strings.TrimSpace(tail)
	if tail == "" {
		return fmt.Sprintf("exit status %d", code)
	}
	return fmt.Sprintf("exit status %d: %s", code, tail)
}

// tailBuffer keeps the last n bytes written to it. Writes come from the
// stdout and stderr copiers of one process, which os/exec serialises when
// both point at the same writer.
type tailBuffer struct {
	n   int
	buf []byte
}

func newTailBuffer(n int) *tailBuffer {
	if n <= 0 {
		n = defaultTailBytes
	}
	return &tailBuffer{n: n}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.n; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string { return string(t.buf) }
