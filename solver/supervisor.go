// Package solver supervises one external solver process per match: spawn,
// output capture, deadline enforcement, termination, verdict derivation.
package solver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/rs/xid"

	"github.com/leagueofsolvers/satclient/log"
	"github.com/leagueofsolvers/satclient/metrics"
	"github.com/leagueofsolvers/satclient/store"
	"github.com/leagueofsolvers/satclient/types"
)

// DefaultGraceWindow is the SIGTERM to SIGKILL escalation window.
const DefaultGraceWindow = 30 * time.Second

// pipeDrainDelay bounds how long Wait may block on the solver's output
// pipes after the process itself exits. A solver may fork a child that
// inherits stdout/stderr and outlives it; that child must not be able
// to hold the invocation open.
const pipeDrainDelay = 2 * time.Second

// diagnosticsLimit caps the stderr excerpt attached to error verdicts.
const diagnosticsLimit = 8 * 1024

// Config configures a Supervisor.
type Config struct {
	// ExecutablePath is the solver binary to run.
	ExecutablePath string
	// Args are extra arguments placed before the problem file path.
	Args []string
	// ProblemStore is where the problem payload is written before launch;
	// the solver receives the file path as its sole trailing argument.
	ProblemStore *store.FSStore
	// ProblemFile is the file name within ProblemStore (default problem.cnf).
	ProblemFile string
	// Retention receives problem/stdout/stderr copies when non-nil.
	// Retention failures degrade to warnings.
	Retention store.Store
	// OutputFile is the retention name for captured stdout (default stdout.txt).
	OutputFile string
	// GraceWindow is the SIGTERM to SIGKILL escalation window.
	GraceWindow time.Duration
	// Logger is required.
	Logger *log.Logger
	// Collector records solver counters, may be nil.
	Collector *metrics.Collector
}

// Invocation is one run of the external solver. The supervisor owns it for
// its duration; the derived Result outlives it.
type Invocation struct {
	// ID identifies the invocation in logs and retention names.
	ID string
	// ProblemID is the problem the solver ran against.
	ProblemID string
	// StartedAt is the launch timestamp.
	StartedAt time.Time
	// Deadline is the enforced wall-clock limit.
	Deadline time.Time
	// ExitCode is the process exit status, -1 when killed by signal.
	ExitCode int
	// Stdout and Stderr are the captured streams, partial on termination.
	Stdout []byte
	Stderr []byte
	// Verdict and Reason classify the outcome.
	Verdict types.Verdict
	Reason  types.Reason
	// Witness is the parsed assignment for SAT verdicts.
	Witness []int
	// Diagnostics is a stderr/stdout excerpt for error verdicts.
	Diagnostics string
}

// Result derives the submission-facing result for the session the
// invocation ran under.
func (inv *Invocation) Result(sessionID string) *types.Result {
	return &types.Result{
		SessionID:   sessionID,
		ProblemID:   inv.ProblemID,
		Verdict:     inv.Verdict,
		Reason:      inv.Reason,
		Digest:      WitnessDigest(inv.Witness),
		Diagnostics: inv.Diagnostics,
	}
}

// Supervisor runs at most one solver process at a time.
type Supervisor struct {
	config Config

	mu       sync.Mutex
	inFlight bool
}

// NewSupervisor validates the configuration and returns a supervisor.
// The executable must exist and carry an execute bit.
func NewSupervisor(cfg Config) (*Supervisor, error) {
	info, err := os.Stat(cfg.ExecutablePath)
	if err != nil {
		return nil, fmt.Errorf("solver executable %q: %w", cfg.ExecutablePath, err)
	}
	if info.IsDir() || info.Mode()&0o111 == 0 {
		return nil, fmt.Errorf("solver path %q is not an executable file", cfg.ExecutablePath)
	}
	if cfg.ProblemStore == nil {
		return nil, errors.New("problem store is required")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if cfg.ProblemFile == "" {
		cfg.ProblemFile = "problem.cnf"
	}
	if cfg.OutputFile == "" {
		cfg.OutputFile = "stdout.txt"
	}
	if cfg.GraceWindow <= 0 {
		cfg.GraceWindow = DefaultGraceWindow
	}
	return &Supervisor{config: cfg}, nil
}

// Invoke runs the solver against problem under a hard wall-clock deadline.
//
// The deadline must be strictly in the future. Context cancellation kills
// the process through the same escalation path as a timeout, with the
// result tagged aborted instead. The returned error covers launch-level
// failures only; solver misbehavior is absorbed into the verdict.
func (s *Supervisor) Invoke(ctx context.Context, problem *types.Problem, deadline time.Time) (*Invocation, error) {
	if !deadline.After(time.Now()) {
		return nil, fmt.Errorf("deadline %s is not in the future", deadline.Format(time.RFC3339))
	}

	s.mu.Lock()
	if s.inFlight {
		s.mu.Unlock()
		return nil, errors.New("an invocation is already in flight")
	}
	s.inFlight = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.inFlight = false
		s.mu.Unlock()
	}()

	inv := &Invocation{
		ID:        xid.New().String(),
		ProblemID: problem.ID,
		StartedAt: time.Now(),
		Deadline:  deadline,
	}

	// Materialize the problem for the solver. This write is mandatory,
	// unlike retention copies.
	if err := s.config.ProblemStore.Put(ctx, s.config.ProblemFile, problem.Payload); err != nil {
		return nil, fmt.Errorf("failed to write problem file: %w", err)
	}
	problemPath := s.config.ProblemStore.Dir() + string(os.PathSeparator) + s.config.ProblemFile

	args := append(append([]string{}, s.config.Args...), problemPath)
	cmd := exec.Command(s.config.ExecutablePath, args...)

	// The solver gets its own process group so termination reaches any
	// children it forks, and the drain of its output pipes is bounded
	// once the process itself is gone.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.WaitDelay = pipeDrainDelay

	// Capture incrementally so partial output survives a forced kill.
	var outBuf, errBuf lockedBuffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start solver: %w", err)
	}

	s.config.Logger.Info("solver started", map[string]any{
		"invocation": inv.ID,
		"problem":    problem.ID,
		"executable": s.config.ExecutablePath,
		"deadline":   deadline.Format(time.RFC3339),
	})

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	deadlineTimer := time.NewTimer(time.Until(deadline))
	defer deadlineTimer.Stop()

	var waitErr error
	select {
	case waitErr = <-waitCh:
		inv.Reason = types.ReasonCompleted

	case <-deadlineTimer.C:
		s.config.Logger.Warn("solver deadline exceeded, terminating", map[string]any{
			"invocation": inv.ID,
		})
		s.config.Collector.IncSolverTimeout()
		waitErr = s.terminate(cmd, waitCh)
		inv.Reason = types.ReasonTimeout

	case <-ctx.Done():
		s.config.Logger.Warn("invocation canceled, terminating solver", map[string]any{
			"invocation": inv.ID,
			"cause":      ctx.Err().Error(),
		})
		waitErr = s.terminate(cmd, waitCh)
		inv.Reason = types.ReasonAborted
	}

	if errors.Is(waitErr, exec.ErrWaitDelay) {
		// The solver exited cleanly but left its pipes in the hands of
		// a forked child; the partial capture stands.
		s.config.Logger.Warn("solver output pipes held open after exit, drain abandoned", map[string]any{
			"invocation": inv.ID,
		})
		waitErr = nil
	}

	inv.Stdout = outBuf.Bytes()
	inv.Stderr = errBuf.Bytes()
	inv.ExitCode = exitCode(waitErr)

	s.classify(inv, waitErr)
	s.retain(problem, inv)

	s.config.Logger.Info("solver finished", map[string]any{
		"invocation": inv.ID,
		"verdict":    inv.Verdict,
		"reason":     inv.Reason,
		"exit_code":  inv.ExitCode,
		"duration":   time.Since(inv.StartedAt).String(),
	})
	s.config.Collector.IncVerdict(string(inv.Verdict))

	return inv, nil
}

// terminate escalates SIGTERM to SIGKILL after the grace window and always
// reaps the process. Signals go to the whole process group so children
// forked by the solver cannot keep the invocation alive.
func (s *Supervisor) terminate(cmd *exec.Cmd, waitCh <-chan error) error {
	signalGroup(cmd.Process.Pid, syscall.SIGTERM)

	grace := time.NewTimer(s.config.GraceWindow)
	defer grace.Stop()

	select {
	case err := <-waitCh:
		return err
	case <-grace.C:
		signalGroup(cmd.Process.Pid, syscall.SIGKILL)
		return <-waitCh
	}
}

// signalGroup signals the solver's process group, falling back to the
// process alone when the group is already gone.
func signalGroup(pid int, sig syscall.Signal) {
	if err := syscall.Kill(-pid, sig); err != nil {
		_ = syscall.Kill(pid, sig)
	}
}

// classify derives the verdict from termination reason, exit status, and
// captured output.
func (s *Supervisor) classify(inv *Invocation, waitErr error) {
	switch inv.Reason {
	case types.ReasonTimeout, types.ReasonAborted:
		// Forced termination is not solver error.
		inv.Verdict = types.VerdictUnknown
		return
	}

	if sig, ok := crashSignal(waitErr); ok {
		inv.Verdict = types.VerdictError
		inv.Diagnostics = excerpt(fmt.Sprintf("solver killed by signal %s\n", sig), inv.Stderr)
		s.config.Collector.IncSolverCrash()
		return
	}

	parsed := ParseOutput(inv.Stdout)
	if !parsed.Found {
		inv.Verdict = types.VerdictError
		inv.Diagnostics = excerpt(
			fmt.Sprintf("no recognized status line, exit code %d\n", inv.ExitCode),
			inv.Stderr,
		)
		s.config.Collector.IncSolverCrash()
		return
	}

	inv.Verdict = parsed.Verdict
	inv.Witness = parsed.Witness
}

// retain copies problem and solver output to the retention store.
// Best-effort: failures log a warning and nothing else.
func (s *Supervisor) retain(problem *types.Problem, inv *Invocation) {
	if s.config.Retention == nil {
		return
	}

	// Retention must not be canceled alongside the session; give it its
	// own short budget.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	files := []struct {
		name string
		data []byte
	}{
		{s.config.ProblemFile, problem.Payload},
		{s.config.OutputFile, inv.Stdout},
		{"stderr.txt", inv.Stderr},
	}
	for _, f := range files {
		if err := s.config.Retention.Put(ctx, f.name, f.data); err != nil {
			s.config.Logger.Warn("retention write failed (best effort)", map[string]any{
				"file":  f.name,
				"error": err.Error(),
			})
		}
	}
}

// exitCode extracts the process exit status, -1 for signal deaths.
func exitCode(waitErr error) int {
	if waitErr == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			if status.Signaled() {
				return -1
			}
			return status.ExitStatus()
		}
	}
	return -1
}

// crashSignal reports the fatal signal when the solver died to one that
// the supervisor did not send.
func crashSignal(waitErr error) (syscall.Signal, bool) {
	var exitErr *exec.ExitError
	if !errors.As(waitErr, &exitErr) {
		return 0, false
	}
	status, ok := exitErr.Sys().(syscall.WaitStatus)
	if !ok || !status.Signaled() {
		return 0, false
	}
	return status.Signal(), true
}

// excerpt prefixes msg to a bounded tail of stderr.
func excerpt(msg string, stderr []byte) string {
	if len(stderr) > diagnosticsLimit {
		stderr = stderr[len(stderr)-diagnosticsLimit:]
	}
	return msg + string(stderr)
}

// lockedBuffer is a bytes.Buffer safe for one writer and later readers.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Bytes()
}
