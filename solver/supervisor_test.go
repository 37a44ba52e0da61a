package solver

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/leagueofsolvers/satclient/log"
	"github.com/leagueofsolvers/satclient/store"
	"github.com/leagueofsolvers/satclient/types"
)

// writeScript creates an executable shell script for use as a fake solver.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "solver.sh")
	script := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("failed to write script: %v", err)
	}
	return path
}

func testLogger() *log.Logger {
	return log.New(zapcore.DebugLevel).WithOutput(io.Discard)
}

func newTestSupervisor(t *testing.T, execPath string, retention store.Store, grace time.Duration) *Supervisor {
	t.Helper()
	problems, err := store.NewFSStore(filepath.Join(t.TempDir(), "problems"))
	if err != nil {
		t.Fatalf("NewFSStore failed: %v", err)
	}
	sup, err := NewSupervisor(Config{
		ExecutablePath: execPath,
		ProblemStore:   problems,
		Retention:      retention,
		GraceWindow:    grace,
		Logger:         testLogger(),
	})
	if err != nil {
		t.Fatalf("NewSupervisor failed: %v", err)
	}
	return sup
}

func TestInvoke_Satisfiable(t *testing.T) {
	script := writeScript(t, `cat "$1" > /dev/null
echo "c solved"
echo "s SATISFIABLE"
echo "v 1 -2 0"
exit 10`)
	retention := store.NewStubStore()
	sup := newTestSupervisor(t, script, retention, time.Second)

	problem := types.NewProblem("P1", []byte("p cnf 2 1\n1 -2 0\n"), "")
	inv, err := sup.Invoke(context.Background(), problem, time.Now().Add(30*time.Second))
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}

	if inv.Verdict != types.VerdictSat {
		t.Errorf("Verdict = %q, want sat (stdout: %q, stderr: %q)", inv.Verdict, inv.Stdout, inv.Stderr)
	}
	if inv.Reason != types.ReasonCompleted {
		t.Errorf("Reason = %q, want completed", inv.Reason)
	}
	if len(inv.Witness) != 2 {
		t.Errorf("Witness = %v, want 2 literals", inv.Witness)
	}

	// Retention received problem, stdout, and stderr copies.
	names := retention.Names()
	if len(names) != 3 {
		t.Errorf("retention files = %v, want 3 entries", names)
	}
}

func TestInvoke_NoStatusLineIsError(t *testing.T) {
	script := writeScript(t, `echo "having a bad day" >&2
exit 3`)
	sup := newTestSupervisor(t, script, nil, time.Second)

	inv, err := sup.Invoke(context.Background(), types.NewProblem("P2", []byte("x"), ""), time.Now().Add(10*time.Second))
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}

	if inv.Verdict != types.VerdictError {
		t.Errorf("Verdict = %q, want error", inv.Verdict)
	}
	if inv.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", inv.ExitCode)
	}
	if inv.Diagnostics == "" {
		t.Error("error verdict carries no diagnostics")
	}
}

func TestInvoke_DeadlineKillsSolver(t *testing.T) {
	script := writeScript(t, `sleep 60`)
	sup := newTestSupervisor(t, script, nil, 500*time.Millisecond)

	start := time.Now()
	inv, err := sup.Invoke(context.Background(), types.NewProblem("P3", []byte("x"), ""), time.Now().Add(300*time.Millisecond))
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}

	if inv.Verdict != types.VerdictUnknown || inv.Reason != types.ReasonTimeout {
		t.Errorf("verdict/reason = %q/%q, want unknown/timeout", inv.Verdict, inv.Reason)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("invocation took %s, termination did not engage", elapsed)
	}
}

func TestInvoke_SignalIgnoringSolverStillDies(t *testing.T) {
	// The solver traps SIGTERM; only the escalation to SIGKILL can end it.
	script := writeScript(t, `trap '' TERM
sleep 60`)
	sup := newTestSupervisor(t, script, nil, 300*time.Millisecond)

	start := time.Now()
	inv, err := sup.Invoke(context.Background(), types.NewProblem("P4", []byte("x"), ""), time.Now().Add(200*time.Millisecond))
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}

	if inv.Reason != types.ReasonTimeout {
		t.Errorf("Reason = %q, want timeout", inv.Reason)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("invocation took %s, SIGKILL escalation did not engage", elapsed)
	}
}

func TestInvoke_BackgroundChildDoesNotHoldResult(t *testing.T) {
	// The solver answers and exits, but leaves a child holding its
	// output pipes open.
	script := writeScript(t, `echo "s SATISFIABLE"
echo "v 1 0"
sleep 20 &
exit 10`)
	sup := newTestSupervisor(t, script, nil, time.Second)

	start := time.Now()
	inv, err := sup.Invoke(context.Background(), types.NewProblem("P9", []byte("x"), ""), time.Now().Add(30*time.Second))
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}

	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Errorf("invocation took %s, pipe drain bound did not engage", elapsed)
	}
	if inv.Verdict != types.VerdictSat || inv.Reason != types.ReasonCompleted {
		t.Errorf("verdict/reason = %q/%q, want sat/completed (stdout: %q)", inv.Verdict, inv.Reason, inv.Stdout)
	}
	if len(inv.Witness) != 1 {
		t.Errorf("Witness = %v, want 1 literal", inv.Witness)
	}
}

func TestInvoke_DeadlineKillsForkedChildren(t *testing.T) {
	// Both the solver and its forked child must die at the deadline.
	script := writeScript(t, `sleep 60 &
sleep 60`)
	sup := newTestSupervisor(t, script, nil, 500*time.Millisecond)

	start := time.Now()
	inv, err := sup.Invoke(context.Background(), types.NewProblem("P10", []byte("x"), ""), time.Now().Add(300*time.Millisecond))
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}

	if inv.Verdict != types.VerdictUnknown || inv.Reason != types.ReasonTimeout {
		t.Errorf("verdict/reason = %q/%q, want unknown/timeout", inv.Verdict, inv.Reason)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("invocation took %s, group termination did not engage", elapsed)
	}
}

func TestInvoke_CancellationAborts(t *testing.T) {
	script := writeScript(t, `sleep 60`)
	sup := newTestSupervisor(t, script, nil, 500*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(150 * time.Millisecond)
		cancel()
	}()

	inv, err := sup.Invoke(ctx, types.NewProblem("P5", []byte("x"), ""), time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}

	if inv.Verdict != types.VerdictUnknown || inv.Reason != types.ReasonAborted {
		t.Errorf("verdict/reason = %q/%q, want unknown/aborted", inv.Verdict, inv.Reason)
	}
}

func TestInvoke_PartialOutputRetainedOnKill(t *testing.T) {
	script := writeScript(t, `echo "c still working"
sleep 60`)
	sup := newTestSupervisor(t, script, nil, 500*time.Millisecond)

	inv, err := sup.Invoke(context.Background(), types.NewProblem("P6", []byte("x"), ""), time.Now().Add(300*time.Millisecond))
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}

	if want := "c still working\n"; string(inv.Stdout) != want {
		t.Errorf("Stdout = %q, want %q", inv.Stdout, want)
	}
}

func TestInvoke_DeadlineMustBeFuture(t *testing.T) {
	script := writeScript(t, `exit 0`)
	sup := newTestSupervisor(t, script, nil, time.Second)

	_, err := sup.Invoke(context.Background(), types.NewProblem("P7", []byte("x"), ""), time.Now().Add(-time.Second))
	if err == nil {
		t.Fatal("past deadline accepted")
	}
}

func TestInvoke_RetentionFailureDoesNotFailInvocation(t *testing.T) {
	script := writeScript(t, `echo "s UNSATISFIABLE"
exit 20`)
	retention := store.NewStubStore()
	retention.Err = os.ErrPermission
	sup := newTestSupervisor(t, script, retention, time.Second)

	inv, err := sup.Invoke(context.Background(), types.NewProblem("P8", []byte("x"), ""), time.Now().Add(10*time.Second))
	if err != nil {
		t.Fatalf("Invoke failed despite retention-only error: %v", err)
	}
	if inv.Verdict != types.VerdictUnsat {
		t.Errorf("Verdict = %q, want unsat", inv.Verdict)
	}
}

func TestNewSupervisor_RejectsNonExecutable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(path, []byte("not a solver"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	problems, err := store.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore failed: %v", err)
	}

	_, err = NewSupervisor(Config{
		ExecutablePath: path,
		ProblemStore:   problems,
		Logger:         testLogger(),
	})
	if err == nil {
		t.Fatal("non-executable path accepted")
	}
}
