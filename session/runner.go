package session

import (
	"context"
	"errors"
	"time"

	"github.com/leagueofsolvers/satclient/adapter"
	"github.com/leagueofsolvers/satclient/conn"
	"github.com/leagueofsolvers/satclient/log"
	"github.com/leagueofsolvers/satclient/metrics"
	"github.com/leagueofsolvers/satclient/protocol"
	"github.com/leagueofsolvers/satclient/solver"
	"github.com/leagueofsolvers/satclient/types"
)

// Default timings.
const (
	// DefaultMargin is subtracted from the announced match duration so
	// the result is submitted before the server-side cutoff.
	DefaultMargin = 10 * time.Second
	// DefaultAckTimeout bounds the wait for a submission acknowledgement
	// before retransmitting.
	DefaultAckTimeout = 15 * time.Second
	// minSolveBudget is the floor on solver wall time after the margin
	// is applied.
	minSolveBudget = time.Second
)

// Connection is the slice of the connection manager the runner uses.
type Connection interface {
	Inbound() <-chan protocol.Message
	StateChanges() <-chan conn.State
	Send(protocol.Message)
	Ready() bool
}

// Invoker runs one solver invocation to completion.
type Invoker interface {
	Invoke(ctx context.Context, problem *types.Problem, deadline time.Time) (*solver.Invocation, error)
}

// Notifier observes match lifecycle for the interactive display. All
// methods must be non-blocking.
type Notifier interface {
	MatchStarted(sessionID string, deadline time.Time)
	MatchFinished(sessionID string, verdict types.Verdict, reason types.Reason)
	MatchAborted(sessionID string)
}

// NopNotifier discards all notifications.
type NopNotifier struct{}

func (NopNotifier) MatchStarted(string, time.Time)                    {}
func (NopNotifier) MatchFinished(string, types.Verdict, types.Reason) {}
func (NopNotifier) MatchAborted(string)                               {}

// Config configures a Runner.
type Config struct {
	Conn    Connection
	Invoker Invoker
	// SolverName labels outcome events, informational only.
	SolverName string
	// Adapter receives match outcome events, may be nil.
	Adapter adapter.Adapter
	// Notifier feeds the interactive display, may be nil.
	Notifier Notifier
	// Margin is the deadline safety margin.
	Margin time.Duration
	// AckTimeout bounds the wait per submission attempt.
	AckTimeout time.Duration
	// MaxRetries bounds ack-timeout retransmissions.
	MaxRetries int
	// Logger is required.
	Logger *log.Logger
	// Collector records match counters, may be nil.
	Collector *metrics.Collector
}

// solverOutcome carries one finished invocation back into the runner
// loop.
type solverOutcome struct {
	sessionID string
	inv       *solver.Invocation
	err       error
}

// Runner executes the session lifecycle on a single goroutine. All
// machine transitions and action execution happen inside Run, so the
// lifecycle is deterministic with respect to the order events arrive.
type Runner struct {
	config  Config
	machine *Machine

	solverDone  chan solverOutcome
	solveCancel context.CancelFunc

	ackTimer *time.Timer
	ackC     <-chan time.Time

	// logger is session-scoped while a match is active; sessionID holds
	// the active id so finish handlers name the right match even though
	// the machine has already moved on by the time they execute.
	logger    *log.Logger
	sessionID string

	problem     *types.Problem
	fetchRetry  bool
	lastSubmit  *protocol.SubmitResult
	lastStarted time.Time
}

// NewRunner wires a runner. Conn, Invoker, and Logger are required.
func NewRunner(cfg Config) (*Runner, error) {
	if cfg.Conn == nil {
		return nil, errors.New("connection is required")
	}
	if cfg.Invoker == nil {
		return nil, errors.New("invoker is required")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if cfg.Margin <= 0 {
		cfg.Margin = DefaultMargin
	}
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = DefaultAckTimeout
	}
	if cfg.Adapter == nil {
		cfg.Adapter = adapter.Nop{}
	}
	if cfg.Notifier == nil {
		cfg.Notifier = NopNotifier{}
	}
	return &Runner{
		config:     cfg,
		machine:    NewMachine(cfg.MaxRetries),
		solverDone: make(chan solverOutcome, 1),
		logger:     cfg.Logger,
	}, nil
}

// Phase returns the current lifecycle phase.
func (r *Runner) Phase() Phase { return r.machine.Phase() }

// Run processes events until ctx is canceled or the connection's
// inbound channel closes. A running solver is aborted on return.
func (r *Runner) Run(ctx context.Context) error {
	defer func() {
		if r.solveCancel != nil {
			r.solveCancel()
		}
		r.stopAckTimer()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case msg, ok := <-r.config.Conn.Inbound():
			if !ok {
				return nil
			}
			r.handleMessage(ctx, msg)

		case st := <-r.config.Conn.StateChanges():
			switch st {
			case conn.StateReady:
				r.apply(ctx, r.machine.OnReconnect())
			case conn.StateDisconnected:
				r.apply(ctx, r.machine.OnDisconnect())
			}

		case out := <-r.solverDone:
			r.handleSolverDone(ctx, out)

		case <-r.ackC:
			if !r.config.Conn.Ready() {
				// The ack cannot arrive over a down link. Hold the
				// retry budget; reconnect retransmits the submission.
				r.logger.Warn("submission unacknowledged while disconnected, holding", nil)
				r.armAckTimer()
				continue
			}
			r.logger.Warn("submission not acknowledged, retrying", map[string]any{
				"retries": r.machine.Retries(),
			})
			r.apply(ctx, r.machine.OnAckTimeout())
		}
	}
}

func (r *Runner) handleMessage(ctx context.Context, msg protocol.Message) {
	switch m := msg.(type) {
	case *protocol.MatchAnnouncement:
		r.config.Logger.Info("match announced", map[string]any{
			"session":     m.SessionID,
			"problem":     m.ProblemID,
			"duration_ms": m.DurationMS,
		})
		r.fetchRetry = false
		r.apply(ctx, r.machine.OnAnnouncement(m.SessionID, m.ProblemID, m.DurationMS))
		r.sessionID = r.machine.SessionID()
		r.logger = r.config.Logger.WithSession(r.sessionID)

	case *protocol.ProblemData:
		r.handleProblemData(ctx, m)

	case *protocol.ResultAck:
		r.apply(ctx, r.machine.OnAck(m.SessionID))

	case *protocol.ServerError:
		r.config.Logger.Error("server reported error", map[string]any{
			"code":    m.Code,
			"message": m.Message,
		})
		r.apply(ctx, r.machine.OnServerError())

	default:
		r.config.Logger.Debug("ignoring unexpected message", map[string]any{
			"kind": string(msg.Kind()),
		})
	}
}

func (r *Runner) handleProblemData(ctx context.Context, m *protocol.ProblemData) {
	if m.SessionID != r.machine.SessionID() {
		if r.machine.Phase() == PhaseFetching {
			// A payload for some other session while one is expected
			// means the server and client disagree on match identity.
			r.config.Collector.IncProtocolError()
			r.config.Logger.Error("problem payload names wrong session", map[string]any{
				"session":  m.SessionID,
				"expected": r.machine.SessionID(),
			})
			r.apply(ctx, r.machine.OnServerError())
			return
		}
		r.config.Logger.Debug("problem payload for stale session", map[string]any{
			"session": m.SessionID,
		})
		return
	}

	problem := types.NewProblem(m.ProblemID, m.Payload, m.Checksum)
	if !problem.VerifyChecksum() {
		r.config.Collector.IncProtocolError()
		r.config.Logger.Error("problem payload checksum mismatch", map[string]any{
			"session": m.SessionID,
			"problem": m.ProblemID,
			"size":    problem.Size(),
		})
		// One re-request covers a corrupt frame; a second mismatch
		// means something is wrong upstream and the match aborts.
		if !r.fetchRetry {
			r.fetchRetry = true
			r.config.Conn.Send(&protocol.RequestProblem{SessionID: m.SessionID})
			return
		}
		r.apply(ctx, r.machine.OnServerError())
		return
	}

	r.problem = problem
	r.apply(ctx, r.machine.OnProblem(m.SessionID))
}

func (r *Runner) handleSolverDone(ctx context.Context, out solverOutcome) {
	if out.sessionID != r.machine.SessionID() || r.machine.Phase() != PhaseSolving {
		// Stale completion from a preempted or aborted match.
		return
	}

	sub := &protocol.SubmitResult{SessionID: out.sessionID}
	switch {
	case out.err != nil:
		r.config.Logger.Error("solver invocation failed", map[string]any{
			"session": out.sessionID,
			"error":   out.err.Error(),
		})
		sub.Verdict = types.VerdictError
		sub.Reason = types.ReasonCompleted
	default:
		res := out.inv.Result(out.sessionID)
		sub.Verdict = res.Verdict
		sub.Reason = res.Reason
		sub.Digest = res.Digest
		r.config.Collector.IncVerdict(string(res.Verdict))
	}

	r.lastSubmit = sub
	r.apply(ctx, r.machine.OnSolverDone(sub))
}

// apply executes the actions from one machine transition, in order.
func (r *Runner) apply(ctx context.Context, actions []Action) {
	for _, a := range actions {
		switch a {
		case ActionRequestProblem:
			r.config.Conn.Send(&protocol.RequestProblem{SessionID: r.machine.SessionID()})

		case ActionStartSolver:
			r.startSolver(ctx)

		case ActionAbortSolver:
			if r.solveCancel != nil {
				r.solveCancel()
				r.solveCancel = nil
			}

		case ActionSubmitResult:
			pending := r.machine.Pending()
			if pending == nil {
				continue
			}
			if r.machine.Retries() > 0 {
				r.config.Collector.IncSubmissionRetry()
			}
			r.config.Conn.Send(pending)

		case ActionArmAckTimer:
			r.armAckTimer()

		case ActionFinishCompleted:
			r.finishCompleted()

		case ActionFinishAborted:
			r.finishAborted()

		case ActionFinishFailed:
			r.finishFailed()
		}
	}
}

func (r *Runner) startSolver(ctx context.Context) {
	sessionID := r.machine.SessionID()
	problem := r.problem

	budget := time.Duration(r.machine.DurationMS())*time.Millisecond - r.config.Margin
	if budget < minSolveBudget {
		budget = minSolveBudget
	}
	deadline := time.Now().Add(budget)

	sctx, cancel := context.WithCancel(ctx)
	r.solveCancel = cancel
	r.lastStarted = time.Now()

	r.config.Collector.IncMatchStarted()
	r.config.Notifier.MatchStarted(sessionID, deadline)
	r.logger.Info("solver started", map[string]any{
		"problem":  problem.ID,
		"deadline": deadline.Format(time.RFC3339),
	})

	go func() {
		inv, err := r.config.Invoker.Invoke(sctx, problem, deadline)
		r.solverDone <- solverOutcome{sessionID: sessionID, inv: inv, err: err}
	}()
}

func (r *Runner) finishCompleted() {
	r.stopAckTimer()
	r.solveCancel = nil
	r.config.Collector.IncMatchCompleted()

	sub := r.lastSubmit
	if sub != nil {
		r.config.Notifier.MatchFinished(sub.SessionID, sub.Verdict, sub.Reason)
		r.report(sub)
		r.logger.Info("match completed", map[string]any{
			"verdict": sub.Verdict,
			"reason":  sub.Reason,
			"elapsed": time.Since(r.lastStarted).Round(time.Millisecond).String(),
		})
	}
	r.clearSession()
}

func (r *Runner) finishAborted() {
	r.stopAckTimer()
	r.solveCancel = nil
	r.config.Collector.IncMatchAborted()
	r.config.Notifier.MatchAborted(r.sessionID)
	r.logger.Warn("match aborted", nil)
	r.clearSession()
}

func (r *Runner) finishFailed() {
	r.stopAckTimer()
	r.solveCancel = nil
	r.config.Collector.IncSubmissionFailure()
	r.logger.Error("submission abandoned after retry budget", nil)
	r.clearSession()
}

func (r *Runner) clearSession() {
	r.sessionID = ""
	r.logger = r.config.Logger
	r.problem = nil
	r.lastSubmit = nil
}

// report publishes the outcome through the adapter, off the runner
// goroutine so a slow sink never stalls the lifecycle.
func (r *Runner) report(sub *protocol.SubmitResult) {
	ev := adapter.MatchReportedEvent{
		SessionID:  sub.SessionID,
		ProblemID:  r.machine.ProblemID(),
		Solver:     r.config.SolverName,
		Verdict:    string(sub.Verdict),
		Reason:     string(sub.Reason),
		Digest:     sub.Digest,
		ReportedAt: time.Now().UTC(),
	}
	if ev.ProblemID == "" && r.problem != nil {
		ev.ProblemID = r.problem.ID
	}
	ad := r.config.Adapter
	logger := r.config.Logger
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := ad.MatchReported(ctx, ev); err != nil {
			logger.Warn("outcome adapter failed", map[string]any{
				"session": ev.SessionID,
				"error":   err.Error(),
			})
		}
	}()
}

func (r *Runner) armAckTimer() {
	r.stopAckTimer()
	r.ackTimer = time.NewTimer(r.config.AckTimeout)
	r.ackC = r.ackTimer.C
}

func (r *Runner) stopAckTimer() {
	if r.ackTimer != nil {
		r.ackTimer.Stop()
		r.ackTimer = nil
		r.ackC = nil
	}
}
