// Package session drives one match at a time through its lifecycle:
// announcement, problem fetch, solver run, result submission, ack.
package session

import (
	"fmt"

	"github.com/leagueofsolvers/satclient/protocol"
)

// Phase is the match lifecycle phase.
type Phase int

// Lifecycle phases. There is at most one active match; everything
// outside a match is Idle.
const (
	PhaseIdle Phase = iota
	PhaseFetching
	PhaseSolving
	PhaseSubmitting
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseFetching:
		return "fetching"
	case PhaseSolving:
		return "solving"
	case PhaseSubmitting:
		return "submitting"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Action is an instruction the machine hands back to the runner after a
// transition. The machine itself performs no I/O.
type Action int

const (
	ActionRequestProblem Action = iota
	ActionStartSolver
	ActionAbortSolver
	ActionSubmitResult
	ActionArmAckTimer
	ActionFinishCompleted
	ActionFinishAborted
	ActionFinishFailed
)

func (a Action) String() string {
	switch a {
	case ActionRequestProblem:
		return "request_problem"
	case ActionStartSolver:
		return "start_solver"
	case ActionAbortSolver:
		return "abort_solver"
	case ActionSubmitResult:
		return "submit_result"
	case ActionArmAckTimer:
		return "arm_ack_timer"
	case ActionFinishCompleted:
		return "finish_completed"
	case ActionFinishAborted:
		return "finish_aborted"
	case ActionFinishFailed:
		return "finish_failed"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// DefaultMaxSubmitRetries bounds ack-timeout retransmissions per match.
const DefaultMaxSubmitRetries = 3

// Machine is the deterministic core of the session lifecycle. It holds
// no goroutines, timers, or I/O; the runner feeds it one event at a
// time and executes the actions it returns. The same event sequence
// always yields the same actions.
type Machine struct {
	phase      Phase
	sessionID  string
	problemID  string
	durationMS int64

	pending *protocol.SubmitResult
	retries int
	maxRet  int
}

// NewMachine returns an idle machine. maxRetries <= 0 selects the
// default retransmission bound.
func NewMachine(maxRetries int) *Machine {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxSubmitRetries
	}
	return &Machine{phase: PhaseIdle, maxRet: maxRetries}
}

// Phase returns the current lifecycle phase.
func (m *Machine) Phase() Phase { return m.phase }

// SessionID returns the active session id, empty when Idle.
func (m *Machine) SessionID() string { return m.sessionID }

// ProblemID returns the active problem id, empty when Idle.
func (m *Machine) ProblemID() string { return m.problemID }

// DurationMS returns the announced match duration in milliseconds.
func (m *Machine) DurationMS() int64 { return m.durationMS }

// Pending returns the submission awaiting acknowledgement, nil outside
// Submitting.
func (m *Machine) Pending() *protocol.SubmitResult { return m.pending }

// Retries returns how many retransmissions the active submission used.
func (m *Machine) Retries() int { return m.retries }

func (m *Machine) reset() {
	m.phase = PhaseIdle
	m.sessionID = ""
	m.problemID = ""
	m.durationMS = 0
	m.pending = nil
	m.retries = 0
}

// OnAnnouncement handles a match announcement. A duplicate of the
// active session is ignored; a different session preempts the active
// one (the server is authoritative about which match is current).
func (m *Machine) OnAnnouncement(sessionID, problemID string, durationMS int64) []Action {
	if m.phase != PhaseIdle && sessionID == m.sessionID {
		return nil
	}

	var actions []Action
	if m.phase == PhaseSolving {
		actions = append(actions, ActionAbortSolver)
	}
	if m.phase != PhaseIdle {
		actions = append(actions, ActionFinishAborted)
	}

	m.reset()
	m.phase = PhaseFetching
	m.sessionID = sessionID
	m.problemID = problemID
	m.durationMS = durationMS
	return append(actions, ActionRequestProblem)
}

// OnProblem handles problem payload arrival. Payload validation happens
// in the runner before this is called; payloads for a stale or unknown
// session are ignored.
func (m *Machine) OnProblem(sessionID string) []Action {
	if m.phase != PhaseFetching || sessionID != m.sessionID {
		return nil
	}
	m.phase = PhaseSolving
	return []Action{ActionStartSolver}
}

// OnSolverDone handles solver completion with the submission to send.
// The result enters the pending slot and stays there until acked or the
// retry budget is exhausted.
func (m *Machine) OnSolverDone(result *protocol.SubmitResult) []Action {
	if m.phase != PhaseSolving || result == nil || result.SessionID != m.sessionID {
		return nil
	}
	m.phase = PhaseSubmitting
	m.pending = result
	m.retries = 0
	return []Action{ActionSubmitResult, ActionArmAckTimer}
}

// OnAck handles a server acknowledgement of the pending submission.
func (m *Machine) OnAck(sessionID string) []Action {
	if m.phase != PhaseSubmitting || sessionID != m.sessionID {
		return nil
	}
	m.reset()
	return []Action{ActionFinishCompleted}
}

// OnAckTimeout retransmits the pending submission, giving up after the
// retry budget.
func (m *Machine) OnAckTimeout() []Action {
	if m.phase != PhaseSubmitting {
		return nil
	}
	if m.retries >= m.maxRet {
		m.reset()
		return []Action{ActionFinishFailed}
	}
	m.retries++
	return []Action{ActionSubmitResult, ActionArmAckTimer}
}

// OnDisconnect handles loss of the server connection. A running solver
// keeps running: the disconnect may be transient and the verdict is
// still worth submitting after reconnect. A fetch in flight cannot
// complete, so that match aborts. A pending submission stays pending;
// the outbound queue preserves it across the reconnect.
func (m *Machine) OnDisconnect() []Action {
	if m.phase == PhaseFetching {
		m.reset()
		return []Action{ActionFinishAborted}
	}
	return nil
}

// OnReconnect handles the connection returning. A pending submission is
// retransmitted immediately rather than waiting out the ack timer.
func (m *Machine) OnReconnect() []Action {
	if m.phase != PhaseSubmitting {
		return nil
	}
	return []Action{ActionSubmitResult, ActionArmAckTimer}
}

// OnServerError handles a server-reported error for the active session.
func (m *Machine) OnServerError() []Action {
	if m.phase == PhaseIdle {
		return nil
	}
	var actions []Action
	if m.phase == PhaseSolving {
		actions = append(actions, ActionAbortSolver)
	}
	m.reset()
	return append(actions, ActionFinishAborted)
}
