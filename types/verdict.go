package types

// Verdict classifies the outcome of one solver run.
type Verdict string

// Verdict constants. These are the wire values carried in result
// submissions; the server adjudicates scoring from them.
const (
	// VerdictSat means the solver reported a satisfying assignment.
	VerdictSat Verdict = "sat"
	// VerdictUnsat means the solver proved unsatisfiability.
	VerdictUnsat Verdict = "unsat"
	// VerdictUnknown means the solver gave up, timed out, or was aborted.
	VerdictUnknown Verdict = "unknown"
	// VerdictError means the solver crashed, produced no recognized
	// status line, or exited with an unexpected status.
	VerdictError Verdict = "error"
)

// Valid reports whether v is one of the recognized verdicts.
func (v Verdict) Valid() bool {
	switch v {
	case VerdictSat, VerdictUnsat, VerdictUnknown, VerdictError:
		return true
	}
	return false
}

// Reason qualifies how an invocation reached its verdict.
type Reason string

// Reason constants.
const (
	// ReasonCompleted means the solver exited on its own.
	ReasonCompleted Reason = "completed"
	// ReasonTimeout means the deadline elapsed and the solver was killed.
	ReasonTimeout Reason = "timeout"
	// ReasonAborted means the session was aborted and the solver was killed.
	ReasonAborted Reason = "aborted"
)
