package types

// Result is the verdict handed from the supervisor to the session once an
// invocation finishes. It outlives the invocation that produced it.
type Result struct {
	// SessionID correlates the result with the match it belongs to.
	SessionID string
	// ProblemID is the problem the verdict was produced for.
	ProblemID string
	// Verdict is the outcome classification.
	Verdict Verdict
	// Reason qualifies the verdict (completed, timeout, aborted).
	Reason Reason
	// Digest is the hex MD5 of the parsed witness assignment, empty for
	// verdicts without a witness.
	Digest string
	// Diagnostics carries captured stderr/stdout excerpts for error
	// verdicts; empty otherwise.
	Diagnostics string
}
