// Package metrics provides in-process counters for the client.
//
// The Collector accumulates counters over one client run. It is a leaf
// package with no internal dependencies. All increment methods are
// nil-receiver safe so callers never need to guard against a missing
// collector.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all counters.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Match lifecycle
	MatchesStarted   int64
	MatchesCompleted int64
	MatchesAborted   int64

	// Verdicts keyed by wire value (sat, unsat, unknown, error)
	Verdicts map[string]int64

	// Solver
	SolverTimeouts int64
	SolverCrashes  int64

	// Connection
	Reconnects      int64
	HeartbeatDrops  int64
	ProtocolErrors  int64
	MessagesDropped int64

	// Submission
	SubmissionRetries  int64
	SubmissionFailures int64

	// Dimensions (informational, set at construction)
	Token  string
	Solver string
}

// Collector accumulates counters during a client run.
// Thread-safe via sync.Mutex.
type Collector struct {
	mu sync.Mutex

	matchesStarted   int64
	matchesCompleted int64
	matchesAborted   int64

	verdicts map[string]int64

	solverTimeouts int64
	solverCrashes  int64

	reconnects      int64
	heartbeatDrops  int64
	protocolErrors  int64
	messagesDropped int64

	submissionRetries  int64
	submissionFailures int64

	token  string
	solver string
}

// NewCollector creates a Collector with dimension labels. The token label
// is truncated to its prefix by the caller when logged; the collector
// stores it verbatim.
func NewCollector(token, solver string) *Collector {
	return &Collector{
		verdicts: make(map[string]int64),
		token:    token,
		solver:   solver,
	}
}

// IncMatchStarted records a session entering FetchingProblem.
func (c *Collector) IncMatchStarted() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.matchesStarted++
	c.mu.Unlock()
}

// IncMatchCompleted records a session closed by a ResultAck.
func (c *Collector) IncMatchCompleted() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.matchesCompleted++
	c.mu.Unlock()
}

// IncMatchAborted records a session torn down before acknowledgment.
func (c *Collector) IncMatchAborted() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.matchesAborted++
	c.mu.Unlock()
}

// IncVerdict records a derived verdict by wire value.
func (c *Collector) IncVerdict(verdict string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.verdicts[verdict]++
	c.mu.Unlock()
}

// IncSolverTimeout records a deadline-exceeded kill.
func (c *Collector) IncSolverTimeout() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.solverTimeouts++
	c.mu.Unlock()
}

// IncSolverCrash records a solver crash or malformed output.
func (c *Collector) IncSolverCrash() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.solverCrashes++
	c.mu.Unlock()
}

// IncReconnect records a reconnect attempt.
func (c *Collector) IncReconnect() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.reconnects++
	c.mu.Unlock()
}

// IncHeartbeatDrop records a forced reconnect due to silence.
func (c *Collector) IncHeartbeatDrop() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.heartbeatDrops++
	c.mu.Unlock()
}

// IncProtocolError records a wire decode failure.
func (c *Collector) IncProtocolError() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.protocolErrors++
	c.mu.Unlock()
}

// IncMessageDropped records an outbound message dropped on queue overflow.
func (c *Collector) IncMessageDropped() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.messagesDropped++
	c.mu.Unlock()
}

// IncSubmissionRetry records a retransmitted result submission.
func (c *Collector) IncSubmissionRetry() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.submissionRetries++
	c.mu.Unlock()
}

// IncSubmissionFailure records a submission that exhausted its retries.
func (c *Collector) IncSubmissionFailure() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.submissionFailures++
	c.mu.Unlock()
}

// Snapshot returns an immutable point-in-time view of all counters.
// The returned Snapshot is safe to read concurrently; the Collector can
// continue to be mutated independently.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	verdicts := make(map[string]int64, len(c.verdicts))
	for k, v := range c.verdicts {
		verdicts[k] = v
	}

	return Snapshot{
		MatchesStarted:   c.matchesStarted,
		MatchesCompleted: c.matchesCompleted,
		MatchesAborted:   c.matchesAborted,

		Verdicts: verdicts,

		SolverTimeouts: c.solverTimeouts,
		SolverCrashes:  c.solverCrashes,

		Reconnects:      c.reconnects,
		HeartbeatDrops:  c.heartbeatDrops,
		ProtocolErrors:  c.protocolErrors,
		MessagesDropped: c.messagesDropped,

		SubmissionRetries:  c.submissionRetries,
		SubmissionFailures: c.submissionFailures,

		Token:  c.token,
		Solver: c.solver,
	}
}
