package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/leagueofsolvers/satclient/adapter"
	"github.com/leagueofsolvers/satclient/conn"
	"github.com/leagueofsolvers/satclient/log"
	"github.com/leagueofsolvers/satclient/metrics"
	"github.com/leagueofsolvers/satclient/protocol"
	"github.com/leagueofsolvers/satclient/solver"
	"github.com/leagueofsolvers/satclient/types"
)

func testLogger() *log.Logger {
	return log.New(zapcore.DebugLevel).WithOutput(io.Discard)
}

// fakeConn feeds scripted inbound messages and records outbound sends.
type fakeConn struct {
	inbound chan protocol.Message
	states  chan conn.State
	sent    chan protocol.Message
	ready   atomic.Bool
}

func newFakeConn() *fakeConn {
	c := &fakeConn{
		inbound: make(chan protocol.Message, 16),
		states:  make(chan conn.State, 16),
		sent:    make(chan protocol.Message, 32),
	}
	c.ready.Store(true)
	return c
}

func (c *fakeConn) Inbound() <-chan protocol.Message { return c.inbound }
func (c *fakeConn) StateChanges() <-chan conn.State  { return c.states }
func (c *fakeConn) Send(msg protocol.Message)        { c.sent <- msg }
func (c *fakeConn) Ready() bool                      { return c.ready.Load() }

// expectSent waits for the next outbound message of the given kind,
// failing on anything else.
func (c *fakeConn) expectSent(t *testing.T, kind protocol.Kind) protocol.Message {
	t.Helper()
	select {
	case msg := <-c.sent:
		if msg.Kind() != kind {
			t.Fatalf("sent %q, want %q", msg.Kind(), kind)
		}
		return msg
	case <-time.After(5 * time.Second):
		t.Fatalf("nothing sent, wanted %q", kind)
		return nil
	}
}

// fakeInvoker returns a canned invocation, optionally blocking until the
// context is canceled.
type fakeInvoker struct {
	inv      *solver.Invocation
	blockFor time.Duration
	calls    atomic.Int32
	canceled atomic.Bool
}

func (f *fakeInvoker) Invoke(ctx context.Context, problem *types.Problem, deadline time.Time) (*solver.Invocation, error) {
	f.calls.Add(1)
	if f.blockFor > 0 {
		select {
		case <-time.After(f.blockFor):
		case <-ctx.Done():
			f.canceled.Store(true)
			return &solver.Invocation{
				ProblemID: problem.ID,
				Verdict:   types.VerdictUnknown,
				Reason:    types.ReasonAborted,
			}, nil
		}
	}
	inv := *f.inv
	inv.ProblemID = problem.ID
	return &inv, nil
}

// recordingAdapter collects reported events.
type recordingAdapter struct {
	mu     sync.Mutex
	events []adapter.MatchReportedEvent
	notify chan struct{}
}

func newRecordingAdapter() *recordingAdapter {
	return &recordingAdapter{notify: make(chan struct{}, 8)}
}

func (a *recordingAdapter) MatchReported(_ context.Context, ev adapter.MatchReportedEvent) error {
	a.mu.Lock()
	a.events = append(a.events, ev)
	a.mu.Unlock()
	a.notify <- struct{}{}
	return nil
}

func (a *recordingAdapter) last(t *testing.T) adapter.MatchReportedEvent {
	t.Helper()
	select {
	case <-a.notify:
	case <-time.After(5 * time.Second):
		t.Fatal("no event reported")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.events[len(a.events)-1]
}

// recordingNotifier collects abort notifications.
type recordingNotifier struct {
	mu      sync.Mutex
	aborted []string
	notify  chan struct{}
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{notify: make(chan struct{}, 8)}
}

func (n *recordingNotifier) MatchStarted(string, time.Time)                    {}
func (n *recordingNotifier) MatchFinished(string, types.Verdict, types.Reason) {}

func (n *recordingNotifier) MatchAborted(sessionID string) {
	n.mu.Lock()
	n.aborted = append(n.aborted, sessionID)
	n.mu.Unlock()
	n.notify <- struct{}{}
}

func (n *recordingNotifier) lastAborted(t *testing.T) string {
	t.Helper()
	select {
	case <-n.notify:
	case <-time.After(5 * time.Second):
		t.Fatal("no abort notification")
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.aborted[len(n.aborted)-1]
}

func payloadWithChecksum(body string) (payload []byte, checksum string) {
	payload = []byte(body)
	sum := sha256.Sum256(payload)
	return payload, hex.EncodeToString(sum[:])
}

func startRunner(t *testing.T, cfg Config) (*Runner, context.CancelFunc) {
	t.Helper()
	r, err := NewRunner(cfg)
	if err != nil {
		t.Fatalf("NewRunner failed: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = r.Run(ctx) }()
	t.Cleanup(cancel)
	return r, cancel
}

func TestRunner_FullMatchFlow(t *testing.T) {
	fc := newFakeConn()
	inv := &fakeInvoker{inv: &solver.Invocation{
		Verdict: types.VerdictSat,
		Reason:  types.ReasonCompleted,
		Witness: []int{1, -2},
	}}
	ad := newRecordingAdapter()
	col := metrics.NewCollector("tok", "kissat")

	startRunner(t, Config{
		Conn:       fc,
		Invoker:    inv,
		SolverName: "kissat",
		Adapter:    ad,
		AckTimeout: time.Hour,
		Logger:     testLogger(),
		Collector:  col,
	})

	fc.inbound <- &protocol.MatchAnnouncement{SessionID: "S1", ProblemID: "P1", DurationMS: 600_000}
	req := fc.expectSent(t, protocol.KindRequestProblem).(*protocol.RequestProblem)
	if req.SessionID != "S1" {
		t.Errorf("request session = %q, want S1", req.SessionID)
	}

	payload, sum := payloadWithChecksum("p cnf 2 1\n1 -2 0\n")
	fc.inbound <- &protocol.ProblemData{SessionID: "S1", ProblemID: "P1", Payload: payload, Checksum: sum}

	sub := fc.expectSent(t, protocol.KindSubmitResult).(*protocol.SubmitResult)
	if sub.Verdict != "sat" || sub.SessionID != "S1" {
		t.Errorf("submission = %+v", sub)
	}
	if sub.Digest == "" {
		t.Error("sat submission carries no witness digest")
	}

	fc.inbound <- &protocol.ResultAck{SessionID: "S1"}

	ev := ad.last(t)
	if ev.SessionID != "S1" || ev.ProblemID != "P1" || ev.Verdict != "sat" {
		t.Errorf("reported event = %+v", ev)
	}

	waitCounter(t, func() int64 { return col.Snapshot().MatchesCompleted }, 1)
	if got := col.Snapshot().Verdicts["sat"]; got != 1 {
		t.Errorf("sat verdicts = %d, want 1", got)
	}
}

func waitCounter(t *testing.T, read func() int64, want int64) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if read() >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("counter = %d, want at least %d", read(), want)
}

func TestRunner_ChecksumMismatchRerequestsThenAborts(t *testing.T) {
	fc := newFakeConn()
	inv := &fakeInvoker{inv: &solver.Invocation{Verdict: types.VerdictSat, Reason: types.ReasonCompleted}}
	col := metrics.NewCollector("tok", "kissat")

	startRunner(t, Config{
		Conn:      fc,
		Invoker:   inv,
		Logger:    testLogger(),
		Collector: col,
	})

	fc.inbound <- &protocol.MatchAnnouncement{SessionID: "S1", ProblemID: "P1", DurationMS: 60_000}
	fc.expectSent(t, protocol.KindRequestProblem)

	bad := &protocol.ProblemData{SessionID: "S1", ProblemID: "P1", Payload: []byte("x"), Checksum: "deadbeef"}
	fc.inbound <- bad
	fc.expectSent(t, protocol.KindRequestProblem)

	fc.inbound <- bad
	waitCounter(t, func() int64 { return col.Snapshot().MatchesAborted }, 1)

	if inv.calls.Load() != 0 {
		t.Error("solver invoked despite corrupt payload")
	}
}

func TestRunner_WrongSessionPayloadAbortsFetch(t *testing.T) {
	fc := newFakeConn()
	inv := &fakeInvoker{inv: &solver.Invocation{Verdict: types.VerdictSat, Reason: types.ReasonCompleted}}
	col := metrics.NewCollector("tok", "kissat")

	startRunner(t, Config{
		Conn:      fc,
		Invoker:   inv,
		Logger:    testLogger(),
		Collector: col,
	})

	fc.inbound <- &protocol.MatchAnnouncement{SessionID: "S1", ProblemID: "P1", DurationMS: 60_000}
	fc.expectSent(t, protocol.KindRequestProblem)

	payload, sum := payloadWithChecksum("p cnf 1 1\n1 0\n")
	fc.inbound <- &protocol.ProblemData{SessionID: "S9", ProblemID: "P9", Payload: payload, Checksum: sum}

	waitCounter(t, func() int64 { return col.Snapshot().MatchesAborted }, 1)
	waitCounter(t, func() int64 { return col.Snapshot().ProtocolErrors }, 1)

	if inv.calls.Load() != 0 {
		t.Error("solver invoked despite mismatched session payload")
	}
}

func TestRunner_PreemptionAbortNamesOldSession(t *testing.T) {
	fc := newFakeConn()
	inv := &fakeInvoker{
		inv:      &solver.Invocation{Verdict: types.VerdictSat, Reason: types.ReasonCompleted},
		blockFor: time.Hour,
	}
	nt := newRecordingNotifier()

	startRunner(t, Config{
		Conn:     fc,
		Invoker:  inv,
		Notifier: nt,
		Logger:   testLogger(),
	})

	fc.inbound <- &protocol.MatchAnnouncement{SessionID: "S1", ProblemID: "P1", DurationMS: 60_000}
	fc.expectSent(t, protocol.KindRequestProblem)
	payload, sum := payloadWithChecksum("p cnf 1 1\n1 0\n")
	fc.inbound <- &protocol.ProblemData{SessionID: "S1", ProblemID: "P1", Payload: payload, Checksum: sum}

	fc.inbound <- &protocol.MatchAnnouncement{SessionID: "S2", ProblemID: "P2", DurationMS: 60_000}
	fc.expectSent(t, protocol.KindRequestProblem)

	if got := nt.lastAborted(t); got != "S1" {
		t.Errorf("aborted session = %q, want S1", got)
	}
}

func TestRunner_DisconnectAbortNamesFetchingSession(t *testing.T) {
	fc := newFakeConn()
	inv := &fakeInvoker{inv: &solver.Invocation{Verdict: types.VerdictSat, Reason: types.ReasonCompleted}}
	nt := newRecordingNotifier()

	startRunner(t, Config{
		Conn:     fc,
		Invoker:  inv,
		Notifier: nt,
		Logger:   testLogger(),
	})

	fc.inbound <- &protocol.MatchAnnouncement{SessionID: "S1", ProblemID: "P1", DurationMS: 60_000}
	fc.expectSent(t, protocol.KindRequestProblem)
	fc.states <- conn.StateDisconnected

	if got := nt.lastAborted(t); got != "S1" {
		t.Errorf("aborted session = %q, want S1", got)
	}
}

func TestRunner_OutageHoldsRetryBudget(t *testing.T) {
	fc := newFakeConn()
	inv := &fakeInvoker{inv: &solver.Invocation{Verdict: types.VerdictUnsat, Reason: types.ReasonCompleted}}
	col := metrics.NewCollector("tok", "kissat")

	startRunner(t, Config{
		Conn:       fc,
		Invoker:    inv,
		AckTimeout: 40 * time.Millisecond,
		MaxRetries: 1,
		Logger:     testLogger(),
		Collector:  col,
	})

	fc.inbound <- &protocol.MatchAnnouncement{SessionID: "S1", ProblemID: "P1", DurationMS: 60_000}
	fc.expectSent(t, protocol.KindRequestProblem)
	payload, sum := payloadWithChecksum("p cnf 1 1\n1 0\n")
	fc.inbound <- &protocol.ProblemData{SessionID: "S1", ProblemID: "P1", Payload: payload, Checksum: sum}
	fc.expectSent(t, protocol.KindSubmitResult)

	// An outage much longer than MaxRetries ack timeouts must not
	// abandon the pending submission.
	fc.ready.Store(false)
	fc.states <- conn.StateDisconnected
	time.Sleep(250 * time.Millisecond)
	if got := col.Snapshot().SubmissionFailures; got != 0 {
		t.Fatalf("SubmissionFailures = %d during outage, want 0", got)
	}

	fc.ready.Store(true)
	fc.states <- conn.StateReady
	fc.expectSent(t, protocol.KindSubmitResult)
	fc.inbound <- &protocol.ResultAck{SessionID: "S1"}
	waitCounter(t, func() int64 { return col.Snapshot().MatchesCompleted }, 1)
}

func TestRunner_AckTimeoutRetransmitsThenGivesUp(t *testing.T) {
	fc := newFakeConn()
	inv := &fakeInvoker{inv: &solver.Invocation{Verdict: types.VerdictUnsat, Reason: types.ReasonCompleted}}
	col := metrics.NewCollector("tok", "kissat")

	startRunner(t, Config{
		Conn:       fc,
		Invoker:    inv,
		AckTimeout: 20 * time.Millisecond,
		MaxRetries: 2,
		Logger:     testLogger(),
		Collector:  col,
	})

	fc.inbound <- &protocol.MatchAnnouncement{SessionID: "S1", ProblemID: "P1", DurationMS: 60_000}
	fc.expectSent(t, protocol.KindRequestProblem)
	payload, sum := payloadWithChecksum("p cnf 1 1\n1 0\n")
	fc.inbound <- &protocol.ProblemData{SessionID: "S1", ProblemID: "P1", Payload: payload, Checksum: sum}

	// Initial send plus two retransmissions, then the runner gives up.
	fc.expectSent(t, protocol.KindSubmitResult)
	fc.expectSent(t, protocol.KindSubmitResult)
	fc.expectSent(t, protocol.KindSubmitResult)

	waitCounter(t, func() int64 { return col.Snapshot().SubmissionFailures }, 1)
	waitCounter(t, func() int64 { return col.Snapshot().SubmissionRetries }, 2)
}

func TestRunner_DisconnectDuringSolveKeepsSolverRunning(t *testing.T) {
	fc := newFakeConn()
	inv := &fakeInvoker{
		inv:      &solver.Invocation{Verdict: types.VerdictSat, Reason: types.ReasonCompleted},
		blockFor: 100 * time.Millisecond,
	}

	startRunner(t, Config{
		Conn:       fc,
		Invoker:    inv,
		AckTimeout: time.Hour,
		Logger:     testLogger(),
	})

	fc.inbound <- &protocol.MatchAnnouncement{SessionID: "S1", ProblemID: "P1", DurationMS: 60_000}
	fc.expectSent(t, protocol.KindRequestProblem)
	payload, sum := payloadWithChecksum("p cnf 1 1\n1 0\n")
	fc.inbound <- &protocol.ProblemData{SessionID: "S1", ProblemID: "P1", Payload: payload, Checksum: sum}

	// Drop and restore the link while the solver is still working.
	fc.states <- conn.StateDisconnected
	fc.states <- conn.StateReady

	sub := fc.expectSent(t, protocol.KindSubmitResult).(*protocol.SubmitResult)
	if sub.Verdict != "sat" {
		t.Errorf("Verdict = %q, want sat", sub.Verdict)
	}
	if inv.canceled.Load() {
		t.Error("solver was canceled by a transient disconnect")
	}
}

func TestRunner_PreemptionCancelsRunningSolver(t *testing.T) {
	fc := newFakeConn()
	inv := &fakeInvoker{
		inv:      &solver.Invocation{Verdict: types.VerdictSat, Reason: types.ReasonCompleted},
		blockFor: time.Hour,
	}

	startRunner(t, Config{
		Conn:       fc,
		Invoker:    inv,
		AckTimeout: time.Hour,
		Logger:     testLogger(),
	})

	fc.inbound <- &protocol.MatchAnnouncement{SessionID: "S1", ProblemID: "P1", DurationMS: 60_000}
	fc.expectSent(t, protocol.KindRequestProblem)
	payload, sum := payloadWithChecksum("p cnf 1 1\n1 0\n")
	fc.inbound <- &protocol.ProblemData{SessionID: "S1", ProblemID: "P1", Payload: payload, Checksum: sum}

	// A new session arrives while S1 is still solving.
	fc.inbound <- &protocol.MatchAnnouncement{SessionID: "S2", ProblemID: "P2", DurationMS: 60_000}
	req := fc.expectSent(t, protocol.KindRequestProblem).(*protocol.RequestProblem)
	if req.SessionID != "S2" {
		t.Errorf("request session = %q, want S2", req.SessionID)
	}

	deadline := time.Now().Add(5 * time.Second)
	for !inv.canceled.Load() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !inv.canceled.Load() {
		t.Error("preempted solver was not canceled")
	}
}

func TestRunner_TimeoutVerdictSubmittedAsUnknown(t *testing.T) {
	fc := newFakeConn()
	inv := &fakeInvoker{inv: &solver.Invocation{
		Verdict: types.VerdictUnknown,
		Reason:  types.ReasonTimeout,
	}}
	ad := newRecordingAdapter()

	startRunner(t, Config{
		Conn:       fc,
		Invoker:    inv,
		Adapter:    ad,
		AckTimeout: time.Hour,
		Logger:     testLogger(),
	})

	fc.inbound <- &protocol.MatchAnnouncement{SessionID: "S1", ProblemID: "P1", DurationMS: 60_000}
	fc.expectSent(t, protocol.KindRequestProblem)
	payload, sum := payloadWithChecksum("p cnf 1 1\n1 0\n")
	fc.inbound <- &protocol.ProblemData{SessionID: "S1", ProblemID: "P1", Payload: payload, Checksum: sum}

	sub := fc.expectSent(t, protocol.KindSubmitResult).(*protocol.SubmitResult)
	if sub.Verdict != "unknown" || sub.Reason != "timeout" {
		t.Errorf("submission = %q/%q, want unknown/timeout", sub.Verdict, sub.Reason)
	}
	if sub.Digest != "" {
		t.Errorf("Digest = %q, want empty without a witness", sub.Digest)
	}

	fc.inbound <- &protocol.ResultAck{SessionID: "S1"}
	if ev := ad.last(t); ev.Reason != "timeout" {
		t.Errorf("reported reason = %q, want timeout", ev.Reason)
	}
}
