// Package protocol implements the match server wire protocol: the message
// set, msgpack encoding, and length-prefixed framing.
//
// The codec is pure translation between wire bytes and in-memory message
// values. It has no knowledge of connection state; a well-formed message
// arriving at the wrong time decodes fine and is rejected contextually by
// the session state machine.
package protocol

import (
	"github.com/leagueofsolvers/satclient/types"
)

// Kind is the wire discriminator for a message.
type Kind string

// Message kinds.
const (
	KindAuthenticate      Kind = "authenticate"
	KindAuthAccepted      Kind = "auth_accepted"
	KindAuthRejected      Kind = "auth_rejected"
	KindMatchAnnouncement Kind = "match_announcement"
	KindRequestProblem    Kind = "request_problem"
	KindProblemData       Kind = "problem_data"
	KindSubmitResult      Kind = "submit_result"
	KindResultAck         Kind = "result_ack"
	KindHeartbeat         Kind = "heartbeat"
	KindError             Kind = "error"
)

// Message is the closed set of protocol messages. Only types in this
// package implement it, which keeps Encode exhaustive by construction.
type Message interface {
	Kind() Kind
	isMessage()
}

// Authenticate opens the handshake with the solver's competition token.
type Authenticate struct {
	Type          Kind   `msgpack:"type"`
	Token         string `msgpack:"token"`
	ClientVersion string `msgpack:"client_version,omitempty"`
}

// AuthAccepted confirms the handshake; the connection is Ready after it.
type AuthAccepted struct {
	Type Kind `msgpack:"type"`
}

// AuthRejected terminates the handshake. Rejection is a configuration
// error (bad token) and is fatal for the process run.
type AuthRejected struct {
	Type   Kind   `msgpack:"type"`
	Reason string `msgpack:"reason"`
}

// MatchAnnouncement opens a new session. DurationMS is the server-granted
// solving budget; the client derives its deadline from it.
type MatchAnnouncement struct {
	Type       Kind   `msgpack:"type"`
	SessionID  string `msgpack:"session_id"`
	ProblemID  string `msgpack:"problem_id"`
	DurationMS int64  `msgpack:"duration_ms"`
}

// RequestProblem asks the server for the payload of the announced problem.
type RequestProblem struct {
	Type      Kind   `msgpack:"type"`
	SessionID string `msgpack:"session_id"`
}

// ProblemData delivers the problem payload for a session.
type ProblemData struct {
	Type      Kind   `msgpack:"type"`
	SessionID string `msgpack:"session_id"`
	ProblemID string `msgpack:"problem_id"`
	Payload   []byte `msgpack:"payload"`
	Checksum  string `msgpack:"checksum,omitempty"`
}

// SubmitResult reports the verdict for a session. Retransmission under the
// same session id is safe; the server deduplicates on it.
type SubmitResult struct {
	Type      Kind          `msgpack:"type"`
	SessionID string        `msgpack:"session_id"`
	Verdict   types.Verdict `msgpack:"verdict"`
	Reason    types.Reason  `msgpack:"reason,omitempty"`
	Digest    string        `msgpack:"stdout_digest,omitempty"`
}

// ResultAck acknowledges a SubmitResult and closes the session.
type ResultAck struct {
	Type      Kind   `msgpack:"type"`
	SessionID string `msgpack:"session_id"`
}

// Heartbeat is the periodic liveness message, sent in both directions.
type Heartbeat struct {
	Type Kind `msgpack:"type"`
}

// ServerError is a server-reported error. The session state machine treats
// it as an abort signal for the current session.
type ServerError struct {
	Type    Kind   `msgpack:"type"`
	Code    string `msgpack:"code"`
	Message string `msgpack:"message"`
}

// Kind implementations.
func (*Authenticate) Kind() Kind      { return KindAuthenticate }
func (*AuthAccepted) Kind() Kind      { return KindAuthAccepted }
func (*AuthRejected) Kind() Kind      { return KindAuthRejected }
func (*MatchAnnouncement) Kind() Kind { return KindMatchAnnouncement }
func (*RequestProblem) Kind() Kind    { return KindRequestProblem }
func (*ProblemData) Kind() Kind       { return KindProblemData }
func (*SubmitResult) Kind() Kind      { return KindSubmitResult }
func (*ResultAck) Kind() Kind         { return KindResultAck }
func (*Heartbeat) Kind() Kind         { return KindHeartbeat }
func (*ServerError) Kind() Kind       { return KindError }

func (*Authenticate) isMessage()      {}
func (*AuthAccepted) isMessage()      {}
func (*AuthRejected) isMessage()      {}
func (*MatchAnnouncement) isMessage() {}
func (*RequestProblem) isMessage()    {}
func (*ProblemData) isMessage()       {}
func (*SubmitResult) isMessage()      {}
func (*ResultAck) isMessage()         {}
func (*Heartbeat) isMessage()         {}
func (*ServerError) isMessage()       {}
