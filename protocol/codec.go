package protocol

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// ProtocolError reports malformed or unrecognized wire data. It carries
// the raw offending bytes for diagnostics.
type ProtocolError struct {
	Raw []byte
	Msg string
	Err error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// kindProbe peeks at the type field without a full decode.
type kindProbe struct {
	Type Kind `msgpack:"type"`
}

// Encode serializes a message to its msgpack wire form.
//
// The switch stamps the type discriminator and is exhaustive over the
// closed Message set; a missing case is a programming error, not a
// runtime condition, so the default panics.
func Encode(msg Message) ([]byte, error) {
	switch m := msg.(type) {
	case *Authenticate:
		m.Type = KindAuthenticate
	case *AuthAccepted:
		m.Type = KindAuthAccepted
	case *AuthRejected:
		m.Type = KindAuthRejected
	case *MatchAnnouncement:
		m.Type = KindMatchAnnouncement
	case *RequestProblem:
		m.Type = KindRequestProblem
	case *ProblemData:
		m.Type = KindProblemData
	case *SubmitResult:
		m.Type = KindSubmitResult
	case *ResultAck:
		m.Type = KindResultAck
	case *Heartbeat:
		m.Type = KindHeartbeat
	case *ServerError:
		m.Type = KindError
	default:
		panic(fmt.Sprintf("protocol: unencodable message type %T", msg))
	}
	return msgpack.Marshal(msg)
}

// Decode deserializes a msgpack payload into a protocol message.
// Malformed bytes or an unrecognized kind fail with *ProtocolError
// carrying the raw payload.
func Decode(payload []byte) (Message, error) {
	var probe kindProbe
	if err := msgpack.Unmarshal(payload, &probe); err != nil {
		return nil, &ProtocolError{
			Raw: payload,
			Msg: "failed to decode message type",
			Err: err,
		}
	}

	var msg Message
	switch probe.Type {
	case KindAuthenticate:
		msg = &Authenticate{}
	case KindAuthAccepted:
		msg = &AuthAccepted{}
	case KindAuthRejected:
		msg = &AuthRejected{}
	case KindMatchAnnouncement:
		msg = &MatchAnnouncement{}
	case KindRequestProblem:
		msg = &RequestProblem{}
	case KindProblemData:
		msg = &ProblemData{}
	case KindSubmitResult:
		msg = &SubmitResult{}
	case KindResultAck:
		msg = &ResultAck{}
	case KindHeartbeat:
		msg = &Heartbeat{}
	case KindError:
		msg = &ServerError{}
	default:
		return nil, &ProtocolError{
			Raw: payload,
			Msg: fmt.Sprintf("unrecognized message kind %q", probe.Type),
		}
	}

	if err := msgpack.Unmarshal(payload, msg); err != nil {
		return nil, &ProtocolError{
			Raw: payload,
			Msg: fmt.Sprintf("failed to decode %q message", probe.Type),
			Err: err,
		}
	}
	return msg, nil
}
