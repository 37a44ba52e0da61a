package types

import (
	"crypto/sha256"
	"encoding/hex"
)

// Problem is an immutable instance descriptor fetched for one session.
// It is created once from a ProblemData message and never mutated.
type Problem struct {
	// ID is the server-assigned problem identifier.
	ID string
	// Payload is the raw problem text (DIMACS CNF).
	Payload []byte
	// Checksum is the hex SHA-256 of the payload as reported by the
	// server, empty when the server did not provide one.
	Checksum string
}

// NewProblem builds a Problem, copying the payload so later reuse of the
// source buffer cannot alias into the instance.
func NewProblem(id string, payload []byte, checksum string) *Problem {
	p := make([]byte, len(payload))
	copy(p, payload)
	return &Problem{ID: id, Payload: p, Checksum: checksum}
}

// Size returns the payload length in bytes.
func (p *Problem) Size() int { return len(p.Payload) }

// VerifyChecksum reports whether the payload matches the server-provided
// checksum. Always true when no checksum was provided.
func (p *Problem) VerifyChecksum() bool {
	if p.Checksum == "" {
		return true
	}
	sum := sha256.Sum256(p.Payload)
	return hex.EncodeToString(sum[:]) == p.Checksum
}
