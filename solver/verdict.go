package solver

import (
	"crypto/md5"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/leagueofsolvers/satclient/types"
)

// Outcome is the parse of a solver's standard output.
type Outcome struct {
	// Verdict derived from the first recognized status line.
	Verdict types.Verdict
	// Witness is the assignment literals for SAT outcomes, terminated in
	// the output by a bare 0 which is not included here.
	Witness []int
	// Found reports whether any recognized status line was present.
	Found bool
}

// ParseOutput scans solver standard output for the competition's token
// grammar: comment lines start with "c", the status line is one of
// "s SATISFIABLE", "s UNSATISFIABLE", "s UNKNOWN", and satisfiable runs
// list their assignment on "v" lines terminated by a 0 literal.
//
// The first recognized status line determines the verdict. Absence of a
// status line leaves Found false; the supervisor maps that to an error
// verdict.
func ParseOutput(stdout []byte) Outcome {
	var out Outcome
	sawSat := false

	for line := range strings.Lines(string(stdout)) {
		line = strings.TrimRight(line, "\r\n")
		switch {
		case strings.HasPrefix(line, "c"):
			continue

		case strings.HasPrefix(line, "s SATISFIABLE"):
			if out.Found {
				continue
			}
			out.Found = true
			out.Verdict = types.VerdictSat
			sawSat = true

		case strings.HasPrefix(line, "s UNSATISFIABLE"):
			if out.Found {
				continue
			}
			out.Found = true
			out.Verdict = types.VerdictUnsat
			return out

		case strings.HasPrefix(line, "s UNKNOWN"):
			if out.Found {
				continue
			}
			out.Found = true
			out.Verdict = types.VerdictUnknown
			return out

		case strings.HasPrefix(line, "v"):
			if !sawSat {
				continue
			}
			fields := strings.Fields(line[1:])
			done := false
			for _, f := range fields {
				lit, err := strconv.Atoi(f)
				if err != nil {
					continue
				}
				if lit == 0 {
					done = true
					break
				}
				out.Witness = append(out.Witness, lit)
			}
			if done {
				return out
			}
		}
	}
	return out
}

// WitnessDigest returns the hex MD5 of the witness assignment, used as the
// stdout digest in result submissions. Empty witness digests to the empty
// string.
func WitnessDigest(witness []int) string {
	if len(witness) == 0 {
		return ""
	}
	parts := make([]string, len(witness))
	for i, lit := range witness {
		parts[i] = strconv.Itoa(lit)
	}
	sum := md5.Sum([]byte(strings.Join(parts, " ")))
	return hex.EncodeToString(sum[:])
}
