package solver

import (
	"reflect"
	"testing"

	"github.com/leagueofsolvers/satclient/types"
)

func TestParseOutput_Satisfiable(t *testing.T) {
	stdout := []byte("c kissat 3.1\nc parsing done\ns SATISFIABLE\nv 1 -2 3\nv -4 0\n")

	out := ParseOutput(stdout)
	if !out.Found {
		t.Fatal("status line not recognized")
	}
	if out.Verdict != types.VerdictSat {
		t.Errorf("Verdict = %q, want sat", out.Verdict)
	}
	if want := []int{1, -2, 3, -4}; !reflect.DeepEqual(out.Witness, want) {
		t.Errorf("Witness = %v, want %v", out.Witness, want)
	}
}

func TestParseOutput_Unsatisfiable(t *testing.T) {
	out := ParseOutput([]byte("c proof done\ns UNSATISFIABLE\n"))
	if !out.Found || out.Verdict != types.VerdictUnsat {
		t.Errorf("out = %+v, want unsat", out)
	}
}

func TestParseOutput_Unknown(t *testing.T) {
	out := ParseOutput([]byte("s UNKNOWN\n"))
	if !out.Found || out.Verdict != types.VerdictUnknown {
		t.Errorf("out = %+v, want unknown", out)
	}
}

func TestParseOutput_NoStatusLine(t *testing.T) {
	out := ParseOutput([]byte("c only comments here\nsegfault imminent\n"))
	if out.Found {
		t.Errorf("out = %+v, want Found=false", out)
	}
}

func TestParseOutput_FirstStatusLineWins(t *testing.T) {
	out := ParseOutput([]byte("s UNSATISFIABLE\ns SATISFIABLE\nv 1 0\n"))
	if out.Verdict != types.VerdictUnsat {
		t.Errorf("Verdict = %q, want unsat (first status line)", out.Verdict)
	}
}

func TestParseOutput_WitnessStopsAtZero(t *testing.T) {
	out := ParseOutput([]byte("s SATISFIABLE\nv 5 -6 0\nv 7 8 0\n"))
	if want := []int{5, -6}; !reflect.DeepEqual(out.Witness, want) {
		t.Errorf("Witness = %v, want %v", out.Witness, want)
	}
}

func TestWitnessDigest(t *testing.T) {
	a := WitnessDigest([]int{1, -2, 3})
	b := WitnessDigest([]int{1, -2, 3})
	c := WitnessDigest([]int{1, 2, 3})

	if a == "" || len(a) != 32 {
		t.Errorf("digest = %q, want 32 hex chars", a)
	}
	if a != b {
		t.Error("digest is not deterministic")
	}
	if a == c {
		t.Error("distinct witnesses share a digest")
	}
	if WitnessDigest(nil) != "" {
		t.Error("empty witness should digest to empty string")
	}
}
