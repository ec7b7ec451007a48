package domain

import (
	"errors"
	"math"
	"testing"
	"time"
)

func TestValueEqual(t *testing.T) {
	tests := []struct {
		name string
		a, b Value
		want bool
	}{
		{"no data", NoData(), NoData(), true},
		{"numbers", Number(1.5), Number(1.5), true},
		{"nan", Number(math.NaN()), Number(math.NaN()), true},
		{"signed zero", Number(0), Number(math.Copysign(0, -1)), false},
		{"number vs string", Number(1), String("1"), false},
		{"sequences", Sequence([]float64{1, 2}), Sequence([]float64{1, 2}), true},
		{"sequence length", Sequence([]float64{1}), Sequence([]float64{1, 2}), false},
		{"empty sequence", Sequence(nil), Sequence([]float64{}), true},
		{"no data vs empty string", NoData(), String(""), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Equal(tt.b); got != tt.want {
				t.Fatalf("Equal(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestSequenceIsCopied(t *testing.T) {
	in := []float64{1, 2, 3}
	v := Sequence(in)
	in[0] = 99

	seq, ok := v.Seq()
	if !ok || seq[0] != 1 {
		t.Fatalf("expected sequence to be copied on construction, got %v", seq)
	}
	seq[1] = 99
	if again, _ := v.Seq(); again[1] != 2 {
		t.Fatalf("expected Seq to return a copy, got %v", again)
	}
	if v.Len() != 3 || NoData().Len() != 0 || Number(1).Len() != 1 {
		t.Fatalf("unexpected lengths")
	}
}

func TestMetadataKeywords(t *testing.T) {
	m := Metadata{Keywords: " a, ,b ,"}
	got := m.KeywordList()
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("unexpected keyword list %v", got)
	}
	if j := JoinKeywords([]string{" golden run ", "", "ref,x"}); j != "golden_run,ref,x" {
		t.Fatalf("unexpected joined keywords %q", j)
	}
}

func TestMetadataSaveTime(t *testing.T) {
	m := Metadata{SaveTime: 1700000000.5}
	if got := m.SaveTimeAsTime(); !got.Equal(time.Unix(1700000000, 500000000)) {
		t.Fatalf("unexpected save time %s", got)
	}
}

func TestSnapshotLookupAndEqual(t *testing.T) {
	a := &Snapshot{Entries: []Entry{{Name: "pv:a", Value: Number(1)}, {Name: "pv:a", Value: Number(2)}}}
	if v, ok := a.Lookup("pv:a"); !ok || !v.Equal(Number(1)) {
		t.Fatalf("expected first duplicate, got %v", v)
	}
	if _, ok := a.Lookup("pv:missing"); ok {
		t.Fatalf("expected missing lookup to fail")
	}

	b := &Snapshot{Entries: []Entry{{Name: "pv:a", Value: Number(1)}, {Name: "pv:a", Value: Number(2)}}}
	if !a.Equal(b) {
		t.Fatalf("expected snapshots to be equal")
	}
	b.Metadata.Macros = MacroTable{"A": "B"}
	if a.Equal(b) {
		t.Fatalf("expected macro difference to matter")
	}
}

func TestPVErrorMatching(t *testing.T) {
	cause := errors.New("boom")
	err := error(&PVError{PV: "pv:a", Op: "read", Err: cause})
	if !errors.Is(err, ErrRead) || errors.Is(err, ErrWrite) || !errors.Is(err, cause) {
		t.Fatalf("unexpected matching for %v", err)
	}
}

func TestIncompleteError(t *testing.T) {
	cause := &PVError{PV: "pv:b", Op: "write", Err: ErrTypeMismatch}
	err := error(&IncompleteError{
		Kind: ErrIncompleteRestore,
		Failures: []PVResult{
			{Name: "pv:b", Status: StatusTypeError, Err: cause},
			{Name: "pv:c", Status: StatusTimeout},
		},
	})
	if !errors.Is(err, ErrIncompleteRestore) || errors.Is(err, ErrIncompleteConnection) {
		t.Fatalf("unexpected kind matching for %v", err)
	}
	if !errors.Is(err, ErrTypeMismatch) {
		t.Fatalf("expected per-pv causes to be reachable")
	}
	var inc *IncompleteError
	if !errors.As(err, &inc) || len(inc.FailedNames()) != 2 || inc.FailedNames()[1] != "pv:c" {
		t.Fatalf("unexpected failed names")
	}
}

func TestReportCounts(t *testing.T) {
	start := time.Unix(0, 0)
	r := &Report{
		Started:  start,
		Finished: start.Add(time.Second),
		Results: []PVResult{
			{Status: StatusOK}, {Status: StatusEqual}, {Status: StatusNoValue}, {Status: StatusWriteError},
		},
	}
	if len(r.Failures()) != 1 || r.Count(StatusOK) != 1 || r.Elapsed() != time.Second {
		t.Fatalf("unexpected report aggregates")
	}
}
