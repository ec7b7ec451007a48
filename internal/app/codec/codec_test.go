package codec

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/channelaccess/snapshot/internal/domain"
)

func TestMarshalSampleFile(t *testing.T) {
	snap := &domain.Snapshot{
		Metadata: domain.Metadata{SaveTime: 1700000000.5},
		Entries: []domain.Entry{
			{Name: "examplePv:test-1", Value: domain.Number(20)},
			{Name: "examplePv:test-2", Value: domain.Number(30)},
		},
	}
	got, err := Marshal(snap)
	if err != nil {
		t.Fatalf("Marshal returned error: %v", err)
	}
	want := `#{"keywords": "", "comment": "", "save_time": 1700000000.5}` + "\n" +
		"examplePv:test-1,20\n" +
		"examplePv:test-2,30\n"
	if string(got) != want {
		t.Fatalf("unexpected output:\n%s\nwant:\n%s", got, want)
	}
}

func TestMarshalOptionalHeaderFields(t *testing.T) {
	header, err := EncodeHeader(domain.Metadata{
		Keywords:    "golden,injector",
		Comment:     `before "shutdown" <a&b>`,
		SaveTime:    12,
		ReqFileName: "linac.req",
		Macros:      domain.MacroTable{"SYS": "TST", "DEV": "PS1"},
	})
	if err != nil {
		t.Fatalf("EncodeHeader returned error: %v", err)
	}
	want := `#{"keywords": "golden,injector", "comment": "before \"shutdown\" <a&b>", "save_time": 12, ` +
		`"req_file_name": "linac.req", "macros": {"DEV": "PS1", "SYS": "TST"}}`
	if header != want {
		t.Fatalf("header = %s\nwant     %s", header, want)
	}
}

func TestFormatValue(t *testing.T) {
	tests := []struct {
		name string
		in   domain.Value
		want string
	}{
		{"no data", domain.NoData(), ""},
		{"integer", domain.Number(20), "20"},
		{"negative", domain.Number(-3.25), "-3.25"},
		{"zero", domain.Number(0), "0"},
		{"small", domain.Number(1e-7), "1e-07"},
		{"large integral", domain.Number(1e20), "100000000000000000000"},
		{"huge", domain.Number(1e300), "1e+300"},
		{"nan", domain.Number(math.NaN()), "NaN"},
		{"inf", domain.Number(math.Inf(-1)), "-Infinity"},
		{"string", domain.String("a,b \"c\""), `"a,b \"c\""`},
		{"empty string", domain.String(""), `""`},
		{"sequence", domain.Sequence([]float64{1, 2.5, -3}), "[1, 2.5, -3]"},
		{"empty sequence", domain.Sequence(nil), "[]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FormatValue(tt.in)
			if err != nil {
				t.Fatalf("FormatValue returned error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("FormatValue = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseValue(t *testing.T) {
	tests := []struct {
		raw  string
		want domain.Value
	}{
		{"", domain.NoData()},
		{"  ", domain.NoData()},
		{"20", domain.Number(20)},
		{"-1.5e3", domain.Number(-1500)},
		{"true", domain.Number(1)},
		{`"text, with comma"`, domain.String("text, with comma")},
		{"[1, 2, 3]", domain.Sequence([]float64{1, 2, 3})},
		{"[]", domain.Sequence(nil)},
		{"[ ]", domain.Sequence(nil)},
		{"Infinity", domain.Number(math.Inf(1))},
	}
	for _, tt := range tests {
		got, err := ParseValue(tt.raw)
		if err != nil {
			t.Fatalf("ParseValue(%q) returned error: %v", tt.raw, err)
		}
		if !got.Equal(tt.want) {
			t.Fatalf("ParseValue(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}

	for _, bad := range []string{"abc", `"unterminated`, "[1, 2", "[1, x]", "0x10", "1_000"} {
		if _, err := ParseValue(bad); !errors.Is(err, domain.ErrMalformedValue) {
			t.Fatalf("ParseValue(%q): expected ErrMalformedValue, got %v", bad, err)
		}
	}
}

func TestDecode(t *testing.T) {
	input := `#{"keywords": "k1,k2", "comment": "hello", "save_time": 1700000000.25, "unknown": [1]}

examplePv:test-1,20
#examplePv:disabled,1
examplePv:wave,[1, 2]
examplePv:name,"x"
examplePv:dead,
examplePv:bare
`
	snap, err := Unmarshal([]byte(input))
	if err != nil {
		t.Fatalf("Unmarshal returned error: %v", err)
	}
	if snap.Metadata.Keywords != "k1,k2" || snap.Metadata.Comment != "hello" || snap.Metadata.SaveTime != 1700000000.25 {
		t.Fatalf("unexpected metadata %+v", snap.Metadata)
	}
	names := strings.Join(snap.Names(), ",")
	if names != "examplePv:test-1,examplePv:wave,examplePv:name,examplePv:dead,examplePv:bare" {
		t.Fatalf("unexpected names %s", names)
	}
	if v, _ := snap.Lookup("examplePv:dead"); v.HasData() {
		t.Fatalf("expected no data for dead pv, got %v", v)
	}
	if v, _ := snap.Lookup("examplePv:bare"); v.HasData() {
		t.Fatalf("expected no data for bare pv, got %v", v)
	}
}

func TestDecodeLegacyLabels(t *testing.T) {
	meta, err := DecodeHeader(`#{"labels": ["golden orbit", "", "injector"], "comment": "", "save_time": 1}`)
	if err != nil {
		t.Fatalf("DecodeHeader returned error: %v", err)
	}
	if meta.Keywords != "golden_orbit,injector" {
		t.Fatalf("unexpected keywords %q", meta.Keywords)
	}
}

func TestDecodeMalformedHeader(t *testing.T) {
	for _, input := range []string{
		"",
		"examplePv:test-1,20\n",
		"#not json\n",
		"#[1, 2]\n",
		`#{"keywords": "", "comment": ""}` + "\n",
		`#{"save_time": "yesterday"}` + "\n",
		`#{"save_time": 1, "comment": 5}` + "\n",
	} {
		if _, err := Unmarshal([]byte(input)); !errors.Is(err, domain.ErrMalformedHeader) {
			t.Fatalf("%q: expected ErrMalformedHeader, got %v", input, err)
		}
	}
}

func TestDecodeMalformedValue(t *testing.T) {
	input := `#{"save_time": 1}` + "\nok:pv,1\nbad:pv,twelve\n"
	_, err := Unmarshal([]byte(input))
	if !errors.Is(err, domain.ErrMalformedValue) {
		t.Fatalf("expected ErrMalformedValue, got %v", err)
	}
	var le *domain.LineError
	if !errors.As(err, &le) || le.Line != 3 {
		t.Fatalf("expected line 3 to be reported, got %v", err)
	}
}

func TestEncodeRejectsUnrepresentableNames(t *testing.T) {
	for _, name := range []string{"", "a,b", "#hidden", " padded", "two\nlines"} {
		snap := &domain.Snapshot{Entries: []domain.Entry{{Name: name, Value: domain.Number(1)}}}
		if _, err := Marshal(snap); err == nil {
			t.Fatalf("expected error for name %q", name)
		}
	}
}

func TestRoundTripProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 300

	properties := gopter.NewProperties(parameters)

	roundTrip := func(meta domain.Metadata, v domain.Value) bool {
		snap := &domain.Snapshot{
			Metadata: meta,
			Entries:  []domain.Entry{{Name: "pv:a", Value: v}, {Name: "pv:b", Value: domain.NoData()}},
		}
		data, err := Marshal(snap)
		if err != nil {
			return false
		}
		back, err := Unmarshal(data)
		if err != nil {
			return false
		}
		return snap.Equal(back)
	}

	properties.Property("numbers round-trip exactly", prop.ForAll(
		func(n, ts float64) bool {
			return roundTrip(domain.Metadata{SaveTime: ts}, domain.Number(n))
		},
		gen.Float64(),
		gen.Float64Range(0, 4e9),
	))

	properties.Property("strings round-trip exactly", prop.ForAll(
		func(s, comment string) bool {
			return roundTrip(domain.Metadata{Comment: comment, Keywords: s, SaveTime: 1}, domain.String(s))
		},
		gen.AnyString(),
		gen.AnyString(),
	))

	properties.Property("sequences round-trip exactly", prop.ForAll(
		func(seq []float64) bool {
			return roundTrip(domain.Metadata{SaveTime: 1}, domain.Sequence(seq))
		},
		gen.SliceOf(gen.Float64()),
	))

	properties.TestingRun(t)
}

func TestEncodeRejectsInvalidUTF8(t *testing.T) {
	raw := "\xff\xfe raw"

	if _, err := FormatValue(domain.String(raw)); !errors.Is(err, domain.ErrMalformedValue) {
		t.Fatalf("FormatValue: expected ErrMalformedValue, got %v", err)
	}

	snap := &domain.Snapshot{
		Metadata: domain.Metadata{SaveTime: 1},
		Entries:  []domain.Entry{{Name: "pv:a", Value: domain.String(raw)}},
	}
	if _, err := Marshal(snap); !errors.Is(err, domain.ErrMalformedValue) {
		t.Fatalf("Marshal: expected ErrMalformedValue, got %v", err)
	}

	for _, meta := range []domain.Metadata{
		{Comment: raw},
		{Keywords: raw},
		{ReqFileName: raw},
		{Macros: domain.MacroTable{"SYS": raw}},
		{Macros: domain.MacroTable{raw: "x"}},
	} {
		if _, err := EncodeHeader(meta); !errors.Is(err, domain.ErrMalformedValue) {
			t.Fatalf("EncodeHeader(%+v): expected ErrMalformedValue, got %v", meta, err)
		}
	}

	// valid multi-byte text is untouched
	got, err := FormatValue(domain.String("µA ±5%"))
	if err != nil {
		t.Fatalf("FormatValue returned error: %v", err)
	}
	back, err := ParseValue(got)
	if err != nil || !back.Equal(domain.String("µA ±5%")) {
		t.Fatalf("round trip = %v, %v", back, err)
	}
}
