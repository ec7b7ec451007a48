// Package codec reads and writes the save-file format:
//
//	#{"keywords": "a,b", "comment": "text", "save_time": 1700000000.25}
//	examplePv:test-1,20
//	examplePv:wave,[1, 2.5, -3]
//	examplePv:name,"text"
//	examplePv:dead,
//
// The header is a JSON object laid out the way Python's json.dumps does it
// so files stay interchangeable with existing tools.
package codec

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/channelaccess/snapshot/internal/domain"
)

const headerMarker = '#'

const (
	keyKeywords    = "keywords"
	keyComment     = "comment"
	keySaveTime    = "save_time"
	keyReqFileName = "req_file_name"
	keyMacros      = "macros"
	keyLabels      = "labels"
)

// Marshal encodes a snapshot into save-file bytes.
func Marshal(s *domain.Snapshot) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, s); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Encode writes the header line followed by one line per entry in order.
func Encode(w io.Writer, s *domain.Snapshot) error {
	if s == nil {
		return fmt.Errorf("encode: nil snapshot")
	}
	bw := bufio.NewWriter(w)

	header, err := EncodeHeader(s.Metadata)
	if err != nil {
		return err
	}
	bw.WriteString(header)
	bw.WriteByte('\n')

	for _, e := range s.Entries {
		if !validName(e.Name) {
			return fmt.Errorf("encode: invalid pv name %q", e.Name)
		}
		val, err := FormatValue(e.Value)
		if err != nil {
			return fmt.Errorf("encode %s: %w", e.Name, err)
		}
		bw.WriteString(e.Name)
		bw.WriteByte(',')
		bw.WriteString(val)
		bw.WriteByte('\n')
	}
	return bw.Flush()
}

// EncodeHeader renders the metadata record including the leading marker.
func EncodeHeader(m domain.Metadata) (string, error) {
	for field, text := range map[string]string{
		keyKeywords:    m.Keywords,
		keyComment:     m.Comment,
		keyReqFileName: m.ReqFileName,
	} {
		if err := checkText(text); err != nil {
			return "", fmt.Errorf("encode %s: %w", field, err)
		}
	}
	for k, v := range m.Macros {
		if err := checkText(k); err != nil {
			return "", fmt.Errorf("encode macro name: %w", err)
		}
		if err := checkText(v); err != nil {
			return "", fmt.Errorf("encode macro %s: %w", k, err)
		}
	}

	var b strings.Builder
	b.WriteByte(headerMarker)
	b.WriteByte('{')

	writeKey(&b, keyKeywords, false)
	b.WriteString(quote(m.Keywords))
	writeKey(&b, keyComment, true)
	b.WriteString(quote(m.Comment))
	writeKey(&b, keySaveTime, true)
	saveTime, err := formatNumber(m.SaveTime)
	if err != nil {
		return "", fmt.Errorf("encode save_time: %w", err)
	}
	b.WriteString(saveTime)

	if m.ReqFileName != "" {
		writeKey(&b, keyReqFileName, true)
		b.WriteString(quote(m.ReqFileName))
	}
	if len(m.Macros) > 0 {
		writeKey(&b, keyMacros, true)
		keys := make([]string, 0, len(m.Macros))
		for k := range m.Macros {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		b.WriteByte('{')
		for i, k := range keys {
			writeKey(&b, k, i > 0)
			b.WriteString(quote(m.Macros[k]))
		}
		b.WriteByte('}')
	}

	b.WriteByte('}')
	return b.String(), nil
}

func writeKey(b *strings.Builder, key string, sep bool) {
	if sep {
		b.WriteString(", ")
	}
	b.WriteString(quote(key))
	b.WriteString(": ")
}

// FormatValue renders the field that follows the comma on a PV line.
func FormatValue(v domain.Value) (string, error) {
	switch v.Kind() {
	case domain.KindNoData:
		return "", nil
	case domain.KindNumber:
		n, _ := v.Number()
		return formatNumber(n)
	case domain.KindString:
		s, _ := v.Str()
		if err := checkText(s); err != nil {
			return "", err
		}
		return quote(s), nil
	case domain.KindSequence:
		seq, _ := v.Seq()
		parts := make([]string, len(seq))
		for i, n := range seq {
			f, err := formatNumber(n)
			if err != nil {
				return "", err
			}
			parts[i] = f
		}
		return "[" + strings.Join(parts, ", ") + "]", nil
	default:
		return "", fmt.Errorf("unknown value kind %s", v.Kind())
	}
}

// formatNumber produces the shortest text that parses back to exactly n.
// Integral values below 1e21 have no exponent or fraction, matching JSON
// integers; non-finite values use the JavaScript literals Python emits.
func formatNumber(n float64) (string, error) {
	switch {
	case math.IsNaN(n):
		return "NaN", nil
	case math.IsInf(n, 1):
		return "Infinity", nil
	case math.IsInf(n, -1):
		return "-Infinity", nil
	}

	abs := math.Abs(n)
	switch {
	case n == math.Trunc(n) && abs < 1e21:
		return strconv.FormatFloat(n, 'f', -1, 64), nil
	case abs >= 1e-4 && abs < 1e16:
		return strconv.FormatFloat(n, 'f', -1, 64), nil
	default:
		return strconv.FormatFloat(n, 'e', -1, 64), nil
	}
}

// validName rejects names that would not survive a decode unchanged.
func validName(name string) bool {
	return name != "" &&
		name == strings.TrimSpace(name) &&
		name[0] != headerMarker &&
		!strings.ContainsAny(name, ",\n\r")
}

// checkText rejects strings the JSON quoting would rewrite: invalid UTF-8
// becomes U+FFFD and the file would no longer hold the captured bytes.
func checkText(s string) error {
	if !utf8.ValidString(s) {
		return fmt.Errorf("%w: string is not valid UTF-8", domain.ErrMalformedValue)
	}
	return nil
}

func quote(s string) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	// encoding a string cannot fail
	_ = enc.Encode(s)
	return strings.TrimSuffix(buf.String(), "\n")
}

// Unmarshal decodes save-file bytes.
func Unmarshal(data []byte) (*domain.Snapshot, error) {
	return Decode(bytes.NewReader(data))
}

// Decode parses a save file. The first line must be the header; every
// further non-blank line not starting with '#' is a PV line.
func Decode(r io.Reader) (*domain.Snapshot, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 64<<20)

	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: empty file", domain.ErrMalformedHeader)
	}
	meta, err := DecodeHeader(scanner.Text())
	if err != nil {
		return nil, err
	}

	snap := &domain.Snapshot{Metadata: meta}
	lineNo := 1
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line[0] == headerMarker {
			continue
		}

		name, raw, _ := strings.Cut(line, ",")
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, &domain.LineError{Line: lineNo, Text: line, Err: fmt.Errorf("%w: missing pv name", domain.ErrMalformedValue)}
		}
		val, err := ParseValue(raw)
		if err != nil {
			return nil, &domain.LineError{Line: lineNo, Text: line, Err: err}
		}
		snap.Entries = append(snap.Entries, domain.Entry{Name: name, Value: val})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return snap, nil
}

// DecodeHeader parses the first line of a save file.
func DecodeHeader(line string) (domain.Metadata, error) {
	var meta domain.Metadata

	line = strings.TrimSpace(line)
	if line == "" || line[0] != headerMarker {
		return meta, fmt.Errorf("%w: missing %q marker", domain.ErrMalformedHeader, headerMarker)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(line[1:]), &fields); err != nil || fields == nil {
		return meta, fmt.Errorf("%w: not a JSON object", domain.ErrMalformedHeader)
	}

	rawTime, ok := fields[keySaveTime]
	if !ok {
		return meta, fmt.Errorf("%w: missing %s", domain.ErrMalformedHeader, keySaveTime)
	}
	saveTime, err := parseNumber(string(rawTime))
	if err != nil {
		return meta, fmt.Errorf("%w: %s: %v", domain.ErrMalformedHeader, keySaveTime, err)
	}
	meta.SaveTime = saveTime

	for key, dst := range map[string]*string{
		keyKeywords:    &meta.Keywords,
		keyComment:     &meta.Comment,
		keyReqFileName: &meta.ReqFileName,
	} {
		raw, ok := fields[key]
		if !ok || string(raw) == "null" {
			continue
		}
		if err := json.Unmarshal(raw, dst); err != nil {
			return meta, fmt.Errorf("%w: %s must be a string", domain.ErrMalformedHeader, key)
		}
	}

	if raw, ok := fields[keyMacros]; ok && string(raw) != "null" {
		if err := json.Unmarshal(raw, &meta.Macros); err != nil {
			return meta, fmt.Errorf("%w: %s must be an object of strings", domain.ErrMalformedHeader, keyMacros)
		}
	}

	// older files carry a label list instead of the keyword string
	if raw, ok := fields[keyLabels]; ok && meta.Keywords == "" {
		var labels []string
		if err := json.Unmarshal(raw, &labels); err != nil {
			return meta, fmt.Errorf("%w: %s must be a list of strings", domain.ErrMalformedHeader, keyLabels)
		}
		meta.Keywords = domain.JoinKeywords(labels)
	}

	return meta, nil
}

// ParseValue types the raw text after the comma by its shape.
func ParseValue(raw string) (domain.Value, error) {
	raw = strings.TrimSpace(raw)
	switch {
	case raw == "":
		return domain.NoData(), nil
	case raw[0] == '"':
		var s string
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			return domain.Value{}, fmt.Errorf("%w: bad string literal %s", domain.ErrMalformedValue, raw)
		}
		return domain.String(s), nil
	case raw[0] == '[':
		if raw[len(raw)-1] != ']' {
			return domain.Value{}, fmt.Errorf("%w: unterminated sequence %s", domain.ErrMalformedValue, raw)
		}
		inner := strings.TrimSpace(raw[1 : len(raw)-1])
		if inner == "" {
			return domain.Sequence(nil), nil
		}
		parts := strings.Split(inner, ",")
		seq := make([]float64, len(parts))
		for i, p := range parts {
			n, err := parseNumber(p)
			if err != nil {
				return domain.Value{}, fmt.Errorf("%w: sequence element %d: %v", domain.ErrMalformedValue, i, err)
			}
			seq[i] = n
		}
		return domain.Sequence(seq), nil
	default:
		n, err := parseNumber(raw)
		if err != nil {
			return domain.Value{}, fmt.Errorf("%w: %v", domain.ErrMalformedValue, err)
		}
		return domain.Number(n), nil
	}
}

func parseNumber(s string) (float64, error) {
	s = strings.TrimSpace(s)
	switch s {
	case "NaN":
		return math.NaN(), nil
	case "Infinity":
		return math.Inf(1), nil
	case "-Infinity":
		return math.Inf(-1), nil
	case "true":
		return 1, nil
	case "false":
		return 0, nil
	}
	if s == "" || strings.ContainsAny(s, "_xXpP") {
		return 0, fmt.Errorf("not a number: %q", s)
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(n, 0) || math.IsNaN(n) {
		return 0, fmt.Errorf("not a number: %q", s)
	}
	return n, nil
}
