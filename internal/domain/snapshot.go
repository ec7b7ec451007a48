package domain

import (
	"maps"
	"slices"
	"strings"
	"time"
)

// PvName identifies a remote process variable.
type PvName = string

// MacroTable maps macro keys to their replacement text.
type MacroTable map[string]string

// RequestSet is the ordered list of PVs resolved from a request file.
// Duplicates are kept in place.
type RequestSet []PvName

// Metadata is the header record of a save file.
type Metadata struct {
	Keywords    string
	Comment     string
	SaveTime    float64
	ReqFileName string
	Macros      MacroTable
}

// KeywordList splits Keywords on commas, dropping empty items.
func (m Metadata) KeywordList() []string {
	var out []string
	for _, k := range strings.Split(m.Keywords, ",") {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	return out
}

// JoinKeywords normalizes free-form labels the way operators type them:
// surrounding space is trimmed, inner spaces become underscores and empty
// labels are dropped.
func JoinKeywords(labels []string) string {
	var out []string
	for _, l := range labels {
		for _, part := range strings.Split(l, ",") {
			part = strings.ReplaceAll(strings.TrimSpace(part), " ", "_")
			if part != "" {
				out = append(out, part)
			}
		}
	}
	return strings.Join(out, ",")
}

// SaveTimeAsTime converts the float epoch seconds into a time.Time.
func (m Metadata) SaveTimeAsTime() time.Time {
	sec := int64(m.SaveTime)
	nsec := int64((m.SaveTime - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}

// Equal compares every header field.
func (m Metadata) Equal(o Metadata) bool {
	return m.Keywords == o.Keywords &&
		m.Comment == o.Comment &&
		m.SaveTime == o.SaveTime &&
		m.ReqFileName == o.ReqFileName &&
		maps.Equal(m.Macros, o.Macros)
}

// Entry is a single PV line of a snapshot.
type Entry struct {
	Name  PvName
	Value Value
}

// Snapshot is the unit written to and read from a save file.
type Snapshot struct {
	Metadata Metadata
	Entries  []Entry
}

// Names lists the PV names in file order.
func (s *Snapshot) Names() RequestSet {
	out := make(RequestSet, len(s.Entries))
	for i, e := range s.Entries {
		out[i] = e.Name
	}
	return out
}

// Lookup returns the first entry with the given name.
func (s *Snapshot) Lookup(name PvName) (Value, bool) {
	for _, e := range s.Entries {
		if e.Name == name {
			return e.Value, true
		}
	}
	return Value{}, false
}

// Equal compares metadata and entries in order.
func (s *Snapshot) Equal(o *Snapshot) bool {
	if s == nil || o == nil {
		return s == o
	}
	if !s.Metadata.Equal(o.Metadata) {
		return false
	}
	return slices.EqualFunc(s.Entries, o.Entries, func(a, b Entry) bool {
		return a.Name == b.Name && a.Value.Equal(b.Value)
	})
}
