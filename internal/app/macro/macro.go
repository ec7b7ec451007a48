// Package macro expands $(KEY) tokens in PV name templates.
package macro

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/channelaccess/snapshot/internal/domain"
)

const (
	tokenOpen  = "$("
	tokenClose = ")"
)

// Expand replaces every $(KEY) in template with table[KEY] in a single left
// to right pass. Replacement text is copied verbatim and never re-scanned.
// If any key is missing the error wraps domain.ErrUnresolvedMacro and lists
// every missing token; the partially expanded string is still returned.
func Expand(template string, table domain.MacroTable) (string, error) {
	var (
		b       strings.Builder
		missing []string
		rest    = template
	)
	b.Grow(len(template))

	for {
		start := strings.Index(rest, tokenOpen)
		if start < 0 {
			b.WriteString(rest)
			break
		}
		end := strings.Index(rest[start+len(tokenOpen):], tokenClose)
		if end < 0 {
			// unterminated token is literal text
			b.WriteString(rest)
			break
		}
		end += start + len(tokenOpen)

		b.WriteString(rest[:start])
		key := rest[start+len(tokenOpen) : end]
		if val, ok := table[key]; ok {
			b.WriteString(val)
		} else {
			tok := rest[start : end+len(tokenClose)]
			b.WriteString(tok)
			if !slices.Contains(missing, tok) {
				missing = append(missing, tok)
			}
		}
		rest = rest[end+len(tokenClose):]
	}

	if len(missing) > 0 {
		return b.String(), fmt.Errorf("%w: %s", domain.ErrUnresolvedMacro, strings.Join(missing, ", "))
	}
	return b.String(), nil
}

// Tokens lists the distinct $(KEY) keys referenced by template in order of
// appearance.
func Tokens(template string) []string {
	var keys []string
	rest := template
	for {
		start := strings.Index(rest, tokenOpen)
		if start < 0 {
			return keys
		}
		rest = rest[start+len(tokenOpen):]
		end := strings.Index(rest, tokenClose)
		if end < 0 {
			return keys
		}
		if key := rest[:end]; !slices.Contains(keys, key) {
			keys = append(keys, key)
		}
		rest = rest[end+len(tokenClose):]
	}
}

// Parse converts "A=B, C=D" into a table. An empty string yields an empty
// table.
func Parse(s string) (domain.MacroTable, error) {
	table := domain.MacroTable{}
	if strings.TrimSpace(s) == "" {
		return table, nil
	}
	for _, pair := range strings.Split(s, ",") {
		kv := strings.Split(strings.TrimSpace(pair), "=")
		if len(kv) != 2 || strings.TrimSpace(kv[0]) == "" {
			return nil, fmt.Errorf("%w: cannot parse %q", domain.ErrMalformedMacros, s)
		}
		table[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
	}
	return table, nil
}

// Format renders a table as "A=B,C=D" with keys sorted.
func Format(table domain.MacroTable) string {
	keys := make([]string, 0, len(table))
	for k := range table {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + table[k]
	}
	return strings.Join(parts, ",")
}

// Merge returns a new table with override taking precedence over base.
func Merge(base, override domain.MacroTable) domain.MacroTable {
	out := make(domain.MacroTable, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}

// LoadFile reads a flat key/value macro file. The format follows the
// extension: .toml is TOML, anything else is YAML.
func LoadFile(path string) (domain.MacroTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	table := domain.MacroTable{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(raw), &table); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", domain.ErrMalformedMacros, path, err)
		}
	default:
		if err := yaml.Unmarshal(raw, &table); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", domain.ErrMalformedMacros, path, err)
		}
	}
	return table, nil
}
