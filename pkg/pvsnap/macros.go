package pvsnap

import "github.com/channelaccess/snapshot/internal/app/macro"

// ParseMacros parses a "A=B,C=D" macro string.
func ParseMacros(s string) (MacroTable, error) {
	return macro.Parse(s)
}

// LoadMacroFile reads a flat YAML or TOML macro file.
func LoadMacroFile(path string) (MacroTable, error) {
	return macro.LoadFile(path)
}

// MergeMacros returns a new table with override taking precedence over base.
func MergeMacros(base, override MacroTable) MacroTable {
	return macro.Merge(base, override)
}

// ExpandMacros substitutes every $(KEY) in template.
func ExpandMacros(template string, table MacroTable) (string, error) {
	return macro.Expand(template, table)
}

// FormatMacros renders a table as "A=B,C=D" with keys sorted.
func FormatMacros(table MacroTable) string {
	return macro.Format(table)
}
