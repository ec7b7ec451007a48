package request

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/channelaccess/snapshot/internal/domain"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestParsePreservesOrderAndSkipsComments(t *testing.T) {
	input := `
# comment line
examplePv:test-2
   examplePv:test-1

examplePv:test-3,extra,columns
data{
}
`
	got, err := New(nil).ParseBytes([]byte(input))
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	want := "examplePv:test-2,examplePv:test-1,examplePv:test-3"
	if strings.Join(got, ",") != want {
		t.Fatalf("got %v, want %s", got, want)
	}
}

func TestParseMacroSubstitution(t *testing.T) {
	got, err := New(domain.MacroTable{"SYS": "TEST"}).ParseBytes([]byte("$(SYS):test-3\n"))
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if len(got) != 1 || got[0] != "TEST:test-3" {
		t.Fatalf("unexpected result %v", got)
	}
}

func TestParseUnresolvedMacro(t *testing.T) {
	_, err := New(domain.MacroTable{}).ParseBytes([]byte("ok:pv\n$(SYS):test-3\n"))
	if !errors.Is(err, domain.ErrUnresolvedMacro) {
		t.Fatalf("expected ErrUnresolvedMacro, got %v", err)
	}
	var le *domain.LineError
	if !errors.As(err, &le) {
		t.Fatalf("expected LineError, got %T", err)
	}
	if le.Line != 2 {
		t.Fatalf("expected line 2, got %d", le.Line)
	}
}

func TestParseKeepsDuplicates(t *testing.T) {
	input := "$(A):pv\nX:pv\n$(A):pv\n"
	got, err := New(domain.MacroTable{"A": "X"}).ParseBytes([]byte(input))
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if strings.Join(got, ",") != "X:pv,X:pv,X:pv" {
		t.Fatalf("expected duplicates preserved in order, got %v", got)
	}
}

func TestParseFileIncludes(t *testing.T) {
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	writeFile(t, filepath.Join(dir, "sub"), "magnet.req", "$(DEV):current\n$(DEV):voltage\n")
	root := writeFile(t, dir, "root.req", `
$(SYS):first
!sub/magnet.req, "DEV=$(SYS)-MAG1"
!sub/magnet.req, 'DEV=PS2'
$(SYS):last
`)

	got, err := New(domain.MacroTable{"SYS": "TST"}).ParseFile(root)
	if err != nil {
		t.Fatalf("ParseFile returned error: %v", err)
	}
	want := []string{
		"TST:first",
		"TST-MAG1:current", "TST-MAG1:voltage",
		"PS2:current", "PS2:voltage",
		"TST:last",
	}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestParseFileIncludeDoesNotInheritMacros(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "child.req", "$(SYS):pv\n")
	root := writeFile(t, dir, "root.req", "!child.req\n")

	_, err := New(domain.MacroTable{"SYS": "TST"}).ParseFile(root)
	if !errors.Is(err, domain.ErrUnresolvedMacro) {
		t.Fatalf("expected ErrUnresolvedMacro from child, got %v", err)
	}
	if !strings.Contains(err.Error(), "child.req") {
		t.Fatalf("expected error to locate child file, got %q", err)
	}
}

func TestParseFileIncludeLoop(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.req", "pv:a\n!b.req\n")
	writeFile(t, dir, "b.req", "pv:b\n!a.req\n")

	_, err := New(nil).ParseFile(filepath.Join(dir, "a.req"))
	if !errors.Is(err, domain.ErrIncludeLoop) {
		t.Fatalf("expected ErrIncludeLoop, got %v", err)
	}
}

func TestParseFileIncludeSyntax(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "child.req", "pv:c\n")

	for _, line := range []string{"!child.req, A=B", "!child.req, \"A=B", "!"} {
		root := writeFile(t, dir, "root.req", line+"\n")
		_, err := New(nil).ParseFile(root)
		if !errors.Is(err, domain.ErrRequestFormat) {
			t.Fatalf("%q: expected ErrRequestFormat, got %v", line, err)
		}
	}
}

func TestParseFileMissing(t *testing.T) {
	_, err := New(nil).ParseFile(filepath.Join(t.TempDir(), "missing.req"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected ErrNotExist, got %v", err)
	}
}
