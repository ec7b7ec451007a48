// Package request reads request files into an ordered set of PV names.
//
// A request file holds one PV name template per line. Blank lines and lines
// starting with '#' are ignored, as are the legacy "data{" and "}" markers.
// Anything after the first comma on a PV line is ignored. A line of the form
//
//	!other.req, "A=B,C=D"
//
// splices in another request file, resolved relative to the including file,
// with its own macro table. $(KEY) tokens in the macro argument are expanded
// with the including file's table first.
package request

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/channelaccess/snapshot/internal/app/macro"
	"github.com/channelaccess/snapshot/internal/domain"
)

const (
	commentMarker = "#"
	includeMarker = "!"
)

var ignoredPrefixes = []string{commentMarker, "data{", "}"}

// Parser resolves request files. The zero value is not usable; call New.
type Parser struct {
	macros domain.MacroTable
	open   func(path string) (io.ReadCloser, error)
}

// Option customizes a Parser.
type Option func(*Parser)

// WithOpener replaces os.Open, mostly for tests.
func WithOpener(open func(path string) (io.ReadCloser, error)) Option {
	return func(p *Parser) {
		if open != nil {
			p.open = open
		}
	}
}

// New returns a parser that expands macros from table. A nil table behaves
// like an empty one.
func New(table domain.MacroTable, opts ...Option) *Parser {
	if table == nil {
		table = domain.MacroTable{}
	}
	p := &Parser{
		macros: table,
		open:   func(path string) (io.ReadCloser, error) { return os.Open(path) },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// ParseFile reads the request file at path, following includes.
func (p *Parser) ParseFile(path string) (domain.RequestSet, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	return p.parseFile(abs, p.macros, nil)
}

// Parse reads request text that cannot contain includes relative to a file;
// include lines are resolved against the working directory.
func (p *Parser) Parse(r io.Reader) (domain.RequestSet, error) {
	return p.parse(r, "", p.macros, nil)
}

// ParseBytes is a convenience wrapper around Parse.
func (p *Parser) ParseBytes(data []byte) (domain.RequestSet, error) {
	return p.Parse(bytes.NewReader(data))
}

func (p *Parser) parseFile(path string, table domain.MacroTable, chain []string) (domain.RequestSet, error) {
	for _, ancestor := range chain {
		if ancestor == path {
			return nil, fmt.Errorf("%w: %s already included via %s", domain.ErrIncludeLoop, path, strings.Join(chain, " -> "))
		}
	}

	f, err := p.open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return p.parse(f, path, table, append(slices.Clone(chain), path))
}

func (p *Parser) parse(r io.Reader, path string, table domain.MacroTable, chain []string) (domain.RequestSet, error) {
	var (
		out     domain.RequestSet
		lineNo  int
		scanner = bufio.NewScanner(r)
	)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || hasAnyPrefix(line, ignoredPrefixes) {
			continue
		}

		if strings.HasPrefix(line, includeMarker) {
			names, err := p.include(line, path, table, chain)
			if err != nil {
				return nil, wrapLine(path, lineNo, line, err)
			}
			out = append(out, names...)
			continue
		}

		template, _, _ := strings.Cut(line, ",")
		name, err := macro.Expand(strings.TrimSpace(template), table)
		if err != nil {
			return nil, &domain.LineError{Path: path, Line: lineNo, Text: line, Err: err}
		}
		if name == "" {
			continue
		}
		out = append(out, name)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read request %s: %w", path, err)
	}
	return out, nil
}

func (p *Parser) include(line, parent string, table domain.MacroTable, chain []string) (domain.RequestSet, error) {
	target, arg, hasArg := strings.Cut(strings.TrimPrefix(line, includeMarker), ",")
	target = strings.TrimSpace(target)
	if target == "" {
		return nil, fmt.Errorf("%w: include without a path", domain.ErrRequestFormat)
	}

	childTable := domain.MacroTable{}
	if hasArg {
		arg = strings.TrimSpace(arg)
		if len(arg) < 2 || (arg[0] != '"' && arg[0] != '\'') || arg[len(arg)-1] != arg[0] {
			return nil, fmt.Errorf("%w: macros argument must be quoted", domain.ErrRequestFormat)
		}
		expanded, err := macro.Expand(arg[1:len(arg)-1], table)
		if err != nil {
			return nil, err
		}
		childTable, err = macro.Parse(expanded)
		if err != nil {
			return nil, err
		}
	}

	if !filepath.IsAbs(target) {
		target = filepath.Join(filepath.Dir(parent), target)
	}
	target, err := filepath.Abs(target)
	if err != nil {
		return nil, err
	}
	return p.parseFile(target, childTable, chain)
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if strings.HasPrefix(s, prefix) {
			return true
		}
	}
	return false
}

func wrapLine(path string, line int, text string, err error) error {
	var le *domain.LineError
	if errors.As(err, &le) {
		// nested include already carries its own location
		return fmt.Errorf("%s:%d: %w", path, line, err)
	}
	return &domain.LineError{Path: path, Line: line, Text: text, Err: err}
}
