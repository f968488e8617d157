// Package cstring converts text files, typically the device's index.html,
// into C string literals that can be compiled into firmware.
package cstring

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
)

// identPattern matches a valid C identifier.
var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

var escaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

// Options controls the generated code.
type Options struct {
	// Var wraps the literals in "static const char <Var>[] = ...;" when set.
	Var string
}

// Convert reads text from r and writes one C string literal per input line
// to w. Trailing whitespace is dropped and every literal ends in "\n".
func Convert(w io.Writer, r io.Reader, opts Options) error {
	if opts.Var != "" && !identPattern.MatchString(opts.Var) {
		return fmt.Errorf("cstring: %q is not a valid C identifier", opts.Var)
	}

	bw := bufio.NewWriter(w)
	indent := ""
	if opts.Var != "" {
		fmt.Fprintf(bw, "static const char %s[] =\n", opts.Var)
		indent = "    "
	}

	br := bufio.NewReader(r)
	lines := 0
	for {
		line, err := br.ReadString('\n')
		if line != "" {
			fmt.Fprintf(bw, "%s\"%s\\n\"\n", indent, Escape(strings.TrimRight(line, " \t\r\n\v\f")))
			lines++
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("cstring: read: %w", err)
		}
	}

	if opts.Var != "" {
		if lines == 0 {
			fmt.Fprintf(bw, "%s\"\"\n", indent)
		}
		fmt.Fprint(bw, ";\n")
	}

	if err := bw.Flush(); err != nil {
		return fmt.Errorf("cstring: write: %w", err)
	}
	return nil
}

// Escape escapes backslashes and double quotes for use inside a C string literal.
func Escape(s string) string {
	return escaper.Replace(s)
}
