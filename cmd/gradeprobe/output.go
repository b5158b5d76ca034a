package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/term"
)

const (
	colorReset = "\033[0m"
	colorGreen = "\033[32m"
	colorRed   = "\033[31m"
)

// printer writes PASS and FAIL lines, colored when w is a terminal.
type printer struct {
	w     io.Writer
	color bool
}

func newPrinter(w io.Writer) *printer {
	p := &printer{w: w}
	if f, ok := w.(*os.File); ok {
		p.color = term.IsTerminal(int(f.Fd()))
	}
	return p
}

func (p *printer) label(text, color string) string {
	if !p.color {
		return text
	}
	return color + text + colorReset
}

func (p *printer) pass(subject, detail string) {
	line := p.label("PASS", colorGreen) + " " + subject
	if detail != "" {
		line += " " + detail
	}
	fmt.Fprintln(p.w, line)
}

func (p *printer) fail(subject, message string) {
	fmt.Fprintf(p.w, "%s %s: %s\n", p.label("FAIL", colorRed), subject, message)
}

// parseLiteral reads a command line argument as null, an int (a long if
// it does not fit), a float64, a bool, or a string. Double quotes force a
// string.
func parseLiteral(s string) any {
	switch s {
	case "null":
		return nil
	case "true":
		return true
	case "false":
		return false
	}
	if i, err := strconv.ParseInt(s, 10, 32); err == nil {
		return int(i)
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if strings.HasPrefix(s, `"`) {
		if u, err := strconv.Unquote(s); err == nil {
			return u
		}
	}
	return s
}

func parseLiterals(args []string) []any {
	values := make([]any, len(args))
	for i, s := range args {
		values[i] = parseLiteral(s)
	}
	return values
}

func formatValue(v any) string {
	switch v := v.(type) {
	case nil:
		return "null"
	case string:
		return strconv.Quote(v)
	case []any:
		parts := make([]string, len(v))
		for i, e := range v {
			parts[i] = formatValue(e)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	}
	return fmt.Sprint(v)
}
