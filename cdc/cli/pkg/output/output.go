// Package output renders lpctl results as colored messages, tables or JSON.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
)

const reset = "\033[0m"

// ANSI attributes
const (
	bold    = 1
	fgRed   = 31
	fgGreen = 32
	fgYelow = 33
	fgCyan  = 36
	fgWhite = 37
)

// Printer writes to an output and an error stream. Color is off when
// NO_COLOR is set.
type Printer struct {
	Out     io.Writer
	Err     io.Writer
	NoColor bool
}

// New returns a Printer for out and errOut.
func New(out, errOut io.Writer) *Printer {
	_, noColor := os.LookupEnv("NO_COLOR")
	return &Printer{Out: out, Err: errOut, NoColor: noColor}
}

func (p *Printer) paint(s string, attrs ...int) string {
	if p.NoColor || len(attrs) == 0 {
		return s
	}
	codes := make([]string, len(attrs))
	for i, a := range attrs {
		codes[i] = fmt.Sprint(a)
	}
	return "\033[" + strings.Join(codes, ";") + "m" + s + reset
}

func (p *Printer) Success(format string, a ...any) {
	fmt.Fprintln(p.Out, p.paint("✓ "+fmt.Sprintf(format, a...), fgGreen, bold))
}

func (p *Printer) Error(format string, a ...any) {
	fmt.Fprintln(p.Err, p.paint("✗ "+fmt.Sprintf(format, a...), fgRed, bold))
}

func (p *Printer) Info(format string, a ...any) {
	fmt.Fprintln(p.Out, p.paint(fmt.Sprintf(format, a...), fgCyan))
}

func (p *Printer) Warn(format string, a ...any) {
	fmt.Fprintln(p.Out, p.paint("⚠ "+fmt.Sprintf(format, a...), fgYelow))
}

// JSON writes v indented.
func (p *Printer) JSON(v any) error {
	enc := json.NewEncoder(p.Out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type Table struct {
	headers []string
	rows    [][]string
}

func NewTable(headers ...string) *Table {
	return &Table{headers: headers}
}

// AddRow appends a row; missing cells render empty and extra cells are dropped.
func (t *Table) AddRow(cells ...string) {
	row := make([]string, len(t.headers))
	copy(row, cells)
	t.rows = append(t.rows, row)
}

func (t *Table) Len() int { return len(t.rows) }

// Table renders t with padded columns.
func (p *Printer) Table(t *Table) {
	widths := make([]int, len(t.headers))
	for i, header := range t.headers {
		widths[i] = len(header)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	var line strings.Builder
	for i, header := range t.headers {
		line.WriteString(p.paint(fmt.Sprintf("%-*s", widths[i], header), fgWhite, bold))
		line.WriteString("  ")
	}
	fmt.Fprintln(p.Out, strings.TrimRight(line.String(), " "))

	line.Reset()
	for i := range t.headers {
		line.WriteString(strings.Repeat("-", widths[i]) + "  ")
	}
	fmt.Fprintln(p.Out, strings.TrimRight(line.String(), " "))

	for _, row := range t.rows {
		line.Reset()
		for i, cell := range row {
			fmt.Fprintf(&line, "%-*s  ", widths[i], cell)
		}
		fmt.Fprintln(p.Out, strings.TrimRight(line.String(), " "))
	}
}
