// Package cli renders human-facing output for vaultmcp commands.
// The MCP server itself never writes here; stdout belongs to the
// protocol once serve starts.
package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// DetectNoColor honors the NO_COLOR convention and disables color for
// non-terminal writers.
func DetectNoColor(out io.Writer) bool {
	if _, exists := os.LookupEnv("NO_COLOR"); exists {
		return true
	}
	f, ok := out.(*os.File)
	return !ok || !IsTerminal(f)
}

// Writer provides formatted output for CLI commands. Write errors are
// intentionally ignored; console output is best effort.
type Writer struct {
	out    io.Writer
	styles Styles
}

// NewWriter builds a Writer that styles output when out is a color
// terminal.
func NewWriter(out io.Writer) *Writer {
	return &Writer{out: out, styles: GetStyles(DetectNoColor(out))}
}

// NewPlainWriter builds a Writer that never emits color.
func NewPlainWriter(out io.Writer) *Writer {
	return &Writer{out: out, styles: NoColorStyles()}
}

// Header prints a section heading.
func (w *Writer) Header(title string) {
	_, _ = fmt.Fprintf(w.out, "%s\n", w.styles.Header.Render(title))
}

// Field prints one "label: value" line with the label padded to width.
func (w *Writer) Field(label, value string) {
	padded := fmt.Sprintf("%-18s", label)
	_, _ = fmt.Fprintf(w.out, "  %s %s\n", w.styles.Label.Render(padded), w.styles.Value.Render(value))
}

// Fieldf prints a formatted field value.
func (w *Writer) Fieldf(label, format string, args ...any) {
	w.Field(label, fmt.Sprintf(format, args...))
}

// Success prints a success line.
func (w *Writer) Success(msg string) {
	_, _ = fmt.Fprintf(w.out, "%s %s\n", w.styles.Success.Render("ok"), msg)
}

// Successf prints a formatted success line.
func (w *Writer) Successf(format string, args ...any) {
	w.Success(fmt.Sprintf(format, args...))
}

// Warning prints a warning line.
func (w *Writer) Warning(msg string) {
	_, _ = fmt.Fprintf(w.out, "%s %s\n", w.styles.Warning.Render("warn"), msg)
}

// Error prints an error line.
func (w *Writer) Error(msg string) {
	_, _ = fmt.Fprintf(w.out, "%s %s\n", w.styles.Error.Render("error"), msg)
}

// Errorf prints a formatted error line.
func (w *Writer) Errorf(format string, args ...any) {
	w.Error(fmt.Sprintf(format, args...))
}

// Dim prints secondary text.
func (w *Writer) Dim(msg string) {
	_, _ = fmt.Fprintf(w.out, "  %s\n", w.styles.Dim.Render(msg))
}

// Separator prints a horizontal rule.
func (w *Writer) Separator() {
	_, _ = fmt.Fprintf(w.out, "%s\n", w.styles.Dim.Render(strings.Repeat("─", 40)))
}

// Newline prints an empty line.
func (w *Writer) Newline() {
	_, _ = fmt.Fprintln(w.out)
}
