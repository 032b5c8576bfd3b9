package cmd

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/mealet/gvm/asm"
)

// lineCol converts a byte offset into 1-based line/column numbers against
// source, for pointing a diagnostic at a human-readable location.
func lineCol(source []byte, offset int) (line, col int) {
	if offset > len(source) {
		offset = len(source)
	}
	line = 1 + bytes.Count(source[:offset], []byte{'\n'})
	if lastNL := bytes.LastIndexByte(source[:offset], '\n'); lastNL >= 0 {
		col = offset - lastNL
	} else {
		col = offset + 1
	}
	return line, col
}

// renderDiagnostics formats a batch of diagnostics the way the lexer,
// parser and analyzer accumulate them: one line per diagnostic, category
// tag first, source position in line:col form, and the related span (for
// LabelRedefinition) on a trailing `note:` line.
func renderDiagnostics(path string, source []byte, diags asm.Diagnostics) string {
	var b strings.Builder
	for _, d := range diags {
		line, col := lineCol(source, d.Span.Offset)
		fmt.Fprintf(&b, "%s:%d:%d: %s error: %s\n", path, line, col, d.Category, d.Message)
		if d.Related != nil {
			rl, rc := lineCol(source, d.Related.Offset)
			fmt.Fprintf(&b, "%s:%d:%d: note: original definition here\n", path, rl, rc)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
