// Package diag provides a structured diagnostics collector shared by every
// compilation stage. A Diagnostics value doubles as the Plan Context
// "status messages" channel (Info/Warning entries attached by analyzer and
// optimizer passes) and as the carrier for parse-time diagnostics.
package diag

import (
	"fmt"
	"strings"

	"github.com/cyphersql/graphsql/internal/token"
)

// Severity represents the severity of a diagnostic.
type Severity int

const (
	Error Severity = iota
	Warning
	Info
	Hint
)

func (s Severity) String() string {
	switch s {
	case Error:
		return "error"
	case Warning:
		return "warning"
	case Info:
		return "info"
	case Hint:
		return "hint"
	default:
		return "unknown"
	}
}

// Range represents a range in the source text.
type Range struct {
	Start token.Position
	End   token.Position
}

// Diagnostic is a single message attached to a compilation.
type Diagnostic struct {
	Range    Range
	Severity Severity
	Code     string // e.g. "I-PATTERN-CAP"
	Message  string
	Source   string // the pass or stage that raised it
}

// String returns a human-readable representation of the diagnostic.
func (d Diagnostic) String() string {
	var b strings.Builder
	if d.Range.Start.Filename != "" {
		fmt.Fprintf(&b, "%s:", d.Range.Start.Filename)
	}
	fmt.Fprintf(&b, "%d:%d: ", d.Range.Start.Line, d.Range.Start.Column)
	fmt.Fprintf(&b, "%s: %s", d.Severity, d.Message)
	if d.Code != "" {
		fmt.Fprintf(&b, " [%s]", d.Code)
	}
	return b.String()
}

// Diagnostics is an ordered collection of diagnostics.
type Diagnostics struct {
	items []Diagnostic
}

// New creates an empty Diagnostics collection.
func New() *Diagnostics {
	return &Diagnostics{items: make([]Diagnostic, 0)}
}

// Add appends a diagnostic.
func (d *Diagnostics) Add(diagnostic Diagnostic) {
	d.items = append(d.items, diagnostic)
}

// AddError appends an error-severity diagnostic over a range.
func (d *Diagnostics) AddError(r Range, code, message, source string) {
	d.Add(Diagnostic{Range: r, Severity: Error, Code: code, Message: message, Source: source})
}

// AddErrorAt appends an error-severity diagnostic at a single position.
func (d *Diagnostics) AddErrorAt(pos token.Position, code, message, source string) {
	d.AddError(Range{Start: pos, End: pos}, code, message, source)
}

// AddWarning appends a warning-severity diagnostic over a range.
func (d *Diagnostics) AddWarning(r Range, code, message, source string) {
	d.Add(Diagnostic{Range: r, Severity: Warning, Code: code, Message: message, Source: source})
}

// AddWarningAt appends a warning-severity diagnostic at a single position.
func (d *Diagnostics) AddWarningAt(pos token.Position, code, message, source string) {
	d.AddWarning(Range{Start: pos, End: pos}, code, message, source)
}

// AddInfo appends an info-severity diagnostic. Analyzer and optimizer
// passes use this for the Plan Context status messages spec.md §7 requires
// (e.g. "property pruning removed K columns for alias X").
func (d *Diagnostics) AddInfo(code, message, source string) {
	d.Add(Diagnostic{Severity: Info, Code: code, Message: message, Source: source})
}

// All returns every diagnostic in insertion order.
func (d *Diagnostics) All() []Diagnostic {
	return d.items
}

// Errors returns error-severity diagnostics.
func (d *Diagnostics) Errors() []Diagnostic {
	return d.filter(Error)
}

// Warnings returns warning-severity diagnostics.
func (d *Diagnostics) Warnings() []Diagnostic {
	return d.filter(Warning)
}

// Infos returns info-severity diagnostics.
func (d *Diagnostics) Infos() []Diagnostic {
	return d.filter(Info)
}

func (d *Diagnostics) filter(sev Severity) []Diagnostic {
	var out []Diagnostic
	for _, item := range d.items {
		if item.Severity == sev {
			out = append(out, item)
		}
	}
	return out
}

// HasErrors reports whether any error-severity diagnostic is present.
func (d *Diagnostics) HasErrors() bool {
	for _, item := range d.items {
		if item.Severity == Error {
			return true
		}
	}
	return false
}

// Count returns the total number of diagnostics.
func (d *Diagnostics) Count() int {
	return len(d.items)
}

// Merge appends another collection's diagnostics to this one.
func (d *Diagnostics) Merge(other *Diagnostics) {
	if other == nil {
		return
	}
	d.items = append(d.items, other.items...)
}

// Diagnostic codes shared across stages.
const (
	CodePatternCapReached   = "I-PATTERN-CAP"
	CodePropertyPruned      = "I-PROP-PRUNE"
	CodeWildcardExpanded    = "I-WILDCARD-EXPAND"
	CodeCollectUnwindElided = "I-COLLECT-UNWIND"
)
