// Package errs defines the named error kinds of spec.md §7 as concrete Go
// error types, so callers can dispatch on kind with errors.As instead of
// string-matching messages.
package errs

import (
	"fmt"

	"github.com/cyphersql/graphsql/internal/token"
)

// ParseError reports that query text did not parse.
type ParseError struct {
	Pos      token.Position
	Expected string
	Found    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%d:%d: parse error: expected %s, found %s", e.Pos.Line, e.Pos.Column, e.Expected, e.Found)
}

// SchemaError reports malformed YAML or a load-time reference to an
// unknown label/column.
type SchemaError struct {
	Schema  string
	Detail  string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema %q: %s", e.Schema, e.Detail)
}

// PlanError reports that a query references an alias, label, or
// relationship type that does not resolve against the selected schema.
type PlanError struct {
	Detail string
}

func (e *PlanError) Error() string { return "plan error: " + e.Detail }

// PropertyError reports that alias.prop references a property absent from
// the alias's resolved view.
type PropertyError struct {
	Alias    string
	Property string
}

func (e *PropertyError) Error() string {
	return fmt.Sprintf("property error: %s.%s is not in scope", e.Alias, e.Property)
}

// AmbiguityError reports that PatternResolver could not produce exactly one
// valid, bounded set of label assignments.
type AmbiguityError struct {
	Detail string
}

func (e *AmbiguityError) Error() string { return "ambiguity error: " + e.Detail }

// RenderError reports an internal invariant violation while building the
// Render Plan or SQL text — always a bug, never user-caused.
type RenderError struct {
	Detail string
}

func (e *RenderError) Error() string { return "render error (internal): " + e.Detail }

// ConfigurationError reports a required view parameter missing at compile
// time.
type ConfigurationError struct {
	Parameter string
	View      string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: view %q requires parameter %q", e.View, e.Parameter)
}

// CacheRequired reports that replan=skip was requested but the cache
// missed.
type CacheRequired struct {
	Key string
}

func (e *CacheRequired) Error() string {
	return fmt.Sprintf("cache required: no cached template for %q and replan=skip", e.Key)
}
