// Package translator provides the public API for the core compilation
// pipeline (spec.md §6.1): Schema → Parser → Logical Planner → Analyzer →
// Optimizer → Render Planner → SQL Generator, with the Query Cache in
// front. Everything outside this boundary (network/protocol surface,
// result-row streaming, auth, the downstream SQL engine, data loading) is
// an external collaborator the core only calls into via the schema loader
// and never reaches out to itself.
//
// Grounded directly on the teacher's compiler/forge/compile.go: a single
// Compile entry point that runs every stage in sequence, accumulates
// diagnostics from each one into a flat list, and aborts at the first stage
// that reports an error — the same aggregate-then-abort shape, generalized
// from the teacher's parse/analyze/normalize/plan/emit sequence to this
// pipeline's parse/plan/analyze/optimize/render/generate sequence.
package translator

import (
	"fmt"

	"github.com/cyphersql/graphsql/internal/analyzer"
	"github.com/cyphersql/graphsql/internal/ast"
	"github.com/cyphersql/graphsql/internal/cache"
	"github.com/cyphersql/graphsql/internal/config"
	"github.com/cyphersql/graphsql/internal/diag"
	"github.com/cyphersql/graphsql/internal/errs"
	"github.com/cyphersql/graphsql/internal/logical"
	"github.com/cyphersql/graphsql/internal/obslog"
	"github.com/cyphersql/graphsql/internal/optimizer"
	"github.com/cyphersql/graphsql/internal/parser"
	"github.com/cyphersql/graphsql/internal/planctx"
	"github.com/cyphersql/graphsql/internal/render"
	"github.com/cyphersql/graphsql/internal/schema"
	"github.com/cyphersql/graphsql/internal/sqlgen"
)

// CacheStatus mirrors spec.md §6.1's {Hit|Miss|Bypass} result tag.
type CacheStatus int

const (
	Miss CacheStatus = iota
	Hit
	Bypass
)

func (s CacheStatus) String() string {
	switch s {
	case Hit:
		return "Hit"
	case Bypass:
		return "Bypass"
	default:
		return "Miss"
	}
}

// Diagnostic is the public, stage-agnostic rendering of one diag.Diagnostic
// (spec.md §7: "Info/Warning status messages... returned to the caller
// alongside a successful compile").
type Diagnostic struct {
	Line     int
	Column   int
	Severity string
	Code     string
	Message  string
}

// CompileRequest is spec.md §6.1's compile() argument list.
type CompileRequest struct {
	QueryText      string
	SchemaName     string
	Parameters     map[string]interface{} // type-hinting only; substitution is the shim's job
	TenantID       string
	ViewParameters map[string]string
	Replan         ast.Replan
}

// CompileOutput is spec.md §6.1's compile() success value.
type CompileOutput struct {
	SQLTemplate string
	CacheStatus CacheStatus
}

// CompileResult is the full result of one Compile call: output (nil on
// failure), every diagnostic collected along the way, and the causal error
// if the pipeline aborted.
type CompileResult struct {
	Output      *CompileOutput
	Diagnostics []Diagnostic
	HasErrors   bool
	Err         error
}

// Translator owns the process-wide Schema Catalog and Query Cache shared
// across concurrent compilations (spec.md §5).
type Translator struct {
	catalog *schema.Catalog
	cache   *cache.Cache
	cfg     *config.Config
}

// New creates a Translator bound to cfg, with an empty Schema Catalog and a
// Query Cache sized per cfg's QUERY_CACHE_* bounds. nowEpoch supplies the
// cache's clock; production callers pass time-based clocks (see cmd/graphsqlc),
// tests pass a deterministic stub.
func New(cfg *config.Config, nowEpoch func() int64) *Translator {
	return &Translator{
		catalog: schema.NewCatalog(),
		cache:   cache.New(cfg.QueryCacheMaxEntries, cfg.QueryCacheMaxSizeMB, nowEpoch),
		cfg:     cfg,
	}
}

// LoadSchema parses and installs a schema under name (spec.md §4.8 load).
// A schema loaded for the first time has nothing to invalidate, but
// InvalidateSchema is harmless to call unconditionally.
func (t *Translator) LoadSchema(yamlText []byte, name string) error {
	if _, err := t.catalog.LoadInto(yamlText, name); err != nil {
		return err
	}
	t.cache.InvalidateSchema(name)
	obslog.SchemaEvent("load", name, nil)
	return nil
}

// ReloadSchema re-parses and replaces the schema under name, then
// invalidates every Query Cache entry bound to it (spec.md §4.8 reload,
// §8 "Schema invalidation": the next compile against name is a guaranteed
// Miss).
func (t *Translator) ReloadSchema(yamlText []byte, name string) error {
	if _, err := t.catalog.LoadInto(yamlText, name); err != nil {
		return err
	}
	t.cache.InvalidateSchema(name)
	obslog.SchemaEvent("reload", name, nil)
	return nil
}

// CacheStats exposes the Query Cache's hit/miss/eviction counters.
func (t *Translator) CacheStats() cache.Stats { return t.cache.Stats() }

// Compile runs the full pipeline for req (spec.md §6.1). The query text's
// own `CYPHER replan=` prefix (spec.md §4.1) is honored when req.Replan is
// left at its zero value (ReplanDefault); an explicit req.Replan always
// wins, since it is the authoritative channel the external interface
// defines.
func (t *Translator) Compile(req CompileRequest) CompileResult {
	sch, ok := t.catalog.Get(req.SchemaName)
	if !ok {
		err := &errs.SchemaError{Schema: req.SchemaName, Detail: "schema not loaded"}
		return CompileResult{HasErrors: true, Err: err}
	}

	query, parseDiags := parser.Parse(req.QueryText, "<query>")
	diags := diag.New()
	diags.Merge(parseDiags)
	if parseDiags.HasErrors() {
		result := CompileResult{Diagnostics: renderDiagnostics(diags), HasErrors: true}
		result.Err = firstParseError(parseDiags, req.QueryText)
		return result
	}

	replan := req.Replan
	if replan == ast.ReplanDefault {
		replan = query.Replan
	}
	schemaName := req.SchemaName
	if query.UseSchema != "" {
		schemaName = query.UseSchema
		if s, ok := t.catalog.Get(schemaName); ok {
			sch = s
		} else {
			err := &errs.SchemaError{Schema: schemaName, Detail: "schema not loaded"}
			return CompileResult{HasErrors: true, Err: err}
		}
	}

	if t.cfg.QueryCacheEnabled && replan != ast.ReplanForce {
		if sql, ok := t.cache.Get(req.QueryText, schemaName); ok {
			obslog.CacheEvent("hit", schemaName, nil)
			return CompileResult{Output: &CompileOutput{SQLTemplate: sql, CacheStatus: Hit}}
		}
		if replan == ast.ReplanSkip {
			err := &errs.CacheRequired{Key: cache.NormalizeKey(req.QueryText)}
			return CompileResult{HasErrors: true, Err: err}
		}
	}

	// Run the compile through singleflight so concurrent requests for the
	// same (query, schema) collapse onto one pipeline run (spec.md §5).
	sqlText, err, shared := t.cache.Compile(req.QueryText, schemaName, func() (string, error) {
		return t.lower(query, sch, req, diags)
	})
	result := CompileResult{Diagnostics: renderDiagnostics(diags)}
	if err != nil {
		result.HasErrors = true
		result.Err = err
		return result
	}
	if shared {
		obslog.CacheEvent("compile-shared", schemaName, nil)
	}

	status := Miss
	if replan == ast.ReplanForce {
		status = Bypass
	}
	if t.cfg.QueryCacheEnabled {
		// Only successfully generated templates are ever inserted
		// (spec.md §4.9): we only reach here once err == nil.
		t.cache.Put(req.QueryText, schemaName, sqlText)
		obslog.CacheEvent("put", schemaName, obslog.Fields{"bytes": len(sqlText)})
	}

	result.Output = &CompileOutput{SQLTemplate: sqlText, CacheStatus: status}
	return result
}

// lower runs plan → analyze → optimize → render → generate over an
// already-parsed query, merging every stage's Plan Context diagnostics into
// diags regardless of where the pipeline stops.
func (t *Translator) lower(query *ast.Query, sch *schema.Schema, req CompileRequest, diags *diag.Diagnostics) (string, error) {
	ctx := planctx.New(sch)
	ctx.TenantID = req.TenantID
	if req.ViewParameters != nil {
		ctx.ViewParameters = req.ViewParameters
	}

	plan, err := logical.New(sch).Plan(query)
	if err != nil {
		return "", err
	}

	plan, err = analyzer.New(sch, ctx).Analyze(plan)
	diags.Merge(ctx.Diagnostics)
	if err != nil {
		return "", err
	}

	plan, err = optimizer.New(sch, ctx).Optimize(plan)
	diags.Merge(ctx.Diagnostics)
	if err != nil {
		return "", err
	}

	builder := render.New(sch, ctx, t.cfg.RequireVLPHopsCap)
	renderPlan, err := builder.Build(plan)
	diags.Merge(ctx.Diagnostics)
	if err != nil {
		return "", err
	}

	return sqlgen.New(builder.Resolver()).Generate(renderPlan)
}

// ExplainResult is CompileExplain's success value: the SQL plus the
// intermediate plans a debugging caller wants to inspect. It is never
// cached and never counted in Query Cache statistics (spec.md §6.1 defines
// compile's cache contract; this is a strictly additive second entry
// point, not a variant of it).
type ExplainResult struct {
	SQLTemplate string
	LogicalPlan logical.Plan
	RenderPlan  *render.RenderPlan
}

// CompileExplain runs the same pipeline as Compile but always bypasses the
// Query Cache and returns the Logical Plan and Render Plan alongside the
// generated SQL, for debugging (SPEC_FULL.md §5's additive "EXPLAIN
// side-channel"). Diagnostics accumulate exactly as they do for Compile.
func (t *Translator) CompileExplain(req CompileRequest) (*ExplainResult, []Diagnostic, error) {
	sch, ok := t.catalog.Get(req.SchemaName)
	if !ok {
		return nil, nil, &errs.SchemaError{Schema: req.SchemaName, Detail: "schema not loaded"}
	}

	query, parseDiags := parser.Parse(req.QueryText, "<query>")
	diags := diag.New()
	diags.Merge(parseDiags)
	if parseDiags.HasErrors() {
		return nil, renderDiagnostics(diags), firstParseError(parseDiags, req.QueryText)
	}

	if query.UseSchema != "" {
		s, ok := t.catalog.Get(query.UseSchema)
		if !ok {
			return nil, renderDiagnostics(diags), &errs.SchemaError{Schema: query.UseSchema, Detail: "schema not loaded"}
		}
		sch = s
	}

	ctx := planctx.New(sch)
	ctx.TenantID = req.TenantID
	if req.ViewParameters != nil {
		ctx.ViewParameters = req.ViewParameters
	}

	plan, err := logical.New(sch).Plan(query)
	if err != nil {
		return nil, renderDiagnostics(diags), err
	}

	plan, err = analyzer.New(sch, ctx).Analyze(plan)
	diags.Merge(ctx.Diagnostics)
	if err != nil {
		return nil, renderDiagnostics(diags), err
	}

	plan, err = optimizer.New(sch, ctx).Optimize(plan)
	diags.Merge(ctx.Diagnostics)
	if err != nil {
		return nil, renderDiagnostics(diags), err
	}

	builder := render.New(sch, ctx, t.cfg.RequireVLPHopsCap)
	renderPlan, err := builder.Build(plan)
	diags.Merge(ctx.Diagnostics)
	if err != nil {
		return nil, renderDiagnostics(diags), err
	}

	sqlText, err := sqlgen.New(builder.Resolver()).Generate(renderPlan)
	if err != nil {
		return nil, renderDiagnostics(diags), err
	}

	return &ExplainResult{SQLTemplate: sqlText, LogicalPlan: plan, RenderPlan: renderPlan}, renderDiagnostics(diags), nil
}

// firstParseError synthesizes the errs.ParseError spec.md §7 requires from
// the first error diag.Diagnostic the parser reported; diag.Diagnostics
// carries position and message but not the taxonomy's {Expected, Found}
// split, so Found carries the formatted message and Expected the
// diagnostic code.
func firstParseError(diags *diag.Diagnostics, text string) error {
	errDiags := diags.Errors()
	if len(errDiags) == 0 {
		return fmt.Errorf("parse failed for %q with no diagnostics recorded", text)
	}
	d := errDiags[0]
	return &errs.ParseError{Pos: d.Range.Start, Expected: d.Code, Found: d.Message}
}

func renderDiagnostics(diags *diag.Diagnostics) []Diagnostic {
	if diags == nil {
		return nil
	}
	all := diags.All()
	out := make([]Diagnostic, 0, len(all))
	for _, d := range all {
		out = append(out, Diagnostic{
			Line:     d.Range.Start.Line,
			Column:   d.Range.Start.Column,
			Severity: d.Severity.String(),
			Code:     d.Code,
			Message:  d.Message,
		})
	}
	return out
}
