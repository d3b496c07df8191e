// Package main provides the graphsqlc CLI: a thin execution shim over the
// translator package for ad hoc use (the network/protocol surface proper is
// out of the core's scope, spec.md §1).
//
// Grounded on cmd/forge/main.go's subcommand-switch structure, including its
// printDiagnostics/fatal helpers, adapted to this
// translator's file conventions (.cypher query files, a schema YAML path).
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/cyphersql/graphsql/internal/ast"
	"github.com/cyphersql/graphsql/internal/config"
	"github.com/cyphersql/graphsql/translator"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "check":
		cmdCheck(args)
	case "compile":
		cmdCompile(args)
	case "explain":
		cmdExplain(args)
	case "cache":
		cmdCache(args)
	case "schema":
		cmdSchema(args)
	case "watch":
		cmdWatch(args)
	case "version", "--version", "-v":
		fmt.Printf("graphsqlc version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`graphsqlc - Cypher-to-SQL translator core CLI

Usage: graphsqlc <command> [arguments]

Commands:
  check   --schema <path> <query.cypher>   Validate a query without printing SQL
  compile --schema <path> <query.cypher>   Compile a query and print the SQL template
  explain --schema <path> <query.cypher>   Compile and print the Logical/Render Plan alongside the SQL (bypasses the cache)
  cache   stats                            Explain that Query Cache counters are per-process (a CLI run keeps none)
  schema  validate <path>                  Load a schema YAML and report errors
  watch   --schema <path>                  Reload the schema on file change, printing diagnostics
  version                                  Print version information
  help                                     Show this help message

Flags (compile/check):
  --tenant <id>            tenant_id view parameter
  --replan <default|force|skip>

Examples:
  graphsqlc check --schema graph.yaml query.cypher
  graphsqlc compile --schema graph.yaml query.cypher
  graphsqlc schema validate graph.yaml`)
}

type cliFlags struct {
	schemaPath string
	tenant     string
	replan     ast.Replan
	positional []string
}

func parseFlags(args []string) cliFlags {
	var f cliFlags
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--schema":
			if i+1 < len(args) {
				i++
				f.schemaPath = args[i]
			}
		case "--tenant":
			if i+1 < len(args) {
				i++
				f.tenant = args[i]
			}
		case "--replan":
			if i+1 < len(args) {
				i++
				f.replan = parseReplan(args[i])
			}
		default:
			f.positional = append(f.positional, args[i])
		}
	}
	return f
}

func parseReplan(s string) ast.Replan {
	switch strings.ToLower(s) {
	case "force":
		return ast.ReplanForce
	case "skip":
		return ast.ReplanSkip
	default:
		return ast.ReplanDefault
	}
}

func newTranslatorFromSchema(schemaPath string) (*translator.Translator, string) {
	if schemaPath == "" {
		fatal("missing --schema <path>")
	}
	yamlText, err := os.ReadFile(schemaPath)
	if err != nil {
		fatal("failed to read schema %s: %v", schemaPath, err)
	}
	name := schemaNameFromPath(schemaPath)
	tr := translator.New(config.Load(), epochNow)
	if err := tr.LoadSchema(yamlText, name); err != nil {
		fatal("failed to load schema: %v", err)
	}
	return tr, name
}

func cmdCheck(args []string) {
	f := parseFlags(args)
	if len(f.positional) == 0 {
		fatal("no query file given")
	}
	tr, name := newTranslatorFromSchema(f.schemaPath)
	for _, file := range f.positional {
		queryText, err := os.ReadFile(file)
		if err != nil {
			fatal("failed to read %s: %v", file, err)
		}
		result := tr.Compile(translator.CompileRequest{
			QueryText:  string(queryText),
			SchemaName: name,
			TenantID:   f.tenant,
			Replan:     f.replan,
		})
		printDiagnostics(file, result.Diagnostics)
		if result.HasErrors {
			if _, ok := result.Err.(interface{ Error() string }); ok && result.Err != nil {
				fmt.Fprintf(os.Stderr, "%s: error: %v\n", file, result.Err)
			}
			os.Exit(1)
		}
	}
	fmt.Println("All checks passed.")
}

func cmdCompile(args []string) {
	f := parseFlags(args)
	if len(f.positional) == 0 {
		fatal("no query file given")
	}
	tr, name := newTranslatorFromSchema(f.schemaPath)
	for _, file := range f.positional {
		queryText, err := os.ReadFile(file)
		if err != nil {
			fatal("failed to read %s: %v", file, err)
		}
		result := tr.Compile(translator.CompileRequest{
			QueryText:  string(queryText),
			SchemaName: name,
			TenantID:   f.tenant,
			Replan:     f.replan,
		})
		printDiagnostics(file, result.Diagnostics)
		if result.HasErrors {
			fmt.Fprintf(os.Stderr, "%s: error: %v\n", file, result.Err)
			os.Exit(1)
		}
		fmt.Printf("-- cache: %s\n", result.Output.CacheStatus)
		fmt.Println(result.Output.SQLTemplate)
	}
}

func cmdExplain(args []string) {
	f := parseFlags(args)
	if len(f.positional) == 0 {
		fatal("no query file given")
	}
	tr, name := newTranslatorFromSchema(f.schemaPath)
	for _, file := range f.positional {
		queryText, err := os.ReadFile(file)
		if err != nil {
			fatal("failed to read %s: %v", file, err)
		}
		result, diags, err := tr.CompileExplain(translator.CompileRequest{
			QueryText:  string(queryText),
			SchemaName: name,
			TenantID:   f.tenant,
		})
		printDiagnostics(file, diags)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: error: %v\n", file, err)
			os.Exit(1)
		}
		fmt.Printf("-- logical plan:\n%+v\n\n-- render plan:\n%+v\n\n-- sql:\n%s\n", result.LogicalPlan, result.RenderPlan, result.SQLTemplate)
	}
}

func cmdCache(args []string) {
	if len(args) == 0 || args[0] != "stats" {
		fatal("usage: graphsqlc cache stats")
	}
	fmt.Println("Query Cache stats are process-scoped; each graphsqlc run starts with an empty cache, so there are no counters to report.")
}

func cmdSchema(args []string) {
	if len(args) < 2 || args[0] != "validate" {
		fatal("usage: graphsqlc schema validate <path>")
	}
	path := args[1]
	yamlText, err := os.ReadFile(path)
	if err != nil {
		fatal("failed to read %s: %v", path, err)
	}
	tr := translator.New(config.Load(), epochNow)
	if err := tr.LoadSchema(yamlText, schemaNameFromPath(path)); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Schema is valid.")
}

func schemaNameFromPath(path string) string {
	base := path
	if idx := strings.LastIndexByte(base, '/'); idx >= 0 {
		base = base[idx+1:]
	}
	return strings.TrimSuffix(base, ".yaml")
}

func printDiagnostics(file string, diags []translator.Diagnostic) {
	for _, d := range diags {
		fmt.Fprintf(os.Stderr, "%s:%d:%d: %s: %s", file, d.Line, d.Column, d.Severity, d.Message)
		if d.Code != "" {
			fmt.Fprintf(os.Stderr, " [%s]", d.Code)
		}
		fmt.Fprintln(os.Stderr)
	}
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

func toJSON(v interface{}) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}
